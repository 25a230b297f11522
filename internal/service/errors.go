package service

import (
	"errors"
	"fmt"
)

// Claim errors. Anything else returned from Claim is internal.
var (
	ErrInvalidRecipient = errors.New("invalid recipient")
	ErrAlreadyClaimed   = errors.New("already claimed")
	ErrClaimInProgress  = errors.New("claim in progress")
	ErrResolutionFailed = errors.New("name resolution failed")
	ErrAuthFailure      = errors.New("minting service authentication failed")
	ErrUpstreamRejected = errors.New("claim rejected upstream")
)

// UpstreamRejectedError carries the reason the minting API gave for
// refusing a claim.
type UpstreamRejectedError struct {
	StatusCode int
	Reason     string
}

func (e *UpstreamRejectedError) Error() string {
	return fmt.Sprintf("%s (status %d): %s", ErrUpstreamRejected, e.StatusCode, e.Reason)
}

// Is reports whether target is ErrUpstreamRejected.
func (e *UpstreamRejectedError) Is(target error) bool {
	return target == ErrUpstreamRejected
}
