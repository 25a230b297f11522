// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Claim outcomes used as label values.
const (
	OutcomeSuccess          = "success"
	OutcomeAlreadyClaimed   = "already_claimed"
	OutcomeInProgress       = "in_progress"
	OutcomeInvalidRecipient = "invalid_recipient"
	OutcomeResolutionFailed = "resolution_failed"
	OutcomeAuthFailure      = "auth_failure"
	OutcomeRejected         = "upstream_rejected"
	OutcomeInternal         = "internal"
)

// Name resolution results used as label values.
const (
	ResolutionOK            = "ok"
	ResolutionNotRegistered = "not_registered"
	ResolutionLookupFailed  = "lookup_failed"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Claim workflow metrics
	IncClaim(outcome string)
	ObserveClaimDuration(duration time.Duration)
	IncResolution(result string)

	// Edge metrics
	IncMintRateLimited()
	IncLogin(status string) // status: "success" or "failed"
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
