// Package model defines domain entities for the application.
package model

import "time"

// RecipientType classifies the destination of a claimed POAP.
type RecipientType string

// Recipient types.
const (
	RecipientEmail   RecipientType = "email"
	RecipientAddress RecipientType = "address"
	RecipientName    RecipientType = "name"
)

// recipientTypeAliases maps client-supplied spellings to canonical types.
// The web client historically sent "ens" for names.
var recipientTypeAliases = map[string]RecipientType{
	"email":   RecipientEmail,
	"address": RecipientAddress,
	"name":    RecipientName,
	"ens":     RecipientName,
}

// ParseRecipientType returns the canonical type for s.
func ParseRecipientType(s string) (RecipientType, bool) {
	t, ok := recipientTypeAliases[s]
	return t, ok
}

// IsValid returns true if the recipient type is a known value.
func (t RecipientType) IsValid() bool {
	return t == RecipientEmail || t == RecipientAddress || t == RecipientName
}

// MintRecord is the ledger entry written after a successful claim.
// There is at most one per (UserID, EventID).
type MintRecord struct {
	UserID          string        `json:"userId"`
	UserDisplayName string        `json:"userDisplayName"`
	RecipientType   RecipientType `json:"recipientType"`
	Recipient       string        `json:"recipient"`
	ResolvedAddress string        `json:"resolvedAddress,omitempty"`
	EventID         string        `json:"eventId"`
	TokenID         string        `json:"tokenId,omitempty"`
	MintedAt        time.Time     `json:"mintedAt"`
}
