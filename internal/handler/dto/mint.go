// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"time"

	"github.com/poapgate/poapgate/internal/model"
)

// MintRequest is the body of POST /api/mint.
type MintRequest struct {
	Recipient     string `json:"recipient"`
	RecipientType string `json:"recipientType,omitempty"`
}

// MintResponse is returned after a successful claim.
type MintResponse struct {
	Success bool   `json:"success"`
	TokenID string `json:"tokenId,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// SessionResponse describes the signed-in user.
type SessionResponse struct {
	UserID   string `json:"userId"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	Image    string `json:"image,omitempty"`
}

// ToSessionResponse converts an identity.
func ToSessionResponse(id *model.Identity) SessionResponse {
	return SessionResponse{
		UserID:   id.UserID,
		Name:     id.Name,
		Username: id.Username,
		Image:    id.ImageURL,
	}
}

// MintRecordResponse is one entry of the admin listing.
type MintRecordResponse struct {
	UserID          string    `json:"userId"`
	UserDisplayName string    `json:"userDisplayName"`
	RecipientType   string    `json:"recipientType"`
	Recipient       string    `json:"recipient"`
	ResolvedAddress string    `json:"resolvedAddress,omitempty"`
	TokenID         string    `json:"tokenId,omitempty"`
	MintedAt        time.Time `json:"mintedAt"`
}

// MintListResponse is the body of GET /api/admin/mints.
type MintListResponse struct {
	EventID string               `json:"eventId"`
	Total   int                  `json:"total"`
	Mints   []MintRecordResponse `json:"mints"`
}

// ToMintListResponse converts ledger records for eventID.
func ToMintListResponse(eventID string, records []model.MintRecord) MintListResponse {
	mints := make([]MintRecordResponse, 0, len(records))
	for _, r := range records {
		mints = append(mints, MintRecordResponse{
			UserID:          r.UserID,
			UserDisplayName: r.UserDisplayName,
			RecipientType:   string(r.RecipientType),
			Recipient:       r.Recipient,
			ResolvedAddress: r.ResolvedAddress,
			TokenID:         r.TokenID,
			MintedAt:        r.MintedAt,
		})
	}
	return MintListResponse{EventID: eventID, Total: len(mints), Mints: mints}
}

// InfoResponse is the body of GET /.
type InfoResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
	EventID string `json:"eventId"`
}
