package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/poapgate/poapgate/internal/auth"
	"github.com/poapgate/poapgate/internal/handler/dto"
	"github.com/poapgate/poapgate/internal/middleware"
	"github.com/poapgate/poapgate/internal/service"
)

// Claimer runs the claim workflow.
type Claimer interface {
	Claim(ctx context.Context, in service.ClaimInput) (*service.ClaimResult, error)
}

// ClaimHandler handles the signed-in user's endpoints.
type ClaimHandler struct {
	svc    Claimer
	logger *slog.Logger
}

// NewClaimHandler creates a new ClaimHandler.
func NewClaimHandler(svc Claimer, logger *slog.Logger) *ClaimHandler {
	return &ClaimHandler{svc: svc, logger: logger}
}

// Mint handles POST /api/mint.
func (h *ClaimHandler) Mint(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil || id.UserID == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req dto.MintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Recipient) == "" {
		writeError(w, http.StatusBadRequest, "Invalid request data")
		return
	}

	result, err := h.svc.Claim(r.Context(), service.ClaimInput{
		UserID:          id.UserID,
		UserDisplayName: id.DisplayName(),
		Recipient:       req.Recipient,
		RecipientType:   req.RecipientType,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.MintResponse{Success: true, TokenID: result.TokenID})
}

// Session handles GET /api/session.
func (h *ClaimHandler) Session(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, dto.ToSessionResponse(id))
}

// handleServiceError maps claim workflow errors to responses.
func (h *ClaimHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var rejected *service.UpstreamRejectedError
	switch {
	case errors.Is(err, service.ErrInvalidRecipient):
		writeError(w, http.StatusBadRequest, "Please enter a valid email, Ethereum address, or ENS name")
	case errors.Is(err, service.ErrAlreadyClaimed):
		writeError(w, http.StatusBadRequest, "You have already minted this POAP")
	case errors.Is(err, service.ErrClaimInProgress):
		writeError(w, http.StatusConflict, "A claim for this account is already in progress, please retry shortly")
	case errors.Is(err, service.ErrResolutionFailed):
		writeError(w, http.StatusBadRequest, "Failed to resolve ENS name")
	case errors.Is(err, service.ErrAuthFailure):
		writeError(w, http.StatusBadRequest, "Minting service is temporarily unavailable")
	case errors.As(err, &rejected):
		writeError(w, http.StatusBadRequest, rejected.Reason)
	default:
		h.logger.Error("internal error",
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
