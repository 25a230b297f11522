package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/poapgate/poapgate/internal/handler/dto"
	"github.com/poapgate/poapgate/internal/middleware"
	"github.com/poapgate/poapgate/internal/model"
)

// MintLister lists the ledger for the configured event.
type MintLister interface {
	EventID() string
	ListClaims(ctx context.Context) ([]model.MintRecord, error)
}

// AdminHandler provides admin-only endpoints.
type AdminHandler struct {
	svc    MintLister
	logger *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(svc MintLister, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, logger: logger}
}

// ListMints handles GET /api/admin/mints.
func (h *AdminHandler) ListMints(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.ListClaims(r.Context())
	if err != nil {
		h.logger.Error("failed to list mints",
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, dto.ToMintListResponse(h.svc.EventID(), records))
}
