package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/poapgate/poapgate/internal/auth"
	"github.com/poapgate/poapgate/internal/metrics"
	"github.com/poapgate/poapgate/internal/middleware"
	"github.com/poapgate/poapgate/internal/model"
)

// LoginProvider runs the social login round trip.
type LoginProvider interface {
	LoginURL(ctx context.Context) (authURL, state string, err error)
	StateTTL() time.Duration
	Complete(ctx context.Context, state, code string) (*model.Identity, error)
}

// AuthHandler serves the login, callback and logout endpoints.
type AuthHandler struct {
	provider LoginProvider
	sessions *auth.SessionManager
	baseURL  string
	logger   *slog.Logger
	metrics  metrics.Recorder
}

// NewAuthHandler creates a new AuthHandler. After login the browser is
// sent back to baseURL.
func NewAuthHandler(provider LoginProvider, sessions *auth.SessionManager, baseURL string, logger *slog.Logger, recorder metrics.Recorder) *AuthHandler {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &AuthHandler{
		provider: provider,
		sessions: sessions,
		baseURL:  baseURL,
		logger:   logger,
		metrics:  recorder,
	}
}

// Login handles GET /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	authURL, state, err := h.provider.LoginURL(r.Context())
	if err != nil {
		h.logger.Error("login_start_failed",
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.sessions.SetLoginStateCookie(w, state, h.provider.StateTTL())
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback handles GET /auth/callback. The state must match the cookie set
// by Login in the same browser.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	state := query.Get("state")
	stateMatches := h.sessions.LoginStateMatches(r, state)
	h.sessions.ClearLoginStateCookie(w)

	if reason := query.Get("error"); reason != "" {
		h.metrics.IncLogin("failed")
		h.logger.Info("login_denied", slog.String("reason", reason))
		http.Redirect(w, r, h.baseURL, http.StatusFound)
		return
	}

	if !stateMatches {
		h.metrics.IncLogin("failed")
		h.logger.Warn("login_failed",
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.String("reason", "state_not_bound_to_browser"),
		)
		writeError(w, http.StatusBadRequest, "Invalid login state")
		return
	}

	id, err := h.provider.Complete(r.Context(), state, query.Get("code"))
	if err != nil {
		h.metrics.IncLogin("failed")
		h.logger.Warn("login_failed",
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, auth.ErrInvalidState) {
			writeError(w, http.StatusBadRequest, "Invalid login state")
			return
		}
		writeError(w, http.StatusBadGateway, "Login failed")
		return
	}

	if err := h.sessions.SetCookie(w, id); err != nil {
		h.metrics.IncLogin("failed")
		h.logger.Error("session_issue_failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.metrics.IncLogin("success")
	h.logger.Info("login_succeeded", slog.String("user_id", id.UserID))
	http.Redirect(w, r, h.baseURL, http.StatusFound)
}

// Logout handles POST /auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.ClearCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
