package middleware

import (
	"log/slog"
	"net/http"

	"github.com/poapgate/poapgate/internal/auth"
)

// RequireSession rejects requests without a valid session cookie and puts
// the session identity on the request context.
func RequireSession(sessions *auth.SessionManager, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := sessions.FromRequest(r)
			if err != nil {
				logger.Debug("session_rejected",
					slog.String("request_id", GetRequestID(r.Context())),
					slog.String("path", r.URL.Path),
					slog.String("reason", err.Error()),
				)
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), id)))
		})
	}
}
