package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/poapgate/poapgate/internal/auth"
)

// HeaderAdminKey carries the admin key when Authorization is not used.
const HeaderAdminKey = "X-Admin-Key"

// minAuthDuration pads rejected admin attempts so that parse failures and
// hash mismatches take the same wall time.
const minAuthDuration = 50 * time.Millisecond

// RequireAdminKey guards admin routes with the argon2id-hashed admin key.
// When no key hash is configured the routes answer 404.
func RequireAdminKey(verifier *auth.AdminKeyVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !verifier.Enabled() {
				writeError(w, http.StatusNotFound, "Not found")
				return
			}

			start := time.Now()
			key := extractAdminKey(r)
			if key == "" || !verifier.Verify(key) {
				padAuthTiming(start)
				logger.Warn("admin_key_rejected",
					slog.String("request_id", GetRequestID(r.Context())),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
					slog.Bool("key_present", key != ""),
				)
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func extractAdminKey(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get(HeaderAdminKey))
}

func padAuthTiming(start time.Time) {
	if elapsed := time.Since(start); elapsed < minAuthDuration {
		time.Sleep(minAuthDuration - elapsed)
	}
}
