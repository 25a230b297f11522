package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/poapgate/poapgate/internal/auth"
	"github.com/poapgate/poapgate/internal/metrics"
	"github.com/poapgate/poapgate/internal/store"
)

// RateLimiter checks a token bucket for a subject.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, subject string, ratePerMinute, burst int) (*store.RateLimitResult, error)
}

// RateLimitConfig holds configuration for the mint rate limiter.
type RateLimitConfig struct {
	Logger        *slog.Logger
	Limiter       RateLimiter
	Metrics       metrics.Recorder
	Enabled       bool
	RatePerMinute int
	Burst         int
}

// RateLimitMint limits claim attempts per signed-in user. It must run
// after RequireSession. Limiter errors let the request through.
func RateLimitMint(cfg RateLimitConfig) func(http.Handler) http.Handler {
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.NewNoop()
	}

	return func(next http.Handler) http.Handler {
		if !cfg.Enabled || cfg.Limiter == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := auth.UserIDFromContext(r.Context())
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := cfg.Limiter.CheckRateLimit(r.Context(), userID, cfg.RatePerMinute, cfg.Burst)
			if err != nil {
				cfg.Logger.Error("rate_limit_check_failed",
					slog.String("request_id", GetRequestID(r.Context())),
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.RatePerMinute))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))

			if !result.Allowed {
				retryAfter := int(result.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				recorder.IncMintRateLimited()
				cfg.Logger.Warn("rate_limit_exceeded",
					slog.String("request_id", GetRequestID(r.Context())),
					slog.String("user_id", userID),
					slog.Int("retry_after_seconds", retryAfter),
				)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "Too many requests, please try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
