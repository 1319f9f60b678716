package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ieraasyl/StudentPortal/pkg/utils"
	"github.com/rs/zerolog/log"
)

// Counter is a fixed-window counter. *database.RedisDB satisfies it, so the
// limit is shared by every process pointed at the same Redis.
type Counter interface {
	IncrementRateLimit(ctx context.Context, subject, endpoint string, window time.Duration) (int64, error)
}

// RateLimiter caps requests per client IP and endpoint.
//
// Redis key pattern: "ratelimit:{ip}:{endpoint}" with TTL equal to window.
type RateLimiter struct {
	counter Counter
	limit   int
	window  time.Duration
}

// NewRateLimiter allows limit requests per window for each client IP.
//
// Example:
//
//	limiter := middleware.NewRateLimiter(redisDB, cfg.RateLimit.RequestsPerMinute, time.Minute)
//	r.With(limiter.Limit("signin")).Post("/api/v1/session/signin", h.SignIn)
func NewRateLimiter(counter Counter, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		counter: counter,
		limit:   limit,
		window:  window,
	}
}

// Limit returns middleware counting requests under the given endpoint name.
// Requests over the limit get 429 with Retry-After. If the counter is
// unavailable the request is let through and the failure logged.
func (rl *RateLimiter) Limit(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := utils.ExtractClientIP(r)

			count, err := rl.counter.IncrementRateLimit(r.Context(), ip, endpoint, rl.window)
			if err != nil {
				log.Error().
					Err(err).
					Str("client_ip", ip).
					Str("endpoint", endpoint).
					Msg("Failed to check rate limit")
				next.ServeHTTP(w, r)
				return
			}

			remaining := rl.limit - int(count)
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if count > int64(rl.limit) {
				log.Warn().
					Str("client_ip", ip).
					Str("endpoint", endpoint).
					Int64("count", count).
					Msg("Rate limit exceeded")

				w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
				utils.RespondWithError(w, r, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
