package middleware

import (
	"net/http"
	"strconv"
	"time"

	"aigateway/internal/metrics"
	"aigateway/internal/ratelimit"
	"aigateway/internal/utils"
)

// RateLimitMiddleware rejects callers over their per-minute budget with 429.
// It must run after CallerMiddleware. A failing limiter lets requests through.
func RateLimitMiddleware(limiter ratelimit.Limiter, m *metrics.Metrics) func(http.Handler) http.Handler {
	logger := utils.NewLogger("ratelimit")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := GetCaller(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			d, err := limiter.Allow(r.Context(), caller.UserDid)
			if err != nil {
				logger.Error("Rate limit check failed", "userDid", caller.UserDid, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if d.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			}
			if !d.Allowed {
				m.Inc(metrics.RateLimited)
				retry := int(time.Until(d.ResetAt).Seconds()) + 1
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				utils.RespondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
