package middleware

import (
	"net/http"

	"aigateway/internal/timing"
)

// TimingMiddleware starts the phase timings of a request.
func TimingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := timing.WithTimings(r.Context(), timing.New())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
