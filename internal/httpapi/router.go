// Package httpapi is the HTTP surface of the gateway.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"aigateway/internal/dispatch"
	"aigateway/internal/metrics"
	"aigateway/internal/middleware"
	"aigateway/internal/ratelimit"
	"aigateway/internal/utils"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 10 << 20

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Dispatcher *dispatch.Dispatcher
	// RateLimit may be nil when limiting is off.
	RateLimit ratelimit.Limiter
	Metrics   *metrics.Metrics
	// CallerSecret verifies caller tokens. Empty means identity headers are trusted.
	CallerSecret []byte

	logger *utils.Logger
}

// NewRouter creates an HTTP router with all dependencies wired up. The API is
// served both at the root and under /v1.
func NewRouter(deps *Dependencies) http.Handler {
	if deps.RateLimit == nil {
		deps.RateLimit = ratelimit.NewNoopLimiter()
	}
	if deps.logger == nil {
		deps.logger = utils.NewLogger("httpapi")
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.TimingMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", deps.Metrics.HTTPHandler())

	r.Group(deps.registerRoutes)
	r.Route("/v1", deps.registerRoutes)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.RespondWithError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (d *Dependencies) registerRoutes(r chi.Router) {
	r.Get("/status", d.handleStatus)

	r.Group(func(r chi.Router) {
		r.Use(middleware.CallerMiddleware(d.CallerSecret))
		r.Use(middleware.RateLimitMiddleware(d.RateLimit, d.Metrics))

		r.Post("/chat/completions", d.handleChat)
		r.Post("/embeddings", d.handleEmbeddings)
		r.Post("/image/generations", d.handleImages)
		r.Post("/video/generations", d.handleVideo)
	})
}
