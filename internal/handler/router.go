package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/threadchat/internal/middleware"
	"github.com/capitalize-ai/threadchat/pkg/logger"
)

// RouterConfig holds what the thread API router needs.
type RouterConfig struct {
	Threads   *ThreadHandler
	Health    *HealthHandler
	Logger    *logger.Logger
	JWTSecret string

	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter builds the thread API routes.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Route("/threads", func(r chi.Router) {
			r.Post("/", cfg.Threads.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", cfg.Threads.Get)
				r.Get("/messages", cfg.Threads.ListMessages)
				r.Post("/messages", cfg.Threads.SendMessage)
				r.Post("/title", cfg.Threads.GenerateTitle)
			})
		})
	})

	return r
}
