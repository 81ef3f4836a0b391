package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/MedRecord-Ingest/internal/interfaces/http/handlers"
	"github.com/turtacn/MedRecord-Ingest/internal/interfaces/http/middleware"
)

// RouterConfig aggregates the handlers and middleware dependencies making up
// the route tree.
type RouterConfig struct {
	SessionHandler *handlers.SessionHandler
	ReviewHandler  *handlers.ReviewHandler
	HealthHandler  *handlers.HealthHandler

	AdminHeader string
	Logger      logging.Logger
	Metrics     *prometheus.Metrics
}

// NewRouter builds the complete HTTP route tree: public probes and metrics,
// and the identity-scoped API under /api/v1.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if cfg.Logger != nil {
		r.Use(middleware.RequestLogging(cfg.Logger))
	}
	if cfg.Metrics != nil {
		r.Use(middleware.RequestMetrics(cfg.Metrics))
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	if cfg.HealthHandler != nil {
		r.Get("/healthz", cfg.HealthHandler.Liveness)
		r.Get("/readyz", cfg.HealthHandler.Readiness)
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Identity(cfg.AdminHeader))
		if cfg.SessionHandler != nil {
			cfg.SessionHandler.RegisterRoutes(api)
		}
		if cfg.ReviewHandler != nil {
			cfg.ReviewHandler.RegisterRoutes(api)
		}
	})

	return r
}
