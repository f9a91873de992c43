package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/pratik-mahalle/threatwatch/internal/api/handlers"
	"github.com/pratik-mahalle/threatwatch/internal/api/middleware"
	"github.com/pratik-mahalle/threatwatch/internal/config"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/logger"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/metrics"
)

type Handlers struct {
	Health       *handlers.HealthHandler
	Source       *handlers.SourceHandler
	Indicator    *handlers.IndicatorHandler
	Notification *handlers.NotificationHandler
	Ticket       *handlers.TicketHandler
}

func New(cfg config.ServerConfig, log *logger.Logger, limiter *middleware.RateLimiter, h *Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware; metrics wraps the logger so handlers see the logging writer
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID())
	r.Use(metrics.Middleware)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	r.Use(middleware.DefaultCORS(cfg.AllowedOrigin))

	// Probes and scrape
	r.Get("/healthz", h.Health.Healthz)
	r.Get("/readyz", h.Health.Readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.SecurityHeaders)
		if limiter != nil {
			r.Use(middleware.RateLimit(limiter))
		}
		r.Use(middleware.APIToken(cfg.APIToken))

		r.Route("/sources", func(r chi.Router) {
			r.Get("/", h.Source.List)
			r.Post("/", h.Source.Create)
			r.Get("/{id}", h.Source.Get)
			r.Patch("/{id}", h.Source.Update)
			r.Post("/{id}/disable", h.Source.Disable)
			r.Post("/{id}/enable", h.Source.Enable)
			r.Post("/{id}/poll", h.Source.Poll)
			r.Post("/{id}/lookup", h.Source.Lookup)
			r.Get("/{id}/search", h.Source.Search)
			r.Get("/{id}/pulses", h.Indicator.ListPulses)
		})

		r.Route("/indicators", func(r chi.Router) {
			r.Get("/", h.Indicator.List)
			r.Get("/{type}/*", h.Indicator.Get)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", h.Notification.List)
			r.Get("/{id}", h.Notification.Get)
			r.Post("/{id}/acknowledge", h.Notification.Acknowledge)
		})

		r.Route("/tickets", func(r chi.Router) {
			r.Get("/", h.Ticket.List)
			r.Get("/{id}", h.Ticket.Get)
			r.Patch("/{id}/status", h.Ticket.UpdateStatus)
			r.Post("/{id}/reprioritize", h.Ticket.Reprioritize)
		})
	})

	return r
}
