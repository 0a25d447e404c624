package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/metrics"
)

type RouterConfig struct {
	Service      *appointment.Service
	Dependencies []Dependency
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer // nil disables /metrics
	Env          string
	Version      string

	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger, cfg.Metrics))
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.Dependencies, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	h := NewHandler(cfg.Service)

	// Read endpoints
	r.Get("/slots", h.slots)
	r.Get("/dates", h.dates)
	r.Get("/availability", h.availability)

	r.Route("/appointments", func(r chi.Router) {
		r.Get("/", h.listByPatient)
		r.Get("/pending", h.listPending)
		r.Get("/all", h.listAll)
		r.Get("/{bookingId}", h.getAppointment)

		// Write endpoints
		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst))

			r.Post("/", h.createAppointment)
			r.Patch("/{bookingId}/confirm", h.confirmAppointment)
			r.Patch("/{bookingId}/reschedule", h.rescheduleAppointment)
			r.Put("/{bookingId}/cancel", h.cancelAppointment)
		})
	})

	return r
}
