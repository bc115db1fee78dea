// Package httpserver wires the HTTP handlers into a chi router and runs the
// server under the process supervisor.
package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"leafscan/api/internal/auth"
	"leafscan/api/internal/handle"
)

type RouterConfig struct {
	CORSOrigins       []string
	RateLimitReqs     int
	RateLimitWindow   time.Duration
	RateLimitDisabled bool
	// HealthzBody is written by GET /healthz.
	HealthzBody string
}

// NewRouter builds the API router. v may be nil, in which case every
// request is anonymous and /api/history always answers 401.
func NewRouter(h *handle.Handle, v *auth.Verifier, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(Recoverer)
	r.Use(AccessLog)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		body := cfg.HealthzBody
		if body == "" {
			body = "ok"
		}
		_, _ = w.Write([]byte(body))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(Metrics)
		if len(cfg.CORSOrigins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins:   cfg.CORSOrigins,
				AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
				AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
				ExposedHeaders:   []string{"X-Request-ID"},
				AllowCredentials: true,
				MaxAge:           300,
			}))
		}
		if !cfg.RateLimitDisabled && cfg.RateLimitReqs > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow))
		}
		r.Use(v.Middleware)

		r.Get("/identify", h.QuotaStatus)
		r.Post("/identify", h.Identify)
		r.Post("/health", h.Health)
		r.With(auth.RequireUser).Get("/history", h.History)
	})

	return r
}
