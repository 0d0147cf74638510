// Package routes wires the chi router for the SecScore API.
package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/secscorehq/secscore/internal/handlers"
	"github.com/secscorehq/secscore/internal/middleware"
	"github.com/secscorehq/secscore/internal/scoring"
	"github.com/secscorehq/secscore/pkg/config"
	"github.com/secscorehq/secscore/pkg/logger"
)

// Options carries the router dependencies.
type Options struct {
	Config  *config.Config
	Log     *logger.Logger
	Handler *handlers.Handler
	Captcha *middleware.TurnstileVerifier
	Limiter func(next http.Handler) http.Handler
}

// New builds the router with the full middleware stack.
func New(opts Options) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recoverer(opts.Log))
	r.Use(middleware.Logger(opts.Log))
	r.Use(middleware.Tracing(middleware.TracingConfig{
		ServiceName: "secscore",
		Enabled:     opts.Config.Tracing.Enabled,
	}))
	r.Use(middleware.ModelVersion(scoring.ModelVersion))
	r.Use(chimiddleware.Compress(5))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Content-Type",
			middleware.CaptchaTokenHeader, handlers.CronSecretHeader,
		},
		ExposedHeaders: []string{
			middleware.RequestIDHeader, middleware.ModelVersionHeader,
			"X-Cache", handlers.KEVUpdatedAtHeader,
		},
		MaxAge: 300,
	}))

	// Probes and metrics sit outside the rate limit.
	r.Get("/healthz", opts.Handler.Healthz)
	r.Get("/readyz", opts.Handler.Readyz)
	r.Get("/version", opts.Handler.Version)
	if opts.Config.Metrics.Enabled {
		r.Handle(opts.Config.Metrics.Path, promhttp.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(opts.Limiter)

		r.Get("/api/health", opts.Handler.Health)

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/cve/{cveId}", opts.Handler.GetCVE)

			// Identifier validation runs ahead of the CAPTCHA gate so a
			// malformed id is rejected before any token is demanded.
			r.Route("/enrich/cve/{cveId}", func(r chi.Router) {
				r.Use(handlers.RequireValidCVE)
				r.Use(middleware.Captcha(opts.Captcha))
				r.Get("/", opts.Handler.EnrichCVE)
			})
		})

		r.Route("/api/internal", func(r chi.Router) {
			r.Get("/refresh-kev", opts.Handler.RefreshKEV)
			r.Post("/refresh-kev", opts.Handler.RefreshKEV)
		})
	})

	return r
}
