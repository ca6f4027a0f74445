package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platefull/platefull/control-plane/internal/api/handlers"
	"github.com/platefull/platefull/control-plane/internal/api/middleware"
	"github.com/platefull/platefull/control-plane/internal/config"
	"github.com/platefull/platefull/control-plane/internal/registry"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers, reg *registry.Registry, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler(reg))
	r.Get("/version", versionHandler(cfg))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// API v1
	r.Route("/api/v1/migration", func(r chi.Router) {
		r.Get("/analytics", h.GetAnalytics)
		r.Get("/status", h.GetStatus)
		r.Get("/report", h.GetReport)

		r.Route("/canary/{operation}", func(r chi.Router) {
			r.Post("/increase", h.IncreaseCanary)
			r.Post("/decrease", h.DecreaseCanary)
		})

		r.Post("/emergency/rollback/{operation}", h.EmergencyRollback)
		r.Post("/emergency/disable-provider/{provider}", h.EmergencyDisableProvider)
		r.Post("/auto-adjust/{operation}", h.AutoAdjust)

		r.Route("/flags", func(r chi.Router) {
			r.Get("/", h.ListFlags)
			r.Post("/", h.SetFlag)
		})
	})

	return r
}

// healthHandler fans a health check out to every registered provider and
// reports overall plus per-provider status.
func healthHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		results := reg.HealthCheckAll(ctx)
		status := "healthy"
		code := http.StatusOK
		for _, res := range results {
			if !res.Healthy {
				status = "degraded"
				code = http.StatusServiceUnavailable
				break
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    status,
			"service":   "platefull-ai-control-plane",
			"providers": results,
		})
	}
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "platefull-ai-control-plane",
		})
	}
}
