// Package server provides the public entry point for initializing the
// Platefull AI control plane server.
//
// This package exists in pkg/ (not internal/) so the product backend can
// import it and mount the control plane next to its own route handlers.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/platefull/platefull/control-plane/internal/api"
	"github.com/platefull/platefull/control-plane/internal/api/handlers"
	"github.com/platefull/platefull/control-plane/internal/config"
	"github.com/platefull/platefull/control-plane/internal/flags"
	"github.com/platefull/platefull/control-plane/internal/monitor"
	"github.com/platefull/platefull/control-plane/internal/observability"
	"github.com/platefull/platefull/control-plane/internal/provider"
	"github.com/platefull/platefull/control-plane/internal/registry"
	"github.com/platefull/platefull/control-plane/internal/telemetry"
)

// Server holds the initialized control plane.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Registry resolves providers per operation. Exposed so the product's
	// chat/recipe route handlers can call GetProvider directly.
	Registry *registry.Registry

	// Flags is the live flag store backing routing decisions.
	Flags *flags.Store

	// Monitor ingests call outcomes and drives canary auto-adjustment.
	Monitor *monitor.Monitor

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error

	stopMonitor context.CancelFunc
}

// New initializes all control plane components from environment config and
// returns a ready Server. The migration monitor's background loop runs until
// Close is called.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the control plane with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	metrics := observability.New(promReg)

	flagStore := flags.NewStore(flags.Defaults(cfg.Routing.DefaultProvider)...)
	log.Info().Str("default_provider", cfg.Routing.DefaultProvider).Msg("✅ Flag store initialized")

	mon := monitor.New(flagStore, metrics, monitor.Config{
		Window:            cfg.Monitor.Window,
		AdjustInterval:    cfg.Monitor.AdjustInterval,
		CanaryStep:        cfg.Monitor.CanaryStep,
		MinMiniSamples:    cfg.Monitor.MinMiniSamples,
		SuccessRateMargin: cfg.Monitor.SuccessRateMargin,
		LatencyFactor:     cfg.Monitor.LatencyFactor,
		OverrideCooldown:  cfg.Monitor.OverrideCooldown,
	})

	reg := registry.New(flagStore, mon, metrics, registry.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
		HealthTimeout:    cfg.Routing.HealthTimeout,
	})

	if cfg.Providers.OpenAIAPIKey != "" {
		reg.Register(provider.NewOpenAIProvider(cfg.Providers.OpenAIAPIKey))
	} else {
		log.Warn().Msg("OPENAI_API_KEY not set; openai provider not registered")
	}
	if cfg.Providers.GeminiAPIKey != "" {
		reg.Register(provider.NewGeminiProvider(cfg.Providers.GeminiAPIKey, cfg.Providers.GeminiEndpoint))
	} else {
		log.Warn().Msg("GEMINI_API_KEY not set; gemini provider not registered")
	}

	monCtx, stopMonitor := context.WithCancel(context.Background())
	go mon.Start(monCtx)

	h := handlers.New(flagStore, reg, mon)
	router := api.NewRouter(cfg, h, reg, promReg)

	return &Server{
		Handler:      router,
		Registry:     reg,
		Flags:        flagStore,
		Monitor:      mon,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
		stopMonitor:  stopMonitor,
	}, nil
}

// Close stops the background monitor loop.
func (s *Server) Close() {
	if s.stopMonitor != nil {
		s.stopMonitor()
	}
}
