package registry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/platefull/platefull/control-plane/internal/breaker"
	"github.com/platefull/platefull/control-plane/internal/provider"
	"github.com/platefull/platefull/control-plane/pkg/models"
)

// guarded wraps a provider so every operation call passes through the
// provider's circuit breaker and reports a MetricSample on completion.
// Breaker fast-fails are not sampled: no provider call happened.
type guarded struct {
	inner    provider.Provider
	breaker  *breaker.Breaker
	registry *Registry
}

func (g *guarded) Name() string              { return g.inner.Name() }
func (g *guarded) SupportedModels() []string { return g.inner.SupportedModels() }
func (g *guarded) DefaultModel() string      { return g.inner.DefaultModel() }

func (g *guarded) HealthCheck(ctx context.Context) models.HealthResult {
	return g.inner.HealthCheck(ctx)
}

// call runs fn through the breaker and handles sampling, metrics, and error
// wrapping uniformly for all four operations.
func (g *guarded) call(ctx context.Context, op models.Operation, model string, fn func(context.Context) error) error {
	if model == "" {
		model = g.inner.DefaultModel()
	}

	start := time.Now()
	err := g.breaker.Execute(ctx, fn)
	latency := time.Since(start)

	var openErr *breaker.OpenError
	if errors.As(err, &openErr) {
		if m := g.registry.metrics; m != nil {
			m.ProviderCalls.WithLabelValues(string(op), g.Name(), model, "circuit_open").Inc()
		}
		return err
	}

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	if m := g.registry.metrics; m != nil {
		m.ProviderCalls.WithLabelValues(string(op), g.Name(), model, outcome).Inc()
		m.CallLatency.WithLabelValues(g.Name(), model).Observe(latency.Seconds())
		if g.breaker.State() == breaker.StateOpen {
			m.BreakerOpens.WithLabelValues(g.Name()).Inc()
		}
	}

	if rec := g.registry.recorder; rec != nil {
		rec.Record(models.MetricSample{
			ID:        uuid.New().String(),
			Operation: op,
			Provider:  g.Name(),
			Model:     model,
			LatencyMs: latency.Milliseconds(),
			Success:   err == nil,
			Timestamp: time.Now().UTC(),
		})
	}

	if err != nil {
		return &CallError{Provider: g.Name(), Operation: op, Err: err}
	}
	return nil
}

func (g *guarded) Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	var resp *models.ChatResponse
	err := g.call(ctx, models.OperationChat, req.Model, func(ctx context.Context) error {
		var callErr error
		resp, callErr = g.inner.Chat(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (g *guarded) GenerateRecipe(ctx context.Context, req models.RecipeRequest) (*models.RecipeResponse, error) {
	var resp *models.RecipeResponse
	err := g.call(ctx, models.OperationRecipe, req.Model, func(ctx context.Context) error {
		var callErr error
		resp, callErr = g.inner.GenerateRecipe(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (g *guarded) GenerateWeeklyTitles(ctx context.Context, req models.WeeklyTitlesRequest) (*models.WeeklyTitlesResponse, error) {
	var resp *models.WeeklyTitlesResponse
	err := g.call(ctx, models.OperationWeeklyTitles, req.Model, func(ctx context.Context) error {
		var callErr error
		resp, callErr = g.inner.GenerateWeeklyTitles(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (g *guarded) AnalyzeImageToRecipe(ctx context.Context, req models.ImageAnalysisRequest) (*models.RecipeResponse, error) {
	var resp *models.RecipeResponse
	err := g.call(ctx, models.OperationImageAnalysis, req.Model, func(ctx context.Context) error {
		var callErr error
		resp, callErr = g.inner.AnalyzeImageToRecipe(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

var _ provider.Provider = (*guarded)(nil)
