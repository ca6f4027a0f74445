// Package provider defines the capability contract every AI provider adapter
// implements, plus the concrete OpenAI and Gemini adapters.
//
// The control plane is polymorphic over this interface: the registry stores
// providers by name, routes calls through per-provider circuit breakers, and
// never cares which vendor sits behind an instance.
package provider

import (
	"context"

	"github.com/platefull/platefull/control-plane/pkg/models"
)

// Provider is the fixed capability set a backend must offer to be
// registered. Implementations must be safe for concurrent use; the control
// plane imposes no serialization beyond the circuit breaker.
type Provider interface {
	// Name is the stable registry key ("openai", "gemini").
	Name() string

	// SupportedModels lists the model names this provider accepts.
	SupportedModels() []string

	// DefaultModel is used when a request does not pin a model.
	DefaultModel() string

	// HealthCheck performs a lightweight availability probe. It must honor
	// ctx cancellation; the registry runs it with a per-provider deadline.
	HealthCheck(ctx context.Context) models.HealthResult

	Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error)
	GenerateRecipe(ctx context.Context, req models.RecipeRequest) (*models.RecipeResponse, error)
	GenerateWeeklyTitles(ctx context.Context, req models.WeeklyTitlesRequest) (*models.WeeklyTitlesResponse, error)
	AnalyzeImageToRecipe(ctx context.Context, req models.ImageAnalysisRequest) (*models.RecipeResponse, error)
}

// SupportsModel reports whether p accepts the given model name.
func SupportsModel(p Provider, model string) bool {
	for _, m := range p.SupportedModels() {
		if m == model {
			return true
		}
	}
	return false
}
