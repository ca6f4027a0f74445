// Package models defines the shared data model for the Platefull AI control
// plane: feature flags, operations, metric samples, and the analytics shapes
// served by the migration admin API.
package models

import "time"

// ── Operations ──────────────────────────────────────────────

// Operation is a logical AI operation served by the control plane.
type Operation string

const (
	OperationChat          Operation = "chat"
	OperationRecipe        Operation = "recipe"
	OperationWeeklyTitles  Operation = "weeklyTitles"
	OperationImageAnalysis Operation = "imageAnalysis"
)

// KnownOperations lists every operation the router understands, in a stable
// order used by status reports.
func KnownOperations() []Operation {
	return []Operation{OperationChat, OperationRecipe, OperationWeeklyTitles, OperationImageAnalysis}
}

// IsKnownOperation reports whether op is part of the known operation set.
// Admin endpoints reject anything else with a 400.
func IsKnownOperation(op Operation) bool {
	switch op {
	case OperationChat, OperationRecipe, OperationWeeklyTitles, OperationImageAnalysis:
		return true
	}
	return false
}

// ── Models ──────────────────────────────────────────────────

// ModelTier pairs a provider's full model with its cheaper mini model. The
// canary migration moves traffic from the full tier to the mini tier one
// percentage point bucket at a time.
type ModelTier struct {
	Full string
	Mini string
}

// Tiers per provider. Model resolution goes provider-first: the routing
// flags pick a provider, then the model comes from that provider's tier
// pair, so a Gemini-routed call is never handed an OpenAI model name.
var modelTiers = map[string]ModelTier{
	"openai": {Full: "gpt-4o", Mini: "gpt-4o-mini"},
	"gemini": {Full: "gemini-1.5-pro", Mini: "gemini-1.5-flash"},
}

// FullModelFor returns the full-tier model for a provider. Unknown
// providers yield "", which adapters replace with their own default.
func FullModelFor(provider string) string { return modelTiers[provider].Full }

// MiniModelFor returns the mini-tier model for a provider.
func MiniModelFor(provider string) string { return modelTiers[provider].Mini }

// ── Feature Flags ───────────────────────────────────────────

// FeatureFlag is a named runtime toggle. Percentage and UserWhitelist are
// optional: a nil Percentage means the flag is a plain on/off switch.
type FeatureFlag struct {
	Name          string   `json:"name"`
	Enabled       bool     `json:"enabled"`
	Value         string   `json:"value,omitempty"`
	Percentage    *int     `json:"percentage,omitempty"`
	UserWhitelist []string `json:"user_whitelist,omitempty"`
}

// Percent returns a pointer to p, for literal FeatureFlag construction.
func Percent(p int) *int { return &p }

// HasRollout reports whether the flag carries percentage or whitelist
// targeting (as opposed to being a plain boolean switch).
func (f FeatureFlag) HasRollout() bool {
	return f.Percentage != nil || len(f.UserWhitelist) > 0
}

// Whitelisted reports whether userID appears in the flag's whitelist.
func (f FeatureFlag) Whitelisted(userID string) bool {
	for _, id := range f.UserWhitelist {
		if id == userID {
			return true
		}
	}
	return false
}

// EvalContext carries per-request data used to evaluate rollout flags.
type EvalContext struct {
	UserID string `json:"user_id"`
}

// ── Provider call contract ──────────────────────────────────

// ChatMessage is a single message in a chat exchange.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a normalized chat call to a provider.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

// ChatResponse is a normalized chat result.
type ChatResponse struct {
	Content string     `json:"content"`
	Model   string     `json:"model"`
	Usage   TokenUsage `json:"usage"`
}

// RecipeRequest asks a provider to generate a single recipe.
type RecipeRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	Preferences []string `json:"preferences,omitempty"`
}

// RecipeResponse is a generated recipe as raw provider output. Parsing into
// the product's recipe schema happens in the caller layer.
type RecipeResponse struct {
	Content string     `json:"content"`
	Model   string     `json:"model"`
	Usage   TokenUsage `json:"usage"`
}

// WeeklyTitlesRequest asks a provider for a week of recipe titles.
type WeeklyTitlesRequest struct {
	Model       string   `json:"model"`
	Count       int      `json:"count"`
	Preferences []string `json:"preferences,omitempty"`
}

// WeeklyTitlesResponse carries the generated titles.
type WeeklyTitlesResponse struct {
	Titles []string   `json:"titles"`
	Model  string     `json:"model"`
	Usage  TokenUsage `json:"usage"`
}

// ImageAnalysisRequest asks a provider to turn a dish photo into a recipe.
type ImageAnalysisRequest struct {
	Model    string `json:"model"`
	ImageURL string `json:"image_url"`
	Prompt   string `json:"prompt,omitempty"`
}

// TokenUsage is the token accounting reported by a provider call.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// HealthResult is the outcome of a single provider health check.
type HealthResult struct {
	Healthy   bool   `json:"healthy"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ── Metrics & Analytics ─────────────────────────────────────

// MetricSample is one provider call outcome, recorded by the guarded
// provider wrapper on every call completion.
type MetricSample struct {
	ID        string    `json:"id"`
	Operation Operation `json:"operation"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	LatencyMs int64     `json:"latency_ms"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// ModelStats aggregates samples for one (provider, model) pair or operation.
type ModelStats struct {
	Samples      int     `json:"samples"`
	Successes    int     `json:"successes"`
	SuccessRate  float64 `json:"success_rate"`
	P50LatencyMs int64   `json:"p50_latency_ms"`
	P95LatencyMs int64   `json:"p95_latency_ms"`
}

// Analytics is the rolling-window view served by GET /analytics.
type Analytics struct {
	WindowHours     int                      `json:"window_hours"`
	GeneratedAt     time.Time                `json:"generated_at"`
	TotalSamples    int                      `json:"total_samples"`
	ByProviderModel map[string]ModelStats    `json:"by_provider_model"` // key: "provider/model"
	ByOperation     map[Operation]ModelStats `json:"by_operation"`
	Recommendation  string                   `json:"recommendation"`
}

// OperationStatus is the live canary state for one operation.
type OperationStatus struct {
	Provider            string     `json:"provider"`
	FullModel           string     `json:"full_model"`
	MiniModel           string     `json:"mini_model"`
	CanaryEnabled       bool       `json:"canary_enabled"`
	CanaryPercentage    int        `json:"canary_percentage"`
	ManualOverrideUntil *time.Time `json:"manual_override_until,omitempty"`
}

// MigrationStatus is the snapshot served by GET /status. It is derived from
// the flag store, registry, and monitor; nothing here is stored.
type MigrationStatus struct {
	GeneratedAt time.Time                     `json:"generated_at"`
	Operations  map[Operation]OperationStatus `json:"operations"`
	Breakers    map[string]string             `json:"breakers"` // provider → breaker state
}
