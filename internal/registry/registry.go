// Package registry maps provider names to provider instances and their
// circuit breakers, and resolves which provider/model serves each logical
// operation using the flag store.
//
// Providers handed out by GetProvider are wrapped so that every operation
// call passes through the provider's breaker and reports its outcome to the
// migration monitor.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platefull/platefull/control-plane/internal/breaker"
	"github.com/platefull/platefull/control-plane/internal/flags"
	"github.com/platefull/platefull/control-plane/internal/observability"
	"github.com/platefull/platefull/control-plane/internal/provider"
	"github.com/platefull/platefull/control-plane/pkg/models"
)

var tracer = otel.Tracer("platefull-control-plane")

// ── Errors ──────────────────────────────────────────────────

// ProviderUnavailableError is returned when the resolved provider name has
// no registered instance, or the registry is empty.
type ProviderUnavailableError struct {
	Name string
}

func (e *ProviderUnavailableError) Error() string {
	if e.Name == "" {
		return "no providers registered"
	}
	return "provider not registered: " + e.Name
}

// CallError wraps a failed provider call with routing context so callers
// can decide between fallback and surfacing the failure.
type CallError struct {
	Provider  string
	Operation models.Operation
	Err       error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s call via %s failed: %v", e.Operation, e.Provider, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// ── Registry ────────────────────────────────────────────────

// SampleRecorder accepts provider call outcome samples. Implemented by the
// migration monitor; kept as a local interface so the registry does not
// depend on the monitor package.
type SampleRecorder interface {
	Record(sample models.MetricSample)
}

// Config holds breaker and health-check tuning for the registry.
type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
	HealthTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 5 * time.Second
	}
	return c
}

type entry struct {
	provider provider.Provider
	breaker  *breaker.Breaker
}

// Registry owns the provider map. Providers are registered once at boot;
// re-registering a name swaps the instance but keeps the accumulated
// breaker state unless the breaker is explicitly reset.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	flags    *flags.Store
	recorder SampleRecorder
	metrics  *observability.Metrics
	cfg      Config
}

// New creates an empty registry. recorder and metrics may be nil (tests).
func New(fs *flags.Store, recorder SampleRecorder, metrics *observability.Metrics, cfg Config) *Registry {
	return &Registry{
		entries:  make(map[string]*entry),
		flags:    fs,
		recorder: recorder,
		metrics:  metrics,
		cfg:      cfg.withDefaults(),
	}
}

// Register adds a provider under its own name, constructing a breaker on
// first registration.
func (r *Registry) Register(p provider.Provider) {
	name := p.Name()

	r.mu.Lock()
	if existing, ok := r.entries[name]; ok {
		existing.provider = p
	} else {
		r.entries[name] = &entry{
			provider: p,
			breaker:  breaker.New(name, r.cfg.FailureThreshold, r.cfg.Cooldown),
		}
	}
	r.mu.Unlock()

	r.flags.RegisterProviderName(name)
	log.Info().Str("provider", name).Strs("models", p.SupportedModels()).Msg("Provider registered")
}

// Breaker returns the breaker for a registered provider, or nil.
func (r *Registry) Breaker(name string) *breaker.Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.breaker
	}
	return nil
}

// BreakerStates returns provider → breaker state, for the status surface.
func (r *Registry) BreakerStates() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.entries))
	for name, e := range r.entries {
		out[name] = e.breaker.State().String()
	}
	return out
}

// GetProvider resolves the provider serving op for the given request
// context and returns it wrapped in its circuit breaker. The wrapped
// provider reports every call outcome to the migration monitor. The span
// is started from ctx so it nests under the caller's request trace.
func (r *Registry) GetProvider(ctx context.Context, op models.Operation, ectx models.EvalContext) (provider.Provider, error) {
	_, span := tracer.Start(ctx, "registry.GetProvider",
		trace.WithAttributes(attribute.String("ai.operation", string(op))))
	defer span.End()

	r.mu.RLock()
	empty := len(r.entries) == 0
	r.mu.RUnlock()
	if empty {
		return nil, &ProviderUnavailableError{}
	}

	name := r.flags.ProviderForOperation(op)

	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &ProviderUnavailableError{Name: name}
	}

	span.SetAttributes(attribute.String("ai.provider", name))
	if r.metrics != nil {
		model := r.flags.ModelForOperation(op, ectx)
		r.metrics.RoutingDecisions.WithLabelValues(string(op), name, model).Inc()
	}

	return &guarded{
		inner:    e.provider,
		breaker:  e.breaker,
		registry: r,
	}, nil
}

// ModelForOperation is a convenience pass-through for callers that resolve
// provider and model together.
func (r *Registry) ModelForOperation(op models.Operation, ectx models.EvalContext) string {
	return r.flags.ModelForOperation(op, ectx)
}

// HealthCheckAll probes every registered provider concurrently, each with
// its own deadline. A hung provider never delays its siblings: anything
// that has not answered by the timeout is reported unhealthy with a
// "timeout" error.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]models.HealthResult {
	r.mu.RLock()
	providers := make(map[string]provider.Provider, len(r.entries))
	for name, e := range r.entries {
		providers[name] = e.provider
	}
	r.mu.RUnlock()

	type named struct {
		name string
		res  models.HealthResult
	}
	resCh := make(chan named, len(providers))
	for name, p := range providers {
		go func(name string, p provider.Provider) {
			cctx, cancel := context.WithTimeout(ctx, r.cfg.HealthTimeout)
			defer cancel()
			resCh <- named{name: name, res: p.HealthCheck(cctx)}
		}(name, p)
	}

	results := make(map[string]models.HealthResult, len(providers))
	deadline := time.After(r.cfg.HealthTimeout + 250*time.Millisecond)
	for len(results) < len(providers) {
		select {
		case n := <-resCh:
			results[n.name] = n.res
		case <-deadline:
			for name := range providers {
				if _, ok := results[name]; !ok {
					results[name] = models.HealthResult{Healthy: false, Error: "timeout"}
					log.Warn().Str("provider", name).Msg("Health check timed out")
				}
			}
			return results
		}
	}
	return results
}
