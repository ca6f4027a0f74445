// Package flags implements the feature-flag store that drives AI provider
// routing and the full→mini model canary migration.
//
// The store is an explicit instance handed to its consumers — no package
// globals — so tests construct a fresh store instead of resetting shared
// state. Reads take an RWMutex read lock; all writes, including the
// read-modify-write canary increments, serialize on the write lock so
// concurrent adjustments never lose updates.
package flags

import (
	"sync"

	"github.com/platefull/platefull/control-plane/pkg/models"
	"github.com/rs/zerolog/log"
)

// Flag name scheme. Per-operation flags append the operation name.
const (
	FlagProviderDefault  = "ai.provider.default"
	flagProviderPrefix   = "ai.provider."
	flagCanaryPrefix     = "canary.gpt4oMini."
	FlagEmergencyDisable = "emergency.provider.disable"
)

// ProviderFlagName returns the routing flag name for an operation.
func ProviderFlagName(op models.Operation) string {
	return flagProviderPrefix + string(op)
}

// CanaryFlagName returns the mini-model canary flag name for an operation.
func CanaryFlagName(op models.Operation) string {
	return flagCanaryPrefix + string(op)
}

// Store holds all feature flags for the process lifetime.
type Store struct {
	mu    sync.RWMutex
	flags map[string]models.FeatureFlag

	// Registered provider names, in registration order. Used by the
	// emergency-disable precedence rule to pick "the other" provider.
	providers []string
}

// NewStore creates a flag store seeded with the given flags.
func NewStore(defaults ...models.FeatureFlag) *Store {
	s := &Store{flags: make(map[string]models.FeatureFlag)}
	for _, f := range defaults {
		s.flags[f.Name] = f
	}
	return s
}

// RegisterProviderName tells the store a provider exists. The registry calls
// this on provider registration; the store needs the names only to resolve
// the emergency-disable fallback.
func (s *Store) RegisterProviderName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.providers {
		if p == name {
			return
		}
	}
	s.providers = append(s.providers, name)
}

// Get returns the named flag. The second return is false when no such flag
// exists; callers are expected to carry their own policy defaults.
func (s *Store) Get(name string) (models.FeatureFlag, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flags[name]
	return f, ok
}

// Set atomically replaces the named flag. Readers see either the old or the
// new flag, never a partial mix of fields.
func (s *Store) Set(flag models.FeatureFlag) {
	s.mu.Lock()
	s.flags[flag.Name] = flag
	s.mu.Unlock()
}

// List returns all flags, for the admin status surface.
func (s *Store) List() []models.FeatureFlag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.FeatureFlag, 0, len(s.flags))
	for _, f := range s.flags {
		out = append(out, f)
	}
	return out
}

// IsEnabled evaluates the named flag for a request context.
//
// A disabled flag is always false. A flag without rollout targeting returns
// its Enabled bit. Otherwise whitelist membership wins outright, then the
// user's deterministic bucket is compared against the percentage.
func (s *Store) IsEnabled(name string, ctx models.EvalContext) bool {
	flag, ok := s.Get(name)
	if !ok || !flag.Enabled {
		return false
	}
	if !flag.HasRollout() {
		return true
	}
	if flag.Whitelisted(ctx.UserID) {
		return true
	}
	pct := 0
	if flag.Percentage != nil {
		pct = *flag.Percentage
	}
	return Bucket(ctx.UserID, name) < pct
}

// ProviderForOperation resolves which provider serves an operation.
//
// Precedence: if the emergency-disable flag names the provider that would
// otherwise be chosen, route to the other registered provider; else a
// per-operation override flag; else the default-provider flag; else the
// first registered provider.
func (s *Store) ProviderForOperation(op models.Operation) string {
	name := s.resolveProvider(op)

	disable, ok := s.Get(FlagEmergencyDisable)
	if ok && disable.Enabled && disable.Value == name {
		if alt := s.otherProvider(name); alt != "" {
			return alt
		}
	}
	return name
}

func (s *Store) resolveProvider(op models.Operation) string {
	if f, ok := s.Get(ProviderFlagName(op)); ok && f.Enabled && f.Value != "" {
		return f.Value
	}
	if f, ok := s.Get(FlagProviderDefault); ok && f.Value != "" {
		return f.Value
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.providers) > 0 {
		return s.providers[0]
	}
	return ""
}

func (s *Store) otherProvider(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.providers {
		if p != name {
			return p
		}
	}
	return ""
}

// ModelForOperation picks the model for an operation and request context.
// The provider is resolved first, then the canary decides between that
// provider's mini and full tier, so the returned model always belongs to
// the provider the same flags route to.
func (s *Store) ModelForOperation(op models.Operation, ctx models.EvalContext) string {
	provider := s.ProviderForOperation(op)
	if s.IsEnabled(CanaryFlagName(op), ctx) {
		return models.MiniModelFor(provider)
	}
	return models.FullModelFor(provider)
}

// CanaryPercentage returns the current canary percentage and enabled bit for
// an operation. A missing flag reads as disabled, 0%.
func (s *Store) CanaryPercentage(op models.Operation) (pct int, enabled bool) {
	f, ok := s.Get(CanaryFlagName(op))
	if !ok {
		return 0, false
	}
	if f.Percentage != nil {
		pct = *f.Percentage
	}
	return pct, f.Enabled
}

// EmergencyDisableProvider routes all traffic away from the named provider,
// effective for subsequent reads immediately.
func (s *Store) EmergencyDisableProvider(name string) {
	s.Set(models.FeatureFlag{
		Name:    FlagEmergencyDisable,
		Enabled: true,
		Value:   name,
	})
	log.Warn().Str("provider", name).Msg("Emergency provider disable engaged")
}

// EmergencyRollbackCanary kills the mini-model canary for an operation in a
// single atomic flag replacement: enabled=false, percentage=0. No reader
// ever observes a half-applied state.
func (s *Store) EmergencyRollbackCanary(op models.Operation) {
	s.Set(models.FeatureFlag{
		Name:       CanaryFlagName(op),
		Enabled:    false,
		Percentage: models.Percent(0),
	})
	log.Warn().Str("operation", string(op)).Msg("Emergency canary rollback applied")
}

// IncrementCanaryPercentage raises the canary percentage for an operation,
// clamped to 100, and returns the stored value. The whole read-modify-write
// holds the write lock so concurrent adjustments cannot lose updates.
func (s *Store) IncrementCanaryPercentage(op models.Operation, by int) int {
	return s.adjustCanary(op, by)
}

// DecrementCanaryPercentage lowers the canary percentage for an operation,
// clamped to 0, and returns the stored value.
func (s *Store) DecrementCanaryPercentage(op models.Operation, by int) int {
	return s.adjustCanary(op, -by)
}

func (s *Store) adjustCanary(op models.Operation, delta int) int {
	name := CanaryFlagName(op)

	s.mu.Lock()
	defer s.mu.Unlock()

	flag, ok := s.flags[name]
	if !ok {
		flag = models.FeatureFlag{Name: name, Enabled: true}
	}
	pct := 0
	if flag.Percentage != nil {
		pct = *flag.Percentage
	}
	pct += delta
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	flag.Percentage = models.Percent(pct)
	s.flags[name] = flag
	return pct
}

// Defaults builds the boot-time flag set: the given provider as default for
// every operation, all canaries present but disabled at 0%.
func Defaults(defaultProvider string) []models.FeatureFlag {
	out := []models.FeatureFlag{
		{Name: FlagProviderDefault, Enabled: true, Value: defaultProvider},
	}
	for _, op := range models.KnownOperations() {
		out = append(out, models.FeatureFlag{
			Name:       CanaryFlagName(op),
			Enabled:    false,
			Percentage: models.Percent(0),
		})
	}
	return out
}
