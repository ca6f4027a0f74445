// Package monitor ingests provider call outcome samples, computes
// rolling-window analytics, and drives the automatic canary adjustment
// policy for the full→mini model migration.
package monitor

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/platefull/platefull/control-plane/internal/flags"
	"github.com/platefull/platefull/control-plane/internal/observability"
	"github.com/platefull/platefull/control-plane/pkg/models"
)

// Config tunes the monitor. Zero values fall back to conservative defaults.
type Config struct {
	// Window is how long samples are retained.
	Window time.Duration
	// AdjustInterval is the cadence of the background adjustment loop.
	AdjustInterval time.Duration
	// CanaryStep is the percentage-point increment per healthy cycle.
	CanaryStep int
	// MinMiniSamples is the floor of mini-model samples required before the
	// policy acts at all.
	MinMiniSamples int
	// SuccessRateMargin is the absolute success-rate drop (mini vs full)
	// that triggers an emergency rollback.
	SuccessRateMargin float64
	// LatencyFactor is the mini-vs-full p95 ratio that triggers rollback.
	LatencyFactor float64
	// OverrideCooldown suppresses automatic adjustment after a manual or
	// automatic emergency action on an operation.
	OverrideCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 24 * time.Hour
	}
	if c.AdjustInterval <= 0 {
		c.AdjustInterval = 10 * time.Minute
	}
	if c.CanaryStep <= 0 {
		c.CanaryStep = 5
	}
	if c.MinMiniSamples <= 0 {
		c.MinMiniSamples = 20
	}
	if c.SuccessRateMargin <= 0 {
		c.SuccessRateMargin = 0.05
	}
	if c.LatencyFactor <= 0 {
		c.LatencyFactor = 1.5
	}
	if c.OverrideCooldown <= 0 {
		c.OverrideCooldown = 30 * time.Minute
	}
	return c
}

// Adjustment is the outcome of one auto-adjustment cycle for an operation.
type Adjustment struct {
	Operation     models.Operation `json:"operation"`
	Action        string           `json:"action"` // "increment", "rollback", "noop"
	Reason        string           `json:"reason"`
	NewPercentage int              `json:"new_percentage"`
}

// Monitor accumulates MetricSamples and periodically adjusts the canary.
// Record holds a narrowly-scoped lock only for the append; analytics copy
// the sample window out before computing anything.
type Monitor struct {
	flagStore *flags.Store
	metrics   *observability.Metrics
	cfg       Config
	now       func() time.Time

	mu        sync.RWMutex
	samples   []models.MetricSample
	overrides map[models.Operation]time.Time // last manual/automatic emergency action
}

// New creates a monitor. metrics may be nil (tests).
func New(fs *flags.Store, metrics *observability.Metrics, cfg Config) *Monitor {
	return &Monitor{
		flagStore: fs,
		metrics:   metrics,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		overrides: make(map[models.Operation]time.Time),
	}
}

// WithClock overrides the monitor's clock. Test use only.
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// ── Ingestion ───────────────────────────────────────────────

// Record appends one call outcome. The lock covers only the append plus an
// amortized eviction of expired samples, so the request hot path never
// waits behind analytics.
func (m *Monitor) Record(sample models.MetricSample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = m.now().UTC()
	}

	m.mu.Lock()
	m.samples = append(m.samples, sample)
	// Amortized eviction: trim the expired prefix once it is worth doing.
	if len(m.samples) > 256 {
		m.evictLocked()
	}
	m.mu.Unlock()
}

// evictLocked drops samples older than the retention window. Samples arrive
// roughly in time order, so scanning the prefix is enough.
func (m *Monitor) evictLocked() {
	cutoff := m.now().Add(-m.cfg.Window)
	i := 0
	for i < len(m.samples) && m.samples[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.samples = append([]models.MetricSample(nil), m.samples[i:]...)
	}
}

// SampleCount returns the retained sample count.
func (m *Monitor) SampleCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.samples)
}

// windowSamples copies samples within the trailing window out of the lock.
func (m *Monitor) windowSamples(window time.Duration) []models.MetricSample {
	cutoff := m.now().Add(-window)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.MetricSample, 0, len(m.samples))
	for _, s := range m.samples {
		if !s.Timestamp.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// ── Analytics ───────────────────────────────────────────────

// Analytics aggregates the trailing windowHours of samples into success
// rates and latency percentiles per (provider, model) and per operation.
func (m *Monitor) Analytics(windowHours int) models.Analytics {
	if windowHours <= 0 {
		windowHours = int(m.cfg.Window / time.Hour)
	}
	window := time.Duration(windowHours) * time.Hour
	if window > m.cfg.Window {
		// Retention bounds what we can actually answer for; report the
		// effective window, not the requested one.
		window = m.cfg.Window
		windowHours = int(window / time.Hour)
	}
	samples := m.windowSamples(window)

	byPM := make(map[string][]models.MetricSample)
	byOp := make(map[models.Operation][]models.MetricSample)
	for _, s := range samples {
		key := s.Provider + "/" + s.Model
		byPM[key] = append(byPM[key], s)
		byOp[s.Operation] = append(byOp[s.Operation], s)
	}

	analytics := models.Analytics{
		WindowHours:     windowHours,
		GeneratedAt:     m.now().UTC(),
		TotalSamples:    len(samples),
		ByProviderModel: make(map[string]models.ModelStats, len(byPM)),
		ByOperation:     make(map[models.Operation]models.ModelStats, len(byOp)),
	}
	for key, group := range byPM {
		analytics.ByProviderModel[key] = aggregate(group)
	}
	for op, group := range byOp {
		analytics.ByOperation[op] = aggregate(group)
	}
	analytics.Recommendation = m.recommendation(samples)
	return analytics
}

func aggregate(samples []models.MetricSample) models.ModelStats {
	stats := models.ModelStats{Samples: len(samples)}
	if len(samples) == 0 {
		return stats
	}
	latencies := make([]int64, 0, len(samples))
	for _, s := range samples {
		if s.Success {
			stats.Successes++
		}
		latencies = append(latencies, s.LatencyMs)
	}
	stats.SuccessRate = float64(stats.Successes) / float64(len(samples))
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	stats.P50LatencyMs = percentile(latencies, 50)
	stats.P95LatencyMs = percentile(latencies, 95)
	return stats
}

// percentile returns the p-th percentile of a sorted latency slice.
func percentile(sorted []int64, p int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (len(sorted) * p) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// recommendation summarizes mini-vs-full health across all operations.
func (m *Monitor) recommendation(samples []models.MetricSample) string {
	var mini, full []models.MetricSample
	for _, s := range samples {
		switch s.Model {
		case models.MiniModelFor(s.Provider):
			mini = append(mini, s)
		case models.FullModelFor(s.Provider):
			full = append(full, s)
		}
	}
	if len(mini) == 0 {
		return "no mini-model traffic in window; nothing to evaluate"
	}
	ms, fs := aggregate(mini), aggregate(full)
	if fs.Samples > 0 && ms.SuccessRate < fs.SuccessRate-m.cfg.SuccessRateMargin {
		return fmt.Sprintf("mini success rate %.1f%% trails full %.1f%%; hold or roll back", ms.SuccessRate*100, fs.SuccessRate*100)
	}
	if fs.Samples > 0 && fs.P95LatencyMs > 0 && float64(ms.P95LatencyMs) > m.cfg.LatencyFactor*float64(fs.P95LatencyMs) {
		return fmt.Sprintf("mini p95 %dms exceeds %.1fx full p95 %dms; hold or roll back", ms.P95LatencyMs, m.cfg.LatencyFactor, fs.P95LatencyMs)
	}
	return "mini model performing within bounds; continue rollout"
}

// Report renders a human-readable summary of the trailing window.
func (m *Monitor) Report(windowHours int) string {
	a := m.Analytics(windowHours)

	var b strings.Builder
	fmt.Fprintf(&b, "AI Migration Report — trailing %dh (generated %s)\n", a.WindowHours, a.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Total samples: %d\n\n", a.TotalSamples)

	b.WriteString("Per provider/model:\n")
	keys := make([]string, 0, len(a.ByProviderModel))
	for k := range a.ByProviderModel {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s := a.ByProviderModel[k]
		fmt.Fprintf(&b, "  %-30s calls=%-6d success=%5.1f%%  p50=%dms p95=%dms\n",
			k, s.Samples, s.SuccessRate*100, s.P50LatencyMs, s.P95LatencyMs)
	}

	b.WriteString("\nPer operation (canary %):\n")
	for _, op := range models.KnownOperations() {
		s := a.ByOperation[op]
		pct, enabled := m.flagStore.CanaryPercentage(op)
		state := "off"
		if enabled {
			state = fmt.Sprintf("%d%%", pct)
		}
		fmt.Fprintf(&b, "  %-15s calls=%-6d success=%5.1f%%  p50=%dms p95=%dms  canary=%s\n",
			string(op), s.Samples, s.SuccessRate*100, s.P50LatencyMs, s.P95LatencyMs, state)
	}

	fmt.Fprintf(&b, "\nRecommendation: %s\n", a.Recommendation)
	return b.String()
}

// ── Manual overrides ────────────────────────────────────────

// NoteManualOverride marks an operation as manually adjusted, suppressing
// automatic cycles for the configured cooldown so the policy does not
// immediately undo an operator's rollback.
func (m *Monitor) NoteManualOverride(op models.Operation) {
	m.mu.Lock()
	m.overrides[op] = m.now()
	m.mu.Unlock()
}

// OverrideUntil returns the end of the suppression window for an operation,
// if one is active.
func (m *Monitor) OverrideUntil(op models.Operation) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.overrides[op]
	if !ok {
		return time.Time{}, false
	}
	until := at.Add(m.cfg.OverrideCooldown)
	if !m.now().Before(until) {
		return time.Time{}, false
	}
	return until, true
}
