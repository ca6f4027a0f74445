package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/platefull/platefull/control-plane/pkg/models"
)

// AutoAdjustCanary runs one adjustment cycle for a single operation:
// increment the canary when the mini model holds up, emergency-roll it back
// when error rate or latency breaches the guardrails, and stand down when
// there is not enough evidence either way.
func (m *Monitor) AutoAdjustCanary(op models.Operation) Adjustment {
	adj := Adjustment{Operation: op, Action: "noop"}

	if until, active := m.OverrideUntil(op); active {
		adj.Reason = fmt.Sprintf("manual override cooldown until %s", until.UTC().Format(time.RFC3339))
		return adj
	}

	pct, enabled := m.flagStore.CanaryPercentage(op)
	adj.NewPercentage = pct
	if !enabled {
		adj.Reason = "canary disabled"
		return adj
	}

	samples := m.windowSamples(m.cfg.Window)
	var mini, full []models.MetricSample
	for _, s := range samples {
		if s.Operation != op {
			continue
		}
		switch s.Model {
		case models.MiniModelFor(s.Provider):
			mini = append(mini, s)
		case models.FullModelFor(s.Provider):
			full = append(full, s)
		}
	}
	ms, fs := aggregate(mini), aggregate(full)

	if ms.Samples < m.cfg.MinMiniSamples {
		adj.Reason = fmt.Sprintf("insufficient mini samples (%d < %d)", ms.Samples, m.cfg.MinMiniSamples)
		return adj
	}

	if reason, breach := m.guardrailBreach(ms, fs); breach {
		m.flagStore.EmergencyRollbackCanary(op)
		m.NoteManualOverride(op)
		if m.metrics != nil {
			m.metrics.CanaryPercentage.WithLabelValues(string(op)).Set(0)
		}
		log.Warn().
			Str("operation", string(op)).
			Str("reason", reason).
			Int("previous_percentage", pct).
			Msg("canary emergency rollback")
		adj.Action = "rollback"
		adj.Reason = reason
		adj.NewPercentage = 0
		return adj
	}

	if pct >= 100 {
		adj.Reason = "canary already at 100%"
		return adj
	}

	newPct := m.flagStore.IncrementCanaryPercentage(op, m.cfg.CanaryStep)
	if m.metrics != nil {
		m.metrics.CanaryPercentage.WithLabelValues(string(op)).Set(float64(newPct))
	}
	log.Info().
		Str("operation", string(op)).
		Int("from", pct).
		Int("to", newPct).
		Msg("canary percentage increased")
	adj.Action = "increment"
	adj.Reason = fmt.Sprintf("mini model healthy across %d samples", ms.Samples)
	adj.NewPercentage = newPct
	return adj
}

// guardrailBreach checks the mini model's stats against the full model's.
// Without full-model traffic to compare against, only an absolute success
// floor applies.
func (m *Monitor) guardrailBreach(mini, full models.ModelStats) (string, bool) {
	if full.Samples > 0 {
		if mini.SuccessRate < full.SuccessRate-m.cfg.SuccessRateMargin {
			return fmt.Sprintf("mini success rate %.1f%% below full %.1f%% by more than %.0f points",
				mini.SuccessRate*100, full.SuccessRate*100, m.cfg.SuccessRateMargin*100), true
		}
		if full.P95LatencyMs > 0 && float64(mini.P95LatencyMs) > m.cfg.LatencyFactor*float64(full.P95LatencyMs) {
			return fmt.Sprintf("mini p95 %dms exceeds %.1fx full p95 %dms",
				mini.P95LatencyMs, m.cfg.LatencyFactor, full.P95LatencyMs), true
		}
		return "", false
	}
	// No baseline traffic left (canary near 100%): hold an absolute floor.
	if mini.SuccessRate < 1-m.cfg.SuccessRateMargin {
		return fmt.Sprintf("mini success rate %.1f%% below absolute floor %.1f%%",
			mini.SuccessRate*100, (1-m.cfg.SuccessRateMargin)*100), true
	}
	return "", false
}

// Start runs the background adjustment loop until ctx is cancelled. Each
// tick evicts expired samples and runs one cycle per known operation.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.AdjustInterval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", m.cfg.AdjustInterval).
		Dur("window", m.cfg.Window).
		Msg("migration monitor started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("migration monitor stopped")
			return
		case <-ticker.C:
			m.mu.Lock()
			m.evictLocked()
			retained := len(m.samples)
			m.mu.Unlock()
			if m.metrics != nil {
				m.metrics.RetainedSamples.Set(float64(retained))
			}
			for _, op := range models.KnownOperations() {
				adj := m.AutoAdjustCanary(op)
				if adj.Action == "noop" {
					log.Debug().
						Str("operation", string(op)).
						Str("reason", adj.Reason).
						Msg("canary unchanged")
				}
			}
		}
	}
}
