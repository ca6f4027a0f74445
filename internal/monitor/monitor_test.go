package monitor

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/platefull/platefull/control-plane/internal/flags"
	"github.com/platefull/platefull/control-plane/pkg/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestMonitor(t *testing.T, cfg Config) (*Monitor, *flags.Store, *fakeClock) {
	t.Helper()
	fs := flags.NewStore(flags.Defaults("openai")...)
	fs.RegisterProviderName("openai")
	clock := &fakeClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	m := New(fs, nil, cfg).WithClock(clock.Now)
	return m, fs, clock
}

func enableCanary(fs *flags.Store, op models.Operation, pct int) {
	fs.Set(models.FeatureFlag{
		Name:       flags.CanaryFlagName(op),
		Enabled:    true,
		Percentage: models.Percent(pct),
	})
}

// feed records n samples for op with the given model, success and latency,
// stamped at the clock's current time.
func feed(m *Monitor, clock *fakeClock, op models.Operation, model string, n int, success bool, latencyMs int64) {
	for i := 0; i < n; i++ {
		m.Record(models.MetricSample{
			Operation: op,
			Provider:  "openai",
			Model:     model,
			LatencyMs: latencyMs,
			Success:   success,
			Timestamp: clock.Now(),
		})
	}
}

func TestAnalyticsAggregation(t *testing.T) {
	m, _, clock := newTestMonitor(t, Config{})
	op := models.OperationChat

	feed(m, clock, op, "gpt-4o", 8, true, 100)
	feed(m, clock, op, "gpt-4o", 2, false, 400)

	a := m.Analytics(1)
	if a.TotalSamples != 10 {
		t.Fatalf("TotalSamples = %d, want 10", a.TotalSamples)
	}
	stats, ok := a.ByProviderModel["openai/gpt-4o"]
	if !ok {
		t.Fatalf("missing openai/gpt-4o in %v", a.ByProviderModel)
	}
	if stats.Samples != 10 || stats.Successes != 8 {
		t.Errorf("samples/successes = %d/%d, want 10/8", stats.Samples, stats.Successes)
	}
	if got, want := stats.SuccessRate, 0.8; got != want {
		t.Errorf("SuccessRate = %v, want %v", got, want)
	}
	if stats.P50LatencyMs != 100 {
		t.Errorf("P50 = %d, want 100", stats.P50LatencyMs)
	}
	if stats.P95LatencyMs != 400 {
		t.Errorf("P95 = %d, want 400", stats.P95LatencyMs)
	}
	if op2, ok := a.ByOperation[op]; !ok || op2.Samples != 10 {
		t.Errorf("ByOperation[%s] = %+v, want 10 samples", op, op2)
	}
}

func TestAnalyticsWindowExcludesOldSamples(t *testing.T) {
	m, _, clock := newTestMonitor(t, Config{Window: 24 * time.Hour})
	op := models.OperationRecipe

	feed(m, clock, op, "gpt-4o", 5, true, 100)
	clock.Advance(3 * time.Hour)
	feed(m, clock, op, "gpt-4o", 3, true, 100)

	if got := m.Analytics(1).TotalSamples; got != 3 {
		t.Errorf("1h window samples = %d, want 3", got)
	}
	if got := m.Analytics(24).TotalSamples; got != 8 {
		t.Errorf("24h window samples = %d, want 8", got)
	}
}

func TestAnalyticsReportsEffectiveWindow(t *testing.T) {
	m, _, _ := newTestMonitor(t, Config{Window: 24 * time.Hour})

	if got := m.Analytics(9999).WindowHours; got != 24 {
		t.Errorf("WindowHours = %d, want 24 (clamped to retention)", got)
	}
	if got := m.Analytics(6).WindowHours; got != 6 {
		t.Errorf("WindowHours = %d, want 6", got)
	}
	if got := m.Analytics(0).WindowHours; got != 24 {
		t.Errorf("WindowHours for default request = %d, want 24", got)
	}
}

func TestAutoAdjustInsufficientSamples(t *testing.T) {
	m, fs, clock := newTestMonitor(t, Config{MinMiniSamples: 20})
	op := models.OperationChat
	enableCanary(fs, op, 10)

	feed(m, clock, op, models.MiniModelFor("openai"), 5, true, 100)

	adj := m.AutoAdjustCanary(op)
	if adj.Action != "noop" {
		t.Fatalf("action = %q, want noop: %+v", adj.Action, adj)
	}
	if pct, _ := fs.CanaryPercentage(op); pct != 10 {
		t.Errorf("percentage changed to %d, want 10", pct)
	}
}

func TestAutoAdjustIncrementsWhenHealthy(t *testing.T) {
	m, fs, clock := newTestMonitor(t, Config{MinMiniSamples: 20, CanaryStep: 5})
	op := models.OperationChat
	enableCanary(fs, op, 10)

	feed(m, clock, op, models.FullModelFor("openai"), 50, true, 100)
	feed(m, clock, op, models.MiniModelFor("openai"), 25, true, 110)

	adj := m.AutoAdjustCanary(op)
	if adj.Action != "increment" {
		t.Fatalf("action = %q, want increment: %+v", adj.Action, adj)
	}
	if adj.NewPercentage != 15 {
		t.Errorf("NewPercentage = %d, want 15", adj.NewPercentage)
	}
	if pct, _ := fs.CanaryPercentage(op); pct != 15 {
		t.Errorf("store percentage = %d, want 15", pct)
	}
}

func TestAutoAdjustRollsBackOnSuccessRateBreach(t *testing.T) {
	m, fs, clock := newTestMonitor(t, Config{MinMiniSamples: 20, SuccessRateMargin: 0.05})
	op := models.OperationChat
	enableCanary(fs, op, 40)

	feed(m, clock, op, models.FullModelFor("openai"), 50, true, 100)
	// 70% mini success against a 100% baseline: well past the margin.
	feed(m, clock, op, models.MiniModelFor("openai"), 14, true, 100)
	feed(m, clock, op, models.MiniModelFor("openai"), 6, false, 100)

	adj := m.AutoAdjustCanary(op)
	if adj.Action != "rollback" {
		t.Fatalf("action = %q, want rollback: %+v", adj.Action, adj)
	}
	if adj.NewPercentage != 0 {
		t.Errorf("NewPercentage = %d, want 0", adj.NewPercentage)
	}
	if _, enabled := fs.CanaryPercentage(op); enabled {
		t.Error("canary still enabled after rollback")
	}
	if _, active := m.OverrideUntil(op); !active {
		t.Error("rollback should start an override cooldown")
	}
}

func TestAutoAdjustRollsBackOnLatencyBreach(t *testing.T) {
	m, fs, clock := newTestMonitor(t, Config{MinMiniSamples: 20, LatencyFactor: 1.5})
	op := models.OperationWeeklyTitles
	enableCanary(fs, op, 30)

	feed(m, clock, op, models.FullModelFor("openai"), 50, true, 100)
	feed(m, clock, op, models.MiniModelFor("openai"), 25, true, 400)

	adj := m.AutoAdjustCanary(op)
	if adj.Action != "rollback" {
		t.Fatalf("action = %q, want rollback: %+v", adj.Action, adj)
	}
	if !strings.Contains(adj.Reason, "p95") {
		t.Errorf("reason %q should mention p95", adj.Reason)
	}
}

func TestAutoAdjustRespectsOverrideCooldown(t *testing.T) {
	m, fs, clock := newTestMonitor(t, Config{MinMiniSamples: 20, OverrideCooldown: 30 * time.Minute})
	op := models.OperationChat
	enableCanary(fs, op, 10)
	feed(m, clock, op, models.FullModelFor("openai"), 50, true, 100)
	feed(m, clock, op, models.MiniModelFor("openai"), 25, true, 100)

	m.NoteManualOverride(op)
	if adj := m.AutoAdjustCanary(op); adj.Action != "noop" {
		t.Fatalf("action during cooldown = %q, want noop", adj.Action)
	}

	clock.Advance(31 * time.Minute)
	if adj := m.AutoAdjustCanary(op); adj.Action != "increment" {
		t.Fatalf("action after cooldown = %q, want increment", adj.Action)
	}
}

func TestAutoAdjustCanaryDisabled(t *testing.T) {
	m, _, clock := newTestMonitor(t, Config{MinMiniSamples: 1})
	op := models.OperationImageAnalysis
	feed(m, clock, op, models.MiniModelFor("openai"), 5, true, 100)

	if adj := m.AutoAdjustCanary(op); adj.Action != "noop" || adj.Reason != "canary disabled" {
		t.Fatalf("adjustment = %+v, want noop/canary disabled", adj)
	}
}

func TestAutoAdjustHoldsAtHundredPercent(t *testing.T) {
	m, fs, clock := newTestMonitor(t, Config{MinMiniSamples: 20})
	op := models.OperationChat
	enableCanary(fs, op, 100)
	feed(m, clock, op, models.MiniModelFor("openai"), 30, true, 100)

	adj := m.AutoAdjustCanary(op)
	if adj.Action != "noop" || adj.NewPercentage != 100 {
		t.Fatalf("adjustment = %+v, want noop at 100", adj)
	}
}

func TestAutoAdjustAbsoluteFloorWithoutBaseline(t *testing.T) {
	m, fs, clock := newTestMonitor(t, Config{MinMiniSamples: 20, SuccessRateMargin: 0.05})
	op := models.OperationChat
	enableCanary(fs, op, 90)

	// All traffic on mini, 80% success: below the 95% absolute floor.
	feed(m, clock, op, models.MiniModelFor("openai"), 24, true, 100)
	feed(m, clock, op, models.MiniModelFor("openai"), 6, false, 100)

	if adj := m.AutoAdjustCanary(op); adj.Action != "rollback" {
		t.Fatalf("action = %q, want rollback: %+v", adj.Action, adj)
	}
}

func TestReportContents(t *testing.T) {
	m, fs, clock := newTestMonitor(t, Config{})
	op := models.OperationChat
	enableCanary(fs, op, 25)
	feed(m, clock, op, models.FullModelFor("openai"), 10, true, 120)

	report := m.Report(1)
	for _, want := range []string{"openai/gpt-4o", "chat", "canary=25%", "Recommendation:"} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}

func TestEvictionDropsExpiredSamples(t *testing.T) {
	m, _, clock := newTestMonitor(t, Config{Window: time.Hour})
	op := models.OperationChat

	feed(m, clock, op, "gpt-4o", 300, true, 100)
	clock.Advance(2 * time.Hour)
	// Next batch crosses the amortization threshold and triggers eviction.
	feed(m, clock, op, "gpt-4o", 10, true, 100)

	if got := m.SampleCount(); got > 310-300 {
		t.Errorf("retained %d samples, want old batch evicted", got)
	}
}

func TestRecordConcurrent(t *testing.T) {
	m, _, clock := newTestMonitor(t, Config{})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			feed(m, clock, models.OperationChat, "gpt-4o", 50, true, 100)
		}()
	}
	wg.Wait()
	if got := m.SampleCount(); got != 1000 {
		t.Errorf("SampleCount = %d, want 1000", got)
	}
}
