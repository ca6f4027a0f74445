package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/platefull/platefull/control-plane/internal/api/handlers"
	"github.com/platefull/platefull/control-plane/internal/config"
	"github.com/platefull/platefull/control-plane/internal/flags"
	"github.com/platefull/platefull/control-plane/internal/monitor"
	"github.com/platefull/platefull/control-plane/internal/registry"
	"github.com/platefull/platefull/control-plane/pkg/models"
)

type stubProvider struct {
	name    string
	healthy bool
}

func (p *stubProvider) Name() string              { return p.name }
func (p *stubProvider) SupportedModels() []string { return []string{"gpt-4o", "gpt-4o-mini"} }
func (p *stubProvider) DefaultModel() string      { return "gpt-4o" }

func (p *stubProvider) HealthCheck(ctx context.Context) models.HealthResult {
	return models.HealthResult{Healthy: p.healthy, LatencyMs: 5}
}

func (p *stubProvider) Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	return &models.ChatResponse{Content: "ok"}, nil
}

func (p *stubProvider) GenerateRecipe(ctx context.Context, req models.RecipeRequest) (*models.RecipeResponse, error) {
	return &models.RecipeResponse{}, nil
}

func (p *stubProvider) GenerateWeeklyTitles(ctx context.Context, req models.WeeklyTitlesRequest) (*models.WeeklyTitlesResponse, error) {
	return &models.WeeklyTitlesResponse{}, nil
}

func (p *stubProvider) AnalyzeImageToRecipe(ctx context.Context, req models.ImageAnalysisRequest) (*models.RecipeResponse, error) {
	return &models.RecipeResponse{}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *flags.Store, *monitor.Monitor) {
	t.Helper()

	fs := flags.NewStore(flags.Defaults("openai")...)
	mon := monitor.New(fs, nil, monitor.Config{})
	reg := registry.New(fs, mon, nil, registry.Config{})
	reg.Register(&stubProvider{name: "openai", healthy: true})
	reg.Register(&stubProvider{name: "gemini", healthy: true})

	cfg := &config.Config{Version: "test"}
	h := handlers.New(fs, reg, mon)
	srv := httptest.NewServer(NewRouter(cfg, h, reg, prometheus.NewRegistry()))
	t.Cleanup(srv.Close)
	return srv, fs, mon
}

// envelope mirrors the response wrapper for decoding in assertions.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func getEnvelope(t *testing.T, srv *httptest.Server, path string) (int, envelope) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return resp.StatusCode, env
}

func postEnvelope(t *testing.T, srv *httptest.Server, path, body string) (int, envelope) {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return resp.StatusCode, env
}

func TestGetAnalytics(t *testing.T) {
	srv, _, mon := newTestServer(t)
	mon.Record(models.MetricSample{
		Operation: models.OperationChat,
		Provider:  "openai",
		Model:     "gpt-4o",
		LatencyMs: 100,
		Success:   true,
	})

	status, env := getEnvelope(t, srv, "/api/v1/migration/analytics?hours=1")
	if status != http.StatusOK || !env.Success {
		t.Fatalf("status=%d success=%v error=%q", status, env.Success, env.Error)
	}
	var a models.Analytics
	if err := json.Unmarshal(env.Data, &a); err != nil {
		t.Fatalf("decode analytics: %v", err)
	}
	if a.TotalSamples != 1 {
		t.Errorf("TotalSamples = %d, want 1", a.TotalSamples)
	}
}

func TestGetStatus(t *testing.T) {
	srv, fs, _ := newTestServer(t)
	fs.Set(models.FeatureFlag{
		Name:       flags.CanaryFlagName(models.OperationChat),
		Enabled:    true,
		Percentage: models.Percent(25),
	})

	status, env := getEnvelope(t, srv, "/api/v1/migration/status")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	var ms models.MigrationStatus
	if err := json.Unmarshal(env.Data, &ms); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	chat := ms.Operations[models.OperationChat]
	if !chat.CanaryEnabled || chat.CanaryPercentage != 25 {
		t.Errorf("chat status = %+v, want canary enabled at 25", chat)
	}
	if got := ms.Breakers["openai"]; got != "closed" {
		t.Errorf("openai breaker state = %q, want closed", got)
	}
}

func TestGetReportIsPlainText(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/v1/migration/report?hours=1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
}

func TestIncreaseCanary(t *testing.T) {
	srv, fs, _ := newTestServer(t)
	fs.Set(models.FeatureFlag{
		Name:       flags.CanaryFlagName(models.OperationChat),
		Enabled:    true,
		Percentage: models.Percent(10),
	})

	status, env := postEnvelope(t, srv, "/api/v1/migration/canary/chat/increase", `{"increment":15}`)
	if status != http.StatusOK || !env.Success {
		t.Fatalf("status=%d error=%q", status, env.Error)
	}
	if pct, _ := fs.CanaryPercentage(models.OperationChat); pct != 25 {
		t.Errorf("percentage = %d, want 25", pct)
	}
}

func TestDecreaseCanaryDefaultStep(t *testing.T) {
	srv, fs, _ := newTestServer(t)
	fs.Set(models.FeatureFlag{
		Name:       flags.CanaryFlagName(models.OperationRecipe),
		Enabled:    true,
		Percentage: models.Percent(10),
	})

	status, _ := postEnvelope(t, srv, "/api/v1/migration/canary/recipe/decrease", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if pct, _ := fs.CanaryPercentage(models.OperationRecipe); pct != 5 {
		t.Errorf("percentage = %d, want 5", pct)
	}
}

func TestUnknownOperationRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)
	for _, path := range []string{
		"/api/v1/migration/canary/espresso/increase",
		"/api/v1/migration/emergency/rollback/espresso",
		"/api/v1/migration/auto-adjust/espresso",
	} {
		status, env := postEnvelope(t, srv, path, "{}")
		if status != http.StatusBadRequest {
			t.Errorf("POST %s status = %d, want 400", path, status)
		}
		if env.Success || !strings.Contains(env.Error, "unknown operation") {
			t.Errorf("POST %s error = %q, want unknown operation", path, env.Error)
		}
	}
}

func TestEmergencyRollback(t *testing.T) {
	srv, fs, mon := newTestServer(t)
	op := models.OperationChat
	fs.Set(models.FeatureFlag{
		Name:       flags.CanaryFlagName(op),
		Enabled:    true,
		Percentage: models.Percent(50),
	})

	status, env := postEnvelope(t, srv, "/api/v1/migration/emergency/rollback/chat", "")
	if status != http.StatusOK || !env.Success {
		t.Fatalf("status=%d error=%q", status, env.Error)
	}
	if pct, enabled := fs.CanaryPercentage(op); enabled || pct != 0 {
		t.Errorf("canary after rollback = %d/%v, want 0/disabled", pct, enabled)
	}
	if _, active := mon.OverrideUntil(op); !active {
		t.Error("rollback should suppress auto-adjustment")
	}
}

func TestEmergencyDisableProvider(t *testing.T) {
	srv, fs, _ := newTestServer(t)

	status, _ := postEnvelope(t, srv, "/api/v1/migration/emergency/disable-provider/openai", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if got := fs.ProviderForOperation(models.OperationChat); got != "gemini" {
		t.Errorf("provider after disable = %q, want gemini", got)
	}

	status, env := postEnvelope(t, srv, "/api/v1/migration/emergency/disable-provider/acme", "")
	if status != http.StatusBadRequest {
		t.Errorf("unknown provider status = %d, want 400: %q", status, env.Error)
	}
}

func TestAutoAdjustEndpoint(t *testing.T) {
	srv, fs, _ := newTestServer(t)
	fs.Set(models.FeatureFlag{
		Name:       flags.CanaryFlagName(models.OperationChat),
		Enabled:    true,
		Percentage: models.Percent(10),
	})

	status, env := postEnvelope(t, srv, "/api/v1/migration/auto-adjust/chat", "")
	if status != http.StatusOK || !env.Success {
		t.Fatalf("status=%d error=%q", status, env.Error)
	}
	var adj struct {
		Action string `json:"action"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(env.Data, &adj); err != nil {
		t.Fatal(err)
	}
	// No samples recorded, so the policy must stand down.
	if adj.Action != "noop" {
		t.Errorf("action = %q, want noop (%s)", adj.Action, adj.Reason)
	}
}

func TestSetAndListFlags(t *testing.T) {
	srv, _, _ := newTestServer(t)

	status, _ := postEnvelope(t, srv, "/api/v1/migration/flags/",
		`{"name":"ai.provider.chat","enabled":true,"value":"gemini"}`)
	if status != http.StatusOK {
		t.Fatalf("set flag status = %d, want 200", status)
	}

	status, env := getEnvelope(t, srv, "/api/v1/migration/flags/")
	if status != http.StatusOK {
		t.Fatalf("list flags status = %d", status)
	}
	var list []models.FeatureFlag
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range list {
		if f.Name == "ai.provider.chat" && f.Value == "gemini" {
			found = true
		}
	}
	if !found {
		t.Errorf("flag ai.provider.chat not in list: %+v", list)
	}

	status, env = postEnvelope(t, srv, "/api/v1/migration/flags/", `{"name":"x","percentage":140}`)
	if status != http.StatusBadRequest {
		t.Errorf("out-of-range percentage status = %d, want 400: %q", status, env.Error)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Status    string                         `json:"status"`
		Providers map[string]models.HealthResult `json:"providers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "healthy" || len(body.Providers) != 2 {
		t.Errorf("health = %+v, want healthy with 2 providers", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
