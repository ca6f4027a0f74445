package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the Platefull AI control plane.
type Config struct {
	Port      int
	Version   string
	Routing   RoutingConfig
	Breaker   BreakerConfig
	Monitor   MonitorConfig
	Providers ProvidersConfig
	Telemetry TelemetryConfig
}

type RoutingConfig struct {
	// DefaultProvider seeds the ai.provider.default flag at startup.
	DefaultProvider string
	// HealthTimeout bounds each provider health probe.
	HealthTimeout time.Duration
}

type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
}

type MonitorConfig struct {
	Window            time.Duration
	AdjustInterval    time.Duration
	CanaryStep        int
	MinMiniSamples    int
	SuccessRateMargin float64
	LatencyFactor     float64
	OverrideCooldown  time.Duration
}

type ProvidersConfig struct {
	OpenAIAPIKey   string
	GeminiAPIKey   string
	GeminiEndpoint string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("PLATEFULL_PORT", 8080),
		Version: envStr("PLATEFULL_VERSION", "0.2.0"),
		Routing: RoutingConfig{
			DefaultProvider: envStr("AI_DEFAULT_PROVIDER", "openai"),
			HealthTimeout:   envDur("AI_HEALTH_TIMEOUT", 5*time.Second),
		},
		Breaker: BreakerConfig{
			FailureThreshold: envInt("BREAKER_FAILURE_THRESHOLD", 5),
			Cooldown:         envDur("BREAKER_COOLDOWN", 30*time.Second),
		},
		Monitor: MonitorConfig{
			Window:            envDur("MONITOR_WINDOW", 24*time.Hour),
			AdjustInterval:    envDur("MONITOR_ADJUST_INTERVAL", 10*time.Minute),
			CanaryStep:        envInt("MONITOR_CANARY_STEP", 5),
			MinMiniSamples:    envInt("MONITOR_MIN_MINI_SAMPLES", 20),
			SuccessRateMargin: envFloat("MONITOR_SUCCESS_RATE_MARGIN", 0.05),
			LatencyFactor:     envFloat("MONITOR_LATENCY_FACTOR", 1.5),
			OverrideCooldown:  envDur("MONITOR_OVERRIDE_COOLDOWN", 30*time.Minute),
		},
		Providers: ProvidersConfig{
			OpenAIAPIKey:   envStr("OPENAI_API_KEY", ""),
			GeminiAPIKey:   envStr("GEMINI_API_KEY", ""),
			GeminiEndpoint: envStr("GEMINI_ENDPOINT", "https://generativelanguage.googleapis.com/v1beta"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", true),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "platefull-ai-control-plane"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
