// Package observability exposes Prometheus metrics for the control plane:
// routing decisions, provider call outcomes, breaker transitions, and the
// live canary percentage per operation.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "platefull_ai"

// Metrics holds all control-plane Prometheus collectors. All operations are
// safe for concurrent use.
type Metrics struct {
	RoutingDecisions *prometheus.CounterVec
	ProviderCalls    *prometheus.CounterVec
	CallLatency      *prometheus.HistogramVec
	BreakerOpens     *prometheus.CounterVec
	CanaryPercentage *prometheus.GaugeVec
	RetainedSamples  prometheus.Gauge
}

// New registers all collectors with reg. Tests pass a fresh
// prometheus.NewRegistry() so collectors never collide across cases.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RoutingDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_decisions_total",
			Help:      "Provider/model routing decisions by operation.",
		}, []string{"operation", "provider", "model"}),
		ProviderCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Provider call completions by outcome.",
		}, []string{"operation", "provider", "model", "outcome"}),
		CallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Provider call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"provider", "model"}),
		BreakerOpens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_opens_total",
			Help:      "Circuit breaker open transitions by provider.",
		}, []string{"provider"}),
		CanaryPercentage: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "canary_percentage",
			Help:      "Current mini-model canary percentage by operation.",
		}, []string{"operation"}),
		RetainedSamples: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retained_metric_samples",
			Help:      "Metric samples currently held in the rolling window.",
		}),
	}
}
