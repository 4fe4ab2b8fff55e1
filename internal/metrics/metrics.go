// Package metrics exposes the gateway's Prometheus registry: request/latency
// counters per mode/model/provider, cost and token counters, rate-limit and
// budget rejections, cache hit/miss counters, a fallback counter, and
// provider circuit/health gauges. Only the cost and token counters (fed by
// the ledger (C9) through ObserveCost/ObserveTokens) and the rate-limit
// counter (fed by the rate limiter) are updated by the gateway; the other
// series are registered and exported, but nothing in the gateway updates them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestLatency   *prometheus.HistogramVec
	CostUSD          *prometheus.CounterVec
	PromptTokens     *prometheus.CounterVec
	CompletionTokens *prometheus.CounterVec
	RateLimitedTotal prometheus.Counter
	BudgetRejectedTotal prometheus.Counter
	CacheHitTotal    prometheus.Counter
	CacheMissTotal   prometheus.Counter

	// Provider circuit/health gauges, keyed by provider; nothing in the
	// gateway sets them.
	ProviderCircuitState *prometheus.GaugeVec // 0=closed, 1=open, 2=half-open, keyed by provider
	ProviderHealthState  *prometheus.GaugeVec // 0=healthy, 1=degraded, 2=down, keyed by provider
	FallbackTotal        *prometheus.CounterVec
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total completion/embedding requests routed through the gateway",
		}, []string{"mode", "model", "provider", "status"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_latency_ms",
			Help:    "Request latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"mode", "model", "provider"}),
		CostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cost_usd_total",
			Help: "Accumulated USD cost recorded by the ledger",
		}, []string{"model", "provider", "operation"}),
		PromptTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_prompt_tokens_total",
			Help: "Total prompt tokens recorded by the ledger",
		}, []string{"model", "provider"}),
		CompletionTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_completion_tokens_total",
			Help: "Total completion tokens recorded by the ledger",
		}, []string{"model", "provider"}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_rate_limited_total",
			Help: "Total requests rejected by the rate limiter",
		}),
		BudgetRejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_budget_rejected_total",
			Help: "Total requests rejected by enforced budget checks",
		}),
		CacheHitTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_cache_hit_total",
			Help: "Total completion cache hits",
		}),
		CacheMissTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_cache_miss_total",
			Help: "Total completion cache misses",
		}),
		ProviderCircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_provider_circuit_state",
			Help: "Per-provider circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"provider"}),
		ProviderHealthState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_provider_health_state",
			Help: "Per-provider health state (0=healthy, 1=degraded, 2=down)",
		}, []string{"provider"}),
		FallbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_fallback_total",
			Help: "Total requests that fell back to an alternate model",
		}, []string{"from_model", "to_model"}),
	}
	reg.MustRegister(
		m.RequestsTotal, m.RequestLatency, m.CostUSD, m.PromptTokens, m.CompletionTokens,
		m.RateLimitedTotal, m.BudgetRejectedTotal, m.CacheHitTotal, m.CacheMissTotal,
		m.ProviderCircuitState, m.ProviderHealthState, m.FallbackTotal,
	)
	return m
}

// ObserveCost implements ledger.MetricsSink.
func (m *Registry) ObserveCost(provider, modelID, operationType string, costUSD float64) {
	m.CostUSD.WithLabelValues(modelID, provider, operationType).Add(costUSD)
}

// ObserveTokens implements ledger.MetricsSink.
func (m *Registry) ObserveTokens(provider, modelID string, promptTokens, completionTokens int) {
	m.PromptTokens.WithLabelValues(modelID, provider).Add(float64(promptTokens))
	m.CompletionTokens.WithLabelValues(modelID, provider).Add(float64(completionTokens))
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
