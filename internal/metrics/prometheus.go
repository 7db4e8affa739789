// Package metrics provides Prometheus collectors for the AI-analysis
// orchestration core: attempt counts, fallbacks, quota pressure, validation
// flags, token spend, and invocation latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "claimai"

// LatencyBuckets covers the observed range of model invocation latency:
// sub-second for cached or trivial calls up to minutes for multi-image
// analysis.
var LatencyBuckets = []float64{
	0.1, 0.25, 0.5, 1.0, 2.0, 3.0, 5.0, 7.5, 10.0,
	15.0, 20.0, 30.0, 45.0, 60.0, 90.0, 120.0,
}

var (
	// AnalysesTotal counts orchestrated analysis chains by final outcome.
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Total orchestrated analysis chains by final outcome",
		},
		[]string{"action", "outcome"},
	)

	// InvocationAttempts counts individual model invocation attempts.
	InvocationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocation_attempts_total",
			Help:      "Model invocation attempts by model and result",
		},
		[]string{"model", "result"},
	)

	// ModelFallbacks counts retryable failures that triggered fallback to
	// another model.
	ModelFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_fallbacks_total",
			Help:      "Fallbacks triggered by retryable invocation failures",
		},
		[]string{"model", "kind"},
	)

	// QuotaExhaustions counts chains that found every model over budget.
	QuotaExhaustions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_exhaustions_total",
			Help:      "Analysis chains rejected because all models were at capacity",
		},
	)

	// ValidationFlags counts fraud/consistency findings by rule reason.
	ValidationFlags = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_flags_total",
			Help:      "Validation findings by flagged reason",
		},
		[]string{"reason"},
	)

	// TokensConsumed counts reported token usage per model.
	TokensConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_consumed_total",
			Help:      "Token usage reported by upstream models",
		},
		[]string{"model", "type"},
	)

	// InvocationLatency tracks wall-clock latency per model invocation.
	InvocationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_latency_seconds",
			Help:      "Model invocation latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"model"},
	)

	// ResultCacheHits counts analyses served from the content-hash cache.
	ResultCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "result_cache_hits_total",
			Help:      "Analyses served from the content-hash result cache",
		},
	)

	// AuditStoreErrors counts audit entries dropped because the store failed.
	AuditStoreErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_store_errors_total",
			Help:      "Audit entries dropped due to store failures",
		},
	)
)
