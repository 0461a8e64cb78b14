// Package metrics holds Prometheus instruments that are used across the
// gate.  All collectors are registered with the global registry, so
// importing this package in main.go is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// TenantResolveTotal counts host resolutions by outcome:
	// hit, miss, negative, stale, rejected, unknown, unavailable.
	TenantResolveTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_resolve_total",
			Help: "Tenant resolutions by result.",
		}, []string{"result"})

	TenantInvalidateTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_invalidate_total",
			Help: "Cumulative number of tenant cache entries invalidated.",
		})

	// BillingCheckTotal counts status checks: hit, miss, failed.
	BillingCheckTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_check_total",
			Help: "Billing status checks by result.",
		}, []string{"result"})

	BillingUpdateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_update_total",
			Help: "Billing status changes by new status.",
		}, []string{"status"})

	// RateLimitTotal counts consume calls: allowed, limited, degraded.
	RateLimitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_consume_total",
			Help: "Rate-limit decisions by result.",
		}, []string{"result"})

	GateDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_decisions_total",
			Help: "Terminal pipeline states.",
		}, []string{"state"})

	GateDecisionSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gate_decision_seconds",
			Help:    "Time spent deciding a request, excluding the upstream.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		})

	DirectoryBreakerOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "directory_breaker_open",
			Help: "1 while the tenant directory circuit breaker is open.",
		})
)

func init() {
	prometheus.MustRegister(
		TenantResolveTotal,
		TenantInvalidateTotal,
		BillingCheckTotal,
		BillingUpdateTotal,
		RateLimitTotal,
		GateDecisionsTotal,
		GateDecisionSeconds,
		DirectoryBreakerOpen,
	)
}
