// Package metrics provides Prometheus metrics for the broker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "trustbroker"

// Result labels for metrics.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"

	ResultHit  = "hit"
	ResultMiss = "miss"
)

// Metrics holds the collectors of one broker instance.
type Metrics struct {
	// RequestsTotal counts broker operations by operation and outcome code.
	RequestsTotal *prometheus.CounterVec

	// RequestDuration observes the latency of broker operations.
	RequestDuration *prometheus.HistogramVec

	// CacheLookupsTotal counts access-token cache lookups by result (hit, miss).
	CacheLookupsTotal *prometheus.CounterVec

	// ProviderMintsTotal counts calls to the token provider by result.
	ProviderMintsTotal *prometheus.CounterVec

	// ProviderMintDuration observes the latency of token provider calls.
	ProviderMintDuration prometheus.Histogram

	// SessionRenewConflictsTotal counts renewals that lost a compare-and-swap race and retried.
	SessionRenewConflictsTotal prometheus.Counter

	// SessionsSweptTotal counts expired session records removed by the sweep.
	SessionsSweptTotal prometheus.Counter
}

// New creates the collectors and registers them with reg.
// A nil reg creates unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "broker",
				Name:      "requests_total",
				Help:      "Total number of broker requests",
			},
			[]string{"operation", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "broker",
				Name:      "request_duration_seconds",
				Help:      "Latency of broker requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		CacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Total number of access token cache lookups",
			},
			[]string{"result"},
		),
		ProviderMintsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "mints_total",
				Help:      "Total number of access tokens requested from the provider",
			},
			[]string{"result"},
		),
		ProviderMintDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "mint_duration_seconds",
				Help:      "Latency of token provider calls",
				Buckets:   prometheus.DefBuckets,
			},
		),
		SessionRenewConflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "renew_conflicts_total",
				Help:      "Total number of session renewals retried after a concurrent update",
			},
		),
		SessionsSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "swept_total",
				Help:      "Total number of expired session records removed",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.CacheLookupsTotal,
			m.ProviderMintsTotal,
			m.ProviderMintDuration,
			m.SessionRenewConflictsTotal,
			m.SessionsSweptTotal,
		)
	}
	return m
}

// NewRegistry returns a registry with the Go runtime and process collectors
// and the broker metrics registered.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, New(reg)
}
