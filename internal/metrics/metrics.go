// Package metrics exposes Prometheus counters for the credential, cache,
// job and provider layers. Every recording method is safe on a nil
// *Metrics so components can be built without instrumentation.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Metrics holds all Prometheus collectors for calbridge.
type Metrics struct {
	// CacheLookups counts cache reads by resource kind and result.
	CacheLookups *prometheus.CounterVec
	// CacheInvalidations counts entries dropped after confirmed mutations.
	CacheInvalidations *prometheus.CounterVec
	// TokenRefreshes counts refresh attempts by outcome.
	TokenRefreshes *prometheus.CounterVec
	// Jobs counts completed background jobs by kind and outcome.
	Jobs *prometheus.CounterVec
	// ProviderRequests counts provider API calls by capability and status class.
	ProviderRequests *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all collectors on a private registry.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Cache lookups by resource kind and result",
			},
			[]string{"kind", "result"},
		),
		CacheInvalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_invalidations_total",
				Help:      "Cache entries invalidated after a confirmed mutation",
			},
			[]string{"kind"},
		),
		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "OAuth token refresh attempts by outcome",
			},
			[]string{"outcome"},
		),
		Jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Completed background jobs by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		ProviderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Remote provider requests by capability and status class",
			},
			[]string{"capability", "status"},
		),
	}

	registry.MustRegister(
		m.CacheLookups,
		m.CacheInvalidations,
		m.TokenRefreshes,
		m.Jobs,
		m.ProviderRequests,
	)

	return m
}

// RecordCacheLookup counts one cache read.
func (m *Metrics) RecordCacheLookup(kind, result string) {
	if m == nil {
		return
	}

	m.CacheLookups.WithLabelValues(kind, result).Inc()
}

// RecordCacheInvalidation counts one invalidated entry.
func (m *Metrics) RecordCacheInvalidation(kind string) {
	if m == nil {
		return
	}

	m.CacheInvalidations.WithLabelValues(kind).Inc()
}

// RecordTokenRefresh counts one refresh attempt.
func (m *Metrics) RecordTokenRefresh(outcome string) {
	if m == nil {
		return
	}

	m.TokenRefreshes.WithLabelValues(outcome).Inc()
}

// RecordJob counts one completed job.
func (m *Metrics) RecordJob(kind string, success bool) {
	if m == nil {
		return
	}

	outcome := "success"
	if !success {
		outcome = "failure"
	}

	m.Jobs.WithLabelValues(kind, outcome).Inc()
}

// RecordProviderRequest counts one provider call. status 0 means the call
// never produced an HTTP response.
func (m *Metrics) RecordProviderRequest(capability string, status int) {
	if m == nil {
		return
	}

	m.ProviderRequests.WithLabelValues(capability, statusClass(status)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func statusClass(status int) string {
	if status <= 0 {
		return "network_error"
	}

	return strconv.Itoa(status/100) + "xx"
}
