package telemetry

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus instruments exported by the decision engine:
// per-source request and failure counters, breaker transitions, cache
// performance, and decision outcomes.
type Metrics struct {
	registry *prometheus.Registry

	hits   atomic.Int64
	misses atomic.Int64

	SourceRequests     *prometheus.CounterVec
	SourceFailures     *prometheus.CounterVec
	BreakerTransitions *prometheus.CounterVec
	CacheHits          *prometheus.CounterVec
	CacheMisses        *prometheus.CounterVec
	CacheHitRatio      prometheus.Gauge
	Decisions          *prometheus.CounterVec
	CycleDuration      prometheus.Histogram
	SymbolEvalDuration *prometheus.HistogramVec
}

// New creates a metrics set on its own registry so tests never collide on the
// global default.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		SourceRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradegate_source_requests_total",
				Help: "Upstream requests per data source",
			},
			[]string{"source"},
		),
		SourceFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradegate_source_failures_total",
				Help: "Upstream failures per data source, split by kind (transport|data|validation)",
			},
			[]string{"source", "kind"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradegate_breaker_transitions_total",
				Help: "Circuit breaker state transitions per source",
			},
			[]string{"source", "to"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradegate_cache_hits_total",
				Help: "Cache hits per data source",
			},
			[]string{"source"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradegate_cache_misses_total",
				Help: "Cache misses per data source",
			},
			[]string{"source"},
		),
		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tradegate_cache_hit_ratio",
				Help: "Aggregate cache hit ratio (0.0 to 1.0)",
			},
		),
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradegate_decisions_total",
				Help: "Trade gate decisions by action and reason code",
			},
			[]string{"action", "reason"},
		),
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tradegate_cycle_duration_seconds",
				Help:    "Duration of a full evaluation cycle",
				Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
		),
		SymbolEvalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradegate_symbol_eval_duration_seconds",
				Help:    "Duration of a single symbol evaluation",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"symbol"},
		),
	}

	m.registry.MustRegister(
		m.SourceRequests,
		m.SourceFailures,
		m.BreakerTransitions,
		m.CacheHits,
		m.CacheMisses,
		m.CacheHitRatio,
		m.Decisions,
		m.CycleDuration,
		m.SymbolEvalDuration,
	)

	return m
}

// Registry exposes the underlying registry for the promhttp handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveCache records one cache lookup and refreshes the aggregate hit
// ratio.
func (m *Metrics) ObserveCache(source string, hit bool) {
	if hit {
		m.CacheHits.WithLabelValues(source).Inc()
		m.hits.Add(1)
	} else {
		m.CacheMisses.WithLabelValues(source).Inc()
		m.misses.Add(1)
	}
	total := m.hits.Load() + m.misses.Load()
	if total > 0 {
		m.CacheHitRatio.Set(float64(m.hits.Load()) / float64(total))
	}
}
