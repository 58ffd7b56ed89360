package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics implements the authorization engine's instrumentation hooks.
// All methods are safe on a nil receiver.
type EngineMetrics struct {
	decisions     *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	cacheEvents   *prometheus.CounterVec
	flightsShared prometheus.Counter
	invalidations *prometheus.CounterVec
	panics        prometheus.Counter
	cacheEntries  prometheus.Gauge
}

// NewEngineMetrics registers the engine metrics with registerer.
func NewEngineMetrics(registerer prometheus.Registerer) *EngineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &EngineMetrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lyceum_decisions_total",
			Help: "Authorization decisions by outcome and source.",
		}, []string{"outcome", "source"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lyceum_decision_duration_seconds",
			Help:    "Authorization decision latency per source.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"source"}),
		cacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lyceum_decision_cache_events_total",
			Help: "Decision cache hits, misses, and backend errors.",
		}, []string{"event"}),
		flightsShared: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lyceum_decision_flights_shared_total",
			Help: "Evaluations that joined an in-flight computation.",
		}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lyceum_invalidations_total",
			Help: "Cache invalidations by kind.",
		}, []string{"kind"}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lyceum_handler_panics_total",
			Help: "Handler panics converted into denials.",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lyceum_decision_cache_entries",
			Help: "Live entries in the decision cache, sampled periodically.",
		}),
	}
	registerer.MustRegister(m.decisions, m.duration, m.cacheEvents, m.flightsShared, m.invalidations, m.panics, m.cacheEntries)
	return m
}

// DecisionEvaluated records one served decision.
func (m *EngineMetrics) DecisionEvaluated(outcome, source string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome, source).Inc()
	m.duration.WithLabelValues(source).Observe(elapsed.Seconds())
}

// CacheHit counts a decision served from the cache.
func (m *EngineMetrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheEvents.WithLabelValues("hit").Inc()
}

// CacheMiss counts a lookup that fell through to live evaluation.
func (m *EngineMetrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheEvents.WithLabelValues("miss").Inc()
}

// CacheError counts a cache backend failure the engine bypassed.
func (m *EngineMetrics) CacheError() {
	if m == nil {
		return
	}
	m.cacheEvents.WithLabelValues("error").Inc()
}

// FlightShared counts an evaluation that piggybacked on another in flight.
func (m *EngineMetrics) FlightShared() {
	if m == nil {
		return
	}
	m.flightsShared.Inc()
}

// InvalidationIssued counts a subtree or principal invalidation.
func (m *EngineMetrics) InvalidationIssued(kind string) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(kind).Inc()
}

// HandlerPanicked counts a recovered handler panic.
func (m *EngineMetrics) HandlerPanicked() {
	if m == nil {
		return
	}
	m.panics.Inc()
}

// SetCacheEntries records the sampled size of the decision cache.
func (m *EngineMetrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(n))
}
