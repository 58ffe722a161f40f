package nexus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the client-side counters of store traffic. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	requests         *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	materializations *prometheus.CounterVec
	unresolved       prometheus.Counter
	cacheHits        prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "entitymanagement",
			Subsystem: "nexus",
			Name:      "requests_total",
			Help:      "Requests sent to the store by method and status code.",
		}, []string{"method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "entitymanagement",
			Subsystem: "nexus",
			Name:      "request_duration_seconds",
			Help:      "Latency of store requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		materializations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "entitymanagement",
			Name:      "materializations_total",
			Help:      "Lazy handles materialized, by entity type.",
		}, []string{"type"}),
		unresolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "entitymanagement",
			Name:      "unresolved_types_total",
			Help:      "Query results skipped because their type is not registered.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "entitymanagement",
			Subsystem: "nexus",
			Name:      "cache_hits_total",
			Help:      "Documents served from the document cache.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration, m.materializations, m.unresolved, m.cacheHits)
	}
	return m
}

func (m *Metrics) observeRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) cacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// Materialized counts a materialization of the named entity type
func (m *Metrics) Materialized(typeName string) {
	if m == nil {
		return
	}
	m.materializations.WithLabelValues(typeName).Inc()
}

// Unresolved counts a result skipped for an unknown type
func (m *Metrics) Unresolved() {
	if m == nil {
		return
	}
	m.unresolved.Inc()
}
