// Package metrics exposes Prometheus instrumentation for controller
// operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the per-operation collectors. All methods are nil-safe
// so instrumentation stays optional.
type Metrics struct {
	operations *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quarry_operations_total",
			Help: "Completed object operations by operation and class.",
		}, []string{"operation", "class"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quarry_operation_failures_total",
			Help: "Failed object operations by operation and class.",
		}, []string{"operation", "class"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quarry_operation_duration_seconds",
			Help:    "Object operation latency by operation and class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "class"}),
	}
	reg.MustRegister(m.operations, m.failures, m.duration)
	return m
}

// Observe records one finished operation.
func (m *Metrics) Observe(operation, class string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, class).Inc()
	m.duration.WithLabelValues(operation, class).Observe(elapsed.Seconds())
	if err != nil {
		m.failures.WithLabelValues(operation, class).Inc()
	}
}
