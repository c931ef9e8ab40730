// Package observability exposes prometheus metrics for the CRUD surface.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus instruments recorded per CRUD operation.
type Metrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the instruments on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crudkit_operations_total",
				Help: "CRUD operations by operation, collection and status",
			},
			[]string{"operation", "collection", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crudkit_operation_duration_seconds",
				Help:    "CRUD operation latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "collection"},
		),
	}
	reg.MustRegister(m.OperationsTotal, m.OperationDuration)
	return m
}

// Observe records one completed operation.
func (m *Metrics) Observe(operation, collection string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(operation, collection, status).Inc()
	m.OperationDuration.WithLabelValues(operation, collection).Observe(time.Since(start).Seconds())
}
