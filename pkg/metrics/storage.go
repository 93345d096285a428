package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StorageMetrics contains Prometheus metrics for object store operations.
type StorageMetrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	BytesWritten      prometheus.Counter
}

// NewStorageMetrics creates and registers object store metrics.
func NewStorageMetrics(namespace string) *StorageMetrics {
	m := &StorageMetrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "objectstore",
				Name:      "operations_total",
				Help:      "Total number of object store operations",
			},
			[]string{"operation", "status"}, // operation: upload, get, public_url, remove
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "objectstore",
				Name:      "operation_duration_seconds",
				Help:      "Duration of object store operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		BytesWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "objectstore",
				Name:      "bytes_written_total",
				Help:      "Total number of payload bytes written",
			},
		),
	}

	MustRegister(
		m.OperationsTotal,
		m.OperationDuration,
		m.BytesWritten,
	)

	return m
}
