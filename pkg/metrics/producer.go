package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ProducerMetrics contains Prometheus metrics for the synthetic reading generator.
type ProducerMetrics struct {
	UploadsTotal     *prometheus.CounterVec
	UploadFailures   *prometheus.CounterVec
	UploadDuration   *prometheus.HistogramVec
	ActiveProducers  prometheus.Gauge
	PatientsCreated  prometheus.Counter
	SamplesGenerated prometheus.Counter
}

// NewProducerMetrics creates and registers producer metrics.
func NewProducerMetrics(namespace string) *ProducerMetrics {
	m := &ProducerMetrics{
		UploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "producer",
				Name:      "requests_total",
				Help:      "Total number of requests sent to the backend",
			},
			[]string{"type"}, // type: patient, reading
		),
		UploadFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "producer",
				Name:      "request_failures_total",
				Help:      "Total number of failed requests to the backend",
			},
			[]string{"type", "reason"},
		),
		UploadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "producer",
				Name:      "request_duration_seconds",
				Help:      "Duration of requests to the backend",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		ActiveProducers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "producer",
				Name:      "active_producers",
				Help:      "Number of currently active producers",
			},
		),
		PatientsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "producer",
				Name:      "patients_created_total",
				Help:      "Total number of synthetic patients created",
			},
		),
		SamplesGenerated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "producer",
				Name:      "samples_generated_total",
				Help:      "Total number of synthetic IMU samples generated",
			},
		),
	}

	MustRegister(
		m.UploadsTotal,
		m.UploadFailures,
		m.UploadDuration,
		m.ActiveProducers,
		m.PatientsCreated,
		m.SamplesGenerated,
	)

	return m
}
