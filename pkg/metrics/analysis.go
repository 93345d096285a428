package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/gait-monitor/pkg/gait"
)

// AnalysisMetrics contains Prometheus metrics for decoding and analysing raw payloads.
type AnalysisMetrics struct {
	AnalysesTotal    *prometheus.CounterVec
	AnalysisDuration *prometheus.HistogramVec
	SamplesDecoded   *prometheus.CounterVec
	DecodeDefects    *prometheus.CounterVec
}

// NewAnalysisMetrics creates and registers analysis metrics.
func NewAnalysisMetrics(namespace string) *AnalysisMetrics {
	m := &AnalysisMetrics{
		AnalysesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analysis",
				Name:      "runs_total",
				Help:      "Total number of payload analyses",
			},
			[]string{"source", "status"},
		),
		AnalysisDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "analysis",
				Name:      "duration_seconds",
				Help:      "Duration of decode and projection",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"source"},
		),
		SamplesDecoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analysis",
				Name:      "samples_decoded_total",
				Help:      "Total number of sensor samples decoded",
			},
			[]string{"source"},
		),
		DecodeDefects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analysis",
				Name:      "decode_defects_total",
				Help:      "Total number of malformed lines encountered",
			},
			[]string{"source", "reason"},
		),
	}

	MustRegister(
		m.AnalysesTotal,
		m.AnalysisDuration,
		m.SamplesDecoded,
		m.DecodeDefects,
	)

	return m
}

// Observe records one analysis run: its outcome, duration, decoded samples and
// every decode defect, both the skipped lines of a successful analysis and the
// defect that aborted a failed one. A nil receiver is a no-op.
func (m *AnalysisMetrics) Observe(source string, analysis *gait.Analysis, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.AnalysesTotal.WithLabelValues(source, Status(err)).Inc()
	m.AnalysisDuration.WithLabelValues(source).Observe(elapsed.Seconds())

	if analysis != nil {
		m.SamplesDecoded.WithLabelValues(source).Add(float64(analysis.Summary.SampleCount))
		for _, d := range analysis.Defects {
			m.DecodeDefects.WithLabelValues(source, string(d.Reason)).Inc()
		}
	}

	var defect *gait.DecodeDefect
	if errors.As(err, &defect) {
		m.DecodeDefects.WithLabelValues(source, string(defect.Reason)).Inc()
	}
}
