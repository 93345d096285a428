// Package producer simulates wearable gait sensors: it registers synthetic
// patients with the backend and uploads generated IMU readings for them.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/gait-monitor/internal/backend"
	"procodus.dev/gait-monitor/pkg/gait"
	"procodus.dev/gait-monitor/pkg/generator"
	"procodus.dev/gait-monitor/pkg/metrics"
)

// Backend is the part of the backend API a producer uses.
type Backend interface {
	CreatePatient(ctx context.Context, p *generator.Patient) (*backend.Patient, error)
	UploadReading(ctx context.Context, patientID, fileName string, data []byte) (*backend.IngestResult, error)
}

// Producer owns a small set of synthetic patients, each with its own gait
// generator, and uploads readings for them.
type Producer struct {
	backend  Backend
	logger   *slog.Logger
	session  time.Duration
	patients []simulatedPatient
	metrics  *metrics.ProducerMetrics // Optional metrics
}

type simulatedPatient struct {
	imu *generator.IMUGenerator
	id  string
}

// NewProducer registers patientCount synthetic patients with the backend.
// It fails if none could be created.
func NewProducer(ctx context.Context, b Backend, logger *slog.Logger, patientCount int, session time.Duration, m *metrics.ProducerMetrics) (*Producer, error) {
	if b == nil {
		return nil, errors.New("backend cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if patientCount <= 0 {
		return nil, errors.New("patient count must be positive")
	}
	if session <= 0 {
		return nil, errors.New("session duration must be positive")
	}

	p := &Producer{
		backend:  b,
		logger:   logger,
		session:  session,
		patients: make([]simulatedPatient, 0, patientCount),
		metrics:  m,
	}

	var errs []error
	for range patientCount {
		id, err := p.createPatient(ctx)
		if err != nil {
			logger.Error("failed to create patient", "error", err)
			errs = append(errs, err)
			continue
		}
		p.patients = append(p.patients, simulatedPatient{
			id:  id,
			imu: generator.NewIMUGenerator(0, 0),
		})
	}

	if len(p.patients) == 0 {
		return nil, fmt.Errorf("no patient could be created: %w", errors.Join(errs...))
	}
	return p, nil
}

// PatientIDs returns the ids of the patients this producer uploads for.
func (p *Producer) PatientIDs() []string {
	ids := make([]string, len(p.patients))
	for i, sp := range p.patients {
		ids[i] = sp.id
	}
	return ids
}

func (p *Producer) createPatient(ctx context.Context) (string, error) {
	var timer *prometheus.Timer
	if p.metrics != nil {
		timer = prometheus.NewTimer(p.metrics.UploadDuration.WithLabelValues("patient"))
		defer timer.ObserveDuration()
	}

	patient := generator.NewPatient()
	if patient == nil {
		p.recordFailure("patient", "generate_error")
		return "", errors.New("failed to generate patient")
	}

	created, err := p.backend.CreatePatient(ctx, patient)
	if err != nil {
		p.recordFailure("patient", failureReason(err))
		return "", err
	}

	if p.metrics != nil {
		p.metrics.UploadsTotal.WithLabelValues("patient").Inc()
		p.metrics.PatientsCreated.Inc()
	}
	p.logger.Info("registered synthetic patient", "patient_id", created.ID)
	return created.ID, nil
}

// RandomReading generates one session for a randomly chosen patient and
// uploads it.
func (p *Producer) RandomReading(ctx context.Context) (*backend.IngestResult, error) {
	var timer *prometheus.Timer
	if p.metrics != nil {
		timer = prometheus.NewTimer(p.metrics.UploadDuration.WithLabelValues("reading"))
		defer timer.ObserveDuration()
	}

	sp := p.patients[rand.IntN(len(p.patients))] // #nosec G404 - weak random is acceptable for simulation
	samples := sp.imu.Samples(int(p.session / gait.DefaultInterval))
	data := generator.Render(samples)
	fileName := fmt.Sprintf("walk-%s.csv", time.Now().UTC().Format("20060102T150405"))

	result, err := p.backend.UploadReading(ctx, sp.id, fileName, data)
	if err != nil {
		p.recordFailure("reading", failureReason(err))
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.UploadsTotal.WithLabelValues("reading").Inc()
		p.metrics.SamplesGenerated.Add(float64(len(samples)))
	}
	return result, nil
}

func (p *Producer) recordFailure(kind, reason string) {
	if p.metrics != nil {
		p.metrics.UploadFailures.WithLabelValues(kind, reason).Inc()
	}
}

func failureReason(err error) string {
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr) && statusErr.StatusCode >= 500:
		return "server_error"
	case errors.As(err, &statusErr):
		return "rejected"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport"
	}
}
