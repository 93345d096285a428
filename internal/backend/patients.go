package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"procodus.dev/gait-monitor/pkg/logger"
	"procodus.dev/gait-monitor/pkg/metrics"
	"procodus.dev/gait-monitor/pkg/objectstore"
)

const maxPatientAge = 150

// CreatePatientRequest holds the fields of a new patient.
type CreatePatientRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Age   int    `json:"age"`
}

// Validate checks the request fields.
func (r CreatePatientRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	if r.Age < 0 || r.Age > maxPatientAge {
		return &ValidationError{Field: "age", Message: fmt.Sprintf("must be between 0 and %d", maxPatientAge)}
	}
	if r.Email != "" {
		if _, err := mail.ParseAddress(r.Email); err != nil {
			return &ValidationError{Field: "email", Message: "is not a valid address"}
		}
	}
	return nil
}

// PatientServiceConfig holds the configuration for the PatientService.
type PatientServiceConfig struct {
	Logger   *slog.Logger
	Metadata MetadataStore
	Objects  objectstore.Store
	Orphans  OrphanReporter          // Optional, defaults to LogOrphanReporter
	Metrics  *metrics.BackendMetrics // Optional
}

// PatientService manages patients and deletes readings together with their
// payloads.
type PatientService struct {
	logger   *slog.Logger
	metadata MetadataStore
	objects  objectstore.Store
	orphans  OrphanReporter
	metrics  *metrics.BackendMetrics
}

// NewPatientService creates a PatientService.
func NewPatientService(cfg *PatientServiceConfig) (*PatientService, error) {
	if cfg == nil {
		return nil, errors.New("patient service config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Metadata == nil {
		return nil, errors.New("metadata store cannot be nil")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store cannot be nil")
	}

	orphans := cfg.Orphans
	if orphans == nil {
		orphans = &LogOrphanReporter{Logger: cfg.Logger}
	}

	return &PatientService{
		logger:   cfg.Logger,
		metadata: cfg.Metadata,
		objects:  cfg.Objects,
		orphans:  orphans,
		metrics:  cfg.Metrics,
	}, nil
}

// Create validates req and stores a new patient with no readings.
func (s *PatientService) Create(ctx context.Context, req CreatePatientRequest) (*Patient, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	patient := &Patient{
		ID:    uuid.NewString(),
		Name:  strings.TrimSpace(req.Name),
		Email: strings.TrimSpace(req.Email),
		Phone: strings.TrimSpace(req.Phone),
		Age:   req.Age,
	}
	if err := s.metadata.CreatePatient(ctx, patient); err != nil {
		return nil, storageError(BackendMetadata, "create_patient", err)
	}

	s.logger.Info("patient created", "patient_id", patient.ID)
	return patient, nil
}

// Get returns a patient with its readings, newest first.
func (s *PatientService) Get(ctx context.Context, id string) (*Patient, error) {
	if strings.TrimSpace(id) == "" {
		return nil, &ValidationError{Field: "patientId", Message: "is required"}
	}

	patient, err := s.metadata.GetPatient(ctx, id)
	if err != nil {
		return nil, storageError(BackendMetadata, "get_patient", err)
	}
	readings, err := s.metadata.ListReadings(ctx, id)
	if err != nil {
		return nil, storageError(BackendMetadata, "list_readings", err)
	}
	patient.Readings = readings
	return patient, nil
}

// List returns all patients, newest first.
func (s *PatientService) List(ctx context.Context) ([]Patient, error) {
	patients, err := s.metadata.ListPatients(ctx)
	if err != nil {
		return nil, storageError(BackendMetadata, "list_patients", err)
	}
	return patients, nil
}

// Delete removes a patient and its readings, then their payloads in one call.
// Payloads that cannot be removed are reported as orphans; the patient stays
// deleted.
func (s *PatientService) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return &ValidationError{Field: "patientId", Message: "is required"}
	}

	paths, err := s.metadata.DeletePatient(ctx, id)
	if err != nil {
		return storageError(BackendMetadata, "delete_patient", err)
	}

	s.logger.Info("patient deleted", "patient_id", id, "readings", len(paths))

	if len(paths) > 0 {
		s.removePayloads(ctx, id, "", paths)
	}
	return nil
}

// DeleteReading removes a reading row, decrements the owner's counter and
// then removes the payload.
func (s *PatientService) DeleteReading(ctx context.Context, readingID string) (*Reading, error) {
	if strings.TrimSpace(readingID) == "" {
		return nil, &ValidationError{Field: "readingId", Message: "is required"}
	}

	reading, err := s.metadata.DeleteReading(ctx, readingID)
	if err != nil {
		return nil, storageError(BackendMetadata, "delete_reading", err)
	}

	logger.WithReading(s.logger, reading.ID, reading.PatientID).Info("reading deleted", "path", reading.FilePath)

	s.removePayloads(ctx, reading.PatientID, reading.ID, []string{reading.FilePath})
	return reading, nil
}

func (s *PatientService) removePayloads(ctx context.Context, patientID, readingID string, paths []string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	err := s.objects.Remove(cleanupCtx, paths)
	if err == nil {
		return
	}

	for _, p := range paths {
		if s.metrics != nil {
			s.metrics.OrphanedPayloads.WithLabelValues(string(ReasonRemoveFailed)).Inc()
		}
		notice := OrphanNotice{
			DetectedAt: time.Now().UTC(),
			Path:       p,
			ReadingID:  readingID,
			PatientID:  patientID,
			Reason:     ReasonRemoveFailed,
			Detail:     err.Error(),
		}
		if reportErr := s.orphans.ReportOrphan(cleanupCtx, notice); reportErr != nil {
			s.logger.Error("failed to report orphaned payload", "path", p, "error", reportErr)
		}
	}
}
