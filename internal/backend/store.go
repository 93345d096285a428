package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"procodus.dev/gait-monitor/pkg/metrics"
)

// MetadataStore persists patients and reading metadata rows.
//
// Implementations return *NotFoundError for missing patients and readings.
// Every other error is a storage failure.
type MetadataStore interface {
	CreatePatient(ctx context.Context, patient *Patient) error
	GetPatient(ctx context.Context, id string) (*Patient, error)
	ListPatients(ctx context.Context) ([]Patient, error)
	// DeletePatient removes the patient and all of its readings and returns
	// the payload paths those readings referenced.
	DeletePatient(ctx context.Context, id string) ([]string, error)

	GetReading(ctx context.Context, id string) (*Reading, error)
	ListReadings(ctx context.Context, patientID string) ([]Reading, error)
	// RecordReading inserts the reading row and increments the owning
	// patient's readings_count in one transaction.
	RecordReading(ctx context.Context, reading *Reading) error
	// DeleteReading removes the reading row, decrements the owner's
	// readings_count and returns the deleted row.
	DeleteReading(ctx context.Context, id string) (*Reading, error)
	// ReadingExistsForPath reports whether any reading row references path.
	ReadingExistsForPath(ctx context.Context, path string) (bool, error)
}

// GormMetadataStoreConfig holds the configuration for GormMetadataStore.
type GormMetadataStoreConfig struct {
	DB      *gorm.DB
	Logger  *slog.Logger
	Metrics *metrics.BackendMetrics // Optional
}

// GormMetadataStore is the PostgreSQL MetadataStore.
type GormMetadataStore struct {
	db      *gorm.DB
	logger  *slog.Logger
	metrics *metrics.BackendMetrics
}

// NewGormMetadataStore creates a GormMetadataStore.
func NewGormMetadataStore(cfg *GormMetadataStoreConfig) (*GormMetadataStore, error) {
	if cfg == nil {
		return nil, errors.New("metadata store config cannot be nil")
	}
	if cfg.DB == nil {
		return nil, errors.New("database cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &GormMetadataStore{
		db:      cfg.DB,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}, nil
}

// CreatePatient implements MetadataStore.
func (s *GormMetadataStore) CreatePatient(ctx context.Context, patient *Patient) (err error) {
	defer s.observe("insert", "patients", time.Now(), &err)

	if err := s.db.WithContext(ctx).Create(patient).Error; err != nil {
		return fmt.Errorf("failed to create patient: %w", err)
	}
	return nil
}

// GetPatient implements MetadataStore.
func (s *GormMetadataStore) GetPatient(ctx context.Context, id string) (_ *Patient, err error) {
	defer s.observe("select", "patients", time.Now(), &err)

	var patient Patient
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&patient).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "patient", ID: id}
		}
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return &patient, nil
}

// ListPatients implements MetadataStore. Newest patients come first.
func (s *GormMetadataStore) ListPatients(ctx context.Context) (_ []Patient, err error) {
	defer s.observe("select", "patients", time.Now(), &err)

	patients := make([]Patient, 0)
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&patients).Error; err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	return patients, nil
}

// DeletePatient implements MetadataStore. The patient row is locked first so
// that concurrent uploads either commit before the readings are collected or
// fail their foreign key check afterwards.
func (s *GormMetadataStore) DeletePatient(ctx context.Context, id string) (_ []string, err error) {
	defer s.observe("delete", "patients", time.Now(), &err)

	var paths []string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var patient Patient
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).First(&patient).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Resource: "patient", ID: id}
			}
			return fmt.Errorf("failed to lock patient: %w", err)
		}

		var removed []Reading
		if err := tx.Clauses(clause.Returning{Columns: []clause.Column{{Name: "file_path"}}}).
			Where("patient_id = ?", id).Delete(&removed).Error; err != nil {
			return fmt.Errorf("failed to delete readings: %w", err)
		}

		if err := tx.Delete(&patient).Error; err != nil {
			return fmt.Errorf("failed to delete patient: %w", err)
		}

		paths = make([]string, 0, len(removed))
		for _, r := range removed {
			paths = append(paths, r.FilePath)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// GetReading implements MetadataStore.
func (s *GormMetadataStore) GetReading(ctx context.Context, id string) (_ *Reading, err error) {
	defer s.observe("select", "readings", time.Now(), &err)

	var reading Reading
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&reading).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "reading", ID: id}
		}
		return nil, fmt.Errorf("failed to get reading: %w", err)
	}
	return &reading, nil
}

// ListReadings implements MetadataStore. Newest readings come first.
func (s *GormMetadataStore) ListReadings(ctx context.Context, patientID string) (_ []Reading, err error) {
	defer s.observe("select", "readings", time.Now(), &err)

	readings := make([]Reading, 0)
	if err := s.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("created_at DESC").
		Find(&readings).Error; err != nil {
		return nil, fmt.Errorf("failed to list readings: %w", err)
	}
	return readings, nil
}

// RecordReading implements MetadataStore.
func (s *GormMetadataStore) RecordReading(ctx context.Context, reading *Reading) (err error) {
	defer s.observe("insert", "readings", time.Now(), &err)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(reading).Error; err != nil {
			if errors.Is(err, gorm.ErrForeignKeyViolated) {
				return &NotFoundError{Resource: "patient", ID: reading.PatientID}
			}
			return fmt.Errorf("failed to insert reading: %w", err)
		}
		return adjustReadingsCount(tx, reading.PatientID, 1)
	})
}

// DeleteReading implements MetadataStore.
func (s *GormMetadataStore) DeleteReading(ctx context.Context, id string) (_ *Reading, err error) {
	defer s.observe("delete", "readings", time.Now(), &err)

	var deleted Reading
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.Returning{}).Where("id = ?", id).Delete(&deleted)
		if res.Error != nil {
			return fmt.Errorf("failed to delete reading: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return &NotFoundError{Resource: "reading", ID: id}
		}
		return adjustReadingsCount(tx, deleted.PatientID, -1)
	})
	if err != nil {
		return nil, err
	}
	return &deleted, nil
}

// ReadingExistsForPath implements MetadataStore.
func (s *GormMetadataStore) ReadingExistsForPath(ctx context.Context, path string) (_ bool, err error) {
	defer s.observe("select", "readings", time.Now(), &err)

	var count int64
	if err := s.db.WithContext(ctx).Model(&Reading{}).Where("file_path = ?", path).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to count readings for path: %w", err)
	}
	return count > 0, nil
}

// adjustReadingsCount applies delta to readings_count in a single UPDATE so
// concurrent transactions never lose an increment.
func adjustReadingsCount(tx *gorm.DB, patientID string, delta int) error {
	expr := gorm.Expr("readings_count + ?", delta)
	if delta < 0 {
		expr = gorm.Expr("GREATEST(readings_count - ?, 0)", -delta)
	}

	res := tx.Model(&Patient{}).Where("id = ?", patientID).UpdateColumn("readings_count", expr)
	if res.Error != nil {
		return fmt.Errorf("failed to update readings count: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &NotFoundError{Resource: "patient", ID: patientID}
	}
	return nil
}

func (s *GormMetadataStore) observe(operation, table string, start time.Time, err *error) {
	if s.metrics == nil {
		return
	}

	status := "success"
	if *err != nil && !IsNotFound(*err) {
		status = "error"
	}
	s.metrics.DBOperationsTotal.WithLabelValues(operation, table, status).Inc()
	s.metrics.DBOperationDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())

	if sqlDB, dbErr := s.db.DB(); dbErr == nil {
		s.metrics.DBConnectionsActive.Set(float64(sqlDB.Stats().InUse))
	}
}

// Ensure GormMetadataStore implements MetadataStore.
var _ MetadataStore = (*GormMetadataStore)(nil)
