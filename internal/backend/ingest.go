package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"procodus.dev/gait-monitor/pkg/logger"
	"procodus.dev/gait-monitor/pkg/metrics"
	"procodus.dev/gait-monitor/pkg/objectstore"
)

const (
	// DefaultMaxUploadBytes bounds raw payloads when no limit is configured.
	DefaultMaxUploadBytes int64 = 32 << 20
	defaultExtension            = ".csv"
	compensationTimeout         = 10 * time.Second
)

var (
	safeExtension = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)
	unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9_-]`)
)

// UploadRequest is one raw payload submitted for a patient.
type UploadRequest struct {
	PatientID   string
	FileName    string
	ContentType string
	Data        []byte
	HasFile     bool
}

// IngestResult identifies a stored reading.
type IngestResult struct {
	ReadingID string `json:"readingId"`
	PatientID string `json:"patientId"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"sizeBytes"`
}

// IngestorConfig holds the configuration for the Ingestor.
type IngestorConfig struct {
	Logger         *slog.Logger
	Metadata       MetadataStore
	Objects        objectstore.Store
	Orphans        OrphanReporter          // Optional, defaults to LogOrphanReporter
	Metrics        *metrics.BackendMetrics // Optional
	MaxUploadBytes int64
}

// Ingestor stores uploaded payloads and records their metadata.
type Ingestor struct {
	logger         *slog.Logger
	metadata       MetadataStore
	objects        objectstore.Store
	orphans        OrphanReporter
	metrics        *metrics.BackendMetrics
	maxUploadBytes int64
}

// NewIngestor creates an Ingestor.
func NewIngestor(cfg *IngestorConfig) (*Ingestor, error) {
	if cfg == nil {
		return nil, errors.New("ingestor config cannot be nil")
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
	if cfg.MaxUploadBytes < 0 {
		return nil, errors.New("max upload bytes must not be negative")
	}

	maxBytes := cfg.MaxUploadBytes
	if maxBytes == 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	orphans := cfg.Orphans
	if orphans == nil {
		orphans = &LogOrphanReporter{Logger: cfg.Logger}
	}

	return &Ingestor{
		logger:         cfg.Logger,
		metadata:       cfg.Metadata,
		objects:        cfg.Objects,
		orphans:        orphans,
		metrics:        cfg.Metrics,
		maxUploadBytes: maxBytes,
	}, nil
}

// MaxUploadBytes returns the configured payload size limit.
func (in *Ingestor) MaxUploadBytes() int64 {
	return in.maxUploadBytes
}

// Ingest validates the request, writes the payload and records the reading.
// The payload is written before the metadata row; a row is never committed
// without its payload. When the row cannot be written the payload is removed
// again, or reported as an orphan if that fails too.
func (in *Ingestor) Ingest(ctx context.Context, req UploadRequest) (result *IngestResult, err error) {
	defer func() { in.observe(err, len(req.Data)) }()

	if !req.HasFile {
		return nil, &ValidationError{Field: "file", Message: "no file uploaded"}
	}
	patientID := strings.TrimSpace(req.PatientID)
	if patientID == "" {
		return nil, &ValidationError{Field: "patientId", Message: "is required"}
	}
	if int64(len(req.Data)) > in.maxUploadBytes {
		return nil, &ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("payload of %d bytes exceeds limit of %d bytes", len(req.Data), in.maxUploadBytes),
		}
	}

	if _, err := in.metadata.GetPatient(ctx, patientID); err != nil {
		return nil, storageError(BackendMetadata, "get_patient", err)
	}

	readingID := uuid.NewString()
	log := logger.WithReading(in.logger, readingID, patientID)

	contentType := req.ContentType
	if contentType == "" {
		contentType = objectstore.DefaultContentType
	}
	objectPath := ReadingPath(patientID, readingID, req.FileName)
	if _, err := in.objects.Upload(ctx, objectPath, req.Data, contentType); err != nil {
		log.Error("failed to store payload", "path", objectPath, "error", err)
		return nil, storageError(BackendObject, "upload", err)
	}

	reading := &Reading{
		ID:           readingID,
		PatientID:    patientID,
		FilePath:     objectPath,
		OriginalName: baseName(req.FileName),
		ContentType:  contentType,
		SizeBytes:    int64(len(req.Data)),
	}
	if err := in.metadata.RecordReading(ctx, reading); err != nil {
		log.Error("failed to record reading", "path", objectPath, "error", err)
		in.compensate(ctx, reading, err)
		return nil, storageError(BackendMetadata, "record_reading", err)
	}

	log.Info("reading stored", "path", objectPath, "size_bytes", reading.SizeBytes)

	return &IngestResult{
		ReadingID: readingID,
		PatientID: patientID,
		Path:      objectPath,
		SizeBytes: reading.SizeBytes,
	}, nil
}

// compensate removes a payload whose metadata row was not committed. It runs
// detached from ctx so that a cancelled request still cleans up.
func (in *Ingestor) compensate(ctx context.Context, reading *Reading, cause error) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	err := in.objects.Remove(cleanupCtx, []string{reading.FilePath})
	if err == nil {
		in.logger.Warn("removed payload of unrecorded reading",
			"reading_id", reading.ID,
			"path", reading.FilePath,
		)
		return
	}

	if in.metrics != nil {
		in.metrics.OrphanedPayloads.WithLabelValues(string(ReasonMetadataWriteFailed)).Inc()
	}
	notice := OrphanNotice{
		DetectedAt: time.Now().UTC(),
		Path:       reading.FilePath,
		ReadingID:  reading.ID,
		PatientID:  reading.PatientID,
		Reason:     ReasonMetadataWriteFailed,
		Detail:     fmt.Sprintf("record reading: %v; remove payload: %v", cause, err),
	}
	if reportErr := in.orphans.ReportOrphan(cleanupCtx, notice); reportErr != nil {
		in.logger.Error("failed to report orphaned payload",
			"path", reading.FilePath,
			"error", reportErr,
		)
	}
}

func (in *Ingestor) observe(err error, size int) {
	if in.metrics == nil {
		return
	}
	in.metrics.IngestionsTotal.WithLabelValues(ingestOutcome(err)).Inc()
	if err == nil {
		in.metrics.UploadBytes.Observe(float64(size))
	}
}

func ingestOutcome(err error) string {
	var storageErr *StorageError
	switch {
	case err == nil:
		return "success"
	case IsValidation(err):
		return "validation"
	case IsNotFound(err):
		return "not_found"
	case errors.As(err, &storageErr) && storageErr.Backend == BackendObject:
		return "object_store"
	default:
		return "metadata"
	}
}

// ReadingPath builds the object path for a reading. Only the extension of
// fileName is used, lower-cased, and replaced by .csv when missing or unsafe.
func ReadingPath(patientID, readingID, fileName string) string {
	ext := strings.ToLower(path.Ext(baseName(fileName)))
	if !safeExtension.MatchString(ext) {
		ext = defaultExtension
	}
	return unsafeSegment.ReplaceAllString(patientID, "_") + "/" + readingID + ext
}

// baseName returns the last element of a client-supplied file name, treating
// backslashes as separators.
func baseName(fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, `\`, "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}
