package producer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"procodus.dev/gait-monitor/internal/backend"
	"procodus.dev/gait-monitor/pkg/generator"
)

// DefaultRequestTimeout bounds a single backend request.
const DefaultRequestTimeout = 30 * time.Second

// envelope mirrors backend.APIResponse with a typed payload.
type envelope[T any] struct {
	Data    T      `json:"data"`
	Error   string `json:"error"`
	Success bool   `json:"success"`
}

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Message    string
	StatusCode int
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Message)
}

// UploaderConfig holds the configuration for Uploader.
type UploaderConfig struct {
	Logger     *slog.Logger
	BackendURL string
	Timeout    time.Duration
}

// Uploader talks to the backend HTTP API. Uploads are not idempotent, so it
// never retries.
type Uploader struct {
	client *resty.Client
	logger *slog.Logger
}

// NewUploader creates an Uploader.
func NewUploader(cfg *UploaderConfig) (*Uploader, error) {
	if cfg == nil {
		return nil, errors.New("uploader config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.BackendURL == "" {
		return nil, errors.New("backend URL cannot be empty")
	}
	if cfg.Timeout < 0 {
		return nil, errors.New("timeout must be positive")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BackendURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Uploader{client: client, logger: cfg.Logger}, nil
}

// CreatePatient registers a synthetic patient and returns the stored record.
func (u *Uploader) CreatePatient(ctx context.Context, p *generator.Patient) (*backend.Patient, error) {
	if p == nil {
		return nil, errors.New("patient cannot be nil")
	}

	var result envelope[backend.Patient]
	var failure envelope[any]
	resp, err := u.client.R().
		SetContext(ctx).
		SetBody(backend.CreatePatientRequest{
			Name:  p.Name,
			Email: p.Email,
			Phone: p.Phone,
			Age:   p.Age,
		}).
		SetResult(&result).
		SetError(&failure).
		Post("/api/patients")
	if err != nil {
		return nil, fmt.Errorf("failed to create patient: %w", err)
	}
	if resp.IsError() {
		return nil, &StatusError{StatusCode: resp.StatusCode(), Message: failure.Error}
	}
	if result.Data.ID == "" {
		return nil, errors.New("failed to create patient: response carries no id")
	}

	u.logger.Debug("patient created", "patient_id", result.Data.ID, "duration", resp.Time())
	return &result.Data, nil
}

// UploadReading sends a raw reading as a multipart upload for patientID.
func (u *Uploader) UploadReading(ctx context.Context, patientID, fileName string, data []byte) (*backend.IngestResult, error) {
	var result envelope[backend.IngestResult]
	var failure envelope[any]
	resp, err := u.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{"patientId": patientID}).
		SetMultipartField("file", fileName, "text/csv", bytes.NewReader(data)).
		SetResult(&result).
		SetError(&failure).
		Post("/api/readings")
	if err != nil {
		return nil, fmt.Errorf("failed to upload reading: %w", err)
	}
	if resp.IsError() {
		return nil, &StatusError{StatusCode: resp.StatusCode(), Message: failure.Error}
	}
	if resp.StatusCode() != http.StatusCreated || result.Data.ReadingID == "" {
		return nil, fmt.Errorf("failed to upload reading: unexpected response status %d", resp.StatusCode())
	}

	u.logger.Debug("reading uploaded",
		"patient_id", patientID,
		"reading_id", result.Data.ReadingID,
		"size_bytes", len(data),
		"duration", resp.Time(),
	)
	return &result.Data, nil
}
