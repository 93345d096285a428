package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"procodus.dev/gait-monitor/pkg/metrics"
)

// Payload is the gorm model backing DBStore. Rows are never updated.
type Payload struct {
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	Path        string    `gorm:"primaryKey;size:512"`
	ContentType string    `gorm:"not null"`
	SHA256      string    `gorm:"column:sha256;size:64;not null"`
	Data        []byte    `gorm:"not null"`
	SizeBytes   int64     `gorm:"not null"`
}

// TableName specifies the table name for the Payload model.
func (Payload) TableName() string {
	return "reading_payloads"
}

// DBStoreConfig holds the configuration for DBStore.
type DBStoreConfig struct {
	DB            *gorm.DB
	Logger        *slog.Logger
	Metrics       *metrics.StorageMetrics // Optional
	PublicBaseURL string
}

// DBStore is a Store keeping payloads in a relational table next to the metadata.
type DBStore struct {
	db      *gorm.DB
	logger  *slog.Logger
	metrics *metrics.StorageMetrics
	baseURL string
}

// NewDBStore creates a DBStore.
func NewDBStore(cfg *DBStoreConfig) (*DBStore, error) {
	if cfg == nil {
		return nil, errors.New("object store config cannot be nil")
	}
	if cfg.DB == nil {
		return nil, errors.New("database cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.PublicBaseURL == "" {
		return nil, errors.New("public base URL cannot be empty")
	}
	if _, err := url.ParseRequestURI(cfg.PublicBaseURL); err != nil {
		return nil, fmt.Errorf("invalid public base URL: %w", err)
	}

	return &DBStore{
		db:      cfg.DB,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		baseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

// Upload implements Store.
func (s *DBStore) Upload(ctx context.Context, path string, data []byte, contentType string) (_ string, err error) {
	defer s.observe("upload", time.Now(), &err)

	if err := ValidatePath(path); err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = DefaultContentType
	}
	if data == nil {
		data = []byte{}
	}

	sum := sha256.Sum256(data)
	payload := &Payload{
		Path:        path,
		ContentType: contentType,
		SHA256:      hex.EncodeToString(sum[:]),
		Data:        data,
		SizeBytes:   int64(len(data)),
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(payload)
	if result.Error != nil {
		return "", fmt.Errorf("failed to write object %s: %w", path, result.Error)
	}
	if result.RowsAffected == 0 {
		return "", fmt.Errorf("%w: %s", ErrObjectExists, path)
	}

	if s.metrics != nil {
		s.metrics.BytesWritten.Add(float64(len(data)))
	}
	s.logger.Debug("object stored", "path", path, "size_bytes", len(data), "sha256", payload.SHA256)

	return path, nil
}

// PublicURL implements Store. The URL points at the backend's /objects route.
func (s *DBStore) PublicURL(ctx context.Context, path string) (_ string, err error) {
	defer s.observe("public_url", time.Now(), &err)

	if err := ValidatePath(path); err != nil {
		return "", err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&Payload{}).Where("path = ?", path).Count(&count).Error; err != nil {
		return "", fmt.Errorf("failed to resolve object %s: %w", path, err)
	}
	if count == 0 {
		return "", fmt.Errorf("%w: %s", ErrObjectNotFound, path)
	}

	return s.baseURL + "/objects/" + EscapePath(path), nil
}

// Remove implements Store.
func (s *DBStore) Remove(ctx context.Context, paths []string) (err error) {
	if len(paths) == 0 {
		return nil
	}
	defer s.observe("remove", time.Now(), &err)

	result := s.db.WithContext(ctx).Where("path IN ?", paths).Delete(&Payload{})
	if result.Error != nil {
		return fmt.Errorf("failed to remove %d objects: %w", len(paths), result.Error)
	}

	s.logger.Debug("objects removed", "requested", len(paths), "removed", result.RowsAffected)
	return nil
}

// Get implements Store.
func (s *DBStore) Get(ctx context.Context, path string) (_ *Object, err error) {
	defer s.observe("get", time.Now(), &err)

	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	var payload Payload
	if err := s.db.WithContext(ctx).Where("path = ?", path).First(&payload).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, path)
		}
		return nil, fmt.Errorf("failed to read object %s: %w", path, err)
	}

	return &Object{
		CreatedAt:   payload.CreatedAt,
		Path:        payload.Path,
		ContentType: payload.ContentType,
		SHA256:      payload.SHA256,
		Data:        payload.Data,
		Size:        payload.SizeBytes,
	}, nil
}

func (s *DBStore) observe(op string, start time.Time, err *error) {
	if s.metrics == nil {
		return
	}
	s.metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	status := metrics.Status(*err)
	if errors.Is(*err, ErrObjectNotFound) {
		status = "not_found"
	}
	s.metrics.OperationsTotal.WithLabelValues(op, status).Inc()
}

// EscapePath escapes each segment of an object path for use in a URL.
func EscapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

// Ensure DBStore implements Store.
var _ Store = (*DBStore)(nil)
