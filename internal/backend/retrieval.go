package backend

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"procodus.dev/gait-monitor/pkg/gait"
	"procodus.dev/gait-monitor/pkg/logger"
	"procodus.dev/gait-monitor/pkg/metrics"
	"procodus.dev/gait-monitor/pkg/objectstore"
)

// ReadingHandle locates the raw payload of a reading.
type ReadingHandle struct {
	Reading Reading `json:"reading"`
	Path    string  `json:"path"`
	URL     string  `json:"url"`
}

// ReadingAnalysis is a reading together with the views derived from its payload.
type ReadingAnalysis struct {
	*gait.Analysis
	Reading Reading `json:"reading"`
	URL     string  `json:"url"`
}

// AnalysisConfig holds the decoding and step detection settings applied to
// every analyzed payload.
type AnalysisConfig struct {
	StepDetection *gait.StepConfig // Optional, disabled when nil
	Policy        gait.MalformedLinePolicy
	Interval      time.Duration
}

// Options returns the gait.AnalysisOptions for a reading starting at start.
// A non-empty policy overrides the configured one.
func (c AnalysisConfig) Options(start time.Time, policy gait.MalformedLinePolicy) gait.AnalysisOptions {
	if policy == "" {
		policy = c.Policy
	}
	return gait.AnalysisOptions{
		Start:         start,
		StepDetection: c.StepDetection,
		Policy:        policy,
		Interval:      c.Interval,
	}
}

// RetrieverConfig holds the configuration for the Retriever.
type RetrieverConfig struct {
	Logger   *slog.Logger
	Metadata MetadataStore
	Objects  objectstore.Store
	Fetcher  objectstore.Fetcher      // Optional, payloads are read from Objects by path when nil
	Metrics  *metrics.AnalysisMetrics // Optional
	Analysis AnalysisConfig
}

// Retriever resolves readings to fetchable payload URLs and analyzes them.
type Retriever struct {
	logger   *slog.Logger
	metadata MetadataStore
	objects  objectstore.Store
	fetcher  objectstore.Fetcher
	metrics  *metrics.AnalysisMetrics
	analysis AnalysisConfig
}

// NewRetriever creates a Retriever.
func NewRetriever(cfg *RetrieverConfig) (*Retriever, error) {
	if cfg == nil {
		return nil, errors.New("retriever config cannot be nil")
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
	if cfg.Analysis.Interval < 0 {
		return nil, errors.New("analysis interval must be positive")
	}

	return &Retriever{
		logger:   cfg.Logger,
		metadata: cfg.Metadata,
		objects:  cfg.Objects,
		fetcher:  cfg.Fetcher,
		metrics:  cfg.Metrics,
		analysis: cfg.Analysis,
	}, nil
}

// Resolve looks up a reading and returns the URL its payload is served from.
// It does not read or decode the payload.
func (r *Retriever) Resolve(ctx context.Context, readingID string) (*ReadingHandle, error) {
	readingID = strings.TrimSpace(readingID)
	if readingID == "" {
		return nil, &ValidationError{Field: "readingId", Message: "is required"}
	}

	reading, err := r.metadata.GetReading(ctx, readingID)
	if err != nil {
		return nil, storageError(BackendMetadata, "get_reading", err)
	}

	url, err := r.objects.PublicURL(ctx, reading.FilePath)
	if err != nil {
		logger.WithReading(r.logger, reading.ID, reading.PatientID).Error("failed to resolve payload URL",
			"path", reading.FilePath,
			"error", err,
		)
		return nil, &StorageError{Backend: BackendObject, Op: "public_url", Err: err}
	}

	return &ReadingHandle{
		Reading: *reading,
		Path:    reading.FilePath,
		URL:     url,
	}, nil
}

// Payload resolves a reading and fetches its raw bytes.
func (r *Retriever) Payload(ctx context.Context, readingID string) (*ReadingHandle, []byte, error) {
	handle, err := r.Resolve(ctx, readingID)
	if err != nil {
		return nil, nil, err
	}

	if r.fetcher != nil {
		data, err := r.fetcher.Fetch(ctx, handle.URL)
		if err != nil {
			return nil, nil, &StorageError{Backend: BackendObject, Op: "fetch", Err: err}
		}
		return handle, data, nil
	}

	obj, err := r.objects.Get(ctx, handle.Path)
	if err != nil {
		return nil, nil, &StorageError{Backend: BackendObject, Op: "get", Err: err}
	}
	return handle, obj.Data, nil
}

// Analyze resolves a reading, fetches its payload and derives the summary,
// chart series and table. The reading's creation time is the logical start
// of the series. An empty policy uses the configured one.
func (r *Retriever) Analyze(ctx context.Context, readingID string, policy gait.MalformedLinePolicy) (*ReadingAnalysis, error) {
	handle, data, err := r.Payload(ctx, readingID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	analysis, err := gait.Analyze(data, r.analysis.Options(handle.Reading.CreatedAt, policy))
	r.metrics.Observe("backend", analysis, err, time.Since(start))
	if err != nil {
		logger.WithReading(r.logger, handle.Reading.ID, handle.Reading.PatientID).Warn("failed to analyze reading",
			"path", handle.Path,
			"error", err,
		)
		return nil, err
	}

	return &ReadingAnalysis{
		Analysis: analysis,
		Reading:  handle.Reading,
		URL:      handle.URL,
	}, nil
}
