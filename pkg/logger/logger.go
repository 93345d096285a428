// Package logger builds the JSON slog loggers shared by every gait-monitor service.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config holds the configuration for the logger.
type Config struct {
	// Output is the writer to send logs to (defaults to os.Stdout).
	Output io.Writer
	// Service, when set, is attached to every record as "service".
	Service string
	// Level is the minimum log level to output.
	Level slog.Level
	// AddSource adds source code position to log records.
	AddSource bool
}

// DefaultConfig returns an Info-level stdout configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  slog.LevelInfo,
		Output: os.Stdout,
	}
}

// New creates a JSON logger from cfg. A nil cfg uses DefaultConfig.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	l := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}))
	if cfg.Service != "" {
		l = l.With("service", cfg.Service)
	}
	return l
}

// NewDefault creates a JSON logger with default configuration.
func NewDefault() *slog.Logger {
	return New(DefaultConfig())
}

// NewWithLevel creates a JSON logger for a service at the given level.
func NewWithLevel(level slog.Level, service string) *slog.Logger {
	cfg := DefaultConfig()
	cfg.Level = level
	cfg.Service = service
	return New(cfg)
}

// ParseLevel converts "debug", "info", "warn"/"warning" or "error" (any case)
// to a slog.Level. Anything else is Info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithContext returns a logger that adds attrs to every record.
func WithContext(logger *slog.Logger, attrs ...slog.Attr) *slog.Logger {
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	return logger.With(args...)
}

// WithReading scopes a logger to one reading. Empty ids are omitted.
func WithReading(logger *slog.Logger, readingID, patientID string) *slog.Logger {
	attrs := make([]slog.Attr, 0, 2)
	if readingID != "" {
		attrs = append(attrs, slog.String("reading_id", readingID))
	}
	if patientID != "" {
		attrs = append(attrs, slog.String("patient_id", patientID))
	}
	return WithContext(logger, attrs...)
}
