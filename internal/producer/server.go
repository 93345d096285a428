package producer

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"procodus.dev/gait-monitor/pkg/metrics"
)

// DefaultSessionDuration is the length of one generated walking session.
const DefaultSessionDuration = 60 * time.Second

// ServerConfig holds the configuration for the producer server.
type ServerConfig struct {
	// Logger is the structured logger
	Logger *slog.Logger
	// Backend overrides the HTTP uploader built from BackendURL
	Backend Backend
	// BackendURL is the base URL of the backend HTTP API
	BackendURL string
	// Interval is the time between uploads of one producer
	Interval time.Duration
	// SessionDuration is the length of each generated reading
	SessionDuration time.Duration
	// RequestTimeout bounds a single backend request
	RequestTimeout time.Duration
	// ProducerCount is the number of concurrent producers
	ProducerCount int
	// PatientsPerProducer is the number of patients each producer registers
	PatientsPerProducer int
	// Metrics is the optional Prometheus metrics collector
	Metrics *metrics.ProducerMetrics
}

// Server manages multiple producer instances.
type Server struct {
	logger  *slog.Logger
	config  *ServerConfig
	backend Backend
	wg      sync.WaitGroup
	metrics *metrics.ProducerMetrics

	mu       sync.Mutex
	cancel   context.CancelFunc
	uploaded int
}

var (
	errInvalidProducerCount = errors.New("producer count must be greater than 0")
	errInvalidInterval      = errors.New("interval must be greater than 0")
	errLoggerRequired       = errors.New("logger is required")
)

// NewServer creates a new producer server with the given configuration.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.ProducerCount <= 0 {
		return nil, errInvalidProducerCount
	}

	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}

	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}

	if cfg.SessionDuration < 0 || cfg.PatientsPerProducer < 0 {
		return nil, errors.New("session duration and patients per producer cannot be negative")
	}

	b := cfg.Backend
	if b == nil {
		uploader, err := NewUploader(&UploaderConfig{
			Logger:     cfg.Logger.With(slog.String("component", "uploader")),
			BackendURL: cfg.BackendURL,
			Timeout:    cfg.RequestTimeout,
		})
		if err != nil {
			return nil, err
		}
		b = uploader
	}

	return &Server{
		config:  cfg,
		backend: b,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}, nil
}

// Uploaded returns the number of readings uploaded since the server started.
func (s *Server) Uploaded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploaded
}

// Run starts all producers and blocks until shutdown signal is received.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	for i := range s.config.ProducerCount {
		s.wg.Add(1)
		go s.runProducer(ctx, i)
	}

	s.logger.Info("producer server started",
		"producer_count", s.config.ProducerCount,
		"interval", s.config.Interval,
		"backend_url", s.config.BackendURL,
	)

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down")
	}

	s.logger.Info("waiting for producers to shut down...")
	s.wg.Wait()

	s.logger.Info("producer server stopped", "uploaded", s.Uploaded())
	return nil
}

// runProducer registers the producer's patients, retrying on every tick until
// the backend accepts them, then uploads one reading per tick.
func (s *Server) runProducer(ctx context.Context, id int) {
	defer s.wg.Done()

	if s.metrics != nil {
		s.metrics.ActiveProducers.Inc()
		defer s.metrics.ActiveProducers.Dec()
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	producerLogger := s.logger.With(slog.Int("producer_id", id))
	producerLogger.Info("producer started")

	var producer *Producer
	for {
		if producer == nil {
			p, err := s.newProducer(ctx, producerLogger)
			if err != nil {
				producerLogger.Warn("backend not ready, retrying", "error", err)
			} else {
				producer = p
				producerLogger.Info("producer ready", "patient_ids", p.PatientIDs())
			}
		}

		select {
		case <-ctx.Done():
			producerLogger.Info("producer shutting down")
			return

		case <-ticker.C:
			if producer == nil {
				continue
			}
			result, err := producer.RandomReading(ctx)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				producerLogger.Error("failed to upload reading", "error", err)
				continue
			}

			s.mu.Lock()
			s.uploaded++
			s.mu.Unlock()

			producerLogger.Debug("reading uploaded",
				"reading_id", result.ReadingID,
				"patient_id", result.PatientID,
				"size_bytes", result.SizeBytes,
			)
		}
	}
}

func (s *Server) newProducer(ctx context.Context, logger *slog.Logger) (*Producer, error) {
	patients := s.config.PatientsPerProducer
	if patients == 0 {
		patients = 3
	}
	session := s.config.SessionDuration
	if session == 0 {
		session = DefaultSessionDuration
	}
	return NewProducer(ctx, s.backend, logger, patients, session, s.metrics)
}

// Shutdown stops a running server. It is an alternative to sending OS signals.
func (s *Server) Shutdown() error {
	s.logger.Info("shutdown requested")

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}
