package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"

	"procodus.dev/gait-monitor/pkg/gaitrpc"
	"procodus.dev/gait-monitor/pkg/metrics"
	"procodus.dev/gait-monitor/pkg/mq"
	"procodus.dev/gait-monitor/pkg/objectstore"
)

// ServicesConfig holds the settings for wiring the backend components over
// one database.
type ServicesConfig struct {
	Logger          *slog.Logger
	DB              *gorm.DB
	Orphans         OrphanReporter           // Optional, defaults to LogOrphanReporter
	Fetcher         objectstore.Fetcher      // Optional, payloads are read in-process when nil
	Metrics         *metrics.BackendMetrics  // Optional
	StorageMetrics  *metrics.StorageMetrics  // Optional
	AnalysisMetrics *metrics.AnalysisMetrics // Optional
	PublicBaseURL   string
	Analysis        AnalysisConfig
	MaxUploadBytes  int64
	RequestTimeout  time.Duration
}

// Services bundles the wired backend components.
type Services struct {
	Metadata  *GormMetadataStore
	Objects   *objectstore.DBStore
	Ingestor  *Ingestor
	Retriever *Retriever
	Patients  *PatientService
	API       *API
	Readings  *ReadingServiceImpl
}

// NewServices wires the metadata store, object store, orchestrators and
// transports over cfg.DB.
func NewServices(cfg *ServicesConfig) (*Services, error) {
	if cfg == nil {
		return nil, errors.New("services config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	metadata, err := NewGormMetadataStore(&GormMetadataStoreConfig{
		DB:      cfg.DB,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata store: %w", err)
	}

	objects, err := objectstore.NewDBStore(&objectstore.DBStoreConfig{
		DB:            cfg.DB,
		Logger:        cfg.Logger.With("component", "objectstore"),
		Metrics:       cfg.StorageMetrics,
		PublicBaseURL: cfg.PublicBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store: %w", err)
	}

	orphans := cfg.Orphans
	if orphans == nil {
		orphans = &LogOrphanReporter{Logger: cfg.Logger}
	}

	ingestor, err := NewIngestor(&IngestorConfig{
		Logger:         cfg.Logger,
		Metadata:       metadata,
		Objects:        objects,
		Orphans:        orphans,
		Metrics:        cfg.Metrics,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ingestor: %w", err)
	}

	retriever, err := NewRetriever(&RetrieverConfig{
		Logger:   cfg.Logger,
		Metadata: metadata,
		Objects:  objects,
		Fetcher:  cfg.Fetcher,
		Metrics:  cfg.AnalysisMetrics,
		Analysis: cfg.Analysis,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create retriever: %w", err)
	}

	patients, err := NewPatientService(&PatientServiceConfig{
		Logger:   cfg.Logger,
		Metadata: metadata,
		Objects:  objects,
		Orphans:  orphans,
		Metrics:  cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create patient service: %w", err)
	}

	api, err := NewAPI(&APIConfig{
		Logger:         cfg.Logger,
		Ingestor:       ingestor,
		Retriever:      retriever,
		Patients:       patients,
		Objects:        objects,
		Metrics:        cfg.Metrics,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create API: %w", err)
	}

	readings, err := NewReadingService(cfg.Logger, retriever, patients, cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC service: %w", err)
	}

	return &Services{
		Metadata:  metadata,
		Objects:   objects,
		Ingestor:  ingestor,
		Retriever: retriever,
		Patients:  patients,
		API:       api,
		Readings:  readings,
	}, nil
}

// NewGRPCServer creates a gRPC server exposing the reading service and the
// standard health service.
func NewGRPCServer(readings gaitrpc.ReadingServiceServer) (*grpc.Server, *health.Server) {
	grpcServer := grpc.NewServer()
	gaitrpc.RegisterReadingServiceServer(grpcServer, readings)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(gaitrpc.ServiceName, healthpb.HealthCheckResponse_SERVING)

	return grpcServer, healthServer
}

// Server runs the backend HTTP API and gRPC service.
type Server struct {
	logger       *slog.Logger
	db           *gorm.DB
	orphanClient *mq.Client
	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	config       *ServerConfig
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// Optional metrics
	Metrics         *metrics.BackendMetrics
	StorageMetrics  *metrics.StorageMetrics
	AnalysisMetrics *metrics.AnalysisMetrics
	MQMetrics       *metrics.MQMetrics

	// Database configuration
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// RabbitMQ configuration. Orphan notices are only logged when RabbitMQURL is empty.
	RabbitMQURL string
	OrphanQueue string

	// PublicBaseURL prefixes the payload URLs handed to clients.
	PublicBaseURL string

	Analysis       AnalysisConfig
	MaxUploadBytes int64
	RequestTimeout time.Duration

	HTTPPort int
	GRPCPort int
	DBPort   int
}

// NewServer creates a new Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.DBHost == "" {
		return nil, errors.New("database host cannot be empty")
	}

	if cfg.DBPort <= 0 {
		return nil, errors.New("database port must be positive")
	}

	if cfg.DBUser == "" {
		return nil, errors.New("database user cannot be empty")
	}

	if cfg.DBName == "" {
		return nil, errors.New("database name cannot be empty")
	}

	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	if cfg.GRPCPort <= 0 {
		return nil, errors.New("gRPC port must be positive")
	}

	if cfg.PublicBaseURL == "" {
		return nil, errors.New("public base URL cannot be empty")
	}

	if cfg.MaxUploadBytes < 0 {
		return nil, errors.New("max upload bytes must not be negative")
	}

	if cfg.Analysis.Interval < 0 {
		return nil, errors.New("analysis interval must be positive")
	}

	return &Server{
		logger: cfg.Logger,
		config: cfg,
	}, nil
}

// Run starts the backend server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting backend server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	db, err := NewDB(&DBConfig{
		Host:     s.config.DBHost,
		Port:     s.config.DBPort,
		User:     s.config.DBUser,
		Password: s.config.DBPassword,
		DBName:   s.config.DBName,
		SSLMode:  s.config.DBSSLMode,
		Logger:   s.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	s.db = db

	orphans, err := s.orphanReporter()
	if err != nil {
		return errors.Join(err, s.Shutdown())
	}

	services, err := NewServices(&ServicesConfig{
		Logger:          s.logger,
		DB:              db,
		Orphans:         orphans,
		Metrics:         s.config.Metrics,
		StorageMetrics:  s.config.StorageMetrics,
		AnalysisMetrics: s.config.AnalysisMetrics,
		PublicBaseURL:   s.config.PublicBaseURL,
		Analysis:        s.config.Analysis,
		MaxUploadBytes:  s.config.MaxUploadBytes,
		RequestTimeout:  s.config.RequestTimeout,
	})
	if err != nil {
		return errors.Join(err, s.Shutdown())
	}

	s.grpcServer, s.healthServer = NewGRPCServer(services.Readings)

	grpcAddr := fmt.Sprintf(":%d", s.config.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return errors.Join(fmt.Errorf("failed to listen on %s: %w", grpcAddr, err), s.Shutdown())
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           services.API.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting gRPC server", "address", grpcAddr)
	serveErr := make(chan error, 2)
	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			serveErr <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	s.logger.Info("starting HTTP server", "address", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	s.logger.Info("backend server started successfully")

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-serveErr:
		s.logger.Error("server error", "error", err)
		cancel()
		return errors.Join(err, s.Shutdown())
	}

	return s.Shutdown()
}

// orphanReporter publishes orphan notices to RabbitMQ when a URL is set.
func (s *Server) orphanReporter() (OrphanReporter, error) {
	if s.config.RabbitMQURL == "" {
		s.logger.Info("orphan notices are logged only, no RabbitMQ URL configured")
		return &LogOrphanReporter{Logger: s.logger}, nil
	}

	queue := s.config.OrphanQueue
	if queue == "" {
		queue = OrphanQueue
	}
	client, err := mq.New(&mq.Config{
		Logger:  s.logger.With("component", "orphan-publisher"),
		Metrics: s.config.MQMetrics,
		URL:     s.config.RabbitMQURL,
		Queue:   queue,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create orphan queue client: %w", err)
	}
	s.orphanClient = client

	return NewMQOrphanReporter(s.logger, client)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down backend server")

	var shutdownErr error

	if s.healthServer != nil {
		s.healthServer.Shutdown()
	}

	if s.httpServer != nil {
		s.logger.Info("stopping HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown HTTP server", "error", err)
			shutdownErr = fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		s.logger.Info("HTTP server stopped")
	}

	if s.grpcServer != nil {
		s.logger.Info("stopping gRPC server")
		s.grpcServer.GracefulStop()
		s.logger.Info("gRPC server stopped")
	}

	if s.orphanClient != nil {
		s.logger.Info("closing orphan queue client")
		if err := s.orphanClient.Close(); err != nil {
			s.logger.Error("failed to close orphan queue client", "error", err)
			shutdownErr = joinShutdownErr(shutdownErr, "mq close error", err)
		}
	}

	if s.db != nil {
		if err := CloseDB(s.db, s.logger); err != nil {
			s.logger.Error("failed to close database", "error", err)
			shutdownErr = joinShutdownErr(shutdownErr, "database close error", err)
		}
		s.db = nil
	}

	if shutdownErr != nil {
		s.logger.Error("backend server shutdown completed with errors", "error", shutdownErr)
		return shutdownErr
	}

	s.logger.Info("backend server shutdown completed successfully")
	return nil
}

func joinShutdownErr(prev error, label string, err error) error {
	if prev != nil {
		return fmt.Errorf("%w; %s: %w", prev, label, err)
	}
	return fmt.Errorf("%s: %w", label, err)
}
