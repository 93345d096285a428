package frontend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"procodus.dev/gait-monitor/internal/backend"
	"procodus.dev/gait-monitor/pkg/gaitrpc"
	"procodus.dev/gait-monitor/pkg/metrics"
	"procodus.dev/gait-monitor/pkg/objectstore"
)

const (
	// DefaultRequestTimeout bounds the backend calls and payload download of one page.
	DefaultRequestTimeout = 15 * time.Second
	// DefaultFetchTimeout bounds a single payload download attempt.
	DefaultFetchTimeout = 10 * time.Second
	defaultFetchRetries = 2
)

// Server represents the frontend HTTP server.
type Server struct {
	logger          *slog.Logger
	metrics         *metrics.FrontendMetrics
	analysisMetrics *metrics.AnalysisMetrics
	httpServer      *http.Server
	client          gaitrpc.ReadingServiceClient
	grpcConn        *grpc.ClientConn
	fetcher         objectstore.Fetcher
	analysis        backend.AnalysisConfig
	requestTimeout  time.Duration
	config          *ServerConfig
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// Optional metrics
	Metrics         *metrics.FrontendMetrics
	AnalysisMetrics *metrics.AnalysisMetrics

	// Client, if set, is used instead of dialing BackendGRPCAddr.
	Client gaitrpc.ReadingServiceClient
	// Fetcher, if set, replaces the HTTP payload fetcher.
	Fetcher objectstore.Fetcher

	// Backend gRPC configuration
	BackendGRPCAddr string

	Analysis backend.AnalysisConfig

	// Payload download configuration
	FetchTimeout    time.Duration
	FetchRetries    int
	MaxPayloadBytes int64

	RequestTimeout time.Duration

	// HTTP server configuration
	HTTPPort int
}

// NewServer creates a new frontend Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	if cfg.BackendGRPCAddr == "" && cfg.Client == nil {
		return nil, errors.New("backend gRPC address cannot be empty")
	}

	if cfg.Analysis.Interval < 0 {
		return nil, errors.New("analysis interval must be positive")
	}

	if cfg.RequestTimeout < 0 || cfg.FetchTimeout < 0 {
		return nil, errors.New("timeouts must be positive")
	}

	requestTimeout := cfg.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = DefaultRequestTimeout
	}

	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetchTimeout := cfg.FetchTimeout
		if fetchTimeout == 0 {
			fetchTimeout = DefaultFetchTimeout
		}
		maxBody := cfg.MaxPayloadBytes
		if maxBody == 0 {
			maxBody = backend.DefaultMaxUploadBytes
		}
		retries := cfg.FetchRetries
		if retries == 0 {
			retries = defaultFetchRetries
		}

		httpFetcher, err := objectstore.NewHTTPFetcher(&objectstore.HTTPFetcherConfig{
			Logger:       cfg.Logger.With("component", "fetcher"),
			Timeout:      fetchTimeout,
			RetryCount:   retries,
			MaxBodyBytes: maxBody,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create payload fetcher: %w", err)
		}
		fetcher = httpFetcher
	}

	return &Server{
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		analysisMetrics: cfg.AnalysisMetrics,
		client:          cfg.Client,
		fetcher:         fetcher,
		analysis:        cfg.Analysis,
		requestTimeout:  requestTimeout,
		config:          cfg,
	}, nil
}

// Run starts the frontend server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting frontend server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	if s.client == nil {
		s.logger.Info("connecting to backend gRPC server", "address", s.config.BackendGRPCAddr)
		conn, err := grpc.NewClient(
			s.config.BackendGRPCAddr,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		if err != nil {
			return fmt.Errorf("failed to connect to backend: %w", err)
		}
		s.grpcConn = conn
		s.client = gaitrpc.NewReadingServiceClient(conn)
		s.logger.Info("connected to backend gRPC server")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.httpServer = srv

	s.logger.Info("starting HTTP server", "address", srv.Addr)

	httpErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	s.logger.Info("frontend server started successfully")

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-httpErr:
		if err != nil {
			s.logger.Error("HTTP server error", "error", err)
			cancel()
			return errors.Join(err, s.Shutdown())
		}
	}

	return s.Shutdown()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down frontend server")

	var shutdownErr error

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

	if s.grpcConn != nil {
		s.logger.Info("closing gRPC connection")
		if err := s.grpcConn.Close(); err != nil {
			s.logger.Error("failed to close gRPC connection", "error", err)
			if shutdownErr != nil {
				shutdownErr = fmt.Errorf("%w; gRPC connection close error: %w", shutdownErr, err)
			} else {
				shutdownErr = fmt.Errorf("gRPC connection close error: %w", err)
			}
		}
		s.grpcConn = nil
	}

	if shutdownErr != nil {
		s.logger.Error("frontend server shutdown completed with errors", "error", shutdownErr)
		return shutdownErr
	}

	s.logger.Info("frontend server shutdown completed successfully")
	return nil
}

// Handler returns the instrumented router. It requires a backend client,
// either from ServerConfig.Client or from Run.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	// htmx fragments
	mux.HandleFunc("GET /api/patients", s.handleAPIPatients)

	mux.HandleFunc("POST /patients", s.handleCreatePatient)
	mux.HandleFunc("GET /patients/{id}", s.handlePatient)
	mux.HandleFunc("POST /patients/{id}/delete", s.handleDeletePatient)
	mux.HandleFunc("GET /readings/{id}", s.handleReading)

	mux.HandleFunc("GET /{$}", s.handleIndex)

	return s.instrument(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// instrument records request counts, durations, sizes and in-flight requests
// by route pattern.
func (s *Server) instrument(mux *http.ServeMux) http.Handler {
	if s.metrics == nil {
		return mux
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, route := mux.Handler(r)
		if route == "" {
			route = "unmatched"
		}

		inFlight := s.metrics.HTTPRequestsInFlight.WithLabelValues(r.Method, route)
		inFlight.Inc()
		defer inFlight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		mux.ServeHTTP(rec, r)

		s.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		s.metrics.HTTPResponseSize.WithLabelValues(route).Observe(float64(rec.bytes))
	})
}
