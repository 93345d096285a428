package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/gait-monitor/internal/backend"
	"procodus.dev/gait-monitor/pkg/metrics"
)

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Run the backend server",
	Long: `Run the backend server that:
- Accepts patient registrations and reading uploads over HTTP
- Persists metadata and raw payloads to PostgreSQL
- Serves analysis, tabular exports and payload downloads
- Serves the gRPC API used by the frontend
- Publishes orphaned payload notices to RabbitMQ`,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return bindFlags(cmd, backendFlagKeys, analysisFlagKeys)
	},
	RunE: runBackend,
}

// backendFlagKeys maps flag names to viper keys.
var backendFlagKeys = map[string]string{
	"db-host":          "backend.db.host",
	"db-port":          "backend.db.port",
	"db-user":          "backend.db.user",
	"db-password":      "backend.db.password",
	"db-name":          "backend.db.name",
	"db-sslmode":       "backend.db.sslmode",
	"rabbitmq-url":     "backend.rabbitmq.url",
	"orphan-queue":     "backend.rabbitmq.orphan_queue",
	"http-port":        "backend.http.port",
	"grpc-port":        "backend.grpc.port",
	"public-base-url":  "backend.storage.public_base_url",
	"max-upload-bytes": "backend.upload.max_bytes",
	"request-timeout":  "backend.request_timeout",
}

func init() {
	rootCmd.AddCommand(backendCmd)

	backendCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	backendCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	backendCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	backendCmd.Flags().String("db-password", "", "PostgreSQL password")
	backendCmd.Flags().String("db-name", "gait", "PostgreSQL database name")
	backendCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	backendCmd.Flags().String("rabbitmq-url", "", "RabbitMQ URL for orphan notices (log only when empty)")
	backendCmd.Flags().String("orphan-queue", backend.OrphanQueue, "RabbitMQ queue name for orphan notices")
	backendCmd.Flags().Int("http-port", 8081, "HTTP API port")
	backendCmd.Flags().Int("grpc-port", 9090, "gRPC server port")
	backendCmd.Flags().String("public-base-url", "http://localhost:8081", "Base URL prefixed to payload download URLs")
	backendCmd.Flags().Int64("max-upload-bytes", backend.DefaultMaxUploadBytes, "Largest accepted reading payload")
	backendCmd.Flags().Duration("request-timeout", backend.DefaultRequestTimeout, "Timeout for a single API request")
	addAnalysisFlags(backendCmd.Flags())
}

func runBackend(_ *cobra.Command, _ []string) error {
	logger := GetLogger("backend")
	logger.Info("starting backend service")

	analysis, err := analysisConfig()
	if err != nil {
		logger.Error("invalid analysis configuration", "error", err)
		return err
	}

	config := &backend.ServerConfig{
		Logger:          logger,
		Metrics:         metrics.NewBackendMetrics(metrics.Namespace),
		StorageMetrics:  metrics.NewStorageMetrics(metrics.Namespace),
		AnalysisMetrics: metrics.NewAnalysisMetrics(metrics.Namespace),
		MQMetrics:       metrics.NewMQMetrics(metrics.Namespace),
		DBHost:          viper.GetString("backend.db.host"),
		DBPort:          viper.GetInt("backend.db.port"),
		DBUser:          viper.GetString("backend.db.user"),
		DBPassword:      viper.GetString("backend.db.password"),
		DBName:          viper.GetString("backend.db.name"),
		DBSSLMode:       viper.GetString("backend.db.sslmode"),
		RabbitMQURL:     viper.GetString("backend.rabbitmq.url"),
		OrphanQueue:     viper.GetString("backend.rabbitmq.orphan_queue"),
		PublicBaseURL:   viper.GetString("backend.storage.public_base_url"),
		Analysis:        analysis,
		MaxUploadBytes:  viper.GetInt64("backend.upload.max_bytes"),
		RequestTimeout:  viper.GetDuration("backend.request_timeout"),
		HTTPPort:        viper.GetInt("backend.http.port"),
		GRPCPort:        viper.GetInt("backend.grpc.port"),
	}

	server, err := backend.NewServer(config)
	if err != nil {
		logger.Error("failed to create backend server", "error", err)
		return err
	}

	logger.Info("backend server configuration",
		"db_host", config.DBHost,
		"db_port", config.DBPort,
		"db_name", config.DBName,
		"orphan_queue", config.OrphanQueue,
		"http_port", config.HTTPPort,
		"grpc_port", config.GRPCPort,
		"public_base_url", config.PublicBaseURL,
		"max_upload_bytes", config.MaxUploadBytes,
		"on_malformed_line", analysis.Policy,
		"step_detection", analysis.StepDetection != nil,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("backend server error", "error", err)
		return err
	}

	logger.Info("backend server stopped")
	return nil
}
