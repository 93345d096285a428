package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/gait-monitor/internal/backend"
	"procodus.dev/gait-monitor/internal/frontend"
	"procodus.dev/gait-monitor/pkg/metrics"
)

var frontendCmd = &cobra.Command{
	Use:   "frontend",
	Short: "Run the frontend server",
	Long: `Run the frontend web server that:
- Lists patients and their readings
- Resolves payload URLs over the backend gRPC API
- Downloads and analyzes payloads for charts and sample tables
- Uses htmx to refresh the patient list`,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return bindFlags(cmd, frontendFlagKeys, analysisFlagKeys)
	},
	RunE: runFrontend,
}

// frontendFlagKeys maps flag names to viper keys.
var frontendFlagKeys = map[string]string{
	"http-port":         "frontend.http.port",
	"backend-addr":      "frontend.backend.addr",
	"fetch-timeout":     "frontend.fetch.timeout",
	"fetch-retries":     "frontend.fetch.retries",
	"max-payload-bytes": "frontend.fetch.max_bytes",
	"request-timeout":   "frontend.request_timeout",
}

func init() {
	rootCmd.AddCommand(frontendCmd)

	frontendCmd.Flags().Int("http-port", 8080, "HTTP server port")
	frontendCmd.Flags().String("backend-addr", "localhost:9090", "Backend gRPC server address")
	frontendCmd.Flags().Duration("fetch-timeout", frontend.DefaultFetchTimeout, "Timeout for one payload download attempt")
	frontendCmd.Flags().Int("fetch-retries", 2, "Retries for failed payload downloads")
	frontendCmd.Flags().Int64("max-payload-bytes", backend.DefaultMaxUploadBytes, "Largest payload the frontend downloads")
	frontendCmd.Flags().Duration("request-timeout", frontend.DefaultRequestTimeout, "Timeout for rendering one page")
	addAnalysisFlags(frontendCmd.Flags())
}

func runFrontend(_ *cobra.Command, _ []string) error {
	logger := GetLogger("frontend")
	logger.Info("starting frontend service")

	analysis, err := analysisConfig()
	if err != nil {
		logger.Error("invalid analysis configuration", "error", err)
		return err
	}

	config := &frontend.ServerConfig{
		Logger:          logger,
		Metrics:         metrics.NewFrontendMetrics(metrics.Namespace),
		AnalysisMetrics: metrics.NewAnalysisMetrics(metrics.Namespace),
		HTTPPort:        viper.GetInt("frontend.http.port"),
		BackendGRPCAddr: viper.GetString("frontend.backend.addr"),
		Analysis:        analysis,
		FetchTimeout:    viper.GetDuration("frontend.fetch.timeout"),
		FetchRetries:    viper.GetInt("frontend.fetch.retries"),
		MaxPayloadBytes: viper.GetInt64("frontend.fetch.max_bytes"),
		RequestTimeout:  viper.GetDuration("frontend.request_timeout"),
	}

	server, err := frontend.NewServer(config)
	if err != nil {
		logger.Error("failed to create frontend server", "error", err)
		return err
	}

	logger.Info("frontend server configuration",
		"http_port", config.HTTPPort,
		"backend_addr", config.BackendGRPCAddr,
		"fetch_timeout", config.FetchTimeout,
		"on_malformed_line", analysis.Policy,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("frontend server error", "error", err)
		return err
	}

	logger.Info("frontend server stopped")
	return nil
}
