package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/gait-monitor/internal/producer"
	"procodus.dev/gait-monitor/pkg/metrics"
)

var generatorCmd = &cobra.Command{
	Use:   "generator",
	Short: "Run the data generator",
	Long: `Run the data generator that:
- Registers synthetic patients with the backend
- Generates walking sessions as raw IMU readings
- Uploads them through the backend HTTP API
- Supports multiple concurrent producers`,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return bindFlags(cmd, generatorFlagKeys)
	},
	RunE: runGenerator,
}

// generatorFlagKeys maps flag names to viper keys.
var generatorFlagKeys = map[string]string{
	"backend-url":           "generator.backend_url",
	"producer-count":        "generator.producer_count",
	"patients-per-producer": "generator.patients_per_producer",
	"interval":              "generator.interval",
	"session-duration":      "generator.session_duration",
	"request-timeout":       "generator.request_timeout",
	"metrics-port":          "generator.metrics.port",
}

func init() {
	rootCmd.AddCommand(generatorCmd)

	generatorCmd.Flags().String("backend-url", "http://localhost:8081", "Backend HTTP API base URL")
	generatorCmd.Flags().Int("producer-count", 5, "Number of concurrent producers")
	generatorCmd.Flags().Int("patients-per-producer", 3, "Synthetic patients registered by each producer")
	generatorCmd.Flags().Duration("interval", 5*time.Second, "Interval between uploads of one producer")
	generatorCmd.Flags().Duration("session-duration", producer.DefaultSessionDuration, "Length of each generated walking session")
	generatorCmd.Flags().Duration("request-timeout", producer.DefaultRequestTimeout, "Timeout for one backend request")
	generatorCmd.Flags().Int("metrics-port", 0, "Port serving /metrics (disabled when 0)")
}

func runGenerator(_ *cobra.Command, _ []string) error {
	logger := GetLogger("generator")
	logger.Info("starting generator service")

	config := &producer.ServerConfig{
		Logger:              logger,
		Metrics:             metrics.NewProducerMetrics(metrics.Namespace),
		BackendURL:          viper.GetString("generator.backend_url"),
		ProducerCount:       viper.GetInt("generator.producer_count"),
		PatientsPerProducer: viper.GetInt("generator.patients_per_producer"),
		Interval:            viper.GetDuration("generator.interval"),
		SessionDuration:     viper.GetDuration("generator.session_duration"),
		RequestTimeout:      viper.GetDuration("generator.request_timeout"),
	}

	server, err := producer.NewServer(config)
	if err != nil {
		logger.Error("failed to create generator server", "error", err)
		return err
	}

	logger.Info("generator server configuration",
		"backend_url", config.BackendURL,
		"producer_count", config.ProducerCount,
		"patients_per_producer", config.PatientsPerProducer,
		"interval", config.Interval,
		"session_duration", config.SessionDuration,
	)

	if port := viper.GetInt("generator.metrics.port"); port > 0 {
		metricsServer := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = metricsServer.Shutdown(ctx)
		}()
	}

	if err := server.Run(context.Background()); err != nil {
		logger.Error("generator server error", "error", err)
		return err
	}

	logger.Info("generator server stopped")
	return nil
}
