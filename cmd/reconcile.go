package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/gait-monitor/internal/backend"
	"procodus.dev/gait-monitor/pkg/metrics"
	"procodus.dev/gait-monitor/pkg/mq"
	"procodus.dev/gait-monitor/pkg/objectstore"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run the orphaned payload reconciler",
	Long: `Run the reconciler that:
- Consumes orphan notices published by the backend
- Removes payloads that no reading references
- Requeues notices on transient failures`,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return bindFlags(cmd, reconcileFlagKeys)
	},
	RunE: runReconcile,
}

// reconcileFlagKeys maps flag names to viper keys.
var reconcileFlagKeys = map[string]string{
	"db-host":         "backend.db.host",
	"db-port":         "backend.db.port",
	"db-user":         "backend.db.user",
	"db-password":     "backend.db.password",
	"db-name":         "backend.db.name",
	"db-sslmode":      "backend.db.sslmode",
	"rabbitmq-url":    "backend.rabbitmq.url",
	"orphan-queue":    "backend.rabbitmq.orphan_queue",
	"public-base-url": "backend.storage.public_base_url",
	"prefetch":        "reconcile.prefetch",
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	reconcileCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	reconcileCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	reconcileCmd.Flags().String("db-password", "", "PostgreSQL password")
	reconcileCmd.Flags().String("db-name", "gait", "PostgreSQL database name")
	reconcileCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	reconcileCmd.Flags().String("rabbitmq-url", "amqp://localhost:5672", "RabbitMQ URL")
	reconcileCmd.Flags().String("orphan-queue", backend.OrphanQueue, "RabbitMQ queue name for orphan notices")
	reconcileCmd.Flags().String("public-base-url", "http://localhost:8081", "Base URL the backend issues payload URLs under")
	reconcileCmd.Flags().Int("prefetch", 10, "Unacknowledged notices delivered at once")
}

func runReconcile(_ *cobra.Command, _ []string) (err error) {
	logger := GetLogger("reconciler")
	logger.Info("starting reconciler service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backendMetrics := metrics.NewBackendMetrics(metrics.Namespace)

	db, err := backend.NewDB(&backend.DBConfig{
		Host:     viper.GetString("backend.db.host"),
		Port:     viper.GetInt("backend.db.port"),
		User:     viper.GetString("backend.db.user"),
		Password: viper.GetString("backend.db.password"),
		DBName:   viper.GetString("backend.db.name"),
		SSLMode:  viper.GetString("backend.db.sslmode"),
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		return err
	}
	defer func() {
		if closeErr := backend.CloseDB(db, logger); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close database: %w", closeErr))
		}
	}()

	metadata, err := backend.NewGormMetadataStore(&backend.GormMetadataStoreConfig{
		DB:      db,
		Logger:  logger,
		Metrics: backendMetrics,
	})
	if err != nil {
		return err
	}

	objects, err := objectstore.NewDBStore(&objectstore.DBStoreConfig{
		DB:            db,
		Logger:        logger.With("component", "objectstore"),
		Metrics:       metrics.NewStorageMetrics(metrics.Namespace),
		PublicBaseURL: viper.GetString("backend.storage.public_base_url"),
	})
	if err != nil {
		return err
	}

	mqMetrics := metrics.NewMQMetrics(metrics.Namespace)
	queue, err := mq.New(&mq.Config{
		Logger:   logger.With("component", "orphan-consumer"),
		Metrics:  mqMetrics,
		URL:      viper.GetString("backend.rabbitmq.url"),
		Queue:    viper.GetString("backend.rabbitmq.orphan_queue"),
		Prefetch: viper.GetInt("reconcile.prefetch"),
	})
	if err != nil {
		logger.Error("failed to create mq client", "error", err)
		return err
	}
	defer func() {
		if closeErr := queue.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close mq client: %w", closeErr))
		}
	}()

	reconciler, err := backend.NewReconciler(&backend.ReconcilerConfig{
		Logger:    logger,
		Metadata:  metadata,
		Objects:   objects,
		Queue:     queue,
		Metrics:   backendMetrics,
		MQMetrics: mqMetrics,
		QueueName: queue.Queue(),
	})
	if err != nil {
		logger.Error("failed to create reconciler", "error", err)
		return err
	}

	if err := reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("reconciler error", "error", err)
		return err
	}

	logger.Info("reconciler service stopped")
	return nil
}
