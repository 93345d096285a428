package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"procodus.dev/gait-monitor/internal/backend"
	"procodus.dev/gait-monitor/pkg/gait"
	"procodus.dev/gait-monitor/pkg/logger"
)

// InitConfig initializes Viper configuration.
// It supports reading from config files (config.yaml) and environment variables.
func InitConfig(cfgFile string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/gait-monitor/")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// GAIT_MONITOR_BACKEND_DB_HOST overrides backend.db.host
	viper.SetEnvPrefix("GAIT_MONITOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var configNotFoundErr viper.ConfigFileNotFoundError
		if errors.As(err, &configNotFoundErr) {
			// Config file not found; rely on env vars and defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// GetLogger creates a slog.Logger for service based on configuration.
func GetLogger(service string) *slog.Logger {
	return logger.NewWithLevel(logger.ParseLevel(viper.GetString("log.level")), service)
}

// analysisFlagKeys maps the analysis flag names to viper keys.
var analysisFlagKeys = map[string]string{
	"analysis-interval": "analysis.interval",
	"on-malformed-line": "analysis.on_malformed_line",
	"step-detection":    "analysis.step_detection.enabled",
	"step-threshold":    "analysis.step_detection.threshold_stddev",
	"step-min-interval": "analysis.step_detection.min_interval",
}

// bindFlags binds the running command's flags to viper keys. Commands share
// keys, so binding must wait until the command runs.
func bindFlags(cmd *cobra.Command, keySets ...map[string]string) error {
	for _, keys := range keySets {
		for flag, key := range keys {
			if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
				return fmt.Errorf("failed to bind %s flag: %w", flag, err)
			}
		}
	}
	return nil
}

// addAnalysisFlags registers the analysis settings shared by backend and frontend.
func addAnalysisFlags(flags *pflag.FlagSet) {
	flags.Duration("analysis-interval", gait.DefaultInterval, "Sampling interval assumed for uploaded readings")
	flags.String("on-malformed-line", string(gait.PolicyAbort), "Malformed line policy (abort, skip)")
	flags.Bool("step-detection", false, "Enable step and cadence detection")
	flags.Float64("step-threshold", gait.DefaultStepConfig().ThresholdStdDev, "Step peak threshold in standard deviations above the mean")
	flags.Duration("step-min-interval", gait.DefaultStepConfig().MinStepInterval, "Shortest allowed gap between two steps")
}

// analysisConfig reads the analysis settings from viper.
func analysisConfig() (backend.AnalysisConfig, error) {
	policy, err := gait.ParsePolicy(viper.GetString("analysis.on_malformed_line"))
	if err != nil {
		return backend.AnalysisConfig{}, err
	}

	cfg := backend.AnalysisConfig{
		Policy:   policy,
		Interval: viper.GetDuration("analysis.interval"),
	}
	if viper.GetBool("analysis.step_detection.enabled") {
		cfg.StepDetection = &gait.StepConfig{
			ThresholdStdDev: viper.GetFloat64("analysis.step_detection.threshold_stddev"),
			MinStepInterval: viper.GetDuration("analysis.step_detection.min_interval"),
		}
	}
	return cfg, nil
}

// shutdownTimeout bounds the shutdown of auxiliary servers.
const shutdownTimeout = 10 * time.Second
