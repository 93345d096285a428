package main

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/viper"

	"procodus.dev/gait-monitor/pkg/gait"
)

var _ = Describe("Config", func() {
	BeforeEach(func() {
		viper.Reset()
		DeferCleanup(viper.Reset)
	})

	Describe("InitConfig", func() {
		It("should read a config file and let env vars override it", func() {
			path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
			Expect(os.WriteFile(path, []byte("backend:\n  db:\n    host: db.internal\n    port: 6432\n"), 0o600)).To(Succeed())
			GinkgoT().Setenv("GAIT_MONITOR_BACKEND_DB_PORT", "7432")

			Expect(InitConfig(path)).To(Succeed())
			Expect(viper.GetString("backend.db.host")).To(Equal("db.internal"))
			Expect(viper.GetInt("backend.db.port")).To(Equal(7432))
		})

		It("should fail on an unreadable config file", func() {
			path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
			Expect(os.WriteFile(path, []byte("backend: [\n"), 0o600)).To(Succeed())

			Expect(InitConfig(path)).To(MatchError(ContainSubstring("failed to read config file")))
		})
	})

	Describe("analysisConfig", func() {
		It("should default to abort without step detection", func() {
			cfg, err := analysisConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Policy).To(Equal(gait.PolicyAbort))
			Expect(cfg.StepDetection).To(BeNil())
		})

		It("should enable step detection with the configured thresholds", func() {
			viper.Set("analysis.on_malformed_line", "skip")
			viper.Set("analysis.interval", "50ms")
			viper.Set("analysis.step_detection.enabled", true)
			viper.Set("analysis.step_detection.threshold_stddev", 0.8)
			viper.Set("analysis.step_detection.min_interval", "250ms")

			cfg, err := analysisConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Policy).To(Equal(gait.PolicySkip))
			Expect(cfg.Interval).To(Equal(50 * time.Millisecond))
			Expect(cfg.StepDetection).To(Equal(&gait.StepConfig{ThresholdStdDev: 0.8, MinStepInterval: 250 * time.Millisecond}))
		})

		It("should reject an unknown policy", func() {
			viper.Set("analysis.on_malformed_line", "ignore")

			_, err := analysisConfig()
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("bindFlags", func() {
		It("should bind the running command's flags", func() {
			Expect(frontendCmd.Flags().Set("backend-addr", "backend:9090")).To(Succeed())
			DeferCleanup(func() { _ = frontendCmd.Flags().Set("backend-addr", "localhost:9090") })

			Expect(bindFlags(frontendCmd, frontendFlagKeys, analysisFlagKeys)).To(Succeed())
			Expect(viper.GetString("frontend.backend.addr")).To(Equal("backend:9090"))
			Expect(viper.GetString("analysis.on_malformed_line")).To(Equal("abort"))
		})

		It("should keep commands sharing keys independent", func() {
			Expect(reconcileCmd.Flags().Set("db-host", "reconcile-db")).To(Succeed())
			DeferCleanup(func() { _ = reconcileCmd.Flags().Set("db-host", "localhost") })

			Expect(bindFlags(backendCmd, backendFlagKeys)).To(Succeed())
			Expect(viper.GetString("backend.db.host")).To(Equal("localhost"))
		})
	})
})
