package frontend_test

import (
	"context"
	"log/slog"
	"net"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/gait-monitor/internal/backend"
	"procodus.dev/gait-monitor/internal/frontend"
)

var _ = Describe("Frontend Server", func() {
	var logger *slog.Logger

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	})

	Describe("NewServer", func() {
		Context("with valid configuration", func() {
			It("should create a server", func() {
				server, err := frontend.NewServer(&frontend.ServerConfig{
					Logger:          logger,
					HTTPPort:        8080,
					BackendGRPCAddr: "localhost:9090",
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(server).NotTo(BeNil())
			})

			It("should accept an injected client instead of an address", func() {
				server, err := frontend.NewServer(&frontend.ServerConfig{
					Logger:   logger,
					HTTPPort: 8080,
					Client:   &fakeReadingClient{},
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(server).NotTo(BeNil())
			})

			It("should accept fetch and analysis settings", func() {
				_, err := frontend.NewServer(&frontend.ServerConfig{
					Logger:          logger,
					HTTPPort:        8080,
					BackendGRPCAddr: "backend:9090",
					FetchTimeout:    time.Second,
					FetchRetries:    1,
					MaxPayloadBytes: 1 << 20,
					Analysis:        backend.AnalysisConfig{Interval: 50 * time.Millisecond},
				})
				Expect(err).NotTo(HaveOccurred())
			})
		})

		Context("with invalid configuration", func() {
			It("should return error when config is nil", func() {
				server, err := frontend.NewServer(nil)
				Expect(err).To(MatchError(ContainSubstring("config cannot be nil")))
				Expect(server).To(BeNil())
			})

			DescribeTable("should reject",
				func(cfg frontend.ServerConfig, message string) {
					if cfg.Logger == nil && message != "logger" {
						cfg.Logger = logger
					}
					server, err := frontend.NewServer(&cfg)
					Expect(err).To(MatchError(ContainSubstring(message)))
					Expect(server).To(BeNil())
				},
				Entry("a nil logger", frontend.ServerConfig{HTTPPort: 8080, BackendGRPCAddr: "x:1"}, "logger"),
				Entry("a zero HTTP port", frontend.ServerConfig{BackendGRPCAddr: "x:1"}, "HTTP port"),
				Entry("a negative HTTP port", frontend.ServerConfig{HTTPPort: -1, BackendGRPCAddr: "x:1"}, "HTTP port"),
				Entry("an empty backend address", frontend.ServerConfig{HTTPPort: 8080}, "backend gRPC address"),
				Entry("a negative interval", frontend.ServerConfig{
					HTTPPort: 8080, BackendGRPCAddr: "x:1",
					Analysis: backend.AnalysisConfig{Interval: -time.Second},
				}, "analysis interval"),
				Entry("a negative fetch timeout", frontend.ServerConfig{
					HTTPPort: 8080, BackendGRPCAddr: "x:1", FetchTimeout: -time.Second,
				}, "timeouts must be positive"),
			)
		})
	})

	Describe("Server Run", func() {
		It("should shutdown when context is canceled", func() {
			server, err := frontend.NewServer(&frontend.ServerConfig{
				Logger:          logger,
				HTTPPort:        18081,
				BackendGRPCAddr: "invalid:9090",
			})
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- server.Run(ctx)
			}()

			Eventually(done, 2*time.Second).Should(Receive())
		})

		It("should shutdown immediately with pre-canceled context", func() {
			server, err := frontend.NewServer(&frontend.ServerConfig{
				Logger:   logger,
				HTTPPort: 18082,
				Client:   &fakeReadingClient{},
			})
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			done := make(chan error, 1)
			go func() {
				done <- server.Run(ctx)
			}()

			Eventually(done, time.Second).Should(Receive())
		})

		It("should never start listening once shut down by a canceled context", func() {
			for range 5 {
				server, err := frontend.NewServer(&frontend.ServerConfig{
					Logger:   logger,
					HTTPPort: 18084,
					Client:   &fakeReadingClient{},
				})
				Expect(err).NotTo(HaveOccurred())

				ctx, cancel := context.WithCancel(context.Background())
				cancel()

				Expect(server.Run(ctx)).To(Succeed())
				Expect(server.Shutdown()).To(Succeed())
			}

			Consistently(func() error {
				conn, err := net.DialTimeout("tcp", "127.0.0.1:18084", 50*time.Millisecond)
				if err == nil {
					_ = conn.Close()
				}
				return err
			}, 300*time.Millisecond, 50*time.Millisecond).Should(HaveOccurred())
		})
	})

	Describe("Server Shutdown", func() {
		It("should shutdown cleanly with no initialized components", func() {
			server, err := frontend.NewServer(&frontend.ServerConfig{
				Logger:          logger,
				HTTPPort:        8083,
				BackendGRPCAddr: "localhost:9090",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(server.Shutdown()).To(Succeed())
		})

		It("should handle multiple shutdown calls", func() {
			server, err := frontend.NewServer(&frontend.ServerConfig{
				Logger:          logger,
				HTTPPort:        8084,
				BackendGRPCAddr: "localhost:9090",
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(server.Shutdown()).To(Succeed())
			Expect(server.Shutdown()).To(Succeed())
		})
	})
})
