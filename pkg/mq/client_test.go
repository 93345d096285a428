package mq_test

import (
	"context"
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/gait-monitor/pkg/mq"
)

var _ = Describe("MQ Client", func() {
	var logger *slog.Logger

	// newUnreachable returns a client pointed at a broker that does not exist.
	newUnreachable := func() *mq.Client {
		client, err := mq.New(&mq.Config{
			Logger: logger,
			URL:    "amqp://invalid:5672",
			Queue:  "orphaned-payloads",
		})
		Expect(err).NotTo(HaveOccurred())
		// Give the connect goroutine a moment to fail.
		time.Sleep(100 * time.Millisecond)
		return client
	}

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	})

	Describe("New", func() {
		It("should return error when config is nil", func() {
			_, err := mq.New(nil)
			Expect(err).To(MatchError(ContainSubstring("config cannot be nil")))
		})

		It("should return error when logger is nil", func() {
			_, err := mq.New(&mq.Config{URL: "amqp://localhost", Queue: "q"})
			Expect(err).To(MatchError(ContainSubstring("logger cannot be nil")))
		})

		It("should return error when URL is empty", func() {
			_, err := mq.New(&mq.Config{Logger: logger, Queue: "q"})
			Expect(err).To(MatchError(ContainSubstring("URL cannot be empty")))
		})

		It("should return error when queue is empty", func() {
			_, err := mq.New(&mq.Config{Logger: logger, URL: "amqp://localhost"})
			Expect(err).To(MatchError(ContainSubstring("queue name cannot be empty")))
		})

		It("should bind the client to the configured queue", func() {
			client := newUnreachable()
			defer func() { _ = client.Close() }()
			Expect(client.Queue()).To(Equal("orphaned-payloads"))
		})
	})

	Describe("Push", func() {
		Context("when not connected", func() {
			It("should stop when the context expires", func() {
				client := newUnreachable()
				defer func() { _ = client.Close() }()

				ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
				defer cancel()

				start := time.Now()
				err := client.Push(ctx, []byte("notice"))
				Expect(err).To(MatchError(context.DeadlineExceeded))
				Expect(time.Since(start)).To(BeNumerically(">=", 100*time.Millisecond))
			})

			It("should give up after the maximum number of attempts", func() {
				client := newUnreachable()
				defer func() { _ = client.Close() }()

				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()

				start := time.Now()
				err := client.Push(ctx, []byte("notice"))
				elapsed := time.Since(start)

				Expect(err).To(MatchError(ContainSubstring("maximum retry attempts exceeded")))
				// 100ms + 200ms + 400ms + 800ms of backoff
				Expect(elapsed).To(BeNumerically(">=", 1400*time.Millisecond))
				Expect(elapsed).To(BeNumerically("<", 10*time.Second))
			})

			It("should return shutdown when closed while waiting", func() {
				client := newUnreachable()

				errCh := make(chan error, 1)
				go func() {
					errCh <- client.Push(context.Background(), []byte("notice"))
				}()

				time.Sleep(150 * time.Millisecond)
				_ = client.Close()

				Eventually(errCh, 2*time.Second).Should(Receive(MatchError(ContainSubstring("shutting down"))))
			})
		})
	})

	Describe("UnsafePush", func() {
		It("should fail fast when not connected", func() {
			client := newUnreachable()
			defer func() { _ = client.Close() }()

			err := client.UnsafePush(context.Background(), []byte("notice"))
			Expect(err).To(MatchError(ContainSubstring("not connected")))
		})
	})

	Describe("Consume", func() {
		It("should return error when not connected", func() {
			client := newUnreachable()
			defer func() { _ = client.Close() }()

			_, err := client.Consume()
			Expect(err).To(MatchError(ContainSubstring("not connected")))
		})
	})

	Describe("Close", func() {
		It("should report already closed when never connected", func() {
			client := newUnreachable()
			Expect(client.Close()).To(MatchError(ContainSubstring("already closed")))
		})

		It("should be safe to call repeatedly and concurrently", func() {
			client := newUnreachable()

			done := make(chan struct{}, 3)
			for i := 0; i < 3; i++ {
				go func() {
					_ = client.Close()
					done <- struct{}{}
				}()
			}
			for i := 0; i < 3; i++ {
				Eventually(done).Should(Receive())
			}
			Expect(client.Close()).To(HaveOccurred())
		})
	})
})
