// Package mq provides end-to-end tests for the RabbitMQ client.
package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/gait-monitor/pkg/metrics"
	clientmq "procodus.dev/gait-monitor/pkg/mq"
)

var _ = Describe("MQ Client E2E", func() {
	var (
		client    *clientmq.Client
		queueName string
		ctx       context.Context
	)

	newClient := func(prefetch int) *clientmq.Client {
		c, err := clientmq.New(&clientmq.Config{
			Logger:      testLogger,
			URL:         rabbitmq.URL,
			Queue:       queueName,
			ContentType: "application/x-protobuf",
			Prefetch:    prefetch,
		})
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	consume := func(c *clientmq.Client) <-chan amqp.Delivery {
		var deliveries <-chan amqp.Delivery
		Eventually(func() error {
			var err error
			deliveries, err = c.Consume()
			return err
		}, 30*time.Second, 200*time.Millisecond).Should(Succeed())
		return deliveries
	}

	BeforeEach(func() {
		queueName = "e2e-" + uuid.NewString()

		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 60*time.Second)
		DeferCleanup(cancel)

		client = newClient(1)
		DeferCleanup(func() { _ = client.Close() })
	})

	It("should deliver pushed messages in order with the configured content type", func() {
		deliveries := consume(client)

		for i := range 3 {
			Expect(client.Push(ctx, []byte(fmt.Sprintf("notice %d", i)))).To(Succeed())
		}

		for i := range 3 {
			var d amqp.Delivery
			Eventually(deliveries, 10*time.Second).Should(Receive(&d))
			Expect(string(d.Body)).To(Equal(fmt.Sprintf("notice %d", i)))
			Expect(d.ContentType).To(Equal("application/x-protobuf"))
			Expect(d.DeliveryMode).To(Equal(amqp.Persistent))
			Expect(d.Ack(false)).To(Succeed())
		}
	})

	It("should redeliver a nacked message when requeued", func() {
		deliveries := consume(client)
		Expect(client.Push(ctx, []byte("retry me"))).To(Succeed())

		var first amqp.Delivery
		Eventually(deliveries, 10*time.Second).Should(Receive(&first))
		Expect(first.Nack(false, true)).To(Succeed())

		var second amqp.Delivery
		Eventually(deliveries, 10*time.Second).Should(Receive(&second))
		Expect(second.Body).To(Equal([]byte("retry me")))
		Expect(second.Redelivered).To(BeTrue())
		Expect(second.Ack(false)).To(Succeed())
	})

	It("should keep unacknowledged messages to the prefetch limit", func() {
		deliveries := consume(client)
		for i := range 2 {
			Expect(client.Push(ctx, []byte(fmt.Sprintf("m%d", i)))).To(Succeed())
		}

		var first amqp.Delivery
		Eventually(deliveries, 10*time.Second).Should(Receive(&first))
		Consistently(deliveries, 500*time.Millisecond).ShouldNot(Receive())

		Expect(first.Ack(false)).To(Succeed())
		Eventually(deliveries, 10*time.Second).Should(Receive())
	})

	It("should keep messages for a consumer that connects later", func() {
		Eventually(func() error {
			return client.Push(ctx, []byte("durable"))
		}, 30*time.Second, time.Second).Should(Succeed())
		Expect(client.Close()).To(Succeed())

		client = newClient(1)
		var d amqp.Delivery
		Eventually(consume(client), 10*time.Second).Should(Receive(&d))
		Expect(d.Body).To(Equal([]byte("durable")))
		Expect(d.Ack(false)).To(Succeed())
	})

	It("should record push metrics", func() {
		m := metrics.NewMQMetrics("mq_e2e_" + uuid.New().String()[:8])
		instrumented, err := clientmq.New(&clientmq.Config{
			Logger:  testLogger,
			Metrics: m,
			URL:     rabbitmq.URL,
			Queue:   queueName,
		})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = instrumented.Close() })

		Eventually(func() error {
			return instrumented.Push(ctx, []byte("counted"))
		}, 30*time.Second, time.Second).Should(Succeed())
		Expect(testutil.ToFloat64(m.MessagesPushed.WithLabelValues(queueName))).To(Equal(1.0))
		Expect(testutil.ToFloat64(m.ConnectionStatus)).To(Equal(1.0))
	})

	It("should fail to close twice", func() {
		consume(client)
		Expect(client.Close()).To(Succeed())
		Expect(client.Close()).To(HaveOccurred())
	})

	It("should stop pushing after close", func() {
		consume(client)
		Expect(client.Close()).To(Succeed())

		Expect(client.Push(ctx, []byte("late"))).To(HaveOccurred())
	})
})
