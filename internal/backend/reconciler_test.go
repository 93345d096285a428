package backend_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/gait-monitor/internal/backend"
	mqmock "procodus.dev/gait-monitor/pkg/mq/mock"
	objmock "procodus.dev/gait-monitor/pkg/objectstore/mock"
)

// fakeAcknowledger records how deliveries were settled.
type fakeAcknowledger struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	requeue bool
}

func (a *fakeAcknowledger) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(uint64, bool) error {
	return nil
}

func (a *fakeAcknowledger) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks, a.nacks
}

var _ = Describe("Orphan notices", func() {
	It("should round-trip through the protobuf encoding", func() {
		notice := backend.OrphanNotice{
			DetectedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Path:       "p-1/r-1.csv",
			ReadingID:  "r-1",
			PatientID:  "p-1",
			Reason:     backend.ReasonMetadataWriteFailed,
			Detail:     "deadlock",
		}

		data, err := notice.Marshal()
		Expect(err).NotTo(HaveOccurred())

		decoded, err := backend.UnmarshalOrphanNotice(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(decoded).To(Equal(notice))
	})

	It("should reject garbage and notices without a path", func() {
		_, err := backend.UnmarshalOrphanNotice([]byte{0xff, 0x01})
		Expect(err).To(MatchError(backend.ErrInvalidNotice))

		data, err := backend.OrphanNotice{ReadingID: "r-1"}.Marshal()
		Expect(err).NotTo(HaveOccurred())
		_, err = backend.UnmarshalOrphanNotice(data)
		Expect(err).To(MatchError(backend.ErrInvalidNotice))
	})

	Describe("MQOrphanReporter", func() {
		It("should publish the encoded notice", func() {
			client := mqmock.NewMockClient()
			reporter, err := backend.NewMQOrphanReporter(newTestLogger(), client)
			Expect(err).NotTo(HaveOccurred())

			Expect(reporter.ReportOrphan(context.Background(), backend.OrphanNotice{Path: "p/r.csv"})).To(Succeed())

			pushed := client.Pushed()
			Expect(pushed).To(HaveLen(1))
			decoded, err := backend.UnmarshalOrphanNotice(pushed[0])
			Expect(err).NotTo(HaveOccurred())
			Expect(decoded.Path).To(Equal("p/r.csv"))
		})

		It("should return publish failures", func() {
			client := mqmock.NewMockClient()
			client.PushError = errors.New("broker down")
			reporter, err := backend.NewMQOrphanReporter(newTestLogger(), client)
			Expect(err).NotTo(HaveOccurred())

			Expect(reporter.ReportOrphan(context.Background(), backend.OrphanNotice{Path: "p/r.csv"})).
				To(MatchError(ContainSubstring("broker down")))
		})

		It("should require a client", func() {
			_, err := backend.NewMQOrphanReporter(newTestLogger(), nil)
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("Reconciler", func() {
	var (
		ctx        context.Context
		metadata   *memMetadataStore
		objects    *objmock.MockStore
		client     *mqmock.MockClient
		reconciler *backend.Reconciler
	)

	encode := func(path string) []byte {
		data, err := backend.OrphanNotice{Path: path, Reason: backend.ReasonRemoveFailed}.Marshal()
		Expect(err).NotTo(HaveOccurred())
		return data
	}

	BeforeEach(func() {
		ctx = context.Background()
		metadata = newMemMetadataStore()
		metadata.addPatient("p-1", "Ada")
		objects = objmock.NewMockStore()
		client = mqmock.NewMockClient()

		var err error
		reconciler, err = backend.NewReconciler(&backend.ReconcilerConfig{
			Logger:   newTestLogger(),
			Metadata: metadata,
			Objects:  objects,
			Queue:    client,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewReconciler", func() {
		It("should require a queue", func() {
			_, err := backend.NewReconciler(&backend.ReconcilerConfig{
				Logger:   newTestLogger(),
				Metadata: metadata,
				Objects:  objects,
			})
			Expect(err).To(MatchError(ContainSubstring("mq client cannot be nil")))
		})
	})

	Describe("Handle", func() {
		It("should remove an unreferenced payload", func() {
			_, err := objects.Upload(ctx, "p-1/orphan.csv", []byte(samplePayload), "")
			Expect(err).NotTo(HaveOccurred())

			outcome, err := reconciler.Handle(ctx, encode("p-1/orphan.csv"))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(backend.OutcomeRemoved))
			Expect(objects.Has("p-1/orphan.csv")).To(BeFalse())
		})

		It("should keep a payload that a reading references", func() {
			_, err := objects.Upload(ctx, "p-1/r-1.csv", []byte(samplePayload), "")
			Expect(err).NotTo(HaveOccurred())
			Expect(metadata.RecordReading(ctx, &backend.Reading{ID: "r-1", PatientID: "p-1", FilePath: "p-1/r-1.csv"})).To(Succeed())

			outcome, err := reconciler.Handle(ctx, encode("p-1/r-1.csv"))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(backend.OutcomeReferenced))
			Expect(objects.Has("p-1/r-1.csv")).To(BeTrue())
		})

		It("should drop undecodable notices", func() {
			outcome, err := reconciler.Handle(ctx, []byte("not a notice"))
			Expect(err).To(HaveOccurred())
			Expect(outcome).To(Equal(backend.OutcomeInvalid))
		})

		It("should ask for a retry on metadata failures", func() {
			metadata.existsErr = errors.New("connection refused")

			outcome, err := reconciler.Handle(ctx, encode("p-1/orphan.csv"))
			Expect(err).To(HaveOccurred())
			Expect(outcome).To(Equal(backend.OutcomeRetry))
		})

		It("should ask for a retry on removal failures", func() {
			objects.RemoveError = errors.New("timeout")

			outcome, err := reconciler.Handle(ctx, encode("p-1/orphan.csv"))
			Expect(err).To(HaveOccurred())
			Expect(outcome).To(Equal(backend.OutcomeRetry))
		})
	})

	Describe("Run", func() {
		It("should ack handled deliveries and requeue transient failures", func() {
			deliveries := make(chan amqp.Delivery, 2)
			client.ConsumeChannel = deliveries

			okAck := &fakeAcknowledger{}
			retryAck := &fakeAcknowledger{}
			deliveries <- amqp.Delivery{Acknowledger: okAck, Body: encode("p-1/gone.csv")}

			runCtx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- reconciler.Run(runCtx) }()

			Eventually(func() int { acks, _ := okAck.counts(); return acks }).Should(Equal(1))

			metadata.mu.Lock()
			metadata.existsErr = errors.New("connection refused")
			metadata.mu.Unlock()
			deliveries <- amqp.Delivery{Acknowledger: retryAck, Body: encode("p-1/other.csv")}

			Eventually(func() int { _, nacks := retryAck.counts(); return nacks }).Should(Equal(1))
			Expect(retryAck.requeue).To(BeTrue())

			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})

		It("should stop while waiting for the queue", func() {
			client.ConsumeError = errors.New("not connected")

			runCtx, cancel := context.WithCancel(ctx)
			cancel()

			Expect(reconciler.Run(runCtx)).To(MatchError(context.Canceled))
		})
	})
})
