package backend

import (
	"context"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/gait-monitor/internal/backend"
	"procodus.dev/gait-monitor/pkg/mq"
	"procodus.dev/gait-monitor/pkg/objectstore"
)

var _ = Describe("Orphan reconciliation", func() {
	var (
		ctx       context.Context
		publisher *mq.Client
	)

	BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 60*time.Second)
		DeferCleanup(cancel)

		var err error
		publisher, err = mq.New(&mq.Config{
			Logger: testLogger.With("component", "test-publisher"),
			URL:    rabbitmq.URL,
			Queue:  orphanQueue,
		})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = publisher.Close() })
	})

	publish := func(notice backend.OrphanNotice) {
		body, err := notice.Marshal()
		Expect(err).NotTo(HaveOccurred())
		Eventually(func() error {
			return publisher.Push(ctx, body)
		}, 30*time.Second, time.Second).Should(Succeed())
	}

	payloadExists := func(path string) func() bool {
		return func() bool {
			_, err := services.Objects.Get(ctx, path)
			return err == nil
		}
	}

	It("should remove unreferenced payloads and keep referenced ones", func() {
		patient := createPatient(ctx)
		kept, err := uploader.UploadReading(ctx, patient.ID, "walk.csv", []byte("0.1,9.8,0.0,0.01,0.02,0.0\n"))
		Expect(err).NotTo(HaveOccurred())

		orphanPath := patient.ID + "/" + uuid.NewString() + ".csv"
		_, err = services.Objects.Upload(ctx, orphanPath, []byte("1,2,3,4,5,6\n"), "text/csv")
		Expect(err).NotTo(HaveOccurred())

		// Notices are consumed in order, so once the orphan is gone the
		// referenced notice has been handled too.
		publish(backend.OrphanNotice{
			DetectedAt: time.Now(),
			Path:       kept.Path,
			ReadingID:  kept.ReadingID,
			PatientID:  patient.ID,
			Reason:     backend.ReasonRemoveFailed,
		})
		publish(backend.OrphanNotice{
			DetectedAt: time.Now(),
			Path:       orphanPath,
			PatientID:  patient.ID,
			Reason:     backend.ReasonMetadataWriteFailed,
			Detail:     "e2e",
		})

		Eventually(payloadExists(orphanPath), 30*time.Second, 200*time.Millisecond).Should(BeFalse())
		Expect(payloadExists(kept.Path)()).To(BeTrue())

		_, err = services.Objects.Get(ctx, orphanPath)
		Expect(err).To(MatchError(objectstore.ErrObjectNotFound))
	})

	It("should drop undecodable notices and keep consuming", func() {
		Eventually(func() error {
			return publisher.Push(ctx, []byte("not a notice"))
		}, 30*time.Second, time.Second).Should(Succeed())

		orphanPath := "reconcile-e2e/" + uuid.NewString() + ".csv"
		_, err := services.Objects.Upload(ctx, orphanPath, []byte("1,2,3,4,5,6\n"), "text/csv")
		Expect(err).NotTo(HaveOccurred())

		publish(backend.OrphanNotice{DetectedAt: time.Now(), Path: orphanPath, Reason: backend.ReasonMetadataWriteFailed})

		Eventually(payloadExists(orphanPath), 30*time.Second, 200*time.Millisecond).Should(BeFalse())
	})
})
