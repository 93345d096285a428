package backend_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/gait-monitor/internal/backend"
	objmock "procodus.dev/gait-monitor/pkg/objectstore/mock"
)

var _ = Describe("PatientService", func() {
	var (
		ctx      context.Context
		metadata *memMetadataStore
		objects  *objmock.MockStore
		orphans  *recordingReporter
		ingestor *backend.Ingestor
		service  *backend.PatientService
	)

	BeforeEach(func() {
		ctx = context.Background()
		metadata = newMemMetadataStore()
		objects = objmock.NewMockStore()
		orphans = &recordingReporter{}

		var err error
		ingestor, err = backend.NewIngestor(&backend.IngestorConfig{
			Logger:   newTestLogger(),
			Metadata: metadata,
			Objects:  objects,
		})
		Expect(err).NotTo(HaveOccurred())

		service, err = backend.NewPatientService(&backend.PatientServiceConfig{
			Logger:   newTestLogger(),
			Metadata: metadata,
			Objects:  objects,
			Orphans:  orphans,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	upload := func(patientID string) *backend.IngestResult {
		result, err := ingestor.Ingest(ctx, backend.UploadRequest{
			PatientID: patientID,
			FileName:  "walk.csv",
			Data:      []byte(samplePayload),
			HasFile:   true,
		})
		Expect(err).NotTo(HaveOccurred())
		return result
	}

	Describe("Create", func() {
		It("should assign an id and start with no readings", func() {
			patient, err := service.Create(ctx, backend.CreatePatientRequest{
				Name:  " Grace Hopper ",
				Age:   85,
				Email: "grace@example.com",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(patient.ID).To(HaveLen(36))
			Expect(patient.Name).To(Equal("Grace Hopper"))
			Expect(patient.ReadingsCount).To(BeZero())
		})

		DescribeTable("should validate fields",
			func(req backend.CreatePatientRequest, field string) {
				_, err := service.Create(ctx, req)
				var vErr *backend.ValidationError
				Expect(errors.As(err, &vErr)).To(BeTrue())
				Expect(vErr.Field).To(Equal(field))
			},
			Entry("missing name", backend.CreatePatientRequest{Age: 30}, "name"),
			Entry("negative age", backend.CreatePatientRequest{Name: "A", Age: -1}, "age"),
			Entry("implausible age", backend.CreatePatientRequest{Name: "A", Age: 200}, "age"),
			Entry("bad email", backend.CreatePatientRequest{Name: "A", Age: 30, Email: "nope"}, "email"),
		)
	})

	Describe("Get", func() {
		It("should include the patient's readings", func() {
			metadata.addPatient("p-1", "Ada")
			upload("p-1")
			upload("p-1")

			patient, err := service.Get(ctx, "p-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(patient.Readings).To(HaveLen(2))
			Expect(patient.ReadingsCount).To(Equal(int64(2)))
		})

		It("should return not found for unknown patients", func() {
			_, err := service.Get(ctx, "nobody")
			Expect(backend.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("Delete", func() {
		It("should remove all payloads in one call", func() {
			metadata.addPatient("p-1", "Ada")
			first := upload("p-1")
			second := upload("p-1")

			Expect(service.Delete(ctx, "p-1")).To(Succeed())

			Expect(objects.RemoveCalls).To(HaveLen(1))
			Expect(objects.RemoveCalls[0]).To(ConsistOf(first.Path, second.Path))
			Expect(objects.Len()).To(BeZero())
			Expect(metadata.readingCount()).To(BeZero())
		})

		It("should not call the object store for a patient without readings", func() {
			metadata.addPatient("p-2", "Bob")

			Expect(service.Delete(ctx, "p-2")).To(Succeed())
			Expect(objects.RemoveCalls).To(BeEmpty())
		})

		It("should report orphans when payload removal fails", func() {
			metadata.addPatient("p-1", "Ada")
			result := upload("p-1")
			objects.RemoveError = errors.New("timeout")

			Expect(service.Delete(ctx, "p-1")).To(Succeed())

			notices := orphans.Notices()
			Expect(notices).To(HaveLen(1))
			Expect(notices[0].Path).To(Equal(result.Path))
			Expect(notices[0].Reason).To(Equal(backend.ReasonRemoveFailed))
		})

		It("should return not found for unknown patients", func() {
			Expect(backend.IsNotFound(service.Delete(ctx, "nobody"))).To(BeTrue())
		})
	})

	Describe("DeleteReading", func() {
		It("should delete the row, decrement the counter and remove the payload", func() {
			metadata.addPatient("p-1", "Ada")
			result := upload("p-1")

			reading, err := service.DeleteReading(ctx, result.ReadingID)
			Expect(err).NotTo(HaveOccurred())
			Expect(reading.FilePath).To(Equal(result.Path))
			Expect(metadata.readingsCount("p-1")).To(BeZero())
			Expect(objects.Has(result.Path)).To(BeFalse())
		})

		It("should return not found for unknown readings", func() {
			_, err := service.DeleteReading(ctx, "missing")
			Expect(backend.IsNotFound(err)).To(BeTrue())
		})
	})
})
