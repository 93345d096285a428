package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/gait-monitor/internal/backend"
	"procodus.dev/gait-monitor/internal/frontend"
	"procodus.dev/gait-monitor/pkg/gait"
	"procodus.dev/gait-monitor/pkg/generator"
)

var _ = Describe("Frontend over the running backend", func() {
	var (
		ctx     context.Context
		handler http.Handler
	)

	BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		DeferCleanup(cancel)

		step := gait.DefaultStepConfig()
		server, err := frontend.NewServer(&frontend.ServerConfig{
			Logger:   testLogger,
			HTTPPort: 18092,
			Client:   grpcClient,
			Analysis: backend.AnalysisConfig{StepDetection: &step},
		})
		Expect(err).NotTo(HaveOccurred())
		handler = server.Handler()
	})

	get := func(target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil).WithContext(ctx))
		return rec
	}

	It("should list patients, their readings and render a reading page", func() {
		patient := createPatient(ctx)
		payload := generator.NewIMUGenerator(96, 7).Reading(30 * time.Second)
		result, err := uploader.UploadReading(ctx, patient.ID, "session.csv", payload)
		Expect(err).NotTo(HaveOccurred())

		index := get("/")
		Expect(index.Code).To(Equal(http.StatusOK))
		Expect(index.Body.String()).To(ContainSubstring(`href="/patients/` + patient.ID + `"`))

		page := get("/patients/" + patient.ID)
		Expect(page.Code).To(Equal(http.StatusOK))
		Expect(page.Body.String()).To(ContainSubstring(`href="/readings/` + result.ReadingID + `"`))
		Expect(page.Body.String()).To(ContainSubstring("session.csv"))

		reading := get("/readings/" + result.ReadingID)
		Expect(reading.Code).To(Equal(http.StatusOK))
		body := reading.Body.String()
		Expect(body).To(ContainSubstring("<dt>Samples</dt><dd>300</dd>"))
		Expect(body).To(ContainSubstring("<dt>Duration</dt><dd>30 s</dd>"))
		Expect(body).To(ContainSubstring("<dt>Steps</dt>"))
		Expect(body).To(ContainSubstring(`<script id="chart-data" type="application/json">`))
	})

	It("should report a malformed payload instead of rendering it", func() {
		patient := createPatient(ctx)
		result, err := uploader.UploadReading(ctx, patient.ID, "broken.csv", []byte("0.1,9.8,0.0\n"))
		Expect(err).NotTo(HaveOccurred())

		Expect(get("/readings/" + result.ReadingID).Code).To(Equal(http.StatusUnprocessableEntity))
		Expect(get("/readings/" + result.ReadingID + "?onMalformedLine=skip").Code).To(Equal(http.StatusOK))
	})
})
