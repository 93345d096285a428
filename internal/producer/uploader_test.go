package producer_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/gait-monitor/internal/backend"
	"procodus.dev/gait-monitor/internal/producer"
	"procodus.dev/gait-monitor/pkg/generator"
)

// recordingBackend is a minimal stand-in for the backend HTTP API.
type recordingBackend struct {
	mu       sync.Mutex
	patients []backend.CreatePatientRequest
	uploads  map[string][]byte
	fail     int
}

func (b *recordingBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/patients", func(w http.ResponseWriter, r *http.Request) {
		if b.fail != 0 {
			writeEnvelope(w, b.fail, backend.APIResponse{Error: "database unavailable"})
			return
		}
		var req backend.CreatePatientRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeEnvelope(w, http.StatusBadRequest, backend.APIResponse{Error: "invalid body: is not valid JSON"})
			return
		}
		b.mu.Lock()
		b.patients = append(b.patients, req)
		b.mu.Unlock()
		writeEnvelope(w, http.StatusCreated, backend.APIResponse{Success: true, Data: backend.Patient{ID: "p-1", Name: req.Name, Age: req.Age}})
	})
	mux.HandleFunc("POST /api/readings", func(w http.ResponseWriter, r *http.Request) {
		if b.fail != 0 {
			writeEnvelope(w, b.fail, backend.APIResponse{Error: "patient not found: " + r.FormValue("patientId")})
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeEnvelope(w, http.StatusBadRequest, backend.APIResponse{Error: "invalid file: is required"})
			return
		}
		data, _ := io.ReadAll(file)
		b.mu.Lock()
		b.uploads[r.FormValue("patientId")+"/"+header.Filename] = data
		b.mu.Unlock()
		writeEnvelope(w, http.StatusCreated, backend.APIResponse{Success: true, Data: backend.IngestResult{
			ReadingID: "r-1",
			PatientID: r.FormValue("patientId"),
			Path:      r.FormValue("patientId") + "/r-1.csv",
			SizeBytes: int64(len(data)),
		}})
	})
	return mux
}

func writeEnvelope(w http.ResponseWriter, code int, resp backend.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

var _ = Describe("Uploader", func() {
	var (
		logger   *slog.Logger
		fake     *recordingBackend
		srv      *httptest.Server
		uploader *producer.Uploader
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
		fake = &recordingBackend{uploads: map[string][]byte{}}
		srv = httptest.NewServer(fake.handler())
		DeferCleanup(srv.Close)

		var err error
		uploader, err = producer.NewUploader(&producer.UploaderConfig{Logger: logger, BackendURL: srv.URL + "/"})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewUploader", func() {
		It("should reject a nil config", func() {
			_, err := producer.NewUploader(nil)
			Expect(err).To(MatchError("uploader config cannot be nil"))
		})

		It("should require a logger", func() {
			_, err := producer.NewUploader(&producer.UploaderConfig{BackendURL: srv.URL})
			Expect(err).To(MatchError("logger cannot be nil"))
		})

		It("should require a backend URL", func() {
			_, err := producer.NewUploader(&producer.UploaderConfig{Logger: logger})
			Expect(err).To(MatchError("backend URL cannot be empty"))
		})
	})

	Describe("CreatePatient", func() {
		It("should post the generated patient and return the stored one", func() {
			p := &generator.Patient{Name: "Grace Hopper", Email: "grace@example.com", Phone: "555-0100", Age: 85}

			created, err := uploader.CreatePatient(context.Background(), p)
			Expect(err).NotTo(HaveOccurred())
			Expect(created.ID).To(Equal("p-1"))
			Expect(created.Name).To(Equal("Grace Hopper"))
			Expect(fake.patients).To(ConsistOf(backend.CreatePatientRequest{
				Name: "Grace Hopper", Email: "grace@example.com", Phone: "555-0100", Age: 85,
			}))
		})

		It("should surface the backend error message", func() {
			fake.fail = http.StatusServiceUnavailable

			_, err := uploader.CreatePatient(context.Background(), &generator.Patient{Name: "x", Age: 30})
			var statusErr *producer.StatusError
			Expect(err).To(BeAssignableToTypeOf(statusErr))
			Expect(err.Error()).To(Equal("backend returned status 503: database unavailable"))
		})

		It("should reject a nil patient", func() {
			_, err := uploader.CreatePatient(context.Background(), nil)
			Expect(err).To(MatchError("patient cannot be nil"))
		})
	})

	Describe("UploadReading", func() {
		It("should send the payload as a multipart file", func() {
			payload := []byte("0.1,9.8,0.0,0.01,0.02,0.0\n")

			result, err := uploader.UploadReading(context.Background(), "p-1", "walk.csv", payload)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.ReadingID).To(Equal("r-1"))
			Expect(result.SizeBytes).To(Equal(int64(len(payload))))
			Expect(fake.uploads).To(HaveKeyWithValue("p-1/walk.csv", payload))
		})

		It("should return a StatusError on rejection", func() {
			fake.fail = http.StatusNotFound

			_, err := uploader.UploadReading(context.Background(), "nobody", "walk.csv", []byte("1,2,3,4,5,6\n"))
			var statusErr *producer.StatusError
			Expect(err).To(BeAssignableToTypeOf(statusErr))
			Expect(err.Error()).To(ContainSubstring("patient not found: nobody"))
		})

		It("should fail when the backend is unreachable", func() {
			srv.Close()

			_, err := uploader.UploadReading(context.Background(), "p-1", "walk.csv", []byte("1,2,3,4,5,6\n"))
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(HavePrefix("failed to upload reading"))
		})
	})
})
