package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"procodus.dev/gait-monitor/pkg/export"
	"procodus.dev/gait-monitor/pkg/gait"
	"procodus.dev/gait-monitor/pkg/metrics"
	"procodus.dev/gait-monitor/pkg/objectstore"
)

const (
	// DefaultRequestTimeout bounds the collaborator calls of one API request.
	DefaultRequestTimeout = 15 * time.Second
	multipartMemory       = 8 << 20
	multipartOverhead     = 1 << 20
)

// APIResponse is the envelope of every JSON API response.
type APIResponse struct {
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Success bool   `json:"success"`
}

// APIConfig holds the configuration for the API.
type APIConfig struct {
	Logger         *slog.Logger
	Ingestor       *Ingestor
	Retriever      *Retriever
	Patients       *PatientService
	Objects        objectstore.Store
	Metrics        *metrics.BackendMetrics // Optional
	RequestTimeout time.Duration
}

// API serves the JSON HTTP API and raw payload downloads.
type API struct {
	logger         *slog.Logger
	ingestor       *Ingestor
	retriever      *Retriever
	patients       *PatientService
	objects        objectstore.Store
	metrics        *metrics.BackendMetrics
	requestTimeout time.Duration
}

// NewAPI creates an API.
func NewAPI(cfg *APIConfig) (*API, error) {
	if cfg == nil {
		return nil, errors.New("api config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Ingestor == nil {
		return nil, errors.New("ingestor cannot be nil")
	}
	if cfg.Retriever == nil {
		return nil, errors.New("retriever cannot be nil")
	}
	if cfg.Patients == nil {
		return nil, errors.New("patient service cannot be nil")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store cannot be nil")
	}
	if cfg.RequestTimeout < 0 {
		return nil, errors.New("request timeout must be positive")
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}

	return &API{
		logger:         cfg.Logger,
		ingestor:       cfg.Ingestor,
		retriever:      cfg.Retriever,
		patients:       cfg.Patients,
		objects:        cfg.Objects,
		metrics:        cfg.Metrics,
		requestTimeout: timeout,
	}, nil
}

// Handler returns the instrumented router.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", a.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/patients", a.handleCreatePatient)
	mux.HandleFunc("GET /api/patients", a.handleListPatients)
	mux.HandleFunc("GET /api/patients/{id}", a.handleGetPatient)
	mux.HandleFunc("DELETE /api/patients/{id}", a.handleDeletePatient)

	mux.HandleFunc("POST /api/readings", a.handleUploadReading)
	mux.HandleFunc("GET /api/readings/{id}", a.handleGetReading)
	mux.HandleFunc("GET /api/readings/{id}/analysis", a.handleAnalyzeReading)
	mux.HandleFunc("GET /api/readings/{id}/export", a.handleExportReading)
	mux.HandleFunc("DELETE /api/readings/{id}", a.handleDeleteReading)

	mux.HandleFunc("GET /objects/{path...}", a.handleObject)

	return a.instrument(mux)
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
		a.logger.Error("failed to write health response", "error", err)
	}
}

func (a *API) handleCreatePatient(w http.ResponseWriter, r *http.Request) {
	var req CreatePatientRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		a.writeError(w, r, &ValidationError{Field: "body", Message: "is not valid JSON"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.requestTimeout)
	defer cancel()

	patient, err := a.patients.Create(ctx, req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, patient)
}

func (a *API) handleListPatients(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.requestTimeout)
	defer cancel()

	patients, err := a.patients.List(ctx)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, patients)
}

func (a *API) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.requestTimeout)
	defer cancel()

	patient, err := a.patients.Get(ctx, r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, patient)
}

func (a *API) handleDeletePatient(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.requestTimeout)
	defer cancel()

	id := r.PathValue("id")
	if err := a.patients.Delete(ctx, id); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (a *API) handleUploadReading(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.ingestor.MaxUploadBytes()+multipartOverhead)

	req, err := readUpload(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.requestTimeout)
	defer cancel()

	result, err := a.ingestor.Ingest(ctx, req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, result)
}

// readUpload extracts the patient id and file from a multipart request. A
// request without a file yields an UploadRequest with HasFile unset.
func readUpload(r *http.Request) (UploadRequest, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return UploadRequest{}, &ValidationError{Field: "file", Message: "payload too large"}
		}
		if !errors.Is(err, http.ErrNotMultipart) {
			return UploadRequest{}, &ValidationError{Field: "body", Message: "malformed multipart form"}
		}
	}

	req := UploadRequest{PatientID: r.FormValue("patientId")}

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return req, nil
		}
		return req, &ValidationError{Field: "file", Message: "could not be read"}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return req, &ValidationError{Field: "file", Message: "could not be read"}
	}

	req.HasFile = true
	req.Data = data
	req.FileName = header.Filename
	req.ContentType = header.Header.Get("Content-Type")
	return req, nil
}

func (a *API) handleGetReading(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.requestTimeout)
	defer cancel()

	handle, err := a.retriever.Resolve(ctx, r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, handle)
}

func (a *API) handleAnalyzeReading(w http.ResponseWriter, r *http.Request) {
	policy, err := policyParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.requestTimeout)
	defer cancel()

	analysis, err := a.retriever.Analyze(ctx, r.PathValue("id"), policy)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, analysis)
}

func (a *API) handleExportReading(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		a.writeError(w, r, &ValidationError{Field: "format", Message: err.Error()})
		return
	}
	policy, err := policyParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.requestTimeout)
	defer cancel()

	analysis, err := a.retriever.Analyze(ctx, r.PathValue("id"), policy)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	body, err := export.Encode(format, analysis.Analysis)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+format.FileName(analysis.Reading.ID)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		a.logger.Error("failed to write export", "reading_id", analysis.Reading.ID, "error", err)
	}
}

func (a *API) handleDeleteReading(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.requestTimeout)
	defer cancel()

	reading, err := a.patients.DeleteReading(ctx, r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, reading)
}

// handleObject serves raw payload bytes at the URLs issued by DBStore.PublicURL.
func (a *API) handleObject(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.requestTimeout)
	defer cancel()

	obj, err := a.objects.Get(ctx, r.PathValue("path"))
	if err != nil {
		switch {
		case errors.Is(err, objectstore.ErrObjectNotFound):
			http.Error(w, "Not Found", http.StatusNotFound)
		case errors.Is(err, objectstore.ErrInvalidPath):
			http.Error(w, "Bad Request", http.StatusBadRequest)
		default:
			a.logger.Error("failed to read object", "path", r.PathValue("path"), "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("ETag", `"`+obj.SHA256+`"`)
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	http.ServeContent(w, r, "", obj.CreatedAt, bytes.NewReader(obj.Data))
}

func policyParam(r *http.Request) (gait.MalformedLinePolicy, error) {
	raw := r.URL.Query().Get("onMalformedLine")
	if raw == "" {
		return "", nil
	}
	policy, err := gait.ParsePolicy(raw)
	if err != nil {
		return "", &ValidationError{Field: "onMalformedLine", Message: err.Error()}
	}
	return policy, nil
}

func (a *API) writeJSON(w http.ResponseWriter, code int, data any) {
	a.writeResponse(w, code, APIResponse{Success: true, Data: data})
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := HTTPStatus(err)
	message := err.Error()
	if code == http.StatusInternalServerError {
		a.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		message = "internal storage error"
		var storageErr *StorageError
		if errors.As(err, &storageErr) {
			message = storageErr.Backend + " storage error"
		}
	}
	a.writeResponse(w, code, APIResponse{Success: false, Error: message})
}

func (a *API) writeResponse(w http.ResponseWriter, code int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		a.logger.Error("failed to write response", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// instrument records request counts and durations by route pattern.
func (a *API) instrument(next http.Handler) http.Handler {
	if a.metrics == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		a.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		a.metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
