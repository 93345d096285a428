// Package frontend provides the clinician-facing web frontend: patient lists,
// reading pages with charts and sample tables.
package frontend

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"procodus.dev/gait-monitor/internal/backend"
	"procodus.dev/gait-monitor/pkg/gait"
	"procodus.dev/gait-monitor/pkg/gaitrpc"
	"procodus.dev/gait-monitor/pkg/objectstore"
)

// handleIndex serves the patients page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("handling index request")

	patients, ok := s.listPatients(w, r)
	if !ok {
		return
	}

	if err := renderIndex(r.Context(), w, patients, s.metrics); err != nil {
		s.logger.Error("failed to render index", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
}

// handleAPIPatients serves the patients table as an HTML fragment for htmx.
func (s *Server) handleAPIPatients(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("handling API patients request")

	patients, ok := s.listPatients(w, r)
	if !ok {
		return
	}

	if err := renderPatientsList(r.Context(), w, patients, s.metrics); err != nil {
		s.logger.Error("failed to render patients list", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
}

func (s *Server) listPatients(w http.ResponseWriter, r *http.Request) ([]backend.Patient, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	resp, err := s.call(ctx, gaitrpc.MethodListPatients, func(ctx context.Context) (*structpb.Struct, error) {
		return s.client.ListPatients(ctx)
	})
	if err != nil {
		s.logger.Error("failed to fetch patients", "error", err)
		http.Error(w, "Failed to fetch patients", http.StatusInternalServerError)
		return nil, false
	}

	var body struct {
		Patients []backend.Patient `json:"patients"`
	}
	if err := gaitrpc.DecodeStruct(resp, &body); err != nil {
		s.logger.Error("failed to decode patients", "error", err)
		http.Error(w, "Failed to fetch patients", http.StatusInternalServerError)
		return nil, false
	}
	return body.Patients, true
}

// handlePatient serves a patient with the list of their readings.
func (s *Server) handlePatient(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("id")
	s.logger.Debug("handling patient request", "patient_id", patientID)

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	resp, err := s.call(ctx, gaitrpc.MethodGetPatient, func(ctx context.Context) (*structpb.Struct, error) {
		return s.client.GetPatient(ctx, patientID)
	})
	if err != nil {
		s.writeBackendError(w, err, "Patient", "patient_id", patientID)
		return
	}

	var patient backend.Patient
	if err := gaitrpc.DecodeStruct(resp, &patient); err != nil {
		s.logger.Error("failed to decode patient", "error", err, "patient_id", patientID)
		http.Error(w, "Failed to fetch patient", http.StatusInternalServerError)
		return
	}

	if err := renderPatient(r.Context(), w, patient, s.metrics); err != nil {
		s.logger.Error("failed to render patient", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
}

// maxFormBytes bounds the body of the patient form.
const maxFormBytes = 64 << 10

// handleCreatePatient stores the patient from the index page form and
// redirects to its page.
func (s *Server) handleCreatePatient(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	age, err := strconv.Atoi(strings.TrimSpace(r.PostForm.Get("age")))
	if err != nil {
		http.Error(w, "Invalid age", http.StatusBadRequest)
		return
	}
	req, err := gaitrpc.EncodeStruct(backend.CreatePatientRequest{
		Name:  r.PostForm.Get("name"),
		Email: r.PostForm.Get("email"),
		Phone: r.PostForm.Get("phone"),
		Age:   age,
	})
	if err != nil {
		s.logger.Error("failed to encode patient", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	resp, err := s.call(ctx, gaitrpc.MethodCreatePatient, func(ctx context.Context) (*structpb.Struct, error) {
		return s.client.CreatePatient(ctx, req)
	})
	if err != nil {
		if status.Code(err) == codes.InvalidArgument {
			http.Error(w, status.Convert(err).Message(), http.StatusBadRequest)
			return
		}
		s.logger.Error("failed to create patient", "error", err)
		http.Error(w, "Failed to create patient", http.StatusInternalServerError)
		return
	}

	var patient backend.Patient
	if err := gaitrpc.DecodeStruct(resp, &patient); err != nil || patient.ID == "" {
		s.logger.Error("failed to decode created patient", "error", err)
		http.Error(w, "Failed to create patient", http.StatusInternalServerError)
		return
	}

	s.logger.Info("patient created from form", "patient_id", patient.ID)
	http.Redirect(w, r, "/patients/"+url.PathEscape(patient.ID), http.StatusSeeOther)
}

// handleDeletePatient removes a patient and returns to the index.
func (s *Server) handleDeletePatient(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("id")

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	_, err := s.call(ctx, gaitrpc.MethodDeletePatient, func(ctx context.Context) (*structpb.Struct, error) {
		return nil, s.client.DeletePatient(ctx, patientID)
	})
	if err != nil {
		s.writeBackendError(w, err, "Patient", "patient_id", patientID)
		return
	}

	s.logger.Info("patient deleted from form", "patient_id", patientID)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleReading resolves the payload URL over gRPC, downloads the raw bytes and
// renders the summary, chart series and sample table.
func (s *Server) handleReading(w http.ResponseWriter, r *http.Request) {
	readingID := r.PathValue("id")
	s.logger.Debug("handling reading request", "reading_id", readingID)

	policy := s.analysis.Policy
	if raw := r.URL.Query().Get("onMalformedLine"); raw != "" {
		parsed, err := gait.ParsePolicy(raw)
		if err != nil {
			http.Error(w, "Invalid onMalformedLine", http.StatusBadRequest)
			return
		}
		policy = parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	resp, err := s.call(ctx, gaitrpc.MethodGetReading, func(ctx context.Context) (*structpb.Struct, error) {
		return s.client.GetReading(ctx, readingID)
	})
	if err != nil {
		s.writeBackendError(w, err, "Reading", "reading_id", readingID)
		return
	}

	var handle backend.ReadingHandle
	if err := gaitrpc.DecodeStruct(resp, &handle); err != nil {
		s.logger.Error("failed to decode reading", "error", err, "reading_id", readingID)
		http.Error(w, "Failed to fetch reading", http.StatusInternalServerError)
		return
	}

	data, err := s.fetchPayload(ctx, handle.URL)
	if err != nil {
		s.logger.Error("failed to fetch payload", "error", err, "reading_id", readingID, "url", handle.URL)
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			http.Error(w, "Reading payload not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to fetch reading payload", http.StatusBadGateway)
		return
	}

	start := time.Now()
	analysis, err := gait.Analyze(data, s.analysis.Options(handle.Reading.CreatedAt, policy))
	s.analysisMetrics.Observe("frontend", analysis, err, time.Since(start))
	if err != nil {
		var defect *gait.DecodeDefect
		if errors.As(err, &defect) {
			s.logger.Warn("reading payload is malformed", "reading_id", readingID, "error", err)
			http.Error(w, defect.Error(), http.StatusUnprocessableEntity)
			return
		}
		s.logger.Error("failed to analyze reading", "reading_id", readingID, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	view := readingView{Handle: handle, Analysis: analysis, Policy: policy}
	if err := renderReading(r.Context(), w, view, s.metrics); err != nil {
		s.logger.Error("failed to render reading", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
}

// handleHealth serves health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
		s.logger.Error("failed to write health response", "error", err)
	}
}

// call invokes the backend and records the gRPC client metrics.
func (s *Server) call(ctx context.Context, method string, fn func(context.Context) (*structpb.Struct, error)) (*structpb.Struct, error) {
	if s.metrics == nil {
		return fn(ctx)
	}

	timer := prometheus.NewTimer(s.metrics.GRPCClientDuration.WithLabelValues(method))
	resp, err := fn(ctx)
	timer.ObserveDuration()

	if err != nil {
		s.metrics.GRPCClientCalls.WithLabelValues(method, "error").Inc()
		s.metrics.GRPCClientErrors.WithLabelValues(method, status.Code(err).String()).Inc()
		return nil, err
	}
	s.metrics.GRPCClientCalls.WithLabelValues(method, "success").Inc()
	return resp, nil
}

func (s *Server) fetchPayload(ctx context.Context, rawURL string) ([]byte, error) {
	if s.metrics == nil {
		return s.fetcher.Fetch(ctx, rawURL)
	}

	timer := prometheus.NewTimer(s.metrics.PayloadFetchDuration)
	data, err := s.fetcher.Fetch(ctx, rawURL)
	timer.ObserveDuration()

	if err != nil {
		reason := "transport"
		switch {
		case errors.Is(err, objectstore.ErrObjectNotFound):
			reason = "not_found"
		case errors.Is(err, objectstore.ErrPayloadTooLarge):
			reason = "too_large"
		case errors.Is(err, context.DeadlineExceeded):
			reason = "timeout"
		}
		s.metrics.PayloadFetchErrors.WithLabelValues(reason).Inc()
	}
	return data, err
}

// writeBackendError maps a gRPC status to an HTTP error page.
func (s *Server) writeBackendError(w http.ResponseWriter, err error, resource string, logKV ...any) {
	switch status.Code(err) {
	case codes.NotFound:
		http.Error(w, resource+" not found", http.StatusNotFound)
	case codes.InvalidArgument:
		http.Error(w, "Invalid "+strings.ToLower(resource)+" id", http.StatusBadRequest)
	default:
		s.logger.Error("failed to fetch "+strings.ToLower(resource), append([]any{"error", err}, logKV...)...)
		http.Error(w, "Failed to fetch "+strings.ToLower(resource), http.StatusInternalServerError)
	}
}
