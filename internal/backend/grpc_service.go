package backend

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"procodus.dev/gait-monitor/pkg/gaitrpc"
	"procodus.dev/gait-monitor/pkg/metrics"
)

// ReadingServiceImpl implements gaitrpc.ReadingServiceServer.
type ReadingServiceImpl struct {
	logger    *slog.Logger
	retriever *Retriever
	patients  *PatientService
	metrics   *metrics.BackendMetrics // Optional metrics
}

// NewReadingService creates a new ReadingServiceImpl instance.
func NewReadingService(logger *slog.Logger, retriever *Retriever, patients *PatientService, m *metrics.BackendMetrics) (*ReadingServiceImpl, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if retriever == nil {
		return nil, errors.New("retriever cannot be nil")
	}

	if patients == nil {
		return nil, errors.New("patient service cannot be nil")
	}

	return &ReadingServiceImpl{
		logger:    logger,
		retriever: retriever,
		patients:  patients,
		metrics:   m,
	}, nil
}

// GetReading returns the reading row and the URL its payload is served from.
func (s *ReadingServiceImpl) GetReading(ctx context.Context, req *wrapperspb.StringValue) (_ *structpb.Struct, err error) {
	defer s.track(gaitrpc.MethodGetReading)(&err)

	handle, err := s.retriever.Resolve(ctx, req.GetValue())
	if err != nil {
		return nil, s.grpcError(gaitrpc.MethodGetReading, err)
	}
	return s.encode(handle)
}

// GetPatient returns a patient with its readings.
func (s *ReadingServiceImpl) GetPatient(ctx context.Context, req *wrapperspb.StringValue) (_ *structpb.Struct, err error) {
	defer s.track(gaitrpc.MethodGetPatient)(&err)

	patient, err := s.patients.Get(ctx, req.GetValue())
	if err != nil {
		return nil, s.grpcError(gaitrpc.MethodGetPatient, err)
	}
	return s.encode(patient)
}

// ListPatients returns every patient, newest first.
func (s *ReadingServiceImpl) ListPatients(ctx context.Context, _ *emptypb.Empty) (_ *structpb.Struct, err error) {
	defer s.track(gaitrpc.MethodListPatients)(&err)

	patients, err := s.patients.List(ctx)
	if err != nil {
		return nil, s.grpcError(gaitrpc.MethodListPatients, err)
	}

	s.logger.Debug("listed patients", "count", len(patients))
	return s.encode(map[string]any{"patients": patients})
}

// CreatePatient stores a new patient from the request fields.
func (s *ReadingServiceImpl) CreatePatient(ctx context.Context, req *structpb.Struct) (_ *structpb.Struct, err error) {
	defer s.track(gaitrpc.MethodCreatePatient)(&err)

	var create CreatePatientRequest
	if err := gaitrpc.DecodeStruct(req, &create); err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid patient: "+err.Error())
	}

	patient, err := s.patients.Create(ctx, create)
	if err != nil {
		return nil, s.grpcError(gaitrpc.MethodCreatePatient, err)
	}
	return s.encode(patient)
}

// DeletePatient removes a patient, its readings and their payloads.
func (s *ReadingServiceImpl) DeletePatient(ctx context.Context, req *wrapperspb.StringValue) (_ *emptypb.Empty, err error) {
	defer s.track(gaitrpc.MethodDeletePatient)(&err)

	if err := s.patients.Delete(ctx, req.GetValue()); err != nil {
		return nil, s.grpcError(gaitrpc.MethodDeletePatient, err)
	}
	return &emptypb.Empty{}, nil
}

// track records in-flight, duration and outcome metrics for one call.
func (s *ReadingServiceImpl) track(method string) func(*error) {
	if s.metrics == nil {
		return func(*error) {}
	}

	s.metrics.GRPCRequestsInFlight.WithLabelValues(method).Inc()
	timer := prometheus.NewTimer(s.metrics.GRPCRequestDuration.WithLabelValues(method))

	return func(err *error) {
		timer.ObserveDuration()
		s.metrics.GRPCRequestsInFlight.WithLabelValues(method).Dec()
		s.metrics.GRPCRequestsTotal.WithLabelValues(method, metrics.Status(*err)).Inc()
	}
}

func (s *ReadingServiceImpl) encode(v any) (*structpb.Struct, error) {
	out, err := gaitrpc.EncodeStruct(v)
	if err != nil {
		s.logger.Error("failed to encode response", "error", err)
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

// grpcError maps the error kinds to gRPC codes.
func (s *ReadingServiceImpl) grpcError(method string, err error) error {
	switch {
	case IsValidation(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case IsNotFound(err):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "request timed out")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	default:
		s.logger.Error("gRPC request failed", "method", method, "error", err)
		return status.Error(codes.Internal, "internal storage error")
	}
}

// Ensure ReadingServiceImpl implements gaitrpc.ReadingServiceServer.
var _ gaitrpc.ReadingServiceServer = (*ReadingServiceImpl)(nil)
