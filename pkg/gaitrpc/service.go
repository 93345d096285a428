// Package gaitrpc defines the gait.v1.ReadingService gRPC contract shared by
// the backend and the frontend. Messages are well-known protobuf types, so
// the service descriptor is declared here instead of generated.
package gaitrpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "gait.v1.ReadingService"

// Method names of ReadingService.
const (
	MethodGetReading    = "GetReading"
	MethodGetPatient    = "GetPatient"
	MethodListPatients  = "ListPatients"
	MethodCreatePatient = "CreatePatient"
	MethodDeletePatient = "DeletePatient"
)

// ReadingServiceServer is the server API for ReadingService.
type ReadingServiceServer interface {
	// GetReading returns the reading row and its payload URL for a reading id.
	GetReading(ctx context.Context, id *wrapperspb.StringValue) (*structpb.Struct, error)
	// GetPatient returns a patient and its readings for a patient id.
	GetPatient(ctx context.Context, id *wrapperspb.StringValue) (*structpb.Struct, error)
	// ListPatients returns {"patients": [...]}.
	ListPatients(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	// CreatePatient stores a patient from {"name", "email", "phone", "age"} and returns it.
	CreatePatient(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	// DeletePatient removes a patient with its readings and payloads.
	DeletePatient(ctx context.Context, id *wrapperspb.StringValue) (*emptypb.Empty, error)
}

// ServiceDesc is the grpc.ServiceDesc for ReadingService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReadingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodGetReading, Handler: unaryHandler(MethodGetReading, ReadingServiceServer.GetReading)},
		{MethodName: MethodGetPatient, Handler: unaryHandler(MethodGetPatient, ReadingServiceServer.GetPatient)},
		{MethodName: MethodListPatients, Handler: unaryHandler(MethodListPatients, ReadingServiceServer.ListPatients)},
		{MethodName: MethodCreatePatient, Handler: unaryHandler(MethodCreatePatient, ReadingServiceServer.CreatePatient)},
		{MethodName: MethodDeletePatient, Handler: unaryHandler(MethodDeletePatient, ReadingServiceServer.DeletePatient)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gait/v1/reading_service.proto",
}

// RegisterReadingServiceServer registers srv on s.
func RegisterReadingServiceServer(s grpc.ServiceRegistrar, srv ReadingServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unaryHandler[Req, Resp any](method string, call func(ReadingServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	name := fullMethod(method)

	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		impl := srv.(ReadingServiceServer)
		if interceptor == nil {
			return call(impl, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: name}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(impl, ctx, req.(*Req))
		})
	}
}

// ReadingServiceClient is the client API for ReadingService.
type ReadingServiceClient interface {
	GetReading(ctx context.Context, id string, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetPatient(ctx context.Context, id string, opts ...grpc.CallOption) (*structpb.Struct, error)
	ListPatients(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error)
	CreatePatient(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	DeletePatient(ctx context.Context, id string, opts ...grpc.CallOption) error
}

type readingServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewReadingServiceClient creates a ReadingServiceClient over cc.
func NewReadingServiceClient(cc grpc.ClientConnInterface) ReadingServiceClient {
	return &readingServiceClient{cc: cc}
}

func (c *readingServiceClient) GetReading(ctx context.Context, id string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(MethodGetReading), wrapperspb.String(id), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *readingServiceClient) GetPatient(ctx context.Context, id string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(MethodGetPatient), wrapperspb.String(id), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *readingServiceClient) ListPatients(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(MethodListPatients), &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *readingServiceClient) CreatePatient(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(MethodCreatePatient), req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *readingServiceClient) DeletePatient(ctx context.Context, id string, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, fullMethod(MethodDeletePatient), wrapperspb.String(id), new(emptypb.Empty), opts...)
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// EncodeStruct converts v to a Struct through its JSON encoding. v must
// encode as a JSON object.
func EncodeStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to convert %T to struct: %w", v, err)
	}
	return out, nil
}

// DecodeStruct fills v from s through the JSON encoding of s.
func DecodeStruct(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode struct: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode struct into %T: %w", v, err)
	}
	return nil
}
