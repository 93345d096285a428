package gaitrpc_test

import (
	"context"
	"net"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"procodus.dev/gait-monitor/pkg/gaitrpc"
)

type summary struct {
	ID      string   `json:"id"`
	Samples int      `json:"samples"`
	Tags    []string `json:"tags,omitempty"`
}

// echoServer answers every call with the id it was asked for.
type echoServer struct{}

func (echoServer) GetReading(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	return gaitrpc.EncodeStruct(summary{ID: req.GetValue(), Samples: 3})
}

func (echoServer) GetPatient(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	return gaitrpc.EncodeStruct(map[string]string{"id": req.GetValue()})
}

func (echoServer) ListPatients(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return gaitrpc.EncodeStruct(map[string]any{"patients": []summary{{ID: "a"}, {ID: "b"}}})
}

func (echoServer) CreatePatient(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := req.GetFields()["name"].GetStringValue()
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "name is required")
	}
	return gaitrpc.EncodeStruct(map[string]any{"id": "p-new", "name": name})
}

func (echoServer) DeletePatient(_ context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if req.GetValue() == "p-404" {
		return nil, status.Error(codes.NotFound, "patient not found")
	}
	return &emptypb.Empty{}, nil
}

var _ = Describe("ReadingService", func() {
	var (
		ctx    context.Context
		server *grpc.Server
		conn   *grpc.ClientConn
		client gaitrpc.ReadingServiceClient
	)

	BeforeEach(func() {
		ctx = context.Background()
		lis := bufconn.Listen(1 << 20)
		server = grpc.NewServer()
		gaitrpc.RegisterReadingServiceServer(server, echoServer{})
		go func() {
			defer GinkgoRecover()
			_ = server.Serve(lis)
		}()

		var err error
		conn, err = grpc.NewClient("passthrough:///bufnet",
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		Expect(err).NotTo(HaveOccurred())
		client = gaitrpc.NewReadingServiceClient(conn)
	})

	AfterEach(func() {
		Expect(conn.Close()).To(Succeed())
		server.Stop()
	})

	It("should round-trip GetReading", func() {
		resp, err := client.GetReading(ctx, "r-1")
		Expect(err).NotTo(HaveOccurred())

		var out summary
		Expect(gaitrpc.DecodeStruct(resp, &out)).To(Succeed())
		Expect(out).To(Equal(summary{ID: "r-1", Samples: 3}))
	})

	It("should round-trip GetPatient", func() {
		resp, err := client.GetPatient(ctx, "p-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.GetFields()["id"].GetStringValue()).To(Equal("p-1"))
	})

	It("should round-trip ListPatients", func() {
		resp, err := client.ListPatients(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.GetFields()["patients"].GetListValue().GetValues()).To(HaveLen(2))
	})

	It("should round-trip CreatePatient", func() {
		req, err := gaitrpc.EncodeStruct(map[string]any{"name": "Ada", "age": 36})
		Expect(err).NotTo(HaveOccurred())

		resp, err := client.CreatePatient(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.GetFields()["id"].GetStringValue()).To(Equal("p-new"))
		Expect(resp.GetFields()["name"].GetStringValue()).To(Equal("Ada"))
	})

	It("should round-trip DeletePatient", func() {
		Expect(client.DeletePatient(ctx, "p-1")).To(Succeed())
		Expect(status.Code(client.DeletePatient(ctx, "p-404"))).To(Equal(codes.NotFound))
	})

	It("should carry status codes to the client", func() {
		_, err := client.GetReading(ctx, "")
		Expect(status.Code(err)).To(Equal(codes.InvalidArgument))
	})

	It("should report the service in the descriptor", func() {
		Expect(gaitrpc.ServiceDesc.ServiceName).To(Equal(gaitrpc.ServiceName))
		Expect(gaitrpc.ServiceDesc.Methods).To(HaveLen(5))
	})
})

var _ = Describe("Struct encoding", func() {
	It("should convert a struct through its JSON form", func() {
		s, err := gaitrpc.EncodeStruct(summary{ID: "x", Samples: 2, Tags: []string{"walk"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(s.GetFields()["samples"].GetNumberValue()).To(Equal(2.0))

		var out summary
		Expect(gaitrpc.DecodeStruct(s, &out)).To(Succeed())
		Expect(out.Tags).To(ConsistOf("walk"))
	})

	It("should reject values that are not JSON objects", func() {
		_, err := gaitrpc.EncodeStruct([]int{1, 2})
		Expect(err).To(HaveOccurred())
	})

	It("should reject values that cannot be encoded", func() {
		_, err := gaitrpc.EncodeStruct(map[string]any{"ch": make(chan int)})
		Expect(err).To(MatchError(ContainSubstring("failed to encode")))
	})
})
