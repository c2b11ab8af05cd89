package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "ephys.v1.EphysEngine"

// EphysEngineServer is the server API. Requests and responses are
// google.protobuf.Struct documents; see handlers.go for their shape.
type EphysEngineServer interface {
	Classify(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RunQuery(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Health(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterEphysEngineServer registers srv on s.
func RegisterEphysEngineServer(s grpc.ServiceRegistrar, srv EphysEngineServer) {
	s.RegisterService(&EphysEngineServiceDesc, srv)
}

type unaryCall func(EphysEngineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(EphysEngineServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(EphysEngineServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// EphysEngineServiceDesc describes the service for grpc.Server.RegisterService.
var EphysEngineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EphysEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Classify", EphysEngineServer.Classify),
		unaryHandler("RunQuery", EphysEngineServer.RunQuery),
		unaryHandler("GetRun", EphysEngineServer.GetRun),
		unaryHandler("Health", EphysEngineServer.Health),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ephys/v1/engine.proto",
}

// EphysEngineClient calls the service over a client connection.
type EphysEngineClient struct {
	cc grpc.ClientConnInterface
}

// NewEphysEngineClient wraps cc.
func NewEphysEngineClient(cc grpc.ClientConnInterface) *EphysEngineClient {
	return &EphysEngineClient{cc: cc}
}

func (c *EphysEngineClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Classify classifies the requested cells.
func (c *EphysEngineClient) Classify(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Classify", in, opts...)
}

// RunQuery runs a feature query.
func (c *EphysEngineClient) RunQuery(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "RunQuery", in, opts...)
}

// GetRun fetches a stored classification run.
func (c *EphysEngineClient) GetRun(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetRun", in, opts...)
}

// Health reports service status.
func (c *EphysEngineClient) Health(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Health", in, opts...)
}
