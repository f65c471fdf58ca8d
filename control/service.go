// Package control exposes a running peer over gRPC so that commands can be
// submitted and status read from other processes.
//
// The service uses protobuf well-known wrapper types for its messages, so its
// descriptor is declared here rather than generated.
package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "mcastlock.control.v1.Control"

	// SubmitMethod is the full method name of Submit.
	SubmitMethod = "/" + ServiceName + "/Submit"

	// StatusMethod is the full method name of Status.
	StatusMethod = "/" + ServiceName + "/Status"
)

// ControlServer is the server API of the control service.
type ControlServer interface {
	// Submit runs one command (JOIN, ACQUIRE, RELEASE, EXIT) and returns the resulting status line.
	Submit(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)

	// Status returns the latest status line.
	Status(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
}

// ServiceDesc describes the control service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: submitHandler},
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mcastlock/control/v1/control.proto",
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func submitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SubmitMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControlServer).Submit(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StatusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControlServer).Status(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
