package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "gatekeeper.v1.Monitor"

// MonitorServer is the server API of gatekeeper.v1.Monitor.  Every method
// takes and returns a google.protobuf.Struct whose fields mirror the JSON
// bodies of the HTTP API, with the event carried in "event_id".
type MonitorServer interface {
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Transition(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ManualAdmit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SelfAdmit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FacialAdmit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BulkAdmit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IssueOtp(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyOtp(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAttendanceStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPartyStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AttachParties(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(MonitorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MonitorServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(MonitorServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// MonitorServiceDesc describes gatekeeper.v1.Monitor for grpc.Server.
var MonitorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MonitorServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("GetStatus", MonitorServer.GetStatus),
		unaryMethod("Transition", MonitorServer.Transition),
		unaryMethod("ManualAdmit", MonitorServer.ManualAdmit),
		unaryMethod("SelfAdmit", MonitorServer.SelfAdmit),
		unaryMethod("FacialAdmit", MonitorServer.FacialAdmit),
		unaryMethod("BulkAdmit", MonitorServer.BulkAdmit),
		unaryMethod("IssueOtp", MonitorServer.IssueOtp),
		unaryMethod("VerifyOtp", MonitorServer.VerifyOtp),
		unaryMethod("GetAttendanceStats", MonitorServer.GetAttendanceStats),
		unaryMethod("GetPartyStatus", MonitorServer.GetPartyStatus),
		unaryMethod("AttachParties", MonitorServer.AttachParties),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gatekeeper/v1/monitor.proto",
}

func RegisterMonitorServer(s grpc.ServiceRegistrar, srv MonitorServer) {
	s.RegisterService(&MonitorServiceDesc, srv)
}
