package grpc_server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "coursemarket.learning.v1.LearningService"

// Полные имена методов для клиента.
const (
	MethodGetProgress          = "/" + ServiceName + "/GetProgress"
	MethodRecordLessonProgress = "/" + ServiceName + "/RecordLessonProgress"
	MethodReconcileCheckout    = "/" + ServiceName + "/ReconcileCheckout"
	MethodReconcileStale       = "/" + ServiceName + "/ReconcileStale"
)

// LearningService - внутренний API для соседних сервисов. Сообщения -
// google.protobuf.Struct, поэтому генерированный код не нужен.
type LearningService interface {
	GetProgress(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecordLessonProgress(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReconcileCheckout(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReconcileStale(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var LearningServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LearningService)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetProgress", LearningService.GetProgress),
		unary("RecordLessonProgress", LearningService.RecordLessonProgress),
		unary("ReconcileCheckout", LearningService.ReconcileCheckout),
		unary("ReconcileStale", LearningService.ReconcileStale),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "coursemarket/learning/v1/learning.proto",
}

func RegisterLearningServiceServer(s grpc.ServiceRegistrar, srv LearningService) {
	s.RegisterService(&LearningServiceDesc, srv)
}

func unary(name string, call func(LearningService, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LearningService), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(LearningService), ctx, req.(*structpb.Struct))
			})
		},
	}
}
