package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ============================================================================
// gRPC Service Definition (hand written, messages are google.protobuf.Struct)
// ============================================================================

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "openloaf.task.v1.TaskService"

// Method names.
const (
	MethodCreateTask              = "CreateTask"
	MethodGetTask                 = "GetTask"
	MethodListTasks               = "ListTasks"
	MethodUpdateTask              = "UpdateTask"
	MethodDeleteTask              = "DeleteTask"
	MethodArchiveTask             = "ArchiveTask"
	MethodCreateTemplate          = "CreateTemplate"
	MethodDeleteTemplate          = "DeleteTemplate"
	MethodListTemplates           = "ListTemplates"
	MethodCreateTaskFromTemplate  = "CreateTaskFromTemplate"
	MethodEnqueue                 = "Enqueue"
	MethodCancel                  = "Cancel"
	MethodRunTaskNow              = "RunTaskNow"
	MethodResolveReview           = "ResolveReview"
	MethodResolvePlanConfirmation = "ResolvePlanConfirmation"
	MethodReadRunLogs             = "ReadRunLogs"
	MethodGetStatus               = "GetStatus"
	MethodRefreshProjects         = "RefreshProjects"
	MethodShutdown                = "Shutdown"
	MethodSubscribeEvents         = "SubscribeEvents"
)

// FullMethod returns the "/service/method" path of a method.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// TaskServiceServer is the server interface for TaskService.
type TaskServiceServer interface {
	CreateTask(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTask(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListTasks(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateTask(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteTask(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ArchiveTask(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateTemplate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteTemplate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListTemplates(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateTaskFromTemplate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Enqueue(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Cancel(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RunTaskNow(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolveReview(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolvePlanConfirmation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReadRunLogs(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RefreshProjects(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Shutdown(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubscribeEvents(*structpb.Struct, grpc.ServerStream) error
}

type unaryFunc func(TaskServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, fn unaryFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			impl := srv.(TaskServiceServer)
			if interceptor == nil {
				return fn(impl, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return fn(impl, ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func subscribeEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(TaskServiceServer).SubscribeEvents(in, stream)
}

// TaskServiceDesc describes TaskService for grpc.Server.RegisterService.
var TaskServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TaskServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(MethodCreateTask, TaskServiceServer.CreateTask),
		unaryMethod(MethodGetTask, TaskServiceServer.GetTask),
		unaryMethod(MethodListTasks, TaskServiceServer.ListTasks),
		unaryMethod(MethodUpdateTask, TaskServiceServer.UpdateTask),
		unaryMethod(MethodDeleteTask, TaskServiceServer.DeleteTask),
		unaryMethod(MethodArchiveTask, TaskServiceServer.ArchiveTask),
		unaryMethod(MethodCreateTemplate, TaskServiceServer.CreateTemplate),
		unaryMethod(MethodDeleteTemplate, TaskServiceServer.DeleteTemplate),
		unaryMethod(MethodListTemplates, TaskServiceServer.ListTemplates),
		unaryMethod(MethodCreateTaskFromTemplate, TaskServiceServer.CreateTaskFromTemplate),
		unaryMethod(MethodEnqueue, TaskServiceServer.Enqueue),
		unaryMethod(MethodCancel, TaskServiceServer.Cancel),
		unaryMethod(MethodRunTaskNow, TaskServiceServer.RunTaskNow),
		unaryMethod(MethodResolveReview, TaskServiceServer.ResolveReview),
		unaryMethod(MethodResolvePlanConfirmation, TaskServiceServer.ResolvePlanConfirmation),
		unaryMethod(MethodReadRunLogs, TaskServiceServer.ReadRunLogs),
		unaryMethod(MethodGetStatus, TaskServiceServer.GetStatus),
		unaryMethod(MethodRefreshProjects, TaskServiceServer.RefreshProjects),
		unaryMethod(MethodShutdown, TaskServiceServer.Shutdown),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodSubscribeEvents,
			Handler:       subscribeEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "openloaf/task/v1/task.proto",
}

// RegisterTaskServiceServer registers the service with a gRPC server.
func RegisterTaskServiceServer(s grpc.ServiceRegistrar, srv TaskServiceServer) {
	s.RegisterService(&TaskServiceDesc, srv)
}
