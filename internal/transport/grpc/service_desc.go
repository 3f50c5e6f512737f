package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name. Requests and
// responses are google.protobuf.Struct messages; field names are listed on
// each BookingServer method.
const ServiceName = "physiodesk.booking.v1.BookingService"

const (
	MethodGetAvailableTimeSlots     = "GetAvailableTimeSlots"
	MethodCreateAppointment         = "CreateAppointment"
	MethodCancelAppointmentWithRole = "CancelAppointmentWithRole"
	MethodConfirmAppointment        = "ConfirmAppointment"
	MethodCompleteAppointment       = "CompleteAppointment"
	MethodUpdateAppointmentNotes    = "UpdateAppointmentNotes"
	MethodBlockTimeSlot             = "BlockTimeSlot"
	MethodUnblockTimeSlot           = "UnblockTimeSlot"
	MethodGetAppointment            = "GetAppointment"
	MethodListAppointments          = "ListAppointments"
	MethodListUserAppointments      = "ListUserAppointments"
	MethodListBlockedTimeSlots      = "ListBlockedTimeSlots"
)

// BookingServiceServer is the server API for BookingService.
type BookingServiceServer interface {
	GetAvailableTimeSlots(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateAppointment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelAppointmentWithRole(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ConfirmAppointment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CompleteAppointment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateAppointmentNotes(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BlockTimeSlot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UnblockTimeSlot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAppointment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListAppointments(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListUserAppointments(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListBlockedTimeSlots(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(srv BookingServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(BookingServiceServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var BookingServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BookingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler(MethodGetAvailableTimeSlots, BookingServiceServer.GetAvailableTimeSlots),
		unaryHandler(MethodCreateAppointment, BookingServiceServer.CreateAppointment),
		unaryHandler(MethodCancelAppointmentWithRole, BookingServiceServer.CancelAppointmentWithRole),
		unaryHandler(MethodConfirmAppointment, BookingServiceServer.ConfirmAppointment),
		unaryHandler(MethodCompleteAppointment, BookingServiceServer.CompleteAppointment),
		unaryHandler(MethodUpdateAppointmentNotes, BookingServiceServer.UpdateAppointmentNotes),
		unaryHandler(MethodBlockTimeSlot, BookingServiceServer.BlockTimeSlot),
		unaryHandler(MethodUnblockTimeSlot, BookingServiceServer.UnblockTimeSlot),
		unaryHandler(MethodGetAppointment, BookingServiceServer.GetAppointment),
		unaryHandler(MethodListAppointments, BookingServiceServer.ListAppointments),
		unaryHandler(MethodListUserAppointments, BookingServiceServer.ListUserAppointments),
		unaryHandler(MethodListBlockedTimeSlots, BookingServiceServer.ListBlockedTimeSlots),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "physiodesk/booking/v1/booking.proto",
}

func RegisterBookingServiceServer(s grpc.ServiceRegistrar, srv BookingServiceServer) {
	s.RegisterService(&BookingServiceDesc, srv)
}

// BookingClient invokes BookingService methods over conn.
type BookingClient struct {
	cc grpc.ClientConnInterface
}

func NewBookingClient(cc grpc.ClientConnInterface) *BookingClient {
	return &BookingClient{cc: cc}
}

func (c *BookingClient) Call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
