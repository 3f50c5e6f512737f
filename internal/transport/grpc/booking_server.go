package grpc

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"physiodesk/backend/internal/domain"
	"physiodesk/backend/internal/service/booking"
)

type BookingServer struct {
	svc         booking.Service
	log         *slog.Logger
	authEnabled bool
}

var _ BookingServiceServer = (*BookingServer)(nil)

// NewBookingServer builds the gRPC handlers. With authEnabled every call must
// carry an identity placed by AuthInterceptor.
func NewBookingServer(svc booking.Service, log *slog.Logger, authEnabled bool) *BookingServer {
	if log == nil {
		log = slog.Default()
	}
	return &BookingServer{
		svc:         svc,
		log:         log.With(slog.String("component", "grpc.booking")),
		authEnabled: authEnabled,
	}
}

// GetAvailableTimeSlots request: physiotherapist_id, date.
func (s *BookingServer) GetAvailableTimeSlots(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", MethodGetAvailableTimeSlots))

	physiotherapistID := stringField(req, "physiotherapist_id")
	if _, _, err := s.caller(ctx); err != nil {
		return nil, err
	}
	date, err := dateField(req, "date")
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_date"), slog.String("physiotherapist_id", physiotherapistID))
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	slots, err := s.svc.GetAvailableTimeSlots(ctx, physiotherapistID, date)
	if err != nil {
		return nil, s.statusError(log, "available slots lookup failed", err, slog.String("physiotherapist_id", physiotherapistID))
	}

	log.Debug("available slots listed", slog.String("physiotherapist_id", physiotherapistID), slog.Int("count", len(slots)))
	return encode(log, slotsResponse, slots)
}

// CreateAppointment request: user_id, physiotherapist_id, date, time_slot,
// status, appointment_type, rehabilitation_notes. The idempotency-key
// metadata header makes retries safe.
func (s *BookingServer) CreateAppointment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", MethodCreateAppointment))

	userID, err := s.bookingUser(ctx, stringField(req, "user_id"))
	if err != nil {
		return nil, err
	}
	date, err := dateField(req, "date")
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_date"), slog.String("user_id", userID))
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	notes, _ := rawStringField(req, "rehabilitation_notes")

	in := booking.CreateAppointmentInput{
		UserID:              userID,
		PhysiotherapistID:   stringField(req, "physiotherapist_id"),
		Date:                date,
		TimeSlot:            stringField(req, "time_slot"),
		Status:              domain.Status(strings.ToUpper(stringField(req, "status"))),
		Type:                domain.AppointmentType(strings.ToUpper(stringField(req, "appointment_type"))),
		RehabilitationNotes: notes,
		IdempotencyKey:      idempotencyKey(ctx),
	}

	appt, err := s.svc.CreateAppointment(ctx, in)
	if err != nil {
		return nil, s.statusError(log, "appointment create failed", err,
			slog.String("user_id", in.UserID),
			slog.String("physiotherapist_id", in.PhysiotherapistID),
			slog.String("time_slot", in.TimeSlot),
		)
	}

	log.Info(
		"appointment created",
		slog.String("appointment_id", appt.ID),
		slog.String("user_id", appt.UserID),
		slog.String("physiotherapist_id", appt.PhysiotherapistID),
		slog.String("date", appt.Date.Format(domain.DateLayout)),
		slog.String("time_slot", appt.TimeSlot),
	)
	return encode(log, appointmentResponse, appt)
}

// CancelAppointmentWithRole request: appointment_id, cancelled_by, role.
func (s *BookingServer) CancelAppointmentWithRole(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", MethodCancelAppointmentWithRole))

	id := stringField(req, "appointment_id")
	by := stringField(req, "cancelled_by")
	role := domain.Role(strings.ToUpper(stringField(req, "role")))

	identity, ok, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := s.requireParty(ctx, log, id); err != nil {
			return nil, err
		}
		by, role = identity.ID, identity.Role
	}

	appt, err := s.svc.CancelAppointmentWithRole(ctx, id, by, role)
	if err != nil {
		return nil, s.statusError(log, "appointment cancel failed", err, slog.String("appointment_id", id), slog.String("cancelled_by", by))
	}

	log.Info("appointment cancelled", slog.String("appointment_id", appt.ID), slog.String("cancelled_by", by), slog.String("role", string(role)))
	return encode(log, appointmentResponse, appt)
}

// ConfirmAppointment request: appointment_id.
func (s *BookingServer) ConfirmAppointment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", MethodConfirmAppointment))

	id := stringField(req, "appointment_id")
	if err := s.requireStaff(ctx); err != nil {
		return nil, err
	}
	if err := s.requireParty(ctx, log, id); err != nil {
		return nil, err
	}

	appt, err := s.svc.ConfirmAppointment(ctx, id)
	if err != nil {
		return nil, s.statusError(log, "appointment confirm failed", err, slog.String("appointment_id", id))
	}

	log.Info("appointment confirmed", slog.String("appointment_id", appt.ID))
	return encode(log, appointmentResponse, appt)
}

// CompleteAppointment request: appointment_id.
func (s *BookingServer) CompleteAppointment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", MethodCompleteAppointment))

	id := stringField(req, "appointment_id")
	if err := s.requireStaff(ctx); err != nil {
		return nil, err
	}
	if err := s.requireParty(ctx, log, id); err != nil {
		return nil, err
	}

	appt, err := s.svc.CompleteAppointment(ctx, id)
	if err != nil {
		return nil, s.statusError(log, "appointment complete failed", err, slog.String("appointment_id", id))
	}

	log.Info("appointment completed", slog.String("appointment_id", appt.ID))
	return encode(log, appointmentResponse, appt)
}

// UpdateAppointmentNotes request: appointment_id, rehabilitation_notes.
func (s *BookingServer) UpdateAppointmentNotes(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", MethodUpdateAppointmentNotes))

	id := stringField(req, "appointment_id")
	notes, ok := rawStringField(req, "rehabilitation_notes")
	if !ok {
		log.Warn("invalid request", slog.String("reason", "missing_notes"), slog.String("appointment_id", id))
		return nil, status.Error(codes.InvalidArgument, "rehabilitation_notes is required")
	}

	if err := s.requireStaff(ctx); err != nil {
		return nil, err
	}
	if err := s.requireParty(ctx, log, id); err != nil {
		return nil, err
	}

	appt, err := s.svc.UpdateAppointmentNotes(ctx, id, notes)
	if err != nil {
		return nil, s.statusError(log, "appointment notes update failed", err, slog.String("appointment_id", id))
	}

	log.Info("appointment notes updated", slog.String("appointment_id", appt.ID))
	return encode(log, appointmentResponse, appt)
}

// BlockTimeSlot request: physiotherapist_id, date, time_slot, reason.
func (s *BookingServer) BlockTimeSlot(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", MethodBlockTimeSlot))

	physiotherapistID := stringField(req, "physiotherapist_id")
	if err := s.requireStaff(ctx); err != nil {
		return nil, err
	}
	if err := s.requireActsFor(ctx, physiotherapistID); err != nil {
		return nil, err
	}
	date, err := dateField(req, "date")
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_date"), slog.String("physiotherapist_id", physiotherapistID))
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	block, err := s.svc.BlockTimeSlot(ctx, booking.BlockTimeSlotInput{
		PhysiotherapistID: physiotherapistID,
		Date:              date,
		TimeSlot:          stringField(req, "time_slot"),
		Reason:            stringField(req, "reason"),
	})
	if err != nil {
		return nil, s.statusError(log, "time slot block failed", err, slog.String("physiotherapist_id", physiotherapistID))
	}

	log.Info(
		"time slot blocked",
		slog.String("block_id", block.ID),
		slog.String("physiotherapist_id", block.PhysiotherapistID),
		slog.String("date", block.Date.Format(domain.DateLayout)),
		slog.String("time_slot", block.TimeSlot),
	)
	return encode(log, blockResponse, block)
}

// UnblockTimeSlot request: block_id.
func (s *BookingServer) UnblockTimeSlot(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", MethodUnblockTimeSlot))

	id := stringField(req, "block_id")
	if err := s.requireStaff(ctx); err != nil {
		return nil, err
	}
	if err := s.requireBlockOwner(ctx, log, id); err != nil {
		return nil, err
	}
	if err := s.svc.UnblockTimeSlot(ctx, id); err != nil {
		return nil, s.statusError(log, "time slot unblock failed", err, slog.String("block_id", id))
	}

	log.Info("time slot unblocked", slog.String("block_id", id))
	return &structpb.Struct{}, nil
}

// GetAppointment request: appointment_id.
func (s *BookingServer) GetAppointment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", MethodGetAppointment))

	id := stringField(req, "appointment_id")
	appt, err := s.svc.GetAppointment(ctx, id)
	if err != nil {
		return nil, s.statusError(log, "appointment get failed", err, slog.String("appointment_id", id))
	}
	if identity, ok, err := s.caller(ctx); err != nil {
		return nil, err
	} else if ok && !identity.CanAccess(appt) {
		return nil, status.Error(codes.PermissionDenied, "not a party to this appointment")
	}
	return encode(log, appointmentResponse, appt)
}

// ListAppointments request: physiotherapist_id, from, to.
func (s *BookingServer) ListAppointments(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", MethodListAppointments))

	physiotherapistID := stringField(req, "physiotherapist_id")
	if err := s.requireStaff(ctx); err != nil {
		return nil, err
	}
	if err := s.requireActsFor(ctx, physiotherapistID); err != nil {
		return nil, err
	}
	from, to, err := rangeFields(req)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_range"), slog.String("physiotherapist_id", physiotherapistID))
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	appts, err := s.svc.ListAppointments(ctx, physiotherapistID, from, to)
	if err != nil {
		return nil, s.statusError(log, "appointments list failed", err, slog.String("physiotherapist_id", physiotherapistID))
	}

	log.Debug("appointments listed", slog.String("physiotherapist_id", physiotherapistID), slog.Int("count", len(appts)))
	return encode(log, appointmentsResponse, appts)
}

// ListUserAppointments request: user_id.
func (s *BookingServer) ListUserAppointments(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", MethodListUserAppointments))

	userID := stringField(req, "user_id")
	if err := s.requireActsFor(ctx, userID); err != nil {
		return nil, err
	}
	appts, err := s.svc.ListUserAppointments(ctx, userID)
	if err != nil {
		return nil, s.statusError(log, "user appointments list failed", err, slog.String("user_id", userID))
	}

	log.Debug("user appointments listed", slog.String("user_id", userID), slog.Int("count", len(appts)))
	return encode(log, appointmentsResponse, appts)
}

// ListBlockedTimeSlots request: physiotherapist_id, from, to.
func (s *BookingServer) ListBlockedTimeSlots(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", MethodListBlockedTimeSlots))

	physiotherapistID := stringField(req, "physiotherapist_id")
	if err := s.requireStaff(ctx); err != nil {
		return nil, err
	}
	if err := s.requireActsFor(ctx, physiotherapistID); err != nil {
		return nil, err
	}
	from, to, err := rangeFields(req)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_range"), slog.String("physiotherapist_id", physiotherapistID))
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	blocks, err := s.svc.ListBlockedTimeSlots(ctx, physiotherapistID, from, to)
	if err != nil {
		return nil, s.statusError(log, "blocked slots list failed", err, slog.String("physiotherapist_id", physiotherapistID))
	}
	return encode(log, blocksResponse, blocks)
}

func rangeFields(req *structpb.Struct) (from, to time.Time, err error) {
	if from, err = dateField(req, "from"); err != nil {
		return
	}
	to, err = dateField(req, "to")
	return
}

func encode[T any](log *slog.Logger, build func(T) (*structpb.Struct, error), v T) (*structpb.Struct, error) {
	out, err := build(v)
	if err != nil {
		log.Error("response encoding failed", slog.Any("err", err))
		return nil, status.Error(codes.Internal, "internal error")
	}
	return out, nil
}

// statusError maps coordinator errors onto gRPC codes and logs them at the
// level matching their cause.
func (s *BookingServer) statusError(log *slog.Logger, msg string, err error, attrs ...any) error {
	args := append([]any{slog.Any("err", err)}, attrs...)

	var vErr *booking.ValidationError
	if errors.As(err, &vErr) {
		log.Warn("invalid request", args...)
		return status.Error(codes.InvalidArgument, vErr.Error())
	}

	var rErr *booking.RetrievalError
	switch {
	case errors.Is(err, booking.ErrNotFound):
		log.Info(msg, args...)
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, booking.ErrIdempotencyConflict):
		log.Info(msg, args...)
		return status.Error(codes.FailedPrecondition, "This request key was already used for a different appointment. Try again.")
	case errors.Is(err, booking.ErrConflict):
		log.Info(msg, args...)
		return status.Error(codes.FailedPrecondition, "That time slot is already taken. Pick a different slot.")
	case errors.Is(err, booking.ErrInvalidState):
		log.Info(msg, args...)
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn(msg, args...)
		return status.Error(codes.DeadlineExceeded, "request timed out")
	case errors.Is(err, context.Canceled):
		log.Info(msg, args...)
		return status.Error(codes.Canceled, "request canceled")
	case errors.As(err, &rErr):
		log.Error(msg, args...)
		return status.Error(codes.Unavailable, "booking store unavailable")
	}
	log.Error(msg, args...)
	return status.Error(codes.Internal, "internal error")
}

func idempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("idempotency-key")
	if len(values) == 0 {
		values = md.Get("x-idempotency-key")
	}
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}
