package metrics

import (
	"context"
	"errors"
	"time"

	"physiodesk/backend/internal/domain"
	"physiodesk/backend/internal/service/booking"
)

// InstrumentedService records an outcome and a duration for every booking
// operation before handing the result back unchanged.
type InstrumentedService struct {
	next booking.Service
}

var _ booking.Service = (*InstrumentedService)(nil)

func InstrumentService(next booking.Service) *InstrumentedService {
	return &InstrumentedService{next: next}
}

// Outcome classifies err into a bounded label value.
func Outcome(err error) string {
	var vErr *booking.ValidationError
	var rErr *booking.RetrievalError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &vErr):
		return "invalid"
	case errors.Is(err, booking.ErrNotFound):
		return "not_found"
	case errors.Is(err, booking.ErrIdempotencyConflict):
		return "idempotency_conflict"
	case errors.Is(err, booking.ErrConflict):
		return "conflict"
	case errors.Is(err, booking.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &rErr):
		return "unavailable"
	}
	return "error"
}

func observe(op string, start time.Time, err error) {
	bookingOperationsTotal.WithLabelValues(op, Outcome(err)).Inc()
	bookingOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s *InstrumentedService) GetAvailableTimeSlots(ctx context.Context, physiotherapistID string, date time.Time) (slots []string, err error) {
	defer func(start time.Time) { observe("get_available_time_slots", start, err) }(time.Now())
	return s.next.GetAvailableTimeSlots(ctx, physiotherapistID, date)
}

func (s *InstrumentedService) CreateAppointment(ctx context.Context, in booking.CreateAppointmentInput) (appt domain.Appointment, err error) {
	defer func(start time.Time) { observe("create_appointment", start, err) }(time.Now())
	return s.next.CreateAppointment(ctx, in)
}

func (s *InstrumentedService) CancelAppointmentWithRole(ctx context.Context, appointmentID, cancelledBy string, role domain.Role) (appt domain.Appointment, err error) {
	defer func(start time.Time) { observe("cancel_appointment", start, err) }(time.Now())
	return s.next.CancelAppointmentWithRole(ctx, appointmentID, cancelledBy, role)
}

func (s *InstrumentedService) ConfirmAppointment(ctx context.Context, appointmentID string) (appt domain.Appointment, err error) {
	defer func(start time.Time) { observe("confirm_appointment", start, err) }(time.Now())
	return s.next.ConfirmAppointment(ctx, appointmentID)
}

func (s *InstrumentedService) CompleteAppointment(ctx context.Context, appointmentID string) (appt domain.Appointment, err error) {
	defer func(start time.Time) { observe("complete_appointment", start, err) }(time.Now())
	return s.next.CompleteAppointment(ctx, appointmentID)
}

func (s *InstrumentedService) UpdateAppointmentNotes(ctx context.Context, appointmentID, notes string) (appt domain.Appointment, err error) {
	defer func(start time.Time) { observe("update_appointment_notes", start, err) }(time.Now())
	return s.next.UpdateAppointmentNotes(ctx, appointmentID, notes)
}

func (s *InstrumentedService) BlockTimeSlot(ctx context.Context, in booking.BlockTimeSlotInput) (block domain.BlockedTimeSlot, err error) {
	defer func(start time.Time) { observe("block_time_slot", start, err) }(time.Now())
	return s.next.BlockTimeSlot(ctx, in)
}

func (s *InstrumentedService) UnblockTimeSlot(ctx context.Context, blockID string) (err error) {
	defer func(start time.Time) { observe("unblock_time_slot", start, err) }(time.Now())
	return s.next.UnblockTimeSlot(ctx, blockID)
}

func (s *InstrumentedService) GetBlockedTimeSlot(ctx context.Context, blockID string) (block domain.BlockedTimeSlot, err error) {
	defer func(start time.Time) { observe("get_blocked_time_slot", start, err) }(time.Now())
	return s.next.GetBlockedTimeSlot(ctx, blockID)
}

func (s *InstrumentedService) GetAppointment(ctx context.Context, appointmentID string) (appt domain.Appointment, err error) {
	defer func(start time.Time) { observe("get_appointment", start, err) }(time.Now())
	return s.next.GetAppointment(ctx, appointmentID)
}

func (s *InstrumentedService) ListAppointments(ctx context.Context, physiotherapistID string, from, to time.Time) (appts []domain.Appointment, err error) {
	defer func(start time.Time) { observe("list_appointments", start, err) }(time.Now())
	return s.next.ListAppointments(ctx, physiotherapistID, from, to)
}

func (s *InstrumentedService) ListUserAppointments(ctx context.Context, userID string) (appts []domain.Appointment, err error) {
	defer func(start time.Time) { observe("list_user_appointments", start, err) }(time.Now())
	return s.next.ListUserAppointments(ctx, userID)
}

func (s *InstrumentedService) ListBlockedTimeSlots(ctx context.Context, physiotherapistID string, from, to time.Time) (blocks []domain.BlockedTimeSlot, err error) {
	defer func(start time.Time) { observe("list_blocked_time_slots", start, err) }(time.Now())
	return s.next.ListBlockedTimeSlots(ctx, physiotherapistID, from, to)
}
