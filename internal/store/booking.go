package store

import (
	"context"
	"time"

	"physiodesk/backend/internal/domain"
)

// BookingStore persists appointments and blocked slots. Implementations keep
// one slot claim per active occupant and insert it create-if-absent, so the
// "one active occupant per slot key" rule holds under concurrent writers.
//
// Date ranges are inclusive calendar days.
type BookingStore interface {
	GetAppointment(ctx context.Context, id string) (domain.Appointment, error)
	ListAppointments(ctx context.Context, physiotherapistID string, from, to time.Time) ([]domain.Appointment, error)
	ListUserAppointments(ctx context.Context, userID string) ([]domain.Appointment, error)

	// CreateAppointment claims the slot and stores the appointment. It returns
	// ErrConflict when the slot already has an active occupant. Replaying a
	// create with an existing id returns the stored record when it matches and
	// ErrIdempotencyConflict when it does not.
	CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)

	// UpdateAppointment overwrites status, notes and cancellation fields if the
	// stored status still equals expected (ErrInvalidState otherwise). Moving
	// to a terminal status releases the slot claim.
	UpdateAppointment(ctx context.Context, appt domain.Appointment, expected domain.Status) (domain.Appointment, error)

	GetBlockedTimeSlot(ctx context.Context, id string) (domain.BlockedTimeSlot, error)
	ListBlockedTimeSlots(ctx context.Context, physiotherapistID string, from, to time.Time) ([]domain.BlockedTimeSlot, error)
	CreateBlockedTimeSlot(ctx context.Context, block domain.BlockedTimeSlot) (domain.BlockedTimeSlot, error)
	DeleteBlockedTimeSlot(ctx context.Context, id string) error
}

// SameBooking reports whether a replayed create describes the stored appointment.
func SameBooking(stored, replay domain.Appointment) bool {
	return stored.UserID == replay.UserID &&
		stored.PhysiotherapistID == replay.PhysiotherapistID &&
		domain.Day(stored.Date).Equal(domain.Day(replay.Date)) &&
		stored.TimeSlot == replay.TimeSlot &&
		stored.Type == replay.Type
}
