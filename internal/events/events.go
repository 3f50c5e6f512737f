package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"physiodesk/backend/internal/domain"
)

type Type string

const (
	TypeAppointmentCreated   Type = "booking.appointment.created"
	TypeAppointmentConfirmed Type = "booking.appointment.confirmed"
	TypeAppointmentCancelled Type = "booking.appointment.cancelled"
	TypeAppointmentCompleted Type = "booking.appointment.completed"
	TypeTimeSlotBlocked      Type = "booking.time_slot.blocked"
	TypeTimeSlotUnblocked    Type = "booking.time_slot.unblocked"
)

// Event is the payload handed to the notification collaborator. Exactly one
// of Appointment and Block is set, except for unblock events which only
// carry BlockID.
type Event struct {
	ID                string                  `json:"event_id"`
	Type              Type                    `json:"event_type"`
	OccurredAt        time.Time               `json:"occurred_at"`
	PhysiotherapistID string                  `json:"physiotherapist_id,omitempty"`
	Appointment       *domain.Appointment     `json:"appointment,omitempty"`
	Block             *domain.BlockedTimeSlot `json:"block,omitempty"`
	BlockID           string                  `json:"block_id,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

func newEvent(typ Type, now time.Time) Event {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return Event{ID: id.String(), Type: typ, OccurredAt: now.UTC()}
}

func appointmentEvent(typ Type, appt domain.Appointment, now time.Time) Event {
	ev := newEvent(typ, now)
	ev.PhysiotherapistID = appt.PhysiotherapistID
	ev.Appointment = &appt
	return ev
}

func blockEvent(typ Type, block domain.BlockedTimeSlot, now time.Time) Event {
	ev := newEvent(typ, now)
	ev.PhysiotherapistID = block.PhysiotherapistID
	ev.Block = &block
	return ev
}
