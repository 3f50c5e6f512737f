package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type AppointmentType string

const (
	AppointmentTypeInPerson AppointmentType = "IN_PERSON"
	AppointmentTypeRemote   AppointmentType = "REMOTE"
)

func (t AppointmentType) Valid() bool {
	return t == AppointmentTypeInPerson || t == AppointmentTypeRemote
}

// Role identifies who acted on an appointment.
type Role string

const (
	RoleUser            Role = "USER"
	RolePhysiotherapist Role = "PHYSIOTHERAPIST"
	RoleAdmin           Role = "ADMIN"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RolePhysiotherapist, RoleAdmin:
		return true
	}
	return false
}

type Appointment struct {
	bun.BaseModel `bun:"table:appointments" bson:"-" json:"-"`

	ID                  string          `bun:"id,pk,type:uuid" bson:"_id" json:"id"`
	UserID              string          `bun:"user_id,notnull" bson:"user_id" json:"user_id"`
	PhysiotherapistID   string          `bun:"physiotherapist_id,notnull" bson:"physiotherapist_id" json:"physiotherapist_id"`
	Date                time.Time       `bun:"date,type:date,notnull" bson:"date" json:"date"`
	TimeSlot            string          `bun:"time_slot,notnull" bson:"time_slot" json:"time_slot"`
	Status              Status          `bun:"status,notnull" bson:"status" json:"status"`
	Type                AppointmentType `bun:"appointment_type,notnull" bson:"appointment_type" json:"appointment_type"`
	RehabilitationNotes string          `bun:"rehabilitation_notes,nullzero" bson:"rehabilitation_notes" json:"rehabilitation_notes"`
	CancelledBy         string          `bun:"cancelled_by,nullzero" bson:"cancelled_by,omitempty" json:"cancelled_by,omitempty"`
	CancelledByRole     Role            `bun:"cancelled_by_role,nullzero" bson:"cancelled_by_role,omitempty" json:"cancelled_by_role,omitempty"`
	CancelledAt         *time.Time      `bun:"cancelled_at" bson:"cancelled_at,omitempty" json:"cancelled_at,omitempty"`
	CreatedAt           time.Time       `bun:"created_at,notnull" bson:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `bun:"updated_at,notnull" bson:"updated_at" json:"updated_at"`
}

func (a Appointment) Key() SlotKey {
	return SlotKey{PhysiotherapistID: a.PhysiotherapistID, Date: a.Date, TimeSlot: a.TimeSlot}
}

// Active reports whether the appointment occupies its slot.
func (a Appointment) Active() bool {
	return a.Status.Active()
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if err := a.EnsureID(); err != nil {
			return err
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = a.CreatedAt
		}
	case *bun.UpdateQuery:
		a.UpdatedAt = now
	}
	return nil
}

// EnsureID assigns a time-ordered id when none is set.
func (a *Appointment) EnsureID() error {
	if a.ID != "" {
		return nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	a.ID = id.String()
	return nil
}

type BlockedTimeSlot struct {
	bun.BaseModel `bun:"table:blocked_time_slots" bson:"-" json:"-"`

	ID                string    `bun:"id,pk,type:uuid" bson:"_id" json:"id"`
	PhysiotherapistID string    `bun:"physiotherapist_id,notnull" bson:"physiotherapist_id" json:"physiotherapist_id"`
	Date              time.Time `bun:"date,type:date,notnull" bson:"date" json:"date"`
	TimeSlot          string    `bun:"time_slot,notnull" bson:"time_slot" json:"time_slot"`
	Reason            string    `bun:"reason,nullzero" bson:"reason" json:"reason"`
	CreatedAt         time.Time `bun:"created_at,notnull" bson:"created_at" json:"created_at"`
}

func (b BlockedTimeSlot) Key() SlotKey {
	return SlotKey{PhysiotherapistID: b.PhysiotherapistID, Date: b.Date, TimeSlot: b.TimeSlot}
}

func (b *BlockedTimeSlot) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); !ok {
		return nil
	}
	if err := b.EnsureID(); err != nil {
		return err
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	return nil
}

func (b *BlockedTimeSlot) EnsureID() error {
	if b.ID != "" {
		return nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	b.ID = id.String()
	return nil
}
