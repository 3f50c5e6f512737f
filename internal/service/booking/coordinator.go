package booking

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"physiodesk/backend/internal/domain"
	"physiodesk/backend/internal/store"
)

const (
	maxIdempotencyKeyLen = 256
	maxNotesLen          = 10000
	maxListRange         = 366 * 24 * time.Hour

	// Notes updates do not depend on status, so a concurrent status change
	// only costs a re-read.
	notesUpdateAttempts = 3
)

// SlotUniverse supplies the configured slot tokens for a physiotherapist on
// a date, in display order.
type SlotUniverse interface {
	Universe(physiotherapistID string, date time.Time) []string
}

// Service is the booking API consumed by the transports.
type Service interface {
	GetAvailableTimeSlots(ctx context.Context, physiotherapistID string, date time.Time) ([]string, error)
	CreateAppointment(ctx context.Context, in CreateAppointmentInput) (domain.Appointment, error)
	CancelAppointmentWithRole(ctx context.Context, appointmentID, cancelledBy string, role domain.Role) (domain.Appointment, error)
	ConfirmAppointment(ctx context.Context, appointmentID string) (domain.Appointment, error)
	CompleteAppointment(ctx context.Context, appointmentID string) (domain.Appointment, error)
	UpdateAppointmentNotes(ctx context.Context, appointmentID, notes string) (domain.Appointment, error)
	BlockTimeSlot(ctx context.Context, in BlockTimeSlotInput) (domain.BlockedTimeSlot, error)
	UnblockTimeSlot(ctx context.Context, blockID string) error
	GetBlockedTimeSlot(ctx context.Context, blockID string) (domain.BlockedTimeSlot, error)
	GetAppointment(ctx context.Context, appointmentID string) (domain.Appointment, error)
	ListAppointments(ctx context.Context, physiotherapistID string, from, to time.Time) ([]domain.Appointment, error)
	ListUserAppointments(ctx context.Context, userID string) ([]domain.Appointment, error)
	ListBlockedTimeSlots(ctx context.Context, physiotherapistID string, from, to time.Time) ([]domain.BlockedTimeSlot, error)
}

// Coordinator computes availability and arbitrates bookings and blocks.
// It holds no state between calls; slot uniqueness is enforced by the store.
type Coordinator struct {
	store store.BookingStore
	slots SlotUniverse
	now   func() time.Time
}

var _ Service = (*Coordinator)(nil)

func NewCoordinator(st store.BookingStore, slots SlotUniverse, now func() time.Time) *Coordinator {
	if now == nil {
		now = time.Now
	}
	return &Coordinator{store: st, slots: slots, now: now}
}

// GetAvailableTimeSlots returns the universe for the physiotherapist and date
// minus every slot held by an active appointment or a block.
func (c *Coordinator) GetAvailableTimeSlots(ctx context.Context, physiotherapistID string, date time.Time) ([]string, error) {
	physiotherapistID = strings.TrimSpace(physiotherapistID)
	if physiotherapistID == "" {
		return nil, validationError("physiotherapist_id is required")
	}
	if date.IsZero() {
		return nil, validationError("date is required")
	}
	day := domain.Day(date)

	universe := c.slots.Universe(physiotherapistID, day)
	if len(universe) == 0 {
		return []string{}, nil
	}

	appts, err := c.store.ListAppointments(ctx, physiotherapistID, day, day)
	if err != nil {
		return nil, storeError("list appointments", err)
	}
	blocks, err := c.store.ListBlockedTimeSlots(ctx, physiotherapistID, day, day)
	if err != nil {
		return nil, storeError("list blocked time slots", err)
	}

	taken := make(map[string]struct{}, len(appts)+len(blocks))
	for _, a := range appts {
		if a.Active() {
			taken[a.TimeSlot] = struct{}{}
		}
	}
	for _, b := range blocks {
		taken[b.TimeSlot] = struct{}{}
	}

	out := make([]string, 0, len(universe))
	for _, slot := range universe {
		if _, ok := taken[slot]; !ok {
			out = append(out, slot)
		}
	}
	return out, nil
}

type CreateAppointmentInput struct {
	UserID              string
	PhysiotherapistID   string
	Date                time.Time
	TimeSlot            string
	Status              domain.Status
	Type                domain.AppointmentType
	RehabilitationNotes string
	IdempotencyKey      string
}

func (c *Coordinator) CreateAppointment(ctx context.Context, in CreateAppointmentInput) (domain.Appointment, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return domain.Appointment{}, validationError("user_id is required")
	}
	physiotherapistID := strings.TrimSpace(in.PhysiotherapistID)
	if physiotherapistID == "" {
		return domain.Appointment{}, validationError("physiotherapist_id is required")
	}
	if in.Date.IsZero() {
		return domain.Appointment{}, validationError("date is required")
	}
	slot := strings.TrimSpace(in.TimeSlot)
	if slot == "" {
		return domain.Appointment{}, validationError("time_slot is required")
	}

	status := in.Status
	if status == "" {
		status = domain.StatusPending
	}
	if !status.Active() {
		return domain.Appointment{}, validationError("status must be PENDING or CONFIRMED")
	}
	apptType := in.Type
	if apptType == "" {
		apptType = domain.AppointmentTypeInPerson
	}
	if !apptType.Valid() {
		return domain.Appointment{}, validationError("invalid appointment_type")
	}
	if len(in.RehabilitationNotes) > maxNotesLen {
		return domain.Appointment{}, validationError("rehabilitation_notes too long")
	}

	day := domain.Day(in.Date)
	if !contains(c.slots.Universe(physiotherapistID, day), slot) {
		return domain.Appointment{}, validationError("time_slot is not offered on that date")
	}

	now := c.now().UTC()
	appt := domain.Appointment{
		UserID:              userID,
		PhysiotherapistID:   physiotherapistID,
		Date:                day,
		TimeSlot:            slot,
		Status:              status,
		Type:                apptType,
		RehabilitationNotes: in.RehabilitationNotes,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		if len(key) > maxIdempotencyKeyLen {
			return domain.Appointment{}, validationError("idempotency_key too long")
		}
		appt.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("physiodesk:create_appointment:"+userID+":"+key)).String()
	}

	created, err := c.store.CreateAppointment(ctx, appt)
	if err != nil {
		return domain.Appointment{}, storeError("create appointment", err)
	}
	return created, nil
}

func (c *Coordinator) CancelAppointmentWithRole(ctx context.Context, appointmentID, cancelledBy string, role domain.Role) (domain.Appointment, error) {
	cancelledBy = strings.TrimSpace(cancelledBy)
	if cancelledBy == "" {
		return domain.Appointment{}, validationError("cancelled_by is required")
	}
	if !role.Valid() {
		return domain.Appointment{}, validationError("invalid role")
	}
	return c.transition(ctx, appointmentID, domain.EventCancel, func(a *domain.Appointment) {
		at := c.now().UTC()
		a.CancelledBy = cancelledBy
		a.CancelledByRole = role
		a.CancelledAt = &at
	})
}

// ConfirmAppointment moves a PENDING appointment to CONFIRMED. Confirming a
// CONFIRMED appointment returns it unchanged.
func (c *Coordinator) ConfirmAppointment(ctx context.Context, appointmentID string) (domain.Appointment, error) {
	return c.transition(ctx, appointmentID, domain.EventConfirm, nil)
}

func (c *Coordinator) CompleteAppointment(ctx context.Context, appointmentID string) (domain.Appointment, error) {
	return c.transition(ctx, appointmentID, domain.EventComplete, nil)
}

// transition applies ev against the stored status. The write is conditional
// on that status, so a concurrent change surfaces as ErrInvalidState.
func (c *Coordinator) transition(ctx context.Context, appointmentID string, ev domain.StatusEvent, mutate func(*domain.Appointment)) (domain.Appointment, error) {
	appointmentID = strings.TrimSpace(appointmentID)
	if appointmentID == "" {
		return domain.Appointment{}, validationError("appointment_id is required")
	}

	appt, err := c.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return domain.Appointment{}, storeError("get appointment", err)
	}

	next, err := domain.Transition(appt.Status, ev)
	if err != nil {
		return domain.Appointment{}, err
	}
	if next == appt.Status {
		return appt, nil
	}

	expected := appt.Status
	appt.Status = next
	if mutate != nil {
		mutate(&appt)
	}

	updated, err := c.store.UpdateAppointment(ctx, appt, expected)
	if err != nil {
		return domain.Appointment{}, storeError("update appointment", err)
	}
	return updated, nil
}

func (c *Coordinator) UpdateAppointmentNotes(ctx context.Context, appointmentID, notes string) (domain.Appointment, error) {
	appointmentID = strings.TrimSpace(appointmentID)
	if appointmentID == "" {
		return domain.Appointment{}, validationError("appointment_id is required")
	}
	if len(notes) > maxNotesLen {
		return domain.Appointment{}, validationError("rehabilitation_notes too long")
	}

	var lastErr error
	for attempt := 0; attempt < notesUpdateAttempts; attempt++ {
		appt, err := c.store.GetAppointment(ctx, appointmentID)
		if err != nil {
			return domain.Appointment{}, storeError("get appointment", err)
		}
		appt.RehabilitationNotes = notes

		updated, err := c.store.UpdateAppointment(ctx, appt, appt.Status)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, ErrInvalidState) {
			return domain.Appointment{}, storeError("update appointment", err)
		}
		lastErr = err
	}
	return domain.Appointment{}, lastErr
}

type BlockTimeSlotInput struct {
	PhysiotherapistID string
	Date              time.Time
	TimeSlot          string
	Reason            string
}

func (c *Coordinator) BlockTimeSlot(ctx context.Context, in BlockTimeSlotInput) (domain.BlockedTimeSlot, error) {
	physiotherapistID := strings.TrimSpace(in.PhysiotherapistID)
	if physiotherapistID == "" {
		return domain.BlockedTimeSlot{}, validationError("physiotherapist_id is required")
	}
	if in.Date.IsZero() {
		return domain.BlockedTimeSlot{}, validationError("date is required")
	}
	slot := strings.TrimSpace(in.TimeSlot)
	if slot == "" {
		return domain.BlockedTimeSlot{}, validationError("time_slot is required")
	}
	day := domain.Day(in.Date)
	if !contains(c.slots.Universe(physiotherapistID, day), slot) {
		return domain.BlockedTimeSlot{}, validationError("time_slot is not offered on that date")
	}

	block, err := c.store.CreateBlockedTimeSlot(ctx, domain.BlockedTimeSlot{
		PhysiotherapistID: physiotherapistID,
		Date:              day,
		TimeSlot:          slot,
		Reason:            strings.TrimSpace(in.Reason),
		CreatedAt:         c.now().UTC(),
	})
	if err != nil {
		return domain.BlockedTimeSlot{}, storeError("create blocked time slot", err)
	}
	return block, nil
}

func (c *Coordinator) UnblockTimeSlot(ctx context.Context, blockID string) error {
	blockID = strings.TrimSpace(blockID)
	if blockID == "" {
		return validationError("block_id is required")
	}
	if err := c.store.DeleteBlockedTimeSlot(ctx, blockID); err != nil {
		return storeError("delete blocked time slot", err)
	}
	return nil
}

func (c *Coordinator) GetBlockedTimeSlot(ctx context.Context, blockID string) (domain.BlockedTimeSlot, error) {
	blockID = strings.TrimSpace(blockID)
	if blockID == "" {
		return domain.BlockedTimeSlot{}, validationError("block_id is required")
	}
	block, err := c.store.GetBlockedTimeSlot(ctx, blockID)
	if err != nil {
		return domain.BlockedTimeSlot{}, storeError("get blocked time slot", err)
	}
	return block, nil
}

func (c *Coordinator) GetAppointment(ctx context.Context, appointmentID string) (domain.Appointment, error) {
	appointmentID = strings.TrimSpace(appointmentID)
	if appointmentID == "" {
		return domain.Appointment{}, validationError("appointment_id is required")
	}
	appt, err := c.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return domain.Appointment{}, storeError("get appointment", err)
	}
	return appt, nil
}

func (c *Coordinator) ListAppointments(ctx context.Context, physiotherapistID string, from, to time.Time) ([]domain.Appointment, error) {
	physiotherapistID = strings.TrimSpace(physiotherapistID)
	if physiotherapistID == "" {
		return nil, validationError("physiotherapist_id is required")
	}
	start, end, err := dateRange(from, to)
	if err != nil {
		return nil, err
	}
	appts, err := c.store.ListAppointments(ctx, physiotherapistID, start, end)
	if err != nil {
		return nil, storeError("list appointments", err)
	}
	return appts, nil
}

func (c *Coordinator) ListUserAppointments(ctx context.Context, userID string) ([]domain.Appointment, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, validationError("user_id is required")
	}
	appts, err := c.store.ListUserAppointments(ctx, userID)
	if err != nil {
		return nil, storeError("list user appointments", err)
	}
	return appts, nil
}

func (c *Coordinator) ListBlockedTimeSlots(ctx context.Context, physiotherapistID string, from, to time.Time) ([]domain.BlockedTimeSlot, error) {
	physiotherapistID = strings.TrimSpace(physiotherapistID)
	if physiotherapistID == "" {
		return nil, validationError("physiotherapist_id is required")
	}
	start, end, err := dateRange(from, to)
	if err != nil {
		return nil, err
	}
	blocks, err := c.store.ListBlockedTimeSlots(ctx, physiotherapistID, start, end)
	if err != nil {
		return nil, storeError("list blocked time slots", err)
	}
	return blocks, nil
}

// dateRange normalizes an inclusive [from, to] calendar day range.
func dateRange(from, to time.Time) (time.Time, time.Time, error) {
	if from.IsZero() || to.IsZero() {
		return time.Time{}, time.Time{}, validationError("from and to are required")
	}
	start := domain.Day(from)
	end := domain.Day(to)
	if end.Before(start) {
		return time.Time{}, time.Time{}, validationError("to must not be before from")
	}
	if end.Sub(start) > maxListRange {
		return time.Time{}, time.Time{}, validationError("date range too long")
	}
	return start, end, nil
}

func contains(slots []string, slot string) bool {
	for _, s := range slots {
		if s == slot {
			return true
		}
	}
	return false
}
