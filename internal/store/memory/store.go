package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"physiodesk/backend/internal/domain"
	"physiodesk/backend/internal/store"
)

// Store is a process-local BookingStore. The mutex makes each call atomic,
// which gives the same claim semantics as the database backends.
type Store struct {
	mu           sync.Mutex
	now          func() time.Time
	appointments map[string]domain.Appointment
	blocks       map[string]domain.BlockedTimeSlot
	claims       map[string]domain.SlotClaim
}

func New() *Store {
	return &Store{
		now:          time.Now,
		appointments: map[string]domain.Appointment{},
		blocks:       map[string]domain.BlockedTimeSlot{},
		claims:       map[string]domain.SlotClaim{},
	}
}

var _ store.BookingStore = (*Store)(nil)

func (s *Store) GetAppointment(ctx context.Context, id string) (domain.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Appointment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.appointments[id]
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	return copyAppointment(a), nil
}

func (s *Store) ListAppointments(ctx context.Context, physiotherapistID string, from, to time.Time) ([]domain.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Appointment
	for _, a := range s.appointments {
		if a.PhysiotherapistID == physiotherapistID && inRange(a.Date, from, to) {
			out = append(out, copyAppointment(a))
		}
	}
	sortAppointments(out)
	return out, nil
}

func (s *Store) ListUserAppointments(ctx context.Context, userID string) ([]domain.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Appointment
	for _, a := range s.appointments {
		if a.UserID == userID {
			out = append(out, copyAppointment(a))
		}
	}
	sortAppointments(out)
	return out, nil
}

func (s *Store) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Appointment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.appointments[appt.ID]; ok && appt.ID != "" {
		if !store.SameBooking(existing, appt) {
			return domain.Appointment{}, store.ErrIdempotencyConflict
		}
		return copyAppointment(existing), nil
	}

	if err := appt.EnsureID(); err != nil {
		return domain.Appointment{}, err
	}
	now := s.now().UTC()
	appt.Date = domain.Day(appt.Date)
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	appt.UpdatedAt = appt.CreatedAt

	if appt.Active() {
		key := appt.Key().String()
		if _, taken := s.claims[key]; taken {
			return domain.Appointment{}, store.ErrConflict
		}
		s.claims[key] = domain.NewSlotClaim(appt.Key(), domain.OccupantAppointment, appt.ID, now)
	}
	s.appointments[appt.ID] = copyAppointment(appt)
	return copyAppointment(appt), nil
}

func (s *Store) UpdateAppointment(ctx context.Context, appt domain.Appointment, expected domain.Status) (domain.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Appointment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.appointments[appt.ID]
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	if existing.Status != expected {
		return domain.Appointment{}, store.ErrInvalidState
	}

	existing.Status = appt.Status
	existing.RehabilitationNotes = appt.RehabilitationNotes
	existing.CancelledBy = appt.CancelledBy
	existing.CancelledByRole = appt.CancelledByRole
	existing.CancelledAt = appt.CancelledAt
	existing.UpdatedAt = s.now().UTC()

	if expected.Active() && !existing.Active() {
		key := existing.Key().String()
		if c, ok := s.claims[key]; ok && c.OccupantID == existing.ID {
			delete(s.claims, key)
		}
	}
	s.appointments[existing.ID] = copyAppointment(existing)
	return copyAppointment(existing), nil
}

func (s *Store) ListBlockedTimeSlots(ctx context.Context, physiotherapistID string, from, to time.Time) ([]domain.BlockedTimeSlot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.BlockedTimeSlot
	for _, b := range s.blocks {
		if b.PhysiotherapistID == physiotherapistID && inRange(b.Date, from, to) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].TimeSlot < out[j].TimeSlot
	})
	return out, nil
}

func (s *Store) GetBlockedTimeSlot(ctx context.Context, id string) (domain.BlockedTimeSlot, error) {
	if err := ctx.Err(); err != nil {
		return domain.BlockedTimeSlot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blocks[id]
	if !ok {
		return domain.BlockedTimeSlot{}, store.ErrNotFound
	}
	return b, nil
}

func (s *Store) CreateBlockedTimeSlot(ctx context.Context, block domain.BlockedTimeSlot) (domain.BlockedTimeSlot, error) {
	if err := ctx.Err(); err != nil {
		return domain.BlockedTimeSlot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := block.EnsureID(); err != nil {
		return domain.BlockedTimeSlot{}, err
	}
	if _, ok := s.blocks[block.ID]; ok {
		return domain.BlockedTimeSlot{}, store.ErrConflict
	}
	now := s.now().UTC()
	block.Date = domain.Day(block.Date)
	if block.CreatedAt.IsZero() {
		block.CreatedAt = now
	}

	key := block.Key().String()
	if _, taken := s.claims[key]; taken {
		return domain.BlockedTimeSlot{}, store.ErrConflict
	}
	s.claims[key] = domain.NewSlotClaim(block.Key(), domain.OccupantBlock, block.ID, now)
	s.blocks[block.ID] = block
	return block, nil
}

func (s *Store) DeleteBlockedTimeSlot(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blocks[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.blocks, id)
	key := b.Key().String()
	if c, ok := s.claims[key]; ok && c.OccupantID == id {
		delete(s.claims, key)
	}
	return nil
}

func inRange(date, from, to time.Time) bool {
	d := domain.Day(date)
	return !d.Before(domain.Day(from)) && !d.After(domain.Day(to))
}

func sortAppointments(appts []domain.Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if !appts[i].Date.Equal(appts[j].Date) {
			return appts[i].Date.Before(appts[j].Date)
		}
		if appts[i].TimeSlot != appts[j].TimeSlot {
			return appts[i].TimeSlot < appts[j].TimeSlot
		}
		return appts[i].CreatedAt.Before(appts[j].CreatedAt)
	})
}

func copyAppointment(a domain.Appointment) domain.Appointment {
	if a.CancelledAt != nil {
		t := *a.CancelledAt
		a.CancelledAt = &t
	}
	return a
}
