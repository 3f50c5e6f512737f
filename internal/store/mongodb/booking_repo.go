package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"physiodesk/backend/internal/domain"
	"physiodesk/backend/internal/store"
)

const (
	appointmentsCollection = "appointments"
	blocksCollection       = "blocked_time_slots"
	claimsCollection       = "slot_claims"

	// A claim whose occupant document never appeared is reclaimable after
	// this long. Younger orphans may belong to an insert still in flight.
	orphanClaimGrace = time.Minute
)

// BookingRepo stores bookings in three collections. The slot_claims
// collection is keyed by the slot key string, so a duplicate key error on
// insert is the double booking signal.
type BookingRepo struct {
	appointments *mongo.Collection
	blocks       *mongo.Collection
	claims       *mongo.Collection
	now          func() time.Time
}

func NewBookingRepo(db *mongo.Database) *BookingRepo {
	return &BookingRepo{
		appointments: db.Collection(appointmentsCollection),
		blocks:       db.Collection(blocksCollection),
		claims:       db.Collection(claimsCollection),
		now:          time.Now,
	}
}

var _ store.BookingStore = (*BookingRepo)(nil)

func (r *BookingRepo) GetAppointment(ctx context.Context, id string) (domain.Appointment, error) {
	var appt domain.Appointment
	err := r.appointments.FindOne(ctx, bson.M{"_id": id}).Decode(&appt)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, fmt.Errorf("failed to fetch appointment: %w", err)
	}
	return appt, nil
}

func (r *BookingRepo) ListAppointments(ctx context.Context, physiotherapistID string, from, to time.Time) ([]domain.Appointment, error) {
	filter := bson.M{
		"physiotherapist_id": physiotherapistID,
		"date":               bson.M{"$gte": domain.Day(from), "$lte": domain.Day(to)},
	}
	return r.findAppointments(ctx, filter)
}

func (r *BookingRepo) ListUserAppointments(ctx context.Context, userID string) ([]domain.Appointment, error) {
	return r.findAppointments(ctx, bson.M{"user_id": userID})
}

func (r *BookingRepo) findAppointments(ctx context.Context, filter bson.M) ([]domain.Appointment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "time_slot", Value: 1}, {Key: "created_at", Value: 1}})
	cursor, err := r.appointments.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch appointments: %w", err)
	}
	defer cursor.Close(ctx)

	var out []domain.Appointment
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("error decoding appointments: %w", err)
	}
	return out, nil
}

func (r *BookingRepo) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if appt.ID != "" {
		existing, ok, err := r.replay(ctx, appt)
		if err != nil || ok {
			return existing, err
		}
	}

	if err := appt.EnsureID(); err != nil {
		return domain.Appointment{}, err
	}
	now := r.now().UTC()
	appt.Date = domain.Day(appt.Date)
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	appt.UpdatedAt = appt.CreatedAt

	if appt.Active() {
		claim := domain.NewSlotClaim(appt.Key(), domain.OccupantAppointment, appt.ID, now)
		if err := r.claimSlot(ctx, claim); err != nil {
			if errors.Is(err, store.ErrConflict) {
				// A concurrent request with the same idempotency key may own it.
				if existing, ok, rerr := r.replay(ctx, appt); rerr == nil && ok {
					return existing, nil
				}
			}
			return domain.Appointment{}, err
		}
	}

	if _, err := r.appointments.InsertOne(ctx, appt); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			existing, ok, rerr := r.replay(ctx, appt)
			if rerr == nil && ok {
				return existing, nil
			}
			r.releaseSlot(ctx, appt.Key(), appt.ID)
			if rerr != nil {
				return domain.Appointment{}, rerr
			}
			return domain.Appointment{}, store.ErrConflict
		}
		r.releaseSlot(ctx, appt.Key(), appt.ID)
		return domain.Appointment{}, fmt.Errorf("failed to insert appointment: %w", err)
	}
	return appt, nil
}

// replay resolves a create whose id already exists.
func (r *BookingRepo) replay(ctx context.Context, appt domain.Appointment) (domain.Appointment, bool, error) {
	existing, err := r.GetAppointment(ctx, appt.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Appointment{}, false, nil
		}
		return domain.Appointment{}, false, err
	}
	if !store.SameBooking(existing, appt) {
		return domain.Appointment{}, false, store.ErrIdempotencyConflict
	}
	return existing, true, nil
}

func (r *BookingRepo) UpdateAppointment(ctx context.Context, appt domain.Appointment, expected domain.Status) (domain.Appointment, error) {
	set := bson.M{
		"status":               appt.Status,
		"rehabilitation_notes": appt.RehabilitationNotes,
		"cancelled_by":         appt.CancelledBy,
		"cancelled_by_role":    appt.CancelledByRole,
		"cancelled_at":         appt.CancelledAt,
		"updated_at":           r.now().UTC(),
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated domain.Appointment
	err := r.appointments.FindOneAndUpdate(ctx,
		bson.M{"_id": appt.ID, "status": expected},
		bson.M{"$set": set},
		opts,
	).Decode(&updated)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Appointment{}, fmt.Errorf("failed to update appointment: %w", err)
		}
		n, cerr := r.appointments.CountDocuments(ctx, bson.M{"_id": appt.ID})
		if cerr != nil {
			return domain.Appointment{}, fmt.Errorf("failed to count appointments: %w", cerr)
		}
		if n == 0 {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, store.ErrInvalidState
	}

	if expected.Active() && !updated.Active() {
		// A failed release leaves a claim held by a terminal appointment,
		// which claimSlot treats as stale.
		r.releaseSlot(ctx, updated.Key(), updated.ID)
	}
	return updated, nil
}

func (r *BookingRepo) GetBlockedTimeSlot(ctx context.Context, id string) (domain.BlockedTimeSlot, error) {
	var block domain.BlockedTimeSlot
	err := r.blocks.FindOne(ctx, bson.M{"_id": id}).Decode(&block)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.BlockedTimeSlot{}, store.ErrNotFound
		}
		return domain.BlockedTimeSlot{}, fmt.Errorf("failed to fetch blocked slot: %w", err)
	}
	return block, nil
}

func (r *BookingRepo) ListBlockedTimeSlots(ctx context.Context, physiotherapistID string, from, to time.Time) ([]domain.BlockedTimeSlot, error) {
	filter := bson.M{
		"physiotherapist_id": physiotherapistID,
		"date":               bson.M{"$gte": domain.Day(from), "$lte": domain.Day(to)},
	}
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "time_slot", Value: 1}})
	cursor, err := r.blocks.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blocked slots: %w", err)
	}
	defer cursor.Close(ctx)

	var out []domain.BlockedTimeSlot
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("error decoding blocked slots: %w", err)
	}
	return out, nil
}

func (r *BookingRepo) CreateBlockedTimeSlot(ctx context.Context, block domain.BlockedTimeSlot) (domain.BlockedTimeSlot, error) {
	if err := block.EnsureID(); err != nil {
		return domain.BlockedTimeSlot{}, err
	}
	now := r.now().UTC()
	block.Date = domain.Day(block.Date)
	if block.CreatedAt.IsZero() {
		block.CreatedAt = now
	}

	claim := domain.NewSlotClaim(block.Key(), domain.OccupantBlock, block.ID, now)
	if err := r.claimSlot(ctx, claim); err != nil {
		return domain.BlockedTimeSlot{}, err
	}
	if _, err := r.blocks.InsertOne(ctx, block); err != nil {
		r.releaseSlot(ctx, block.Key(), block.ID)
		if mongo.IsDuplicateKeyError(err) {
			return domain.BlockedTimeSlot{}, store.ErrConflict
		}
		return domain.BlockedTimeSlot{}, fmt.Errorf("failed to insert blocked slot: %w", err)
	}
	return block, nil
}

func (r *BookingRepo) DeleteBlockedTimeSlot(ctx context.Context, id string) error {
	var block domain.BlockedTimeSlot
	err := r.blocks.FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&block)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return store.ErrNotFound
		}
		return fmt.Errorf("failed to delete blocked slot: %w", err)
	}
	if _, err := r.claims.DeleteOne(ctx, bson.M{"_id": block.Key().String(), "occupant_id": block.ID}); err != nil {
		return fmt.Errorf("failed to release slot claim: %w", err)
	}
	return nil
}

func (r *BookingRepo) claimSlot(ctx context.Context, claim domain.SlotClaim) error {
	for attempt := 0; attempt < 2; attempt++ {
		_, err := r.claims.InsertOne(ctx, claim)
		if err == nil {
			return nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("failed to claim slot: %w", err)
		}

		reclaimed, err := r.reclaimStale(ctx, claim.Key)
		if err != nil {
			return err
		}
		if !reclaimed {
			return store.ErrConflict
		}
	}
	return store.ErrConflict
}

// reclaimStale removes the claim on key when its occupant no longer holds
// the slot. It reports whether a retry may succeed.
func (r *BookingRepo) reclaimStale(ctx context.Context, key string) (bool, error) {
	var held domain.SlotClaim
	err := r.claims.FindOne(ctx, bson.M{"_id": key}).Decode(&held)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return true, nil
		}
		return false, fmt.Errorf("failed to fetch slot claim: %w", err)
	}

	stale, err := r.occupantGone(ctx, held)
	if err != nil || !stale {
		return false, err
	}
	if _, err := r.claims.DeleteOne(ctx, bson.M{"_id": key, "occupant_id": held.OccupantID}); err != nil {
		return false, fmt.Errorf("failed to release stale claim: %w", err)
	}
	return true, nil
}

func (r *BookingRepo) occupantGone(ctx context.Context, held domain.SlotClaim) (bool, error) {
	orphanable := r.now().Sub(held.CreatedAt) > orphanClaimGrace

	switch held.OccupantKind {
	case domain.OccupantAppointment:
		var appt domain.Appointment
		err := r.appointments.FindOne(ctx, bson.M{"_id": held.OccupantID}).Decode(&appt)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return orphanable, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to fetch claim occupant: %w", err)
		}
		return !appt.Active(), nil
	case domain.OccupantBlock:
		n, err := r.blocks.CountDocuments(ctx, bson.M{"_id": held.OccupantID})
		if err != nil {
			return false, fmt.Errorf("failed to fetch claim occupant: %w", err)
		}
		return n == 0 && orphanable, nil
	}
	return false, nil
}

func (r *BookingRepo) releaseSlot(ctx context.Context, key domain.SlotKey, occupantID string) {
	_, _ = r.claims.DeleteOne(ctx, bson.M{"_id": key.String(), "occupant_id": occupantID})
}
