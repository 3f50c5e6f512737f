package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"physiodesk/backend/internal/domain"
	"physiodesk/backend/internal/store"
)

type BookingRepo struct {
	db *bun.DB
}

func NewBookingRepo(db *bun.DB) *BookingRepo {
	return &BookingRepo{db: db}
}

var _ store.BookingStore = (*BookingRepo)(nil)

type bookingTx struct {
	tx bun.Tx
}

func (r *BookingRepo) GetAppointment(ctx context.Context, id string) (domain.Appointment, error) {
	if !validID(id) {
		return domain.Appointment{}, store.ErrNotFound
	}
	var appt domain.Appointment
	err := r.db.NewSelect().
		Model(&appt).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, err
	}
	return appt, nil
}

func (r *BookingRepo) ListAppointments(ctx context.Context, physiotherapistID string, from, to time.Time) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := r.db.NewSelect().
		Model(&rows).
		Where("physiotherapist_id = ?", physiotherapistID).
		Where("date >= ?::date", dateArg(from)).
		Where("date <= ?::date", dateArg(to)).
		OrderExpr("date ASC, time_slot ASC, created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *BookingRepo) ListUserAppointments(ctx context.Context, userID string) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := r.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		OrderExpr("date ASC, time_slot ASC, created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *BookingRepo) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	var out domain.Appointment
	err := r.InPhysiotherapistTransaction(ctx, appt.PhysiotherapistID, func(ctx context.Context, tx bookingTx) error {
		if appt.ID != "" {
			existing, err := tx.getAppointment(ctx, appt.ID, false)
			switch {
			case err == nil:
				if !store.SameBooking(existing, appt) {
					return store.ErrIdempotencyConflict
				}
				out = existing
				return nil
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		if err := appt.EnsureID(); err != nil {
			return err
		}
		appt.Date = domain.Day(appt.Date)

		if appt.Active() {
			claim := domain.NewSlotClaim(appt.Key(), domain.OccupantAppointment, appt.ID, claimTime(appt.CreatedAt))
			if err := tx.claimSlot(ctx, claim); err != nil {
				return err
			}
		}

		if _, err := tx.tx.NewInsert().Model(&appt).Exec(ctx); err != nil {
			return mapWriteError(err)
		}
		out = appt
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	return out, nil
}

func (r *BookingRepo) UpdateAppointment(ctx context.Context, appt domain.Appointment, expected domain.Status) (domain.Appointment, error) {
	var out domain.Appointment
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		btx := bookingTx{tx: tx}
		existing, err := btx.getAppointment(ctx, appt.ID, true)
		if err != nil {
			return err
		}
		if existing.Status != expected {
			return store.ErrInvalidState
		}

		existing.Status = appt.Status
		existing.RehabilitationNotes = appt.RehabilitationNotes
		existing.CancelledBy = appt.CancelledBy
		existing.CancelledByRole = appt.CancelledByRole
		existing.CancelledAt = appt.CancelledAt

		_, err = tx.NewUpdate().
			Model(&existing).
			Column("status", "rehabilitation_notes", "cancelled_by", "cancelled_by_role", "cancelled_at", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return mapWriteError(err)
		}

		if expected.Active() && !existing.Active() {
			if err := btx.releaseSlot(ctx, existing.Key(), existing.ID); err != nil {
				return err
			}
		}
		out = existing
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	return out, nil
}

func (r *BookingRepo) GetBlockedTimeSlot(ctx context.Context, id string) (domain.BlockedTimeSlot, error) {
	if !validID(id) {
		return domain.BlockedTimeSlot{}, store.ErrNotFound
	}
	var block domain.BlockedTimeSlot
	err := r.db.NewSelect().
		Model(&block).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return domain.BlockedTimeSlot{}, store.ErrNotFound
		}
		return domain.BlockedTimeSlot{}, err
	}
	return block, nil
}

func (r *BookingRepo) ListBlockedTimeSlots(ctx context.Context, physiotherapistID string, from, to time.Time) ([]domain.BlockedTimeSlot, error) {
	var rows []domain.BlockedTimeSlot
	err := r.db.NewSelect().
		Model(&rows).
		Where("physiotherapist_id = ?", physiotherapistID).
		Where("date >= ?::date", dateArg(from)).
		Where("date <= ?::date", dateArg(to)).
		OrderExpr("date ASC, time_slot ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *BookingRepo) CreateBlockedTimeSlot(ctx context.Context, block domain.BlockedTimeSlot) (domain.BlockedTimeSlot, error) {
	err := r.InPhysiotherapistTransaction(ctx, block.PhysiotherapistID, func(ctx context.Context, tx bookingTx) error {
		if err := block.EnsureID(); err != nil {
			return err
		}
		block.Date = domain.Day(block.Date)

		claim := domain.NewSlotClaim(block.Key(), domain.OccupantBlock, block.ID, claimTime(block.CreatedAt))
		if err := tx.claimSlot(ctx, claim); err != nil {
			return err
		}
		if _, err := tx.tx.NewInsert().Model(&block).Exec(ctx); err != nil {
			return mapWriteError(err)
		}
		return nil
	})
	if err != nil {
		return domain.BlockedTimeSlot{}, err
	}
	return block, nil
}

func (r *BookingRepo) DeleteBlockedTimeSlot(ctx context.Context, id string) error {
	if !validID(id) {
		return store.ErrNotFound
	}
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var block domain.BlockedTimeSlot
		err := tx.NewSelect().
			Model(&block).
			Where("id = ?", id).
			For("UPDATE").
			Limit(1).
			Scan(ctx)
		if err != nil {
			if isNoRows(err) {
				return store.ErrNotFound
			}
			return err
		}

		if _, err := tx.NewDelete().Model(&block).WherePK().Exec(ctx); err != nil {
			return err
		}
		return bookingTx{tx: tx}.releaseSlot(ctx, block.Key(), block.ID)
	})
}

// InPhysiotherapistTransaction serializes writers for one physiotherapist
// calendar. The slot claim primary key remains the authority on conflicts.
func (r *BookingRepo) InPhysiotherapistTransaction(ctx context.Context, physiotherapistID string, fn func(ctx context.Context, tx bookingTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockPhysiotherapistCalendar(ctx, tx, physiotherapistID); err != nil {
			return err
		}
		return fn(ctx, bookingTx{tx: tx})
	})
}

func lockPhysiotherapistCalendar(ctx context.Context, tx bun.Tx, physiotherapistID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", physiotherapistID).Exec(ctx)
	return err
}

func (t bookingTx) getAppointment(ctx context.Context, id string, forUpdate bool) (domain.Appointment, error) {
	if !validID(id) {
		return domain.Appointment{}, store.ErrNotFound
	}
	var appt domain.Appointment
	q := t.tx.NewSelect().
		Model(&appt).
		Where("id = ?", id).
		Limit(1)
	if forUpdate {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		if isNoRows(err) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, err
	}
	return appt, nil
}

func (t bookingTx) claimSlot(ctx context.Context, claim domain.SlotClaim) error {
	res, err := t.tx.NewInsert().
		Model(&claim).
		On("CONFLICT (key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return mapWriteError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrConflict
	}
	return nil
}

func (t bookingTx) releaseSlot(ctx context.Context, key domain.SlotKey, occupantID string) error {
	_, err := t.tx.NewDelete().
		Model((*domain.SlotClaim)(nil)).
		Where("key = ?", key.String()).
		Where("occupant_id = ?", occupantID).
		Exec(ctx)
	return err
}

// mapWriteError turns unique violations on the slot indexes into ErrConflict.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "slot_claims_pkey", "appointments_active_slot_uniq", "blocked_time_slots_slot_uniq":
			return store.ErrConflict
		}
	}
	return err
}

// validID filters ids the uuid columns would reject with a cast error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func dateArg(t time.Time) string {
	return domain.Day(t).Format(domain.DateLayout)
}

func claimTime(createdAt time.Time) time.Time {
	if createdAt.IsZero() {
		return time.Now().UTC()
	}
	return createdAt
}
