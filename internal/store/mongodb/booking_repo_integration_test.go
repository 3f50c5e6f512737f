package mongodb

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"physiodesk/backend/internal/domain"
	"physiodesk/backend/internal/store"
)

func openTestRepo(t *testing.T) *BookingRepo {
	t.Helper()

	uri := strings.TrimSpace(os.Getenv("PHYSIODESK_TEST_MONGO_URI"))
	if uri == "" {
		t.Skip("PHYSIODESK_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := Connect(ctx, uri)
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	db := client.Database("physiodesk_test_" + randomHex(t, 8))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = db.Drop(ctx)
		_ = Disconnect(ctx, client)
	})

	repo := NewBookingRepo(db)
	if err := repo.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes error: %v", err)
	}
	return repo
}

func TestMongoIntegration_SlotClaimsAndIdempotency(t *testing.T) {
	repo := openTestRepo(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	appt := domain.Appointment{
		ID:                "00000000-0000-0000-0000-000000000901",
		UserID:            "u1",
		PhysiotherapistID: "phy1",
		Date:              day,
		TimeSlot:          "09:00",
		Status:            domain.StatusPending,
		Type:              domain.AppointmentTypeInPerson,
	}

	a1, err := repo.CreateAppointment(ctx, appt)
	if err != nil {
		t.Fatalf("CreateAppointment error: %v", err)
	}

	rows, err := repo.ListAppointments(ctx, "phy1", day, day)
	if err != nil {
		t.Fatalf("ListAppointments error: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != a1.ID || !rows[0].Date.Equal(day) {
		t.Fatalf("listed = %+v", rows)
	}

	other := appt
	other.ID = ""
	other.UserID = "u2"
	if _, err := repo.CreateAppointment(ctx, other); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("double booking err = %v, want %v", err, store.ErrConflict)
	}

	if _, err := repo.CreateAppointment(ctx, appt); err != nil {
		t.Fatalf("idempotent replay error: %v", err)
	}
	changed := appt
	changed.TimeSlot = "10:00"
	if _, err := repo.CreateAppointment(ctx, changed); !errors.Is(err, store.ErrIdempotencyConflict) {
		t.Fatalf("idempotency err = %v, want %v", err, store.ErrIdempotencyConflict)
	}

	cancelled := a1
	cancelled.Status = domain.StatusCancelled
	if _, err := repo.UpdateAppointment(ctx, cancelled, domain.StatusConfirmed); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("stale update err = %v, want %v", err, store.ErrInvalidState)
	}
	if _, err := repo.UpdateAppointment(ctx, domain.Appointment{ID: "missing"}, domain.StatusPending); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing update err = %v, want %v", err, store.ErrNotFound)
	}
	if _, err := repo.UpdateAppointment(ctx, cancelled, domain.StatusPending); err != nil {
		t.Fatalf("UpdateAppointment error: %v", err)
	}
	if _, err := repo.CreateAppointment(ctx, other); err != nil {
		t.Fatalf("rebooking cancelled slot: %v", err)
	}
}

func TestMongoIntegration_StaleClaimIsReclaimed(t *testing.T) {
	repo := openTestRepo(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	a, err := repo.CreateAppointment(ctx, domain.Appointment{
		UserID: "u1", PhysiotherapistID: "phy1", Date: day, TimeSlot: "09:00",
		Status: domain.StatusPending, Type: domain.AppointmentTypeRemote,
	})
	if err != nil {
		t.Fatalf("CreateAppointment error: %v", err)
	}

	// Simulate a release that never happened after cancellation.
	if _, err := repo.appointments.UpdateOne(ctx, bson.M{"_id": a.ID}, bson.M{"$set": bson.M{"status": domain.StatusCancelled}}); err != nil {
		t.Fatalf("UpdateOne error: %v", err)
	}

	if _, err := repo.CreateAppointment(ctx, domain.Appointment{
		UserID: "u2", PhysiotherapistID: "phy1", Date: day, TimeSlot: "09:00",
		Status: domain.StatusPending, Type: domain.AppointmentTypeRemote,
	}); err != nil {
		t.Fatalf("booking over stale claim: %v", err)
	}
}

func TestMongoIntegration_ConcurrentBookingsOneWinner(t *testing.T) {
	repo := openTestRepo(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.CreateAppointment(ctx, domain.Appointment{
				UserID:            fmt.Sprintf("u%d", i),
				PhysiotherapistID: "phy1",
				Date:              time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
				TimeSlot:          "09:00",
				Status:            domain.StatusPending,
				Type:              domain.AppointmentTypeInPerson,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, store.ErrConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("winners = %d, want 1", ok)
	}
}

func TestMongoIntegration_BlockedTimeSlots(t *testing.T) {
	repo := openTestRepo(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	b, err := repo.CreateBlockedTimeSlot(ctx, domain.BlockedTimeSlot{PhysiotherapistID: "phy1", Date: day, TimeSlot: "09:30", Reason: "lunch"})
	if err != nil {
		t.Fatalf("CreateBlockedTimeSlot error: %v", err)
	}
	if _, err := repo.CreateAppointment(ctx, domain.Appointment{
		UserID: "u1", PhysiotherapistID: "phy1", Date: day, TimeSlot: "09:30",
		Status: domain.StatusPending, Type: domain.AppointmentTypeInPerson,
	}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("booking blocked slot err = %v, want %v", err, store.ErrConflict)
	}

	got, err := repo.GetBlockedTimeSlot(ctx, b.ID)
	if err != nil || got.PhysiotherapistID != "phy1" || got.TimeSlot != "09:30" {
		t.Fatalf("GetBlockedTimeSlot = %+v, %v", got, err)
	}

	if err := repo.DeleteBlockedTimeSlot(ctx, b.ID); err != nil {
		t.Fatalf("DeleteBlockedTimeSlot error: %v", err)
	}
	if err := repo.DeleteBlockedTimeSlot(ctx, b.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second delete err = %v, want %v", err, store.ErrNotFound)
	}
	if _, err := repo.GetBlockedTimeSlot(ctx, b.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get after delete err = %v, want %v", err, store.ErrNotFound)
	}
}

func randomHex(t *testing.T, bytesLen int) string {
	t.Helper()
	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read error: %v", err)
	}
	return hex.EncodeToString(b)
}
