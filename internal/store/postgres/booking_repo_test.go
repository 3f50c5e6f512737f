package postgres

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"physiodesk/backend/internal/store"
)

func TestMapWriteError(t *testing.T) {
	other := errors.New("boom")

	tests := []struct {
		name string
		in   error
		want error
	}{
		{"claim primary key", &pgconn.PgError{Code: "23505", ConstraintName: "slot_claims_pkey"}, store.ErrConflict},
		{"active slot index", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "appointments_active_slot_uniq"}), store.ErrConflict},
		{"block index", &pgconn.PgError{Code: "23505", ConstraintName: "blocked_time_slots_slot_uniq"}, store.ErrConflict},
		{"unrelated unique", &pgconn.PgError{Code: "23505", ConstraintName: "appointments_pkey"}, nil},
		{"not a pg error", other, other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapWriteError(tt.in)
			want := tt.want
			if want == nil {
				want = tt.in
			}
			if got != want {
				t.Fatalf("mapWriteError() = %v, want %v", got, want)
			}
		})
	}
}

func TestDateArg(t *testing.T) {
	in := time.Date(2024, 6, 1, 23, 30, 0, 0, time.FixedZone("X", 5*3600))
	if got := dateArg(in); got != "2024-06-01" {
		t.Fatalf("dateArg() = %q, want %q", got, "2024-06-01")
	}
}

func TestValidID(t *testing.T) {
	if validID("not-a-uuid") {
		t.Fatalf("validID(not-a-uuid) = true")
	}
	if !validID("0190a4b2-7c3e-7000-8000-000000000001") {
		t.Fatalf("validID(uuid) = false")
	}
}
