package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"physiodesk/backend/internal/domain"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestAuthenticator_Verify(t *testing.T) {
	a, err := NewAuthenticator(testSecret, "physiodesk")
	if err != nil {
		t.Fatalf("NewAuthenticator error: %v", err)
	}
	sign := func(id string, role domain.Role, ttl time.Duration) string {
		t.Helper()
		tok, err := a.Sign(Identity{ID: id, Role: role}, ttl)
		if err != nil {
			t.Fatalf("Sign error: %v", err)
		}
		return tok
	}

	identity, err := a.Verify(sign("phy1", domain.RolePhysiotherapist, time.Hour))
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if identity.ID != "phy1" || identity.Role != domain.RolePhysiotherapist {
		t.Fatalf("identity = %+v", identity)
	}

	if _, err := a.Verify(sign("u1", domain.RoleUser, -time.Minute)); err == nil {
		t.Fatalf("expected expired token to fail")
	}

	other, _ := NewAuthenticator("another-secret-of-sufficient-len", "physiodesk")
	foreign, err := other.Sign(Identity{ID: "u1", Role: domain.RoleUser}, time.Hour)
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}
	if _, err := a.Verify(foreign); err == nil {
		t.Fatalf("expected foreign signature to fail")
	}

	noRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    "physiodesk",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString error: %v", err)
	}
	if _, err := a.Verify(noRole); err == nil {
		t.Fatalf("expected token without role to fail")
	}
}

func TestNewAuthenticator_RejectsShortSecret(t *testing.T) {
	if _, err := NewAuthenticator("short", ""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		err    error
	}{
		{"Bearer abc", "abc", nil},
		{"bearer  abc ", "abc", nil},
		{"", "", ErrMissingToken},
		{"Basic abc", "", ErrMissingToken},
		{"Bearer ", "", ErrMissingToken},
	}
	for _, tt := range tests {
		got, err := BearerToken(tt.header)
		if got != tt.want || !errors.Is(err, tt.err) {
			t.Fatalf("BearerToken(%q) = %q, %v; want %q, %v", tt.header, got, err, tt.want, tt.err)
		}
	}
}

func TestIdentityPolicy(t *testing.T) {
	appt := domain.Appointment{UserID: "u1", PhysiotherapistID: "phy1"}
	tests := []struct {
		name     string
		identity Identity
		staff    bool
		actsFor  bool
		access   bool
	}{
		{"owner user", Identity{ID: "u1", Role: domain.RoleUser}, false, false, true},
		{"other user", Identity{ID: "u2", Role: domain.RoleUser}, false, false, false},
		{"treating physio", Identity{ID: "phy1", Role: domain.RolePhysiotherapist}, true, true, true},
		{"other physio", Identity{ID: "phy2", Role: domain.RolePhysiotherapist}, true, false, false},
		{"admin", Identity{ID: "root", Role: domain.RoleAdmin}, true, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.identity.HasRole(Staff...); got != tt.staff {
				t.Fatalf("HasRole(Staff) = %v, want %v", got, tt.staff)
			}
			if got := tt.identity.ActsFor("phy1"); got != tt.actsFor {
				t.Fatalf("ActsFor(phy1) = %v, want %v", got, tt.actsFor)
			}
			if got := tt.identity.CanAccess(appt); got != tt.access {
				t.Fatalf("CanAccess = %v, want %v", got, tt.access)
			}
		})
	}

	ctx := WithIdentity(context.Background(), Identity{ID: "u1", Role: domain.RoleUser})
	if got, ok := FromContext(ctx); !ok || got.ID != "u1" {
		t.Fatalf("FromContext = %+v, %v", got, ok)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("FromContext on empty context reported an identity")
	}
}
