package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"physiodesk/backend/internal/auth"
	"physiodesk/backend/internal/domain"
	"physiodesk/backend/internal/service/booking"
	"physiodesk/backend/internal/store/memory"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestServer(t *testing.T, a *auth.Authenticator) *httptest.Server {
	t.Helper()
	catalog := domain.NewSlotCatalog([]string{"09:00", "09:30", "10:00"})
	svc := booking.NewCoordinator(memory.New(), catalog, nil)
	srv := httptest.NewServer(NewRouter(RouterConfig{
		Service: svc,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Auth:    a,
	}))
	t.Cleanup(srv.Close)
	return srv
}

type call struct {
	method  string
	path    string
	body    any
	token   string
	headers map[string]string
}

func do(t *testing.T, srv *httptest.Server, c call, out any) int {
	t.Helper()

	var body io.Reader
	if c.body != nil {
		b, err := json.Marshal(c.body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(c.method, srv.URL+c.path, body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", c.method, c.path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", c.method, c.path, err)
		}
	}
	return resp.StatusCode
}

type slotsResponse struct {
	TimeSlots []string `json:"time_slots"`
}

func TestRouter_BookingFlowWithoutAuth(t *testing.T) {
	srv := newTestServer(t, nil)

	var created appointmentDTO
	code := do(t, srv, call{method: http.MethodPost, path: "/v1/appointments", body: map[string]any{
		"user_id":            "u1",
		"physiotherapist_id": "phy1",
		"date":               "2024-06-03",
		"time_slot":          "09:00",
	}}, &created)
	if code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", code)
	}
	if created.Status != "PENDING" || created.AppointmentType != "IN_PERSON" || created.Date != "2024-06-03" {
		t.Fatalf("created = %+v", created)
	}

	var slots slotsResponse
	if code := do(t, srv, call{method: http.MethodGet, path: "/v1/physiotherapists/phy1/available-slots?date=2024-06-03"}, &slots); code != http.StatusOK {
		t.Fatalf("available status = %d", code)
	}
	if len(slots.TimeSlots) != 2 || slots.TimeSlots[0] != "09:30" {
		t.Fatalf("available = %v, want [09:30 10:00]", slots.TimeSlots)
	}

	code = do(t, srv, call{method: http.MethodPost, path: "/v1/appointments", body: map[string]any{
		"user_id":            "u2",
		"physiotherapist_id": "phy1",
		"date":               "2024-06-03",
		"time_slot":          "09:00",
	}}, nil)
	if code != http.StatusConflict {
		t.Fatalf("double booking status = %d, want 409", code)
	}

	var block blockDTO
	code = do(t, srv, call{method: http.MethodPost, path: "/v1/physiotherapists/phy1/blocked-slots", body: map[string]any{
		"date":      "2024-06-03",
		"time_slot": "10:00",
		"reason":    "training",
	}}, &block)
	if code != http.StatusCreated {
		t.Fatalf("block status = %d, want 201", code)
	}

	var cancelled appointmentDTO
	code = do(t, srv, call{method: http.MethodPost, path: "/v1/appointments/" + created.ID + "/cancel", body: map[string]any{
		"cancelled_by": "u1",
		"role":         "user",
	}}, &cancelled)
	if code != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200", code)
	}
	if cancelled.Status != "CANCELLED" || cancelled.CancelledByRole != "USER" || cancelled.CancelledAt == nil {
		t.Fatalf("cancelled = %+v", cancelled)
	}

	if code := do(t, srv, call{method: http.MethodGet, path: "/v1/physiotherapists/phy1/available-slots?date=2024-06-03"}, &slots); code != http.StatusOK {
		t.Fatalf("available status = %d", code)
	}
	if len(slots.TimeSlots) != 2 || slots.TimeSlots[0] != "09:00" || slots.TimeSlots[1] != "09:30" {
		t.Fatalf("available = %v, want [09:00 09:30]", slots.TimeSlots)
	}

	if code := do(t, srv, call{method: http.MethodPost, path: "/v1/appointments/" + created.ID + "/cancel", body: map[string]any{
		"cancelled_by": "u1",
		"role":         "USER",
	}}, nil); code != http.StatusConflict {
		t.Fatalf("re-cancel status = %d, want 409", code)
	}

	if code := do(t, srv, call{method: http.MethodDelete, path: "/v1/blocked-slots/" + block.ID}, nil); code != http.StatusNoContent {
		t.Fatalf("unblock status = %d, want 204", code)
	}
	if code := do(t, srv, call{method: http.MethodDelete, path: "/v1/blocked-slots/" + block.ID}, nil); code != http.StatusNotFound {
		t.Fatalf("second unblock status = %d, want 404", code)
	}
}

func TestRouter_IdempotencyKeyReplaysCreate(t *testing.T) {
	srv := newTestServer(t, nil)
	body := map[string]any{
		"user_id":            "u1",
		"physiotherapist_id": "phy1",
		"date":               "2024-06-03",
		"time_slot":          "09:30",
	}
	headers := map[string]string{idempotencyKeyHeader: "retry-1"}

	var first, second appointmentDTO
	if code := do(t, srv, call{method: http.MethodPost, path: "/v1/appointments", body: body, headers: headers}, &first); code != http.StatusCreated {
		t.Fatalf("first create status = %d", code)
	}
	if code := do(t, srv, call{method: http.MethodPost, path: "/v1/appointments", body: body, headers: headers}, &second); code != http.StatusCreated {
		t.Fatalf("replayed create status = %d", code)
	}
	if first.ID != second.ID {
		t.Fatalf("replay id = %s, want %s", second.ID, first.ID)
	}
}

func TestRouter_RejectsBadInput(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name string
		c    call
		want int
	}{
		{"malformed date query", call{method: http.MethodGet, path: "/v1/physiotherapists/phy1/available-slots?date=03-06-2024"}, http.StatusBadRequest},
		{"missing date query", call{method: http.MethodGet, path: "/v1/physiotherapists/phy1/available-slots"}, http.StatusBadRequest},
		{"unknown field", call{method: http.MethodPost, path: "/v1/appointments", body: map[string]any{"slot": "09:00"}}, http.StatusBadRequest},
		{"slot outside universe", call{method: http.MethodPost, path: "/v1/appointments", body: map[string]any{
			"user_id": "u1", "physiotherapist_id": "phy1", "date": "2024-06-03", "time_slot": "13:00",
		}}, http.StatusBadRequest},
		{"notes missing", call{method: http.MethodPut, path: "/v1/appointments/x/notes", body: map[string]any{}}, http.StatusBadRequest},
		{"unknown appointment", call{method: http.MethodGet, path: "/v1/appointments/nope"}, http.StatusNotFound},
		{"inverted range", call{method: http.MethodGet, path: "/v1/physiotherapists/phy1/appointments?from=2024-06-10&to=2024-06-01"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := do(t, srv, tt.c, nil); got != tt.want {
				t.Fatalf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

type failingService struct {
	booking.Service
	err error
}

func (f failingService) GetAvailableTimeSlots(ctx context.Context, physiotherapistID string, date time.Time) ([]string, error) {
	return nil, f.err
}

func TestHandler_FailMapsErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"retrieval", &booking.RetrievalError{Op: "list appointments", Err: errors.New("connection reset")}, http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"invalid state", booking.ErrInvalidState, http.StatusConflict},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(RouterConfig{
				Service: failingService{err: tt.err},
				Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
			})
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/physiotherapists/phy1/available-slots?date=2024-06-03", nil))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}

			var body errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if body.Error.RequestID == "" || body.Error.RequestID != rec.Header().Get(RequestIDHeader) {
				t.Fatalf("request_id = %q, header = %q", body.Error.RequestID, rec.Header().Get(RequestIDHeader))
			}
		})
	}
}

func TestRouter_ReadyzReportsFailures(t *testing.T) {
	router := NewRouter(RouterConfig{
		Service: failingService{},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		ReadyChecks: []ReadyCheck{
			{Name: "postgres", Check: func(context.Context) error { return nil }},
			{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }},
		},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if got := rec.Body.String(); got != "redis: connection refused" {
		t.Fatalf("body = %q", got)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
}
