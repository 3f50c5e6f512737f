package grpc

import (
	"fmt"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"physiodesk/backend/internal/domain"
)

func stringField(req *structpb.Struct, name string) string {
	v, ok := req.GetFields()[name]
	if !ok {
		return ""
	}
	return strings.TrimSpace(v.GetStringValue())
}

// rawStringField keeps surrounding whitespace, for free text.
func rawStringField(req *structpb.Struct, name string) (string, bool) {
	v, ok := req.GetFields()[name]
	if !ok {
		return "", false
	}
	if _, isString := v.GetKind().(*structpb.Value_StringValue); !isString {
		return "", false
	}
	return v.GetStringValue(), true
}

// dateField parses a YYYY-MM-DD field. A missing field yields the zero time.
func dateField(req *structpb.Struct, name string) (time.Time, error) {
	raw := stringField(req, name)
	if raw == "" {
		return time.Time{}, nil
	}
	d, err := domain.ParseDay(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be a date in YYYY-MM-DD format", name)
	}
	return d, nil
}

func timestampString(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func appointmentFields(a domain.Appointment) map[string]any {
	m := map[string]any{
		"id":                   a.ID,
		"user_id":              a.UserID,
		"physiotherapist_id":   a.PhysiotherapistID,
		"date":                 domain.Day(a.Date).Format(domain.DateLayout),
		"time_slot":            a.TimeSlot,
		"status":               string(a.Status),
		"appointment_type":     string(a.Type),
		"rehabilitation_notes": a.RehabilitationNotes,
		"cancelled_by":         a.CancelledBy,
		"cancelled_by_role":    string(a.CancelledByRole),
		"created_at":           timestampString(a.CreatedAt),
		"updated_at":           timestampString(a.UpdatedAt),
	}
	if a.CancelledAt != nil {
		m["cancelled_at"] = timestampString(*a.CancelledAt)
	} else {
		m["cancelled_at"] = nil
	}
	return m
}

func blockFields(b domain.BlockedTimeSlot) map[string]any {
	return map[string]any{
		"id":                 b.ID,
		"physiotherapist_id": b.PhysiotherapistID,
		"date":               domain.Day(b.Date).Format(domain.DateLayout),
		"time_slot":          b.TimeSlot,
		"reason":             b.Reason,
		"created_at":         timestampString(b.CreatedAt),
	}
}

func appointmentResponse(a domain.Appointment) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"appointment": appointmentFields(a)})
}

func appointmentsResponse(appts []domain.Appointment) (*structpb.Struct, error) {
	list := make([]any, 0, len(appts))
	for _, a := range appts {
		list = append(list, appointmentFields(a))
	}
	return structpb.NewStruct(map[string]any{"appointments": list})
}

func blockResponse(b domain.BlockedTimeSlot) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"blocked_time_slot": blockFields(b)})
}

func blocksResponse(blocks []domain.BlockedTimeSlot) (*structpb.Struct, error) {
	list := make([]any, 0, len(blocks))
	for _, b := range blocks {
		list = append(list, blockFields(b))
	}
	return structpb.NewStruct(map[string]any{"blocked_time_slots": list})
}

func slotsResponse(slots []string) (*structpb.Struct, error) {
	list := make([]any, 0, len(slots))
	for _, s := range slots {
		list = append(list, s)
	}
	return structpb.NewStruct(map[string]any{"time_slots": list})
}
