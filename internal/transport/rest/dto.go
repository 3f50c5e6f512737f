package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"physiodesk/backend/internal/domain"
)

const maxBodyBytes = 1 << 20

type appointmentDTO struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"user_id"`
	PhysiotherapistID   string     `json:"physiotherapist_id"`
	Date                string     `json:"date"`
	TimeSlot            string     `json:"time_slot"`
	Status              string     `json:"status"`
	AppointmentType     string     `json:"appointment_type"`
	RehabilitationNotes string     `json:"rehabilitation_notes"`
	CancelledBy         string     `json:"cancelled_by,omitempty"`
	CancelledByRole     string     `json:"cancelled_by_role,omitempty"`
	CancelledAt         *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func toAppointmentDTO(a domain.Appointment) appointmentDTO {
	return appointmentDTO{
		ID:                  a.ID,
		UserID:              a.UserID,
		PhysiotherapistID:   a.PhysiotherapistID,
		Date:                a.Date.Format(domain.DateLayout),
		TimeSlot:            a.TimeSlot,
		Status:              string(a.Status),
		AppointmentType:     string(a.Type),
		RehabilitationNotes: a.RehabilitationNotes,
		CancelledBy:         a.CancelledBy,
		CancelledByRole:     string(a.CancelledByRole),
		CancelledAt:         a.CancelledAt,
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
	}
}

func toAppointmentDTOs(in []domain.Appointment) []appointmentDTO {
	out := make([]appointmentDTO, 0, len(in))
	for _, a := range in {
		out = append(out, toAppointmentDTO(a))
	}
	return out
}

type blockDTO struct {
	ID                string    `json:"id"`
	PhysiotherapistID string    `json:"physiotherapist_id"`
	Date              string    `json:"date"`
	TimeSlot          string    `json:"time_slot"`
	Reason            string    `json:"reason,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

func toBlockDTO(b domain.BlockedTimeSlot) blockDTO {
	return blockDTO{
		ID:                b.ID,
		PhysiotherapistID: b.PhysiotherapistID,
		Date:              b.Date.Format(domain.DateLayout),
		TimeSlot:          b.TimeSlot,
		Reason:            b.Reason,
		CreatedAt:         b.CreatedAt,
	}
}

type createAppointmentRequest struct {
	UserID              string `json:"user_id"`
	PhysiotherapistID   string `json:"physiotherapist_id"`
	Date                string `json:"date"`
	TimeSlot            string `json:"time_slot"`
	Status              string `json:"status"`
	AppointmentType     string `json:"appointment_type"`
	RehabilitationNotes string `json:"rehabilitation_notes"`
}

type cancelAppointmentRequest struct {
	CancelledBy string `json:"cancelled_by"`
	Role        string `json:"role"`
}

type updateNotesRequest struct {
	RehabilitationNotes *string `json:"rehabilitation_notes"`
}

type blockTimeSlotRequest struct {
	Date     string `json:"date"`
	TimeSlot string `json:"time_slot"`
	Reason   string `json:"reason"`
}

// decodeJSON reads a single JSON object. An empty body is allowed when
// optional is set and leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			if optional {
				return nil
			}
			return errors.New("request body is required")
		}
		return fmt.Errorf("malformed request body: %w", err)
	}
	if dec.More() {
		return errors.New("request body must hold a single JSON object")
	}
	return nil
}

// parseDate accepts an empty value as the zero time so the coordinator
// reports the missing field.
func parseDate(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	d, err := domain.ParseDay(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be formatted as YYYY-MM-DD", field)
	}
	return d, nil
}
