package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"physiodesk/backend/internal/service/booking"
)

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: errorBody{
		Code:      code,
		Message:   msg,
		RequestID: RequestIDFromContext(r.Context()),
	}})
}

// fail maps coordinator errors onto HTTP statuses and logs them at the
// level matching their cause.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, log *slog.Logger, msg string, err error, attrs ...any) {
	args := append([]any{slog.Any("err", err), slog.String("request_id", RequestIDFromContext(r.Context()))}, attrs...)

	var vErr *booking.ValidationError
	if errors.As(err, &vErr) {
		log.Warn("invalid request", args...)
		writeError(w, r, http.StatusBadRequest, "invalid_argument", vErr.Error())
		return
	}

	var rErr *booking.RetrievalError
	switch {
	case errors.Is(err, booking.ErrNotFound):
		log.Info(msg, args...)
		writeError(w, r, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, booking.ErrIdempotencyConflict):
		log.Info(msg, args...)
		writeError(w, r, http.StatusConflict, "idempotency_conflict", "This request key was already used for a different appointment. Try again.")
	case errors.Is(err, booking.ErrConflict):
		log.Info(msg, args...)
		writeError(w, r, http.StatusConflict, "slot_taken", "That time slot is already taken. Pick a different slot.")
	case errors.Is(err, booking.ErrInvalidState):
		log.Info(msg, args...)
		writeError(w, r, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn(msg, args...)
		writeError(w, r, http.StatusGatewayTimeout, "deadline_exceeded", "request timed out")
	case errors.Is(err, context.Canceled):
		log.Info(msg, args...)
		writeError(w, r, http.StatusServiceUnavailable, "canceled", "request canceled")
	case errors.As(err, &rErr):
		log.Error(msg, args...)
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "booking store unavailable")
	default:
		log.Error(msg, args...)
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
	}
}
