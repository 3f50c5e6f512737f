package rest

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"physiodesk/backend/internal/auth"
	"physiodesk/backend/internal/domain"
	"physiodesk/backend/internal/service/booking"
)

const idempotencyKeyHeader = "Idempotency-Key"

type Handler struct {
	svc         booking.Service
	log         *slog.Logger
	authEnabled bool
}

func NewHandler(svc booking.Service, log *slog.Logger, authEnabled bool) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		svc:         svc,
		log:         log.With(slog.String("component", "http.booking")),
		authEnabled: authEnabled,
	}
}

// Routes is mounted under /v1.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	staff := h.requireRoles(auth.Staff...)

	r.Route("/physiotherapists/{physiotherapistID}", func(r chi.Router) {
		r.Get("/available-slots", h.getAvailableTimeSlots)
		r.With(staff).Get("/appointments", h.listAppointments)
		r.With(staff).Get("/blocked-slots", h.listBlockedTimeSlots)
		r.With(staff).Post("/blocked-slots", h.blockTimeSlot)
	})

	r.With(staff).Delete("/blocked-slots/{blockID}", h.unblockTimeSlot)

	r.Post("/appointments", h.createAppointment)
	r.Route("/appointments/{appointmentID}", func(r chi.Router) {
		r.Get("/", h.getAppointment)
		r.Post("/cancel", h.cancelAppointment)
		r.With(staff).Post("/confirm", h.confirmAppointment)
		r.With(staff).Post("/complete", h.completeAppointment)
		r.With(staff).Put("/notes", h.updateNotes)
	})

	r.Get("/users/{userID}/appointments", h.listUserAppointments)
	return r
}

// actsFor reports whether the caller may act on resources owned by id.
func (h *Handler) actsFor(r *http.Request, id string) bool {
	if !h.authEnabled {
		return true
	}
	identity, ok := auth.FromContext(r.Context())
	return ok && identity.ActsFor(id)
}

// canAccess reports whether the caller is a party to appt.
func (h *Handler) canAccess(r *http.Request, appt domain.Appointment) bool {
	if !h.authEnabled {
		return true
	}
	identity, ok := auth.FromContext(r.Context())
	return ok && identity.CanAccess(appt)
}

func (h *Handler) getAvailableTimeSlots(w http.ResponseWriter, r *http.Request) {
	log := h.log.With(slog.String("route", "available-slots"))
	physiotherapistID := chi.URLParam(r, "physiotherapistID")

	date, err := parseDate("date", r.URL.Query().Get("date"))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_date"), slog.String("physiotherapist_id", physiotherapistID))
		writeError(w, r, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}

	slots, err := h.svc.GetAvailableTimeSlots(r.Context(), physiotherapistID, date)
	if err != nil {
		h.fail(w, r, log, "available slots lookup failed", err, slog.String("physiotherapist_id", physiotherapistID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"physiotherapist_id": physiotherapistID,
		"date":               date.Format(domain.DateLayout),
		"time_slots":         slots,
	})
}

func (h *Handler) createAppointment(w http.ResponseWriter, r *http.Request) {
	log := h.log.With(slog.String("route", "create-appointment"))

	var req createAppointmentRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		log.Warn("invalid request", slog.Any("err", err))
		writeError(w, r, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}

	if identity, ok := auth.FromContext(r.Context()); ok && identity.Role == domain.RoleUser {
		if strings.TrimSpace(req.UserID) == "" {
			req.UserID = identity.ID
		}
		if req.UserID != identity.ID {
			writeError(w, r, http.StatusForbidden, "forbidden", "users may only book for themselves")
			return
		}
	}

	in := booking.CreateAppointmentInput{
		UserID:              req.UserID,
		PhysiotherapistID:   req.PhysiotherapistID,
		Date:                date,
		TimeSlot:            req.TimeSlot,
		Status:              domain.Status(strings.ToUpper(strings.TrimSpace(req.Status))),
		Type:                domain.AppointmentType(strings.ToUpper(strings.TrimSpace(req.AppointmentType))),
		RehabilitationNotes: req.RehabilitationNotes,
		IdempotencyKey:      strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
	}

	appt, err := h.svc.CreateAppointment(r.Context(), in)
	if err != nil {
		h.fail(w, r, log, "appointment create failed", err,
			slog.String("user_id", in.UserID),
			slog.String("physiotherapist_id", in.PhysiotherapistID),
			slog.String("time_slot", in.TimeSlot),
		)
		return
	}

	log.Info("appointment created",
		slog.String("appointment_id", appt.ID),
		slog.String("physiotherapist_id", appt.PhysiotherapistID),
		slog.String("date", appt.Date.Format(domain.DateLayout)),
		slog.String("time_slot", appt.TimeSlot),
	)
	writeJSON(w, http.StatusCreated, toAppointmentDTO(appt))
}

// loadAppointment fetches the path appointment and checks the caller is a
// party to it. It writes the response and returns false on failure.
func (h *Handler) loadAppointment(w http.ResponseWriter, r *http.Request, log *slog.Logger) (domain.Appointment, bool) {
	id := chi.URLParam(r, "appointmentID")
	appt, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		h.fail(w, r, log, "appointment get failed", err, slog.String("appointment_id", id))
		return domain.Appointment{}, false
	}
	if !h.canAccess(r, appt) {
		writeError(w, r, http.StatusForbidden, "forbidden", "not a party to this appointment")
		return domain.Appointment{}, false
	}
	return appt, true
}

func (h *Handler) getAppointment(w http.ResponseWriter, r *http.Request) {
	appt, ok := h.loadAppointment(w, r, h.log.With(slog.String("route", "get-appointment")))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentDTO(appt))
}

func (h *Handler) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	log := h.log.With(slog.String("route", "cancel-appointment"))
	id := chi.URLParam(r, "appointmentID")

	var by string
	var role domain.Role
	if identity, ok := auth.FromContext(r.Context()); ok {
		if _, ok := h.loadAppointment(w, r, log); !ok {
			return
		}
		by, role = identity.ID, identity.Role
	} else {
		var req cancelAppointmentRequest
		if err := decodeJSON(w, r, &req, true); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_argument", err.Error())
			return
		}
		by, role = req.CancelledBy, domain.Role(strings.ToUpper(strings.TrimSpace(req.Role)))
	}

	appt, err := h.svc.CancelAppointmentWithRole(r.Context(), id, by, role)
	if err != nil {
		h.fail(w, r, log, "appointment cancel failed", err, slog.String("appointment_id", id), slog.String("cancelled_by", by))
		return
	}

	log.Info("appointment cancelled", slog.String("appointment_id", appt.ID), slog.String("cancelled_by", by), slog.String("role", string(role)))
	writeJSON(w, http.StatusOK, toAppointmentDTO(appt))
}

func (h *Handler) confirmAppointment(w http.ResponseWriter, r *http.Request) {
	log := h.log.With(slog.String("route", "confirm-appointment"))
	if _, ok := h.loadAppointment(w, r, log); !ok {
		return
	}
	id := chi.URLParam(r, "appointmentID")

	appt, err := h.svc.ConfirmAppointment(r.Context(), id)
	if err != nil {
		h.fail(w, r, log, "appointment confirm failed", err, slog.String("appointment_id", id))
		return
	}
	log.Info("appointment confirmed", slog.String("appointment_id", appt.ID))
	writeJSON(w, http.StatusOK, toAppointmentDTO(appt))
}

func (h *Handler) completeAppointment(w http.ResponseWriter, r *http.Request) {
	log := h.log.With(slog.String("route", "complete-appointment"))
	if _, ok := h.loadAppointment(w, r, log); !ok {
		return
	}
	id := chi.URLParam(r, "appointmentID")

	appt, err := h.svc.CompleteAppointment(r.Context(), id)
	if err != nil {
		h.fail(w, r, log, "appointment complete failed", err, slog.String("appointment_id", id))
		return
	}
	log.Info("appointment completed", slog.String("appointment_id", appt.ID))
	writeJSON(w, http.StatusOK, toAppointmentDTO(appt))
}

func (h *Handler) updateNotes(w http.ResponseWriter, r *http.Request) {
	log := h.log.With(slog.String("route", "update-notes"))
	id := chi.URLParam(r, "appointmentID")

	var req updateNotesRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	if req.RehabilitationNotes == nil {
		writeError(w, r, http.StatusBadRequest, "invalid_argument", "rehabilitation_notes is required")
		return
	}
	if _, ok := h.loadAppointment(w, r, log); !ok {
		return
	}

	appt, err := h.svc.UpdateAppointmentNotes(r.Context(), id, *req.RehabilitationNotes)
	if err != nil {
		h.fail(w, r, log, "appointment notes update failed", err, slog.String("appointment_id", id))
		return
	}
	log.Info("appointment notes updated", slog.String("appointment_id", appt.ID))
	writeJSON(w, http.StatusOK, toAppointmentDTO(appt))
}

func (h *Handler) listAppointments(w http.ResponseWriter, r *http.Request) {
	log := h.log.With(slog.String("route", "list-appointments"))
	physiotherapistID := chi.URLParam(r, "physiotherapistID")
	if !h.actsFor(r, physiotherapistID) {
		writeError(w, r, http.StatusForbidden, "forbidden", "insufficient permissions")
		return
	}

	from, to, err := queryRange(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}

	appts, err := h.svc.ListAppointments(r.Context(), physiotherapistID, from, to)
	if err != nil {
		h.fail(w, r, log, "appointments list failed", err, slog.String("physiotherapist_id", physiotherapistID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": toAppointmentDTOs(appts)})
}

func (h *Handler) listUserAppointments(w http.ResponseWriter, r *http.Request) {
	log := h.log.With(slog.String("route", "list-user-appointments"))
	userID := chi.URLParam(r, "userID")
	if !h.actsFor(r, userID) {
		writeError(w, r, http.StatusForbidden, "forbidden", "insufficient permissions")
		return
	}

	appts, err := h.svc.ListUserAppointments(r.Context(), userID)
	if err != nil {
		h.fail(w, r, log, "user appointments list failed", err, slog.String("user_id", userID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": toAppointmentDTOs(appts)})
}

func (h *Handler) blockTimeSlot(w http.ResponseWriter, r *http.Request) {
	log := h.log.With(slog.String("route", "block-time-slot"))
	physiotherapistID := chi.URLParam(r, "physiotherapistID")
	if !h.actsFor(r, physiotherapistID) {
		writeError(w, r, http.StatusForbidden, "forbidden", "insufficient permissions")
		return
	}

	var req blockTimeSlotRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}

	block, err := h.svc.BlockTimeSlot(r.Context(), booking.BlockTimeSlotInput{
		PhysiotherapistID: physiotherapistID,
		Date:              date,
		TimeSlot:          req.TimeSlot,
		Reason:            req.Reason,
	})
	if err != nil {
		h.fail(w, r, log, "time slot block failed", err, slog.String("physiotherapist_id", physiotherapistID))
		return
	}

	log.Info("time slot blocked",
		slog.String("block_id", block.ID),
		slog.String("physiotherapist_id", block.PhysiotherapistID),
		slog.String("date", block.Date.Format(domain.DateLayout)),
		slog.String("time_slot", block.TimeSlot),
	)
	writeJSON(w, http.StatusCreated, toBlockDTO(block))
}

func (h *Handler) unblockTimeSlot(w http.ResponseWriter, r *http.Request) {
	log := h.log.With(slog.String("route", "unblock-time-slot"))
	id := chi.URLParam(r, "blockID")

	block, err := h.svc.GetBlockedTimeSlot(r.Context(), id)
	if err != nil {
		h.fail(w, r, log, "blocked slot get failed", err, slog.String("block_id", id))
		return
	}
	if !h.actsFor(r, block.PhysiotherapistID) {
		writeError(w, r, http.StatusForbidden, "forbidden", "block belongs to another physiotherapist")
		return
	}

	if err := h.svc.UnblockTimeSlot(r.Context(), id); err != nil {
		h.fail(w, r, log, "time slot unblock failed", err, slog.String("block_id", id))
		return
	}
	log.Info("time slot unblocked", slog.String("block_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listBlockedTimeSlots(w http.ResponseWriter, r *http.Request) {
	log := h.log.With(slog.String("route", "list-blocked-slots"))
	physiotherapistID := chi.URLParam(r, "physiotherapistID")
	if !h.actsFor(r, physiotherapistID) {
		writeError(w, r, http.StatusForbidden, "forbidden", "insufficient permissions")
		return
	}

	from, to, err := queryRange(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}

	blocks, err := h.svc.ListBlockedTimeSlots(r.Context(), physiotherapistID, from, to)
	if err != nil {
		h.fail(w, r, log, "blocked slots list failed", err, slog.String("physiotherapist_id", physiotherapistID))
		return
	}
	out := make([]blockDTO, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, toBlockDTO(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocked_slots": out})
}

func queryRange(r *http.Request) (from, to time.Time, err error) {
	q := r.URL.Query()
	if from, err = parseDate("from", q.Get("from")); err != nil {
		return
	}
	to, err = parseDate("to", q.Get("to"))
	return
}
