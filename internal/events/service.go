package events

import (
	"context"
	"log/slog"
	"time"

	"physiodesk/backend/internal/domain"
	"physiodesk/backend/internal/metrics"
	"physiodesk/backend/internal/service/booking"
)

const defaultPublishTimeout = 5 * time.Second

// PublishingService announces successful booking writes. The write is already
// committed when the event goes out, so a publish failure is logged and the
// caller still gets the write's result.
type PublishingService struct {
	booking.Service
	pub     Publisher
	log     *slog.Logger
	now     func() time.Time
	timeout time.Duration
}

var _ booking.Service = (*PublishingService)(nil)

func NewPublishingService(next booking.Service, pub Publisher, log *slog.Logger) *PublishingService {
	if pub == nil {
		pub = NopPublisher{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &PublishingService{
		Service: next,
		pub:     pub,
		log:     log.With(slog.String("component", "events")),
		now:     time.Now,
		timeout: defaultPublishTimeout,
	}
}

// publish outlives the caller's cancellation, which would otherwise drop an
// event for a write that already committed. Trace values are kept.
func (s *PublishingService) publish(ctx context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	err := s.pub.Publish(ctx, ev)
	metrics.RecordEventPublished(string(ev.Type), err)
	if err != nil {
		s.log.Error("event publish failed",
			slog.Any("err", err),
			slog.String("event_id", ev.ID),
			slog.String("event_type", string(ev.Type)),
		)
		return
	}
	s.log.Debug("event published", slog.String("event_id", ev.ID), slog.String("event_type", string(ev.Type)))
}

func (s *PublishingService) CreateAppointment(ctx context.Context, in booking.CreateAppointmentInput) (domain.Appointment, error) {
	appt, err := s.Service.CreateAppointment(ctx, in)
	if err != nil {
		return appt, err
	}
	s.publish(ctx, appointmentEvent(TypeAppointmentCreated, appt, s.now()))
	return appt, nil
}

func (s *PublishingService) CancelAppointmentWithRole(ctx context.Context, appointmentID, cancelledBy string, role domain.Role) (domain.Appointment, error) {
	appt, err := s.Service.CancelAppointmentWithRole(ctx, appointmentID, cancelledBy, role)
	if err != nil {
		return appt, err
	}
	s.publish(ctx, appointmentEvent(TypeAppointmentCancelled, appt, s.now()))
	return appt, nil
}

func (s *PublishingService) ConfirmAppointment(ctx context.Context, appointmentID string) (domain.Appointment, error) {
	appt, err := s.Service.ConfirmAppointment(ctx, appointmentID)
	if err != nil {
		return appt, err
	}
	s.publish(ctx, appointmentEvent(TypeAppointmentConfirmed, appt, s.now()))
	return appt, nil
}

func (s *PublishingService) CompleteAppointment(ctx context.Context, appointmentID string) (domain.Appointment, error) {
	appt, err := s.Service.CompleteAppointment(ctx, appointmentID)
	if err != nil {
		return appt, err
	}
	s.publish(ctx, appointmentEvent(TypeAppointmentCompleted, appt, s.now()))
	return appt, nil
}

func (s *PublishingService) BlockTimeSlot(ctx context.Context, in booking.BlockTimeSlotInput) (domain.BlockedTimeSlot, error) {
	block, err := s.Service.BlockTimeSlot(ctx, in)
	if err != nil {
		return block, err
	}
	s.publish(ctx, blockEvent(TypeTimeSlotBlocked, block, s.now()))
	return block, nil
}

func (s *PublishingService) UnblockTimeSlot(ctx context.Context, blockID string) error {
	if err := s.Service.UnblockTimeSlot(ctx, blockID); err != nil {
		return err
	}
	ev := newEvent(TypeTimeSlotUnblocked, s.now())
	ev.BlockID = blockID
	s.publish(ctx, ev)
	return nil
}
