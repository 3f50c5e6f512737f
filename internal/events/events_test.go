package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"physiodesk/backend/internal/domain"
	"physiodesk/backend/internal/service/booking"
	"physiodesk/backend/internal/store/memory"
)

type fakeWriter struct {
	writeFn func(ctx context.Context, msgs ...kafka.Message) error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.writeFn == nil {
		panic("WriteMessages not configured")
	}
	return f.writeFn(ctx, msgs...)
}

func (f *fakeWriter) Close() error { return nil }

type recordingPublisher struct {
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, ev Event) error {
	p.events = append(p.events, ev)
	return p.err
}

func TestKafkaPublisher_WritesKeyHeadersAndTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	var got []kafka.Message
	p := &KafkaPublisher{
		topic: "booking-events",
		w: &fakeWriter{writeFn: func(ctx context.Context, msgs ...kafka.Message) error {
			got = append(got, msgs...)
			return nil
		}},
	}

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	appt := domain.Appointment{ID: "a1", PhysiotherapistID: "phy1", TimeSlot: "09:00", Status: domain.StatusPending}
	ev := appointmentEvent(TypeAppointmentCreated, appt, time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))
	if err := p.Publish(ctx, ev); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("messages = %d, want 1", len(got))
	}
	msg := got[0]
	if string(msg.Key) != "phy1" {
		t.Fatalf("key = %q, want phy1", msg.Key)
	}
	if headerValue(msg.Headers, headerEventType) != string(TypeAppointmentCreated) {
		t.Fatalf("event_type header = %q", headerValue(msg.Headers, headerEventType))
	}
	if headerValue(msg.Headers, headerEventID) != ev.ID {
		t.Fatalf("event_id header = %q, want %q", headerValue(msg.Headers, headerEventID), ev.ID)
	}
	if tp := headerValue(msg.Headers, "traceparent"); tp != "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01" {
		t.Fatalf("traceparent = %q", tp)
	}

	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("payload decode: %v", err)
	}
	if decoded.Appointment == nil || decoded.Appointment.ID != "a1" {
		t.Fatalf("payload appointment = %+v", decoded.Appointment)
	}
}

func TestNewKafkaPublisher_RequiresBrokersAndTopic(t *testing.T) {
	if _, err := NewKafkaPublisher(KafkaConfig{Topic: "t"}); err == nil {
		t.Fatalf("expected error without brokers")
	}
	if _, err := NewKafkaPublisher(KafkaConfig{Brokers: "localhost:9092"}); err == nil {
		t.Fatalf("expected error without topic")
	}
}

func TestNewKafkaPublisher_FlushesEachMessage(t *testing.T) {
	p, err := NewKafkaPublisher(KafkaConfig{Brokers: "localhost:9092", Topic: "booking-events"})
	if err != nil {
		t.Fatalf("NewKafkaPublisher error: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	w, ok := p.w.(*kafka.Writer)
	if !ok {
		t.Fatalf("writer type = %T, want *kafka.Writer", p.w)
	}
	if w.BatchSize != 1 {
		t.Fatalf("BatchSize = %d, want 1", w.BatchSize)
	}
	if w.BatchTimeout <= 0 || w.BatchTimeout > 50*time.Millisecond {
		t.Fatalf("BatchTimeout = %v, want a few milliseconds", w.BatchTimeout)
	}
	if w.RequiredAcks != kafka.RequireAll {
		t.Fatalf("RequiredAcks = %v, want RequireAll", w.RequiredAcks)
	}
	if _, ok := w.Balancer.(*kafka.Hash); !ok {
		t.Fatalf("Balancer = %T, want *kafka.Hash", w.Balancer)
	}
}

// ctxCapturingPublisher records the publish context state at call time.
type ctxCapturingPublisher struct {
	called      bool
	err         error
	hasDeadline bool
}

func (p *ctxCapturingPublisher) Publish(ctx context.Context, ev Event) error {
	p.called = true
	p.err = ctx.Err()
	_, p.hasDeadline = ctx.Deadline()
	return p.err
}

func TestPublishingService_PublishOutlivesCallerCancellation(t *testing.T) {
	pub := &ctxCapturingPublisher{}
	svc := NewPublishingService(nil, pub, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.publish(ctx, newEvent(TypeTimeSlotUnblocked, time.Now()))

	if !pub.called {
		t.Fatalf("publisher not called")
	}
	if pub.err != nil {
		t.Fatalf("publish ctx err = %v, want live context", pub.err)
	}
	if !pub.hasDeadline {
		t.Fatalf("publish ctx has no deadline")
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" a:9092, ,b:9092 ")
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("SplitBrokers = %v", got)
	}
}

func TestPublishingService_PublishesOnlySuccessfulWrites(t *testing.T) {
	catalog := domain.NewSlotCatalog([]string{"09:00", "09:30"})
	pub := &recordingPublisher{}
	svc := NewPublishingService(booking.NewCoordinator(memory.New(), catalog, nil), pub, slog.Default())
	ctx := context.Background()
	date := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	appt, err := svc.CreateAppointment(ctx, booking.CreateAppointmentInput{UserID: "u1", PhysiotherapistID: "phy1", Date: date, TimeSlot: "09:00"})
	if err != nil {
		t.Fatalf("CreateAppointment error: %v", err)
	}
	if _, err := svc.CreateAppointment(ctx, booking.CreateAppointmentInput{UserID: "u2", PhysiotherapistID: "phy1", Date: date, TimeSlot: "09:00"}); !errors.Is(err, booking.ErrConflict) {
		t.Fatalf("double booking err = %v, want conflict", err)
	}
	if _, err := svc.CancelAppointmentWithRole(ctx, appt.ID, "u1", domain.RoleUser); err != nil {
		t.Fatalf("CancelAppointmentWithRole error: %v", err)
	}
	block, err := svc.BlockTimeSlot(ctx, booking.BlockTimeSlotInput{PhysiotherapistID: "phy1", Date: date, TimeSlot: "09:30"})
	if err != nil {
		t.Fatalf("BlockTimeSlot error: %v", err)
	}
	if err := svc.UnblockTimeSlot(ctx, block.ID); err != nil {
		t.Fatalf("UnblockTimeSlot error: %v", err)
	}

	want := []Type{TypeAppointmentCreated, TypeAppointmentCancelled, TypeTimeSlotBlocked, TypeTimeSlotUnblocked}
	if len(pub.events) != len(want) {
		t.Fatalf("events = %d, want %d", len(pub.events), len(want))
	}
	for i, typ := range want {
		if pub.events[i].Type != typ {
			t.Fatalf("event[%d] = %s, want %s", i, pub.events[i].Type, typ)
		}
	}
	if pub.events[1].Appointment.Status != domain.StatusCancelled {
		t.Fatalf("cancel event status = %s", pub.events[1].Appointment.Status)
	}
	if pub.events[3].BlockID != block.ID {
		t.Fatalf("unblock event block_id = %q, want %q", pub.events[3].BlockID, block.ID)
	}
}

func TestPublishingService_PublishFailureKeepsResult(t *testing.T) {
	catalog := domain.NewSlotCatalog([]string{"09:00"})
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc := NewPublishingService(booking.NewCoordinator(memory.New(), catalog, nil), pub, slog.Default())

	appt, err := svc.CreateAppointment(context.Background(), booking.CreateAppointmentInput{
		UserID:            "u1",
		PhysiotherapistID: "phy1",
		Date:              time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
		TimeSlot:          "09:00",
	})
	if err != nil {
		t.Fatalf("CreateAppointment error: %v", err)
	}
	if appt.ID == "" {
		t.Fatalf("expected stored appointment")
	}
}
