package scheduling

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/dental-unit-scheduling/internal/events"
)

const (
	EventAvailabilityDeclared  = "AVAILABILITY_DECLARED"
	EventAppointmentAssigned   = "APPOINTMENT_ASSIGNED"
	EventAppointmentCancelled  = "APPOINTMENT_CANCELLED"
	EventAppointmentReschedule = "APPOINTMENT_RESCHEDULED"
	EventAppointmentConfirmed  = "APPOINTMENT_CONFIRMED"
	EventAppointmentStarted    = "APPOINTMENT_STARTED"
	EventAppointmentCompleted  = "APPOINTMENT_COMPLETED"
	EventRequestCreated        = "REQUEST_CREATED"
	EventRequestCancelled      = "REQUEST_CANCELLED"
	EventUnitCreated           = "UNIT_CREATED"
	EventUnitUpdated           = "UNIT_UPDATED"
	EventUnitDeleted           = "UNIT_DELETED"
)

// outbox collects the events of one transaction. They are written to
// event_logs inside the transaction and published once it commits.
type outbox struct {
	now    time.Time
	events []events.Event
}

func (o *outbox) record(ctx context.Context, repo Repository, eventType string, appointmentID, requestID *uuid.UUID, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := repo.InsertEvent(ctx, EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		RequestID:     requestID,
		Payload:       data,
		CreatedAt:     o.now,
	}); err != nil {
		return err
	}
	o.events = append(o.events, events.Event{
		ID:            uuid.New(),
		Type:          eventType,
		AppointmentID: appointmentID,
		RequestID:     requestID,
		Payload:       data,
		OccurredAt:    o.now,
	})
	return nil
}

// publish hands committed events to the sink. Failures are logged only:
// the change is already durable in event_logs.
func (s *Scheduler) publish(ctx context.Context, box *outbox) {
	if len(box.events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.publisher.Publish(ctx, box.events...); err != nil {
		s.log.Warn().Err(err).Int("events", len(box.events)).Msg("publish scheduler events")
	}
}

func ptr[T any](v T) *T { return &v }
