package events

import (
	"context"

	"github.com/rs/zerolog"
)

// LogPublisher writes events to the service log. It is the default sink
// for local runs.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, events ...Event) error {
	for _, ev := range events {
		e := p.log.Info().
			Str("event_id", ev.ID.String()).
			Str("event_type", ev.Type).
			Time("occurred_at", ev.OccurredAt)
		if ev.AppointmentID != nil {
			e = e.Str("appointment_id", ev.AppointmentID.String())
		}
		if ev.RequestID != nil {
			e = e.Str("request_id", ev.RequestID.String())
		}
		if len(ev.Payload) > 0 {
			e = e.RawJSON("payload", ev.Payload)
		}
		e.Msg("scheduler event")
	}
	return nil
}

func (p *LogPublisher) Close() error { return nil }
