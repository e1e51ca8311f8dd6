// Package events ships scheduler audit events to an external sink after the
// change that produced them has committed.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Event struct {
	ID            uuid.UUID       `json:"id"`
	Type          string          `json:"type"`
	AppointmentID *uuid.UUID      `json:"appointmentId,omitempty"`
	RequestID     *uuid.UUID      `json:"requestId,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

// Key groups events about the same appointment (or request) so a
// partitioned sink keeps them in order.
func (e Event) Key() string {
	switch {
	case e.AppointmentID != nil:
		return e.AppointmentID.String()
	case e.RequestID != nil:
		return e.RequestID.String()
	default:
		return e.Type
	}
}

// Publisher delivers events. Callers treat delivery as best effort.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

type noopPublisher struct{}

// Noop drops every event.
func Noop() Publisher { return noopPublisher{} }

func (noopPublisher) Publish(context.Context, ...Event) error { return nil }
func (noopPublisher) Close() error                            { return nil }
