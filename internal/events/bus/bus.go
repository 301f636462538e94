// Package bus carries agent lifecycle events between the engine and the
// websocket bridge. The in-memory bus serves a single process; the NATS bus
// fans the same subjects out across engine processes sharing a deployment.
package bus

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var errBusClosed = errors.New("event bus is closed")

// ReplySubjectKey is the event-data key carrying the reply subject of an
// in-flight Request. Responders publish their answer to that subject.
const ReplySubjectKey = "_reply"

// Event is one message on the bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler consumes one delivered event. A returned error is logged by
// the bus and does not end the subscription.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription is a live handler registration.
type Subscription interface {
	// Unsubscribe detaches the handler. Safe to call more than once.
	Unsubscribe() error

	// IsValid reports whether the subscription still receives events.
	IsValid() bool
}

// EventBus publishes events to dotted subjects and subscribes handlers to
// subject patterns. Patterns use NATS wildcards: "*" matches exactly one
// token, a trailing ">" matches one or more.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler EventHandler) (Subscription, error)

	// QueueSubscribe delivers each matching event to exactly one member of
	// the named queue group.
	QueueSubscribe(subject, queue string, handler EventHandler) (Subscription, error)

	// Request publishes the event with a reply subject under ReplySubjectKey
	// and waits for the responder's answer.
	Request(ctx context.Context, subject string, event *Event, timeout time.Duration) (*Event, error)

	Close()
	IsConnected() bool
}
