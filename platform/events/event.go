// Package events dispatches side effects after a case mutation has
// committed. Publishers hand over events only once their transaction is
// durable. Handlers run outside the case lock and a failing handler never
// undoes the mutation; the outbox row stays behind for redelivery.
package events

import (
	"context"
	"time"
)

// Event is a fact that already happened and was persisted.
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

// BaseEvent carries the commit time of an event.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// NewBaseEvent stamps an event with the current UTC time.
func NewBaseEvent() BaseEvent {
	return BaseEvent{Timestamp: time.Now().UTC()}
}

// Handler reacts to a committed event. A returned error is logged by the
// bus and never reaches the publisher.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Publisher is what the lifecycle engine depends on.
type Publisher interface {
	// Publish starts every handler for event and returns without waiting.
	Publish(ctx context.Context, event Event)
}

// Subscriber is what side-effect modules register against.
type Subscriber interface {
	Subscribe(eventName string, handler Handler)
}

// Bus combines both sides with a synchronous variant and a drain used on
// shutdown.
type Bus interface {
	Publisher
	Subscriber

	// PublishSync runs handlers in order and joins their errors.
	PublishSync(ctx context.Context, event Event) error

	// Wait blocks until handlers started by Publish have returned.
	Wait()
}
