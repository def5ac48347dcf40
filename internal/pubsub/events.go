// Package pubsub provides a generic publish/subscribe event system.
// The store publishes a change notification after every committed
// transaction; SSE streams and the status cache subscribe so readers wake
// without polling the database.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// CreatedEvent signals a new row (swarm or worker) was inserted.
	CreatedEvent EventType = "created"
	// UpdatedEvent signals an existing row changed.
	UpdatedEvent EventType = "updated"
	// DeletedEvent signals rows were removed (cleanup cascade).
	DeletedEvent EventType = "deleted"
	// AppendedEvent signals the event log grew.
	AppendedEvent EventType = "appended"
	// TickEvent signals an out-of-process write observed by the DB watcher.
	TickEvent EventType = "tick"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
