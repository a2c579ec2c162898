package interfaces

import "context"

// EventType identifies a pub/sub event category.
type EventType string

const (
	// EventJobLifecycle carries a *models.JobEvent payload for every job
	// state change and progress update.
	EventJobLifecycle EventType = "job_lifecycle"
	// EventQueueStats carries a *models.QueueStats payload on the periodic
	// stats sweep.
	EventQueueStats EventType = "queue_stats"
)

// Event is a published message with a typed payload.
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler processes a published event.
type EventHandler func(ctx context.Context, event Event) error

// EventService is an in-process pub/sub bus decoupling producers (scheduler,
// progress reporter) from consumers (websocket hub).
//
// Publish delivers synchronously in subscription order so that events for a
// single job reach each subscriber in the order they were produced.
// PublishAsync trades that ordering for a non-blocking send and is only used
// for events with no ordering contract (queue stats).
type EventService interface {
	Subscribe(eventType EventType, handler EventHandler) error
	Publish(ctx context.Context, event Event) error
	PublishAsync(ctx context.Context, event Event)
	Close() error
}
