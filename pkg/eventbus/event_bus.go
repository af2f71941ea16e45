// Package eventbus carries execution lifecycle notifications between the
// NetPad processes. Events are informational: the durable job queue, not
// the bus, drives execution.
package eventbus

import (
	"context"

	"github.com/mrlynn/netpad-v3-sub010/pkg/events"
)

// Event is anything published on the lifecycle topic.
type Event interface {
	GetType() events.EventType
}

// EventPublisher is the narrow side used by services and the execution
// manager. key partitions the topic, usually by workflow or execution id.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber dispatches decoded events to one handler per type.
// Handlers must be registered before Subscribe.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a pointer to the decoded event struct. Returning
// an error nacks the message.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
