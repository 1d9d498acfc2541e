package pubsub

import (
	"context"
)

// Message is the structure passed between components on the bus.
// It is intentionally simple and acts as a wrapper for raw payloads;
// typed components should prefer Event[T] from typed.go.
type Message struct {
	// Topic identifies the channel the message belongs to (e.g. "chat.message.new").
	Topic string
	// Payload contains the raw message data as JSON.
	Payload []byte
	// Metadata can contain arbitrary key-value pairs for context.
	Metadata map[string]string
}

// Handler defines the function signature for processing a received message.
type Handler func(ctx context.Context, msg Message) error

// Publisher defines the contract for sending messages to the bus.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber defines the contract for receiving messages from the bus.
type Subscriber interface {
	// Subscribe registers the handler for the given topic and returns once
	// the subscription is active; messages are delivered on a background
	// goroutine until the context is canceled.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// Bus combines both halves of the pub/sub contract. The in-process watermill
// bridge satisfies it; tests substitute lightweight doubles.
type Bus interface {
	Publisher
	Subscriber
}
