package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
)

// Event[T] binds a topic name to a payload type, giving compile-time
// agreement between publishers and subscribers of the same event. The full
// set of events the client deals in is declared once, in internal/socket,
// so there are no ad-hoc stringly-typed topics floating around.
type Event[T any] struct {
	topic string
}

// NewEvent declares a typed event on the given topic.
func NewEvent[T any](topic string) Event[T] {
	return Event[T]{topic: topic}
}

// Topic returns the topic name the event is published on.
func (e Event[T]) Topic() string {
	return e.topic
}

// Publish sends a typed event. The compiler ensures payload matches T.
func Publish[T any](ctx context.Context, p Publisher, event Event[T], payload T) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", event.topic, err)
	}

	return p.Publish(ctx, Message{
		Topic:   event.topic,
		Payload: data,
	})
}

// SubscribeTo registers a typed handler for the event. Payloads that fail to
// decode are reported as handler errors and never reach fn.
func SubscribeTo[T any](ctx context.Context, s Subscriber, event Event[T], fn func(ctx context.Context, payload T) error) error {
	return s.Subscribe(ctx, event.topic, func(ctx context.Context, msg Message) error {
		var payload T
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decoding %s payload: %w", event.topic, err)
		}
		return fn(ctx, payload)
	})
}
