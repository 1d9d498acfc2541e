package pubsub

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// WatermillBus implements Bus on top of watermill's in-process GoChannel.
// A single instance is shared by every component of a client; it is the
// only channel through which components observe each other's state.
type WatermillBus struct {
	pub message.Publisher
	sub message.Subscriber
}

const metaKeyTopic = "topic"

// NewWatermillBus initializes the in-process pub/sub bus.
func NewWatermillBus() *WatermillBus {
	goChannel := gochannel.NewGoChannel(
		gochannel.Config{},
		watermill.NewStdLogger(false, false),
	)

	return &WatermillBus{
		pub: goChannel,
		sub: goChannel,
	}
}

// Publish implements the Publisher interface.
func (wb *WatermillBus) Publish(ctx context.Context, msg Message) error {
	wmMsg := message.NewMessage(watermill.NewUUID(), msg.Payload)
	wmMsg.Metadata.Set(metaKeyTopic, msg.Topic)
	for k, v := range msg.Metadata {
		wmMsg.Metadata.Set(k, v)
	}
	return wb.pub.Publish(msg.Topic, wmMsg)
}

// Subscribe implements the Subscriber interface. The handler runs on a
// background goroutine; a non-nil handler error nacks the message and is
// logged rather than propagated, since bus consumers have no caller to
// report to.
func (wb *WatermillBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	messages, err := wb.sub.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	go func() {
		for wmMsg := range messages {
			metadata := make(map[string]string)
			for k, v := range wmMsg.Metadata {
				if k != metaKeyTopic {
					metadata[k] = v
				}
			}
			msg := Message{
				Topic:    topic,
				Payload:  wmMsg.Payload,
				Metadata: metadata,
			}

			if err := handler(ctx, msg); err != nil {
				slog.Error("Failed to handle bus message", "topic", topic, "msg_id", wmMsg.UUID, "error", err)
				wmMsg.Nack()
			} else {
				wmMsg.Ack()
			}
		}
		slog.Debug("Subscription message loop ended", "topic", topic)
	}()

	return nil
}

// Close shuts down the bus and terminates all subscription loops.
func (wb *WatermillBus) Close() error {
	return wb.sub.Close()
}
