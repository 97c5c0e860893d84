package ports

import "context"

// MessageHandler receives one inbound message. Handlers are invoked on the
// transport's goroutines and must contain their own failures.
type MessageHandler func(topic string, payload []byte)

// MessageBus wraps the pub/sub transport. Delivery is at-least-once and
// publishes are fire-and-forget from the device's point of view; Publish
// reports only whether the broker accepted the message.
type MessageBus interface {
	Subscribe(topic string, h MessageHandler) error
	Publish(ctx context.Context, topic string, payload []byte) error
	Close()
}
