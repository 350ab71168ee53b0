// Package eventbus provides a small publish/subscribe interface used to
// announce token lifecycle changes to other components in the process.
package eventbus

import (
	"context"
)

// Topics published by the token store and refresher.
const (
	TopicTokenSaved              = "token.saved"
	TopicTokenRefreshed          = "token.refreshed"
	TopicTokenRevoked            = "token.revoked"
	TopicIntegrationDisconnected = "integration.disconnected"
)

// Handler processes a message. Returned errors are logged by the bus.
type Handler func(ctx context.Context, msg *Message) error

// EventBus delivers messages to subscribers.
type EventBus interface {
	// Subscribe registers a handler that receives every message published to
	// topic. Handlers may be called concurrently.
	Subscribe(topic string, handler Handler)

	// Publish sends data to all subscribers of topic. It does not wait for
	// handlers to run.
	Publish(topic string, data any)

	// SubscribeQueue registers a handler that competes with other queue
	// handlers for messages sent with Enqueue.
	SubscribeQueue(topic string, handler Handler)

	// Enqueue sends data to exactly one queue subscriber of topic.
	Enqueue(topic string, data any)

	// Wait blocks until pending messages are processed or ctx is done.
	Wait(ctx context.Context) error
}

// Message is a single delivery to a handler.
type Message struct {
	ID      string
	Topic   string
	Data    any
	Attempt int
}

// NewMessage returns a first attempt message.
func NewMessage(id, topic string, data any) *Message {
	return &Message{ID: id, Topic: topic, Data: data, Attempt: 1}
}

// TokenEvent is the payload of every token lifecycle topic. It never carries
// token material.
type TokenEvent struct {
	UserID     string
	Resource   string
	ClientType string
}

// Publish is a nil safe helper for components that treat the bus as optional.
func Publish(bus EventBus, topic string, data any) {
	if bus == nil {
		return
	}
	bus.Publish(topic, data)
}
