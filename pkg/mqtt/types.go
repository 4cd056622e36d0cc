// Package mqtt wraps the autopaho connection manager behind a small client
// used by the device bridge and the lightctl remote commands.
package mqtt

import (
	"context"
)

// MessageHandler receives one message. The client runs every handler on its
// own goroutine, so a handler may block for the length of an update.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Client is a broker session that survives reconnects.
type Client interface {
	// Start begins connecting in the background and returns at once.
	Start(ctx context.Context) error

	// Disconnect sends DISCONNECT; the will is not published.
	Disconnect(ctx context.Context)

	// Publish sends payload to topic.
	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// Subscribe registers handler for a topic filter. The subscription is
	// renewed after every reconnect.
	Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error

	// Unsubscribe drops the handler and the broker subscription.
	Unsubscribe(ctx context.Context, topic string) error

	// AwaitConnection blocks until the first connection is up or ctx ends.
	AwaitConnection(ctx context.Context) error

	// IsConnected reports the last known connection state.
	IsConnected() bool
}
