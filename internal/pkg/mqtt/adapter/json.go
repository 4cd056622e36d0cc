// Package adapter turns typed message handlers into raw MQTT payload handlers.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
)

// HandlerFunc processes a raw MQTT payload.
type HandlerFunc func(ctx context.Context, payload []byte) error

// TypedHandlerFunc processes a decoded message.
type TypedHandlerFunc[T any] func(ctx context.Context, msg *T) error

// JSONHandler decodes the payload into a T before calling handler. Unknown
// fields are ignored so older devices keep working with newer senders.
func JSONHandler[T any](handler TypedHandlerFunc[T]) HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		msg := new(T)
		if err := json.Unmarshal(payload, msg); err != nil {
			return fmt.Errorf("json unmarshal failed: %w", err)
		}
		return handler(ctx, msg)
	}
}

// RawHandler ignores the payload.
func RawHandler(handler func(ctx context.Context) error) HandlerFunc {
	return func(ctx context.Context, _ []byte) error {
		return handler(ctx)
	}
}
