// Package messaging provides the queue abstraction the runtime uses to
// move ready operations and deferred trigger records between the
// analysis thread, event callbacks, and the execution workers.
package messaging

import (
	"context"
)

// Queue is an abstract message queue for any payload type.
type Queue[T any] interface {
	// Publish adds a new message with payload to the queue.
	Publish(ctx context.Context, t *T) error

	// Consume retrieves a single message from the queue, blocking
	// until one is available or ctx is done.
	Consume(ctx context.Context) (Message[T], error)
}

// Message is a message retrieved from a queue.
type Message[T any] interface {
	// T returns the payload of this message.
	T() *T

	// Ack acknowledges successful processing of this message.
	Ack() error

	// Nack requeues the message unless its retry budget is exhausted.
	Nack(err error) error
}
