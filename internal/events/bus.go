// Package events announces topology lifecycle changes on a message
// bus so other services can follow epoch progress without polling the
// directory. NATS JetStream is the default backend; Redis Streams,
// Kafka, and an in-memory bus are available behind the same interface.
package events

import "context"

// Handler handles incoming event payloads
type Handler func(data []byte) error

// Bus publishes and subscribes to subjects
type Bus interface {
	// Publish publishes a payload to a subject
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe subscribes to a subject with a handler
	Subscribe(subject string, handler Handler) error

	// Unsubscribe unsubscribes from a subject
	Unsubscribe(subject string) error

	// Close closes the connection
	Close() error
}
