// Package pubsub connects the host's event bus to a watermill broker. A Sink
// forwards host events out to the broker and a Relay publishes broker
// messages into the host.
package pubsub

import (
	"context"
)

// MetadataHostTopic is the metadata key carrying the host topic of a message
// when it differs from the broker topic.
const MetadataHostTopic = "host_topic"

// Message is the structure passed between components on the bus.
type Message struct {
	// Topic is the broker topic the message is published on.
	Topic string
	// Payload contains the raw message data.
	Payload []byte
	// Metadata can contain arbitrary key-value pairs for context.
	Metadata map[string]string
}

// Handler defines the function signature for processing a received message.
type Handler func(ctx context.Context, msg Message) error

// Publisher defines the contract for sending messages to the broker.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber defines the contract for receiving messages from the broker.
type Subscriber interface {
	// Subscribe starts listening to the given topic, processing messages with
	// the handler until ctx is canceled or the subscriber is closed.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}
