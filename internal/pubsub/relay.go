package pubsub

import (
	"context"
	"fmt"
	"log/slog"
)

// Target receives relayed messages. *host.Host satisfies it.
type Target interface {
	Publish(topic string, payload []byte)
}

// Relay publishes broker messages into a host.
type Relay struct {
	sub    Subscriber
	target Target
	logger *slog.Logger
}

// NewRelay creates a relay from sub to target.
func NewRelay(sub Subscriber, target Target, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{sub: sub, target: target, logger: logger}
}

// Start subscribes to every broker topic and relays until ctx is canceled.
// A message is published on its MetadataHostTopic, or on its broker topic
// when that is absent.
func (r *Relay) Start(ctx context.Context, topics ...string) error {
	for _, topic := range topics {
		if err := r.sub.Subscribe(ctx, topic, r.handle); err != nil {
			return fmt.Errorf("relay subscribe %q: %w", topic, err)
		}
		r.logger.Info("Relaying broker topic", "topic", topic)
	}
	return nil
}

func (r *Relay) handle(_ context.Context, msg Message) error {
	topic := msg.Metadata[MetadataHostTopic]
	if topic == "" {
		topic = msg.Topic
	}
	r.target.Publish(topic, msg.Payload)
	return nil
}
