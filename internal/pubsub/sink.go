package pubsub

import (
	"context"

	"github.com/nfrund/modular/internal/events"
)

// Sink forwards host events to a broker. Each event is published on the
// broker topic prefix+event topic, with the host topic kept in metadata.
type Sink struct {
	pub    Publisher
	prefix string
}

var _ events.Sink = (*Sink)(nil)

// NewSink creates a Sink publishing through pub.
func NewSink(pub Publisher, prefix string) *Sink {
	return &Sink{pub: pub, prefix: prefix}
}

// Send implements events.Sink.
func (s *Sink) Send(ctx context.Context, ev events.Event) error {
	return s.pub.Publish(ctx, Message{
		Topic:    s.prefix + ev.Topic,
		Payload:  ev.Payload,
		Metadata: map[string]string{MetadataHostTopic: ev.Topic},
	})
}
