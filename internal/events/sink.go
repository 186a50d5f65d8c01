package events

import (
	"context"
	"errors"
	"sync"
)

// ErrSinkClosed is returned by sinks whose consumer has gone away.
var ErrSinkClosed = errors.New("events: sink closed")

// Event is one delivered publication. Payload is owned by the receiver.
type Event struct {
	Topic   string
	Payload []byte
}

// Sink receives the events of one subscription, one at a time and in publish
// order. Send may block to apply backpressure; any error ends the
// subscription.
//
// Sinks that also implement io.Closer are closed exactly once, after the last
// Send, when forwarding stops for any reason.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// SinkFunc adapts an ordinary function to the Sink interface.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Send(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// ChannelSink delivers events on a channel. The consumer calls Stop to end
// the subscription; the channel returned by C is closed once forwarding has
// stopped.
type ChannelSink struct {
	ch       chan Event
	done     chan struct{}
	stopOnce sync.Once
	closed   sync.Once
}

// NewChannelSink creates a sink whose channel holds up to buffer events.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
}

// C returns the delivery channel.
func (c *ChannelSink) C() <-chan Event {
	return c.ch
}

func (c *ChannelSink) Send(ctx context.Context, ev Event) error {
	select {
	case <-c.done:
		return ErrSinkClosed
	default:
	}

	select {
	case c.ch <- ev:
		return nil
	case <-c.done:
		return ErrSinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop tells the bus that the consumer is no longer interested.
func (c *ChannelSink) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// Close is called by the Manager when forwarding ends. Consumers use Stop.
func (c *ChannelSink) Close() error {
	c.closed.Do(func() { close(c.ch) })
	return nil
}
