// Package events implements the topic-addressed event bus.
//
// Every subscription owns an unbounded queue and a forwarding goroutine that
// drains it into the subscriber's Sink. Publish never blocks on a slow
// subscriber. Subscriptions whose sink has failed are reaped lazily by the
// next Publish that matches them.
package events

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/nfrund/modular/internal/metrics"
	"github.com/nfrund/modular/internal/queue"
	"github.com/nfrund/modular/internal/topics"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("events: manager closed")

type subscription struct {
	id      uuid.UUID
	pattern *topics.Pattern
	queue   *queue.Unbounded[Event]
}

// Manager is the set of active subscriptions.
type Manager struct {
	mu     sync.Mutex
	subs   []*subscription
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for subscription lifecycle messages.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics records bus activity into m.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// NewManager creates an empty bus.
func NewManager(opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		ctx:    ctx,
		cancel: cancel,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Publish fans payload out to every subscription whose pattern matches topic.
// Each subscriber receives its own copy of payload.
func (m *Manager) Publish(topic string, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.metrics.IncPublished()

	kept := m.subs[:0]
	for _, s := range m.subs {
		if s.pattern.Matches(topic) {
			if !s.queue.Push(Event{Topic: topic, Payload: bytes.Clone(payload)}) {
				m.logger.Debug("Reaped closed subscription", "subscription_id", s.id, "pattern", s.pattern.Raw())
				m.metrics.IncReaped()
				m.metrics.AddSubscriptions(-1)
				continue
			}
		}
		kept = append(kept, s)
	}
	clear(m.subs[len(kept):])
	m.subs = kept
}

// Subscribe registers pattern and starts forwarding matching events into sink.
// The returned ID can be passed to Unsubscribe.
//
// If the manager is already closed the sink is closed immediately and
// ErrClosed is returned.
func (m *Manager) Subscribe(pattern *topics.Pattern, sink Sink) (uuid.UUID, error) {
	s := &subscription{
		id:      uuid.New(),
		pattern: pattern,
		queue:   queue.New[Event](),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		closeSink(sink)
		return uuid.Nil, ErrClosed
	}
	m.subs = append(m.subs, s)
	m.wg.Add(1)
	m.mu.Unlock()

	m.metrics.AddSubscriptions(1)
	m.logger.Debug("Subscribed", "subscription_id", s.id, "pattern", pattern.Raw())

	go m.forward(s, sink)
	return s.id, nil
}

func (m *Manager) forward(s *subscription, sink Sink) {
	defer m.wg.Done()
	defer closeSink(sink)

	for {
		ev, ok := s.queue.Pop(m.ctx)
		if !ok {
			return
		}
		if err := sink.Send(m.ctx, ev); err != nil {
			// Further pushes now fail, so the next matching publish reaps us.
			s.queue.Close()
			m.logger.Debug("Subscription sink closed", "subscription_id", s.id, "reason", err)
			return
		}
		m.metrics.IncDelivered()
	}
}

func closeSink(sink Sink) {
	if c, ok := sink.(io.Closer); ok {
		_ = c.Close()
	}
}

// Unsubscribe removes the subscription immediately and stops its forwarder.
// Events still queued for it are discarded. It reports whether id was found.
func (m *Manager) Unsubscribe(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, s := range m.subs {
		if s.id != id {
			continue
		}
		s.queue.Close()
		m.subs = append(m.subs[:i], m.subs[i+1:]...)
		m.metrics.AddSubscriptions(-1)
		return true
	}
	return false
}

// Len returns the number of subscriptions held, including failed ones that
// have not been reaped yet.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Close drops every subscription and waits for their forwarders to finish, or
// for ctx to be done. Every sink that implements io.Closer is closed.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		for _, s := range m.subs {
			s.queue.Close()
		}
		m.metrics.AddSubscriptions(-len(m.subs))
		m.subs = nil
	}
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
