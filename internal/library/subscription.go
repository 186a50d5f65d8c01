package library

import (
	"context"
	"errors"
	"sync"

	"github.com/nfrund/modular/internal/abi"
	"github.com/nfrund/modular/internal/events"
	"github.com/nfrund/modular/internal/queue"
)

// ErrSubscriptionClosed is returned by Next once the subscription has ended
// and every delivered event has been consumed.
var ErrSubscriptionClosed = errors.New("library: subscription closed")

var subscribers abi.Table[*Subscription]

// Subscription is a pull-based stream of events received through the
// vtable.
type Subscription struct {
	ref   abi.SubscriptionRef
	queue *queue.Unbounded[events.Event]

	mu   sync.Mutex
	rest []events.Event

	done      chan struct{}
	closeOnce sync.Once
	pumpOnce  sync.Once
	ch        chan events.Event
}

func newSubscription() *Subscription {
	return &Subscription{
		queue: queue.New[events.Event](),
		done:  make(chan struct{}),
	}
}

func onEvent(sub abi.SubscriptionRef, topic *byte, data abi.Buf) {
	s, ok := subscribers.Get(sub.UserData)
	if !ok {
		sub.Unsubscribe(sub.Ref)
		return
	}
	name, _ := abi.GoString(topic)
	if !s.queue.Push(events.Event{Topic: name, Payload: data.Bytes()}) {
		sub.Unsubscribe(sub.Ref)
	}
}

func onUnsubscribe(userData abi.Obj) {
	s, ok := subscribers.Take(userData)
	if !ok {
		return
	}
	// Next checks rest under mu once Pop fails, so the remainder must land
	// there before the lock is released.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rest = append(s.rest, s.queue.Close()...)
}

// Next returns the next event. Events delivered before the host ended the
// subscription are still returned; after that Next reports
// ErrSubscriptionClosed.
func (s *Subscription) Next(ctx context.Context) (events.Event, error) {
	if ev, ok := s.queue.Pop(ctx); ok {
		return ev, nil
	}
	if err := ctx.Err(); err != nil {
		return events.Event{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rest) == 0 {
		return events.Event{}, ErrSubscriptionClosed
	}
	ev := s.rest[0]
	s.rest = s.rest[1:]
	return ev, nil
}

// C returns a channel fed from Next. It is closed when the subscription
// ends.
func (s *Subscription) C() <-chan events.Event {
	s.pumpOnce.Do(func() {
		s.ch = make(chan events.Event)
		go s.pump()
	})
	return s.ch
}

func (s *Subscription) pump() {
	defer close(s.ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		ev, err := s.Next(ctx)
		if err != nil {
			return
		}
		select {
		case s.ch <- ev:
		case <-s.done:
			return
		}
	}
}

// Close ends the subscription. Undelivered events are discarded.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.queue.Close()
		s.ref.Unsubscribe(s.ref.Ref)
	})
}
