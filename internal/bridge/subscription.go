package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nfrund/modular/internal/abi"
	"github.com/nfrund/modular/internal/events"
)

var errSubscriptionClosed = errors.New("bridge: subscription closed")

const (
	flagOpen int32 = iota
	flagClosing
	flagClosed
)

// closeFlag is the liveness flag shared by everyone who may tear a
// subscription down. Only the caller that moves it out of flagOpen runs the
// cleanup.
type closeFlag struct {
	state atomic.Int32
}

func (f *closeFlag) Open() bool {
	return f.state.Load() == flagOpen
}

// Close runs cleanup if, and only if, this call closed the flag.
func (f *closeFlag) Close(cleanup func()) bool {
	if !f.state.CompareAndSwap(flagOpen, flagClosing) {
		return false
	}
	defer f.state.Store(flagClosed)
	if cleanup != nil {
		cleanup()
	}
	return true
}

// Bus is the subscribe side of the host facade.
type Bus interface {
	Subscribe(pattern string, sink events.Sink) (uuid.UUID, error)
	Unsubscribe(id uuid.UUID) bool
}

// exportedSubscription is the bus sink for a foreign subscriber.
type exportedSubscription struct {
	flag closeFlag
	sub  abi.Subscribe
	ref  abi.SubscriptionRef
	bus  Bus

	mu          sync.Mutex
	id          uuid.UUID
	attached    bool
	closedEarly bool
}

var exportedSubscriptions abi.Table[*exportedSubscription]

// ExportSubscription subscribes a foreign subscriber to pattern. On success
// sub.OnUnsubscribe fires exactly once, when either side ends the
// subscription. On error it never fires and the caller keeps sub.UserData.
func ExportSubscription(bus Bus, pattern string, sub abi.Subscribe) (abi.SubscriptionRef, error) {
	s := &exportedSubscription{sub: sub, bus: bus}
	s.ref = abi.SubscriptionRef{
		UserData:    sub.UserData,
		Ref:         exportedSubscriptions.Put(s),
		Unsubscribe: unsubscribeExported,
	}

	id, err := bus.Subscribe(pattern, s)
	if err != nil {
		exportedSubscriptions.Delete(s.ref.Ref)
		s.flag.Close(nil)
		return abi.SubscriptionRef{}, err
	}
	s.attach(id)
	return s.ref, nil
}

func (s *exportedSubscription) attach(id uuid.UUID) {
	s.mu.Lock()
	s.id = id
	s.attached = true
	early := s.closedEarly
	s.mu.Unlock()

	if early {
		s.release()
	}
	// Unsubscribed from inside OnEvent before we knew our id.
	if !s.flag.Open() {
		s.bus.Unsubscribe(id)
	}
}

// Send implements events.Sink.
func (s *exportedSubscription) Send(_ context.Context, ev events.Event) error {
	if !s.flag.Open() {
		return errSubscriptionClosed
	}
	topic, err := abi.CString(ev.Topic)
	if err != nil {
		// Not representable across the boundary; skip it.
		return nil
	}
	s.sub.OnEvent(s.ref, topic, abi.BufFrom(ev.Payload))
	return nil
}

// Close implements io.Closer; the bus calls it when forwarding stops.
func (s *exportedSubscription) Close() error {
	s.mu.Lock()
	if !s.attached {
		s.closedEarly = true
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.release()
	return nil
}

func (s *exportedSubscription) release() {
	exportedSubscriptions.Delete(s.ref.Ref)
	s.teardown()
}

func (s *exportedSubscription) teardown() bool {
	return s.flag.Close(func() {
		if s.sub.OnUnsubscribe != nil {
			s.sub.OnUnsubscribe(s.sub.UserData)
		}
	})
}

func unsubscribeExported(ref abi.Obj) {
	s, ok := exportedSubscriptions.Take(ref)
	if !ok {
		return
	}
	s.teardown()

	s.mu.Lock()
	id, attached := s.id, s.attached
	s.mu.Unlock()
	if attached {
		s.bus.Unsubscribe(id)
	}
}
