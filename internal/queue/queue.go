// Package queue provides an unbounded FIFO that any number of goroutines may
// push to and pop from concurrently.
package queue

import (
	"context"
	"sync"
)

// Unbounded is a FIFO that never blocks producers. Push fails only after
// Close. Pop blocks until an item arrives, the queue is closed, or ctx is done.
type Unbounded[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	ready  chan struct{}
}

// New creates an empty queue.
func New[T any]() *Unbounded[T] {
	return &Unbounded[T]{ready: make(chan struct{}, 1)}
}

// Push appends v. It returns false if the queue has been closed.
func (q *Unbounded[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, v)
	q.signal()
	return true
}

// signal must be called with mu held.
func (q *Unbounded[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest item. ok is false once the queue is
// closed or ctx is done; items still queued at Close are not returned by Pop.
func (q *Unbounded[T]) Pop(ctx context.Context) (v T, ok bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return v, false
		}
		if len(q.items) > 0 {
			v = q.items[0]
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			if len(q.items) > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return v, true
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return v, false
		}
	}
}

// Close marks the queue closed and returns whatever was still queued.
// Calling Close more than once returns nil on subsequent calls.
func (q *Unbounded[T]) Close() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	rest := q.items
	q.items = nil
	close(q.ready)
	return rest
}

// Closed reports whether Close has been called.
func (q *Unbounded[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued items.
func (q *Unbounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
