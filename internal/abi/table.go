package abi

import (
	"sync"
)

// Table issues Obj handles for Go values handed to the other side of the
// boundary. Handles are never reused, so a stale handle resolves to nothing
// instead of to somebody else's value. The zero Table is ready to use.
type Table[T any] struct {
	mu    sync.Mutex
	next  Obj
	items map[Obj]T
}

// Put stores v and returns its handle. Handles are never zero.
func (t *Table[T]) Put(v T) Obj {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.items == nil {
		t.items = make(map[Obj]T)
	}
	t.next++
	t.items[t.next] = v
	return t.next
}

// Get resolves o without releasing it.
func (t *Table[T]) Get(o Obj) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.items[o]
	return v, ok
}

// Take resolves and releases o. Only one caller can take a given handle.
func (t *Table[T]) Take(o Obj) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.items[o]
	if ok {
		delete(t.items, o)
	}
	return v, ok
}

// Delete releases o and reports whether it was live.
func (t *Table[T]) Delete(o Obj) bool {
	_, ok := t.Take(o)
	return ok
}

// Len returns the number of live handles.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}
