// Package registry is the named directory of invocable modules.
//
// The Registry is the only strong owner of its entries. Callers hold Handles,
// which are weak: once a module is removed every Handle to it reports
// module.ErrDestroyed, forever. Calls through an entry are serialized, so a
// handler never runs concurrently with itself.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"weak"

	"golang.org/x/sync/semaphore"

	"github.com/nfrund/modular/internal/metrics"
	"github.com/nfrund/modular/internal/module"
)

// ErrAlreadyExists is returned by Register when the name is taken.
var ErrAlreadyExists = errors.New("module already exists")

type handlerBox struct {
	h module.Handler
}

// entry is the per-name serialization point. The handler sits behind an
// atomic pointer so a replace is visible to every Handle without reissuing
// them; it is only loaded while sem is held.
type entry struct {
	name    string
	sem     *semaphore.Weighted
	handler atomic.Pointer[handlerBox]
	version atomic.Uint64
	removed atomic.Bool
}

func newEntry(name string, h module.Handler) *entry {
	e := &entry{
		name: name,
		sem:  semaphore.NewWeighted(1),
	}
	e.handler.Store(&handlerBox{h: h})
	e.version.Store(1)
	return e
}

// Registry maps module names to entries.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMetrics records invocation outcomes into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds h under name. It fails with ErrAlreadyExists, leaving the
// registry untouched, if name is taken.
func (r *Registry) Register(name string, h module.Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadyExists, name)
	}
	r.entries[name] = newEntry(name, h)
	r.logger.Debug("Registered module", "module", name)
	return nil
}

// RegisterOrReplace adds h under name, or swaps it into the existing entry.
// Handles obtained before a swap call h from their next invocation on. A call
// already running on the old handler finishes undisturbed; the old handler
// is closed afterwards if it implements io.Closer.
func (r *Registry) RegisterOrReplace(name string, h module.Handler) (replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[name]
	if !exists {
		r.entries[name] = newEntry(name, h)
		r.logger.Debug("Registered module", "module", name)
		return false
	}

	old := e.handler.Swap(&handlerBox{h: h})
	v := e.version.Add(1)
	r.logger.Debug("Replaced module", "module", name, "version", v)
	if !sameHandler(old.h, h) {
		r.retire(e, old.h)
	}
	return true
}

// sameHandler reports whether a and b are the same handler value. Handlers
// of non-comparable types, such as module.Actions, are never the same.
func sameHandler(a, b module.Handler) bool {
	if a == nil || b == nil {
		return false
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() || !va.Comparable() || !vb.Comparable() {
		return false
	}
	return a == b
}

// Get returns a weak handle to the named module.
func (r *Registry) Get(name string) (Handle, bool) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		return Handle{}, false
	}
	return Handle{name: name, ref: weak.Make(e), metrics: r.metrics}, true
}

// Remove deletes the named module. Outstanding handles observe
// module.ErrDestroyed from then on; a call already in flight completes.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	e, ok := r.entries[name]
	if ok {
		delete(r.entries, name)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	e.removed.Store(true)
	r.retire(e, e.handler.Load().h)
	r.logger.Debug("Removed module", "module", name)
	return true
}

// RemoveAll removes every module.
func (r *Registry) RemoveAll() {
	for _, name := range r.Names() {
		r.Remove(name)
	}
}

// Names returns the registered module names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()

	slices.Sort(names)
	return names
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// retire closes h once no call can still be running on it. It never blocks
// the caller, so a handler may replace or remove itself.
func (r *Registry) retire(e *entry, h module.Handler) {
	c, ok := h.(io.Closer)
	if !ok {
		return
	}
	go func() {
		// Acquire with a background context cannot fail.
		_ = e.sem.Acquire(context.Background(), 1)
		defer e.sem.Release(1)

		if err := c.Close(); err != nil {
			r.logger.Warn("Failed to close retired module", "module", e.name, "error", err)
		}
	}()
}
