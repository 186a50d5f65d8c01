// Package host is the facade in front of the event bus and the module
// registry. It is what in-process callers, the native vtable and the CLI
// talk to.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/nfrund/modular/internal/events"
	"github.com/nfrund/modular/internal/metrics"
	"github.com/nfrund/modular/internal/module"
	"github.com/nfrund/modular/internal/registry"
	"github.com/nfrund/modular/internal/topics"
)

// ReservedPrefix marks topics that are never delivered to subscribers.
const ReservedPrefix = "$.sys."

// ErrInvalidPattern wraps the *topics.ParseError returned by Subscribe.
var ErrInvalidPattern = errors.New("invalid pattern")

// Host owns one bus and one registry.
type Host struct {
	events  *events.Manager
	modules *registry.Registry
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger for the host and its components.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) {
		h.logger = logger
	}
}

// WithMetrics records host activity into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Host) {
		h.metrics = m
	}
}

// New creates a host with an empty bus and registry.
func New(opts ...Option) *Host {
	h := &Host{logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}

	h.events = events.NewManager(events.WithLogger(h.logger), events.WithMetrics(h.metrics))
	h.modules = registry.New(registry.WithLogger(h.logger), registry.WithMetrics(h.metrics))
	return h
}

// Subscribe parses pattern and forwards matching events into sink. A bad
// pattern is reported as ErrInvalidPattern and nothing is registered.
func (h *Host) Subscribe(pattern string, sink events.Sink) (uuid.UUID, error) {
	p, err := topics.Parse(pattern)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}
	return h.events.Subscribe(p, sink)
}

// Unsubscribe ends a subscription created by Subscribe.
func (h *Host) Unsubscribe(id uuid.UUID) bool {
	return h.events.Unsubscribe(id)
}

// Publish delivers payload to every matching subscriber. Topics under
// ReservedPrefix are dropped silently.
func (h *Host) Publish(topic string, payload []byte) {
	if strings.HasPrefix(topic, ReservedPrefix) {
		h.metrics.IncReservedDropped()
		h.logger.Debug("Dropped event on reserved topic", "topic", topic)
		return
	}
	h.events.Publish(topic, payload)
}

// RegisterModule adds a module. It returns an error wrapping
// registry.ErrAlreadyExists if the name is taken.
func (h *Host) RegisterModule(name string, handler module.Handler) error {
	if err := h.modules.Register(name, handler); err != nil {
		return err
	}
	h.logger.Info("Registered module", "module", name)
	return nil
}

// RegisterOrReplaceModule adds a module or swaps the handler of an existing
// one in place.
func (h *Host) RegisterOrReplaceModule(name string, handler module.Handler) {
	if h.modules.RegisterOrReplace(name, handler) {
		h.logger.Info("Replaced module", "module", name)
		return
	}
	h.logger.Info("Registered module", "module", name)
}

// GetModule returns a weak handle to the named module.
func (h *Host) GetModule(name string) (registry.Handle, bool) {
	return h.modules.Get(name)
}

// DeregisterModule removes a module. Existing handles report
// module.ErrDestroyed from then on.
func (h *Host) DeregisterModule(name string) {
	if h.modules.Remove(name) {
		h.logger.Info("Deregistered module", "module", name)
	}
}

// Modules lists registered module names in sorted order.
func (h *Host) Modules() []string {
	return h.modules.Names()
}

// Invoke is a shorthand for GetModule followed by Invoke. A missing module
// reports module.ErrDestroyed.
func (h *Host) Invoke(ctx context.Context, name string, req module.Request) (module.Response, error) {
	handle, ok := h.modules.Get(name)
	if !ok {
		return module.Response{}, module.Destroyed(fmt.Errorf("module %q not registered", name))
	}
	return handle.Invoke(ctx, req)
}

// Shutdown closes the bus, tearing down every subscription, and removes every
// module.
func (h *Host) Shutdown(ctx context.Context) error {
	err := h.events.Close(ctx)
	h.modules.RemoveAll()
	return err
}
