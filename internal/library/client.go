// Package library is the foreign side of the host calling convention: it
// drives a host through an abi.HostVTable, the way separately compiled code
// would after loading the host library.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/nfrund/modular/internal/abi"
	"github.com/nfrund/modular/internal/bridge"
	"github.com/nfrund/modular/internal/host"
	"github.com/nfrund/modular/internal/module"
	"github.com/nfrund/modular/internal/registry"
	"github.com/nfrund/modular/internal/scheduler"
)

var (
	// ErrClientClosed is returned by every operation after Close.
	ErrClientClosed = errors.New("library: client closed")
	// ErrInvalidArgument mirrors abi.StatusInvalidArgument.
	ErrInvalidArgument = errors.New("library: invalid argument")
)

// Client owns one host instance created through a vtable.
type Client struct {
	vt     *abi.HostVTable
	obj    abi.Obj
	sched  *scheduler.Scheduler
	closed atomic.Bool
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a host instance with the given number of workers. Handlers
// registered through the client run on a local pool of the same size.
func New(vt *abi.HostVTable, workers int, opts ...Option) *Client {
	if workers < 0 {
		workers = 0
	}
	c := &Client{vt: vt, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	c.obj = vt.Create(uint32(workers))
	c.sched = scheduler.New(workers, scheduler.WithLogger(c.logger))
	return c
}

func statusError(status int32) error {
	switch status {
	case abi.StatusOK:
		return nil
	case abi.StatusInvalidPattern:
		return host.ErrInvalidPattern
	case abi.StatusAlreadyExists:
		return registry.ErrAlreadyExists
	case abi.StatusInvalidArgument:
		return ErrInvalidArgument
	default:
		return fmt.Errorf("library: unknown status %d", status)
	}
}

// Subscribe starts receiving events matching pattern.
func (c *Client) Subscribe(pattern string) (*Subscription, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	topic, err := abi.CString(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", host.ErrInvalidPattern, err)
	}

	s := newSubscription()
	userData := subscribers.Put(s)

	var ref abi.SubscriptionRef
	status := c.vt.Subscribe(c.obj, abi.Subscribe{
		UserData:      userData,
		Topic:         topic,
		OnEvent:       onEvent,
		OnUnsubscribe: onUnsubscribe,
	}, &ref)
	runtime.KeepAlive(topic)

	if err := statusError(status); err != nil {
		subscribers.Delete(userData)
		return nil, fmt.Errorf("subscribe %q: %w", pattern, err)
	}
	s.ref = ref
	return s, nil
}

// Publish sends payload to every subscriber of topic.
func (c *Client) Publish(topic string, payload []byte) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	t, err := abi.CString(topic)
	if err != nil {
		return err
	}
	c.vt.Publish(c.obj, t, abi.BufFrom(payload))
	runtime.KeepAlive(t)
	runtime.KeepAlive(payload)
	return nil
}

func (c *Client) register(name string, h module.Handler, replace bool) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	n, err := abi.CString(name)
	if err != nil {
		return err
	}
	status := c.vt.RegisterModule(c.obj, n, bridge.ExportHandler(h, c.sched), replace)
	runtime.KeepAlive(n)

	if err := statusError(status); err != nil {
		return fmt.Errorf("register module %q: %w", name, err)
	}
	return nil
}

// RegisterModule exposes h under name. It fails with registry.ErrAlreadyExists
// if the name is taken.
func (c *Client) RegisterModule(name string, h module.Handler) error {
	return c.register(name, h, false)
}

// RegisterOrReplaceModule exposes h under name, replacing any module there.
func (c *Client) RegisterOrReplaceModule(name string, h module.Handler) error {
	return c.register(name, h, true)
}

// GetModule returns a reference to the named module. The caller must Close
// it.
func (c *Client) GetModule(name string) (*bridge.ForeignModule, bool) {
	if c.closed.Load() {
		return nil, false
	}
	n, err := abi.CString(name)
	if err != nil {
		return nil, false
	}
	ref := bridge.ImportModuleRef(c.vt.GetModuleRef(c.obj, n))
	runtime.KeepAlive(n)
	return ref, ref != nil
}

// DeregisterModule removes the named module.
func (c *Client) DeregisterModule(name string) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	n, err := abi.CString(name)
	if err != nil {
		return err
	}
	c.vt.RemoveModule(c.obj, n)
	runtime.KeepAlive(n)
	return nil
}

// Close destroys the host instance, ending every subscription, then stops
// the local pool.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.vt.Destroy(c.obj)
	return c.sched.Shutdown(ctx)
}
