package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nfrund/modular/internal/abi"
	"github.com/nfrund/modular/internal/module"
)

// pendingSlots resolves the Ptr of an outbound callback to its Call. The
// foreign side only ever sees the handle, so once the slot has been taken a
// late or duplicate callback finds nothing and is dropped.
var pendingSlots abi.Table[*Call]

// PendingCalls returns the number of outbound calls still waiting for their
// callback.
func PendingCalls() int {
	return pendingSlots.Len()
}

// ForeignModule is a module.Handler backed by foreign code.
type ForeignModule struct {
	ptr    abi.Obj
	invoke abi.InvokeFunc
	drop   func(abi.Obj)
	clone  func(abi.Obj) abi.ModuleRef

	dropped atomic.Bool
	opts    options
	optList []Option
}

// ImportModule takes ownership of m. Close drops it.
func ImportModule(m abi.Module, opts ...Option) *ForeignModule {
	return &ForeignModule{
		ptr:     m.Ptr,
		invoke:  m.Invoke,
		drop:    m.Drop,
		opts:    newOptions(opts),
		optList: opts,
	}
}

// ImportModuleRef takes ownership of r. It returns nil for a null reference.
func ImportModuleRef(r abi.ModuleRef, opts ...Option) *ForeignModule {
	if r.IsNull() {
		return nil
	}
	return &ForeignModule{
		ptr:     r.Ptr,
		invoke:  r.VTable.Invoke,
		drop:    r.VTable.Drop,
		clone:   r.VTable.Clone,
		opts:    newOptions(opts),
		optList: opts,
	}
}

// Clone returns an independent reference to the same foreign module. It
// returns nil if the module was imported by ImportModule, or is closed.
func (f *ForeignModule) Clone() *ForeignModule {
	if f.clone == nil || f.dropped.Load() {
		return nil
	}
	return ImportModuleRef(f.clone(f.ptr), f.optList...)
}

// Handle implements module.Handler.
func (f *ForeignModule) Handle(ctx context.Context, req module.Request) (module.Response, error) {
	data, err := f.Call(req).Wait(ctx)
	if err != nil {
		return module.Response{}, err
	}
	return module.Response{Data: data}, nil
}

// Call prepares an invocation. Nothing crosses the boundary until Wait.
func (f *ForeignModule) Call(req module.Request) *Call {
	return &Call{
		module: f,
		req:    req,
		wake:   make(chan struct{}),
	}
}

// Close releases the foreign module. Only the first call has an effect.
func (f *ForeignModule) Close() error {
	if f.dropped.CompareAndSwap(false, true) && f.drop != nil {
		f.drop(f.ptr)
	}
	return nil
}

type callState int

const (
	stateUnstarted callState = iota
	stateAwaiting
	stateCompleted
)

type result struct {
	data []byte
	err  *module.ModuleError
}

// Call is one outbound invocation: Unstarted until the first Wait issues it,
// Awaiting until a callback or abandonment resolves it, then Completed.
type Call struct {
	module *ForeignModule
	req    module.Request
	id     uuid.UUID

	mu     sync.Mutex
	state  callState
	slot   abi.Obj
	result result
	wake   chan struct{}
}

// Wait issues the call on first use and blocks until it resolves. If ctx is
// done first the call is abandoned and resolves to module.ErrDestroyed; a
// callback arriving after that is discarded.
//
// Wait may be called any number of times; every caller sees the same result.
func (c *Call) Wait(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	start := c.state == stateUnstarted
	if start {
		c.state = stateAwaiting
		c.id = uuid.New()
		c.slot = pendingSlots.Put(c)
		c.module.opts.metrics.AddPendingForeignCalls(1)
	}
	c.mu.Unlock()

	// The foreign side may complete synchronously, so issue outside the lock.
	if start {
		c.issue()
	}

	select {
	case <-c.wake:
	case <-ctx.Done():
		c.abandon(ctx.Err())
	}

	c.mu.Lock()
	r := c.result
	c.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	return r.data, nil
}

func (c *Call) issue() {
	defer func() {
		if r := recover(); r != nil {
			resolve(c.slot, result{err: module.NewCustomError(module.CodePanic, "panic", fmt.Sprint(r))})
		}
	}()

	if c.module.dropped.Load() {
		resolve(c.slot, result{err: module.ErrDestroyed})
		return
	}

	action, err := abi.CString(c.req.Action)
	if err != nil {
		resolve(c.slot, result{err: module.NewCustomError(module.CodeInternal, "invalid_action", err.Error())})
		return
	}

	c.module.invoke(c.module.ptr, action, abi.BufFrom(c.req.Body), abi.Callback{
		Ptr:           c.slot,
		Success:       onSuccess,
		Error:         onError,
		UnknownMethod: onUnknownMethod,
		Destroyed:     onDestroyed,
	})
}

func (c *Call) abandon(cause error) {
	if _, ok := pendingSlots.Take(c.slot); ok {
		c.module.opts.logger.Debug("Abandoned foreign call", "call_id", c.id, "action", c.req.Action, "reason", cause)
		c.complete(result{err: module.Destroyed(cause)})
		return
	}
	// A callback already owns the slot and is about to complete us.
	<-c.wake
}

func (c *Call) complete(r result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateCompleted {
		return
	}
	c.result = r
	c.state = stateCompleted
	close(c.wake)
	c.module.opts.metrics.AddPendingForeignCalls(-1)
}

func resolve(slot abi.Obj, r result) {
	c, ok := pendingSlots.Take(slot)
	if !ok {
		return
	}
	c.complete(r)
}

func onSuccess(ptr abi.Obj, data abi.Buf) {
	resolve(ptr, result{data: data.Bytes()})
}

func onError(ptr abi.Obj, e abi.ModuleErr) {
	name, _ := abi.GoString(e.Name)
	message, _ := abi.GoString(e.Message)
	resolve(ptr, result{err: module.NewCustomError(e.Code, name, message)})
}

func onUnknownMethod(ptr abi.Obj) {
	resolve(ptr, result{err: module.ErrUnknownMethod})
}

func onDestroyed(ptr abi.Obj) {
	resolve(ptr, result{err: module.ErrDestroyed})
}
