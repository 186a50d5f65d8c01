package registry

import (
	"context"
	"fmt"
	"weak"

	"github.com/nfrund/modular/internal/metrics"
	"github.com/nfrund/modular/internal/module"
)

// Handle is a non-owning reference to a registry entry. The zero Handle is
// valid and always reports module.ErrDestroyed.
type Handle struct {
	name    string
	ref     weak.Pointer[entry]
	metrics *metrics.Metrics
}

// Name returns the module name the handle was obtained for.
func (h Handle) Name() string {
	return h.name
}

// Alive reports whether the entry is still registered. The answer may be
// stale by the time the caller acts on it.
func (h Handle) Alive() bool {
	e := h.ref.Value()
	return e != nil && !e.removed.Load()
}

// Version returns how many handlers the entry has held, or 0 once the entry
// is gone.
func (h Handle) Version() uint64 {
	e := h.ref.Value()
	if e == nil || e.removed.Load() {
		return 0
	}
	return e.version.Load()
}

// Invoke calls the module. It waits for any call already running on the same
// module; if ctx is done first the result is module.ErrDestroyed.
//
// The returned error, if any, is always a *module.ModuleError.
func (h Handle) Invoke(ctx context.Context, req module.Request) (module.Response, error) {
	resp, err := h.invoke(ctx, req)

	outcome := "success"
	if err != nil {
		outcome = string(err.Type)
	}
	h.metrics.ObserveInvocation(h.name, outcome)

	if err != nil {
		return module.Response{}, err
	}
	return resp, nil
}

func (h Handle) invoke(ctx context.Context, req module.Request) (module.Response, *module.ModuleError) {
	e := h.ref.Value()
	if e == nil || e.removed.Load() {
		return module.Response{}, module.ErrDestroyed
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return module.Response{}, module.Destroyed(err)
	}
	defer e.sem.Release(1)

	// Removed while we were queued.
	if e.removed.Load() {
		return module.Response{}, module.ErrDestroyed
	}

	resp, err := call(ctx, e.handler.Load().h, req)
	return resp, module.Normalize(err)
}

func call(ctx context.Context, h module.Handler, req module.Request) (resp module.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = module.NewCustomError(module.CodePanic, "panic", fmt.Sprint(r))
		}
	}()
	return h.Handle(ctx, req)
}
