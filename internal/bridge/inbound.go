package bridge

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"runtime"
	"sync"

	"github.com/nfrund/modular/internal/abi"
	"github.com/nfrund/modular/internal/module"
	"github.com/nfrund/modular/internal/registry"
	"github.com/nfrund/modular/internal/scheduler"
)

// Spawner schedules work with an abandonment hook; *scheduler.Scheduler
// implements it.
type Spawner interface {
	Spawn(task func(ctx context.Context), onAbandon func())
}

var _ Spawner = (*scheduler.Scheduler)(nil)

type exportedHandler struct {
	handler module.Handler
	spawner Spawner
}

type exportedRef struct {
	handle  registry.Handle
	spawner Spawner
}

var (
	exportedHandlers abi.Table[*exportedHandler]
	exportedRefs     abi.Table[*exportedRef]

	// exportCounts tracks how many live exports share one comparable handler,
	// so dropping one export does not close a handler another still uses.
	exportMu     sync.Mutex
	exportCounts = make(map[module.Handler]int)

	// Filled in by init: cloneExportedRef reaches the table through
	// ExportHandle.
	moduleRefVTable = &abi.ModuleRefVTable{}
)

func init() {
	moduleRefVTable.Clone = cloneExportedRef
	moduleRefVTable.Drop = dropExportedRef
	moduleRefVTable.Invoke = invokeExportedRef
}

func isComparable(h module.Handler) bool {
	return h != nil && reflect.ValueOf(h).Comparable()
}

// ExportHandler exposes h to foreign callers. Invocations run on s and never
// block the caller. The receiver of the returned module owns it and must
// call its Drop; h is closed then if it implements io.Closer.
func ExportHandler(h module.Handler, s Spawner) abi.Module {
	if isComparable(h) {
		exportMu.Lock()
		exportCounts[h]++
		exportMu.Unlock()
	}
	return abi.Module{
		Ptr:    exportedHandlers.Put(&exportedHandler{handler: h, spawner: s}),
		Invoke: invokeExportedHandler,
		Drop:   dropExportedHandler,
	}
}

func invokeExportedHandler(ptr abi.Obj, action *byte, data abi.Buf, cb abi.Callback) {
	e, ok := exportedHandlers.Get(ptr)
	if !ok {
		cb.Destroyed(cb.Ptr)
		return
	}
	dispatch(e.spawner, e.handler.Handle, action, data, cb)
}

func dropExportedHandler(ptr abi.Obj) {
	e, ok := exportedHandlers.Take(ptr)
	if !ok {
		return
	}
	if !release(e.handler) {
		return
	}
	if c, ok := e.handler.(io.Closer); ok {
		_ = c.Close()
	}
}

// release drops one export of h and reports whether it was the last.
func release(h module.Handler) bool {
	if !isComparable(h) {
		return true
	}
	exportMu.Lock()
	defer exportMu.Unlock()

	exportCounts[h]--
	if exportCounts[h] > 0 {
		return false
	}
	delete(exportCounts, h)
	return true
}

// ExportHandle exposes a registry handle as a module reference. The reference
// stays weak: once the module is removed, invoking it fires Destroyed.
func ExportHandle(h registry.Handle, s Spawner) abi.ModuleRef {
	return abi.ModuleRef{
		Ptr:    exportedRefs.Put(&exportedRef{handle: h, spawner: s}),
		VTable: moduleRefVTable,
	}
}

// NullModuleRef is returned for modules that do not exist.
func NullModuleRef() abi.ModuleRef {
	return abi.ModuleRef{VTable: moduleRefVTable}
}

func cloneExportedRef(ptr abi.Obj) abi.ModuleRef {
	r, ok := exportedRefs.Get(ptr)
	if !ok {
		return NullModuleRef()
	}
	return ExportHandle(r.handle, r.spawner)
}

func dropExportedRef(ptr abi.Obj) {
	exportedRefs.Delete(ptr)
}

func invokeExportedRef(ptr abi.Obj, action *byte, data abi.Buf, cb abi.Callback) {
	r, ok := exportedRefs.Get(ptr)
	if !ok {
		cb.Destroyed(cb.Ptr)
		return
	}
	dispatch(r.spawner, r.handle.Invoke, action, data, cb)
}

// dispatch copies the borrowed arguments, schedules fn and guarantees that cb
// fires exactly once: with fn's outcome, or Destroyed if the task is
// abandoned.
func dispatch(s Spawner, fn func(context.Context, module.Request) (module.Response, error), action *byte, data abi.Buf, cb abi.Callback) {
	name, _ := abi.GoString(action)
	req := module.Request{Action: name, Body: data.Bytes()}
	d := &delivery{cb: cb}

	s.Spawn(func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				d.deliver(module.Response{}, module.NewCustomError(module.CodePanic, "panic", fmt.Sprint(r)))
			}
		}()
		resp, err := fn(ctx, req)
		d.deliver(resp, err)
	}, func() {
		d.deliver(module.Response{}, module.ErrDestroyed)
	})
}

type delivery struct {
	cb   abi.Callback
	once sync.Once
}

func (d *delivery) deliver(resp module.Response, err error) {
	d.once.Do(func() {
		me := module.Normalize(err)
		if me == nil {
			d.cb.Success(d.cb.Ptr, abi.BufFrom(resp.Data))
			runtime.KeepAlive(resp.Data)
			return
		}

		switch me.Type {
		case module.ErrorTypeUnknownMethod:
			d.cb.UnknownMethod(d.cb.Ptr)
		case module.ErrorTypeDestroyed:
			d.cb.Destroyed(d.cb.Ptr)
		default:
			name := abi.OptionalCString(me.Name)
			message := abi.OptionalCString(me.Message)
			d.cb.Error(d.cb.Ptr, abi.ModuleErr{Code: me.Code, Name: name, Message: message})
			runtime.KeepAlive(name)
			runtime.KeepAlive(message)
		}
	})
}
