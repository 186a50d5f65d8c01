// Package native implements abi.HostVTable on top of host.Host. It is the
// table a plugin build exports through abi.EntryPoint, and what in-process
// tests drive in place of a loaded library.
package native

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nfrund/modular/internal/abi"
	"github.com/nfrund/modular/internal/bridge"
	"github.com/nfrund/modular/internal/host"
	"github.com/nfrund/modular/internal/scheduler"
)

// DestroyTimeout bounds how long Destroy waits for running work.
var DestroyTimeout = 10 * time.Second

type instance struct {
	host  *host.Host
	sched *scheduler.Scheduler
}

var (
	instances abi.Table[*instance]

	vtable     *abi.HostVTable
	vtableOnce sync.Once
)

// VTable returns the process-wide host table.
func VTable() *abi.HostVTable {
	vtableOnce.Do(func() {
		vtable = &abi.HostVTable{
			Create:         create,
			Destroy:        destroy,
			Subscribe:      subscribe,
			Publish:        publish,
			RegisterModule: registerModule,
			RemoveModule:   removeModule,
			GetModuleRef:   getModuleRef,
		}
	})
	return vtable
}

// Instances returns the number of live host instances.
func Instances() int {
	return instances.Len()
}

func create(workers uint32) abi.Obj {
	logger := slog.Default().With("component", "native")
	inst := &instance{
		host:  host.New(host.WithLogger(logger)),
		sched: scheduler.New(int(workers), scheduler.WithLogger(logger)),
	}
	obj := instances.Put(inst)
	logger.Debug("Created host instance", "instance", uint64(obj), "workers", inst.sched.Workers())
	return obj
}

// destroy abandons queued inbound calls, then closes the bus and removes
// every module.
func destroy(obj abi.Obj) {
	inst, ok := instances.Take(obj)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), DestroyTimeout)
	defer cancel()

	if err := inst.sched.Shutdown(ctx); err != nil {
		slog.Warn("Host instance scheduler did not stop in time", "instance", uint64(obj), "error", err)
	}
	if err := inst.host.Shutdown(ctx); err != nil {
		slog.Warn("Host instance bus did not stop in time", "instance", uint64(obj), "error", err)
	}
}

func subscribe(obj abi.Obj, sub abi.Subscribe, out *abi.SubscriptionRef) int32 {
	inst, ok := instances.Get(obj)
	if !ok || out == nil {
		return abi.StatusInvalidArgument
	}
	pattern, ok := abi.GoString(sub.Topic)
	if !ok {
		return abi.StatusInvalidPattern
	}

	ref, err := bridge.ExportSubscription(inst.host, pattern, sub)
	switch {
	case err == nil:
		*out = ref
		return abi.StatusOK
	case errors.Is(err, host.ErrInvalidPattern):
		return abi.StatusInvalidPattern
	default:
		return abi.StatusInvalidArgument
	}
}

func publish(obj abi.Obj, topic *byte, data abi.Buf) {
	inst, ok := instances.Get(obj)
	if !ok {
		return
	}
	name, ok := abi.GoString(topic)
	if !ok {
		return
	}
	inst.host.Publish(name, data.Bytes())
}

func registerModule(obj abi.Obj, name *byte, m abi.Module, replace bool) int32 {
	// From here on the module is ours; every failure path drops it.
	fm := bridge.ImportModule(m)

	inst, ok := instances.Get(obj)
	if !ok {
		_ = fm.Close()
		return abi.StatusInvalidArgument
	}
	moduleName, ok := abi.GoString(name)
	if !ok {
		_ = fm.Close()
		return abi.StatusInvalidArgument
	}

	if replace {
		inst.host.RegisterOrReplaceModule(moduleName, fm)
		return abi.StatusOK
	}
	if err := inst.host.RegisterModule(moduleName, fm); err != nil {
		_ = fm.Close()
		return abi.StatusAlreadyExists
	}
	return abi.StatusOK
}

func removeModule(obj abi.Obj, name *byte) {
	inst, ok := instances.Get(obj)
	if !ok {
		return
	}
	if moduleName, ok := abi.GoString(name); ok {
		inst.host.DeregisterModule(moduleName)
	}
}

func getModuleRef(obj abi.Obj, name *byte) abi.ModuleRef {
	inst, ok := instances.Get(obj)
	if !ok {
		return bridge.NullModuleRef()
	}
	moduleName, ok := abi.GoString(name)
	if !ok {
		return bridge.NullModuleRef()
	}
	handle, ok := inst.host.GetModule(moduleName)
	if !ok {
		return bridge.NullModuleRef()
	}
	return bridge.ExportHandle(handle, inst.sched)
}
