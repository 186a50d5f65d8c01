// Package abi defines the fixed calling convention shared by the host and
// separately compiled foreign code.
//
// Everything that crosses the boundary is either a plain value, a Buf, a
// NUL-terminated string, an opaque Obj handle, or a table of functions.
// Neither side may retain a Buf or string past the call that received it.
package abi

// EntryPoint is the symbol a foreign library exports. Its type is
// func() *HostVTable.
const EntryPoint = "ModularVTable"

// Status codes returned by HostVTable operations.
const (
	StatusOK              int32 = 0
	StatusInvalidPattern  int32 = -1
	StatusAlreadyExists   int32 = -2
	StatusInvalidArgument int32 = -3
)

// Obj is an opaque, pointer-sized handle. Only the side that issued it can
// resolve it. Zero is the null handle.
type Obj uintptr

// ModuleErr is a custom error crossing the boundary. Name and Message may be
// nil.
type ModuleErr struct {
	Code    int32
	Name    *byte
	Message *byte
}

// Callback completes one invocation. The callee must call exactly one of the
// four functions exactly once, on every code path.
type Callback struct {
	Ptr           Obj
	Success       func(ptr Obj, data Buf)
	Error         func(ptr Obj, err ModuleErr)
	UnknownMethod func(ptr Obj)
	Destroyed     func(ptr Obj)
}

// InvokeFunc starts an invocation and returns without waiting for it.
type InvokeFunc func(ptr Obj, action *byte, data Buf, cb Callback)

// Module is a handler handed across the boundary. Ownership moves with it:
// the receiver calls Drop exactly once, after the last Invoke has completed.
type Module struct {
	Ptr    Obj
	Invoke InvokeFunc
	Drop   func(ptr Obj)
}

// ModuleRefVTable is shared by every reference issued by GetModuleRef.
type ModuleRefVTable struct {
	Clone  func(ptr Obj) ModuleRef
	Drop   func(ptr Obj)
	Invoke InvokeFunc
}

// ModuleRef is a weak reference to a module living in a host. A null Ptr
// means the module did not exist.
type ModuleRef struct {
	Ptr    Obj
	VTable *ModuleRefVTable
}

// IsNull reports whether the reference points at nothing.
func (r ModuleRef) IsNull() bool {
	return r.Ptr == 0 || r.VTable == nil
}

// Subscribe describes a subscription request. OnEvent is called once per
// matching event; OnUnsubscribe, if set, is called exactly once when the
// subscription ends, whichever side ends it.
type Subscribe struct {
	UserData      Obj
	Topic         *byte
	OnEvent       func(sub SubscriptionRef, topic *byte, data Buf)
	OnUnsubscribe func(userData Obj)
}

// SubscriptionRef identifies a live subscription. Calling Unsubscribe(Ref)
// more than once is harmless.
type SubscriptionRef struct {
	UserData    Obj
	Ref         Obj
	Unsubscribe func(ref Obj)
}

// HostVTable is the table returned by the EntryPoint symbol.
type HostVTable struct {
	Create         func(workers uint32) Obj
	Destroy        func(host Obj)
	Subscribe      func(host Obj, sub Subscribe, out *SubscriptionRef) int32
	Publish        func(host Obj, topic *byte, data Buf)
	RegisterModule func(host Obj, name *byte, m Module, replace bool) int32
	RemoveModule   func(host Obj, name *byte)
	GetModuleRef   func(host Obj, name *byte) ModuleRef
}
