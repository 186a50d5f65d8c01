package module

import (
	"context"
)

// Request is a single action invocation addressed to a module.
type Request struct {
	// Action names the operation, e.g. "add" or "get_user".
	Action string
	// Body is the opaque request payload.
	Body []byte
}

// Response is the successful result of an invocation.
type Response struct {
	Data []byte
}

// Handler defines the contract every invocable module implements.
//
// Errors returned from Handle are folded into the four-outcome vocabulary by
// Normalize: a *ModuleError passes through, anything else becomes a custom
// error with CodeInternal.
type Handler interface {
	Handle(ctx context.Context, req Request) (Response, error)
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(ctx context.Context, req Request) (Response, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Actions dispatches by action name and reports ErrUnknownMethod for anything
// else.
type Actions map[string]HandlerFunc

func (a Actions) Handle(ctx context.Context, req Request) (Response, error) {
	fn, ok := a[req.Action]
	if !ok {
		return Response{}, ErrUnknownMethod
	}
	return fn(ctx, req)
}

// Compile-time interface compliance checks
var (
	_ Handler = HandlerFunc(nil)
	_ Handler = Actions(nil)
)
