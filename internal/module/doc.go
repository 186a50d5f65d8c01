// Package module defines the request/response contract shared by every
// invocable unit on the host, local or foreign.
//
// A call ends in exactly one of four outcomes: a Response, ErrUnknownMethod,
// a custom error (code plus optional name and message), or ErrDestroyed.
package module
