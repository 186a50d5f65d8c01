package module

import (
	"context"
	"errors"
	"fmt"
)

// ErrorType is the outcome class of a failed invocation.
type ErrorType string

const (
	ErrorTypeUnknownMethod ErrorType = "unknown_method"
	ErrorTypeCustom        ErrorType = "custom"
	ErrorTypeDestroyed     ErrorType = "destroyed"
)

// Codes used when the host folds a non-module error into a custom error.
const (
	CodeInternal int32 = -1
	CodePanic    int32 = -2
)

// ModuleError is the only error shape that crosses a module boundary.
type ModuleError struct {
	Type    ErrorType
	Code    int32
	Name    string
	Message string
	Cause   error
}

var (
	// ErrUnknownMethod reports that the module does not implement the action.
	ErrUnknownMethod = &ModuleError{Type: ErrorTypeUnknownMethod}
	// ErrDestroyed reports that the module is gone, or the call was abandoned.
	ErrDestroyed = &ModuleError{Type: ErrorTypeDestroyed}
)

func (e *ModuleError) Error() string {
	var msg string
	switch e.Type {
	case ErrorTypeUnknownMethod:
		msg = "unknown method"
	case ErrorTypeDestroyed:
		msg = "module destroyed"
	default:
		msg = fmt.Sprintf("module error %d", e.Code)
		if e.Name != "" {
			msg += " (" + e.Name + ")"
		}
		if e.Message != "" {
			msg += ": " + e.Message
		}
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *ModuleError) Unwrap() error {
	return e.Cause
}

// Is matches on Type, so errors.Is(err, ErrDestroyed) holds for every destroyed
// outcome regardless of its cause.
func (e *ModuleError) Is(target error) bool {
	t, ok := target.(*ModuleError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// NewCustomError creates a custom error. name and message are optional.
func NewCustomError(code int32, name, message string) *ModuleError {
	return &ModuleError{
		Type:    ErrorTypeCustom,
		Code:    code,
		Name:    name,
		Message: message,
	}
}

// Destroyed returns a destroyed outcome carrying cause for diagnostics.
func Destroyed(cause error) *ModuleError {
	return &ModuleError{Type: ErrorTypeDestroyed, Cause: cause}
}

// Normalize maps any error onto the four-outcome vocabulary. A nil error
// stays nil.
func Normalize(err error) *ModuleError {
	if err == nil {
		return nil
	}

	var me *ModuleError
	if errors.As(err, &me) {
		return me
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Destroyed(err)
	}
	return &ModuleError{
		Type:    ErrorTypeCustom,
		Code:    CodeInternal,
		Message: err.Error(),
		Cause:   err,
	}
}
