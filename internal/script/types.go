package script

import (
	"time"
)

// Extension is the file extension of loadable scripts.
const Extension = ".tengo"

// ErrorType categorizes script errors.
type ErrorType string

const (
	ErrorTypeCompilation ErrorType = "compilation"
	ErrorTypeExecution   ErrorType = "execution"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeInvalidPath ErrorType = "invalid_path"
	ErrorTypeResult      ErrorType = "result"
)

// Script is a script file together with its load metadata.
type Script struct {
	Module       string
	Path         string
	Content      string
	Checksum     string
	LastModified time.Time
}

// ScriptError reports a failure tied to a particular script.
type ScriptError struct {
	Type    ErrorType
	Module  string
	Path    string
	Message string
	Cause   error
}

func (e *ScriptError) Error() string {
	msg := e.Message
	if e.Module != "" {
		msg = e.Module + ": " + msg
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *ScriptError) Unwrap() error {
	return e.Cause
}

// NewScriptError creates a ScriptError.
func NewScriptError(errorType ErrorType, moduleName, path, message string, cause error) *ScriptError {
	return &ScriptError{
		Type:    errorType,
		Module:  moduleName,
		Path:    path,
		Message: message,
		Cause:   cause,
	}
}
