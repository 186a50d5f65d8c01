package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"

	"github.com/nfrund/modular/internal/module"
)

// Globals shared between the host and a script.
const (
	varAction       = "action"
	varPayload      = "payload"
	varModule       = "module_name"
	varResult       = "result"
	varErrorCode    = "error_code"
	varErrorName    = "error_name"
	varErrorMessage = "error_message"
)

// TengoEngine compiles scripts into module handlers.
type TengoEngine struct {
	limits SecurityLimits
	logger *slog.Logger
}

// NewTengoEngine creates an engine with the given limits.
func NewTengoEngine(limits SecurityLimits, logger *slog.Logger) *TengoEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &TengoEngine{limits: limits, logger: logger}
}

// Limits returns the engine's security limits.
func (e *TengoEngine) Limits() SecurityLimits {
	return e.limits
}

// Compile prepares a script for execution. Compilation errors are reported
// here rather than on first invocation.
func (e *TengoEngine) Compile(s *Script) (*Program, error) {
	ts := tengo.NewScript([]byte(s.Content))
	ts.SetImports(stdlib.GetModuleMap(e.limits.AllowedPackages...))
	if e.limits.MaxAllocs > 0 {
		ts.SetMaxAllocs(e.limits.MaxAllocs)
	}

	globals := []struct {
		name  string
		value any
	}{
		{varAction, ""},
		{varPayload, ""},
		{varModule, s.Module},
		{varResult, nil},
		{varErrorCode, nil},
		{varErrorName, nil},
		{varErrorMessage, nil},
		{"log", e.logFunction(s.Module)},
	}
	for _, g := range globals {
		if err := ts.Add(g.name, g.value); err != nil {
			return nil, NewScriptError(ErrorTypeCompilation, s.Module, s.Path,
				fmt.Sprintf("failed to declare %s", g.name), err)
		}
	}

	compiled, err := ts.Compile()
	if err != nil {
		return nil, NewScriptError(ErrorTypeCompilation, s.Module, s.Path, "failed to compile script", err)
	}

	e.logger.Debug("Script compiled", "module", s.Module, "path", s.Path)
	return &Program{script: s, compiled: compiled, timeout: e.limits.MaxExecutionTime}, nil
}

func (e *TengoEngine) logFunction(moduleName string) *tengo.UserFunction {
	return &tengo.UserFunction{
		Name: "log",
		Value: func(args ...tengo.Object) (tengo.Object, error) {
			if len(args) != 1 {
				return nil, tengo.ErrWrongNumArguments
			}
			msg, _ := tengo.ToString(args[0])
			e.logger.Info("Script log", "module", moduleName, "message", msg)
			return tengo.UndefinedValue, nil
		},
	}
}

// Program is a compiled script. It is safe for concurrent use; every
// invocation runs on its own copy of the globals.
type Program struct {
	script   *Script
	compiled *tengo.Compiled
	timeout  time.Duration
}

// Script returns the source the program was compiled from.
func (p *Program) Script() *Script {
	return p.script
}

// Handle runs the script for one request.
func (p *Program) Handle(ctx context.Context, req module.Request) (module.Response, error) {
	run := p.compiled.Clone()
	if err := run.Set(varAction, req.Action); err != nil {
		return module.Response{}, err
	}
	if err := run.Set(varPayload, string(req.Body)); err != nil {
		return module.Response{}, err
	}

	execCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := run.RunContext(execCtx); err != nil {
		switch {
		case ctx.Err() != nil:
			return module.Response{}, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return module.Response{}, scriptFailure(ErrorTypeTimeout,
				fmt.Sprintf("script exceeded %s", p.timeout), err)
		default:
			return module.Response{}, scriptFailure(ErrorTypeExecution, err.Error(), err)
		}
	}

	if v := run.Get(varErrorCode); !v.IsUndefined() || !run.Get(varErrorMessage).IsUndefined() {
		return module.Response{}, module.NewCustomError(
			int32(v.Int()),
			stringVar(run, varErrorName),
			stringVar(run, varErrorMessage),
		)
	}

	result := run.Get(varResult)
	if result.IsUndefined() {
		return module.Response{}, module.ErrUnknownMethod
	}

	data, err := encodeResult(result.Value())
	if err != nil {
		return module.Response{}, scriptFailure(ErrorTypeResult, "result is not encodable", err)
	}
	return module.Response{Data: data}, nil
}

func stringVar(c *tengo.Compiled, name string) string {
	v := c.Get(name)
	if v.IsUndefined() {
		return ""
	}
	return v.String()
}

func scriptFailure(t ErrorType, message string, cause error) error {
	e := module.NewCustomError(module.CodeInternal, string(t), message)
	e.Cause = cause
	return e
}

func encodeResult(v any) ([]byte, error) {
	switch val := v.(type) {
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	default:
		return json.Marshal(val)
	}
}
