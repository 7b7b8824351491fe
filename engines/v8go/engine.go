//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package v8engine

import (
	"context"
	"fmt"

	"github.com/buke/ctxjs"
	"github.com/tommie/v8go"
)

// engineName is used in unsupported capability errors.
const engineName = "v8go"

var (
	// Make these functions variables so they can be mocked in tests.
	v8NewIsolate = v8go.NewIsolate
	v8NewContext = v8go.NewContext
)

// Engine implements ctxjs.Engine using the V8 engine.
// It encapsulates a V8 Isolate and Context.
type Engine struct {
	// Iso is the V8 Isolate, representing a single-threaded VM instance.
	// It is exposed publicly to allow for advanced custom options.
	Iso *v8go.Isolate

	// Ctx is the V8 Context, representing the execution environment.
	// It is exposed publicly to allow for advanced custom options.
	Ctx *v8go.Context

	// Option holds the engine-specific configurations.
	Option *EngineOption

	glue *glue
}

// NewFactory creates a new ctxjs.EngineFactory for the V8 engine.
func NewFactory(opts ...Option) ctxjs.EngineFactory {
	return func() (ctxjs.Engine, error) {
		return newEngine(opts...)
	}
}

// newEngine creates and initializes a new V8 Engine instance.
func newEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		Option: &EngineOption{
			GlueScript: glueScript,
			Origin:     "<eval>",
		},
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	iso := v8NewIsolate()
	if iso == nil {
		return nil, fmt.Errorf("failed to create v8 isolate")
	}
	e.Iso = iso

	ctx := v8NewContext(iso)
	if ctx == nil {
		iso.Dispose()
		e.Iso = nil
		return nil, fmt.Errorf("failed to create v8 context")
	}
	e.Ctx = ctx

	g, err := newGlue(ctx, e.Option.GlueScript)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	e.glue = g
	return e, nil
}

// settle waits for a promise result to leave the pending state. V8 has no
// timers here, so a promise still pending after the microtask queue drains
// never settles.
func (e *Engine) settle(ctx context.Context, msg string, r *v8go.Value) (ctxjs.Value, error) {
	if r != nil && r.IsPromise() {
		p, err := r.AsPromise()
		if err != nil {
			return ctxjs.Value{}, ctxjs.NewError(ctxjs.KindBridge, msg, err)
		}
		if p.State() == v8go.Pending {
			e.Ctx.PerformMicrotaskCheckpoint()
		}
		if err := ctx.Err(); err != nil {
			return ctxjs.Value{}, ctxjs.NewError(ctxjs.KindTimeout, "operation canceled", err)
		}
		switch p.State() {
		case v8go.Rejected:
			return ctxjs.Value{}, ctxjs.Errorf(ctxjs.KindEngine, "%s: %s", msg, p.Result().String())
		case v8go.Pending:
			return ctxjs.Value{}, ctxjs.Unrepresentable("pending promise")
		}
		r = p.Result()
	}
	return e.glue.fromNative(r, 0)
}

// scriptError classifies errors returned by RunScript and Call.
func (e *Engine) scriptError(ctx context.Context, msg string, err error) error {
	if ctx.Err() != nil || e.Iso.IsExecutionTerminating() {
		return ctxjs.NewError(ctxjs.KindTimeout, "script interrupted", err)
	}
	if ctxjs.KindOf(err) != ctxjs.KindUnknown {
		return err
	}
	return ctxjs.NewError(ctxjs.KindEngine, msg, err)
}

func (e *Engine) ready() error {
	if e.Ctx == nil {
		return ctxjs.Errorf(ctxjs.KindEngine, "engine is closed")
	}
	return nil
}

// Eval evaluates source in the global scope.
func (e *Engine) Eval(ctx context.Context, source string) (ctxjs.Value, error) {
	if err := e.ready(); err != nil {
		return ctxjs.Value{}, err
	}
	r, err := e.Ctx.RunScript(source, e.Option.Origin)
	if err != nil {
		return ctxjs.Value{}, e.scriptError(ctx, "eval error", err)
	}
	return e.settle(ctx, "eval error", r)
}

// CallFunction calls the global function name.
func (e *Engine) CallFunction(ctx context.Context, name string, args []ctxjs.Value, typeField string) (ctxjs.Value, error) {
	if err := e.ready(); err != nil {
		return ctxjs.Value{}, err
	}
	fv, err := e.Ctx.Global().Get(name)
	if err != nil {
		return ctxjs.Value{}, ctxjs.NewError(ctxjs.KindEngine, "failed to get function "+name, err)
	}
	fn, err := fv.AsFunction()
	if err != nil {
		return ctxjs.Value{}, ctxjs.Errorf(ctxjs.KindEngine, "failed to get function %s: not a function", name)
	}
	nargs, err := e.glue.nativeArgs(args, typeField)
	if err != nil {
		return ctxjs.Value{}, err
	}
	r, err := fn.Call(e.Ctx.Global(), nargs...)
	if err != nil {
		return ctxjs.Value{}, e.scriptError(ctx, "function call error", err)
	}
	return e.settle(ctx, "function call error", r)
}

func (e *Engine) CompileModule(context.Context, string, string) ([]byte, error) {
	return nil, ctxjs.Unsupported(engineName, "module bytecode")
}

func (e *Engine) LoadModuleBytecode(context.Context, []byte) error {
	return ctxjs.Unsupported(engineName, "module bytecode")
}

func (e *Engine) LoadModule(context.Context, string, string) error {
	return ctxjs.Unsupported(engineName, "ES modules")
}

func (e *Engine) ModuleExport(context.Context, string, string) (ctxjs.Value, error) {
	return ctxjs.Value{}, ctxjs.Unsupported(engineName, "ES modules")
}

func (e *Engine) CallModuleFunction(context.Context, string, string, []ctxjs.Value, string) (ctxjs.Value, error) {
	return ctxjs.Value{}, ctxjs.Unsupported(engineName, "ES modules")
}

func (e *Engine) ModuleExports(context.Context, string) ([]string, error) {
	return nil, ctxjs.Unsupported(engineName, "ES modules")
}

// Interrupt terminates the script running on the isolate. It is safe to
// call from any goroutine.
func (e *Engine) Interrupt(string) {
	if iso := e.Iso; iso != nil {
		iso.TerminateExecution()
	}
}

// Close releases all resources associated with the V8 engine.
func (e *Engine) Close() error {
	if e.Ctx != nil {
		e.Ctx.Close()
		e.Ctx = nil
	}
	if e.Iso != nil {
		e.Iso.Dispose()
		e.Iso = nil
	}
	e.glue = nil
	return nil
}
