// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/buke/ctxjs"
	"github.com/buke/quickjs-go"
)

// namespaceSlot is the global that briefly holds an imported module namespace.
const namespaceSlot = "__ctxjs_namespace"

// Engine implements ctxjs.Engine on a QuickJS runtime and context.
type Engine struct {
	Runtime *quickjs.Runtime // QuickJS runtime instance
	Ctx     *quickjs.Context // QuickJS context instance
	Option  *EngineOption    // Engine configuration options

	bridge *bridge

	interrupted atomic.Bool // Set by Interrupt, cleared when an operation starts

	// Owned by the goroutine running the engine.
	op       context.Context
	deadline time.Time
	tripped  bool
}

// Interrupt aborts the running script. It is safe to call from any goroutine.
func (e *Engine) Interrupt(string) {
	e.interrupted.Store(true)
}

// begin prepares the interrupt state for one operation and returns the
// function that ends it.
func (e *Engine) begin(ctx context.Context) func() {
	e.interrupted.Store(false)
	e.op = ctx
	e.tripped = false
	if e.Option.Timeout > 0 {
		e.deadline = time.Now().Add(time.Duration(e.Option.Timeout) * time.Second)
	}
	return func() {
		e.op = nil
		e.deadline = time.Time{}
	}
}

// interruptHandler is polled by QuickJS while a script runs.
func (e *Engine) interruptHandler() int {
	switch {
	case e.interrupted.Load():
	case e.op != nil && e.op.Err() != nil:
	case !e.deadline.IsZero() && time.Now().After(e.deadline):
	default:
		return 0
	}
	e.tripped = true
	return 1
}

// engineError wraps the pending exception of the context.
func (e *Engine) engineError(msg string) error {
	err := e.Ctx.Exception()
	if e.tripped {
		return ctxjs.NewError(ctxjs.KindTimeout, "script interrupted", err)
	}
	return ctxjs.NewError(ctxjs.KindEngine, msg, err)
}

// settle awaits r if it is a promise and reports a rejection as msg.
func (e *Engine) settle(r *quickjs.Value, msg string) (*quickjs.Value, error) {
	if r.IsException() {
		r.Free()
		return nil, e.engineError(msg)
	}
	r = r.Await()
	if r.IsException() {
		r.Free()
		return nil, e.engineError(msg)
	}
	return r, nil
}

// Eval evaluates source in the global scope. A promise result is awaited.
func (e *Engine) Eval(ctx context.Context, source string) (ctxjs.Value, error) {
	defer e.begin(ctx)()
	r, err := e.settle(e.Ctx.Eval(source, quickjs.EvalFileName("<eval>")), "eval error")
	if err != nil {
		return ctxjs.Value{}, err
	}
	defer r.Free()
	return e.bridge.fromNative(r, 0)
}

// CallFunction calls the global function name.
func (e *Engine) CallFunction(ctx context.Context, name string, args []ctxjs.Value, typeField string) (ctxjs.Value, error) {
	defer e.begin(ctx)()
	fn := e.Ctx.Globals().Get(name)
	defer fn.Free()
	if !fn.IsFunction() {
		return ctxjs.Value{}, ctxjs.Errorf(ctxjs.KindEngine, "failed to get function %s: not a function", name)
	}
	return e.call(fn, args, typeField)
}

func (e *Engine) call(fn *quickjs.Value, args []ctxjs.Value, typeField string) (ctxjs.Value, error) {
	nargs, err := e.bridge.args(args, typeField)
	if err != nil {
		return ctxjs.Value{}, err
	}
	defer freeAll(nargs)

	r, err := e.settle(fn.Execute(e.Ctx.Null(), nargs...), "function call error")
	if err != nil {
		return ctxjs.Value{}, err
	}
	defer r.Free()
	return e.bridge.fromNative(r, 0)
}

// CompileModule declares source as module name without evaluating it and
// returns the module bytecode.
func (e *Engine) CompileModule(ctx context.Context, name, source string) ([]byte, error) {
	defer e.begin(ctx)()
	opts := []quickjs.EvalOption{
		quickjs.EvalFlagModule(true),
		quickjs.EvalFlagCompileOnly(true),
		quickjs.EvalFileName(name),
	}
	// Compile serializes the parse result unchecked.
	parsed := e.Ctx.Eval(source, opts...)
	if parsed.IsException() {
		return nil, e.engineError("failed declare module")
	}
	parsed.Free()

	bytecode, err := e.Ctx.Compile(source, opts...)
	if err != nil {
		return nil, ctxjs.NewError(ctxjs.KindEngine, "failed declare module", err)
	}
	return bytecode, nil
}

// LoadModuleBytecode loads and evaluates module bytecode.
func (e *Engine) LoadModuleBytecode(ctx context.Context, bytecode []byte) error {
	defer e.begin(ctx)()
	if len(bytecode) == 0 {
		return ctxjs.NewError(ctxjs.KindEngine, "failed eval bytecode", errors.New("empty bytecode"))
	}
	r, err := e.settle(e.Ctx.LoadModuleBytecode(bytecode), "failed eval bytecode")
	if err != nil {
		return err
	}
	r.Free()
	return nil
}

// LoadModule declares and evaluates module name from source.
func (e *Engine) LoadModule(ctx context.Context, name, source string) error {
	defer e.begin(ctx)()
	r, err := e.settle(e.Ctx.LoadModule(source, name), "failed eval module code")
	if err != nil {
		return err
	}
	r.Free()
	return nil
}

// namespace imports module and returns its namespace object.
func (e *Engine) namespace(module string) (*quickjs.Value, error) {
	code := fmt.Sprintf("import * as ns from %s;\nglobalThis[%s] = ns;\n",
		ctxjs.Quote(module), ctxjs.Quote(namespaceSlot))
	r := e.Ctx.Eval(code, quickjs.EvalFlagModule(true), quickjs.EvalFileName("<import>"))
	if r.IsException() {
		r.Free()
		return nil, e.engineError("failed to import module")
	}
	r, err := e.settle(r, "failed to finish module import")
	if err != nil {
		return nil, err
	}
	r.Free()

	key := e.Ctx.String(namespaceSlot)
	defer key.Free()
	return e.bridge.helper.Call("take", key), nil
}

// ModuleExport returns the value exported by module under export.
func (e *Engine) ModuleExport(ctx context.Context, module, export string) (ctxjs.Value, error) {
	defer e.begin(ctx)()
	ns, err := e.namespace(module)
	if err != nil {
		return ctxjs.Value{}, err
	}
	defer ns.Free()
	v := ns.Get(export)
	defer v.Free()
	return e.bridge.fromNative(v, 0)
}

// CallModuleFunction calls the function fn exported by module.
func (e *Engine) CallModuleFunction(ctx context.Context, module, fn string, args []ctxjs.Value, typeField string) (ctxjs.Value, error) {
	defer e.begin(ctx)()
	ns, err := e.namespace(module)
	if err != nil {
		return ctxjs.Value{}, err
	}
	defer ns.Free()
	f := ns.Get(fn)
	defer f.Free()
	if !f.IsFunction() {
		return ctxjs.Value{}, ctxjs.Errorf(ctxjs.KindEngine, "failed to get function %s of module %s: not a function", fn, module)
	}
	return e.call(f, args, typeField)
}

// ModuleExports lists the export names of module.
func (e *Engine) ModuleExports(ctx context.Context, module string) ([]string, error) {
	defer e.begin(ctx)()
	ns, err := e.namespace(module)
	if err != nil {
		return nil, err
	}
	defer ns.Free()
	return e.bridge.keys(ns)
}

// Close releases all resources associated with the engine, including context and runtime.
func (e *Engine) Close() error {
	if e.bridge != nil {
		e.bridge.helper.Free()
		e.bridge = nil
	}
	if e.Ctx != nil {
		e.Ctx.Close()
		e.Ctx = nil
	}
	if e.Runtime != nil {
		e.Runtime.Close()
		e.Runtime = nil
	}
	return nil
}

// newEngine creates a new QuickJS engine instance with the given options.
// It initializes the runtime, context, and applies all provided engine options.
func newEngine(options ...Option) (*Engine, error) {
	rt := quickjs.NewRuntime()
	ctx := rt.NewContext()

	engine := &Engine{
		Runtime: rt,
		Ctx:     ctx,
		Option: &EngineOption{
			MemoryLimit:        0,     // Default memory limit (no limit)
			GCThreshold:        -1,    // Default GC threshold. -1 means no threshold
			Timeout:            0,     // Default timeout (no timeout)
			MaxStackSize:       0,     // Default max stack size
			CanBlock:           false, // Blocking not allowed by default
			EnableModuleImport: false, // Module import disabled by default
			Strip:              1,     // Default strip behavior
		},
	}

	helper := ctx.Eval(bridgeScript, quickjs.EvalFileName("bridge.js"))
	if helper.IsException() {
		err := ctx.Exception()
		helper.Free()
		engine.Close()
		return nil, fmt.Errorf("failed to evaluate bridge script: %w", err)
	}
	engine.bridge = &bridge{ctx: ctx, helper: helper}
	rt.SetInterruptHandler(engine.interruptHandler)

	for _, option := range options {
		if err := option(engine); err != nil {
			engine.Close()
			return nil, err
		}
	}

	return engine, nil
}

// NewFactory returns a ctxjs.EngineFactory that creates QuickJS engines with the given options.
func NewFactory(options ...Option) ctxjs.EngineFactory {
	return func() (ctxjs.Engine, error) {
		return newEngine(options...)
	}
}
