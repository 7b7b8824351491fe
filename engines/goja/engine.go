// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/buke/ctxjs"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
)

// engineName is used in unsupported capability errors.
const engineName = "goja"

// Engine implements ctxjs.Engine with the Goja JS engine.
// It uses an event loop to ensure thread-safe execution of JavaScript, and
// promise results settle on that loop.
type Engine struct {
	Loop   *eventloop.EventLoop // The event loop that owns and serializes access to the runtime.
	Option *EngineOption        // Engine configuration options.

	vm *goja.Runtime // Runtime owned by Loop, used only for Interrupt off the loop
}

type loopResult struct {
	value ctxjs.Value
	err   error
}

// NewFactory returns a ctxjs.EngineFactory for creating Goja engines.
// The factory is configured with the provided options.
func NewFactory(opts ...Option) ctxjs.EngineFactory {
	return func() (ctxjs.Engine, error) {
		return newEngine(opts...)
	}
}

// newEngine creates a new Goja engine instance.
// It initializes a full-featured event loop that supports timers.
func newEngine(opts ...Option) (*Engine, error) {
	// The eventloop creates its own internal goja.Runtime. Console and
	// require are opt-in through options.
	loop := eventloop.NewEventLoop(eventloop.EnableConsole(false))

	e := &Engine{
		Loop:   loop,
		Option: &EngineOption{},
	}

	// Start the event loop *before* applying options
	loop.Start()

	ready := make(chan struct{})
	loop.RunOnLoop(func(vm *goja.Runtime) {
		e.vm = vm
		// the loop enables a require registry of its own
		_ = vm.GlobalObject().Delete("require")
		close(ready)
	})
	<-ready

	// Apply the default FieldNameMapper first.
	// This can be overridden by user-provided options.
	_ = WithFieldNameMapper(goja.TagFieldNameMapper("json", true))(e)

	// Apply all provided options. Each option will block until it's applied.
	for _, opt := range opts {
		if err := opt(e); err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	return e, nil
}

// run schedules job on the loop and waits for its settled result. A promise
// returned by job is awaited on the loop before conversion.
func (e *Engine) run(ctx context.Context, msg string, job func(vm *goja.Runtime) (goja.Value, error)) (ctxjs.Value, error) {
	if e.Loop == nil {
		return ctxjs.Value{}, ctxjs.Errorf(ctxjs.KindEngine, "engine is closed")
	}
	done := make(chan loopResult, 1)

	e.Loop.RunOnLoop(func(vm *goja.Runtime) {
		vm.ClearInterrupt()
		r, err := job(vm)
		if err != nil {
			done <- loopResult{err: jsError(msg, err)}
			return
		}
		settle(vm, r, msg, done)
	})

	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		e.Interrupt(ctx.Err().Error())
		return ctxjs.Value{}, ctxjs.NewError(ctxjs.KindTimeout, "operation canceled", ctx.Err())
	}
}

// settle converts r, chaining on it first when it is a pending promise.
func settle(vm *goja.Runtime, r goja.Value, msg string, done chan<- loopResult) {
	obj, ok := r.(*goja.Object)
	if !ok || obj.ExportType() != promiseType {
		v, err := fromNative(vm, r, 0)
		done <- loopResult{value: v, err: err}
		return
	}
	switch p := obj.Export().(*goja.Promise); p.State() {
	case goja.PromiseStateFulfilled:
		v, err := fromNative(vm, p.Result(), 0)
		done <- loopResult{value: v, err: err}
		return
	case goja.PromiseStateRejected:
		done <- loopResult{err: ctxjs.NewError(ctxjs.KindEngine, msg, rejection(p.Result()))}
		return
	}

	then, _ := goja.AssertFunction(obj.Get("then"))
	onSuccess := func(call goja.FunctionCall) goja.Value {
		v, err := fromNative(vm, call.Argument(0), 0)
		done <- loopResult{value: v, err: err}
		return goja.Undefined()
	}
	onError := func(call goja.FunctionCall) goja.Value {
		done <- loopResult{err: ctxjs.NewError(ctxjs.KindEngine, msg, rejection(call.Argument(0)))}
		return goja.Undefined()
	}
	if _, err := then(obj, vm.ToValue(onSuccess), vm.ToValue(onError)); err != nil {
		done <- loopResult{err: jsError(msg, err)}
	}
}

// jsError keeps bridge and interrupt errors and wraps script errors.
func jsError(msg string, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return ctxjs.NewError(ctxjs.KindTimeout, "script interrupted", err)
	}
	if ctxjs.KindOf(err) != ctxjs.KindUnknown {
		return err
	}
	return ctxjs.NewError(ctxjs.KindEngine, msg, err)
}

// Eval evaluates source in the global scope.
func (e *Engine) Eval(ctx context.Context, source string) (ctxjs.Value, error) {
	return e.run(ctx, "eval error", func(vm *goja.Runtime) (goja.Value, error) {
		return vm.RunString(source)
	})
}

// CallFunction calls the global function name.
func (e *Engine) CallFunction(ctx context.Context, name string, args []ctxjs.Value, typeField string) (ctxjs.Value, error) {
	return e.run(ctx, "function call error", func(vm *goja.Runtime) (goja.Value, error) {
		fn, ok := goja.AssertFunction(vm.Get(name))
		if !ok {
			return nil, ctxjs.Errorf(ctxjs.KindEngine, "failed to get function %s: not a function", name)
		}
		nargs, err := nativeArgs(vm, args, typeField)
		if err != nil {
			return nil, err
		}
		return fn(goja.Undefined(), nargs...)
	})
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

// Interrupt aborts the running script. It is safe to call from any goroutine.
func (e *Engine) Interrupt(reason string) {
	if e.vm != nil {
		e.vm.Interrupt(reason)
	}
}

// Close stops the event loop and releases associated resources.
func (e *Engine) Close() error {
	if e.Loop != nil {
		e.Loop.Stop()
		e.Loop = nil
	}
	return nil
}
