// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ctxjs

import "context"

// Engine represents one isolated script runtime and its global scope.
// An Engine is used by a single goroutine at a time.
type Engine interface {
	// Eval evaluates source in the global scope and returns its completion value.
	Eval(ctx context.Context, source string) (Value, error)

	// CallFunction calls the global function name with args.
	CallFunction(ctx context.Context, name string, args []Value, typeField string) (Value, error)

	// CompileModule declares a module without evaluating it and returns its bytecode.
	CompileModule(ctx context.Context, name, source string) ([]byte, error)

	// LoadModuleBytecode loads and evaluates a compiled module.
	LoadModuleBytecode(ctx context.Context, bytecode []byte) error

	// LoadModule declares and evaluates a module from source.
	LoadModule(ctx context.Context, name, source string) error

	// ModuleExport imports module and returns the exported binding.
	ModuleExport(ctx context.Context, module, export string) (Value, error)

	// CallModuleFunction imports module and calls the exported function fn.
	CallModuleFunction(ctx context.Context, module, fn string, args []Value, typeField string) (Value, error)

	// ModuleExports imports module and lists its export names.
	ModuleExports(ctx context.Context, module string) ([]string, error)

	// Close releases the runtime. It is safe to call more than once.
	Close() error
}

// Interrupter is implemented by engines that can abort a running script
// from another goroutine.
type Interrupter interface {
	Interrupt(reason string)
}

// EngineFactory creates a new engine for a context.
type EngineFactory func() (Engine, error)
