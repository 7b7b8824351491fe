// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ctxjs

import "context"

// Context is a named execution context. All operations on a Context are
// serialized on its thread, so a Context may be shared between goroutines.
type Context struct {
	name   string
	thread *thread
}

// Name returns the registry name of the context.
func (c *Context) Name() string {
	return c.name
}

func (c *Context) value(ctx context.Context, fn func(ctx context.Context, e Engine) (Value, error)) (Value, error) {
	out, err := c.thread.execute(ctx, func(ctx context.Context, e Engine) (any, error) {
		return fn(ctx, e)
	})
	if err != nil {
		return Value{}, err
	}
	return out.(Value), nil
}

func (c *Context) run(ctx context.Context, fn func(ctx context.Context, e Engine) error) error {
	_, err := c.thread.execute(ctx, func(ctx context.Context, e Engine) (any, error) {
		return nil, fn(ctx, e)
	})
	return err
}

// Eval evaluates source in the context's global scope.
func (c *Context) Eval(ctx context.Context, source string) (Value, error) {
	return c.value(ctx, func(ctx context.Context, e Engine) (Value, error) {
		return e.Eval(ctx, source)
	})
}

// EvalTemplated renders args into the {name} placeholders of source and
// evaluates the result.
func (c *Context) EvalTemplated(ctx context.Context, source string, args map[string]Value, typeField string) (Value, error) {
	return c.value(ctx, func(ctx context.Context, e Engine) (Value, error) {
		return evalTemplated(ctx, e, source, args, typeField)
	})
}

// DefineVariables declares each entry of vars as a global let binding.
func (c *Context) DefineVariables(ctx context.Context, vars map[string]Value, typeField string) error {
	return c.run(ctx, func(ctx context.Context, e Engine) error {
		return defineVariables(ctx, e, vars, typeField)
	})
}

// CallFunction calls the global function name with args.
func (c *Context) CallFunction(ctx context.Context, name string, args []Value, typeField string) (Value, error) {
	return c.value(ctx, func(ctx context.Context, e Engine) (Value, error) {
		return e.CallFunction(ctx, name, args, typeField)
	})
}

// CompileModule compiles source as module name and returns its bytecode,
// LZ4 compressed when compress is set.
func (c *Context) CompileModule(ctx context.Context, name, source string, compress bool) ([]byte, error) {
	out, err := c.thread.execute(ctx, func(ctx context.Context, e Engine) (any, error) {
		return compileModule(ctx, e, name, source, compress)
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

// LoadModuleBytecode loads and evaluates bytecode produced by CompileModule.
func (c *Context) LoadModuleBytecode(ctx context.Context, bytecode []byte, compressed bool) error {
	return c.run(ctx, func(ctx context.Context, e Engine) error {
		return loadModuleBytecode(ctx, e, bytecode, compressed)
	})
}

// LoadModuleSource declares and evaluates module name from source.
func (c *Context) LoadModuleSource(ctx context.Context, name, source string) error {
	return c.run(ctx, func(ctx context.Context, e Engine) error {
		return e.LoadModule(ctx, name, source)
	})
}

// CallModuleFunction imports module and calls its exported function fn.
func (c *Context) CallModuleFunction(ctx context.Context, module, fn string, args []Value, typeField string) (Value, error) {
	return c.value(ctx, func(ctx context.Context, e Engine) (Value, error) {
		return e.CallModuleFunction(ctx, module, fn, args, typeField)
	})
}

// ModuleExport imports module and returns the value of its export.
func (c *Context) ModuleExport(ctx context.Context, module, export string) (Value, error) {
	return c.value(ctx, func(ctx context.Context, e Engine) (Value, error) {
		return e.ModuleExport(ctx, module, export)
	})
}

// ModuleExports imports module and lists its export names.
func (c *Context) ModuleExports(ctx context.Context, module string) ([]string, error) {
	out, err := c.thread.execute(ctx, func(ctx context.Context, e Engine) (any, error) {
		return e.ModuleExports(ctx, module)
	})
	if err != nil {
		return nil, err
	}
	return out.([]string), nil
}

// Run executes program as a single task. See Program.
func (c *Context) Run(ctx context.Context, program Program) ([]Value, error) {
	out, err := c.thread.execute(ctx, func(ctx context.Context, e Engine) (any, error) {
		return program.execute(ctx, e, c.thread.registry.logger, c.name)
	})
	if out == nil {
		return nil, err
	}
	return out.([]Value), err
}

func evalTemplated(ctx context.Context, e Engine, source string, args map[string]Value, typeField string) (Value, error) {
	code, err := FormatTemplate(source, args, typeField)
	if err != nil {
		return Value{}, err
	}
	return e.Eval(ctx, code)
}

func defineVariables(ctx context.Context, e Engine, vars map[string]Value, typeField string) error {
	code, err := DefineVariablesSource(vars, typeField)
	if err != nil {
		return err
	}
	if code == "" {
		return nil
	}
	_, err = e.Eval(ctx, code)
	return err
}

func compileModule(ctx context.Context, e Engine, name, source string, compress bool) ([]byte, error) {
	bytecode, err := e.CompileModule(ctx, name, source)
	if err != nil {
		return nil, err
	}
	if !compress {
		return bytecode, nil
	}
	return Compress(bytecode)
}

func loadModuleBytecode(ctx context.Context, e Engine, bytecode []byte, compressed bool) error {
	if compressed {
		var err error
		if bytecode, err = Decompress(bytecode); err != nil {
			return err
		}
	}
	return e.LoadModuleBytecode(ctx, bytecode)
}
