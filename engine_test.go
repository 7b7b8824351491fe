// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ctxjs

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// mockEngine is a simple mock implementation of Engine for testing.
// Eval understands "let" declarations produced by DefineVariables and
// reads of defined names; anything containing "undefinedVar" fails.
type mockEngine struct {
	mu          sync.Mutex       // Mutex for concurrent access
	vars        map[string]Value // Variables defined through let declarations
	modules     map[string]string
	evals       []string // Every source passed to Eval
	closeCalled int      // Number of Close calls
	interrupted []string // Reasons passed to Interrupt

	evalFunc  func(ctx context.Context, source string) (Value, error) // Custom Eval behavior (if set)
	callFunc  func(ctx context.Context, name string, args []Value) (Value, error)
	closeFunc func() error // Custom Close behavior (if set)
}

func newMockEngine() *mockEngine {
	return &mockEngine{
		vars:    make(map[string]Value),
		modules: make(map[string]string),
	}
}

// mockEngineFactory returns a factory producing fresh mock engines.
func mockEngineFactory() EngineFactory {
	return func() (Engine, error) {
		return newMockEngine(), nil
	}
}

var errMockReference = errors.New("ReferenceError: undefinedVar is not defined")

func (m *mockEngine) Eval(ctx context.Context, source string) (Value, error) {
	m.mu.Lock()
	m.evals = append(m.evals, source)
	m.mu.Unlock()
	if m.evalFunc != nil {
		return m.evalFunc(ctx, source)
	}
	if strings.Contains(source, "undefinedVar") {
		return Value{}, NewError(KindEngine, "eval error", errMockReference)
	}
	if strings.HasPrefix(source, "let ") {
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, decl := range strings.Split(strings.TrimSuffix(source, ";"), ";") {
			name, lit, _ := strings.Cut(strings.TrimPrefix(decl, "let "), "=")
			m.vars[name] = String(lit)
		}
		return Undefined(), nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.vars[source]; ok {
		return v, nil
	}
	return String(source), nil
}

func (m *mockEngine) CallFunction(ctx context.Context, name string, args []Value, typeField string) (Value, error) {
	if m.callFunc != nil {
		return m.callFunc(ctx, name, args)
	}
	if name == "neverRuns" {
		return Value{}, errors.New("neverRuns was called")
	}
	return List(append([]Value{String(name)}, args...)...), nil
}

func (m *mockEngine) CompileModule(ctx context.Context, name, source string) ([]byte, error) {
	return []byte("bc:" + name + ":" + source), nil
}

func (m *mockEngine) LoadModuleBytecode(ctx context.Context, bytecode []byte) error {
	name, source, ok := strings.Cut(strings.TrimPrefix(string(bytecode), "bc:"), ":")
	if !ok || !strings.HasPrefix(string(bytecode), "bc:") {
		return NewError(KindEngine, "failed to load module bytecode", errors.New("invalid bytecode"))
	}
	return m.LoadModule(ctx, name, source)
}

func (m *mockEngine) LoadModule(ctx context.Context, name, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modules[name] = source
	return nil
}

func (m *mockEngine) module(name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	source, ok := m.modules[name]
	if !ok {
		return "", NewError(KindEngine, "failed to import module", errors.New("could not load module "+name))
	}
	return source, nil
}

func (m *mockEngine) ModuleExport(ctx context.Context, module, export string) (Value, error) {
	source, err := m.module(module)
	if err != nil {
		return Value{}, err
	}
	return String(source + "#" + export), nil
}

func (m *mockEngine) CallModuleFunction(ctx context.Context, module, fn string, args []Value, typeField string) (Value, error) {
	if _, err := m.module(module); err != nil {
		return Value{}, err
	}
	return List(append([]Value{String(module + "." + fn)}, args...)...), nil
}

func (m *mockEngine) ModuleExports(ctx context.Context, module string) ([]string, error) {
	if _, err := m.module(module); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.modules))
	for name := range m.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *mockEngine) Interrupt(reason string) {
	m.mu.Lock()
	m.interrupted = append(m.interrupted, reason)
	m.mu.Unlock()
}

func (m *mockEngine) Close() error {
	m.mu.Lock()
	m.closeCalled++
	m.mu.Unlock()
	if m.closeFunc != nil {
		return m.closeFunc()
	}
	return nil
}

func (m *mockEngine) evalCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.evals)
}

func (m *mockEngine) interruptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.interrupted)
}
