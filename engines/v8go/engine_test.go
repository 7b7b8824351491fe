//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package v8engine

import (
	"context"
	"errors"
	"testing"

	"github.com/buke/ctxjs"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/tommie/v8go"
)

const tf = "__type"

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	engine, err := newEngine(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

// TestNewEngine tests the creation of a new V8 engine.
func TestNewEngine(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		engine := newTestEngine(t)
		require.NotNil(t, engine.Iso)
		require.NotNil(t, engine.Ctx)
		require.Equal(t, glueScript, engine.Option.GlueScript)
	})

	t.Run("With Failing Option", func(t *testing.T) {
		expectedErr := errors.New("option failed")
		engine, err := newEngine(func(e *Engine) error { return expectedErr })
		require.ErrorIs(t, err, expectedErr)
		require.Nil(t, engine)
	})

	t.Run("Broken Glue Script", func(t *testing.T) {
		engine, err := newEngine(WithGlueScript("({})"))
		require.ErrorContains(t, err, "glue script is missing kind")
		require.Nil(t, engine)

		_, err = newEngine(WithGlueScript("throw 1"))
		require.ErrorContains(t, err, "failed to run glue script")
	})
}

// TestNewEngine_Fails tests the failure paths of newEngine.
func TestNewEngine_Fails(t *testing.T) {
	t.Run("Isolate Creation Fails", func(t *testing.T) {
		originalNewIsolate := v8NewIsolate
		v8NewIsolate = func() *v8go.Isolate { return nil }
		defer func() { v8NewIsolate = originalNewIsolate }()

		_, err := newEngine()
		require.ErrorContains(t, err, "failed to create v8 isolate")
	})

	t.Run("Context Creation Fails", func(t *testing.T) {
		originalNewContext := v8NewContext
		v8NewContext = func(opt ...v8go.ContextOption) *v8go.Context { return nil }
		defer func() { v8NewContext = originalNewContext }()

		_, err := newEngine()
		require.ErrorContains(t, err, "failed to create v8 context")
	})
}

func TestEngine_Eval(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	tests := []struct {
		source string
		want   ctxjs.Value
	}{
		{"1+1", ctxjs.Int(2)},
		{"7.5", ctxjs.Float(7.5)},
		{"2**31", ctxjs.Float(2147483648)},
		{"'a' + 'b'", ctxjs.String("ab")},
		{"true", ctxjs.Bool(true)},
		{"null", ctxjs.Null()},
		{"undefined", ctxjs.Undefined()},
		{"[1, 'x', null]", ctxjs.List(ctxjs.Int(1), ctxjs.String("x"), ctxjs.Null())},
		{"({b: 2, a: [true]})", ctxjs.Record(map[string]ctxjs.Value{"a": ctxjs.List(ctxjs.Bool(true)), "b": ctxjs.Int(2)})},
		{"new Uint8Array([1, 2, 255])", ctxjs.Bytes([]byte{1, 2, 255})},
		{"new Uint8Array([9, 8, 7]).subarray(1)", ctxjs.Bytes([]byte{8, 7})},
		{"new Uint8Array([5]).buffer", ctxjs.Bytes([]byte{5})},
		{"Promise.resolve(42)", ctxjs.Int(42)},
		{"(async () => 'done')()", ctxjs.String("done")},
		{"({a: Promise.resolve(1)})", ctxjs.Record(map[string]ctxjs.Value{"a": ctxjs.Int(1)})},
		{"new RangeError('too far')", ctxjs.Record(map[string]ctxjs.Value{"name": ctxjs.String("RangeError"), "message": ctxjs.String("too far")})},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			got, err := engine.Eval(ctx, tt.source)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("Eval(%q) mismatch (-want +got):\n%s", tt.source, diff)
			}
		})
	}
}

func TestEngine_Eval_Errors(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	_, err := engine.Eval(ctx, "function () { syntax error }")
	require.ErrorContains(t, err, "eval error")
	require.Equal(t, ctxjs.KindEngine, ctxjs.KindOf(err))

	_, err = engine.Eval(ctx, "undefinedVar")
	require.ErrorContains(t, err, "undefinedVar")

	_, err = engine.Eval(ctx, "Promise.reject(new Error('nope'))")
	require.ErrorContains(t, err, "nope")

	_, err = engine.Eval(ctx, "({inner: Promise.reject(new Error('deep'))})")
	require.ErrorContains(t, err, "promise rejected")
	require.ErrorContains(t, err, "deep")

	for _, source := range []string{"(function f() {})", "Symbol('s')", "10n", "new Date(0)", "new Promise(() => {})"} {
		_, err = engine.Eval(ctx, source)
		require.Error(t, err, source)
		require.Equal(t, ctxjs.KindBridge, ctxjs.KindOf(err), source)
		require.ErrorContains(t, err, "unrepresentable value type")
	}

	_, err = engine.Eval(ctx, "const o = {}; o.self = o; o")
	require.ErrorContains(t, err, "nesting exceeds")
}

func TestEngine_CallFunction(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	_, err := engine.Eval(ctx, `
		function hello(name) { return "Hello, " + name + "!"; }
		function describe(v) { return v instanceof Uint8Array ? "bytes:" + v.length : typeof v; }
		function echo(v) { return v; }
		async function later(v) { return v * 2; }
	`)
	require.NoError(t, err)

	v, err := engine.CallFunction(ctx, "hello", []ctxjs.Value{ctxjs.String("V8")}, tf)
	require.NoError(t, err)
	require.True(t, v.Equal(ctxjs.String("Hello, V8!")))

	v, err = engine.CallFunction(ctx, "describe", []ctxjs.Value{ctxjs.Bytes([]byte{1, 2})}, tf)
	require.NoError(t, err)
	require.True(t, v.Equal(ctxjs.String("bytes:2")))

	nested := ctxjs.Record(map[string]ctxjs.Value{
		"list": ctxjs.List(ctxjs.Int(1), ctxjs.Float(2.5), ctxjs.Bytes([]byte{0, 255})),
		"name": ctxjs.String("ü"),
	})
	v, err = engine.CallFunction(ctx, "echo", []ctxjs.Value{nested}, tf)
	require.NoError(t, err)
	if diff := cmp.Diff(nested, v); diff != "" {
		t.Fatalf("echo mismatch (-want +got):\n%s", diff)
	}

	v, err = engine.CallFunction(ctx, "later", []ctxjs.Value{ctxjs.Int(21)}, tf)
	require.NoError(t, err)
	require.True(t, v.Equal(ctxjs.Int(42)))

	_, err = engine.CallFunction(ctx, "missing", nil, tf)
	require.ErrorContains(t, err, "failed to get function missing")
}

func TestEngine_EscapeDirectives(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	_, err := engine.Eval(ctx, "function id(v) { return v; }")
	require.NoError(t, err)

	v, err := engine.CallFunction(ctx, "id", []ctxjs.Value{ctxjs.EscapeDirective(tf, ctxjs.EscapeEval, "1+1")}, tf)
	require.NoError(t, err)
	require.True(t, v.Equal(ctxjs.Int(2)))

	v, err = engine.CallFunction(ctx, "id", []ctxjs.Value{ctxjs.EscapeDirective(tf, ctxjs.EscapeJSON, `{"k":[1,2]}`)}, tf)
	require.NoError(t, err)
	require.True(t, v.Equal(ctxjs.Record(map[string]ctxjs.Value{"k": ctxjs.List(ctxjs.Int(1), ctxjs.Int(2))})))

	_, err = engine.CallFunction(ctx, "id", []ctxjs.Value{ctxjs.EscapeDirective(tf, ctxjs.EscapeJSON, "{broken")}, tf)
	require.ErrorContains(t, err, "json parse error")
}

func TestEngine_ModulesUnsupported(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	_, err := engine.CompileModule(ctx, "m", "export const y=42;")
	require.ErrorIs(t, err, ctxjs.ErrUnsupported)
	require.ErrorIs(t, engine.LoadModule(ctx, "m", "export const y=42;"), ctxjs.ErrUnsupported)
	_, err = engine.ModuleExports(ctx, "m")
	require.Equal(t, ctxjs.KindUnsupported, ctxjs.KindOf(err))
}

// TestEngine_Close tests that Close is idempotent and disables the engine.
func TestEngine_Close(t *testing.T) {
	engine, err := newEngine()
	require.NoError(t, err)
	require.NoError(t, engine.Close())
	require.Nil(t, engine.Iso)
	require.Nil(t, engine.Ctx)
	require.NoError(t, engine.Close())

	_, err = engine.Eval(context.Background(), "1")
	require.ErrorContains(t, err, "engine is closed")
	engine.Interrupt("closed")
}
