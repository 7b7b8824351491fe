// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"context"
	"testing"
	"time"

	"github.com/buke/ctxjs"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T, opts ...func(*ctxjs.Registry)) *ctxjs.Registry {
	t.Helper()
	registry, err := ctxjs.NewRegistry(append([]func(*ctxjs.Registry){ctxjs.WithEngine(NewFactory())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.Stop() })
	return registry
}

// Integration test: run a program on a Goja context and keep its state.
func TestIntegration_Program(t *testing.T) {
	ctx := context.Background()
	c, err := newRegistry(t).Create("main")
	require.NoError(t, err)

	results, err := c.Run(ctx, ctxjs.Program{
		ctxjs.DefineVariables{Vars: map[string]ctxjs.Value{"x": ctxjs.Int(1)}},
		ctxjs.Eval{Source: "async function hello(name) { await new Promise(r => setTimeout(r, 10)); return 'Hello, ' + name + '!'; }"},
		ctxjs.CallFunction{Name: "hello", Args: []ctxjs.Value{ctxjs.String("Goja")}},
		ctxjs.EvalTemplated{Source: "x + {y}", Args: map[string]ctxjs.Value{"y": ctxjs.Int(2)}},
	})
	require.NoError(t, err)
	require.Len(t, results, 4)
	require.True(t, results[2].Equal(ctxjs.String("Hello, Goja!")))
	require.True(t, results[3].Equal(ctxjs.Int(3)))

	_, err = c.Run(ctx, ctxjs.Program{
		ctxjs.Eval{Source: "x = 5"},
		ctxjs.LoadModuleSource{Name: "m", Source: "export const y=1;"},
		ctxjs.Eval{Source: "x = 6"},
	})
	var perr *ctxjs.ProgramError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, 1, perr.Index)
	require.ErrorIs(t, err, ctxjs.ErrUnsupported)

	v, err := c.Eval(ctx, "x")
	require.NoError(t, err)
	require.True(t, v.Equal(ctxjs.Int(5)))
}

func TestIntegration_ExecuteTimeout(t *testing.T) {
	ctx := context.Background()
	registry := newRegistry(t, ctxjs.WithExecuteTimeout(50*time.Millisecond))
	c, err := registry.Create("spin")
	require.NoError(t, err)

	_, err = c.Eval(ctx, "while (true) {}")
	require.Error(t, err)
	require.Equal(t, ctxjs.KindTimeout, ctxjs.KindOf(err))

	v, err := c.Eval(ctx, "'alive'")
	require.NoError(t, err)
	require.True(t, v.Equal(ctxjs.String("alive")))
}
