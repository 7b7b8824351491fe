//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package v8engine

import (
	"context"
	"testing"
	"time"

	"github.com/buke/ctxjs"
	"github.com/stretchr/testify/require"
)

// TestIntegration_V8Registry runs programs on V8 contexts through a registry.
func TestIntegration_V8Registry(t *testing.T) {
	ctx := context.Background()
	registry, err := ctxjs.NewRegistry(
		ctxjs.WithEngine(NewFactory()),
		ctxjs.WithExecuteTimeout(100*time.Millisecond),
	)
	require.NoError(t, err)
	defer registry.Stop()

	c, err := registry.Create("main")
	require.NoError(t, err)

	results, err := c.Run(ctx, ctxjs.Program{
		ctxjs.Eval{Source: `function hello(name) { return "Hello, " + name + "!"; }`},
		ctxjs.CallFunction{Name: "hello", Args: []ctxjs.Value{ctxjs.String("V8")}},
	})
	require.NoError(t, err)
	require.True(t, results[1].Equal(ctxjs.String("Hello, V8!")))

	_, err = c.Eval(ctx, "while (true) {}")
	require.Error(t, err)
	require.Equal(t, ctxjs.KindTimeout, ctxjs.KindOf(err))

	v, err := c.Eval(ctx, "hello('again')")
	require.NoError(t, err)
	require.True(t, v.Equal(ctxjs.String("Hello, again!")))
}
