//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ctxjs_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/buke/ctxjs"
	gojaengine "github.com/buke/ctxjs/engines/goja"
	quickjsengine "github.com/buke/ctxjs/engines/quickjs-go"
	v8engine "github.com/buke/ctxjs/engines/v8go"
)

// A simple CPU-intensive script for benchmarking.
const benchmarkJsScript = `
function fib(n) {
    if (n < 2) {
        return n;
    }
    return fib(n - 1) + fib(n - 2);
}
`

const benchmarkContexts = 16

// runRegistryBenchmark spreads fib calls over a fixed set of contexts.
func runRegistryBenchmark(b *testing.B, factory ctxjs.EngineFactory) {
	ctx := context.Background()
	registry, err := ctxjs.NewRegistry(ctxjs.WithEngine(factory))
	if err != nil {
		b.Fatalf("Failed to create registry: %v", err)
	}
	defer registry.Stop()

	contexts := make([]*ctxjs.Context, benchmarkContexts)
	for i := range contexts {
		c, err := registry.Create(fmt.Sprintf("bench-%d", i))
		if err != nil {
			b.Fatalf("Failed to create context: %v", err)
		}
		if _, err := c.Eval(ctx, benchmarkJsScript); err != nil {
			b.Fatalf("Failed to load script: %v", err)
		}
		contexts[i] = c
	}

	var next atomic.Uint32
	args := []ctxjs.Value{ctxjs.Int(15)}
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			c := contexts[next.Add(1)%benchmarkContexts]
			if _, err := c.CallFunction(ctx, "fib", args, ""); err != nil {
				b.Errorf("CallFunction failed: %v", err)
			}
		}
	})
}

func BenchmarkRegistry_Goja(b *testing.B) {
	runRegistryBenchmark(b, gojaengine.NewFactory())
}

func BenchmarkRegistry_QuickJS(b *testing.B) {
	runRegistryBenchmark(b, quickjsengine.NewFactory())
}

func BenchmarkRegistry_V8Go(b *testing.B) {
	runRegistryBenchmark(b, v8engine.NewFactory())
}

// BenchmarkCodec measures a wire round trip of a nested value.
func BenchmarkCodec(b *testing.B) {
	v := ctxjs.Record(map[string]ctxjs.Value{
		"id":    ctxjs.Int(42),
		"name":  ctxjs.String("benchmark"),
		"ratio": ctxjs.Float(0.25),
		"tags":  ctxjs.List(ctxjs.String("a"), ctxjs.String("b"), ctxjs.Null()),
		"blob":  ctxjs.Bytes(make([]byte, 256)),
	})
	for i := 0; i < b.N; i++ {
		data, err := ctxjs.Encode(v)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := ctxjs.Decode(data); err != nil {
			b.Fatal(err)
		}
	}
}
