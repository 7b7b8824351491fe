//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/buke/ctxjs"
	v8engine "github.com/buke/ctxjs/engines/v8go"
	"github.com/buke/ctxjs/internal/config"
)

func init() {
	factories["v8go"] = func(*config.Config) ctxjs.EngineFactory {
		return v8engine.NewFactory()
	}
}
