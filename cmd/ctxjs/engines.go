// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/buke/ctxjs"
	gojaengine "github.com/buke/ctxjs/engines/goja"
	quickjsengine "github.com/buke/ctxjs/engines/quickjs-go"
	"github.com/buke/ctxjs/internal/config"
)

// factories maps engine names to factory builders.
var factories = map[string]func(cfg *config.Config) ctxjs.EngineFactory{
	"quickjs": func(cfg *config.Config) ctxjs.EngineFactory {
		return quickjsengine.NewFactory(cfg.QuickJS.Options()...)
	},
	"goja": func(cfg *config.Config) ctxjs.EngineFactory {
		var opts []gojaengine.Option
		if cfg.Goja.MaxCallStackSize > 0 {
			opts = append(opts, gojaengine.WithMaxCallStackSize(cfg.Goja.MaxCallStackSize))
		}
		if cfg.Goja.EnableConsole {
			opts = append(opts, gojaengine.WithEnableConsole())
		}
		if cfg.Goja.EnableRequire {
			opts = append(opts, gojaengine.WithRequire())
		}
		return gojaengine.NewFactory(opts...)
	},
}

func engineFactory(cfg *config.Config) (ctxjs.EngineFactory, error) {
	build, ok := factories[cfg.Engine]
	if !ok {
		return nil, fmt.Errorf("engine %s is not available on this platform", cfg.Engine)
	}
	return build(cfg), nil
}
