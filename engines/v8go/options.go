//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package v8engine

import "fmt"

// Option configures an Engine before its isolate is created.
type Option func(*Engine) error

// EngineOption holds specific configurations for the V8 engine.
type EngineOption struct {
	// GlueScript defines the helpers used to convert values.
	GlueScript string
	// Origin is the script name reported in evaluation errors.
	Origin string
}

// WithGlueScript overrides the script that defines the conversion helpers.
// The script must evaluate to an object with kind, keys, list, codes and
// bytes functions.
func WithGlueScript(script string) Option {
	return func(e *Engine) error {
		if script == "" {
			return fmt.Errorf("glue script cannot be empty")
		}
		e.Option.GlueScript = script
		return nil
	}
}

// WithOrigin sets the script name used for evaluated sources.
func WithOrigin(origin string) Option {
	return func(e *Engine) error {
		if origin == "" {
			return fmt.Errorf("origin cannot be empty")
		}
		e.Option.Origin = origin
		return nil
	}
}
