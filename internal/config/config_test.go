// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/buke/ctxjs"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ctxjs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "quickjs", cfg.Engine)
	require.Equal(t, uint32(64), cfg.Registry.QueueSize)
	require.True(t, cfg.QuickJS.CanBlock)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CTXJS_ENGINE", "")
	t.Setenv("CTXJS_LOG_LEVEL", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestLoad(t *testing.T) {
	t.Setenv("CTXJS_ENGINE", "")
	t.Setenv("CTXJS_LOG_LEVEL", "")

	path := writeConfig(t, `
engine: goja
registry:
  mode: single
  queue_size: 8
  execute_timeout: 250ms
  context_ttl: 5m
quickjs:
  memory_limit: 1048576
  strip: 2
goja:
  enable_console: true
logging:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "goja", cfg.Engine)
	require.Equal(t, "single", cfg.Registry.Mode)
	require.Equal(t, uint32(8), cfg.Registry.QueueSize)
	require.Equal(t, "30s", cfg.Registry.EnqueueTimeout)
	require.Equal(t, uint64(1048576), cfg.QuickJS.MemoryLimit)
	require.Equal(t, 2, cfg.QuickJS.Strip)
	require.True(t, cfg.QuickJS.CanBlock)
	require.True(t, cfg.Goja.EnableConsole)
	require.Equal(t, "json", cfg.Logging.Format)
	require.Len(t, cfg.RegistryOptions(), 5)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CTXJS_ENGINE", "v8go")
	t.Setenv("CTXJS_LOG_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, "engine: goja\n"))
	require.NoError(t, err)
	require.Equal(t, "v8go", cfg.Engine)
	require.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv("CTXJS_ENGINE", "")
	t.Setenv("CTXJS_LOG_LEVEL", "")

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"parse", "engine: [", "failed to parse config"},
		{"engine", "engine: spidermonkey", "invalid engine: spidermonkey"},
		{"mode", "registry:\n  mode: pooled", "pooled"},
		{"queue", "registry:\n  queue_size: 0", "queue_size must be positive"},
		{"duration", "registry:\n  execute_timeout: soon", "invalid registry execute_timeout"},
		{"negative", "registry:\n  context_ttl: -1s", "negative duration"},
		{"level", "logging:\n  level: loud", "invalid log level: loud"},
		{"format", "logging:\n  format: xml", "invalid log format: xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestRegistryOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Registry.Mode = "single"
	opts := append([]func(*ctxjs.Registry){ctxjs.WithEngine(func() (ctxjs.Engine, error) {
		return nil, os.ErrInvalid
	})}, cfg.RegistryOptions()...)

	registry, err := ctxjs.NewRegistry(opts...)
	require.NoError(t, err)
	defer registry.Stop()

	_, err = registry.Create("any")
	require.ErrorIs(t, err, os.ErrInvalid)
}

func TestLoggingConfig_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LoggingConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "context", "main")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"context":"main"`)

	buf.Reset()
	LoggingConfig{Level: "bogus", Format: "text"}.NewLogger(&buf).Info("fallback")
	require.Contains(t, buf.String(), "msg=fallback")
}
