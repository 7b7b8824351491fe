// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package config loads the YAML configuration of the ctxjs command.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/buke/ctxjs"
	quickjsengine "github.com/buke/ctxjs/engines/quickjs-go"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	// Engine names the JS engine: quickjs, goja or v8go.
	Engine string `yaml:"engine"`

	Registry RegistryConfig             `yaml:"registry"`
	QuickJS  quickjsengine.EngineOption `yaml:"quickjs"`
	Goja     GojaConfig                 `yaml:"goja"`
	Logging  LoggingConfig              `yaml:"logging"`
}

// RegistryConfig configures the context registry. Durations use
// time.ParseDuration syntax.
type RegistryConfig struct {
	Mode           string `yaml:"mode"` // named, single
	QueueSize      uint32 `yaml:"queue_size"`
	EnqueueTimeout string `yaml:"enqueue_timeout"`
	ExecuteTimeout string `yaml:"execute_timeout"`
	ContextTTL     string `yaml:"context_ttl"` // empty keeps contexts forever
}

// GojaConfig configures the goja engine.
type GojaConfig struct {
	MaxCallStackSize int  `yaml:"max_call_stack_size"`
	EnableConsole    bool `yaml:"enable_console"`
	EnableRequire    bool `yaml:"enable_require"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ValidEngines lists the engine names accepted in Engine.
var ValidEngines = []string{"quickjs", "goja", "v8go"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Engine: "quickjs",
		Registry: RegistryConfig{
			Mode:           "named",
			QueueSize:      64,
			EnqueueTimeout: "30s",
			ExecuteTimeout: "60s",
		},
		QuickJS: quickjsengine.EngineOption{
			GCThreshold:        -1,
			Strip:              1,
			CanBlock:           true,
			EnableModuleImport: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if engine := os.Getenv("CTXJS_ENGINE"); engine != "" {
		c.Engine = engine
	}
	if level := os.Getenv("CTXJS_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Validate checks names and durations.
func (c *Config) Validate() error {
	valid := false
	for _, e := range ValidEngines {
		if c.Engine == e {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid engine: %s (valid: %v)", c.Engine, ValidEngines)
	}
	if _, err := ctxjs.ParseMode(c.Registry.Mode); err != nil {
		return err
	}
	if c.Registry.QueueSize == 0 {
		return fmt.Errorf("registry queue_size must be positive")
	}
	for name, s := range map[string]string{
		"enqueue_timeout": c.Registry.EnqueueTimeout,
		"execute_timeout": c.Registry.ExecuteTimeout,
		"context_ttl":     c.Registry.ContextTTL,
	} {
		if _, err := parseDuration(s); err != nil {
			return fmt.Errorf("invalid registry %s: %w", name, err)
		}
	}
	if _, err := c.Logging.level(); err != nil {
		return err
	}
	if f := c.Logging.Format; f != "text" && f != "json" {
		return fmt.Errorf("invalid log format: %s (valid: [text json])", f)
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

// RegistryOptions converts the registry section into registry options.
// The engine factory is supplied by the caller.
func (c *Config) RegistryOptions() []func(*ctxjs.Registry) {
	mode, _ := ctxjs.ParseMode(c.Registry.Mode)
	enqueue, _ := parseDuration(c.Registry.EnqueueTimeout)
	execute, _ := parseDuration(c.Registry.ExecuteTimeout)
	opts := []func(*ctxjs.Registry){
		ctxjs.WithMode(mode),
		ctxjs.WithQueueSize(c.Registry.QueueSize),
		ctxjs.WithEnqueueTimeout(enqueue),
		ctxjs.WithExecuteTimeout(execute),
	}
	if ttl, _ := parseDuration(c.Registry.ContextTTL); ttl > 0 {
		opts = append(opts, ctxjs.WithContextTTL(ttl))
	}
	return opts
}

func (l LoggingConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("invalid log level: %s", l.Level)
	}
	return level, nil
}

// NewLogger builds a logger writing to w.
func (l LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := l.level()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
