// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Command ctxjs compiles module bytecode and runs programs against JS
// contexts.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/buke/ctxjs"
	"github.com/buke/ctxjs/internal/config"
	"github.com/spf13/cobra"
)

// app carries state shared by the subcommands.
type app struct {
	configPath string
	engine     string
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "ctxjs",
		Short:         "Run JavaScript programs in isolated contexts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if a.engine != "" {
				cfg.Engine = a.engine
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			a.cfg = cfg
			a.logger = cfg.Logging.NewLogger(cmd.ErrOrStderr())
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVarP(&a.engine, "engine", "e", "", "JS engine (overrides config)")

	root.AddCommand(newCompileCmd(a), newRunCmd(a))
	return root
}

// newRegistry builds a registry for the configured engine.
func (a *app) newRegistry() (*ctxjs.Registry, error) {
	factory, err := engineFactory(a.cfg)
	if err != nil {
		return nil, err
	}
	opts := append([]func(*ctxjs.Registry){
		ctxjs.WithEngine(factory),
		ctxjs.WithLogger(a.logger),
	}, a.cfg.RegistryOptions()...)
	return ctxjs.NewRegistry(opts...)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
