// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newCompileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "compile NAME INPUT OUTPUT [COMPRESS]",
		Short: "Compile an ES module to bytecode",
		Long: `Declares the module in INPUT under NAME without running it and writes
its bytecode to OUTPUT. COMPRESS set to "true" writes lz4 compressed bytecode.`,
		Args: cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, input, output := args[0], args[1], args[2]
			compress := len(args) == 4 && args[3] == "true"

			source, err := os.ReadFile(input)
			if err != nil {
				return fmt.Errorf("failed to read module: %w", err)
			}

			registry, err := a.newRegistry()
			if err != nil {
				return err
			}
			defer registry.Stop()

			c, err := registry.Create("compile")
			if err != nil {
				return err
			}
			bytecode, err := c.CompileModule(cmd.Context(), name, string(source), compress)
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, bytecode, 0o644); err != nil {
				return fmt.Errorf("failed to write bytecode: %w", err)
			}
			a.logger.Info("Module compiled",
				"module", name,
				"output", output,
				"bytes", len(bytecode),
				"compressed", compress)
			return nil
		},
	}
}
