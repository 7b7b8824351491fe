// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/buke/ctxjs"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// programFile is the YAML form of a program.
type programFile struct {
	Context    string          `yaml:"context"`
	TypeField  string          `yaml:"type_field"`
	Operations []operationSpec `yaml:"operations"`
}

// operationSpec is one operation. Op selects which fields apply.
type operationSpec struct {
	Op         string         `yaml:"op"`
	Source     string         `yaml:"source"`
	Name       string         `yaml:"name"`
	Module     string         `yaml:"module"`
	Function   string         `yaml:"function"`
	Path       string         `yaml:"path"`
	Compressed bool           `yaml:"compressed"`
	Args       []any          `yaml:"args"`
	Vars       map[string]any `yaml:"vars"`
}

func loadProgram(path string) (string, ctxjs.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read program: %w", err)
	}
	var file programFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return "", nil, fmt.Errorf("failed to parse program: %w", err)
	}
	if file.Context == "" {
		file.Context = "main"
	}

	dir := filepath.Dir(path)
	program := make(ctxjs.Program, 0, len(file.Operations))
	for i, spec := range file.Operations {
		op, err := spec.operation(dir, file.TypeField)
		if err != nil {
			return "", nil, fmt.Errorf("operation %d: %w", i, err)
		}
		program = append(program, op)
	}
	return file.Context, program, nil
}

func (s operationSpec) operation(dir, typeField string) (ctxjs.Operation, error) {
	args, err := listOf(s.Args)
	if err != nil {
		return nil, err
	}
	vars, err := recordOf(s.Vars)
	if err != nil {
		return nil, err
	}

	switch s.Op {
	case "eval":
		return ctxjs.Eval{Source: s.Source}, nil
	case "eval_format":
		return ctxjs.EvalTemplated{Source: s.Source, Args: vars, TypeField: typeField}, nil
	case "define_vars":
		return ctxjs.DefineVariables{Vars: vars, TypeField: typeField}, nil
	case "call_function":
		return ctxjs.CallFunction{Name: s.Name, Args: args, TypeField: typeField}, nil
	case "load_module_js":
		return ctxjs.LoadModuleSource{Name: s.Name, Source: s.Source}, nil
	case "load_module_bytecode":
		path := s.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		bytecode, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read bytecode: %w", err)
		}
		return ctxjs.LoadModuleBytecode{Bytecode: bytecode, Compressed: s.Compressed}, nil
	case "call_module_function":
		return ctxjs.CallExportedFunction{Module: s.Module, Function: s.Function, Args: args, TypeField: typeField}, nil
	}
	return nil, fmt.Errorf("unknown op %q", s.Op)
}

func listOf(xs []any) ([]ctxjs.Value, error) {
	if len(xs) == 0 {
		return nil, nil
	}
	out := make([]ctxjs.Value, len(xs))
	for i, x := range xs {
		v, err := ctxjs.FromGo(x)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func recordOf(m map[string]any) (map[string]ctxjs.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[string]ctxjs.Value, len(m))
	for k, x := range m {
		v, err := ctxjs.FromGo(x)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func newRunCmd(a *app) *cobra.Command {
	var encodedPath string
	cmd := &cobra.Command{
		Use:   "run PROGRAM",
		Short: "Run a YAML program in a fresh context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, program, err := loadProgram(args[0])
			if err != nil {
				return err
			}

			registry, err := a.newRegistry()
			if err != nil {
				return err
			}
			defer registry.Stop()

			_, results, err := registry.CreateWith(cmd.Context(), name, program)
			for i, v := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "[%d] %s\n", i, v)
			}
			if err != nil {
				return err
			}

			if encodedPath != "" {
				data, err := ctxjs.Encode(ctxjs.List(results...))
				if err != nil {
					return err
				}
				if err := os.WriteFile(encodedPath, data, 0o644); err != nil {
					return fmt.Errorf("failed to write results: %w", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&encodedPath, "out", "o", "", "also write the encoded result list to this file")
	return cmd
}
