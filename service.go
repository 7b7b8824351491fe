// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ctxjs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Service exposes a Registry through a byte-buffer call boundary. Every
// argument and result is a byte slice; structured values travel as CBOR.
type Service struct {
	registry *Registry
	logger   *slog.Logger
	handlers map[string]handler
}

type handler struct {
	minArgs int
	maxArgs int
	call    func(ctx context.Context, s *Service, args [][]byte) ([]byte, error)
}

// NewService creates a service over registry. A nil logger uses the
// registry's logger.
func NewService(registry *Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = registry.logger
	}
	return &Service{
		registry: registry,
		logger:   logger,
		handlers: serviceHandlers,
	}
}

// Registry returns the registry behind the service.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Functions returns the names accepted by Call in sorted order.
func (s *Service) Functions() []string {
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes the boundary function named function with args.
func (s *Service) Call(ctx context.Context, function string, args ...[]byte) ([]byte, error) {
	requestID := uuid.NewString()
	start := time.Now()

	out, err := s.call(ctx, function, args)
	if s.logger != nil {
		if err != nil {
			s.logger.Debug("Service call failed",
				"request", requestID,
				"function", function,
				"kind", KindOf(err).String(),
				"duration", time.Since(start),
				"error", err)
		} else {
			s.logger.Debug("Service call completed",
				"request", requestID,
				"function", function,
				"duration", time.Since(start),
				"resultBytes", len(out))
		}
	}
	return out, err
}

func (s *Service) call(ctx context.Context, function string, args [][]byte) ([]byte, error) {
	h, ok := s.handlers[function]
	if !ok {
		return nil, Errorf(KindDecode, "unknown function %s", function)
	}
	if len(args) < h.minArgs || len(args) > h.maxArgs {
		if h.minArgs == h.maxArgs {
			return nil, Errorf(KindDecode, "%s: expected %d arguments, got %d", function, h.minArgs, len(args))
		}
		return nil, Errorf(KindDecode, "%s: expected %d to %d arguments, got %d", function, h.minArgs, h.maxArgs, len(args))
	}
	return h.call(ctx, s, args)
}

// argString decodes a UTF-8 string argument.
func argString(args [][]byte, i int) (string, error) {
	if !utf8.Valid(args[i]) {
		return "", Errorf(KindDecode, "argument %d is not valid UTF-8", i)
	}
	return string(args[i]), nil
}

// argFlag decodes a one-byte boolean argument.
func argFlag(args [][]byte, i int) (bool, error) {
	if len(args[i]) != 1 {
		return false, Errorf(KindDecode, "argument %d: flag must be exactly 1 byte, got %d", i, len(args[i]))
	}
	return args[i][0] != 0, nil
}

// argStrings decodes string arguments from positions.
func argStrings(args [][]byte, positions ...int) ([]string, error) {
	out := make([]string, len(positions))
	for j, i := range positions {
		str, err := argString(args, i)
		if err != nil {
			return nil, err
		}
		out[j] = str
	}
	return out, nil
}

func argRecord(args [][]byte, i int) (map[string]Value, error) {
	rec, err := DecodeRecord(args[i])
	if err != nil {
		return nil, NewError(KindDecode, fmt.Sprintf("argument %d", i), err)
	}
	return rec, nil
}

func argList(args [][]byte, i int) ([]Value, error) {
	list, err := DecodeList(args[i])
	if err != nil {
		return nil, NewError(KindDecode, fmt.Sprintf("argument %d", i), err)
	}
	return list, nil
}

// lookup resolves the context named by the first argument.
func (s *Service) lookup(args [][]byte) (*Context, error) {
	name, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	return s.registry.Get(name)
}

func encodeResult(v Value, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return Encode(v)
}

var serviceHandlers map[string]handler

func init() {
	serviceHandlers = map[string]handler{
		"create_context":          {1, 2, callCreateContext},
		"eval":                    {2, 2, callEval},
		"eval_format":             {4, 4, callEvalFormat},
		"define_vars":             {3, 3, callDefineVars},
		"call_function":           {4, 4, callFunction},
		"compile_module_bytecode": {4, 4, callCompileModuleBytecode},
		"load_module_bytecode":    {3, 3, callLoadModuleBytecode},
		"load_module_js":          {3, 3, callLoadModuleJs},
		"call_module_function":    {5, 5, callModuleFunction},
		"get_module_properties":   {2, 2, callGetModuleProperties},
		"get_module_export":       {3, 3, callGetModuleExport},
		"run_program":             {2, 2, callRunProgram},
		"close_context":           {1, 1, callCloseContext},
		"reset_context":           {1, 1, callResetContext},
		"list_contexts":           {0, 0, callListContexts},
	}
}

// create_context(name[, program]) registers the context only if program succeeds.
func callCreateContext(ctx context.Context, s *Service, args [][]byte) ([]byte, error) {
	name, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	if len(args) < 2 || len(args[1]) == 0 {
		_, err := s.registry.Create(name)
		return nil, err
	}
	program, err := DecodeProgram(args[1])
	if err != nil {
		return nil, err
	}
	_, _, err = s.registry.CreateWith(ctx, name, program)
	return nil, err
}

func callEval(ctx context.Context, s *Service, args [][]byte) ([]byte, error) {
	c, err := s.lookup(args)
	if err != nil {
		return nil, err
	}
	source, err := argString(args, 1)
	if err != nil {
		return nil, err
	}
	return encodeResult(c.Eval(ctx, source))
}

func callEvalFormat(ctx context.Context, s *Service, args [][]byte) ([]byte, error) {
	c, err := s.lookup(args)
	if err != nil {
		return nil, err
	}
	strs, err := argStrings(args, 1, 3)
	if err != nil {
		return nil, err
	}
	vars, err := argRecord(args, 2)
	if err != nil {
		return nil, err
	}
	return encodeResult(c.EvalTemplated(ctx, strs[0], vars, strs[1]))
}

func callDefineVars(ctx context.Context, s *Service, args [][]byte) ([]byte, error) {
	c, err := s.lookup(args)
	if err != nil {
		return nil, err
	}
	vars, err := argRecord(args, 1)
	if err != nil {
		return nil, err
	}
	typeField, err := argString(args, 2)
	if err != nil {
		return nil, err
	}
	return nil, c.DefineVariables(ctx, vars, typeField)
}

func callFunction(ctx context.Context, s *Service, args [][]byte) ([]byte, error) {
	c, err := s.lookup(args)
	if err != nil {
		return nil, err
	}
	strs, err := argStrings(args, 1, 3)
	if err != nil {
		return nil, err
	}
	list, err := argList(args, 2)
	if err != nil {
		return nil, err
	}
	return encodeResult(c.CallFunction(ctx, strs[0], list, strs[1]))
}

func callCompileModuleBytecode(ctx context.Context, s *Service, args [][]byte) ([]byte, error) {
	c, err := s.lookup(args)
	if err != nil {
		return nil, err
	}
	strs, err := argStrings(args, 1, 2)
	if err != nil {
		return nil, err
	}
	compress, err := argFlag(args, 3)
	if err != nil {
		return nil, err
	}
	return c.CompileModule(ctx, strs[0], strs[1], compress)
}

func callLoadModuleBytecode(ctx context.Context, s *Service, args [][]byte) ([]byte, error) {
	c, err := s.lookup(args)
	if err != nil {
		return nil, err
	}
	compressed, err := argFlag(args, 2)
	if err != nil {
		return nil, err
	}
	return nil, c.LoadModuleBytecode(ctx, args[1], compressed)
}

func callLoadModuleJs(ctx context.Context, s *Service, args [][]byte) ([]byte, error) {
	c, err := s.lookup(args)
	if err != nil {
		return nil, err
	}
	strs, err := argStrings(args, 1, 2)
	if err != nil {
		return nil, err
	}
	return nil, c.LoadModuleSource(ctx, strs[0], strs[1])
}

func callModuleFunction(ctx context.Context, s *Service, args [][]byte) ([]byte, error) {
	c, err := s.lookup(args)
	if err != nil {
		return nil, err
	}
	strs, err := argStrings(args, 1, 2, 4)
	if err != nil {
		return nil, err
	}
	list, err := argList(args, 3)
	if err != nil {
		return nil, err
	}
	return encodeResult(c.CallModuleFunction(ctx, strs[0], strs[1], list, strs[2]))
}

func callGetModuleProperties(ctx context.Context, s *Service, args [][]byte) ([]byte, error) {
	c, err := s.lookup(args)
	if err != nil {
		return nil, err
	}
	module, err := argString(args, 1)
	if err != nil {
		return nil, err
	}
	names, err := c.ModuleExports(ctx, module)
	if err != nil {
		return nil, err
	}
	return EncodeStrings(names)
}

func callGetModuleExport(ctx context.Context, s *Service, args [][]byte) ([]byte, error) {
	c, err := s.lookup(args)
	if err != nil {
		return nil, err
	}
	strs, err := argStrings(args, 1, 2)
	if err != nil {
		return nil, err
	}
	return encodeResult(c.ModuleExport(ctx, strs[0], strs[1]))
}

func callRunProgram(ctx context.Context, s *Service, args [][]byte) ([]byte, error) {
	c, err := s.lookup(args)
	if err != nil {
		return nil, err
	}
	program, err := DecodeProgram(args[1])
	if err != nil {
		return nil, err
	}
	results, err := c.Run(ctx, program)
	if err != nil {
		return nil, err
	}
	return Encode(List(results...))
}

func callCloseContext(_ context.Context, s *Service, args [][]byte) ([]byte, error) {
	name, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	return nil, s.registry.Close(name)
}

func callResetContext(ctx context.Context, s *Service, args [][]byte) ([]byte, error) {
	name, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	return nil, s.registry.Reset(ctx, name)
}

func callListContexts(_ context.Context, s *Service, _ [][]byte) ([]byte, error) {
	return EncodeStrings(s.registry.Names())
}
