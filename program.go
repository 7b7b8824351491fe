// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ctxjs

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Operation is one step of a Program.
type Operation interface {
	// Method returns the wire name of the operation.
	Method() string

	apply(ctx context.Context, e Engine) (Value, error)
	args() Value
}

// Eval evaluates Source.
type Eval struct {
	Source string
}

// EvalTemplated renders Args into the placeholders of Source and evaluates it.
type EvalTemplated struct {
	Source    string
	Args      map[string]Value
	TypeField string
}

// DefineVariables declares Vars as global let bindings.
type DefineVariables struct {
	Vars      map[string]Value
	TypeField string
}

// CallFunction calls the global function Name.
type CallFunction struct {
	Name      string
	Args      []Value
	TypeField string
}

// LoadModuleBytecode loads a compiled module.
type LoadModuleBytecode struct {
	Bytecode   []byte
	Compressed bool
}

// LoadModuleSource declares and evaluates a module from source.
type LoadModuleSource struct {
	Name   string
	Source string
}

// CallExportedFunction calls the function Function exported by Module.
type CallExportedFunction struct {
	Module    string
	Function  string
	Args      []Value
	TypeField string
}

const (
	methodEval               = "Eval"
	methodEvalFormat         = "EvalFormat"
	methodDefineVars         = "DefineVars"
	methodCallFunction       = "CallFunction"
	methodLoadModuleBytecode = "LoadModuleBytecode"
	methodLoadModuleJs       = "LoadModuleJs"
	methodCallModuleFunction = "CallModuleFunction"
)

func (Eval) Method() string                 { return methodEval }
func (EvalTemplated) Method() string        { return methodEvalFormat }
func (DefineVariables) Method() string      { return methodDefineVars }
func (CallFunction) Method() string         { return methodCallFunction }
func (LoadModuleBytecode) Method() string   { return methodLoadModuleBytecode }
func (LoadModuleSource) Method() string     { return methodLoadModuleJs }
func (CallExportedFunction) Method() string { return methodCallModuleFunction }

func (op Eval) apply(ctx context.Context, e Engine) (Value, error) {
	return e.Eval(ctx, op.Source)
}

func (op EvalTemplated) apply(ctx context.Context, e Engine) (Value, error) {
	return evalTemplated(ctx, e, op.Source, op.Args, op.TypeField)
}

func (op DefineVariables) apply(ctx context.Context, e Engine) (Value, error) {
	return Undefined(), defineVariables(ctx, e, op.Vars, op.TypeField)
}

func (op CallFunction) apply(ctx context.Context, e Engine) (Value, error) {
	return e.CallFunction(ctx, op.Name, op.Args, op.TypeField)
}

func (op LoadModuleBytecode) apply(ctx context.Context, e Engine) (Value, error) {
	return Undefined(), loadModuleBytecode(ctx, e, op.Bytecode, op.Compressed)
}

func (op LoadModuleSource) apply(ctx context.Context, e Engine) (Value, error) {
	return Undefined(), e.LoadModule(ctx, op.Name, op.Source)
}

func (op CallExportedFunction) apply(ctx context.Context, e Engine) (Value, error) {
	return e.CallModuleFunction(ctx, op.Module, op.Function, op.Args, op.TypeField)
}

func (op Eval) args() Value { return String(op.Source) }

func (op EvalTemplated) args() Value {
	return List(String(op.Source), Record(op.Args), String(op.TypeField))
}

func (op DefineVariables) args() Value {
	return List(Record(op.Vars), String(op.TypeField))
}

func (op CallFunction) args() Value {
	return List(String(op.Name), List(op.Args...), String(op.TypeField))
}

func (op LoadModuleBytecode) args() Value {
	if !op.Compressed {
		return Bytes(op.Bytecode)
	}
	return List(Bytes(op.Bytecode), Bool(true))
}

func (op LoadModuleSource) args() Value {
	return List(String(op.Name), String(op.Source))
}

func (op CallExportedFunction) args() Value {
	return List(String(op.Module), String(op.Function), List(op.Args...), String(op.TypeField))
}

// Program is an ordered list of operations applied to one context. Execution
// stops at the first failing operation; earlier side effects are kept.
type Program []Operation

// programState tracks a Program run.
type programState int

const (
	programIdle programState = iota
	programRunning
	programCompleted
	programFailed
)

// String returns the string representation of a programState.
func (s programState) String() string {
	switch s {
	case programIdle:
		return "idle"
	case programRunning:
		return "running"
	case programCompleted:
		return "completed"
	case programFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// execute runs the program on e. It returns the results of the operations
// that completed and, on failure, a *ProgramError.
func (p Program) execute(ctx context.Context, e Engine, logger *slog.Logger, name string) ([]Value, error) {
	state := programIdle
	transition := func(next programState, attrs ...any) {
		if logger != nil {
			logger.Debug("Program state changed",
				append([]any{"context", name, "from", state.String(), "to", next.String()}, attrs...)...)
		}
		state = next
	}

	start := time.Now()
	transition(programRunning, "operations", len(p))

	results := make([]Value, 0, len(p))
	for i, op := range p {
		if op == nil {
			err := &ProgramError{Index: i, Method: "nil", Err: Errorf(KindDecode, "nil operation")}
			transition(programFailed, "index", i, "error", err)
			return results, err
		}
		v, err := op.apply(ctx, e)
		if err != nil {
			perr := &ProgramError{Index: i, Method: op.Method(), Err: err}
			transition(programFailed, "index", i, "error", err)
			return results, perr
		}
		results = append(results, v)
	}

	transition(programCompleted, "duration", time.Since(start))
	return results, nil
}

// EncodeProgram serializes p in the wire format read by DecodeProgram.
func EncodeProgram(p Program) ([]byte, error) {
	items := make([]Value, len(p))
	for i, op := range p {
		if op == nil {
			return nil, Errorf(KindDecode, "operation %d is nil", i)
		}
		items[i] = Record(map[string]Value{
			"method": String(op.Method()),
			"args":   op.args(),
		})
	}
	return Encode(List(items...))
}

// DecodeProgram parses a CBOR list of {"method": name, "args": args} records.
func DecodeProgram(data []byte) (Program, error) {
	items, err := DecodeList(data)
	if err != nil {
		return nil, err
	}
	p := make(Program, len(items))
	for i, item := range items {
		op, err := decodeOperation(item)
		if err != nil {
			return nil, NewError(KindDecode, fmt.Sprintf("invalid operation %d", i), err)
		}
		p[i] = op
	}
	return p, nil
}

// operationDecoders builds an Operation from the args of each method.
var operationDecoders = map[string]func(args Value) (Operation, error){
	methodEval: func(args Value) (Operation, error) {
		if args.typ != TypeString {
			return nil, argsError(methodEval, "a string")
		}
		return Eval{Source: args.s}, nil
	},
	methodEvalFormat: func(args Value) (Operation, error) {
		if !argsShape(args, TypeString, TypeRecord, TypeString) {
			return nil, argsError(methodEvalFormat, "[source, record, typeField]")
		}
		return EvalTemplated{Source: args.items[0].s, Args: args.items[1].fields, TypeField: args.items[2].s}, nil
	},
	methodDefineVars: func(args Value) (Operation, error) {
		if !argsShape(args, TypeRecord, TypeString) {
			return nil, argsError(methodDefineVars, "[record, typeField]")
		}
		return DefineVariables{Vars: args.items[0].fields, TypeField: args.items[1].s}, nil
	},
	methodCallFunction: func(args Value) (Operation, error) {
		if !argsShape(args, TypeString, TypeList, TypeString) {
			return nil, argsError(methodCallFunction, "[name, list, typeField]")
		}
		return CallFunction{Name: args.items[0].s, Args: args.items[1].items, TypeField: args.items[2].s}, nil
	},
	methodLoadModuleBytecode: func(args Value) (Operation, error) {
		if args.typ == TypeBytes {
			return LoadModuleBytecode{Bytecode: args.data}, nil
		}
		if !argsShape(args, TypeBytes, TypeBool) {
			return nil, argsError(methodLoadModuleBytecode, "bytes or [bytes, compressed]")
		}
		return LoadModuleBytecode{Bytecode: args.items[0].data, Compressed: args.items[1].b}, nil
	},
	methodLoadModuleJs: func(args Value) (Operation, error) {
		if !argsShape(args, TypeString, TypeString) {
			return nil, argsError(methodLoadModuleJs, "[name, source]")
		}
		return LoadModuleSource{Name: args.items[0].s, Source: args.items[1].s}, nil
	},
	methodCallModuleFunction: func(args Value) (Operation, error) {
		if !argsShape(args, TypeString, TypeString, TypeList, TypeString) {
			return nil, argsError(methodCallModuleFunction, "[module, function, list, typeField]")
		}
		return CallExportedFunction{
			Module:    args.items[0].s,
			Function:  args.items[1].s,
			Args:      args.items[2].items,
			TypeField: args.items[3].s,
		}, nil
	},
}

func decodeOperation(v Value) (Operation, error) {
	method, ok := v.Field("method")
	if !ok || method.typ != TypeString {
		return nil, Errorf(KindDecode, "operation needs a string method")
	}
	decode, ok := operationDecoders[method.s]
	if !ok {
		return nil, Errorf(KindDecode, "unknown method %s", method.s)
	}
	args, _ := v.Field("args")
	return decode(args)
}

func argsShape(args Value, types ...Type) bool {
	if args.typ != TypeList || len(args.items) != len(types) {
		return false
	}
	for i, t := range types {
		if args.items[i].typ != t {
			return false
		}
	}
	return true
}

func argsError(method, want string) error {
	return Errorf(KindDecode, "%s args must be %s", method, want)
}
