// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ctxjs

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure crossing the call boundary.
type ErrorKind int

const (
	KindUnknown     ErrorKind = iota // Not produced by this package
	KindDecode                       // Malformed wire bytes, bad UTF-8, wrong-length flag
	KindRegistry                     // Context not found, construction failure
	KindBridge                       // Conversion to or from native values failed
	KindEngine                       // Evaluation exception, import failure, bytecode rejected
	KindRender                       // Invalid source literal or template
	KindTimeout                      // Deadline expired before the operation completed
	KindUnsupported                  // Capability not provided by the engine
)

// String returns the string representation of an ErrorKind.
func (k ErrorKind) String() string {
	switch k {
	case KindDecode:
		return "decode"
	case KindRegistry:
		return "registry"
	case KindBridge:
		return "bridge"
	case KindEngine:
		return "engine"
	case KindRender:
		return "render"
	case KindTimeout:
		return "timeout"
	case KindUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Error is a classified error. Msg describes the failed step and Err, when
// present, carries the underlying cause (for engines, the engine's own text).
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

// NewError creates an Error of the given kind.
func NewError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Errorf creates an Error of the given kind without an underlying cause.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error found in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Unrepresentable reports a native value that has no Wire Value form.
func Unrepresentable(typeName string) *Error {
	return Errorf(KindBridge, "unrepresentable value type: %s", typeName)
}

// ErrUnsupported is the cause attached to KindUnsupported errors.
var ErrUnsupported = errors.New("operation not supported by this engine")

// Unsupported reports a capability the engine does not provide.
func Unsupported(engine, capability string) *Error {
	return NewError(KindUnsupported, fmt.Sprintf("%s: %s", engine, capability), ErrUnsupported)
}

// ProgramError reports the operation that stopped a program.
type ProgramError struct {
	Index  int    // Position of the failing operation
	Method string // Wire method name of the failing operation
	Err    error  // Error returned by the operation
}

func (e *ProgramError) Error() string {
	return fmt.Sprintf("operation %d (%s): %v", e.Index, e.Method, e.Err)
}

func (e *ProgramError) Unwrap() error {
	return e.Err
}
