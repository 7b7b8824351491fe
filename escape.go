// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ctxjs

import (
	"encoding/json"
	"errors"
)

// EscapeKind is the reinterpretation requested by an escape directive.
type EscapeKind int

const (
	EscapeEval EscapeKind = iota + 1 // Payload is source text to evaluate
	EscapeJSON                       // Payload is raw JSON text
)

const (
	escapeTypeEval = "eval"
	escapeTypeJSON = "json"
	escapeValueKey = "value"
)

// String returns the directive name as it appears on the wire.
func (k EscapeKind) String() string {
	switch k {
	case EscapeEval:
		return escapeTypeEval
	case EscapeJSON:
		return escapeTypeJSON
	default:
		return "unknown"
	}
}

// Escape is a decoded escape directive.
type Escape struct {
	Kind   EscapeKind
	Source string // Source text for EscapeEval, JSON text for EscapeJSON
}

var (
	errTypeFieldNotString = errors.New("type field needs to be a string")
	errEvalNotString      = errors.New("value needs to be a string")
	errJSONNotBytes       = errors.New("value needs to be a byte buffer")
	errJSONInvalid        = errors.New("json parse error")
)

// DecodeEscape inspects v for an escape directive keyed by typeField. It
// returns ok=false for anything that is not a record carrying typeField; an
// empty typeField disables directives. Malformed directives return a plain
// error that callers classify.
func DecodeEscape(v Value, typeField string) (Escape, bool, error) {
	if typeField == "" || v.typ != TypeRecord {
		return Escape{}, false, nil
	}
	t, ok := v.fields[typeField]
	if !ok {
		return Escape{}, false, nil
	}
	if t.typ != TypeString {
		return Escape{}, true, errTypeFieldNotString
	}

	payload := v.fields[escapeValueKey]
	switch t.s {
	case escapeTypeEval:
		if payload.typ != TypeString {
			return Escape{}, true, errEvalNotString
		}
		return Escape{Kind: EscapeEval, Source: payload.s}, true, nil
	case escapeTypeJSON:
		if payload.typ != TypeBytes {
			return Escape{}, true, errJSONNotBytes
		}
		if !json.Valid(payload.data) {
			return Escape{}, true, errJSONInvalid
		}
		return Escape{Kind: EscapeJSON, Source: string(payload.data)}, true, nil
	default:
		return Escape{}, true, errors.New("invalid type:" + t.s)
	}
}

// EscapeDirective builds a record that DecodeEscape recognizes.
func EscapeDirective(typeField string, kind EscapeKind, payload string) Value {
	fields := map[string]Value{typeField: String(kind.String())}
	if kind == EscapeJSON {
		fields[escapeValueKey] = Bytes([]byte(payload))
	} else {
		fields[escapeValueKey] = String(payload)
	}
	return Record(fields)
}
