// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ctxjs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Type identifies the variant held by a Value.
type Type uint8

const (
	TypeUninitialized Type = iota // Marker for a binding that was never initialized
	TypeUndefined
	TypeNull
	TypeBool
	TypeInt // 32-bit signed integer
	TypeFloat
	TypeString
	TypeList
	TypeRecord
	TypeBytes
)

// String returns the string representation of a Type.
func (t Type) String() string {
	switch t {
	case TypeUninitialized:
		return "uninitialized"
	case TypeUndefined:
		return "undefined"
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeList:
		return "list"
	case TypeRecord:
		return "record"
	case TypeBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// MaxNestingDepth bounds the recursion of every conversion. Deeper values,
// including cyclic native objects, fail instead of exhausting the stack.
const MaxNestingDepth = 128

// Value is the wire representation of a script value. The zero Value is
// uninitialized.
type Value struct {
	typ    Type
	b      bool
	i      int32
	f      float64
	s      string
	items  []Value
	fields map[string]Value
	data   []byte
}

// Uninitialized returns the zero value, which renders like null.
func Uninitialized() Value { return Value{typ: TypeUninitialized} }
// Undefined returns the script undefined value.
func Undefined() Value { return Value{typ: TypeUndefined} }
// Null returns the script null value.
func Null() Value { return Value{typ: TypeNull} }
// Bool returns a boolean value.
func Bool(b bool) Value { return Value{typ: TypeBool, b: b} }
// Int returns a 32-bit integer value.
func Int(i int32) Value { return Value{typ: TypeInt, i: i} }
// Float returns a float value. It never narrows to Int; see Number.
func Float(f float64) Value {
	return Value{typ: TypeFloat, f: f}
}

// String returns a text value.
func String(s string) Value { return Value{typ: TypeString, s: s} }

// List returns a list holding items in order.
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{typ: TypeList, items: items}
}

// Record returns a record over fields. The map is not copied.
func Record(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{typ: TypeRecord, fields: fields}
}

// Bytes returns a byte buffer value. The slice is not copied.
func Bytes(b []byte) Value {
	if b == nil {
		b = []byte{}
	}
	return Value{typ: TypeBytes, data: b}
}

// Number classifies a native number: integral values within int32 range
// (other than negative zero) become Int, everything else Float.
func Number(f float64) Value {
	if f >= math.MinInt32 && f <= math.MaxInt32 && f == math.Trunc(f) && !(f == 0 && math.Signbit(f)) {
		return Int(int32(f))
	}
	return Float(f)
}

// Number64 classifies a native integer: values outside int32 range
// become Float.
func Number64(n int64) Value {
	if n >= math.MinInt32 && n <= math.MaxInt32 {
		return Int(int32(n))
	}
	return Float(float64(n))
}

// Type reports the variant held by v.
func (v Value) Type() Type { return v.typ }

// IsNil reports whether v is uninitialized, undefined or null.
func (v Value) IsNil() bool {
	return v.typ == TypeUninitialized || v.typ == TypeUndefined || v.typ == TypeNull
}

// Bool returns the payload of a boolean. Accessors return the zero value
// for any other variant.
func (v Value) Bool() bool { return v.b }
// Int returns the payload of an integer.
func (v Value) Int() int32 { return v.i }
// Float returns the payload of a float.
func (v Value) Float() float64 { return v.f }
// Text returns the payload of a string.
func (v Value) Text() string { return v.s }
// Items returns the elements of a list.
func (v Value) Items() []Value { return v.items }
// Fields returns the fields of a record.
func (v Value) Fields() map[string]Value { return v.fields }
// Data returns the contents of a byte buffer.
func (v Value) Data() []byte { return v.data }

// Field returns the record entry for key.
func (v Value) Field(key string) (Value, bool) {
	if v.typ != TypeRecord {
		return Value{}, false
	}
	f, ok := v.fields[key]
	return f, ok
}

// Keys returns the record keys in sorted order.
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.fields))
	for k := range v.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of list items, record entries, bytes or string bytes.
func (v Value) Len() int {
	switch v.typ {
	case TypeList:
		return len(v.items)
	case TypeRecord:
		return len(v.fields)
	case TypeBytes:
		return len(v.data)
	case TypeString:
		return len(v.s)
	}
	return 0
}

// Equal reports deep equality. Byte buffers compare byte-for-byte and NaN
// equals NaN.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeBool:
		return v.b == o.b
	case TypeInt:
		return v.i == o.i
	case TypeFloat:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case TypeString:
		return v.s == o.s
	case TypeBytes:
		return bytes.Equal(v.data, o.data)
	case TypeList:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	case TypeRecord:
		if len(v.fields) != len(o.fields) {
			return false
		}
		for k, f := range v.fields {
			of, ok := o.fields[k]
			if !ok || !f.Equal(of) {
				return false
			}
		}
		return true
	}
	return true
}

// String returns a debug rendering, JSON-like with sorted keys.
func (v Value) String() string {
	var sb strings.Builder
	v.debug(&sb)
	return sb.String()
}

func (v Value) debug(sb *strings.Builder) {
	switch v.typ {
	case TypeUninitialized, TypeUndefined, TypeNull:
		sb.WriteString(v.typ.String())
	case TypeBool:
		sb.WriteString(strconv.FormatBool(v.b))
	case TypeInt:
		sb.WriteString(strconv.FormatInt(int64(v.i), 10))
	case TypeFloat:
		sb.WriteString(formatFloat(v.f))
	case TypeString:
		sb.WriteString(strconv.Quote(v.s))
	case TypeBytes:
		fmt.Fprintf(sb, "bytes(%x)", v.data)
	case TypeList:
		sb.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				sb.WriteString(", ")
			}
			item.debug(sb)
		}
		sb.WriteByte(']')
	case TypeRecord:
		sb.WriteByte('{')
		for i, k := range v.Keys() {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteString(": ")
			v.fields[k].debug(sb)
		}
		sb.WriteByte('}')
	}
}

// FromGo converts plain Go data into a Value. Supported inputs are nil,
// Value, bool, integer and float kinds, string, []byte, slices and maps
// with string keys of supported elements.
func FromGo(x any) (Value, error) {
	return fromGo(x, 0)
}

func fromGo(x any, depth int) (Value, error) {
	if depth > MaxNestingDepth {
		return Value{}, Errorf(KindBridge, "value nesting exceeds %d levels", MaxNestingDepth)
	}
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case []byte:
		return Bytes(t), nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return Number64(n), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, Errorf(KindBridge, "invalid number %q", t.String())
		}
		return Float(f), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Number64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u <= math.MaxInt32 {
			return Int(int32(u)), nil
		}
		return Float(float64(u)), nil
	case reflect.Slice, reflect.Array:
		items := make([]Value, rv.Len())
		for i := range items {
			item, err := fromGo(rv.Index(i).Interface(), depth+1)
			if err != nil {
				return Value{}, err
			}
			items[i] = item
		}
		return List(items...), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}, Errorf(KindBridge, "unsupported map key type %s", rv.Type().Key())
		}
		fields := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			f, err := fromGo(iter.Value().Interface(), depth+1)
			if err != nil {
				return Value{}, err
			}
			fields[iter.Key().String()] = f
		}
		return Record(fields), nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null(), nil
		}
		return fromGo(rv.Elem().Interface(), depth+1)
	}
	return Value{}, Errorf(KindBridge, "unsupported Go type %T", x)
}

// ToGo converts v into plain Go data: nil, bool, int32, float64, string,
// []byte, []any or map[string]any.
func (v Value) ToGo() any {
	switch v.typ {
	case TypeBool:
		return v.b
	case TypeInt:
		return v.i
	case TypeFloat:
		return v.f
	case TypeString:
		return v.s
	case TypeBytes:
		return v.data
	case TypeList:
		out := make([]any, len(v.items))
		for i, item := range v.items {
			out[i] = item.ToGo()
		}
		return out
	case TypeRecord:
		out := make(map[string]any, len(v.fields))
		for k, f := range v.fields {
			out[k] = f.ToGo()
		}
		return out
	}
	return nil
}
