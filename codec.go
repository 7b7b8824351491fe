// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ctxjs

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
)

// CBOR encodings that are written directly.
const (
	cborUninitialized = 0xe0 // simple value 0
	cborFalse         = 0xf4
	cborTrue          = 0xf5
	cborNull          = 0xf6
	cborUndefined     = 0xf7
	cborFloat16       = 0xf9
	cborFloat32       = 0xfa
	cborFloat64       = 0xfb
)

var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("ctxjs: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em

	dm, err := cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: MaxNestingDepth + 2,
		UTF8:            cbor.UTF8RejectInvalid,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("ctxjs: failed to create CBOR dec mode: %v", err))
	}
	cborDecMode = dm
}

// Encode serializes v to CBOR.
func Encode(v Value) ([]byte, error) {
	b, err := cborEncMode.Marshal(v)
	if err != nil {
		return nil, NewError(KindDecode, "failed to serialize value", err)
	}
	return b, nil
}

// Decode parses one CBOR data item into a Value. Trailing bytes are an error.
func Decode(data []byte) (Value, error) {
	var v Value
	if err := cborDecMode.Unmarshal(data, &v); err != nil {
		return Value{}, decodeError("failed to deserialize value", err)
	}
	return v, nil
}

// DecodeList parses a CBOR array of values.
func DecodeList(data []byte) ([]Value, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if v.typ != TypeList {
		return nil, Errorf(KindDecode, "expected list, got %s", v.typ)
	}
	return v.items, nil
}

// DecodeRecord parses a CBOR map of string keys to values.
func DecodeRecord(data []byte) (map[string]Value, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if v.typ != TypeRecord {
		return nil, Errorf(KindDecode, "expected record, got %s", v.typ)
	}
	return v.fields, nil
}

// EncodeStrings serializes a list of strings to CBOR.
func EncodeStrings(ss []string) ([]byte, error) {
	if ss == nil {
		ss = []string{}
	}
	b, err := cborEncMode.Marshal(ss)
	if err != nil {
		return nil, NewError(KindDecode, "failed to serialize strings", err)
	}
	return b, nil
}

// DecodeStrings parses a CBOR array of text strings.
func DecodeStrings(data []byte) ([]string, error) {
	var ss []string
	if err := cborDecMode.Unmarshal(data, &ss); err != nil {
		return nil, decodeError("failed to deserialize strings", err)
	}
	return ss, nil
}

func decodeError(msg string, err error) error {
	if KindOf(err) != KindUnknown {
		return err
	}
	return NewError(KindDecode, msg, err)
}

// MarshalCBOR implements cbor.Marshaler.
func (v Value) MarshalCBOR() ([]byte, error) {
	switch v.typ {
	case TypeUninitialized:
		return []byte{cborUninitialized}, nil
	case TypeUndefined:
		return []byte{cborUndefined}, nil
	case TypeNull:
		return []byte{cborNull}, nil
	case TypeBool:
		if v.b {
			return []byte{cborTrue}, nil
		}
		return []byte{cborFalse}, nil
	case TypeInt:
		return cborEncMode.Marshal(int64(v.i))
	case TypeFloat:
		return cborEncMode.Marshal(v.f)
	case TypeString:
		return cborEncMode.Marshal(v.s)
	case TypeBytes:
		data := v.data
		if data == nil {
			data = []byte{}
		}
		return cborEncMode.Marshal(data)
	case TypeList:
		items := v.items
		if items == nil {
			items = []Value{}
		}
		return cborEncMode.Marshal(items)
	case TypeRecord:
		fields := v.fields
		if fields == nil {
			fields = map[string]Value{}
		}
		return cborEncMode.Marshal(fields)
	}
	return nil, Errorf(KindDecode, "unknown value type %d", v.typ)
}

// CBOR major types.
const (
	majorUint   = 0
	majorNegInt = 1
	majorBytes  = 2
	majorText   = 3
	majorArray  = 4
	majorMap    = 5
	majorTag    = 6
	majorSimple = 7
)

// valueDecoders dispatches on the CBOR major type of the item's first byte.
var valueDecoders [8]func(data []byte) (Value, error)

func init() {
	valueDecoders = [8]func(data []byte) (Value, error){
		majorUint:   decodeUint,
		majorNegInt: decodeNegInt,
		majorBytes:  decodeBytes,
		majorText:   decodeText,
		majorArray:  decodeArray,
		majorMap:    decodeMap,
		majorTag:    decodeTag,
		majorSimple: decodeSimple,
	}
}

// UnmarshalCBOR implements cbor.Unmarshaler. data holds exactly one
// well-formed data item.
func (v *Value) UnmarshalCBOR(data []byte) error {
	if len(data) == 0 {
		return Errorf(KindDecode, "empty CBOR data item")
	}
	decoded, err := valueDecoders[data[0]>>5](data)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// headArgument returns the argument of an integer head.
func headArgument(data []byte) (uint64, error) {
	info := data[0] & 0x1f
	switch {
	case info < 24:
		return uint64(info), nil
	case info == 24 && len(data) >= 2:
		return uint64(data[1]), nil
	case info == 25 && len(data) >= 3:
		return uint64(binary.BigEndian.Uint16(data[1:3])), nil
	case info == 26 && len(data) >= 5:
		return uint64(binary.BigEndian.Uint32(data[1:5])), nil
	case info == 27 && len(data) >= 9:
		return binary.BigEndian.Uint64(data[1:9]), nil
	}
	return 0, Errorf(KindDecode, "malformed integer head 0x%02x", data[0])
}

func decodeUint(data []byte) (Value, error) {
	n, err := headArgument(data)
	if err != nil {
		return Value{}, err
	}
	if n <= math.MaxInt32 {
		return Int(int32(n)), nil
	}
	return Float(float64(n)), nil
}

func decodeNegInt(data []byte) (Value, error) {
	n, err := headArgument(data)
	if err != nil {
		return Value{}, err
	}
	// value is -1 - n
	if n <= math.MaxInt32 {
		return Int(int32(-1 - int64(n))), nil
	}
	return Float(-1 - float64(n)), nil
}

func decodeBytes(data []byte) (Value, error) {
	var b []byte
	if err := cborDecMode.Unmarshal(data, &b); err != nil {
		return Value{}, NewError(KindDecode, "invalid byte string", err)
	}
	return Bytes(b), nil
}

func decodeText(data []byte) (Value, error) {
	var s string
	if err := cborDecMode.Unmarshal(data, &s); err != nil {
		return Value{}, NewError(KindDecode, "invalid text string", err)
	}
	return String(s), nil
}

func decodeArray(data []byte) (Value, error) {
	var items []Value
	if err := cborDecMode.Unmarshal(data, &items); err != nil {
		return Value{}, decodeError("invalid array", err)
	}
	return List(items...), nil
}

func decodeMap(data []byte) (Value, error) {
	var fields map[string]Value
	if err := cborDecMode.Unmarshal(data, &fields); err != nil {
		return Value{}, decodeError("invalid map", err)
	}
	return Record(fields), nil
}

func decodeTag(data []byte) (Value, error) {
	n, err := headArgument(data)
	if err != nil {
		return Value{}, err
	}
	return Value{}, Errorf(KindDecode, "unsupported CBOR tag %d", n)
}

func decodeSimple(data []byte) (Value, error) {
	switch data[0] {
	case cborUninitialized:
		return Uninitialized(), nil
	case cborFalse:
		return Bool(false), nil
	case cborTrue:
		return Bool(true), nil
	case cborNull:
		return Null(), nil
	case cborUndefined:
		return Undefined(), nil
	case cborFloat16, cborFloat32, cborFloat64:
		var f float64
		if err := cborDecMode.Unmarshal(data, &f); err != nil {
			return Value{}, NewError(KindDecode, "invalid float", err)
		}
		return Float(f), nil
	}
	return Value{}, Errorf(KindDecode, "unsupported CBOR simple value 0x%02x", data[0])
}
