// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	_ "embed"

	"github.com/buke/ctxjs"
	"github.com/buke/quickjs-go"
)

//go:embed bridge.js
var bridgeScript string

// bridge converts between wire values and values of one QuickJS context.
// helper is the object produced by bridge.js.
type bridge struct {
	ctx    *quickjs.Context
	helper *quickjs.Value
}

func (b *bridge) kind(v *quickjs.Value) string {
	k := b.helper.Call("kind", v)
	defer k.Free()
	return k.ToString()
}

// toNative builds a native value for v. Escape directives keyed by
// typeField are evaluated or parsed in place.
func (b *bridge) toNative(v ctxjs.Value, typeField string, depth int) (*quickjs.Value, error) {
	if depth > ctxjs.MaxNestingDepth {
		return nil, ctxjs.Errorf(ctxjs.KindBridge, "value nesting exceeds %d levels", ctxjs.MaxNestingDepth)
	}

	switch v.Type() {
	case ctxjs.TypeUninitialized, ctxjs.TypeUndefined:
		return b.ctx.Undefined(), nil
	case ctxjs.TypeNull:
		return b.ctx.Null(), nil
	case ctxjs.TypeBool:
		return b.ctx.Bool(v.Bool()), nil
	case ctxjs.TypeInt:
		return b.ctx.Int32(v.Int()), nil
	case ctxjs.TypeFloat:
		return b.ctx.Float64(v.Float()), nil
	case ctxjs.TypeString:
		return b.ctx.String(v.Text()), nil
	case ctxjs.TypeBytes:
		buf := b.ctx.ArrayBuffer(v.Data())
		defer buf.Free()
		return b.helper.Call("bytes", buf), nil
	case ctxjs.TypeList:
		n := b.ctx.Int32(int32(v.Len()))
		defer n.Free()
		arr := b.helper.Call("list", n)
		for i, item := range v.Items() {
			nv, err := b.toNative(item, typeField, depth+1)
			if err != nil {
				arr.Free()
				return nil, err
			}
			arr.SetIdx(int64(i), nv)
		}
		return arr, nil
	}

	esc, ok, err := ctxjs.DecodeEscape(v, typeField)
	if err != nil {
		return nil, ctxjs.NewError(ctxjs.KindBridge, "invalid escape directive", err)
	}
	if ok {
		return b.escape(esc)
	}

	obj := b.ctx.Object()
	for _, key := range v.Keys() {
		field, _ := v.Field(key)
		nv, err := b.toNative(field, typeField, depth+1)
		if err != nil {
			obj.Free()
			return nil, err
		}
		obj.Set(key, nv)
	}
	return obj, nil
}

func (b *bridge) escape(esc ctxjs.Escape) (*quickjs.Value, error) {
	if esc.Kind == ctxjs.EscapeEval {
		r := b.ctx.Eval(esc.Source)
		if r.IsException() {
			r.Free()
			return nil, ctxjs.NewError(ctxjs.KindBridge, "eval error", b.ctx.Exception())
		}
		return r, nil
	}
	text := b.ctx.String(esc.Source)
	defer text.Free()
	r := b.helper.Call("parse", text)
	if r.IsException() {
		r.Free()
		return nil, ctxjs.NewError(ctxjs.KindBridge, "json parse error", b.ctx.Exception())
	}
	return r, nil
}

// fromNative converts v into a wire value. v is borrowed.
func (b *bridge) fromNative(v *quickjs.Value, depth int) (ctxjs.Value, error) {
	if depth > ctxjs.MaxNestingDepth {
		return ctxjs.Value{}, ctxjs.Errorf(ctxjs.KindBridge, "value nesting exceeds %d levels", ctxjs.MaxNestingDepth)
	}

	switch kind := b.kind(v); kind {
	case "undefined":
		return ctxjs.Undefined(), nil
	case "null":
		return ctxjs.Null(), nil
	case "bool":
		return ctxjs.Bool(v.ToBool()), nil
	case "number":
		return ctxjs.Number(v.ToFloat64()), nil
	case "string":
		return ctxjs.String(v.ToString()), nil
	case "buffer":
		return b.bytes(v)
	case "bytes":
		buf := b.helper.Call("buffer", v)
		defer buf.Free()
		return b.bytes(buf)
	case "list":
		length := v.Get("length")
		n := int64(length.ToFloat64())
		length.Free()
		items := make([]ctxjs.Value, n)
		for i := range items {
			item := v.GetIdx(int64(i))
			wv, err := b.fromNative(item, depth+1)
			item.Free()
			if err != nil {
				return ctxjs.Value{}, err
			}
			items[i] = wv
		}
		return ctxjs.List(items...), nil
	case "record":
		keys, err := b.keys(v)
		if err != nil {
			return ctxjs.Value{}, err
		}
		fields := make(map[string]ctxjs.Value, len(keys))
		for _, key := range keys {
			field := v.Get(key)
			wv, err := b.fromNative(field, depth+1)
			field.Free()
			if err != nil {
				return ctxjs.Value{}, err
			}
			fields[key] = wv
		}
		return ctxjs.Record(fields), nil
	case "promise":
		// Await consumes its receiver, v stays with the caller
		r := b.helper.Call("hold", v).Await()
		defer r.Free()
		if r.IsException() {
			return ctxjs.Value{}, ctxjs.NewError(ctxjs.KindEngine, "promise rejected", b.ctx.Exception())
		}
		return b.fromNative(r, depth+1)
	default:
		return ctxjs.Value{}, ctxjs.Unrepresentable(kind)
	}
}

func (b *bridge) bytes(buf *quickjs.Value) (ctxjs.Value, error) {
	data, err := buf.ToByteArray(uint(buf.ByteLen()))
	if err != nil {
		return ctxjs.Value{}, ctxjs.NewError(ctxjs.KindBridge, "failed to read byte buffer", err)
	}
	return ctxjs.Bytes(data), nil
}

// keys returns the own enumerable keys of a native object.
func (b *bridge) keys(obj *quickjs.Value) ([]string, error) {
	keys := b.helper.Call("keys", obj)
	defer keys.Free()
	if keys.IsException() {
		return nil, ctxjs.NewError(ctxjs.KindBridge, "failed to list keys", b.ctx.Exception())
	}
	length := keys.Get("length")
	n := int64(length.ToFloat64())
	length.Free()
	out := make([]string, n)
	for i := range out {
		k := keys.GetIdx(int64(i))
		out[i] = k.ToString()
		k.Free()
	}
	return out, nil
}

// args converts call arguments. The caller frees the returned values.
func (b *bridge) args(args []ctxjs.Value, typeField string) ([]*quickjs.Value, error) {
	out := make([]*quickjs.Value, 0, len(args))
	for _, arg := range args {
		nv, err := b.toNative(arg, typeField, 0)
		if err != nil {
			freeAll(out)
			return nil, ctxjs.NewError(ctxjs.KindBridge, "failed to add argument", err)
		}
		out = append(out, nv)
	}
	return out, nil
}

func freeAll(values []*quickjs.Value) {
	for _, v := range values {
		v.Free()
	}
}
