// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"errors"
	"math/big"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/buke/ctxjs"
	"github.com/dop251/goja"
)

var (
	bytesType   = reflect.TypeOf([]byte(nil))
	bufferType  = reflect.TypeOf(goja.ArrayBuffer{})
	promiseType = reflect.TypeOf((*goja.Promise)(nil))
)

// toNative builds a goja value for v on vm. Must run on the loop.
func toNative(vm *goja.Runtime, v ctxjs.Value, typeField string, depth int) (goja.Value, error) {
	if depth > ctxjs.MaxNestingDepth {
		return nil, ctxjs.Errorf(ctxjs.KindBridge, "value nesting exceeds %d levels", ctxjs.MaxNestingDepth)
	}

	switch v.Type() {
	case ctxjs.TypeUninitialized, ctxjs.TypeUndefined:
		return goja.Undefined(), nil
	case ctxjs.TypeNull:
		return goja.Null(), nil
	case ctxjs.TypeBool:
		return vm.ToValue(v.Bool()), nil
	case ctxjs.TypeInt:
		return vm.ToValue(v.Int()), nil
	case ctxjs.TypeFloat:
		return vm.ToValue(v.Float()), nil
	case ctxjs.TypeString:
		return vm.ToValue(v.Text()), nil
	case ctxjs.TypeBytes:
		data := make([]byte, v.Len())
		copy(data, v.Data())
		u8, err := vm.New(vm.Get("Uint8Array"), vm.ToValue(vm.NewArrayBuffer(data)))
		if err != nil {
			return nil, ctxjs.NewError(ctxjs.KindBridge, "failed to create byte array", err)
		}
		return u8, nil
	case ctxjs.TypeList:
		items := make([]interface{}, v.Len())
		for i, item := range v.Items() {
			nv, err := toNative(vm, item, typeField, depth+1)
			if err != nil {
				return nil, err
			}
			items[i] = nv
		}
		return vm.NewArray(items...), nil
	}

	esc, ok, err := ctxjs.DecodeEscape(v, typeField)
	if err != nil {
		return nil, ctxjs.NewError(ctxjs.KindBridge, "invalid escape directive", err)
	}
	if ok {
		return escape(vm, esc)
	}

	obj := vm.NewObject()
	for _, key := range v.Keys() {
		field, _ := v.Field(key)
		nv, err := toNative(vm, field, typeField, depth+1)
		if err != nil {
			return nil, err
		}
		if err := obj.Set(key, nv); err != nil {
			return nil, ctxjs.NewError(ctxjs.KindBridge, "failed to set field "+key, err)
		}
	}
	return obj, nil
}

func escape(vm *goja.Runtime, esc ctxjs.Escape) (goja.Value, error) {
	if esc.Kind == ctxjs.EscapeEval {
		r, err := vm.RunString(esc.Source)
		if err != nil {
			return nil, ctxjs.NewError(ctxjs.KindBridge, "eval error", err)
		}
		return r, nil
	}
	parse, _ := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("parse"))
	r, err := parse(goja.Undefined(), vm.ToValue(esc.Source))
	if err != nil {
		return nil, ctxjs.NewError(ctxjs.KindBridge, "json parse error", err)
	}
	return r, nil
}

// fromNative converts a goja value into a wire value. Must run on the loop.
// Settled promises are unwrapped; pending ones cannot be represented.
func fromNative(vm *goja.Runtime, v goja.Value, depth int) (ctxjs.Value, error) {
	if depth > ctxjs.MaxNestingDepth {
		return ctxjs.Value{}, ctxjs.Errorf(ctxjs.KindBridge, "value nesting exceeds %d levels", ctxjs.MaxNestingDepth)
	}
	if v == nil || goja.IsUndefined(v) {
		return ctxjs.Undefined(), nil
	}
	if goja.IsNull(v) {
		return ctxjs.Null(), nil
	}
	if _, ok := goja.AssertFunction(v); ok {
		return ctxjs.Value{}, ctxjs.Unrepresentable("function")
	}

	obj, ok := v.(*goja.Object)
	if !ok {
		if _, ok := v.(*goja.Symbol); ok {
			return ctxjs.Value{}, ctxjs.Unrepresentable("symbol")
		}
		switch x := v.Export().(type) {
		case bool:
			return ctxjs.Bool(x), nil
		case int64:
			return ctxjs.Number64(x), nil
		case float64:
			return ctxjs.Number(x), nil
		case string:
			return ctxjs.String(x), nil
		case *big.Int:
			return ctxjs.Value{}, ctxjs.Unrepresentable("bigint")
		}
		return ctxjs.Value{}, ctxjs.Unrepresentable(v.ExportType().String())
	}

	// typed arrays, buffers and promises all report class Object
	switch t := obj.ExportType(); {
	case t == bytesType || t == bufferType || t == promiseType:
		return exported(vm, obj, depth)
	case t.Kind() == reflect.Slice && obj.ClassName() != "Array":
		return ctxjs.Value{}, ctxjs.Unrepresentable("typed array")
	}

	switch obj.ClassName() {
	case "Array":
		n := obj.Get("length").ToInteger()
		items := make([]ctxjs.Value, n)
		for i := range items {
			wv, err := fromNative(vm, obj.Get(strconv.Itoa(i)), depth+1)
			if err != nil {
				return ctxjs.Value{}, err
			}
			items[i] = wv
		}
		return ctxjs.List(items...), nil
	case "Object", "Error":
		keys := obj.Keys()
		if obj.ClassName() == "Error" {
			keys = withErrorKeys(keys)
		}
		fields := make(map[string]ctxjs.Value, len(keys))
		for _, key := range keys {
			wv, err := fromNative(vm, obj.Get(key), depth+1)
			if err != nil {
				return ctxjs.Value{}, err
			}
			fields[key] = wv
		}
		return ctxjs.Record(fields), nil
	}
	return ctxjs.Value{}, ctxjs.Unrepresentable(strings.ToLower(obj.ClassName()))
}

func exported(vm *goja.Runtime, obj *goja.Object, depth int) (ctxjs.Value, error) {
	switch x := obj.Export().(type) {
	case []byte:
		return ctxjs.Bytes(append([]byte(nil), x...)), nil
	case goja.ArrayBuffer:
		return ctxjs.Bytes(append([]byte(nil), x.Bytes()...)), nil
	case *goja.Promise:
		switch x.State() {
		case goja.PromiseStateFulfilled:
			return fromNative(vm, x.Result(), depth+1)
		case goja.PromiseStateRejected:
			return ctxjs.Value{}, ctxjs.NewError(ctxjs.KindEngine, "promise rejected", rejection(x.Result()))
		}
		return ctxjs.Value{}, ctxjs.Unrepresentable("pending promise")
	}
	return ctxjs.Value{}, ctxjs.Unrepresentable(obj.ExportType().String())
}

// withErrorKeys adds the inherited or non-enumerable error fields.
func withErrorKeys(keys []string) []string {
	for _, k := range []string{"name", "message"} {
		if !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	return keys
}

// rejection turns a promise rejection reason into an error.
func rejection(reason goja.Value) error {
	if reason == nil {
		return errors.New("undefined")
	}
	return errors.New(reason.String())
}

// nativeArgs converts call arguments.
func nativeArgs(vm *goja.Runtime, args []ctxjs.Value, typeField string) ([]goja.Value, error) {
	out := make([]goja.Value, len(args))
	for i, arg := range args {
		nv, err := toNative(vm, arg, typeField, 0)
		if err != nil {
			return nil, ctxjs.NewError(ctxjs.KindBridge, "failed to add argument", err)
		}
		out[i] = nv
	}
	return out, nil
}
