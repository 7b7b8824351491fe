//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package v8engine

import (
	_ "embed"

	"github.com/buke/ctxjs"
	"github.com/tommie/v8go"
)

//go:embed glue.js
var glueScript string

// glue holds the helper functions defined by the glue script in one context.
type glue struct {
	ctx   *v8go.Context
	funcs map[string]*v8go.Function
}

func newGlue(ctx *v8go.Context, script string) (*glue, error) {
	v, err := ctx.RunScript(script, "glue.js")
	if err != nil {
		return nil, ctxjs.NewError(ctxjs.KindEngine, "failed to run glue script", err)
	}
	obj, err := v.AsObject()
	if err != nil {
		return nil, ctxjs.NewError(ctxjs.KindEngine, "glue script did not return an object", err)
	}
	g := &glue{ctx: ctx, funcs: make(map[string]*v8go.Function)}
	for _, name := range []string{"kind", "keys", "list", "codes", "bytes"} {
		fv, err := obj.Get(name)
		if err != nil {
			return nil, ctxjs.NewError(ctxjs.KindEngine, "glue script is missing "+name, err)
		}
		fn, err := fv.AsFunction()
		if err != nil {
			return nil, ctxjs.NewError(ctxjs.KindEngine, "glue script is missing "+name, err)
		}
		g.funcs[name] = fn
	}
	return g, nil
}

func (g *glue) call(name string, args ...v8go.Valuer) (*v8go.Value, error) {
	v, err := g.funcs[name].Call(v8go.Undefined(g.ctx.Isolate()), args...)
	if err != nil {
		return nil, ctxjs.NewError(ctxjs.KindBridge, name+" failed", err)
	}
	return v, nil
}

func (g *glue) kind(v *v8go.Value) (string, error) {
	k, err := g.call("kind", v)
	if err != nil {
		return "", err
	}
	return k.String(), nil
}

// toNative builds a V8 value for v. Escape directives keyed by typeField
// are evaluated or parsed in place.
func (g *glue) toNative(v ctxjs.Value, typeField string, depth int) (*v8go.Value, error) {
	if depth > ctxjs.MaxNestingDepth {
		return nil, ctxjs.Errorf(ctxjs.KindBridge, "value nesting exceeds %d levels", ctxjs.MaxNestingDepth)
	}
	iso := g.ctx.Isolate()

	switch v.Type() {
	case ctxjs.TypeUninitialized, ctxjs.TypeUndefined:
		return v8go.Undefined(iso), nil
	case ctxjs.TypeNull:
		return v8go.Null(iso), nil
	case ctxjs.TypeBool:
		return v8go.NewValue(iso, v.Bool())
	case ctxjs.TypeInt:
		return v8go.NewValue(iso, v.Int())
	case ctxjs.TypeFloat:
		return v8go.NewValue(iso, v.Float())
	case ctxjs.TypeString:
		return v8go.NewValue(iso, v.Text())
	case ctxjs.TypeBytes:
		codes, err := g.call("list")
		if err != nil {
			return nil, err
		}
		arr := codes.Object()
		for i, c := range v.Data() {
			if err := arr.SetIdx(uint32(i), int32(c)); err != nil {
				return nil, ctxjs.NewError(ctxjs.KindBridge, "failed to set byte", err)
			}
		}
		return g.call("bytes", arr)
	case ctxjs.TypeList:
		list, err := g.call("list")
		if err != nil {
			return nil, err
		}
		arr := list.Object()
		for i, item := range v.Items() {
			nv, err := g.toNative(item, typeField, depth+1)
			if err != nil {
				return nil, err
			}
			if err := arr.SetIdx(uint32(i), nv); err != nil {
				return nil, ctxjs.NewError(ctxjs.KindBridge, "failed to set item", err)
			}
		}
		return list, nil
	}

	esc, ok, err := ctxjs.DecodeEscape(v, typeField)
	if err != nil {
		return nil, ctxjs.NewError(ctxjs.KindBridge, "invalid escape directive", err)
	}
	if ok {
		if esc.Kind == ctxjs.EscapeEval {
			r, err := g.ctx.RunScript(esc.Source, "escape.js")
			if err != nil {
				return nil, ctxjs.NewError(ctxjs.KindBridge, "eval error", err)
			}
			return r, nil
		}
		r, err := v8go.JSONParse(g.ctx, esc.Source)
		if err != nil {
			return nil, ctxjs.NewError(ctxjs.KindBridge, "json parse error", err)
		}
		return r, nil
	}

	tmpl := v8go.NewObjectTemplate(iso)
	obj, err := tmpl.NewInstance(g.ctx)
	if err != nil {
		return nil, ctxjs.NewError(ctxjs.KindBridge, "failed to create object", err)
	}
	for _, key := range v.Keys() {
		field, _ := v.Field(key)
		nv, err := g.toNative(field, typeField, depth+1)
		if err != nil {
			return nil, err
		}
		if err := obj.Set(key, nv); err != nil {
			return nil, ctxjs.NewError(ctxjs.KindBridge, "failed to set field "+key, err)
		}
	}
	return obj.Value, nil
}

// fromNative converts a V8 value into a wire value.
func (g *glue) fromNative(v *v8go.Value, depth int) (ctxjs.Value, error) {
	if depth > ctxjs.MaxNestingDepth {
		return ctxjs.Value{}, ctxjs.Errorf(ctxjs.KindBridge, "value nesting exceeds %d levels", ctxjs.MaxNestingDepth)
	}
	if v == nil {
		return ctxjs.Undefined(), nil
	}
	kind, err := g.kind(v)
	if err != nil {
		return ctxjs.Value{}, err
	}

	switch kind {
	case "undefined":
		return ctxjs.Undefined(), nil
	case "null":
		return ctxjs.Null(), nil
	case "bool":
		return ctxjs.Bool(v.Boolean()), nil
	case "number":
		if v.IsInt32() {
			return ctxjs.Int(v.Int32()), nil
		}
		return ctxjs.Number(v.Number()), nil
	case "string":
		return ctxjs.String(v.String()), nil
	case "bytes", "buffer":
		codes, err := g.call("codes", v)
		if err != nil {
			return ctxjs.Value{}, err
		}
		arr := codes.Object()
		n, err := length(arr)
		if err != nil {
			return ctxjs.Value{}, err
		}
		data := make([]byte, n)
		for i := range data {
			c, err := arr.GetIdx(uint32(i))
			if err != nil {
				return ctxjs.Value{}, ctxjs.NewError(ctxjs.KindBridge, "failed to read byte", err)
			}
			data[i] = byte(c.Uint32())
		}
		return ctxjs.Bytes(data), nil
	case "list":
		arr := v.Object()
		n, err := length(arr)
		if err != nil {
			return ctxjs.Value{}, err
		}
		items := make([]ctxjs.Value, n)
		for i := range items {
			item, err := arr.GetIdx(uint32(i))
			if err != nil {
				return ctxjs.Value{}, ctxjs.NewError(ctxjs.KindBridge, "failed to read item", err)
			}
			if items[i], err = g.fromNative(item, depth+1); err != nil {
				return ctxjs.Value{}, err
			}
		}
		return ctxjs.List(items...), nil
	case "record":
		keys, err := g.call("keys", v)
		if err != nil {
			return ctxjs.Value{}, err
		}
		names := keys.Object()
		n, err := length(names)
		if err != nil {
			return ctxjs.Value{}, err
		}
		obj := v.Object()
		fields := make(map[string]ctxjs.Value, n)
		for i := 0; i < n; i++ {
			key, err := names.GetIdx(uint32(i))
			if err != nil {
				return ctxjs.Value{}, ctxjs.NewError(ctxjs.KindBridge, "failed to read key", err)
			}
			field, err := obj.Get(key.String())
			if err != nil {
				return ctxjs.Value{}, ctxjs.NewError(ctxjs.KindBridge, "failed to read field", err)
			}
			if fields[key.String()], err = g.fromNative(field, depth+1); err != nil {
				return ctxjs.Value{}, err
			}
		}
		return ctxjs.Record(fields), nil
	case "promise":
		p, err := v.AsPromise()
		if err != nil {
			return ctxjs.Value{}, ctxjs.NewError(ctxjs.KindBridge, "failed to read promise", err)
		}
		if p.State() == v8go.Pending {
			g.ctx.PerformMicrotaskCheckpoint()
		}
		switch p.State() {
		case v8go.Fulfilled:
			return g.fromNative(p.Result(), depth+1)
		case v8go.Rejected:
			return ctxjs.Value{}, ctxjs.Errorf(ctxjs.KindEngine, "promise rejected: %s", p.Result().String())
		}
		return ctxjs.Value{}, ctxjs.Unrepresentable("pending promise")
	}
	return ctxjs.Value{}, ctxjs.Unrepresentable(kind)
}

func length(obj *v8go.Object) (int, error) {
	n, err := obj.Get("length")
	if err != nil {
		return 0, ctxjs.NewError(ctxjs.KindBridge, "failed to read length", err)
	}
	return int(n.Uint32()), nil
}

// nativeArgs converts call arguments.
func (g *glue) nativeArgs(args []ctxjs.Value, typeField string) ([]v8go.Valuer, error) {
	out := make([]v8go.Valuer, len(args))
	for i, arg := range args {
		nv, err := g.toNative(arg, typeField, 0)
		if err != nil {
			return nil, ctxjs.NewError(ctxjs.KindBridge, "failed to add argument", err)
		}
		out[i] = nv
	}
	return out, nil
}
