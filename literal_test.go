// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ctxjs

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeEscape(t *testing.T) {
	const tf = "__type"
	tests := []struct {
		name    string
		in      Value
		field   string
		ok      bool
		want    Escape
		wantErr string
	}{
		{"eval", EscapeDirective(tf, EscapeEval, "1+1"), tf, true, Escape{EscapeEval, "1+1"}, ""},
		{"json", EscapeDirective(tf, EscapeJSON, `{"a":1}`), tf, true, Escape{EscapeJSON, `{"a":1}`}, ""},
		{"plain record", Record(map[string]Value{"a": Int(1)}), tf, false, Escape{}, ""},
		{"not a record", String("eval"), tf, false, Escape{}, ""},
		{"disabled", EscapeDirective(tf, EscapeEval, "1+1"), "", false, Escape{}, ""},
		{"other field", EscapeDirective(tf, EscapeEval, "1+1"), "kind", false, Escape{}, ""},
		{
			"eval value not string",
			Record(map[string]Value{tf: String("eval"), "value": Int(5)}),
			tf, true, Escape{}, "value needs to be a string",
		},
		{
			"eval value missing",
			Record(map[string]Value{tf: String("eval")}),
			tf, true, Escape{}, "value needs to be a string",
		},
		{
			"json value not bytes",
			Record(map[string]Value{tf: String("json"), "value": String("{}")}),
			tf, true, Escape{}, "value needs to be a byte buffer",
		},
		{
			"json value invalid",
			Record(map[string]Value{tf: String("json"), "value": Bytes([]byte("{nope"))}),
			tf, true, Escape{}, "json parse error",
		},
		{
			"bogus type",
			Record(map[string]Value{tf: String("bogus")}),
			tf, true, Escape{}, "invalid type:bogus",
		},
		{
			"non-string type field",
			Record(map[string]Value{tf: Int(1), "value": String("x")}),
			tf, true, Escape{}, "type field needs to be a string",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			esc, ok, err := DecodeEscape(tt.in, tt.field)
			require.Equal(t, tt.ok, ok)
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, esc)
		})
	}
}

func TestEscapeKind_String(t *testing.T) {
	require.Equal(t, "eval", EscapeEval.String())
	require.Equal(t, "json", EscapeJSON.String())
	require.Equal(t, "unknown", EscapeKind(0).String())
}

func TestToSourceLiteral(t *testing.T) {
	const tf = "__type"
	tests := []struct {
		name string
		in   Value
		want string
	}{
		{"null", Null(), "null"},
		{"undefined", Undefined(), "null"},
		{"uninitialized", Uninitialized(), "null"},
		{"bool", Bool(true), "true"},
		{"int", Int(-42), "-42"},
		{"float", Float(7.5), "7.5"},
		{"large float", Float(1e21), "1e+21"},
		{"nan", Float(math.NaN()), "NaN"},
		{"infinity", Float(math.Inf(1)), "Infinity"},
		{"negative infinity", Float(math.Inf(-1)), "-Infinity"},
		{"string", String(`say "hi"`), `"say \"hi\""`},
		{"string escapes", String("a\\b\nc\t\x01"), `"a\\b\nc\t\u0001"`},
		{"line separators", String("x\u2028y\u2029"), `"x\u2028y\u2029"`},
		{"unicode", String("héllo"), `"héllo"`},
		{"bytes", Bytes([]byte{1, 2, 3}), "new Uint8Array([1, 2, 3])"},
		{"empty bytes", Bytes(nil), "new Uint8Array([])"},
		{"list", List(Int(1), String("a"), Null()), `[1, "a", null]`},
		{"empty list", List(), "[]"},
		{"record", Record(map[string]Value{"b": Int(2), "a": Int(1)}), "{a:1, b:2}"},
		{"empty record", Record(nil), "{}"},
		{"eval escape", EscapeDirective(tf, EscapeEval, "1+1"), "1+1"},
		{"json escape", EscapeDirective(tf, EscapeJSON, `{"k":[1,2]}`), `{"k":[1,2]}`},
		{
			"nested escape",
			List(Record(map[string]Value{"fn": EscapeDirective(tf, EscapeEval, "() => 1")})),
			"[{fn:() => 1}]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToSourceLiteral(tt.in, tf)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestToSourceLiteral_Errors(t *testing.T) {
	_, err := ToSourceLiteral(Record(map[string]Value{"t": String("bogus")}), "t")
	require.ErrorContains(t, err, "invalid type:bogus")
	require.Equal(t, KindRender, KindOf(err))

	_, err = ToSourceLiteral(List(Record(map[string]Value{"t": String("eval"), "value": Int(5)})), "t")
	require.ErrorContains(t, err, "needs to be a string")

	deep := Int(1)
	for i := 0; i < MaxNestingDepth+2; i++ {
		deep = List(deep)
	}
	_, err = ToSourceLiteral(deep, "")
	require.ErrorContains(t, err, "nesting exceeds")
}

func TestQuote(t *testing.T) {
	require.Equal(t, `"m"`, Quote("m"))
	require.Equal(t, `"a\"b"`, Quote(`a"b`))
	require.Equal(t, `"\u007f"`, Quote("\x7f"))
}

func TestFormatTemplate(t *testing.T) {
	args := map[string]Value{
		"a":    Int(1),
		"name": String("x"),
		"code": EscapeDirective("t", EscapeEval, "Math.max"),
	}
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"single", "{a} + 1", "1 + 1"},
		{"repeated", "{a}+{a}", "1+1"},
		{"string", "greet({name})", `greet("x")`},
		{"escape", "{code}(1, 2)", "Math.max(1, 2)"},
		{"literal braces", "function f() {{ return {a}; }}", "function f() { return 1; }"},
		{"no placeholders", "1+1", "1+1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatTemplate(tt.source, args, "t")
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"{missing}", "{a", "a}", "{a} }"} {
		_, err := FormatTemplate(bad, args, "t")
		require.Error(t, err, bad)
		require.Equal(t, KindRender, KindOf(err))
		require.ErrorContains(t, err, "can not format js string")
	}
}

func TestDefineVariablesSource(t *testing.T) {
	got, err := DefineVariablesSource(map[string]Value{
		"y":  String("s"),
		"x":  Int(1),
		"$f": EscapeDirective("t", EscapeEval, "() => 2"),
	}, "t")
	require.NoError(t, err)
	require.Equal(t, `let $f=() => 2;let x=1;let y="s";`, got)

	got, err = DefineVariablesSource(nil, "t")
	require.NoError(t, err)
	require.Empty(t, got)

	for _, name := range []string{"", "1x", "a-b", "a b", "x;alert(1)"} {
		_, err := DefineVariablesSource(map[string]Value{name: Int(1)}, "")
		require.Error(t, err, name)
		require.Equal(t, KindRender, KindOf(err))
	}

	_, err = DefineVariablesSource(map[string]Value{"ok": Record(map[string]Value{"t": String("bogus")})}, "t")
	require.ErrorContains(t, err, "invalid type:bogus")
}
