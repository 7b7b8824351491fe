// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ctxjs

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ToSourceLiteral renders v as script source text for splicing into a larger
// source string. Escape directives keyed by typeField splice their payload
// verbatim.
func ToSourceLiteral(v Value, typeField string) (string, error) {
	var sb strings.Builder
	if err := writeLiteral(&sb, v, typeField, 0); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func writeLiteral(sb *strings.Builder, v Value, typeField string, depth int) error {
	if depth > MaxNestingDepth {
		return Errorf(KindRender, "value nesting exceeds %d levels", MaxNestingDepth)
	}
	switch v.typ {
	case TypeUninitialized, TypeUndefined, TypeNull:
		sb.WriteString("null")
	case TypeBool:
		sb.WriteString(strconv.FormatBool(v.b))
	case TypeInt:
		sb.WriteString(strconv.FormatInt(int64(v.i), 10))
	case TypeFloat:
		sb.WriteString(formatFloat(v.f))
	case TypeString:
		writeQuoted(sb, v.s)
	case TypeBytes:
		sb.WriteString("new Uint8Array([")
		for i, b := range v.data {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(strconv.Itoa(int(b)))
		}
		sb.WriteString("])")
	case TypeList:
		sb.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				sb.WriteString(", ")
			}
			if err := writeLiteral(sb, item, typeField, depth+1); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case TypeRecord:
		esc, ok, err := DecodeEscape(v, typeField)
		if err != nil {
			return NewError(KindRender, "invalid escape directive", err)
		}
		if ok {
			sb.WriteString(esc.Source)
			return nil
		}
		sb.WriteByte('{')
		for i, k := range v.Keys() {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k)
			sb.WriteByte(':')
			if err := writeLiteral(sb, v.fields[k], typeField, depth+1); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	default:
		return Errorf(KindRender, "unknown value type %d", v.typ)
	}
	return nil
}

// formatFloat renders f the way a script engine prints a number.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Quote returns s as a double-quoted script string literal.
func Quote(s string) string {
	var sb strings.Builder
	writeQuoted(&sb, s)
	return sb.String()
}

const hexDigits = "0123456789abcdef"

func writeQuoted(sb *strings.Builder, s string) {
	sb.Grow(len(s) + 2)
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		case '\u2028':
			sb.WriteString(`\u2028`)
		case '\u2029':
			sb.WriteString(`\u2029`)
		default:
			if r < 0x20 || r == 0x7f {
				sb.WriteString(`\u00`)
				sb.WriteByte(hexDigits[r>>4])
				sb.WriteByte(hexDigits[r&0xf])
				continue
			}
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
}

// FormatTemplate substitutes {name} placeholders in source with the
// literal rendering of args[name]. "{{" and "}}" produce literal braces.
func FormatTemplate(source string, args map[string]Value, typeField string) (string, error) {
	var sb strings.Builder
	sb.Grow(len(source))
	for i := 0; i < len(source); {
		c := source[i]
		switch c {
		case '{':
			if i+1 < len(source) && source[i+1] == '{' {
				sb.WriteByte('{')
				i += 2
				continue
			}
			end := strings.IndexByte(source[i+1:], '}')
			if end < 0 {
				return "", templateError("unclosed placeholder at offset %d", i)
			}
			name := source[i+1 : i+1+end]
			arg, ok := args[name]
			if !ok {
				return "", templateError("unknown placeholder %q", name)
			}
			lit, err := ToSourceLiteral(arg, typeField)
			if err != nil {
				return "", err
			}
			sb.WriteString(lit)
			i += end + 2
		case '}':
			if i+1 < len(source) && source[i+1] == '}' {
				sb.WriteByte('}')
				i += 2
				continue
			}
			return "", templateError("unmatched '}' at offset %d", i)
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String(), nil
}

func templateError(format string, args ...any) error {
	return Errorf(KindRender, "can not format js string: "+format, args...)
}

// DefineVariablesSource renders vars as a sequence of let declarations,
// sorted by name, each terminated by ";".
func DefineVariablesSource(vars map[string]Value, typeField string) (string, error) {
	names := make([]string, 0, len(vars))
	for name := range vars {
		if !isIdentifier(name) {
			return "", Errorf(KindRender, "invalid variable name %q", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		lit, err := ToSourceLiteral(vars[name], typeField)
		if err != nil {
			return "", err
		}
		sb.WriteString("let ")
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(lit)
		sb.WriteByte(';')
	}
	return sb.String(), nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == utf8.RuneError {
			return false
		}
		if r == '_' || r == '$' || unicode.IsLetter(r) {
			continue
		}
		if i > 0 && (unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r)) {
			continue
		}
		return false
	}
	return true
}
