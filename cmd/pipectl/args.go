package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.bytecodealliance.org/wit"
)

// convertArg parses a command-line value as type t. Scalars use Go syntax;
// lists and records are read as JSON.
func convertArg(value string, t wit.Type) (any, error) {
	switch v := t.(type) {
	case wit.String:
		return value, nil
	case wit.Char:
		r, n := utf8.DecodeRuneInString(value)
		if r == utf8.RuneError || n != len(value) {
			return nil, fmt.Errorf("%q is not a single character", value)
		}
		return uint32(r), nil
	case wit.Bool:
		return strconv.ParseBool(value)
	case wit.U8:
		return parseUint(value, 8)
	case wit.U16:
		return parseUint(value, 16)
	case wit.U32:
		return parseUint(value, 32)
	case wit.U64:
		return parseUint(value, 64)
	case wit.S8:
		return parseInt(value, 8)
	case wit.S16:
		return parseInt(value, 16)
	case wit.S32:
		return parseInt(value, 32)
	case wit.S64:
		return parseInt(value, 64)
	case wit.F32:
		f, err := strconv.ParseFloat(value, 32)
		return float32(f), err
	case wit.F64:
		return strconv.ParseFloat(value, 64)
	case *wit.TypeDef:
		switch k := v.Kind.(type) {
		case *wit.Option:
			if value == "" || value == "none" {
				return nil, nil
			}
			return convertArg(value, k.Type)
		case *wit.Enum:
			for i, c := range k.Cases {
				if c.Name == value {
					return int32(i), nil
				}
			}
			return nil, fmt.Errorf("%q is not one of %s", value, enumNames(k))
		case wit.Type:
			return convertArg(value, k)
		}
		var out any
		if err := json.Unmarshal([]byte(value), &out); err != nil {
			return nil, fmt.Errorf("%s argument must be JSON: %w", witTypeStr(t), err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported argument type %s", witTypeStr(t))
	}
}

func parseInt(value string, bits int) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 0, bits)
}

func parseUint(value string, bits int) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(value), 0, bits)
}

func enumNames(e *wit.Enum) string {
	names := make([]string, len(e.Cases))
	for i, c := range e.Cases {
		names[i] = c.Name
	}
	return strings.Join(names, "|")
}

func witTypeStr(t wit.Type) string {
	switch v := t.(type) {
	case wit.Bool:
		return "bool"
	case wit.U8:
		return "u8"
	case wit.S8:
		return "s8"
	case wit.U16:
		return "u16"
	case wit.S16:
		return "s16"
	case wit.U32:
		return "u32"
	case wit.S32:
		return "s32"
	case wit.U64:
		return "u64"
	case wit.S64:
		return "s64"
	case wit.F32:
		return "f32"
	case wit.F64:
		return "f64"
	case wit.Char:
		return "char"
	case wit.String:
		return "string"
	case *wit.TypeDef:
		if v.Name != nil {
			return *v.Name
		}
		switch k := v.Kind.(type) {
		case *wit.List:
			return "list<" + witTypeStr(k.Type) + ">"
		case *wit.Option:
			return "option<" + witTypeStr(k.Type) + ">"
		case wit.Type:
			return witTypeStr(k)
		}
		return "typedef"
	default:
		return fmt.Sprintf("%T", t)
	}
}

// formatValue renders a decoded value with map keys in sorted order.
func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "none"
	case string:
		return strconv.Quote(v)
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + formatValue(v[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case []any:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = formatValue(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprint(v)
	}
}

// parseArgs converts raw values for the parameters of method.
func parseArgs(method string, raw []string) ([]any, error) {
	var m *methodInfo
	for i := range demoInfo {
		if demoInfo[i].name == method {
			m = &demoInfo[i]
		}
	}
	if m == nil {
		return nil, fmt.Errorf("unknown method %q", method)
	}
	if len(raw) > len(m.params) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", method, len(m.params), len(raw))
	}
	args := make([]any, len(m.params))
	for i, p := range m.params {
		if i >= len(raw) {
			if _, opt := optionOf(p.witType); !opt {
				return nil, fmt.Errorf("%s: missing argument %s", method, p.name)
			}
			continue
		}
		v, err := convertArg(raw[i], p.witType)
		if err != nil {
			return nil, fmt.Errorf("%s: argument %s: %w", method, p.name, err)
		}
		args[i] = v
	}
	return args, nil
}

func optionOf(t wit.Type) (*wit.Option, bool) {
	td, ok := t.(*wit.TypeDef)
	if !ok {
		return nil, false
	}
	o, ok := td.Kind.(*wit.Option)
	return o, ok
}
