// Package schema builds codec descriptors from WIT types.
//
// WIT is the interface definition language of the component model. A
// Builder maps its types onto the wire kinds of package codec:
//
//	bool, u8..s64, f32, f64   fixed-width scalars (char travels as uint32)
//	string                    String
//	list<T>                   Array
//	option<T>                 nullable T; scalars become a flag/value pair
//	record, tuple             packed Struct
//	variant, result           Union
//	enum                      Enum
//	flags                     Uint32 or Uint64 bit set
//	own<R>, borrow<R>         Handle
//
// Type definitions are converted once per *wit.TypeDef.
package schema

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/pipebind/codec"
	"github.com/wippyai/pipebind/errors"
)

// Type is a converted WIT type. Nullable is set for option<T>.
type Type struct {
	Codec    codec.Type
	Nullable bool
}

// Builder converts WIT types. It is safe for concurrent use.
type Builder struct {
	cache sync.Map // *wit.TypeDef -> Type
}

// NewBuilder creates a Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Convert maps t onto a codec descriptor. name labels generated structs,
// unions and enums.
func (b *Builder) Convert(name string, t wit.Type) (Type, error) {
	return b.convert(name, t, []string{name})
}

func (b *Builder) convert(name string, t wit.Type, path []string) (Type, error) {
	switch t := t.(type) {
	case wit.Bool:
		return Type{Codec: codec.Bool}, nil
	case wit.U8:
		return Type{Codec: codec.Uint8}, nil
	case wit.S8:
		return Type{Codec: codec.Int8}, nil
	case wit.U16:
		return Type{Codec: codec.Uint16}, nil
	case wit.S16:
		return Type{Codec: codec.Int16}, nil
	case wit.U32, wit.Char:
		return Type{Codec: codec.Uint32}, nil
	case wit.S32:
		return Type{Codec: codec.Int32}, nil
	case wit.U64:
		return Type{Codec: codec.Uint64}, nil
	case wit.S64:
		return Type{Codec: codec.Int64}, nil
	case wit.F32:
		return Type{Codec: codec.Float}, nil
	case wit.F64:
		return Type{Codec: codec.Double}, nil
	case wit.String:
		return Type{Codec: codec.String}, nil
	case *wit.TypeDef:
		if cached, ok := b.cache.Load(t); ok {
			return cached.(Type), nil
		}
		out, err := b.convertDef(name, t, path)
		if err != nil {
			return Type{}, err
		}
		b.cache.Store(t, out)
		return out, nil
	case nil:
		return Type{}, errors.New(errors.PhaseSchema, errors.KindInvalidInput).
			Path(path...).Detail("missing type").Build()
	default:
		return Type{}, unsupported(path, t)
	}
}

func (b *Builder) convertDef(name string, td *wit.TypeDef, path []string) (Type, error) {
	switch kind := td.Kind.(type) {
	case *wit.Record:
		defs := make([]codec.FieldDef, 0, len(kind.Fields))
		for _, f := range kind.Fields {
			def, err := b.field(name+"."+f.Name, f.Name, f.Type, child(path, f.Name))
			if err != nil {
				return Type{}, err
			}
			defs = append(defs, def)
		}
		return b.pack(name, defs, path)

	case *wit.Tuple:
		defs := make([]codec.FieldDef, 0, len(kind.Types))
		for i, et := range kind.Types {
			fname := "f" + strconv.Itoa(i)
			def, err := b.field(name+"."+fname, fname, et, child(path, fname))
			if err != nil {
				return Type{}, err
			}
			defs = append(defs, def)
		}
		return b.pack(name, defs, path)

	case *wit.List:
		elem, err := b.convert(name+".item", kind.Type, child(path, "[]"))
		if err != nil {
			return Type{}, err
		}
		return Type{Codec: codec.ArrayOf(elem.Codec, elem.Nullable)}, nil

	case *wit.Option:
		inner, err := b.convert(name, kind.Type, path)
		if err != nil {
			return Type{}, err
		}
		if inner.Nullable {
			return Type{}, errors.Unsupported(errors.PhaseSchema, "nested option at "+joinPath(path))
		}
		return Type{Codec: inner.Codec, Nullable: true}, nil

	case *wit.Variant:
		fields := make(map[string]codec.UnionField, len(kind.Cases))
		for i, c := range kind.Cases {
			uf, err := b.unionField(name+"."+c.Name, c.Type, uint32(i), child(path, c.Name))
			if err != nil {
				return Type{}, err
			}
			fields[c.Name] = uf
		}
		return Type{Codec: codec.NewUnionSpec(name, fields)}, nil

	case *wit.Result:
		ok, err := b.unionField(name+".ok", kind.OK, 0, child(path, "ok"))
		if err != nil {
			return Type{}, err
		}
		fail, err := b.unionField(name+".err", kind.Err, 1, child(path, "err"))
		if err != nil {
			return Type{}, err
		}
		return Type{Codec: codec.NewUnionSpec(name, map[string]codec.UnionField{"ok": ok, "err": fail})}, nil

	case *wit.Enum:
		values := make([]int32, len(kind.Cases))
		for i := range kind.Cases {
			values[i] = int32(i)
		}
		return Type{Codec: &codec.EnumSpec{Name: name, Values: values}}, nil

	case *wit.Flags:
		switch n := len(kind.Flags); {
		case n <= 32:
			return Type{Codec: codec.Uint32}, nil
		case n <= 64:
			return Type{Codec: codec.Uint64}, nil
		default:
			return Type{}, errors.Unsupported(errors.PhaseSchema,
				fmt.Sprintf("flags with %d members at %s", n, joinPath(path)))
		}

	case *wit.Own, *wit.Borrow:
		return Type{Codec: codec.Handle}, nil

	case wit.Type:
		// type alias
		return b.convert(name, kind, path)

	default:
		return Type{}, unsupported(path, td.Kind)
	}
}

func (b *Builder) field(name, fieldName string, t wit.Type, path []string) (codec.FieldDef, error) {
	ft, err := b.convert(name, t, path)
	if err != nil {
		return codec.FieldDef{}, err
	}
	return codec.FieldDef{Name: fieldName, Type: ft.Codec, Nullable: ft.Nullable}, nil
}

// unionField converts a variant case. Cases without a payload carry an
// empty struct.
func (b *Builder) unionField(name string, t wit.Type, ordinal uint32, path []string) (codec.UnionField, error) {
	if t == nil {
		empty, err := codec.PackStruct(name, nil)
		if err != nil {
			return codec.UnionField{}, err
		}
		return codec.UnionField{Type: empty, Ordinal: ordinal}, nil
	}
	ct, err := b.convert(name, t, path)
	if err != nil {
		return codec.UnionField{}, err
	}
	if ct.Nullable && ct.Codec.IsValueType() {
		return codec.UnionField{}, errors.Unsupported(errors.PhaseSchema,
			"optional scalar variant payload at "+joinPath(path))
	}
	return codec.UnionField{Type: ct.Codec, Ordinal: ordinal, Nullable: ct.Nullable}, nil
}

func (b *Builder) pack(name string, defs []codec.FieldDef, path []string) (Type, error) {
	spec, err := codec.PackStruct(name, defs)
	if err != nil {
		return Type{}, errors.WithPath(err, joinPath(path))
	}
	return Type{Codec: spec}, nil
}

func unsupported(path []string, t any) error {
	return errors.New(errors.PhaseSchema, errors.KindUnsupported).
		Path(path...).Detail("unsupported WIT type %T", t).Build()
}

func child(path []string, elem string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, elem)
}

func joinPath(path []string) string {
	return strings.Join(path, ".")
}
