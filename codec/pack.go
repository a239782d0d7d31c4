package codec

import (
	"github.com/wippyai/pipebind/codec/internal/layout"
	"github.com/wippyai/pipebind/errors"
)

// FieldDef declares one logical struct field for PackStruct.
type FieldDef struct {
	Type       Type
	Default    any
	Name       string
	MinVersion uint32
	Nullable   bool
}

// Suffixes of the two wire fields that carry a nullable value-typed field.
const (
	NullableFlagSuffix  = "_$flag"
	NullableValueSuffix = "_$value"
)

// PackStruct lays out fields the way struct packing works on the wire:
// declaration order, each field in the first hole that fits its alignment,
// bools sharing bytes bit by bit. Nullable value-typed fields become a
// presence flag and a value field.
func PackStruct(name string, defs []FieldDef) (*StructSpec, error) {
	var (
		fields []StructField
		packed []layout.Field
		last   uint32
	)
	for _, def := range defs {
		if def.Type == nil {
			return nil, errors.InvalidInput(errors.PhaseSchema, "field "+name+"."+def.Name+" has no type")
		}
		if def.MinVersion < last {
			return nil, errors.InvalidInput(errors.PhaseSchema,
				"field "+name+"."+def.Name+" has a lower min version than a preceding field")
		}
		last = def.MinVersion

		if def.Nullable && def.Type.IsValueType() {
			flagName := def.Name + NullableFlagSuffix
			valueName := def.Name + NullableValueSuffix
			value := def.Default
			if value == nil {
				value = placeholder(def.Type)
			}
			fields = append(fields,
				StructField{
					Name:       flagName,
					Type:       Bool,
					MinVersion: def.MinVersion,
					NullableValueKind: &NullableValueKind{
						IsPrimary:            true,
						OriginalFieldName:    def.Name,
						LinkedValueFieldName: valueName,
					},
				},
				StructField{
					Name:       valueName,
					Type:       def.Type,
					Default:    value,
					MinVersion: def.MinVersion,
					NullableValueKind: &NullableValueKind{
						OriginalFieldName: def.Name,
					},
				})
			for _, t := range []Type{Bool, def.Type} {
				f, err := packField(t, false, def.MinVersion)
				if err != nil {
					return nil, errors.WithPath(err, def.Name)
				}
				packed = append(packed, f)
			}
			continue
		}

		f, err := packField(def.Type, def.Nullable, def.MinVersion)
		if err != nil {
			return nil, errors.WithPath(err, def.Name)
		}
		packed = append(packed, f)
		fields = append(fields, StructField{
			Name:       def.Name,
			Type:       def.Type,
			Default:    def.Default,
			Nullable:   def.Nullable,
			MinVersion: def.MinVersion,
		})
	}

	places, versions := layout.Pack(packed)
	for i := range fields {
		fields[i].PackedOffset = places[i].Offset
		fields[i].PackedBitOffset = places[i].Bit
	}
	structVersions := make([]StructVersion, len(versions))
	for i, v := range versions {
		structVersions[i] = StructVersion{Version: v.Version, PackedSize: v.PackedSize}
	}
	packedSize := structVersions[len(structVersions)-1].PackedSize
	return NewStructSpec(name, packedSize, fields, structVersions...), nil
}

func packField(t Type, nullable bool, minVersion uint32) (layout.Field, error) {
	f := layout.Field{MinVersion: minVersion}
	switch t.Kind() {
	case KindBool:
		f.IsBool = true
		f.Size, f.Align = 1, 1
	case KindAssociatedInterfaceProxy, KindInterfaceProxy:
		f.Size, f.Align = 8, 4
	case KindAssociatedInterfaceRequest:
		f.Size, f.Align = 4, 4
	case KindUnion:
		if nullable {
			f.Size, f.Align = 8, 8
		} else {
			f.Size, f.Align = UnionDataSize, 8
		}
	default:
		size, err := t.ArrayElementSize(nullable)
		if err != nil {
			return layout.Field{}, err
		}
		f.Size, f.Align = size, size
	}
	return f, nil
}

// placeholder is written in place of an absent nullable value.
func placeholder(t Type) any {
	if e, ok := t.(*EnumSpec); ok && len(e.Values) > 0 {
		return e.Values[0]
	}
	return zeroValue(t)
}
