package codec

import (
	"github.com/wippyai/pipebind/errors"
)

// UnionField is one alternative of a union.
type UnionField struct {
	Type     Type
	Ordinal  uint32
	Nullable bool
}

// UnionSpec describes a tagged union. Tags are field names; ordinals are
// what travels on the wire.
type UnionSpec struct {
	Fields    map[string]UnionField
	byOrdinal map[uint32]string
	Name      string
}

// NewUnionSpec creates a union descriptor and indexes its ordinals.
func NewUnionSpec(name string, fields map[string]UnionField) *UnionSpec {
	u := &UnionSpec{
		Name:      name,
		Fields:    fields,
		byOrdinal: make(map[uint32]string, len(fields)),
	}
	for tag, f := range fields {
		u.byOrdinal[f.Ordinal] = tag
	}
	return u
}

// TagOf returns the tag registered for ordinal.
func (u *UnionSpec) TagOf(ordinal uint32) (string, bool) {
	tag, ok := u.byOrdinal[ordinal]
	return tag, ok
}

func (u *UnionSpec) Kind() Kind { return KindUnion }

// Encode writes the union inline, or through a pointer when the position is
// nullable.
func (u *UnionSpec) Encode(e *Encoder, value any, byteOffset uint32, _ uint8, nullable bool) error {
	v, err := asUnion(value, u)
	if err != nil {
		return err
	}
	if nullable {
		return e.EncodeUnionAsPointer(u, byteOffset, v)
	}
	return e.EncodeUnion(u, byteOffset, v)
}

func (u *UnionSpec) EncodeNull(e *Encoder, byteOffset uint32) error {
	return e.EncodeUint64(byteOffset, 0)
}

func (u *UnionSpec) Decode(d *Decoder, byteOffset uint32, _ uint8, nullable bool) (any, error) {
	if nullable {
		return d.DecodeUnionFromPointer(u, byteOffset)
	}
	return d.DecodeUnion(u, byteOffset)
}

func (u *UnionSpec) ArrayElementSize(nullable bool) (uint32, error) {
	if nullable {
		return 8, nil
	}
	return UnionDataSize, nil
}

func (u *UnionSpec) IsValueType() bool          { return false }
func (u *UnionSpec) IsValidObjectKeyType() bool { return false }

// ComputeDimensions counts the 16-byte union body only when it is stored out
// of line, plus whatever its active payload needs.
func (u *UnionSpec) ComputeDimensions(value any, nullable bool) (Dimensions, error) {
	v, err := asUnion(value, u)
	if err != nil {
		return Dimensions{}, err
	}
	var dims Dimensions
	if nullable {
		dims.Size = UnionDataSize
	}
	field, ok := u.Fields[v.Tag]
	if !ok {
		return Dimensions{}, errors.InvalidTag(errors.PhaseEncode, nil, u.Name, v.Tag)
	}
	if isNull(v.Value) {
		return dims, nil
	}
	payloadNullable := field.Nullable || field.Type.Kind() == KindUnion
	pd, err := dimensionsOf(field.Type, v.Value, payloadNullable)
	if err != nil {
		return Dimensions{}, errors.WithPath(err, v.Tag)
	}
	if err := dims.add(pd); err != nil {
		return Dimensions{}, err
	}
	return dims, nil
}
