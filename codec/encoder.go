package codec

import (
	"encoding/binary"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/wippyai/pipebind"
	"github.com/wippyai/pipebind/codec/internal/abi"
	"github.com/wippyai/pipebind/errors"
)

// Encoder writes values into one allocated region of a Message. Nested
// out-of-line values get their own Encoder over a freshly allocated region.
type Encoder struct {
	msg   *Message
	ctx   *Context
	base  uint32
	size  uint32
	depth int
}

// region returns an Encoder for a freshly allocated out-of-line region.
// Each pointer level counts toward abi.MaxNestingDepth.
func (e *Encoder) region(abs, size uint32) (*Encoder, error) {
	if e.depth >= abi.MaxNestingDepth {
		return nil, errors.New(errors.PhaseEncode, errors.KindOverflow).
			Detail("nesting depth exceeds %d", abi.MaxNestingDepth).Build()
	}
	return &Encoder{msg: e.msg, ctx: e.ctx, base: abs, size: abi.Align8(size), depth: e.depth + 1}, nil
}

func (e *Encoder) slot(offset, n uint32) ([]byte, error) {
	if uint64(offset)+uint64(n) > uint64(e.size) {
		return nil, errors.OutOfBounds(errors.PhaseEncode, nil, int(offset)+int(n), int(e.size))
	}
	start := e.base + offset
	return e.msg.buf[start : start+n], nil
}

func (e *Encoder) EncodeBool(byteOffset uint32, bitOffset uint8, value bool) error {
	b, err := e.slot(byteOffset, 1)
	if err != nil {
		return err
	}
	if value {
		b[0] |= 1 << bitOffset
	} else {
		b[0] &^= 1 << bitOffset
	}
	return nil
}

func (e *Encoder) EncodeInt8(offset uint32, value int8) error {
	return e.EncodeUint8(offset, uint8(value))
}

func (e *Encoder) EncodeUint8(offset uint32, value uint8) error {
	b, err := e.slot(offset, 1)
	if err != nil {
		return err
	}
	b[0] = value
	return nil
}

func (e *Encoder) EncodeInt16(offset uint32, value int16) error {
	return e.EncodeUint16(offset, uint16(value))
}

func (e *Encoder) EncodeUint16(offset uint32, value uint16) error {
	b, err := e.slot(offset, 2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b, value)
	return nil
}

func (e *Encoder) EncodeInt32(offset uint32, value int32) error {
	return e.EncodeUint32(offset, uint32(value))
}

func (e *Encoder) EncodeUint32(offset uint32, value uint32) error {
	b, err := e.slot(offset, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, value)
	return nil
}

func (e *Encoder) EncodeInt64(offset uint32, value int64) error {
	return e.EncodeUint64(offset, uint64(value))
}

func (e *Encoder) EncodeUint64(offset uint32, value uint64) error {
	b, err := e.slot(offset, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, value)
	return nil
}

func (e *Encoder) EncodeFloat(offset uint32, value float32) error {
	return e.EncodeUint32(offset, math.Float32bits(value))
}

func (e *Encoder) EncodeDouble(offset uint32, value float64) error {
	return e.EncodeUint64(offset, math.Float64bits(value))
}

// EncodeHandle appends h to the message's handle list and writes its index.
func (e *Encoder) EncodeHandle(offset uint32, h pipebind.Handle) error {
	if h == pipebind.InvalidHandle {
		return e.EncodeUint32(offset, EncodedInvalidHandle)
	}
	if err := e.EncodeUint32(offset, uint32(len(e.msg.handles))); err != nil {
		return err
	}
	e.msg.handles = append(e.msg.handles, h)
	return nil
}

// EncodeAssociatedEndpoint associates the local peer of ep with the sending
// endpoint's router and records the assigned id in the interface id table.
func (e *Encoder) EncodeAssociatedEndpoint(offset uint32, ep AssociatedEndpoint) error {
	if !ep.IsPendingAssociation() {
		return errors.InvalidInput(errors.PhaseEncode, "expected unbound associated endpoint")
	}
	if e.ctx == nil || e.ctx.Endpoint == nil {
		return errors.InvalidState(errors.PhaseEncode, "cannot encode associated endpoint without a sending endpoint")
	}
	if e.msg.nextID >= e.msg.numIDs {
		return errors.OutOfBounds(errors.PhaseEncode, nil, int(e.msg.nextID), int(e.msg.numIDs))
	}
	id, err := e.ctx.Endpoint.AssociatePeerOfOutgoingEndpoint(ep)
	if err != nil {
		return err
	}
	index := e.msg.nextID
	e.msg.nextID++
	slot := e.msg.idTable + ArrayHeaderSize + 4*index
	binary.LittleEndian.PutUint32(e.msg.buf[slot:], id)
	return e.EncodeUint32(offset, index)
}

// EncodeOffset writes a pointer at offset to the absolute buffer position abs.
func (e *Encoder) EncodeOffset(offset, abs uint32) error {
	return e.EncodeUint64(offset, uint64(abs)-uint64(e.base+offset))
}

func (e *Encoder) EncodeString(offset uint32, value string) error {
	if !utf8.ValidString(value) {
		return errors.InvalidUTF8(errors.PhaseEncode, nil, []byte(value))
	}
	if len(value) > abi.MaxStringSize {
		return errors.New(errors.PhaseEncode, errors.KindOverflow).
			Detail("string length %d exceeds maximum %d", len(value), abi.MaxStringSize).Build()
	}
	size := uint32(ArrayHeaderSize + len(value))
	abs, err := e.msg.allocate(size)
	if err != nil {
		return err
	}
	if err := e.EncodeOffset(offset, abs); err != nil {
		return err
	}
	ae, err := e.region(abs, size)
	if err != nil {
		return err
	}
	if err := ae.EncodeUint32(0, size); err != nil {
		return err
	}
	if err := ae.EncodeUint32(4, uint32(len(value))); err != nil {
		return err
	}
	copy(e.msg.buf[abs+ArrayHeaderSize:], value)
	return nil
}

func (e *Encoder) EncodeArray(spec *ArraySpec, offset uint32, values []any) error {
	if len(values) > abi.MaxArrayLength {
		return errors.New(errors.PhaseEncode, errors.KindOverflow).
			Detail("array length %d exceeds maximum %d", len(values), abi.MaxArrayLength).Build()
	}
	n := uint32(len(values))
	size, err := spec.inlineSize(n)
	if err != nil {
		return err
	}
	abs, err := e.msg.allocate(size)
	if err != nil {
		return err
	}
	if err := e.EncodeOffset(offset, abs); err != nil {
		return err
	}

	ae, err := e.region(abs, size)
	if err != nil {
		return err
	}
	if err := ae.EncodeUint32(0, size); err != nil {
		return err
	}
	if err := ae.EncodeUint32(4, n); err != nil {
		return err
	}

	bitfield := spec.hasValueBitfieldSize(n)
	if bitfield > 0 {
		for i, v := range values {
			if err := ae.EncodeBool(ArrayHeaderSize+uint32(i)/8, uint8(i%8), !isNull(v)); err != nil {
				return err
			}
		}
	}

	byteOffset := ArrayHeaderSize + bitfield
	if spec.Element.Kind() == KindBool {
		for i, v := range values {
			b := false
			if isNull(v) {
				if !spec.ElementNullable {
					return errors.WithPath(nullElementError(), strconv.Itoa(i))
				}
			} else {
				var ok bool
				if b, ok = v.(bool); !ok {
					return errors.TypeMismatch(errors.PhaseEncode, []string{strconv.Itoa(i)}, abi.TypeName(v), "bool")
				}
			}
			if err := ae.EncodeBool(byteOffset+uint32(i)/8, uint8(i%8), b); err != nil {
				return err
			}
		}
		return nil
	}

	elemSize, err := spec.Element.ArrayElementSize(spec.ElementNullable)
	if err != nil {
		return err
	}
	for i, v := range values {
		if isNull(v) {
			if !spec.ElementNullable {
				return errors.WithPath(nullElementError(), strconv.Itoa(i))
			}
			err = spec.Element.EncodeNull(ae, byteOffset)
		} else {
			err = spec.Element.Encode(ae, v, byteOffset, 0, spec.ElementNullable)
		}
		if err != nil {
			return errors.WithPath(err, strconv.Itoa(i))
		}
		byteOffset += elemSize
	}
	return nil
}

func nullElementError() error {
	return errors.InvalidInput(errors.PhaseEncode, "null element in an array of non-nullable elements")
}

func (e *Encoder) EncodeMap(spec *MapSpec, offset uint32, m *OrderedMap) error {
	abs, err := e.msg.allocate(MapDataSize)
	if err != nil {
		return err
	}
	if err := e.EncodeOffset(offset, abs); err != nil {
		return err
	}
	me, err := e.region(abs, MapDataSize)
	if err != nil {
		return err
	}
	if err := me.EncodeUint32(0, MapDataSize); err != nil {
		return err
	}
	if err := me.EncodeUint32(4, 0); err != nil {
		return err
	}
	if err := me.EncodeArray(spec.keys(), 8, m.keys); err != nil {
		return errors.WithPath(err, "keys")
	}
	if err := me.EncodeArray(spec.values(), 16, m.values); err != nil {
		return errors.WithPath(err, "values")
	}
	return nil
}

func (e *Encoder) EncodeStruct(spec *StructSpec, offset uint32, value map[string]any) error {
	abs, err := e.msg.allocate(spec.PackedSize)
	if err != nil {
		return err
	}
	if err := e.EncodeOffset(offset, abs); err != nil {
		return err
	}
	se, err := e.region(abs, spec.PackedSize)
	if err != nil {
		return err
	}
	return se.EncodeStructInline(spec, value)
}

// EncodeStructInline writes the struct header and every field into the
// Encoder's own region.
func (e *Encoder) EncodeStructInline(spec *StructSpec, value map[string]any) error {
	if err := e.EncodeUint32(0, spec.PackedSize); err != nil {
		return err
	}
	if err := e.EncodeUint32(4, spec.LatestVersion()); err != nil {
		return err
	}

	for i := range spec.Fields {
		f := &spec.Fields[i]
		if err := e.encodeField(spec, f, value); err != nil {
			return errors.WithPath(err, f.Name)
		}
	}
	return nil
}

func (e *Encoder) encodeField(spec *StructSpec, f *StructField, value map[string]any) error {
	byteOffset := StructHeaderSize + f.PackedOffset

	if nvk := f.NullableValueKind; nvk != nil {
		original := value[nvk.OriginalFieldName]
		hasValue := !isNull(original)
		switch {
		case nvk.IsPrimary:
			return f.Type.Encode(e, hasValue, byteOffset, f.PackedBitOffset, f.Nullable)
		case hasValue:
			return f.Type.Encode(e, original, byteOffset, f.PackedBitOffset, f.Nullable)
		case !isNull(f.Default):
			return f.Type.Encode(e, f.Default, byteOffset, f.PackedBitOffset, f.Nullable)
		default:
			return nil
		}
	}

	if v := value[f.Name]; !isNull(v) {
		return f.Type.Encode(e, v, byteOffset, f.PackedBitOffset, f.Nullable)
	}
	if !isNull(f.Default) {
		return f.Type.Encode(e, f.Default, byteOffset, f.PackedBitOffset, f.Nullable)
	}
	if f.Nullable {
		return f.Type.EncodeNull(e, byteOffset)
	}
	return errors.FieldMissing(errors.PhaseEncode, nil, spec.Name, f.Name)
}

// EncodeUnionAsPointer stores the union out of line and writes a pointer to it.
func (e *Encoder) EncodeUnionAsPointer(spec *UnionSpec, offset uint32, value Union) error {
	abs, err := e.msg.allocate(UnionDataSize)
	if err != nil {
		return err
	}
	if err := e.EncodeOffset(offset, abs); err != nil {
		return err
	}
	ue, err := e.region(abs, UnionDataSize)
	if err != nil {
		return err
	}
	return ue.EncodeUnion(spec, 0, value)
}

// EncodeUnion writes the 16-byte inline union at offset.
func (e *Encoder) EncodeUnion(spec *UnionSpec, offset uint32, value Union) error {
	field, ok := spec.Fields[value.Tag]
	if !ok {
		return errors.InvalidTag(errors.PhaseEncode, nil, spec.Name, value.Tag)
	}
	if err := e.EncodeUint32(offset, UnionDataSize); err != nil {
		return err
	}
	if err := e.EncodeUint32(offset+4, field.Ordinal); err != nil {
		return err
	}

	payload := offset + UnionHeaderSize
	var err error
	switch {
	case isNull(value.Value):
		if !field.Nullable {
			err = errors.FieldMissing(errors.PhaseEncode, nil, spec.Name, value.Tag)
		} else {
			err = field.Type.EncodeNull(e, payload)
		}
	case field.Type.Kind() == KindUnion:
		// Unions nested in unions are always stored out of line.
		err = field.Type.Encode(e, value.Value, payload, 0, true)
	default:
		err = field.Type.Encode(e, value.Value, payload, 0, field.Nullable)
	}
	return errors.WithPath(err, value.Tag)
}
