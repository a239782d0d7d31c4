package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/wippyai/pipebind"
	"github.com/wippyai/pipebind/codec/internal/abi"
	"github.com/wippyai/pipebind/errors"
)

// Decoder reads values from one region of a received message. buf always
// holds the whole message so associated endpoints can reach the header's
// interface id table.
type Decoder struct {
	buf     []byte
	handles []pipebind.Handle
	ctx     *Context
	base    uint32
	depth   int
}

// NewDecoder creates a Decoder whose region starts at byte 0 of buf.
func NewDecoder(buf []byte, handles []pipebind.Handle, ctx *Context) *Decoder {
	return &Decoder{buf: buf, handles: handles, ctx: ctx}
}

// at returns a Decoder for the region a pointer leads to. Each pointer level
// counts toward abi.MaxNestingDepth.
func (d *Decoder) at(abs uint32) (*Decoder, error) {
	if d.depth >= abi.MaxNestingDepth {
		return nil, errors.New(errors.PhaseDecode, errors.KindOverflow).
			Detail("nesting depth exceeds %d", abi.MaxNestingDepth).Build()
	}
	return &Decoder{buf: d.buf, handles: d.handles, ctx: d.ctx, base: abs, depth: d.depth + 1}, nil
}

func (d *Decoder) slot(offset, n uint32) ([]byte, error) {
	start := uint64(d.base) + uint64(offset)
	if start+uint64(n) > uint64(len(d.buf)) {
		return nil, errors.OutOfBounds(errors.PhaseDecode, nil, int(start+uint64(n)), len(d.buf))
	}
	return d.buf[start : start+uint64(n)], nil
}

func (d *Decoder) DecodeBool(byteOffset uint32, bitOffset uint8) (bool, error) {
	b, err := d.slot(byteOffset, 1)
	if err != nil {
		return false, err
	}
	return b[0]&(1<<bitOffset) != 0, nil
}

func (d *Decoder) DecodeInt8(offset uint32) (int8, error) {
	v, err := d.DecodeUint8(offset)
	return int8(v), err
}

func (d *Decoder) DecodeUint8(offset uint32) (uint8, error) {
	b, err := d.slot(offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) DecodeInt16(offset uint32) (int16, error) {
	v, err := d.DecodeUint16(offset)
	return int16(v), err
}

func (d *Decoder) DecodeUint16(offset uint32) (uint16, error) {
	b, err := d.slot(offset, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (d *Decoder) DecodeInt32(offset uint32) (int32, error) {
	v, err := d.DecodeUint32(offset)
	return int32(v), err
}

func (d *Decoder) DecodeUint32(offset uint32) (uint32, error) {
	b, err := d.slot(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *Decoder) DecodeInt64(offset uint32) (int64, error) {
	v, err := d.DecodeUint64(offset)
	return int64(v), err
}

func (d *Decoder) DecodeUint64(offset uint32) (uint64, error) {
	b, err := d.slot(offset, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (d *Decoder) DecodeFloat(offset uint32) (float32, error) {
	v, err := d.DecodeUint32(offset)
	return math.Float32frombits(v), err
}

func (d *Decoder) DecodeDouble(offset uint32) (float64, error) {
	v, err := d.DecodeUint64(offset)
	return math.Float64frombits(v), err
}

// DecodeHandle returns the handle referenced at offset, or nil for the
// invalid handle index.
func (d *Decoder) DecodeHandle(offset uint32) (any, error) {
	index, err := d.DecodeUint32(offset)
	if err != nil {
		return nil, err
	}
	if index == EncodedInvalidHandle {
		return nil, nil
	}
	if int(index) >= len(d.handles) {
		return nil, errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
			Detail("decoded invalid handle index %d (%d handles)", index, len(d.handles)).Build()
	}
	return d.handles[index], nil
}

// DecodeOffset resolves the pointer at offset to an absolute buffer position.
// Zero means null.
func (d *Decoder) DecodeOffset(offset uint32) (uint32, error) {
	rel, err := d.DecodeUint64(offset)
	if err != nil {
		return 0, err
	}
	if rel == 0 {
		return 0, nil
	}
	abs := uint64(d.base) + uint64(offset) + rel
	if abs >= uint64(len(d.buf)) || rel > uint64(len(d.buf)) {
		return 0, errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
			Detail("pointer to %d outside message of %d bytes", abs, len(d.buf)).Build()
	}
	if abs%8 != 0 {
		return 0, errors.InvalidData(errors.PhaseDecode, nil, fmt.Sprintf("misaligned pointer target %d", abs))
	}
	return uint32(abs), nil
}

// arrayRegion validates the array header at the pointer in offset and
// returns a Decoder over it with its element count.
func (d *Decoder) arrayRegion(spec *ArraySpec, offset uint32) (*Decoder, uint32, error) {
	abs, err := d.DecodeOffset(offset)
	if err != nil || abs == 0 {
		return nil, 0, err
	}
	ad, err := d.at(abs)
	if err != nil {
		return nil, 0, err
	}
	numBytes, err := ad.DecodeUint32(0)
	if err != nil {
		return nil, 0, err
	}
	n, err := ad.DecodeUint32(4)
	if err != nil {
		return nil, 0, err
	}
	if n > abi.MaxArrayLength {
		return nil, 0, errors.New(errors.PhaseDecode, errors.KindOverflow).
			Detail("array length %d exceeds maximum %d", n, abi.MaxArrayLength).Build()
	}
	want, err := spec.inlineSize(n)
	if err != nil {
		return nil, 0, err
	}
	if numBytes < want {
		return nil, 0, errors.InvalidData(errors.PhaseDecode, nil,
			fmt.Sprintf("array of %d elements declares %d bytes, need %d", n, numBytes, want))
	}
	if uint64(abs)+uint64(numBytes) > uint64(len(d.buf)) {
		return nil, 0, errors.OutOfBounds(errors.PhaseDecode, nil, int(abs)+int(numBytes), len(d.buf))
	}
	return ad, n, nil
}

func (d *Decoder) DecodeString(offset uint32) (any, error) {
	b, err := d.decodeBytes(offset)
	if err != nil || b == nil {
		return nil, err
	}
	if !utf8.Valid(b) {
		return nil, errors.InvalidUTF8(errors.PhaseDecode, nil, b)
	}
	return string(b), nil
}

func (d *Decoder) decodeBytes(offset uint32) ([]byte, error) {
	ad, n, err := d.arrayRegion(byteArray, offset)
	if err != nil || ad == nil {
		return nil, err
	}
	b, err := ad.slot(ArrayHeaderSize, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (d *Decoder) DecodeArray(spec *ArraySpec, offset uint32) (any, error) {
	ad, n, err := d.arrayRegion(spec, offset)
	if err != nil || ad == nil {
		return nil, err
	}
	result := make([]any, 0, n)
	if n == 0 {
		return result, nil
	}

	var hasValue []bool
	bitfield := spec.hasValueBitfieldSize(n)
	if bitfield > 0 {
		hasValue = make([]bool, n)
		for i := uint32(0); i < n; i++ {
			if hasValue[i], err = ad.DecodeBool(ArrayHeaderSize+i/8, uint8(i%8)); err != nil {
				return nil, err
			}
		}
	}

	byteOffset := ArrayHeaderSize + bitfield
	if spec.Element.Kind() == KindBool {
		for i := uint32(0); i < n; i++ {
			if hasValue != nil && !hasValue[i] {
				result = append(result, nil)
				continue
			}
			b, err := ad.DecodeBool(byteOffset+i/8, uint8(i%8))
			if err != nil {
				return nil, err
			}
			result = append(result, b)
		}
		return result, nil
	}

	elemSize, err := spec.Element.ArrayElementSize(spec.ElementNullable)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		if hasValue != nil && !hasValue[i] {
			result = append(result, nil)
		} else {
			v, err := spec.Element.Decode(ad, byteOffset, 0, spec.ElementNullable)
			if err != nil {
				return nil, errors.WithPath(err, strconv.Itoa(int(i)))
			}
			if v == nil && !spec.ElementNullable {
				return nil, errors.InvalidData(errors.PhaseDecode, []string{strconv.Itoa(int(i))}, "received unexpected null array element")
			}
			result = append(result, v)
		}
		byteOffset += elemSize
	}
	return result, nil
}

func (d *Decoder) DecodeMap(spec *MapSpec, offset uint32) (any, error) {
	abs, err := d.DecodeOffset(offset)
	if err != nil || abs == 0 {
		return nil, err
	}
	md, err := d.at(abs)
	if err != nil {
		return nil, err
	}
	size, err := md.DecodeUint32(0)
	if err != nil {
		return nil, err
	}
	version, err := md.DecodeUint32(4)
	if err != nil {
		return nil, err
	}
	if size != MapDataSize || version != 0 {
		return nil, errors.InvalidData(errors.PhaseDecode, nil, "received invalid map data")
	}

	keys, err := md.DecodeArray(spec.keys(), 8)
	if err != nil {
		return nil, errors.WithPath(err, "keys")
	}
	values, err := md.DecodeArray(spec.values(), 16)
	if err != nil {
		return nil, errors.WithPath(err, "values")
	}
	ks, _ := keys.([]any)
	vs, _ := values.([]any)
	if keys == nil || values == nil || len(ks) != len(vs) {
		return nil, errors.InvalidData(errors.PhaseDecode, nil, "received invalid map data")
	}

	m := NewOrderedMap()
	for i := range ks {
		m.Set(ks[i], vs[i])
	}
	return m, nil
}

func (d *Decoder) DecodeStruct(spec *StructSpec, offset uint32) (any, error) {
	abs, err := d.DecodeOffset(offset)
	if err != nil || abs == 0 {
		return nil, err
	}
	sd, err := d.at(abs)
	if err != nil {
		return nil, err
	}
	v, err := sd.DecodeStructInline(spec)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeStructInline validates the struct header at the start of the region
// against the known versions and decodes every field.
func (d *Decoder) DecodeStructInline(spec *StructSpec) (map[string]any, error) {
	size, err := d.DecodeUint32(0)
	if err != nil {
		return nil, err
	}
	version, err := d.DecodeUint32(4)
	if err != nil {
		return nil, err
	}
	if size < StructHeaderSize || !spec.IsHeaderValid(size, version) {
		return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			WireType(spec.Name).
			Detail("received %s of invalid size (%d) and/or version (%d)", spec.Name, size, version).Build()
	}
	if uint64(d.base)+uint64(size) > uint64(len(d.buf)) {
		return nil, errors.OutOfBounds(errors.PhaseDecode, nil, int(d.base)+int(size), len(d.buf))
	}

	result := make(map[string]any, len(spec.Fields))
	for i := range spec.Fields {
		f := &spec.Fields[i]
		if nvk := f.NullableValueKind; nvk != nil {
			switch {
			case nvk.IsPrimary && f.MinVersion > version:
				result[nvk.OriginalFieldName] = nil
			case nvk.IsPrimary:
				hasValue, err := d.decodeField(spec, f)
				if err != nil {
					return nil, err
				}
				if b, _ := hasValue.(bool); !b {
					result[nvk.OriginalFieldName] = nil
				}
			default:
				if _, set := result[nvk.OriginalFieldName]; !set {
					v, err := d.decodeField(spec, f)
					if err != nil {
						return nil, err
					}
					result[nvk.OriginalFieldName] = v
				}
			}
			continue
		}

		if f.MinVersion > version {
			result[f.Name] = f.Default
			continue
		}
		v, err := d.decodeField(spec, f)
		if err != nil {
			return nil, err
		}
		result[f.Name] = v
	}
	return result, nil
}

func (d *Decoder) decodeField(spec *StructSpec, f *StructField) (any, error) {
	v, err := f.Type.Decode(d, StructHeaderSize+f.PackedOffset, f.PackedBitOffset, f.Nullable)
	if err != nil {
		return nil, errors.WithPath(err, f.Name)
	}
	if v == nil && !f.Nullable {
		return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Path(f.Name).
			WireType(spec.Name).
			Detail("received %s with invalid null field %q", spec.Name, f.Name).Build()
	}
	return v, nil
}

func (d *Decoder) DecodeUnionFromPointer(spec *UnionSpec, offset uint32) (any, error) {
	abs, err := d.DecodeOffset(offset)
	if err != nil || abs == 0 {
		return nil, err
	}
	ud, err := d.at(abs)
	if err != nil {
		return nil, err
	}
	return ud.DecodeUnion(spec, 0)
}

// DecodeUnion reads the inline union at offset. A zero size means null.
func (d *Decoder) DecodeUnion(spec *UnionSpec, offset uint32) (any, error) {
	size, err := d.DecodeUint32(offset)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	ordinal, err := d.DecodeUint32(offset + 4)
	if err != nil {
		return nil, err
	}
	tag, ok := spec.byOrdinal[ordinal]
	if !ok {
		return nil, errors.InvalidTag(errors.PhaseDecode, nil, spec.Name, ordinal)
	}
	field := spec.Fields[tag]

	nullable := field.Nullable || field.Type.Kind() == KindUnion
	v, err := field.Type.Decode(d, offset+UnionHeaderSize, 0, nullable)
	if err != nil {
		return nil, errors.WithPath(err, tag)
	}
	if v == nil && !field.Nullable {
		return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Path(tag).
			WireType(spec.Name).
			Detail("received %s with invalid null field %q", spec.Name, tag).Build()
	}
	return Union{Tag: tag, Value: v}, nil
}

// DecodeAssociatedEndpoint resolves the interface id table index at offset
// and asks the receiving endpoint to create the matching local endpoint.
func (d *Decoder) DecodeAssociatedEndpoint(offset uint32) (any, error) {
	index, err := d.DecodeUint32(offset)
	if err != nil {
		return nil, err
	}
	if index == EncodedInvalidHandle {
		return nil, nil
	}
	if d.ctx == nil || d.ctx.Endpoint == nil {
		return nil, errors.InvalidState(errors.PhaseDecode, "cannot decode associated endpoint without a receiving endpoint")
	}
	ids, err := interfaceIDTable(d.buf)
	if err != nil {
		return nil, err
	}
	if int(index) >= len(ids) {
		return nil, errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
			Detail("associated interface index %d exceeds interface id table of %d entries", index, len(ids)).Build()
	}
	return d.ctx.Endpoint.AcceptAssociatedEndpoint(ids[index])
}

// interfaceIDTable reads the trailing associated interface id table of a
// version 2 message. Messages with older headers have no table.
func interfaceIDTable(buf []byte) ([]uint32, error) {
	if len(buf) < MessageV0HeaderSize {
		return nil, errors.OutOfBounds(errors.PhaseDecode, nil, MessageV0HeaderSize, len(buf))
	}
	if binary.LittleEndian.Uint32(buf[4:]) < 2 || len(buf) < MessageV2HeaderSize {
		return nil, nil
	}
	ptr := binary.LittleEndian.Uint64(buf[40:])
	if ptr == 0 {
		return nil, nil
	}
	start := uint64(40) + ptr
	if start+ArrayHeaderSize > uint64(len(buf)) {
		return nil, errors.OutOfBounds(errors.PhaseDecode, nil, int(start), len(buf))
	}
	count := uint64(binary.LittleEndian.Uint32(buf[start+4:]))
	end := start + ArrayHeaderSize + 4*count
	if end > uint64(len(buf)) {
		return nil, errors.OutOfBounds(errors.PhaseDecode, nil, int(end), len(buf))
	}
	ids := make([]uint32, count)
	for i := range ids {
		ids[i] = binary.LittleEndian.Uint32(buf[start+ArrayHeaderSize+4*uint64(i):])
	}
	return ids, nil
}
