package codec

import (
	"github.com/wippyai/pipebind/codec/internal/abi"
	"github.com/wippyai/pipebind/errors"
)

// Type describes how one kind of value is laid out on the wire.
//
// byteOffset and bitOffset are relative to the region the Encoder or Decoder
// covers. bitOffset is only meaningful for Bool. nullable reports whether the
// position being written may hold a null.
type Type interface {
	Kind() Kind
	Encode(e *Encoder, value any, byteOffset uint32, bitOffset uint8, nullable bool) error
	EncodeNull(e *Encoder, byteOffset uint32) error
	Decode(d *Decoder, byteOffset uint32, bitOffset uint8, nullable bool) (any, error)
	ArrayElementSize(nullable bool) (uint32, error)
	IsValueType() bool
	IsValidObjectKeyType() bool
}

// Dimensioned is implemented by types whose values need out-of-line storage.
type Dimensioned interface {
	ComputeDimensions(value any, nullable bool) (Dimensions, error)
}

// InterfaceIDHolder is implemented by types that consume a slot in the
// message's associated interface id table.
type InterfaceIDHolder interface {
	HasInterfaceID() bool
}

// Dimensions is the out-of-line storage a value needs.
type Dimensions struct {
	Size            uint32
	NumInterfaceIDs uint32
}

func (d *Dimensions) add(other Dimensions) error {
	size, ok := abi.SafeAddU32(d.Size, abi.Align8(other.Size))
	if !ok {
		return errors.New(errors.PhaseEncode, errors.KindOverflow).Detail("message size overflows uint32").Build()
	}
	d.Size = size
	d.NumInterfaceIDs += other.NumInterfaceIDs
	return nil
}

// dimensionsOf computes the contribution of one non-null value held in a
// position of type t.
func dimensionsOf(t Type, value any, nullable bool) (Dimensions, error) {
	if d, ok := t.(Dimensioned); ok {
		return d.ComputeDimensions(value, nullable)
	}
	if h, ok := t.(InterfaceIDHolder); ok && h.HasInterfaceID() {
		return Dimensions{NumInterfaceIDs: 1}, nil
	}
	return Dimensions{}, nil
}

type primitive struct {
	kind Kind
}

// Fixed-width scalar types.
var (
	Bool   Type = primitive{KindBool}
	Int8   Type = primitive{KindInt8}
	Uint8  Type = primitive{KindUint8}
	Int16  Type = primitive{KindInt16}
	Uint16 Type = primitive{KindUint16}
	Int32  Type = primitive{KindInt32}
	Uint32 Type = primitive{KindUint32}
	Int64  Type = primitive{KindInt64}
	Uint64 Type = primitive{KindUint64}
	Float  Type = primitive{KindFloat}
	Double Type = primitive{KindDouble}
)

func (p primitive) Kind() Kind { return p.kind }

func (p primitive) Encode(e *Encoder, value any, byteOffset uint32, bitOffset uint8, _ bool) error {
	switch p.kind {
	case KindBool:
		b, ok := value.(bool)
		if !ok {
			return errors.TypeMismatch(errors.PhaseEncode, nil, abi.TypeName(value), p.kind.String())
		}
		return e.EncodeBool(byteOffset, bitOffset, b)
	case KindInt8, KindInt16, KindInt32, KindInt64:
		v, ok := abi.CoerceSigned(value, p.bits())
		if !ok {
			return p.numberError(value)
		}
		switch p.kind {
		case KindInt8:
			return e.EncodeInt8(byteOffset, int8(v))
		case KindInt16:
			return e.EncodeInt16(byteOffset, int16(v))
		case KindInt32:
			return e.EncodeInt32(byteOffset, int32(v))
		default:
			return e.EncodeInt64(byteOffset, v)
		}
	case KindUint8, KindUint16, KindUint32, KindUint64:
		v, ok := abi.CoerceUnsigned(value, p.bits())
		if !ok {
			return p.numberError(value)
		}
		switch p.kind {
		case KindUint8:
			return e.EncodeUint8(byteOffset, uint8(v))
		case KindUint16:
			return e.EncodeUint16(byteOffset, uint16(v))
		case KindUint32:
			return e.EncodeUint32(byteOffset, uint32(v))
		default:
			return e.EncodeUint64(byteOffset, v)
		}
	case KindFloat:
		f, ok := abi.CoerceToFloat64(value)
		if !ok {
			return errors.TypeMismatch(errors.PhaseEncode, nil, abi.TypeName(value), p.kind.String())
		}
		return e.EncodeFloat(byteOffset, float32(f))
	default:
		f, ok := abi.CoerceToFloat64(value)
		if !ok {
			return errors.TypeMismatch(errors.PhaseEncode, nil, abi.TypeName(value), p.kind.String())
		}
		return e.EncodeDouble(byteOffset, f)
	}
}

func (p primitive) numberError(value any) error {
	if _, ok := abi.CoerceToFloat64(value); ok {
		return errors.Overflow(errors.PhaseEncode, nil, value, p.kind.String())
	}
	return errors.TypeMismatch(errors.PhaseEncode, nil, abi.TypeName(value), p.kind.String())
}

func (p primitive) EncodeNull(_ *Encoder, _ uint32) error {
	if p.kind == KindBool {
		return errors.Unsupported(errors.PhaseEncode, "encoding a null bool is not supported")
	}
	return nil
}

func (p primitive) Decode(d *Decoder, byteOffset uint32, bitOffset uint8, _ bool) (any, error) {
	switch p.kind {
	case KindBool:
		return d.DecodeBool(byteOffset, bitOffset)
	case KindInt8:
		return d.DecodeInt8(byteOffset)
	case KindUint8:
		return d.DecodeUint8(byteOffset)
	case KindInt16:
		return d.DecodeInt16(byteOffset)
	case KindUint16:
		return d.DecodeUint16(byteOffset)
	case KindInt32:
		return d.DecodeInt32(byteOffset)
	case KindUint32:
		return d.DecodeUint32(byteOffset)
	case KindInt64:
		return d.DecodeInt64(byteOffset)
	case KindUint64:
		return d.DecodeUint64(byteOffset)
	case KindFloat:
		return d.DecodeFloat(byteOffset)
	default:
		return d.DecodeDouble(byteOffset)
	}
}

func (p primitive) bits() uint {
	size, _ := p.ArrayElementSize(false)
	return uint(size) * 8
}

func (p primitive) ArrayElementSize(bool) (uint32, error) {
	switch p.kind {
	case KindBool, KindInt8, KindUint8:
		return 1, nil
	case KindInt16, KindUint16:
		return 2, nil
	case KindInt32, KindUint32, KindFloat:
		return 4, nil
	default:
		return 8, nil
	}
}

func (p primitive) IsValueType() bool          { return true }
func (p primitive) IsValidObjectKeyType() bool { return true }

// zeroValue is the placeholder written for an absent nullable value.
func zeroValue(t Type) any {
	switch t.Kind() {
	case KindBool:
		return false
	case KindInt8:
		return int8(0)
	case KindUint8:
		return uint8(0)
	case KindInt16:
		return int16(0)
	case KindUint16:
		return uint16(0)
	case KindInt32, KindEnum:
		return int32(0)
	case KindUint32:
		return uint32(0)
	case KindInt64:
		return int64(0)
	case KindUint64:
		return uint64(0)
	case KindFloat:
		return float32(0)
	case KindDouble:
		return float64(0)
	default:
		return nil
	}
}
