package codec

import (
	"strconv"

	"github.com/wippyai/pipebind/codec/internal/abi"
	"github.com/wippyai/pipebind/errors"
)

// ArraySpec describes a variable-length array. Nullable value-typed
// elements carry a has-value bitfield ahead of the element storage.
type ArraySpec struct {
	Element         Type
	ElementNullable bool
}

// ArrayOf returns an array descriptor.
func ArrayOf(element Type, elementNullable bool) *ArraySpec {
	return &ArraySpec{Element: element, ElementNullable: elementNullable}
}

var byteArray = &ArraySpec{Element: Uint8}

func (a *ArraySpec) hasValueBitfieldSize(n uint32) uint32 {
	if !a.ElementNullable || !a.Element.IsValueType() || n == 0 {
		return 0
	}
	elemSize, err := a.Element.ArrayElementSize(false)
	if err != nil || elemSize == 0 {
		return 0
	}
	bits := elemSize * 8
	return ((n + bits - 1) / bits) * elemSize
}

// inlineSize is the header, bitfield and element storage of an n-element
// array, excluding anything the elements point to.
func (a *ArraySpec) inlineSize(n uint32) (uint32, error) {
	var data uint32
	if a.Element.Kind() == KindBool {
		data = (n + 7) / 8
	} else {
		elemSize, err := a.Element.ArrayElementSize(a.ElementNullable)
		if err != nil {
			return 0, err
		}
		var ok bool
		if data, ok = abi.SafeMulU32(n, elemSize); !ok {
			return 0, errors.New(errors.PhaseEncode, errors.KindOverflow).
				Detail("array of %d elements overflows uint32", n).Build()
		}
	}
	size, ok := abi.SafeAddU32(ArrayHeaderSize+a.hasValueBitfieldSize(n), data)
	if !ok {
		return 0, errors.New(errors.PhaseEncode, errors.KindOverflow).
			Detail("array of %d elements overflows uint32", n).Build()
	}
	return size, nil
}

func (a *ArraySpec) Kind() Kind { return KindArray }

func (a *ArraySpec) Encode(e *Encoder, value any, byteOffset uint32, _ uint8, _ bool) error {
	values, ok := toSlice(value)
	if !ok {
		return errors.TypeMismatch(errors.PhaseEncode, nil, abi.TypeName(value), "array")
	}
	return e.EncodeArray(a, byteOffset, values)
}

func (a *ArraySpec) EncodeNull(e *Encoder, byteOffset uint32) error {
	return e.EncodeUint64(byteOffset, 0)
}

func (a *ArraySpec) Decode(d *Decoder, byteOffset uint32, _ uint8, _ bool) (any, error) {
	return d.DecodeArray(a, byteOffset)
}

func (a *ArraySpec) ArrayElementSize(bool) (uint32, error) { return 8, nil }
func (a *ArraySpec) IsValueType() bool                     { return false }
func (a *ArraySpec) IsValidObjectKeyType() bool            { return false }

func (a *ArraySpec) ComputeDimensions(value any, _ bool) (Dimensions, error) {
	values, ok := toSlice(value)
	if !ok {
		return Dimensions{}, errors.TypeMismatch(errors.PhaseEncode, nil, abi.TypeName(value), "array")
	}
	size, err := a.inlineSize(uint32(len(values)))
	if err != nil {
		return Dimensions{}, err
	}
	dims := Dimensions{Size: size}
	for i, v := range values {
		if isNull(v) {
			continue
		}
		ed, err := dimensionsOf(a.Element, v, a.ElementNullable)
		if err != nil {
			return Dimensions{}, errors.WithPath(err, strconv.Itoa(i))
		}
		if err := dims.add(ed); err != nil {
			return Dimensions{}, err
		}
	}
	return dims, nil
}

type stringType struct{}

// String is a UTF-8 string, stored as an array of bytes.
var String Type = stringType{}

func (stringType) Kind() Kind { return KindString }

func (stringType) Encode(e *Encoder, value any, byteOffset uint32, _ uint8, _ bool) error {
	s, ok := value.(string)
	if !ok {
		return errors.TypeMismatch(errors.PhaseEncode, nil, abi.TypeName(value), "string")
	}
	return e.EncodeString(byteOffset, s)
}

func (stringType) EncodeNull(e *Encoder, byteOffset uint32) error {
	return e.EncodeUint64(byteOffset, 0)
}

func (stringType) Decode(d *Decoder, byteOffset uint32, _ uint8, _ bool) (any, error) {
	return d.DecodeString(byteOffset)
}

func (stringType) ArrayElementSize(bool) (uint32, error) { return 8, nil }
func (stringType) IsValueType() bool                     { return false }
func (stringType) IsValidObjectKeyType() bool            { return true }

func (stringType) ComputeDimensions(value any, _ bool) (Dimensions, error) {
	s, ok := value.(string)
	if !ok {
		return Dimensions{}, errors.TypeMismatch(errors.PhaseEncode, nil, abi.TypeName(value), "string")
	}
	size, ok := abi.SafeAddU32(ArrayHeaderSize, uint32(len(s)))
	if !ok || len(s) > abi.MaxStringSize {
		return Dimensions{}, errors.New(errors.PhaseEncode, errors.KindOverflow).
			Detail("string length %d exceeds maximum %d", len(s), abi.MaxStringSize).Build()
	}
	return Dimensions{Size: size}, nil
}
