package codec

import (
	"slices"

	"github.com/wippyai/pipebind/codec/internal/abi"
	"github.com/wippyai/pipebind/errors"
)

// EnumSpec is a 32-bit enum. With Values set, only those values are accepted
// unless the enum is Extensible.
type EnumSpec struct {
	Name       string
	Values     []int32
	Extensible bool
}

func (s *EnumSpec) valid(v int32) bool {
	return s.Extensible || len(s.Values) == 0 || slices.Contains(s.Values, v)
}

func (s *EnumSpec) Kind() Kind { return KindEnum }

func (s *EnumSpec) Encode(e *Encoder, value any, byteOffset uint32, _ uint8, _ bool) error {
	v, ok := abi.CoerceSigned(value, 32)
	if !ok {
		return errors.TypeMismatch(errors.PhaseEncode, nil, abi.TypeName(value), s.Name)
	}
	if !s.valid(int32(v)) {
		return errors.InvalidEnum(errors.PhaseEncode, nil, value, s.Name)
	}
	return e.EncodeInt32(byteOffset, int32(v))
}

func (s *EnumSpec) EncodeNull(*Encoder, uint32) error { return nil }

func (s *EnumSpec) Decode(d *Decoder, byteOffset uint32, _ uint8, _ bool) (any, error) {
	v, err := d.DecodeInt32(byteOffset)
	if err != nil {
		return nil, err
	}
	if !s.valid(v) {
		return nil, errors.InvalidEnum(errors.PhaseDecode, nil, v, s.Name)
	}
	return v, nil
}

func (s *EnumSpec) ArrayElementSize(bool) (uint32, error) { return 4, nil }
func (s *EnumSpec) IsValueType() bool                     { return true }
func (s *EnumSpec) IsValidObjectKeyType() bool            { return true }
