package codec

import (
	"github.com/wippyai/pipebind/errors"
)

// NullableValueKind links the two fields that carry a nullable value-typed
// field: a primary bool recording presence and a secondary holding the value.
type NullableValueKind struct {
	OriginalFieldName    string
	LinkedValueFieldName string
	IsPrimary            bool
}

// StructField is one packed field of a struct.
type StructField struct {
	Type              Type
	Default           any
	NullableValueKind *NullableValueKind
	Name              string
	PackedOffset      uint32
	MinVersion        uint32
	PackedBitOffset   uint8
	Nullable          bool
}

// StructVersion is the packed size of a struct at one version.
type StructVersion struct {
	Version    uint32
	PackedSize uint32
}

// StructSpec describes a struct: its fields in declaration order and the
// packed size at every known version, oldest first.
type StructSpec struct {
	Name       string
	Fields     []StructField
	Versions   []StructVersion
	PackedSize uint32
}

// NewStructSpec creates a struct descriptor. Without explicit versions the
// struct is assumed to have a single version 0 of packedSize.
func NewStructSpec(name string, packedSize uint32, fields []StructField, versions ...StructVersion) *StructSpec {
	if len(versions) == 0 {
		versions = []StructVersion{{Version: 0, PackedSize: packedSize}}
	}
	return &StructSpec{
		Name:       name,
		PackedSize: packedSize,
		Fields:     fields,
		Versions:   versions,
	}
}

// LatestVersion is the version written into encoded headers.
func (s *StructSpec) LatestVersion() uint32 {
	if len(s.Versions) == 0 {
		return 0
	}
	return s.Versions[len(s.Versions)-1].Version
}

// IsHeaderValid reports whether a received {size, version} header is
// acceptable. Versions newer than any known one must be at least as large as
// the newest known layout; known versions must match exactly.
func (s *StructSpec) IsHeaderValid(size, version uint32) bool {
	for i := len(s.Versions) - 1; i >= 0; i-- {
		v := s.Versions[i]
		if version > v.Version {
			return size >= v.PackedSize
		}
		if version == v.Version {
			return size == v.PackedSize
		}
	}
	return false
}

// Field returns the field with the given wire name.
func (s *StructSpec) Field(name string) (*StructField, bool) {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i], true
		}
	}
	return nil, false
}

// ArgNames lists the logical field names in declaration order, with each
// nullable value-kind pair collapsed into its original name.
func (s *StructSpec) ArgNames() []string {
	names := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		switch {
		case f.NullableValueKind == nil:
			names = append(names, f.Name)
		case f.NullableValueKind.IsPrimary:
			names = append(names, f.NullableValueKind.OriginalFieldName)
		}
	}
	return names
}

// FromArgs maps positional arguments onto logical field names. Missing
// trailing arguments are left unset.
func (s *StructSpec) FromArgs(args []any) map[string]any {
	names := s.ArgNames()
	value := make(map[string]any, len(names))
	for i, name := range names {
		if i >= len(args) {
			break
		}
		value[name] = args[i]
	}
	return value
}

// ToArgs is the inverse of FromArgs.
func (s *StructSpec) ToArgs(value map[string]any) []any {
	names := s.ArgNames()
	args := make([]any, len(names))
	for i, name := range names {
		args[i] = value[name]
	}
	return args
}

func (s *StructSpec) Kind() Kind { return KindStruct }

func (s *StructSpec) Encode(e *Encoder, value any, byteOffset uint32, _ uint8, _ bool) error {
	m, err := asStruct(value, s)
	if err != nil {
		return err
	}
	return e.EncodeStruct(s, byteOffset, m)
}

func (s *StructSpec) EncodeNull(e *Encoder, byteOffset uint32) error {
	return e.EncodeUint64(byteOffset, 0)
}

func (s *StructSpec) Decode(d *Decoder, byteOffset uint32, _ uint8, _ bool) (any, error) {
	return d.DecodeStruct(s, byteOffset)
}

func (s *StructSpec) ArrayElementSize(bool) (uint32, error) { return 8, nil }
func (s *StructSpec) IsValueType() bool                     { return false }
func (s *StructSpec) IsValidObjectKeyType() bool            { return false }

// ComputeDimensions sums the packed struct with the out-of-line storage of
// every present field, or of its default when the field is absent.
func (s *StructSpec) ComputeDimensions(value any, _ bool) (Dimensions, error) {
	m, err := asStruct(value, s)
	if err != nil {
		return Dimensions{}, err
	}
	dims := Dimensions{Size: s.PackedSize}
	for i := range s.Fields {
		f := &s.Fields[i]
		if f.NullableValueKind != nil {
			continue
		}
		v := m[f.Name]
		if isNull(v) {
			v = f.Default
		}
		if isNull(v) {
			continue
		}
		fd, err := dimensionsOf(f.Type, v, f.Nullable)
		if err != nil {
			return Dimensions{}, errors.WithPath(err, f.Name)
		}
		if err := dims.add(fd); err != nil {
			return Dimensions{}, err
		}
	}
	return dims, nil
}
