package codec

import (
	"reflect"

	"github.com/wippyai/pipebind/codec/internal/abi"
	"github.com/wippyai/pipebind/errors"
)

// MapSpec describes a map, encoded as parallel key and value arrays.
type MapSpec struct {
	Key           Type
	Value         Type
	ValueNullable bool
}

// MapOf returns a map descriptor.
func MapOf(key, value Type, valueNullable bool) *MapSpec {
	return &MapSpec{Key: key, Value: value, ValueNullable: valueNullable}
}

func (m *MapSpec) keys() *ArraySpec { return &ArraySpec{Element: m.Key} }
func (m *MapSpec) values() *ArraySpec {
	return &ArraySpec{Element: m.Value, ElementNullable: m.ValueNullable}
}

func (m *MapSpec) Kind() Kind { return KindMap }

func (m *MapSpec) Encode(e *Encoder, value any, byteOffset uint32, _ uint8, _ bool) error {
	om, ok := value.(*OrderedMap)
	if !ok {
		return errors.TypeMismatch(errors.PhaseEncode, nil, abi.TypeName(value), "map")
	}
	return e.EncodeMap(m, byteOffset, om)
}

func (m *MapSpec) EncodeNull(e *Encoder, byteOffset uint32) error {
	return e.EncodeUint64(byteOffset, 0)
}

func (m *MapSpec) Decode(d *Decoder, byteOffset uint32, _ uint8, _ bool) (any, error) {
	return d.DecodeMap(m, byteOffset)
}

func (m *MapSpec) ArrayElementSize(bool) (uint32, error) { return 8, nil }
func (m *MapSpec) IsValueType() bool                     { return false }
func (m *MapSpec) IsValidObjectKeyType() bool            { return false }

func (m *MapSpec) ComputeDimensions(value any, _ bool) (Dimensions, error) {
	om, ok := value.(*OrderedMap)
	if !ok {
		return Dimensions{}, errors.TypeMismatch(errors.PhaseEncode, nil, abi.TypeName(value), "map")
	}
	dims := Dimensions{Size: MapDataSize}
	kd, err := m.keys().ComputeDimensions(om.keys, false)
	if err != nil {
		return Dimensions{}, errors.WithPath(err, "keys")
	}
	vd, err := m.values().ComputeDimensions(om.values, false)
	if err != nil {
		return Dimensions{}, errors.WithPath(err, "values")
	}
	if err := dims.add(kd); err != nil {
		return Dimensions{}, err
	}
	if err := dims.add(vd); err != nil {
		return Dimensions{}, err
	}
	return dims, nil
}

// OrderedMap is an insertion-ordered map with arbitrary comparable keys.
// It is the Go value of every map-typed field.
type OrderedMap struct {
	index  map[any]int
	keys   []any
	values []any
}

// NewOrderedMap returns an empty map.
func NewOrderedMap() *OrderedMap {
	return &OrderedMap{index: make(map[any]int)}
}

func (m *OrderedMap) find(key any) (int, bool) {
	if key != nil && reflect.TypeOf(key).Comparable() {
		i, ok := m.index[key]
		return i, ok
	}
	for i, k := range m.keys {
		if reflect.DeepEqual(k, key) {
			return i, true
		}
	}
	return 0, false
}

// Set inserts key or replaces its value, keeping the original position.
func (m *OrderedMap) Set(key, value any) {
	if m.index == nil {
		m.index = make(map[any]int)
	}
	if i, ok := m.find(key); ok {
		m.values[i] = value
		return
	}
	if key != nil && reflect.TypeOf(key).Comparable() {
		m.index[key] = len(m.keys)
	}
	m.keys = append(m.keys, key)
	m.values = append(m.values, value)
}

// Get returns the value stored under key.
func (m *OrderedMap) Get(key any) (any, bool) {
	i, ok := m.find(key)
	if !ok {
		return nil, false
	}
	return m.values[i], true
}

func (m *OrderedMap) Len() int { return len(m.keys) }

// Keys returns the keys in insertion order.
func (m *OrderedMap) Keys() []any {
	return append([]any(nil), m.keys...)
}

// Values returns the values in insertion order.
func (m *OrderedMap) Values() []any {
	return append([]any(nil), m.values...)
}

// Range calls fn for each entry in insertion order until fn returns false.
func (m *OrderedMap) Range(fn func(key, value any) bool) {
	for i, k := range m.keys {
		if !fn(k, m.values[i]) {
			return
		}
	}
}
