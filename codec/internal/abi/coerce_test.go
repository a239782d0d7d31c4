package abi

import (
	"math"
	"testing"
)

func TestCoerceSigned(t *testing.T) {
	tests := []struct {
		name  string
		value any
		bits  uint
		want  int64
		ok    bool
	}{
		{"int8 in range", int8(-5), 8, -5, true},
		{"int overflow 8", 200, 8, 0, false},
		{"json float", float64(42), 32, 42, true},
		{"fractional float", 1.5, 32, 0, false},
		{"min int16", -32768, 16, -32768, true},
		{"below int16", -32769, 16, 0, false},
		{"uint64 too big", uint64(math.MaxUint64), 64, 0, false},
		{"string", "1", 32, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CoerceSigned(tt.value, tt.bits)
			if ok != tt.ok || got != tt.want {
				t.Errorf("CoerceSigned(%v, %d) = %d, %v; want %d, %v", tt.value, tt.bits, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestCoerceUnsigned(t *testing.T) {
	tests := []struct {
		name  string
		value any
		bits  uint
		want  uint64
		ok    bool
	}{
		{"uint8 max", 255, 8, 255, true},
		{"uint8 overflow", 256, 8, 0, false},
		{"negative", -1, 32, 0, false},
		{"json float", float64(7), 16, 7, true},
		{"uint64 max", uint64(math.MaxUint64), 64, math.MaxUint64, true},
		{"bool", true, 8, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CoerceUnsigned(tt.value, tt.bits)
			if ok != tt.ok || got != tt.want {
				t.Errorf("CoerceUnsigned(%v, %d) = %d, %v; want %d, %v", tt.value, tt.bits, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestCoerceToFloat64(t *testing.T) {
	if v, ok := CoerceToFloat64(float32(1.5)); !ok || v != 1.5 {
		t.Errorf("float32: %v %v", v, ok)
	}
	if v, ok := CoerceToFloat64(int16(-3)); !ok || v != -3 {
		t.Errorf("int16: %v %v", v, ok)
	}
	if _, ok := CoerceToFloat64("x"); ok {
		t.Error("string should not coerce")
	}
}
