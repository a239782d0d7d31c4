package abi

import (
	"math"
	"reflect"
)

func SafeMulU32(a, b uint32) (uint32, bool) {
	if b != 0 && a > math.MaxUint32/b {
		return 0, false
	}
	return a * b, true
}

func SafeAddU32(a, b uint32) (uint32, bool) {
	if a > math.MaxUint32-b {
		return 0, false
	}
	return a + b, true
}

// TypeName returns "nil" for nil values, avoiding reflect.TypeOf(nil) panic.
func TypeName(value any) string {
	if value == nil {
		return "nil"
	}
	return reflect.TypeOf(value).String()
}

// AlignTo rounds offset up to a multiple of align. align must be a power of two.
func AlignTo(offset, align uint32) uint32 {
	if align == 0 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}

// Align8 rounds size up to the wire allocation granularity.
func Align8(size uint32) uint32 {
	return AlignTo(size, 8)
}

const (
	MaxStringSize   = 1 << 30 // 1 GB max string size
	MaxArrayLength  = 1 << 27 // 128M max elements
	MaxMessageSize  = 1 << 30 // 1 GB max single message
	MaxNestingDepth = 100
)
