// Package abi provides internal utilities for wire encoding/decoding.
//
// # Contents
//
//   - coerce.go: Numeric coercion from loosely typed Go values (JSON numbers,
//     plain ints) into the fixed-width wire integer and float types
//   - helpers.go: Alignment, overflow-checked arithmetic and safety limits
//
// This package is internal to the codec.
package abi
