// Package layout computes packed struct layouts for the wire format.
//
// Fields are placed in declaration order. Each field takes the first hole
// between already placed fields that satisfies its size and alignment, or is
// appended after the last one. Bool fields share a byte with earlier bools
// until all eight bits are used.
//
// # Versions
//
// Every distinct MinVersion yields one version entry whose packed size covers
// the struct header plus all fields visible at that version, rounded up to 8.
//
// # Usage
//
//	places, versions := layout.Pack(fields)
//	// places[i].Offset, places[i].Bit for field i
//
// This package is internal to the codec.
package layout
