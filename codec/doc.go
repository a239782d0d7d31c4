// Package codec encodes and decodes interface messages.
//
// Every message is one flat little-endian buffer: a header, an inline
// payload struct, the out-of-line data the payload points to, and for
// messages that carry associated endpoints a trailing interface id table.
// Handles travel next to the buffer and are referenced by index.
//
// # Wire Layout
//
//	Type                  Inline size   Notes
//	─────────────────────────────────────────────────────────────
//	bool                  1 bit         packed into shared bytes
//	int8/uint8            1
//	int16/uint16          2
//	int32/uint32/float    4
//	int64/uint64/double   8
//	enum                  4
//	handle                4             index, 0xffffffff = null
//	interface proxy       8             handle + version
//	interface request     4             handle
//	associated proxy      8             id table index + 0
//	associated request    4             id table index
//	string/array/map      8             relative pointer
//	struct                8             relative pointer
//	union                 16            8 when nullable (pointer)
//
// Pointers are 64-bit offsets relative to the position of the pointer
// itself; zero is null. Every out-of-line block starts 8-aligned.
//
// # Messages
//
//	v0  {headerSize=24, version, interfaceID, ordinal, flags, padding}
//	v1  v0 + requestID (u64)                               32 bytes
//	v2  v1 + payload pointer + interface id table pointer  48 bytes
//
// NewMessage computes Dimensions for the payload first, so the buffer is
// allocated exactly once, and then encodes with a bump allocator.
//
// # Go Values
//
//	bool, int8..uint64, float32, float64   scalars
//	string                                 strings
//	[]any                                  arrays (any slice is accepted)
//	*OrderedMap                            maps
//	map[string]any                         structs, keyed by field name
//	Union                                  unions
//	int32                                  enums
//	pipebind.Handle                        handles
//	PendingRemote, PendingReceiver         interface endpoints on their own pipe
//	AssociatedEndpoint                     endpoints sharing the sender's pipe
//
// nil is null.
package codec
