package codec

// Wire layout sizes.
const (
	ArrayHeaderSize  = 8
	StructHeaderSize = 8
	UnionHeaderSize  = 8
	UnionDataSize    = 16
	MapDataSize      = 24

	MessageV0HeaderSize = 24
	MessageV1HeaderSize = 32
	MessageV2HeaderSize = 48
)

// EncodedInvalidHandle marks a null handle or associated endpoint slot.
const EncodedInvalidHandle uint32 = 0xffffffff

// Message header flags.
const (
	FlagExpectsResponse uint32 = 1 << 0
	FlagIsResponse      uint32 = 1 << 1
)

// InterfaceNamespaceBit distinguishes interface ids allocated by the two
// sides of one pipe.
const InterfaceNamespaceBit uint32 = 0x80000000

// Reserved interface ids.
const (
	PrimaryInterfaceID uint32 = 0
	InvalidInterfaceID uint32 = 0xffffffff
)
