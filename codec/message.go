package codec

import (
	"encoding/binary"

	"github.com/wippyai/pipebind"
	"github.com/wippyai/pipebind/codec/internal/abi"
	"github.com/wippyai/pipebind/errors"
)

// Header is the decoded message header.
type Header struct {
	HeaderSize  uint32
	Version     uint32
	InterfaceID uint32
	Ordinal     uint32
	Flags       uint32
	RequestID   uint32
}

func (h Header) ExpectsResponse() bool { return h.Flags&FlagExpectsResponse != 0 }
func (h Header) IsResponse() bool      { return h.Flags&FlagIsResponse != 0 }

// headerVersion picks the smallest header that can describe the message.
func headerVersion(flags, numInterfaceIDs uint32) uint32 {
	switch {
	case numInterfaceIDs > 0:
		return 2
	case flags&(FlagExpectsResponse|FlagIsResponse) != 0:
		return 1
	default:
		return 0
	}
}

func headerSizeFor(version uint32) uint32 {
	switch version {
	case 0:
		return MessageV0HeaderSize
	case 1:
		return MessageV1HeaderSize
	default:
		return MessageV2HeaderSize
	}
}

// Message is one outbound message: a single buffer holding the header, the
// payload struct with everything it points to, and the optional interface
// id table, plus the handles that travel alongside it.
type Message struct {
	header  Header
	buf     []byte
	handles []pipebind.Handle
	next    uint32
	limit   uint32
	idTable uint32
	nextID  uint32
	numIDs  uint32
}

// NewMessage serializes value as the payload of a message for interfaceID.
// ctx supplies the sending endpoint when the payload carries associated
// endpoints and may otherwise be nil.
func NewMessage(ctx *Context, interfaceID, flags, ordinal, requestID uint32, spec *StructSpec, value map[string]any) (*Message, error) {
	if value == nil {
		value = map[string]any{}
	}
	dims, err := spec.ComputeDimensions(value, false)
	if err != nil {
		return nil, err
	}

	version := headerVersion(flags, dims.NumInterfaceIDs)
	headerSize := headerSizeFor(version)
	payloadSize := abi.Align8(dims.Size)
	var tableSize uint32
	if dims.NumInterfaceIDs > 0 {
		tableSize = abi.Align8(ArrayHeaderSize + 4*dims.NumInterfaceIDs)
	}
	total := uint64(headerSize) + uint64(payloadSize) + uint64(tableSize)
	if total > abi.MaxMessageSize {
		return nil, errors.New(errors.PhaseEncode, errors.KindOverflow).
			Detail("message of %d bytes exceeds maximum %d", total, abi.MaxMessageSize).Build()
	}

	m := &Message{
		header: Header{
			HeaderSize:  headerSize,
			Version:     version,
			InterfaceID: interfaceID,
			Ordinal:     ordinal,
			Flags:       flags,
			RequestID:   requestID,
		},
		buf:    make([]byte, total),
		next:   headerSize,
		limit:  headerSize + payloadSize,
		numIDs: dims.NumInterfaceIDs,
	}
	m.writeHeader()
	if dims.NumInterfaceIDs > 0 {
		m.idTable = m.limit
		binary.LittleEndian.PutUint32(m.buf[m.idTable:], ArrayHeaderSize+4*dims.NumInterfaceIDs)
		binary.LittleEndian.PutUint32(m.buf[m.idTable+4:], dims.NumInterfaceIDs)
	}

	abs, err := m.allocate(spec.PackedSize)
	if err != nil {
		return nil, err
	}
	e := &Encoder{msg: m, ctx: ctx, base: abs, size: abi.Align8(spec.PackedSize), depth: 1}
	if err := e.EncodeStructInline(spec, value); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Message) writeHeader() {
	h := m.header
	le := binary.LittleEndian
	le.PutUint32(m.buf[0:], h.HeaderSize)
	le.PutUint32(m.buf[4:], h.Version)
	le.PutUint32(m.buf[8:], h.InterfaceID)
	le.PutUint32(m.buf[12:], h.Ordinal)
	le.PutUint32(m.buf[16:], h.Flags)
	if h.Version >= 1 {
		le.PutUint64(m.buf[24:], uint64(h.RequestID))
	}
	if h.Version >= 2 {
		le.PutUint64(m.buf[32:], 16)
		le.PutUint64(m.buf[40:], uint64(m.limit-40))
	}
}

// allocate reserves n bytes, rounded up to 8, and returns their position.
func (m *Message) allocate(n uint32) (uint32, error) {
	size := abi.Align8(n)
	if uint64(m.next)+uint64(size) > uint64(m.limit) {
		return 0, errors.AllocationFailed(errors.PhaseEncode, size, m.limit-m.next)
	}
	abs := m.next
	m.next += size
	return abs, nil
}

func (m *Message) Header() Header             { return m.header }
func (m *Message) Bytes() []byte              { return m.buf }
func (m *Message) Handles() []pipebind.Handle { return m.handles }
func (m *Message) NumInterfaceIDs() uint32    { return m.numIDs }

// ParseHeader validates and decodes the header at the start of buf.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < MessageV0HeaderSize {
		return Header{}, headerError("message of %d bytes is shorter than the smallest header", len(buf))
	}
	le := binary.LittleEndian
	h := Header{
		HeaderSize:  le.Uint32(buf[0:]),
		Version:     le.Uint32(buf[4:]),
		InterfaceID: le.Uint32(buf[8:]),
		Ordinal:     le.Uint32(buf[12:]),
		Flags:       le.Uint32(buf[16:]),
	}

	var ok bool
	switch h.Version {
	case 0:
		ok = h.HeaderSize == MessageV0HeaderSize
	case 1:
		ok = h.HeaderSize == MessageV1HeaderSize
	default:
		ok = h.HeaderSize >= MessageV2HeaderSize
	}
	if !ok || h.HeaderSize%8 != 0 {
		return Header{}, headerError("invalid message header size %d for version %d", h.HeaderSize, h.Version)
	}
	if uint64(h.HeaderSize) > uint64(len(buf)) {
		return Header{}, headerError("message header of %d bytes exceeds message of %d bytes", h.HeaderSize, len(buf))
	}
	if h.Version >= 1 {
		h.RequestID = le.Uint32(buf[24:])
	}
	return h, nil
}

func headerError(format string, args ...any) error {
	return errors.New(errors.PhaseValidate, errors.KindInvalidData).Detail(format, args...).Build()
}

// ReceivedMessage is a message read from a pipe with a validated header.
type ReceivedMessage struct {
	Header
	buf     []byte
	handles []pipebind.Handle
	payload uint32
}

// ParseMessage validates the header of buf and locates its payload.
func ParseMessage(buf []byte, handles []pipebind.Handle) (*ReceivedMessage, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	payload := h.HeaderSize
	if h.Version >= 2 {
		ptr := binary.LittleEndian.Uint64(buf[32:])
		if ptr == 0 || 32+ptr >= uint64(len(buf)) || (32+ptr)%8 != 0 {
			return nil, headerError("invalid payload pointer %d", ptr)
		}
		payload = uint32(32 + ptr)
	}
	return &ReceivedMessage{Header: h, buf: buf, handles: handles, payload: payload}, nil
}

// DecodePayload decodes the payload struct. ctx supplies the receiving
// endpoint when the payload may carry associated endpoints.
func (m *ReceivedMessage) DecodePayload(ctx *Context, spec *StructSpec) (map[string]any, error) {
	d, err := NewDecoder(m.buf, m.handles, ctx).at(m.payload)
	if err != nil {
		return nil, err
	}
	return d.DecodeStructInline(spec)
}

// InterfaceIDs returns the associated interface id table, empty for
// messages with a header older than version 2.
func (m *ReceivedMessage) InterfaceIDs() ([]uint32, error) {
	return interfaceIDTable(m.buf)
}

func (m *ReceivedMessage) Bytes() []byte              { return m.buf }
func (m *ReceivedMessage) Handles() []pipebind.Handle { return m.handles }
