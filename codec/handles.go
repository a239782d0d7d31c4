package codec

import (
	"github.com/wippyai/pipebind"
	"github.com/wippyai/pipebind/codec/internal/abi"
	"github.com/wippyai/pipebind/errors"
)

type handleType struct{}

// Handle is a transferable pipe handle, encoded as an index into the
// message's handle list.
var Handle Type = handleType{}

func (handleType) Kind() Kind { return KindHandle }

func (handleType) Encode(e *Encoder, value any, byteOffset uint32, _ uint8, _ bool) error {
	h, ok := value.(pipebind.Handle)
	if !ok {
		return errors.TypeMismatch(errors.PhaseEncode, nil, abi.TypeName(value), "handle")
	}
	return e.EncodeHandle(byteOffset, h)
}

func (handleType) EncodeNull(e *Encoder, byteOffset uint32) error {
	return e.EncodeUint32(byteOffset, EncodedInvalidHandle)
}

func (handleType) Decode(d *Decoder, byteOffset uint32, _ uint8, _ bool) (any, error) {
	return d.DecodeHandle(byteOffset)
}

func (handleType) ArrayElementSize(bool) (uint32, error) { return 4, nil }
func (handleType) IsValueType() bool                     { return false }
func (handleType) IsValidObjectKeyType() bool            { return false }

// InterfaceProxySpec is the remote end of an interface on its own pipe:
// a handle followed by the interface version.
type InterfaceProxySpec struct {
	Name string
}

func (s *InterfaceProxySpec) Kind() Kind { return KindInterfaceProxy }

func (s *InterfaceProxySpec) Encode(e *Encoder, value any, byteOffset uint32, _ uint8, _ bool) error {
	var p PendingRemote
	switch v := value.(type) {
	case PendingRemote:
		p = v
	case *PendingRemote:
		p = *v
	default:
		return errors.TypeMismatch(errors.PhaseEncode, nil, abi.TypeName(value), s.Name)
	}
	if err := e.EncodeHandle(byteOffset, p.Handle); err != nil {
		return err
	}
	return e.EncodeUint32(byteOffset+4, p.Version)
}

func (s *InterfaceProxySpec) EncodeNull(e *Encoder, byteOffset uint32) error {
	if err := e.EncodeUint32(byteOffset, EncodedInvalidHandle); err != nil {
		return err
	}
	return e.EncodeUint32(byteOffset+4, 0)
}

func (s *InterfaceProxySpec) Decode(d *Decoder, byteOffset uint32, _ uint8, _ bool) (any, error) {
	h, err := d.DecodeHandle(byteOffset)
	if err != nil || h == nil {
		return nil, err
	}
	version, err := d.DecodeUint32(byteOffset + 4)
	if err != nil {
		return nil, err
	}
	return PendingRemote{Handle: h.(pipebind.Handle), Version: version}, nil
}

func (s *InterfaceProxySpec) ArrayElementSize(bool) (uint32, error) { return 8, nil }
func (s *InterfaceProxySpec) IsValueType() bool                     { return false }
func (s *InterfaceProxySpec) IsValidObjectKeyType() bool            { return false }

// InterfaceRequestSpec is the receiving end of an interface on its own pipe.
type InterfaceRequestSpec struct {
	Name string
}

func (s *InterfaceRequestSpec) Kind() Kind { return KindInterfaceRequest }

func (s *InterfaceRequestSpec) Encode(e *Encoder, value any, byteOffset uint32, _ uint8, _ bool) error {
	var p PendingReceiver
	switch v := value.(type) {
	case PendingReceiver:
		p = v
	case *PendingReceiver:
		p = *v
	default:
		return errors.TypeMismatch(errors.PhaseEncode, nil, abi.TypeName(value), s.Name)
	}
	return e.EncodeHandle(byteOffset, p.Handle)
}

func (s *InterfaceRequestSpec) EncodeNull(e *Encoder, byteOffset uint32) error {
	return e.EncodeUint32(byteOffset, EncodedInvalidHandle)
}

func (s *InterfaceRequestSpec) Decode(d *Decoder, byteOffset uint32, _ uint8, _ bool) (any, error) {
	h, err := d.DecodeHandle(byteOffset)
	if err != nil || h == nil {
		return nil, err
	}
	return PendingReceiver{Handle: h.(pipebind.Handle)}, nil
}

func (s *InterfaceRequestSpec) ArrayElementSize(bool) (uint32, error) { return 4, nil }
func (s *InterfaceRequestSpec) IsValueType() bool                     { return false }
func (s *InterfaceRequestSpec) IsValidObjectKeyType() bool            { return false }

// AssociatedInterfaceProxySpec is the remote end of an interface that shares
// the pipe of the message carrying it.
type AssociatedInterfaceProxySpec struct {
	Name string
}

func (s *AssociatedInterfaceProxySpec) Kind() Kind { return KindAssociatedInterfaceProxy }

func (s *AssociatedInterfaceProxySpec) Encode(e *Encoder, value any, byteOffset uint32, _ uint8, _ bool) error {
	ep, ok := value.(AssociatedEndpoint)
	if !ok {
		return errors.TypeMismatch(errors.PhaseEncode, nil, abi.TypeName(value), s.Name)
	}
	if err := e.EncodeAssociatedEndpoint(byteOffset, ep); err != nil {
		return err
	}
	return e.EncodeUint32(byteOffset+4, 0)
}

func (s *AssociatedInterfaceProxySpec) EncodeNull(e *Encoder, byteOffset uint32) error {
	if err := e.EncodeUint32(byteOffset, EncodedInvalidHandle); err != nil {
		return err
	}
	return e.EncodeUint32(byteOffset+4, 0)
}

func (s *AssociatedInterfaceProxySpec) Decode(d *Decoder, byteOffset uint32, _ uint8, _ bool) (any, error) {
	return d.DecodeAssociatedEndpoint(byteOffset)
}

func (s *AssociatedInterfaceProxySpec) ArrayElementSize(bool) (uint32, error) {
	return 0, errors.Unsupported(errors.PhaseEncode, "arrays of associated interfaces are not supported")
}

func (s *AssociatedInterfaceProxySpec) IsValueType() bool          { return false }
func (s *AssociatedInterfaceProxySpec) IsValidObjectKeyType() bool { return false }
func (s *AssociatedInterfaceProxySpec) HasInterfaceID() bool       { return true }

// AssociatedInterfaceRequestSpec is the receiving end of an interface that
// shares the pipe of the message carrying it.
type AssociatedInterfaceRequestSpec struct {
	Name string
}

func (s *AssociatedInterfaceRequestSpec) Kind() Kind { return KindAssociatedInterfaceRequest }

func (s *AssociatedInterfaceRequestSpec) Encode(e *Encoder, value any, byteOffset uint32, _ uint8, _ bool) error {
	ep, ok := value.(AssociatedEndpoint)
	if !ok {
		return errors.TypeMismatch(errors.PhaseEncode, nil, abi.TypeName(value), s.Name)
	}
	return e.EncodeAssociatedEndpoint(byteOffset, ep)
}

func (s *AssociatedInterfaceRequestSpec) EncodeNull(e *Encoder, byteOffset uint32) error {
	return e.EncodeUint32(byteOffset, EncodedInvalidHandle)
}

func (s *AssociatedInterfaceRequestSpec) Decode(d *Decoder, byteOffset uint32, _ uint8, _ bool) (any, error) {
	return d.DecodeAssociatedEndpoint(byteOffset)
}

func (s *AssociatedInterfaceRequestSpec) ArrayElementSize(bool) (uint32, error) {
	return 0, errors.Unsupported(errors.PhaseEncode, "arrays of associated interfaces are not supported")
}

func (s *AssociatedInterfaceRequestSpec) IsValueType() bool          { return false }
func (s *AssociatedInterfaceRequestSpec) IsValidObjectKeyType() bool { return false }
func (s *AssociatedInterfaceRequestSpec) HasInterfaceID() bool       { return true }
