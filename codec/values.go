package codec

import (
	"encoding/json"
	"reflect"

	"github.com/wippyai/pipebind"
	"github.com/wippyai/pipebind/codec/internal/abi"
	"github.com/wippyai/pipebind/errors"
)

// Union is the Go value of a union: exactly one tagged field.
type Union struct {
	Value any
	Tag   string
}

// MarshalJSON renders u as a single-key object, {"tag": value}. Encoding
// accepts that shape back in place of a Union.
func (u Union) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{u.Tag: u.Value})
}

// PendingRemote is a transferable handle to the remote end of an interface.
type PendingRemote struct {
	Handle  pipebind.Handle
	Version uint32
}

// PendingReceiver is a transferable handle to the receiving end of an interface.
type PendingReceiver struct {
	Handle pipebind.Handle
}

// AssociatedEndpoint is an endpoint that can be transferred inside a message
// and share the sender's pipe.
type AssociatedEndpoint interface {
	IsPendingAssociation() bool
}

// Endpoint is the view of the sending or receiving endpoint that encoding and
// decoding of associated endpoints needs.
type Endpoint interface {
	// AssociatePeerOfOutgoingEndpoint binds the local peer of ep to the
	// endpoint's router and returns the interface id assigned to it.
	AssociatePeerOfOutgoingEndpoint(ep AssociatedEndpoint) (uint32, error)
	// AcceptAssociatedEndpoint creates the local endpoint for an id received
	// in a message.
	AcceptAssociatedEndpoint(interfaceID uint32) (AssociatedEndpoint, error)
}

// Context is threaded unchanged through every recursive encode and decode call.
type Context struct {
	Endpoint Endpoint
}

// isNull reports whether v is nil or a nil pointer, slice, map or interface.
func isNull(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// toSlice accepts any Go slice or array value.
func toSlice(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []byte:
		out := make([]any, len(v))
		for i, b := range v {
			out[i] = b
		}
		return out, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func asUnion(value any, spec *UnionSpec) (Union, error) {
	switch v := value.(type) {
	case Union:
		return v, nil
	case *Union:
		if v != nil {
			return *v, nil
		}
	case map[string]any:
		// decoded JSON: a single key naming the active field
		if len(v) == 1 {
			for tag, val := range v {
				if _, ok := spec.Fields[tag]; ok {
					return Union{Tag: tag, Value: val}, nil
				}
			}
		}
	}
	return Union{}, errors.TypeMismatch(errors.PhaseEncode, nil, abi.TypeName(value), spec.Name)
}

func asStruct(value any, spec *StructSpec) (map[string]any, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, errors.TypeMismatch(errors.PhaseEncode, nil, abi.TypeName(value), spec.Name)
	}
	return m, nil
}
