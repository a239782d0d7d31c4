package codec

// Kind is the closed set of wire type kinds.
type Kind uint8

const (
	KindBool Kind = iota
	KindInt8
	KindUint8
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindFloat
	KindDouble
	KindString
	KindArray
	KindMap
	KindStruct
	KindUnion
	KindEnum
	KindHandle
	KindInterfaceProxy
	KindInterfaceRequest
	KindAssociatedInterfaceProxy
	KindAssociatedInterfaceRequest
)

var kindNames = [...]string{
	KindBool:                       "bool",
	KindInt8:                       "int8",
	KindUint8:                      "uint8",
	KindInt16:                      "int16",
	KindUint16:                     "uint16",
	KindInt32:                      "int32",
	KindUint32:                     "uint32",
	KindInt64:                      "int64",
	KindUint64:                     "uint64",
	KindFloat:                      "float",
	KindDouble:                     "double",
	KindString:                     "string",
	KindArray:                      "array",
	KindMap:                        "map",
	KindStruct:                     "struct",
	KindUnion:                      "union",
	KindEnum:                       "enum",
	KindHandle:                     "handle",
	KindInterfaceProxy:             "interface_proxy",
	KindInterfaceRequest:           "interface_request",
	KindAssociatedInterfaceProxy:   "associated_interface_proxy",
	KindAssociatedInterfaceRequest: "associated_interface_request",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsPrimitive reports whether k is a fixed-width number or bool.
func (k Kind) IsPrimitive() bool {
	return k <= KindDouble
}

// IsPointer reports whether values of kind k are always stored out of line.
func (k Kind) IsPointer() bool {
	switch k {
	case KindString, KindArray, KindMap, KindStruct:
		return true
	default:
		return false
	}
}
