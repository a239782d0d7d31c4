package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseEncode    Phase = "encode"    // Go value to wire bytes
	PhaseDecode    Phase = "decode"    // wire bytes to Go value
	PhaseValidate  Phase = "validate"  // header and descriptor validation
	PhaseRoute     Phase = "route"     // router demultiplexing
	PhaseTransport Phase = "transport" // pipe reads and writes
	PhaseDispatch  Phase = "dispatch"  // request/response correlation and handlers
	PhaseSchema    Phase = "schema"    // descriptor construction
)

// Kind categorizes the error
type Kind string

const (
	KindTypeMismatch   Kind = "type_mismatch"
	KindOutOfBounds    Kind = "out_of_bounds"
	KindInvalidData    Kind = "invalid_data"
	KindUnsupported    Kind = "unsupported"
	KindAllocation     Kind = "allocation"
	KindFieldMissing   Kind = "field_missing"
	KindInvalidUTF8    Kind = "invalid_utf8"
	KindOverflow       Kind = "overflow"
	KindInvalidEnum    Kind = "invalid_enum"
	KindInvalidVariant Kind = "invalid_variant"
	KindNotFound       Kind = "not_found"
	KindInvalidInput   Kind = "invalid_input"
	KindClosed         Kind = "closed"
	KindInvalidState   Kind = "invalid_state"
	KindConnection     Kind = "connection"
	KindProtocol       Kind = "protocol"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	GoType   string
	WireType string
	Detail   string
	Path     []string
}

// Error renders "[phase] kind at path: types - detail (caused by: cause)".
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Phase, e.Kind)
	if len(e.Path) > 0 {
		b.WriteString(" at " + strings.Join(e.Path, "."))
	}

	sep := ": "
	if types := e.types(); types != "" {
		b.WriteString(sep + types)
		sep = " - "
	}
	if e.Detail != "" {
		b.WriteString(sep + e.Detail)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Cause)
	}
	return b.String()
}

func (e *Error) types() string {
	var parts []string
	if e.GoType != "" {
		parts = append(parts, "Go type "+e.GoType)
	}
	if e.WireType != "" {
		parts = append(parts, "wire type "+e.WireType)
	}
	return strings.Join(parts, ", ")
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// WireType sets the wire type name
func (b *Builder) WireType(t string) *Builder {
	b.err.WireType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// WithPath prepends elem to the path of err when err is an *Error.
// Other errors are returned unchanged.
func WithPath(err error, elem string) error {
	if e, ok := err.(*Error); ok {
		path := make([]string, 0, len(e.Path)+1)
		path = append(path, elem)
		e.Path = append(path, e.Path...)
	}
	return err
}

// Convenience constructors for common error patterns

// TypeMismatch reports a Go value that cannot be stored as wireType.
func TypeMismatch(phase Phase, path []string, goType, wireType string) *Error {
	return New(phase, KindTypeMismatch).Path(path...).GoType(goType).WireType(wireType).Build()
}

// InvalidUTF8 reports string bytes that are not UTF-8. At most 32 bytes
// are shown.
func InvalidUTF8(phase Phase, path []string, data []byte) *Error {
	if len(data) > 32 {
		data = data[:32]
	}
	return New(phase, KindInvalidUTF8).Path(path...).Detail("invalid UTF-8 sequence: %x", data).Build()
}

// AllocationFailed reports a message buffer that cannot hold size more bytes.
func AllocationFailed(phase Phase, size, capacity uint32) *Error {
	return New(phase, KindAllocation).Detail("failed to allocate %d bytes (%d remaining)", size, capacity).Build()
}

// FieldMissing reports a nil value for a non-nullable struct field.
func FieldMissing(phase Phase, path []string, structName, fieldName string) *Error {
	return New(phase, KindFieldMissing).Path(path...).
		Detail("%s missing value for non-nullable field %q", structName, fieldName).Build()
}

// InvalidTag reports a union tag that names no known field.
func InvalidTag(phase Phase, path []string, unionName string, tag any) *Error {
	return New(phase, KindInvalidVariant).Path(path...).WireType(unionName).Value(tag).
		Detail("unknown union tag %v", tag).Build()
}

func Unsupported(phase Phase, what string) *Error {
	return New(phase, KindUnsupported).Detail("%s", what).Build()
}

// OutOfBounds reports an index past length, such as an associated
// interface id index beyond the id table.
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return New(phase, KindOutOfBounds).Path(path...).Value(index).
		Detail("index %d out of bounds (length %d)", index, length).Build()
}

func Overflow(phase Phase, path []string, value any, targetType string) *Error {
	return New(phase, KindOverflow).Path(path...).WireType(targetType).Value(value).
		Detail("value %v overflows %s", value, targetType).Build()
}

func InvalidEnum(phase Phase, path []string, value any, enumType string) *Error {
	return New(phase, KindInvalidEnum).Path(path...).WireType(enumType).Value(value).
		Detail("invalid enum value %v for %s", value, enumType).Build()
}

// InvalidData reports malformed wire bytes.
func InvalidData(phase Phase, path []string, detail string) *Error {
	return New(phase, KindInvalidData).Path(path...).Detail("%s", detail).Build()
}

// Wrap attaches phase, kind and detail to cause.
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return New(phase, kind).Cause(cause).Detail("%s", detail).Build()
}

func NotFound(phase Phase, what string, name any) *Error {
	return New(phase, KindNotFound).Value(name).Detail("%s %v not found", what, name).Build()
}

func InvalidInput(phase Phase, detail string) *Error {
	return New(phase, KindInvalidInput).Detail("%s", detail).Build()
}

// Closed reports an operation on a closed endpoint, router or pipe.
func Closed(phase Phase, what string) *Error {
	return New(phase, KindClosed).Detail("%s is closed", what).Build()
}

// InvalidState reports an operation that is illegal in the current state,
// such as closing a primary endpoint while associated endpoints remain.
func InvalidState(phase Phase, detail string) *Error {
	return New(phase, KindInvalidState).Detail("%s", detail).Build()
}

// Connection reports a lost connection. reason may be empty.
func Connection(reason string) *Error {
	if reason == "" {
		return New(PhaseDispatch, KindConnection).Detail("connection error").Build()
	}
	return New(PhaseDispatch, KindConnection).Detail("connection error: %s", reason).Build()
}

// Protocol reports a message that violates the binding protocol.
func Protocol(phase Phase, detail string, cause error) *Error {
	return New(phase, KindProtocol).Cause(cause).Detail("%s", detail).Build()
}
