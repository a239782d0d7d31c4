package handle

import "github.com/wippyai/pipebind"

// Kind tags the object stored under a handle.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindMessagePipe
)

func (k Kind) String() string {
	switch k {
	case KindMessagePipe:
		return "message_pipe"
	default:
		return "unknown"
	}
}

// EventType is a handle lifecycle event.
type EventType uint8

const (
	EventCreated EventType = iota
	EventRemoved
)

// Event describes one lifecycle change.
type Event struct {
	Value  any
	Handle pipebind.Handle
	Kind   Kind
	Type   EventType
}

// Observer receives lifecycle events. Observers are called synchronously
// and must not call back into the table.
type Observer interface {
	OnHandleEvent(Event)
}

// Dropper is implemented by values that release resources when their
// handle is removed or the table is closed.
type Dropper interface {
	Drop()
}
