package pipebind

// Handle identifies a transferable transport object such as a message pipe.
// Zero is never a valid handle.
type Handle uint32

// InvalidHandle is the zero handle.
const InvalidHandle Handle = 0

// Result is a transport status code.
type Result int

const (
	ResultOK Result = iota
	ResultCancelled
	ResultInvalidArgument
	ResultShouldWait
	ResultFailedPrecondition
	ResultResourceExhausted
	ResultUnknown
)

var resultNames = [...]string{
	ResultOK:                 "ok",
	ResultCancelled:          "cancelled",
	ResultInvalidArgument:    "invalid_argument",
	ResultShouldWait:         "should_wait",
	ResultFailedPrecondition: "failed_precondition",
	ResultResourceExhausted:  "resource_exhausted",
	ResultUnknown:            "unknown",
}

func (r Result) String() string {
	if r >= 0 && int(r) < len(resultNames) {
		return resultNames[r]
	}
	return "unknown"
}

// ReadResult is one message taken off a pipe.
type ReadResult struct {
	Buffer  []byte
	Handles []Handle
	Result  Result
}

// WatchSignals selects the conditions that wake a watcher.
type WatchSignals struct {
	Readable   bool
	PeerClosed bool
}

// Watcher is an active watch registration.
type Watcher interface {
	Cancel()
}

// Pipe is one end of a bidirectional message pipe.
//
// Watch callbacks for a single pipe are invoked serially, never concurrently
// with each other. The callback receives ResultOK when the pipe is readable
// and ResultFailedPrecondition once the peer is closed and no messages remain.
type Pipe interface {
	WriteMessage(buffer []byte, handles []Handle) Result
	ReadMessage() ReadResult
	Watch(signals WatchSignals, callback func(Result)) Watcher
	Close() Result
}
