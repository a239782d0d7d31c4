// Package msgpipe implements in-process message pipes.
//
// A System owns a handle table. CreateMessagePipe returns the handles of two
// connected ends; messages written to one end are queued on the other.
// Handles listed in a message travel with it and stay valid in the shared
// table, so a pipe end can be passed to the peer and opened there.
package msgpipe

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/pipebind"
	"github.com/wippyai/pipebind/errors"
	"github.com/wippyai/pipebind/handle"
	"github.com/wippyai/pipebind/internal/signal"
)

// System is a set of pipes sharing one handle namespace.
type System struct {
	table *handle.Table
}

// NewSystem creates an empty System.
func NewSystem() *System {
	t := handle.NewTable()
	t.Subscribe(handleLog{})
	return &System{table: t}
}

// Watch subscribes o to the handle lifecycle of the System. Every pipe end
// produces one created event and one removed event, whether the end is
// closed on its own or by Close. The returned function unsubscribes o.
func (s *System) Watch(o handle.Observer) func() {
	s.table.Subscribe(o)
	return func() { s.table.Unsubscribe(o) }
}

type handleLog struct{}

func (handleLog) OnHandleEvent(e handle.Event) {
	msg := "handle created"
	if e.Type == handle.EventRemoved {
		msg = "handle removed"
	}
	Logger().Debug(msg, zap.Uint32("handle", uint32(e.Handle)), zap.Stringer("kind", e.Kind))
}

// CreateMessagePipe creates a connected pair of pipe ends.
func (s *System) CreateMessagePipe() (pipebind.Handle, pipebind.Handle, error) {
	e0 := &End{sys: s}
	e1 := &End{sys: s, peer: e0}
	e0.peer = e1

	h0, err := s.table.Insert(handle.KindMessagePipe, e0)
	if err != nil {
		return pipebind.InvalidHandle, pipebind.InvalidHandle, err
	}
	h1, err := s.table.Insert(handle.KindMessagePipe, e1)
	if err != nil {
		s.table.Remove(h0)
		return pipebind.InvalidHandle, pipebind.InvalidHandle, err
	}
	e0.handle, e1.handle = h0, h1

	Logger().Debug("message pipe created", zap.Uint32("h0", uint32(h0)), zap.Uint32("h1", uint32(h1)))
	return h0, h1, nil
}

// Pipe returns the pipe end named by h.
func (s *System) Pipe(h pipebind.Handle) (*End, error) {
	v, ok := s.table.GetTyped(h, handle.KindMessagePipe)
	if !ok {
		return nil, errors.NotFound(errors.PhaseTransport, "message pipe handle", h)
	}
	return v.(*End), nil
}

// NumHandles reports how many handles are open.
func (s *System) NumHandles() int {
	return s.table.Len()
}

// Close closes every open pipe end.
func (s *System) Close() error {
	return s.table.Close()
}

func (s *System) closeHandles(handles []pipebind.Handle) {
	for _, h := range handles {
		if end, err := s.Pipe(h); err == nil {
			end.Close()
		}
	}
}

// End is one end of an in-process message pipe. It implements pipebind.Pipe.
type End struct {
	sys        *System
	peer       *End
	watcher    *signal.Watcher
	queue      []pipebind.ReadResult
	mu         sync.Mutex
	handle     pipebind.Handle
	closed     bool
	peerClosed bool
}

var _ pipebind.Pipe = (*End)(nil)

// Handle returns the handle that names this end.
func (e *End) Handle() pipebind.Handle {
	return e.handle
}

// WriteMessage queues a copy of buffer on the peer. Every handle must be
// open, distinct and must not name either end of this pipe.
func (e *End) WriteMessage(buffer []byte, handles []pipebind.Handle) pipebind.Result {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return pipebind.ResultInvalidArgument
	}
	peer := e.peer
	e.mu.Unlock()

	seen := make(map[pipebind.Handle]bool, len(handles))
	for _, h := range handles {
		if h == e.handle || h == peer.handle || seen[h] {
			return pipebind.ResultInvalidArgument
		}
		if _, ok := e.sys.table.Get(h); !ok {
			return pipebind.ResultInvalidArgument
		}
		seen[h] = true
	}

	msg := pipebind.ReadResult{
		Buffer:  append([]byte(nil), buffer...),
		Handles: append([]pipebind.Handle(nil), handles...),
		Result:  pipebind.ResultOK,
	}

	peer.mu.Lock()
	if peer.closed {
		peer.mu.Unlock()
		return pipebind.ResultFailedPrecondition
	}
	peer.queue = append(peer.queue, msg)
	w := peer.watcher
	peer.mu.Unlock()

	if w != nil {
		w.Notify()
	}
	return pipebind.ResultOK
}

// ReadMessage takes the oldest queued message.
func (e *End) ReadMessage() pipebind.ReadResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.closed:
		return pipebind.ReadResult{Result: pipebind.ResultInvalidArgument}
	case len(e.queue) > 0:
		msg := e.queue[0]
		e.queue[0] = pipebind.ReadResult{}
		e.queue = e.queue[1:]
		return msg
	case e.peerClosed:
		return pipebind.ReadResult{Result: pipebind.ResultFailedPrecondition}
	default:
		return pipebind.ReadResult{Result: pipebind.ResultShouldWait}
	}
}

func (e *End) poll() pipebind.Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.closed:
		return pipebind.ResultShouldWait
	case len(e.queue) > 0:
		return pipebind.ResultOK
	case e.peerClosed:
		return pipebind.ResultFailedPrecondition
	default:
		return pipebind.ResultShouldWait
	}
}

// Watch starts invoking callback when the end becomes readable or the peer
// closes. A new watch replaces the previous one.
func (e *End) Watch(_ pipebind.WatchSignals, callback func(pipebind.Result)) pipebind.Watcher {
	e.mu.Lock()
	old := e.watcher
	var w *signal.Watcher
	if !e.closed {
		w = signal.Start(e.poll, callback)
		e.watcher = w
	}
	e.mu.Unlock()

	if old != nil {
		old.Cancel()
	}
	if w == nil {
		return noopWatcher{}
	}
	return w
}

// Close closes this end, discards unread messages together with the handles
// they carry and signals the peer.
func (e *End) Close() pipebind.Result {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return pipebind.ResultInvalidArgument
	}
	e.closed = true
	w := e.watcher
	e.watcher = nil
	unread := e.queue
	e.queue = nil
	peer := e.peer
	e.mu.Unlock()

	if w != nil {
		w.Cancel()
	}
	e.sys.table.Remove(e.handle)

	peer.mu.Lock()
	peer.peerClosed = true
	pw := peer.watcher
	peer.mu.Unlock()
	if pw != nil {
		pw.Notify()
	}

	var orphaned []pipebind.Handle
	for _, msg := range unread {
		orphaned = append(orphaned, msg.Handles...)
	}
	e.sys.closeHandles(orphaned)

	Logger().Debug("message pipe end closed",
		zap.Uint32("handle", uint32(e.handle)),
		zap.Int("discarded", len(unread)))
	return pipebind.ResultOK
}

// Drop closes the end when its handle table is closed.
func (e *End) Drop() {
	e.Close()
}

type noopWatcher struct{}

func (noopWatcher) Cancel() {}
