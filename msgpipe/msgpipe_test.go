package msgpipe

import (
	"bytes"
	"testing"
	"time"

	"github.com/wippyai/pipebind"
	"github.com/wippyai/pipebind/handle"
)

func newPair(t *testing.T) (*System, *End, *End) {
	t.Helper()
	sys := NewSystem()
	h0, h1, err := sys.CreateMessagePipe()
	if err != nil {
		t.Fatalf("CreateMessagePipe: %v", err)
	}
	p0, err := sys.Pipe(h0)
	if err != nil {
		t.Fatal(err)
	}
	p1, err := sys.Pipe(h1)
	if err != nil {
		t.Fatal(err)
	}
	return sys, p0, p1
}

func TestWriteRead(t *testing.T) {
	_, p0, p1 := newPair(t)

	if r := p1.ReadMessage(); r.Result != pipebind.ResultShouldWait {
		t.Fatalf("empty read = %v, want should_wait", r.Result)
	}

	buf := []byte("hello")
	if r := p0.WriteMessage(buf, nil); r != pipebind.ResultOK {
		t.Fatalf("WriteMessage = %v", r)
	}
	buf[0] = 'j'
	p0.WriteMessage([]byte("world"), nil)

	for _, want := range []string{"hello", "world"} {
		r := p1.ReadMessage()
		if r.Result != pipebind.ResultOK || !bytes.Equal(r.Buffer, []byte(want)) {
			t.Errorf("read %q (%v), want %q", r.Buffer, r.Result, want)
		}
	}
}

func TestPeerClosed(t *testing.T) {
	sys, p0, p1 := newPair(t)
	p0.WriteMessage([]byte("last"), nil)
	if r := p0.Close(); r != pipebind.ResultOK {
		t.Fatalf("Close = %v", r)
	}
	if r := p0.Close(); r != pipebind.ResultInvalidArgument {
		t.Errorf("second Close = %v, want invalid_argument", r)
	}

	if r := p1.ReadMessage(); r.Result != pipebind.ResultOK {
		t.Fatalf("queued message lost after peer close: %v", r.Result)
	}
	if r := p1.ReadMessage(); r.Result != pipebind.ResultFailedPrecondition {
		t.Errorf("read after drain = %v, want failed_precondition", r.Result)
	}
	if r := p1.WriteMessage([]byte("x"), nil); r != pipebind.ResultFailedPrecondition {
		t.Errorf("write to closed peer = %v, want failed_precondition", r)
	}
	if sys.NumHandles() != 1 {
		t.Errorf("NumHandles = %d, want 1", sys.NumHandles())
	}
}

func TestHandleTransfer(t *testing.T) {
	sys, p0, p1 := newPair(t)
	a, b, err := sys.CreateMessagePipe()
	if err != nil {
		t.Fatal(err)
	}

	if r := p0.WriteMessage(nil, []pipebind.Handle{p0.Handle()}); r != pipebind.ResultInvalidArgument {
		t.Errorf("sending own handle = %v, want invalid_argument", r)
	}
	if r := p0.WriteMessage(nil, []pipebind.Handle{a, a}); r != pipebind.ResultInvalidArgument {
		t.Errorf("duplicate handles = %v, want invalid_argument", r)
	}
	if r := p0.WriteMessage(nil, []pipebind.Handle{99}); r != pipebind.ResultInvalidArgument {
		t.Errorf("unknown handle = %v, want invalid_argument", r)
	}
	if r := p0.WriteMessage([]byte("take"), []pipebind.Handle{b}); r != pipebind.ResultOK {
		t.Fatalf("WriteMessage = %v", r)
	}

	msg := p1.ReadMessage()
	if len(msg.Handles) != 1 || msg.Handles[0] != b {
		t.Fatalf("handles = %v, want [%d]", msg.Handles, b)
	}
	moved, err := sys.Pipe(msg.Handles[0])
	if err != nil {
		t.Fatal(err)
	}
	pa, _ := sys.Pipe(a)
	pa.WriteMessage([]byte("via moved"), nil)
	if r := moved.ReadMessage(); string(r.Buffer) != "via moved" {
		t.Errorf("moved end read %q", r.Buffer)
	}
}

func TestCloseDiscardsUnreadHandles(t *testing.T) {
	sys, p0, p1 := newPair(t)
	_, b, _ := sys.CreateMessagePipe()
	p0.WriteMessage(nil, []pipebind.Handle{b})

	p1.Close()
	if _, err := sys.Pipe(b); err == nil {
		t.Error("handle carried by an unread message survived Close")
	}
}

func TestWatch(t *testing.T) {
	_, p0, p1 := newPair(t)

	got := make(chan string, 4)
	closed := make(chan struct{})
	p1.Watch(pipebind.WatchSignals{Readable: true, PeerClosed: true}, func(r pipebind.Result) {
		if r == pipebind.ResultFailedPrecondition {
			close(closed)
			return
		}
		for {
			msg := p1.ReadMessage()
			if msg.Result != pipebind.ResultOK {
				return
			}
			got <- string(msg.Buffer)
		}
	})

	p0.WriteMessage([]byte("one"), nil)
	p0.WriteMessage([]byte("two"), nil)
	for _, want := range []string{"one", "two"} {
		select {
		case s := <-got:
			if s != want {
				t.Errorf("got %q, want %q", s, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	p0.Close()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("watch not notified of peer close")
	}
}

// liveHandles tracks handles between their created and removed events.
type liveHandles struct {
	live    map[pipebind.Handle]bool
	created int
	removed int
}

func (l *liveHandles) OnHandleEvent(e handle.Event) {
	switch e.Type {
	case handle.EventCreated:
		l.created++
		l.live[e.Handle] = true
	case handle.EventRemoved:
		l.removed++
		delete(l.live, e.Handle)
	}
}

func TestSystemClose(t *testing.T) {
	sys := NewSystem()
	handles := &liveHandles{live: make(map[pipebind.Handle]bool)}
	sys.Watch(handles)

	h0, h1, err := sys.CreateMessagePipe()
	if err != nil {
		t.Fatal(err)
	}
	p0, _ := sys.Pipe(h0)
	p1, _ := sys.Pipe(h1)
	if !handles.live[h0] || !handles.live[h1] {
		t.Fatalf("live handles = %v, want %d and %d", handles.live, h0, h1)
	}

	p0.WriteMessage([]byte("x"), nil)
	p1.Close()
	if handles.live[h1] || handles.removed != 1 {
		t.Errorf("after end close: live %v, removed %d", handles.live, handles.removed)
	}

	if err := sys.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(handles.live) != 0 || handles.created != handles.removed {
		t.Errorf("leaked handles %v (created %d, removed %d)", handles.live, handles.created, handles.removed)
	}
	if r := p0.WriteMessage([]byte("x"), nil); r != pipebind.ResultInvalidArgument {
		t.Errorf("write after system close = %v", r)
	}
	if r := p1.ReadMessage(); r.Result != pipebind.ResultInvalidArgument {
		t.Errorf("read after system close = %v", r.Result)
	}
}

func TestSystemWatchCancel(t *testing.T) {
	sys := NewSystem()
	defer sys.Close()
	handles := &liveHandles{live: make(map[pipebind.Handle]bool)}
	cancel := sys.Watch(handles)
	if _, _, err := sys.CreateMessagePipe(); err != nil {
		t.Fatal(err)
	}
	cancel()
	if _, _, err := sys.CreateMessagePipe(); err != nil {
		t.Fatal(err)
	}
	if handles.created != 2 {
		t.Errorf("created events = %d, want 2", handles.created)
	}
}
