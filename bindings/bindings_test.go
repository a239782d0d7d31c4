package bindings

import (
	"context"
	stderrors "errors"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/pipebind"
	"github.com/wippyai/pipebind/codec"
	"github.com/wippyai/pipebind/errors"
	"github.com/wippyai/pipebind/msgpipe"
)

const (
	ordinalAdd uint32 = iota
	ordinalEcho
	ordinalPass
	ordinalNotify
)

var (
	addParams = mustPack("AddParams", []codec.FieldDef{
		{Name: "a", Type: codec.Int32},
		{Name: "b", Type: codec.Int32},
	})
	addResponse = mustPack("AddResponse", []codec.FieldDef{
		{Name: "sum", Type: codec.Int32},
	})
	echoParams = mustPack("EchoParams", []codec.FieldDef{
		{Name: "text", Type: codec.String},
	})
	echoResponse = mustPack("EchoResponse", []codec.FieldDef{
		{Name: "text", Type: codec.String},
	})
	passParams = mustPack("PassParams", []codec.FieldDef{
		{Name: "receiver", Type: &codec.AssociatedInterfaceRequestSpec{Name: "Adder"}},
	})
)

func newPipes(t *testing.T) (*msgpipe.End, *msgpipe.End) {
	t.Helper()
	sys := msgpipe.NewSystem()
	t.Cleanup(func() { sys.Close() })
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
	return p0, p1
}

func wait(t *testing.T, f *Future) (map[string]any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := f.Wait(ctx)
	if stderrors.Is(err, context.DeadlineExceeded) {
		t.Fatal("timed out waiting for future")
	}
	return v, err
}

func waitReason(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for connection error")
		return ""
	}
}

func adder() Handler {
	return HandlerFunc(func(_ context.Context, args []any) (map[string]any, error) {
		return map[string]any{"sum": args[0].(int32) + args[1].(int32)}, nil
	})
}

func bindPair(t *testing.T, opts ...ReceiverOption) (*Remote, *Receiver) {
	t.Helper()
	p0, p1 := newPipes(t)
	receiver := NewReceiver(opts...)
	receiver.RegisterHandler(ordinalAdd, addParams, addResponse, adder())
	if err := receiver.Bind(p1); err != nil {
		t.Fatalf("receiver Bind: %v", err)
	}
	remote := NewRemote()
	if err := remote.Bind(p0); err != nil {
		t.Fatalf("remote Bind: %v", err)
	}
	return remote, receiver
}

func TestRemoteReceiverCall(t *testing.T) {
	remote, _ := bindPair(t)

	resp, err := wait(t, remote.SendMessage(ordinalAdd, addParams, addResponse, []any{int32(2), int32(40)}))
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if resp["sum"] != int32(42) {
		t.Errorf("sum = %v, want 42", resp["sum"])
	}
	if n := remote.NumPending(); n != 0 {
		t.Errorf("pending = %d after response", n)
	}
}

func TestFireAndForget(t *testing.T) {
	p0, p1 := newPipes(t)
	got := make(chan string, 1)
	receiver := NewReceiver()
	receiver.RegisterHandler(ordinalNotify, echoParams, nil,
		HandlerFunc(func(_ context.Context, args []any) (map[string]any, error) {
			got <- args[0].(string)
			return nil, nil
		}))
	if err := receiver.Bind(p1); err != nil {
		t.Fatal(err)
	}
	remote := NewRemote()
	if err := remote.Bind(p0); err != nil {
		t.Fatal(err)
	}

	resp, err := wait(t, remote.SendMessage(ordinalNotify, echoParams, nil, []any{"ping"}))
	if err != nil || resp != nil {
		t.Fatalf("SendMessage = %v, %v", resp, err)
	}
	select {
	case s := <-got:
		if s != "ping" {
			t.Errorf("handler got %q", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler not called")
	}
}

func TestOutOfOrderResponses(t *testing.T) {
	p0, p1 := newPipes(t)

	var mu sync.Mutex
	pending := map[string]*Future{}
	arrived := make(chan struct{}, 2)
	receiver := NewReceiver()
	receiver.RegisterHandler(ordinalEcho, echoParams, echoResponse,
		AsyncHandlerFunc(func(_ context.Context, args []any) *Future {
			f := NewFuture()
			mu.Lock()
			pending[args[0].(string)] = f
			mu.Unlock()
			arrived <- struct{}{}
			return f
		}))
	if err := receiver.Bind(p1); err != nil {
		t.Fatal(err)
	}
	remote := NewRemote()
	if err := remote.Bind(p0); err != nil {
		t.Fatal(err)
	}

	fa := remote.SendMessage(ordinalEcho, echoParams, echoResponse, []any{"a"})
	fb := remote.SendMessage(ordinalEcho, echoParams, echoResponse, []any{"b"})
	for i := 0; i < 2; i++ {
		select {
		case <-arrived:
		case <-time.After(5 * time.Second):
			t.Fatal("requests not dispatched")
		}
	}

	mu.Lock()
	pending["b"].Resolve(map[string]any{"text": "reply-b"})
	mu.Unlock()
	rb, err := wait(t, fb)
	if err != nil || rb["text"] != "reply-b" {
		t.Fatalf("b = %v, %v", rb, err)
	}
	if _, err := fa.Result(); !stderrors.Is(err, errors.InvalidState(errors.PhaseDispatch, "")) {
		t.Errorf("a resolved before its response: %v", err)
	}

	mu.Lock()
	pending["a"].Resolve(map[string]any{"text": "reply-a"})
	mu.Unlock()
	ra, err := wait(t, fa)
	if err != nil || ra["text"] != "reply-a" {
		t.Fatalf("a = %v, %v", ra, err)
	}
}

type recordingClient struct {
	msgs chan *codec.ReceivedMessage
	errs chan string
	err  error
}

func newRecordingClient() *recordingClient {
	return &recordingClient{
		msgs: make(chan *codec.ReceivedMessage, 16),
		errs: make(chan string, 4),
	}
}

func (c *recordingClient) HandleMessage(msg *codec.ReceivedMessage) error {
	c.msgs <- msg
	return c.err
}

func (c *recordingClient) HandleConnectionError(reason string) {
	c.errs <- reason
}

func (c *recordingClient) next(t *testing.T) *codec.ReceivedMessage {
	t.Helper()
	select {
	case m := <-c.msgs:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func writeRaw(t *testing.T, p pipebind.Pipe, interfaceID, ordinal uint32, text string) {
	t.Helper()
	msg, err := codec.NewMessage(nil, interfaceID, 0, ordinal, 0, echoParams, map[string]any{"text": text})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if r := p.WriteMessage(msg.Bytes(), msg.Handles()); r != pipebind.ResultOK {
		t.Fatalf("WriteMessage = %v", r)
	}
}

func TestRouterMultiplexing(t *testing.T) {
	p0, p1 := newPipes(t)
	primary := NewEndpoint(p1)
	if err := primary.Start(newRecordingClient()); err != nil {
		t.Fatal(err)
	}

	clients := map[uint32]*recordingClient{}
	for _, id := range []uint32{5, 9} {
		ae, err := primary.AcceptAssociatedEndpoint(id)
		if err != nil {
			t.Fatalf("accept %d: %v", id, err)
		}
		c := newRecordingClient()
		if err := ae.(*Endpoint).Start(c); err != nil {
			t.Fatal(err)
		}
		clients[id] = c
	}

	writeRaw(t, p0, 9, 1, "for nine")
	writeRaw(t, p0, 7, 1, "nobody")
	writeRaw(t, p0, 5, 2, "for five")

	m := clients[9].next(t)
	if m.InterfaceID != 9 {
		t.Errorf("endpoint 9 got interface %d", m.InterfaceID)
	}
	v, err := m.DecodePayload(nil, echoParams)
	if err != nil || v["text"] != "for nine" {
		t.Errorf("payload = %v, %v", v, err)
	}

	m = clients[5].next(t)
	if m.InterfaceID != 5 || m.Ordinal != 2 {
		t.Errorf("endpoint 5 got interface %d ordinal %d", m.InterfaceID, m.Ordinal)
	}
	select {
	case extra := <-clients[9].msgs:
		t.Errorf("endpoint 9 got extra message for interface %d", extra.InterfaceID)
	default:
	}
}

func TestAcceptRejectsLocalNamespace(t *testing.T) {
	_, p1 := newPipes(t)
	ep := NewEndpoint(p1, WithNamespaceBit(true))
	tests := []struct {
		name string
		id   uint32
	}{
		{"primary", codec.PrimaryInterfaceID},
		{"invalid", codec.InvalidInterfaceID},
		{"local namespace", codec.InterfaceNamespaceBit | 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ep.AcceptAssociatedEndpoint(tt.id); err == nil {
				t.Errorf("accepted id %#x", tt.id)
			}
		})
	}
	if _, err := ep.AcceptAssociatedEndpoint(3); err != nil {
		t.Errorf("accept remote id: %v", err)
	}
	if _, err := ep.AcceptAssociatedEndpoint(3); err == nil {
		t.Error("accepted duplicate id")
	}
}

func TestPrimaryTeardownRule(t *testing.T) {
	p0, p1 := newPipes(t)
	primary := NewEndpoint(p1)
	if err := primary.Start(newRecordingClient()); err != nil {
		t.Fatal(err)
	}
	ae, err := primary.AcceptAssociatedEndpoint(5)
	if err != nil {
		t.Fatal(err)
	}
	secondary := ae.(*Endpoint)

	err = primary.Close()
	if !stderrors.Is(err, errors.InvalidState(errors.PhaseRoute, "")) {
		t.Fatalf("Close with secondary = %v, want invalid_state", err)
	}

	if err := secondary.Close(); err != nil {
		t.Fatalf("secondary Close: %v", err)
	}
	if err := primary.Close(); err != nil {
		t.Fatalf("primary Close: %v", err)
	}

	r := p0.ReadMessage()
	if r.Result != pipebind.ResultOK {
		t.Fatalf("expected pipe control message, got %v", r.Result)
	}
	msg, err := codec.ParseMessage(r.Buffer, r.Handles)
	if err != nil {
		t.Fatal(err)
	}
	if msg.InterfaceID != codec.InvalidInterfaceID || msg.Ordinal != RunOrClosePipeMessageID {
		t.Fatalf("header = %+v", msg.Header)
	}
	params, err := msg.DecodePayload(nil, pipeControlParamsSpec)
	if err != nil {
		t.Fatal(err)
	}
	event := params["input"].(codec.Union).Value.(map[string]any)
	if event["id"] != uint32(5) || event["disconnect_reason"] != nil {
		t.Errorf("event = %v", event)
	}

	if r := p0.ReadMessage(); r.Result != pipebind.ResultFailedPrecondition {
		t.Errorf("after primary close read = %v, want failed_precondition", r.Result)
	}
	if err := secondary.Send(0, 0, 0, echoParams, map[string]any{"text": "x"}); !stderrors.Is(err, ErrEndpointClosed) {
		t.Errorf("send after close = %v", err)
	}
}

func TestAssociatedInterface(t *testing.T) {
	p0, p1 := newPipes(t)

	bound := make(chan *Receiver, 1)
	receiver := NewReceiver()
	receiver.RegisterHandler(ordinalPass, passParams, nil,
		HandlerFunc(func(_ context.Context, args []any) (map[string]any, error) {
			sub := NewReceiver()
			sub.RegisterHandler(ordinalAdd, addParams, addResponse, adder())
			if err := sub.BindEndpoint(args[0].(*Endpoint)); err != nil {
				return nil, err
			}
			bound <- sub
			return nil, nil
		}))
	if err := receiver.Bind(p1); err != nil {
		t.Fatal(err)
	}
	remote := NewRemote()
	if err := remote.Bind(p0); err != nil {
		t.Fatal(err)
	}

	adderRemote := NewRemote()
	passed, err := adderRemote.AssociateAndPassReceiver()
	if err != nil {
		t.Fatal(err)
	}
	if !passed.IsPendingAssociation() || adderRemote.Endpoint().IsBound() {
		t.Fatal("pair should be pending before it is sent")
	}
	if _, err := wait(t, remote.SendMessage(ordinalPass, passParams, nil, []any{passed})); err != nil {
		t.Fatalf("pass: %v", err)
	}

	id := adderRemote.Endpoint().InterfaceID()
	if id&codec.InterfaceNamespaceBit == 0 || id == codec.InvalidInterfaceID {
		t.Errorf("associated id = %#x, want namespaced id", id)
	}
	if passed.IsPendingAssociation() {
		t.Error("sent endpoint still pending")
	}

	resp, err := wait(t, adderRemote.SendMessage(ordinalAdd, addParams, addResponse, []any{int32(20), int32(22)}))
	if err != nil || resp["sum"] != int32(42) {
		t.Fatalf("associated call = %v, %v", resp, err)
	}

	var sub *Receiver
	select {
	case sub = <-bound:
	case <-time.After(5 * time.Second):
		t.Fatal("associated receiver not bound")
	}
	closed := make(chan string, 1)
	if err := sub.OnConnectionError(func(reason string) { closed <- reason }); err != nil {
		t.Fatal(err)
	}

	if err := remote.Close(); err == nil {
		t.Error("primary close succeeded with associated endpoint registered")
	}
	if err := adderRemote.Close(); err != nil {
		t.Fatalf("associated Close: %v", err)
	}
	if reason := waitReason(t, closed); reason == "" {
		t.Error("empty peer-closed reason")
	}
	if err := remote.Close(); err != nil {
		t.Errorf("primary Close: %v", err)
	}
}

func TestCloseWithReason(t *testing.T) {
	p0, p1 := newPipes(t)
	primary := NewEndpoint(p1)
	if err := primary.Start(newRecordingClient()); err != nil {
		t.Fatal(err)
	}
	ae, err := primary.AcceptAssociatedEndpoint(5)
	if err != nil {
		t.Fatal(err)
	}
	if err := ae.(*Endpoint).CloseWithReason(&DisconnectReason{CustomReason: 7, Description: "bye"}); err != nil {
		t.Fatal(err)
	}
	if n := primary.router.NumEndpoints(); n != 1 {
		t.Errorf("endpoints = %d after closing secondary", n)
	}

	r := p0.ReadMessage()
	if r.Result != pipebind.ResultOK {
		t.Fatalf("read = %v", r.Result)
	}
	msg, err := codec.ParseMessage(r.Buffer, r.Handles)
	if err != nil {
		t.Fatal(err)
	}
	params, err := msg.DecodePayload(nil, pipeControlParamsSpec)
	if err != nil {
		t.Fatal(err)
	}
	event := params["input"].(codec.Union).Value.(map[string]any)
	reason, ok := event["disconnect_reason"].(map[string]any)
	if !ok {
		t.Fatalf("disconnect_reason = %v", event["disconnect_reason"])
	}
	if reason["custom_reason"] != uint32(7) || reason["description"] != "bye" {
		t.Errorf("reason = %v", reason)
	}
}

func TestPeerClosedEvent(t *testing.T) {
	p0, p1 := newPipes(t)
	primary := NewEndpoint(p1)
	if err := primary.Start(newRecordingClient()); err != nil {
		t.Fatal(err)
	}
	ae, err := primary.AcceptAssociatedEndpoint(5)
	if err != nil {
		t.Fatal(err)
	}
	c := newRecordingClient()
	if err := ae.(*Endpoint).Start(c); err != nil {
		t.Fatal(err)
	}

	params := map[string]any{
		"input": codec.Union{Tag: tagPeerAssociatedEndpointClosed, Value: map[string]any{
			"id":                uint32(5),
			"disconnect_reason": map[string]any{"custom_reason": uint32(7), "description": "bye"},
		}},
	}
	msg, err := codec.NewMessage(nil, codec.InvalidInterfaceID, 0, RunOrClosePipeMessageID, 0, pipeControlParamsSpec, params)
	if err != nil {
		t.Fatal(err)
	}
	p0.WriteMessage(msg.Bytes(), nil)

	reason := waitReason(t, c.errs)
	if reason != "peer associated endpoint closed (reason 7: bye)" {
		t.Errorf("reason = %q", reason)
	}
	if n := primary.router.NumEndpoints(); n != 1 {
		t.Errorf("endpoints = %d, want only the primary", n)
	}
	if r := p0.ReadMessage(); r.Result != pipebind.ResultShouldWait {
		t.Errorf("peer-closed event was echoed back: %v", r.Result)
	}
}

func TestMalformedMessageFailsRouter(t *testing.T) {
	p0, p1 := newPipes(t)
	primary := NewEndpoint(p1)
	c := newRecordingClient()
	if err := primary.Start(c); err != nil {
		t.Fatal(err)
	}
	p0.WriteMessage([]byte{1, 2, 3}, nil)

	waitReason(t, c.errs)
	if err := primary.Send(0, 0, 0, echoParams, map[string]any{"text": "x"}); !stderrors.Is(err, ErrEndpointClosed) {
		t.Errorf("send after failure = %v", err)
	}
	if err := primary.Close(); err != nil {
		t.Errorf("Close after failure = %v", err)
	}
}

func TestQueuedUntilStart(t *testing.T) {
	p0, p1 := newPipes(t)
	primary := NewEndpoint(p1)
	pc := newRecordingClient()
	if err := primary.Start(pc); err != nil {
		t.Fatal(err)
	}
	ae, err := primary.AcceptAssociatedEndpoint(5)
	if err != nil {
		t.Fatal(err)
	}
	writeRaw(t, p0, 5, 1, "early")
	writeRaw(t, p0, codec.PrimaryInterfaceID, 1, "sync")
	pc.next(t)

	c := newRecordingClient()
	if err := ae.(*Endpoint).Start(c); err != nil {
		t.Fatal(err)
	}
	v, err := c.next(t).DecodePayload(nil, echoParams)
	if err != nil || v["text"] != "early" {
		t.Errorf("queued message = %v, %v", v, err)
	}
}

func TestPendingPairClose(t *testing.T) {
	a, b := CreateAssociatedPair()
	if !a.IsPendingAssociation() || !b.IsPendingAssociation() {
		t.Fatal("new pair should be pending")
	}
	c := newRecordingClient()
	if err := b.Start(c); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if reason := waitReason(t, c.errs); reason != "associated peer endpoint closed" {
		t.Errorf("reason = %q", reason)
	}
	if err := b.Send(0, 0, 0, echoParams, map[string]any{"text": "x"}); !stderrors.Is(err, ErrEndpointClosed) {
		t.Errorf("send on orphaned endpoint = %v", err)
	}
}

func TestQueryVersionAndFlush(t *testing.T) {
	remote, _ := bindPair(t, WithVersion(3))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	v, err := remote.QueryVersion(ctx)
	if err != nil {
		t.Fatalf("QueryVersion: %v", err)
	}
	if v != 3 || remote.Version() != 3 {
		t.Errorf("version = %d (cached %d), want 3", v, remote.Version())
	}
	if err := remote.FlushForTesting(ctx); err != nil {
		t.Errorf("FlushForTesting: %v", err)
	}
}

func TestRequireVersion(t *testing.T) {
	tests := []struct {
		name     string
		required uint32
		closes   bool
	}{
		{"supported", 2, false},
		{"too new", 5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote, receiver := bindPair(t, WithVersion(3))
			receiverErr := make(chan string, 1)
			if err := receiver.OnConnectionError(func(r string) { receiverErr <- r }); err != nil {
				t.Fatal(err)
			}
			remoteErr := make(chan string, 1)
			if err := remote.OnConnectionError(func(r string) { remoteErr <- r }); err != nil {
				t.Fatal(err)
			}

			if err := remote.RequireVersion(tt.required); err != nil {
				t.Fatalf("RequireVersion: %v", err)
			}
			if !tt.closes {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := remote.FlushForTesting(ctx); err != nil {
					t.Errorf("flush after satisfied requirement: %v", err)
				}
				return
			}
			waitReason(t, receiverErr)
			waitReason(t, remoteErr)
			_, err := wait(t, remote.SendMessage(ordinalAdd, addParams, addResponse, []any{int32(1), int32(2)}))
			if err == nil {
				t.Error("call succeeded on closed pipe")
			}
		})
	}
}

func TestHandlerErrorClosesEndpoint(t *testing.T) {
	p0, p1 := newPipes(t)
	receiver := NewReceiver()
	receiver.RegisterHandler(ordinalEcho, echoParams, echoResponse,
		HandlerFunc(func(context.Context, []any) (map[string]any, error) {
			return nil, stderrors.New("boom")
		}))
	if err := receiver.Bind(p1); err != nil {
		t.Fatal(err)
	}
	receiverErr := make(chan string, 1)
	if err := receiver.OnConnectionError(func(r string) { receiverErr <- r }); err != nil {
		t.Fatal(err)
	}
	remote := NewRemote()
	if err := remote.Bind(p0); err != nil {
		t.Fatal(err)
	}

	_, err := wait(t, remote.SendMessage(ordinalEcho, echoParams, echoResponse, []any{"x"}))
	if !stderrors.Is(err, ErrConnection) {
		t.Fatalf("call error = %v, want connection error", err)
	}
	waitReason(t, receiverErr)
}

func TestSendRejectsWithoutTransport(t *testing.T) {
	unbound := NewRemote()
	_, err := wait(t, unbound.SendMessage(ordinalAdd, addParams, addResponse, []any{int32(1), int32(2)}))
	if !stderrors.Is(err, errors.InvalidState(errors.PhaseDispatch, "")) {
		t.Errorf("unbound send = %v", err)
	}

	remote, _ := bindPair(t)
	if err := remote.Close(); err != nil {
		t.Fatal(err)
	}
	_, err = wait(t, remote.SendMessage(ordinalAdd, addParams, addResponse, []any{int32(1), int32(2)}))
	if !stderrors.Is(err, ErrEndpointClosed) {
		t.Errorf("send after close = %v", err)
	}
}

func TestConnectionErrorRejectsPending(t *testing.T) {
	p0, p1 := newPipes(t)
	receiver := NewReceiver()
	receiver.RegisterHandler(ordinalEcho, echoParams, echoResponse,
		AsyncHandlerFunc(func(context.Context, []any) *Future { return NewFuture() }))
	if err := receiver.Bind(p1); err != nil {
		t.Fatal(err)
	}
	remote := NewRemote()
	if err := remote.Bind(p0); err != nil {
		t.Fatal(err)
	}
	fired := make(chan string, 4)
	if err := remote.OnConnectionError(func(r string) { fired <- r }); err != nil {
		t.Fatal(err)
	}

	futures := []*Future{
		remote.SendMessage(ordinalEcho, echoParams, echoResponse, []any{"a"}),
		remote.SendMessage(ordinalEcho, echoParams, echoResponse, []any{"b"}),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := remote.FlushForTesting(ctx); err != nil {
		t.Fatal(err)
	}
	if n := remote.NumPending(); n != 2 {
		t.Fatalf("pending = %d, want 2", n)
	}

	if err := receiver.Close(); err != nil {
		t.Fatal(err)
	}
	for _, f := range futures {
		if _, err := wait(t, f); !stderrors.Is(err, ErrConnection) {
			t.Errorf("pending call = %v, want connection error", err)
		}
	}
	waitReason(t, fired)
	select {
	case r := <-fired:
		t.Errorf("connection error fired twice: %q", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRequestIDWraps(t *testing.T) {
	ep := &Endpoint{nextRequestID: math.MaxUint32}
	if id := ep.GenerateRequestID(); id != math.MaxUint32 {
		t.Errorf("first id = %d", id)
	}
	if id := ep.GenerateRequestID(); id != 0 {
		t.Errorf("wrapped id = %d, want 0", id)
	}
}

func TestGenerateInterfaceID(t *testing.T) {
	r := newRouter(nil, buildRouterOptions([]RouterOption{WithNamespaceBit(true)}))
	r.endpoints[codec.InterfaceNamespaceBit|1] = &Endpoint{}
	if id := r.generateInterfaceID(); id != codec.InterfaceNamespaceBit|2 {
		t.Errorf("id = %#x, want skip of used id", id)
	}

	r = newRouter(nil, buildRouterOptions(nil))
	r.nextInterfaceID = codec.InterfaceNamespaceBit
	if id := r.generateInterfaceID(); id != 1 {
		t.Errorf("wrapped id = %#x, want 1", id)
	}
}

func TestFailedSendReleasesAssociations(t *testing.T) {
	p0, _ := newPipes(t)
	primary := NewEndpoint(p0)
	if err := primary.Start(newRecordingClient()); err != nil {
		t.Fatal(err)
	}
	twoParams := mustPack("TwoParams", []codec.FieldDef{
		{Name: "first", Type: &codec.AssociatedInterfaceRequestSpec{Name: "Adder"}},
		{Name: "second", Type: &codec.AssociatedInterfaceRequestSpec{Name: "Adder"}},
	})

	kept, passed := CreateAssociatedPair()
	tests := []struct {
		name  string
		spec  *codec.StructSpec
		value map[string]any
	}{
		{"same endpoint twice", twoParams, map[string]any{"first": passed, "second": passed}},
		{"bad value after endpoint", twoParams, map[string]any{"first": passed, "second": "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := primary.Send(0, ordinalPass, 0, tt.spec, tt.value); err == nil {
				t.Fatal("Send succeeded")
			}
			if !kept.IsPendingAssociation() || kept.IsBound() {
				t.Error("kept endpoint left bound after failed send")
			}
			if !passed.IsPendingAssociation() {
				t.Error("passed endpoint consumed by failed send")
			}
			if n := primary.router.NumEndpoints(); n != 1 {
				t.Errorf("NumEndpoints = %d, want 1", n)
			}
		})
	}

	if err := primary.Send(0, ordinalPass, 0, passParams, map[string]any{"receiver": passed}); err != nil {
		t.Fatalf("Send after rollback: %v", err)
	}
	if !kept.IsBound() || primary.router.NumEndpoints() != 2 {
		t.Fatal("kept endpoint not registered by successful send")
	}
	if err := kept.Close(); err != nil {
		t.Fatal(err)
	}
	if err := primary.Close(); err != nil {
		t.Errorf("primary Close: %v", err)
	}
}

func TestConnectionErrorUsesRouterLogger(t *testing.T) {
	tests := []struct {
		name         string
		closeRemote  bool
		wantRemote   int
		wantReceiver int
	}{
		{"receiver closes", false, 1, 0},
		{"remote closes", true, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p0, p1 := newPipes(t)
			remoteCore, remoteLogs := observer.New(zapcore.DebugLevel)
			receiverCore, receiverLogs := observer.New(zapcore.DebugLevel)

			receiver := NewReceiver()
			if err := receiver.Bind(p1, WithRouterLogger(zap.New(receiverCore))); err != nil {
				t.Fatal(err)
			}
			remote := NewRemote()
			if err := remote.Bind(p0, WithRouterLogger(zap.New(remoteCore))); err != nil {
				t.Fatal(err)
			}

			fired := make(chan string, 1)
			if tt.closeRemote {
				if err := receiver.OnConnectionError(func(r string) { fired <- r }); err != nil {
					t.Fatal(err)
				}
				if err := remote.Close(); err != nil {
					t.Fatal(err)
				}
			} else {
				if err := remote.OnConnectionError(func(r string) { fired <- r }); err != nil {
					t.Fatal(err)
				}
				if err := receiver.Close(); err != nil {
					t.Fatal(err)
				}
			}
			waitReason(t, fired)

			if n := remoteLogs.FilterMessage("remote connection error").Len(); n != tt.wantRemote {
				t.Errorf("remote router logged %d connection errors, want %d", n, tt.wantRemote)
			}
			if n := receiverLogs.FilterMessage("receiver connection error").Len(); n != tt.wantReceiver {
				t.Errorf("receiver router logged %d connection errors, want %d", n, tt.wantReceiver)
			}
		})
	}
}
