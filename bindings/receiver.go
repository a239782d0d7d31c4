package bindings

import (
	"context"
	"fmt"
	"sync"

	EventBus "github.com/asaskevich/EventBus"
	"go.uber.org/zap"

	"github.com/wippyai/pipebind"
	"github.com/wippyai/pipebind/codec"
	"github.com/wippyai/pipebind/errors"
)

// Handler implements one method of an interface. args are the decoded
// parameters in declaration order. The returned Future carries the
// response fields and is ignored when the method has no response.
type Handler interface {
	Handle(ctx context.Context, args []any) *Future
}

// HandlerFunc adapts a synchronous function to Handler.
type HandlerFunc func(ctx context.Context, args []any) (map[string]any, error)

func (f HandlerFunc) Handle(ctx context.Context, args []any) *Future {
	value, err := f(ctx, args)
	if err != nil {
		return Rejected(err)
	}
	return Resolved(value)
}

// AsyncHandlerFunc adapts a function that completes later to Handler.
type AsyncHandlerFunc func(ctx context.Context, args []any) *Future

func (f AsyncHandlerFunc) Handle(ctx context.Context, args []any) *Future {
	return f(ctx, args)
}

type handlerEntry struct {
	params   *codec.StructSpec
	response *codec.StructSpec
	handler  Handler
}

// Receiver is the implementation side of an interface. It dispatches
// requests to handlers registered by ordinal and answers interface control
// messages itself.
type Receiver struct {
	endpoint *Endpoint
	handlers map[uint32]handlerEntry
	bus      EventBus.Bus
	mu       sync.Mutex
	version  uint32
}

var _ Client = (*Receiver)(nil)

// NewReceiver creates an unbound Receiver.
func NewReceiver(opts ...ReceiverOption) *Receiver {
	var o receiverOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Receiver{
		handlers: make(map[uint32]handlerEntry),
		bus:      EventBus.New(),
		version:  o.version,
	}
}

// RegisterHandler installs h for ordinal. response is nil for methods
// without a reply.
func (r *Receiver) RegisterHandler(ordinal uint32, params, response *codec.StructSpec, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[ordinal] = handlerEntry{params: params, response: response, handler: h}
}

// Bind makes pipe the primary interface of this Receiver.
func (r *Receiver) Bind(pipe pipebind.Pipe, opts ...RouterOption) error {
	opts = append([]RouterOption{WithNamespaceBit(false)}, opts...)
	return r.BindEndpoint(NewEndpoint(pipe, opts...))
}

// BindEndpoint attaches an existing endpoint, such as one decoded from a
// message.
func (r *Receiver) BindEndpoint(ep *Endpoint) error {
	r.mu.Lock()
	if r.endpoint != nil {
		r.mu.Unlock()
		return errors.InvalidState(errors.PhaseDispatch, "receiver is already bound")
	}
	r.endpoint = ep
	r.mu.Unlock()
	return ep.Start(r)
}

// AssociateAndPassRemote binds this Receiver to one half of a new
// associated pair and returns the other half for the caller to send.
func (r *Receiver) AssociateAndPassRemote() (*Endpoint, error) {
	kept, passed := CreateAssociatedPair()
	if err := r.BindEndpoint(kept); err != nil {
		return nil, err
	}
	return passed, nil
}

// Endpoint returns the bound endpoint or nil.
func (r *Receiver) Endpoint() *Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endpoint
}

// Version returns the interface version reported to QueryVersion.
func (r *Receiver) Version() uint32 {
	return r.version
}

// OnConnectionError registers fn to run when the endpoint fails or a
// handler error closes it.
func (r *Receiver) OnConnectionError(fn func(reason string)) error {
	return r.bus.Subscribe(topicConnectionError, fn)
}

// Close closes the endpoint.
func (r *Receiver) Close() error {
	if ep := r.Endpoint(); ep != nil {
		return ep.Close()
	}
	return nil
}

// HandleMessage dispatches one request.
func (r *Receiver) HandleMessage(msg *codec.ReceivedMessage) error {
	if msg.IsResponse() {
		return errors.Protocol(errors.PhaseDispatch,
			fmt.Sprintf("receiver got a response with ordinal %#x", msg.Ordinal), nil)
	}
	switch msg.Ordinal {
	case RunMessageID:
		return r.handleRun(msg)
	case RunOrClosePipeMessageID:
		return r.handleRunOrClosePipe(msg)
	}

	r.mu.Lock()
	entry, ok := r.handlers[msg.Ordinal]
	ep := r.endpoint
	r.mu.Unlock()
	if !ok {
		return errors.NotFound(errors.PhaseDispatch, "handler for ordinal", msg.Ordinal)
	}

	params, err := msg.DecodePayload(&codec.Context{Endpoint: ep}, entry.params)
	if err != nil {
		return err
	}
	future := entry.handler.Handle(context.Background(), entry.params.ToArgs(params))
	if future == nil {
		future = Resolved(nil)
	}
	reply := msg.ExpectsResponse() && entry.response != nil
	complete := func() error {
		value, err := future.Result()
		if err != nil {
			return errors.Wrap(errors.PhaseDispatch, errors.KindProtocol, err, "handler failed")
		}
		if !reply {
			return nil
		}
		return ep.Send(codec.FlagIsResponse, msg.Ordinal, msg.RequestID, entry.response, value)
	}

	select {
	case <-future.Done():
		return complete()
	default:
	}
	go func() {
		<-future.Done()
		if err := complete(); err != nil {
			ep.fail(err)
		}
	}()
	return nil
}

func (r *Receiver) handleRun(msg *codec.ReceivedMessage) error {
	params, err := msg.DecodePayload(nil, runParamsSpec)
	if err != nil {
		return err
	}
	input, _ := params["input"].(codec.Union)

	var output any
	switch input.Tag {
	case tagQueryVersion:
		output = codec.Union{
			Tag:   tagQueryVersionResult,
			Value: map[string]any{"version": r.version},
		}
	case tagFlushForTesting:
	default:
		return errors.Protocol(errors.PhaseDispatch, fmt.Sprintf("unknown run input %q", input.Tag), nil)
	}
	if !msg.ExpectsResponse() {
		return nil
	}
	ep := r.Endpoint()
	return ep.Send(codec.FlagIsResponse, RunMessageID, msg.RequestID, runResponseParamsSpec,
		map[string]any{"output": output})
}

func (r *Receiver) handleRunOrClosePipe(msg *codec.ReceivedMessage) error {
	params, err := msg.DecodePayload(nil, runOrClosePipeParamsSpec)
	if err != nil {
		return err
	}
	input, _ := params["input"].(codec.Union)
	if input.Tag != tagRequireVersion {
		return errors.Protocol(errors.PhaseDispatch, fmt.Sprintf("unknown run_or_close_pipe input %q", input.Tag), nil)
	}
	fields, _ := input.Value.(map[string]any)
	required, _ := fields["version"].(uint32)
	if required <= r.version {
		return nil
	}
	return errors.New(errors.PhaseDispatch, errors.KindProtocol).
		Detail("required version %d exceeds supported version %d", required, r.version).Build()
}

// HandleConnectionError notifies OnConnectionError listeners.
func (r *Receiver) HandleConnectionError(reason string) {
	r.mu.Lock()
	ep := r.endpoint
	r.mu.Unlock()
	ep.logger().Debug("receiver connection error", zap.String("reason", reason))
	r.bus.Publish(topicConnectionError, reason)
}
