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

const topicConnectionError = "connection_error"

type pendingResponse struct {
	spec    *codec.StructSpec
	future  *Future
	ordinal uint32
}

// Remote is the calling side of an interface. It correlates responses with
// requests by request id; responses may arrive in any order.
type Remote struct {
	endpoint *Endpoint
	pending  map[uint32]*pendingResponse
	bus      EventBus.Bus
	mu       sync.Mutex
	version  uint32
	failed   bool
}

var _ Client = (*Remote)(nil)

// NewRemote creates an unbound Remote.
func NewRemote() *Remote {
	return &Remote{
		pending: make(map[uint32]*pendingResponse),
		bus:     EventBus.New(),
	}
}

// Bind makes pipe the primary interface of this Remote. Interface ids the
// remote side allocates carry the namespace bit unless an option says
// otherwise.
func (r *Remote) Bind(pipe pipebind.Pipe, opts ...RouterOption) error {
	opts = append([]RouterOption{WithNamespaceBit(true)}, opts...)
	return r.BindEndpoint(NewEndpoint(pipe, opts...))
}

// BindEndpoint attaches an existing endpoint, such as one half of an
// associated pair or an endpoint decoded from a message.
func (r *Remote) BindEndpoint(ep *Endpoint) error {
	r.mu.Lock()
	if r.endpoint != nil {
		r.mu.Unlock()
		return errors.InvalidState(errors.PhaseDispatch, "remote is already bound")
	}
	r.endpoint = ep
	r.mu.Unlock()
	return ep.Start(r)
}

// AssociateAndPassReceiver binds this Remote to one half of a new
// associated pair and returns the other half, which the caller sends to
// the implementation side in a message.
func (r *Remote) AssociateAndPassReceiver() (*Endpoint, error) {
	kept, passed := CreateAssociatedPair()
	if err := r.BindEndpoint(kept); err != nil {
		return nil, err
	}
	return passed, nil
}

// Endpoint returns the bound endpoint or nil.
func (r *Remote) Endpoint() *Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endpoint
}

// IsBound reports whether the Remote has an endpoint.
func (r *Remote) IsBound() bool {
	return r.Endpoint() != nil
}

// Version returns the last version learned through QueryVersion or
// RequireVersion.
func (r *Remote) Version() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// SendMessage sends a request built from positional args. When response is
// nil the message expects no reply and the Future resolves once it is
// written. Otherwise the Future resolves with the decoded response.
func (r *Remote) SendMessage(ordinal uint32, params, response *codec.StructSpec, args []any) *Future {
	return r.send(ordinal, params, response, params.FromArgs(args))
}

func (r *Remote) send(ordinal uint32, params, response *codec.StructSpec, value map[string]any) *Future {
	r.mu.Lock()
	ep, failed := r.endpoint, r.failed
	r.mu.Unlock()
	if ep == nil {
		return Rejected(errors.InvalidState(errors.PhaseDispatch, "remote is not bound"))
	}
	if failed {
		return Rejected(ErrEndpointClosed)
	}

	if response == nil {
		if err := ep.Send(0, ordinal, 0, params, value); err != nil {
			return Rejected(err)
		}
		return Resolved(nil)
	}

	requestID := ep.GenerateRequestID()
	future := NewFuture()
	r.mu.Lock()
	if r.failed {
		r.mu.Unlock()
		return Rejected(ErrEndpointClosed)
	}
	r.pending[requestID] = &pendingResponse{spec: response, future: future, ordinal: ordinal}
	r.mu.Unlock()

	if err := ep.Send(codec.FlagExpectsResponse, ordinal, requestID, params, value); err != nil {
		r.mu.Lock()
		delete(r.pending, requestID)
		r.mu.Unlock()
		future.Reject(err)
	}
	return future
}

// NumPending reports how many requests await a response.
func (r *Remote) NumPending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// FlushForTesting round-trips an interface control message, so every
// message sent before it has been dispatched by the other side.
func (r *Remote) FlushForTesting(ctx context.Context) error {
	_, err := r.runControl(ctx, codec.Union{Tag: tagFlushForTesting, Value: map[string]any{}})
	return err
}

// QueryVersion asks the implementation for its interface version.
func (r *Remote) QueryVersion(ctx context.Context) (uint32, error) {
	out, err := r.runControl(ctx, codec.Union{Tag: tagQueryVersion, Value: map[string]any{}})
	if err != nil {
		return 0, err
	}
	output, ok := out["output"].(codec.Union)
	if !ok || output.Tag != tagQueryVersionResult {
		return 0, errors.Protocol(errors.PhaseDispatch, "query_version returned no result", nil)
	}
	result, _ := output.Value.(map[string]any)
	version, _ := result["version"].(uint32)

	r.mu.Lock()
	r.version = version
	r.mu.Unlock()
	return version, nil
}

// RequireVersion asks the implementation to close the pipe unless it
// supports at least version. No reply is sent.
func (r *Remote) RequireVersion(version uint32) error {
	r.mu.Lock()
	if r.version < version {
		r.version = version
	}
	r.mu.Unlock()
	params := map[string]any{
		"input": codec.Union{Tag: tagRequireVersion, Value: map[string]any{"version": version}},
	}
	_, err := r.send(RunOrClosePipeMessageID, runOrClosePipeParamsSpec, nil, params).Wait(context.Background())
	return err
}

func (r *Remote) runControl(ctx context.Context, input codec.Union) (map[string]any, error) {
	params := map[string]any{"input": input}
	return r.send(RunMessageID, runParamsSpec, runResponseParamsSpec, params).Wait(ctx)
}

// OnConnectionError registers fn to run when the endpoint fails.
func (r *Remote) OnConnectionError(fn func(reason string)) error {
	return r.bus.Subscribe(topicConnectionError, fn)
}

// Close closes the endpoint and rejects outstanding requests.
func (r *Remote) Close() error {
	r.mu.Lock()
	ep := r.endpoint
	r.mu.Unlock()
	if ep != nil {
		if err := ep.Close(); err != nil {
			return err
		}
	}
	r.rejectAll(ErrEndpointClosed)
	return nil
}

// HandleMessage resolves the pending request the response belongs to.
func (r *Remote) HandleMessage(msg *codec.ReceivedMessage) error {
	if !msg.IsResponse() {
		return errors.Protocol(errors.PhaseDispatch,
			fmt.Sprintf("remote received request with ordinal %#x", msg.Ordinal), nil)
	}

	r.mu.Lock()
	p, ok := r.pending[msg.RequestID]
	if ok {
		delete(r.pending, msg.RequestID)
	}
	ep := r.endpoint
	r.mu.Unlock()

	if !ok {
		return errors.Protocol(errors.PhaseDispatch,
			fmt.Sprintf("response for unknown request id %d", msg.RequestID), nil)
	}
	if p.ordinal != msg.Ordinal {
		err := errors.Protocol(errors.PhaseDispatch,
			fmt.Sprintf("response ordinal %#x does not match request ordinal %#x", msg.Ordinal, p.ordinal), nil)
		p.future.Reject(err)
		return err
	}

	value, err := msg.DecodePayload(&codec.Context{Endpoint: ep}, p.spec)
	if err != nil {
		p.future.Reject(err)
		return err
	}
	p.future.Resolve(value)
	return nil
}

// HandleConnectionError rejects every pending request and notifies
// OnConnectionError listeners.
func (r *Remote) HandleConnectionError(reason string) {
	r.mu.Lock()
	ep := r.endpoint
	r.mu.Unlock()
	ep.logger().Debug("remote connection error", zap.String("reason", reason))
	r.rejectAll(errors.Connection(reason))
	r.bus.Publish(topicConnectionError, reason)
}

func (r *Remote) rejectAll(err error) {
	r.mu.Lock()
	r.failed = true
	pending := r.pending
	r.pending = make(map[uint32]*pendingResponse)
	r.mu.Unlock()
	for _, p := range pending {
		p.future.Reject(err)
	}
}
