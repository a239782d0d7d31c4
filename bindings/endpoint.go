package bindings

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/pipebind"
	"github.com/wippyai/pipebind/codec"
	"github.com/wippyai/pipebind/errors"
)

// Sentinel errors. They match any error of the same phase and kind under
// errors.Is.
var (
	ErrEndpointClosed = errors.Closed(errors.PhaseDispatch, "endpoint")
	ErrConnection     = errors.Connection("")
)

// Client consumes the traffic of one Endpoint. Remote and Receiver are
// clients.
type Client interface {
	// HandleMessage processes one inbound message. A returned error closes
	// the endpoint.
	HandleMessage(msg *codec.ReceivedMessage) error
	// HandleConnectionError is called at most once, when the endpoint fails.
	HandleConnectionError(reason string)
}

// Endpoint is one logical channel of a Router: the primary interface (id 0)
// or an associated interface sharing the same pipe.
//
// An endpoint created by CreateAssociatedPair has no router until its peer
// is sent inside a message over a bound endpoint. Messages that arrive
// before a client is attached are queued and delivered by Start.
type Endpoint struct {
	router        *Router
	peer          *Endpoint
	client        Client
	queued        []*codec.ReceivedMessage
	failure       *string
	mu            sync.Mutex
	dispatchMu    sync.Mutex
	id            uint32
	nextRequestID uint32
	closed        bool
	errored       bool
	transferred   bool
}

var (
	_ codec.Endpoint           = (*Endpoint)(nil)
	_ codec.AssociatedEndpoint = (*Endpoint)(nil)
)

// NewEndpoint creates the primary endpoint of a new Router that owns pipe.
// The router starts reading when Start attaches a client.
func NewEndpoint(pipe pipebind.Pipe, opts ...RouterOption) *Endpoint {
	return &Endpoint{
		router: newRouter(pipe, buildRouterOptions(opts)),
		id:     codec.PrimaryInterfaceID,
	}
}

// CreateAssociatedPair returns two unbound endpoints that reference each
// other. Send one of them in a message over a bound endpoint and keep the
// other.
func CreateAssociatedPair() (*Endpoint, *Endpoint) {
	a := &Endpoint{id: codec.InvalidInterfaceID}
	b := &Endpoint{id: codec.InvalidInterfaceID}
	a.peer, b.peer = b, a
	return a, b
}

// InterfaceID returns the id of the endpoint within its router.
func (e *Endpoint) InterfaceID() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id
}

// IsBound reports whether the endpoint belongs to a router.
func (e *Endpoint) IsBound() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.router != nil
}

// IsPendingAssociation reports whether the endpoint still waits for its
// peer to be sent.
func (e *Endpoint) IsPendingAssociation() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.router == nil && e.peer != nil
}

// Start attaches client. For a primary endpoint this registers it with the
// router, which starts the read watch. Queued messages and a pending
// connection error are delivered before Start returns.
func (e *Endpoint) Start(client Client) error {
	e.mu.Lock()
	switch {
	case e.closed || e.transferred:
		e.mu.Unlock()
		return ErrEndpointClosed
	case e.client != nil:
		e.mu.Unlock()
		return errors.InvalidState(errors.PhaseDispatch, "endpoint already has a client")
	}
	e.client = client
	router, primary := e.router, e.id == codec.PrimaryInterfaceID
	e.mu.Unlock()

	if router != nil && primary {
		if err := router.addPrimary(e); err != nil {
			e.mu.Lock()
			e.client = nil
			e.mu.Unlock()
			return err
		}
	}
	if err := e.flush(); err != nil {
		e.fail(err)
	}

	e.mu.Lock()
	failure := e.failure
	e.failure = nil
	e.mu.Unlock()
	if failure != nil {
		client.HandleConnectionError(*failure)
	}
	return nil
}

// GenerateRequestID returns the next request id. Ids wrap around.
func (e *Endpoint) GenerateRequestID() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextRequestID
	e.nextRequestID++
	return id
}

// Send encodes value against spec and writes it to the pipe.
func (e *Endpoint) Send(flags, ordinal, requestID uint32, spec *codec.StructSpec, value map[string]any) error {
	e.mu.Lock()
	router, id := e.router, e.id
	unusable := e.closed || e.errored || e.transferred
	e.mu.Unlock()

	if unusable {
		return ErrEndpointClosed
	}
	if router == nil {
		return errors.InvalidState(errors.PhaseDispatch, "endpoint is not bound to a pipe")
	}
	tx := &outgoing{Endpoint: e}
	msg, err := codec.NewMessage(&codec.Context{Endpoint: tx}, id, flags, ordinal, requestID, spec, value)
	if err != nil {
		tx.rollback(router)
		return err
	}
	return router.write(msg.Bytes(), msg.Handles())
}

// outgoing is the codec view of an endpoint for one Send. It remembers the
// peers associated while the message is encoded.
type outgoing struct {
	*Endpoint
	bound []association
}

type association struct {
	out  *Endpoint
	peer *Endpoint
	id   uint32
}

func (o *outgoing) AssociatePeerOfOutgoingEndpoint(ep codec.AssociatedEndpoint) (uint32, error) {
	out, peer, id, err := o.associatePeer(ep)
	if err != nil {
		return 0, err
	}
	o.bound = append(o.bound, association{out: out, peer: peer, id: id})
	return id, nil
}

// rollback returns every peer bound during a failed encode to its pending
// pair. The message never left, so the other side has not seen the ids.
func (o *outgoing) rollback(router *Router) {
	for i := len(o.bound) - 1; i >= 0; i-- {
		a := o.bound[i]
		router.removeEndpoint(a.id, a.peer)

		a.peer.mu.Lock()
		a.peer.router = nil
		a.peer.id = codec.InvalidInterfaceID
		a.peer.peer = a.out
		a.peer.mu.Unlock()

		a.out.mu.Lock()
		a.out.peer = a.peer
		a.out.transferred = false
		a.out.mu.Unlock()
	}
	o.bound = nil
}

// Close closes the endpoint. See CloseWithReason.
func (e *Endpoint) Close() error {
	return e.CloseWithReason(nil)
}

// CloseWithReason closes the endpoint. Closing the primary endpoint tears
// down the router and its pipe, and fails while associated endpoints are
// still registered. Closing an associated endpoint tells the other side,
// with reason when one is given, and leaves the pipe open.
func (e *Endpoint) CloseWithReason(reason *DisconnectReason) error {
	e.mu.Lock()
	if e.closed || e.transferred {
		e.mu.Unlock()
		return nil
	}
	router, peer, id := e.router, e.peer, e.id

	switch {
	case router == nil:
		e.closed = true
		e.peer = nil
		e.queued = nil
		e.mu.Unlock()
		if peer != nil {
			peer.peerGone()
		}
		return nil

	case id == codec.PrimaryInterfaceID:
		e.mu.Unlock()
		if err := router.closePrimary(e); err != nil {
			return err
		}
		e.mu.Lock()
		e.closed = true
		e.queued = nil
		e.mu.Unlock()
		return nil

	default:
		e.closed = true
		e.queued = nil
		e.mu.Unlock()
		if router.removeEndpoint(id, e) {
			router.notifyPeerClosed(id, reason)
		}
		return nil
	}
}

// peerGone handles the closure of the other half of a pending pair.
func (e *Endpoint) peerGone() {
	e.mu.Lock()
	e.peer = nil
	e.mu.Unlock()
	e.notifyError("associated peer endpoint closed")
}

// AssociatePeerOfOutgoingEndpoint binds the kept peer of ep to this
// endpoint's router under a fresh interface id. ep itself is consumed.
func (e *Endpoint) AssociatePeerOfOutgoingEndpoint(ep codec.AssociatedEndpoint) (uint32, error) {
	_, _, id, err := e.associatePeer(ep)
	return id, err
}

func (e *Endpoint) associatePeer(ep codec.AssociatedEndpoint) (*Endpoint, *Endpoint, uint32, error) {
	out, ok := ep.(*Endpoint)
	if !ok {
		return nil, nil, 0, errors.InvalidInput(errors.PhaseEncode, "associated endpoint was not created by this package")
	}
	e.mu.Lock()
	router := e.router
	e.mu.Unlock()
	if router == nil {
		return nil, nil, 0, errors.InvalidState(errors.PhaseEncode, "sending endpoint is not bound")
	}

	out.mu.Lock()
	peer := out.peer
	if out.router != nil || peer == nil || out.closed || out.transferred {
		out.mu.Unlock()
		return nil, nil, 0, errors.InvalidInput(errors.PhaseEncode, "endpoint is not pending association")
	}
	out.peer = nil
	out.transferred = true
	out.mu.Unlock()

	peer.mu.Lock()
	defer peer.mu.Unlock()
	peer.peer = nil
	if peer.closed {
		return nil, nil, 0, ErrEndpointClosed
	}
	id, err := router.associate(peer)
	if err != nil {
		peer.peer = out
		out.mu.Lock()
		out.peer = peer
		out.transferred = false
		out.mu.Unlock()
		return nil, nil, 0, err
	}
	peer.router = router
	peer.id = id
	return out, peer, id, nil
}

// AcceptAssociatedEndpoint creates the local endpoint for an interface id
// allocated by the other side of the pipe.
func (e *Endpoint) AcceptAssociatedEndpoint(interfaceID uint32) (codec.AssociatedEndpoint, error) {
	e.mu.Lock()
	router := e.router
	e.mu.Unlock()
	if router == nil {
		return nil, errors.InvalidState(errors.PhaseDecode, "receiving endpoint is not bound")
	}
	return router.accept(interfaceID)
}

// deliver hands msg to the client, or queues it until Start.
func (e *Endpoint) deliver(msg *codec.ReceivedMessage) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	client := e.client
	if client == nil || len(e.queued) > 0 {
		e.queued = append(e.queued, msg)
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()
	return client.HandleMessage(msg)
}

func (e *Endpoint) flush() error {
	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()
	for {
		e.mu.Lock()
		if e.closed || len(e.queued) == 0 {
			e.queued = nil
			e.mu.Unlock()
			return nil
		}
		msg := e.queued[0]
		e.queued = e.queued[1:]
		client := e.client
		e.mu.Unlock()

		if err := client.HandleMessage(msg); err != nil {
			return err
		}
	}
}

// fail closes the endpoint after its client rejected a message.
func (e *Endpoint) fail(err error) {
	e.mu.Lock()
	router := e.router
	e.mu.Unlock()
	if router == nil {
		e.notifyError(err.Error())
		return
	}
	if ferr := router.clientError(e, err); ferr != nil {
		router.fail(ferr.Error())
	}
}

// logger returns the logger of the endpoint's router, or the package logger
// while the endpoint is unbound.
func (e *Endpoint) logger() *zap.Logger {
	if e == nil {
		return Logger()
	}
	e.mu.Lock()
	router := e.router
	e.mu.Unlock()
	if router == nil || router.log == nil {
		return Logger()
	}
	return router.log
}

// notifyError reports a connection error to the client once.
func (e *Endpoint) notifyError(reason string) {
	e.mu.Lock()
	if e.errored {
		e.mu.Unlock()
		return
	}
	e.errored = true
	client := e.client
	if client == nil {
		e.failure = &reason
	}
	e.mu.Unlock()
	if client != nil {
		client.HandleConnectionError(reason)
	}
}
