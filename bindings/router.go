package bindings

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/pipebind"
	"github.com/wippyai/pipebind/codec"
	"github.com/wippyai/pipebind/errors"
)

// Router owns one pipe and demultiplexes its messages to endpoints by
// interface id. It reads only while the primary endpoint is registered and
// is torn down exactly once.
type Router struct {
	pipe            pipebind.Pipe
	log             *zap.Logger
	endpoints       map[uint32]*Endpoint
	watcher         pipebind.Watcher
	mu              sync.Mutex
	nextInterfaceID uint32
	namespaceBit    bool
	closed          bool
}

func newRouter(pipe pipebind.Pipe, o routerOptions) *Router {
	return &Router{
		pipe:            pipe,
		log:             o.logger,
		endpoints:       make(map[uint32]*Endpoint),
		nextInterfaceID: 1,
		namespaceBit:    o.namespaceBit,
	}
}

// addPrimary registers the primary endpoint and starts reading.
func (r *Router) addPrimary(ep *Endpoint) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrEndpointClosed
	}
	if _, ok := r.endpoints[codec.PrimaryInterfaceID]; ok {
		r.mu.Unlock()
		return errors.InvalidState(errors.PhaseRoute, "primary endpoint already registered")
	}
	r.endpoints[codec.PrimaryInterfaceID] = ep
	r.mu.Unlock()

	w := r.pipe.Watch(pipebind.WatchSignals{Readable: true, PeerClosed: true}, r.onReadable)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		w.Cancel()
		return nil
	}
	r.watcher = w
	return nil
}

// closePrimary tears the router down. It refuses while associated
// endpoints are registered.
func (r *Router) closePrimary(ep *Endpoint) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	for id := range r.endpoints {
		if id != codec.PrimaryInterfaceID {
			r.mu.Unlock()
			return errors.InvalidState(errors.PhaseRoute,
				fmt.Sprintf("cannot close primary endpoint with associated endpoint %#x registered", id))
		}
	}
	r.closed = true
	delete(r.endpoints, codec.PrimaryInterfaceID)
	w := r.watcher
	r.watcher = nil
	r.mu.Unlock()

	if w != nil {
		w.Cancel()
	}
	r.pipe.Close()
	r.log.Debug("router closed")
	return nil
}

// associate allocates an interface id for ep and registers it.
func (r *Router) associate(ep *Endpoint) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrEndpointClosed
	}
	id := r.generateInterfaceID()
	r.endpoints[id] = ep
	r.log.Debug("associated endpoint registered", zap.Uint32("interface_id", id))
	return id, nil
}

// generateInterfaceID returns an unused id. r.mu must be held.
func (r *Router) generateInterfaceID() uint32 {
	for {
		id := r.nextInterfaceID & ^codec.InterfaceNamespaceBit
		r.nextInterfaceID++
		if id == codec.PrimaryInterfaceID {
			continue
		}
		if r.namespaceBit {
			id |= codec.InterfaceNamespaceBit
		}
		if id == codec.InvalidInterfaceID {
			continue
		}
		if _, used := r.endpoints[id]; !used {
			return id
		}
	}
}

// accept registers an endpoint for an id allocated by the other side.
func (r *Router) accept(id uint32) (*Endpoint, error) {
	if id == codec.PrimaryInterfaceID || id == codec.InvalidInterfaceID {
		return nil, errors.InvalidData(errors.PhaseDecode, nil, fmt.Sprintf("invalid associated interface id %#x", id))
	}
	if (id&codec.InterfaceNamespaceBit != 0) == r.namespaceBit {
		return nil, errors.InvalidData(errors.PhaseDecode, nil,
			fmt.Sprintf("associated interface id %#x belongs to the local namespace", id))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrEndpointClosed
	}
	if _, used := r.endpoints[id]; used {
		return nil, errors.InvalidData(errors.PhaseDecode, nil, fmt.Sprintf("associated interface id %#x already in use", id))
	}
	ep := &Endpoint{router: r, id: id}
	r.endpoints[id] = ep
	r.log.Debug("associated endpoint accepted", zap.Uint32("interface_id", id))
	return ep, nil
}

// removeEndpoint unregisters ep and reports whether it was registered.
func (r *Router) removeEndpoint(id uint32, ep *Endpoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.endpoints[id]; !ok || cur != ep {
		return false
	}
	delete(r.endpoints, id)
	return true
}

func (r *Router) lookup(id uint32) *Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endpoints[id]
}

// NumEndpoints reports how many endpoints are registered.
func (r *Router) NumEndpoints() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.endpoints)
}

func (r *Router) write(buf []byte, handles []pipebind.Handle) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrEndpointClosed
	}
	if res := r.pipe.WriteMessage(buf, handles); res != pipebind.ResultOK {
		return errors.New(errors.PhaseTransport, errors.KindConnection).
			Detail("pipe write failed: %s", res).Build()
	}
	return nil
}

// onReadable is the watch callback. It drains the pipe.
func (r *Router) onReadable(result pipebind.Result) {
	if result != pipebind.ResultOK {
		r.fail("peer closed")
		return
	}
	for {
		r.mu.Lock()
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return
		}

		rr := r.pipe.ReadMessage()
		switch rr.Result {
		case pipebind.ResultOK:
			if err := r.dispatch(rr.Buffer, rr.Handles); err != nil {
				r.log.Warn("closing router", zap.Error(err))
				r.fail(err.Error())
				return
			}
		case pipebind.ResultShouldWait:
			return
		default:
			r.fail("peer closed")
			return
		}
	}
}

// dispatch routes one message. A returned error is fatal to the router.
func (r *Router) dispatch(buf []byte, handles []pipebind.Handle) error {
	msg, err := codec.ParseMessage(buf, handles)
	if err != nil {
		return errors.Protocol(errors.PhaseRoute, "malformed message header", err)
	}
	if msg.InterfaceID == codec.InvalidInterfaceID {
		return r.handlePipeControl(msg)
	}

	ep := r.lookup(msg.InterfaceID)
	if ep == nil {
		r.log.Debug("dropping message for unknown interface",
			zap.Uint32("interface_id", msg.InterfaceID),
			zap.Uint32("ordinal", msg.Ordinal))
		return nil
	}
	if err := ep.deliver(msg); err != nil {
		return r.clientError(ep, err)
	}
	return nil
}

// clientError closes ep after its client rejected a message. For the
// primary endpoint the error is returned so the whole router fails.
func (r *Router) clientError(ep *Endpoint, err error) error {
	id := ep.InterfaceID()
	if id == codec.PrimaryInterfaceID {
		return err
	}
	r.log.Warn("closing associated endpoint", zap.Uint32("interface_id", id), zap.Error(err))

	ep.mu.Lock()
	ep.closed = true
	ep.queued = nil
	ep.mu.Unlock()
	if r.removeEndpoint(id, ep) {
		r.notifyPeerClosed(id, nil)
	}
	ep.notifyError(err.Error())
	return nil
}

// fail tears the router down and reports reason to every endpoint.
func (r *Router) fail(reason string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	w := r.watcher
	r.watcher = nil
	ids := make([]uint32, 0, len(r.endpoints))
	for id := range r.endpoints {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	eps := make([]*Endpoint, 0, len(ids))
	for _, id := range ids {
		eps = append(eps, r.endpoints[id])
	}
	r.endpoints = make(map[uint32]*Endpoint)
	r.mu.Unlock()

	if w != nil {
		w.Cancel()
	}
	r.pipe.Close()
	r.log.Debug("router failed", zap.String("reason", reason), zap.Int("endpoints", len(eps)))
	for _, ep := range eps {
		ep.notifyError(reason)
	}
}
