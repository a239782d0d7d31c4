// Package gateway exposes a bound interface over JSON-RPC 2.0.
//
// The HTTP handler serves one service, "Interface", with two methods:
//
//	Interface.Methods  lists method names and their argument names
//	Interface.Call     {"method": "add", "args": [1, 2]} -> {"result": {...}}
//
// Calls are forwarded through a bindings.Remote. JSON numbers are coerced
// to the integer width the method declares. Variant and result values travel
// as single-key objects naming the active case, {"ok": 1}, in both
// directions.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"go.uber.org/zap"

	"github.com/wippyai/pipebind/bindings"
	"github.com/wippyai/pipebind/schema"
)

// ServiceName is the JSON-RPC service prefix.
const ServiceName = "Interface"

// DefaultTimeout bounds one forwarded call.
const DefaultTimeout = 30 * time.Second

// CallArgs selects a method and its positional arguments.
type CallArgs struct {
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

// CallReply carries the decoded response struct. It is null for one-way
// methods.
type CallReply struct {
	Result map[string]any `json:"result"`
}

// MethodsArgs is empty.
type MethodsArgs struct{}

// MethodInfo describes one callable method.
type MethodInfo struct {
	Name    string   `json:"name"`
	Args    []string `json:"args"`
	Ordinal uint32   `json:"ordinal"`
	OneWay  bool     `json:"one_way"`
}

// MethodsReply lists the methods of the interface.
type MethodsReply struct {
	Interface string       `json:"interface"`
	Methods   []MethodInfo `json:"methods"`
}

// Option configures the gateway.
type Option func(*Service)

// WithTimeout bounds each forwarded call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.timeout = d
	}
}

// Service is the JSON-RPC receiver. Its exported methods follow the
// gorilla/rpc signature.
type Service struct {
	iface   *schema.Interface
	remote  *bindings.Remote
	log     *zap.Logger
	timeout time.Duration
}

// New returns an http.Handler that forwards calls for iface to remote.
func New(iface *schema.Interface, remote *bindings.Remote, opts ...Option) (http.Handler, error) {
	svc := &Service{
		iface:   iface,
		remote:  remote,
		log:     Logger(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(svc)
	}

	server := rpc.NewServer()
	server.RegisterCodec(json2.NewCodec(), "application/json")
	if err := server.RegisterService(svc, ServiceName); err != nil {
		return nil, err
	}
	return server, nil
}

// Call forwards one method call and waits for its response.
func (s *Service) Call(r *http.Request, args *CallArgs, reply *CallReply) error {
	m, ok := s.iface.Method(args.Method)
	if !ok {
		return &json2.Error{Code: json2.E_BAD_PARAMS, Message: "unknown method " + args.Method}
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := s.iface.Call(s.remote, m.Name, args.Args).Wait(ctx)
	if err != nil {
		s.log.Debug("call failed", zap.String("method", m.Name), zap.Error(err))
		return &json2.Error{Code: json2.E_SERVER, Message: err.Error()}
	}
	s.log.Debug("call completed",
		zap.String("method", m.Name),
		zap.Duration("elapsed", time.Since(start)))
	reply.Result = result
	return nil
}

// Methods describes the interface.
func (s *Service) Methods(_ *http.Request, _ *MethodsArgs, reply *MethodsReply) error {
	reply.Interface = s.iface.Name
	reply.Methods = make([]MethodInfo, 0, len(s.iface.Methods))
	for _, m := range s.iface.Methods {
		reply.Methods = append(reply.Methods, MethodInfo{
			Name:    m.Name,
			Args:    m.Params.ArgNames(),
			Ordinal: m.Ordinal,
			OneWay:  m.Response == nil,
		})
	}
	return nil
}
