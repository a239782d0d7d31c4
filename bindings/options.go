package bindings

import "go.uber.org/zap"

type routerOptions struct {
	logger       *zap.Logger
	namespaceBit bool
}

// RouterOption configures the router created when binding a pipe.
type RouterOption func(*routerOptions)

// WithNamespaceBit sets whether interface ids allocated by this side of the
// pipe carry the namespace bit. Remotes set it by default and receivers do
// not, so the two sides never allocate the same id.
func WithNamespaceBit(set bool) RouterOption {
	return func(o *routerOptions) {
		o.namespaceBit = set
	}
}

// WithRouterLogger overrides the package logger for one router.
func WithRouterLogger(l *zap.Logger) RouterOption {
	return func(o *routerOptions) {
		o.logger = l
	}
}

func buildRouterOptions(opts []RouterOption) routerOptions {
	o := routerOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = Logger()
	}
	return o
}

type receiverOptions struct {
	version uint32
}

// ReceiverOption configures a Receiver.
type ReceiverOption func(*receiverOptions)

// WithVersion sets the interface version a Receiver reports to
// QueryVersion and checks against RequireVersion.
func WithVersion(v uint32) ReceiverOption {
	return func(o *receiverOptions) {
		o.version = v
	}
}
