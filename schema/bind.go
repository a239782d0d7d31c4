package schema

import (
	"github.com/wippyai/pipebind/bindings"
	"github.com/wippyai/pipebind/errors"
)

// Serve registers handlers on receiver by method name. Every method of the
// interface must have a handler.
func (i *Interface) Serve(receiver *bindings.Receiver, handlers map[string]bindings.Handler) error {
	for name := range handlers {
		if _, ok := i.byName[name]; !ok {
			return errors.NotFound(errors.PhaseSchema, "method", i.Name+"."+name)
		}
	}
	for _, m := range i.Methods {
		h, ok := handlers[m.Name]
		if !ok {
			return errors.New(errors.PhaseSchema, errors.KindInvalidInput).
				Path(i.Name, m.Name).Detail("no handler").Build()
		}
		receiver.RegisterHandler(m.Ordinal, m.Params, m.Response, h)
	}
	return nil
}

// Call invokes method name through remote with positional args.
func (i *Interface) Call(remote *bindings.Remote, name string, args []any) *bindings.Future {
	m, ok := i.byName[name]
	if !ok {
		return bindings.Rejected(errors.NotFound(errors.PhaseDispatch, "method", i.Name+"."+name))
	}
	if len(args) > len(m.Params.ArgNames()) {
		return bindings.Rejected(errors.New(errors.PhaseDispatch, errors.KindInvalidInput).
			Path(i.Name, name).Detail("got %d arguments, want %d", len(args), len(m.Params.ArgNames())).Build())
	}
	return remote.SendMessage(m.Ordinal, m.Params, m.Response, args)
}
