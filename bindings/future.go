package bindings

import (
	"context"
	"sync"

	"github.com/wippyai/pipebind/errors"
)

// Future is the eventual result of a call: a decoded response struct keyed
// by field name, or an error. It resolves exactly once.
type Future struct {
	done  chan struct{}
	value map[string]any
	err   error
	once  sync.Once
}

// NewFuture returns an unresolved Future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a Future that already holds value.
func Resolved(value map[string]any) *Future {
	f := NewFuture()
	f.Resolve(value)
	return f
}

// Rejected returns a Future that already failed with err.
func Rejected(err error) *Future {
	f := NewFuture()
	f.Reject(err)
	return f
}

// Resolve completes the Future with value. Only the first completion counts.
func (f *Future) Resolve(value map[string]any) bool {
	return f.complete(value, nil)
}

// Reject completes the Future with err. Only the first completion counts.
func (f *Future) Reject(err error) bool {
	return f.complete(nil, err)
}

func (f *Future) complete(value map[string]any, err error) bool {
	completed := false
	f.once.Do(func() {
		f.value, f.err = value, err
		close(f.done)
		completed = true
	})
	return completed
}

// Done is closed when the Future completes.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the Future completes or ctx ends. Ending ctx only stops
// the wait; the call itself is not cancelled.
func (f *Future) Wait(ctx context.Context) (map[string]any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome without blocking. A pending Future reports an
// invalid_state error.
func (f *Future) Result() (map[string]any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	default:
		return nil, errors.InvalidState(errors.PhaseDispatch, "future is still pending")
	}
}
