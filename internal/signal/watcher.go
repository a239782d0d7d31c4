// Package signal runs pipe watch callbacks for the transports.
//
// A Watcher owns one goroutine. Notify is edge triggered and coalescing:
// any number of notifications before the goroutine wakes produce a single
// poll. Callbacks therefore never run concurrently for one watcher.
package signal

import (
	"sync"

	"github.com/wippyai/pipebind"
)

// Poll reports the current state of the watched pipe: ResultOK when a
// message is queued, ResultShouldWait when empty, ResultFailedPrecondition
// when the peer is closed and nothing is left to read.
type Poll func() pipebind.Result

// Watcher invokes a callback whenever a watched pipe may have changed.
type Watcher struct {
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

// Start begins watching. cb receives ResultOK when the pipe is readable and
// ResultFailedPrecondition exactly once when it can never become readable
// again, after which the watcher stops.
func Start(poll Poll, cb func(pipebind.Result)) *Watcher {
	w := &Watcher{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go w.loop(poll, cb)
	w.Notify()
	return w
}

func (w *Watcher) loop(poll Poll, cb func(pipebind.Result)) {
	for {
		select {
		case <-w.done:
			return
		case <-w.notify:
		}

		switch poll() {
		case pipebind.ResultOK:
			cb(pipebind.ResultOK)
			if w.cancelled() {
				return
			}
			if poll() == pipebind.ResultFailedPrecondition {
				w.finish(cb)
				return
			}
		case pipebind.ResultFailedPrecondition:
			w.finish(cb)
			return
		}
	}
}

func (w *Watcher) finish(cb func(pipebind.Result)) {
	if !w.cancelled() {
		cb(pipebind.ResultFailedPrecondition)
	}
	w.Cancel()
}

func (w *Watcher) cancelled() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Notify wakes the watcher. It never blocks.
func (w *Watcher) Notify() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Cancel stops the watcher. It is safe to call from inside the callback
// and more than once.
func (w *Watcher) Cancel() {
	w.once.Do(func() { close(w.done) })
}

// Done is closed once the watcher has been cancelled or has finished.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}
