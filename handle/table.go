package handle

import (
	"sync"

	"github.com/wippyai/pipebind"
	"github.com/wippyai/pipebind/errors"
)

// Table is a concurrent handle table with slot reuse.
type Table struct {
	entries   []entry
	freeList  []pipebind.Handle
	observers []Observer
	mu        sync.RWMutex
	obsMu     sync.RWMutex
	closed    bool
}

type entry struct {
	value any
	kind  Kind
	valid bool
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		entries:  make([]entry, 0, 64),
		freeList: make([]pipebind.Handle, 0, 16),
	}
}

// Insert stores value and returns its handle.
func (t *Table) Insert(kind Kind, value any) (pipebind.Handle, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return pipebind.InvalidHandle, errors.Closed(errors.PhaseTransport, "handle table")
	}

	e := entry{kind: kind, value: value, valid: true}
	var h pipebind.Handle
	if n := len(t.freeList); n > 0 {
		h = t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		t.entries[h-1] = e
	} else {
		t.entries = append(t.entries, e)
		h = pipebind.Handle(len(t.entries))
	}
	t.mu.Unlock()

	t.notify(Event{Type: EventCreated, Handle: h, Kind: kind, Value: value})
	return h, nil
}

func (t *Table) lookup(h pipebind.Handle) (entry, bool) {
	if h == pipebind.InvalidHandle {
		return entry{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	idx := int(h) - 1
	if idx >= len(t.entries) || !t.entries[idx].valid {
		return entry{}, false
	}
	return t.entries[idx], true
}

// Get returns the value stored under h.
func (t *Table) Get(h pipebind.Handle) (any, bool) {
	e, ok := t.lookup(h)
	return e.value, ok
}

// GetTyped returns the value under h only if it has the given kind.
func (t *Table) GetTyped(h pipebind.Handle, kind Kind) (any, bool) {
	e, ok := t.lookup(h)
	if !ok || e.kind != kind {
		return nil, false
	}
	return e.value, true
}

// Remove frees h and returns the value it held. The value is not dropped;
// callers that own it release it themselves.
func (t *Table) Remove(h pipebind.Handle) (any, bool) {
	if h == pipebind.InvalidHandle {
		return nil, false
	}

	t.mu.Lock()
	idx := int(h) - 1
	if idx >= len(t.entries) || !t.entries[idx].valid {
		t.mu.Unlock()
		return nil, false
	}
	e := t.entries[idx]
	t.entries[idx] = entry{}
	t.freeList = append(t.freeList, h)
	t.mu.Unlock()

	t.notify(Event{Type: EventRemoved, Handle: h, Kind: e.kind, Value: e.value})
	return e.value, true
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *Table) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, e := range t.entries {
		if e.valid {
			count++
		}
	}
	return count
}

// Close drops every live value and stops issuing handles.
func (t *Table) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	entries := t.entries
	t.entries = nil
	t.freeList = nil
	t.mu.Unlock()

	// Drop outside the lock: values may remove their peers' handles.
	for i, e := range entries {
		if !e.valid {
			continue
		}
		if d, ok := e.value.(Dropper); ok {
			d.Drop()
		}
		t.notify(Event{Type: EventRemoved, Handle: pipebind.Handle(i + 1), Kind: e.kind, Value: e.value})
	}
	return nil
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnHandleEvent(e)
	}
}
