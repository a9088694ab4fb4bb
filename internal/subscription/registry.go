// Package subscription tracks live feeds opened by ports so they can be torn
// down on explicit cancel or when the port goes away.
package subscription

import (
	"sync"
)

type entry struct {
	port  string
	id    string
	unsub func()
	once  sync.Once
}

func (e *entry) cancel() {
	e.once.Do(func() {
		if e.unsub != nil {
			e.unsub()
		}
	})
}

// Registry maps subscription ids to their teardown functions. Ids are chosen
// by the client, so they are only unique within the port that opened them.
type Registry struct {
	mu     sync.Mutex
	byPort map[string]map[string]*entry
	active int

	// OnChange, when set, is called with the number of live subscriptions after
	// every add or cancel. It runs outside the registry lock.
	OnChange func(active int)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byPort: make(map[string]map[string]*entry),
	}
}

// Add records unsub as the teardown for id on port. An existing entry with the
// same id on the same port is cancelled first, so at most one entry per
// (port, id) exists.
//
// The returned function cancels this entry only. It is a no-op once the entry
// has been cancelled or replaced, so it never touches a later subscription
// that reused the id.
func (r *Registry) Add(port, id string, unsub func()) (cancel func() bool) {
	e := &entry{port: port, id: id, unsub: unsub}

	r.mu.Lock()
	prev := r.detachLocked(port, id)
	owned := r.byPort[port]
	if owned == nil {
		owned = make(map[string]*entry)
		r.byPort[port] = owned
	}
	owned[id] = e
	r.active++
	active := r.active
	r.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
	r.changed(active)
	return func() bool { return r.remove(e) }
}

// Cancel tears down id on port. Unknown or already cancelled ids are a no-op
// and report false.
func (r *Registry) Cancel(port, id string) bool {
	r.mu.Lock()
	e := r.detachLocked(port, id)
	active := r.active
	r.mu.Unlock()

	if e == nil {
		return false
	}
	e.cancel()
	r.changed(active)
	return true
}

// CancelPort tears down every subscription opened from port and returns how
// many were cancelled.
func (r *Registry) CancelPort(port string) int {
	r.mu.Lock()
	owned := r.byPort[port]
	entries := make([]*entry, 0, len(owned))
	for _, e := range owned {
		entries = append(entries, e)
	}
	delete(r.byPort, port)
	r.active -= len(entries)
	active := r.active
	r.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
	if len(entries) > 0 {
		r.changed(active)
	}
	return len(entries)
}

// Has reports whether id is live on port.
func (r *Registry) Has(port, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byPort[port][id]
	return ok
}

// Len returns the number of live subscriptions across all ports.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Registry) remove(e *entry) bool {
	r.mu.Lock()
	if r.byPort[e.port][e.id] != e {
		r.mu.Unlock()
		return false
	}
	r.detachLocked(e.port, e.id)
	active := r.active
	r.mu.Unlock()

	e.cancel()
	r.changed(active)
	return true
}

// detachLocked removes (port, id) from the index. Caller holds r.mu.
func (r *Registry) detachLocked(port, id string) *entry {
	owned := r.byPort[port]
	e, ok := owned[id]
	if !ok {
		return nil
	}
	delete(owned, id)
	if len(owned) == 0 {
		delete(r.byPort, port)
	}
	r.active--
	return e
}

func (r *Registry) changed(active int) {
	if r.OnChange != nil {
		r.OnChange(active)
	}
}
