package event

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/villakit/villa/pkg/protocol"
)

// Source is the raw form an event was decoded from. Frame is set for events
// received over the WebSocket; JSON is set for HTTP callbacks.
type Source struct {
	Frame *protocol.Frame
	JSON  []byte
}

// Handler reacts to one event.
type Handler func(ctx context.Context, ev *Event, src *Source) error

// Registration is the handle returned when adding a handler.
type Registration struct {
	registry *Registry
	kind     Kind
	all      bool
	handler  Handler
	once     sync.Once
}

// Dispose removes the handler. Calling it more than once is a no-op.
func (r *Registration) Dispose() {
	r.once.Do(func() { r.registry.remove(r) })
}

// snapshot is an immutable view of the registry, rebuilt on every change.
type snapshot struct {
	entries []*Registration
	byKind  map[Kind][]Handler
	any     []Handler
}

// Registry is an ordered, concurrently mutable set of handlers. Lookups are
// keyed by event kind and never block on writers.
type Registry struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.snap.Store(&snapshot{byKind: map[Kind][]Handler{}})
	return r
}

// Add registers h for every event kind.
func (r *Registry) Add(h Handler) *Registration {
	return r.add(&Registration{all: true, handler: h})
}

// AddFor registers h for events of kind k only.
func (r *Registry) AddFor(k Kind, h Handler) *Registration {
	return r.add(&Registration{kind: k, handler: h})
}

// Handlers returns the handlers that apply to k, in registration order.
// The returned slice must not be modified.
func (r *Registry) Handlers(k Kind) []Handler {
	s := r.snap.Load()
	if hs, ok := s.byKind[k]; ok {
		return hs
	}
	return s.any
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	return len(r.snap.Load().entries)
}

func (r *Registry) add(reg *Registration) *Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg.registry = r
	old := r.snap.Load().entries
	entries := make([]*Registration, len(old), len(old)+1)
	copy(entries, old)
	r.store(append(entries, reg))
	return reg
}

func (r *Registry) remove(reg *Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.snap.Load().entries
	entries := make([]*Registration, 0, len(old))
	for _, e := range old {
		if e != reg {
			entries = append(entries, e)
		}
	}
	r.store(entries)
}

// store publishes a snapshot for entries, which are in registration order.
func (r *Registry) store(entries []*Registration) {
	s := &snapshot{entries: entries, byKind: make(map[Kind][]Handler)}
	specific := make(map[Kind]bool)
	for _, e := range entries {
		if e.all {
			s.any = append(s.any, e.handler)
		} else {
			specific[e.kind] = true
		}
	}
	for k := range specific {
		var hs []Handler
		for _, e := range entries {
			if e.all || e.kind == k {
				hs = append(hs, e.handler)
			}
		}
		s.byKind[k] = hs
	}
	r.snap.Store(s)
}
