package broadcast

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the set of live subscribers.
type Registry struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscriber
}

func NewRegistry() *Registry {
	return &Registry{subs: make(map[uuid.UUID]*Subscriber)}
}

// Add registers s and returns the new subscriber count.
func (r *Registry) Add(s *Subscriber) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[s.id] = s
	return len(r.subs)
}

// Remove deletes the subscriber with the given id. The bool reports whether
// it was still registered, so only one caller wins a concurrent removal.
func (r *Registry) Remove(id uuid.UUID) (*Subscriber, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
	}
	return s, ok
}

// Snapshot copies the current subscribers for iteration outside the lock.
func (r *Registry) Snapshot() []*Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Drain removes and returns every subscriber.
func (r *Registry) Drain() []*Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Subscriber, 0, len(r.subs))
	for id, s := range r.subs {
		out = append(out, s)
		delete(r.subs, id)
	}
	return out
}
