// Package registry keeps ordered per-topic listener lists for the window
// and worker messengers.
package registry

import "sync"

// Listener is one registered callback. Its pointer is its identity.
type Listener[F any] struct {
	Topic    string
	Callback F
	Once     bool
}

// Registry maps a topic to its listeners in registration order.
// Registration order is also invocation order.
type Registry[F any] struct {
	mu        sync.Mutex
	listeners map[string][]*Listener[F]
}

// New returns an empty Registry.
func New[F any]() *Registry[F] {
	return &Registry[F]{listeners: make(map[string][]*Listener[F])}
}

// Add appends a listener for topic and returns the record.
func (r *Registry[F]) Add(topic string, callback F, once bool) *Listener[F] {
	l := &Listener[F]{Topic: topic, Callback: callback, Once: once}

	r.mu.Lock()
	r.listeners[topic] = append(r.listeners[topic], l)
	r.mu.Unlock()

	return l
}

// Find returns a copy of the listeners for topic. It never returns nil.
func (r *Registry[F]) Find(topic string) []*Listener[F] {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Listener[F], len(r.listeners[topic]))
	copy(out, r.listeners[topic])
	return out
}

// Take returns the listeners for topic and removes the once listeners among
// them in the same step, so a once listener is handed out at most once.
func (r *Registry[F]) Take(topic string) []*Listener[F] {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.listeners[topic]
	out := make([]*Listener[F], len(current))
	copy(out, current)

	kept := current[:0:0]
	for _, l := range current {
		if !l.Once {
			kept = append(kept, l)
		}
	}
	r.set(topic, kept)

	return out
}

// RemoveAll clears every listener for topic.
func (r *Registry[F]) RemoveAll(topic string) {
	r.mu.Lock()
	delete(r.listeners, topic)
	r.mu.Unlock()
}

// Remove drops exactly one record by identity. It is a no-op when the
// record is not registered.
func (r *Registry[F]) Remove(topic string, l *Listener[F]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.listeners[topic]
	for i, existing := range current {
		if existing == l {
			next := make([]*Listener[F], 0, len(current)-1)
			next = append(next, current[:i]...)
			next = append(next, current[i+1:]...)
			r.set(topic, next)
			return
		}
	}
}

// Len returns the number of listeners registered for topic.
func (r *Registry[F]) Len(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners[topic])
}

func (r *Registry[F]) set(topic string, ls []*Listener[F]) {
	if len(ls) == 0 {
		delete(r.listeners, topic)
		return
	}
	r.listeners[topic] = ls
}
