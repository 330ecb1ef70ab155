package copytarget

import (
	"sync"
)

// Registry is an in-process [Binder]. It keeps every live lookup and
// resolves trigger ids against them, which lets a server answer copy
// requests for triggers it handed out.
type Registry struct {
	mu       sync.RWMutex
	next     uint64
	bindings map[uint64]binding
}

type binding struct {
	selector string
	lookup   func(string) (string, bool)
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[uint64]binding)}
}

// Bind implements [Binder]. The returned release function is idempotent.
func (r *Registry) Bind(selector string, lookup func(string) (string, bool)) (func(), error) {
	r.mu.Lock()
	r.next++
	id := r.next
	r.bindings[id] = binding{selector: selector, lookup: lookup}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.bindings, id)
			r.mu.Unlock()
		})
	}, nil
}

// Resolve returns the text registered for triggerID by any live binding.
func (r *Registry) Resolve(triggerID string) (string, bool) {
	r.mu.RLock()
	lookups := make([]func(string) (string, bool), 0, len(r.bindings))
	for _, b := range r.bindings {
		lookups = append(lookups, b.lookup)
	}
	r.mu.RUnlock()

	for _, l := range lookups {
		if text, ok := l(triggerID); ok {
			return text, true
		}
	}
	return "", false
}

// Len returns the number of live bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}
