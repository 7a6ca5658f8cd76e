package entity

import "sync"

// Registry is a concurrent identifier -> entity index.
//
// Find retains the entity while still holding the registry lock, so a handle
// obtained by identifier is always valid when returned. This is the only safe
// way for asynchronous re-entries (timer fires, backend callbacks) to reach
// an entity: captured pointers may refer to something already destroyed.
type Registry[K comparable, V Countable] struct {
	mu    sync.RWMutex
	items map[K]V
}

// NewRegistry creates an empty registry.
func NewRegistry[K comparable, V Countable]() *Registry[K, V] {
	return &Registry[K, V]{items: make(map[K]V)}
}

// Put indexes an entity under key. The registry does not take its own
// reference; the caller keeps the collection reference alive for as long as
// the entry is present.
func (r *Registry[K, V]) Put(key K, v V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[key] = v
}

// Remove drops the index entry. It does not release the entity.
func (r *Registry[K, V]) Remove(key K) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, key)
}

// Find returns a retained handle for the entity under key.
// The caller owns one release. Returns false if the key is unknown or the
// entity was destroyed before it could be retained.
func (r *Registry[K, V]) Find(key K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if err := v.Retain(); err != nil {
		var zero V
		return zero, false
	}
	return v, true
}

// Len returns the number of indexed entities.
func (r *Registry[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Each calls fn for every entry while holding the registry lock.
// fn must not retain, release or re-enter the registry.
func (r *Registry[K, V]) Each(fn func(key K, v V)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k, v := range r.items {
		fn(k, v)
	}
}

// Keys returns a snapshot of the indexed keys.
func (r *Registry[K, V]) Keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]K, 0, len(r.items))
	for k := range r.items {
		keys = append(keys, k)
	}
	return keys
}
