// Package entity provides the reference-counted ownership model used by
// every shared call-control object (lines, devices, bindings, channels).
//
// Entities are never freed by the garbage collector alone: collections and
// concurrent workers each hold their own retained reference, and the entity's
// teardown runs exactly once, when the last reference is released. A caller
// that wants to use an entity across a suspension point (lock release, timer
// fire, goroutine handoff) must retain it first.
package entity

import (
	"errors"
	"sync/atomic"
)

// ErrDestroyed is returned by Retain when the entity's reference count has
// already reached zero. The entity must not be resurrected.
var ErrDestroyed = errors.New("entity: already destroyed")

// ErrOverReleased is returned by Release when the reference count is already
// zero. This always indicates a retain/release imbalance in the caller.
var ErrOverReleased = errors.New("entity: release without matching retain")

// Ref is the reference count embedded in every shared entity.
//
// A freshly initialized Ref carries one reference, owned by whoever
// constructed the entity (usually the collection it is inserted into).
type Ref struct {
	count   atomic.Int64
	destroy func()
}

// Init sets the initial reference and the teardown hook.
// Must be called exactly once, before the entity is shared.
func (r *Ref) Init(destroy func()) {
	r.count.Store(1)
	r.destroy = destroy
}

// Retain acquires one additional reference.
// Fails with ErrDestroyed if the count already reached zero: a destroyed
// entity stays destroyed, even if the pointer is still reachable.
func (r *Ref) Retain() error {
	for {
		n := r.count.Load()
		if n <= 0 {
			return ErrDestroyed
		}
		if r.count.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Release drops one reference. When the count reaches zero the entity's
// teardown hook runs, exactly once, on the releasing goroutine.
// Returns true when this release destroyed the entity.
func (r *Ref) Release() (bool, error) {
	for {
		n := r.count.Load()
		if n <= 0 {
			return false, ErrOverReleased
		}
		if r.count.CompareAndSwap(n, n-1) {
			if n == 1 {
				if r.destroy != nil {
					r.destroy()
				}
				return true, nil
			}
			return false, nil
		}
	}
}

// RefCount returns the current reference count. Diagnostic use only; the
// value is stale the moment it is read.
func (r *Ref) RefCount() int64 {
	return r.count.Load()
}

// Alive reports whether the entity still holds at least one reference.
func (r *Ref) Alive() bool {
	return r.count.Load() > 0
}

// Countable is satisfied by every entity embedding Ref.
type Countable interface {
	Retain() error
	Release() (bool, error)
}
