// Package syncx provides extended synchronization primitives
package syncx

import "sync"

// RWGuard wraps RWMutex with scoped lock helpers.
type RWGuard[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewGuard creates a guarded value.
func NewGuard[T any](initial T) *RWGuard[T] {
	return &RWGuard[T]{value: initial}
}

// Read executes fn while holding the read lock.
func (g *RWGuard[T]) Read(fn func(T)) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	fn(g.value)
}

// Write executes fn while holding the write lock; fn receives a pointer for mutation.
func (g *RWGuard[T]) Write(fn func(*T)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.value)
}

// Get returns a copy of the value (T should be a value type or immutable).
func (g *RWGuard[T]) Get() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

// Set replaces the value.
func (g *RWGuard[T]) Set(v T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = v
}

// Map is a guarded map with typed accessors.
type Map[K comparable, V any] struct {
	g *RWGuard[map[K]V]
}

// NewMap creates an empty guarded map.
func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{g: NewGuard(make(map[K]V))}
}

// Load returns the value for k.
func (m *Map[K, V]) Load(k K) (V, bool) {
	var v V
	var ok bool
	m.g.Read(func(mp map[K]V) { v, ok = mp[k] })
	return v, ok
}

// Store sets the value for k.
func (m *Map[K, V]) Store(k K, v V) {
	m.g.Write(func(mp *map[K]V) { (*mp)[k] = v })
}

// Delete removes k.
func (m *Map[K, V]) Delete(k K) {
	m.g.Write(func(mp *map[K]V) { delete(*mp, k) })
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	var n int
	m.g.Read(func(mp map[K]V) { n = len(mp) })
	return n
}

// Snapshot returns a copy of the map.
func (m *Map[K, V]) Snapshot() map[K]V {
	out := make(map[K]V)
	m.g.Read(func(mp map[K]V) {
		for k, v := range mp {
			out[k] = v
		}
	})
	return out
}

// Reset clears all entries.
func (m *Map[K, V]) Reset() {
	m.g.Set(make(map[K]V))
}
