// Package syncmap provides a generic goroutine-safe map, used by
// internal/nativebackend to track live sessions and partial-run tokens.
package syncmap

import "sync"

// Map wraps sync.Map with type-safe accessors.
type Map[K comparable, V any] struct {
	m sync.Map
}

// Store records v under k.
func (sm *Map[K, V]) Store(k K, v V) {
	sm.m.Store(k, v)
}

// Load returns the value stored under k, if any.
func (sm *Map[K, V]) Load(k K) (v V, ok bool) {
	vAny, ok := sm.m.Load(k)
	if !ok {
		return v, false
	}
	return vAny.(V), true
}

// Delete removes the entry for k, if present.
func (sm *Map[K, V]) Delete(k K) {
	sm.m.Delete(k)
}

// Range calls f for every entry, stopping early if f returns false.
func (sm *Map[K, V]) Range(f func(K, V) bool) {
	sm.m.Range(func(k, v any) bool {
		return f(k.(K), v.(V))
	})
}
