package kiss

import (
	"slices"
	"sync"
	"weak"
)

// AwareMap is a concurrent map keyed by classes that forgets every entry
// whose key, or one of whose recorded sources, was defined by a module when
// that module unloads.
type AwareMap[V any] struct {
	entries sync.Map // *Class -> *awareEntry[V]
}

type awareEntry[V any] struct {
	value   V
	sources []*Loader
}

// NewAwareMap creates a map and registers it with the container, which
// holds it weakly.
func NewAwareMap[V any](c *Container) *AwareMap[V] {
	m := &AwareMap[V]{}
	c.modules.register(weakSweeper(m))
	return m
}

func weakSweeper[V any](m *AwareMap[V]) sweeper {
	wp := weak.Make(m)
	return func(l *Loader) bool {
		target := wp.Value()
		if target == nil {
			return false
		}
		target.sweep(l)
		return true
	}
}

// Load returns the value stored for key.
func (m *AwareMap[V]) Load(key *Class) (V, bool) {
	e, ok := m.entries.Load(key)
	if !ok {
		var zero V
		return zero, false
	}
	return e.(*awareEntry[V]).value, true
}

// Store sets the value for key.
func (m *AwareMap[V]) Store(key *Class, value V) {
	m.entries.Store(key, &awareEntry[V]{value: value})
}

// LoadOrStore returns the existing value for key if present. Otherwise it
// stores value and reports false.
func (m *AwareMap[V]) LoadOrStore(key *Class, value V) (V, bool) {
	return m.loadOrStoreFrom(key, value)
}

// loadOrStoreFrom also records the loaders the value depends on.
func (m *AwareMap[V]) loadOrStoreFrom(key *Class, value V, sources ...*Loader) (V, bool) {
	e, loaded := m.entries.LoadOrStore(key, &awareEntry[V]{value: value, sources: sources})
	return e.(*awareEntry[V]).value, loaded
}

// Delete removes key.
func (m *AwareMap[V]) Delete(key *Class) {
	m.entries.Delete(key)
}

// Range calls f for each entry until f returns false.
func (m *AwareMap[V]) Range(f func(key *Class, value V) bool) {
	m.entries.Range(func(k, v any) bool {
		return f(k.(*Class), v.(*awareEntry[V]).value)
	})
}

// Len counts the entries.
func (m *AwareMap[V]) Len() int {
	n := 0
	m.entries.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}

func (m *AwareMap[V]) sweep(l *Loader) {
	m.entries.Range(func(k, v any) bool {
		if k.(*Class).Loader() == l || slices.Contains(v.(*awareEntry[V]).sources, l) {
			m.entries.Delete(k)
		}
		return true
	})
}

// sweeper purges entries tied to an unloaded loader. It returns false once
// its map has been collected.
type sweeper func(*Loader) bool
