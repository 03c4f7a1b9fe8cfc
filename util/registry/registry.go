// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package registry is a keyed arena. Values live in a slice and a key
// table maps keys to slots, freed slots are reused by later inserts.
// It is not safe for concurrent use, owners guard it with their own lock.
package registry

// Registry maps keys to values stored in an arena
type Registry[K comparable, V any] struct {
	index map[K]int
	slots []slot[K, V]
	free  []int
}

type slot[K comparable, V any] struct {
	key   K
	value V
	used  bool
}

// Len is the number of stored values
func (r *Registry[K, V]) Len() int {
	return len(r.index)
}

// Get returns the value stored under key
func (r *Registry[K, V]) Get(key K) (V, bool) {
	if i, ok := r.index[key]; ok {
		return r.slots[i].value, true
	}
	var zero V
	return zero, false
}

// GetOrCreate returns the value under key, creating it with create on first use
func (r *Registry[K, V]) GetOrCreate(key K, create func() V) V {
	if v, ok := r.Get(key); ok {
		return v
	}
	v := create()
	r.Set(key, v)
	return v
}

// Set stores value under key, replacing what was there
func (r *Registry[K, V]) Set(key K, value V) {
	if i, ok := r.index[key]; ok {
		r.slots[i].value = value
		return
	}
	if r.index == nil {
		r.index = make(map[K]int)
	}
	s := slot[K, V]{key: key, value: value, used: true}
	if n := len(r.free); n > 0 {
		i := r.free[n-1]
		r.free = r.free[:n-1]
		r.slots[i] = s
		r.index[key] = i
		return
	}
	r.slots = append(r.slots, s)
	r.index[key] = len(r.slots) - 1
}

// Remove deletes key and returns the value it held
func (r *Registry[K, V]) Remove(key K) (V, bool) {
	var zero V
	i, ok := r.index[key]
	if !ok {
		return zero, false
	}
	v := r.slots[i].value
	r.slots[i] = slot[K, V]{}
	r.free = append(r.free, i)
	delete(r.index, key)
	return v, true
}

// Each calls fn for every stored value in slot order
func (r *Registry[K, V]) Each(fn func(K, V)) {
	for _, s := range r.slots {
		if s.used {
			fn(s.key, s.value)
		}
	}
}

// Clear removes all values
func (r *Registry[K, V]) Clear() {
	r.index = nil
	r.slots = nil
	r.free = nil
}
