// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"sync"

	"github.com/devblok/kframe/util/registry"
)

// table hands out integer handles for native Vulkan handles
type table[H ~uint64, V any] struct {
	mutex sync.Mutex
	next  uint64
	items registry.Registry[H, V]
}

func (t *table[H, V]) add(v V) H {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.next++
	h := H(t.next)
	t.items.Set(h, v)
	return h
}

// get returns the zero value, a null Vulkan handle, for unknown handles
func (t *table[H, V]) get(h H) V {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	v, _ := t.items.Get(h)
	return v
}

func (t *table[H, V]) remove(h H) (V, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.items.Remove(h)
}

func (t *table[H, V]) len() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.items.Len()
}

// lookup converts a list of handles
func lookup[H ~uint64, V any](t *table[H, V], hs []H) []V {
	out := make([]V, len(hs))
	for i, h := range hs {
		out[i] = t.get(h)
	}
	return out
}
