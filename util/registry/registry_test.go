// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package registry_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/devblok/kframe/util/registry"
)

func TestGetOrCreateOnce(t *testing.T) {
	c := qt.New(t)
	var r registry.Registry[uint64, *int]

	created := 0
	create := func() *int {
		created++
		v := created
		return &v
	}
	a := r.GetOrCreate(7, create)
	b := r.GetOrCreate(7, create)
	c.Assert(a, qt.Equals, b)
	c.Assert(created, qt.Equals, 1)
	c.Assert(r.Len(), qt.Equals, 1)
}

func TestRemoveReusesSlot(t *testing.T) {
	c := qt.New(t)
	var r registry.Registry[string, int]
	r.Set("a", 1)
	r.Set("b", 2)
	r.Set("c", 3)

	v, ok := r.Remove("b")
	c.Assert(ok, qt.Equals, true)
	c.Assert(v, qt.Equals, 2)
	_, ok = r.Get("b")
	c.Assert(ok, qt.Equals, false)

	r.Set("d", 4)
	var keys []string
	r.Each(func(k string, _ int) { keys = append(keys, k) })
	c.Assert(keys, qt.DeepEquals, []string{"a", "d", "c"})

	_, ok = r.Remove("missing")
	c.Assert(ok, qt.Equals, false)
}

func TestSetReplaces(t *testing.T) {
	c := qt.New(t)
	var r registry.Registry[int, string]
	r.Set(1, "one")
	r.Set(1, "uno")
	v, _ := r.Get(1)
	c.Assert(v, qt.Equals, "uno")
	c.Assert(r.Len(), qt.Equals, 1)

	r.Clear()
	c.Assert(r.Len(), qt.Equals, 0)
}
