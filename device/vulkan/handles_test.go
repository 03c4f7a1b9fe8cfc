// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

type handle uint64

func TestTable(t *testing.T) {
	c := qt.New(t)
	var tb table[handle, string]

	a, b := tb.add("a"), tb.add("b")
	c.Assert(a, qt.Not(qt.Equals), handle(0))
	c.Assert(b, qt.Not(qt.Equals), a)
	c.Assert(tb.get(a), qt.Equals, "a")
	c.Assert(tb.get(0), qt.Equals, "")
	c.Assert(lookup(&tb, []handle{b, a, 0}), qt.DeepEquals, []string{"b", "a", ""})

	v, ok := tb.remove(a)
	c.Assert(ok, qt.Equals, true)
	c.Assert(v, qt.Equals, "a")
	_, ok = tb.remove(a)
	c.Assert(ok, qt.Equals, false)
	c.Assert(tb.len(), qt.Equals, 1)

	// handles are never reused
	c.Assert(tb.add("c"), qt.Equals, b+1)
}

func TestSafeStrings(t *testing.T) {
	c := qt.New(t)
	c.Assert(safeStrings([]string{"VK_KHR_swapchain"}), qt.DeepEquals, []string{"VK_KHR_swapchain\x00"})
	c.Assert(safeStrings(nil), qt.HasLen, 0)
}
