// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import (
	"github.com/pkg/errors"

	"github.com/devblok/kframe/core"
)

// QueueTraits describe a queue that a device should provide
type QueueTraits struct {
	MustHave    QueueFlags
	MustNotHave QueueFlags
	Priority    float32
}

// Matches reports whether a family with flags can serve these traits
func (t QueueTraits) Matches(flags QueueFlags) bool {
	return flags.Has(t.MustHave) && flags&t.MustNotHave == 0
}

// QueueAssignment places a requested queue inside a queue family
type QueueAssignment struct {
	Traits QueueTraits
	Family uint32
	Index  uint32
}

// AssignQueues picks a family and index for every request, first fit.
// Backends use it to create the logical device, Device uses it to
// fetch the created queues, so both always agree.
func AssignQueues(families []QueueFamily, requests []QueueTraits) ([]QueueAssignment, error) {
	used := make([]uint32, len(families))
	out := make([]QueueAssignment, 0, len(requests))
	for i, req := range requests {
		found := false
		for f, family := range families {
			if used[f] >= family.Count || !req.Matches(family.Flags) {
				continue
			}
			out = append(out, QueueAssignment{Traits: req, Family: uint32(f), Index: used[f]})
			used[f]++
			found = true
			break
		}
		if !found {
			return nil, errors.Wrapf(core.ErrConfiguration, "no queue family serves request %d (must have %#x, must not have %#x)", i, req.MustHave, req.MustNotHave)
		}
	}
	return out, nil
}

// DeviceQueue is a queue created with the device. A surface
// reserves it while it renders to it.
type DeviceQueue struct {
	Traits QueueTraits
	Family uint32
	Index  uint32
	Handle Queue

	available bool
}
