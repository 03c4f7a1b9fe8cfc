// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"github.com/pkg/errors"

	"github.com/devblok/kframe/core"
	"github.com/devblok/kframe/device"
	"github.com/devblok/kframe/util/registry"
)

type surfaceBuffer struct {
	*bufferSlots
	data Data
}

// NewGenericBufferPerSurface creates a buffer that keeps separate data and
// GPU copies for every surface. Data set here is the default for surfaces
// that get no data of their own.
func NewGenericBufferPerSurface(data Data, alloc device.Allocator, usage device.BufferUsage, behaviour SwapChainImageBehaviour) *GenericBufferPerSurface {
	gb := &GenericBufferPerSurface{
		data:  data,
		alloc: alloc,
		usage: usage,
	}
	gb.init(behaviour)
	return gb
}

// GenericBufferPerSurface is a buffer whose state is keyed by surface
type GenericBufferPerSurface struct {
	Resource

	data  Data
	alloc device.Allocator
	usage device.BufferUsage

	perSurface registry.Registry[device.Surface, *surfaceBuffer]
}

// Set assigns data to every surface and makes it the default for new ones
func (gb *GenericBufferPerSurface) Set(data Data) {
	gb.mutex.Lock()
	gb.data = data
	gb.perSurface.Each(func(_ device.Surface, sb *surfaceBuffer) {
		sb.data = data
		sb.invalidate()
	})
	gb.mutex.Unlock()
	gb.invalidateDescriptorSets()
}

// SetForSurface assigns data to one surface only
func (gb *GenericBufferPerSurface) SetForSurface(s Surface, data Data) {
	gb.mutex.Lock()
	sb := gb.surfaceLocked(s)
	sb.data = data
	sb.invalidate()
	gb.mutex.Unlock()
	gb.invalidateDescriptorSets()
}

// Get returns the data assigned to a surface
func (gb *GenericBufferPerSurface) Get(s Surface) (Data, error) {
	gb.mutex.Lock()
	defer gb.mutex.Unlock()
	sb, ok := gb.perSurface.Get(s.ID())
	if !ok {
		return nil, errors.Wrapf(core.ErrResource, "surface %d: buffer has no data", s.ID())
	}
	return sb.data, nil
}

func (gb *GenericBufferPerSurface) surfaceLocked(s Surface) *surfaceBuffer {
	return gb.perSurface.GetOrCreate(s.ID(), func() *surfaceBuffer {
		return &surfaceBuffer{
			bufferSlots: newBufferSlots(s.Device(), gb.activeCount),
			data:        gb.data,
		}
	})
}

// Validate makes sure the active index of ctx.Surface holds a current copy of its data
func (gb *GenericBufferPerSurface) Validate(ctx RenderContext) error {
	if ctx.Surface == nil {
		return errors.Wrap(core.ErrResource, "per surface buffer validated without a surface")
	}

	gb.mutex.Lock()
	count := gb.growLocked(ctx)
	sb := gb.surfaceLocked(ctx.Surface)
	sb.resize(count)
	if sb.data == nil {
		gb.mutex.Unlock()
		return errors.Wrapf(core.ErrResource, "surface %d: buffer has no data", ctx.Surface.ID())
	}
	created, err := sb.validate(ctx, gb.activeIndexLocked(ctx), sb.data.Bytes(), gb.usage, gb.alloc)
	gb.mutex.Unlock()

	if created {
		gb.invalidateCommandBuffers()
	}
	return err
}

// Invalidate marks every slot on every surface stale
func (gb *GenericBufferPerSurface) Invalidate() {
	gb.mutex.Lock()
	gb.perSurface.Each(func(_ device.Surface, sb *surfaceBuffer) {
		sb.invalidate()
	})
	gb.mutex.Unlock()
	gb.invalidateDescriptorSets()
}

// BufferHandle returns the native buffer of the active index on ctx.Surface,
// or the null handle when it was never validated.
func (gb *GenericBufferPerSurface) BufferHandle(ctx RenderContext) device.Buffer {
	if ctx.Surface == nil {
		return 0
	}
	gb.mutex.Lock()
	defer gb.mutex.Unlock()
	sb, ok := gb.perSurface.Get(ctx.Surface.ID())
	if !ok {
		return 0
	}
	i := gb.activeIndexLocked(ctx)
	if int(i) >= len(sb.buffers) {
		return 0
	}
	return sb.buffers[i]
}

// DescriptorValues implements Validator
func (gb *GenericBufferPerSurface) DescriptorValues(ctx RenderContext, values []DescriptorValue) ([]DescriptorValue, error) {
	if ctx.Surface == nil {
		return values, errors.Wrap(core.ErrResource, "per surface buffer read without a surface")
	}
	gb.mutex.Lock()
	defer gb.mutex.Unlock()
	sb, ok := gb.perSurface.Get(ctx.Surface.ID())
	i := gb.activeIndexLocked(ctx)
	if !ok || int(i) >= len(sb.buffers) || sb.buffers[i] == 0 {
		return values, errors.Wrapf(core.ErrResource, "surface %d: buffer not validated for index %d", ctx.Surface.ID(), i)
	}
	return append(values, sb.value(i)), nil
}

// Reset releases the buffers of one surface
func (gb *GenericBufferPerSurface) Reset(s Surface) {
	gb.mutex.Lock()
	defer gb.mutex.Unlock()
	if sb, ok := gb.perSurface.Remove(s.ID()); ok {
		sb.release(gb.alloc)
	}
}

// Release destroys the buffers of every surface
func (gb *GenericBufferPerSurface) Release() {
	gb.mutex.Lock()
	defer gb.mutex.Unlock()
	gb.perSurface.Each(func(_ device.Surface, sb *surfaceBuffer) {
		sb.release(gb.alloc)
	})
	gb.perSurface.Clear()
}

var _ Validator = (*GenericBufferPerSurface)(nil)
