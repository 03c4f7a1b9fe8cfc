// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devblok/kframe/core"
	"github.com/devblok/kframe/device"
	"github.com/devblok/kframe/util/registry"
)

// bufferSlots holds the native buffers of one device or surface
type bufferSlots struct {
	device  *device.Device
	valid   []bool
	buffers []device.Buffer
	sizes   []uint64
	lengths []uint64
	blocks  []device.MemoryBlock
}

func newBufferSlots(d *device.Device, count uint32) *bufferSlots {
	s := &bufferSlots{device: d}
	s.resize(count)
	return s
}

func (s *bufferSlots) resize(count uint32) {
	for n := uint32(len(s.valid)); n < count; n++ {
		s.valid = append(s.valid, false)
		s.buffers = append(s.buffers, 0)
		s.sizes = append(s.sizes, 0)
		s.lengths = append(s.lengths, 0)
		s.blocks = append(s.blocks, device.MemoryBlock{})
	}
}

func (s *bufferSlots) invalidate() {
	for i := range s.valid {
		s.valid[i] = false
	}
}

// validate brings slot i up to date with data. It reports whether a new
// native buffer was created.
func (s *bufferSlots) validate(ctx RenderContext, i uint32, data []byte, usage device.BufferUsage, alloc device.Allocator) (bool, error) {
	if s.valid[i] {
		return false, nil
	}

	driver := s.device.Driver()
	size := uint64(len(data))
	deviceLocal := alloc.MemoryPropertyFlags().Has(device.MemoryPropertyDeviceLocal)

	if s.buffers[i] != 0 && (s.blocks[i].AlignedSize < size || s.sizes[i] < size) {
		driver.DestroyBuffer(s.buffers[i])
		alloc.Deallocate(s.device, s.blocks[i])
		s.buffers[i], s.sizes[i], s.blocks[i] = 0, 0, device.MemoryBlock{}
	}

	created := false
	if s.buffers[i] == 0 {
		if deviceLocal {
			usage |= device.BufferUsageTransferDst
		}
		bufferSize := size
		if bufferSize == 0 {
			bufferSize = 1
		}
		buffer, err := driver.CreateBuffer(bufferSize, usage)
		if err != nil {
			return false, core.Fatal(err, "vk.CreateBuffer()")
		}
		block, err := alloc.Allocate(s.device, driver.BufferMemoryRequirements(buffer))
		if err != nil || block.AlignedSize == 0 {
			driver.DestroyBuffer(buffer)
			if err == nil {
				err = core.ErrResource
			}
			return false, errors.Wrapf(err, "device %d: cannot allocate memory for buffer of %d bytes", s.device.ID(), bufferSize)
		}
		if err := alloc.BindBufferMemory(s.device, buffer, block.AlignedOffset); err != nil {
			driver.DestroyBuffer(buffer)
			alloc.Deallocate(s.device, block)
			return false, err
		}
		s.buffers[i], s.sizes[i], s.blocks[i] = buffer, bufferSize, block
		created = true

		log.WithFields(log.Fields{
			"device": s.device.ID(),
			"index":  i,
			"size":   bufferSize,
		}).Debug("buffer created")
	}

	if size > 0 {
		var err error
		if deviceLocal {
			err = s.stage(ctx, s.buffers[i], data)
		} else {
			err = alloc.CopyToDeviceMemory(s.device, s.blocks[i].AlignedOffset, data)
		}
		if err != nil {
			return created, err
		}
	}
	s.lengths[i] = size
	s.valid[i] = true
	return created, nil
}

// stage uploads data to a device local buffer through a staging buffer
func (s *bufferSlots) stage(ctx RenderContext, dst device.Buffer, data []byte) error {
	if ctx.CommandPool == nil || ctx.Queue == nil {
		return errors.Wrapf(core.ErrResource, "device %d: staging upload needs a command pool and a queue", s.device.ID())
	}
	staging, err := s.device.AcquireStagingBuffer(data)
	if err != nil {
		return err
	}
	defer s.device.ReleaseStagingBuffer(staging)

	cb, err := s.device.BeginSingleTimeCommands(ctx.CommandPool.Handle())
	if err != nil {
		return err
	}
	s.device.Driver().CmdCopyBuffer(cb, staging.Buffer(), dst, []device.BufferCopy{{Size: uint64(len(data))}})
	return s.device.EndSingleTimeCommands(cb, ctx.CommandPool.Handle(), ctx.Queue.Handle)
}

func (s *bufferSlots) release(alloc device.Allocator) {
	for i, b := range s.buffers {
		if b == 0 {
			continue
		}
		s.device.Driver().DestroyBuffer(b)
		alloc.Deallocate(s.device, s.blocks[i])
		s.buffers[i], s.sizes[i], s.blocks[i], s.valid[i] = 0, 0, device.MemoryBlock{}, false
		s.lengths[i] = 0
	}
}

// value describes slot i with the length of the data last uploaded to it
func (s *bufferSlots) value(i uint32) DescriptorValue {
	return DescriptorValue{
		Buffer: s.buffers[i],
		Range:  s.lengths[i],
	}
}

// NewGenericBuffer creates a buffer mirroring data on every device it is validated on
func NewGenericBuffer(data Data, alloc device.Allocator, usage device.BufferUsage, behaviour SwapChainImageBehaviour) *GenericBuffer {
	gb := &GenericBuffer{
		data:  data,
		alloc: alloc,
		usage: usage,
	}
	gb.init(behaviour)
	return gb
}

// GenericBuffer is a device scoped buffer holding a copy of arbitrary CPU data
type GenericBuffer struct {
	Resource

	data  Data
	alloc device.Allocator
	usage device.BufferUsage

	perDevice registry.Registry[device.ID, *bufferSlots]
}

// Set replaces the CPU data and invalidates every slot
func (gb *GenericBuffer) Set(data Data) {
	gb.mutex.Lock()
	gb.data = data
	gb.mutex.Unlock()
	gb.Invalidate()
}

// Data returns the CPU data
func (gb *GenericBuffer) Data() Data {
	gb.mutex.Lock()
	defer gb.mutex.Unlock()
	return gb.data
}

// Validate makes sure the active index of ctx.Device holds a current copy of the data
func (gb *GenericBuffer) Validate(ctx RenderContext) error {
	gb.mutex.Lock()
	count := gb.growLocked(ctx)
	slots := gb.perDevice.GetOrCreate(ctx.Device.ID(), func() *bufferSlots {
		return newBufferSlots(ctx.Device, count)
	})
	slots.resize(count)

	var payload []byte
	if gb.data != nil {
		payload = gb.data.Bytes()
	}
	created, err := slots.validate(ctx, gb.activeIndexLocked(ctx), payload, gb.usage, gb.alloc)
	gb.mutex.Unlock()

	if created {
		gb.invalidateCommandBuffers()
	}
	return err
}

// Invalidate marks every slot on every device stale
func (gb *GenericBuffer) Invalidate() {
	gb.mutex.Lock()
	gb.perDevice.Each(func(_ device.ID, s *bufferSlots) {
		s.invalidate()
	})
	gb.mutex.Unlock()
	gb.invalidateDescriptorSets()
}

// BufferHandle returns the native buffer for the active index, or the
// null handle when it was never validated.
func (gb *GenericBuffer) BufferHandle(ctx RenderContext) device.Buffer {
	gb.mutex.Lock()
	defer gb.mutex.Unlock()
	s, ok := gb.perDevice.Get(ctx.Device.ID())
	if !ok {
		return 0
	}
	i := gb.activeIndexLocked(ctx)
	if int(i) >= len(s.buffers) {
		return 0
	}
	return s.buffers[i]
}

// DescriptorValue returns the descriptor of the active index
func (gb *GenericBuffer) DescriptorValue(ctx RenderContext) (DescriptorValue, error) {
	gb.mutex.Lock()
	defer gb.mutex.Unlock()
	s, ok := gb.perDevice.Get(ctx.Device.ID())
	i := gb.activeIndexLocked(ctx)
	if !ok || int(i) >= len(s.buffers) || s.buffers[i] == 0 {
		return DescriptorValue{}, errors.Wrapf(core.ErrResource, "device %d: buffer not validated for index %d", ctx.Device.ID(), i)
	}
	return s.value(i), nil
}

// DescriptorValues implements Validator
func (gb *GenericBuffer) DescriptorValues(ctx RenderContext, values []DescriptorValue) ([]DescriptorValue, error) {
	v, err := gb.DescriptorValue(ctx)
	if err != nil {
		return values, err
	}
	return append(values, v), nil
}

// Release destroys the buffers on every device
func (gb *GenericBuffer) Release() {
	gb.mutex.Lock()
	defer gb.mutex.Unlock()
	gb.perDevice.Each(func(_ device.ID, s *bufferSlots) {
		s.release(gb.alloc)
	})
	gb.perDevice.Clear()
}

var _ Validator = (*GenericBuffer)(nil)
