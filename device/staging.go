// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devblok/kframe/core"
)

// StagingBuffer is a host visible transfer source buffer
type StagingBuffer struct {
	buffer Buffer
	memory Memory
	size   uint64
}

// Buffer returns the buffer handle
func (sb *StagingBuffer) Buffer() Buffer {
	return sb.buffer
}

// Size returns the buffer capacity in bytes
func (sb *StagingBuffer) Size() uint64 {
	return sb.size
}

func (sb *StagingBuffer) fill(driver Driver, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	mapped, err := driver.MapMemory(sb.memory, 0, uint64(len(data)))
	if err != nil {
		return core.Fatal(err, "vk.MapMemory()")
	}
	copy(mapped, data)
	driver.UnmapMemory(sb.memory)
	return nil
}

func (sb *StagingBuffer) destroy(driver Driver) {
	driver.DestroyBuffer(sb.buffer)
	driver.FreeMemory(sb.memory)
}

// FindMemoryType returns the first memory type index allowed by filter
// that has all of the requested properties.
func FindMemoryType(types []MemoryType, filter uint32, props MemoryProperty) (uint32, error) {
	for idx := range types {
		if filter&(1<<uint(idx)) != 0 && types[idx].Properties.Has(props) {
			return uint32(idx), nil
		}
	}
	return 0, errors.Wrapf(core.ErrResource, "no memory type with properties %#x in filter %#b", props, filter)
}

// AcquireStagingBuffer returns a staging buffer holding a copy of data.
// Released buffers that are large enough are reused.
func (d *Device) AcquireStagingBuffer(data []byte) (*StagingBuffer, error) {
	size := uint64(len(data))
	if size == 0 {
		size = 1
	}

	sb := d.takeStagingBuffer(size)
	if sb == nil {
		var err error
		if sb, err = d.createStagingBuffer(size); err != nil {
			return nil, err
		}
	}
	if err := sb.fill(d.driver, data); err != nil {
		d.ReleaseStagingBuffer(sb)
		return nil, err
	}
	return sb, nil
}

// ReleaseStagingBuffer hands a staging buffer back for reuse
func (d *Device) ReleaseStagingBuffer(sb *StagingBuffer) {
	if sb == nil {
		return
	}
	d.stagingMutex.Lock()
	defer d.stagingMutex.Unlock()
	if len(d.staging) >= d.stagingLimit {
		sb.destroy(d.driver)
		return
	}
	d.staging = append(d.staging, sb)
}

func (d *Device) takeStagingBuffer(size uint64) *StagingBuffer {
	d.stagingMutex.Lock()
	defer d.stagingMutex.Unlock()
	for i, sb := range d.staging {
		if sb.size >= size {
			d.staging = append(d.staging[:i], d.staging[i+1:]...)
			return sb
		}
	}
	return nil
}

func (d *Device) createStagingBuffer(size uint64) (*StagingBuffer, error) {
	buffer, err := d.driver.CreateBuffer(size, BufferUsageTransferSrc)
	if err != nil {
		return nil, core.Fatal(err, "vk.CreateBuffer()")
	}
	req := d.driver.BufferMemoryRequirements(buffer)
	typeIndex, err := FindMemoryType(d.driver.MemoryTypes(), req.MemoryTypeBits, MemoryPropertyHostVisible|MemoryPropertyHostCoherent)
	if err != nil {
		d.driver.DestroyBuffer(buffer)
		return nil, err
	}
	memory, err := d.driver.AllocateMemory(req.Size, typeIndex)
	if err != nil {
		d.driver.DestroyBuffer(buffer)
		return nil, core.Fatal(err, "vk.AllocateMemory()")
	}
	if err := d.driver.BindBufferMemory(buffer, memory, 0); err != nil {
		d.driver.DestroyBuffer(buffer)
		d.driver.FreeMemory(memory)
		return nil, core.Fatal(err, "vk.BindBufferMemory()")
	}
	log.WithFields(log.Fields{"device": d.id, "size": size}).Debug("staging buffer created")
	return &StagingBuffer{buffer: buffer, memory: memory, size: size}, nil
}
