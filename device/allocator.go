// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devblok/kframe/core"
	"github.com/devblok/kframe/util/registry"
)

// MemoryBlock is an aligned region of device memory. A zero AlignedSize
// means the allocation failed.
type MemoryBlock struct {
	Memory        Memory
	RealOffset    uint64
	RealSize      uint64
	AlignedOffset uint64
	AlignedSize   uint64
}

func (b MemoryBlock) String() string {
	return fmt.Sprintf("[%d %d]", b.AlignedOffset, b.AlignedSize)
}

// Allocator hands out device memory of one kind of memory properties.
// Implementations are safe for concurrent use.
type Allocator interface {
	Allocate(d *Device, req MemoryRequirements) (MemoryBlock, error)
	Deallocate(d *Device, block MemoryBlock)
	BindBufferMemory(d *Device, buffer Buffer, offset uint64) error
	BindImageMemory(d *Device, image Image, offset uint64) error
	CopyToDeviceMemory(d *Device, offset uint64, data []byte) error
	MapMemory(d *Device, offset, size uint64) ([]byte, error)
	UnmapMemory(d *Device)
	MemoryPropertyFlags() MemoryProperty
}

// NewHeapAllocator creates an allocator that takes one heap of heapSize
// bytes per device and suballocates from it.
func NewHeapAllocator(props MemoryProperty, heapSize uint64) *HeapAllocator {
	return &HeapAllocator{
		props:    props,
		heapSize: heapSize,
	}
}

// HeapAllocator implements Allocator with a first fit strategy
type HeapAllocator struct {
	props    MemoryProperty
	heapSize uint64

	mutex sync.Mutex
	heaps registry.Registry[ID, *heap]
}

type allocation struct {
	offset, size uint64
}

type heap struct {
	memory    Memory
	typeIndex uint32
	allocs    []allocation
	mapped    []byte
	maps      int
}

func makeAlignUp(a, align uint64) uint64 {
	if align <= 1 {
		return a
	}
	if m := a % align; m != 0 {
		return a - m + align
	}
	return a
}

// MemoryPropertyFlags implements Allocator
func (ha *HeapAllocator) MemoryPropertyFlags() MemoryProperty {
	return ha.props
}

func (ha *HeapAllocator) heapFor(d *Device, typeBits uint32) (*heap, error) {
	if h, ok := ha.heaps.Get(d.ID()); ok {
		if typeBits&(1<<h.typeIndex) == 0 {
			return nil, errors.Wrapf(core.ErrResource, "device %d: heap memory type %d not in filter %#b", d.ID(), h.typeIndex, typeBits)
		}
		return h, nil
	}
	typeIndex, err := FindMemoryType(d.Driver().MemoryTypes(), typeBits, ha.props)
	if err != nil {
		return nil, err
	}
	memory, err := d.Driver().AllocateMemory(ha.heapSize, typeIndex)
	if err != nil {
		return nil, core.Fatal(err, "vk.AllocateMemory()")
	}
	h := &heap{memory: memory, typeIndex: typeIndex}
	ha.heaps.Set(d.ID(), h)
	log.WithFields(log.Fields{
		"device":     d.ID(),
		"size":       ha.heapSize,
		"memoryType": typeIndex,
	}).Debug("memory heap allocated")
	return h, nil
}

// Allocate implements Allocator
func (ha *HeapAllocator) Allocate(d *Device, req MemoryRequirements) (MemoryBlock, error) {
	ha.mutex.Lock()
	defer ha.mutex.Unlock()

	if req.Size == 0 {
		return MemoryBlock{}, errors.Wrapf(core.ErrResource, "device %d: zero sized allocation", d.ID())
	}
	h, err := ha.heapFor(d, req.MemoryTypeBits)
	if err != nil {
		return MemoryBlock{}, err
	}

	var start uint64
	at := len(h.allocs)
	for i, a := range h.allocs {
		if makeAlignUp(start, req.Alignment)+req.Size <= a.offset {
			at = i
			break
		}
		start = a.offset + a.size
	}
	aligned := makeAlignUp(start, req.Alignment)
	if at == len(h.allocs) && aligned+req.Size > ha.heapSize {
		return MemoryBlock{}, errors.Wrapf(core.ErrResource, "device %d: heap exhausted allocating %d bytes", d.ID(), req.Size)
	}

	a := allocation{offset: start, size: aligned - start + req.Size}
	h.allocs = append(h.allocs, allocation{})
	copy(h.allocs[at+1:], h.allocs[at:])
	h.allocs[at] = a

	return MemoryBlock{
		Memory:        h.memory,
		RealOffset:    a.offset,
		RealSize:      a.size,
		AlignedOffset: aligned,
		AlignedSize:   req.Size,
	}, nil
}

// Deallocate implements Allocator
func (ha *HeapAllocator) Deallocate(d *Device, block MemoryBlock) {
	ha.mutex.Lock()
	defer ha.mutex.Unlock()

	h, ok := ha.heaps.Get(d.ID())
	if !ok || block.AlignedSize == 0 {
		return
	}
	i := sort.Search(len(h.allocs), func(i int) bool {
		return h.allocs[i].offset >= block.RealOffset
	})
	if i < len(h.allocs) && h.allocs[i].offset == block.RealOffset {
		h.allocs = append(h.allocs[:i], h.allocs[i+1:]...)
	}
}

// BindBufferMemory implements Allocator
func (ha *HeapAllocator) BindBufferMemory(d *Device, buffer Buffer, offset uint64) error {
	h, err := ha.existing(d)
	if err != nil {
		return err
	}
	return core.Fatal(d.Driver().BindBufferMemory(buffer, h.memory, offset), "vk.BindBufferMemory()")
}

// BindImageMemory implements Allocator
func (ha *HeapAllocator) BindImageMemory(d *Device, image Image, offset uint64) error {
	h, err := ha.existing(d)
	if err != nil {
		return err
	}
	return core.Fatal(d.Driver().BindImageMemory(image, h.memory, offset), "vk.BindImageMemory()")
}

// CopyToDeviceMemory implements Allocator. The heap lock is held across
// map, copy and unmap.
func (ha *HeapAllocator) CopyToDeviceMemory(d *Device, offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	ha.mutex.Lock()
	defer ha.mutex.Unlock()

	h, err := ha.mappable(d)
	if err != nil {
		return err
	}
	mapped, err := ha.mapLocked(d, h, offset, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(mapped, data)
	ha.unmapLocked(d, h)
	return nil
}

// MapMemory implements Allocator. The whole heap stays mapped while any
// range of it is, so ranges of one heap may be mapped concurrently.
// Every call must be paired with UnmapMemory.
func (ha *HeapAllocator) MapMemory(d *Device, offset, size uint64) ([]byte, error) {
	ha.mutex.Lock()
	defer ha.mutex.Unlock()

	h, err := ha.mappable(d)
	if err != nil {
		return nil, err
	}
	return ha.mapLocked(d, h, offset, size)
}

// UnmapMemory implements Allocator. It drops one mapping made by MapMemory.
func (ha *HeapAllocator) UnmapMemory(d *Device) {
	ha.mutex.Lock()
	defer ha.mutex.Unlock()
	if h, ok := ha.heaps.Get(d.ID()); ok {
		ha.unmapLocked(d, h)
	}
}

func (ha *HeapAllocator) mappable(d *Device) (*heap, error) {
	if !ha.props.Has(MemoryPropertyHostVisible) {
		return nil, errors.Wrapf(core.ErrResource, "device %d: memory with properties %#x is not host visible", d.ID(), ha.props)
	}
	h, ok := ha.heaps.Get(d.ID())
	if !ok {
		return nil, errors.Wrapf(core.ErrResource, "device %d: no memory allocated", d.ID())
	}
	return h, nil
}

func (ha *HeapAllocator) mapLocked(d *Device, h *heap, offset, size uint64) ([]byte, error) {
	if offset+size > ha.heapSize {
		return nil, errors.Wrapf(core.ErrResource, "device %d: map range %d+%d exceeds heap of %d bytes", d.ID(), offset, size, ha.heapSize)
	}
	if h.mapped == nil {
		mapped, err := d.Driver().MapMemory(h.memory, 0, ha.heapSize)
		if err != nil {
			return nil, core.Fatal(err, "vk.MapMemory()")
		}
		h.mapped = mapped
	}
	h.maps++
	return h.mapped[offset : offset+size : offset+size], nil
}

func (ha *HeapAllocator) unmapLocked(d *Device, h *heap) {
	if h.maps == 0 {
		return
	}
	if h.maps--; h.maps == 0 {
		d.Driver().UnmapMemory(h.memory)
		h.mapped = nil
	}
}

// Mapped reports how many ranges of the heap of device d are mapped
func (ha *HeapAllocator) Mapped(d *Device) int {
	ha.mutex.Lock()
	defer ha.mutex.Unlock()
	if h, ok := ha.heaps.Get(d.ID()); ok {
		return h.maps
	}
	return 0
}

// Release frees the heap of device d
func (ha *HeapAllocator) Release(d *Device) {
	ha.mutex.Lock()
	defer ha.mutex.Unlock()
	if h, ok := ha.heaps.Remove(d.ID()); ok {
		if h.mapped != nil {
			d.Driver().UnmapMemory(h.memory)
		}
		d.Driver().FreeMemory(h.memory)
	}
}

// Used returns the bytes taken on device d, alignment padding included
func (ha *HeapAllocator) Used(d *Device) uint64 {
	ha.mutex.Lock()
	defer ha.mutex.Unlock()
	var used uint64
	if h, ok := ha.heaps.Get(d.ID()); ok {
		for _, a := range h.allocs {
			used += a.size
		}
	}
	return used
}

func (ha *HeapAllocator) existing(d *Device) (*heap, error) {
	ha.mutex.Lock()
	defer ha.mutex.Unlock()
	h, ok := ha.heaps.Get(d.ID())
	if !ok {
		return nil, errors.Wrapf(core.ErrResource, "device %d: no memory allocated", d.ID())
	}
	return h, nil
}
