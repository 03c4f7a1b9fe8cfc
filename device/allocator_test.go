// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device_test

import (
	"fmt"
	"sync"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/pkg/errors"

	"github.com/devblok/kframe/core"
	"github.com/devblok/kframe/device"
)

func TestHeapAllocatorAlignment(t *testing.T) {
	c := qt.New(t)
	d, driver := newDevice(c)
	ha := device.NewHeapAllocator(device.MemoryPropertyDeviceLocal, 4096)

	a, err := ha.Allocate(d, device.MemoryRequirements{Size: 100, Alignment: 256, MemoryTypeBits: 0x3})
	c.Assert(err, qt.IsNil)
	c.Assert(a.AlignedOffset, qt.Equals, uint64(0))
	c.Assert(a.AlignedSize, qt.Equals, uint64(100))

	b, err := ha.Allocate(d, device.MemoryRequirements{Size: 100, Alignment: 256, MemoryTypeBits: 0x3})
	c.Assert(err, qt.IsNil)
	c.Assert(b.AlignedOffset, qt.Equals, uint64(256))
	c.Assert(b.Memory, qt.Equals, a.Memory)
	c.Assert(driver.Count("AllocateMemory"), qt.Equals, 1)
	c.Assert(ha.MemoryPropertyFlags(), qt.Equals, device.MemoryPropertyDeviceLocal)
}

func TestHeapAllocatorReusesFreedGap(t *testing.T) {
	c := qt.New(t)
	d, _ := newDevice(c)
	ha := device.NewHeapAllocator(device.MemoryPropertyDeviceLocal, 2048)
	req := device.MemoryRequirements{Size: 256, Alignment: 256, MemoryTypeBits: 0x3}

	a, _ := ha.Allocate(d, req)
	b, _ := ha.Allocate(d, req)
	_, _ = ha.Allocate(d, req)
	c.Assert(ha.Used(d), qt.Equals, uint64(768))

	ha.Deallocate(d, a)
	c.Assert(ha.Used(d), qt.Equals, uint64(512))

	again, err := ha.Allocate(d, req)
	c.Assert(err, qt.IsNil)
	c.Assert(again.AlignedOffset, qt.Equals, a.AlignedOffset)

	ha.Deallocate(d, b)
	big, err := ha.Allocate(d, device.MemoryRequirements{Size: 512, Alignment: 256, MemoryTypeBits: 0x3})
	c.Assert(err, qt.IsNil)
	c.Assert(big.AlignedOffset, qt.Equals, uint64(768))
	c.Assert(big.AlignedSize, qt.Equals, uint64(512))
}

func TestHeapAllocatorExhausted(t *testing.T) {
	c := qt.New(t)
	d, _ := newDevice(c)
	ha := device.NewHeapAllocator(device.MemoryPropertyDeviceLocal, 512)

	block, err := ha.Allocate(d, device.MemoryRequirements{Size: 1024, Alignment: 1, MemoryTypeBits: 0x3})
	c.Assert(errors.Is(err, core.ErrResource), qt.Equals, true)
	c.Assert(block.AlignedSize, qt.Equals, uint64(0))

	_, err = ha.Allocate(d, device.MemoryRequirements{Size: 0, Alignment: 1, MemoryTypeBits: 0x3})
	c.Assert(errors.Is(err, core.ErrResource), qt.Equals, true)
}

func TestHeapAllocatorHostVisibleCopy(t *testing.T) {
	c := qt.New(t)
	d, driver := newDevice(c)
	ha := device.NewHeapAllocator(device.MemoryPropertyHostVisible, 1024)

	buffer, err := driver.CreateBuffer(4, device.BufferUsageUniform)
	c.Assert(err, qt.IsNil)
	block, err := ha.Allocate(d, driver.BufferMemoryRequirements(buffer))
	c.Assert(err, qt.IsNil)
	c.Assert(ha.BindBufferMemory(d, buffer, block.AlignedOffset), qt.IsNil)
	c.Assert(ha.CopyToDeviceMemory(d, block.AlignedOffset, []byte{1, 2, 3, 4}), qt.IsNil)
	c.Assert(driver.BufferContents(buffer), qt.DeepEquals, []byte{1, 2, 3, 4})

	driver.ResetCalls()
	first, err := ha.MapMemory(d, 0, 4)
	c.Assert(err, qt.IsNil)
	second, err := ha.MapMemory(d, 512, 4)
	c.Assert(err, qt.IsNil)
	c.Assert(ha.Mapped(d), qt.Equals, 2)
	c.Assert(driver.Count("MapMemory"), qt.Equals, 1)
	copy(second, []byte{9, 9})
	c.Assert(ha.CopyToDeviceMemory(d, 8, []byte{5}), qt.IsNil)
	c.Assert(first, qt.DeepEquals, []byte{1, 2, 3, 4})

	ha.UnmapMemory(d)
	c.Assert(ha.Mapped(d), qt.Equals, 1)
	c.Assert(driver.Count("UnmapMemory"), qt.Equals, 0)
	ha.UnmapMemory(d)
	c.Assert(ha.Mapped(d), qt.Equals, 0)
	c.Assert(driver.Count("UnmapMemory"), qt.Equals, 1)
	ha.UnmapMemory(d)
	c.Assert(driver.Count("UnmapMemory"), qt.Equals, 1)

	_, err = ha.MapMemory(d, 1020, 8)
	c.Assert(errors.Is(err, core.ErrResource), qt.Equals, true)

	ha.Release(d)
	c.Assert(driver.Live("memory"), qt.Equals, 0)
}

func TestHeapAllocatorDeviceLocalCannotMap(t *testing.T) {
	c := qt.New(t)
	d, _ := newDevice(c)
	ha := device.NewHeapAllocator(device.MemoryPropertyDeviceLocal, 1024)
	_, err := ha.Allocate(d, device.MemoryRequirements{Size: 16, Alignment: 16, MemoryTypeBits: 0x3})
	c.Assert(err, qt.IsNil)

	_, err = ha.MapMemory(d, 0, 16)
	c.Assert(errors.Is(err, core.ErrResource), qt.Equals, true)
}

func TestHeapAllocatorConcurrentCopies(t *testing.T) {
	c := qt.New(t)
	d, driver := newDevice(c)
	const workers, rounds = 8, 200
	ha := device.NewHeapAllocator(device.MemoryPropertyHostVisible, 256*workers)

	buffers := make([]device.Buffer, workers)
	blocks := make([]device.MemoryBlock, workers)
	for i := range buffers {
		buffer, err := driver.CreateBuffer(16, device.BufferUsageUniform)
		c.Assert(err, qt.IsNil)
		block, err := ha.Allocate(d, driver.BufferMemoryRequirements(buffer))
		c.Assert(err, qt.IsNil)
		c.Assert(ha.BindBufferMemory(d, buffer, block.AlignedOffset), qt.IsNil)
		buffers[i], blocks[i] = buffer, block
	}

	// One range stays mapped the whole time, as an image mapping would.
	held, err := ha.MapMemory(d, blocks[0].AlignedOffset, 16)
	c.Assert(err, qt.IsNil)

	var wg sync.WaitGroup
	errs := make(chan error, workers*rounds)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				payload := []byte(fmt.Sprintf("w%02d r%03d........", i, r))[:16]
				if err := ha.CopyToDeviceMemory(d, blocks[i].AlignedOffset, payload); err != nil {
					errs <- err
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		c.Fatalf("concurrent copy failed: %v", err)
	}

	for i, buffer := range buffers {
		want := []byte(fmt.Sprintf("w%02d r%03d........", i, rounds-1))[:16]
		c.Assert(driver.BufferContents(buffer), qt.DeepEquals, want)
	}
	c.Assert(string(held), qt.Equals, fmt.Sprintf("w%02d r%03d........", 0, rounds-1)[:16])
	c.Assert(ha.Mapped(d), qt.Equals, 1)
	ha.UnmapMemory(d)
	c.Assert(ha.Mapped(d), qt.Equals, 0)
}

func TestHeapAllocatorConcurrentAllocate(t *testing.T) {
	c := qt.New(t)
	d, _ := newDevice(c)
	ha := device.NewHeapAllocator(device.MemoryPropertyDeviceLocal, 16*1024)
	req := device.MemoryRequirements{Size: 64, Alignment: 64, MemoryTypeBits: 0x3}

	var wg sync.WaitGroup
	blocks := make(chan device.MemoryBlock, 128)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 16; j++ {
				block, err := ha.Allocate(d, req)
				if err == nil {
					blocks <- block
				}
			}
		}()
	}
	wg.Wait()
	close(blocks)

	seen := map[uint64]bool{}
	for block := range blocks {
		c.Assert(seen[block.AlignedOffset], qt.Equals, false)
		seen[block.AlignedOffset] = true
	}
	c.Assert(seen, qt.HasLen, 128)
	c.Assert(ha.Used(d), qt.Equals, uint64(128*64))
}
