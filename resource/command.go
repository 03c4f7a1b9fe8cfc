// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/devblok/kframe/core"
	"github.com/devblok/kframe/device"
)

// NewCommandPool creates a command pool for queues of one family
func NewCommandPool(d *device.Device, family uint32) (*CommandPool, error) {
	handle, err := d.Driver().CreateCommandPool(family)
	if err != nil {
		return nil, core.Fatal(err, "vk.CreateCommandPool()")
	}
	return &CommandPool{device: d, family: family, handle: handle}, nil
}

// CommandPool owns the memory of command buffers
type CommandPool struct {
	device *device.Device
	family uint32
	handle device.CommandPool
}

// Handle returns the native pool
func (cp *CommandPool) Handle() device.CommandPool {
	return cp.handle
}

// Family returns the queue family the pool allocates for
func (cp *CommandPool) Family() uint32 {
	return cp.family
}

// Release destroys the pool and with it every buffer allocated from it
func (cp *CommandPool) Release() {
	if cp == nil || cp.handle == 0 {
		return
	}
	cp.device.Driver().DestroyCommandPool(cp.handle)
	cp.handle = 0
}

// NewCommandBuffer allocates count native command buffers, one per slot
func NewCommandBuffer(d *device.Device, pool *CommandPool, level device.CommandBufferLevel, count uint32) (*CommandBuffer, error) {
	cb := &CommandBuffer{
		device: d,
		pool:   pool,
		level:  level,
	}
	if err := cb.Resize(count); err != nil {
		return nil, err
	}
	return cb, nil
}

// CommandBuffer is a set of native command buffers, one per active index.
// A slot stays valid from End until it is invalidated, so recording can
// be skipped while nothing it refers to changed.
type CommandBuffer struct {
	mutex       sync.Mutex
	device      *device.Device
	pool        *CommandPool
	level       device.CommandBufferLevel
	handles     []device.CommandBuffer
	valid       []bool
	activeIndex uint32
}

// Resize grows the number of slots to count. Slots are never removed.
func (cb *CommandBuffer) Resize(count uint32) error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	if count <= uint32(len(cb.handles)) {
		return nil
	}
	more, err := cb.device.Driver().AllocateCommandBuffers(cb.pool.Handle(), cb.level, count-uint32(len(cb.handles)))
	if err != nil {
		return core.Fatal(err, "vk.AllocateCommandBuffers()")
	}
	cb.handles = append(cb.handles, more...)
	cb.valid = append(cb.valid, make([]bool, len(more))...)
	return nil
}

// Count returns the number of slots
func (cb *CommandBuffer) Count() uint32 {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return uint32(len(cb.handles))
}

// SetActiveIndex selects the slot following calls work on
func (cb *CommandBuffer) SetActiveIndex(index uint32) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	if n := uint32(len(cb.handles)); n > 0 {
		cb.activeIndex = index % n
	}
}

// ActiveIndex returns the selected slot
func (cb *CommandBuffer) ActiveIndex() uint32 {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.activeIndex
}

// Handle returns the native command buffer of the active slot
func (cb *CommandBuffer) Handle() device.CommandBuffer {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.handleLocked()
}

func (cb *CommandBuffer) handleLocked() device.CommandBuffer {
	if int(cb.activeIndex) >= len(cb.handles) {
		return 0
	}
	return cb.handles[cb.activeIndex]
}

// IsValid reports if slot index holds an up to date recording
func (cb *CommandBuffer) IsValid(index uint32) bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return int(index) < len(cb.valid) && cb.valid[index]
}

// Invalidate marks slot index stale, AllIndices marks every slot stale
func (cb *CommandBuffer) Invalidate(index uint32) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	if index == AllIndices {
		for i := range cb.valid {
			cb.valid[i] = false
		}
		return
	}
	if int(index) < len(cb.valid) {
		cb.valid[index] = false
	}
}

// Begin starts recording the active slot
func (cb *CommandBuffer) Begin() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.valid[cb.activeIndex] = false
	return core.Fatal(cb.device.Driver().BeginCommandBuffer(cb.handleLocked(), device.CommandBufferUsageSimultaneousUse), "vk.BeginCommandBuffer()")
}

// End finishes recording the active slot and marks it valid
func (cb *CommandBuffer) End() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	if err := cb.device.Driver().EndCommandBuffer(cb.handleLocked()); err != nil {
		return core.Fatal(err, "vk.EndCommandBuffer()")
	}
	cb.valid[cb.activeIndex] = true
	return nil
}

// PipelineBarrier records image memory barriers
func (cb *CommandBuffer) PipelineBarrier(src, dst device.PipelineStage, dependency device.DependencyFlags, barriers []device.ImageBarrier) {
	cb.device.Driver().CmdPipelineBarrier(cb.Handle(), src, dst, dependency, barriers)
}

// CopyBuffer records a buffer to buffer copy
func (cb *CommandBuffer) CopyBuffer(src, dst device.Buffer, regions []device.BufferCopy) {
	cb.device.Driver().CmdCopyBuffer(cb.Handle(), src, dst, regions)
}

// BeginRenderPass records the start of a render pass
func (cb *CommandBuffer) BeginRenderPass(info device.RenderPassBeginInfo, contents device.SubpassContents) {
	cb.device.Driver().CmdBeginRenderPass(cb.Handle(), info, contents)
}

// EndRenderPass records the end of a render pass
func (cb *CommandBuffer) EndRenderPass() {
	cb.device.Driver().CmdEndRenderPass(cb.Handle())
}

// BindVertexBuffers records vertex buffer bindings
func (cb *CommandBuffer) BindVertexBuffers(first uint32, buffers []device.Buffer, offsets []uint64) {
	cb.device.Driver().CmdBindVertexBuffers(cb.Handle(), first, buffers, offsets)
}

// Submit submits the active slot to queue
func (cb *CommandBuffer) Submit(queue device.Queue, wait []device.Semaphore, stages []device.PipelineStage, signal []device.Semaphore, fence device.Fence) error {
	if len(wait) != len(stages) {
		return errors.Wrapf(core.ErrResource, "%d wait semaphores with %d wait stages", len(wait), len(stages))
	}
	submit := []device.SubmitInfo{{
		WaitSemaphores:   wait,
		WaitStages:       stages,
		CommandBuffers:   []device.CommandBuffer{cb.Handle()},
		SignalSemaphores: signal,
	}}
	return core.Fatal(cb.device.Driver().QueueSubmit(queue, submit, fence), "vk.QueueSubmit()")
}

// Release frees every slot
func (cb *CommandBuffer) Release() {
	if cb == nil {
		return
	}
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	if len(cb.handles) > 0 && cb.pool.Handle() != 0 {
		cb.device.Driver().FreeCommandBuffers(cb.pool.Handle(), cb.handles)
	}
	cb.handles, cb.valid = nil, nil
}
