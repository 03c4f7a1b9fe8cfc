// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package resource holds GPU resources that are validated lazily.
// A resource mirrors CPU side state into GPU objects once per active
// index (swapchain image slot), on every device or surface it is used
// with, and keeps per slot validity bits so work is only redone after
// Invalidate. All resources serialize validation behind their own lock,
// since queues working on different surfaces may validate concurrently.
package resource

import (
	"sync"

	"github.com/devblok/kframe/device"
)

// AllIndices selects every slot of a command buffer
const AllIndices = ^uint32(0)

// SwapChainImageBehaviour tells if a resource needs one GPU copy or one per swapchain image
type SwapChainImageBehaviour int

// Swapchain image behaviours
const (
	OnceForAllSwapChainImages SwapChainImageBehaviour = iota
	ForEachSwapChainImage
)

// Surface is what resources need to know about a presentation surface
type Surface interface {
	ID() device.Surface
	Device() *device.Device
	Extent() device.Extent2D
	ImageCount() uint32
}

// RenderContext is passed to every validation. Surface may be nil for
// work that is not tied to presentation.
type RenderContext struct {
	Device      *device.Device
	Surface     Surface
	CommandPool *CommandPool
	Queue       *device.DeviceQueue
	ImageCount  uint32
	ActiveIndex uint32
}

// Data is CPU side content that a buffer mirrors
type Data interface {
	Bytes() []byte
}

// Bytes adapts a byte slice to Data
type Bytes []byte

// Bytes implements Data
func (b Bytes) Bytes() []byte {
	return b
}

// DescriptorValue is what a descriptor set writes for one binding
type DescriptorValue struct {
	Buffer    device.Buffer
	Offset    uint64
	Range     uint64
	ImageView device.ImageView
	Layout    device.ImageLayout
}

// DescriptorSet is notified when a resource it refers to changes
type DescriptorSet interface {
	Invalidate()
}

// Validator is the capability every descriptor bound resource has
type Validator interface {
	Validate(ctx RenderContext) error
	Invalidate()
	DescriptorValues(ctx RenderContext, values []DescriptorValue) ([]DescriptorValue, error)
}

// Resource carries the state shared by every resource: the active index
// count and the descriptor sets and command buffers to notify on change.
// Embedders guard their own state with mutex.
type Resource struct {
	mutex       sync.Mutex
	behaviour   SwapChainImageBehaviour
	activeCount uint32

	listenerMutex  sync.Mutex
	descriptorSets map[DescriptorSet]struct{}
	commandBuffers map[*CommandBuffer]struct{}
}

func (r *Resource) init(behaviour SwapChainImageBehaviour) {
	r.behaviour = behaviour
	r.activeCount = 1
}

// Behaviour returns the swapchain image behaviour of the resource
func (r *Resource) Behaviour() SwapChainImageBehaviour {
	return r.behaviour
}

// ActiveCount returns the number of slots the resource keeps per device or surface
func (r *Resource) ActiveCount() uint32 {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.activeCount
}

// growLocked raises the active count to what ctx requires. The count
// never shrinks. Must be called with mutex held.
func (r *Resource) growLocked(ctx RenderContext) uint32 {
	if r.behaviour == ForEachSwapChainImage && ctx.ImageCount > r.activeCount {
		r.activeCount = ctx.ImageCount
	}
	return r.activeCount
}

func (r *Resource) activeIndexLocked(ctx RenderContext) uint32 {
	return ctx.ActiveIndex % r.activeCount
}

// AddDescriptorSet registers a descriptor set that refers to this resource
func (r *Resource) AddDescriptorSet(ds DescriptorSet) {
	r.listenerMutex.Lock()
	defer r.listenerMutex.Unlock()
	if r.descriptorSets == nil {
		r.descriptorSets = make(map[DescriptorSet]struct{})
	}
	r.descriptorSets[ds] = struct{}{}
}

// RemoveDescriptorSet forgets a descriptor set
func (r *Resource) RemoveDescriptorSet(ds DescriptorSet) {
	r.listenerMutex.Lock()
	defer r.listenerMutex.Unlock()
	delete(r.descriptorSets, ds)
}

// AddCommandBuffer registers a command buffer that recorded this resource's handles
func (r *Resource) AddCommandBuffer(cb *CommandBuffer) {
	r.listenerMutex.Lock()
	defer r.listenerMutex.Unlock()
	if r.commandBuffers == nil {
		r.commandBuffers = make(map[*CommandBuffer]struct{})
	}
	r.commandBuffers[cb] = struct{}{}
}

// RemoveCommandBuffer forgets a command buffer
func (r *Resource) RemoveCommandBuffer(cb *CommandBuffer) {
	r.listenerMutex.Lock()
	defer r.listenerMutex.Unlock()
	delete(r.commandBuffers, cb)
}

func (r *Resource) invalidateDescriptorSets() {
	r.listenerMutex.Lock()
	defer r.listenerMutex.Unlock()
	for ds := range r.descriptorSets {
		ds.Invalidate()
	}
}

func (r *Resource) invalidateCommandBuffers() {
	r.invalidateCommandBufferSlot(AllIndices)
}

// invalidateCommandBufferSlot invalidates one slot of every registered
// command buffer, or all of them for AllIndices.
func (r *Resource) invalidateCommandBufferSlot(index uint32) {
	r.listenerMutex.Lock()
	defer r.listenerMutex.Unlock()
	for cb := range r.commandBuffers {
		cb.Invalidate(index)
	}
}
