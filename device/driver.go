// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/devblok/kframe/core"
)

// Result is a driver call result, using Vulkan result codes
type Result int32

// Result codes
const (
	Success                   Result = 0
	NotReady                  Result = 1
	Timeout                   Result = 2
	Incomplete                Result = 5
	ErrorOutOfHostMemory      Result = -1
	ErrorOutOfDeviceMemory    Result = -2
	ErrorInitializationFailed Result = -3
	ErrorDeviceLost           Result = -4
	ErrorMemoryMapFailed      Result = -5
	ErrorSurfaceLost          Result = -1000000000
	Suboptimal                Result = 1000001003
	ErrorOutOfDate            Result = -1000001004
)

// String implements fmt.Stringer
func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case NotReady:
		return "not ready"
	case Timeout:
		return "timeout"
	case Incomplete:
		return "incomplete"
	case ErrorOutOfHostMemory:
		return "out of host memory"
	case ErrorOutOfDeviceMemory:
		return "out of device memory"
	case ErrorInitializationFailed:
		return "initialization failed"
	case ErrorDeviceLost:
		return "device lost"
	case ErrorMemoryMapFailed:
		return "memory map failed"
	case ErrorSurfaceLost:
		return "surface lost"
	case Suboptimal:
		return "suboptimal"
	case ErrorOutOfDate:
		return "out of date"
	}
	return fmt.Sprintf("result %d", int32(r))
}

// Err returns nil for Success and a core.ErrDevice otherwise,
// annotated with the call that produced the result.
func (r Result) Err(call string) error {
	if r == Success {
		return nil
	}
	return errors.Wrapf(core.ErrDevice, "%s: %s", call, r)
}

// Driver is the GPU API a Device talks to. Every method maps onto a single
// Vulkan entry point and is bound to one logical device.
type Driver interface {
	MemoryTypes() []MemoryType
	QueueFamilies() []QueueFamily

	AllocateMemory(size uint64, typeIndex uint32) (Memory, error)
	FreeMemory(Memory)
	MapMemory(m Memory, offset, size uint64) ([]byte, error)
	UnmapMemory(Memory)

	CreateBuffer(size uint64, usage BufferUsage) (Buffer, error)
	DestroyBuffer(Buffer)
	BufferMemoryRequirements(Buffer) MemoryRequirements
	BindBufferMemory(b Buffer, m Memory, offset uint64) error

	CreateImage(ImageCreateInfo) (Image, error)
	DestroyImage(Image)
	ImageMemoryRequirements(Image) MemoryRequirements
	BindImageMemory(img Image, m Memory, offset uint64) error
	ImageSubresourceLayout(img Image, aspect ImageAspect, mipLevel, arrayLayer uint32) SubresourceLayout
	CreateImageView(ImageViewCreateInfo) (ImageView, error)
	DestroyImageView(ImageView)

	CreateRenderPass(RenderPassCreateInfo) (RenderPass, error)
	DestroyRenderPass(RenderPass)
	CreateFramebuffer(FramebufferCreateInfo) (Framebuffer, error)
	DestroyFramebuffer(Framebuffer)

	CreateCommandPool(family uint32) (CommandPool, error)
	DestroyCommandPool(CommandPool)
	AllocateCommandBuffers(pool CommandPool, level CommandBufferLevel, count uint32) ([]CommandBuffer, error)
	FreeCommandBuffers(pool CommandPool, buffers []CommandBuffer)
	BeginCommandBuffer(cb CommandBuffer, usage CommandBufferUsage) error
	EndCommandBuffer(CommandBuffer) error
	CmdPipelineBarrier(cb CommandBuffer, src, dst PipelineStage, dependency DependencyFlags, barriers []ImageBarrier)
	CmdCopyBuffer(cb CommandBuffer, src, dst Buffer, regions []BufferCopy)
	CmdBeginRenderPass(cb CommandBuffer, info RenderPassBeginInfo, contents SubpassContents)
	CmdEndRenderPass(CommandBuffer)
	CmdBindVertexBuffers(cb CommandBuffer, first uint32, buffers []Buffer, offsets []uint64)

	CreateSemaphore() (Semaphore, error)
	DestroySemaphore(Semaphore)
	CreateFence(signaled bool) (Fence, error)
	DestroyFence(Fence)
	WaitForFences(fences []Fence, waitAll bool, timeout uint64) error
	ResetFences([]Fence) error

	GetQueue(family, index uint32) Queue
	QueueSubmit(q Queue, submits []SubmitInfo, fence Fence) error
	QueueWaitIdle(Queue) error
	DeviceWaitIdle() error

	SurfaceSupport(family uint32, s Surface) (bool, error)
	SurfaceCapabilities(Surface) (SurfaceCapabilities, error)
	SurfaceFormats(Surface) ([]SurfaceFormat, error)
	SurfacePresentModes(Surface) ([]PresentMode, error)
	DestroySurface(Surface)

	CreateSwapchain(SwapchainCreateInfo) (Swapchain, error)
	DestroySwapchain(Swapchain)
	SwapchainImages(Swapchain) ([]Image, error)
	AcquireNextImage(sc Swapchain, timeout uint64, s Semaphore) (uint32, Result)
	QueuePresent(q Queue, info PresentInfo) Result

	Destroy()
}

// PhysicalDeviceInfo describes available physical properties of a rendering device
type PhysicalDeviceInfo struct {
	Index         int
	ID            int
	VendorID      int
	DriverVersion int
	Name          string
	Invalid       bool
	Extensions    []string
	Layers        []string
	Memory        uint64
	QueueFamilies []QueueFamily
}

// Instance describes a graphics API instance and supporting methods.
// Once created it is ready to use.
type Instance interface {
	// PhysicalDevicesInfo returns a struct for each physical device
	// along with info about those devices
	PhysicalDevicesInfo() []PhysicalDeviceInfo

	// Extensions returns enabled instance extensions
	Extensions() []string

	// Inner returns the inner handle of the underlying API
	Inner() interface{}

	// Destroy destroys internal members
	Destroy()
}
