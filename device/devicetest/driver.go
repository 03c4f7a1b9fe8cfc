// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package devicetest provides an in-memory device.Driver for tests.
// Memory is plain byte slices, buffer copies recorded into command
// buffers run when they are submitted, fences are signaled by the
// submissions that carry them and acquire/present results can be
// scripted. Every call is logged by name.
package devicetest

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/devblok/kframe/core"
	"github.com/devblok/kframe/device"
)

// Op is one recorded command
type Op struct {
	Name       string
	Barriers   []device.ImageBarrier
	SrcStage   device.PipelineStage
	DstStage   device.PipelineStage
	Dependency device.DependencyFlags
	Src, Dst   device.Buffer
	Regions    []device.BufferCopy
	Begin      device.RenderPassBeginInfo
	Buffers    []device.Buffer
}

type buffer struct {
	size   uint64
	usage  device.BufferUsage
	memory device.Memory
	offset uint64
}

type image struct {
	info      device.ImageCreateInfo
	memory    device.Memory
	offset    uint64
	swapchain bool
}

type commandBuffer struct {
	pool      device.CommandPool
	recording bool
	usage     device.CommandBufferUsage
	ops       []Op
}

type swapchain struct {
	info   device.SwapchainCreateInfo
	images []device.Image
	next   uint32
}

// Driver implements device.Driver in memory
type Driver struct {
	mutex sync.Mutex
	next  uint64

	// Inputs, set before use
	Types          []device.MemoryType
	Families       []device.QueueFamily
	NoPresent      map[uint32]bool
	Capabilities   device.SurfaceCapabilities
	Formats        []device.SurfaceFormat
	PresentModes   []device.PresentMode
	ImageCount     uint32
	AcquireResults []device.Result
	PresentResults []device.Result
	Alignment      uint64
	FailCreate     map[string]bool

	memories       map[device.Memory][]byte
	mapped         map[device.Memory]bool
	buffers        map[device.Buffer]*buffer
	images         map[device.Image]*image
	views          map[device.ImageView]device.ImageViewCreateInfo
	renderPasses   map[device.RenderPass]device.RenderPassCreateInfo
	framebuffers   map[device.Framebuffer]device.FramebufferCreateInfo
	pools          map[device.CommandPool]uint32
	commandBuffers map[device.CommandBuffer]*commandBuffer
	semaphores     map[device.Semaphore]bool
	fences         map[device.Fence]bool
	swapchains     map[device.Swapchain]*swapchain
	surfaces       map[device.Surface]bool

	calls    []string
	submits  []device.SubmitInfo
	presents []device.PresentInfo
}

// New returns a driver with a device local and a host visible memory type,
// a universal queue family with four queues, a transfer only family and a
// surface of 800x600 supporting two to eight images.
func New() *Driver {
	return &Driver{
		Types: []device.MemoryType{
			{Properties: device.MemoryPropertyDeviceLocal},
			{Properties: device.MemoryPropertyHostVisible | device.MemoryPropertyHostCoherent},
		},
		Families: []device.QueueFamily{
			{Flags: device.QueueGraphics | device.QueueCompute | device.QueueTransfer, Count: 4},
			{Flags: device.QueueTransfer, Count: 1},
		},
		Capabilities: device.SurfaceCapabilities{
			MinImageCount:       2,
			MaxImageCount:       8,
			CurrentExtent:       device.Extent2D{Width: 800, Height: 600},
			MinImageExtent:      device.Extent2D{Width: 1, Height: 1},
			MaxImageExtent:      device.Extent2D{Width: 4096, Height: 4096},
			MaxImageArrayLayers: 1,
			SupportedTransforms: device.SurfaceTransformIdentity,
			CurrentTransform:    device.SurfaceTransformIdentity,
			CompositeAlpha:      device.CompositeAlphaOpaque,
			SupportedUsage:      device.ImageUsageColorAttachment | device.ImageUsageTransferDst,
		},
		Formats:      []device.SurfaceFormat{{Format: device.FormatB8g8r8a8Unorm, ColorSpace: device.ColorSpaceSrgbNonlinear}},
		PresentModes: []device.PresentMode{device.PresentModeFifo, device.PresentModeMailbox},
		Alignment:    256,
		FailCreate:   map[string]bool{},

		memories:       map[device.Memory][]byte{},
		mapped:         map[device.Memory]bool{},
		buffers:        map[device.Buffer]*buffer{},
		images:         map[device.Image]*image{},
		views:          map[device.ImageView]device.ImageViewCreateInfo{},
		renderPasses:   map[device.RenderPass]device.RenderPassCreateInfo{},
		framebuffers:   map[device.Framebuffer]device.FramebufferCreateInfo{},
		pools:          map[device.CommandPool]uint32{},
		commandBuffers: map[device.CommandBuffer]*commandBuffer{},
		semaphores:     map[device.Semaphore]bool{},
		fences:         map[device.Fence]bool{},
		swapchains:     map[device.Swapchain]*swapchain{},
		surfaces:       map[device.Surface]bool{},
	}
}

func (d *Driver) handle(call string) uint64 {
	d.calls = append(d.calls, call)
	d.next++
	return d.next
}

func (d *Driver) call(name string) {
	d.calls = append(d.calls, name)
}

func (d *Driver) fail(call string) error {
	if d.FailCreate[call] {
		return errors.Wrapf(core.ErrDevice, "%s: %s", call, device.ErrorOutOfDeviceMemory)
	}
	return nil
}

func (d *Driver) requirements(size uint64) device.MemoryRequirements {
	return device.MemoryRequirements{
		Size:           size,
		Alignment:      d.Alignment,
		MemoryTypeBits: 1<<uint(len(d.Types)) - 1,
	}
}

// MemoryTypes implements device.Driver
func (d *Driver) MemoryTypes() []device.MemoryType {
	return d.Types
}

// QueueFamilies implements device.Driver
func (d *Driver) QueueFamilies() []device.QueueFamily {
	return d.Families
}

// AllocateMemory implements device.Driver
func (d *Driver) AllocateMemory(size uint64, typeIndex uint32) (device.Memory, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.fail("AllocateMemory"); err != nil {
		return 0, err
	}
	if int(typeIndex) >= len(d.Types) {
		return 0, errors.Wrapf(core.ErrDevice, "AllocateMemory: memory type %d out of range", typeIndex)
	}
	m := device.Memory(d.handle("AllocateMemory"))
	d.memories[m] = make([]byte, size)
	return m, nil
}

// FreeMemory implements device.Driver
func (d *Driver) FreeMemory(m device.Memory) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.call("FreeMemory")
	delete(d.memories, m)
	delete(d.mapped, m)
}

// MapMemory implements device.Driver
func (d *Driver) MapMemory(m device.Memory, offset, size uint64) ([]byte, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.call("MapMemory")
	mem, ok := d.memories[m]
	if !ok {
		return nil, errors.Wrap(core.ErrDevice, "MapMemory: unknown memory")
	}
	if d.mapped[m] {
		return nil, errors.Wrap(core.ErrDevice, "MapMemory: memory already mapped")
	}
	if offset+size > uint64(len(mem)) {
		return nil, errors.Wrapf(core.ErrDevice, "MapMemory: range %d+%d exceeds %d", offset, size, len(mem))
	}
	d.mapped[m] = true
	return mem[offset : offset+size], nil
}

// UnmapMemory implements device.Driver
func (d *Driver) UnmapMemory(m device.Memory) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.call("UnmapMemory")
	delete(d.mapped, m)
}

// CreateBuffer implements device.Driver
func (d *Driver) CreateBuffer(size uint64, usage device.BufferUsage) (device.Buffer, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.fail("CreateBuffer"); err != nil {
		return 0, err
	}
	if size == 0 {
		return 0, errors.Wrap(core.ErrDevice, "CreateBuffer: zero size")
	}
	b := device.Buffer(d.handle("CreateBuffer"))
	d.buffers[b] = &buffer{size: size, usage: usage}
	return b, nil
}

// DestroyBuffer implements device.Driver
func (d *Driver) DestroyBuffer(b device.Buffer) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.call("DestroyBuffer")
	delete(d.buffers, b)
}

// BufferMemoryRequirements implements device.Driver
func (d *Driver) BufferMemoryRequirements(b device.Buffer) device.MemoryRequirements {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if buf, ok := d.buffers[b]; ok {
		return d.requirements(buf.size)
	}
	return device.MemoryRequirements{}
}

// BindBufferMemory implements device.Driver
func (d *Driver) BindBufferMemory(b device.Buffer, m device.Memory, offset uint64) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.call("BindBufferMemory")
	buf, ok := d.buffers[b]
	if !ok {
		return errors.Wrap(core.ErrDevice, "BindBufferMemory: unknown buffer")
	}
	mem, ok := d.memories[m]
	if !ok || offset+buf.size > uint64(len(mem)) {
		return errors.Wrap(core.ErrDevice, "BindBufferMemory: memory range invalid")
	}
	buf.memory, buf.offset = m, offset
	return nil
}

// CreateImage implements device.Driver
func (d *Driver) CreateImage(info device.ImageCreateInfo) (device.Image, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.fail("CreateImage"); err != nil {
		return 0, err
	}
	img := device.Image(d.handle("CreateImage"))
	d.images[img] = &image{info: info}
	return img, nil
}

// DestroyImage implements device.Driver
func (d *Driver) DestroyImage(img device.Image) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.call("DestroyImage")
	delete(d.images, img)
}

// ImageMemoryRequirements implements device.Driver
func (d *Driver) ImageMemoryRequirements(img device.Image) device.MemoryRequirements {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if i, ok := d.images[img]; ok {
		e := i.info.Extent
		layers := uint64(i.info.ArrayLayers)
		if layers == 0 {
			layers = 1
		}
		return d.requirements(uint64(e.Width) * uint64(e.Height) * uint64(e.Depth) * layers * 4)
	}
	return device.MemoryRequirements{}
}

// BindImageMemory implements device.Driver
func (d *Driver) BindImageMemory(img device.Image, m device.Memory, offset uint64) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.call("BindImageMemory")
	i, ok := d.images[img]
	if !ok {
		return errors.Wrap(core.ErrDevice, "BindImageMemory: unknown image")
	}
	if _, ok := d.memories[m]; !ok {
		return errors.Wrap(core.ErrDevice, "BindImageMemory: unknown memory")
	}
	i.memory, i.offset = m, offset
	return nil
}

// ImageSubresourceLayout implements device.Driver
func (d *Driver) ImageSubresourceLayout(img device.Image, aspect device.ImageAspect, mipLevel, arrayLayer uint32) device.SubresourceLayout {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	i, ok := d.images[img]
	if !ok {
		return device.SubresourceLayout{}
	}
	e := i.info.Extent
	row := uint64(e.Width) * 4
	slice := row * uint64(e.Height)
	return device.SubresourceLayout{
		Offset:     slice * uint64(e.Depth) * uint64(arrayLayer),
		Size:       slice * uint64(e.Depth),
		RowPitch:   row,
		ArrayPitch: slice * uint64(e.Depth),
		DepthPitch: slice,
	}
}

// CreateImageView implements device.Driver
func (d *Driver) CreateImageView(info device.ImageViewCreateInfo) (device.ImageView, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, ok := d.images[info.Image]; !ok {
		return 0, errors.Wrap(core.ErrDevice, "CreateImageView: unknown image")
	}
	v := device.ImageView(d.handle("CreateImageView"))
	d.views[v] = info
	return v, nil
}

// DestroyImageView implements device.Driver
func (d *Driver) DestroyImageView(v device.ImageView) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.call("DestroyImageView")
	delete(d.views, v)
}

// CreateRenderPass implements device.Driver
func (d *Driver) CreateRenderPass(info device.RenderPassCreateInfo) (device.RenderPass, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	rp := device.RenderPass(d.handle("CreateRenderPass"))
	d.renderPasses[rp] = info
	return rp, nil
}

// DestroyRenderPass implements device.Driver
func (d *Driver) DestroyRenderPass(rp device.RenderPass) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.call("DestroyRenderPass")
	delete(d.renderPasses, rp)
}

// CreateFramebuffer implements device.Driver
func (d *Driver) CreateFramebuffer(info device.FramebufferCreateInfo) (device.Framebuffer, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, ok := d.renderPasses[info.RenderPass]; !ok {
		return 0, errors.Wrap(core.ErrDevice, "CreateFramebuffer: unknown render pass")
	}
	for _, v := range info.Attachments {
		if _, ok := d.views[v]; !ok {
			return 0, errors.Wrap(core.ErrDevice, "CreateFramebuffer: unknown image view")
		}
	}
	fb := device.Framebuffer(d.handle("CreateFramebuffer"))
	d.framebuffers[fb] = info
	return fb, nil
}

// DestroyFramebuffer implements device.Driver
func (d *Driver) DestroyFramebuffer(fb device.Framebuffer) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.call("DestroyFramebuffer")
	delete(d.framebuffers, fb)
}

// CreateCommandPool implements device.Driver
func (d *Driver) CreateCommandPool(family uint32) (device.CommandPool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	p := device.CommandPool(d.handle("CreateCommandPool"))
	d.pools[p] = family
	return p, nil
}

// DestroyCommandPool implements device.Driver
func (d *Driver) DestroyCommandPool(p device.CommandPool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.call("DestroyCommandPool")
	delete(d.pools, p)
	for h, cb := range d.commandBuffers {
		if cb.pool == p {
			delete(d.commandBuffers, h)
		}
	}
}

// AllocateCommandBuffers implements device.Driver
func (d *Driver) AllocateCommandBuffers(pool device.CommandPool, level device.CommandBufferLevel, count uint32) ([]device.CommandBuffer, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, ok := d.pools[pool]; !ok {
		return nil, errors.Wrap(core.ErrDevice, "AllocateCommandBuffers: unknown pool")
	}
	d.call("AllocateCommandBuffers")
	out := make([]device.CommandBuffer, count)
	for i := range out {
		d.next++
		out[i] = device.CommandBuffer(d.next)
		d.commandBuffers[out[i]] = &commandBuffer{pool: pool}
	}
	return out, nil
}

// FreeCommandBuffers implements device.Driver
func (d *Driver) FreeCommandBuffers(pool device.CommandPool, buffers []device.CommandBuffer) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.call("FreeCommandBuffers")
	for _, cb := range buffers {
		delete(d.commandBuffers, cb)
	}
}

// BeginCommandBuffer implements device.Driver
func (d *Driver) BeginCommandBuffer(cb device.CommandBuffer, usage device.CommandBufferUsage) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.call("BeginCommandBuffer")
	c, ok := d.commandBuffers[cb]
	if !ok {
		return errors.Wrap(core.ErrDevice, "BeginCommandBuffer: unknown command buffer")
	}
	if c.recording {
		return errors.Wrap(core.ErrDevice, "BeginCommandBuffer: already recording")
	}
	c.recording, c.usage, c.ops = true, usage, nil
	return nil
}

// EndCommandBuffer implements device.Driver
func (d *Driver) EndCommandBuffer(cb device.CommandBuffer) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.call("EndCommandBuffer")
	c, ok := d.commandBuffers[cb]
	if !ok || !c.recording {
		return errors.Wrap(core.ErrDevice, "EndCommandBuffer: not recording")
	}
	c.recording = false
	return nil
}

func (d *Driver) record(cb device.CommandBuffer, op Op) {
	d.call(op.Name)
	if c, ok := d.commandBuffers[cb]; ok && c.recording {
		c.ops = append(c.ops, op)
	}
}

// CmdPipelineBarrier implements device.Driver
func (d *Driver) CmdPipelineBarrier(cb device.CommandBuffer, src, dst device.PipelineStage, dependency device.DependencyFlags, barriers []device.ImageBarrier) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.record(cb, Op{
		Name:       "CmdPipelineBarrier",
		SrcStage:   src,
		DstStage:   dst,
		Dependency: dependency,
		Barriers:   append([]device.ImageBarrier(nil), barriers...),
	})
}

// CmdCopyBuffer implements device.Driver
func (d *Driver) CmdCopyBuffer(cb device.CommandBuffer, src, dst device.Buffer, regions []device.BufferCopy) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.record(cb, Op{
		Name:    "CmdCopyBuffer",
		Src:     src,
		Dst:     dst,
		Regions: append([]device.BufferCopy(nil), regions...),
	})
}

// CmdBeginRenderPass implements device.Driver
func (d *Driver) CmdBeginRenderPass(cb device.CommandBuffer, info device.RenderPassBeginInfo, contents device.SubpassContents) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.record(cb, Op{Name: "CmdBeginRenderPass", Begin: info})
}

// CmdEndRenderPass implements device.Driver
func (d *Driver) CmdEndRenderPass(cb device.CommandBuffer) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.record(cb, Op{Name: "CmdEndRenderPass"})
}

// CmdBindVertexBuffers implements device.Driver
func (d *Driver) CmdBindVertexBuffers(cb device.CommandBuffer, first uint32, buffers []device.Buffer, offsets []uint64) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.record(cb, Op{Name: "CmdBindVertexBuffers", Buffers: append([]device.Buffer(nil), buffers...)})
}

// CreateSemaphore implements device.Driver
func (d *Driver) CreateSemaphore() (device.Semaphore, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	s := device.Semaphore(d.handle("CreateSemaphore"))
	d.semaphores[s] = true
	return s, nil
}

// DestroySemaphore implements device.Driver
func (d *Driver) DestroySemaphore(s device.Semaphore) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.call("DestroySemaphore")
	delete(d.semaphores, s)
}

// CreateFence implements device.Driver
func (d *Driver) CreateFence(signaled bool) (device.Fence, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	f := device.Fence(d.handle("CreateFence"))
	d.fences[f] = signaled
	return f, nil
}

// DestroyFence implements device.Driver
func (d *Driver) DestroyFence(f device.Fence) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.call("DestroyFence")
	delete(d.fences, f)
}

// WaitForFences implements device.Driver. An unsignaled fence would never
// be signaled since submissions complete immediately, so it is an error.
func (d *Driver) WaitForFences(fences []device.Fence, waitAll bool, timeout uint64) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.call("WaitForFences")
	for _, f := range fences {
		signaled, ok := d.fences[f]
		if !ok {
			return errors.Wrap(core.ErrDevice, "WaitForFences: unknown fence")
		}
		if !signaled {
			return errors.Wrapf(core.ErrDevice, "WaitForFences: fence %d would block forever", f)
		}
	}
	return nil
}

// ResetFences implements device.Driver
func (d *Driver) ResetFences(fences []device.Fence) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.call("ResetFences")
	for _, f := range fences {
		if _, ok := d.fences[f]; !ok {
			return errors.Wrap(core.ErrDevice, "ResetFences: unknown fence")
		}
		d.fences[f] = false
	}
	return nil
}

// GetQueue implements device.Driver
func (d *Driver) GetQueue(family, index uint32) device.Queue {
	return device.Queue(uint64(family+1)<<32 | uint64(index))
}

// QueueSubmit implements device.Driver. Recorded buffer copies are executed.
func (d *Driver) QueueSubmit(q device.Queue, submits []device.SubmitInfo, fence device.Fence) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.call("QueueSubmit")
	for _, s := range submits {
		for _, sem := range append(append([]device.Semaphore(nil), s.WaitSemaphores...), s.SignalSemaphores...) {
			if _, ok := d.semaphores[sem]; !ok {
				return errors.Wrap(core.ErrDevice, "QueueSubmit: unknown semaphore")
			}
		}
		for _, cb := range s.CommandBuffers {
			c, ok := d.commandBuffers[cb]
			if !ok || c.recording {
				return errors.Wrapf(core.ErrDevice, "QueueSubmit: command buffer %d not executable", cb)
			}
			for _, op := range c.ops {
				if op.Name == "CmdCopyBuffer" {
					if err := d.copyBuffer(op); err != nil {
						return err
					}
				}
			}
		}
		d.submits = append(d.submits, s)
	}
	if fence != 0 {
		if _, ok := d.fences[fence]; !ok {
			return errors.Wrap(core.ErrDevice, "QueueSubmit: unknown fence")
		}
		d.fences[fence] = true
	}
	return nil
}

func (d *Driver) copyBuffer(op Op) error {
	src, dst := d.buffers[op.Src], d.buffers[op.Dst]
	if src == nil || dst == nil || src.memory == 0 || dst.memory == 0 {
		return errors.Wrap(core.ErrDevice, "CmdCopyBuffer: unbound buffer")
	}
	for _, r := range op.Regions {
		if r.SrcOffset+r.Size > src.size || r.DstOffset+r.Size > dst.size {
			return errors.Wrap(core.ErrDevice, "CmdCopyBuffer: region out of range")
		}
		from := d.memories[src.memory][src.offset+r.SrcOffset:]
		to := d.memories[dst.memory][dst.offset+r.DstOffset:]
		copy(to[:r.Size], from[:r.Size])
	}
	return nil
}

// QueueWaitIdle implements device.Driver
func (d *Driver) QueueWaitIdle(q device.Queue) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.call("QueueWaitIdle")
	return nil
}

// DeviceWaitIdle implements device.Driver
func (d *Driver) DeviceWaitIdle() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.call("DeviceWaitIdle")
	return nil
}

// SurfaceSupport implements device.Driver
func (d *Driver) SurfaceSupport(family uint32, s device.Surface) (bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return !d.NoPresent[family], nil
}

// SurfaceCapabilities implements device.Driver
func (d *Driver) SurfaceCapabilities(s device.Surface) (device.SurfaceCapabilities, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.Capabilities, nil
}

// SurfaceFormats implements device.Driver
func (d *Driver) SurfaceFormats(s device.Surface) ([]device.SurfaceFormat, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.Formats, nil
}

// SurfacePresentModes implements device.Driver
func (d *Driver) SurfacePresentModes(s device.Surface) ([]device.PresentMode, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.PresentModes, nil
}

// DestroySurface implements device.Driver
func (d *Driver) DestroySurface(s device.Surface) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.call("DestroySurface")
	d.surfaces[s] = true
}

// CreateSwapchain implements device.Driver
func (d *Driver) CreateSwapchain(info device.SwapchainCreateInfo) (device.Swapchain, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.fail("CreateSwapchain"); err != nil {
		return 0, err
	}
	if info.OldSwapchain != 0 {
		if _, ok := d.swapchains[info.OldSwapchain]; !ok {
			return 0, errors.Wrap(core.ErrDevice, "CreateSwapchain: old swapchain already destroyed")
		}
	}
	sc := device.Swapchain(d.handle("CreateSwapchain"))
	count := d.ImageCount
	if count == 0 {
		count = info.MinImageCount
	}
	s := &swapchain{info: info}
	for i := uint32(0); i < count; i++ {
		d.next++
		img := device.Image(d.next)
		d.images[img] = &image{
			info: device.ImageCreateInfo{
				Type:        device.ImageType2D,
				Format:      info.Format,
				Extent:      device.Extent3D{Width: info.Extent.Width, Height: info.Extent.Height, Depth: 1},
				MipLevels:   1,
				ArrayLayers: info.ArrayLayers,
				Usage:       info.Usage,
			},
			swapchain: true,
		}
		s.images = append(s.images, img)
	}
	d.swapchains[sc] = s
	return sc, nil
}

// DestroySwapchain implements device.Driver
func (d *Driver) DestroySwapchain(sc device.Swapchain) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.call("DestroySwapchain")
	if s, ok := d.swapchains[sc]; ok {
		for _, img := range s.images {
			delete(d.images, img)
		}
		delete(d.swapchains, sc)
	}
}

// SwapchainImages implements device.Driver
func (d *Driver) SwapchainImages(sc device.Swapchain) ([]device.Image, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	s, ok := d.swapchains[sc]
	if !ok {
		return nil, errors.Wrap(core.ErrDevice, "SwapchainImages: unknown swapchain")
	}
	return append([]device.Image(nil), s.images...), nil
}

// AcquireNextImage implements device.Driver. Scripted results are used
// first, then images are handed out round robin.
func (d *Driver) AcquireNextImage(sc device.Swapchain, timeout uint64, sem device.Semaphore) (uint32, device.Result) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.call("AcquireNextImage")
	if len(d.AcquireResults) > 0 {
		r := d.AcquireResults[0]
		d.AcquireResults = d.AcquireResults[1:]
		if r != device.Success {
			return 0, r
		}
	}
	s, ok := d.swapchains[sc]
	if !ok {
		return 0, device.ErrorSurfaceLost
	}
	idx := s.next
	s.next = (s.next + 1) % uint32(len(s.images))
	return idx, device.Success
}

// QueuePresent implements device.Driver
func (d *Driver) QueuePresent(q device.Queue, info device.PresentInfo) device.Result {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.call("QueuePresent")
	d.presents = append(d.presents, info)
	if len(d.PresentResults) > 0 {
		r := d.PresentResults[0]
		d.PresentResults = d.PresentResults[1:]
		return r
	}
	return device.Success
}

// Destroy implements device.Driver
func (d *Driver) Destroy() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.call("Destroy")
}

// Calls returns the names of all calls made so far, in order
func (d *Driver) Calls() []string {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return append([]string(nil), d.calls...)
}

// Count returns how many times the named call was made
func (d *Driver) Count(name string) int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	n := 0
	for _, c := range d.calls {
		if c == name {
			n++
		}
	}
	return n
}

// ResetCalls forgets the call log, submissions and presentations
func (d *Driver) ResetCalls() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.calls, d.submits, d.presents = nil, nil, nil
}

// Submits returns all queue submissions in order
func (d *Driver) Submits() []device.SubmitInfo {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return append([]device.SubmitInfo(nil), d.submits...)
}

// Presents returns all presentations in order
func (d *Driver) Presents() []device.PresentInfo {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return append([]device.PresentInfo(nil), d.presents...)
}

// BufferSize returns the size a buffer was created with
func (d *Driver) BufferSize(b device.Buffer) uint64 {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if buf, ok := d.buffers[b]; ok {
		return buf.size
	}
	return 0
}

// BufferUsage returns the usage a buffer was created with
func (d *Driver) BufferUsage(b device.Buffer) device.BufferUsage {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if buf, ok := d.buffers[b]; ok {
		return buf.usage
	}
	return 0
}

// BufferContents returns a copy of the memory bound to a buffer
func (d *Driver) BufferContents(b device.Buffer) []byte {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	buf, ok := d.buffers[b]
	if !ok || buf.memory == 0 {
		return nil
	}
	mem := d.memories[buf.memory]
	return append([]byte(nil), mem[buf.offset:buf.offset+buf.size]...)
}

// ImageInfo returns the create info of an image
func (d *Driver) ImageInfo(img device.Image) (device.ImageCreateInfo, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	i, ok := d.images[img]
	if !ok {
		return device.ImageCreateInfo{}, false
	}
	return i.info, true
}

// ViewInfo returns the create info of an image view
func (d *Driver) ViewInfo(v device.ImageView) (device.ImageViewCreateInfo, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	info, ok := d.views[v]
	return info, ok
}

// FramebufferInfo returns the create info of a framebuffer
func (d *Driver) FramebufferInfo(fb device.Framebuffer) (device.FramebufferCreateInfo, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	info, ok := d.framebuffers[fb]
	return info, ok
}

// SwapchainInfo returns the create info of a swapchain
func (d *Driver) SwapchainInfo(sc device.Swapchain) (device.SwapchainCreateInfo, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	s, ok := d.swapchains[sc]
	if !ok {
		return device.SwapchainCreateInfo{}, false
	}
	return s.info, true
}

// Ops returns the commands last recorded into cb
func (d *Driver) Ops(cb device.CommandBuffer) []Op {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if c, ok := d.commandBuffers[cb]; ok {
		return append([]Op(nil), c.ops...)
	}
	return nil
}

// Live returns the number of live objects of a kind: "buffer", "memory",
// "image", "view", "framebuffer", "renderpass", "pool", "commandbuffer",
// "semaphore", "fence" or "swapchain".
func (d *Driver) Live(kind string) int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	switch kind {
	case "buffer":
		return len(d.buffers)
	case "memory":
		return len(d.memories)
	case "image":
		n := 0
		for _, i := range d.images {
			if !i.swapchain {
				n++
			}
		}
		return n
	case "view":
		return len(d.views)
	case "framebuffer":
		return len(d.framebuffers)
	case "renderpass":
		return len(d.renderPasses)
	case "pool":
		return len(d.pools)
	case "commandbuffer":
		return len(d.commandBuffers)
	case "semaphore":
		return len(d.semaphores)
	case "fence":
		return len(d.fences)
	case "swapchain":
		return len(d.swapchains)
	}
	panic(fmt.Sprintf("devicetest: unknown object kind %q", kind))
}

// SurfaceDestroyed reports whether DestroySurface was called for s
func (d *Driver) SurfaceDestroyed(s device.Surface) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.surfaces[s]
}

// SetExtent changes the current extent reported for surfaces
func (d *Driver) SetExtent(width, height uint32) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.Capabilities.CurrentExtent = device.Extent2D{Width: width, Height: height}
}

// ScriptAcquire queues results for the next AcquireNextImage calls
func (d *Driver) ScriptAcquire(results ...device.Result) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.AcquireResults = append(d.AcquireResults, results...)
}

// ScriptPresent queues results for the next QueuePresent calls
func (d *Driver) ScriptPresent(results ...device.Result) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.PresentResults = append(d.PresentResults, results...)
}

var _ device.Driver = (*Driver)(nil)
