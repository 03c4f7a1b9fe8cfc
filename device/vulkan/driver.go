// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"sync"
	"unsafe"

	vk "github.com/devblok/vulkan"
	log "github.com/sirupsen/logrus"

	"github.com/devblok/kframe/device"
	"github.com/devblok/kframe/util/registry"
)

type renderPass struct {
	pass    vk.RenderPass
	formats []device.Format
}

type swapchain struct {
	swapchain vk.Swapchain
	images    []device.Image
}

// Driver implements device.Driver on a Vulkan logical device
type Driver struct {
	instance *Instance
	physical vk.PhysicalDevice
	device   vk.Device
	types    []device.MemoryType
	families []device.QueueFamily

	memories     table[device.Memory, vk.DeviceMemory]
	buffers      table[device.Buffer, vk.Buffer]
	images       table[device.Image, vk.Image]
	views        table[device.ImageView, vk.ImageView]
	renderPasses table[device.RenderPass, renderPass]
	framebuffers table[device.Framebuffer, vk.Framebuffer]
	pools        table[device.CommandPool, vk.CommandPool]
	commands     table[device.CommandBuffer, vk.CommandBuffer]
	semaphores   table[device.Semaphore, vk.Semaphore]
	fences       table[device.Fence, vk.Fence]
	queues       table[device.Queue, vk.Queue]
	swapchains   table[device.Swapchain, swapchain]

	queueLock  sync.Mutex
	queueIndex registry.Registry[[2]uint32, device.Queue]
}

func check(r vk.Result, call string) error {
	return device.Result(r).Err(call)
}

func bool32(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}

// MemoryTypes implements device.Driver
func (d *Driver) MemoryTypes() []device.MemoryType {
	return d.types
}

// QueueFamilies implements device.Driver
func (d *Driver) QueueFamilies() []device.QueueFamily {
	return d.families
}

// AllocateMemory implements device.Driver
func (d *Driver) AllocateMemory(size uint64, typeIndex uint32) (device.Memory, error) {
	mai := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(size),
		MemoryTypeIndex: typeIndex,
	}
	var memory vk.DeviceMemory
	if err := check(vk.AllocateMemory(d.device, &mai, nil, &memory), "vk.AllocateMemory()"); err != nil {
		return 0, err
	}
	return d.memories.add(memory), nil
}

// FreeMemory implements device.Driver
func (d *Driver) FreeMemory(m device.Memory) {
	if memory, ok := d.memories.remove(m); ok {
		vk.FreeMemory(d.device, memory, nil)
	}
}

// MapMemory implements device.Driver
func (d *Driver) MapMemory(m device.Memory, offset, size uint64) ([]byte, error) {
	var mapped unsafe.Pointer
	r := vk.MapMemory(d.device, d.memories.get(m), vk.DeviceSize(offset), vk.DeviceSize(size), 0, &mapped)
	if err := check(r, "vk.MapMemory()"); err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(mapped), size), nil
}

// UnmapMemory implements device.Driver
func (d *Driver) UnmapMemory(m device.Memory) {
	vk.UnmapMemory(d.device, d.memories.get(m))
}

// CreateBuffer implements device.Driver
func (d *Driver) CreateBuffer(size uint64, usage device.BufferUsage) (device.Buffer, error) {
	bci := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var buffer vk.Buffer
	if err := check(vk.CreateBuffer(d.device, &bci, nil, &buffer), "vk.CreateBuffer()"); err != nil {
		return 0, err
	}
	return d.buffers.add(buffer), nil
}

// DestroyBuffer implements device.Driver
func (d *Driver) DestroyBuffer(b device.Buffer) {
	if buffer, ok := d.buffers.remove(b); ok {
		vk.DestroyBuffer(d.device, buffer, nil)
	}
}

func memoryRequirements(r vk.MemoryRequirements) device.MemoryRequirements {
	r.Deref()
	return device.MemoryRequirements{
		Size:           uint64(r.Size),
		Alignment:      uint64(r.Alignment),
		MemoryTypeBits: r.MemoryTypeBits,
	}
}

// BufferMemoryRequirements implements device.Driver
func (d *Driver) BufferMemoryRequirements(b device.Buffer) device.MemoryRequirements {
	var r vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.device, d.buffers.get(b), &r)
	return memoryRequirements(r)
}

// BindBufferMemory implements device.Driver
func (d *Driver) BindBufferMemory(b device.Buffer, m device.Memory, offset uint64) error {
	return check(vk.BindBufferMemory(d.device, d.buffers.get(b), d.memories.get(m), vk.DeviceSize(offset)),
		"vk.BindBufferMemory()")
}

// CreateImage implements device.Driver
func (d *Driver) CreateImage(info device.ImageCreateInfo) (device.Image, error) {
	ici := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		Flags:     vk.ImageCreateFlags(info.Flags),
		ImageType: vk.ImageType(info.Type),
		Format:    vk.Format(info.Format),
		Extent: vk.Extent3D{
			Width:  info.Extent.Width,
			Height: info.Extent.Height,
			Depth:  info.Extent.Depth,
		},
		MipLevels:     info.MipLevels,
		ArrayLayers:   info.ArrayLayers,
		Samples:       vk.SampleCountFlagBits(info.Samples),
		Tiling:        vk.ImageTiling(info.Tiling),
		Usage:         vk.ImageUsageFlags(info.Usage),
		SharingMode:   vk.SharingMode(info.SharingMode),
		InitialLayout: vk.ImageLayout(info.InitialLayout),
	}
	var image vk.Image
	if err := check(vk.CreateImage(d.device, &ici, nil, &image), "vk.CreateImage()"); err != nil {
		return 0, err
	}
	return d.images.add(image), nil
}

// DestroyImage implements device.Driver
func (d *Driver) DestroyImage(i device.Image) {
	if image, ok := d.images.remove(i); ok {
		vk.DestroyImage(d.device, image, nil)
	}
}

// ImageMemoryRequirements implements device.Driver
func (d *Driver) ImageMemoryRequirements(i device.Image) device.MemoryRequirements {
	var r vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.device, d.images.get(i), &r)
	return memoryRequirements(r)
}

// BindImageMemory implements device.Driver
func (d *Driver) BindImageMemory(i device.Image, m device.Memory, offset uint64) error {
	return check(vk.BindImageMemory(d.device, d.images.get(i), d.memories.get(m), vk.DeviceSize(offset)),
		"vk.BindImageMemory()")
}

// ImageSubresourceLayout implements device.Driver
func (d *Driver) ImageSubresourceLayout(i device.Image, aspect device.ImageAspect, mipLevel, arrayLayer uint32) device.SubresourceLayout {
	var layout vk.SubresourceLayout
	vk.GetImageSubresourceLayout(d.device, d.images.get(i), &vk.ImageSubresource{
		AspectMask: vk.ImageAspectFlags(aspect),
		MipLevel:   mipLevel,
		ArrayLayer: arrayLayer,
	}, &layout)
	layout.Deref()
	return device.SubresourceLayout{
		Offset:     uint64(layout.Offset),
		Size:       uint64(layout.Size),
		RowPitch:   uint64(layout.RowPitch),
		ArrayPitch: uint64(layout.ArrayPitch),
		DepthPitch: uint64(layout.DepthPitch),
	}
}

func subresourceRange(r device.ImageSubresourceRange) vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     vk.ImageAspectFlags(r.Aspect),
		BaseMipLevel:   r.BaseMipLevel,
		LevelCount:     r.LevelCount,
		BaseArrayLayer: r.BaseArrayLayer,
		LayerCount:     r.LayerCount,
	}
}

// CreateImageView implements device.Driver
func (d *Driver) CreateImageView(info device.ImageViewCreateInfo) (device.ImageView, error) {
	ivci := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    d.images.get(info.Image),
		ViewType: vk.ImageViewType(info.Type),
		Format:   vk.Format(info.Format),
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: subresourceRange(info.Range),
	}
	var view vk.ImageView
	if err := check(vk.CreateImageView(d.device, &ivci, nil, &view), "vk.CreateImageView()"); err != nil {
		return 0, err
	}
	return d.views.add(view), nil
}

// DestroyImageView implements device.Driver
func (d *Driver) DestroyImageView(v device.ImageView) {
	if view, ok := d.views.remove(v); ok {
		vk.DestroyImageView(d.device, view, nil)
	}
}

func attachmentReferences(refs []device.AttachmentReference) []vk.AttachmentReference {
	out := make([]vk.AttachmentReference, len(refs))
	for i, r := range refs {
		out[i] = vk.AttachmentReference{
			Attachment: r.Attachment,
			Layout:     vk.ImageLayout(r.Layout),
		}
	}
	return out
}

// CreateRenderPass implements device.Driver. The pass has one graphics
// subpass that waits on color output of previous work.
func (d *Driver) CreateRenderPass(info device.RenderPassCreateInfo) (device.RenderPass, error) {
	attachments := make([]vk.AttachmentDescription, len(info.Attachments))
	formats := make([]device.Format, len(info.Attachments))
	for i, a := range info.Attachments {
		attachments[i] = vk.AttachmentDescription{
			Format:         vk.Format(a.Format),
			Samples:        vk.SampleCountFlagBits(a.Samples),
			LoadOp:         vk.AttachmentLoadOp(a.LoadOp),
			StoreOp:        vk.AttachmentStoreOp(a.StoreOp),
			StencilLoadOp:  vk.AttachmentLoadOp(a.StencilLoadOp),
			StencilStoreOp: vk.AttachmentStoreOp(a.StencilStoreOp),
			InitialLayout:  vk.ImageLayout(a.InitialLayout),
			FinalLayout:    vk.ImageLayout(a.FinalLayout),
		}
		formats[i] = a.Format
	}

	color := attachmentReferences(info.Color)
	input := attachmentReferences(info.Input)
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(color)),
		PColorAttachments:    color,
		InputAttachmentCount: uint32(len(input)),
		PInputAttachments:    input,
	}
	if info.DepthStencil != nil {
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: info.DepthStencil.Attachment,
			Layout:     vk.ImageLayout(info.DepthStencil.Layout),
		}
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
	}

	rpci := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}
	var pass vk.RenderPass
	if err := check(vk.CreateRenderPass(d.device, &rpci, nil, &pass), "vk.CreateRenderPass()"); err != nil {
		return 0, err
	}
	return d.renderPasses.add(renderPass{pass: pass, formats: formats}), nil
}

// DestroyRenderPass implements device.Driver
func (d *Driver) DestroyRenderPass(p device.RenderPass) {
	if rp, ok := d.renderPasses.remove(p); ok {
		vk.DestroyRenderPass(d.device, rp.pass, nil)
	}
}

// CreateFramebuffer implements device.Driver
func (d *Driver) CreateFramebuffer(info device.FramebufferCreateInfo) (device.Framebuffer, error) {
	views := lookup(&d.views, info.Attachments)
	fci := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      d.renderPasses.get(info.RenderPass).pass,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           info.Width,
		Height:          info.Height,
		Layers:          info.Layers,
	}
	var framebuffer vk.Framebuffer
	if err := check(vk.CreateFramebuffer(d.device, &fci, nil, &framebuffer), "vk.CreateFramebuffer()"); err != nil {
		return 0, err
	}
	return d.framebuffers.add(framebuffer), nil
}

// DestroyFramebuffer implements device.Driver
func (d *Driver) DestroyFramebuffer(f device.Framebuffer) {
	if framebuffer, ok := d.framebuffers.remove(f); ok {
		vk.DestroyFramebuffer(d.device, framebuffer, nil)
	}
}

// CreateCommandPool implements device.Driver. Buffers of the pool can be
// reset individually.
func (d *Driver) CreateCommandPool(family uint32) (device.CommandPool, error) {
	cpci := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if err := check(vk.CreateCommandPool(d.device, &cpci, nil, &pool), "vk.CreateCommandPool()"); err != nil {
		return 0, err
	}
	return d.pools.add(pool), nil
}

// DestroyCommandPool implements device.Driver
func (d *Driver) DestroyCommandPool(p device.CommandPool) {
	if pool, ok := d.pools.remove(p); ok {
		vk.DestroyCommandPool(d.device, pool, nil)
	}
}

// AllocateCommandBuffers implements device.Driver
func (d *Driver) AllocateCommandBuffers(pool device.CommandPool, level device.CommandBufferLevel, count uint32) ([]device.CommandBuffer, error) {
	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.pools.get(pool),
		Level:              vk.CommandBufferLevel(level),
		CommandBufferCount: count,
	}
	buffers := make([]vk.CommandBuffer, count)
	if err := check(vk.AllocateCommandBuffers(d.device, &cbai, buffers), "vk.AllocateCommandBuffers()"); err != nil {
		return nil, err
	}
	handles := make([]device.CommandBuffer, count)
	for i, cb := range buffers {
		handles[i] = d.commands.add(cb)
	}
	return handles, nil
}

// FreeCommandBuffers implements device.Driver
func (d *Driver) FreeCommandBuffers(pool device.CommandPool, buffers []device.CommandBuffer) {
	freed := make([]vk.CommandBuffer, 0, len(buffers))
	for _, b := range buffers {
		if cb, ok := d.commands.remove(b); ok {
			freed = append(freed, cb)
		}
	}
	if len(freed) > 0 {
		vk.FreeCommandBuffers(d.device, d.pools.get(pool), uint32(len(freed)), freed)
	}
}

// BeginCommandBuffer implements device.Driver
func (d *Driver) BeginCommandBuffer(cb device.CommandBuffer, usage device.CommandBufferUsage) error {
	cbbi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(usage),
	}
	return check(vk.BeginCommandBuffer(d.commands.get(cb), &cbbi), "vk.BeginCommandBuffer()")
}

// EndCommandBuffer implements device.Driver
func (d *Driver) EndCommandBuffer(cb device.CommandBuffer) error {
	return check(vk.EndCommandBuffer(d.commands.get(cb)), "vk.EndCommandBuffer()")
}

// CmdPipelineBarrier implements device.Driver
func (d *Driver) CmdPipelineBarrier(cb device.CommandBuffer, src, dst device.PipelineStage, dependency device.DependencyFlags, barriers []device.ImageBarrier) {
	imbs := make([]vk.ImageMemoryBarrier, len(barriers))
	for i, b := range barriers {
		imbs[i] = vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(b.SrcAccess),
			DstAccessMask:       vk.AccessFlags(b.DstAccess),
			OldLayout:           vk.ImageLayout(b.OldLayout),
			NewLayout:           vk.ImageLayout(b.NewLayout),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               d.images.get(b.Image),
			SubresourceRange:    subresourceRange(b.Range),
		}
	}
	vk.CmdPipelineBarrier(d.commands.get(cb), vk.PipelineStageFlags(src), vk.PipelineStageFlags(dst),
		vk.DependencyFlags(dependency), 0, nil, 0, nil, uint32(len(imbs)), imbs)
}

// CmdCopyBuffer implements device.Driver
func (d *Driver) CmdCopyBuffer(cb device.CommandBuffer, src, dst device.Buffer, regions []device.BufferCopy) {
	copies := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		}
	}
	vk.CmdCopyBuffer(d.commands.get(cb), d.buffers.get(src), d.buffers.get(dst), uint32(len(copies)), copies)
}

// CmdBeginRenderPass implements device.Driver. Clear values are
// interpreted by the format of the matching attachment.
func (d *Driver) CmdBeginRenderPass(cb device.CommandBuffer, info device.RenderPassBeginInfo, contents device.SubpassContents) {
	rp := d.renderPasses.get(info.RenderPass)
	clearValues := make([]vk.ClearValue, len(info.ClearValues))
	for i, cv := range info.ClearValues {
		if i < len(rp.formats) && rp.formats[i].DepthStencil() {
			clearValues[i].SetDepthStencil(cv.Depth, cv.Stencil)
			continue
		}
		clearValues[i].SetColor(cv.Color[:])
	}

	rpbi := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  rp.pass,
		Framebuffer: d.framebuffers.get(info.Framebuffer),
		RenderArea: vk.Rect2D{
			Extent: vk.Extent2D{
				Width:  info.Extent.Width,
				Height: info.Extent.Height,
			},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(d.commands.get(cb), &rpbi, vk.SubpassContents(contents))
}

// CmdEndRenderPass implements device.Driver
func (d *Driver) CmdEndRenderPass(cb device.CommandBuffer) {
	vk.CmdEndRenderPass(d.commands.get(cb))
}

// CmdBindVertexBuffers implements device.Driver
func (d *Driver) CmdBindVertexBuffers(cb device.CommandBuffer, first uint32, buffers []device.Buffer, offsets []uint64) {
	sizes := make([]vk.DeviceSize, len(offsets))
	for i, o := range offsets {
		sizes[i] = vk.DeviceSize(o)
	}
	vk.CmdBindVertexBuffers(d.commands.get(cb), first, uint32(len(buffers)), lookup(&d.buffers, buffers), sizes)
}

// CreateSemaphore implements device.Driver
func (d *Driver) CreateSemaphore() (device.Semaphore, error) {
	sci := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var semaphore vk.Semaphore
	if err := check(vk.CreateSemaphore(d.device, &sci, nil, &semaphore), "vk.CreateSemaphore()"); err != nil {
		return 0, err
	}
	return d.semaphores.add(semaphore), nil
}

// DestroySemaphore implements device.Driver
func (d *Driver) DestroySemaphore(s device.Semaphore) {
	if semaphore, ok := d.semaphores.remove(s); ok {
		vk.DestroySemaphore(d.device, semaphore, nil)
	}
}

// CreateFence implements device.Driver
func (d *Driver) CreateFence(signaled bool) (device.Fence, error) {
	fci := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		fci.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if err := check(vk.CreateFence(d.device, &fci, nil, &fence), "vk.CreateFence()"); err != nil {
		return 0, err
	}
	return d.fences.add(fence), nil
}

// DestroyFence implements device.Driver
func (d *Driver) DestroyFence(f device.Fence) {
	if fence, ok := d.fences.remove(f); ok {
		vk.DestroyFence(d.device, fence, nil)
	}
}

// WaitForFences implements device.Driver
func (d *Driver) WaitForFences(fences []device.Fence, waitAll bool, timeout uint64) error {
	fs := lookup(&d.fences, fences)
	return check(vk.WaitForFences(d.device, uint32(len(fs)), fs, bool32(waitAll), uint(timeout)), "vk.WaitForFences()")
}

// ResetFences implements device.Driver
func (d *Driver) ResetFences(fences []device.Fence) error {
	fs := lookup(&d.fences, fences)
	return check(vk.ResetFences(d.device, uint32(len(fs)), fs), "vk.ResetFences()")
}

// GetQueue implements device.Driver. Repeated calls return the same handle.
func (d *Driver) GetQueue(family, index uint32) device.Queue {
	d.queueLock.Lock()
	defer d.queueLock.Unlock()
	return d.queueIndex.GetOrCreate([2]uint32{family, index}, func() device.Queue {
		var queue vk.Queue
		vk.GetDeviceQueue(d.device, family, index, &queue)
		return d.queues.add(queue)
	})
}

// QueueSubmit implements device.Driver
func (d *Driver) QueueSubmit(q device.Queue, submits []device.SubmitInfo, fence device.Fence) error {
	infos := make([]vk.SubmitInfo, len(submits))
	for i, s := range submits {
		stages := make([]vk.PipelineStageFlags, len(s.WaitStages))
		for j, stage := range s.WaitStages {
			stages[j] = vk.PipelineStageFlags(stage)
		}
		infos[i] = vk.SubmitInfo{
			SType:                vk.StructureTypeSubmitInfo,
			WaitSemaphoreCount:   uint32(len(s.WaitSemaphores)),
			PWaitSemaphores:      lookup(&d.semaphores, s.WaitSemaphores),
			PWaitDstStageMask:    stages,
			CommandBufferCount:   uint32(len(s.CommandBuffers)),
			PCommandBuffers:      lookup(&d.commands, s.CommandBuffers),
			SignalSemaphoreCount: uint32(len(s.SignalSemaphores)),
			PSignalSemaphores:    lookup(&d.semaphores, s.SignalSemaphores),
		}
	}
	return check(vk.QueueSubmit(d.queues.get(q), uint32(len(infos)), infos, d.fences.get(fence)), "vk.QueueSubmit()")
}

// QueueWaitIdle implements device.Driver
func (d *Driver) QueueWaitIdle(q device.Queue) error {
	return check(vk.QueueWaitIdle(d.queues.get(q)), "vk.QueueWaitIdle()")
}

// DeviceWaitIdle implements device.Driver
func (d *Driver) DeviceWaitIdle() error {
	return check(vk.DeviceWaitIdle(d.device), "vk.DeviceWaitIdle()")
}

// SurfaceSupport implements device.Driver
func (d *Driver) SurfaceSupport(family uint32, s device.Surface) (bool, error) {
	var supported vk.Bool32
	r := vk.GetPhysicalDeviceSurfaceSupport(d.physical, family, d.instance.surfaces.get(s), &supported)
	if err := check(r, "vk.GetPhysicalDeviceSurfaceSupport()"); err != nil {
		return false, err
	}
	return supported.B(), nil
}

func extent2D(e vk.Extent2D) device.Extent2D {
	e.Deref()
	return device.Extent2D{Width: e.Width, Height: e.Height}
}

// SurfaceCapabilities implements device.Driver
func (d *Driver) SurfaceCapabilities(s device.Surface) (device.SurfaceCapabilities, error) {
	var caps vk.SurfaceCapabilities
	r := vk.GetPhysicalDeviceSurfaceCapabilities(d.physical, d.instance.surfaces.get(s), &caps)
	if err := check(r, "vk.GetPhysicalDeviceSurfaceCapabilities()"); err != nil {
		return device.SurfaceCapabilities{}, err
	}
	caps.Deref()
	return device.SurfaceCapabilities{
		MinImageCount:       caps.MinImageCount,
		MaxImageCount:       caps.MaxImageCount,
		CurrentExtent:       extent2D(caps.CurrentExtent),
		MinImageExtent:      extent2D(caps.MinImageExtent),
		MaxImageExtent:      extent2D(caps.MaxImageExtent),
		MaxImageArrayLayers: caps.MaxImageArrayLayers,
		SupportedTransforms: device.SurfaceTransform(caps.SupportedTransforms),
		CurrentTransform:    device.SurfaceTransform(caps.CurrentTransform),
		CompositeAlpha:      device.CompositeAlpha(caps.SupportedCompositeAlpha),
		SupportedUsage:      device.ImageUsage(caps.SupportedUsageFlags),
	}, nil
}

// SurfaceFormats implements device.Driver
func (d *Driver) SurfaceFormats(s device.Surface) ([]device.SurfaceFormat, error) {
	surface := d.instance.surfaces.get(s)
	var count uint32
	if err := check(vk.GetPhysicalDeviceSurfaceFormats(d.physical, surface, &count, nil), "vk.GetPhysicalDeviceSurfaceFormats()"); err != nil {
		return nil, err
	}
	formats := make([]vk.SurfaceFormat, count)
	if err := check(vk.GetPhysicalDeviceSurfaceFormats(d.physical, surface, &count, formats), "vk.GetPhysicalDeviceSurfaceFormats()"); err != nil {
		return nil, err
	}
	out := make([]device.SurfaceFormat, count)
	for i := range formats {
		formats[i].Deref()
		out[i] = device.SurfaceFormat{
			Format:     device.Format(formats[i].Format),
			ColorSpace: device.ColorSpace(formats[i].ColorSpace),
		}
	}
	return out, nil
}

// SurfacePresentModes implements device.Driver
func (d *Driver) SurfacePresentModes(s device.Surface) ([]device.PresentMode, error) {
	surface := d.instance.surfaces.get(s)
	var count uint32
	if err := check(vk.GetPhysicalDeviceSurfacePresentModes(d.physical, surface, &count, nil), "vk.GetPhysicalDeviceSurfacePresentModes()"); err != nil {
		return nil, err
	}
	modes := make([]vk.PresentMode, count)
	if err := check(vk.GetPhysicalDeviceSurfacePresentModes(d.physical, surface, &count, modes), "vk.GetPhysicalDeviceSurfacePresentModes()"); err != nil {
		return nil, err
	}
	out := make([]device.PresentMode, count)
	for i, m := range modes {
		out[i] = device.PresentMode(m)
	}
	return out, nil
}

// DestroySurface implements device.Driver
func (d *Driver) DestroySurface(s device.Surface) {
	d.instance.destroySurface(s)
}

// CreateSwapchain implements device.Driver
func (d *Driver) CreateSwapchain(info device.SwapchainCreateInfo) (device.Swapchain, error) {
	scci := vk.SwapchainCreateInfo{
		SType:           vk.StructureTypeSwapchainCreateInfo,
		Surface:         d.instance.surfaces.get(info.Surface),
		MinImageCount:   info.MinImageCount,
		ImageFormat:     vk.Format(info.Format),
		ImageColorSpace: vk.ColorSpace(info.ColorSpace),
		ImageExtent: vk.Extent2D{
			Width:  info.Extent.Width,
			Height: info.Extent.Height,
		},
		ImageArrayLayers:      info.ArrayLayers,
		ImageUsage:            vk.ImageUsageFlags(info.Usage),
		ImageSharingMode:      vk.SharingMode(info.SharingMode),
		QueueFamilyIndexCount: uint32(len(info.QueueFamilies)),
		PQueueFamilyIndices:   info.QueueFamilies,
		PreTransform:          vk.SurfaceTransformFlagBits(info.PreTransform),
		CompositeAlpha:        vk.CompositeAlphaFlagBits(info.CompositeAlpha),
		PresentMode:           vk.PresentMode(info.PresentMode),
		Clipped:               bool32(info.Clipped),
		OldSwapchain:          d.swapchains.get(info.OldSwapchain).swapchain,
	}
	var sc vk.Swapchain
	if err := check(vk.CreateSwapchain(d.device, &scci, nil, &sc), "vk.CreateSwapchain()"); err != nil {
		return 0, err
	}
	log.WithFields(log.Fields{
		"surface": info.Surface,
		"width":   info.Extent.Width,
		"height":  info.Extent.Height,
	}).Debug("vulkan swapchain created")
	return d.swapchains.add(swapchain{swapchain: sc}), nil
}

// DestroySwapchain implements device.Driver. Handles of the swapchain
// images become invalid.
func (d *Driver) DestroySwapchain(s device.Swapchain) {
	sc, ok := d.swapchains.remove(s)
	if !ok {
		return
	}
	for _, image := range sc.images {
		d.images.remove(image)
	}
	vk.DestroySwapchain(d.device, sc.swapchain, nil)
}

// SwapchainImages implements device.Driver
func (d *Driver) SwapchainImages(s device.Swapchain) ([]device.Image, error) {
	d.swapchains.mutex.Lock()
	defer d.swapchains.mutex.Unlock()
	sc, ok := d.swapchains.items.Get(s)
	if !ok {
		return nil, device.ErrorInitializationFailed.Err("vk.GetSwapchainImages()")
	}
	if sc.images != nil {
		return sc.images, nil
	}

	var count uint32
	if err := check(vk.GetSwapchainImages(d.device, sc.swapchain, &count, nil), "vk.GetSwapchainImages()"); err != nil {
		return nil, err
	}
	images := make([]vk.Image, count)
	if err := check(vk.GetSwapchainImages(d.device, sc.swapchain, &count, images), "vk.GetSwapchainImages()"); err != nil {
		return nil, err
	}
	sc.images = make([]device.Image, count)
	for i, image := range images {
		sc.images[i] = d.images.add(image)
	}
	d.swapchains.items.Set(s, sc)
	return sc.images, nil
}

// AcquireNextImage implements device.Driver
func (d *Driver) AcquireNextImage(sc device.Swapchain, timeout uint64, s device.Semaphore) (uint32, device.Result) {
	var index uint32
	r := vk.AcquireNextImage(d.device, d.swapchains.get(sc).swapchain, uint(timeout), d.semaphores.get(s), nil, &index)
	return index, device.Result(r)
}

// QueuePresent implements device.Driver
func (d *Driver) QueuePresent(q device.Queue, info device.PresentInfo) device.Result {
	pi := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(info.WaitSemaphores)),
		PWaitSemaphores:    lookup(&d.semaphores, info.WaitSemaphores),
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{d.swapchains.get(info.Swapchain).swapchain},
		PImageIndices:      []uint32{info.ImageIndex},
	}
	return device.Result(vk.QueuePresent(d.queues.get(q), &pi))
}

// Destroy implements device.Driver. Objects still alive are reported and
// left to the device teardown.
func (d *Driver) Destroy() {
	if n := d.buffers.len() + d.images.len() + d.memories.len(); n > 0 {
		log.WithField("objects", n).Warn("vulkan device destroyed with live objects")
	}
	vk.DestroyDevice(d.device, nil)
}

var _ device.Driver = (*Driver)(nil)
