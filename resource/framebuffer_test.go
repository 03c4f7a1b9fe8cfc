// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource_test

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/pkg/errors"

	"github.com/devblok/kframe/core"
	"github.com/devblok/kframe/device"
	"github.com/devblok/kframe/resource"
)

func attachmentDefinitions() []resource.FrameBufferImageDefinition {
	return []resource.FrameBufferImageDefinition{
		resource.DefaultSwapChainDefinition(),
		{
			AttachmentType: resource.AttachmentColor,
			Format:         device.FormatR8g8b8a8Unorm,
			Usage:          device.ImageUsageColorAttachment | device.ImageUsageInputAttachment,
			Aspect:         device.ImageAspectColor,
			Name:           "albedo",
			Size:           resource.SurfaceSize(0.5, 0.5),
		},
		{
			AttachmentType: resource.AttachmentDepth,
			Format:         device.FormatD32Sfloat,
			Usage:          device.ImageUsageDepthStencilAttachment,
			Aspect:         device.ImageAspectDepth,
			Name:           "depth",
			Size:           resource.AbsoluteSize(256, 128),
		},
	}
}

func TestAttachmentSizeExtent(t *testing.T) {
	c := qt.New(t)
	swapchain := device.Extent2D{Width: 800, Height: 600}

	c.Assert(resource.SurfaceSize(1, 1).Extent(swapchain), qt.Equals, device.Extent3D{Width: 800, Height: 600, Depth: 1})
	c.Assert(resource.SurfaceSize(0.25, 0.5).Extent(swapchain), qt.Equals, device.Extent3D{Width: 200, Height: 300, Depth: 1})
	c.Assert(resource.AbsoluteSize(64, 32).Extent(swapchain), qt.Equals, device.Extent3D{Width: 64, Height: 32, Depth: 1})
	c.Assert(resource.SurfaceSize(0, 0).Extent(swapchain), qt.Equals, device.Extent3D{Width: 1, Height: 1, Depth: 1})
}

func TestFrameBufferImages(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	s := f.surface(1, 800, 600, 2)
	fbi := resource.NewFrameBufferImages(attachmentDefinitions(), device.NewHeapAllocator(device.MemoryPropertyDeviceLocal, 8<<20))

	c.Assert(fbi.Image(s, 1), qt.IsNil)
	c.Assert(fbi.SwapChainDefinition().Name, qt.Equals, "swapchain")
	index, ok := fbi.DefinitionIndex("depth")
	c.Assert(ok, qt.Equals, true)
	c.Assert(index, qt.Equals, 2)
	_, ok = fbi.DefinitionIndex("normals")
	c.Assert(ok, qt.Equals, false)

	c.Assert(fbi.Validate(s), qt.IsNil)
	c.Assert(fbi.Image(s, 0), qt.IsNil)
	albedo, depth := fbi.Image(s, 1), fbi.Image(s, 2)
	c.Assert(albedo.Traits().Extent, qt.Equals, device.Extent3D{Width: 400, Height: 300, Depth: 1})
	c.Assert(depth.Traits().Extent, qt.Equals, device.Extent3D{Width: 256, Height: 128, Depth: 1})
	info, _ := f.driver.ImageInfo(depth.Handle())
	c.Assert(info.InitialLayout, qt.Equals, device.ImageLayoutUndefined)
	c.Assert(f.driver.Live("image"), qt.Equals, 2)

	c.Assert(fbi.Validate(s), qt.IsNil)
	c.Assert(fbi.Image(s, 1), qt.Equals, albedo)

	s.extent = device.Extent2D{Width: 1024, Height: 768}
	fbi.Invalidate(s)
	c.Assert(fbi.Validate(s), qt.IsNil)
	c.Assert(fbi.Image(s, 1).Traits().Extent, qt.Equals, device.Extent3D{Width: 512, Height: 384, Depth: 1})
	c.Assert(f.driver.Live("image"), qt.Equals, 2)

	other := f.surface(2, 640, 480, 2)
	c.Assert(fbi.Validate(other), qt.IsNil)
	c.Assert(f.driver.Live("image"), qt.Equals, 4)

	fbi.Reset(s)
	c.Assert(fbi.Image(s, 1), qt.IsNil)
	c.Assert(f.driver.Live("image"), qt.Equals, 2)
	fbi.Release()
	c.Assert(f.driver.Live("image"), qt.Equals, 0)
}

func TestFrameBufferImagesDefaultSwapChainDefinition(t *testing.T) {
	c := qt.New(t)
	fbi := resource.NewFrameBufferImages(attachmentDefinitions()[1:], nil)
	c.Assert(fbi.SwapChainDefinition(), qt.Equals, resource.DefaultSwapChainDefinition())
}

func TestRenderPass(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	fbi := resource.NewFrameBufferImages(attachmentDefinitions(), nil)

	rp := resource.NewRenderPass(fbi, []resource.AttachmentDefinition{
		{ImageDefinition: 0, LoadOp: device.AttachmentLoadOpClear, FinalLayout: device.ImageLayoutColorAttachmentOptimal, Clear: device.ClearValue{Color: [4]float32{0, 0, 0, 1}}},
		{ImageDefinition: 2, LoadOp: device.AttachmentLoadOpClear, FinalLayout: device.ImageLayoutDepthStencilAttachmentOptimal, Clear: device.ClearValue{Depth: 1}},
	})
	handle, err := rp.Handle(f.device)
	c.Assert(err, qt.IsNil)
	again, err := rp.Handle(f.device)
	c.Assert(err, qt.IsNil)
	c.Assert(again, qt.Equals, handle)
	c.Assert(f.driver.Count("CreateRenderPass"), qt.Equals, 1)
	c.Assert(rp.ClearValues()[1].Depth, qt.Equals, float32(1))

	rp.Release()
	c.Assert(f.driver.Live("renderpass"), qt.Equals, 0)

	broken := resource.NewRenderPass(fbi, []resource.AttachmentDefinition{{ImageDefinition: 7}})
	_, err = broken.Handle(f.device)
	c.Assert(errors.Is(err, core.ErrConfiguration), qt.Equals, true)
}

func swapchainImages(c *qt.C, f *fixture, n int) []*resource.Image {
	var out []*resource.Image
	for i := 0; i < n; i++ {
		handle, err := f.driver.CreateImage(device.ImageCreateInfo{Type: device.ImageType2D, Format: device.FormatB8g8r8a8Unorm})
		c.Assert(err, qt.IsNil)
		img, err := resource.NewExternalImage(f.device, handle, resource.ImageTraits{ViewType: device.ImageViewType2D, Format: device.FormatB8g8r8a8Unorm})
		c.Assert(err, qt.IsNil)
		out = append(out, img)
	}
	return out
}

func TestFrameBuffer(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	s := f.surface(1, 800, 600, 2)
	fbi := resource.NewFrameBufferImages(attachmentDefinitions(), device.NewHeapAllocator(device.MemoryPropertyDeviceLocal, 8<<20))
	rp := resource.NewRenderPass(fbi, []resource.AttachmentDefinition{
		{ImageDefinition: 0},
		{ImageDefinition: 2},
	})
	images := swapchainImages(c, f, 2)
	fb := resource.NewFrameBuffer(0, fbi, rp)

	cb, err := resource.NewCommandBuffer(f.device, f.ctx.CommandPool, device.CommandBufferLevelPrimary, 2)
	c.Assert(err, qt.IsNil)
	for i := uint32(0); i < 2; i++ {
		cb.SetActiveIndex(i)
		c.Assert(cb.Begin(), qt.IsNil)
		c.Assert(cb.End(), qt.IsNil)
	}
	fb.AddCommandBuffer(cb)

	err = fb.Validate(s, 1, images)
	c.Assert(errors.Is(err, core.ErrResource), qt.Equals, true)
	c.Assert(fbi.Validate(s), qt.IsNil)

	c.Assert(fb.Validate(s, 1, images), qt.IsNil)
	c.Assert(fb.Handle(s, 0), qt.Equals, device.Framebuffer(0))
	c.Assert(fb.Handle(s, 5), qt.Equals, device.Framebuffer(0))
	handle := fb.Handle(s, 1)
	c.Assert(handle, qt.Not(qt.Equals), device.Framebuffer(0))
	c.Assert(cb.IsValid(1), qt.Equals, false)
	c.Assert(cb.IsValid(0), qt.Equals, true)

	info, ok := f.driver.FramebufferInfo(handle)
	c.Assert(ok, qt.Equals, true)
	c.Assert(info.Attachments, qt.DeepEquals, []device.ImageView{images[1].View(), fbi.Image(s, 2).View()})
	c.Assert(info.Width, qt.Equals, uint32(800))
	c.Assert(info.Height, qt.Equals, uint32(600))
	c.Assert(info.Layers, qt.Equals, uint32(1))

	c.Assert(fb.Validate(s, 1, images), qt.IsNil)
	c.Assert(fb.Handle(s, 1), qt.Equals, handle)
	c.Assert(f.driver.Count("CreateFramebuffer"), qt.Equals, 1)

	fb.Invalidate()
	c.Assert(fb.Validate(s, 1, images), qt.IsNil)
	c.Assert(fb.Handle(s, 1), qt.Not(qt.Equals), handle)
	c.Assert(fb.Validate(s, 0, images), qt.IsNil)
	c.Assert(f.driver.Live("framebuffer"), qt.Equals, 2)

	fb.Reset()
	c.Assert(f.driver.Live("framebuffer"), qt.Equals, 0)
	c.Assert(fb.Handle(s, 1), qt.Equals, device.Framebuffer(0))
}

func TestFrameBufferSharedBySurfaces(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	left, right := f.surface(1, 800, 600, 2), f.surface(2, 640, 480, 2)
	fbi := resource.NewFrameBufferImages(attachmentDefinitions(), device.NewHeapAllocator(device.MemoryPropertyDeviceLocal, 8<<20))
	defer fbi.Release()
	rp := resource.NewRenderPass(fbi, []resource.AttachmentDefinition{{ImageDefinition: 0}, {ImageDefinition: 2}})
	fb := resource.NewFrameBuffer(2, fbi, rp)

	leftImages, rightImages := swapchainImages(c, f, 2), swapchainImages(c, f, 2)
	c.Assert(fbi.Validate(left), qt.IsNil)
	c.Assert(fbi.Validate(right), qt.IsNil)
	c.Assert(fb.Validate(left, 0, leftImages), qt.IsNil)
	c.Assert(fb.Validate(right, 0, rightImages), qt.IsNil)

	leftHandle, rightHandle := fb.Handle(left, 0), fb.Handle(right, 0)
	c.Assert(leftHandle, qt.Not(qt.Equals), rightHandle)
	info, _ := f.driver.FramebufferInfo(leftHandle)
	c.Assert(info.Attachments[0], qt.Equals, leftImages[0].View())
	c.Assert(info.Width, qt.Equals, uint32(800))
	info, _ = f.driver.FramebufferInfo(rightHandle)
	c.Assert(info.Attachments[0], qt.Equals, rightImages[0].View())
	c.Assert(info.Width, qt.Equals, uint32(640))

	c.Assert(fb.Validate(left, 0, leftImages), qt.IsNil)
	c.Assert(fb.Handle(left, 0), qt.Equals, leftHandle)
	c.Assert(f.driver.Live("framebuffer"), qt.Equals, 2)

	fb.ResetSurface(left)
	c.Assert(fb.Handle(left, 0), qt.Equals, device.Framebuffer(0))
	c.Assert(fb.Handle(right, 0), qt.Equals, rightHandle)
	c.Assert(f.driver.Live("framebuffer"), qt.Equals, 1)

	fb.Reset()
	c.Assert(f.driver.Live("framebuffer"), qt.Equals, 0)
}

func TestFrameBufferErrors(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	s := f.surface(1, 800, 600, 2)
	fbi := resource.NewFrameBufferImages(attachmentDefinitions(), nil)
	images := swapchainImages(c, f, 2)

	fb := resource.NewFrameBuffer(2, fbi, nil)
	err := fb.Validate(s, 0, images)
	c.Assert(errors.Is(err, core.ErrConfiguration), qt.Equals, true)

	fb.SetRenderPass(resource.NewRenderPass(fbi, []resource.AttachmentDefinition{{ImageDefinition: 0}}))
	err = fb.Validate(s, 3, images)
	c.Assert(errors.Is(err, core.ErrResource), qt.Equals, true)

	fb.SetRenderPass(resource.NewRenderPass(fbi, []resource.AttachmentDefinition{{ImageDefinition: 9}}))
	err = fb.Validate(s, 0, images)
	c.Assert(errors.Is(err, core.ErrConfiguration), qt.Equals, true)
}

func TestInputAttachment(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	s := f.surface(1, 800, 600, 2)
	fbi := resource.NewFrameBufferImages(attachmentDefinitions(), device.NewHeapAllocator(device.MemoryPropertyDeviceLocal, 8<<20))
	ctx := f.ctx
	ctx.Surface = s

	ia := resource.NewInputAttachment(fbi, "albedo")
	_, err := ia.DescriptorValues(ctx, nil)
	c.Assert(errors.Is(err, core.ErrResource), qt.Equals, true)

	c.Assert(ia.Validate(ctx), qt.IsNil)
	values, err := ia.DescriptorValues(ctx, nil)
	c.Assert(err, qt.IsNil)
	c.Assert(values, qt.DeepEquals, []resource.DescriptorValue{{
		ImageView: fbi.Image(s, 1).View(),
		Layout:    device.ImageLayoutShaderReadOnlyOptimal,
	}})

	ds := &countingSet{}
	ia.AddDescriptorSet(ds)
	ia.Invalidate()
	c.Assert(ds.invalidated, qt.Equals, 1)

	missing := resource.NewInputAttachment(fbi, "normals")
	_, err = missing.DescriptorValues(ctx, nil)
	c.Assert(errors.Is(err, core.ErrConfiguration), qt.Equals, true)
	fbi.Release()
}
