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

// NewFrameBuffer creates a frame buffer expecting count swapchain images per surface
func NewFrameBuffer(count uint32, images *FrameBufferImages, renderPass *RenderPass) *FrameBuffer {
	fb := &FrameBuffer{
		images:     images,
		renderPass: renderPass,
		count:      count,
	}
	fb.init(ForEachSwapChainImage)
	return fb
}

// surfaceFrameBuffers are the framebuffer slots of one surface
type surfaceFrameBuffers struct {
	device  *device.Device
	valid   []bool
	handles []device.Framebuffer
}

func (sf *surfaceFrameBuffers) release() {
	for i, h := range sf.handles {
		if h != 0 {
			sf.device.Driver().DestroyFramebuffer(h)
		}
		sf.handles[i] = 0
		sf.valid[i] = false
	}
}

// FrameBuffer keeps one native framebuffer per swapchain image of every
// surface it is validated for. A slot is built on demand when the frame
// for that image begins.
type FrameBuffer struct {
	Resource

	images     *FrameBufferImages
	renderPass *RenderPass
	count      uint32
	perSurface registry.Registry[device.Surface, *surfaceFrameBuffers]
}

// SetFrameBufferImages changes the attachment images and invalidates every slot
func (fb *FrameBuffer) SetFrameBufferImages(images *FrameBufferImages) {
	fb.mutex.Lock()
	fb.images = images
	fb.mutex.Unlock()
	fb.Invalidate()
}

// FrameBufferImages returns the attachment images
func (fb *FrameBuffer) FrameBufferImages() *FrameBufferImages {
	fb.mutex.Lock()
	defer fb.mutex.Unlock()
	return fb.images
}

// SetRenderPass changes the render pass and invalidates every slot
func (fb *FrameBuffer) SetRenderPass(renderPass *RenderPass) {
	fb.mutex.Lock()
	fb.renderPass = renderPass
	fb.mutex.Unlock()
	fb.Invalidate()
}

// RenderPass returns the render pass
func (fb *FrameBuffer) RenderPass() *RenderPass {
	fb.mutex.Lock()
	defer fb.mutex.Unlock()
	return fb.renderPass
}

// Invalidate marks every slot of every surface stale
func (fb *FrameBuffer) Invalidate() {
	fb.mutex.Lock()
	defer fb.mutex.Unlock()
	fb.perSurface.Each(func(_ device.Surface, sf *surfaceFrameBuffers) {
		for i := range sf.valid {
			sf.valid[i] = false
		}
	})
}

// Validate rebuilds the framebuffer of swapchain image index of surface s when it is stale.
// Registered command buffers lose their recording for that index only.
// The surface attachment uses the view of swapchainImages[index], every other
// attachment the matching image of the frame buffer images, in render pass order.
func (fb *FrameBuffer) Validate(s Surface, index uint32, swapchainImages []*Image) error {
	fb.mutex.Lock()
	created, err := fb.validateLocked(s, index, swapchainImages)
	fb.mutex.Unlock()

	if created {
		fb.invalidateCommandBufferSlot(index)
	}
	return err
}

func (fb *FrameBuffer) validateLocked(s Surface, index uint32, swapchainImages []*Image) (bool, error) {
	d := s.Device()
	sf := fb.perSurface.GetOrCreate(s.ID(), func() *surfaceFrameBuffers {
		return &surfaceFrameBuffers{
			device:  d,
			valid:   make([]bool, fb.count),
			handles: make([]device.Framebuffer, fb.count),
		}
	})
	for uint32(len(sf.handles)) < s.ImageCount() || uint32(len(sf.handles)) <= index {
		sf.handles = append(sf.handles, 0)
		sf.valid = append(sf.valid, false)
	}
	if sf.valid[index] {
		return false, nil
	}
	if fb.renderPass == nil {
		return false, errors.Wrapf(core.ErrConfiguration, "surface %d: frame buffer has no render pass", s.ID())
	}
	if fb.images == nil {
		return false, errors.Wrapf(core.ErrConfiguration, "surface %d: frame buffer has no images", s.ID())
	}
	if int(index) >= len(swapchainImages) {
		return false, errors.Wrapf(core.ErrResource, "surface %d: swapchain image %d out of %d", s.ID(), index, len(swapchainImages))
	}

	if sf.handles[index] != 0 {
		sf.device.Driver().DestroyFramebuffer(sf.handles[index])
		sf.handles[index] = 0
	}
	sf.device = d

	var views []device.ImageView
	for _, a := range fb.renderPass.Attachments() {
		def, ok := fb.images.Definition(a.ImageDefinition)
		if !ok {
			return false, errors.Wrapf(core.ErrConfiguration, "surface %d: render pass refers to missing image definition %d", s.ID(), a.ImageDefinition)
		}
		if def.AttachmentType == AttachmentSurface {
			views = append(views, swapchainImages[index].View())
			continue
		}
		img := fb.images.Image(s, a.ImageDefinition)
		if img == nil {
			return false, errors.Wrapf(core.ErrResource, "surface %d: frame buffer image %q not validated", s.ID(), def.Name)
		}
		views = append(views, img.View())
	}

	renderPass, err := fb.renderPass.Handle(d)
	if err != nil {
		return false, err
	}
	extent := s.Extent()
	handle, err := d.Driver().CreateFramebuffer(device.FramebufferCreateInfo{
		RenderPass:  renderPass,
		Attachments: views,
		Width:       extent.Width,
		Height:      extent.Height,
		Layers:      1,
	})
	if err != nil {
		return false, core.Fatal(err, "vk.CreateFramebuffer()")
	}
	sf.handles[index] = handle
	sf.valid[index] = true

	log.WithFields(log.Fields{"surface": s.ID(), "index": index}).Debug("framebuffer created")
	return true, nil
}

// Handle returns the framebuffer of swapchain image index of surface s, or
// the null handle when it was never validated.
func (fb *FrameBuffer) Handle(s Surface, index uint32) device.Framebuffer {
	fb.mutex.Lock()
	defer fb.mutex.Unlock()
	sf, ok := fb.perSurface.Get(s.ID())
	if !ok || int(index) >= len(sf.handles) {
		return 0
	}
	return sf.handles[index]
}

// ResetSurface destroys the framebuffers of surface s only
func (fb *FrameBuffer) ResetSurface(s Surface) {
	fb.mutex.Lock()
	defer fb.mutex.Unlock()
	if sf, ok := fb.perSurface.Remove(s.ID()); ok {
		sf.release()
	}
}

// Reset destroys the framebuffer of every slot on every surface
func (fb *FrameBuffer) Reset() {
	fb.mutex.Lock()
	defer fb.mutex.Unlock()
	fb.perSurface.Each(func(_ device.Surface, sf *surfaceFrameBuffers) {
		sf.release()
	})
	fb.perSurface.Clear()
}
