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
	"github.com/devblok/kframe/util/registry"
)

// AttachmentDefinition places a frame buffer image into a render pass
type AttachmentDefinition struct {
	ImageDefinition int
	LoadOp          device.AttachmentLoadOp
	StoreOp         device.AttachmentStoreOp
	StencilLoadOp   device.AttachmentLoadOp
	StencilStoreOp  device.AttachmentStoreOp
	InitialLayout   device.ImageLayout
	FinalLayout     device.ImageLayout
	Clear           device.ClearValue
}

// NewRenderPass describes a single subpass render pass over images
func NewRenderPass(images *FrameBufferImages, attachments []AttachmentDefinition) *RenderPass {
	return &RenderPass{
		images:      images,
		attachments: append([]AttachmentDefinition(nil), attachments...),
	}
}

// RenderPass is a render pass definition with a native handle per device
type RenderPass struct {
	mutex       sync.Mutex
	images      *FrameBufferImages
	attachments []AttachmentDefinition
	perDevice   registry.Registry[device.ID, renderPassHandle]
}

type renderPassHandle struct {
	device *device.Device
	handle device.RenderPass
}

// Attachments returns the attachments in framebuffer order
func (rp *RenderPass) Attachments() []AttachmentDefinition {
	return append([]AttachmentDefinition(nil), rp.attachments...)
}

// ClearValues returns the clear value of every attachment
func (rp *RenderPass) ClearValues() []device.ClearValue {
	out := make([]device.ClearValue, len(rp.attachments))
	for i, a := range rp.attachments {
		out[i] = a.Clear
	}
	return out
}

// Handle returns the native render pass on d, creating it on first use
func (rp *RenderPass) Handle(d *device.Device) (device.RenderPass, error) {
	rp.mutex.Lock()
	defer rp.mutex.Unlock()
	if h, ok := rp.perDevice.Get(d.ID()); ok {
		return h.handle, nil
	}

	var info device.RenderPassCreateInfo
	for i, a := range rp.attachments {
		def, ok := rp.images.Definition(a.ImageDefinition)
		if !ok {
			return 0, errors.Wrapf(core.ErrConfiguration, "render pass attachment %d refers to missing image definition %d", i, a.ImageDefinition)
		}
		info.Attachments = append(info.Attachments, device.AttachmentDescription{
			Format:         def.Format,
			Samples:        def.Samples,
			LoadOp:         a.LoadOp,
			StoreOp:        a.StoreOp,
			StencilLoadOp:  a.StencilLoadOp,
			StencilStoreOp: a.StencilStoreOp,
			InitialLayout:  a.InitialLayout,
			FinalLayout:    a.FinalLayout,
		})
		switch def.AttachmentType {
		case AttachmentSurface, AttachmentColor:
			info.Color = append(info.Color, device.AttachmentReference{
				Attachment: uint32(i),
				Layout:     device.ImageLayoutColorAttachmentOptimal,
			})
		case AttachmentDepth, AttachmentDepthStencil, AttachmentStencil:
			if info.DepthStencil != nil {
				return 0, errors.Wrapf(core.ErrConfiguration, "render pass has more than one depth attachment (%q)", def.Name)
			}
			info.DepthStencil = &device.AttachmentReference{
				Attachment: uint32(i),
				Layout:     device.ImageLayoutDepthStencilAttachmentOptimal,
			}
		default:
			return 0, errors.Wrapf(core.ErrConfiguration, "render pass attachment %q has %s", def.Name, def.AttachmentType)
		}
	}

	handle, err := d.Driver().CreateRenderPass(info)
	if err != nil {
		return 0, core.Fatal(err, "vk.CreateRenderPass()")
	}
	rp.perDevice.Set(d.ID(), renderPassHandle{device: d, handle: handle})
	return handle, nil
}

// Release destroys the native render pass on every device
func (rp *RenderPass) Release() {
	rp.mutex.Lock()
	defer rp.mutex.Unlock()
	rp.perDevice.Each(func(_ device.ID, h renderPassHandle) {
		h.device.Driver().DestroyRenderPass(h.handle)
	})
	rp.perDevice.Clear()
}
