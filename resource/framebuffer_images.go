// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"fmt"
	"sync"

	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devblok/kframe/core"
	"github.com/devblok/kframe/device"
	"github.com/devblok/kframe/util/registry"
)

// AttachmentType is the role of a frame buffer image
type AttachmentType int

// Attachment types. AttachmentSurface stands for the swapchain image.
const (
	AttachmentUndefined AttachmentType = iota
	AttachmentSurface
	AttachmentColor
	AttachmentDepth
	AttachmentDepthStencil
	AttachmentStencil
)

func (t AttachmentType) String() string {
	switch t {
	case AttachmentSurface:
		return "surface"
	case AttachmentColor:
		return "color"
	case AttachmentDepth:
		return "depth"
	case AttachmentDepthStencil:
		return "depth stencil"
	case AttachmentStencil:
		return "stencil"
	}
	return fmt.Sprintf("attachment type %d", int(t))
}

// SizeType tells how an attachment size is interpreted
type SizeType int

// Size types
const (
	SizeSurfaceDependent SizeType = iota
	SizeAbsolute
)

// AttachmentSize is either a fraction of the swapchain extent or an absolute size
type AttachmentSize struct {
	Type SizeType
	Size glm.Vec2
}

// SurfaceSize sizes an attachment relative to the swapchain
func SurfaceSize(x, y float32) AttachmentSize {
	return AttachmentSize{Type: SizeSurfaceDependent, Size: glm.Vec2{x, y}}
}

// AbsoluteSize gives an attachment a fixed size in pixels
func AbsoluteSize(width, height uint32) AttachmentSize {
	return AttachmentSize{Type: SizeAbsolute, Size: glm.Vec2{float32(width), float32(height)}}
}

// Extent computes the image extent for a swapchain extent
func (s AttachmentSize) Extent(swapchain device.Extent2D) device.Extent3D {
	size := s.Size
	if s.Type == SizeSurfaceDependent {
		size = glm.Vec2{
			float32(swapchain.Width) * size.X(),
			float32(swapchain.Height) * size.Y(),
		}
	}
	e := device.Extent3D{Width: uint32(size.X()), Height: uint32(size.Y()), Depth: 1}
	if e.Width == 0 {
		e.Width = 1
	}
	if e.Height == 0 {
		e.Height = 1
	}
	return e
}

// FrameBufferImageDefinition declares one attachment of a frame buffer
type FrameBufferImageDefinition struct {
	AttachmentType AttachmentType
	Format         device.Format
	Usage          device.ImageUsage
	Aspect         device.ImageAspect
	Samples        device.SampleCount
	Name           string
	Size           AttachmentSize
}

// DefaultSwapChainDefinition is used when no surface attachment is declared
func DefaultSwapChainDefinition() FrameBufferImageDefinition {
	return FrameBufferImageDefinition{
		AttachmentType: AttachmentSurface,
		Format:         device.FormatB8g8r8a8Unorm,
		Usage:          device.ImageUsageColorAttachment,
		Aspect:         device.ImageAspectColor,
		Samples:        device.SampleCount1,
		Name:           "swapchain",
		Size:           SurfaceSize(1, 1),
	}
}

type surfaceImages struct {
	valid  bool
	images []*Image
}

func (si *surfaceImages) release() {
	for i, img := range si.images {
		img.Release()
		si.images[i] = nil
	}
}

// NewFrameBufferImages creates the attachment images described by
// definitions. Images are allocated from alloc, which should be device local.
func NewFrameBufferImages(definitions []FrameBufferImageDefinition, alloc device.Allocator) *FrameBufferImages {
	return &FrameBufferImages{
		definitions: append([]FrameBufferImageDefinition(nil), definitions...),
		alloc:       alloc,
	}
}

// FrameBufferImages keeps, per surface, an image for every attachment
// except the swapchain one.
type FrameBufferImages struct {
	mutex       sync.Mutex
	definitions []FrameBufferImageDefinition
	alloc       device.Allocator
	perSurface  registry.Registry[device.Surface, *surfaceImages]
}

// Definitions returns a copy of the attachment definitions
func (f *FrameBufferImages) Definitions() []FrameBufferImageDefinition {
	return append([]FrameBufferImageDefinition(nil), f.definitions...)
}

// Definition returns the attachment definition at index
func (f *FrameBufferImages) Definition(index int) (FrameBufferImageDefinition, bool) {
	if index < 0 || index >= len(f.definitions) {
		return FrameBufferImageDefinition{}, false
	}
	return f.definitions[index], true
}

// DefinitionIndex finds an attachment by name
func (f *FrameBufferImages) DefinitionIndex(name string) (int, bool) {
	for i, d := range f.definitions {
		if d.Name == name {
			return i, true
		}
	}
	return 0, false
}

// SwapChainDefinition returns the surface attachment definition
func (f *FrameBufferImages) SwapChainDefinition() FrameBufferImageDefinition {
	for _, d := range f.definitions {
		if d.AttachmentType == AttachmentSurface {
			return d
		}
	}
	return DefaultSwapChainDefinition()
}

// Validate creates the images of surface s when they are missing or stale.
// Previous images are released first.
func (f *FrameBufferImages) Validate(s Surface) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	si := f.perSurface.GetOrCreate(s.ID(), func() *surfaceImages {
		return &surfaceImages{images: make([]*Image, len(f.definitions))}
	})
	if si.valid {
		return nil
	}
	si.release()

	extent := s.Extent()
	for i, def := range f.definitions {
		if def.AttachmentType == AttachmentSurface {
			continue
		}
		img, err := NewImage(s.Device(), ImageTraits{
			Type:          device.ImageType2D,
			ViewType:      device.ImageViewType2D,
			Format:        def.Format,
			Extent:        def.Size.Extent(extent),
			Samples:       def.Samples,
			Usage:         def.Usage,
			Aspect:        def.Aspect,
			InitialLayout: device.ImageLayoutUndefined,
		}, f.alloc)
		if err != nil {
			si.release()
			return errors.Wrapf(err, "surface %d: frame buffer image %q", s.ID(), def.Name)
		}
		si.images[i] = img
	}
	si.valid = true

	log.WithFields(log.Fields{
		"surface": s.ID(),
		"width":   extent.Width,
		"height":  extent.Height,
	}).Debug("frame buffer images validated")
	return nil
}

// Invalidate marks the images of surface s stale. They are replaced on the next Validate.
func (f *FrameBufferImages) Invalidate(s Surface) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if si, ok := f.perSurface.Get(s.ID()); ok {
		si.valid = false
	}
}

// Reset releases everything kept for surface s
func (f *FrameBufferImages) Reset(s Surface) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if si, ok := f.perSurface.Remove(s.ID()); ok {
		si.release()
	}
}

// Release releases the images of every surface
func (f *FrameBufferImages) Release() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.perSurface.Each(func(_ device.Surface, si *surfaceImages) {
		si.release()
	})
	f.perSurface.Clear()
}

// Image returns the image of attachment index on surface s. It is nil before
// Validate, for the surface attachment and for indices out of range. The
// image must not be kept past the next Validate or Reset.
func (f *FrameBufferImages) Image(s Surface, index int) *Image {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	si, ok := f.perSurface.Get(s.ID())
	if !ok || index < 0 || index >= len(si.images) {
		return nil
	}
	return si.images[index]
}

// NewInputAttachment exposes the frame buffer image called name to descriptor sets
func NewInputAttachment(images *FrameBufferImages, name string) *InputAttachment {
	ia := &InputAttachment{images: images, name: name}
	ia.init(ForEachSwapChainImage)
	return ia
}

// InputAttachment is a frame buffer image read by a later subpass
type InputAttachment struct {
	Resource
	images *FrameBufferImages
	name   string
}

// Validate implements Validator
func (ia *InputAttachment) Validate(ctx RenderContext) error {
	if ctx.Surface == nil {
		return errors.Wrapf(core.ErrResource, "input attachment %q validated without a surface", ia.name)
	}
	return ia.images.Validate(ctx.Surface)
}

// Invalidate implements Validator
func (ia *InputAttachment) Invalidate() {
	ia.invalidateDescriptorSets()
}

// DescriptorValues implements Validator
func (ia *InputAttachment) DescriptorValues(ctx RenderContext, values []DescriptorValue) ([]DescriptorValue, error) {
	index, ok := ia.images.DefinitionIndex(ia.name)
	if !ok {
		return values, errors.Wrapf(core.ErrConfiguration, "input attachment %q is not a frame buffer image", ia.name)
	}
	if ctx.Surface == nil {
		return values, errors.Wrapf(core.ErrResource, "input attachment %q read without a surface", ia.name)
	}
	img := ia.images.Image(ctx.Surface, index)
	if img == nil {
		return values, errors.Wrapf(core.ErrResource, "surface %d: input attachment %q not validated", ctx.Surface.ID(), ia.name)
	}
	return append(values, DescriptorValue{
		ImageView: img.View(),
		Layout:    device.ImageLayoutShaderReadOnlyOptimal,
	}), nil
}

var _ Validator = (*InputAttachment)(nil)
