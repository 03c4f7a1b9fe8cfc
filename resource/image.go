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

// ImageTraits describe an image and its default view
type ImageTraits struct {
	Type          device.ImageType
	ViewType      device.ImageViewType
	Format        device.Format
	Extent        device.Extent3D
	MipLevels     uint32
	ArrayLayers   uint32
	Samples       device.SampleCount
	Usage         device.ImageUsage
	Aspect        device.ImageAspect
	LinearTiling  bool
	InitialLayout device.ImageLayout
	SharingMode   device.SharingMode
	Flags         device.ImageCreateFlags
}

func (t ImageTraits) withDefaults() ImageTraits {
	if t.MipLevels == 0 {
		t.MipLevels = 1
	}
	if t.ArrayLayers == 0 {
		t.ArrayLayers = 1
	}
	if t.Samples == 0 {
		t.Samples = device.SampleCount1
	}
	if t.Aspect == 0 {
		t.Aspect = device.ImageAspectColor
	}
	if t.Extent.Depth == 0 {
		t.Extent.Depth = 1
	}
	return t
}

func (t ImageTraits) viewInfo(img device.Image) device.ImageViewCreateInfo {
	return device.ImageViewCreateInfo{
		Image:  img,
		Type:   t.ViewType,
		Format: t.Format,
		Range: device.ImageSubresourceRange{
			Aspect:     t.Aspect,
			LevelCount: t.MipLevels,
			LayerCount: t.ArrayLayers,
		},
	}
}

// NewImage creates an image that owns its memory, allocated from alloc
func NewImage(d *device.Device, traits ImageTraits, alloc device.Allocator) (*Image, error) {
	traits = traits.withDefaults()
	driver := d.Driver()

	tiling := device.ImageTilingOptimal
	if traits.LinearTiling {
		tiling = device.ImageTilingLinear
	}
	handle, err := driver.CreateImage(device.ImageCreateInfo{
		Flags:         traits.Flags,
		Type:          traits.Type,
		Format:        traits.Format,
		Extent:        traits.Extent,
		MipLevels:     traits.MipLevels,
		ArrayLayers:   traits.ArrayLayers,
		Samples:       traits.Samples,
		Tiling:        tiling,
		Usage:         traits.Usage,
		SharingMode:   traits.SharingMode,
		InitialLayout: traits.InitialLayout,
	})
	if err != nil {
		return nil, core.Fatal(err, "vk.CreateImage()")
	}

	block, err := alloc.Allocate(d, driver.ImageMemoryRequirements(handle))
	if err != nil || block.AlignedSize == 0 {
		driver.DestroyImage(handle)
		if err == nil {
			err = core.ErrResource
		}
		return nil, errors.Wrapf(err, "device %d: cannot allocate image memory", d.ID())
	}
	if err := alloc.BindImageMemory(d, handle, block.AlignedOffset); err != nil {
		driver.DestroyImage(handle)
		alloc.Deallocate(d, block)
		return nil, err
	}

	view, err := driver.CreateImageView(traits.viewInfo(handle))
	if err != nil {
		driver.DestroyImage(handle)
		alloc.Deallocate(d, block)
		return nil, core.Fatal(err, "vk.CreateImageView()")
	}

	return &Image{
		device: d,
		traits: traits,
		handle: handle,
		view:   view,
		alloc:  alloc,
		block:  block,
		owned:  true,
	}, nil
}

// NewExternalImage wraps an image owned by someone else, a swapchain for
// example. Only the view is created and later destroyed.
func NewExternalImage(d *device.Device, handle device.Image, traits ImageTraits) (*Image, error) {
	traits = traits.withDefaults()
	view, err := d.Driver().CreateImageView(traits.viewInfo(handle))
	if err != nil {
		return nil, core.Fatal(err, "vk.CreateImageView()")
	}
	return &Image{
		device: d,
		traits: traits,
		handle: handle,
		view:   view,
	}, nil
}

// Image is a native image with a view and, when owned, its memory
type Image struct {
	mutex  sync.Mutex
	device *device.Device
	traits ImageTraits
	handle device.Image
	view   device.ImageView
	alloc  device.Allocator
	block  device.MemoryBlock
	owned  bool
	mapped bool
}

// Device returns the device the image lives on
func (img *Image) Device() *device.Device {
	return img.device
}

// Traits returns the image traits
func (img *Image) Traits() ImageTraits {
	return img.traits
}

// Handle returns the native image
func (img *Image) Handle() device.Image {
	return img.handle
}

// View returns the default image view
func (img *Image) View() device.ImageView {
	return img.view
}

// Owned reports if the image and its memory are freed by Release
func (img *Image) Owned() bool {
	return img.owned
}

// MemorySize is the size of the memory bound to an owned image
func (img *Image) MemorySize() uint64 {
	return img.block.AlignedSize
}

// SubresourceLayout returns where a subresource lives in image memory
func (img *Image) SubresourceLayout(aspect device.ImageAspect, mipLevel, arrayLayer uint32) device.SubresourceLayout {
	return img.device.Driver().ImageSubresourceLayout(img.handle, aspect, mipLevel, arrayLayer)
}

// Map maps size bytes of image memory starting at offset. The image must own
// host visible memory and may hold one mapping at a time. Buffers sharing the
// allocator keep uploading while the image is mapped.
func (img *Image) Map(offset, size uint64) ([]byte, error) {
	img.mutex.Lock()
	defer img.mutex.Unlock()
	switch {
	case !img.owned:
		return nil, errors.Wrap(core.ErrResource, "external image memory cannot be mapped")
	case !img.alloc.MemoryPropertyFlags().Has(device.MemoryPropertyHostVisible):
		return nil, errors.Wrap(core.ErrResource, "image memory is not host visible")
	case offset+size > img.block.AlignedSize:
		return nil, errors.Wrapf(core.ErrResource, "map range %d+%d exceeds image memory of %d bytes", offset, size, img.block.AlignedSize)
	case img.mapped:
		return nil, errors.Wrap(core.ErrResource, "image memory already mapped")
	}
	data, err := img.alloc.MapMemory(img.device, img.block.AlignedOffset+offset, size)
	if err != nil {
		return nil, err
	}
	img.mapped = true
	return data, nil
}

// Unmap releases the mapping made by Map
func (img *Image) Unmap() {
	img.mutex.Lock()
	defer img.mutex.Unlock()
	if img.mapped {
		img.alloc.UnmapMemory(img.device)
		img.mapped = false
	}
}

// WithMapped maps a range, calls fn with it and unmaps, whatever fn returns
func (img *Image) WithMapped(offset, size uint64, fn func([]byte) error) error {
	data, err := img.Map(offset, size)
	if err != nil {
		return err
	}
	defer img.Unmap()
	return fn(data)
}

// Release destroys the view, and the image with its memory when owned
func (img *Image) Release() {
	if img == nil {
		return
	}
	img.mutex.Lock()
	defer img.mutex.Unlock()
	driver := img.device.Driver()
	if img.view != 0 {
		driver.DestroyImageView(img.view)
		img.view = 0
	}
	if !img.owned || img.handle == 0 {
		return
	}
	if img.mapped {
		img.alloc.UnmapMemory(img.device)
		img.mapped = false
	}
	driver.DestroyImage(img.handle)
	img.alloc.Deallocate(img.device, img.block)
	img.handle, img.block = 0, device.MemoryBlock{}
}
