// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package surface

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/pkg/errors"

	"github.com/devblok/kframe/device"
	"github.com/devblok/kframe/device/devicetest"
	"github.com/devblok/kframe/resource"
)

func realizedSurface(c *qt.C, driver *devicetest.Driver) *Surface {
	d, err := device.New(driver, []device.QueueTraits{{MustHave: device.QueueGraphics}})
	c.Assert(err, qt.IsNil)
	var r device.Registry
	r.Register(d)

	images := resource.NewFrameBufferImages([]resource.FrameBufferImageDefinition{
		resource.DefaultSwapChainDefinition(),
	}, device.NewHeapAllocator(device.MemoryPropertyDeviceLocal, 1<<20))
	fb := resource.NewFrameBuffer(2, images, resource.NewRenderPass(images, []resource.AttachmentDefinition{{ImageDefinition: 0}}))

	s := New(d, 7, DefaultTraits())
	s.SetRenderWorkflow(NewStaticWorkflow(&WorkflowSequences{
		QueueTraits:    []device.QueueTraits{{MustHave: device.QueueGraphics}},
		Commands:       [][]Command{nil},
		FrameBuffer:    fb,
		InitialLayouts: []device.ImageLayout{device.ImageLayoutColorAttachmentOptimal},
	}))
	c.Assert(s.Realize(), qt.IsNil)
	c.TB.Cleanup(s.Cleanup)
	return s
}

func TestCreateSwapChainInvalidatesRecordings(t *testing.T) {
	c := qt.New(t)
	driver := devicetest.New()
	s := realizedSurface(c, driver)

	for i := 0; i < 3; i++ {
		c.Assert(s.Frame(), qt.IsNil)
	}
	for i := uint32(0); i < s.imageCount; i++ {
		c.Assert(s.prepare.IsValid(i), qt.Equals, true)
		c.Assert(s.present.IsValid(i), qt.Equals, true)
		c.Assert(s.primaries[0].IsValid(i), qt.Equals, true)
	}

	driver.ResetCalls()
	c.Assert(s.CreateSwapChain(), qt.IsNil)
	calls := driver.Calls()
	c.Assert(calls[0], qt.Equals, "DeviceWaitIdle")
	c.Assert(driver.Count("CreateSwapchain"), qt.Equals, 1)

	c.Assert(s.images, qt.HasLen, int(s.imageCount))
	c.Assert(s.resized, qt.Equals, true)
	for i := uint32(0); i < s.imageCount; i++ {
		c.Assert(s.prepare.IsValid(i), qt.Equals, false)
		c.Assert(s.present.IsValid(i), qt.Equals, false)
		c.Assert(s.primaries[0].IsValid(i), qt.Equals, false)
	}
	c.Assert(len(s.fences) >= int(s.imageCount), qt.Equals, true)
}

func TestCreateSwapChainGrows(t *testing.T) {
	c := qt.New(t)
	driver := devicetest.New()
	s := realizedSurface(c, driver)
	c.Assert(s.imageCount, qt.Equals, uint32(3))

	driver.ImageCount = 6
	c.Assert(s.CreateSwapChain(), qt.IsNil)
	c.Assert(s.imageCount, qt.Equals, uint32(6))
	c.Assert(s.images, qt.HasLen, 6)
	c.Assert(s.fences, qt.HasLen, 6)
	c.Assert(s.prepare.Count(), qt.Equals, uint32(6))
	c.Assert(s.present.Count(), qt.Equals, uint32(6))
	c.Assert(s.primaries[0].Count(), qt.Equals, uint32(6))
}

func TestCheckTraits(t *testing.T) {
	c := qt.New(t)
	s := &Surface{
		traits: Traits{ImageCount: 12, PresentMode: device.PresentModeFifo, Format: device.FormatB8g8r8a8Unorm},
		capabilities: device.SurfaceCapabilities{
			MinImageCount:       2,
			MaxImageCount:       4,
			SupportedTransforms: device.SurfaceTransformIdentity,
			CompositeAlpha:      device.CompositeAlphaInherit | device.CompositeAlphaPreMultiplied,
		},
		presentModes: []device.PresentMode{device.PresentModeFifo},
		formats:      []device.SurfaceFormat{{Format: device.FormatB8g8r8a8Unorm}},
	}
	c.Assert(s.checkTraits(), qt.IsNil)
	c.Assert(s.traits.ImageCount, qt.Equals, uint32(4))
	c.Assert(s.imageCount, qt.Equals, uint32(4))
	c.Assert(s.traits.PreTransform, qt.Equals, device.SurfaceTransformIdentity)
	c.Assert(s.traits.CompositeAlpha, qt.Equals, device.CompositeAlphaPreMultiplied)

	s.traits.Format = device.FormatR8g8b8a8Unorm
	c.Assert(s.checkTraits(), qt.ErrorMatches, "surface 0: format 37 not supported: configuration error")
}

func TestClampExtent(t *testing.T) {
	c := qt.New(t)
	caps := device.SurfaceCapabilities{
		MinImageExtent: device.Extent2D{Width: 16, Height: 16},
		MaxImageExtent: device.Extent2D{Width: 1024, Height: 1024},
	}
	c.Assert(clampExtent(device.Extent2D{Width: 4, Height: 4096}, caps), qt.Equals, device.Extent2D{Width: 16, Height: 1024})
	c.Assert(clampExtent(device.Extent2D{Width: 640, Height: 480}, caps), qt.Equals, device.Extent2D{Width: 640, Height: 480})
}

func TestActionQueue(t *testing.T) {
	c := qt.New(t)
	var q actionQueue
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		q.add(func() error {
			order = append(order, i)
			if i == 1 {
				return errors.New("boom")
			}
			return nil
		})
	}
	c.Assert(q.pending(), qt.Equals, 3)
	c.Assert(q.perform(), qt.ErrorMatches, "boom")
	c.Assert(order, qt.DeepEquals, []int{0, 1})
	c.Assert(q.pending(), qt.Equals, 0)

	q.add(func() error { return nil })
	q.clear()
	c.Assert(q.pending(), qt.Equals, 0)
	c.Assert(q.perform(), qt.IsNil)
}
