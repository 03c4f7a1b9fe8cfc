// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package surface_test

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/pkg/errors"

	"github.com/devblok/kframe/core"
	"github.com/devblok/kframe/device"
	"github.com/devblok/kframe/device/devicetest"
	"github.com/devblok/kframe/resource"
	"github.com/devblok/kframe/surface"
)

const surfaceHandle device.Surface = 42

var graphics = device.QueueTraits{MustHave: device.QueueGraphics, Priority: 1}

type harness struct {
	driver      *devicetest.Driver
	device      *device.Device
	images      *resource.FrameBufferImages
	renderPass  *resource.RenderPass
	frameBuffer *resource.FrameBuffer
	vertices    *resource.GenericBuffer
	sequences   *surface.WorkflowSequences
	workflow    *surface.StaticWorkflow
	surface     *surface.Surface
}

func newHarness(c *qt.C, setup ...func(*devicetest.Driver)) *harness {
	h := &harness{driver: devicetest.New()}
	for _, fn := range setup {
		fn(h.driver)
	}
	d, err := device.New(h.driver, []device.QueueTraits{graphics})
	c.Assert(err, qt.IsNil)
	var r device.Registry
	r.Register(d)
	h.device = d

	h.images = resource.NewFrameBufferImages([]resource.FrameBufferImageDefinition{
		resource.DefaultSwapChainDefinition(),
		{
			AttachmentType: resource.AttachmentDepth,
			Format:         device.FormatD32Sfloat,
			Usage:          device.ImageUsageDepthStencilAttachment,
			Aspect:         device.ImageAspectDepth,
			Name:           "depth",
			Size:           resource.SurfaceSize(1, 1),
		},
	}, device.NewHeapAllocator(device.MemoryPropertyDeviceLocal, 32<<20))
	h.renderPass = resource.NewRenderPass(h.images, []resource.AttachmentDefinition{
		{ImageDefinition: 0, LoadOp: device.AttachmentLoadOpClear, InitialLayout: device.ImageLayoutColorAttachmentOptimal, FinalLayout: device.ImageLayoutColorAttachmentOptimal},
		{ImageDefinition: 1, LoadOp: device.AttachmentLoadOpClear, InitialLayout: device.ImageLayoutDepthStencilAttachmentOptimal, FinalLayout: device.ImageLayoutDepthStencilAttachmentOptimal, Clear: device.ClearValue{Depth: 1}},
	})
	h.frameBuffer = resource.NewFrameBuffer(3, h.images, h.renderPass)
	h.vertices = resource.NewGenericBuffer(resource.Bytes(make([]byte, 36)), device.NewHeapAllocator(device.MemoryPropertyDeviceLocal, 1<<20), device.BufferUsageVertex, resource.OnceForAllSwapChainImages)

	h.sequences = h.newSequences()
	h.workflow = surface.NewStaticWorkflow(h.sequences)
	h.surface = surface.New(d, surfaceHandle, surface.DefaultTraits())
	h.surface.SetRenderWorkflow(h.workflow)
	return h
}

func (h *harness) newSequences() *surface.WorkflowSequences {
	return &surface.WorkflowSequences{
		QueueTraits: []device.QueueTraits{graphics},
		Commands: [][]surface.Command{{
			&surface.RenderPassCommand{FrameBuffer: h.frameBuffer, VertexBuffers: []*resource.GenericBuffer{h.vertices}},
		}},
		FrameBuffer:    h.frameBuffer,
		InitialLayouts: []device.ImageLayout{device.ImageLayoutColorAttachmentOptimal, device.ImageLayoutDepthStencilAttachmentOptimal},
	}
}

func (h *harness) realize(c *qt.C) {
	c.Assert(h.surface.Realize(), qt.IsNil)
}

func TestRealizeErrors(t *testing.T) {
	tests := []struct {
		about string
		setup func(*devicetest.Driver)
		match string
	}{{
		about: "no present modes",
		setup: func(d *devicetest.Driver) { d.PresentModes = nil },
		match: "surface 42: no present modes: configuration error",
	}, {
		about: "no surface formats",
		setup: func(d *devicetest.Driver) { d.Formats = nil },
		match: "surface 42: no surface formats: configuration error",
	}, {
		about: "present mode not offered",
		setup: func(d *devicetest.Driver) { d.PresentModes = []device.PresentMode{device.PresentModeMailbox} },
		match: "surface 42: present mode 2 not supported: configuration error",
	}, {
		about: "queue family without presentation",
		setup: func(d *devicetest.Driver) { d.NoPresent = map[uint32]bool{0: true} },
		match: "surface 42: queue family 0 does not support presentation: configuration error",
	}}
	for _, test := range tests {
		t.Run(test.about, func(t *testing.T) {
			c := qt.New(t)
			h := newHarness(c, test.setup)
			err := h.surface.Realize()
			c.Assert(err, qt.ErrorMatches, test.match)
			c.Assert(errors.Is(err, core.ErrConfiguration), qt.Equals, true)
			c.Assert(h.surface.Realized(), qt.Equals, false)
		})
	}
}

func TestRealizeWithoutWorkflow(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c)
	h.surface.SetRenderWorkflow(nil)
	err := h.surface.Realize()
	c.Assert(err, qt.ErrorMatches, "surface 42: render workflow not defined: configuration error")
}

func TestRealizeFailureReleasesQueues(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c, func(d *devicetest.Driver) { d.NoPresent = map[uint32]bool{0: true} })
	c.Assert(h.surface.Realize(), qt.Not(qt.IsNil))
	_, err := h.device.Queue(graphics, true)
	c.Assert(err, qt.IsNil)
	c.Assert(h.driver.SurfaceDestroyed(surfaceHandle), qt.Equals, true)
}

func TestRealize(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c)
	h.realize(c)
	c.Assert(h.surface.Realize(), qt.IsNil)

	c.Assert(h.surface.ImageCount(), qt.Equals, uint32(3))
	c.Assert(h.driver.Live("fence"), qt.Equals, 3)
	// image available, render finished, one ready and one complete per queue
	c.Assert(h.driver.Live("semaphore"), qt.Equals, 4)
	c.Assert(h.driver.Live("pool"), qt.Equals, 1)
	c.Assert(h.surface.PresentationQueue(), qt.Not(qt.IsNil))
	c.Assert(h.surface.PresentationCommandPool(), qt.Not(qt.IsNil))

	_, err := h.device.Queue(graphics, true)
	c.Assert(errors.Is(err, core.ErrConfiguration), qt.Equals, true)
}

func TestFrameBeforeRealize(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c)
	err := h.surface.BeginFrame()
	c.Assert(errors.Is(err, core.ErrConfiguration), qt.Equals, true)
	err = h.surface.Draw()
	c.Assert(err, qt.ErrorMatches, "surface 42: frame drawn before Realize: configuration error")
	err = h.surface.EndFrame()
	c.Assert(err, qt.ErrorMatches, "surface 42: frame ended before Realize: configuration error")
	c.Assert(errors.Is(h.surface.Frame(), core.ErrConfiguration), qt.Equals, true)

	h.realize(c)
	h.surface.Cleanup()
	c.Assert(errors.Is(h.surface.Draw(), core.ErrConfiguration), qt.Equals, true)
	c.Assert(errors.Is(h.surface.EndFrame(), core.ErrConfiguration), qt.Equals, true)
}

func TestFullFrame(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c)
	h.realize(c)

	c.Assert(h.surface.Frame(), qt.IsNil)
	c.Assert(h.surface.ImageIndex(), qt.Equals, uint32(0))
	c.Assert(h.surface.SwapChainImages(), qt.HasLen, 3)
	c.Assert(h.surface.Extent(), qt.Equals, device.Extent2D{Width: 800, Height: 600})

	submits := h.driver.Submits()
	c.Assert(submits, qt.HasLen, 4) // vertex upload, prepare, primary, present
	prepare, primary, present := submits[1], submits[2], submits[3]

	c.Assert(prepare.WaitSemaphores, qt.HasLen, 1)
	c.Assert(prepare.WaitStages, qt.DeepEquals, []device.PipelineStage{device.PipelineStageBottomOfPipe})
	c.Assert(prepare.SignalSemaphores, qt.DeepEquals, primary.WaitSemaphores)
	c.Assert(present.WaitSemaphores, qt.DeepEquals, primary.SignalSemaphores)
	c.Assert(present.SignalSemaphores, qt.HasLen, 1)

	presents := h.driver.Presents()
	c.Assert(presents, qt.HasLen, 1)
	c.Assert(presents[0].ImageIndex, qt.Equals, uint32(0))
	c.Assert(presents[0].WaitSemaphores, qt.DeepEquals, present.SignalSemaphores)

	swapchainImage := h.surface.SwapChainImages()[0].Handle()
	ops := h.driver.Ops(prepare.CommandBuffers[0])
	c.Assert(ops, qt.HasLen, 2)
	c.Assert(ops[0].SrcStage, qt.Equals, device.PipelineStageBottomOfPipe)
	c.Assert(ops[0].DstStage, qt.Equals, device.PipelineStageColorAttachmentOutput)
	c.Assert(ops[0].Dependency, qt.Equals, device.DependencyByRegion)
	c.Assert(ops[0].Barriers, qt.HasLen, 1)
	c.Assert(ops[0].Barriers[0].Image, qt.Equals, swapchainImage)
	c.Assert(ops[0].Barriers[0].OldLayout, qt.Equals, device.ImageLayoutUndefined)
	c.Assert(ops[0].Barriers[0].NewLayout, qt.Equals, device.ImageLayoutColorAttachmentOptimal)
	c.Assert(ops[1].DstStage, qt.Equals, device.PipelineStageEarlyFragmentTests|device.PipelineStageLateFragmentTests)
	c.Assert(ops[1].Barriers[0].Range.Aspect, qt.Equals, device.ImageAspectDepth)

	ops = h.driver.Ops(present.CommandBuffers[0])
	c.Assert(ops, qt.HasLen, 1)
	c.Assert(ops[0].SrcStage, qt.Equals, device.PipelineStageAllCommands)
	c.Assert(ops[0].DstStage, qt.Equals, device.PipelineStageBottomOfPipe)
	c.Assert(ops[0].Barriers, qt.DeepEquals, []device.ImageBarrier{{
		SrcAccess: device.AccessColorAttachmentWrite,
		DstAccess: device.AccessMemoryRead,
		OldLayout: device.ImageLayoutColorAttachmentOptimal,
		NewLayout: device.ImageLayoutPresentSrc,
		Image:     swapchainImage,
		Range:     device.ImageSubresourceRange{Aspect: device.ImageAspectColor, LevelCount: 1, LayerCount: 1},
	}})

	ops = h.driver.Ops(primary.CommandBuffers[0])
	c.Assert(ops, qt.HasLen, 3)
	c.Assert(ops[0].Name, qt.Equals, "CmdBeginRenderPass")
	c.Assert(ops[0].Begin.Framebuffer, qt.Equals, h.frameBuffer.Handle(h.surface, 0))
	c.Assert(ops[0].Begin.ClearValues, qt.HasLen, 2)
	c.Assert(ops[1].Name, qt.Equals, "CmdBindVertexBuffers")
	c.Assert(ops[1].Buffers, qt.DeepEquals, []device.Buffer{h.vertices.BufferHandle(h.surface.RenderContext())})
	c.Assert(ops[2].Name, qt.Equals, "CmdEndRenderPass")
}

func TestRecordingsAreCached(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c)
	h.realize(c)

	for i := 0; i < 3; i++ {
		c.Assert(h.surface.Frame(), qt.IsNil)
	}
	c.Assert(h.driver.Count("CmdBeginRenderPass"), qt.Equals, 3)
	c.Assert(h.driver.Count("CreateFramebuffer"), qt.Equals, 3)

	h.driver.ResetCalls()
	for i := 0; i < 3; i++ {
		c.Assert(h.surface.Frame(), qt.IsNil)
	}
	c.Assert(h.driver.Count("BeginCommandBuffer"), qt.Equals, 0)
	c.Assert(h.driver.Count("CreateFramebuffer"), qt.Equals, 0)
	c.Assert(h.driver.Count("QueueSubmit"), qt.Equals, 9)
	c.Assert(h.driver.Count("QueuePresent"), qt.Equals, 3)

	// a new topology is recorded again
	h.workflow.Set(h.newSequences())
	c.Assert(h.surface.Frame(), qt.IsNil)
	c.Assert(h.driver.Count("CmdBeginRenderPass"), qt.Equals, 1)
}

func TestWorkflowQueueCountCannotChange(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c)
	h.realize(c)
	c.Assert(h.surface.Frame(), qt.IsNil)

	seq := h.newSequences()
	seq.QueueTraits = append(seq.QueueTraits, graphics)
	seq.Commands = append(seq.Commands, nil)
	h.workflow.Set(seq)
	err := h.surface.BeginFrame()
	c.Assert(err, qt.ErrorMatches, "surface 42: workflow changed from 1 to 2 queues: configuration error")
}

func TestAcquireOutOfDateRecovers(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c)
	h.realize(c)
	h.driver.ScriptAcquire(device.ErrorOutOfDate)

	c.Assert(h.surface.Frame(), qt.IsNil)
	c.Assert(h.driver.Count("CreateSwapchain"), qt.Equals, 2)
	c.Assert(h.driver.Live("swapchain"), qt.Equals, 1)

	calls := h.driver.Calls()
	created, destroyed := -1, -1
	for i, call := range calls {
		switch call {
		case "CreateSwapchain":
			created = i
		case "DestroySwapchain":
			destroyed = i
		}
	}
	c.Assert(destroyed > created, qt.Equals, true)
}

func TestAcquireOutOfDateTwiceFails(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c)
	h.realize(c)
	h.driver.ScriptAcquire(device.ErrorOutOfDate, device.ErrorOutOfDate)

	err := h.surface.BeginFrame()
	c.Assert(err, qt.ErrorMatches, "surface 42: vk.AcquireNextImageKHR\\(\\): out of date: swapchain error")
	c.Assert(errors.Is(err, core.ErrSwapchain), qt.Equals, true)
}

func TestAcquireFailure(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c)
	h.realize(c)
	h.driver.ScriptAcquire(device.ErrorSurfaceLost)

	err := h.surface.BeginFrame()
	c.Assert(errors.Is(err, core.ErrSwapchain), qt.Equals, true)
	c.Assert(h.driver.Count("CreateSwapchain"), qt.Equals, 1)
}

func TestPresentOutOfDateIsSwallowed(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c)
	h.realize(c)
	h.driver.ScriptPresent(device.ErrorOutOfDate, device.Suboptimal, device.ErrorDeviceLost)

	c.Assert(h.surface.Frame(), qt.IsNil)
	c.Assert(h.surface.Frame(), qt.IsNil)
	err := h.surface.Frame()
	c.Assert(err, qt.ErrorMatches, "surface 42: vk.QueuePresentKHR\\(\\): device lost: swapchain error")
}

func TestResizeSurface(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c)
	h.realize(c)
	c.Assert(h.surface.ResizeSurface(1024, 768), qt.IsNil) // no swapchain yet
	c.Assert(h.surface.Frame(), qt.IsNil)
	c.Assert(h.driver.Count("CreateSwapchain"), qt.Equals, 1)

	// only one dimension changed
	h.driver.SetExtent(1024, 600)
	c.Assert(h.surface.ResizeSurface(1024, 600), qt.IsNil)
	c.Assert(h.driver.Count("CreateSwapchain"), qt.Equals, 1)
	h.driver.SetExtent(800, 768)
	c.Assert(h.surface.ResizeSurface(800, 768), qt.IsNil)
	c.Assert(h.driver.Count("CreateSwapchain"), qt.Equals, 1)

	h.driver.SetExtent(1024, 768)
	c.Assert(h.surface.ResizeSurface(1024, 768), qt.IsNil)
	c.Assert(h.driver.Count("CreateSwapchain"), qt.Equals, 2)
	c.Assert(h.surface.Extent(), qt.Equals, device.Extent2D{Width: 1024, Height: 768})

	c.Assert(h.surface.Frame(), qt.IsNil)
	depth := h.images.Image(h.surface, 1)
	c.Assert(depth.Traits().Extent, qt.Equals, device.Extent3D{Width: 1024, Height: 768, Depth: 1})
	info, ok := h.driver.FramebufferInfo(h.frameBuffer.Handle(h.surface, h.surface.ImageIndex()))
	c.Assert(ok, qt.Equals, true)
	c.Assert(info.Width, qt.Equals, uint32(1024))
}

func TestActions(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c)
	h.realize(c)
	c.Assert(h.surface.Frame(), qt.IsNil)

	h.driver.SetExtent(1280, 720)
	ran := 0
	h.surface.AddAction(func() error {
		ran++
		return h.surface.ResizeSurface(1280, 720)
	})
	c.Assert(h.surface.Frame(), qt.IsNil)
	c.Assert(ran, qt.Equals, 1)
	c.Assert(h.surface.Extent(), qt.Equals, device.Extent2D{Width: 1280, Height: 720})
	c.Assert(h.driver.Count("CreateSwapchain"), qt.Equals, 2)
	depth := h.images.Image(h.surface, 1)
	c.Assert(depth.Traits().Extent, qt.Equals, device.Extent3D{Width: 1280, Height: 720, Depth: 1})

	h.surface.AddAction(func() error { return errors.New("window gone") })
	h.surface.AddAction(func() error {
		ran++
		return nil
	})
	c.Assert(h.surface.BeginFrame(), qt.ErrorMatches, "window gone")
	c.Assert(h.surface.Frame(), qt.IsNil)
	c.Assert(ran, qt.Equals, 1)
}

func TestEvents(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c)
	h.realize(c)

	var started, finished int
	h.surface.SetEvents(func(*surface.Surface) { started++ }, func(*surface.Surface) { finished++ })
	c.Assert(h.surface.Frame(), qt.IsNil)
	c.Assert(h.surface.Frame(), qt.IsNil)
	c.Assert(started, qt.Equals, 2)
	c.Assert(finished, qt.Equals, 2)
}

func TestSwapchainWithMoreImages(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c, func(d *devicetest.Driver) { d.ImageCount = 5 })
	h.realize(c)

	for i := 0; i < 5; i++ {
		c.Assert(h.surface.Frame(), qt.IsNil)
	}
	c.Assert(h.surface.ImageCount(), qt.Equals, uint32(5))
	c.Assert(h.surface.SwapChainImages(), qt.HasLen, 5)
	c.Assert(h.driver.Live("fence"), qt.Equals, 5)
	c.Assert(h.surface.ImageIndex(), qt.Equals, uint32(4))
}

func TestUnknownAttachmentType(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c)
	h.images = resource.NewFrameBufferImages([]resource.FrameBufferImageDefinition{
		resource.DefaultSwapChainDefinition(),
		{AttachmentType: resource.AttachmentType(99), Format: device.FormatR8g8b8a8Unorm, Name: "mystery", Size: resource.SurfaceSize(1, 1)},
	}, device.NewHeapAllocator(device.MemoryPropertyDeviceLocal, 32<<20))
	h.frameBuffer = resource.NewFrameBuffer(3, h.images, resource.NewRenderPass(h.images, []resource.AttachmentDefinition{{ImageDefinition: 0}}))
	seq := h.newSequences()
	seq.InitialLayouts = []device.ImageLayout{device.ImageLayoutColorAttachmentOptimal, device.ImageLayoutGeneral}
	h.workflow.Set(seq)
	h.realize(c)

	err := h.surface.BeginFrame()
	c.Assert(err, qt.ErrorMatches, `surface 42: frame buffer image "mystery" has attachment type 99: configuration error`)
}

func TestCleanup(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c)
	h.realize(c)
	for i := 0; i < 4; i++ {
		c.Assert(h.surface.Frame(), qt.IsNil)
	}

	h.surface.Cleanup()
	h.renderPass.Release()
	h.vertices.Release()

	for _, kind := range []string{"swapchain", "fence", "semaphore", "commandbuffer", "pool", "framebuffer", "renderpass", "view", "image"} {
		c.Check(h.driver.Live(kind), qt.Equals, 0, qt.Commentf(kind))
	}
	c.Assert(h.driver.SurfaceDestroyed(surfaceHandle), qt.Equals, true)
	c.Assert(h.surface.Realized(), qt.Equals, false)

	_, err := h.device.Queue(graphics, true)
	c.Assert(err, qt.IsNil)

	h.device.Destroy()
	c.Assert(h.driver.Live("buffer"), qt.Equals, 0)
}

func TestTraitsFromConfiguration(t *testing.T) {
	c := qt.New(t)
	traits, err := surface.TraitsFromConfiguration(core.RendererConfiguration{
		SwapchainSize: 2,
		PresentMode:   core.PresentModeMailbox,
		ScreenWidth:   640,
		ScreenHeight:  480,
	})
	c.Assert(err, qt.IsNil)
	c.Assert(traits.ImageCount, qt.Equals, uint32(2))
	c.Assert(traits.PresentMode, qt.Equals, device.PresentModeMailbox)
	c.Assert(traits.Extent, qt.Equals, device.Extent2D{Width: 640, Height: 480})

	_, err = surface.TraitsFromConfiguration(core.RendererConfiguration{PresentMode: "vsync"})
	c.Assert(errors.Is(err, core.ErrConfiguration), qt.Equals, true)
}
