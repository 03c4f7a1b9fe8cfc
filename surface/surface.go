// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package surface drives rendering into a window system surface: it owns
// the swapchain, the queues, command pools and synchronization objects of
// the surface, and runs the per frame sequence
//
//	BeginFrame -> BuildPrimaryCommandBuffer (per queue) -> Draw -> EndFrame
//
// from a single goroutine. Other goroutines talk to a surface through AddAction.
package surface

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devblok/kframe/core"
	"github.com/devblok/kframe/device"
	"github.com/devblok/kframe/resource"
)

// Traits describe the swapchain a surface asks for
type Traits struct {
	ImageCount     uint32
	Format         device.Format
	ColorSpace     device.ColorSpace
	ArrayLayers    uint32
	PresentMode    device.PresentMode
	PreTransform   device.SurfaceTransform
	CompositeAlpha device.CompositeAlpha

	// Extent is used when the window system leaves the size to the swapchain
	Extent device.Extent2D
}

// DefaultTraits asks for triple buffering with fifo presentation
func DefaultTraits() Traits {
	return Traits{
		ImageCount:  3,
		ColorSpace:  device.ColorSpaceSrgbNonlinear,
		ArrayLayers: 1,
		PresentMode: device.PresentModeFifo,
	}
}

// TraitsFromConfiguration builds traits out of the renderer configuration
func TraitsFromConfiguration(cfg core.RendererConfiguration) (Traits, error) {
	t := DefaultTraits()
	t.ImageCount = cfg.SwapchainSize
	t.Extent = device.Extent2D{Width: cfg.ScreenWidth, Height: cfg.ScreenHeight}
	switch cfg.PresentMode {
	case core.PresentModeFifo:
		t.PresentMode = device.PresentModeFifo
	case core.PresentModeMailbox:
		t.PresentMode = device.PresentModeMailbox
	case core.PresentModeImmediate:
		t.PresentMode = device.PresentModeImmediate
	default:
		return t, errors.Wrapf(core.ErrConfiguration, "unknown present mode %q", cfg.PresentMode)
	}
	return t, nil
}

// undefinedExtent is reported by window systems that let the swapchain pick the size
const undefinedExtent = ^uint32(0)

// New creates an unrealized surface for a native surface handle on d
func New(d *device.Device, handle device.Surface, traits Traits) *Surface {
	if traits.ArrayLayers == 0 {
		traits.ArrayLayers = 1
	}
	return &Surface{
		id:         handle,
		device:     d,
		traits:     traits,
		imageCount: traits.ImageCount,
	}
}

// Surface renders a workflow into a native surface. Apart from AddAction
// its methods must be called from the goroutine driving the frames.
type Surface struct {
	id       device.Surface
	device   *device.Device
	traits   Traits
	workflow RenderWorkflow

	sequences *WorkflowSequences
	actions   actionQueue
	realized  bool

	capabilities    device.SurfaceCapabilities
	presentModes    []device.PresentMode
	formats         []device.SurfaceFormat
	supportsPresent []bool

	queues           []*device.DeviceQueue
	pools            []*resource.CommandPool
	primaries        []*resource.CommandBuffer
	frameBufferReady []device.Semaphore
	renderComplete   []device.Semaphore

	prepare        *resource.CommandBuffer
	present        *resource.CommandBuffer
	imageAvailable device.Semaphore
	renderFinished device.Semaphore
	fences         []device.Fence

	swapchain  device.Swapchain
	extent     device.Extent2D
	images     []*resource.Image
	imageIndex uint32
	imageCount uint32
	resized    bool

	onRenderStart  func(*Surface)
	onRenderFinish func(*Surface)
}

// ID returns the native surface handle
func (s *Surface) ID() device.Surface {
	return s.id
}

// Device returns the device the surface renders with
func (s *Surface) Device() *device.Device {
	return s.device
}

// Extent returns the swapchain extent
func (s *Surface) Extent() device.Extent2D {
	return s.extent
}

// ImageCount returns the number of swapchain images resources keep slots for
func (s *Surface) ImageCount() uint32 {
	return s.imageCount
}

// ImageIndex returns the swapchain image of the current frame
func (s *Surface) ImageIndex() uint32 {
	return s.imageIndex
}

// SwapChainImages returns the images of the current swapchain
func (s *Surface) SwapChainImages() []*resource.Image {
	return s.images
}

// Traits returns the requested swapchain traits
func (s *Surface) Traits() Traits {
	return s.traits
}

// Realized reports whether Realize succeeded
func (s *Surface) Realized() bool {
	return s.realized
}

// FrameBuffer returns the frame buffer of the compiled workflow
func (s *Surface) FrameBuffer() (*resource.FrameBuffer, error) {
	if s.sequences == nil {
		return nil, errors.Wrapf(core.ErrConfiguration, "surface %d: workflow not compiled", s.id)
	}
	return s.sequences.FrameBuffer, nil
}

// PresentationCommandPool returns the command pool of the presentation queue
func (s *Surface) PresentationCommandPool() *resource.CommandPool {
	if !s.realized {
		return nil
	}
	return s.pools[s.sequences.PresentationQueue]
}

// PresentationQueue returns the queue frames are presented on
func (s *Surface) PresentationQueue() *device.DeviceQueue {
	if !s.realized {
		return nil
	}
	return s.queues[s.sequences.PresentationQueue]
}

// RenderContext returns the context resources are validated with during
// the current frame.
func (s *Surface) RenderContext() resource.RenderContext {
	return resource.RenderContext{
		Device:      s.device,
		Surface:     s,
		CommandPool: s.PresentationCommandPool(),
		Queue:       s.PresentationQueue(),
		ImageCount:  s.imageCount,
		ActiveIndex: s.imageIndex,
	}
}

// SetRenderWorkflow sets the workflow the surface renders. It must be set before Realize.
func (s *Surface) SetRenderWorkflow(w RenderWorkflow) {
	s.workflow = w
}

// SetEvents registers callbacks run when a frame starts and after it was presented
func (s *Surface) SetEvents(renderStart, renderFinish func(*Surface)) {
	s.onRenderStart, s.onRenderFinish = renderStart, renderFinish
}

// AddAction queues fn to run at the start of the next BeginFrame. It is
// safe to call from any goroutine.
func (s *Surface) AddAction(fn func() error) {
	s.actions.add(fn)
}

func (s *Surface) logger() *log.Entry {
	return log.WithFields(log.Fields{"surface": s.id, "device": s.device.ID()})
}

// Realize queries the surface and creates every queue, command buffer and
// synchronization object the frames need. It runs once.
func (s *Surface) Realize() error {
	if s.realized {
		return nil
	}
	driver := s.device.Driver()

	caps, err := driver.SurfaceCapabilities(s.id)
	if err != nil {
		return core.Fatal(err, "vk.GetPhysicalDeviceSurfaceCapabilitiesKHR()")
	}
	s.capabilities = caps

	if s.presentModes, err = driver.SurfacePresentModes(s.id); err != nil {
		return core.Fatal(err, "vk.GetPhysicalDeviceSurfacePresentModesKHR()")
	}
	if len(s.presentModes) == 0 {
		return errors.Wrapf(core.ErrConfiguration, "surface %d: no present modes", s.id)
	}
	if s.formats, err = driver.SurfaceFormats(s.id); err != nil {
		return core.Fatal(err, "vk.GetPhysicalDeviceSurfaceFormatsKHR()")
	}
	if len(s.formats) == 0 {
		return errors.Wrapf(core.ErrConfiguration, "surface %d: no surface formats", s.id)
	}
	if err := s.checkTraits(); err != nil {
		return err
	}

	families := driver.QueueFamilies()
	s.supportsPresent = make([]bool, len(families))
	for i := range families {
		if s.supportsPresent[i], err = driver.SurfaceSupport(uint32(i), s.id); err != nil {
			return core.Fatal(err, "vk.GetPhysicalDeviceSurfaceSupportKHR()")
		}
	}

	if s.workflow == nil {
		return errors.Wrapf(core.ErrConfiguration, "surface %d: render workflow not defined", s.id)
	}
	if _, err := s.checkWorkflow(); err != nil {
		return err
	}

	if err := s.createQueues(); err != nil {
		s.Cleanup()
		return err
	}
	if err := s.createFrameObjects(); err != nil {
		s.Cleanup()
		return err
	}

	s.realized = true
	s.logger().WithField("images", s.imageCount).Info("surface realized")
	return nil
}

func (s *Surface) checkTraits() error {
	t := &s.traits
	caps := s.capabilities
	if t.ImageCount < caps.MinImageCount {
		t.ImageCount = caps.MinImageCount
	}
	if caps.MaxImageCount > 0 && t.ImageCount > caps.MaxImageCount {
		t.ImageCount = caps.MaxImageCount
	}
	if s.imageCount < t.ImageCount {
		s.imageCount = t.ImageCount
	}

	supported := false
	for _, m := range s.presentModes {
		supported = supported || m == t.PresentMode
	}
	if !supported {
		return errors.Wrapf(core.ErrConfiguration, "surface %d: present mode %d not supported", s.id, t.PresentMode)
	}
	if t.Format != 0 {
		supported = false
		for _, f := range s.formats {
			supported = supported || f.Format == t.Format
		}
		if !supported {
			return errors.Wrapf(core.ErrConfiguration, "surface %d: format %d not supported", s.id, t.Format)
		}
	}

	if t.PreTransform == 0 {
		if caps.SupportedTransforms&device.SurfaceTransformIdentity != 0 {
			t.PreTransform = device.SurfaceTransformIdentity
		} else {
			t.PreTransform = caps.CurrentTransform
		}
	}
	if t.CompositeAlpha == 0 {
		t.CompositeAlpha = device.CompositeAlphaOpaque
		for _, a := range []device.CompositeAlpha{
			device.CompositeAlphaOpaque,
			device.CompositeAlphaPreMultiplied,
			device.CompositeAlphaPostMultiplied,
			device.CompositeAlphaInherit,
		} {
			if caps.CompositeAlpha&a != 0 {
				t.CompositeAlpha = a
				break
			}
		}
	}
	return nil
}

func (s *Surface) createQueues() error {
	driver := s.device.Driver()
	for _, traits := range s.sequences.QueueTraits {
		q, err := s.device.Queue(traits, true)
		if err != nil {
			return errors.Wrapf(err, "surface %d", s.id)
		}
		s.queues = append(s.queues, q)
		if int(q.Family) >= len(s.supportsPresent) || !s.supportsPresent[q.Family] {
			return errors.Wrapf(core.ErrConfiguration, "surface %d: queue family %d does not support presentation", s.id, q.Family)
		}

		pool, err := resource.NewCommandPool(s.device, q.Family)
		if err != nil {
			return err
		}
		s.pools = append(s.pools, pool)

		primary, err := resource.NewCommandBuffer(s.device, pool, device.CommandBufferLevelPrimary, s.imageCount)
		if err != nil {
			return err
		}
		s.primaries = append(s.primaries, primary)

		ready, err := driver.CreateSemaphore()
		if err != nil {
			return core.Fatal(err, "vk.CreateSemaphore()")
		}
		s.frameBufferReady = append(s.frameBufferReady, ready)
		complete, err := driver.CreateSemaphore()
		if err != nil {
			return core.Fatal(err, "vk.CreateSemaphore()")
		}
		s.renderComplete = append(s.renderComplete, complete)
	}
	return nil
}

func (s *Surface) createFrameObjects() error {
	driver := s.device.Driver()
	pool := s.pools[s.sequences.PresentationQueue]

	var err error
	if s.prepare, err = resource.NewCommandBuffer(s.device, pool, device.CommandBufferLevelPrimary, s.imageCount); err != nil {
		return err
	}
	if s.present, err = resource.NewCommandBuffer(s.device, pool, device.CommandBufferLevelPrimary, s.imageCount); err != nil {
		return err
	}
	if s.imageAvailable, err = driver.CreateSemaphore(); err != nil {
		return core.Fatal(err, "vk.CreateSemaphore()")
	}
	if s.renderFinished, err = driver.CreateSemaphore(); err != nil {
		return core.Fatal(err, "vk.CreateSemaphore()")
	}
	return s.growFences(s.imageCount)
}

// growFences creates pre signaled fences until there are count of them
func (s *Surface) growFences(count uint32) error {
	for uint32(len(s.fences)) < count {
		f, err := s.device.Driver().CreateFence(true)
		if err != nil {
			return core.Fatal(err, "vk.CreateFence()")
		}
		s.fences = append(s.fences, f)
	}
	return nil
}

// checkWorkflow compiles the workflow and reports whether its topology changed
func (s *Surface) checkWorkflow() (bool, error) {
	sequences, err := s.workflow.Compile(s)
	if err != nil {
		return false, err
	}
	if sequences == s.sequences {
		return false, nil
	}
	if err := sequences.check(); err != nil {
		return false, errors.Wrapf(err, "surface %d", s.id)
	}
	if s.realized && len(sequences.QueueTraits) != len(s.queues) {
		return false, errors.Wrapf(core.ErrConfiguration, "surface %d: workflow changed from %d to %d queues", s.id, len(s.queues), len(sequences.QueueTraits))
	}
	s.sequences = sequences
	s.invalidateCommandBuffers(true)
	s.logger().Debug("workflow changed")
	return true, nil
}

func (s *Surface) invalidateCommandBuffers(primaries bool) {
	if s.prepare != nil {
		s.prepare.Invalidate(resource.AllIndices)
	}
	if s.present != nil {
		s.present.Invalidate(resource.AllIndices)
	}
	if primaries {
		for _, cb := range s.primaries {
			cb.Invalidate(resource.AllIndices)
		}
	}
}

// CreateSwapChain replaces the swapchain with one matching the current
// surface size. It waits for the device to go idle first.
func (s *Surface) CreateSwapChain() error {
	if s.sequences == nil {
		return errors.Wrapf(core.ErrConfiguration, "surface %d: swapchain created before the workflow was compiled", s.id)
	}
	driver := s.device.Driver()
	if err := s.device.WaitIdle(); err != nil {
		return err
	}

	caps, err := driver.SurfaceCapabilities(s.id)
	if err != nil {
		return core.Fatal(err, "vk.GetPhysicalDeviceSurfaceCapabilitiesKHR()")
	}
	s.capabilities = caps
	extent := caps.CurrentExtent
	if extent.Width == undefinedExtent {
		extent = clampExtent(s.traits.Extent, caps)
	}

	def := s.sequences.FrameBuffer.FrameBufferImages().SwapChainDefinition()
	format := def.Format
	if s.traits.Format != 0 {
		format = s.traits.Format
	}
	old := s.swapchain
	swapchain, err := driver.CreateSwapchain(device.SwapchainCreateInfo{
		Surface:        s.id,
		MinImageCount:  s.traits.ImageCount,
		Format:         format,
		ColorSpace:     s.traits.ColorSpace,
		Extent:         extent,
		ArrayLayers:    s.traits.ArrayLayers,
		Usage:          def.Usage,
		SharingMode:    device.SharingModeExclusive,
		PreTransform:   s.traits.PreTransform,
		CompositeAlpha: s.traits.CompositeAlpha,
		PresentMode:    s.traits.PresentMode,
		Clipped:        true,
		OldSwapchain:   old,
	})
	if err != nil {
		return core.Fatal(err, "vk.CreateSwapchainKHR()")
	}

	s.releaseSwapChainImages()
	if old != 0 {
		driver.DestroySwapchain(old)
	}
	s.swapchain, s.extent = swapchain, extent

	handles, err := driver.SwapchainImages(swapchain)
	if err != nil {
		return core.Fatal(err, "vk.GetSwapchainImagesKHR()")
	}
	for _, h := range handles {
		img, err := resource.NewExternalImage(s.device, h, resource.ImageTraits{
			Type:     device.ImageType2D,
			ViewType: device.ImageViewType2D,
			Format:   format,
			Extent:   device.Extent3D{Width: extent.Width, Height: extent.Height, Depth: 1},
			Usage:    def.Usage,
			Aspect:   device.ImageAspectColor,
		})
		if err != nil {
			return err
		}
		s.images = append(s.images, img)
	}

	if n := uint32(len(handles)); n > s.imageCount {
		if err := s.grow(n); err != nil {
			return err
		}
	}
	s.invalidateCommandBuffers(true)
	s.resized = true

	s.logger().WithFields(log.Fields{
		"width":  extent.Width,
		"height": extent.Height,
		"images": len(s.images),
	}).Info("swapchain created")
	return nil
}

// grow makes room for count swapchain images
func (s *Surface) grow(count uint32) error {
	if err := s.growFences(count); err != nil {
		return err
	}
	for _, cb := range append([]*resource.CommandBuffer{s.prepare, s.present}, s.primaries...) {
		if cb == nil {
			continue
		}
		if err := cb.Resize(count); err != nil {
			return err
		}
	}
	s.imageCount = count
	return nil
}

func (s *Surface) releaseSwapChainImages() {
	for _, img := range s.images {
		img.Release()
	}
	s.images = nil
}

func clampExtent(e device.Extent2D, caps device.SurfaceCapabilities) device.Extent2D {
	clamp := func(v, lo, hi uint32) uint32 {
		if v < lo {
			return lo
		}
		if hi > 0 && v > hi {
			return hi
		}
		return v
	}
	return device.Extent2D{
		Width:  clamp(e.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
		Height: clamp(e.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
	}
}

// ResizeSurface recreates the swapchain for a new window size. Only a
// change of both width and height triggers the recreation, a change in
// one dimension is picked up when the swapchain reports out of date.
func (s *Surface) ResizeSurface(width, height uint32) error {
	if !s.realized || s.swapchain == 0 {
		return nil
	}
	if s.extent.Width != width && s.extent.Height != height {
		s.traits.Extent = device.Extent2D{Width: width, Height: height}
		return s.CreateSwapChain()
	}
	return nil
}

// Cleanup tears the surface down in reverse order of creation. The
// native surface is destroyed too, so a cleaned up surface cannot be reused.
func (s *Surface) Cleanup() {
	if s.id == 0 {
		return
	}
	driver := s.device.Driver()
	if err := s.device.WaitIdle(); err != nil {
		s.logger().WithError(err).Warn("device did not go idle before cleanup")
	}

	s.actions.clear()
	s.onRenderStart, s.onRenderFinish = nil, nil

	if s.swapchain != 0 {
		s.releaseSwapChainImages()
		driver.DestroySwapchain(s.swapchain)
		s.swapchain = 0
	}
	if s.sequences != nil {
		s.sequences.FrameBuffer.ResetSurface(s)
		if fbi := s.sequences.FrameBuffer.FrameBufferImages(); fbi != nil {
			fbi.Reset(s)
		}
	}

	for _, f := range s.fences {
		driver.DestroyFence(f)
	}
	s.fences = nil
	for _, sem := range append(s.renderComplete, s.frameBufferReady...) {
		driver.DestroySemaphore(sem)
	}
	s.renderComplete, s.frameBufferReady = nil, nil
	if s.renderFinished != 0 {
		driver.DestroySemaphore(s.renderFinished)
		s.renderFinished = 0
	}
	if s.imageAvailable != 0 {
		driver.DestroySemaphore(s.imageAvailable)
		s.imageAvailable = 0
	}

	s.prepare.Release()
	s.present.Release()
	for _, cb := range s.primaries {
		cb.Release()
	}
	s.prepare, s.present, s.primaries = nil, nil, nil
	for _, p := range s.pools {
		p.Release()
	}
	s.pools = nil

	for _, q := range s.queues {
		s.device.ReleaseQueue(q)
	}
	s.queues = nil

	driver.DestroySurface(s.id)
	s.logger().Info("surface cleaned up")
	s.id = 0
	s.realized = false
}
