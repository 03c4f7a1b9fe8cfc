// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package surface

import (
	"math"

	"github.com/pkg/errors"

	"github.com/devblok/kframe/core"
	"github.com/devblok/kframe/device"
	"github.com/devblok/kframe/resource"
)

func recoverable(r device.Result) bool {
	return r == device.ErrorOutOfDate || r == device.Suboptimal
}

// BeginFrame acquires the next swapchain image and prepares everything the
// queues need to render into it.
func (s *Surface) BeginFrame() error {
	if !s.realized {
		return errors.Wrapf(core.ErrConfiguration, "surface %d: frame started before Realize", s.id)
	}
	if err := s.actions.perform(); err != nil {
		return err
	}
	driver := s.device.Driver()

	if s.swapchain == 0 {
		if err := s.CreateSwapChain(); err != nil {
			return err
		}
	}

	index, result := driver.AcquireNextImage(s.swapchain, math.MaxUint64, s.imageAvailable)
	if recoverable(result) {
		s.logger().WithField("result", result).Debug("swapchain out of date on acquire")
		if err := s.CreateSwapChain(); err != nil {
			return err
		}
		index, result = driver.AcquireNextImage(s.swapchain, math.MaxUint64, s.imageAvailable)
	}
	if result != device.Success {
		return errors.Wrapf(core.ErrSwapchain, "surface %d: vk.AcquireNextImageKHR(): %s", s.id, result)
	}
	s.imageIndex = index

	fence := []device.Fence{s.fences[index]}
	if err := driver.WaitForFences(fence, true, math.MaxUint64); err != nil {
		return core.Fatal(err, "vk.WaitForFences()")
	}
	if err := driver.ResetFences(fence); err != nil {
		return core.Fatal(err, "vk.ResetFences()")
	}

	if s.onRenderStart != nil {
		s.onRenderStart(s)
	}

	changed, err := s.checkWorkflow()
	if err != nil {
		return err
	}
	fb := s.sequences.FrameBuffer
	fbi := fb.FrameBufferImages()
	if changed || s.resized {
		fbi.Invalidate(s)
		fb.Invalidate()
	}
	s.resized = false
	if err := fbi.Validate(s); err != nil {
		return err
	}
	if err := fb.Validate(s, index, s.images); err != nil {
		return err
	}

	ctx := s.RenderContext()
	for _, cmd := range s.sequences.Commands[s.sequences.PresentationQueue] {
		if err := cmd.ValidateGPUData(ctx, false); err != nil {
			return err
		}
	}

	if err := s.recordPrepare(index); err != nil {
		return err
	}
	return s.recordPresent(index)
}

type barrierGroup struct {
	stage    device.PipelineStage
	barriers []device.ImageBarrier
}

// recordPrepare moves every frame buffer image from the undefined layout to
// its initial layout, one barrier per destination stage.
func (s *Surface) recordPrepare(index uint32) error {
	s.prepare.SetActiveIndex(index)
	if s.prepare.IsValid(index) {
		return nil
	}

	fbi := s.sequences.FrameBuffer.FrameBufferImages()
	var groups []*barrierGroup
	add := func(stage device.PipelineStage, b device.ImageBarrier) {
		for _, g := range groups {
			if g.stage == stage {
				g.barriers = append(g.barriers, b)
				return
			}
		}
		groups = append(groups, &barrierGroup{stage: stage, barriers: []device.ImageBarrier{b}})
	}

	for i, layout := range s.sequences.InitialLayouts {
		if layout == device.ImageLayoutUndefined {
			continue
		}
		def, ok := fbi.Definition(i)
		if !ok {
			return errors.Wrapf(core.ErrConfiguration, "surface %d: initial layout %d has no frame buffer image", s.id, i)
		}

		var (
			stage  device.PipelineStage
			access device.AccessFlags
			image  device.Image
		)
		switch def.AttachmentType {
		case resource.AttachmentSurface:
			stage = device.PipelineStageColorAttachmentOutput
			access = device.AccessColorAttachmentRead | device.AccessColorAttachmentWrite
			image = s.images[index].Handle()
		case resource.AttachmentColor:
			stage = device.PipelineStageColorAttachmentOutput
			access = device.AccessColorAttachmentRead | device.AccessColorAttachmentWrite
		case resource.AttachmentDepth, resource.AttachmentDepthStencil, resource.AttachmentStencil:
			stage = device.PipelineStageEarlyFragmentTests | device.PipelineStageLateFragmentTests
			access = device.AccessDepthStencilAttachmentRead | device.AccessDepthStencilAttachmentWrite
		default:
			return errors.Wrapf(core.ErrConfiguration, "surface %d: frame buffer image %q has %s", s.id, def.Name, def.AttachmentType)
		}
		if image == 0 {
			img := fbi.Image(s, i)
			if img == nil {
				return errors.Wrapf(core.ErrResource, "surface %d: frame buffer image %q not validated", s.id, def.Name)
			}
			image = img.Handle()
		}

		add(stage, device.ImageBarrier{
			DstAccess: access,
			OldLayout: device.ImageLayoutUndefined,
			NewLayout: layout,
			Image:     image,
			Range: device.ImageSubresourceRange{
				Aspect:     def.Aspect,
				LevelCount: 1,
				LayerCount: 1,
			},
		})
	}

	if err := s.prepare.Begin(); err != nil {
		return err
	}
	for _, g := range groups {
		s.prepare.PipelineBarrier(device.PipelineStageBottomOfPipe, g.stage, device.DependencyByRegion, g.barriers)
	}
	return s.prepare.End()
}

// recordPresent moves the swapchain image to the layout presentation expects
func (s *Surface) recordPresent(index uint32) error {
	s.present.SetActiveIndex(index)
	if s.present.IsValid(index) {
		return nil
	}
	if err := s.present.Begin(); err != nil {
		return err
	}
	s.present.PipelineBarrier(device.PipelineStageAllCommands, device.PipelineStageBottomOfPipe, device.DependencyByRegion, []device.ImageBarrier{{
		SrcAccess: device.AccessColorAttachmentWrite,
		DstAccess: device.AccessMemoryRead,
		OldLayout: device.ImageLayoutColorAttachmentOptimal,
		NewLayout: device.ImageLayoutPresentSrc,
		Image:     s.images[index].Handle(),
		Range: device.ImageSubresourceRange{
			Aspect:     device.ImageAspectColor,
			LevelCount: 1,
			LayerCount: 1,
		},
	}})
	return s.present.End()
}

// BuildPrimaryCommandBuffer validates the inline commands of queue and
// records them, unless the recording for the current image is still valid.
func (s *Surface) BuildPrimaryCommandBuffer(queue int) error {
	if s.sequences == nil || queue < 0 || queue >= len(s.primaries) {
		return errors.Wrapf(core.ErrConfiguration, "surface %d: no queue %d", s.id, queue)
	}
	ctx := s.RenderContext()
	commands := s.sequences.Commands[queue]
	for _, cmd := range commands {
		if cmd.Contents() != device.SubpassContentsInline {
			continue
		}
		if err := cmd.ValidateGPUData(ctx, true); err != nil {
			return err
		}
	}

	cb := s.primaries[queue]
	cb.SetActiveIndex(s.imageIndex)
	if cb.IsValid(s.imageIndex) {
		return nil
	}
	if err := cb.Begin(); err != nil {
		return err
	}
	for _, cmd := range commands {
		if cmd.Contents() != device.SubpassContentsInline {
			continue
		}
		if err := cmd.BuildCommandBuffer(ctx, cb); err != nil {
			return err
		}
	}
	return cb.End()
}

// Draw submits the prepare buffer and then every queue's primary buffer
func (s *Surface) Draw() error {
	if !s.realized {
		return errors.Wrapf(core.ErrConfiguration, "surface %d: frame drawn before Realize", s.id)
	}
	presentation := s.queues[s.sequences.PresentationQueue]
	s.prepare.SetActiveIndex(s.imageIndex)
	err := s.prepare.Submit(presentation.Handle,
		[]device.Semaphore{s.imageAvailable},
		[]device.PipelineStage{device.PipelineStageBottomOfPipe},
		s.frameBufferReady, 0)
	if err != nil {
		return err
	}

	for i, q := range s.queues {
		cb := s.primaries[i]
		cb.SetActiveIndex(s.imageIndex)
		err := cb.Submit(q.Handle,
			[]device.Semaphore{s.frameBufferReady[i]},
			[]device.PipelineStage{device.PipelineStageBottomOfPipe},
			[]device.Semaphore{s.renderComplete[i]}, 0)
		if err != nil {
			return err
		}
	}
	return nil
}

// EndFrame submits the present buffer once all queues are done and presents
// the image. An out of date swapchain is left for the next BeginFrame.
func (s *Surface) EndFrame() error {
	if !s.realized {
		return errors.Wrapf(core.ErrConfiguration, "surface %d: frame ended before Realize", s.id)
	}
	presentation := s.queues[s.sequences.PresentationQueue]
	stages := make([]device.PipelineStage, len(s.renderComplete))
	for i := range stages {
		stages[i] = device.PipelineStageBottomOfPipe
	}
	s.present.SetActiveIndex(s.imageIndex)
	err := s.present.Submit(presentation.Handle, s.renderComplete, stages,
		[]device.Semaphore{s.renderFinished}, s.fences[s.imageIndex])
	if err != nil {
		return err
	}

	result := s.device.Driver().QueuePresent(presentation.Handle, device.PresentInfo{
		WaitSemaphores: []device.Semaphore{s.renderFinished},
		Swapchain:      s.swapchain,
		ImageIndex:     s.imageIndex,
	})
	if result != device.Success && !recoverable(result) {
		return errors.Wrapf(core.ErrSwapchain, "surface %d: vk.QueuePresentKHR(): %s", s.id, result)
	}
	if recoverable(result) {
		s.logger().WithField("result", result).Debug("swapchain out of date on present")
	}

	if s.onRenderFinish != nil {
		s.onRenderFinish(s)
	}
	return nil
}

// Frame runs a whole frame, building every queue's primary command buffer
func (s *Surface) Frame() error {
	if err := s.BeginFrame(); err != nil {
		return err
	}
	for i := range s.queues {
		if err := s.BuildPrimaryCommandBuffer(i); err != nil {
			return err
		}
	}
	if err := s.Draw(); err != nil {
		return err
	}
	return s.EndFrame()
}
