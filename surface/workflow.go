// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package surface

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/devblok/kframe/core"
	"github.com/devblok/kframe/device"
	"github.com/devblok/kframe/resource"
)

// Command is one unit of work recorded into a queue's primary command buffer
type Command interface {
	// Contents tells whether the command records inline or through
	// secondary command buffers. Only inline commands reach the primary.
	Contents() device.SubpassContents

	// ValidateGPUData brings the resources the command uses up to date.
	// buildingPrimary is false during BeginFrame, when only presentation
	// queue resources are touched.
	ValidateGPUData(ctx resource.RenderContext, buildingPrimary bool) error

	BuildCommandBuffer(ctx resource.RenderContext, cb *resource.CommandBuffer) error
}

// WorkflowSequences is the compiled form of a render workflow
type WorkflowSequences struct {
	// QueueTraits has one entry per queue the surface acquires
	QueueTraits []device.QueueTraits

	// Commands holds the ordered command list of every queue
	Commands [][]Command

	// PresentationQueue indexes QueueTraits
	PresentationQueue int

	FrameBuffer *resource.FrameBuffer

	// InitialLayouts has the layout every frame buffer image definition is
	// moved to at the start of a frame. Undefined leaves an image alone.
	InitialLayouts []device.ImageLayout
}

func (ws *WorkflowSequences) check() error {
	switch {
	case len(ws.QueueTraits) == 0:
		return errors.Wrap(core.ErrConfiguration, "workflow has no queues")
	case len(ws.Commands) != len(ws.QueueTraits):
		return errors.Wrapf(core.ErrConfiguration, "workflow has %d command lists for %d queues", len(ws.Commands), len(ws.QueueTraits))
	case ws.PresentationQueue < 0 || ws.PresentationQueue >= len(ws.QueueTraits):
		return errors.Wrapf(core.ErrConfiguration, "workflow presentation queue %d out of %d", ws.PresentationQueue, len(ws.QueueTraits))
	case ws.FrameBuffer == nil || ws.FrameBuffer.FrameBufferImages() == nil:
		return errors.Wrap(core.ErrConfiguration, "workflow has no frame buffer")
	}
	return nil
}

// RenderWorkflow produces the sequences a surface renders. Compile returns
// the same pointer for as long as the topology does not change.
type RenderWorkflow interface {
	Compile(s *Surface) (*WorkflowSequences, error)
}

// StaticWorkflow is a RenderWorkflow with precompiled sequences
type StaticWorkflow struct {
	mutex     sync.Mutex
	sequences *WorkflowSequences
}

// NewStaticWorkflow returns a workflow that always compiles to sequences
func NewStaticWorkflow(sequences *WorkflowSequences) *StaticWorkflow {
	return &StaticWorkflow{sequences: sequences}
}

// Set replaces the sequences. Surfaces pick them up on their next frame.
func (sw *StaticWorkflow) Set(sequences *WorkflowSequences) {
	sw.mutex.Lock()
	defer sw.mutex.Unlock()
	sw.sequences = sequences
}

// Compile implements RenderWorkflow
func (sw *StaticWorkflow) Compile(s *Surface) (*WorkflowSequences, error) {
	sw.mutex.Lock()
	defer sw.mutex.Unlock()
	if sw.sequences == nil {
		return nil, errors.Wrapf(core.ErrConfiguration, "surface %d: workflow has no sequences", s.ID())
	}
	return sw.sequences, nil
}

// RenderPassCommand runs the frame buffer's render pass, binding vertex
// buffers and validating the resources its shaders read.
type RenderPassCommand struct {
	FrameBuffer   *resource.FrameBuffer
	VertexBuffers []*resource.GenericBuffer
	Resources     []resource.Validator
}

// Contents implements Command
func (rc *RenderPassCommand) Contents() device.SubpassContents {
	return device.SubpassContentsInline
}

// ValidateGPUData implements Command
func (rc *RenderPassCommand) ValidateGPUData(ctx resource.RenderContext, buildingPrimary bool) error {
	if !buildingPrimary {
		return nil
	}
	for _, vb := range rc.VertexBuffers {
		if err := vb.Validate(ctx); err != nil {
			return err
		}
	}
	for _, r := range rc.Resources {
		if err := r.Validate(ctx); err != nil {
			return err
		}
	}
	return nil
}

// BuildCommandBuffer implements Command
func (rc *RenderPassCommand) BuildCommandBuffer(ctx resource.RenderContext, cb *resource.CommandBuffer) error {
	renderPass := rc.FrameBuffer.RenderPass()
	if renderPass == nil {
		return errors.Wrap(core.ErrConfiguration, "render pass command without a render pass")
	}
	handle, err := renderPass.Handle(ctx.Device)
	if err != nil {
		return err
	}
	if ctx.Surface == nil {
		return errors.Wrap(core.ErrConfiguration, "render pass command without a surface")
	}
	framebuffer := rc.FrameBuffer.Handle(ctx.Surface, ctx.ActiveIndex)
	if framebuffer == 0 {
		return errors.Wrapf(core.ErrResource, "framebuffer %d not validated", ctx.ActiveIndex)
	}

	rc.FrameBuffer.AddCommandBuffer(cb)
	cb.BeginRenderPass(device.RenderPassBeginInfo{
		RenderPass:  handle,
		Framebuffer: framebuffer,
		Extent:      ctx.Surface.Extent(),
		ClearValues: renderPass.ClearValues(),
	}, device.SubpassContentsInline)

	if len(rc.VertexBuffers) > 0 {
		buffers := make([]device.Buffer, len(rc.VertexBuffers))
		offsets := make([]uint64, len(rc.VertexBuffers))
		for i, vb := range rc.VertexBuffers {
			vb.AddCommandBuffer(cb)
			if buffers[i] = vb.BufferHandle(ctx); buffers[i] == 0 {
				return errors.Wrapf(core.ErrResource, "vertex buffer %d not validated", i)
			}
		}
		cb.BindVertexBuffers(0, buffers, offsets)
	}
	cb.EndRenderPass()
	return nil
}
