// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"path"
	"time"

	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devblok/kframe/core"
	"github.com/devblok/kframe/device"
	"github.com/devblok/kframe/model"
	"github.com/devblok/kframe/resource"
	"github.com/devblok/kframe/surface"
	"github.com/devblok/kframe/utility/kar"
)

var graphics = device.QueueTraits{MustHave: device.QueueGraphics, Priority: 1}

// scene is a single spinning mesh drawn into a color and depth frame buffer
type scene struct {
	mesh        *model.Mesh
	images      *resource.FrameBufferImages
	renderPass  *resource.RenderPass
	frameBuffer *resource.FrameBuffer
	vertices    *resource.GenericBuffer
	uniforms    *resource.GenericBufferPerSurface
	workflow    *surface.StaticWorkflow
}

func triangle() *model.Mesh {
	return model.NewMesh("triangle", model.Vertices{
		{Pos: glm.Vec3{0, -0.5, 0}, Color: glm.Vec4{1, 0, 0, 1}},
		{Pos: glm.Vec3{0.5, 0.5, 0}, Color: glm.Vec4{0, 1, 0, 1}},
		{Pos: glm.Vec3{-0.5, 0.5, 0}, Color: glm.Vec4{0, 0, 1, 1}},
	})
}

// loadMesh reads the named entry of a kar archive. Collada documents are
// imported, anything else is taken as an encoded vertex blob. An empty name
// picks the first entry.
func loadMesh(archive, name string) (*model.Mesh, error) {
	f, err := kar.OpenFile(archive)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header := f.Header()
	if name == "" {
		if len(header.Index) == 0 {
			return nil, errors.Wrapf(core.ErrResource, "%s: empty archive", archive)
		}
		name = header.Index[0].Name
	}
	contents, err := f.ReadAll(name)
	if err != nil {
		return nil, err
	}

	if path.Ext(name) == ".dae" {
		return model.ImportCollada(contents)
	}
	vertices, err := model.DecodeVertices(contents)
	if err != nil {
		return nil, err
	}
	return model.NewMesh(name, vertices), nil
}

func newScene(cfg core.Configuration, mesh *model.Mesh) *scene {
	deviceLocal := device.NewHeapAllocator(device.MemoryPropertyDeviceLocal, cfg.Renderer.HeapSize)
	hostVisible := device.NewHeapAllocator(device.MemoryPropertyHostVisible|device.MemoryPropertyHostCoherent, 1<<20)

	sc := &scene{mesh: mesh}
	sc.images = resource.NewFrameBufferImages([]resource.FrameBufferImageDefinition{
		resource.DefaultSwapChainDefinition(),
		{
			AttachmentType: resource.AttachmentDepth,
			Format:         device.FormatD32Sfloat,
			Usage:          device.ImageUsageDepthStencilAttachment,
			Aspect:         device.ImageAspectDepth,
			Name:           "depth",
			Size:           resource.SurfaceSize(1, 1),
		},
	}, deviceLocal)
	sc.renderPass = resource.NewRenderPass(sc.images, []resource.AttachmentDefinition{
		{
			ImageDefinition: 0,
			LoadOp:          device.AttachmentLoadOpClear,
			InitialLayout:   device.ImageLayoutColorAttachmentOptimal,
			FinalLayout:     device.ImageLayoutColorAttachmentOptimal,
			Clear:           device.ClearValue{Color: [4]float32{0.005, 0.005, 0.005, 1}},
		},
		{
			ImageDefinition: 1,
			LoadOp:          device.AttachmentLoadOpClear,
			InitialLayout:   device.ImageLayoutDepthStencilAttachmentOptimal,
			FinalLayout:     device.ImageLayoutDepthStencilAttachmentOptimal,
			Clear:           device.ClearValue{Depth: 1},
		},
	})
	sc.frameBuffer = resource.NewFrameBuffer(cfg.Renderer.SwapchainSize, sc.images, sc.renderPass)
	sc.vertices = resource.NewGenericBuffer(mesh.Vertices(), deviceLocal, device.BufferUsageVertex, resource.OnceForAllSwapChainImages)
	sc.uniforms = resource.NewGenericBufferPerSurface(&model.Uniform{}, hostVisible, device.BufferUsageUniform, resource.ForEachSwapChainImage)

	sc.workflow = surface.NewStaticWorkflow(&surface.WorkflowSequences{
		QueueTraits: []device.QueueTraits{graphics},
		Commands: [][]surface.Command{{
			&surface.RenderPassCommand{
				FrameBuffer:   sc.frameBuffer,
				VertexBuffers: []*resource.GenericBuffer{sc.vertices},
				Resources:     []resource.Validator{sc.uniforms},
			},
		}},
		FrameBuffer: sc.frameBuffer,
		InitialLayouts: []device.ImageLayout{
			device.ImageLayoutColorAttachmentOptimal,
			device.ImageLayoutDepthStencilAttachmentOptimal,
		},
	})

	log.WithFields(log.Fields{
		"mesh":     mesh.Name(),
		"vertices": len(mesh.Vertices()),
	}).Info("scene created")
	return sc
}

// update spins the mesh and stores the matrices for the surface's next frame
func (sc *scene) update(s *surface.Surface, elapsed time.Duration) {
	angle := float32(elapsed.Seconds())
	sc.mesh.SetRotation(glm.HomogRotate3D(angle, glm.Vec3{0, 0, 1}))

	extent := s.Extent()
	aspect := float32(1)
	if extent.Height > 0 {
		aspect = float32(extent.Width) / float32(extent.Height)
	}
	view := glm.LookAtV(glm.Vec3{2, 2, 2}, glm.Vec3{0, 0, 0}, glm.Vec3{0, 0, 1})
	projection := glm.Perspective(glm.DegToRad(45), aspect, 0.1, 10)
	// Vulkan clip space has y pointing down
	projection[5] *= -1

	sc.uniforms.SetForSurface(s, sc.mesh.Uniform(view, projection))
}

func (sc *scene) release() {
	sc.uniforms.Release()
	sc.vertices.Release()
	sc.frameBuffer.Reset()
	sc.images.Release()
	sc.renderPass.Release()
}
