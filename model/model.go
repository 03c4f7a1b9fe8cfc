// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package model holds the CPU side payloads uploaded through resource buffers
package model

import (
	"encoding/binary"
	"math"
	"sync"

	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/devblok/kframe/core"
	"github.com/devblok/kframe/resource"
)

// Vertex layout in vertex buffers
const (
	VertexStride      = 28
	VertexPosOffset   = 0
	VertexColorOffset = 12
)

// UniformSize is the byte size of an encoded Uniform
const UniformSize = 3 * 16 * 4

// Vertex is a model vertex
type Vertex struct {
	Pos   glm.Vec3
	Color glm.Vec4
}

// Vertices is a vertex buffer payload
type Vertices []Vertex

// Bytes implements resource.Data
func (vs Vertices) Bytes() []byte {
	out := make([]byte, len(vs)*VertexStride)
	for i, v := range vs {
		b := out[i*VertexStride:]
		putFloats(b[VertexPosOffset:], v.Pos[:])
		putFloats(b[VertexColorOffset:], v.Color[:])
	}
	return out
}

// DecodeVertices reads a vertex buffer payload back
func DecodeVertices(data []byte) (Vertices, error) {
	if len(data)%VertexStride != 0 {
		return nil, errors.Wrapf(core.ErrResource, "vertex data of %d bytes is not a multiple of %d", len(data), VertexStride)
	}
	vs := make(Vertices, len(data)/VertexStride)
	for i := range vs {
		b := data[i*VertexStride:]
		getFloats(b[VertexPosOffset:], vs[i].Pos[:])
		getFloats(b[VertexColorOffset:], vs[i].Color[:])
	}
	return vs, nil
}

// Uniform defines a model-view-projection object
type Uniform struct {
	Model      glm.Mat4
	View       glm.Mat4
	Projection glm.Mat4
}

// Bytes implements resource.Data. Matrices are column major.
func (u *Uniform) Bytes() []byte {
	out := make([]byte, UniformSize)
	putFloats(out, u.Model[:])
	putFloats(out[64:], u.View[:])
	putFloats(out[128:], u.Projection[:])
	return out
}

func putFloats(b []byte, fs []float32) {
	for i, f := range fs {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
}

func getFloats(b []byte, fs []float32) {
	for i := range fs {
		fs[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
}

// Mesh is a model placed in the world
type Mesh struct {
	mutex    sync.RWMutex
	name     string
	position glm.Mat4
	rotation glm.Mat4
	vertices Vertices
}

// NewMesh creates a mesh at the origin
func NewMesh(name string, vertices Vertices) *Mesh {
	return &Mesh{
		name:     name,
		position: glm.Ident4(),
		rotation: glm.Ident4(),
		vertices: vertices,
	}
}

// Name returns the mesh name
func (m *Mesh) Name() string {
	return m.name
}

// SetPosition sets the mesh's translation matrix
func (m *Mesh) SetPosition(pos glm.Mat4) {
	m.mutex.Lock()
	m.position = pos
	m.mutex.Unlock()
}

// Position returns the mesh's translation matrix
func (m *Mesh) Position() glm.Mat4 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.position
}

// SetRotation sets the mesh's rotation matrix
func (m *Mesh) SetRotation(rot glm.Mat4) {
	m.mutex.Lock()
	m.rotation = rot
	m.mutex.Unlock()
}

// Rotation returns the mesh's rotation matrix
func (m *Mesh) Rotation() glm.Mat4 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.rotation
}

// Vertices returns the vertex payload of the mesh
func (m *Mesh) Vertices() Vertices {
	return m.vertices
}

// Uniform builds the model-view-projection payload for the mesh
func (m *Mesh) Uniform(view, projection glm.Mat4) *Uniform {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return &Uniform{
		Model:      m.position.Mul4(m.rotation),
		View:       view,
		Projection: projection,
	}
}

var (
	_ resource.Data = Vertices(nil)
	_ resource.Data = (*Uniform)(nil)
)
