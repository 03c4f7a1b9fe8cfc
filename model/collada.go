// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package model

import (
	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/devblok/kframe/core"
	"github.com/devblok/kframe/util/collada"
)

// ImportCollada reads the first geometry of a Collada document. Vertices
// are colored by their normal when the document has normals.
func ImportCollada(contents []byte) (*Mesh, error) {
	doc, err := collada.Decode(contents)
	if err != nil {
		return nil, errors.Wrap(core.ErrResource, err.Error())
	}
	if len(doc.Geometries) == 0 {
		return nil, errors.Wrap(core.ErrResource, "collada: no geometries")
	}
	geometry := doc.Geometries[0]
	mesh := &geometry.Mesh
	triangles := &mesh.Triangles

	vertex, ok := triangles.Input(collada.SemanticVertex)
	if !ok {
		return nil, errors.Wrapf(core.ErrResource, "collada: geometry %q has no vertex input", geometry.ID)
	}
	positions, err := mesh.Resolve(vertex)
	if err != nil {
		return nil, errors.Wrap(core.ErrResource, err.Error())
	}
	var normals *collada.Source
	normal, hasNormals := triangles.Input(collada.SemanticNormal)
	if hasNormals {
		src, err := mesh.Resolve(normal)
		if err != nil {
			return nil, errors.Wrap(core.ErrResource, err.Error())
		}
		normals = &src
	}

	stride := triangles.Stride()
	if stride == 0 || len(triangles.Index)%stride != 0 {
		return nil, errors.Wrapf(core.ErrResource, "collada: geometry %q has %d indices for stride %d", geometry.ID, len(triangles.Index), stride)
	}
	vertices := make(Vertices, 0, len(triangles.Index)/stride)
	for i := 0; i < len(triangles.Index); i += stride {
		indices := triangles.Index[i : i+stride]
		pos, ok := positions.Floats.Vec3(indices[vertex.Offset])
		if !ok {
			return nil, errors.Wrapf(core.ErrResource, "collada: position %d out of range", indices[vertex.Offset])
		}
		v := Vertex{
			Pos:   glm.Vec3(pos),
			Color: glm.Vec4{1, 1, 0, 1},
		}
		if normals != nil {
			n, ok := normals.Floats.Vec3(indices[normal.Offset])
			if !ok {
				return nil, errors.Wrapf(core.ErrResource, "collada: normal %d out of range", indices[normal.Offset])
			}
			c := glm.Vec3(n).Mul(0.5).Add(glm.Vec3{0.5, 0.5, 0.5})
			v.Color = c.Vec4(1)
		}
		vertices = append(vertices, v)
	}
	return NewMesh(geometry.Name, vertices), nil
}
