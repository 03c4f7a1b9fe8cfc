// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package collada_test

import (
	"encoding/xml"
	"os"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/devblok/kframe/util/collada"
)

func TestTrianglesDecode(t *testing.T) {
	c := qt.New(t)
	data := `
		<triangles material="Material-material" count="12">
		<input semantic="VERTEX" source="#Cube-mesh-vertices" offset="0"/>
		<input semantic="NORMAL" source="#Cube-mesh-normals" offset="1"/>
		<p>0 0 2 0 3 0 7 1 5 1 4 1 4 2 1 2 0 2 5 3 2 3 1 3 2 4 7 4 3 4 0 5 7 5 4 5 0 6 1 6 2 6 7 7 6 7 5 7 4 8 5 8 1 8 5 9 6 9 2 9 2 10 6 10 7 10 0 11 3 11 7 11</p>
		</triangles>
	`
	var triangles collada.Triangles
	c.Assert(xml.Unmarshal([]byte(data), &triangles), qt.IsNil)
	c.Assert(triangles.Material, qt.Equals, "Material-material")
	c.Assert(triangles.Count, qt.Equals, 12)
	c.Assert(triangles.Inputs, qt.HasLen, 2)
	c.Assert(triangles.Index, qt.HasLen, 12*6)
	c.Assert(triangles.Stride(), qt.Equals, 2)

	normal, ok := triangles.Input(collada.SemanticNormal)
	c.Assert(ok, qt.Equals, true)
	c.Assert(normal.Offset, qt.Equals, uint(1))
}

func TestTrianglesDecodeBadIndex(t *testing.T) {
	c := qt.New(t)
	var triangles collada.Triangles
	err := xml.Unmarshal([]byte(`<triangles count="1"><p>0 x 2</p></triangles>`), &triangles)
	c.Assert(err, qt.ErrorMatches, `triangle indices: strconv.Atoi: parsing "x": invalid syntax`)
}

func TestInputDecode(t *testing.T) {
	c := qt.New(t)
	data := `
	<object>
		<input semantic="VERTEX" source="#Cube-mesh-vertices" offset="0" />
		<input semantic="NORMAL" source="#Cube-mesh-normals" offset="1" />
		<input semantic="TEXTUR" source="#Cube-mesh-textures" offset="2" />
	</object>
	`
	type Object struct {
		XMLName xml.Name        `xml:"object"`
		Inputs  []collada.Input `xml:"input"`
	}

	var obj Object
	c.Assert(xml.Unmarshal([]byte(data), &obj), qt.IsNil)
	c.Assert(obj.Inputs, qt.DeepEquals, []collada.Input{
		{Semantic: "VERTEX", Source: "#Cube-mesh-vertices", Offset: 0},
		{Semantic: "NORMAL", Source: "#Cube-mesh-normals", Offset: 1},
		{Semantic: "TEXTUR", Source: "#Cube-mesh-textures", Offset: 2},
	})
}

func TestFloatsDecode(t *testing.T) {
	c := qt.New(t)
	data := `<float_array id="Cube-mesh-normals-array" count="36">0 0 -1 0 0 1 1 0 -2.38419e-7 0 -1 -4.76837e-7 -1 2.38419e-7 -1.49012e-7 2.68221e-7 1 2.38419e-7 0 0 -1 0 0 1 1 -5.96046e-7 3.27825e-7 -4.76837e-7 -1 0 -1 2.38419e-7 -1.19209e-7 2.08616e-7 1 0</float_array>`

	var floats collada.Floats
	c.Assert(xml.Unmarshal([]byte(data), &floats), qt.IsNil)
	c.Assert(floats.Data, qt.HasLen, 36)
	c.Assert(floats.ID, qt.Equals, "Cube-mesh-normals-array")

	v, ok := floats.Vec3(1)
	c.Assert(ok, qt.Equals, true)
	c.Assert(v, qt.Equals, [3]float32{0, 0, 1})
	_, ok = floats.Vec3(12)
	c.Assert(ok, qt.Equals, false)
}

func TestDecodeResolve(t *testing.T) {
	c := qt.New(t)
	contents, err := os.ReadFile("testdata/triangle.dae")
	c.Assert(err, qt.IsNil)

	doc, err := collada.Decode(contents)
	c.Assert(err, qt.IsNil)
	c.Assert(doc.Geometries, qt.HasLen, 1)
	mesh := &doc.Geometries[0].Mesh
	c.Assert(doc.Geometries[0].Name, qt.Equals, "Triangle")

	vertex, ok := mesh.Triangles.Input(collada.SemanticVertex)
	c.Assert(ok, qt.Equals, true)
	positions, err := mesh.Resolve(vertex)
	c.Assert(err, qt.IsNil)
	c.Assert(positions.ID, qt.Equals, "Triangle-mesh-positions")
	c.Assert(positions.Floats.Data, qt.HasLen, 9)

	normal, _ := mesh.Triangles.Input(collada.SemanticNormal)
	normals, err := mesh.Resolve(normal)
	c.Assert(err, qt.IsNil)
	c.Assert(normals.Floats.Data, qt.DeepEquals, []float32{0, 0, 1})

	_, err = mesh.Resolve(collada.Input{Semantic: collada.SemanticNormal, Source: "#missing"})
	c.Assert(err, qt.ErrorMatches, `collada: source "#missing" not found`)
	_, err = mesh.Resolve(collada.Input{Semantic: collada.SemanticVertex, Source: "#other-vertices"})
	c.Assert(err, qt.ErrorMatches, `collada: vertices "#other-vertices" not found`)
}

func TestDecodeInvalid(t *testing.T) {
	c := qt.New(t)
	_, err := collada.Decode([]byte("<COLLADA><library_geometries>"))
	c.Assert(err, qt.ErrorMatches, "collada: .*")
}
