// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package collada decodes the geometry part of Collada (.dae) documents
package collada

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Input semantics the decoder resolves
const (
	SemanticVertex   = "VERTEX"
	SemanticPosition = "POSITION"
	SemanticNormal   = "NORMAL"
)

// Collada is the top-level Collada object
type Collada struct {
	Geometries []Geometry `xml:"library_geometries>geometry"`
}

// Decode parses a Collada document
func Decode(contents []byte) (*Collada, error) {
	var c Collada
	if err := xml.Unmarshal(contents, &c); err != nil {
		return nil, errors.Wrap(err, "collada")
	}
	return &c, nil
}

// Geometry represents Collada's geometry
type Geometry struct {
	Mesh Mesh   `xml:"mesh"`
	ID   string `xml:"id,attr"`
	Name string `xml:"name,attr"`
}

// Mesh contains all the primitive data
type Mesh struct {
	Source    []Source  `xml:"source"`
	Vertices  Vertices  `xml:"vertices"`
	Triangles Triangles `xml:"triangles"`
}

// SourceByRef finds a source by reference, with or without the leading '#'
func (m *Mesh) SourceByRef(ref string) (Source, bool) {
	id := strings.TrimPrefix(ref, "#")
	for _, s := range m.Source {
		if s.ID == id {
			return s, true
		}
	}
	return Source{}, false
}

// Resolve follows a triangle input to the source holding its floats.
// VERTEX inputs go through the mesh's vertices element to its POSITION input.
func (m *Mesh) Resolve(in Input) (Source, error) {
	ref := in.Source
	if in.Semantic == SemanticVertex {
		if strings.TrimPrefix(ref, "#") != m.Vertices.ID {
			return Source{}, errors.Errorf("collada: vertices %q not found", ref)
		}
		position, ok := m.Vertices.Input(SemanticPosition)
		if !ok {
			return Source{}, errors.Errorf("collada: vertices %q have no position input", ref)
		}
		ref = position.Source
	}
	s, ok := m.SourceByRef(ref)
	if !ok {
		return Source{}, errors.Errorf("collada: source %q not found", ref)
	}
	return s, nil
}

// Source links to other sources where data is present
type Source struct {
	ID     string `xml:"id,attr"`
	Floats Floats `xml:"float_array"`
}

// Floats is the array of floats
type Floats struct {
	ID   string
	Data []float32
}

// UnmarshalXML unmarshals the array of floats
func (f *Floats) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "id":
			f.ID = attr.Value
		}
	}
	var raw string
	if err := d.DecodeElement(&raw, &start); err != nil {
		return err
	}
	for _, r := range strings.Fields(raw) {
		num, err := strconv.ParseFloat(r, 32)
		if err != nil {
			return errors.Wrapf(err, "float array %q", f.ID)
		}
		f.Data = append(f.Data, float32(num))
	}
	return nil
}

// Vec3 returns the index-th triple of the array
func (f *Floats) Vec3(index int) ([3]float32, bool) {
	if index < 0 || 3*index+3 > len(f.Data) {
		return [3]float32{}, false
	}
	return [3]float32{f.Data[3*index], f.Data[3*index+1], f.Data[3*index+2]}, true
}

// Vertices contains the list of vertices
type Vertices struct {
	ID     string  `xml:"id,attr"`
	Inputs []Input `xml:"input"`
}

// Input returns the input with the given semantic
func (v *Vertices) Input(semantic string) (Input, bool) {
	return findInput(v.Inputs, semantic)
}

// Triangles contain the list of triangles
type Triangles struct {
	Count    int     `xml:"count,attr"`
	Material string  `xml:"material,attr"`
	Inputs   []Input `xml:"input"`
	Index    []int
}

// Input returns the input with the given semantic
func (t *Triangles) Input(semantic string) (Input, bool) {
	return findInput(t.Inputs, semantic)
}

// Stride is the number of indices making up one vertex
func (t *Triangles) Stride() int {
	stride := 0
	for _, in := range t.Inputs {
		if int(in.Offset)+1 > stride {
			stride = int(in.Offset) + 1
		}
	}
	return stride
}

// UnmarshalXML parses the index list
func (t *Triangles) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "count":
			num, err := strconv.Atoi(attr.Value)
			if err != nil {
				return errors.Wrap(err, "triangles count")
			}
			t.Count = num
		case "material":
			t.Material = attr.Value
		}
	}

	for {
		token, err := d.Token()
		if err != nil {
			return err
		}

		switch el := token.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "input":
				var input Input
				if err := d.DecodeElement(&input, &el); err != nil {
					return err
				}
				t.Inputs = append(t.Inputs, input)
			case "p":
				var raw string
				if err := d.DecodeElement(&raw, &el); err != nil {
					return err
				}
				fields := strings.Fields(raw)
				t.Index = make([]int, 0, len(fields))
				for _, r := range fields {
					num, err := strconv.Atoi(r)
					if err != nil {
						return errors.Wrap(err, "triangle indices")
					}
					t.Index = append(t.Index, num)
				}
			default:
				if err := d.Skip(); err != nil {
					return err
				}
			}
		case xml.EndElement:
			if el == start.End() {
				return nil
			}
		}
	}
}

// Input is Collada'a input type
type Input struct {
	Semantic string `xml:"semantic,attr"`
	Source   string `xml:"source,attr"`
	Offset   uint   `xml:"offset,attr"`
}

func findInput(inputs []Input, semantic string) (Input, bool) {
	for _, in := range inputs {
		if in.Semantic == semantic {
			return in, true
		}
	}
	return Input{}, false
}
