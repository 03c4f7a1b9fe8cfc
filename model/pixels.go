// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package model

import (
	"image"

	"golang.org/x/image/draw"

	"github.com/devblok/kframe/resource"
)

// Pixels is an RGBA8 texture payload
type Pixels struct {
	Width  uint32
	Height uint32
	rgba   *image.RGBA
}

// NewPixels converts img to RGBA. A non zero width and height scale the
// image to that size.
func NewPixels(img image.Image, width, height int) *Pixels {
	bounds := img.Bounds()
	if width <= 0 || height <= 0 {
		width, height = bounds.Dx(), bounds.Dy()
	}
	rgba := image.NewRGBA(image.Rect(0, 0, width, height))
	if width == bounds.Dx() && height == bounds.Dy() {
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(rgba, rgba.Bounds(), img, bounds, draw.Src, nil)
	}
	return &Pixels{Width: uint32(width), Height: uint32(height), rgba: rgba}
}

// At returns the RGBA value at x, y
func (p *Pixels) At(x, y int) (r, g, b, a uint8) {
	i := p.rgba.PixOffset(x, y)
	pix := p.rgba.Pix[i : i+4]
	return pix[0], pix[1], pix[2], pix[3]
}

// Bytes implements resource.Data
func (p *Pixels) Bytes() []byte {
	return p.rgba.Pix
}

var _ resource.Data = (*Pixels)(nil)
