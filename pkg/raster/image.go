// Package raster holds the decoded pixel buffers that flow through a filter
// graph, along with codec I/O and normalization helpers.
package raster

import "fmt"

// MaxValue is the top of the nominal sample range.
const MaxValue = 255

// Image is an interleaved, row-major buffer of float32 samples.
// Samples nominally lie in [0, MaxValue]; intermediate results may leave that
// range until they are normalized with Clip.
type Image struct {
	Width    int
	Height   int
	Channels int
	Pix      []float32
}

// New allocates a zeroed image.
func New(width, height, channels int) *Image {
	if width < 0 || height < 0 || channels <= 0 {
		panic(fmt.Sprintf("raster: invalid shape %dx%dx%d", width, height, channels))
	}
	return &Image{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]float32, width*height*channels),
	}
}

// Uniform returns an image with every sample set to v.
func Uniform(width, height, channels int, v float32) *Image {
	img := New(width, height, channels)
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

// NewLike allocates a zeroed image with the same shape as m.
func NewLike(m *Image) *Image {
	return New(m.Width, m.Height, m.Channels)
}

// Clone returns a deep copy of m.
func (m *Image) Clone() *Image {
	out := &Image{Width: m.Width, Height: m.Height, Channels: m.Channels}
	out.Pix = make([]float32, len(m.Pix))
	copy(out.Pix, m.Pix)
	return out
}

// Offset returns the index of sample (x, y, c) in Pix.
func (m *Image) Offset(x, y, c int) int {
	return (y*m.Width+x)*m.Channels + c
}

// At returns sample (x, y, c).
func (m *Image) At(x, y, c int) float32 {
	return m.Pix[m.Offset(x, y, c)]
}

// Set stores v at sample (x, y, c).
func (m *Image) Set(x, y, c int, v float32) {
	m.Pix[m.Offset(x, y, c)] = v
}

// SameShape reports whether m and o have identical dimensions and channels.
func (m *Image) SameShape(o *Image) bool {
	return m.Width == o.Width && m.Height == o.Height && m.Channels == o.Channels
}

// Equal reports whether m and o have the same shape and bit-identical samples.
func (m *Image) Equal(o *Image) bool {
	if m == nil || o == nil {
		return m == o
	}
	if !m.SameShape(o) {
		return false
	}
	for i, v := range m.Pix {
		if v != o.Pix[i] {
			return false
		}
	}
	return true
}

// String describes the shape, e.g. "640x480x3".
func (m *Image) String() string {
	return fmt.Sprintf("%dx%dx%d", m.Width, m.Height, m.Channels)
}
