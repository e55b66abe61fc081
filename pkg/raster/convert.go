package raster

import (
	"fmt"
	"image"
	"image/color"
)

// FromImage converts a decoded image into a raster buffer. Gray images map
// to one channel, opaque images to three (RGB) and anything with an alpha
// channel to four (RGBA, non-premultiplied).
func FromImage(src image.Image) *Image {
	switch src.(type) {
	case *image.Gray, *image.Gray16:
		return FromImageAs(src, 1)
	}
	if o, ok := src.(interface{ Opaque() bool }); ok && o.Opaque() {
		return FromImageAs(src, 3)
	}
	return FromImageAs(src, 4)
}

// FromImageAs converts src into a buffer with the requested channel count
// (1 = luma, 3 = RGB, 4 = RGBA).
func FromImageAs(src image.Image, channels int) *Image {
	b := src.Bounds()
	out := New(b.Dx(), b.Dy(), channels)

	if g, ok := src.(*image.Gray); ok && channels == 1 {
		for y := 0; y < out.Height; y++ {
			row := g.Pix[y*g.Stride : y*g.Stride+out.Width]
			for x, v := range row {
				out.Pix[y*out.Width+x] = float32(v)
			}
		}
		return out
	}

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			px := src.At(x, y)
			if channels == 1 {
				out.Pix[i] = float32(color.GrayModel.Convert(px).(color.Gray).Y)
				i++
				continue
			}
			c := color.NRGBAModel.Convert(px).(color.NRGBA)
			out.Pix[i+0] = float32(c.R)
			out.Pix[i+1] = float32(c.G)
			out.Pix[i+2] = float32(c.B)
			if channels == 4 {
				out.Pix[i+3] = float32(c.A)
			}
			i += channels
		}
	}
	return out
}

// ToImage converts m into a stdlib image, saturating samples to 8 bits.
func ToImage(m *Image) (image.Image, error) {
	rect := image.Rect(0, 0, m.Width, m.Height)
	switch m.Channels {
	case 1:
		out := image.NewGray(rect)
		for i, v := range m.Pix {
			out.Pix[i] = Byte(v)
		}
		return out, nil
	case 3, 4:
		out := image.NewNRGBA(rect)
		for p := 0; p < m.Width*m.Height; p++ {
			src := p * m.Channels
			dst := p * 4
			out.Pix[dst+0] = Byte(m.Pix[src+0])
			out.Pix[dst+1] = Byte(m.Pix[src+1])
			out.Pix[dst+2] = Byte(m.Pix[src+2])
			if m.Channels == 4 {
				out.Pix[dst+3] = Byte(m.Pix[src+3])
			} else {
				out.Pix[dst+3] = MaxValue
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("raster: cannot encode %d-channel image", m.Channels)
}
