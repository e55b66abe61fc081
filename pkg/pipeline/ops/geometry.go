package ops

import (
	"context"
	"fmt"
	"math"

	"github.com/ravi-parthasarathy/filtergraph/pkg/pipeline"
	"github.com/ravi-parthasarathy/filtergraph/pkg/raster"
)

// Rotate90 turns the image clockwise by turns quarter turns. Negative values
// turn counter-clockwise.
func Rotate90() *pipeline.Operation {
	return &pipeline.Operation{
		Name:        "rotate90",
		Params:      []pipeline.ParamSpec{{Name: "turns", Default: 1}},
		Description: "Rotates by multiples of 90 degrees clockwise",
		Inputs:      1,
		Outputs:     1,
		Transform: func(_ context.Context, in []*raster.Image, p pipeline.Params, _ int) ([]*raster.Image, error) {
			src, err := one(in)
			if err != nil {
				return nil, err
			}
			raw := p.Float("turns", 1)
			if math.IsNaN(raw) || math.IsInf(raw, 0) || raw != math.Trunc(raw) {
				return nil, fmt.Errorf("turns must be a whole number, got %g", raw)
			}
			out := src.Clone()
			for range int(math.Mod(math.Mod(raw, 4)+4, 4)) {
				out = rotateClockwise(out)
			}
			return []*raster.Image{out}, nil
		},
	}
}

func rotateClockwise(src *raster.Image) *raster.Image {
	out := raster.New(src.Height, src.Width, src.Channels)
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			from := src.Offset(y, src.Height-1-x, 0)
			to := out.Offset(x, y, 0)
			copy(out.Pix[to:to+src.Channels], src.Pix[from:from+src.Channels])
		}
	}
	return out
}

// Crop keeps the rectangle [x0,x1) x [y0,y1). A non-positive x1 or y1
// counts back from the right or bottom edge, so the defaults keep the whole
// image. Coordinates are clamped to the image and swapped when reversed.
func Crop() *pipeline.Operation {
	return &pipeline.Operation{
		Name: "crop",
		Params: []pipeline.ParamSpec{
			{Name: "x0"}, {Name: "y0"}, {Name: "x1"}, {Name: "y1"},
		},
		Description: "Cuts out a rectangle",
		Inputs:      1,
		Outputs:     1,
		Transform: func(_ context.Context, in []*raster.Image, p pipeline.Params, _ int) ([]*raster.Image, error) {
			src, err := one(in)
			if err != nil {
				return nil, err
			}
			x0, x1 := cropSpan(p.Float("x0", 0), p.Float("x1", 0), src.Width)
			y0, y1 := cropSpan(p.Float("y0", 0), p.Float("y1", 0), src.Height)
			if x0 == x1 || y0 == y1 {
				return nil, fmt.Errorf("crop [%d,%d)x[%d,%d) of a %dx%d image is empty",
					x0, x1, y0, y1, src.Width, src.Height)
			}
			out := raster.New(x1-x0, y1-y0, src.Channels)
			rowLen := out.Width * src.Channels
			for y := range out.Height {
				from := src.Offset(x0, y0+y, 0)
				copy(out.Pix[y*rowLen:(y+1)*rowLen], src.Pix[from:from+rowLen])
			}
			return []*raster.Image{out}, nil
		},
	}
}

// cropSpan resolves one axis of a crop to 0 <= lo <= hi <= n.
func cropSpan(lo, hi float64, n int) (int, int) {
	if hi <= 0 {
		hi += float64(n)
	}
	clamp := func(v float64) int {
		if math.IsNaN(v) || v < 0 {
			return 0
		}
		if v > float64(n) {
			return n
		}
		return int(v)
	}
	a, b := clamp(lo), clamp(hi)
	if a > b {
		a, b = b, a
	}
	return a, b
}
