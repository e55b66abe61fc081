package ops

import (
	"context"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/ravi-parthasarathy/filtergraph/pkg/pipeline"
	"github.com/ravi-parthasarathy/filtergraph/pkg/raster"
)

// MaxResizeSide bounds each side of a resized image.
const MaxResizeSide = 1 << 15

// Resize scales both dimensions by the scale parameter. Shrinking averages
// the covered source area; enlarging interpolates bilinearly. The channel
// count is preserved.
func Resize() *pipeline.Operation {
	return &pipeline.Operation{
		Name:        "resize",
		Params:      []pipeline.ParamSpec{{Name: "scale", Default: 1}},
		Description: "Scales the image by a factor",
		Inputs:      1,
		Outputs:     1,
		Transform: func(_ context.Context, in []*raster.Image, p pipeline.Params, _ int) ([]*raster.Image, error) {
			src, err := one(in)
			if err != nil {
				return nil, err
			}
			scale := p.Float("scale", 1)
			if math.IsNaN(scale) || math.IsInf(scale, 0) || scale <= 0 {
				return nil, fmt.Errorf("scale must be positive, got %g", scale)
			}
			if scale == 1 {
				return []*raster.Image{src.Clone()}, nil
			}
			fw := math.Round(float64(src.Width) * scale)
			fh := math.Round(float64(src.Height) * scale)
			if fw > MaxResizeSide || fh > MaxResizeSide {
				return nil, fmt.Errorf("scale %g turns %dx%d into %.0fx%.0f, over the %d pixel side limit",
					scale, src.Width, src.Height, fw, fh, MaxResizeSide)
			}
			w := max(1, int(fw))
			h := max(1, int(fh))
			if scale < 1 {
				return []*raster.Image{areaDownscale(src, w, h)}, nil
			}
			out, err := scaleImage(src, w, h)
			if err != nil {
				return nil, err
			}
			return []*raster.Image{out}, nil
		},
	}
}

func scaleImage(src *raster.Image, w, h int) (*raster.Image, error) {
	img, err := raster.ToImage(src)
	if err != nil {
		return nil, err
	}
	rect := image.Rect(0, 0, w, h)
	var dst draw.Image
	if src.Channels == 1 {
		dst = image.NewGray(rect)
	} else {
		dst = image.NewNRGBA(rect)
	}
	draw.BiLinear.Scale(dst, rect, img, img.Bounds(), draw.Src, nil)
	return raster.FromImageAs(dst, src.Channels), nil
}

// areaDownscale averages, for every destination pixel, the source pixels its
// footprint covers, weighted by overlap. w and h must not exceed the source.
func areaDownscale(src *raster.Image, w, h int) *raster.Image {
	c := src.Channels
	out := raster.New(w, h, c)
	sx := float64(src.Width) / float64(w)
	sy := float64(src.Height) / float64(h)
	acc := make([]float64, c)
	for y := 0; y < h; y++ {
		y0, y1 := float64(y)*sy, float64(y+1)*sy
		for x := 0; x < w; x++ {
			x0, x1 := float64(x)*sx, float64(x+1)*sx
			clear(acc)
			var area float64
			for iy := int(y0); iy < src.Height && float64(iy) < y1; iy++ {
				wy := math.Min(y1, float64(iy+1)) - math.Max(y0, float64(iy))
				if wy <= 0 {
					continue
				}
				for ix := int(x0); ix < src.Width && float64(ix) < x1; ix++ {
					wx := math.Min(x1, float64(ix+1)) - math.Max(x0, float64(ix))
					if wx <= 0 {
						continue
					}
					wgt := wx * wy
					area += wgt
					base := (iy*src.Width + ix) * c
					for ch := range acc {
						acc[ch] += float64(src.Pix[base+ch]) * wgt
					}
				}
			}
			base := (y*w + x) * c
			for ch, v := range acc {
				out.Pix[base+ch] = float32(v / area)
			}
		}
	}
	return out
}
