package ops

import (
	"context"
	"fmt"
	"math"

	"github.com/ravi-parthasarathy/filtergraph/pkg/pipeline"
	"github.com/ravi-parthasarathy/filtergraph/pkg/raster"
)

// Blur applies a normalized box filter of kernel_size x kernel_size.
func Blur() *pipeline.Operation {
	return &pipeline.Operation{
		Name:        "blur",
		Params:      []pipeline.ParamSpec{{Name: "kernel_size", Default: 3}},
		Description: "Box blur",
		Inputs:      1,
		Outputs:     1,
		Transform: func(_ context.Context, in []*raster.Image, p pipeline.Params, _ int) ([]*raster.Image, error) {
			src, err := one(in)
			if err != nil {
				return nil, err
			}
			// Beyond 2*max(w,h)+1 the reflected window only repeats itself.
			raw := p.Float("kernel_size", 3)
			limit := 2*max(src.Width, src.Height) + 1
			if math.IsNaN(raw) || raw < 1 || raw > float64(limit) {
				return nil, fmt.Errorf("kernel_size must be in [1, %d] for a %dx%d image, got %g",
					limit, src.Width, src.Height, raw)
			}
			k := boxKernel(int(raw))
			return []*raster.Image{separable(src, k, k)}, nil
		},
	}
}

// GammaCorrection maps every sample v to round(255*(v/255)^gamma) through an
// 8-bit lookup table.
func GammaCorrection() *pipeline.Operation {
	return &pipeline.Operation{
		Name:        "gamma_correction",
		Params:      []pipeline.ParamSpec{{Name: "gamma", Default: 2.5}},
		Description: "Gamma transform",
		Inputs:      1,
		Outputs:     1,
		Transform: func(_ context.Context, in []*raster.Image, p pipeline.Params, _ int) ([]*raster.Image, error) {
			src, err := one(in)
			if err != nil {
				return nil, err
			}
			gamma := p.Float("gamma", 2.5)
			if math.IsNaN(gamma) || gamma < 0 {
				return nil, fmt.Errorf("gamma must be non-negative, got %g", gamma)
			}
			var lut [256]float32
			for i := range lut {
				v := raster.MaxValue * math.Pow(float64(i)/raster.MaxValue, gamma)
				lut[i] = float32(raster.Byte(float32(math.Round(v))))
			}
			out := raster.NewLike(src)
			for i, v := range src.Pix {
				out.Pix[i] = lut[raster.Byte(v)]
			}
			return []*raster.Image{out}, nil
		},
	}
}

// Sobel smooths the image with a 3x3 Gaussian and ORs the saturated absolute
// horizontal and vertical Sobel responses.
func Sobel() *pipeline.Operation {
	return &pipeline.Operation{
		Name:        "sobel",
		Description: "Sobel edge magnitude",
		Inputs:      1,
		Outputs:     1,
		Transform: func(_ context.Context, in []*raster.Image, _ pipeline.Params, _ int) ([]*raster.Image, error) {
			src, err := one(in)
			if err != nil {
				return nil, err
			}
			smooth := separable(src, gauss3, gauss3)
			gx := separable(smooth, deriv3, smooth3)
			gy := separable(smooth, smooth3, deriv3)
			out := raster.NewLike(src)
			for i := range out.Pix {
				ax := raster.Byte(float32(math.Abs(float64(gx.Pix[i]))))
				ay := raster.Byte(float32(math.Abs(float64(gy.Pix[i]))))
				out.Pix[i] = float32(ax | ay)
			}
			return []*raster.Image{out}, nil
		},
	}
}

// Laplacian sharpens by subtracting the 4-neighbour Laplacian of the image
// from its 3x3 Gaussian smoothing.
func Laplacian() *pipeline.Operation {
	return &pipeline.Operation{
		Name:        "laplacian",
		Description: "Laplacian sharpening",
		Inputs:      1,
		Outputs:     1,
		Transform: func(_ context.Context, in []*raster.Image, _ pipeline.Params, _ int) ([]*raster.Image, error) {
			src, err := one(in)
			if err != nil {
				return nil, err
			}
			smooth := separable(src, gauss3, gauss3)
			lap := convolve2D(src, laplace3x)
			out := raster.NewLike(src)
			for i := range out.Pix {
				out.Pix[i] = float32(raster.Byte(smooth.Pix[i] - lap.Pix[i]))
			}
			return []*raster.Image{out}, nil
		},
	}
}

// alias returns a copy of op registered under another name.
func alias(op *pipeline.Operation, name string) *pipeline.Operation {
	cp := *op
	cp.Name = name
	cp.Description = fmt.Sprintf("%s (alias of %s)", op.Description, op.Name)
	return &cp
}
