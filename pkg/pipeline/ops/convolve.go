package ops

import "github.com/ravi-parthasarathy/filtergraph/pkg/raster"

// Kernels shared by the edge and smoothing filters.
var (
	gauss3    = []float64{0.25, 0.5, 0.25}
	smooth3   = []float64{1, 2, 1}
	deriv3    = []float64{-1, 0, 1}
	laplace3x = [][]float64{
		{0, 1, 0},
		{1, -4, 1},
		{0, 1, 0},
	}
)

// boxKernel returns a normalized 1D box kernel of the given size.
func boxKernel(size int) []float64 {
	k := make([]float64, size)
	for i := range k {
		k[i] = 1 / float64(size)
	}
	return k
}

// reflect101 folds an out-of-range coordinate back into [0, n) without
// repeating the edge sample: -1 -> 1, n -> n-2.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

// separable correlates src with kx along rows and then ky along columns.
// The anchor of a kernel of size k is k/2. Accumulation runs in float64 and
// the result is not clipped.
func separable(src *raster.Image, kx, ky []float64) *raster.Image {
	w, h, c := src.Width, src.Height, src.Channels
	tmp := make([]float64, len(src.Pix))
	hx := len(kx) / 2
	for y := 0; y < h; y++ {
		row := y * w
		for x := 0; x < w; x++ {
			for ch := 0; ch < c; ch++ {
				var sum float64
				for k, wgt := range kx {
					sx := reflect101(x+k-hx, w)
					sum += float64(src.Pix[(row+sx)*c+ch]) * wgt
				}
				tmp[(row+x)*c+ch] = sum
			}
		}
	}

	out := raster.NewLike(src)
	hy := len(ky) / 2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for ch := 0; ch < c; ch++ {
				var sum float64
				for k, wgt := range ky {
					sy := reflect101(y+k-hy, h)
					sum += tmp[(sy*w+x)*c+ch] * wgt
				}
				out.Pix[(y*w+x)*c+ch] = float32(sum)
			}
		}
	}
	return out
}

// convolve2D correlates src with a square, odd-sized kernel.
func convolve2D(src *raster.Image, kernel [][]float64) *raster.Image {
	w, h, c := src.Width, src.Height, src.Channels
	half := len(kernel) / 2
	out := raster.NewLike(src)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for ch := 0; ch < c; ch++ {
				var sum float64
				for ky, krow := range kernel {
					sy := reflect101(y+ky-half, h)
					for kx, wgt := range krow {
						if wgt == 0 {
							continue
						}
						sx := reflect101(x+kx-half, w)
						sum += float64(src.Pix[(sy*w+sx)*c+ch]) * wgt
					}
				}
				out.Pix[(y*w+x)*c+ch] = float32(sum)
			}
		}
	}
	return out
}
