package raster_test

import (
	"bytes"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/ravi-parthasarathy/filtergraph/pkg/raster"
)

func gradient(w, h, c int) *raster.Image {
	m := raster.New(w, h, c)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for ch := 0; ch < c; ch++ {
				m.Set(x, y, ch, float32((x*40+y*10+ch*7)%256))
			}
		}
	}
	return m
}

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()
	a := raster.Uniform(2, 2, 3, 10)
	b := a.Clone()
	b.Set(0, 0, 0, 99)
	if a.At(0, 0, 0) != 10 {
		t.Errorf("clone shares storage: original sample = %v", a.At(0, 0, 0))
	}
	if a.Equal(b) {
		t.Error("expected images to differ after mutating clone")
	}
}

func TestClip(t *testing.T) {
	t.Parallel()
	m := raster.New(4, 1, 1)
	copy(m.Pix, []float32{-12.5, 17.9, 255.4, 1000})
	raster.Clip(m)
	want := []float32{0, 17, 255, 255}
	for i, v := range want {
		if m.Pix[i] != v {
			t.Errorf("Pix[%d] = %v, want %v", i, m.Pix[i], v)
		}
	}
}

func TestCodecRoundTrip(t *testing.T) {
	t.Parallel()
	for _, ext := range []string{".png", ".bmp", ".tiff"} {
		t.Run(ext, func(t *testing.T) {
			t.Parallel()
			src := gradient(5, 3, 3)
			path := filepath.Join(t.TempDir(), "img"+ext)
			if err := raster.Save(path, src); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := raster.Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if !got.Equal(src) {
				t.Errorf("round trip through %s changed the image (%s vs %s)", ext, got, src)
			}
		})
	}
}

func TestGrayRoundTrip(t *testing.T) {
	t.Parallel()
	src := gradient(4, 4, 1)
	var buf bytes.Buffer
	if err := raster.Encode(&buf, src, raster.FormatPNG); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := raster.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Channels != 1 || !got.Equal(src) {
		t.Errorf("gray round trip = %s, want %s", got, src)
	}
}

func TestFromImageAlpha(t *testing.T) {
	t.Parallel()
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 1, G: 2, B: 3, A: 128})
	src.SetNRGBA(1, 0, color.NRGBA{R: 4, G: 5, B: 6, A: 255})
	m := raster.FromImage(src)
	if m.Channels != 4 {
		t.Fatalf("channels = %d, want 4", m.Channels)
	}
	if m.At(0, 0, 3) != 128 || m.At(1, 0, 2) != 6 {
		t.Errorf("unexpected samples %v", m.Pix)
	}
}

func TestUnsupportedExtension(t *testing.T) {
	t.Parallel()
	if err := raster.Save(filepath.Join(t.TempDir(), "x.gif"), raster.New(1, 1, 1)); err == nil {
		t.Error("expected error for .gif")
	}
}

func TestMeanBrightness(t *testing.T) {
	t.Parallel()
	m := raster.Uniform(3, 2, 3, 100)
	if got := raster.MeanBrightness(m); got < 99.999 || got > 100.001 {
		t.Errorf("MeanBrightness = %v, want 100", got)
	}
	h, w := raster.Shape(m)
	if h != 2 || w != 3 {
		t.Errorf("Shape = (%d, %d), want (2, 3)", h, w)
	}
}

func TestFromImageAsChannels(t *testing.T) {
	t.Parallel()
	src := image.NewGray(image.Rect(0, 0, 2, 2))
	src.SetGray(1, 1, color.Gray{Y: 77})

	rgb := raster.FromImageAs(src, 3)
	if rgb.Channels != 3 || rgb.At(1, 1, 0) != 77 || rgb.At(1, 1, 2) != 77 {
		t.Errorf("gray -> rgb = %v", rgb.Pix)
	}
	rgba := raster.FromImageAs(src, 4)
	if rgba.At(0, 0, 3) != 255 {
		t.Errorf("alpha = %v, want 255", rgba.At(0, 0, 3))
	}
	img, err := raster.ToImage(rgb)
	if err != nil {
		t.Fatal(err)
	}
	gray := raster.FromImageAs(img, 1)
	if gray.At(1, 1, 0) != 77 {
		t.Errorf("rgb -> gray = %v", gray.Pix)
	}
}
