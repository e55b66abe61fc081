package raster

// Shape returns the image height and width, in that order.
func Shape(m *Image) (height, width int) {
	return m.Height, m.Width
}

// MeanBrightness is the mean of the luma (ITU-R BT.601) of every pixel.
// Single-channel images are averaged directly.
func MeanBrightness(m *Image) float64 {
	n := m.Width * m.Height
	if n == 0 {
		return 0
	}
	var sum float64
	for p := 0; p < n; p++ {
		i := p * m.Channels
		if m.Channels < 3 {
			sum += float64(m.Pix[i])
			continue
		}
		r, g, b := float64(m.Pix[i]), float64(m.Pix[i+1]), float64(m.Pix[i+2])
		sum += 0.299*r + 0.587*g + 0.114*b
	}
	return sum / float64(n)
}
