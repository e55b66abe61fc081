package raster

// Clip clamps every sample of m to [0, MaxValue] and truncates it to the
// integer encoding, in place. It is the normalization step applied to the
// working image set after each filter application.
func Clip(m *Image) {
	for i, v := range m.Pix {
		m.Pix[i] = float32(clampByte(v))
	}
}

// ClipAll applies Clip to every image in imgs.
func ClipAll(imgs []*Image) {
	for _, m := range imgs {
		if m != nil {
			Clip(m)
		}
	}
}

// Byte returns v saturated and truncated to a uint8 sample.
func Byte(v float32) uint8 {
	return clampByte(v)
}

func clampByte(v float32) uint8 {
	switch {
	case v != v: // NaN
		return 0
	case v <= 0:
		return 0
	case v >= MaxValue:
		return MaxValue
	}
	return uint8(v)
}
