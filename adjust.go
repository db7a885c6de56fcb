package compose

import "math"

// ApplyAdjustment returns a copy of buf with the tonal adjustments applied
// in fixed order: brightness, then contrast, then saturation. The order is
// part of the contract — callers previewing the same adjustments elsewhere
// depend on it. Opacity is not applied here; the compositor consumes it as
// a blend-time multiplier.
//
// A neutral adjustment returns an unmodified copy.
func ApplyAdjustment(buf *PixBuf, adj Adjustment) *PixBuf {
	out := buf.Clone()
	if adj.IsNeutral() {
		return out
	}

	applyBrightness := adj.Brightness != 0
	applyContrast := adj.Contrast != 0
	applySaturation := adj.Saturation != 0

	// Brightness: gamma remap. b=0 gives gamma 1 (identity), b>0 brightens
	// (gamma < 1), b<0 darkens.
	gamma := 1 / (1 + adj.Brightness*0.5)

	// Contrast: pivot-at-0.5 scaling. Positive values expand up to 1.5x;
	// negative values compress down to roughly 0.56x.
	var contrastFactor float64
	if adj.Contrast >= 0 {
		contrastFactor = 1 + adj.Contrast/100*0.5
	} else {
		contrastFactor = 1 / (1 - adj.Contrast/100*0.8)
	}

	data := out.data
	for i := 0; i < len(data); i += 4 {
		r := float64(data[i+0]) / 255
		g := float64(data[i+1]) / 255
		b := float64(data[i+2]) / 255

		if applyBrightness {
			r = math.Pow(r, gamma)
			g = math.Pow(g, gamma)
			b = math.Pow(b, gamma)
		}

		if applyContrast {
			r = clampUnit((r-0.5)*contrastFactor + 0.5)
			g = clampUnit((g-0.5)*contrastFactor + 0.5)
			b = clampUnit((b-0.5)*contrastFactor + 0.5)
		}

		if applySaturation {
			h, s, v := rgbToHSV(r, g, b)
			var factor float64
			if adj.Saturation >= 0 {
				// Adaptive damping: already-saturated pixels change less.
				factor = 1 + adj.Saturation/100*0.8*(1-s*0.5)
			} else {
				factor = 1 - math.Sqrt(-adj.Saturation/100)*0.8
			}
			r, g, b = hsvToRGB(h, clampUnit(s*factor), v)
		}

		data[i+0] = uint8(math.Round(clampUnit(r) * 255))
		data[i+1] = uint8(math.Round(clampUnit(g) * 255))
		data[i+2] = uint8(math.Round(clampUnit(b) * 255))
		// Alpha passes through untouched.
	}

	return out
}

// rgbToHSV converts normalized RGB in [0,1] to hue [0,360), saturation and
// value in [0,1].
func rgbToHSV(r, g, b float64) (h, s, v float64) {
	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	delta := maxC - minC

	v = maxC
	if maxC > 0 {
		s = delta / maxC
	}
	if delta == 0 {
		return 0, s, v
	}

	switch maxC {
	case r:
		h = math.Mod((g-b)/delta, 6)
	case g:
		h = (b-r)/delta + 2
	default:
		h = (r-g)/delta + 4
	}
	h *= 60
	if h < 0 {
		h += 360
	}
	return h, s, v
}

// hsvToRGB converts hue [0,360), saturation and value in [0,1] back to
// normalized RGB.
func hsvToRGB(h, s, v float64) (r, g, b float64) {
	c := v * s
	hp := h / 60
	x := c * (1 - math.Abs(math.Mod(hp, 2)-1))
	m := v - c

	switch {
	case hp < 1:
		r, g, b = c, x, 0
	case hp < 2:
		r, g, b = x, c, 0
	case hp < 3:
		r, g, b = 0, c, x
	case hp < 4:
		r, g, b = 0, x, c
	case hp < 5:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	return r + m, g + m, b + m
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
