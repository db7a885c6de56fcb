package compose

import (
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// ApplyTransform returns a copy of buf with the geometric transform applied
// in fixed order: scale, then rotate, then skew. Position is not applied
// here — the compositor converts it to a raster placement.
func ApplyTransform(buf *PixBuf, t Transform) *PixBuf {
	out := Scale(buf, t.ScaleX, t.ScaleY)
	out = Rotate(out, t.RotationDeg)
	out = Skew(out, t.SkewX, t.SkewY)
	return out
}

// Scale resamples buf about its own center with a Catmull-Rom (bicubic
// quality) filter. Output dimensions are round(w*sx) x round(h*sy), at
// least 1px each. Scale factors of exactly 1 return an unmodified copy.
func Scale(buf *PixBuf, sx, sy float64) *PixBuf {
	if sx == 1 && sy == 1 {
		return buf.Clone()
	}
	w := int(math.Round(float64(buf.Width()) * sx))
	h := int(math.Round(float64(buf.Height()) * sy))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	out := NewPixBuf(w, h)
	xdraw.CatmullRom.Scale(out.ToNRGBA(), image.Rect(0, 0, w, h), buf.ToNRGBA(), buf.Bounds(), xdraw.Src, nil)
	return out
}

// Rotate rotates buf about its center; a positive angle rotates clockwise in
// screen coordinates (y grows downward), matching the on-screen authoring
// convention. The output bounds expand to avoid clipping and the uncovered
// area is fully transparent. An angle of 0 (mod 360) returns an unmodified
// copy.
func Rotate(buf *PixBuf, deg float64) *PixBuf {
	if math.Mod(deg, 360) == 0 {
		return buf.Clone()
	}

	rad := deg * math.Pi / 180
	sin, cos := math.Sincos(rad)
	// Snap the near-zero residue of axis-aligned angles so 90/180/270
	// rotations produce exact output dimensions.
	if math.Abs(sin) < 1e-12 {
		sin = 0
	}
	if math.Abs(cos) < 1e-12 {
		cos = 0
	}

	w := float64(buf.Width())
	h := float64(buf.Height())
	nw := int(math.Ceil(math.Abs(w*cos) + math.Abs(h*sin)))
	nh := int(math.Ceil(math.Abs(w*sin) + math.Abs(h*cos)))
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	// Source-to-destination affine: translate the source center to the
	// origin, rotate, translate to the expanded destination center.
	// In y-down raster coordinates this matrix rotates clockwise for
	// positive angles.
	cx, cy := w/2, h/2
	dx, dy := float64(nw)/2, float64(nh)/2
	m := f64.Aff3{
		cos, -sin, dx - cos*cx + sin*cy,
		sin, cos, dy - sin*cx - cos*cy,
	}

	out := NewPixBuf(nw, nh)
	xdraw.CatmullRom.Transform(out.ToNRGBA(), m, buf.ToNRGBA(), buf.Bounds(), xdraw.Over, nil)
	return out
}

// Skew is reserved. The SkewX and SkewY transform fields are carried through
// layer state and echoed in metadata, but skewing is not yet applied to
// pixels; the current implementation returns an unmodified copy.
func Skew(buf *PixBuf, kx, ky float64) *PixBuf {
	_ = kx
	_ = ky
	return buf.Clone()
}
