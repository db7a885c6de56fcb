package compose

import (
	"image"
	"math"
)

// PlacedLayer is one layer after adjustment and transform, ready for
// painting. X and Y are the layer's center in canvas-board coordinates
// (border excluded). A nil Buf marks a slot that failed processing; it
// contributes only all-zero placeholders.
type PlacedLayer struct {
	Buf     *PixBuf
	X, Y    float64
	Opacity float64 // 0..100
	Visible bool
}

// Composite paints the layers onto a canvas and derives the per-layer
// outputs. layers is indexed by input slot; paintOrder lists slot indices in
// ascending paint order (later entries occlude earlier ones). The returned
// masks and isolated images are aligned with the input slots, one per slot
// regardless of visibility, all at full canvas resolution.
//
// Blending uses premultiplied-alpha math on straight-alpha inputs: the
// foreground alpha is scaled by the layer opacity, colors are weighted by
// their alphas, and the result is un-premultiplied for storage. A fully
// transparent result keeps alpha 0 (the divide-by-zero guard only affects
// the color division).
func Composite(cfg CanvasConfig, layers []PlacedLayer, paintOrder []int) (*PixBuf, []*Mask, []*PixBuf) {
	canvas := NewPixBuf(cfg.Width, cfg.Height)
	switch cfg.Background {
	case BackgroundBlack:
		canvas.Fill(0, 0, 0, 255)
	case BackgroundWhite:
		canvas.Fill(255, 255, 255, 255)
	case BackgroundTransparent:
		// Already zeroed.
	}

	masks := make([]*Mask, len(layers))
	isolated := make([]*PixBuf, len(layers))
	for i := range layers {
		masks[i] = NewMask(cfg.Width, cfg.Height)
		isolated[i] = NewPixBuf(cfg.Width, cfg.Height)
	}

	// Per-layer outputs are independent of paint order; compute them for
	// every visible slot, then paint the canvas in the explicit order.
	for i, pl := range layers {
		if !pl.Visible || pl.Buf == nil {
			continue
		}
		paintLayerOutputs(cfg, pl, masks[i], isolated[i])
	}

	for _, slot := range paintOrder {
		pl := layers[slot]
		if !pl.Visible || pl.Buf == nil {
			continue
		}
		paintCanvas(cfg, pl, canvas)
	}

	return canvas, masks, isolated
}

// placement converts a layer's board-space center position to the raster
// rectangle it occupies on the canvas, clipped to the canvas extent. The
// second rectangle is the matching region in layer-local coordinates. ok is
// false when the layer lies entirely outside the canvas.
func placement(cfg CanvasConfig, pl PlacedLayer) (dst, src image.Rectangle, ok bool) {
	w, h := pl.Buf.Width(), pl.Buf.Height()
	pasteX := int(math.Round(pl.X - float64(cfg.BorderWidth) - float64(w)/2))
	pasteY := int(math.Round(pl.Y - float64(cfg.BorderWidth) - float64(h)/2))

	dst = image.Rect(pasteX, pasteY, pasteX+w, pasteY+h).
		Intersect(image.Rect(0, 0, cfg.Width, cfg.Height))
	if dst.Empty() {
		return image.Rectangle{}, image.Rectangle{}, false
	}
	src = dst.Sub(image.Pt(pasteX, pasteY))
	return dst, src, true
}

// paintLayerOutputs fills the slot's mask (post-transform alpha, opacity
// excluded) and isolated image (layer composited against a transparent
// backing, opacity folded into alpha).
func paintLayerOutputs(cfg CanvasConfig, pl PlacedLayer, mask *Mask, iso *PixBuf) {
	dst, src, ok := placement(cfg, pl)
	if !ok {
		return
	}
	op := clampUnit(pl.Opacity / 100)
	lw := pl.Buf.Width()
	ldata := pl.Buf.data

	for y := dst.Min.Y; y < dst.Max.Y; y++ {
		ly := src.Min.Y + (y - dst.Min.Y)
		for x := dst.Min.X; x < dst.Max.X; x++ {
			lx := src.Min.X + (x - dst.Min.X)
			li := (ly*lw + lx) * 4

			a := ldata[li+3]
			mask.data[y*mask.width+x] = a

			ci := (y*iso.width + x) * 4
			iso.data[ci+0] = ldata[li+0]
			iso.data[ci+1] = ldata[li+1]
			iso.data[ci+2] = ldata[li+2]
			iso.data[ci+3] = uint8(math.Round(float64(a) * op))
		}
	}
}

// paintCanvas alpha-composites one layer onto the canvas in place.
func paintCanvas(cfg CanvasConfig, pl PlacedLayer, canvas *PixBuf) {
	dst, src, ok := placement(cfg, pl)
	if !ok {
		return
	}
	op := clampUnit(pl.Opacity / 100)
	lw := pl.Buf.Width()
	ldata := pl.Buf.data
	cdata := canvas.data

	for y := dst.Min.Y; y < dst.Max.Y; y++ {
		ly := src.Min.Y + (y - dst.Min.Y)
		for x := dst.Min.X; x < dst.Max.X; x++ {
			lx := src.Min.X + (x - dst.Min.X)
			li := (ly*lw + lx) * 4
			ci := (y*canvas.width + x) * 4

			fa := float64(ldata[li+3]) / 255 * op
			if fa == 0 {
				continue
			}
			ba := float64(cdata[ci+3]) / 255

			outA := fa + ba*(1-fa)
			div := outA
			if div == 0 {
				div = 1
			}

			for ch := 0; ch < 3; ch++ {
				fg := float64(ldata[li+ch]) / 255
				bg := float64(cdata[ci+ch]) / 255
				out := (fg*fa + bg*ba*(1-fa)) / div
				cdata[ci+ch] = uint8(math.Round(clampUnit(out) * 255))
			}
			cdata[ci+3] = uint8(math.Round(clampUnit(outA) * 255))
		}
	}
}
