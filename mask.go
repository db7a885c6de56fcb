package compose

import (
	"image"
	"image/color"
)

// Mask is a single-channel alpha mask at canvas resolution. Values range
// from 0 (fully transparent) to 255 (fully opaque).
type Mask struct {
	width  int
	height int
	data   []uint8
}

// NewMask creates a new mask with the given dimensions.
// All values are initialized to 0 (fully transparent).
func NewMask(width, height int) *Mask {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	return &Mask{
		width:  width,
		height: height,
		data:   make([]uint8, width*height),
	}
}

// Width returns the mask width.
func (m *Mask) Width() int { return m.width }

// Height returns the mask height.
func (m *Mask) Height() int { return m.height }

// Data returns the raw mask values, row-major.
func (m *Mask) Data() []uint8 { return m.data }

// At returns the mask value at (x, y).
// Returns 0 for coordinates outside the mask bounds.
func (m *Mask) At(x, y int) uint8 {
	if x < 0 || x >= m.width || y < 0 || y >= m.height {
		return 0
	}
	return m.data[y*m.width+x]
}

// Set sets the mask value at (x, y).
// Out-of-bounds coordinates are silently ignored.
func (m *Mask) Set(x, y int, v uint8) {
	if x < 0 || x >= m.width || y < 0 || y >= m.height {
		return
	}
	m.data[y*m.width+x] = v
}

// IsZero reports whether every mask value is 0.
func (m *Mask) IsZero() bool {
	for _, v := range m.data {
		if v != 0 {
			return false
		}
	}
	return true
}

// ToGray converts the mask to an *image.Gray for encoding.
func (m *Mask) ToGray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.width, m.height))
	copy(img.Pix, m.data)
	return img
}

// ColorModel implements the image.Image interface.
func (m *Mask) ColorModel() color.Model { return color.GrayModel }

// Bounds implements the image.Image interface.
func (m *Mask) Bounds() image.Rectangle { return image.Rect(0, 0, m.width, m.height) }
