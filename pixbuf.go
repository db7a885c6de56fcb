package compose

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
)

// PixBuf is a rectangular pixel buffer holding straight (non-premultiplied)
// RGBA samples, 4 bytes per pixel. It is the sole image representation inside
// the engine. Buffers are never aliased mutably between pipeline stages: every
// stage that modifies pixels works on its own copy (see Clone).
type PixBuf struct {
	width  int
	height int
	data   []uint8 // RGBA format, 4 bytes per pixel
}

// NewPixBuf creates a new transparent buffer with the given dimensions.
func NewPixBuf(width, height int) *PixBuf {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	return &PixBuf{
		width:  width,
		height: height,
		data:   make([]uint8, width*height*4),
	}
}

// Width returns the width of the buffer in pixels.
func (p *PixBuf) Width() int {
	return p.width
}

// Height returns the height of the buffer in pixels.
func (p *PixBuf) Height() int {
	return p.height
}

// Data returns the raw pixel data (straight RGBA, row-major).
// The returned slice aliases the buffer's storage.
func (p *PixBuf) Data() []uint8 {
	return p.data
}

// Clone returns an independent deep copy of the buffer.
func (p *PixBuf) Clone() *PixBuf {
	out := &PixBuf{
		width:  p.width,
		height: p.height,
		data:   make([]uint8, len(p.data)),
	}
	copy(out.data, p.data)
	return out
}

// SetPixel sets the straight RGBA value of a single pixel.
// Out-of-bounds coordinates are silently ignored.
func (p *PixBuf) SetPixel(x, y int, r, g, b, a uint8) {
	if x < 0 || x >= p.width || y < 0 || y >= p.height {
		return
	}
	i := (y*p.width + x) * 4
	p.data[i+0] = r
	p.data[i+1] = g
	p.data[i+2] = b
	p.data[i+3] = a
}

// Pixel returns the straight RGBA value of a single pixel.
// Out-of-bounds coordinates return transparent black.
func (p *PixBuf) Pixel(x, y int) (r, g, b, a uint8) {
	if x < 0 || x >= p.width || y < 0 || y >= p.height {
		return 0, 0, 0, 0
	}
	i := (y*p.width + x) * 4
	return p.data[i+0], p.data[i+1], p.data[i+2], p.data[i+3]
}

// Fill sets every pixel to the given straight RGBA value.
func (p *PixBuf) Fill(r, g, b, a uint8) {
	for i := 0; i < len(p.data); i += 4 {
		p.data[i+0] = r
		p.data[i+1] = g
		p.data[i+2] = b
		p.data[i+3] = a
	}
}

// ToNRGBA wraps the buffer as an *image.NRGBA without copying.
// Mutations through the returned image are visible in the buffer.
func (p *PixBuf) ToNRGBA() *image.NRGBA {
	return &image.NRGBA{
		Pix:    p.data,
		Stride: p.width * 4,
		Rect:   image.Rect(0, 0, p.width, p.height),
	}
}

// FromImage creates a buffer from any image.Image. Premultiplied sources are
// converted to straight alpha.
func FromImage(img image.Image) *PixBuf {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	p := NewPixBuf(w, h)

	// Fast path: NRGBA shares our layout.
	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+w*4]
			copy(p.data[y*w*4:], row)
		}
		return p
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			i := (y*w + x) * 4
			p.data[i+0] = c.R
			p.data[i+1] = c.G
			p.data[i+2] = c.B
			p.data[i+3] = c.A
		}
	}
	return p
}

// SavePNG writes the buffer to a PNG file.
func (p *PixBuf) SavePNG(path string) error {
	f, err := os.Create(path) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	return png.Encode(f, p.ToNRGBA())
}

// LoadPNG reads a PNG file into a buffer.
func LoadPNG(path string) (*PixBuf, error) {
	f, err := os.Open(path) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return FromImage(img), nil
}

// At implements the image.Image interface.
func (p *PixBuf) At(x, y int) color.Color {
	r, g, b, a := p.Pixel(x, y)
	return color.NRGBA{R: r, G: g, B: b, A: a}
}

// Bounds implements the image.Image interface.
func (p *PixBuf) Bounds() image.Rectangle {
	return image.Rect(0, 0, p.width, p.height)
}

// ColorModel implements the image.Image interface.
func (p *PixBuf) ColorModel() color.Model {
	return color.NRGBAModel
}
