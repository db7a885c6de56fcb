package compose

import (
	"bytes"
	"testing"
)

func solidBuf(w, h int, r, g, b, a uint8) *PixBuf {
	p := NewPixBuf(w, h)
	p.Fill(r, g, b, a)
	return p
}

// TestComposite_Placement verifies the board-to-raster placement math: a
// 400x300 layer centered at (632, 632) on a 1024x1024 canvas with a 120px
// border lands with its top-left at (312, 362).
func TestComposite_Placement(t *testing.T) {
	cfg := CanvasConfig{Width: 1024, Height: 1024, BorderWidth: 120, Background: BackgroundBlack}
	layers := []PlacedLayer{{
		Buf: solidBuf(400, 300, 255, 0, 0, 255), X: 632, Y: 632, Opacity: 100, Visible: true,
	}}

	canvas, masks, isolated := Composite(cfg, layers, []int{0})

	if canvas.Width() != 1024 || canvas.Height() != 1024 {
		t.Fatalf("canvas dimensions: got %dx%d, want 1024x1024", canvas.Width(), canvas.Height())
	}

	// Mask: exactly the covered rectangle [312,712) x [362,662).
	checks := []struct {
		x, y int
		want uint8
	}{
		{312, 362, 255}, {711, 661, 255}, {512, 512, 255},
		{311, 362, 0}, {312, 361, 0}, {712, 661, 0}, {711, 662, 0},
		{0, 0, 0},
	}
	for _, c := range checks {
		if got := masks[0].At(c.x, c.y); got != c.want {
			t.Errorf("mask at (%d,%d): got %d, want %d", c.x, c.y, got, c.want)
		}
	}

	// Canvas: layer pixels inside, background outside.
	if r, g, b, a := canvas.Pixel(500, 500); r != 255 || g != 0 || b != 0 || a != 255 {
		t.Errorf("canvas inside layer: got (%d,%d,%d,%d), want (255,0,0,255)", r, g, b, a)
	}
	if r, g, b, a := canvas.Pixel(100, 100); r != 0 || g != 0 || b != 0 || a != 255 {
		t.Errorf("canvas outside layer: got (%d,%d,%d,%d), want (0,0,0,255)", r, g, b, a)
	}

	// Isolated image: layer against a transparent backing.
	if r, _, _, a := isolated[0].Pixel(500, 500); r != 255 || a != 255 {
		t.Errorf("isolated inside layer: got (r=%d, a=%d), want (255, 255)", r, a)
	}
	if _, _, _, a := isolated[0].Pixel(100, 100); a != 0 {
		t.Errorf("isolated outside layer: got a=%d, want 0", a)
	}
}

// TestComposite_Offscreen verifies a fully offscreen layer contributes
// nothing: the canvas is byte-identical to an empty composite and the
// slot's outputs are all-zero placeholders.
func TestComposite_Offscreen(t *testing.T) {
	cfg := CanvasConfig{Width: 512, Height: 512, BorderWidth: 40, Background: BackgroundWhite}

	empty, _, _ := Composite(cfg, nil, nil)
	layers := []PlacedLayer{{
		Buf: solidBuf(64, 64, 255, 0, 0, 255), X: -10000, Y: -10000, Opacity: 100, Visible: true,
	}}
	canvas, masks, isolated := Composite(cfg, layers, []int{0})

	if !bytes.Equal(canvas.Data(), empty.Data()) {
		t.Error("offscreen layer modified the canvas")
	}
	if !masks[0].IsZero() {
		t.Error("offscreen layer produced a non-zero mask")
	}
	for i, v := range isolated[0].Data() {
		if v != 0 {
			t.Fatalf("offscreen isolated image non-zero at index %d", i)
		}
	}
}

// TestComposite_PartialClip verifies a layer straddling the canvas edge is
// clipped, not dropped.
func TestComposite_PartialClip(t *testing.T) {
	cfg := CanvasConfig{Width: 256, Height: 256, BorderWidth: 10, Background: BackgroundBlack}
	// 100x100 layer centered on the board origin: only the bottom-right
	// quadrant lands on the canvas, at [0,40) x [0,40).
	layers := []PlacedLayer{{
		Buf: solidBuf(100, 100, 0, 255, 0, 255), X: 0, Y: 0, Opacity: 100, Visible: true,
	}}
	_, masks, _ := Composite(cfg, layers, []int{0})

	if got := masks[0].At(0, 0); got != 255 {
		t.Errorf("mask inside clipped region: got %d, want 255", got)
	}
	if got := masks[0].At(39, 39); got != 255 {
		t.Errorf("mask at clip corner: got %d, want 255", got)
	}
	if got := masks[0].At(40, 40); got != 0 {
		t.Errorf("mask past clip: got %d, want 0", got)
	}
}

// TestComposite_Invisible verifies a hidden layer leaves the canvas at the
// background and still occupies an (all-zero) output slot.
func TestComposite_Invisible(t *testing.T) {
	cfg := CanvasConfig{Width: 256, Height: 256, BorderWidth: 10, Background: BackgroundBlack}
	layers := []PlacedLayer{{
		Buf: solidBuf(32, 32, 255, 0, 0, 255), X: 128, Y: 128, Opacity: 100, Visible: false,
	}}
	canvas, masks, isolated := Composite(cfg, layers, []int{0})

	if len(masks) != 1 || len(isolated) != 1 {
		t.Fatalf("output slots: got %d masks, %d isolated, want 1 each", len(masks), len(isolated))
	}
	if !masks[0].IsZero() {
		t.Error("hidden layer produced a non-zero mask")
	}
	if r, _, _, _ := canvas.Pixel(128, 128); r != 0 {
		t.Errorf("hidden layer painted the canvas: got r=%d, want 0", r)
	}
}

// TestComposite_NilBuffer verifies a failed slot (nil buffer) degrades to
// placeholders without panicking.
func TestComposite_NilBuffer(t *testing.T) {
	cfg := CanvasConfig{Width: 256, Height: 256, BorderWidth: 10, Background: BackgroundTransparent}
	layers := []PlacedLayer{{Buf: nil, X: 128, Y: 128, Opacity: 100, Visible: true}}
	canvas, masks, _ := Composite(cfg, layers, []int{0})

	if !masks[0].IsZero() {
		t.Error("nil-buffer slot produced a non-zero mask")
	}
	if _, _, _, a := canvas.Pixel(128, 128); a != 0 {
		t.Errorf("nil-buffer slot painted the canvas: got a=%d, want 0", a)
	}
}

// TestComposite_Opacity verifies blend-time opacity: 50% red over an opaque
// black background gives (128, 0, 0, 255), and the mask still records the
// raw alpha.
func TestComposite_Opacity(t *testing.T) {
	cfg := CanvasConfig{Width: 256, Height: 256, BorderWidth: 10, Background: BackgroundBlack}
	layers := []PlacedLayer{{
		Buf: solidBuf(32, 32, 255, 0, 0, 255), X: 128, Y: 128, Opacity: 50, Visible: true,
	}}
	canvas, masks, isolated := Composite(cfg, layers, []int{0})

	r, g, b, a := canvas.Pixel(128, 128)
	if r != 128 || g != 0 || b != 0 || a != 255 {
		t.Errorf("50%% red over black: got (%d,%d,%d,%d), want (128,0,0,255)", r, g, b, a)
	}
	if got := masks[0].At(128, 128); got != 255 {
		t.Errorf("mask records raw alpha: got %d, want 255", got)
	}
	if _, _, _, ia := isolated[0].Pixel(128, 128); ia != 128 {
		t.Errorf("isolated folds opacity into alpha: got %d, want 128", ia)
	}
}

// TestComposite_OpacityOverTransparent verifies the un-premultiply path: a
// 50% opaque red over a transparent background keeps full red chroma at
// half alpha.
func TestComposite_OpacityOverTransparent(t *testing.T) {
	cfg := CanvasConfig{Width: 256, Height: 256, BorderWidth: 10, Background: BackgroundTransparent}
	layers := []PlacedLayer{{
		Buf: solidBuf(32, 32, 255, 0, 0, 255), X: 128, Y: 128, Opacity: 50, Visible: true,
	}}
	canvas, _, _ := Composite(cfg, layers, []int{0})

	r, g, b, a := canvas.Pixel(128, 128)
	if r != 255 || g != 0 || b != 0 || a != 128 {
		t.Errorf("50%% red over transparent: got (%d,%d,%d,%d), want (255,0,0,128)", r, g, b, a)
	}
}

// TestComposite_PaintOrder verifies later paintOrder entries occlude
// earlier ones regardless of slot index.
func TestComposite_PaintOrder(t *testing.T) {
	cfg := CanvasConfig{Width: 256, Height: 256, BorderWidth: 10, Background: BackgroundBlack}
	layers := []PlacedLayer{
		{Buf: solidBuf(64, 64, 255, 0, 0, 255), X: 128, Y: 128, Opacity: 100, Visible: true},
		{Buf: solidBuf(64, 64, 0, 0, 255, 255), X: 128, Y: 128, Opacity: 100, Visible: true},
	}

	// Slot 0 painted last: red on top.
	canvas, _, _ := Composite(cfg, layers, []int{1, 0})
	if r, _, b, _ := canvas.Pixel(128, 128); r != 255 || b != 0 {
		t.Errorf("reversed order: got (r=%d, b=%d), want red on top", r, b)
	}

	// Natural order: blue on top.
	canvas, _, _ = Composite(cfg, layers, []int{0, 1})
	if r, _, b, _ := canvas.Pixel(128, 128); r != 0 || b != 255 {
		t.Errorf("natural order: got (r=%d, b=%d), want blue on top", r, b)
	}
}

// TestComposite_Backgrounds verifies the three background fills.
func TestComposite_Backgrounds(t *testing.T) {
	tests := []struct {
		name string
		bg   Background
		want [4]uint8
	}{
		{"black", BackgroundBlack, [4]uint8{0, 0, 0, 255}},
		{"white", BackgroundWhite, [4]uint8{255, 255, 255, 255}},
		{"transparent", BackgroundTransparent, [4]uint8{0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := CanvasConfig{Width: 256, Height: 256, BorderWidth: 10, Background: tt.bg}
			canvas, _, _ := Composite(cfg, nil, nil)
			r, g, b, a := canvas.Pixel(10, 10)
			if [4]uint8{r, g, b, a} != tt.want {
				t.Errorf("background pixel: got (%d,%d,%d,%d), want %v", r, g, b, a, tt.want)
			}
		})
	}
}
