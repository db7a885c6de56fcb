package compose

import "fmt"

// Canvas dimension limits. Caller-supplied configs outside these ranges are
// rejected; auto-sized dimensions are clamped into them.
const (
	MinCanvasDim = 256
	MaxCanvasDim = 8192
	MinBorder    = 10
	MaxBorder    = 200
)

// Background selects the canvas fill before any layer is painted.
type Background uint8

const (
	BackgroundBlack Background = iota
	BackgroundWhite
	BackgroundTransparent
)

// String returns a string representation of the background.
func (b Background) String() string {
	switch b {
	case BackgroundBlack:
		return "Black"
	case BackgroundWhite:
		return "White"
	case BackgroundTransparent:
		return "Transparent"
	default:
		return "Unknown"
	}
}

// CanvasConfig describes the output canvas. Width and Height are the full
// raster extent; BorderWidth is the frame inside it that layer positions are
// measured against (positions exclude the border).
type CanvasConfig struct {
	Width       int        `yaml:"width"`
	Height      int        `yaml:"height"`
	BorderWidth int        `yaml:"border_width"`
	Background  Background `yaml:"background"`
}

// Validate checks a caller-supplied config. Out-of-range dimensions are a
// hard error: the render is rejected before any work happens.
func (c CanvasConfig) Validate() error {
	if c.Width < MinCanvasDim || c.Width > MaxCanvasDim {
		return &ValidationError{
			Field:  "canvas.width",
			Reason: fmt.Sprintf("%d outside [%d, %d]", c.Width, MinCanvasDim, MaxCanvasDim),
		}
	}
	if c.Height < MinCanvasDim || c.Height > MaxCanvasDim {
		return &ValidationError{
			Field:  "canvas.height",
			Reason: fmt.Sprintf("%d outside [%d, %d]", c.Height, MinCanvasDim, MaxCanvasDim),
		}
	}
	if c.BorderWidth < MinBorder || c.BorderWidth > MaxBorder {
		return &ValidationError{
			Field:  "canvas.border_width",
			Reason: fmt.Sprintf("%d outside [%d, %d]", c.BorderWidth, MinBorder, MaxBorder),
		}
	}
	if c.Background > BackgroundTransparent {
		return &ValidationError{
			Field:  "canvas.background",
			Reason: fmt.Sprintf("unknown value %d", c.Background),
		}
	}
	return nil
}

// clamped returns a copy with dimensions forced into the valid ranges.
// Used for derived (auto-sized) dimensions, which are clamped rather than
// rejected.
func (c CanvasConfig) clamped() CanvasConfig {
	c.Width = clampInt(c.Width, MinCanvasDim, MaxCanvasDim)
	c.Height = clampInt(c.Height, MinCanvasDim, MaxCanvasDim)
	c.BorderWidth = clampInt(c.BorderWidth, MinBorder, MaxBorder)
	return c
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
