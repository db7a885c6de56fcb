package compose

import "math"

// Source records where a layer's pixel content came from in this render.
type Source uint8

const (
	// SourceFresh means the caller supplied new pixels for this slot.
	SourceFresh Source = iota

	// SourceCached means the slot reused previously stored content.
	SourceCached

	// SourceInlineReplacement means the caller replaced the slot's content
	// through layer state rather than the image list.
	SourceInlineReplacement
)

// String returns a string representation of the source.
func (s Source) String() string {
	switch s {
	case SourceFresh:
		return "Fresh"
	case SourceCached:
		return "Cached"
	case SourceInlineReplacement:
		return "InlineReplacement"
	default:
		return "Unknown"
	}
}

// Transform describes a layer's geometric placement. X and Y are the layer's
// center in canvas-board coordinates (the border is excluded from the board).
type Transform struct {
	X           float64 `yaml:"x"`
	Y           float64 `yaml:"y"`
	ScaleX      float64 `yaml:"scale_x"`
	ScaleY      float64 `yaml:"scale_y"`
	RotationDeg float64 `yaml:"rotation"`
	SkewX       float64 `yaml:"skew_x"`
	SkewY       float64 `yaml:"skew_y"`
}

// IdentityTransform returns a transform that leaves a layer at (0, 0) with
// no scaling, rotation, or skew.
func IdentityTransform() Transform {
	return Transform{ScaleX: 1, ScaleY: 1}
}

// finite reports whether every field is a finite number.
func (t Transform) finite() bool {
	for _, v := range [...]float64{t.X, t.Y, t.ScaleX, t.ScaleY, t.RotationDeg, t.SkewX, t.SkewY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Adjustment describes a layer's tonal corrections. All fields default to
// neutral: brightness 0, contrast 0, saturation 0, opacity 100.
type Adjustment struct {
	// Brightness is a gamma remap strength in [-1, 1]. 0 is identity.
	Brightness float64 `yaml:"brightness"`

	// Contrast is a pivot-at-0.5 scaling strength in [-100, 100].
	Contrast float64 `yaml:"contrast"`

	// Saturation is an HSV saturation strength in [-100, 100].
	Saturation float64 `yaml:"saturation"`

	// Opacity in [0, 100] is applied at composite time, not here, because
	// it participates in the alpha blending math.
	Opacity float64 `yaml:"opacity"`
}

// NeutralAdjustment returns the adjustment that leaves pixels unchanged.
func NeutralAdjustment() Adjustment {
	return Adjustment{Opacity: 100}
}

// IsNeutral reports whether applying the tonal part of the adjustment
// (everything except opacity) would leave a buffer unchanged.
func (a Adjustment) IsNeutral() bool {
	return a.Brightness == 0 && a.Contrast == 0 && a.Saturation == 0
}

// finite reports whether every field is a finite number.
func (a Adjustment) finite() bool {
	for _, v := range [...]float64{a.Brightness, a.Contrast, a.Saturation, a.Opacity} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Layer is one fully resolved layer within a render: stable identity,
// content hash, paint order, and the state applied to its pixels.
//
// ID is unique within one render's layer list. Order values need not be
// contiguous; ties break by input slot index.
type Layer struct {
	ID          string
	ContentHash string

	// StorageKey addresses the slot's stored content, e.g. for
	// [Session.Content] or [Session.ReplaceContent]. Empty when the slot
	// failed before storage.
	StorageKey string

	Order      int
	Visible    bool
	Transform  Transform
	Adjustment Adjustment
	Source     Source
}

// LayerState is the caller-facing per-layer state record: what the caller
// persisted from the previous render's metadata, or what it wants applied in
// this one. Pointer fields distinguish "absent" (nil, use the default or the
// previous value) from an explicit zero.
type LayerState struct {
	ID         string      `yaml:"id"`
	Enabled    *bool       `yaml:"enabled,omitempty"`
	Order      *int        `yaml:"order,omitempty"`
	Transform  *Transform  `yaml:"transform,omitempty"`
	Adjustment *Adjustment `yaml:"adjustment,omitempty"`
	Filename   string      `yaml:"filename,omitempty"`

	// Replacement optionally supplies new pixels for the slot at this
	// entry's position in the state list, overriding the corresponding
	// entry of the submitted image list. Never serialized.
	Replacement *PixBuf `yaml:"-"`
}

// boolPtr, intPtr are small helpers for building LayerState values.
func boolPtr(v bool) *bool { return &v }
func intPtr(v int) *int    { return &v }
