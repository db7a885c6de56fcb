package compose

// CanvasHint is an externally supplied canvas size, e.g. from an imported
// document. When auto-sizing, a hint takes precedence over the first layer's
// native dimensions.
type CanvasHint struct {
	Width  int
	Height int
}

// autoSizeState tracks what the auto-sizer saw on the previous render so it
// can decide when a transform reset is warranted.
type autoSizeState struct {
	enabled   bool
	firstHash string
	firstW    int
	firstH    int
}

// resolveAutoSize derives the effective canvas config and decides whether
// layer transforms should be reset (re-centered with prior transforms
// discarded).
//
// A reset triggers only when auto-size is newly enabled, or when it was
// already enabled and the first layer's content changed together with its
// pixel dimensions. A content change at unchanged dimensions preserves the
// user's framing.
func resolveAutoSize(cfg CanvasConfig, enabled bool, firstHash string, firstW, firstH int, hint *CanvasHint, prev autoSizeState) (CanvasConfig, bool, autoSizeState) {
	next := autoSizeState{enabled: enabled, firstHash: firstHash, firstW: firstW, firstH: firstH}
	if !enabled {
		return cfg, false, next
	}

	if hint != nil {
		cfg.Width = hint.Width
		cfg.Height = hint.Height
	} else if firstW > 0 && firstH > 0 {
		cfg.Width = firstW
		cfg.Height = firstH
	}
	cfg = cfg.clamped()

	reset := false
	switch {
	case !prev.enabled:
		reset = true
	case firstHash != prev.firstHash && (firstW != prev.firstW || firstH != prev.firstH):
		reset = true
	}
	return cfg, reset, next
}
