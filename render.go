package compose

import (
	"fmt"
	"sort"
	"time"

	"github.com/pixelstack/compose/internal/identity"
	"github.com/pixelstack/compose/internal/parallel"
	"github.com/pixelstack/compose/internal/store"
)

// RenderInput is one render request: the raw layer images in submission
// order, the caller's persisted layer state (optional), and the canvas
// configuration.
type RenderInput struct {
	// Layers are the raw per-slot pixel buffers, in submission order.
	Layers []*PixBuf

	// State is the optional prior-state list the caller persisted from an
	// earlier render's Metadata. Entries are matched to layers by logical
	// id after identity reconciliation; a Replacement buffer in entry i
	// overrides the submitted image at slot i.
	State []LayerState

	// Canvas is the requested canvas configuration.
	Canvas CanvasConfig

	// AutoSize derives the canvas dimensions from the first layer (or
	// SizeHint) instead of Canvas.Width/Height.
	AutoSize bool

	// SizeHint is an externally supplied canvas size used when AutoSize
	// is on, e.g. the canvas size of an imported document.
	SizeHint *CanvasHint
}

// RenderResult is the output of one render call. Masks and LayerImages are
// aligned with the input slots — one entry per submitted layer, all-zero for
// hidden or failed slots — so downstream consumers can index them directly.
type RenderResult struct {
	Canvas      *PixBuf
	Masks       []*Mask
	LayerImages []*PixBuf

	// Layers are the fully resolved per-slot layer records, including
	// content hashes and provenance of each slot's pixels.
	Layers []Layer

	// Metadata echoes the resolved per-layer state (ids, order, transform,
	// adjustment) for the caller to persist and resubmit next render.
	Metadata []LayerState

	// LayerErrors is aligned with the input slots; a non-nil entry means
	// that slot failed and was recovered as an all-transparent layer (or,
	// for storage failures, rendered from the in-memory pixels without
	// being persisted).
	LayerErrors []error
}

// resolvedLayer is the per-slot working state assembled during a render.
type resolvedLayer struct {
	slot       int
	buf        *PixBuf // raw input (possibly replaced)
	hash       string
	id         string
	order      int
	visible    bool
	transform  Transform
	adjustment Adjustment
	source     Source
	occ        int
	storageKey string
	placed     *PixBuf // adjusted + transformed, nil on failure
	err        error
}

// Render runs the full pipeline: validation, auto-size resolution, identity
// reconciliation, content-addressed storage, per-layer adjustment and
// transform, and ordered compositing. It always returns a best-effort result;
// the only fatal failure is a ValidationError on the input.
//
// Renders on the same session are serialized because each render's identity
// assignments feed the next one.
func (s *Session) Render(in RenderInput) (*RenderResult, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := Logger()
	layers := make([]resolvedLayer, len(in.Layers))
	for i := range layers {
		layers[i] = resolvedLayer{
			slot:       i,
			buf:        in.Layers[i],
			visible:    true,
			transform:  IdentityTransform(),
			adjustment: NeutralAdjustment(),
			source:     SourceFresh,
		}
		if i < len(in.State) && in.State[i].Replacement != nil {
			layers[i].buf = in.State[i].Replacement
			layers[i].source = SourceInlineReplacement
		}
	}

	// Stage 1: hash. Cheap but embarrassingly parallel like the rest of
	// the per-layer work.
	s.forEachLayer(layers, func(l *resolvedLayer) error {
		if l.buf == nil {
			return &LayerError{Slot: l.slot, Stage: "decode", Err: fmt.Errorf("no pixel data supplied")}
		}
		l.hash = store.HashPixels(l.buf.data, l.buf.Width(), l.buf.Height())
		return nil
	})

	// Stage 2: canvas geometry. Auto-size keys off the first slot.
	cfg := in.Canvas
	var reset bool
	firstHash, firstW, firstH := "", 0, 0
	if len(layers) > 0 && layers[0].buf != nil {
		firstHash = layers[0].hash
		firstW, firstH = layers[0].buf.Width(), layers[0].buf.Height()
	}
	cfg, reset, s.autosize = resolveAutoSize(cfg, in.AutoSize, firstHash, firstW, firstH, in.SizeHint, s.autosize)
	if reset {
		log.Info("auto-size reset: re-centering layers", "width", cfg.Width, "height", cfg.Height)
	}

	// Stage 3: identity reconciliation.
	declared := declaredFromState(in.State, s.declared)
	inputs := make([]identity.Input, len(layers))
	for i, l := range layers {
		inputs[i] = identity.Input{Slot: l.slot, ContentHash: l.hash}
	}
	resolved, nextIdent, warnings := identity.Reconcile(s.ident, inputs, declared)
	for _, w := range warnings {
		log.Warn("identity reconciliation", "detail", w)
	}

	stateByID := make(map[string]*LayerState, len(in.State))
	for i := range in.State {
		if in.State[i].ID != "" {
			stateByID[in.State[i].ID] = &in.State[i]
		}
	}
	// Per-slot state: matched by id when the caller echoed ids back,
	// positionally for id-less entries (a first render, where ids are not
	// known yet).
	stateFor := make([]*LayerState, len(layers))
	for i, r := range resolved {
		if st, ok := stateByID[r.ID]; ok {
			stateFor[i] = st
		} else if i < len(in.State) && in.State[i].ID == "" {
			stateFor[i] = &in.State[i]
		}
	}

	centerX := float64(cfg.BorderWidth) + float64(cfg.Width)/2
	centerY := float64(cfg.BorderWidth) + float64(cfg.Height)/2

	for i, r := range resolved {
		l := &layers[i]
		l.id = r.ID
		l.order = r.Order
		l.visible = r.Enabled
		if r.Reused && l.source == SourceFresh {
			l.source = SourceCached
		}
		l.transform.X, l.transform.Y = centerX, centerY
		st := stateFor[i]
		if st == nil {
			continue
		}
		// On reset, transforms are discarded and every layer is
		// re-centered; adjustments are not geometric and survive.
		if st.Transform != nil && !reset {
			l.transform = *st.Transform
		}
		if st.Adjustment != nil {
			l.adjustment = *st.Adjustment
		}
		if !r.Known {
			// Id-less entries never reach the declared merge, so their
			// enabled/order fields apply here.
			if st.Enabled != nil {
				l.visible = *st.Enabled
			}
			if st.Order != nil {
				l.order = *st.Order
			}
		}
	}

	// Stage 4: persist and process each layer. Failures recover locally:
	// a processing failure blanks the slot, a storage failure keeps the
	// in-memory pixels but is still reported.
	// Occurrence indices are assigned sequentially in slot order so that
	// duplicate content maps to stable, distinct storage keys.
	occurrence := map[string]int{}
	for i := range layers {
		l := &layers[i]
		if l.buf == nil {
			continue
		}
		l.occ = occurrence[l.hash]
		occurrence[l.hash] = l.occ + 1
		l.storageKey = store.DeriveKey(l.hash, l.occ)
	}

	errs := s.forEachLayer(layers, func(l *resolvedLayer) error {
		if l.buf == nil {
			return &LayerError{Slot: l.slot, Stage: "decode", Err: fmt.Errorf("no pixel data supplied")}
		}

		filename := ""
		if st := stateFor[l.slot]; st != nil {
			filename = st.Filename
		}
		rec, err := s.store.Put(l.buf.data, l.buf.Width(), l.buf.Height(), store.PutInfo{
			NodeID:     s.id,
			Filename:   filename,
			Occurrence: l.occ,
		})
		var storeErr error
		if err != nil {
			storeErr = &LayerError{Slot: l.slot, Stage: "store", Err: &StorageError{Key: l.storageKey, Op: "put", Err: err}}
		} else {
			l.storageKey = rec.StorageKey
		}

		if !l.visible {
			return storeErr
		}
		if rec.Provenance == store.ProvenanceEdited {
			// An edited derivative survives at this key; composite it
			// instead of the fresh upstream pixels.
			if data, w, h, getErr := s.store.Get(l.storageKey); getErr == nil {
				edited := NewPixBuf(w, h)
				copy(edited.data, data)
				l.buf = edited
			}
		}

		processed := ApplyAdjustment(l.buf, l.adjustment)
		processed = ApplyTransform(processed, l.transform)
		if processed.Width() < 1 || processed.Height() < 1 {
			return &LayerError{Slot: l.slot, Stage: "transform", Err: fmt.Errorf("transform produced an empty buffer")}
		}
		l.placed = processed
		return storeErr
	})
	for i, err := range errs {
		if err != nil {
			layers[i].err = err
			log.Warn("layer recovered", "slot", i, "err", err)
		}
	}

	// Stage 5: composite in ascending order, ties broken by input slot.
	paintOrder := make([]int, len(layers))
	for i := range paintOrder {
		paintOrder[i] = i
	}
	sort.SliceStable(paintOrder, func(a, b int) bool {
		la, lb := layers[paintOrder[a]], layers[paintOrder[b]]
		if la.order != lb.order {
			return la.order < lb.order
		}
		return la.slot < lb.slot
	})

	placed := make([]PlacedLayer, len(layers))
	for i, l := range layers {
		placed[i] = PlacedLayer{
			Buf:     l.placed,
			X:       l.transform.X,
			Y:       l.transform.Y,
			Opacity: l.adjustment.Opacity,
			Visible: l.visible,
		}
	}
	canvas, masks, isolated := Composite(cfg, placed, paintOrder)

	// Stage 6: metadata echo + state carry-over.
	metadata := make([]LayerState, len(layers))
	outLayers := make([]Layer, len(layers))
	layerErrs := make([]error, len(layers))
	nextDeclared := make(map[string]identity.Declared, len(layers))
	for i, l := range layers {
		outLayers[i] = Layer{
			ID:          l.id,
			ContentHash: l.hash,
			StorageKey:  l.storageKey,
			Order:       l.order,
			Visible:     l.visible,
			Transform:   l.transform,
			Adjustment:  l.adjustment,
			Source:      l.source,
		}
		metadata[i] = LayerState{
			ID:         l.id,
			Enabled:    boolPtr(l.visible),
			Order:      intPtr(l.order),
			Transform:  &layers[i].transform,
			Adjustment: &layers[i].adjustment,
		}
		if st := stateFor[i]; st != nil {
			metadata[i].Filename = st.Filename
		}
		layerErrs[i] = l.err
		nextDeclared[l.id] = identity.Declared{Enabled: l.visible, Order: l.order}
	}
	s.ident = nextIdent
	s.declared = nextDeclared
	for _, l := range layers {
		if l.storageKey != "" {
			s.owned[l.storageKey] = struct{}{}
		}
	}

	// Stage 7: opportunistic cache bounding.
	if s.opts.sweepOnRender {
		if removed, err := s.store.Sweep(s.opts.janitor, s.ownedKeysLocked(), time.Now()); err != nil {
			log.Warn("janitor sweep failed", "err", err)
		} else if removed > 0 {
			s.pruneOwnedLocked()
		}
	}

	return &RenderResult{
		Canvas:      canvas,
		Masks:       masks,
		LayerImages: isolated,
		Layers:      outLayers,
		Metadata:    metadata,
		LayerErrors: layerErrs,
	}, nil
}

// forEachLayer runs fn for every layer, in parallel once the layer count
// exceeds the configured threshold. Errors are aligned with the slots.
func (s *Session) forEachLayer(layers []resolvedLayer, fn func(*resolvedLayer) error) []error {
	tasks := make([]func() error, len(layers))
	for i := range layers {
		l := &layers[i]
		tasks[i] = func() error { return fn(l) }
	}
	if len(layers) > s.opts.parallelThreshold {
		return s.pool.Run(tasks)
	}
	return parallel.RunSequential(tasks)
}

// validateInput rejects malformed configuration before any rendering work:
// out-of-range canvas dimensions and non-finite per-layer numbers.
func validateInput(in RenderInput) error {
	cfg := in.Canvas
	if in.AutoSize {
		// Dimensions are derived (and clamped) by the auto-sizer; only the
		// caller-controlled fields are checked.
		cfg.Width, cfg.Height = MinCanvasDim, MinCanvasDim
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	for i, st := range in.State {
		if st.Transform != nil && !st.Transform.finite() {
			return &ValidationError{
				Field:  fmt.Sprintf("layer[%d].transform", i),
				Reason: "contains a non-finite value",
			}
		}
		if st.Adjustment != nil && !st.Adjustment.finite() {
			return &ValidationError{
				Field:  fmt.Sprintf("layer[%d].adjustment", i),
				Reason: "contains a non-finite value",
			}
		}
	}
	return nil
}

// declaredFromState builds the id-keyed declared map for identity
// reconciliation. The state submitted with this render wins; when none is
// submitted, the session's carry-over from the previous render is used.
func declaredFromState(state []LayerState, carryOver map[string]identity.Declared) map[string]identity.Declared {
	if len(state) == 0 {
		return carryOver
	}
	declared := make(map[string]identity.Declared, len(state))
	for i, st := range state {
		if st.ID == "" {
			continue
		}
		d := identity.Declared{Enabled: true, Order: i}
		if st.Enabled != nil {
			d.Enabled = *st.Enabled
		}
		if st.Order != nil {
			d.Order = *st.Order
		}
		declared[st.ID] = d
	}
	return declared
}
