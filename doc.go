// Package compose implements a multi-layer image composition engine.
//
// # Overview
//
// compose assembles a canvas from independently transformable, adjustable,
// orderable image layers and re-renders it deterministically whenever layer
// state changes. Each render produces the composited canvas, a per-layer
// alpha mask, and an isolated per-layer image, all aligned with the input
// layer slots.
//
// # Quick Start
//
//	import "github.com/pixelstack/compose"
//
//	sess, _ := compose.NewSession("node-1", compose.WithStoreRoot(dir))
//	defer sess.Close()
//
//	res, err := sess.Render(compose.RenderInput{
//	    Layers: []*compose.PixBuf{img},
//	    Canvas: compose.CanvasConfig{Width: 1024, Height: 1024, BorderWidth: 40},
//	})
//	res.Canvas.SavePNG("canvas.png")
//
// # Architecture
//
// The library is organized into:
//   - Public API: Session, Render, PixBuf, Mask, Layer, CanvasConfig
//   - internal/identity: stable logical-id reconciliation across renders
//   - internal/store: content-addressed pixel storage with dedup and eviction
//   - internal/parallel: bounded worker pool for the per-layer stage
//
// Layer identity survives reordering, duplicate content, and re-uploads: the
// identity resolver matches content hashes against the previous render before
// synthesizing new ids, so callers can persist per-layer state keyed by id.
//
// Stored content is addressed by a SHA-256 hash of the raw pixels plus shape,
// making repeated renders with unchanged content no-ops at the storage layer.
package compose
