package compose

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a storage key has no stored content.
var ErrNotFound = errors.New("compose: content not found")

// ValidationError reports a malformed canvas configuration or a malformed
// per-layer value (non-finite transform or adjustment numbers). It is the
// only error that rejects a render before any work is done.
type ValidationError struct {
	// Field names the offending field, e.g. "canvas.width" or
	// "layer[2].transform.scale_x".
	Field string

	// Reason describes why the value was rejected.
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("compose: invalid %s: %s", e.Field, e.Reason)
}

// LayerError records a failure while processing a single layer. The render
// recovers locally: the affected slot contributes an all-transparent mask
// and image while the remaining layers continue.
type LayerError struct {
	// Slot is the layer's input index.
	Slot int

	// Stage names the pipeline stage that failed ("store", "adjust",
	// "transform", "composite").
	Stage string

	Err error
}

func (e *LayerError) Error() string {
	return fmt.Sprintf("compose: layer %d: %s: %v", e.Slot, e.Stage, e.Err)
}

func (e *LayerError) Unwrap() error { return e.Err }

// StorageError wraps a content store read or write failure. Like LayerError
// it is surfaced per layer rather than aborting the render.
type StorageError struct {
	// Key is the storage key involved, empty if the failure happened
	// before a key was derived.
	Key string

	// Op is the storage operation ("put", "get", "sweep", "remove").
	Op string

	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("compose: storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("compose: storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
