package store

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// Sidecar is the small provenance record stored next to each blob. Its
// schema decides reuse-versus-invalidate for edited content and must stay
// backward compatible across process restarts: fields may be added, never
// renamed or retyped.
type Sidecar struct {
	// NodeID is the session/node that first stored the content.
	NodeID string `cbor:"node_id"`

	// OriginalFilename is the caller-supplied name of the upstream file,
	// if any.
	OriginalFilename string `cbor:"original_filename"`

	// UploadUnix is the store time in Unix seconds.
	UploadUnix int64 `cbor:"upload_time"`

	// Edited marks the blob as a user-edited derivative rather than the
	// upstream original.
	Edited bool `cbor:"edited"`

	// SourceHash is the content hash of the upstream input this blob was
	// derived from. Empty means unknown. For edited blobs it is compared
	// against freshly supplied content to decide whether the edit is
	// stale.
	SourceHash string `cbor:"source_hash"`
}

// encMode is the CBOR encoder configured with Core Deterministic Encoding
// (RFC 8949 §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical record always produces identical
// bytes, so sidecar writes are idempotent at the byte level.
var encMode cbor.EncMode

// decMode accepts standard CBOR. Unknown fields are silently ignored for
// forward compatibility.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}
}

// readSidecar loads and decodes the sidecar at path.
func readSidecar(path string) (Sidecar, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path is store-derived
	if err != nil {
		return Sidecar{}, err
	}
	var sc Sidecar
	if err := decMode.Unmarshal(raw, &sc); err != nil {
		return Sidecar{}, fmt.Errorf("decoding sidecar %s: %w", path, err)
	}
	return sc, nil
}

// encodeSidecar serializes a sidecar record deterministically.
func encodeSidecar(sc Sidecar) ([]byte, error) {
	raw, err := encMode.Marshal(sc)
	if err != nil {
		return nil, fmt.Errorf("encoding sidecar: %w", err)
	}
	return raw, nil
}
