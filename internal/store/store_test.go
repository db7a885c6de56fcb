package store

import (
	"bytes"
	"errors"
	"os"
	"testing"
)

func newTestStore(t *testing.T, tag Tag) *Store {
	t.Helper()
	s, err := New(t.TempDir(), tag, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func pixels(w, h int, fill byte) []byte {
	data := make([]byte, w*h*4)
	for i := range data {
		data[i] = fill
	}
	return data
}

// TestHashPixels verifies the hash covers pixels and shape.
func TestHashPixels(t *testing.T) {
	a := HashPixels(pixels(4, 4, 1), 4, 4)
	if a != HashPixels(pixels(4, 4, 1), 4, 4) {
		t.Error("identical buffers hashed differently")
	}
	if a == HashPixels(pixels(4, 4, 2), 4, 4) {
		t.Error("different pixels hashed identically")
	}
	// Same bytes, different shape.
	if a == HashPixels(pixels(4, 4, 1), 8, 2) {
		t.Error("different shapes hashed identically")
	}
	if len(a) != 64 {
		t.Errorf("hash length: got %d, want 64 hex chars", len(a))
	}
}

// TestDeriveKey verifies occurrence disambiguation.
func TestDeriveKey(t *testing.T) {
	hash := "0123456789abcdef0123456789abcdef"
	if got := DeriveKey(hash, 0); got != "0123456789abcdef" {
		t.Errorf("occurrence 0: got %q", got)
	}
	if got := DeriveKey(hash, 2); got != "0123456789abcdef_2" {
		t.Errorf("occurrence 2: got %q", got)
	}
}

// TestPutGet verifies a store-then-load round trip.
func TestPutGet(t *testing.T) {
	s := newTestStore(t, TagLZ4)
	data := pixels(8, 6, 42)

	rec, err := s.Put(data, 8, 6, PutInfo{NodeID: "n1", Filename: "in.png"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if rec.Provenance != ProvenanceOriginal {
		t.Errorf("provenance: got %v, want Original", rec.Provenance)
	}
	if rec.StorageKey != DeriveKey(rec.ContentHash, 0) {
		t.Errorf("storage key %q does not match hash %q", rec.StorageKey, rec.ContentHash)
	}

	got, w, h, err := s.Get(rec.StorageKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if w != 8 || h != 6 {
		t.Errorf("dimensions: got %dx%d, want 8x6", w, h)
	}
	if !bytes.Equal(got, data) {
		t.Error("loaded pixels differ from stored pixels")
	}
}

// TestPut_Idempotent verifies storing unchanged content twice performs
// exactly one write.
func TestPut_Idempotent(t *testing.T) {
	s := newTestStore(t, TagLZ4)
	data := pixels(8, 8, 7)

	r1, err := s.Put(data, 8, 8, PutInfo{NodeID: "n1"})
	if err != nil {
		t.Fatalf("first Put: %v", err)
	}
	r2, err := s.Put(data, 8, 8, PutInfo{NodeID: "n1"})
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if r1.StorageKey != r2.StorageKey {
		t.Errorf("keys differ: %q vs %q", r1.StorageKey, r2.StorageKey)
	}

	st := s.Stats()
	if st.Writes != 1 {
		t.Errorf("writes: got %d, want 1", st.Writes)
	}
	if st.Skips != 1 {
		t.Errorf("skips: got %d, want 1", st.Skips)
	}
}

// TestPut_Occurrence verifies identical content stored for different slots
// lands under distinct keys.
func TestPut_Occurrence(t *testing.T) {
	s := newTestStore(t, TagLZ4)
	data := pixels(4, 4, 9)

	r0, err := s.Put(data, 4, 4, PutInfo{Occurrence: 0})
	if err != nil {
		t.Fatalf("Put occurrence 0: %v", err)
	}
	r1, err := s.Put(data, 4, 4, PutInfo{Occurrence: 1})
	if err != nil {
		t.Fatalf("Put occurrence 1: %v", err)
	}
	if r0.StorageKey == r1.StorageKey {
		t.Errorf("occurrences share key %q", r0.StorageKey)
	}
	if s.Stats().Writes != 2 {
		t.Errorf("writes: got %d, want 2", s.Stats().Writes)
	}
}

// TestReplaceEdited_Survives verifies an edited derivative is kept when the
// upstream content is re-stored unchanged, and that Get returns the edited
// pixels.
func TestReplaceEdited_Survives(t *testing.T) {
	s := newTestStore(t, TagLZ4)
	original := pixels(4, 4, 1)
	edited := pixels(4, 4, 200)

	rec, err := s.Put(original, 4, 4, PutInfo{NodeID: "n1"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.ReplaceEdited(rec.StorageKey, edited, 4, 4, rec.ContentHash, "n1"); err != nil {
		t.Fatalf("ReplaceEdited: %v", err)
	}

	// Re-storing the unchanged upstream input must not clobber the edit.
	rec2, err := s.Put(original, 4, 4, PutInfo{NodeID: "n1"})
	if err != nil {
		t.Fatalf("re-Put: %v", err)
	}
	if rec2.Provenance != ProvenanceEdited {
		t.Errorf("provenance: got %v, want Edited", rec2.Provenance)
	}
	if rec2.ContentHash != rec.ContentHash {
		t.Errorf("content hash: got %q, want upstream hash %q", rec2.ContentHash, rec.ContentHash)
	}

	got, _, _, err := s.Get(rec.StorageKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, edited) {
		t.Error("edited pixels were clobbered by an unchanged upstream store")
	}
}

// TestReplaceEdited_EmptySourceSurvives verifies an edit with no tracked
// source hash is treated as unchanged and survives any re-store.
func TestReplaceEdited_EmptySourceSurvives(t *testing.T) {
	s := newTestStore(t, TagLZ4)
	original := pixels(4, 4, 1)
	edited := pixels(4, 4, 99)

	rec, err := s.Put(original, 4, 4, PutInfo{})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	// ReplaceEdited falls back to the previous sidecar's source hash,
	// which is the upstream hash, so the edit survives.
	if err := s.ReplaceEdited(rec.StorageKey, edited, 4, 4, "", ""); err != nil {
		t.Fatalf("ReplaceEdited: %v", err)
	}
	rec2, err := s.Put(original, 4, 4, PutInfo{})
	if err != nil {
		t.Fatalf("re-Put: %v", err)
	}
	if rec2.Provenance != ProvenanceEdited {
		t.Errorf("provenance: got %v, want Edited", rec2.Provenance)
	}
}

// TestReplaceEdited_Invalidated verifies a stale edit (tracked source hash
// differs from the fresh content) is overwritten by the fresh pixels.
func TestReplaceEdited_Invalidated(t *testing.T) {
	s := newTestStore(t, TagLZ4)
	original := pixels(4, 4, 1)
	edited := pixels(4, 4, 200)

	rec, err := s.Put(original, 4, 4, PutInfo{NodeID: "n1"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	// The edit tracks a different source: the upstream it was made from
	// is not the content being stored now.
	if err := s.ReplaceEdited(rec.StorageKey, edited, 4, 4, "someotherhash", "n1"); err != nil {
		t.Fatalf("ReplaceEdited: %v", err)
	}

	rec2, err := s.Put(original, 4, 4, PutInfo{NodeID: "n1"})
	if err != nil {
		t.Fatalf("re-Put: %v", err)
	}
	if rec2.Provenance != ProvenanceOriginal {
		t.Errorf("provenance: got %v, want Original (edit invalidated)", rec2.Provenance)
	}

	got, _, _, err := s.Get(rec.StorageKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, original) {
		t.Error("stale edit survived: stored pixels are not the fresh upstream content")
	}
}

// TestGet_NotFound verifies missing keys map to ErrNotFound.
func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t, TagLZ4)
	if _, _, _, err := s.Get("nosuchkey"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get: got %v, want ErrNotFound", err)
	}
}

// TestRemove verifies removal deletes both files and is idempotent.
func TestRemove(t *testing.T) {
	s := newTestStore(t, TagLZ4)
	rec, err := s.Put(pixels(4, 4, 5), 4, 4, PutInfo{})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := s.Remove(rec.StorageKey); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, _, _, err := s.Get(rec.StorageKey); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Remove: got %v, want ErrNotFound", err)
	}
	if err := s.Remove(rec.StorageKey); err != nil {
		t.Errorf("second Remove: %v, want nil", err)
	}
	if s.Stats().Evictions < 1 {
		t.Errorf("evictions: got %d, want >= 1", s.Stats().Evictions)
	}
}

// TestStore_CompressionModes verifies the round trip under every
// compression setting.
func TestStore_CompressionModes(t *testing.T) {
	for _, tag := range []Tag{TagNone, TagLZ4, TagZstd} {
		t.Run(tag.String(), func(t *testing.T) {
			s := newTestStore(t, tag)
			data := pixels(16, 16, 128)

			rec, err := s.Put(data, 16, 16, PutInfo{})
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
			got, w, h, err := s.Get(rec.StorageKey)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if w != 16 || h != 16 || !bytes.Equal(got, data) {
				t.Error("round trip mismatch")
			}
		})
	}
}

// TestStore_RepairMissingBlob verifies a sidecar whose blob vanished is
// rewritten instead of being skipped forever.
func TestStore_RepairMissingBlob(t *testing.T) {
	s := newTestStore(t, TagLZ4)
	data := pixels(4, 4, 3)

	rec, err := s.Put(data, 4, 4, PutInfo{})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	// Simulate an interrupted cleanup that removed only the blob.
	if err := os.Remove(s.blobPath(rec.StorageKey)); err != nil {
		t.Fatalf("removing blob: %v", err)
	}

	if _, err := s.Put(data, 4, 4, PutInfo{}); err != nil {
		t.Fatalf("repair Put: %v", err)
	}
	if _, _, _, err := s.Get(rec.StorageKey); err != nil {
		t.Errorf("Get after repair: %v", err)
	}
	if s.Stats().Writes != 2 {
		t.Errorf("writes: got %d, want 2 (initial + repair)", s.Stats().Writes)
	}
}
