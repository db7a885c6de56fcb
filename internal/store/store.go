// Package store persists pixel buffers to a content-addressed location on
// disk, deduplicating by hash and recording provenance (original upstream
// content versus user-edited derivatives).
//
// Storage keys are derived deterministically from the content hash (plus a
// slot occurrence index when identical content appears in different layers),
// never from random ids, so repeated stores of unchanged content are no-ops.
// Each blob carries a CBOR sidecar record used to decide whether an edited
// derivative survives a fresh upload of its upstream input.
package store

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Directory names within the store root.
const (
	blobDir = "blobs"
	metaDir = "meta"
	tmpDir  = "tmp"
)

// ErrNotFound is returned by Get for keys with no stored content.
var ErrNotFound = errors.New("store: content not found")

// Provenance records whether stored content is the upstream original or a
// user-edited derivative.
type Provenance uint8

const (
	ProvenanceOriginal Provenance = iota
	ProvenanceEdited
)

// String returns a string representation of the provenance.
func (p Provenance) String() string {
	switch p {
	case ProvenanceOriginal:
		return "Original"
	case ProvenanceEdited:
		return "Edited"
	default:
		return "Unknown"
	}
}

// Record describes one stored buffer. ContentHash is always the hash of the
// upstream input for the slot — for a surviving edited derivative it equals
// the sidecar's source hash, not the hash of the edited pixels.
type Record struct {
	ContentHash string
	StorageKey  string
	Provenance  Provenance
	CreatedAt   time.Time
}

// PutInfo carries caller context for a Put.
type PutInfo struct {
	// NodeID identifies the storing session/node, recorded in the sidecar.
	NodeID string

	// Filename is the upstream file name, if known.
	Filename string

	// Occurrence disambiguates identical content stored for different
	// layer slots; 0 for the first occurrence.
	Occurrence int
}

// Stats are monotonic operation counters, readable without locking.
type Stats struct {
	Writes    uint64
	Skips     uint64
	Evictions uint64
}

// Store is a content-addressed pixel store rooted at one directory. The
// backing directory may be shared by stores in other processes: writes are
// idempotent and collision-safe by construction (hash-derived keys), and the
// read-then-decide sequence for edited content runs under a per-key lock so
// concurrent renders in this process cannot race on stale sidecars.
type Store struct {
	root        string
	compression Tag
	logger      *slog.Logger

	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex

	writes    atomic.Uint64
	skips     atomic.Uint64
	evictions atomic.Uint64
}

// New creates a Store rooted at the given directory, creating the directory
// structure if needed.
func New(root string, compression Tag, logger *slog.Logger) (*Store, error) {
	for _, dir := range []string{
		root,
		filepath.Join(root, blobDir),
		filepath.Join(root, metaDir),
		filepath.Join(root, tmpDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
		}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{
		root:        root,
		compression: compression,
		logger:      logger,
		keyLocks:    map[string]*sync.Mutex{},
	}, nil
}

// HashPixels computes the content hash of a raw RGBA pixel buffer: SHA-256
// over the pixel bytes followed by the shape and element type, so two
// pixel-identical buffers collide and differing shapes never do.
func HashPixels(data []byte, width, height int) string {
	h := sha256.New()
	_, _ = h.Write(data)
	var shape [8]byte
	binary.LittleEndian.PutUint32(shape[:], uint32(width))
	binary.LittleEndian.PutUint32(shape[4:], uint32(height))
	_, _ = h.Write(shape[:])
	_, _ = h.Write([]byte("rgba8"))
	return hex.EncodeToString(h.Sum(nil))
}

// DeriveKey maps a content hash and occurrence index to a storage key.
func DeriveKey(contentHash string, occurrence int) string {
	short := contentHash
	if len(short) > 16 {
		short = short[:16]
	}
	if occurrence == 0 {
		return short
	}
	return fmt.Sprintf("%s_%d", short, occurrence)
}

// Put stores a pixel buffer, deduplicating by content hash.
//
// If the target key already holds an edited derivative whose tracked source
// hash matches the fresh buffer, the edit survives and nothing is written.
// If the source hash differs, the edit is stale: the fresh buffer replaces
// it. Storing unedited content that already exists is a no-op.
func (s *Store) Put(data []byte, width, height int, info PutInfo) (Record, error) {
	hash := HashPixels(data, width, height)
	key := DeriveKey(hash, info.Occurrence)

	unlock := s.lockKey(key)
	defer unlock()

	now := time.Now()
	metaPath := s.metaPath(key)
	blobPath := s.blobPath(key)

	sc, err := readSidecar(metaPath)
	switch {
	case err == nil && sc.Edited:
		if sc.SourceHash == "" || sc.SourceHash == hash {
			// The upstream input for this slot is unchanged (or
			// unknown, which is treated as unchanged): the user's
			// edit survives.
			s.skips.Add(1)
			return Record{
				ContentHash: hash,
				StorageKey:  key,
				Provenance:  ProvenanceEdited,
				CreatedAt:   time.Unix(sc.UploadUnix, 0),
			}, nil
		}
		// Upstream input changed: the edited copy is stale.
		s.logger.Info("invalidating stale edited content",
			"key", key, "source_hash", sc.SourceHash[:min(12, len(sc.SourceHash))])

	case err == nil:
		if _, statErr := os.Stat(blobPath); statErr == nil {
			// Identical content already stored: no second write.
			s.skips.Add(1)
			return Record{
				ContentHash: hash,
				StorageKey:  key,
				Provenance:  ProvenanceOriginal,
				CreatedAt:   time.Unix(sc.UploadUnix, 0),
			}, nil
		}
		// Sidecar without blob: repair by rewriting below.

	case !os.IsNotExist(err):
		return Record{}, fmt.Errorf("reading sidecar for %s: %w", key, err)
	}

	if err := s.writeBlob(key, data, width, height, Sidecar{
		NodeID:           info.NodeID,
		OriginalFilename: info.Filename,
		UploadUnix:       now.Unix(),
		Edited:           false,
		SourceHash:       hash,
	}); err != nil {
		return Record{}, err
	}
	s.writes.Add(1)
	return Record{
		ContentHash: hash,
		StorageKey:  key,
		Provenance:  ProvenanceOriginal,
		CreatedAt:   now,
	}, nil
}

// ReplaceEdited overwrites the blob at key with edited pixels, marking the
// sidecar as a derivative of sourceHash. Hosts call this when the user edits
// a stored layer (crop, repaint) so later Puts can decide reuse.
func (s *Store) ReplaceEdited(key string, data []byte, width, height int, sourceHash, nodeID string) error {
	unlock := s.lockKey(key)
	defer unlock()

	sc := Sidecar{
		NodeID:     nodeID,
		UploadUnix: time.Now().Unix(),
		Edited:     true,
		SourceHash: sourceHash,
	}
	if prev, err := readSidecar(s.metaPath(key)); err == nil {
		sc.OriginalFilename = prev.OriginalFilename
		if sourceHash == "" {
			sc.SourceHash = prev.SourceHash
		}
	}
	if err := s.writeBlob(key, data, width, height, sc); err != nil {
		return err
	}
	s.writes.Add(1)
	return nil
}

// Get loads the pixel buffer stored at key. Returns ErrNotFound when the
// key has no blob.
func (s *Store) Get(key string) (data []byte, width, height int, err error) {
	raw, err := os.ReadFile(s.blobPath(key)) //nolint:gosec // path is store-derived
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, 0, ErrNotFound
		}
		return nil, 0, 0, err
	}
	return decodeBlob(raw)
}

// Remove deletes the blob and sidecar for key. Missing files are not an
// error: removal is idempotent.
func (s *Store) Remove(key string) error {
	unlock := s.lockKey(key)
	defer unlock()

	var firstErr error
	for _, path := range []string{s.blobPath(key), s.metaPath(key)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		s.evictions.Add(1)
	}
	return firstErr
}

// Stats returns a snapshot of the operation counters.
func (s *Store) Stats() Stats {
	return Stats{
		Writes:    s.writes.Load(),
		Skips:     s.skips.Load(),
		Evictions: s.evictions.Load(),
	}
}

// writeBlob writes the blob and sidecar atomically: both files go to the
// tmp directory first and are renamed into place, so a crash never leaves a
// torn blob at its final path.
func (s *Store) writeBlob(key string, data []byte, width, height int, sc Sidecar) error {
	blob, err := encodeBlob(data, width, height, s.compression)
	if err != nil {
		return fmt.Errorf("encoding blob %s: %w", key, err)
	}
	meta, err := encodeSidecar(sc)
	if err != nil {
		return fmt.Errorf("encoding sidecar %s: %w", key, err)
	}
	if err := atomicWrite(filepath.Join(s.root, tmpDir), s.blobPath(key), blob); err != nil {
		return err
	}
	return atomicWrite(filepath.Join(s.root, tmpDir), s.metaPath(key), meta)
}

// atomicWrite writes data to a temp file in tmp and renames it to dst.
func atomicWrite(tmp, dst string, data []byte) error {
	f, err := os.CreateTemp(tmp, "write-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("closing %s: %w", dst, err)
	}
	if err := os.Rename(name, dst); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("renaming into %s: %w", dst, err)
	}
	return nil
}

func (s *Store) blobPath(key string) string {
	return filepath.Join(s.root, blobDir, key+".px")
}

func (s *Store) metaPath(key string) string {
	return filepath.Join(s.root, metaDir, key+".cbor")
}

// lockKey acquires the advisory per-key lock, creating it on first use.
// The returned function releases it.
func (s *Store) lockKey(key string) func() {
	s.mu.Lock()
	l, ok := s.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.keyLocks[key] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}
