package store

import (
	"os"
	"sort"
	"time"
)

// JanitorConfig bounds the content a session keeps on disk. A sweep removes
// entries that violate any threshold; size and count overruns evict oldest
// first.
type JanitorConfig struct {
	// MaxAge is the age past which an entry is always removed.
	MaxAge time.Duration

	// MaxTotalSize is the cumulative on-disk blob size to stay under, in
	// bytes.
	MaxTotalSize int64

	// MaxCount is the ceiling on the number of stored entries.
	MaxCount int
}

// DefaultJanitorConfig returns the standard thresholds: 24 hours, 1 GiB,
// 50 entries.
func DefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{
		MaxAge:       24 * time.Hour,
		MaxTotalSize: 1 << 30,
		MaxCount:     50,
	}
}

// sweepEntry is one stored blob under janitor consideration.
type sweepEntry struct {
	key      string
	size     int64
	uploaded time.Time
}

// Sweep evicts stored content past the configured thresholds. Only the
// given owned keys are eligible — content created by other sessions sharing
// the same store directory is never touched. Returns the number of entries
// removed.
func (s *Store) Sweep(cfg JanitorConfig, owned []string, now time.Time) (int, error) {
	entries := make([]sweepEntry, 0, len(owned))
	var total int64
	for _, key := range owned {
		fi, err := os.Stat(s.blobPath(key))
		if err != nil {
			continue // already gone
		}
		e := sweepEntry{key: key, size: fi.Size(), uploaded: fi.ModTime()}
		if sc, err := readSidecar(s.metaPath(key)); err == nil && sc.UploadUnix > 0 {
			e.uploaded = time.Unix(sc.UploadUnix, 0)
		}
		entries = append(entries, e)
		total += e.size
	}

	// Oldest first; key breaks ties so sweeps are deterministic.
	sort.Slice(entries, func(a, b int) bool {
		if !entries[a].uploaded.Equal(entries[b].uploaded) {
			return entries[a].uploaded.Before(entries[b].uploaded)
		}
		return entries[a].key < entries[b].key
	})

	evict := make(map[string]bool)

	if cfg.MaxAge > 0 {
		for _, e := range entries {
			if now.Sub(e.uploaded) > cfg.MaxAge {
				evict[e.key] = true
				total -= e.size
			}
		}
	}

	remaining := func() int {
		return len(entries) - len(evict)
	}

	if cfg.MaxCount > 0 {
		for _, e := range entries {
			if remaining() <= cfg.MaxCount {
				break
			}
			if !evict[e.key] {
				evict[e.key] = true
				total -= e.size
			}
		}
	}

	if cfg.MaxTotalSize > 0 {
		for _, e := range entries {
			if total <= cfg.MaxTotalSize {
				break
			}
			if !evict[e.key] {
				evict[e.key] = true
				total -= e.size
			}
		}
	}

	removed := 0
	var firstErr error
	for _, e := range entries {
		if !evict[e.key] {
			continue
		}
		if err := s.Remove(e.key); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("janitor sweep", "removed", removed, "kept", len(entries)-removed)
	}
	return removed, firstErr
}
