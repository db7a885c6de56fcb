package compose

import (
	"sort"
	"sync"
	"time"

	"github.com/pixelstack/compose/internal/identity"
	"github.com/pixelstack/compose/internal/parallel"
	"github.com/pixelstack/compose/internal/store"
)

// StoreStats are the session store's monotonic operation counters.
type StoreStats struct {
	// Writes counts blob writes (new content and invalidated edits).
	Writes uint64

	// Skips counts deduplicated stores: the content was already on disk.
	Skips uint64

	// Evictions counts removals by the janitor or session cleanup.
	Evictions uint64
}

// Session owns the per-node state that must survive between renders: the
// identity resolver state, the last submitted layer state, the auto-size
// tracking, and the handle to the content store. Callers hold one Session
// per node/composition and pass every render through it — there are no
// process-wide singletons.
//
// A Session is safe for concurrent use, but renders are serialized: the
// identity state transition from one render feeds the next.
type Session struct {
	id   string
	opts sessionOptions

	store *store.Store
	pool  *parallel.Pool

	mu       sync.Mutex
	ident    *identity.State
	declared map[string]identity.Declared
	autosize autoSizeState
	owned    map[string]struct{}
}

// NewSession creates a session for the given node id. The id is recorded in
// stored sidecars and scopes janitor eviction to this session's content.
func NewSession(id string, opts ...Option) (*Session, error) {
	o := defaultSessionOptions()
	for _, opt := range opts {
		opt(&o)
	}

	st, err := store.New(o.storeRoot, o.compression.tag(), Logger())
	if err != nil {
		return nil, err
	}
	return &Session{
		id:       id,
		opts:     o,
		store:    st,
		pool:     parallel.New(o.workers),
		ident:    identity.NewState(),
		declared: map[string]identity.Declared{},
		owned:    map[string]struct{}{},
	}, nil
}

// ID returns the session's node id.
func (s *Session) ID() string { return s.id }

// StoreStats returns a snapshot of the store's operation counters.
func (s *Session) StoreStats() StoreStats {
	st := s.store.Stats()
	return StoreStats{Writes: st.Writes, Skips: st.Skips, Evictions: st.Evictions}
}

// OwnedKeys returns the storage keys created by this session, sorted.
func (s *Session) OwnedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownedKeysLocked()
}

func (s *Session) ownedKeysLocked() []string {
	keys := make([]string, 0, len(s.owned))
	for k := range s.owned {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Content loads a stored buffer by storage key, e.g. from a previous
// render's metadata. Returns ErrNotFound if it was evicted.
func (s *Session) Content(key string) (*PixBuf, error) {
	data, w, h, err := s.store.Get(key)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Key: key, Op: "get", Err: err}
	}
	buf := NewPixBuf(w, h)
	copy(buf.data, data)
	return buf, nil
}

// ReplaceContent overwrites the content at key with a user-edited
// derivative. sourceHash is the content hash of the upstream pixels the edit
// was made from; subsequent renders keep compositing the edit until the
// upstream content at that key changes away from sourceHash.
func (s *Session) ReplaceContent(key string, buf *PixBuf, sourceHash string) error {
	if buf == nil {
		return &ValidationError{Field: "replacement", Reason: "no pixel data supplied"}
	}
	if err := s.store.ReplaceEdited(key, buf.data, buf.Width(), buf.Height(), sourceHash, s.id); err != nil {
		return &StorageError{Key: key, Op: "replace", Err: err}
	}
	s.mu.Lock()
	s.owned[key] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Sweep runs the janitor over this session's stored content and returns the
// number of entries removed.
func (s *Session) Sweep() (int, error) {
	s.mu.Lock()
	keys := s.ownedKeysLocked()
	s.mu.Unlock()

	removed, err := s.store.Sweep(s.opts.janitor, keys, time.Now())
	if removed > 0 {
		s.pruneOwned()
	}
	return removed, err
}

// pruneOwned drops owned keys whose content no longer exists on disk.
func (s *Session) pruneOwned() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneOwnedLocked()
}

func (s *Session) pruneOwnedLocked() {
	for k := range s.owned {
		if _, _, _, err := s.store.Get(k); err != nil {
			delete(s.owned, k)
		}
	}
}

// Close removes all content created by this session and clears its state.
// The backing store directory itself is left in place for other sessions.
func (s *Session) Close() error {
	s.mu.Lock()
	keys := s.ownedKeysLocked()
	s.owned = map[string]struct{}{}
	s.ident = identity.NewState()
	s.declared = map[string]identity.Declared{}
	s.mu.Unlock()

	var firstErr error
	for _, k := range keys {
		if err := s.store.Remove(k); err != nil && firstErr == nil {
			firstErr = &StorageError{Key: k, Op: "remove", Err: err}
		}
	}
	return firstErr
}
