// Package identity assigns stable logical ids to layer slots across renders.
//
// A layer's logical id is the key callers use to persist per-layer state
// (transforms, adjustments, ordering), so it must survive reordering,
// re-uploads of slightly re-encoded content, and duplicate images. The
// resolver reconciles each render's content hashes against the assignments
// from the previous render before synthesizing anything new.
package identity

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/zeebo/blake3"
)

// idDomainKey is the BLAKE3 keyed-hash domain for logical-id synthesis.
// Domain separation keeps synthesized ids from colliding with any other
// hash-derived name in the system. The bytes are the ASCII domain name,
// zero-padded to the 32 bytes keyed mode requires.
var idDomainKey = [32]byte{
	'c', 'o', 'm', 'p', 'o', 's', 'e', '.',
	'l', 'a', 'y', 'e', 'r', '.', 'i', 'd',
}

// Input is one layer slot awaiting identity resolution.
type Input struct {
	// Slot is the layer's index in the submission order.
	Slot int

	// ContentHash is the content hash of the slot's pixel buffer.
	ContentHash string
}

// Assignment pairs a logical id with the slot it occupied in the render
// that produced it. Queues of assignments are kept per content hash,
// oldest first.
type Assignment struct {
	ID   string
	Slot int
}

// Declared is the frontend-declared state for a known logical id: the
// enabled flag and paint order the caller last persisted.
type Declared struct {
	Enabled bool
	Order   int
}

// Resolved is the outcome for one slot.
type Resolved struct {
	Slot        int
	ID          string
	ContentHash string

	// Reused reports that the id was carried over from the previous
	// render by content-hash match (the slot's content is unchanged).
	Reused bool

	// Known reports that the caller declared state for this id; Enabled
	// and Order then come from that declaration.
	Known   bool
	Enabled bool
	Order   int
}

// State carries identity assignments between renders. The zero value (or
// nil) is an empty state. State values are immutable once built: Reconcile
// returns a fresh State for the next render, so replaying a reconciliation
// against the same state is side-effect free.
type State struct {
	byHash     map[string][]Assignment
	bySlot     []string
	occurrence map[string]int
}

// NewState returns an empty resolver state.
func NewState() *State {
	return &State{
		byHash:     map[string][]Assignment{},
		occurrence: map[string]int{},
	}
}

// Reconcile resolves logical ids for the given slots against the previous
// state and the caller's declared layer state (keyed by id, may be empty).
//
// Resolution runs in two passes so a positional reuse can never claim an id
// that another slot is about to match by content:
//  1. Content-hash matches: every slot whose hash has an unclaimed
//     assignment from the previous render takes the oldest one (FIFO).
//  2. For the remaining slots, in input order: if the same slot index held
//     an id in the previous render and that id is still unclaimed, it is
//     reused — this keeps identity stable when a slot is re-uploaded with
//     slightly different pixels. Otherwise a new id is synthesized from the
//     content hash and a per-hash occurrence counter, so duplicate images
//     get distinct, stable ids.
//
// Enabled flags and paint order come from the declared state when the
// declaration covers exactly the resolved layers; otherwise the resolver
// falls back to input order with everything enabled, and reports the
// ambiguity as a warning rather than failing the render.
//
// The result is deterministic for identical inputs and state.
func Reconcile(prev *State, inputs []Input, declared map[string]Declared) ([]Resolved, *State, []string) {
	if prev == nil {
		prev = NewState()
	}

	// Working copies: queues are consumed as assignments are claimed.
	queues := make(map[string][]Assignment, len(prev.byHash))
	for h, q := range prev.byHash {
		queues[h] = append([]Assignment(nil), q...)
	}
	occurrence := make(map[string]int, len(prev.occurrence))
	for h, n := range prev.occurrence {
		occurrence[h] = n
	}

	used := make(map[string]bool, len(inputs))
	resolved := make([]Resolved, len(inputs))

	// First pass: content-hash matches claim their queued ids up front, so a
	// positional reuse below can never take an id a later slot matches by
	// hash.
	for i, in := range inputs {
		r := Resolved{Slot: in.Slot, ContentHash: in.ContentHash, Enabled: true}
		if q := queues[in.ContentHash]; len(q) > 0 {
			r.ID = q[0].ID
			r.Reused = true
			queues[in.ContentHash] = q[1:]
			used[r.ID] = true
		}
		resolved[i] = r
	}

	// Second pass: positional reuse for the rest, then synthesis.
	for i, in := range inputs {
		r := &resolved[i]
		if r.ID != "" {
			continue
		}
		if in.Slot < len(prev.bySlot) && prev.bySlot[in.Slot] != "" && !used[prev.bySlot[in.Slot]] {
			r.ID = prev.bySlot[in.Slot]
		} else {
			n := occurrence[in.ContentHash]
			occurrence[in.ContentHash] = n + 1
			r.ID = synthesizeID(in.ContentHash, n)
		}
		used[r.ID] = true
	}

	warnings := applyDeclared(resolved, declared)

	next := &State{
		byHash:     map[string][]Assignment{},
		bySlot:     make([]string, len(inputs)),
		occurrence: occurrence,
	}
	for _, r := range resolved {
		next.byHash[r.ContentHash] = append(next.byHash[r.ContentHash], Assignment{ID: r.ID, Slot: r.Slot})
		if r.Slot >= 0 && r.Slot < len(next.bySlot) {
			next.bySlot[r.Slot] = r.ID
		}
	}
	return resolved, next, warnings
}

// applyDeclared merges the caller's declared enabled/order state into the
// resolved layers and assigns final paint order values. Known entries sort
// before unknown ones; knowns order by their declared order (slot index
// breaking ties), unknowns by slot index.
func applyDeclared(resolved []Resolved, declared map[string]Declared) []string {
	var warnings []string

	matched := 0
	for i := range resolved {
		if d, ok := declared[resolved[i].ID]; ok {
			resolved[i].Known = true
			resolved[i].Enabled = d.Enabled
			resolved[i].Order = d.Order
			matched++
		}
	}

	if len(declared) > 0 && matched != len(resolved) {
		warnings = append(warnings, fmt.Sprintf(
			"declared layer state covers %d of %d resolved layers; falling back to input order",
			matched, len(resolved)))
		for i := range resolved {
			resolved[i].Known = false
			resolved[i].Enabled = true
			resolved[i].Order = resolved[i].Slot
		}
		return warnings
	}

	// Stable final ordering: knowns first by declared order, then
	// unknowns by slot index. Order values are reassigned contiguously.
	perm := make([]int, len(resolved))
	for i := range perm {
		perm[i] = i
	}
	sort.Slice(perm, func(a, b int) bool {
		ra, rb := resolved[a], resolved[b]
		if ra.Known != rb.Known {
			return ra.Known
		}
		if ra.Known {
			if ra.Order != rb.Order {
				return ra.Order < rb.Order
			}
		}
		return ra.Slot < rb.Slot
	})
	for pos, i := range perm {
		resolved[i].Order = pos
	}
	return warnings
}

// synthesizeID derives a logical id from a content hash and its occurrence
// index within the session. The occurrence index disambiguates duplicate
// images; it only ever grows, so ids never collide or shift between renders.
func synthesizeID(contentHash string, occurrence int) string {
	hasher, err := blake3.NewKeyed(idDomainKey[:])
	if err != nil {
		// NewKeyed only fails on a wrong key length, which the fixed
		// 32-byte domain key rules out.
		panic("identity: blake3 keyed hasher: " + err.Error())
	}
	_, _ = hasher.Write([]byte(contentHash))
	var occ [8]byte
	binary.BigEndian.PutUint64(occ[:], uint64(occurrence))
	_, _ = hasher.Write(occ[:])

	sum := hasher.Sum(nil)
	return hex.EncodeToString(sum[:8])
}
