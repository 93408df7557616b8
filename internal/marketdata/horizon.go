package marketdata

import (
	"github.com/tidwall/btree"
)

// Horizon is a capacity-bounded window over one index's recent values for a
// single data kind, ordered by Sequence, so bounded queries and catch-up
// reads can be answered without touching the historical store. Oldest values
// are evicted first. It is not safe for concurrent use; each Horizon is owned
// by the relay worker its index hashes to.
type Horizon[T any] struct {
	tree     *btree.BTreeG[SequencedValue[T]]
	capacity int
}

// NewHorizon builds a Horizon retaining at most capacity values.
func NewHorizon[T any](capacity int) *Horizon[T] {
	return &Horizon[T]{
		tree: btree.NewBTreeGOptions(
			func(a, b SequencedValue[T]) bool {
				return a.Sequence < b.Sequence
			},
			btree.Options{NoLocks: true},
		),
		capacity: capacity,
	}
}

// Add inserts a value, evicting the oldest once over capacity. Re-adding a
// Sequence already present replaces the stored value.
func (h *Horizon[T]) Add(value SequencedValue[T]) {
	h.tree.Set(value)
	for h.tree.Len() > h.capacity {
		h.tree.PopMin()
	}
}

// Lowest returns the smallest retained Sequence; ok is false when empty.
func (h *Horizon[T]) Lowest() (Sequence, bool) {
	min, ok := h.tree.Min()
	if !ok {
		return 0, false
	}
	return min.Sequence, true
}

// Window returns every retained value inside r, in ascending Sequence order.
func (h *Horizon[T]) Window(r SequenceRange) []SequencedValue[T] {
	var out []SequencedValue[T]
	pivot := SequencedValue[T]{Sequence: r.Start}
	h.tree.Ascend(pivot, func(v SequencedValue[T]) bool {
		if v.Sequence > r.End {
			return false
		}
		out = append(out, v)
		return true
	})
	return out
}

// Len returns the number of retained values.
func (h *Horizon[T]) Len() int {
	return h.tree.Len()
}
