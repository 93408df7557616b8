package marketdata

import "math"

// Sequence is a per-index strictly increasing ordinal. Sequences from two
// different indices are never comparable; within one index they establish the
// total order every subscriber observes.
type Sequence uint64

const (
	// FirstSequence is the ordinal assigned to the first value published for
	// an index that has no persisted history.
	FirstSequence Sequence = 1

	// PresentSequence marks the open end of a real-time query range.
	PresentSequence Sequence = math.MaxUint64
)

// Increment returns the next ordinal after s.
func (s Sequence) Increment() Sequence {
	return s + 1
}

// SequencedValue pairs a value with the Sequence assigned when it was accepted
// into an index's state. Immutable once created.
type SequencedValue[T any] struct {
	Value    T
	Sequence Sequence
}

// IndexedValue pairs a value with the index it belongs to, used when
// broadcasting to subscribers that are keyed differently than the
// originating cache.
type IndexedValue[T any, I comparable] struct {
	Value T
	Index I
}

// Sequencer hands out strictly increasing Sequence values for one index.
// It is not safe for concurrent use; every Sequencer is exclusively owned by
// the relay worker its index hashes to.
type Sequencer struct {
	current Sequence
}

// NewSequencer returns a Sequencer that resumes one past last, where last is
// the most recent persisted Sequence for the index (zero for a cold index).
func NewSequencer(last Sequence) *Sequencer {
	return &Sequencer{current: last}
}

// Next advances the counter and returns the new ordinal.
func (s *Sequencer) Next() Sequence {
	s.current++
	return s.current
}

// IncrementCurrent advances the counter without producing a new value, used
// when an existing entry is updated in place and must still claim a fresh
// position in the ordering for cursor and replay purposes.
func (s *Sequencer) IncrementCurrent() Sequence {
	return s.Next()
}

// Current returns the most recently issued ordinal.
func (s *Sequencer) Current() Sequence {
	return s.current
}

// MakeSequenced attaches the sequencer's next ordinal to value.
func MakeSequenced[T any](s *Sequencer, value T) SequencedValue[T] {
	return SequencedValue[T]{Value: value, Sequence: s.Next()}
}
