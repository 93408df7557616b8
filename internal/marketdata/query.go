package marketdata

// SequenceRange selects a window of an index's ordering. End set to
// PresentSequence makes the query open-ended: the caller wants a snapshot
// followed by a live subscription.
type SequenceRange struct {
	Start Sequence `json:"start"`
	End   Sequence `json:"end"`
}

// HistoricalRange builds a bounded range.
func HistoricalRange(start, end Sequence) SequenceRange {
	return SequenceRange{Start: start, End: end}
}

// RealTimeRange builds the open-ended range covering everything from start
// through the live feed.
func RealTimeRange(start Sequence) SequenceRange {
	return SequenceRange{Start: start, End: PresentSequence}
}

// IsRealTime reports whether the range extends to the live feed.
func (r SequenceRange) IsRealTime() bool {
	return r.End == PresentSequence
}

// Contains reports whether s falls inside the range.
func (r SequenceRange) Contains(s Sequence) bool {
	return s >= r.Start && s <= r.End
}

// SnapshotLimitType selects which end of a range a limited query keeps.
type SnapshotLimitType uint8

const (
	SnapshotHead SnapshotLimitType = iota
	SnapshotTail
)

// SnapshotLimit caps a query's result at one end of the range. A zero Size
// means unlimited.
type SnapshotLimit struct {
	Type SnapshotLimitType `json:"type"`
	Size int               `json:"size"`
}

// TailLimit keeps only the most recent n values.
func TailLimit(n int) SnapshotLimit {
	return SnapshotLimit{Type: SnapshotTail, Size: n}
}

// HeadLimit keeps only the earliest n values.
func HeadLimit(n int) SnapshotLimit {
	return SnapshotLimit{Type: SnapshotHead, Size: n}
}

// Unlimited reports whether the limit imposes no cap.
func (l SnapshotLimit) Unlimited() bool {
	return l.Size <= 0
}

// Apply trims values according to the limit. Values must already be in
// Sequence order.
func ApplyLimit[T any](values []SequencedValue[T], limit SnapshotLimit) []SequencedValue[T] {
	if limit.Unlimited() || len(values) <= limit.Size {
		return values
	}
	if limit.Type == SnapshotTail {
		return values[len(values)-limit.Size:]
	}
	return values[:limit.Size]
}

// InterruptionPolicy tells a live subscription how to behave when its upstream
// source is disrupted.
type InterruptionPolicy uint8

const (
	// InterruptionRecover re-enters catch-up and resumes once the source
	// returns; the subscriber keeps its session.
	InterruptionRecover InterruptionPolicy = iota

	// InterruptionBreak closes the subscription, notifying the session layer.
	InterruptionBreak

	// InterruptionIgnore leaves the subscription live; the subscriber accepts
	// a possible gap.
	InterruptionIgnore
)

// Query asks for a window of one index's data. OriginFilter only applies to
// book quotes and restricts results to entries originating from the listed
// venues; empty means every entitled venue.
type Query[I comparable] struct {
	Index        I                  `json:"index"`
	Range        SequenceRange      `json:"range"`
	Limit        SnapshotLimit      `json:"limit"`
	OriginFilter []Market           `json:"origin_filter,omitempty"`
	Policy       InterruptionPolicy `json:"policy"`
}

// SecurityQuery selects per-security data kinds.
type SecurityQuery = Query[Security]

// MarketQuery selects per-market data kinds.
type MarketQuery = Query[Market]

func (q Query[I]) matchesOrigin(origin Market) bool {
	if len(q.OriginFilter) == 0 {
		return true
	}
	for _, m := range q.OriginFilter {
		if m == origin {
			return true
		}
	}
	return false
}
