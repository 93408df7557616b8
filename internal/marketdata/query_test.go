package marketdata_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spiretrading/nexus-sub010/internal/marketdata"
)

func sequenced(values ...int) []marketdata.SequencedValue[int] {
	out := make([]marketdata.SequencedValue[int], len(values))
	for i, v := range values {
		out[i] = marketdata.SequencedValue[int]{Value: v, Sequence: marketdata.Sequence(v)}
	}
	return out
}

func TestRealTimeRangeIsOpenEnded(t *testing.T) {
	r := marketdata.RealTimeRange(marketdata.FirstSequence)
	assert.True(t, r.IsRealTime())
	assert.True(t, r.Contains(marketdata.Sequence(1_000_000)))

	bounded := marketdata.HistoricalRange(1, 10)
	assert.False(t, bounded.IsRealTime())
	assert.True(t, bounded.Contains(10))
	assert.False(t, bounded.Contains(11))
}

func TestApplyLimitHead(t *testing.T) {
	values := sequenced(1, 2, 3, 4, 5)
	trimmed := marketdata.ApplyLimit(values, marketdata.HeadLimit(2))
	assert.Equal(t, sequenced(1, 2), trimmed)
}

func TestApplyLimitTail(t *testing.T) {
	values := sequenced(1, 2, 3, 4, 5)
	trimmed := marketdata.ApplyLimit(values, marketdata.TailLimit(2))
	assert.Equal(t, sequenced(4, 5), trimmed)
}

func TestApplyLimitUnlimited(t *testing.T) {
	values := sequenced(1, 2, 3)
	assert.Equal(t, values, marketdata.ApplyLimit(values, marketdata.SnapshotLimit{}))
	assert.Equal(t, values, marketdata.ApplyLimit(values, marketdata.HeadLimit(10)))
}
