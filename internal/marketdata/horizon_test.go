package marketdata_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spiretrading/nexus-sub010/internal/marketdata"
)

func add(h *marketdata.Horizon[string], seq uint64, value string) {
	h.Add(marketdata.SequencedValue[string]{Value: value, Sequence: marketdata.Sequence(seq)})
}

func TestHorizonEvictsOldestOverCapacity(t *testing.T) {
	horizon := marketdata.NewHorizon[string](3)
	for i := uint64(1); i <= 5; i++ {
		add(horizon, i, "v")
	}
	assert.Equal(t, 3, horizon.Len())
	lowest, ok := horizon.Lowest()
	require.True(t, ok)
	assert.Equal(t, marketdata.Sequence(3), lowest)
}

func TestHorizonWindow(t *testing.T) {
	horizon := marketdata.NewHorizon[string](10)
	for i := uint64(1); i <= 8; i++ {
		add(horizon, i, "v")
	}
	window := horizon.Window(marketdata.HistoricalRange(3, 5))
	require.Len(t, window, 3)
	assert.Equal(t, marketdata.Sequence(3), window[0].Sequence)
	assert.Equal(t, marketdata.Sequence(5), window[2].Sequence)
}

func TestHorizonWindowToPresent(t *testing.T) {
	horizon := marketdata.NewHorizon[string](10)
	add(horizon, 4, "a")
	add(horizon, 7, "b")
	window := horizon.Window(marketdata.RealTimeRange(5))
	require.Len(t, window, 1)
	assert.Equal(t, "b", window[0].Value)
}

func TestHorizonReplacesDuplicateSequence(t *testing.T) {
	horizon := marketdata.NewHorizon[string](10)
	add(horizon, 2, "old")
	add(horizon, 2, "new")
	assert.Equal(t, 1, horizon.Len())
	window := horizon.Window(marketdata.HistoricalRange(2, 2))
	require.Len(t, window, 1)
	assert.Equal(t, "new", window[0].Value)
}

func TestHorizonEmpty(t *testing.T) {
	horizon := marketdata.NewHorizon[string](4)
	_, ok := horizon.Lowest()
	assert.False(t, ok)
	assert.Empty(t, horizon.Window(marketdata.RealTimeRange(marketdata.FirstSequence)))
}
