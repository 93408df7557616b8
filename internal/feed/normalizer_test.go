package feed_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spiretrading/nexus-sub010/internal/feed"
	"github.com/spiretrading/nexus-sub010/internal/marketdata"
)

var feedSecurity = marketdata.Security{Symbol: "TD", Market: "XTSE"}

// captureSink records ingested messages for inspection.
type captureSink struct {
	messages []marketdata.FeedMessage
	infos    []marketdata.SecurityInfo
	cleared  []marketdata.SourceID
}

func (s *captureSink) Ingest(message marketdata.FeedMessage) error {
	s.messages = append(s.messages, message)
	return nil
}

func (s *captureSink) AddSecurityInfo(info marketdata.SecurityInfo) {
	s.infos = append(s.infos, info)
}

func (s *captureSink) ClearSource(source marketdata.SourceID) {
	s.cleared = append(s.cleared, source)
}

func (s *captureSink) bookDeltas() []marketdata.BookQuote {
	var out []marketdata.BookQuote
	for _, message := range s.messages {
		if message.Kind == marketdata.KindBookQuote {
			out = append(out, *message.BookQuote)
		}
	}
	return out
}

func newNormalizer() (*feed.Normalizer, *captureSink) {
	sink := &captureSink{}
	return feed.NewNormalizer(sink, 3, nil), sink
}

func addOrder(t *testing.T, n *feed.Normalizer, id, px string, size int64) {
	t.Helper()
	err := n.AddOrder(id, feedSecurity, "MMKR", true, "XTSE", marketdata.SideBid,
		decimal.RequireFromString(px), size, time.Now())
	require.NoError(t, err)
}

func TestAddOrderEmitsLevelDelta(t *testing.T) {
	n, sink := newNormalizer()
	addOrder(t, n, "o1", "9.99", 100)

	deltas := sink.bookDeltas()
	require.Len(t, deltas, 1)
	assert.Equal(t, int64(100), deltas[0].Quote.Size)
	assert.True(t, deltas[0].Quote.Price.Equal(decimal.RequireFromString("9.99")))
	assert.Equal(t, marketdata.SideBid, deltas[0].Quote.Side)
	assert.Equal(t, "MMKR", deltas[0].MPID)
	assert.Equal(t, marketdata.SourceID(3), sink.messages[0].Source)
}

func TestModifyOrderSizeEmitsDifference(t *testing.T) {
	n, sink := newNormalizer()
	addOrder(t, n, "o1", "9.99", 100)

	require.NoError(t, n.ModifyOrderSize("o1", 60, time.Now()))
	deltas := sink.bookDeltas()
	require.Len(t, deltas, 2)
	assert.Equal(t, int64(-40), deltas[1].Quote.Size)

	require.NoError(t, n.ModifyOrderSize("o1", 60, time.Now()))
	assert.Len(t, sink.bookDeltas(), 2)
}

func TestOffsetOrderSize(t *testing.T) {
	n, sink := newNormalizer()
	addOrder(t, n, "o1", "9.99", 100)

	require.NoError(t, n.OffsetOrderSize("o1", 25, time.Now()))
	deltas := sink.bookDeltas()
	require.Len(t, deltas, 2)
	assert.Equal(t, int64(25), deltas[1].Quote.Size)
}

func TestModifyOrderPriceMovesLevels(t *testing.T) {
	n, sink := newNormalizer()
	addOrder(t, n, "o1", "9.99", 100)

	require.NoError(t, n.ModifyOrderPrice("o1", decimal.RequireFromString("10.01"), time.Now()))
	deltas := sink.bookDeltas()
	require.Len(t, deltas, 3)
	assert.Equal(t, int64(-100), deltas[1].Quote.Size)
	assert.True(t, deltas[1].Quote.Price.Equal(decimal.RequireFromString("9.99")))
	assert.Equal(t, int64(100), deltas[2].Quote.Size)
	assert.True(t, deltas[2].Quote.Price.Equal(decimal.RequireFromString("10.01")))
}

func TestDeleteOrderRemovesRemainingSize(t *testing.T) {
	n, sink := newNormalizer()
	addOrder(t, n, "o1", "9.99", 100)

	require.NoError(t, n.DeleteOrder("o1", time.Now()))
	deltas := sink.bookDeltas()
	require.Len(t, deltas, 2)
	assert.Equal(t, int64(-100), deltas[1].Quote.Size)

	assert.ErrorIs(t, n.DeleteOrder("o1", time.Now()), feed.ErrUnknownOrder)
}

func TestUnknownOrderIsRejected(t *testing.T) {
	n, _ := newNormalizer()
	assert.ErrorIs(t, n.ModifyOrderSize("missing", 10, time.Now()), feed.ErrUnknownOrder)
	assert.ErrorIs(t, n.OffsetOrderSize("missing", 10, time.Now()), feed.ErrUnknownOrder)
	assert.ErrorIs(t, n.ModifyOrderPrice("missing", decimal.Zero, time.Now()), feed.ErrUnknownOrder)
}

func TestPublishPassThrough(t *testing.T) {
	n, sink := newNormalizer()
	require.NoError(t, n.PublishBboQuote(feedSecurity, marketdata.BboQuote{}))
	require.NoError(t, n.PublishTimeAndSale(feedSecurity, marketdata.TimeAndSale{Size: 5}))
	require.NoError(t, n.PublishOrderImbalance("XTSE", marketdata.OrderImbalance{Size: 10}))
	require.NoError(t, n.PublishMarketQuote(feedSecurity, marketdata.MarketQuote{Venue: "XNYS"}))

	require.Len(t, sink.messages, 4)
	assert.Equal(t, marketdata.KindBboQuote, sink.messages[0].Kind)
	assert.Equal(t, marketdata.KindTimeAndSale, sink.messages[1].Kind)
	assert.Equal(t, marketdata.KindOrderImbalance, sink.messages[2].Kind)
	assert.Equal(t, marketdata.Market("XTSE"), sink.messages[2].Market)
	assert.Equal(t, marketdata.KindMarketQuote, sink.messages[3].Kind)

	n.Add(marketdata.SecurityInfo{Security: feedSecurity, Name: "Toronto-Dominion Bank"})
	require.Len(t, sink.infos, 1)
}
