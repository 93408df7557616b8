package ws

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/spiretrading/nexus-sub010/internal/marketdata"
)

func TestRequestRangeDefaultsToRealTime(t *testing.T) {
	r := request{Start: 5}
	assert.Equal(t, marketdata.RealTimeRange(5), r.sequenceRange())

	r = request{Start: 1, End: 10}
	assert.Equal(t, marketdata.HistoricalRange(1, 10), r.sequenceRange())
	assert.False(t, r.sequenceRange().IsRealTime())
}

func TestRequestSnapshotLimit(t *testing.T) {
	assert.True(t, request{}.snapshotLimit().Unlimited())
	assert.Equal(t, marketdata.TailLimit(5), request{Limit: 5}.snapshotLimit())
	assert.Equal(t, marketdata.HeadLimit(5), request{Limit: 5, LimitType: "head"}.snapshotLimit())
}

func TestRequestInterruptionPolicy(t *testing.T) {
	assert.Equal(t, marketdata.InterruptionRecover, request{}.interruptionPolicy())
	assert.Equal(t, marketdata.InterruptionBreak, request{Policy: "break"}.interruptionPolicy())
	assert.Equal(t, marketdata.InterruptionIgnore, request{Policy: "ignore"}.interruptionPolicy())
}

func TestRequestOriginFilter(t *testing.T) {
	assert.Nil(t, request{}.originFilter())
	assert.Equal(t, []marketdata.Market{"XTSE", "XNYS"},
		request{Origins: []string{"XTSE", "XNYS"}}.originFilter())
}

func TestRequestSecurity(t *testing.T) {
	r := request{Symbol: "BMO", Market: "XTSE"}
	assert.Equal(t, marketdata.Security{Symbol: "BMO", Market: "XTSE"}, r.security())
}

func TestMessageTypeNames(t *testing.T) {
	assert.Equal(t, "bbo_quote", messageType(marketdata.SecurityBboQuote{}))
	assert.Equal(t, "book_quote", messageType(marketdata.SecurityBookQuote{}))
	assert.Equal(t, "market_quote", messageType(marketdata.SecurityMarketQuote{}))
	assert.Equal(t, "time_and_sale", messageType(marketdata.SecurityTimeAndSale{}))
	assert.Equal(t, "order_imbalance", messageType(marketdata.MarketOrderImbalance{}))
	assert.Equal(t, "interrupted", messageType(marketdata.SubscriptionInterrupted{SubscriptionID: uuid.New()}))
	assert.Equal(t, "subscription_failed", messageType(marketdata.SubscriptionFailed{}))
	assert.Equal(t, "message", messageType(struct{}{}))
}
