package feed

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/spiretrading/nexus-sub010/internal/marketdata"
)

// orderRecord tracks one live order contributing to an aggregated book level.
type orderRecord struct {
	security  marketdata.Security
	mpid      string
	isPrimary bool
	venue     marketdata.Market
	side      marketdata.Side
	price     decimal.Decimal
	size      int64
}

// Normalizer is the feed-normalization layer: it consumes order-level events
// and emits the aggregated BookQuote size deltas the per-security caches
// expect, alongside pass-through publication of the other data kinds. It is
// not safe for concurrent use; each upstream connection owns one Normalizer.
type Normalizer struct {
	sink   Sink
	source marketdata.SourceID
	orders map[string]*orderRecord
	logger *zap.Logger
}

// NewNormalizer builds a normalizer publishing into sink under the given
// source id.
func NewNormalizer(sink Sink, source marketdata.SourceID, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		sink:   sink,
		source: source,
		orders: make(map[string]*orderRecord),
		logger: logger,
	}
}

// Add registers an instrument's static reference record.
func (n *Normalizer) Add(info marketdata.SecurityInfo) {
	n.sink.AddSecurityInfo(info)
}

// PublishOrderImbalance forwards an auction imbalance.
func (n *Normalizer) PublishOrderImbalance(market marketdata.Market, imbalance marketdata.OrderImbalance) error {
	return n.sink.Ingest(marketdata.FeedMessage{
		Kind:           marketdata.KindOrderImbalance,
		Source:         n.source,
		Market:         market,
		OrderImbalance: &imbalance,
	})
}

// PublishBboQuote forwards a best bid and offer.
func (n *Normalizer) PublishBboQuote(security marketdata.Security, quote marketdata.BboQuote) error {
	return n.sink.Ingest(marketdata.FeedMessage{
		Kind:     marketdata.KindBboQuote,
		Source:   n.source,
		Security: security,
		BboQuote: &quote,
	})
}

// PublishMarketQuote forwards a per-venue quote.
func (n *Normalizer) PublishMarketQuote(security marketdata.Security, quote marketdata.MarketQuote) error {
	return n.sink.Ingest(marketdata.FeedMessage{
		Kind:        marketdata.KindMarketQuote,
		Source:      n.source,
		Security:    security,
		MarketQuote: &quote,
	})
}

// PublishTimeAndSale forwards a trade print.
func (n *Normalizer) PublishTimeAndSale(security marketdata.Security, print marketdata.TimeAndSale) error {
	return n.sink.Ingest(marketdata.FeedMessage{
		Kind:        marketdata.KindTimeAndSale,
		Source:      n.source,
		Security:    security,
		TimeAndSale: &print,
	})
}

// UpdateBook forwards an already aggregated book quote or delta untouched.
func (n *Normalizer) UpdateBook(security marketdata.Security, quote marketdata.BookQuote) error {
	return n.sink.Ingest(marketdata.FeedMessage{
		Kind:      marketdata.KindBookQuote,
		Source:    n.source,
		Security:  security,
		BookQuote: &quote,
	})
}

// emitDelta publishes the size change an order event causes at its price
// level.
func (n *Normalizer) emitDelta(order *orderRecord, price decimal.Decimal, delta int64, timestamp time.Time) error {
	return n.UpdateBook(order.security, marketdata.BookQuote{
		MPID:      order.mpid,
		IsPrimary: order.isPrimary,
		Venue:     order.venue,
		Quote: marketdata.Quote{
			Price: price,
			Size:  delta,
			Side:  order.side,
		},
		Timestamp: timestamp,
	})
}

// AddOrder introduces a new order, growing its (price, participant) level.
func (n *Normalizer) AddOrder(id string, security marketdata.Security, mpid string, isPrimary bool, venue marketdata.Market, side marketdata.Side, price decimal.Decimal, size int64, timestamp time.Time) error {
	order := &orderRecord{
		security:  security,
		mpid:      mpid,
		isPrimary: isPrimary,
		venue:     venue,
		side:      side,
		price:     price,
		size:      size,
	}
	n.orders[id] = order
	return n.emitDelta(order, price, size, timestamp)
}

// ModifyOrderSize sets an order's absolute size, emitting the difference.
func (n *Normalizer) ModifyOrderSize(id string, size int64, timestamp time.Time) error {
	order, ok := n.orders[id]
	if !ok {
		return ErrUnknownOrder
	}
	delta := size - order.size
	order.size = size
	if delta == 0 {
		return nil
	}
	return n.emitDelta(order, order.price, delta, timestamp)
}

// OffsetOrderSize shifts an order's size by a relative amount.
func (n *Normalizer) OffsetOrderSize(id string, delta int64, timestamp time.Time) error {
	order, ok := n.orders[id]
	if !ok {
		return ErrUnknownOrder
	}
	order.size += delta
	if order.size < 0 {
		order.size = 0
	}
	if delta == 0 {
		return nil
	}
	return n.emitDelta(order, order.price, delta, timestamp)
}

// ModifyOrderPrice moves an order to a new price level: its size leaves the
// old level and joins the new one.
func (n *Normalizer) ModifyOrderPrice(id string, price decimal.Decimal, timestamp time.Time) error {
	order, ok := n.orders[id]
	if !ok {
		return ErrUnknownOrder
	}
	oldPrice := order.price
	if oldPrice.Equal(price) {
		return nil
	}
	if err := n.emitDelta(order, oldPrice, -order.size, timestamp); err != nil {
		return err
	}
	order.price = price
	return n.emitDelta(order, price, order.size, timestamp)
}

// DeleteOrder removes an order, shrinking its level by the remaining size.
func (n *Normalizer) DeleteOrder(id string, timestamp time.Time) error {
	order, ok := n.orders[id]
	if !ok {
		return ErrUnknownOrder
	}
	delete(n.orders, id)
	if order.size == 0 {
		return nil
	}
	return n.emitDelta(order, order.price, -order.size, timestamp)
}
