package marketdata

import "context"

// Convenience aliases for values travelling between the caches, the store and
// the wire.
type (
	SequencedOrderImbalance = SequencedValue[OrderImbalance]
	SequencedBboQuote       = SequencedValue[BboQuote]
	SequencedBookQuote      = SequencedValue[BookQuote]
	SequencedMarketQuote    = SequencedValue[MarketQuote]
	SequencedTimeAndSale    = SequencedValue[TimeAndSale]

	MarketOrderImbalance = IndexedValue[SequencedOrderImbalance, Market]
	SecurityBboQuote     = IndexedValue[SequencedBboQuote, Security]
	SecurityBookQuote    = IndexedValue[SequencedBookQuote, Security]
	SecurityMarketQuote  = IndexedValue[SequencedMarketQuote, Security]
	SecurityTimeAndSale  = IndexedValue[SequencedTimeAndSale, Security]
)

// HistoricalLoader is the read half of the durable store: range queries per
// data kind, honoring the query's Sequence range and snapshot limit. Results
// come back in ascending Sequence order.
type HistoricalLoader interface {
	LoadOrderImbalances(ctx context.Context, query MarketQuery) ([]SequencedOrderImbalance, error)
	LoadBboQuotes(ctx context.Context, query SecurityQuery) ([]SequencedBboQuote, error)
	LoadBookQuotes(ctx context.Context, query SecurityQuery) ([]SequencedBookQuote, error)
	LoadMarketQuotes(ctx context.Context, query SecurityQuery) ([]SequencedMarketQuote, error)
	LoadTimeAndSales(ctx context.Context, query SecurityQuery) ([]SequencedTimeAndSale, error)
}

// HistoricalStore is the durable range-query and append interface the relay
// depends on. Implementations live outside the core; one per concrete
// backend.
type HistoricalStore interface {
	HistoricalLoader
	StoreOrderImbalance(ctx context.Context, value MarketOrderImbalance) error
	StoreBboQuote(ctx context.Context, value SecurityBboQuote) error
	StoreBookQuote(ctx context.Context, value SecurityBookQuote) error
	StoreMarketQuote(ctx context.Context, value SecurityMarketQuote) error
	StoreTimeAndSale(ctx context.Context, value SecurityTimeAndSale) error
	Close() error
}

// UpstreamClient reads like the historical store and additionally streams live
// feed messages. It is the source of truth for data not yet cached.
type UpstreamClient interface {
	HistoricalLoader
	Stream(ctx context.Context) (<-chan FeedMessage, error)
	Close() error
}

// FeedMessage is one normalized upstream event, tagged with the kind of
// payload it carries and the source connection it arrived on.
type FeedMessage struct {
	Kind           DataKind        `json:"kind"`
	Source         SourceID        `json:"source"`
	Market         Market          `json:"market,omitempty"`
	Security       Security        `json:"security,omitzero"`
	OrderImbalance *OrderImbalance `json:"order_imbalance,omitempty"`
	BboQuote       *BboQuote       `json:"bbo_quote,omitempty"`
	BookQuote      *BookQuote      `json:"book_quote,omitempty"`
	MarketQuote    *MarketQuote    `json:"market_quote,omitempty"`
	TimeAndSale    *TimeAndSale    `json:"time_and_sale,omitempty"`
}

// Subscriber is the session transport the relay pushes live values through.
// Serialization and framing are the session layer's concern.
type Subscriber interface {
	ID() string
	Send(value any) error
}
