package marketdata

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Market identifies a venue by its market code, e.g. "XNYS" or "XNAS".
type Market string

// Security identifies an instrument by ticker symbol and primary market.
type Security struct {
	Symbol string `json:"symbol"`
	Market Market `json:"market"`
}

func (s Security) String() string {
	return fmt.Sprintf("%s.%s", s.Symbol, s.Market)
}

// SourceID identifies an upstream feed connection contributing data. Book
// entries remember their source so a disconnecting feed's liquidity can be
// purged.
type SourceID int

// Side distinguishes the two halves of a book.
type Side uint8

const (
	SideAsk Side = iota
	SideBid
)

func (s Side) String() string {
	if s == SideBid {
		return "BID"
	}
	return "ASK"
}

// Quote is one price level: a price, a size and the side it sits on.
type Quote struct {
	Price decimal.Decimal `json:"price"`
	Size  int64           `json:"size"`
	Side  Side            `json:"side"`
}

// BboQuote is the best bid and offer across all venues for a security.
type BboQuote struct {
	Bid       Quote     `json:"bid"`
	Ask       Quote     `json:"ask"`
	Timestamp time.Time `json:"timestamp"`
}

// MarketQuote is one venue's current quote for a security.
type MarketQuote struct {
	Venue     Market    `json:"venue"`
	Bid       Quote     `json:"bid"`
	Ask       Quote     `json:"ask"`
	Timestamp time.Time `json:"timestamp"`
}

// BookQuote is one aggregated price level attributed to a participant on one
// side of a security's book. Venue is the market the entry originates from,
// which may differ from the security's primary market.
type BookQuote struct {
	MPID      string    `json:"mpid"`
	IsPrimary bool      `json:"is_primary"`
	Venue     Market    `json:"venue"`
	Quote     Quote     `json:"quote"`
	Timestamp time.Time `json:"timestamp"`
}

// TimeAndSale is a single trade print.
type TimeAndSale struct {
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
	Size      int64           `json:"size"`
	Condition string          `json:"condition"`
	Venue     Market          `json:"venue"`
}

// OrderImbalance reports an auction imbalance for a security on a market.
type OrderImbalance struct {
	Security       Security        `json:"security"`
	Side           Side            `json:"side"`
	Size           int64           `json:"size"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Technicals carries the session statistics derived from trade prints.
type Technicals struct {
	Volume int64           `json:"volume"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Open   decimal.Decimal `json:"open"`
	Close  decimal.Decimal `json:"close"`
}

// SecurityInfo is the static reference record for an instrument.
type SecurityInfo struct {
	Security Security `json:"security"`
	Name     string   `json:"name"`
	BoardLot int64    `json:"board_lot"`
}

// DataKind tags the five kinds of market data the relay distributes.
type DataKind uint8

const (
	KindOrderImbalance DataKind = iota
	KindBboQuote
	KindBookQuote
	KindMarketQuote
	KindTimeAndSale
)

func (k DataKind) String() string {
	switch k {
	case KindOrderImbalance:
		return "order_imbalance"
	case KindBboQuote:
		return "bbo_quote"
	case KindBookQuote:
		return "book_quote"
	case KindMarketQuote:
		return "market_quote"
	case KindTimeAndSale:
		return "time_and_sale"
	}
	return "unknown"
}

// ParseDataKind maps a kind's wire name back to its tag.
func ParseDataKind(name string) (DataKind, bool) {
	switch name {
	case "order_imbalance":
		return KindOrderImbalance, true
	case "bbo_quote":
		return KindBboQuote, true
	case "book_quote":
		return KindBookQuote, true
	case "market_quote":
		return KindMarketQuote, true
	case "time_and_sale":
		return KindTimeAndSale, true
	}
	return 0, false
}
