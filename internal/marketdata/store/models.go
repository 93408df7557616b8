package store

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/spiretrading/nexus-sub010/internal/marketdata"
)

// One table per data kind, each indexed by (index, sequence) so range and
// tail queries resolve on the composite index.

type orderImbalanceRow struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement"`
	Market         string `gorm:"size:16;index:idx_imbalances_market_seq,priority:1"`
	Sequence       uint64 `gorm:"index:idx_imbalances_market_seq,priority:2"`
	Symbol         string `gorm:"size:16"`
	SecurityMarket string `gorm:"size:16"`
	Side           uint8
	Size           int64
	ReferencePrice decimal.Decimal `gorm:"type:decimal(20,8)"`
	Timestamp      time.Time
}

func (orderImbalanceRow) TableName() string { return "order_imbalances" }

type bboQuoteRow struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement"`
	Symbol    string          `gorm:"size:16;index:idx_bbo_security_seq,priority:1"`
	Market    string          `gorm:"size:16;index:idx_bbo_security_seq,priority:2"`
	Sequence  uint64          `gorm:"index:idx_bbo_security_seq,priority:3"`
	BidPrice  decimal.Decimal `gorm:"type:decimal(20,8)"`
	BidSize   int64
	AskPrice  decimal.Decimal `gorm:"type:decimal(20,8)"`
	AskSize   int64
	Timestamp time.Time
}

func (bboQuoteRow) TableName() string { return "bbo_quotes" }

type bookQuoteRow struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	Symbol    string `gorm:"size:16;index:idx_book_security_seq,priority:1"`
	Market    string `gorm:"size:16;index:idx_book_security_seq,priority:2"`
	Sequence  uint64 `gorm:"index:idx_book_security_seq,priority:3"`
	MPID      string `gorm:"size:8"`
	IsPrimary bool
	Venue     string `gorm:"size:16"`
	Side      uint8
	Price     decimal.Decimal `gorm:"type:decimal(20,8)"`
	Size      int64
	Timestamp time.Time
}

func (bookQuoteRow) TableName() string { return "book_quotes" }

type marketQuoteRow struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement"`
	Symbol    string          `gorm:"size:16;index:idx_market_security_seq,priority:1"`
	Market    string          `gorm:"size:16;index:idx_market_security_seq,priority:2"`
	Sequence  uint64          `gorm:"index:idx_market_security_seq,priority:3"`
	Venue     string          `gorm:"size:16"`
	BidPrice  decimal.Decimal `gorm:"type:decimal(20,8)"`
	BidSize   int64
	AskPrice  decimal.Decimal `gorm:"type:decimal(20,8)"`
	AskSize   int64
	Timestamp time.Time
}

func (marketQuoteRow) TableName() string { return "market_quotes" }

type timeAndSaleRow struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement"`
	Symbol    string          `gorm:"size:16;index:idx_tas_security_seq,priority:1"`
	Market    string          `gorm:"size:16;index:idx_tas_security_seq,priority:2"`
	Sequence  uint64          `gorm:"index:idx_tas_security_seq,priority:3"`
	Price     decimal.Decimal `gorm:"type:decimal(20,8)"`
	Size      int64
	Condition string `gorm:"size:8"`
	Venue     string `gorm:"size:16"`
	Timestamp time.Time
}

func (timeAndSaleRow) TableName() string { return "time_and_sales" }

func (r orderImbalanceRow) toValue() marketdata.SequencedOrderImbalance {
	return marketdata.SequencedOrderImbalance{
		Value: marketdata.OrderImbalance{
			Security: marketdata.Security{
				Symbol: r.Symbol,
				Market: marketdata.Market(r.SecurityMarket),
			},
			Side:           marketdata.Side(r.Side),
			Size:           r.Size,
			ReferencePrice: r.ReferencePrice,
			Timestamp:      r.Timestamp,
		},
		Sequence: marketdata.Sequence(r.Sequence),
	}
}

func (r bboQuoteRow) toValue() marketdata.SequencedBboQuote {
	return marketdata.SequencedBboQuote{
		Value: marketdata.BboQuote{
			Bid:       marketdata.Quote{Price: r.BidPrice, Size: r.BidSize, Side: marketdata.SideBid},
			Ask:       marketdata.Quote{Price: r.AskPrice, Size: r.AskSize, Side: marketdata.SideAsk},
			Timestamp: r.Timestamp,
		},
		Sequence: marketdata.Sequence(r.Sequence),
	}
}

func (r bookQuoteRow) toValue() marketdata.SequencedBookQuote {
	return marketdata.SequencedBookQuote{
		Value: marketdata.BookQuote{
			MPID:      r.MPID,
			IsPrimary: r.IsPrimary,
			Venue:     marketdata.Market(r.Venue),
			Quote: marketdata.Quote{
				Price: r.Price,
				Size:  r.Size,
				Side:  marketdata.Side(r.Side),
			},
			Timestamp: r.Timestamp,
		},
		Sequence: marketdata.Sequence(r.Sequence),
	}
}

func (r marketQuoteRow) toValue() marketdata.SequencedMarketQuote {
	return marketdata.SequencedMarketQuote{
		Value: marketdata.MarketQuote{
			Venue:     marketdata.Market(r.Venue),
			Bid:       marketdata.Quote{Price: r.BidPrice, Size: r.BidSize, Side: marketdata.SideBid},
			Ask:       marketdata.Quote{Price: r.AskPrice, Size: r.AskSize, Side: marketdata.SideAsk},
			Timestamp: r.Timestamp,
		},
		Sequence: marketdata.Sequence(r.Sequence),
	}
}

func (r timeAndSaleRow) toValue() marketdata.SequencedTimeAndSale {
	return marketdata.SequencedTimeAndSale{
		Value: marketdata.TimeAndSale{
			Timestamp: r.Timestamp,
			Price:     r.Price,
			Size:      r.Size,
			Condition: r.Condition,
			Venue:     marketdata.Market(r.Venue),
		},
		Sequence: marketdata.Sequence(r.Sequence),
	}
}
