package marketdata

import (
	"slices"
	"sort"

	"github.com/shopspring/decimal"
)

// bookEntry tags an aggregated price level with the upstream source that last
// touched it, so Clear can purge a disconnected feed's liquidity.
type bookEntry struct {
	quote  SequencedBookQuote
	source SourceID
}

// SecurityState is the per-instrument cache: the current BBO, last trade,
// per-venue market quotes, both sides of the aggregated book and the session
// technicals. Each data kind owns its own Sequencer. A SecurityState is
// exclusively owned by the relay worker its security hashes to and performs
// no locking of its own.
type SecurityState struct {
	security Security

	bboSequencer         *Sequencer
	bookSequencer        *Sequencer
	marketQuoteSequencer *Sequencer
	timeAndSaleSequencer *Sequencer

	bbo          SequencedBboQuote
	timeAndSale  SequencedTimeAndSale
	marketQuotes map[Market]SequencedMarketQuote
	asks         []bookEntry
	bids         []bookEntry

	technicals  Technicals
	lastPrice   decimal.Decimal
	sessionDate string
}

// SecurityStateSeed carries the most recent persisted Sequence per data kind,
// letting each sequencer resume past its history after a restart.
type SecurityStateSeed struct {
	Bbo         Sequence
	Book        Sequence
	MarketQuote Sequence
	TimeAndSale Sequence
}

// NewSecurityState builds the cache for one security.
func NewSecurityState(security Security, seed SecurityStateSeed) *SecurityState {
	return &SecurityState{
		security:             security,
		bboSequencer:         NewSequencer(seed.Bbo),
		bookSequencer:        NewSequencer(seed.Book),
		marketQuoteSequencer: NewSequencer(seed.MarketQuote),
		timeAndSaleSequencer: NewSequencer(seed.TimeAndSale),
		marketQuotes:         make(map[Market]SequencedMarketQuote),
	}
}

// Security returns the instrument this state is scoped to.
func (s *SecurityState) Security() Security {
	return s.security
}

// Bbo returns the current best bid and offer; the Sequence is zero when no
// BBO has been published yet.
func (s *SecurityState) Bbo() SequencedBboQuote {
	return s.bbo
}

// Technicals returns the current session statistics.
func (s *SecurityState) Technicals() Technicals {
	return s.technicals
}

// UpdateBbo replaces the current BBO and stamps it with the next ordinal.
func (s *SecurityState) UpdateBbo(quote BboQuote) SequencedBboQuote {
	s.bbo = MakeSequenced(s.bboSequencer, quote)
	return s.bbo
}

// UpdateMarketQuote replaces the venue's current quote and stamps it.
func (s *SecurityState) UpdateMarketQuote(quote MarketQuote) SequencedMarketQuote {
	value := MakeSequenced(s.marketQuoteSequencer, quote)
	s.marketQuotes[quote.Venue] = value
	return value
}

const sessionDateLayout = "2006-01-02"

// UpdateTimeAndSale replaces the last trade, stamps it and recomputes the
// session technicals. Crossing a session boundary rolls the prior session's
// last price into Close and restarts volume, high, low and open.
func (s *SecurityState) UpdateTimeAndSale(print TimeAndSale) SequencedTimeAndSale {
	date := print.Timestamp.UTC().Format(sessionDateLayout)
	if date != s.sessionDate {
		s.technicals.Close = s.lastPrice
		s.technicals.Open = print.Price
		s.technicals.High = print.Price
		s.technicals.Low = print.Price
		s.technicals.Volume = print.Size
		s.sessionDate = date
	} else {
		s.technicals.Volume += print.Size
		if print.Price.GreaterThan(s.technicals.High) {
			s.technicals.High = print.Price
		}
		if print.Price.LessThan(s.technicals.Low) {
			s.technicals.Low = print.Price
		}
	}
	s.lastPrice = print.Price
	s.timeAndSale = MakeSequenced(s.timeAndSaleSequencer, print)
	return s.timeAndSale
}

// priceBefore reports whether a has strictly better book priority than b on
// the given side: lower price on the ask side, higher on the bid side.
func priceBefore(side Side, a, b decimal.Decimal) bool {
	if side == SideBid {
		return a.GreaterThan(b)
	}
	return a.LessThan(b)
}

// UpdateBookQuote applies one book update, either a full replacement quote or
// an additive size delta keyed on (price, venue, participant), and returns the
// resulting sequenced entry for broadcast. The second return is false when the
// update is a delete for a level that does not exist and nothing changed.
//
// A delta driving a level's size to or below zero leaves a size-zero tombstone
// in the list: its new ordinal still matters to concurrently attached live
// subscribers, so it is only filtered out at snapshot time. Entries with equal
// price keep arrival order.
func (s *SecurityState) UpdateBookQuote(quote BookQuote, source SourceID) (SequencedBookQuote, bool) {
	list := &s.asks
	if quote.Quote.Side == SideBid {
		list = &s.bids
	}
	entries := *list
	// lo..hi spans the entries priced exactly at the quote; hi is also the
	// insertion point that keeps equal-price entries in arrival order.
	lo := sort.Search(len(entries), func(j int) bool {
		return !priceBefore(quote.Quote.Side, entries[j].quote.Value.Quote.Price, quote.Quote.Price)
	})
	hi := lo + sort.Search(len(entries)-lo, func(j int) bool {
		return priceBefore(quote.Quote.Side, quote.Quote.Price, entries[lo+j].quote.Value.Quote.Price)
	})
	for j := lo; j < hi; j++ {
		existing := &entries[j]
		if existing.quote.Value.MPID == quote.MPID &&
			existing.quote.Value.Venue == quote.Venue {
			// Additive delta against the existing level. The entry keeps its
			// identity but claims a fresh ordinal.
			size := existing.quote.Value.Quote.Size + quote.Quote.Size
			if size < 0 {
				size = 0
			}
			existing.quote.Value.Quote.Size = size
			existing.quote.Value.Timestamp = quote.Timestamp
			existing.quote.Sequence = s.bookSequencer.IncrementCurrent()
			existing.source = source
			return existing.quote, true
		}
	}
	if quote.Quote.Size <= 0 {
		return SequencedBookQuote{}, false
	}
	value := MakeSequenced(s.bookSequencer, quote)
	if hi < len(entries) && entries[hi].quote.Value.Quote.Size == 0 {
		// The slot holds a tombstone; reclaim it in place. Its neighbors
		// bracket the insertion point, so the slot stays sorted.
		entries[hi] = bookEntry{quote: value, source: source}
		return value, true
	}
	*list = slices.Insert(entries, hi, bookEntry{quote: value, source: source})
	return value, true
}

// Clear removes every book entry, ask and bid, recorded against the given
// source. Repeated calls are no-ops.
func (s *SecurityState) Clear(source SourceID) {
	s.asks = slices.DeleteFunc(s.asks, func(e bookEntry) bool {
		return e.source == source
	})
	s.bids = slices.DeleteFunc(s.bids, func(e bookEntry) bool {
		return e.source == source
	})
}

// SecuritySnapshot is the externally visible present-time view of one
// instrument. Tombstoned book entries are excluded.
type SecuritySnapshot struct {
	Security     Security                        `json:"security"`
	Bbo          SequencedBboQuote               `json:"bbo"`
	TimeAndSale  SequencedTimeAndSale            `json:"time_and_sale"`
	MarketQuotes map[Market]SequencedMarketQuote `json:"market_quotes"`
	Asks         []SequencedBookQuote            `json:"asks"`
	Bids         []SequencedBookQuote            `json:"bids"`
	Technicals   Technicals                      `json:"technicals"`
}

// Snapshot computes the current externally visible view. Tombstones are
// filtered here rather than at update time because their ordinals remain
// meaningful to live subscribers attached concurrently with their creation.
func (s *SecurityState) Snapshot() SecuritySnapshot {
	snapshot := SecuritySnapshot{
		Security:     s.security,
		Bbo:          s.bbo,
		TimeAndSale:  s.timeAndSale,
		MarketQuotes: make(map[Market]SequencedMarketQuote, len(s.marketQuotes)),
		Technicals:   s.technicals,
	}
	for venue, quote := range s.marketQuotes {
		snapshot.MarketQuotes[venue] = quote
	}
	for _, entry := range s.asks {
		if entry.quote.Value.Quote.Size > 0 {
			snapshot.Asks = append(snapshot.Asks, entry.quote)
		}
	}
	for _, entry := range s.bids {
		if entry.quote.Value.Quote.Size > 0 {
			snapshot.Bids = append(snapshot.Bids, entry.quote)
		}
	}
	return snapshot
}
