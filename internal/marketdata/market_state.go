package marketdata

// MarketState is the per-market cache. Order imbalances are fire and forget
// events, so the only standing state is the Sequencer stamping them.
type MarketState struct {
	market     Market
	imbalances *Sequencer
}

// NewMarketState builds the cache for one market, resuming the imbalance
// sequencer one past the most recent persisted ordinal.
func NewMarketState(market Market, lastImbalance Sequence) *MarketState {
	return &MarketState{
		market:     market,
		imbalances: NewSequencer(lastImbalance),
	}
}

// Market returns the market code this state is scoped to.
func (m *MarketState) Market() Market {
	return m.market
}

// PublishOrderImbalance stamps the imbalance with the next ordinal and returns
// the sequenced value for broadcast.
func (m *MarketState) PublishOrderImbalance(imbalance OrderImbalance) SequencedOrderImbalance {
	return MakeSequenced(m.imbalances, imbalance)
}

// Clear discards state attributable to a disconnected source. Imbalances keep
// no per-source entries, so this is a no-op, but every per-index state type
// exposes it so the relay can treat them uniformly on source loss.
func (m *MarketState) Clear(source SourceID) {}
