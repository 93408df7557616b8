package marketdata_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spiretrading/nexus-sub010/internal/marketdata"
)

// memoryStore is a thread-safe in-memory HistoricalStore.
type memoryStore struct {
	mu           sync.Mutex
	gapLoads     int
	imbalances   map[marketdata.Market][]marketdata.SequencedOrderImbalance
	bbos         map[marketdata.Security][]marketdata.SequencedBboQuote
	books        map[marketdata.Security][]marketdata.SequencedBookQuote
	marketQuotes map[marketdata.Security][]marketdata.SequencedMarketQuote
	trades       map[marketdata.Security][]marketdata.SequencedTimeAndSale
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		imbalances:   make(map[marketdata.Market][]marketdata.SequencedOrderImbalance),
		bbos:         make(map[marketdata.Security][]marketdata.SequencedBboQuote),
		books:        make(map[marketdata.Security][]marketdata.SequencedBookQuote),
		marketQuotes: make(map[marketdata.Security][]marketdata.SequencedMarketQuote),
		trades:       make(map[marketdata.Security][]marketdata.SequencedTimeAndSale),
	}
}

func loadStored[T any, I comparable](values []marketdata.SequencedValue[T], query marketdata.Query[I]) []marketdata.SequencedValue[T] {
	var out []marketdata.SequencedValue[T]
	for _, value := range values {
		if query.Range.Contains(value.Sequence) {
			out = append(out, value)
		}
	}
	return marketdata.ApplyLimit(out, query.Limit)
}

func (s *memoryStore) LoadOrderImbalances(_ context.Context, query marketdata.MarketQuery) ([]marketdata.SequencedOrderImbalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if query.Limit.Size == 0 {
		s.gapLoads++
	}
	return loadStored(s.imbalances[query.Index], query), nil
}

func (s *memoryStore) LoadBboQuotes(_ context.Context, query marketdata.SecurityQuery) ([]marketdata.SequencedBboQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if query.Limit.Size == 0 {
		s.gapLoads++
	}
	return loadStored(s.bbos[query.Index], query), nil
}

func (s *memoryStore) LoadBookQuotes(_ context.Context, query marketdata.SecurityQuery) ([]marketdata.SequencedBookQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if query.Limit.Size == 0 {
		s.gapLoads++
	}
	var matching []marketdata.SequencedBookQuote
	for _, value := range s.books[query.Index] {
		ok := len(query.OriginFilter) == 0
		for _, origin := range query.OriginFilter {
			if value.Value.Venue == origin {
				ok = true
			}
		}
		if ok {
			matching = append(matching, value)
		}
	}
	return loadStored(matching, query), nil
}

func (s *memoryStore) LoadMarketQuotes(_ context.Context, query marketdata.SecurityQuery) ([]marketdata.SequencedMarketQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if query.Limit.Size == 0 {
		s.gapLoads++
	}
	return loadStored(s.marketQuotes[query.Index], query), nil
}

func (s *memoryStore) LoadTimeAndSales(_ context.Context, query marketdata.SecurityQuery) ([]marketdata.SequencedTimeAndSale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if query.Limit.Size == 0 {
		s.gapLoads++
	}
	return loadStored(s.trades[query.Index], query), nil
}

func (s *memoryStore) StoreOrderImbalance(_ context.Context, value marketdata.MarketOrderImbalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imbalances[value.Index] = append(s.imbalances[value.Index], value.Value)
	return nil
}

func (s *memoryStore) StoreBboQuote(_ context.Context, value marketdata.SecurityBboQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bbos[value.Index] = append(s.bbos[value.Index], value.Value)
	return nil
}

func (s *memoryStore) StoreBookQuote(_ context.Context, value marketdata.SecurityBookQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[value.Index] = append(s.books[value.Index], value.Value)
	return nil
}

func (s *memoryStore) StoreMarketQuote(_ context.Context, value marketdata.SecurityMarketQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marketQuotes[value.Index] = append(s.marketQuotes[value.Index], value.Value)
	return nil
}

func (s *memoryStore) StoreTimeAndSale(_ context.Context, value marketdata.SecurityTimeAndSale) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[value.Index] = append(s.trades[value.Index], value.Value)
	return nil
}

func (s *memoryStore) Close() error { return nil }

// unboundedLoads counts loads issued without a snapshot limit. Tail reads and
// sequence recovery always carry a limit, so this isolates gap queries.
func (s *memoryStore) unboundedLoads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gapLoads
}

// stubSubscriber records everything pushed to it.
type stubSubscriber struct {
	id       string
	mu       sync.Mutex
	received []any
}

func newStubSubscriber(id string) *stubSubscriber {
	return &stubSubscriber{id: id}
}

func (s *stubSubscriber) ID() string { return s.id }

func (s *stubSubscriber) Send(value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, value)
	return nil
}

func (s *stubSubscriber) values() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(s.received))
	copy(out, s.received)
	return out
}

func (s *stubSubscriber) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func testRelayConfig() marketdata.RelayConfig {
	return marketdata.RelayConfig{
		WorkerCount:     2,
		TaskQueueSize:   256,
		HorizonCapacity: 256,
		CatchUpTimeout:  5 * time.Second,
	}
}

func grantAll(table *marketdata.EntitlementTable, subscriber string) {
	key := marketdata.MarketEntitlementKey(testSecurity.Market)
	table.Grant(subscriber, key,
		marketdata.KindOrderImbalance, marketdata.KindBboQuote,
		marketdata.KindMarketQuote, marketdata.KindTimeAndSale)
	table.Grant(subscriber, marketdata.BookEntitlementKey(testSecurity.Market, "XTSE"),
		marketdata.KindBookQuote)
}

func bbo(bid, ask string) marketdata.BboQuote {
	return marketdata.BboQuote{
		Bid:       marketdata.Quote{Price: price(bid), Size: 100, Side: marketdata.SideBid},
		Ask:       marketdata.Quote{Price: price(ask), Size: 100, Side: marketdata.SideAsk},
		Timestamp: time.Now(),
	}
}

func waitFor(t *testing.T, sub *stubSubscriber, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return sub.count() >= n },
		2*time.Second, 5*time.Millisecond)
}

func TestLiveSubscriptionDeliversInOrder(t *testing.T) {
	table := marketdata.NewEntitlementTable(nil)
	relay := marketdata.NewDistributionRelay(newMemoryStore(), table, testRelayConfig(), nil)
	defer relay.Close()

	sub := newStubSubscriber("alice")
	grantAll(table, sub.id)

	query := marketdata.SecurityQuery{
		Index: testSecurity,
		Range: marketdata.RealTimeRange(marketdata.FirstSequence),
	}
	values, id, err := relay.QueryBboQuotes(context.Background(), query, sub)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)
	assert.Nil(t, values)

	relay.PublishBboQuote(testSecurity, bbo("9.99", "10.01"), 1)
	relay.PublishBboQuote(testSecurity, bbo("9.98", "10.02"), 1)
	relay.PublishBboQuote(testSecurity, bbo("9.97", "10.03"), 1)
	waitFor(t, sub, 3)

	previous := marketdata.Sequence(0)
	for _, raw := range sub.values() {
		value, ok := raw.(marketdata.SecurityBboQuote)
		require.True(t, ok)
		assert.Equal(t, testSecurity, value.Index)
		assert.Greater(t, value.Value.Sequence, previous)
		previous = value.Value.Sequence
	}
}

func TestLiveSubscriptionWithoutHistorySkipsGapQuery(t *testing.T) {
	store := newMemoryStore()
	table := marketdata.NewEntitlementTable(nil)
	relay := marketdata.NewDistributionRelay(store, table, testRelayConfig(), nil)
	defer relay.Close()

	sub := newStubSubscriber("alice")
	grantAll(table, sub.id)

	query := marketdata.SecurityQuery{
		Index: testSecurity,
		Range: marketdata.RealTimeRange(marketdata.FirstSequence),
	}
	values, _, err := relay.QueryBboQuotes(context.Background(), query, sub)
	require.NoError(t, err)
	require.Empty(t, values)

	relay.PublishBboQuote(testSecurity, bbo("9.99", "10.01"), 1)
	waitFor(t, sub, 1)

	// With no prior history there is nothing to bridge, so the bootstrap
	// issues only the limited tail read and never an open-ended gap query.
	first, ok := sub.values()[0].(marketdata.SecurityBboQuote)
	require.True(t, ok)
	assert.Equal(t, marketdata.FirstSequence, first.Value.Sequence)
	assert.Equal(t, 0, store.unboundedLoads())
}

func TestLiveSubscriptionStartsWithSnapshotTail(t *testing.T) {
	table := marketdata.NewEntitlementTable(nil)
	relay := marketdata.NewDistributionRelay(newMemoryStore(), table, testRelayConfig(), nil)
	defer relay.Close()

	relay.PublishBboQuote(testSecurity, bbo("9.99", "10.01"), 1)
	relay.PublishBboQuote(testSecurity, bbo("9.98", "10.02"), 1)

	sub := newStubSubscriber("alice")
	grantAll(table, sub.id)
	query := marketdata.SecurityQuery{
		Index: testSecurity,
		Range: marketdata.RealTimeRange(marketdata.FirstSequence),
	}
	_, _, err := relay.QueryBboQuotes(context.Background(), query, sub)
	require.NoError(t, err)
	waitFor(t, sub, 1)

	relay.PublishBboQuote(testSecurity, bbo("9.97", "10.03"), 1)
	waitFor(t, sub, 2)

	values := sub.values()
	first := values[0].(marketdata.SecurityBboQuote)
	assert.Equal(t, marketdata.Sequence(2), first.Value.Sequence)
	second := values[1].(marketdata.SecurityBboQuote)
	assert.Equal(t, marketdata.Sequence(3), second.Value.Sequence)
}

func TestLiveSubscriptionNeverDuplicates(t *testing.T) {
	table := marketdata.NewEntitlementTable(nil)
	relay := marketdata.NewDistributionRelay(newMemoryStore(), table, testRelayConfig(), nil)
	defer relay.Close()

	sub := newStubSubscriber("alice")
	grantAll(table, sub.id)
	query := marketdata.SecurityQuery{
		Index: testSecurity,
		Range: marketdata.RealTimeRange(marketdata.FirstSequence),
	}
	_, _, err := relay.QueryBboQuotes(context.Background(), query, sub)
	require.NoError(t, err)

	const published = 50
	for i := 0; i < published; i++ {
		relay.PublishBboQuote(testSecurity, bbo("9.99", "10.01"), 1)
	}
	waitFor(t, sub, published)

	seen := make(map[marketdata.Sequence]bool)
	for _, raw := range sub.values() {
		value := raw.(marketdata.SecurityBboQuote)
		assert.False(t, seen[value.Value.Sequence], "sequence delivered twice")
		seen[value.Value.Sequence] = true
	}
	assert.Len(t, seen, published)
}

func TestCatchUpKeepsValuesBufferedBelowSnapshotTail(t *testing.T) {
	table := marketdata.NewEntitlementTable(nil)
	relay := marketdata.NewDistributionRelay(newMemoryStore(), table, testRelayConfig(), nil)
	defer relay.Close()

	sub := newStubSubscriber("alice")
	grantAll(table, sub.id)
	query := marketdata.SecurityQuery{
		Index: testSecurity,
		Range: marketdata.RealTimeRange(marketdata.FirstSequence),
	}
	_, _, err := relay.QueryBboQuotes(context.Background(), query, sub)
	require.NoError(t, err)

	// Publish immediately after registering so the pushes race the snapshot
	// read. When the read lands last, its tail carries the newest ordinal and
	// the earlier pushes sit in the buffer below it; they must still come
	// through, in order and without holes.
	relay.PublishBboQuote(testSecurity, bbo("9.99", "10.01"), 1)
	relay.PublishBboQuote(testSecurity, bbo("9.98", "10.02"), 1)
	relay.PublishBboQuote(testSecurity, bbo("9.97", "10.03"), 1)
	waitFor(t, sub, 3)

	want := marketdata.FirstSequence
	for _, raw := range sub.values() {
		value := raw.(marketdata.SecurityBboQuote)
		assert.Equal(t, want, value.Value.Sequence)
		want = want.Increment()
	}
}

func TestLiveBookQuotesCarryZeroSizeDeletions(t *testing.T) {
	table := marketdata.NewEntitlementTable(nil)
	relay := marketdata.NewDistributionRelay(newMemoryStore(), table, testRelayConfig(), nil)
	defer relay.Close()

	sub := newStubSubscriber("alice")
	grantAll(table, sub.id)
	query := marketdata.SecurityQuery{
		Index: testSecurity,
		Range: marketdata.RealTimeRange(marketdata.FirstSequence),
	}
	_, _, err := relay.QueryBookQuotes(context.Background(), query, sub)
	require.NoError(t, err)

	relay.PublishBookQuote(testSecurity, bookQuote(marketdata.SideAsk, "10.00", 100, "AAAA", "XTSE"), 1)
	relay.PublishBookQuote(testSecurity, bookQuote(marketdata.SideAsk, "10.00", -100, "AAAA", "XTSE"), 1)
	waitFor(t, sub, 2)

	// The deletion leaves a size-zero entry out of snapshots, but the live
	// stream still carries it under its fresh ordinal.
	values := sub.values()
	first := values[0].(marketdata.SecurityBookQuote)
	assert.Equal(t, int64(100), first.Value.Value.Quote.Size)
	second := values[1].(marketdata.SecurityBookQuote)
	assert.Equal(t, int64(0), second.Value.Value.Quote.Size)
	assert.Greater(t, second.Value.Sequence, first.Value.Sequence)

	snapshot, err := relay.SecuritySnapshot(context.Background(), testSecurity, sub.id)
	require.NoError(t, err)
	assert.Empty(t, snapshot.Asks)
}

func TestBoundedQueryReadsCachedValues(t *testing.T) {
	table := marketdata.NewEntitlementTable(nil)
	relay := marketdata.NewDistributionRelay(newMemoryStore(), table, testRelayConfig(), nil)
	defer relay.Close()

	sub := newStubSubscriber("alice")
	grantAll(table, sub.id)

	for i := 0; i < 5; i++ {
		relay.PublishTimeAndSale(testSecurity, trade("10.00", 10, time.Now()), 1)
	}
	query := marketdata.SecurityQuery{
		Index: testSecurity,
		Range: marketdata.HistoricalRange(2, 4),
	}
	require.Eventually(t, func() bool {
		values, _, err := relay.QueryTimeAndSales(context.Background(), query, sub)
		require.NoError(t, err)
		return len(values) == 3
	}, 2*time.Second, 5*time.Millisecond)

	values, id, err := relay.QueryTimeAndSales(context.Background(), query, sub)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, id)
	assert.Equal(t, marketdata.Sequence(2), values[0].Sequence)
	assert.Equal(t, marketdata.Sequence(4), values[2].Sequence)
	assert.Zero(t, sub.count())
}

func TestBoundedQueryDeniedWithoutEntitlement(t *testing.T) {
	table := marketdata.NewEntitlementTable(nil)
	relay := marketdata.NewDistributionRelay(newMemoryStore(), table, testRelayConfig(), nil)
	defer relay.Close()

	relay.PublishBboQuote(testSecurity, bbo("9.99", "10.01"), 1)

	sub := newStubSubscriber("mallory")
	query := marketdata.SecurityQuery{
		Index: testSecurity,
		Range: marketdata.HistoricalRange(1, 10),
	}
	values, id, err := relay.QueryBboQuotes(context.Background(), query, sub)
	require.NoError(t, err)
	assert.Empty(t, values)
	assert.Equal(t, uuid.Nil, id)
}

func TestLiveBookQuotesFilterUnentitledVenues(t *testing.T) {
	table := marketdata.NewEntitlementTable(nil)
	relay := marketdata.NewDistributionRelay(newMemoryStore(), table, testRelayConfig(), nil)
	defer relay.Close()

	sub := newStubSubscriber("alice")
	table.Grant(sub.id, marketdata.BookEntitlementKey(testSecurity.Market, "XTSE"),
		marketdata.KindBookQuote)

	query := marketdata.SecurityQuery{
		Index: testSecurity,
		Range: marketdata.RealTimeRange(marketdata.FirstSequence),
	}
	_, _, err := relay.QueryBookQuotes(context.Background(), query, sub)
	require.NoError(t, err)

	relay.PublishBookQuote(testSecurity, bookQuote(marketdata.SideAsk, "10.00", 100, "AAAA", "XNYS"), 1)
	relay.PublishBookQuote(testSecurity, bookQuote(marketdata.SideAsk, "10.01", 100, "BBBB", "XTSE"), 1)
	waitFor(t, sub, 1)

	// Give the unentitled value a chance to arrive if filtering were broken.
	time.Sleep(50 * time.Millisecond)
	values := sub.values()
	require.Len(t, values, 1)
	value := values[0].(marketdata.SecurityBookQuote)
	assert.Equal(t, marketdata.Market("XTSE"), value.Value.Value.Venue)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	table := marketdata.NewEntitlementTable(nil)
	relay := marketdata.NewDistributionRelay(newMemoryStore(), table, testRelayConfig(), nil)
	defer relay.Close()

	sub := newStubSubscriber("alice")
	grantAll(table, sub.id)
	query := marketdata.SecurityQuery{
		Index: testSecurity,
		Range: marketdata.RealTimeRange(marketdata.FirstSequence),
	}
	_, id, err := relay.QueryBboQuotes(context.Background(), query, sub)
	require.NoError(t, err)

	relay.PublishBboQuote(testSecurity, bbo("9.99", "10.01"), 1)
	waitFor(t, sub, 1)

	// The close task is queued on the owning worker ahead of any later
	// publish, so delivery stops before the next value.
	relay.Unsubscribe(id)
	before := sub.count()
	relay.PublishBboQuote(testSecurity, bbo("9.97", "10.03"), 1)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, sub.count())
}

func TestRemoveSubscriberStopsDelivery(t *testing.T) {
	table := marketdata.NewEntitlementTable(nil)
	relay := marketdata.NewDistributionRelay(newMemoryStore(), table, testRelayConfig(), nil)
	defer relay.Close()

	sub := newStubSubscriber("alice")
	grantAll(table, sub.id)
	query := marketdata.SecurityQuery{
		Index: testSecurity,
		Range: marketdata.RealTimeRange(marketdata.FirstSequence),
	}
	_, _, err := relay.QueryBboQuotes(context.Background(), query, sub)
	require.NoError(t, err)
	relay.PublishBboQuote(testSecurity, bbo("9.99", "10.01"), 1)
	waitFor(t, sub, 1)

	relay.RemoveSubscriber(sub.id)
	time.Sleep(50 * time.Millisecond)
	before := sub.count()
	relay.PublishBboQuote(testSecurity, bbo("9.98", "10.02"), 1)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, sub.count())
}

func TestClearSourceBreakPolicyNotifies(t *testing.T) {
	table := marketdata.NewEntitlementTable(nil)
	relay := marketdata.NewDistributionRelay(newMemoryStore(), table, testRelayConfig(), nil)
	defer relay.Close()

	sub := newStubSubscriber("alice")
	grantAll(table, sub.id)
	query := marketdata.SecurityQuery{
		Index:  testSecurity,
		Range:  marketdata.RealTimeRange(marketdata.FirstSequence),
		Policy: marketdata.InterruptionBreak,
	}
	_, id, err := relay.QueryBookQuotes(context.Background(), query, sub)
	require.NoError(t, err)

	relay.PublishBookQuote(testSecurity, bookQuote(marketdata.SideAsk, "10.00", 100, "AAAA", "XTSE"), 7)
	waitFor(t, sub, 1)

	relay.ClearSource(7)
	require.Eventually(t, func() bool {
		for _, raw := range sub.values() {
			if interrupted, ok := raw.(marketdata.SubscriptionInterrupted); ok {
				return interrupted.SubscriptionID == id && interrupted.Source == 7
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func TestClearSourcePurgesBookEntries(t *testing.T) {
	table := marketdata.NewEntitlementTable(nil)
	relay := marketdata.NewDistributionRelay(newMemoryStore(), table, testRelayConfig(), nil)
	defer relay.Close()

	sub := newStubSubscriber("alice")
	grantAll(table, sub.id)

	relay.PublishBookQuote(testSecurity, bookQuote(marketdata.SideAsk, "10.00", 100, "AAAA", "XTSE"), 1)
	relay.PublishBookQuote(testSecurity, bookQuote(marketdata.SideAsk, "10.01", 100, "BBBB", "XTSE"), 2)

	require.Eventually(t, func() bool {
		snapshot, err := relay.SecuritySnapshot(context.Background(), testSecurity, sub.id)
		require.NoError(t, err)
		return len(snapshot.Asks) == 2
	}, 2*time.Second, 5*time.Millisecond)

	relay.ClearSource(1)
	require.Eventually(t, func() bool {
		snapshot, err := relay.SecuritySnapshot(context.Background(), testSecurity, sub.id)
		require.NoError(t, err)
		return len(snapshot.Asks) == 1 && snapshot.Asks[0].Value.MPID == "BBBB"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSecuritySnapshotZeroesUnentitledComponents(t *testing.T) {
	table := marketdata.NewEntitlementTable(nil)
	relay := marketdata.NewDistributionRelay(newMemoryStore(), table, testRelayConfig(), nil)
	defer relay.Close()

	relay.PublishBboQuote(testSecurity, bbo("9.99", "10.01"), 1)
	relay.PublishTimeAndSale(testSecurity, trade("10.00", 10, time.Now()), 1)
	relay.PublishBookQuote(testSecurity, bookQuote(marketdata.SideAsk, "10.00", 100, "AAAA", "XTSE"), 1)

	// Only BBO is granted.
	table.Grant("bob", marketdata.MarketEntitlementKey(testSecurity.Market), marketdata.KindBboQuote)

	require.Eventually(t, func() bool {
		snapshot, err := relay.SecuritySnapshot(context.Background(), testSecurity, "bob")
		require.NoError(t, err)
		return snapshot.Bbo.Sequence != 0
	}, 2*time.Second, 5*time.Millisecond)

	snapshot, err := relay.SecuritySnapshot(context.Background(), testSecurity, "bob")
	require.NoError(t, err)
	assert.NotZero(t, snapshot.Bbo.Sequence)
	assert.Zero(t, snapshot.TimeAndSale.Sequence)
	assert.Zero(t, snapshot.Technicals.Volume)
	assert.Empty(t, snapshot.Asks)
}

func TestSequencersResumeFromStoredHistory(t *testing.T) {
	store := newMemoryStore()
	store.bbos[testSecurity] = []marketdata.SequencedBboQuote{
		{Value: bbo("9.99", "10.01"), Sequence: 17},
	}
	table := marketdata.NewEntitlementTable(nil)
	relay := marketdata.NewDistributionRelay(store, table, testRelayConfig(), nil)
	defer relay.Close()

	sub := newStubSubscriber("alice")
	grantAll(table, sub.id)
	query := marketdata.SecurityQuery{
		Index: testSecurity,
		Range: marketdata.RealTimeRange(marketdata.FirstSequence),
	}
	_, _, err := relay.QueryBboQuotes(context.Background(), query, sub)
	require.NoError(t, err)
	waitFor(t, sub, 1)

	relay.PublishBboQuote(testSecurity, bbo("9.98", "10.02"), 1)
	waitFor(t, sub, 2)

	second := sub.values()[1].(marketdata.SecurityBboQuote)
	assert.Equal(t, marketdata.Sequence(18), second.Value.Sequence)
}

func TestIngestRejectsMalformedMessages(t *testing.T) {
	table := marketdata.NewEntitlementTable(nil)
	relay := marketdata.NewDistributionRelay(newMemoryStore(), table, testRelayConfig(), nil)
	defer relay.Close()

	err := relay.Ingest(marketdata.FeedMessage{Kind: marketdata.KindBboQuote})
	assert.ErrorIs(t, err, marketdata.ErrMalformedFeedMessage)

	err = relay.Ingest(marketdata.FeedMessage{Kind: marketdata.DataKind(99)})
	assert.ErrorIs(t, err, marketdata.ErrUnknownKind)
}

func TestIngestRoutesByKind(t *testing.T) {
	table := marketdata.NewEntitlementTable(nil)
	relay := marketdata.NewDistributionRelay(newMemoryStore(), table, testRelayConfig(), nil)
	defer relay.Close()

	sub := newStubSubscriber("alice")
	grantAll(table, sub.id)
	query := marketdata.MarketQuery{
		Index: testSecurity.Market,
		Range: marketdata.RealTimeRange(marketdata.FirstSequence),
	}
	_, _, err := relay.QueryOrderImbalances(context.Background(), query, sub)
	require.NoError(t, err)

	imbalance := marketdata.OrderImbalance{
		Security:       testSecurity,
		Side:           marketdata.SideBid,
		Size:           5000,
		ReferencePrice: price("10.00"),
		Timestamp:      time.Now(),
	}
	require.NoError(t, relay.Ingest(marketdata.FeedMessage{
		Kind:           marketdata.KindOrderImbalance,
		Source:         1,
		Market:         testSecurity.Market,
		OrderImbalance: &imbalance,
	}))
	waitFor(t, sub, 1)

	value := sub.values()[0].(marketdata.MarketOrderImbalance)
	assert.Equal(t, testSecurity.Market, value.Index)
	assert.Equal(t, int64(5000), value.Value.Value.Size)
}

func TestSecurityInfoRegistry(t *testing.T) {
	table := marketdata.NewEntitlementTable(nil)
	relay := marketdata.NewDistributionRelay(newMemoryStore(), table, testRelayConfig(), nil)
	defer relay.Close()

	_, ok := relay.SecurityInfo(testSecurity)
	assert.False(t, ok)

	relay.AddSecurityInfo(marketdata.SecurityInfo{
		Security: testSecurity,
		Name:     "Barrick Gold",
		BoardLot: 100,
	})
	info, ok := relay.SecurityInfo(testSecurity)
	require.True(t, ok)
	assert.Equal(t, "Barrick Gold", info.Name)
}
