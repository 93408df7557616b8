package marketdata

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrRelayClosed is returned by operations against a shut down relay.
	ErrRelayClosed = errors.New("marketdata: relay closed")

	// ErrMalformedFeedMessage is returned when a feed message's payload does
	// not match its kind tag.
	ErrMalformedFeedMessage = errors.New("marketdata: malformed feed message")

	// ErrUnknownKind is returned for a data kind the relay does not handle.
	ErrUnknownKind = errors.New("marketdata: unknown data kind")
)

// RelayConfig tunes the distribution relay.
type RelayConfig struct {
	// WorkerCount fixes the size of the fan-out worker pool. Each index is
	// deterministically assigned to one worker, which serializes every
	// mutation of that index's state.
	WorkerCount int `mapstructure:"worker_count"`

	// TaskQueueSize is the per-worker task channel depth.
	TaskQueueSize int `mapstructure:"task_queue_size"`

	// HorizonCapacity caps the per-index, per-kind in-memory value window.
	HorizonCapacity int `mapstructure:"horizon_capacity"`

	// CatchUpTimeout bounds the bootstrap reads behind a live subscription.
	CatchUpTimeout time.Duration `mapstructure:"catch_up_timeout"`
}

// DefaultRelayConfig returns the relay defaults.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		WorkerCount:     runtime.GOMAXPROCS(0),
		TaskQueueSize:   4096,
		HorizonCapacity: 8192,
		CatchUpTimeout:  10 * time.Second,
	}
}

// securityEntry is one worker-owned security: its cache state, the recent
// value windows per kind, the live registrations per kind and the upstream
// sources that have contributed to it.
type securityEntry struct {
	state *SecurityState

	bboCache         *Horizon[BboQuote]
	bookCache        *Horizon[BookQuote]
	marketQuoteCache *Horizon[MarketQuote]
	timeAndSaleCache *Horizon[TimeAndSale]

	bboSubs         []*subscription[BboQuote]
	bookSubs        []*subscription[BookQuote]
	marketQuoteSubs []*subscription[MarketQuote]
	timeAndSaleSubs []*subscription[TimeAndSale]

	sources map[SourceID]struct{}
}

// marketEntry is one worker-owned market.
type marketEntry struct {
	state          *MarketState
	imbalanceCache *Horizon[OrderImbalance]
	imbalanceSubs  []*subscription[OrderImbalance]
	sources        map[SourceID]struct{}
}

type relayWorker struct {
	relay      *DistributionRelay
	tasks      chan func()
	securities map[Security]*securityEntry
	markets    map[Market]*marketEntry
}

// DistributionRelay is the single entry point for feed ingestion and
// subscriber queries. Live fan-out is sharded across a fixed worker pool;
// each index's cached state and subscription table belong to exactly one
// worker, so no per-index locking is needed.
type DistributionRelay struct {
	config       RelayConfig
	store        HistoricalStore
	entitlements *EntitlementTable
	logger       *zap.Logger

	workers []*relayWorker

	infoMu        sync.RWMutex
	securityInfos map[Security]SecurityInfo

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDistributionRelay builds and starts a relay over the given store and
// entitlement table.
func NewDistributionRelay(store HistoricalStore, entitlements *EntitlementTable, config RelayConfig, logger *zap.Logger) *DistributionRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = runtime.GOMAXPROCS(0)
	}
	if config.TaskQueueSize <= 0 {
		config.TaskQueueSize = DefaultRelayConfig().TaskQueueSize
	}
	if config.HorizonCapacity <= 0 {
		config.HorizonCapacity = DefaultRelayConfig().HorizonCapacity
	}
	if config.CatchUpTimeout <= 0 {
		config.CatchUpTimeout = DefaultRelayConfig().CatchUpTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	relay := &DistributionRelay{
		config:        config,
		store:         store,
		entitlements:  entitlements,
		logger:        logger,
		securityInfos: make(map[Security]SecurityInfo),
		ctx:           ctx,
		cancel:        cancel,
	}
	relay.workers = make([]*relayWorker, config.WorkerCount)
	for i := range relay.workers {
		worker := &relayWorker{
			relay:      relay,
			tasks:      make(chan func(), config.TaskQueueSize),
			securities: make(map[Security]*securityEntry),
			markets:    make(map[Market]*marketEntry),
		}
		relay.workers[i] = worker
		relay.wg.Add(1)
		go worker.run()
	}
	return relay
}

// Close stops every worker. In-flight catch-up reads are abandoned.
func (r *DistributionRelay) Close() {
	r.cancel()
	r.wg.Wait()
}

func (w *relayWorker) run() {
	defer w.relay.wg.Done()
	for {
		select {
		case <-w.relay.ctx.Done():
			return
		case task := <-w.tasks:
			task()
		}
	}
}

// post schedules a task on the worker; dropped when the relay is shut down.
func (w *relayWorker) post(task func()) bool {
	select {
	case w.tasks <- task:
		return true
	case <-w.relay.ctx.Done():
		return false
	}
}

// postAndWait runs f on the worker and hands its result back to the caller.
func postAndWait[R any](ctx context.Context, w *relayWorker, f func() R) (R, error) {
	var zero R
	done := make(chan R, 1)
	if !w.post(func() { done <- f() }) {
		return zero, ErrRelayClosed
	}
	select {
	case result := <-done:
		return result, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-w.relay.ctx.Done():
		return zero, ErrRelayClosed
	}
}

func (r *DistributionRelay) workerFor(key string) *relayWorker {
	return r.workers[xxhash.Sum64String(key)%uint64(len(r.workers))]
}

// lastStoredSequence reads the most recent persisted ordinal for one index
// and kind, used to seed a Sequencer at first reference.
func lastStoredSequence[T any, I comparable](r *DistributionRelay, index I, load func(context.Context, Query[I]) ([]SequencedValue[T], error)) Sequence {
	query := Query[I]{
		Index: index,
		Range: SequenceRange{Start: FirstSequence, End: PresentSequence},
		Limit: TailLimit(1),
	}
	values, err := load(r.ctx, query)
	if err != nil {
		r.logger.Warn("sequence recovery read failed, resuming cold",
			zap.Any("index", index), zap.Error(err))
		return 0
	}
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1].Sequence
}

// ensureSecurity lazily creates the worker-owned state for a security,
// recovering each kind's sequencer from the store tail.
func (w *relayWorker) ensureSecurity(security Security) *securityEntry {
	if entry, ok := w.securities[security]; ok {
		return entry
	}
	r := w.relay
	seed := SecurityStateSeed{
		Bbo:         lastStoredSequence(r, security, r.store.LoadBboQuotes),
		Book:        lastStoredSequence(r, security, r.store.LoadBookQuotes),
		MarketQuote: lastStoredSequence(r, security, r.store.LoadMarketQuotes),
		TimeAndSale: lastStoredSequence(r, security, r.store.LoadTimeAndSales),
	}
	entry := &securityEntry{
		state:            NewSecurityState(security, seed),
		bboCache:         NewHorizon[BboQuote](r.config.HorizonCapacity),
		bookCache:        NewHorizon[BookQuote](r.config.HorizonCapacity),
		marketQuoteCache: NewHorizon[MarketQuote](r.config.HorizonCapacity),
		timeAndSaleCache: NewHorizon[TimeAndSale](r.config.HorizonCapacity),
		sources:          make(map[SourceID]struct{}),
	}
	w.securities[security] = entry
	return entry
}

func (w *relayWorker) ensureMarket(market Market) *marketEntry {
	if entry, ok := w.markets[market]; ok {
		return entry
	}
	r := w.relay
	entry := &marketEntry{
		state:          NewMarketState(market, lastStoredSequence(r, market, r.store.LoadOrderImbalances)),
		imbalanceCache: NewHorizon[OrderImbalance](r.config.HorizonCapacity),
		sources:        make(map[SourceID]struct{}),
	}
	w.markets[market] = entry
	return entry
}

// appendToStore persists a published value off the worker, fire and forget.
func (r *DistributionRelay) appendToStore(kind DataKind, write func(context.Context) error) {
	go func() {
		if err := write(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("historical append failed",
				zap.String("kind", kind.String()), zap.Error(err))
		}
	}()
}

// Ingest routes one normalized feed message to the owning index state. This
// is the single dispatch point over the data-kind tag.
func (r *DistributionRelay) Ingest(message FeedMessage) error {
	switch message.Kind {
	case KindOrderImbalance:
		if message.OrderImbalance == nil {
			return ErrMalformedFeedMessage
		}
		r.PublishOrderImbalance(message.Market, *message.OrderImbalance, message.Source)
	case KindBboQuote:
		if message.BboQuote == nil {
			return ErrMalformedFeedMessage
		}
		r.PublishBboQuote(message.Security, *message.BboQuote, message.Source)
	case KindBookQuote:
		if message.BookQuote == nil {
			return ErrMalformedFeedMessage
		}
		r.PublishBookQuote(message.Security, *message.BookQuote, message.Source)
	case KindMarketQuote:
		if message.MarketQuote == nil {
			return ErrMalformedFeedMessage
		}
		r.PublishMarketQuote(message.Security, *message.MarketQuote, message.Source)
	case KindTimeAndSale:
		if message.TimeAndSale == nil {
			return ErrMalformedFeedMessage
		}
		r.PublishTimeAndSale(message.Security, *message.TimeAndSale, message.Source)
	default:
		return ErrUnknownKind
	}
	return nil
}

// PublishOrderImbalance stamps and fans out an order imbalance.
func (r *DistributionRelay) PublishOrderImbalance(market Market, imbalance OrderImbalance, source SourceID) {
	worker := r.workerFor(string(market))
	worker.post(func() {
		entry := worker.ensureMarket(market)
		entry.sources[source] = struct{}{}
		value := entry.state.PublishOrderImbalance(imbalance)
		publishedValues.WithLabelValues(KindOrderImbalance.String()).Inc()
		entry.imbalanceCache.Add(value)
		r.appendToStore(KindOrderImbalance, func(ctx context.Context) error {
			return r.store.StoreOrderImbalance(ctx, MarketOrderImbalance{Value: value, Index: market})
		})
		start := time.Now()
		entry.imbalanceSubs = fanOut(entry.imbalanceSubs, value)
		fanOutLatency.Observe(time.Since(start).Seconds())
	})
}

// PublishBboQuote stamps and fans out a best bid and offer update.
func (r *DistributionRelay) PublishBboQuote(security Security, quote BboQuote, source SourceID) {
	worker := r.workerFor(security.String())
	worker.post(func() {
		entry := worker.ensureSecurity(security)
		entry.sources[source] = struct{}{}
		value := entry.state.UpdateBbo(quote)
		publishedValues.WithLabelValues(KindBboQuote.String()).Inc()
		entry.bboCache.Add(value)
		r.appendToStore(KindBboQuote, func(ctx context.Context) error {
			return r.store.StoreBboQuote(ctx, SecurityBboQuote{Value: value, Index: security})
		})
		start := time.Now()
		entry.bboSubs = fanOut(entry.bboSubs, value)
		fanOutLatency.Observe(time.Since(start).Seconds())
	})
}

// PublishBookQuote applies a book update or delta and fans out the resulting
// entry. A size-zero result still broadcasts as a deletion signal.
func (r *DistributionRelay) PublishBookQuote(security Security, quote BookQuote, source SourceID) {
	worker := r.workerFor(security.String())
	worker.post(func() {
		entry := worker.ensureSecurity(security)
		entry.sources[source] = struct{}{}
		value, ok := entry.state.UpdateBookQuote(quote, source)
		if !ok {
			return
		}
		publishedValues.WithLabelValues(KindBookQuote.String()).Inc()
		entry.bookCache.Add(value)
		r.appendToStore(KindBookQuote, func(ctx context.Context) error {
			return r.store.StoreBookQuote(ctx, SecurityBookQuote{Value: value, Index: security})
		})
		start := time.Now()
		entry.bookSubs = fanOut(entry.bookSubs, value)
		fanOutLatency.Observe(time.Since(start).Seconds())
	})
}

// PublishMarketQuote stamps and fans out a per-venue quote.
func (r *DistributionRelay) PublishMarketQuote(security Security, quote MarketQuote, source SourceID) {
	worker := r.workerFor(security.String())
	worker.post(func() {
		entry := worker.ensureSecurity(security)
		entry.sources[source] = struct{}{}
		value := entry.state.UpdateMarketQuote(quote)
		publishedValues.WithLabelValues(KindMarketQuote.String()).Inc()
		entry.marketQuoteCache.Add(value)
		r.appendToStore(KindMarketQuote, func(ctx context.Context) error {
			return r.store.StoreMarketQuote(ctx, SecurityMarketQuote{Value: value, Index: security})
		})
		start := time.Now()
		entry.marketQuoteSubs = fanOut(entry.marketQuoteSubs, value)
		fanOutLatency.Observe(time.Since(start).Seconds())
	})
}

// PublishTimeAndSale stamps a trade print, recomputes technicals and fans the
// print out.
func (r *DistributionRelay) PublishTimeAndSale(security Security, print TimeAndSale, source SourceID) {
	worker := r.workerFor(security.String())
	worker.post(func() {
		entry := worker.ensureSecurity(security)
		entry.sources[source] = struct{}{}
		value := entry.state.UpdateTimeAndSale(print)
		publishedValues.WithLabelValues(KindTimeAndSale.String()).Inc()
		entry.timeAndSaleCache.Add(value)
		r.appendToStore(KindTimeAndSale, func(ctx context.Context) error {
			return r.store.StoreTimeAndSale(ctx, SecurityTimeAndSale{Value: value, Index: security})
		})
		start := time.Now()
		entry.timeAndSaleSubs = fanOut(entry.timeAndSaleSubs, value)
		fanOutLatency.Observe(time.Since(start).Seconds())
	})
}

// mergeBySequence combines a store read with the in-memory window, preferring
// the cached copy of any ordinal present in both, in ascending order.
func mergeBySequence[T any](stored, cached []SequencedValue[T]) []SequencedValue[T] {
	bySequence := make(map[Sequence]SequencedValue[T], len(stored)+len(cached))
	for _, value := range stored {
		bySequence[value.Sequence] = value
	}
	for _, value := range cached {
		bySequence[value.Sequence] = value
	}
	merged := make([]SequencedValue[T], 0, len(bySequence))
	for _, value := range bySequence {
		merged = append(merged, value)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Sequence < merged[j].Sequence
	})
	return merged
}

// loadMerged answers a bounded query from the historical store plus the
// worker-owned window, without entitlement filtering.
func loadMerged[T any, I comparable](
	ctx context.Context,
	w *relayWorker,
	query Query[I],
	window func(SequenceRange) []SequencedValue[T],
	load func(context.Context, Query[I]) ([]SequencedValue[T], error),
) ([]SequencedValue[T], error) {
	// The store applies the snapshot limit on its side of the range; any row
	// surviving the merged limit is already inside the store's limited read,
	// so re-applying the limit after the merge stays exact.
	stored, err := load(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("historical load: %w", err)
	}
	cached, err := postAndWait(ctx, w, func() []SequencedValue[T] {
		return window(query.Range)
	})
	if err != nil {
		return nil, err
	}
	return ApplyLimit(mergeBySequence(stored, cached), query.Limit), nil
}

// boundedQuery answers a closed-range query, applying per-value entitlement
// filtering and the query's snapshot limit. No subscription is created.
func boundedQuery[T any, I comparable](
	ctx context.Context,
	w *relayWorker,
	query Query[I],
	window func(SequenceRange) []SequencedValue[T],
	load func(context.Context, Query[I]) ([]SequencedValue[T], error),
	allowed func(SequencedValue[T]) bool,
) ([]SequencedValue[T], error) {
	unlimited := query
	unlimited.Limit = SnapshotLimit{}
	values, err := loadMerged(ctx, w, unlimited, window, load)
	if err != nil {
		return nil, err
	}
	filtered := values[:0]
	for _, value := range values {
		if allowed(value) {
			filtered = append(filtered, value)
		}
	}
	return ApplyLimit(filtered, query.Limit), nil
}

// subscribeLive registers a live subscription and kicks off its bootstrap:
// the registration happens before the snapshot read, so any value sequenced
// in between is buffered and deduplicated rather than lost.
func subscribeLive[T any, I comparable](
	r *DistributionRelay,
	w *relayWorker,
	query Query[I],
	subscriber Subscriber,
	attach func(*subscription[T]),
	window func(SequenceRange) []SequencedValue[T],
	load func(context.Context, Query[I]) ([]SequencedValue[T], error),
	allowed func(SequencedValue[T]) bool,
	wrap func(SequencedValue[T]) any,
) (uuid.UUID, error) {
	sub := &subscription[T]{
		id:         uuid.New(),
		subscriber: subscriber,
		policy:     query.Policy,
		state:      subscriptionCatchingUp,
		allowed:    allowed,
		wrap:       wrap,
	}
	catchUp := func() {
		runCatchUp(r, w, query, sub, window, load)
	}
	sub.restart = catchUp
	ok := w.post(func() {
		attach(sub)
		liveSubscriptions.Inc()
		go catchUp()
	})
	if !ok {
		return uuid.Nil, ErrRelayClosed
	}
	return sub.id, nil
}

// runCatchUp performs the tail-snapshot read and the bounded gap query behind
// a live subscription, then activates it on the owning worker. A subscription
// cancelled mid-flight discards the result.
func runCatchUp[T any, I comparable](
	r *DistributionRelay,
	w *relayWorker,
	query Query[I],
	sub *subscription[T],
	window func(SequenceRange) []SequencedValue[T],
	load func(context.Context, Query[I]) ([]SequencedValue[T], error),
) {
	ctx, cancel := context.WithTimeout(r.ctx, r.config.CatchUpTimeout)
	defer cancel()
	fail := func(err error) {
		r.logger.Error("subscription bootstrap failed",
			zap.String("subscription", sub.id.String()), zap.Error(err))
		w.post(func() {
			_ = sub.subscriber.Send(SubscriptionFailed{SubscriptionID: sub.id, Reason: err.Error()})
			sub.close()
		})
	}
	tailQuery := query
	tailQuery.Range = SequenceRange{Start: query.Range.Start, End: PresentSequence}
	tailQuery.Limit = TailLimit(1)
	tail, err := loadMerged(ctx, w, tailQuery, window, load)
	if err != nil {
		fail(err)
		return
	}
	if len(tail) == 0 {
		// No prior values: the live feed starts at the very first ordinal and
		// no gap query is needed.
		w.post(func() { sub.activate(nil) })
		return
	}
	cutover := tail[len(tail)-1].Sequence.Increment()
	gapQuery := query
	gapQuery.Range = SequenceRange{Start: cutover, End: PresentSequence}
	gapQuery.Limit = SnapshotLimit{}
	gap, err := loadMerged(ctx, w, gapQuery, window, load)
	if err != nil {
		fail(err)
		return
	}
	w.post(func() { sub.activate(append(tail, gap...)) })
}

// QueryOrderImbalances answers an order imbalance query. A bounded range
// returns the matching values directly; a real-time range registers the
// subscriber for snapshot-then-live delivery through its session transport
// and returns nil values.
func (r *DistributionRelay) QueryOrderImbalances(ctx context.Context, query MarketQuery, subscriber Subscriber) ([]SequencedOrderImbalance, uuid.UUID, error) {
	worker := r.workerFor(string(query.Index))
	allowed := func(SequencedOrderImbalance) bool {
		return r.entitlements.HasEntitlement(subscriber.ID(), MarketEntitlementKey(query.Index), KindOrderImbalance)
	}
	window := func(rng SequenceRange) []SequencedOrderImbalance {
		entry, ok := worker.markets[query.Index]
		if !ok {
			return nil
		}
		return entry.imbalanceCache.Window(rng)
	}
	if !query.Range.IsRealTime() {
		if !r.entitlements.HasEntitlement(subscriber.ID(), MarketEntitlementKey(query.Index), KindOrderImbalance) {
			return nil, uuid.Nil, nil
		}
		values, err := boundedQuery(ctx, worker, query, window, r.store.LoadOrderImbalances, allowed)
		return values, uuid.Nil, err
	}
	id, err := subscribeLive(r, worker, query, subscriber,
		func(sub *subscription[OrderImbalance]) {
			entry := worker.ensureMarket(query.Index)
			entry.imbalanceSubs = append(entry.imbalanceSubs, sub)
		},
		window, r.store.LoadOrderImbalances, allowed,
		func(value SequencedOrderImbalance) any {
			return MarketOrderImbalance{Value: value, Index: query.Index}
		})
	return nil, id, err
}

// QueryBboQuotes answers a BBO query; see QueryOrderImbalances for the
// bounded versus real-time contract.
func (r *DistributionRelay) QueryBboQuotes(ctx context.Context, query SecurityQuery, subscriber Subscriber) ([]SequencedBboQuote, uuid.UUID, error) {
	worker := r.workerFor(query.Index.String())
	key := MarketEntitlementKey(query.Index.Market)
	allowed := func(SequencedBboQuote) bool {
		return r.entitlements.HasEntitlement(subscriber.ID(), key, KindBboQuote)
	}
	window := func(rng SequenceRange) []SequencedBboQuote {
		entry, ok := worker.securities[query.Index]
		if !ok {
			return nil
		}
		return entry.bboCache.Window(rng)
	}
	if !query.Range.IsRealTime() {
		if !r.entitlements.HasEntitlement(subscriber.ID(), key, KindBboQuote) {
			return nil, uuid.Nil, nil
		}
		values, err := boundedQuery(ctx, worker, query, window, r.store.LoadBboQuotes, allowed)
		return values, uuid.Nil, err
	}
	id, err := subscribeLive(r, worker, query, subscriber,
		func(sub *subscription[BboQuote]) {
			entry := worker.ensureSecurity(query.Index)
			entry.bboSubs = append(entry.bboSubs, sub)
		},
		window, r.store.LoadBboQuotes, allowed,
		func(value SequencedBboQuote) any {
			return SecurityBboQuote{Value: value, Index: query.Index}
		})
	return nil, id, err
}

// QueryBookQuotes answers a book quote query. Filtering uses the
// (destination market, origin market) entitlement key per entry, so a single
// book fed from several venues never leaks an unentitled venue's entries,
// even transiently during catch-up.
func (r *DistributionRelay) QueryBookQuotes(ctx context.Context, query SecurityQuery, subscriber Subscriber) ([]SequencedBookQuote, uuid.UUID, error) {
	worker := r.workerFor(query.Index.String())
	allowed := func(value SequencedBookQuote) bool {
		if !query.matchesOrigin(value.Value.Venue) {
			return false
		}
		key := BookEntitlementKey(query.Index.Market, value.Value.Venue)
		return r.entitlements.HasEntitlement(subscriber.ID(), key, KindBookQuote)
	}
	window := func(rng SequenceRange) []SequencedBookQuote {
		entry, ok := worker.securities[query.Index]
		if !ok {
			return nil
		}
		return entry.bookCache.Window(rng)
	}
	if !query.Range.IsRealTime() {
		if len(query.OriginFilter) > 0 && !r.anyBookOriginEntitled(subscriber.ID(), query.Index.Market, query.OriginFilter) {
			return nil, uuid.Nil, nil
		}
		values, err := boundedQuery(ctx, worker, query, window, r.store.LoadBookQuotes, allowed)
		return values, uuid.Nil, err
	}
	id, err := subscribeLive(r, worker, query, subscriber,
		func(sub *subscription[BookQuote]) {
			entry := worker.ensureSecurity(query.Index)
			entry.bookSubs = append(entry.bookSubs, sub)
		},
		window, r.store.LoadBookQuotes, allowed,
		func(value SequencedBookQuote) any {
			return SecurityBookQuote{Value: value, Index: query.Index}
		})
	return nil, id, err
}

func (r *DistributionRelay) anyBookOriginEntitled(subscriber string, destination Market, origins []Market) bool {
	for _, origin := range origins {
		if r.entitlements.HasEntitlement(subscriber, BookEntitlementKey(destination, origin), KindBookQuote) {
			return true
		}
	}
	return false
}

// QueryMarketQuotes answers a per-venue quote query; entitlement follows each
// quote's venue.
func (r *DistributionRelay) QueryMarketQuotes(ctx context.Context, query SecurityQuery, subscriber Subscriber) ([]SequencedMarketQuote, uuid.UUID, error) {
	worker := r.workerFor(query.Index.String())
	allowed := func(value SequencedMarketQuote) bool {
		return r.entitlements.HasEntitlement(subscriber.ID(), MarketEntitlementKey(value.Value.Venue), KindMarketQuote)
	}
	window := func(rng SequenceRange) []SequencedMarketQuote {
		entry, ok := worker.securities[query.Index]
		if !ok {
			return nil
		}
		return entry.marketQuoteCache.Window(rng)
	}
	if !query.Range.IsRealTime() {
		values, err := boundedQuery(ctx, worker, query, window, r.store.LoadMarketQuotes, allowed)
		return values, uuid.Nil, err
	}
	id, err := subscribeLive(r, worker, query, subscriber,
		func(sub *subscription[MarketQuote]) {
			entry := worker.ensureSecurity(query.Index)
			entry.marketQuoteSubs = append(entry.marketQuoteSubs, sub)
		},
		window, r.store.LoadMarketQuotes, allowed,
		func(value SequencedMarketQuote) any {
			return SecurityMarketQuote{Value: value, Index: query.Index}
		})
	return nil, id, err
}

// QueryTimeAndSales answers a trade print query.
func (r *DistributionRelay) QueryTimeAndSales(ctx context.Context, query SecurityQuery, subscriber Subscriber) ([]SequencedTimeAndSale, uuid.UUID, error) {
	worker := r.workerFor(query.Index.String())
	key := MarketEntitlementKey(query.Index.Market)
	allowed := func(SequencedTimeAndSale) bool {
		return r.entitlements.HasEntitlement(subscriber.ID(), key, KindTimeAndSale)
	}
	window := func(rng SequenceRange) []SequencedTimeAndSale {
		entry, ok := worker.securities[query.Index]
		if !ok {
			return nil
		}
		return entry.timeAndSaleCache.Window(rng)
	}
	if !query.Range.IsRealTime() {
		if !r.entitlements.HasEntitlement(subscriber.ID(), key, KindTimeAndSale) {
			return nil, uuid.Nil, nil
		}
		values, err := boundedQuery(ctx, worker, query, window, r.store.LoadTimeAndSales, allowed)
		return values, uuid.Nil, err
	}
	id, err := subscribeLive(r, worker, query, subscriber,
		func(sub *subscription[TimeAndSale]) {
			entry := worker.ensureSecurity(query.Index)
			entry.timeAndSaleSubs = append(entry.timeAndSaleSubs, sub)
		},
		window, r.store.LoadTimeAndSales, allowed,
		func(value SequencedTimeAndSale) any {
			return SecurityTimeAndSale{Value: value, Index: query.Index}
		})
	return nil, id, err
}

// SecuritySnapshot computes the subscriber's entitled view of a security's
// present state. Unentitled components come back zeroed rather than failing
// the whole call.
func (r *DistributionRelay) SecuritySnapshot(ctx context.Context, security Security, subscriber string) (SecuritySnapshot, error) {
	worker := r.workerFor(security.String())
	snapshot, err := postAndWait(ctx, worker, func() SecuritySnapshot {
		entry, ok := worker.securities[security]
		if !ok {
			return SecuritySnapshot{Security: security}
		}
		return entry.state.Snapshot()
	})
	if err != nil {
		return SecuritySnapshot{}, err
	}
	primary := MarketEntitlementKey(security.Market)
	if !r.entitlements.HasEntitlement(subscriber, primary, KindBboQuote) {
		snapshot.Bbo = SequencedBboQuote{}
	}
	if !r.entitlements.HasEntitlement(subscriber, primary, KindTimeAndSale) {
		snapshot.TimeAndSale = SequencedTimeAndSale{}
		snapshot.Technicals = Technicals{}
	}
	for venue := range snapshot.MarketQuotes {
		if !r.entitlements.HasEntitlement(subscriber, MarketEntitlementKey(venue), KindMarketQuote) {
			delete(snapshot.MarketQuotes, venue)
		}
	}
	filterBook := func(entries []SequencedBookQuote) []SequencedBookQuote {
		kept := entries[:0]
		for _, entry := range entries {
			if r.entitlements.HasEntitlement(subscriber, BookEntitlementKey(security.Market, entry.Value.Venue), KindBookQuote) {
				kept = append(kept, entry)
			}
		}
		return kept
	}
	snapshot.Asks = filterBook(snapshot.Asks)
	snapshot.Bids = filterBook(snapshot.Bids)
	return snapshot, nil
}

// Unsubscribe ends a single live subscription by its assigned id. Any
// catch-up read still in flight for it is abandoned and its result discarded.
func (r *DistributionRelay) Unsubscribe(id uuid.UUID) {
	for _, worker := range r.workers {
		worker.post(func() {
			for _, entry := range worker.securities {
				entry.bboSubs = closeMatchingSub(entry.bboSubs, id)
				entry.bookSubs = closeMatchingSub(entry.bookSubs, id)
				entry.marketQuoteSubs = closeMatchingSub(entry.marketQuoteSubs, id)
				entry.timeAndSaleSubs = closeMatchingSub(entry.timeAndSaleSubs, id)
			}
			for _, entry := range worker.markets {
				entry.imbalanceSubs = closeMatchingSub(entry.imbalanceSubs, id)
			}
		})
	}
}

func closeMatchingSub[T any](subs []*subscription[T], id uuid.UUID) []*subscription[T] {
	for _, sub := range subs {
		if sub.id == id {
			sub.close()
		}
	}
	return prune(subs)
}

// RemoveSubscriber tears down every subscription held by a session across all
// indices, called on disconnect.
func (r *DistributionRelay) RemoveSubscriber(subscriberID string) {
	for _, worker := range r.workers {
		worker.post(func() {
			for _, entry := range worker.securities {
				entry.bboSubs = closeSubscriberSubs(entry.bboSubs, subscriberID)
				entry.bookSubs = closeSubscriberSubs(entry.bookSubs, subscriberID)
				entry.marketQuoteSubs = closeSubscriberSubs(entry.marketQuoteSubs, subscriberID)
				entry.timeAndSaleSubs = closeSubscriberSubs(entry.timeAndSaleSubs, subscriberID)
			}
			for _, entry := range worker.markets {
				entry.imbalanceSubs = closeSubscriberSubs(entry.imbalanceSubs, subscriberID)
			}
		})
	}
}

func closeSubscriberSubs[T any](subs []*subscription[T], subscriberID string) []*subscription[T] {
	for _, sub := range subs {
		if sub.subscriber.ID() == subscriberID {
			sub.close()
		}
	}
	return prune(subs)
}

// ClearSource purges state contributed by a disconnected upstream source from
// every index it touched and applies each affected subscription's
// interruption policy.
func (r *DistributionRelay) ClearSource(source SourceID) {
	for _, worker := range r.workers {
		worker.post(func() {
			for _, entry := range worker.securities {
				if _, ok := entry.sources[source]; !ok {
					continue
				}
				delete(entry.sources, source)
				entry.state.Clear(source)
				entry.bboSubs = interruptSubs(entry.bboSubs, source)
				entry.bookSubs = interruptSubs(entry.bookSubs, source)
				entry.marketQuoteSubs = interruptSubs(entry.marketQuoteSubs, source)
				entry.timeAndSaleSubs = interruptSubs(entry.timeAndSaleSubs, source)
			}
			for _, entry := range worker.markets {
				if _, ok := entry.sources[source]; !ok {
					continue
				}
				delete(entry.sources, source)
				entry.state.Clear(source)
				entry.imbalanceSubs = interruptSubs(entry.imbalanceSubs, source)
			}
		})
	}
}

// interruptSubs applies each subscription's interruption policy after its
// upstream source was lost: Break closes it with a notification, Recover
// re-enters catch-up, Ignore leaves it live.
func interruptSubs[T any](subs []*subscription[T], source SourceID) []*subscription[T] {
	for _, sub := range subs {
		switch sub.policy {
		case InterruptionBreak:
			_ = sub.subscriber.Send(SubscriptionInterrupted{SubscriptionID: sub.id, Source: source})
			sub.close()
		case InterruptionRecover:
			if sub.state == subscriptionLive {
				sub.state = subscriptionCatchingUp
				go sub.restart()
			}
		}
	}
	return prune(subs)
}

// AddSecurityInfo registers an instrument's static reference record.
func (r *DistributionRelay) AddSecurityInfo(info SecurityInfo) {
	r.infoMu.Lock()
	defer r.infoMu.Unlock()
	r.securityInfos[info.Security] = info
}

// SecurityInfo returns an instrument's reference record if registered.
func (r *DistributionRelay) SecurityInfo(security Security) (SecurityInfo, bool) {
	r.infoMu.RLock()
	defer r.infoMu.RUnlock()
	info, ok := r.securityInfos[security]
	return info, ok
}
