// Package store implements the historical market-data store over a
// relational database through GORM, one backend per driver: SQLite for tests
// and embedded use, Postgres for the service.
package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/spiretrading/nexus-sub010/internal/marketdata"
)

// GormStore persists sequenced market data in one table per kind.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ marketdata.HistoricalStore = (*GormStore)(nil)

var tables = []any{
	&orderImbalanceRow{},
	&bboQuoteRow{},
	&bookQuoteRow{},
	&marketQuoteRow{},
	&timeAndSaleRow{},
}

// NewGormStore wraps an open GORM handle, migrating the kind tables.
func NewGormStore(db *gorm.DB, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(tables...); err != nil {
		return nil, fmt.Errorf("migrate market data tables: %w", err)
	}
	return &GormStore{db: db, logger: logger}, nil
}

// OpenPostgres opens a Postgres-backed store.
func OpenPostgres(dsn string, logger *zap.Logger) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewGormStore(db, logger)
}

// OpenSQLite opens a SQLite-backed store; path may be ":memory:".
func OpenSQLite(path string, logger *zap.Logger) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return NewGormStore(db, logger)
}

// rangeScope applies a Sequence range to a query. An open upper end
// (PresentSequence) places no upper bound.
func rangeScope(r marketdata.SequenceRange) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Where("sequence >= ?", uint64(r.Start))
		if r.End != marketdata.PresentSequence {
			db = db.Where("sequence <= ?", uint64(r.End))
		}
		return db
	}
}

// loadRows runs a scoped range query honoring the snapshot limit. Tail limits
// run descending with a LIMIT and are reversed afterwards so results always
// come back in ascending Sequence order.
func loadRows[R any](ctx context.Context, db *gorm.DB, scope func(*gorm.DB) *gorm.DB, r marketdata.SequenceRange, limit marketdata.SnapshotLimit) ([]R, error) {
	query := db.WithContext(ctx).Scopes(scope, rangeScope(r))
	var rows []R
	if !limit.Unlimited() && limit.Type == marketdata.SnapshotTail {
		if err := query.Order("sequence DESC").Limit(limit.Size).Find(&rows).Error; err != nil {
			return nil, err
		}
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
		return rows, nil
	}
	query = query.Order("sequence ASC")
	if !limit.Unlimited() {
		query = query.Limit(limit.Size)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func securityScope(security marketdata.Security) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("symbol = ? AND market = ?", security.Symbol, string(security.Market))
	}
}

func (s *GormStore) LoadOrderImbalances(ctx context.Context, query marketdata.MarketQuery) ([]marketdata.SequencedOrderImbalance, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		return db.Model(&orderImbalanceRow{}).Where("market = ?", string(query.Index))
	}
	rows, err := loadRows[orderImbalanceRow](ctx, s.db, scope, query.Range, query.Limit)
	if err != nil {
		return nil, fmt.Errorf("load order imbalances: %w", err)
	}
	values := make([]marketdata.SequencedOrderImbalance, len(rows))
	for i, row := range rows {
		values[i] = row.toValue()
	}
	return values, nil
}

func (s *GormStore) LoadBboQuotes(ctx context.Context, query marketdata.SecurityQuery) ([]marketdata.SequencedBboQuote, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		return db.Model(&bboQuoteRow{}).Scopes(securityScope(query.Index))
	}
	rows, err := loadRows[bboQuoteRow](ctx, s.db, scope, query.Range, query.Limit)
	if err != nil {
		return nil, fmt.Errorf("load bbo quotes: %w", err)
	}
	values := make([]marketdata.SequencedBboQuote, len(rows))
	for i, row := range rows {
		values[i] = row.toValue()
	}
	return values, nil
}

func (s *GormStore) LoadBookQuotes(ctx context.Context, query marketdata.SecurityQuery) ([]marketdata.SequencedBookQuote, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Model(&bookQuoteRow{}).Scopes(securityScope(query.Index))
		if len(query.OriginFilter) > 0 {
			venues := make([]string, len(query.OriginFilter))
			for i, venue := range query.OriginFilter {
				venues[i] = string(venue)
			}
			db = db.Where("venue IN ?", venues)
		}
		return db
	}
	rows, err := loadRows[bookQuoteRow](ctx, s.db, scope, query.Range, query.Limit)
	if err != nil {
		return nil, fmt.Errorf("load book quotes: %w", err)
	}
	values := make([]marketdata.SequencedBookQuote, len(rows))
	for i, row := range rows {
		values[i] = row.toValue()
	}
	return values, nil
}

func (s *GormStore) LoadMarketQuotes(ctx context.Context, query marketdata.SecurityQuery) ([]marketdata.SequencedMarketQuote, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		return db.Model(&marketQuoteRow{}).Scopes(securityScope(query.Index))
	}
	rows, err := loadRows[marketQuoteRow](ctx, s.db, scope, query.Range, query.Limit)
	if err != nil {
		return nil, fmt.Errorf("load market quotes: %w", err)
	}
	values := make([]marketdata.SequencedMarketQuote, len(rows))
	for i, row := range rows {
		values[i] = row.toValue()
	}
	return values, nil
}

func (s *GormStore) LoadTimeAndSales(ctx context.Context, query marketdata.SecurityQuery) ([]marketdata.SequencedTimeAndSale, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		return db.Model(&timeAndSaleRow{}).Scopes(securityScope(query.Index))
	}
	rows, err := loadRows[timeAndSaleRow](ctx, s.db, scope, query.Range, query.Limit)
	if err != nil {
		return nil, fmt.Errorf("load time and sales: %w", err)
	}
	values := make([]marketdata.SequencedTimeAndSale, len(rows))
	for i, row := range rows {
		values[i] = row.toValue()
	}
	return values, nil
}

func (s *GormStore) StoreOrderImbalance(ctx context.Context, value marketdata.MarketOrderImbalance) error {
	row := orderImbalanceRow{
		Market:         string(value.Index),
		Sequence:       uint64(value.Value.Sequence),
		Symbol:         value.Value.Value.Security.Symbol,
		SecurityMarket: string(value.Value.Value.Security.Market),
		Side:           uint8(value.Value.Value.Side),
		Size:           value.Value.Value.Size,
		ReferencePrice: value.Value.Value.ReferencePrice,
		Timestamp:      value.Value.Value.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("store order imbalance: %w", err)
	}
	return nil
}

func (s *GormStore) StoreBboQuote(ctx context.Context, value marketdata.SecurityBboQuote) error {
	row := bboQuoteRow{
		Symbol:    value.Index.Symbol,
		Market:    string(value.Index.Market),
		Sequence:  uint64(value.Value.Sequence),
		BidPrice:  value.Value.Value.Bid.Price,
		BidSize:   value.Value.Value.Bid.Size,
		AskPrice:  value.Value.Value.Ask.Price,
		AskSize:   value.Value.Value.Ask.Size,
		Timestamp: value.Value.Value.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("store bbo quote: %w", err)
	}
	return nil
}

func (s *GormStore) StoreBookQuote(ctx context.Context, value marketdata.SecurityBookQuote) error {
	row := bookQuoteRow{
		Symbol:    value.Index.Symbol,
		Market:    string(value.Index.Market),
		Sequence:  uint64(value.Value.Sequence),
		MPID:      value.Value.Value.MPID,
		IsPrimary: value.Value.Value.IsPrimary,
		Venue:     string(value.Value.Value.Venue),
		Side:      uint8(value.Value.Value.Quote.Side),
		Price:     value.Value.Value.Quote.Price,
		Size:      value.Value.Value.Quote.Size,
		Timestamp: value.Value.Value.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("store book quote: %w", err)
	}
	return nil
}

func (s *GormStore) StoreMarketQuote(ctx context.Context, value marketdata.SecurityMarketQuote) error {
	row := marketQuoteRow{
		Symbol:    value.Index.Symbol,
		Market:    string(value.Index.Market),
		Sequence:  uint64(value.Value.Sequence),
		Venue:     string(value.Value.Value.Venue),
		BidPrice:  value.Value.Value.Bid.Price,
		BidSize:   value.Value.Value.Bid.Size,
		AskPrice:  value.Value.Value.Ask.Price,
		AskSize:   value.Value.Value.Ask.Size,
		Timestamp: value.Value.Value.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("store market quote: %w", err)
	}
	return nil
}

func (s *GormStore) StoreTimeAndSale(ctx context.Context, value marketdata.SecurityTimeAndSale) error {
	row := timeAndSaleRow{
		Symbol:    value.Index.Symbol,
		Market:    string(value.Index.Market),
		Sequence:  uint64(value.Value.Sequence),
		Price:     value.Value.Value.Price,
		Size:      value.Value.Value.Size,
		Condition: value.Value.Value.Condition,
		Venue:     string(value.Value.Value.Venue),
		Timestamp: value.Value.Value.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("store time and sale: %w", err)
	}
	return nil
}

// Close releases the underlying database connection.
func (s *GormStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
