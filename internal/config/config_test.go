package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spiretrading/nexus-sub010/internal/config"
	"github.com/spiretrading/nexus-sub010/internal/marketdata"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "kafka", cfg.Feed.Transport)
	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Positive(t, cfg.Relay.TaskQueueSize)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: production
database:
  driver: postgres
  dsn: host=localhost dbname=marketdata
feed:
  transport: redis
  source_id: 4
relay:
  worker_count: 8
entitlements:
  default_groups: [tsx-level1]
  groups:
    tsx-level1:
      - market: XTSE
        kinds: [bbo_quote, time_and_sale]
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "redis", cfg.Feed.Transport)
	assert.Equal(t, 4, cfg.Feed.SourceID)
	assert.Equal(t, 8, cfg.Relay.WorkerCount)
	assert.Equal(t, []string{"tsx-level1"}, cfg.Entitlements.DefaultGroups)
}

func TestScheduleConversion(t *testing.T) {
	ec := config.EntitlementsConfig{
		Groups: map[string][]config.GrantConfig{
			"tsx-depth": {
				{Market: "XTSE", Origin: "XNYS", Kinds: []string{"book_quote"}},
				{Market: "XTSE", Kinds: []string{"bbo_quote"}},
			},
		},
	}
	schedule, err := ec.Schedule()
	require.NoError(t, err)
	entries := schedule["tsx-depth"]
	require.Len(t, entries, 2)
	assert.Equal(t, marketdata.BookEntitlementKey("XTSE", "XNYS"), entries[0].Key)
	assert.Equal(t, []marketdata.DataKind{marketdata.KindBookQuote}, entries[0].Kinds)
	assert.Equal(t, marketdata.MarketEntitlementKey("XTSE"), entries[1].Key)
}

func TestScheduleRejectsUnknownKind(t *testing.T) {
	ec := config.EntitlementsConfig{
		Groups: map[string][]config.GrantConfig{
			"bad": {{Market: "XTSE", Kinds: []string{"candles"}}},
		},
	}
	_, err := ec.Schedule()
	assert.Error(t, err)
}
