// Package config loads the server configuration from YAML files and
// environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/spiretrading/nexus-sub010/internal/api"
	"github.com/spiretrading/nexus-sub010/internal/feed"
	"github.com/spiretrading/nexus-sub010/internal/marketdata"
)

// DatabaseConfig selects the historical store backend.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// FeedConfig selects and configures the upstream feed transport.
type FeedConfig struct {
	Transport string           `mapstructure:"transport"`
	SourceID  int              `mapstructure:"source_id"`
	Kafka     feed.KafkaConfig `mapstructure:"kafka"`
	Redis     feed.RedisConfig `mapstructure:"redis"`
}

// GrantConfig is one schedule entry as written in the config file.
type GrantConfig struct {
	Market string   `mapstructure:"market"`
	Origin string   `mapstructure:"origin"`
	Kinds  []string `mapstructure:"kinds"`
}

// EntitlementsConfig declares the entitlement groups and which of them new
// sessions receive.
type EntitlementsConfig struct {
	DefaultGroups []string                 `mapstructure:"default_groups"`
	Groups        map[string][]GrantConfig `mapstructure:"groups"`
}

// Config is the full server configuration.
type Config struct {
	Environment  string                 `mapstructure:"environment"`
	LogLevel     string                 `mapstructure:"log_level"`
	Database     DatabaseConfig         `mapstructure:"database"`
	Relay        marketdata.RelayConfig `mapstructure:"relay"`
	Feed         FeedConfig             `mapstructure:"feed"`
	API          api.Config             `mapstructure:"api"`
	Entitlements EntitlementsConfig     `mapstructure:"entitlements"`
}

// Schedule converts the configured groups into the relay's schedule form.
// Unknown kind names are rejected so a typo denies loudly instead of
// granting nothing silently.
func (c EntitlementsConfig) Schedule() (marketdata.EntitlementSchedule, error) {
	schedule := make(marketdata.EntitlementSchedule, len(c.Groups))
	for group, grants := range c.Groups {
		entries := make([]marketdata.EntitlementEntry, 0, len(grants))
		for _, grant := range grants {
			kinds := make([]marketdata.DataKind, 0, len(grant.Kinds))
			for _, name := range grant.Kinds {
				kind, ok := marketdata.ParseDataKind(name)
				if !ok {
					return nil, fmt.Errorf("group %q: unknown data kind %q", group, name)
				}
				kinds = append(kinds, kind)
			}
			key := marketdata.MarketEntitlementKey(marketdata.Market(grant.Market))
			if grant.Origin != "" {
				key = marketdata.BookEntitlementKey(marketdata.Market(grant.Market), marketdata.Market(grant.Origin))
			}
			entries = append(entries, marketdata.EntitlementEntry{Key: key, Kinds: kinds})
		}
		schedule[group] = entries
	}
	return schedule, nil
}

func setDefaults(v *viper.Viper) {
	relay := marketdata.DefaultRelayConfig()
	kafka := feed.DefaultKafkaConfig()
	redis := feed.DefaultRedisConfig()
	listener := api.DefaultConfig()

	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "marketdata.db")
	v.SetDefault("relay.worker_count", relay.WorkerCount)
	v.SetDefault("relay.task_queue_size", relay.TaskQueueSize)
	v.SetDefault("relay.horizon_capacity", relay.HorizonCapacity)
	v.SetDefault("relay.catch_up_timeout", relay.CatchUpTimeout)
	v.SetDefault("feed.transport", "kafka")
	v.SetDefault("feed.source_id", 1)
	v.SetDefault("feed.kafka.brokers", kafka.Brokers)
	v.SetDefault("feed.kafka.topic", kafka.Topic)
	v.SetDefault("feed.kafka.group_id", kafka.GroupID)
	v.SetDefault("feed.kafka.min_bytes", kafka.MinBytes)
	v.SetDefault("feed.kafka.max_bytes", kafka.MaxBytes)
	v.SetDefault("feed.kafka.queue_size", kafka.QueueSize)
	v.SetDefault("feed.kafka.dial_timeout", kafka.DialTimeout)
	v.SetDefault("feed.redis.addr", redis.Addr)
	v.SetDefault("feed.redis.stream", redis.Stream)
	v.SetDefault("feed.redis.batch", redis.Batch)
	v.SetDefault("feed.redis.block", redis.Block)
	v.SetDefault("feed.redis.queue_size", redis.QueueSize)
	v.SetDefault("feed.redis.max_len", redis.MaxLen)
	v.SetDefault("api.addr", listener.Addr)
	v.SetDefault("api.shutdown_timeout", listener.ShutdownTimeout)
}

// Load reads the configuration, merging the first existing path with
// environment overrides prefixed MARKETDATA_.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("MARKETDATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if len(paths) == 0 {
		paths = []string{"./config.yaml", "/etc/marketdata/config.yaml"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
