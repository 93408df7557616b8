package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spiretrading/nexus-sub010/internal/marketdata"
)

// RedisConfig controls the Redis stream upstream connection.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Stream    string        `mapstructure:"stream"`
	Batch     int64         `mapstructure:"batch"`
	Block     time.Duration `mapstructure:"block"`
	QueueSize int           `mapstructure:"queue_size"`
	MaxLen    int64         `mapstructure:"max_len"`
}

// DefaultRedisConfig returns the settings used when the config file leaves
// the redis section blank.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		Stream:    "marketdata.feed",
		Batch:     256,
		Block:     5 * time.Second,
		QueueSize: 1024,
		MaxLen:    1_000_000,
	}
}

// RedisConsumer streams feed messages from a Redis stream, resuming from the
// last delivered entry id across reconnects.
type RedisConsumer struct {
	client *redis.Client
	cfg    RedisConfig
	lastID string
	logger *zap.Logger
}

// NewRedisConsumer connects to Redis and tails the configured stream from
// its current end.
func NewRedisConsumer(cfg RedisConfig, logger *zap.Logger) *RedisConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisConsumer{client: client, cfg: cfg, lastID: "$", logger: logger}
}

// Stream reads stream entries until ctx is canceled. Malformed entries are
// logged and skipped; the returned channel is closed on shutdown.
func (c *RedisConsumer) Stream(ctx context.Context) (<-chan marketdata.FeedMessage, error) {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	out := make(chan marketdata.FeedMessage, c.cfg.QueueSize)
	go func() {
		defer close(out)
		for {
			res, err := c.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{c.cfg.Stream, c.lastID},
				Count:   c.cfg.Batch,
				Block:   c.cfg.Block,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() == nil {
					c.logger.Error("redis stream read failed", zap.Error(err))
				}
				return
			}
			for _, stream := range res {
				for _, entry := range stream.Messages {
					c.lastID = entry.ID
					data, ok := entry.Values["data"].(string)
					if !ok {
						c.logger.Warn("dropping stream entry without data field",
							zap.String("id", entry.ID))
						continue
					}
					var message marketdata.FeedMessage
					if err := json.Unmarshal([]byte(data), &message); err != nil {
						c.logger.Warn("dropping malformed stream entry",
							zap.String("id", entry.ID), zap.Error(err))
						continue
					}
					select {
					case out <- message:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

// Close releases the Redis connection.
func (c *RedisConsumer) Close() error {
	return c.client.Close()
}

// RedisPublisher appends feed messages to a capped Redis stream.
type RedisPublisher struct {
	client *redis.Client
	cfg    RedisConfig
}

// NewRedisPublisher connects a publisher to the configured stream.
func NewRedisPublisher(cfg RedisConfig) *RedisPublisher {
	return &RedisPublisher{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		cfg: cfg,
	}
}

// Publish encodes and appends a single feed message.
func (p *RedisPublisher) Publish(ctx context.Context, message marketdata.FeedMessage) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode feed message: %w", err)
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.cfg.Stream,
		MaxLen: p.cfg.MaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"kind": message.Kind.String(),
			"data": string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("append to stream: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
