package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/spiretrading/nexus-sub010/internal/marketdata"
)

// KafkaConfig controls the Kafka upstream connection.
type KafkaConfig struct {
	Brokers     []string      `mapstructure:"brokers"`
	Topic       string        `mapstructure:"topic"`
	GroupID     string        `mapstructure:"group_id"`
	MinBytes    int           `mapstructure:"min_bytes"`
	MaxBytes    int           `mapstructure:"max_bytes"`
	QueueSize   int           `mapstructure:"queue_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// DefaultKafkaConfig returns the settings used when the config file leaves
// the kafka section blank.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:     []string{"localhost:9092"},
		Topic:       "marketdata.feed",
		GroupID:     "marketdata-relay",
		MinBytes:    1,
		MaxBytes:    10e6,
		QueueSize:   1024,
		DialTimeout: 10 * time.Second,
	}
}

// KafkaConsumer streams feed messages from a Kafka topic.
type KafkaConsumer struct {
	reader *kafka.Reader
	queue  int
	logger *zap.Logger
}

// NewKafkaConsumer opens a reader on the configured topic.
func NewKafkaConsumer(cfg KafkaConfig, logger *zap.Logger) *KafkaConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
		Dialer:   &kafka.Dialer{Timeout: cfg.DialTimeout, DualStack: true},
	})
	return &KafkaConsumer{reader: reader, queue: cfg.QueueSize, logger: logger}
}

// Stream reads messages until ctx is canceled or the reader is closed. The
// returned channel is closed on shutdown; malformed payloads are logged and
// skipped.
func (c *KafkaConsumer) Stream(ctx context.Context) (<-chan marketdata.FeedMessage, error) {
	out := make(chan marketdata.FeedMessage, c.queue)
	go func() {
		defer close(out)
		for {
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
					c.logger.Error("kafka read failed", zap.Error(err))
				}
				return
			}
			var message marketdata.FeedMessage
			if err := json.Unmarshal(msg.Value, &message); err != nil {
				c.logger.Warn("dropping malformed kafka message",
					zap.Int64("offset", msg.Offset), zap.Error(err))
				continue
			}
			select {
			case out <- message:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts down the underlying reader.
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}

// KafkaPublisher writes feed messages to a Kafka topic, keyed by index so
// per-security ordering is preserved across partitions.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher opens a writer on the configured topic.
func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func feedMessageKey(message marketdata.FeedMessage) []byte {
	if message.Kind == marketdata.KindOrderImbalance {
		return []byte(message.Market)
	}
	return []byte(message.Security.String())
}

// Publish encodes and writes a single feed message.
func (p *KafkaPublisher) Publish(ctx context.Context, message marketdata.FeedMessage) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode feed message: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   feedMessageKey(message),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("write feed message: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
