// Package feed connects upstream market-data sources to the distribution
// relay: transport consumers (Kafka topics, Redis streams), the producer used
// to publish onto those transports, and the normalization layer that turns
// order-level events into aggregated book quote deltas.
package feed

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/spiretrading/nexus-sub010/internal/marketdata"
)

// ErrUnknownOrder is returned when an order-level event references an order
// id the normalizer has never seen.
var ErrUnknownOrder = errors.New("feed: unknown order id")

// Sink is where normalized feed data lands; the distribution relay satisfies
// it.
type Sink interface {
	Ingest(message marketdata.FeedMessage) error
	AddSecurityInfo(info marketdata.SecurityInfo)
	ClearSource(source marketdata.SourceID)
}

// Consumer pulls normalized feed messages off one upstream transport. The
// returned channel closes when the source disconnects.
type Consumer interface {
	Stream(ctx context.Context) (<-chan marketdata.FeedMessage, error)
	Close() error
}

// Pump drains one consumer into the sink, purging the source's contributed
// state when the transport terminates.
type Pump struct {
	consumer Consumer
	sink     Sink
	source   marketdata.SourceID
	logger   *zap.Logger
}

// NewPump wires a consumer to a sink under the given source id.
func NewPump(consumer Consumer, sink Sink, source marketdata.SourceID, logger *zap.Logger) *Pump {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pump{consumer: consumer, sink: sink, source: source, logger: logger}
}

// Run drains the consumer until ctx is cancelled or the source disconnects.
// On disconnect the source's state is cleared so its stale liquidity does not
// linger in any aggregated book.
func (p *Pump) Run(ctx context.Context) error {
	messages, err := p.consumer.Stream(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message, ok := <-messages:
			if !ok {
				p.logger.Warn("upstream source disconnected, clearing contributed state",
					zap.Int("source", int(p.source)))
				p.sink.ClearSource(p.source)
				return nil
			}
			message.Source = p.source
			if err := p.sink.Ingest(message); err != nil {
				p.logger.Error("dropping malformed feed message", zap.Error(err))
			}
		}
	}
}

// upstreamClient composes a historical loader with a live transport to form
// the full upstream contract.
type upstreamClient struct {
	marketdata.HistoricalLoader
	consumer Consumer
}

// NewUpstreamClient builds an UpstreamClient from a historical read side and
// a live transport.
func NewUpstreamClient(loader marketdata.HistoricalLoader, consumer Consumer) marketdata.UpstreamClient {
	return &upstreamClient{HistoricalLoader: loader, consumer: consumer}
}

func (c *upstreamClient) Stream(ctx context.Context) (<-chan marketdata.FeedMessage, error) {
	return c.consumer.Stream(ctx)
}

func (c *upstreamClient) Close() error {
	return c.consumer.Close()
}
