package ws

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spiretrading/nexus-sub010/internal/marketdata"
)

const queryTimeout = 30 * time.Second

// request is a client command. A query with end omitted (or zero) is
// open-ended: the session receives a snapshot followed by live pushes.
type request struct {
	Action    string   `json:"action"`
	Kind      string   `json:"kind"`
	Market    string   `json:"market"`
	Symbol    string   `json:"symbol"`
	Start     uint64   `json:"start"`
	End       uint64   `json:"end"`
	Limit     int      `json:"limit"`
	LimitType string   `json:"limit_type"`
	Origins   []string `json:"origins"`
	Policy    string   `json:"policy"`
	ID        string   `json:"id"`
}

type queryResult struct {
	Kind         string    `json:"kind"`
	Subscription uuid.UUID `json:"subscription,omitempty"`
	Values       any       `json:"values"`
}

func (r request) sequenceRange() marketdata.SequenceRange {
	if r.End == 0 {
		return marketdata.RealTimeRange(marketdata.Sequence(r.Start))
	}
	return marketdata.HistoricalRange(marketdata.Sequence(r.Start), marketdata.Sequence(r.End))
}

func (r request) snapshotLimit() marketdata.SnapshotLimit {
	if r.Limit <= 0 {
		return marketdata.SnapshotLimit{}
	}
	if r.LimitType == "head" {
		return marketdata.HeadLimit(r.Limit)
	}
	return marketdata.TailLimit(r.Limit)
}

func (r request) interruptionPolicy() marketdata.InterruptionPolicy {
	switch r.Policy {
	case "break":
		return marketdata.InterruptionBreak
	case "ignore":
		return marketdata.InterruptionIgnore
	default:
		return marketdata.InterruptionRecover
	}
}

func (r request) originFilter() []marketdata.Market {
	if len(r.Origins) == 0 {
		return nil
	}
	origins := make([]marketdata.Market, len(r.Origins))
	for i, origin := range r.Origins {
		origins[i] = marketdata.Market(origin)
	}
	return origins
}

func (r request) security() marketdata.Security {
	return marketdata.Security{Symbol: r.Symbol, Market: marketdata.Market(r.Market)}
}

func (s *Session) handle(req request) {
	switch req.Action {
	case "query":
		s.handleQuery(req)
	case "unsubscribe":
		id, err := uuid.Parse(req.ID)
		if err != nil {
			s.sendError("malformed subscription id")
			return
		}
		s.hub.relay.Unsubscribe(id)
	case "snapshot":
		s.handleSnapshot(req)
	default:
		s.sendError("unknown action")
	}
}

func (s *Session) handleQuery(req request) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	securityQuery := marketdata.SecurityQuery{
		Index:        req.security(),
		Range:        req.sequenceRange(),
		Limit:        req.snapshotLimit(),
		OriginFilter: req.originFilter(),
		Policy:       req.interruptionPolicy(),
	}
	var (
		values any
		id     uuid.UUID
		err    error
	)
	switch req.Kind {
	case "order_imbalance":
		marketQuery := marketdata.MarketQuery{
			Index:  marketdata.Market(req.Market),
			Range:  securityQuery.Range,
			Limit:  securityQuery.Limit,
			Policy: securityQuery.Policy,
		}
		values, id, err = s.hub.relay.QueryOrderImbalances(ctx, marketQuery, s)
	case "bbo_quote":
		values, id, err = s.hub.relay.QueryBboQuotes(ctx, securityQuery, s)
	case "book_quote":
		values, id, err = s.hub.relay.QueryBookQuotes(ctx, securityQuery, s)
	case "market_quote":
		values, id, err = s.hub.relay.QueryMarketQuotes(ctx, securityQuery, s)
	case "time_and_sale":
		values, id, err = s.hub.relay.QueryTimeAndSales(ctx, securityQuery, s)
	default:
		s.sendError("unknown kind")
		return
	}
	if err != nil {
		s.hub.logger.Warn("query failed",
			zap.String("session", s.id), zap.String("kind", req.Kind), zap.Error(err))
		s.sendError("query failed")
		return
	}
	s.sendEnvelope("query_result", queryResult{
		Kind:         req.Kind,
		Subscription: id,
		Values:       values,
	})
}

func (s *Session) handleSnapshot(req request) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	snapshot, err := s.hub.relay.SecuritySnapshot(ctx, req.security(), s.id)
	if err != nil {
		s.hub.logger.Warn("snapshot failed",
			zap.String("session", s.id), zap.Error(err))
		s.sendError("snapshot failed")
		return
	}
	s.sendEnvelope("security_snapshot", snapshot)
}

func (s *Session) sendEnvelope(kind string, data any) {
	if err := s.Send(namedMessage{kind: kind, data: data}); err != nil {
		s.shutdown()
	}
}

func (s *Session) sendError(reason string) {
	s.sendEnvelope("error", map[string]string{"reason": reason})
}

// namedMessage overrides the envelope type for control responses.
type namedMessage struct {
	kind string
	data any
}
