// Package api exposes the relay over HTTP: REST endpoints for bounded
// history and snapshots, a WebSocket upgrade for live subscriptions, and the
// usual health and metrics surfaces.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/spiretrading/nexus-sub010/internal/marketdata"
	"github.com/spiretrading/nexus-sub010/internal/transport/ws"
)

// Config controls the HTTP listener.
type Config struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DefaultConfig returns the listener settings used when the config file
// leaves the api section blank.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server is the HTTP front end over the relay.
type Server struct {
	cfg          Config
	relay        *marketdata.DistributionRelay
	hub          *ws.Hub
	entitlements *marketdata.EntitlementTable
	groups       []string
	logger       *zap.Logger

	mu        sync.Mutex
	activated map[string]struct{}

	httpServer *http.Server
}

// NewServer wires the relay and session hub behind a router. REST callers
// identify themselves with the X-Subscriber-ID header and are activated
// under the named entitlement groups on first use.
func NewServer(cfg Config, relay *marketdata.DistributionRelay, hub *ws.Hub,
	entitlements *marketdata.EntitlementTable, groups []string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:          cfg,
		relay:        relay,
		hub:          hub,
		entitlements: entitlements,
		groups:       groups,
		logger:       logger,
		activated:    make(map[string]struct{}),
	}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", func(c *gin.Context) {
		s.hub.ServeWS(c.Writer, c.Request)
	})

	v1 := router.Group("/api/v1")
	{
		securities := v1.Group("/securities/:market/:symbol")
		{
			securities.GET("/snapshot", s.handleSecuritySnapshot)
			securities.GET("/info", s.handleSecurityInfo)
			securities.GET("/bbo", s.handleQuery("bbo_quote"))
			securities.GET("/book", s.handleQuery("book_quote"))
			securities.GET("/quotes", s.handleQuery("market_quote"))
			securities.GET("/trades", s.handleQuery("time_and_sale"))
		}
		v1.GET("/markets/:market/imbalances", s.handleImbalances)
	}
	return router
}

// Run serves HTTP until ctx is canceled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.Router(),
	}
	errs := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// subscriberID resolves the caller's identity and activates its grants the
// first time it appears.
func (s *Server) subscriberID(c *gin.Context) string {
	id := c.GetHeader("X-Subscriber-ID")
	if id == "" {
		id = c.ClientIP()
	}
	s.mu.Lock()
	if _, ok := s.activated[id]; !ok {
		s.activated[id] = struct{}{}
		s.entitlements.Activate(id, s.groups...)
	}
	s.mu.Unlock()
	return id
}

// restSubscriber satisfies the relay's subscriber contract for bounded REST
// queries, which never deliver live pushes.
type restSubscriber struct {
	id string
}

func (r restSubscriber) ID() string { return r.id }

func (r restSubscriber) Send(any) error {
	return errors.New("api: rest subscriber cannot receive live values")
}

func parseSequence(c *gin.Context, name string, fallback marketdata.Sequence) (marketdata.Sequence, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return marketdata.Sequence(value), true
}

// restQuery builds a bounded query from URL parameters. REST history is
// always bounded; an absent end defaults to everything stored so far.
func restQuery[I comparable](c *gin.Context, index I) (marketdata.Query[I], bool) {
	start, ok := parseSequence(c, "start", marketdata.FirstSequence)
	if !ok {
		return marketdata.Query[I]{}, false
	}
	end, ok := parseSequence(c, "end", marketdata.PresentSequence-1)
	if !ok {
		return marketdata.Query[I]{}, false
	}
	query := marketdata.Query[I]{
		Index: index,
		Range: marketdata.HistoricalRange(start, end),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return marketdata.Query[I]{}, false
		}
		if c.Query("limit_type") == "head" {
			query.Limit = marketdata.HeadLimit(limit)
		} else {
			query.Limit = marketdata.TailLimit(limit)
		}
	}
	for _, origin := range c.QueryArray("origin") {
		query.OriginFilter = append(query.OriginFilter, marketdata.Market(origin))
	}
	return query, true
}

func pathSecurity(c *gin.Context) marketdata.Security {
	return marketdata.Security{
		Symbol: c.Param("symbol"),
		Market: marketdata.Market(c.Param("market")),
	}
}

func (s *Server) handleQuery(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		query, ok := restQuery(c, pathSecurity(c))
		if !ok {
			return
		}
		subscriber := restSubscriber{id: s.subscriberID(c)}
		var (
			values any
			err    error
		)
		switch kind {
		case "bbo_quote":
			values, _, err = s.relay.QueryBboQuotes(c.Request.Context(), query, subscriber)
		case "book_quote":
			values, _, err = s.relay.QueryBookQuotes(c.Request.Context(), query, subscriber)
		case "market_quote":
			values, _, err = s.relay.QueryMarketQuotes(c.Request.Context(), query, subscriber)
		case "time_and_sale":
			values, _, err = s.relay.QueryTimeAndSales(c.Request.Context(), query, subscriber)
		}
		if err != nil {
			s.logger.Error("history query failed", zap.String("kind", kind), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"kind": kind, "values": values})
	}
}

func (s *Server) handleImbalances(c *gin.Context) {
	query, ok := restQuery(c, marketdata.Market(c.Param("market")))
	if !ok {
		return
	}
	subscriber := restSubscriber{id: s.subscriberID(c)}
	values, _, err := s.relay.QueryOrderImbalances(c.Request.Context(), query, subscriber)
	if err != nil {
		s.logger.Error("imbalance query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": "order_imbalance", "values": values})
}

func (s *Server) handleSecuritySnapshot(c *gin.Context) {
	snapshot, err := s.relay.SecuritySnapshot(c.Request.Context(), pathSecurity(c), s.subscriberID(c))
	if err != nil {
		s.logger.Error("snapshot failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "snapshot failed"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) handleSecurityInfo(c *gin.Context) {
	info, ok := s.relay.SecurityInfo(pathSecurity(c))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown security"})
		return
	}
	c.JSON(http.StatusOK, info)
}
