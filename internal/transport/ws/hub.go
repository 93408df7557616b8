// Package ws exposes the relay's snapshot-then-live protocol over WebSocket
// sessions. Each connection is one subscriber: its queries, subscriptions,
// and entitlement grants all share the session id, and disconnecting tears
// everything down in one pass.
package ws

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/spiretrading/nexus-sub010/internal/marketdata"
)

var (
	sessionConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "marketdata_ws_sessions",
		Help: "Current number of active WebSocket sessions.",
	})
	sessionMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marketdata_ws_messages_total",
		Help: "Total number of messages pushed to WebSocket sessions.",
	})
	sessionSlowDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marketdata_ws_slow_drops_total",
		Help: "Total number of messages refused because a session's send queue was full.",
	})
)

func init() {
	prometheus.MustRegister(sessionConnections, sessionMessages, sessionSlowDrops)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub owns the set of live sessions and hands each one to the relay.
type Hub struct {
	relay        *marketdata.DistributionRelay
	entitlements *marketdata.EntitlementTable
	groups       []string
	logger       *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewHub builds a hub serving sessions against the given relay. New sessions
// are activated under the named entitlement groups.
func NewHub(relay *marketdata.DistributionRelay, entitlements *marketdata.EntitlementTable,
	groups []string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		relay:        relay,
		entitlements: entitlements,
		groups:       groups,
		logger:       logger,
		sessions:     make(map[string]*Session),
	}
}

// ServeWS upgrades an HTTP request into a market data session.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	session := newSession(h, conn)
	h.mu.Lock()
	h.sessions[session.ID()] = session
	h.mu.Unlock()
	sessionConnections.Inc()
	h.entitlements.Activate(session.ID(), h.groups...)
	h.logger.Info("session opened",
		zap.String("session", session.ID()),
		zap.String("remote", conn.RemoteAddr().String()))
	go session.writePump()
	go session.readPump()
}

// drop tears down a finished session: its live subscriptions, its
// entitlement grants, and its hub registration.
func (h *Hub) drop(session *Session) {
	h.mu.Lock()
	_, ok := h.sessions[session.ID()]
	delete(h.sessions, session.ID())
	h.mu.Unlock()
	if !ok {
		return
	}
	sessionConnections.Dec()
	h.relay.RemoveSubscriber(session.ID())
	h.entitlements.Deactivate(session.ID())
	h.logger.Info("session closed", zap.String("session", session.ID()))
}

// Close disconnects every session.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, session := range h.sessions {
		sessions = append(sessions, session)
	}
	h.mu.Unlock()
	for _, session := range sessions {
		session.shutdown()
	}
}
