package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/spiretrading/nexus-sub010/internal/marketdata"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxRequestSize = 4096
	sendQueueSize  = 256
)

// ErrSlowSession is returned by Send when a session's outbound queue is full.
// The relay treats it as a failed delivery and closes the subscription.
var ErrSlowSession = errors.New("ws: session send queue full")

// envelope is the wire frame every outbound message is wrapped in.
type envelope struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one WebSocket connection acting as a relay subscriber.
type Session struct {
	hub  *Hub
	conn *websocket.Conn
	id   string
	send chan []byte

	once sync.Once
	done chan struct{}
}

func newSession(hub *Hub, conn *websocket.Conn) *Session {
	return &Session{
		hub:  hub,
		conn: conn,
		id:   uuid.New().String(),
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

// ID returns the session's subscriber id.
func (s *Session) ID() string {
	return s.id
}

func messageType(value any) string {
	switch value.(type) {
	case marketdata.MarketOrderImbalance:
		return "order_imbalance"
	case marketdata.SecurityBboQuote:
		return "bbo_quote"
	case marketdata.SecurityBookQuote:
		return "book_quote"
	case marketdata.SecurityMarketQuote:
		return "market_quote"
	case marketdata.SecurityTimeAndSale:
		return "time_and_sale"
	case marketdata.SubscriptionInterrupted:
		return "interrupted"
	case marketdata.SubscriptionFailed:
		return "subscription_failed"
	default:
		return "message"
	}
}

// Send queues a value for delivery. A full queue fails the send rather than
// blocking the relay worker.
func (s *Session) Send(value any) error {
	kind := messageType(value)
	data := value
	if named, ok := value.(namedMessage); ok {
		kind = named.kind
		data = named.data
	}
	payload, err := json.Marshal(envelope{
		Type:      kind,
		Data:      data,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return websocket.ErrCloseSent
	case s.send <- payload:
		sessionMessages.Inc()
		return nil
	default:
		sessionSlowDrops.Inc()
		return ErrSlowSession
	}
}

func (s *Session) shutdown() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *Session) readPump() {
	defer func() {
		s.shutdown()
		s.hub.drop(s)
	}()
	s.conn.SetReadLimit(maxRequestSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Warn("session read failed",
					zap.String("session", s.id), zap.Error(err))
			}
			return
		}
		var req request
		if err := json.Unmarshal(message, &req); err != nil {
			s.sendError("malformed request")
			continue
		}
		s.handle(req)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.shutdown()
	}()
	for {
		select {
		case <-s.done:
			return
		case payload := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
