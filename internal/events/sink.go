// Package events fans out matching engine activity to subscribers
// over WebSocket connections: trades, order state changes, and
// orderbook deltas, each on its own channel. Generalizes the
// teacher's single-channel WSHub (internal/trade) into three
// independently-subscribable streams.
package events

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atmx/matchingd/internal/book"
	"github.com/atmx/matchingd/internal/metrics"
	"github.com/atmx/matchingd/internal/model"
)

// Stream names, also used as the URL suffix for the subscribe
// endpoints (GET /events/{stream}).
const (
	StreamTrades            = "trades"
	StreamOrderStateChanges = "orders"
	StreamOrderBookDeltas   = "orderbook"
)

// TradeEvent is published whenever the engine executes a trade.
type TradeEvent struct {
	Type string      `json:"type"`
	Data model.Trade `json:"data"`
}

// OrderStateChangeEvent is published whenever an order's status or
// filled_quantity changes.
type OrderStateChangeEvent struct {
	Type string      `json:"type"`
	Data model.Order `json:"data"`
}

// OrderBookDeltaEvent is published after every mutation to an
// instrument's book, carrying the top DefaultBroadcastDepth levels.
type OrderBookDeltaEvent struct {
	Type string         `json:"type"`
	Data book.Snapshot `json:"data"`
}

// hub runs one register/unregister/broadcast loop for a single
// stream, mirroring the teacher's WSHub.
type hub struct {
	name       string
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	count      int
}

func newHub(name string) *hub {
	return &hub{
		name:       name,
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

func (h *hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.count = len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.WithLabelValues(h.name).Set(float64(h.count))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				h.count = len(h.clients)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.WithLabelValues(h.name).Set(float64(h.count))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.count = len(h.clients)
			h.mu.RUnlock()
			metrics.WebSocketClients.WithLabelValues(h.name).Set(float64(h.count))
		}
	}
}

func (h *hub) send(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Slow/disconnected subscribers are dropped rather than
		// blocking the engine's publish path.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

func (h *hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
}

// Sink is the engine's handle for publishing activity and the HTTP
// layer's handle for subscribing to it.
type Sink struct {
	trades *hub
	orders *hub
	delta  *hub
}

// NewSink creates a Sink with all three stream hubs running.
func NewSink() *Sink {
	s := &Sink{trades: newHub(StreamTrades), orders: newHub(StreamOrderStateChanges), delta: newHub(StreamOrderBookDeltas)}
	go s.trades.run()
	go s.orders.run()
	go s.delta.run()
	return s
}

// PublishTrade fans out a trade execution to StreamTrades subscribers.
func (s *Sink) PublishTrade(t *model.Trade) {
	s.trades.send(TradeEvent{Type: "trade", Data: *t})
}

// PublishOrderStateChange fans out an order mutation to
// StreamOrderStateChanges subscribers.
func (s *Sink) PublishOrderStateChange(o *model.Order) {
	s.orders.send(OrderStateChangeEvent{Type: "order_state_change", Data: *o})
}

// PublishOrderBookDelta fans out the top of an instrument's book to
// StreamOrderBookDeltas subscribers after a mutation.
func (s *Sink) PublishOrderBookDelta(snap book.Snapshot) {
	s.delta.send(OrderBookDeltaEvent{Type: "orderbook_delta", Data: snap.Trim(book.DefaultBroadcastDepth)})
}

// HandleSubscribe upgrades r to a WebSocket connection and attaches it
// to the named stream. Callers route GET /events/{stream} here.
func (s *Sink) HandleSubscribe(stream string, w http.ResponseWriter, r *http.Request) bool {
	switch stream {
	case StreamTrades:
		s.trades.handleWS(w, r)
	case StreamOrderStateChanges:
		s.orders.handleWS(w, r)
	case StreamOrderBookDeltas:
		s.delta.handleWS(w, r)
	default:
		return false
	}
	return true
}
