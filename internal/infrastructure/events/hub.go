package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ringflow/call-auction-backend/internal/service/bidding"
)

// Hub fans auction lifecycle events out to WebSocket subscribers. Publishing
// never blocks the auction path: a subscriber whose queue is full misses the
// event and a drop counter is bumped.
type Hub struct {
	logger *zap.Logger
	config Config

	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool

	dropped atomic.Uint64
}

type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	mu   sync.Mutex
}

// Config tunes the hub's connection handling.
type Config struct {
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
	MaxMessageSize int64
	SendBufferSize int
}

// DefaultConfig returns the hub defaults used outside tests.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		MaxMessageSize: 4096,
		SendBufferSize: 64,
	}
}

// Envelope is the wire frame sent to subscribers.
type Envelope struct {
	Type      string                      `json:"type"`
	Event     *bidding.AuctionClosedEvent `json:"event,omitempty"`
	Timestamp time.Time                   `json:"timestamp"`
}

func NewHub(logger *zap.Logger, config Config) *Hub {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = DefaultConfig().SendBufferSize
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if config.PingInterval <= 0 {
		config.PingInterval = DefaultConfig().PingInterval
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = DefaultConfig().PongTimeout
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = DefaultConfig().MaxMessageSize
	}
	return &Hub{
		logger:      logger,
		config:      config,
		subscribers: make(map[string]*subscriber),
	}
}

// PublishAuctionClosed queues the closed-auction event on every subscriber.
// Slow subscribers are skipped rather than waited on.
func (h *Hub) PublishAuctionClosed(event bidding.AuctionClosedEvent) {
	data, err := json.Marshal(Envelope{
		Type:      "auction_closed",
		Event:     &event,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error("marshal auction event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		select {
		case sub.send <- data:
		default:
			h.dropped.Add(1)
			h.logger.Warn("subscriber queue full, event dropped",
				zap.String("subscriber_id", sub.id),
				zap.String("request_id", event.RequestID.String()),
			)
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServeHTTP upgrades the request to a WebSocket connection and registers it
// as a subscriber until the peer disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := &subscriber{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, h.config.SendBufferSize),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.subscribers[sub.id] = sub
	h.mu.Unlock()

	h.logger.Info("event subscriber connected", zap.String("subscriber_id", sub.id))

	go h.writePump(sub)
	go h.readPump(sub)
}

// DroppedEvents reports how many events were discarded on full queues.
func (h *Hub) DroppedEvents() uint64 {
	return h.dropped.Load()
}

// SubscriberCount reports the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	for id, sub := range h.subscribers {
		close(sub.send)
		sub.conn.Close()
		delete(h.subscribers, id)
	}
	return nil
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		close(sub.send)
		delete(h.subscribers, id)
	}
	h.mu.Unlock()

	if ok {
		h.logger.Info("event subscriber disconnected", zap.String("subscriber_id", id))
	}
}

func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case message, ok := <-sub.send:
			sub.mu.Lock()
			sub.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if !ok {
				sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				sub.mu.Unlock()
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				sub.mu.Unlock()
				h.remove(sub.id)
				return
			}
			sub.mu.Unlock()

		case <-ticker.C:
			sub.mu.Lock()
			sub.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sub.mu.Unlock()
				h.remove(sub.id)
				return
			}
			sub.mu.Unlock()
		}
	}
}

// readPump drains the connection so ping/pong and close frames are processed.
// Subscribers are read-only; inbound text frames are ignored.
func (h *Hub) readPump(sub *subscriber) {
	defer func() {
		sub.conn.Close()
		h.remove(sub.id)
	}()

	sub.conn.SetReadLimit(h.config.MaxMessageSize)
	sub.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	sub.conn.SetPongHandler(func(string) error {
		sub.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
		return nil
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error",
					zap.Error(err),
					zap.String("subscriber_id", sub.id),
				)
			}
			return
		}
	}
}
