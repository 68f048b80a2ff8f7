// Package broadcast implements the event broadcaster: best-effort fan-out
// of typed events to subscribers. A dropped or slow subscriber never
// blocks the producer.
//
// A single Hub serves both in-process Go-channel subscribers (used by
// tests; internal/resolution and internal/settlement only publish) and the optional
// WebSocket surface in internal/admin, from the same broadcast channel
// and the same register/unregister/broadcast select loop.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"predicore/pkg/types"
)

// Event is the envelope delivered to every subscriber.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	MarketID  string    `json:"market_id,omitempty"`
	Data      any       `json:"data,omitempty"`
}

const (
	EventMarketUpdate               = "market_update"
	EventSignatureRequest           = "signature_request"
	EventSignatureProgress          = "signature_progress"
	EventSignatureRequestCancelled  = "signature_request_cancelled"
)

// subscriberBuffer bounds how far a slow in-process subscriber may lag
// before its events start being dropped.
const subscriberBuffer = 64

// Hub fans out events to in-process subscriber channels and WebSocket
// clients. Call Run in its own goroutine before publishing.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Event]bool
	clients     map[*Client]bool

	register   chan *Client
	unregister chan *Client
	subscribe  chan chan Event
	unsubscribe chan chan Event
	broadcast  chan Event

	logger *slog.Logger
}

// NewHub builds a Hub. Run must be started separately.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[chan Event]bool),
		clients:     make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan chan Event),
		unsubscribe: make(chan chan Event),
		broadcast:   make(chan Event, 256),
		logger:      logger.With("component", "broadcast"),
	}
}

// Run is the hub's main loop; every state mutation (register, subscribe,
// broadcast) funnels through this single goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case ch := <-h.subscribe:
			h.mu.Lock()
			h.subscribers[ch] = true
			h.mu.Unlock()

		case ch := <-h.unsubscribe:
			h.mu.Lock()
			if _, ok := h.subscribers[ch]; ok {
				delete(h.subscribers, ch)
				close(ch)
			}
			h.mu.Unlock()

		case evt := <-h.broadcast:
			h.deliver(evt)
		}
	}
}

func (h *Hub) deliver(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers {
		select {
		case ch <- evt:
		default:
			h.logger.Warn("subscriber channel full, dropping event", "type", evt.Type)
		}
	}

	if len(h.clients) == 0 {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal event", "error", err)
		return
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("client send buffer full, dropping client")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Subscribe returns a channel the caller reads events from. Call
// Unsubscribe when done to release it.
func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	h.subscribe <- ch
	return ch
}

// Unsubscribe releases a channel returned by Subscribe.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.unsubscribe <- ch
}

func (h *Hub) emit(evt Event) {
	evt.Timestamp = time.Now()
	select {
	case h.broadcast <- evt:
	default:
		h.logger.Warn("broadcast channel full, dropping event", "type", evt.Type)
	}
}

// PublishMarketUpdate implements core.Broadcaster.
func (h *Hub) PublishMarketUpdate(m *types.Market) {
	h.emit(Event{Type: EventMarketUpdate, MarketID: m.ID, Data: m})
}

// PublishSignatureRequest implements core.Broadcaster.
func (h *Hub) PublishSignatureRequest(marketID string, stateHash [32]byte, deadline int64) {
	h.emit(Event{Type: EventSignatureRequest, MarketID: marketID, Data: map[string]any{
		"state_hash": stateHash,
		"deadline":   deadline,
	}})
}

// PublishSignatureProgress implements core.Broadcaster.
func (h *Hub) PublishSignatureProgress(marketID string, collected, required int) {
	h.emit(Event{Type: EventSignatureProgress, MarketID: marketID, Data: map[string]any{
		"collected": collected,
		"required":  required,
	}})
}

// PublishSignatureRequestCancelled implements core.Broadcaster.
func (h *Hub) PublishSignatureRequestCancelled(marketID, reason string) {
	h.emit(Event{Type: EventSignatureRequestCancelled, MarketID: marketID, Data: map[string]any{
		"reason": reason,
	}})
}
