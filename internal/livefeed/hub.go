// Package livefeed broadcasts decoded secdb quote/trade records to
// WebSocket clients, each subscribed to one (exchange, symbol, instrument)
// stream key.
package livefeed

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"secdb/internal/record"
)

// sendBufferSize is the per-client outbound channel capacity; a client
// slower than this drops messages rather than blocking the broadcaster.
const sendBufferSize = 256

// Hub manages WebSocket clients and fans out published records to the
// clients subscribed to each stream key.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	subs    map[string]map[*Client]bool // stream key -> subscribed clients

	// OnDrop is called (if non-nil) with the stream key every time a
	// client's send buffer was full and a message was dropped.
	OnDrop func(streamKey string)
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		subs:    make(map[string]map[*Client]bool),
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register upgrades conn into a tracked Client subscribed to streamKey and
// starts its read/write pumps.
func (h *Hub) Register(conn *websocket.Conn, streamKey string) *Client {
	c := &Client{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		hub:  h,
		key:  streamKey,
	}

	h.mu.Lock()
	h.clients[c] = true
	if h.subs[streamKey] == nil {
		h.subs[streamKey] = make(map[*Client]bool)
	}
	h.subs[streamKey][c] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[livefeed] client subscribed to %s (%d total)", streamKey, count)

	go c.writePump()
	go c.readPump()
	return c
}

// Remove unsubscribes and forgets c.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	if set, ok := h.subs[c.key]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, c.key)
		}
	}
	h.mu.Unlock()
	close(c.send)
}

type quoteMessage struct {
	Type      string       `json:"type"`
	StreamKey string       `json:"stream"`
	TS        time.Time    `json:"ts"`
	Quote     record.Quote `json:"quote"`
}

type tradeMessage struct {
	Type      string       `json:"type"`
	StreamKey string       `json:"stream"`
	TS        time.Time    `json:"ts"`
	Trade     record.Trade `json:"trade"`
}

// BroadcastQuote fans a decoded quote out to every client subscribed to
// streamKey.
func (h *Hub) BroadcastQuote(streamKey string, ts time.Time, q record.Quote) {
	envelope, err := json.Marshal(quoteMessage{Type: "quote", StreamKey: streamKey, TS: ts, Quote: q})
	if err != nil {
		return
	}
	h.broadcast(streamKey, envelope)
}

// BroadcastTrade fans a decoded trade out to every client subscribed to
// streamKey.
func (h *Hub) BroadcastTrade(streamKey string, ts time.Time, t record.Trade) {
	envelope, err := json.Marshal(tradeMessage{Type: "trade", StreamKey: streamKey, TS: ts, Trade: t})
	if err != nil {
		return
	}
	h.broadcast(streamKey, envelope)
}

func (h *Hub) broadcast(streamKey string, envelope []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.subs[streamKey] {
		select {
		case c.send <- envelope:
		default:
			if h.OnDrop != nil {
				h.OnDrop(streamKey)
			}
		}
	}
}
