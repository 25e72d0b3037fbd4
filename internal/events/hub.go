package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	historyLimit = 50
	writeTimeout = 2 * time.Second
	// sendBuffer holds a full history replay plus headroom for live events.
	sendBuffer = historyLimit + 16
)

// client is one subscriber. Only its write loop touches ws for writing;
// the hub hands it frames through send.
type client struct {
	ws   *websocket.Conn
	send chan []byte
}

type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	history []RunEvent
	logger  *zap.Logger
}

type Stats struct {
	Clients int `json:"clients"`
	Events  int `json:"events"`
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger,
	}
}

// join subscribes ws with the recent history already queued for replay.
// Queueing happens under the hub lock so replay and live events never
// interleave out of order.
func (h *Hub) join(ws *websocket.Conn) *client {
	c := &client{ws: ws, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ev := range h.history {
		if b, err := json.Marshal(ev); err == nil {
			c.send <- b
		}
	}
	h.clients[c] = struct{}{}
	return c
}

// leave unsubscribes c; its write loop then drains and exits.
func (h *Hub) leave(c *client) {
	h.mu.Lock()
	h.dropLocked(c)
	h.mu.Unlock()
	_ = c.ws.Close()
}

func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Publish appends ev to the history and queues it for every subscriber.
// It never blocks on a socket: a subscriber whose queue is full is
// dropped. A nil hub is a no-op.
func (h *Hub) Publish(ev RunEvent) {
	if h == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("encode run event", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.history = append(h.history, ev)
	if len(h.history) > historyLimit {
		h.history = h.history[len(h.history)-historyLimit:]
	}

	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			h.logger.Warn("run feed subscriber too slow, dropping it")
			h.dropLocked(c)
		}
	}
}

func (h *Hub) History() []RunEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]RunEvent(nil), h.history...)
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{Clients: len(h.clients), Events: len(h.history)}
}

// writeLoop sends queued frames until the hub closes send.
func (c *client) writeLoop() {
	defer c.ws.Close()
	for b := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
			// the read side sees the closed socket and calls leave
			_ = c.ws.Close()
		}
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
