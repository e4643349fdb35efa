package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // admin surface, expected behind its own auth layer
	},
}

// DecisionEvent is streamed to websocket clients for every guarded check.
type DecisionEvent struct {
	Time      time.Time `json:"time"`
	Category  string    `json:"category"`
	Key       string    `json:"key"`
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
}

// Hub tracks websocket clients and fans decision events out to them.
type Hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]bool
}

// NewHub creates a websocket hub. The logger may be nil.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
	}
}

// HandleWebSocket upgrades the connection and registers the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	// Read loop: drains control frames and notices disconnects.
	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends ev to every connected client. Best effort: write failures
// close the connection and the read loop deregisters it.
func (h *Hub) Broadcast(ev DecisionEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("encoding decision event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("websocket write failed", zap.Error(err))
			conn.Close()
			// The read goroutine removes it; don't mutate the map mid-iteration.
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
