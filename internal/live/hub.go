// Package live serves the practice loop over a websocket and tracks open
// connections per learner.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

// Hub tracks open practice connections. A learner may have several tabs open.
type Hub struct {
	mu       sync.RWMutex
	active   map[string]map[*websocket.Conn]struct{}
	onChange func(delta int)
}

// NewHub creates an empty hub. onChange, when set, is called with +1 and -1
// as connections open and close.
func NewHub(onChange func(delta int)) *Hub {
	return &Hub{
		active:   make(map[string]map[*websocket.Conn]struct{}),
		onChange: onChange,
	}
}

// Register adds a connection for a learner.
func (h *Hub) Register(learnerID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.active[learnerID]; !ok {
		h.active[learnerID] = make(map[*websocket.Conn]struct{})
	}
	h.active[learnerID][conn] = struct{}{}
	if h.onChange != nil {
		h.onChange(1)
	}
	slog.Info("Practice connection registered", "learner_id", learnerID, "connections", len(h.active[learnerID]))
}

// Unregister removes a connection. Unknown connections are ignored.
func (h *Hub) Unregister(learnerID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.active[learnerID]
	if !ok {
		return
	}
	if _, exists := conns[conn]; !exists {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.active, learnerID)
	}
	if h.onChange != nil {
		h.onChange(-1)
	}
	slog.Info("Practice connection unregistered", "learner_id", learnerID)
}

// Count returns the number of open connections for a learner.
func (h *Hub) Count(learnerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[learnerID])
}

// CloseLearner closes every connection for a learner. Used when the
// retention worker reclaims an idle session.
func (h *Hub) CloseLearner(learnerID string) {
	h.mu.Lock()
	conns := h.active[learnerID]
	delete(h.active, learnerID)
	h.mu.Unlock()

	for conn := range conns {
		_ = conn.Close(websocket.StatusNormalClosure, "session expired")
		if h.onChange != nil {
			h.onChange(-1)
		}
	}
	if len(conns) > 0 {
		slog.Info("Practice connections closed", "learner_id", learnerID, "count", len(conns))
	}
}

// Broadcast sends v as JSON to every connection of a learner. Write errors
// are logged; the reader loop of a broken connection unregisters it.
func (h *Hub) Broadcast(ctx context.Context, learnerID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to encode broadcast", "error", err, "learner_id", learnerID)
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.active[learnerID]))
	for conn := range h.active[learnerID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
			slog.Debug("Broadcast write failed", "error", err, "learner_id", learnerID)
		}
		cancel()
	}
}
