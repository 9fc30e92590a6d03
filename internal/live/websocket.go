package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/viso-labs/internal/api"
	"github.com/ashureev/viso-labs/internal/identity"
	"github.com/ashureev/viso-labs/internal/store"
	"github.com/coder/websocket"
)

// Practice is the part of the practice service the websocket drives.
type Practice interface {
	Current(ctx context.Context, learnerID string) (*api.PracticeView, error)
	Turn(ctx context.Context, learnerID, message string) (*api.TurnView, error)
}

// inbound is a client message: {"type":"turn","content":"..."}, {"type":"state"}
// or {"type":"ping"}.
type inbound struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// outbound is a server message.
type outbound struct {
	Type   string `json:"type"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
	Status int    `json:"status,omitempty"`
}

// Handler upgrades practice websocket requests.
type Handler struct {
	repo          store.Repository
	practice      Practice
	hub           *Hub
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a new websocket handler.
func NewHandler(repo store.Repository, practice Practice, hub *Hub, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		repo:          repo,
		practice:      practice,
		hub:           hub,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for the websocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	learnerID := identity.LearnerIDFromContext(r.Context())
	if learnerID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	slog.Info("Practice websocket request", "learner_id", learnerID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept websocket", "error", err, "learner_id", learnerID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "practice ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "learner_id", learnerID)
		}
	}()

	h.hub.Register(learnerID, ws)
	defer h.hub.Unregister(learnerID, ws)

	ctx := r.Context()
	h.sendState(ctx, ws, learnerID)
	h.readLoop(ctx, ws, learnerID)
	slog.Info("Practice websocket ended", "learner_id", learnerID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("Websocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, learnerID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("Websocket closed by client", "learner_id", learnerID)
			} else {
				slog.Debug("Websocket read ended", "error", err, "learner_id", learnerID)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			h.write(ctx, ws, outbound{Type: "error", Error: "invalid message", Status: http.StatusBadRequest})
			continue
		}

		switch msg.Type {
		case "turn":
			h.handleTurn(ctx, ws, learnerID, msg.Content)
		case "state":
			h.sendState(ctx, ws, learnerID)
		case "ping":
			h.write(ctx, ws, outbound{Type: "pong"})
		default:
			h.write(ctx, ws, outbound{Type: "error", Error: "unknown message type", Status: http.StatusBadRequest})
			continue
		}

		go h.touch(learnerID)
	}
}

func (h *Handler) handleTurn(ctx context.Context, ws *websocket.Conn, learnerID, content string) {
	if content == "" {
		h.write(ctx, ws, outbound{Type: "error", Error: "message is required", Status: http.StatusBadRequest})
		return
	}
	view, err := h.practice.Turn(ctx, learnerID, content)
	if err != nil {
		status := api.StatusFor(err)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			slog.Error("Practice turn failed", "error", err, "learner_id", learnerID)
			msg = "internal error"
		}
		h.write(ctx, ws, outbound{Type: "error", Error: msg, Status: status})
		return
	}
	// Other tabs of the same learner see the turn too.
	h.hub.Broadcast(ctx, learnerID, outbound{Type: "turn", Data: view})
}

func (h *Handler) sendState(ctx context.Context, ws *websocket.Conn, learnerID string) {
	view, err := h.practice.Current(ctx, learnerID)
	if err != nil {
		slog.Error("Failed to load practice state", "error", err, "learner_id", learnerID)
		h.write(ctx, ws, outbound{Type: "error", Error: "internal error", Status: http.StatusInternalServerError})
		return
	}
	h.write(ctx, ws, outbound{Type: "state", Data: view})
}

func (h *Handler) write(ctx context.Context, ws *websocket.Conn, msg outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("Failed to encode websocket message", "error", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := ws.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Debug("Websocket write error", "error", err)
	}
}

// touch updates last seen with its own timeout, detached from the request.
func (h *Handler) touch(learnerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.repo.UpdateLastSeen(ctx, learnerID, time.Now()); err != nil {
		slog.Warn("Failed to update last seen", "error", err, "learner_id", learnerID)
	}
}
