package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/iteaky/carbot/internal/identity"
	"github.com/iteaky/carbot/internal/memory"
)

const greetingTemplate = "Привет, %s! Помогу купить авто. Скажи бюджет и город/страну покупки."

// greetingPendingField is the fact the bot asks about first.
const greetingPendingField = memory.FieldBudget

// wsMessage represents the client-to-server WebSocket message structure.
type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// wsReply represents the server-to-client WebSocket message structure.
type wsReply struct {
	Type         string `json:"type"`
	Content      string `json:"content,omitempty"`
	PendingField string `json:"pending_field,omitempty"`
}

// WebSocketHandler handles WebSocket-based chat sessions.
type WebSocketHandler struct {
	turns         *Turns
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket chat handler.
func NewWebSocketHandler(turns *Turns, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		turns:         turns,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade. A fresh session
// gets a greeting and the opening budget question before any user input.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	username := identity.UsernameFromContext(r.Context())
	slog.Info("WebSocket connection request", "session_id", sessionID, "ip", r.RemoteAddr)

	if sessionID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := h.greetIfFresh(ctx, ws, sessionID, username); err != nil {
		slog.Warn("Failed to send greeting", "error", err, "session_id", sessionID)
		return
	}

	h.readLoop(ctx, ws, sessionID, username)
	slog.Info("Chat session ended", "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// greetIfFresh opens the dialog on sessions with no history yet.
func (h *WebSocketHandler) greetIfFresh(ctx context.Context, ws *websocket.Conn, sessionID, username string) error {
	history, err := h.turns.History(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if len(history) > 0 {
		return nil
	}

	greeting := fmt.Sprintf(greetingTemplate, username)
	if err := h.turns.AppendBotMessage(ctx, sessionID, greeting); err != nil {
		slog.Warn("Failed to persist greeting", "error", err, "session_id", sessionID)
	}
	if err := h.turns.SetPendingField(ctx, sessionID, greetingPendingField); err != nil {
		slog.Warn("Failed to set opening pending field", "error", err, "session_id", sessionID)
	}

	return h.writeJSON(ws, wsReply{
		Type:         "reply",
		Content:      greeting,
		PendingField: greetingPendingField,
	})
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, sessionID, username string) {
	slog.Debug("Starting chat read loop", "session_id", sessionID)
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			} else if !errors.Is(err, context.Canceled) {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			// Fallback: treat the raw frame as the message text.
			msg = wsMessage{Type: "message", Content: string(message)}
		}

		switch msg.Type {
		case "message":
			if msg.Content == "" {
				if err := h.writeJSON(ws, wsReply{Type: "error", Content: "message is required"}); err != nil {
					slog.Debug("Failed to send validation error", "error", err)
					return
				}
				continue
			}

			reply, err := h.turns.Run(ctx, sessionID, username, msg.Content, "chat_ws", "")
			if err != nil {
				slog.Error("Chat turn failed", "error", err, "session_id", sessionID)
				if writeErr := h.writeJSON(ws, wsReply{Type: "error", Content: "internal error"}); writeErr != nil {
					slog.Debug("Failed to send turn error", "error", writeErr)
				}
				return
			}

			if err := h.writeJSON(ws, wsReply{
				Type:         "reply",
				Content:      reply.Text,
				PendingField: reply.PendingField,
			}); err != nil {
				slog.Debug("Failed to send reply", "error", err, "session_id", sessionID)
				return
			}
		case "ping":
			if err := h.writeJSON(ws, wsReply{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
				return
			}
		default:
			slog.Debug("Ignoring unknown message type", "type", msg.Type, "session_id", sessionID)
		}
	}
}

func (h *WebSocketHandler) writeJSON(ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(context.Background(), websocket.MessageText, data)
}
