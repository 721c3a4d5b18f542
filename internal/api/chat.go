package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/iteaky/carbot/internal/chat"
	"github.com/iteaky/carbot/internal/identity"
	"github.com/iteaky/carbot/internal/store"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (64KB).
const defaultMaxRequestBodySize = 64 << 10

// ChatRequest is the POST /api/chat body.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the POST /api/chat reply.
type ChatResponse struct {
	Reply        string `json:"reply"`
	PendingField string `json:"pending_field,omitempty"`
}

// ChatHandler serves the HTTP chat endpoint.
type ChatHandler struct {
	turns       *chat.Turns
	rateLimiter *RateLimiter
	maxBodySize int64
}

// ChatHandlerConfig carries the tunables for the chat endpoint.
type ChatHandlerConfig struct {
	RateLimitRequests int
	RateLimitWindow   time.Duration
	MaxBodySize       int64
	HistoryWindow     int
}

// NewChatHandler creates the chat endpoint handler.
func NewChatHandler(bot chat.Replier, repo store.Repository, transcript chat.TranscriptSink, cfg ChatHandlerConfig) *ChatHandler {
	if cfg.RateLimitRequests <= 0 {
		cfg.RateLimitRequests = 10
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxRequestBodySize
	}

	return &ChatHandler{
		turns:       chat.NewTurns(bot, repo, transcript, cfg.HistoryWindow),
		rateLimiter: NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		maxBodySize: cfg.MaxBodySize,
	}
}

// HandleChat handles POST /api/chat requests: one user message in, one bot
// reply out, with history and the pending field persisted between turns.
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	username := identity.UsernameFromContext(r.Context())
	if sessionID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !h.rateLimiter.Allow(sessionID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Message == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	reqID := chiMiddleware.GetReqID(r.Context())
	slog.Info("chat request",
		"session_id", sessionID,
		"message_length", len(req.Message),
	)

	reply, err := h.turns.Run(r.Context(), sessionID, username, req.Message, "chat_http", reqID)
	if err != nil {
		if errors.Is(err, chat.ErrSessionNotFound) {
			Error(w, http.StatusUnauthorized, "session not found")
			return
		}
		slog.Error("chat turn failed", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	JSON(w, http.StatusOK, ChatResponse{Reply: reply.Text, PendingField: reply.PendingField})
}

// RegisterRoutes registers chat routes (requires the identity middleware).
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.HandleChat)
}
