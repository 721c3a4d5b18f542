package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/iteaky/carbot/internal/domain"
	"github.com/iteaky/carbot/internal/store"
)

// ErrSessionNotFound is returned when a turn arrives for a session the
// identity middleware never established.
var ErrSessionNotFound = errors.New("chat session not found")

const botAuthor = "bot"

// Replier runs one dialog turn. Implemented by bot.Service.
type Replier interface {
	Reply(ctx context.Context, sessionID, username, message string,
		recentHistory []domain.ChatMessage, pendingField string) domain.BotReply
}

// Turns runs persisted dialog turns: it loads the session's position and
// history, invokes the bot, and writes both sides of the exchange back.
// Both the HTTP endpoint and the websocket transport go through it.
type Turns struct {
	bot           Replier
	repo          store.Repository
	transcript    TranscriptSink
	historyWindow int
}

// NewTurns creates the shared turn runner.
func NewTurns(bot Replier, repo store.Repository, transcript TranscriptSink, historyWindow int) *Turns {
	if transcript == nil {
		transcript = NopTranscript{}
	}
	if historyWindow <= 0 {
		historyWindow = 10
	}
	return &Turns{bot: bot, repo: repo, transcript: transcript, historyWindow: historyWindow}
}

// Run executes one turn for the session. Persistence failures after the bot
// produced a reply are logged, not returned: the user still gets the answer.
func (t *Turns) Run(ctx context.Context, sessionID, username, message, channel, requestID string) (domain.BotReply, error) {
	session, err := t.repo.GetSession(ctx, sessionID)
	if err != nil {
		return domain.BotReply{}, err
	}
	if session == nil {
		return domain.BotReply{}, ErrSessionNotFound
	}

	history, err := t.repo.RecentMessages(ctx, sessionID, t.historyWindow)
	if err != nil {
		slog.Warn("failed to load chat history", "session_id", sessionID, "error", err)
	}

	t.transcript.Log(TranscriptEvent{
		Username:   username,
		SessionID:  sessionID,
		Channel:    channel,
		Direction:  "outbound",
		EventType:  "user_message",
		ContentRaw: message,
		Meta:       map[string]any{"request_id": requestID},
	})

	userMsg := domain.ChatMessage{Author: username, Text: message, At: time.Now(), FromUser: true}
	if err := t.repo.AppendMessage(ctx, sessionID, userMsg); err != nil {
		slog.Warn("failed to persist user message", "session_id", sessionID, "error", err)
	}

	reply := t.bot.Reply(ctx, sessionID, username, message, history, session.PendingField)

	botMsg := domain.ChatMessage{Author: botAuthor, Text: reply.Text, At: time.Now(), FromUser: false}
	if err := t.repo.AppendMessage(ctx, sessionID, botMsg); err != nil {
		slog.Warn("failed to persist bot message", "session_id", sessionID, "error", err)
	}
	if err := t.repo.SetPendingField(ctx, sessionID, reply.PendingField); err != nil {
		slog.Warn("failed to persist pending field", "session_id", sessionID, "error", err)
	}

	t.transcript.Log(TranscriptEvent{
		Username:   username,
		SessionID:  sessionID,
		Channel:    channel,
		Direction:  "inbound",
		EventType:  "bot_message",
		ContentRaw: reply.Text,
		Meta: map[string]any{
			"request_id":    requestID,
			"pending_field": reply.PendingField,
		},
	})

	return reply, nil
}

// History returns the session's recent messages, oldest first.
func (t *Turns) History(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	return t.repo.RecentMessages(ctx, sessionID, t.historyWindow)
}

// SetPendingField records the fact field the bot is waiting on.
func (t *Turns) SetPendingField(ctx context.Context, sessionID, field string) error {
	return t.repo.SetPendingField(ctx, sessionID, field)
}

// AppendBotMessage persists a bot-initiated message, such as the greeting.
func (t *Turns) AppendBotMessage(ctx context.Context, sessionID, text string) error {
	msg := domain.ChatMessage{Author: botAuthor, Text: text, At: time.Now(), FromUser: false}
	return t.repo.AppendMessage(ctx, sessionID, msg)
}
