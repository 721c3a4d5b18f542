package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iteaky/carbot/internal/domain"
)

type fakeRepo struct {
	sessions map[string]*domain.Session
	messages map[string][]domain.ChatMessage
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		sessions: make(map[string]*domain.Session),
		messages: make(map[string][]domain.ChatMessage),
	}
}

func (f *fakeRepo) EnsureSession(_ context.Context, sessionID, username string) (*domain.Session, error) {
	if s, ok := f.sessions[sessionID]; ok {
		s.Username = username
		return s, nil
	}
	s := &domain.Session{SessionID: sessionID, Username: username}
	f.sessions[sessionID] = s
	return s, nil
}

func (f *fakeRepo) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	return f.sessions[sessionID], nil
}

func (f *fakeRepo) SetPendingField(_ context.Context, sessionID, field string) error {
	if s, ok := f.sessions[sessionID]; ok {
		s.PendingField = field
	}
	return nil
}

func (f *fakeRepo) AppendMessage(_ context.Context, sessionID string, msg domain.ChatMessage) error {
	f.messages[sessionID] = append(f.messages[sessionID], msg)
	return nil
}

func (f *fakeRepo) RecentMessages(_ context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	msgs := f.messages[sessionID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (f *fakeRepo) CleanupExpiredSessions(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeRepo) Ping(context.Context) error { return nil }
func (f *fakeRepo) Close() error               { return nil }

type fakeReplier struct {
	reply      domain.BotReply
	gotMessage string
	gotPending string
	gotHistory []domain.ChatMessage
}

func (f *fakeReplier) Reply(_ context.Context, _, _, message string,
	recentHistory []domain.ChatMessage, pendingField string) domain.BotReply {
	f.gotMessage = message
	f.gotPending = pendingField
	f.gotHistory = recentHistory
	return f.reply
}

func TestTurnsRunPersistsBothSides(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	if _, err := repo.EnsureSession(context.Background(), "s1", "ivan"); err != nil {
		t.Fatalf("EnsureSession failed: %v", err)
	}
	repo.sessions["s1"].PendingField = "budget"
	repo.messages["s1"] = []domain.ChatMessage{{Author: "bot", Text: "какой бюджет?"}}

	replier := &fakeReplier{reply: domain.BotReply{Text: "Принял.", PendingField: "country"}}
	turns := NewTurns(replier, repo, nil, 10)

	reply, err := turns.Run(context.Background(), "s1", "ivan", "20000 usd", "chat_ws", "")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if reply.Text != "Принял." || reply.PendingField != "country" {
		t.Fatalf("reply = %+v", reply)
	}

	if replier.gotPending != "budget" {
		t.Fatalf("replier got pending = %q, want budget", replier.gotPending)
	}
	// History is the window before this turn's message was appended.
	if len(replier.gotHistory) != 1 {
		t.Fatalf("replier got %d history messages, want 1", len(replier.gotHistory))
	}

	msgs := repo.messages["s1"]
	if len(msgs) != 3 {
		t.Fatalf("stored %d messages, want 3", len(msgs))
	}
	if !msgs[1].FromUser || msgs[1].Author != "ivan" {
		t.Fatalf("user message not persisted: %+v", msgs[1])
	}
	if msgs[2].FromUser || msgs[2].Text != "Принял." {
		t.Fatalf("bot message not persisted: %+v", msgs[2])
	}
	if repo.sessions["s1"].PendingField != "country" {
		t.Fatalf("pending field = %q, want country", repo.sessions["s1"].PendingField)
	}
}

func TestTurnsRunUnknownSession(t *testing.T) {
	t.Parallel()

	turns := NewTurns(&fakeReplier{}, newFakeRepo(), nil, 10)

	_, err := turns.Run(context.Background(), "absent", "ivan", "x", "chat_ws", "")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("error = %v, want ErrSessionNotFound", err)
	}
}

func TestTurnsRunWritesTranscript(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	if _, err := repo.EnsureSession(context.Background(), "s1", "ivan"); err != nil {
		t.Fatalf("EnsureSession failed: %v", err)
	}

	sink := &captureSink{}
	turns := NewTurns(&fakeReplier{reply: domain.BotReply{Text: "ок"}}, repo, sink, 10)

	if _, err := turns.Run(context.Background(), "s1", "ivan", "привет", "chat_http", "req-1"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(sink.events) != 2 {
		t.Fatalf("logged %d events, want 2", len(sink.events))
	}
	if sink.events[0].EventType != "user_message" || sink.events[0].ContentRaw != "привет" {
		t.Fatalf("first event = %+v", sink.events[0])
	}
	if sink.events[1].EventType != "bot_message" || sink.events[1].ContentRaw != "ок" {
		t.Fatalf("second event = %+v", sink.events[1])
	}
}

type captureSink struct {
	events []TranscriptEvent
}

func (c *captureSink) Log(e TranscriptEvent) { c.events = append(c.events, e) }
func (c *captureSink) Close() error          { return nil }
