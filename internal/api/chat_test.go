package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/iteaky/carbot/internal/domain"
	"github.com/iteaky/carbot/internal/identity"
)

// fakeRepo is an in-memory store.Repository for handler tests.
type fakeRepo struct {
	pingErr  error
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
	s := &domain.Session{SessionID: sessionID, Username: username, CreatedAt: time.Now(), UpdatedAt: time.Now()}
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

func (f *fakeRepo) Ping(context.Context) error { return f.pingErr }
func (f *fakeRepo) Close() error               { return nil }

// fakeReplier returns a scripted reply and records what it was called with.
type fakeReplier struct {
	reply        domain.BotReply
	gotMessage   string
	gotPending   string
	gotHistory   []domain.ChatMessage
	gotSessionID string
}

func (f *fakeReplier) Reply(_ context.Context, sessionID, _, message string,
	recentHistory []domain.ChatMessage, pendingField string) domain.BotReply {
	f.gotSessionID = sessionID
	f.gotMessage = message
	f.gotPending = pendingField
	f.gotHistory = recentHistory
	return f.reply
}

func chatRequest(t *testing.T, body string, withIdentity bool) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	if withIdentity {
		r = r.WithContext(identity.WithIdentity(r.Context(), "sess-1", "ivan"))
	}
	return r
}

func TestHandleChatHappyPath(t *testing.T) {
	repo := newFakeRepo()
	if _, err := repo.EnsureSession(context.Background(), "sess-1", "ivan"); err != nil {
		t.Fatalf("EnsureSession failed: %v", err)
	}
	repo.sessions["sess-1"].PendingField = "budget"
	repo.messages["sess-1"] = []domain.ChatMessage{
		{Author: "bot", Text: "какой бюджет?", At: time.Now()},
	}

	replier := &fakeReplier{reply: domain.BotReply{Text: "Принял.", PendingField: "country"}}
	h := NewChatHandler(replier, repo, nil, ChatHandlerConfig{})

	w := httptest.NewRecorder()
	h.HandleChat(w, chatRequest(t, `{"message": "20000 usd"}`, true))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp ChatResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Reply != "Принял." || resp.PendingField != "country" {
		t.Fatalf("response = %+v", resp)
	}

	if replier.gotMessage != "20000 usd" || replier.gotPending != "budget" {
		t.Fatalf("replier got message=%q pending=%q", replier.gotMessage, replier.gotPending)
	}
	if len(replier.gotHistory) != 1 {
		t.Fatalf("replier got %d history messages, want 1 (history loaded before the new message)", len(replier.gotHistory))
	}

	if repo.sessions["sess-1"].PendingField != "country" {
		t.Fatalf("pending field = %q, want country", repo.sessions["sess-1"].PendingField)
	}
	msgs := repo.messages["sess-1"]
	if len(msgs) != 3 {
		t.Fatalf("stored %d messages, want 3", len(msgs))
	}
	if !msgs[1].FromUser || msgs[1].Text != "20000 usd" {
		t.Fatalf("user message not persisted: %+v", msgs[1])
	}
	if msgs[2].FromUser || msgs[2].Text != "Принял." {
		t.Fatalf("bot message not persisted: %+v", msgs[2])
	}
}

func TestHandleChatRejectsMissingIdentity(t *testing.T) {
	h := NewChatHandler(&fakeReplier{}, newFakeRepo(), nil, ChatHandlerConfig{})

	w := httptest.NewRecorder()
	h.HandleChat(w, chatRequest(t, `{"message": "x"}`, false))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestHandleChatRejectsUnknownSession(t *testing.T) {
	h := NewChatHandler(&fakeReplier{}, newFakeRepo(), nil, ChatHandlerConfig{})

	w := httptest.NewRecorder()
	h.HandleChat(w, chatRequest(t, `{"message": "x"}`, true))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestHandleChatValidation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"empty message", `{"message": ""}`, http.StatusBadRequest},
		{"not json", `bogus`, http.StatusBadRequest},
		{"oversized body", `{"message": "` + strings.Repeat("а", 200) + `"}`, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			if _, err := repo.EnsureSession(context.Background(), "sess-1", "ivan"); err != nil {
				t.Fatalf("EnsureSession failed: %v", err)
			}
			h := NewChatHandler(&fakeReplier{}, repo, nil, ChatHandlerConfig{MaxBodySize: 128})

			w := httptest.NewRecorder()
			h.HandleChat(w, chatRequest(t, tt.body, true))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandleChatRateLimit(t *testing.T) {
	repo := newFakeRepo()
	if _, err := repo.EnsureSession(context.Background(), "sess-1", "ivan"); err != nil {
		t.Fatalf("EnsureSession failed: %v", err)
	}
	replier := &fakeReplier{reply: domain.BotReply{Text: "ок"}}
	h := NewChatHandler(replier, repo, nil, ChatHandlerConfig{RateLimitRequests: 1, RateLimitWindow: time.Minute})

	w := httptest.NewRecorder()
	h.HandleChat(w, chatRequest(t, `{"message": "x"}`, true))
	if w.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	h.HandleChat(w, chatRequest(t, `{"message": "x"}`, true))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w.Code)
	}
}
