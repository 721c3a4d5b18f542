package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/iteaky/carbot/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()

	repo, err := NewSQLite(filepath.Join(t.TempDir(), "carbot.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return repo
}

func TestEnsureSessionCreatesAndRefreshes(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	created, err := repo.EnsureSession(ctx, "s1", "ivan")
	if err != nil {
		t.Fatalf("EnsureSession failed: %v", err)
	}
	if created == nil || created.SessionID != "s1" || created.Username != "ivan" {
		t.Fatalf("created session = %+v", created)
	}
	if created.PendingField != "" {
		t.Fatalf("new session pending field = %q, want empty", created.PendingField)
	}

	if err := repo.SetPendingField(ctx, "s1", "budget"); err != nil {
		t.Fatalf("SetPendingField failed: %v", err)
	}

	// A second ensure renames the user but must not reset the dialog position.
	refreshed, err := repo.EnsureSession(ctx, "s1", "ivan-2")
	if err != nil {
		t.Fatalf("EnsureSession (refresh) failed: %v", err)
	}
	if refreshed.Username != "ivan-2" {
		t.Fatalf("username = %q, want %q", refreshed.Username, "ivan-2")
	}
	if refreshed.PendingField != "budget" {
		t.Fatalf("pending field = %q, want %q", refreshed.PendingField, "budget")
	}
	if !refreshed.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("created_at changed on refresh: %v -> %v", created.CreatedAt, refreshed.CreatedAt)
	}
}

func TestGetSessionMissingReturnsNil(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)

	session, err := repo.GetSession(context.Background(), "absent")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session != nil {
		t.Fatalf("session = %+v, want nil", session)
	}
}

func TestRecentMessagesChronologicalWindow(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	if _, err := repo.EnsureSession(ctx, "s1", "ivan"); err != nil {
		t.Fatalf("EnsureSession failed: %v", err)
	}

	texts := []string{"первое", "второе", "третье", "четвертое"}
	for i, text := range texts {
		msg := domain.ChatMessage{
			Author:   "ivan",
			Text:     text,
			At:       time.Unix(int64(1700000000+i), 0),
			FromUser: true,
		}
		if err := repo.AppendMessage(ctx, "s1", msg); err != nil {
			t.Fatalf("AppendMessage(%q) failed: %v", text, err)
		}
	}

	got, err := repo.RecentMessages(ctx, "s1", 3)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	for i, want := range []string{"второе", "третье", "четвертое"} {
		if got[i].Text != want {
			t.Fatalf("message[%d] = %q, want %q", i, got[i].Text, want)
		}
	}
	if !got[0].FromUser {
		t.Fatalf("from_user flag lost on round trip")
	}
	if !got[0].At.Equal(time.Unix(1700000001, 0)) {
		t.Fatalf("timestamp = %v", got[0].At)
	}
}

func TestRecentMessagesIsolatesSessions(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2"} {
		if _, err := repo.EnsureSession(ctx, id, "u-"+id); err != nil {
			t.Fatalf("EnsureSession(%s) failed: %v", id, err)
		}
		msg := domain.ChatMessage{Author: id, Text: "для " + id, At: time.Now(), FromUser: true}
		if err := repo.AppendMessage(ctx, id, msg); err != nil {
			t.Fatalf("AppendMessage(%s) failed: %v", id, err)
		}
	}

	got, err := repo.RecentMessages(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(got) != 1 || got[0].Text != "для s1" {
		t.Fatalf("messages = %+v, want only s1's message", got)
	}
}

func TestRecentMessagesZeroLimit(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)

	got, err := repo.RecentMessages(context.Background(), "s1", 0)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d messages, want 0", len(got))
	}
}

func TestCleanupExpiredSessionsRemovesSessionAndHistory(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	if _, err := repo.EnsureSession(ctx, "stale", "ivan"); err != nil {
		t.Fatalf("EnsureSession failed: %v", err)
	}
	msg := domain.ChatMessage{Author: "ivan", Text: "x", At: time.Now(), FromUser: true}
	if err := repo.AppendMessage(ctx, "stale", msg); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	// A negative TTL puts the threshold in the future, so every existing
	// session counts as expired without sleeping in the test.
	removed, err := repo.CleanupExpiredSessions(ctx, -time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	session, err := repo.GetSession(ctx, "stale")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session != nil {
		t.Fatalf("session survived cleanup: %+v", session)
	}

	history, err := repo.RecentMessages(ctx, "stale", 10)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("history survived cleanup: %+v", history)
	}
}

func TestCleanupKeepsFreshSessions(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	if _, err := repo.EnsureSession(ctx, "fresh", "ivan"); err != nil {
		t.Fatalf("EnsureSession failed: %v", err)
	}

	removed, err := repo.CleanupExpiredSessions(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions failed: %v", err)
	}
	if removed != 0 {
		t.Fatalf("removed = %d, want 0", removed)
	}

	session, err := repo.GetSession(ctx, "fresh")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session == nil {
		t.Fatalf("fresh session was removed")
	}
}
