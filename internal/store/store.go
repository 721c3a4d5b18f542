// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/iteaky/carbot/internal/domain"
)

// Repository defines the interface for persisting sessions and chat history.
type Repository interface {
	// EnsureSession creates the session if it does not exist, refreshes
	// username and updated_at if it does, and returns the current record.
	EnsureSession(ctx context.Context, sessionID, username string) (*domain.Session, error)

	// GetSession retrieves a session by ID. Returns nil without error when
	// the session does not exist.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// SetPendingField records the fact field the bot is waiting on
	// ("" when the bot is not waiting on anything).
	SetPendingField(ctx context.Context, sessionID, field string) error

	// AppendMessage appends one message to the session's history.
	AppendMessage(ctx context.Context, sessionID string, msg domain.ChatMessage) error

	// RecentMessages returns up to limit most recent messages for the
	// session, in chronological order.
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error)

	// CleanupExpiredSessions removes sessions (and their messages) idle
	// longer than TTL. Returns the number of sessions removed.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
