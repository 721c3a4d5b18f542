package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/iteaky/carbot/internal/domain"
	"github.com/iteaky/carbot/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	sessionMu sync.Mutex // Mutex for session write operations to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		pending_field TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		author TEXT NOT NULL,
		text TEXT NOT NULL,
		from_user INTEGER NOT NULL,
		at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSession creates or refreshes a session and returns the current record.
func (s *SQLiteStore) EnsureSession(ctx context.Context, sessionID, username string) (*domain.Session, error) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	now := time.Now().Unix()
	query := `
	INSERT INTO sessions (session_id, username, pending_field, created_at, updated_at)
	VALUES (?, ?, '', ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		username = excluded.username,
		updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, sessionID, username, now, now); err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}

	return s.getSessionLocked(ctx, sessionID)
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.getSessionLocked(ctx, sessionID)
}

func (s *SQLiteStore) getSessionLocked(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
		SELECT session_id, username, pending_field, created_at, updated_at
		FROM sessions WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var session domain.Session
	var createdAt, updatedAt int64

	err := row.Scan(
		&session.SessionID, &session.Username, &session.PendingField,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)

	return &session, nil
}

// SetPendingField records the fact field the bot is waiting on.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY
// errors, since this runs on every dialog turn.
func (s *SQLiteStore) SetPendingField(ctx context.Context, sessionID, field string) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.setPendingFieldOnce(ctx, sessionID, field)
		if err == nil {
			return nil
		}

		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // exponential backoff: 100ms, 200ms, 400ms
			slog.Debug("SetPendingField hit a busy database, retrying",
				"session_id", sessionID,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}

		return fmt.Errorf("set pending field for %s: %w", sessionID, err)
	}

	return nil
}

func (s *SQLiteStore) setPendingFieldOnce(ctx context.Context, sessionID, field string) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	query := `UPDATE sessions SET pending_field = ?, updated_at = ? WHERE session_id = ?`
	result, err := s.db.ExecContext(ctx, query, field, time.Now().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("update pending_field: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("SetPendingField affected 0 rows", "session_id", sessionID)
	}

	return nil
}

// AppendMessage appends one message to the session's history.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg domain.ChatMessage) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	query := `INSERT INTO messages (session_id, author, text, from_user, at) VALUES (?, ?, ?, ?, ?)`

	fromUser := 0
	if msg.FromUser {
		fromUser = 1
	}

	_, err := s.db.ExecContext(ctx, query, sessionID, msg.Author, msg.Text, fromUser, msg.At.Unix())
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit most recent messages, oldest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT author, text, from_user, at
		FROM messages WHERE session_id = ?
		ORDER BY id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close recent messages rows", "error", closeErr)
		}
	}()

	var messages []domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		var fromUser int
		var at int64

		if err := rows.Scan(&msg.Author, &msg.Text, &fromUser, &at); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}

		msg.FromUser = fromUser != 0
		msg.At = time.Unix(at, 0)
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent messages: %w", err)
	}

	// The query walks newest-first; flip back to chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// CleanupExpiredSessions removes sessions (and their messages) idle longer than TTL.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	threshold := time.Now().Add(-ttl).Unix()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id IN (SELECT session_id FROM sessions WHERE updated_at < ?)`,
		threshold,
	); err != nil {
		return 0, fmt.Errorf("cleanup expired messages: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
