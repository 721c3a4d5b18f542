package domain

import (
	"time"
)

// Session represents a chat session and its current dialog position.
// PendingField names the fact the bot most recently asked about ("" when
// the bot is not waiting on anything).
type Session struct {
	SessionID    string
	Username     string
	PendingField string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
