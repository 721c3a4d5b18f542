package domain

import (
	"time"
)

// ChatMessage is a single entry in a session's message history.
type ChatMessage struct {
	Author   string    `json:"author"`
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
	FromUser bool      `json:"from_user"`
}

// BotAnswer is the structured shape expected from the LLM: a user-facing
// reply plus the facts the model extracted this turn. It is a transient
// bridge between the answer parser and the memory merge step.
type BotAnswer struct {
	Reply  string `json:"reply"`
	Memory Memory `json:"memory"`
}

// BotReply is the outcome of one dialog turn: the text to show the user
// and the fact field the bot is now waiting on ("" when none).
type BotReply struct {
	Text         string
	PendingField string
}
