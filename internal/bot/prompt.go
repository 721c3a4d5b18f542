package bot

import (
	"encoding/json"
	"fmt"

	"github.com/iteaky/carbot/internal/domain"
)

const promptTemplate = `SYSTEM:
%s

Контекст (READ-ONLY):
memory=%s
missingFields=%s
pendingField=%s
intent=%s
historyWindow=%s

Сообщение пользователя:
%s
`

// historyEntry is the reduced shape history is serialized as: timestamps
// and the user/bot flag are dropped, only author and text go to the model.
type historyEntry struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}

// PromptBuilder assembles the single prompt sent to the model: system
// instructions, a read-only context block, and the literal user message,
// always in that order.
type PromptBuilder struct{}

// NewPromptBuilder creates a builder.
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

// Build renders the prompt. Each context piece serializes independently
// and degrades to a safe placeholder on failure — a malformed context must
// never block sending a prompt.
func (b *PromptBuilder) Build(
	systemPrompt string,
	mem *domain.Memory,
	missingFields []string,
	pendingField string,
	intent string,
	recentHistory []domain.ChatMessage,
	message string,
) string {
	if missingFields == nil {
		missingFields = []string{}
	}
	if pendingField == "" {
		pendingField = "null"
	}

	memoryJSON := marshalOr(mem, "null")
	missingJSON := marshalOr(missingFields, "[]")
	historyJSON := marshalOr(toHistoryPayload(recentHistory), "[]")

	return fmt.Sprintf(promptTemplate,
		systemPrompt, memoryJSON, missingJSON, pendingField, intent, historyJSON, message)
}

func marshalOr(v any, fallback string) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fallback
	}
	return string(data)
}

func toHistoryPayload(recentHistory []domain.ChatMessage) []historyEntry {
	payload := make([]historyEntry, 0, len(recentHistory))
	for _, msg := range recentHistory {
		payload = append(payload, historyEntry{Author: msg.Author, Text: msg.Text})
	}
	return payload
}
