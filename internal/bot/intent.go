package bot

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/iteaky/carbot/internal/memory"
)

// Intent classifies a single user message. It is transient: computed per
// turn and never persisted.
type Intent string

const (
	// IntentProvideInfo means the message supplies a fact the bot asked for.
	IntentProvideInfo Intent = "PROVIDE_INFO"
	// IntentAskClarification means the user asked a question instead of answering.
	IntentAskClarification Intent = "ASK_CLARIFICATION"
	// IntentOther means the message is blank, unrelated, or unclear.
	IntentOther Intent = "OTHER"
)

// countryMaxLen caps how long a message can be and still plausibly name a
// country or city.
const countryMaxLen = 40

var budgetCurrencyTokens = []string{"руб", "usd", "eur"}

// IntentRouter decides what the user's current message is doing. It is a
// priority cascade of heuristics, not a scoring model: the first matching
// rule wins.
type IntentRouter struct {
	clarificationPhrases []string
}

// DefaultClarificationPhrases returns the built-in Russian phrase set that
// marks a message as a clarification question.
func DefaultClarificationPhrases() []string {
	return []string{
		"что лучше",
		"почему",
		"в чем разница",
		"а если",
		"как выбрать",
		"какой лучше",
	}
}

// NewIntentRouter creates a router with the given clarification phrase set.
// An empty set falls back to DefaultClarificationPhrases.
func NewIntentRouter(clarificationPhrases []string) *IntentRouter {
	if len(clarificationPhrases) == 0 {
		clarificationPhrases = DefaultClarificationPhrases()
	}
	return &IntentRouter{clarificationPhrases: clarificationPhrases}
}

// Detect classifies the message. Checks run in priority order: blank,
// clarification question, pending-field plausibility, then the optimistic
// default that any message while facts are missing is informative.
func (r *IntentRouter) Detect(message string, missingFields []string, pendingField string) Intent {
	text := strings.TrimSpace(message)
	if text == "" {
		return IntentOther
	}

	lower := strings.ToLower(text)

	// The question-mark test runs on the original-case text so casing
	// transforms can never mask it.
	if r.looksLikeClarificationQuestion(text, lower) {
		return IntentAskClarification
	}

	if pendingField != "" && looksLikeFieldValue(lower, pendingField) {
		return IntentProvideInfo
	}

	if len(missingFields) > 0 {
		return IntentProvideInfo
	}

	return IntentOther
}

func (r *IntentRouter) looksLikeClarificationQuestion(text, lower string) bool {
	if strings.Contains(text, "?") {
		return true
	}
	for _, phrase := range r.clarificationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// looksLikeFieldValue applies the field-specific plausibility rule for the
// fact the bot is waiting on. Unknown fields default to plausible.
func looksLikeFieldValue(lower, pendingField string) bool {
	switch pendingField {
	case memory.FieldBudget:
		if strings.ContainsFunc(lower, unicode.IsDigit) {
			return true
		}
		for _, token := range budgetCurrencyTokens {
			if strings.Contains(lower, token) {
				return true
			}
		}
		return false
	case memory.FieldCountry:
		return !strings.Contains(lower, "?") && utf8.RuneCountInString(lower) <= countryMaxLen
	case memory.FieldPurpose, memory.FieldBodyType:
		return !strings.Contains(lower, "?")
	default:
		return true
	}
}
