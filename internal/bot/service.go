package bot

import (
	"context"
	"errors"
	"log/slog"

	"github.com/iteaky/carbot/internal/domain"
	"github.com/iteaky/carbot/internal/llm"
	"github.com/iteaky/carbot/internal/memory"
)

// SystemPrompt instructs the model to act as a car-purchase consultant and
// to answer with a single JSON object.
const SystemPrompt = `Ты автомобильный консультант по ПОКУПКЕ авто. Возвращай ТОЛЬКО один JSON-объект.

ЗАДАЧА:
- Веди разговор проактивно: сам направляй пользователя к покупке.
- Память обязательна: используй memory как источник истины.
- Не усложняй: задавай короткие, понятные вопросы.

 ПРАВИЛА:
 0) Всегда отвечай в поле reply.
 0.1) Выводи только JSON-объект, без markdown, без ` + "```json" + ` и без пояснений вне JSON.
 1) Если поле в memory уже заполнено — НЕ переспрашивай.
2) Не сбрасывай заполненные поля в null. Если не уверен — оставь как есть.
3) missingFields — список полей, которые нужно добрать. Если missingFields НЕ пуст:
   - задай ОДИН вопрос только про ПЕРВОЕ поле из missingFields.
4) Если missingFields пуст:
   - предложи 2-3 конкретные модели авто под параметры и кратко объясни почему.
 5) summary — коротко (1-2 строки) факты.
 6) Если intent=ASK_CLARIFICATION_AND_RETURN_TO_FIELD и missingFields НЕ пуст:
    - сначала ответь кратко на вопрос пользователя (1-2 предложения),
    - затем задай один вопрос только про pendingField,
    - memory не меняй по смыслу.

 ФОРМАТ (строго JSON):
{
  "reply": "string",
  "memory": {
    "budget": string|null,
    "country": string|null,
    "purpose": string|null,
    "body_type": string|null,
    "summary": string
  }
}
`

// Canned user-facing messages. Every failure inside a turn maps onto one of
// these; the conversation always resumes where it left off.
const (
	busyMessage    = "Сейчас сервис занят. Попробуйте через минуту."
	invalidMessage = "Не удалось обработать запрос. Переформулируйте сообщение."
	errorMessage   = "Сервис временно недоступен. Попробуйте позже."
	unheardMessage = "Не расслышал, повторите."
)

// flowIntentClarifyAndReturn tells the model to answer the user's question
// and then return to the field the bot is waiting on.
const flowIntentClarifyAndReturn = "ASK_CLARIFICATION_AND_RETURN_TO_FIELD"

// fieldQuestions maps each fact field to its canned question, used when the
// router is confident the user did not address the outstanding question and
// the model call can be skipped entirely.
var fieldQuestions = map[string]string{
	memory.FieldBudget:   "Чтобы подобрать варианты, подскажите ваш бюджет?",
	memory.FieldCountry:  "В какой стране или городе планируете покупать авто?",
	memory.FieldPurpose:  "Для каких задач нужен автомобиль: город, трасса, семья, работа?",
	memory.FieldBodyType: "Какой тип кузова рассматриваете: седан, кроссовер, универсал?",
}

const genericFieldQuestion = "Уточните, пожалуйста, недостающие параметры для подбора."

// Service is the turn controller: it composes the intent router, prompt
// builder, model client, answer parser, and fact store into one reply per
// incoming message. The service itself is stateless between turns — all
// state lives in the fact store and the caller-supplied history.
type Service struct {
	llm      llm.Client
	parser   *AnswerParser
	router   *IntentRouter
	prompts  *PromptBuilder
	memories memory.Store
	logger   *slog.Logger
}

// NewService creates the dialog service.
func NewService(client llm.Client, memories memory.Store, router *IntentRouter, logger *slog.Logger) *Service {
	if router == nil {
		router = NewIntentRouter(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		llm:      client,
		parser:   NewAnswerParser(),
		router:   router,
		prompts:  NewPromptBuilder(),
		memories: memories,
		logger:   logger,
	}
}

// Reply runs one dialog turn. It never returns an error: every failure is
// mapped onto a canned reply, with the pending field left unchanged so the
// conversation can pick up where it stopped.
func (s *Service) Reply(
	ctx context.Context,
	sessionID string,
	username string,
	message string,
	recentHistory []domain.ChatMessage,
	pendingField string,
) domain.BotReply {
	s.logger.Debug("processing message", "user", username, "session_id", sessionID)

	current := s.memories.Get(sessionID)

	missingFields := memory.MissingFields(current)
	expectedField := ""
	if len(missingFields) > 0 {
		expectedField = missingFields[0]
	}

	intent := s.router.Detect(message, missingFields, pendingField)

	// The router is confident the user did not address the outstanding
	// question: skip the model call and re-ask directly.
	if expectedField != "" && intent == IntentOther {
		return domain.BotReply{Text: fieldQuestion(expectedField), PendingField: expectedField}
	}

	flowIntent := string(intent)
	if expectedField != "" && intent == IntentAskClarification {
		flowIntent = flowIntentClarifyAndReturn
	}

	prompt := s.prompts.Build(SystemPrompt, current, missingFields, expectedField, flowIntent, recentHistory, message)

	resp, err := s.llm.Generate(ctx, llm.GenerateRequest{
		Prompt:   prompt,
		ChatMode: llm.ChatModeIncognito,
	})
	if err != nil {
		switch {
		case errors.Is(err, llm.ErrBusy):
			s.logger.Warn("llm busy", "session_id", sessionID, "error", err)
			return domain.BotReply{Text: busyMessage, PendingField: expectedField}
		case errors.Is(err, llm.ErrInvalidRequest):
			s.logger.Warn("llm invalid request", "session_id", sessionID, "error", err)
			return domain.BotReply{Text: invalidMessage, PendingField: expectedField}
		default:
			s.logger.Error("llm error", "session_id", sessionID, "error", err)
			return domain.BotReply{Text: errorMessage, PendingField: expectedField}
		}
	}

	if !resp.Usable() {
		return domain.BotReply{Text: unheardMessage, PendingField: expectedField}
	}

	answer, err := s.parser.Parse(*resp.Text)
	if err != nil {
		s.logger.Warn("parse error", "session_id", sessionID, "error", err)
		return domain.BotReply{Text: unheardMessage, PendingField: expectedField}
	}

	// A clarification turn answers the question but must not touch facts.
	if expectedField != "" && intent == IntentAskClarification {
		return domain.BotReply{Text: answer.Reply, PendingField: expectedField}
	}

	merged := memory.Merge(current, &answer.Memory)
	s.memories.Put(sessionID, merged)

	nextMissing := memory.MissingFields(&merged)
	nextPending := ""
	if len(nextMissing) > 0 {
		nextPending = nextMissing[0]
	}

	s.logger.Info("turn complete",
		"session_id", sessionID,
		"next_pending", nextPending,
		"reply_length", len(answer.Reply),
	)

	return domain.BotReply{Text: answer.Reply, PendingField: nextPending}
}

func fieldQuestion(field string) string {
	if q, ok := fieldQuestions[field]; ok {
		return q
	}
	return genericFieldQuestion
}
