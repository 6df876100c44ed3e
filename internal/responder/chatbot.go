// Package responder — генератор ответов relay: чат-бот приёмной комиссии поверх
// OpenAI-совместимых моделей с инструментами эскалации и записи на звонок.
package responder

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/relay"
)

const (
	ModelOpenAI = "openai"
	ModelGemini = "gemini"
)

// Models — допустимые значения активной модели.
var Models = []string{ModelOpenAI, ModelGemini}

var (
	ErrUnknownModel  = errors.New("unknown model")
	ErrNotConfigured = errors.New("model is not configured")
)

// ModelStore хранит выбранную модель (storage.StateStore).
type ModelStore interface {
	GetActiveModel(ctx context.Context) (string, error)
	SetActiveModel(ctx context.Context, name string) error
}

// SlotLister — источник свободных слотов (relay.BookingCoordinator).
type SlotLister interface {
	ListAvailable(ctx context.Context) ([]model.BookingSlot, error)
}

type Chatbot struct {
	backends     map[string]Backend
	models       ModelStore
	slots        SlotLister
	systemPrompt string
	defaultModel string
	historyLimit int
}

type Options struct {
	DefaultModel string
	SchoolData   string
	HistoryLimit int
	// Backends по имени модели; ненастроенные модели просто отсутствуют.
	Backends map[string]Backend
}

func NewChatbot(opts Options, models ModelStore, slots SlotLister) *Chatbot {
	if !slices.Contains(Models, opts.DefaultModel) {
		opts.DefaultModel = ModelGemini
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 10
	}
	if opts.Backends == nil {
		opts.Backends = map[string]Backend{}
	}
	return &Chatbot{
		backends:     opts.Backends,
		models:       models,
		slots:        slots,
		systemPrompt: fmt.Sprintf(promptTemplate, opts.SchoolData),
		defaultModel: opts.DefaultModel,
		historyLimit: opts.HistoryLimit,
	}
}

// CurrentModel возвращает активную модель; при ошибке хранилища — модель по умолчанию.
func (c *Chatbot) CurrentModel(ctx context.Context) string {
	name, err := c.models.GetActiveModel(ctx)
	if err != nil {
		logger.Errorf("responder: get active model: %v", err)
		return c.defaultModel
	}
	if !slices.Contains(Models, name) {
		return c.defaultModel
	}
	return name
}

func (c *Chatbot) SetModel(ctx context.Context, name string) error {
	if !slices.Contains(Models, name) {
		return fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	if err := c.models.SetActiveModel(ctx, name); err != nil {
		return fmt.Errorf("responder.SetModel: %w", err)
	}
	logger.Infof("responder: active model switched to %s", name)
	return nil
}

// Configured — есть ли backend у модели name.
func (c *Chatbot) Configured(name string) bool {
	_, ok := c.backends[name]
	return ok
}

// Generate реализует relay.Generator. Модель может вызвать инструменты, после чего
// второй запрос даёт итоговый текст. Бронирование только запрашивается: слот
// закрепляет relay.
func (c *Chatbot) Generate(ctx context.Context, req relay.GenerateRequest) (relay.Decision, error) {
	defer logger.DeferLogDuration("responder.Generate", time.Now())()

	name := c.CurrentModel(ctx)
	backend, ok := c.backends[name]
	if !ok {
		return relay.Decision{}, fmt.Errorf("%s: %w", name, ErrNotConfigured)
	}

	msgs := c.conversation(req)
	first, err := backend.Complete(ctx, msgs, toolset)
	if err != nil {
		return relay.Decision{}, fmt.Errorf("%s: %w", name, err)
	}
	if len(first.ToolCalls) == 0 {
		return relay.Decision{Reply: strings.TrimSpace(first.Content)}, nil
	}

	var dec relay.Decision
	first.Role = "assistant"
	msgs = append(msgs, first)
	for _, call := range first.ToolCalls {
		msgs = append(msgs, ChatMessage{Role: "tool", ToolCallID: call.ID, Content: c.runTool(ctx, call, &dec)})
	}

	final, err := backend.Complete(ctx, msgs, nil)
	if err != nil {
		return relay.Decision{}, fmt.Errorf("%s after tools: %w", name, err)
	}
	dec.Reply = strings.TrimSpace(final.Content)
	return dec, nil
}

func (c *Chatbot) conversation(req relay.GenerateRequest) []ChatMessage {
	history := req.History
	if len(history) > c.historyLimit {
		history = history[len(history)-c.historyLimit:]
	}
	msgs := make([]ChatMessage, 0, len(history)+2)
	msgs = append(msgs, ChatMessage{Role: "system", Content: c.systemPrompt})
	for _, m := range history {
		switch m.Role {
		case model.RoleStudent:
			msgs = append(msgs, ChatMessage{Role: "user", Content: m.Text})
		case model.RoleAI:
			msgs = append(msgs, ChatMessage{Role: "assistant", Content: m.Text})
		case model.RoleOperator:
			msgs = append(msgs, ChatMessage{Role: "assistant", Content: "[advisor] " + m.Text})
		}
	}
	return append(msgs, ChatMessage{Role: "user", Content: req.Message})
}
