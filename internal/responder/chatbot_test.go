package responder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/relay"
	"github.com/chatrelay/internal/storage"
	"github.com/chatrelay/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLLM отвечает по очереди заранее заданными сообщениями и запоминает запросы.
type fakeLLM struct {
	mu       sync.Mutex
	replies  []ChatMessage
	requests []chatRequest
}

func (f *fakeLLM) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		f.mu.Lock()
		f.requests = append(f.requests, req)
		if len(f.replies) == 0 {
			f.mu.Unlock()
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"no more replies"}}`))
			return
		}
		msg := f.replies[0]
		f.replies = f.replies[1:]
		f.mu.Unlock()

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": msg}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeLLM) reqs() []chatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chatRequest(nil), f.requests...)
}

type fixedSlots []model.BookingSlot

func (s fixedSlots) ListAvailable(context.Context) ([]model.BookingSlot, error) { return s, nil }

func toolCall(id, name, args string) ToolCall {
	return ToolCall{ID: id, Type: "function", Function: FunctionCall{Name: name, Arguments: args}}
}

func newBot(t *testing.T, llm *fakeLLM, slots SlotLister) *Chatbot {
	t.Helper()
	srv := llm.server(t)
	return NewChatbot(Options{
		DefaultModel: ModelOpenAI,
		SchoolData:   "Tuition: 1000 per term.",
		Backends:     map[string]Backend{ModelOpenAI: NewOpenAICompat(srv.URL+"/v1", "test-key", "gpt-test")},
	}, memory.New(storage.RateLimit{}), slots)
}

func TestGenerate_PlainReply(t *testing.T) {
	llm := &fakeLLM{replies: []ChatMessage{{Role: "assistant", Content: " Tuition is 1000 per term. "}}}
	bot := newBot(t, llm, fixedSlots(nil))

	dec, err := bot.Generate(context.Background(), relay.GenerateRequest{
		ChatID:  1,
		Message: "How much is tuition?",
		History: []model.Message{
			{Role: model.RoleStudent, Text: "hi"},
			{Role: model.RoleAI, Text: "hello"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, relay.Decision{Reply: "Tuition is 1000 per term."}, dec)

	require.Len(t, llm.reqs(), 1)
	req := llm.reqs()[0]
	assert.Equal(t, "gpt-test", req.Model)
	require.Len(t, req.Messages, 4)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "Tuition: 1000 per term.")
	assert.Equal(t, "user", req.Messages[3].Role)
	assert.Equal(t, "How much is tuition?", req.Messages[3].Content)
	assert.Len(t, req.Tools, 3)
}

func TestGenerate_EscalationTool(t *testing.T) {
	llm := &fakeLLM{replies: []ChatMessage{
		{Role: "assistant", ToolCalls: []ToolCall{toolCall("c1", toolEscalate, `{"reason":"asked for a human"}`)}},
		{Role: "assistant", Content: "An advisor will join shortly."},
	}}
	bot := newBot(t, llm, fixedSlots(nil))

	dec, err := bot.Generate(context.Background(), relay.GenerateRequest{ChatID: 1, Message: "human please"})
	require.NoError(t, err)
	assert.True(t, dec.Escalate)
	assert.Nil(t, dec.BookingSlotID)
	assert.Equal(t, "An advisor will join shortly.", dec.Reply)

	require.Len(t, llm.reqs(), 2)
	second := llm.reqs()[1]
	assert.Empty(t, second.Tools)
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Equal(t, "c1", last.ToolCallID)
}

func TestGenerate_BookByDateAndTime(t *testing.T) {
	day := time.Date(2030, 10, 10, 0, 0, 0, 0, time.UTC)
	slots := fixedSlots{
		{ID: 41, Date: day, Time: "0800"},
		{ID: 42, Date: day, Time: "0900"},
	}
	llm := &fakeLLM{replies: []ChatMessage{
		{Role: "assistant", ToolCalls: []ToolCall{toolCall("c1", toolBookSlot, `{"date":"2030-10-10","time":"9:00"}`)}},
		{Role: "assistant", Content: "You're booked for October 10 at 9:00."},
	}}
	bot := newBot(t, llm, slots)

	dec, err := bot.Generate(context.Background(), relay.GenerateRequest{ChatID: 1, Message: "9am on Oct 10 please"})
	require.NoError(t, err)
	require.NotNil(t, dec.BookingSlotID)
	assert.Equal(t, int64(42), *dec.BookingSlotID)
	assert.False(t, dec.Escalate)
}

func TestGenerate_BookUnknownSlot(t *testing.T) {
	llm := &fakeLLM{replies: []ChatMessage{
		{Role: "assistant", ToolCalls: []ToolCall{toolCall("c1", toolBookSlot, `{"date":"2030-10-10","time":"23:00"}`)}},
		{Role: "assistant", Content: "That time is not available."},
	}}
	bot := newBot(t, llm, fixedSlots(nil))

	dec, err := bot.Generate(context.Background(), relay.GenerateRequest{ChatID: 1, Message: "11pm"})
	require.NoError(t, err)
	assert.Nil(t, dec.BookingSlotID)
	second := llm.reqs()[1]
	assert.Contains(t, second.Messages[len(second.Messages)-1].Content, "no available slot")
}

func TestGenerate_ListSlotsTool(t *testing.T) {
	day := time.Date(2030, 10, 10, 0, 0, 0, 0, time.UTC)
	llm := &fakeLLM{replies: []ChatMessage{
		{Role: "assistant", ToolCalls: []ToolCall{toolCall("c1", toolListSlots, `{}`)}},
		{Role: "assistant", Content: "I have 9:00 on October 10."},
	}}
	bot := newBot(t, llm, fixedSlots{{ID: 42, Date: day, Time: "0900"}})

	_, err := bot.Generate(context.Background(), relay.GenerateRequest{ChatID: 1, Message: "when can we talk?"})
	require.NoError(t, err)
	second := llm.reqs()[1]
	toolMsg := second.Messages[len(second.Messages)-1]
	assert.JSONEq(t, `[{"id":42,"date":"2030-10-10","time":"09:00"}]`, toolMsg.Content)
}

func TestGenerate_UpstreamError(t *testing.T) {
	bot := newBot(t, &fakeLLM{}, fixedSlots(nil))
	_, err := bot.Generate(context.Background(), relay.GenerateRequest{ChatID: 1, Message: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no more replies")
}

func TestGenerate_ModelNotConfigured(t *testing.T) {
	bot := NewChatbot(Options{DefaultModel: ModelGemini}, memory.New(storage.RateLimit{}), fixedSlots(nil))
	_, err := bot.Generate(context.Background(), relay.GenerateRequest{ChatID: 1, Message: "hi"})
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, bot.Configured(ModelGemini))
}

func TestModelSelection(t *testing.T) {
	store := memory.New(storage.RateLimit{})
	bot := NewChatbot(Options{DefaultModel: "unknown"}, store, fixedSlots(nil))
	ctx := context.Background()

	assert.Equal(t, ModelGemini, bot.CurrentModel(ctx))
	require.NoError(t, bot.SetModel(ctx, ModelOpenAI))
	assert.Equal(t, ModelOpenAI, bot.CurrentModel(ctx))

	assert.ErrorIs(t, bot.SetModel(ctx, "llama"), ErrUnknownModel)
	assert.Equal(t, ModelOpenAI, bot.CurrentModel(ctx))

	persisted, err := store.GetActiveModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModelOpenAI, persisted)
}
