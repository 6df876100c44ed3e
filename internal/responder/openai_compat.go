package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Backend — один шаг диалога с моделью: сообщения и доступные инструменты на вход,
// ответ ассистента (текст или вызовы инструментов) на выход.
type Backend interface {
	Complete(ctx context.Context, messages []ChatMessage, tools []Tool) (ChatMessage, error)
}

type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// OpenAICompat вызывает любой OpenAI-совместимый /chat/completions:
// OpenAI, OpenAI-совместимый endpoint Gemini, vLLM, LiteLLM и т.п.
// baseURL включает префикс версии, например "https://api.openai.com/v1".
type OpenAICompat struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewOpenAICompat(baseURL, apiKey, model string) *OpenAICompat {
	return &OpenAICompat{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		model:   strings.TrimSpace(model),
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Tools       []Tool        `json:"tools,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (g *OpenAICompat) Complete(ctx context.Context, messages []ChatMessage, tools []Tool) (ChatMessage, error) {
	if g.model == "" {
		return ChatMessage{}, fmt.Errorf("openai-compat: model required")
	}
	body, err := json.Marshal(chatRequest{Model: g.model, Messages: messages, Tools: tools})
	if err != nil {
		return ChatMessage{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ChatMessage{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("openai-compat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return ChatMessage{}, fmt.Errorf("openai-compat api error: %s", errResp.Error.Message)
		}
		return ChatMessage{}, fmt.Errorf("openai-compat api error: %s", resp.Status)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ChatMessage{}, fmt.Errorf("openai-compat decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return ChatMessage{}, fmt.Errorf("empty response from openai-compat api")
	}
	return out.Choices[0].Message, nil
}
