package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"ratechat-backend/internal/models"
)

const (
	DefaultChatModel   = "gpt-4o-2024-11-20"
	DefaultTemperature = 0.2
)

// ChatRequest is one model invocation: a prompt and the tools the model may call.
type ChatRequest struct {
	Messages []models.Message
	Tools    []models.ToolDefinition
}

// ChatClient talks to an OpenAI-compatible /chat/completions endpoint.
type ChatClient struct {
	baseClient
	model       string
	temperature float64
}

// NewChatClient creates a chat completions client.
func NewChatClient(cfg Config, model string, temperature float64, opts ...Option) (*ChatClient, error) {
	base, err := newBaseClient(cfg, opts)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultChatModel
	}
	return &ChatClient{baseClient: base, model: model, temperature: temperature}, nil
}

type wireFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireFunctionCall `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireTool struct {
	Type     string          `json:"type"`
	Function wireFunctionDef `json:"function"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Chat sends the prompt and returns the assistant message the model produced.
// Every failure is wrapped with ErrModelInvocation.
func (c *ChatClient) Chat(ctx context.Context, req ChatRequest) (models.Message, error) {
	if len(req.Messages) == 0 {
		return models.Message{}, fmt.Errorf("%w: empty prompt", ErrModelInvocation)
	}

	payload := chatCompletionRequest{
		Model:       c.model,
		Messages:    toWireMessages(req.Messages),
		Temperature: c.temperature,
	}
	for _, def := range req.Tools {
		payload.Tools = append(payload.Tools, wireTool{
			Type:     "function",
			Function: wireFunctionDef{Name: def.Name, Description: def.Description, Parameters: def.Parameters},
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: marshal request: %v", ErrModelInvocation, err)
	}

	url := endpointURL(c.baseURL, "/chat/completions")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: build request: %v", ErrModelInvocation, err)
	}

	raw, err := c.doJSONRequest(httpReq, url)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: %w", ErrModelInvocation, err)
	}

	var decoded chatCompletionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return models.Message{}, fmt.Errorf("%w: decode response: %v", ErrModelInvocation, err)
	}
	if len(decoded.Choices) == 0 {
		return models.Message{}, fmt.Errorf("%w: response has no choices", ErrModelInvocation)
	}

	choice := decoded.Choices[0]
	log.Printf("[ChatClient] model=%s finish_reason=%s tool_calls=%d", c.model, choice.FinishReason, len(choice.Message.ToolCalls))
	return fromWireMessage(choice.Message), nil
}

func toWireMessages(msgs []models.Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, msg := range msgs {
		content := msg.Content
		wm := wireMessage{Role: string(msg.Role), Content: &content}
		switch msg.Role {
		case models.RoleAssistant:
			for _, call := range msg.ToolCalls {
				args := string(call.Arguments)
				if args == "" {
					args = "{}"
				}
				wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
					ID:       call.ID,
					Type:     "function",
					Function: wireFunctionCall{Name: call.Name, Arguments: args},
				})
			}
			if len(wm.ToolCalls) > 0 && content == "" {
				wm.Content = nil
			}
		case models.RoleTool:
			wm.ToolCallID = msg.ToolCallID
		case models.RoleUser, models.RoleSystem:
		}
		out = append(out, wm)
	}
	return out
}

func fromWireMessage(wm wireMessage) models.Message {
	msg := models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		CreatedAt: time.Now().UTC(),
	}
	if wm.Content != nil {
		msg.Content = *wm.Content
	}
	for _, call := range wm.ToolCalls {
		id := call.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
			ID:        id,
			Name:      call.Function.Name,
			Arguments: normalizeArguments(call.Function.Arguments),
		})
	}
	return msg
}

// normalizeArguments turns the model's argument string into valid JSON. Text
// that is not JSON is kept as a JSON string so the tool layer can reject it.
func normalizeArguments(args string) json.RawMessage {
	trimmed := strings.TrimSpace(args)
	if trimmed == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	quoted, err := json.Marshal(trimmed)
	if err != nil {
		return json.RawMessage("{}")
	}
	return quoted
}

// IsModelInvocation reports whether err came from the language model client.
func IsModelInvocation(err error) bool {
	return errors.Is(err, ErrModelInvocation)
}
