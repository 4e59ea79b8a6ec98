package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/set-night/skylog/internal/config"
	"github.com/set-night/skylog/internal/domain"
)

// OpenRouterModel talks to any OpenAI-compatible /chat/completions endpoint
// (OpenRouter, OpenAI).
type OpenRouterModel struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewOpenRouterModel(apiKey, baseURL, model string) *OpenRouterModel {
	return &OpenRouterModel{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		// Per-call deadlines come from the context.
		httpClient: &http.Client{},
	}
}

func (s *OpenRouterModel) Name() string {
	return s.model
}

type ChatMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []ChatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type ChatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type ChatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Tools       []ChatTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type ChatResponse struct {
	Choices []struct {
		Message struct {
			Content   *string        `json:"content"`
			ToolCalls []ChatToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int      `json:"prompt_tokens"`
		CompletionTokens int      `json:"completion_tokens"`
		Cost             *float64 `json:"cost"`
		TotalCost        *float64 `json:"total_cost"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (s *OpenRouterModel) Submit(ctx context.Context, req ModelRequest) (ModelReply, error) {
	temperature := 0.2
	chatReq := ChatRequest{
		Model:       s.model,
		Messages:    openAIMessages(req),
		Temperature: &temperature,
		MaxTokens:   config.MaxCompletionTokens,
	}
	// Skip temperature for Gemini models
	if strings.Contains(strings.ToLower(s.model), "gemini") {
		chatReq.Temperature = nil
	}
	for _, spec := range req.Tools {
		var t ChatTool
		t.Type = "function"
		t.Function.Name = spec.Name
		t.Function.Description = spec.Description
		t.Function.Parameters = spec.JSONSchema()
		chatReq.Tools = append(chatReq.Tools, t)
	}
	if len(chatReq.Tools) > 0 {
		chatReq.ToolChoice = "auto"
		if req.NoToolUse {
			chatReq.ToolChoice = "none"
		}
	}

	payload, err := json.Marshal(chatReq)
	if err != nil {
		return ModelReply{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return ModelReply{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return ModelReply{}, classifyTransport(ctx, fmt.Errorf("chat request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ModelReply{}, classifyTransport(ctx, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode/100 != 2 {
		return ModelReply{}, classifyStatus("chat completions", resp.StatusCode, body)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return ModelReply{}, fmt.Errorf("%w: parse response: %v", domain.ErrModelUnavailable, err)
	}
	if chatResp.Error != nil {
		return ModelReply{}, fmt.Errorf("%w: %s", domain.ErrModelUnavailable, chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return ModelReply{}, fmt.Errorf("%w: empty choices", domain.ErrModelUnavailable)
	}

	msg := chatResp.Choices[0].Message
	reply := ModelReply{
		Usage: domain.Usage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
		},
	}
	if msg.Content != nil {
		reply.Text = *msg.Content
	}
	for _, tc := range msg.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if strings.TrimSpace(tc.Function.Arguments) == "" {
			args = json.RawMessage("{}")
		}
		reply.ToolRequests = append(reply.ToolRequests, ToolRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	if cost := firstNonNil(chatResp.Usage.Cost, chatResp.Usage.TotalCost); cost != nil {
		reply.Usage.Cost = decimal.NewFromFloat(*cost)
		reply.CostReported = true
	}
	return reply, nil
}

func firstNonNil(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func openAIMessages(req ModelRequest) []ChatMessage {
	str := func(s string) *string { return &s }
	msgs := []ChatMessage{{Role: "system", Content: str(req.System)}}
	for _, g := range groupHistory(req.History) {
		if g.turn != nil {
			role := "user"
			if g.turn.Role == domain.RoleAssistant {
				role = "assistant"
			}
			msgs = append(msgs, ChatMessage{Role: role, Content: str(g.turn.Content)})
			continue
		}
		call := ChatMessage{Role: "assistant"}
		for _, rec := range g.calls {
			var tc ChatToolCall
			tc.ID = rec.ID
			tc.Type = "function"
			tc.Function.Name = rec.Name
			tc.Function.Arguments = string(rec.Arguments)
			call.ToolCalls = append(call.ToolCalls, tc)
		}
		msgs = append(msgs, call)
		for _, rec := range g.calls {
			msgs = append(msgs, ChatMessage{Role: "tool", ToolCallID: rec.ID, Content: str(string(rec.Output))})
		}
	}
	return msgs
}
