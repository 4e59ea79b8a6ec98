package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/set-night/skylog/internal/config"
	"github.com/set-night/skylog/internal/domain"
)

const anthropicVersion = "2023-06-01"

// AnthropicModel talks to the Anthropic Messages API.
type AnthropicModel struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewAnthropicModel(apiKey, baseURL, model string) *AnthropicModel {
	return &AnthropicModel{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{},
	}
}

func (s *AnthropicModel) Name() string {
	return s.model
}

type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
}

type anthropicRequest struct {
	Model      string               `json:"model"`
	MaxTokens  int                  `json:"max_tokens"`
	System     string               `json:"system,omitempty"`
	Messages   []anthropicMessage   `json:"messages"`
	Tools      []anthropicTool      `json:"tools,omitempty"`
	ToolChoice *anthropicToolChoice `json:"tool_choice,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (s *AnthropicModel) Submit(ctx context.Context, req ModelRequest) (ModelReply, error) {
	body := anthropicRequest{
		Model:     s.model,
		MaxTokens: config.MaxCompletionTokens,
		System:    req.System,
		Messages:  anthropicMessages(req.History),
	}
	for _, spec := range req.Tools {
		body.Tools = append(body.Tools, anthropicTool{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: spec.JSONSchema(),
		})
	}
	if req.NoToolUse && len(body.Tools) > 0 {
		body.ToolChoice = &anthropicToolChoice{Type: "none"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return ModelReply{}, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return ModelReply{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", s.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return ModelReply{}, classifyTransport(ctx, fmt.Errorf("messages request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ModelReply{}, classifyTransport(ctx, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode/100 != 2 {
		return ModelReply{}, classifyStatus("anthropic messages", resp.StatusCode, raw)
	}

	var out anthropicResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return ModelReply{}, fmt.Errorf("%w: parse response: %v", domain.ErrModelUnavailable, err)
	}

	reply := ModelReply{
		Usage: domain.Usage{
			PromptTokens:     out.Usage.InputTokens,
			CompletionTokens: out.Usage.OutputTokens,
		},
	}
	var text []string
	for _, b := range out.Content {
		switch b.Type {
		case "text":
			text = append(text, b.Text)
		case "tool_use":
			args := b.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			reply.ToolRequests = append(reply.ToolRequests, ToolRequest{ID: b.ID, Name: b.Name, Arguments: args})
		}
	}
	reply.Text = strings.Join(text, "\n")
	return reply, nil
}

// anthropicMessages renders history as alternating user/assistant messages.
// Tool calls become tool_use blocks and their results tool_result blocks;
// consecutive messages of one role are merged.
func anthropicMessages(history []domain.Turn) []anthropicMessage {
	var msgs []anthropicMessage
	push := func(role string, blocks ...anthropicBlock) {
		if len(blocks) == 0 {
			return
		}
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content = append(msgs[n-1].Content, blocks...)
			return
		}
		msgs = append(msgs, anthropicMessage{Role: role, Content: blocks})
	}

	for _, g := range groupHistory(history) {
		if g.turn != nil {
			if strings.TrimSpace(g.turn.Content) == "" {
				continue
			}
			role := "user"
			if g.turn.Role == domain.RoleAssistant {
				role = "assistant"
			}
			push(role, anthropicBlock{Type: "text", Text: g.turn.Content})
			continue
		}
		var uses, results []anthropicBlock
		for _, rec := range g.calls {
			input := rec.Arguments
			if !json.Valid(input) || !bytes.HasPrefix(bytes.TrimSpace(input), []byte("{")) {
				input = json.RawMessage("{}")
			}
			uses = append(uses, anthropicBlock{Type: "tool_use", ID: rec.ID, Name: rec.Name, Input: input})
			results = append(results, anthropicBlock{
				Type:      "tool_result",
				ToolUseID: rec.ID,
				Content:   string(rec.Output),
				IsError:   rec.Status == domain.ToolStatusError,
			})
		}
		push("assistant", uses...)
		push("user", results...)
	}
	return msgs
}
