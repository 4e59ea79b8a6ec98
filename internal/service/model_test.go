package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/set-night/skylog/internal/domain"
	"github.com/set-night/skylog/internal/tools"
)

func toolHistory() []domain.Turn {
	return []domain.Turn{
		{Role: domain.RoleUser, Content: "altitude?"},
		{Role: domain.RoleTool, Content: `{"points":[]}`, ToolCall: &domain.ToolCallRecord{
			ID: "call_1", Name: tools.GetTimeSeries, Arguments: json.RawMessage(`{"message_type":"GPS","field":"Alt"}`),
			Output: json.RawMessage(`{"points":[]}`), Status: domain.ToolStatusOK,
		}},
		{Role: domain.RoleTool, Content: `{"error":"bad","kind":"invalid_arguments"}`, ToolCall: &domain.ToolCallRecord{
			ID: "call_2", Name: tools.GetMessageData, Arguments: json.RawMessage(`{}`),
			Output: json.RawMessage(`{"error":"bad","kind":"invalid_arguments"}`), Status: domain.ToolStatusError,
		}},
		{Role: domain.RoleAssistant, Content: "It is flat."},
	}
}

func TestOpenRouterModelSubmit(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		_, _ = io.WriteString(w, `{
			"choices":[{"message":{"content":null,"tool_calls":[
				{"id":"c9","type":"function","function":{"name":"detect_anomalies","arguments":""}}
			]},"finish_reason":"tool_calls"}],
			"usage":{"prompt_tokens":120,"completion_tokens":7,"cost":0.0042}
		}`)
	}))
	defer srv.Close()

	m := NewOpenRouterModel("key", srv.URL+"/", "openai/gpt-4o-mini")
	reply, err := m.Submit(context.Background(), ModelRequest{System: "sys", History: toolHistory(), Tools: tools.Catalog()})
	require.NoError(t, err)

	require.Len(t, reply.ToolRequests, 1)
	assert.Equal(t, "c9", reply.ToolRequests[0].ID)
	assert.Equal(t, tools.DetectAnomalies, reply.ToolRequests[0].Name)
	assert.JSONEq(t, `{}`, string(reply.ToolRequests[0].Arguments))
	assert.Equal(t, 120, reply.Usage.PromptTokens)
	assert.True(t, reply.CostReported)
	assert.Equal(t, "0.0042", reply.Usage.Cost.String())

	assert.Equal(t, "auto", got.ToolChoice)
	assert.Len(t, got.Tools, len(tools.Catalog()))
	// system, user, assistant tool calls, two tool results, assistant
	require.Len(t, got.Messages, 6)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Len(t, got.Messages[2].ToolCalls, 2)
	assert.Equal(t, "tool", got.Messages[3].Role)
	assert.Equal(t, "call_1", got.Messages[3].ToolCallID)
	assert.Equal(t, "call_2", got.Messages[4].ToolCallID)
	assert.Equal(t, "assistant", got.Messages[5].Role)
}

func TestOpenRouterModelWithoutToolsOmitsCatalog(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"final"}}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`)
	}))
	defer srv.Close()

	reply, err := NewOpenRouterModel("k", srv.URL, "google/gemini-2.0-flash").Submit(context.Background(), ModelRequest{System: "s"})
	require.NoError(t, err)
	assert.Equal(t, "final", reply.Text)
	assert.False(t, reply.CostReported)
	assert.NotContains(t, got, "tools")
	assert.NotContains(t, got, "temperature")
}

func TestModelErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, domain.ErrModelUnavailable},
		{http.StatusBadGateway, domain.ErrModelUnavailable},
		{http.StatusGatewayTimeout, domain.ErrModelTimeout},
		{http.StatusRequestTimeout, domain.ErrModelTimeout},
		{http.StatusUnauthorized, domain.ErrModelRejected},
		{http.StatusBadRequest, domain.ErrModelRejected},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, `{"error":"nope"}`, tt.status)
			}))
			defer srv.Close()

			_, err := NewOpenRouterModel("k", srv.URL, "m").Submit(context.Background(), ModelRequest{})
			assert.ErrorIs(t, err, tt.want)
			_, err = NewAnthropicModel("k", srv.URL, "m").Submit(context.Background(), ModelRequest{})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestModelTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewOpenRouterModel("k", srv.URL, "m").Submit(ctx, ModelRequest{})
	assert.ErrorIs(t, err, domain.ErrModelTimeout)
	assert.True(t, domain.IsRetryable(err))

	_, err = NewAnthropicModel("k", "http://127.0.0.1:1", "m").Submit(context.Background(), ModelRequest{})
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
}

func TestAnthropicModelSubmit(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{
			"content":[
				{"type":"text","text":"Let me check."},
				{"type":"tool_use","id":"tu_1","name":"get_time_series","input":{"message_type":"BAT","field":"Volt"}}
			],
			"stop_reason":"tool_use",
			"usage":{"input_tokens":300,"output_tokens":20}
		}`)
	}))
	defer srv.Close()

	m := NewAnthropicModel("key", srv.URL, "claude-3-5-haiku-latest")
	reply, err := m.Submit(context.Background(), ModelRequest{System: "sys", History: toolHistory(), Tools: tools.Catalog()})
	require.NoError(t, err)

	assert.Equal(t, "Let me check.", reply.Text)
	require.Len(t, reply.ToolRequests, 1)
	assert.Equal(t, "tu_1", reply.ToolRequests[0].ID)
	assert.JSONEq(t, `{"message_type":"BAT","field":"Volt"}`, string(reply.ToolRequests[0].Arguments))
	assert.Equal(t, 300, reply.Usage.PromptTokens)
	assert.False(t, reply.CostReported)

	assert.Equal(t, "sys", got.System)
	assert.Len(t, got.Tools, len(tools.Catalog()))
	// user, assistant tool_use x2, user tool_result x2, assistant text
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "assistant", got.Messages[1].Role)
	require.Len(t, got.Messages[1].Content, 2)
	assert.Equal(t, "tool_use", got.Messages[1].Content[0].Type)
	assert.Equal(t, "user", got.Messages[2].Role)
	require.Len(t, got.Messages[2].Content, 2)
	assert.Equal(t, "call_2", got.Messages[2].Content[1].ToolUseID)
	assert.True(t, got.Messages[2].Content[1].IsError)
	assert.Nil(t, got.ToolChoice)
	assert.Equal(t, "assistant", got.Messages[3].Role)
}

func TestFinalRoundForbidsToolUseButKeepsCatalog(t *testing.T) {
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		bodies = append(bodies, got)
		if r.URL.Path == "/messages" {
			_, _ = io.WriteString(w, `{"content":[{"type":"text","text":"done"}],"usage":{"input_tokens":1,"output_tokens":1}}`)
			return
		}
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"done"}}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`)
	}))
	defer srv.Close()

	req := ModelRequest{System: "s", History: toolHistory(), Tools: tools.Catalog(), NoToolUse: true}
	_, err := NewAnthropicModel("k", srv.URL, "m").Submit(context.Background(), req)
	require.NoError(t, err)
	_, err = NewOpenRouterModel("k", srv.URL, "m").Submit(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, bodies, 2)
	assert.Equal(t, map[string]any{"type": "none"}, bodies[0]["tool_choice"])
	assert.Len(t, bodies[0]["tools"], len(tools.Catalog()))
	assert.Equal(t, "none", bodies[1]["tool_choice"])
	assert.Len(t, bodies[1]["tools"], len(tools.Catalog()))
}
