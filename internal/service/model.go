package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/set-night/skylog/internal/domain"
	"github.com/set-night/skylog/internal/tools"
)

// ToolRequest is one tool invocation asked for by the model.
type ToolRequest struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ModelRequest is everything a provider needs for one completion.
type ModelRequest struct {
	System  string
	History []domain.Turn
	Tools   []tools.Spec
	// NoToolUse keeps Tools declared, since the history may reference them,
	// but forbids the model from calling any.
	NoToolUse bool
}

// ModelReply carries either final text or tool requests.
type ModelReply struct {
	Text         string
	ToolRequests []ToolRequest
	Usage        domain.Usage
	// CostReported is set when the provider priced the call itself.
	CostReported bool
}

// ChatModel is a language model that can answer or request tools.
type ChatModel interface {
	Submit(ctx context.Context, req ModelRequest) (ModelReply, error)
	Name() string
}

// classifyTransport maps a failed round trip onto the model error taxonomy.
// Cancellation by the caller is returned unchanged.
func classifyTransport(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrModelTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", domain.ErrModelTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
}

// classifyStatus maps a non-2xx provider response onto the model error taxonomy.
func classifyStatus(provider string, status int, body []byte) error {
	msg := string(body)
	if len(msg) > 300 {
		msg = msg[:300]
	}
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s returned %d: %s", domain.ErrModelTimeout, provider, status, msg)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: %s returned %d: %s", domain.ErrModelUnavailable, provider, status, msg)
	default:
		return fmt.Errorf("%w: %s returned %d: %s", domain.ErrModelRejected, provider, status, msg)
	}
}

// groupHistory splits history into runs so adapters can render consecutive
// tool turns as one assistant tool-call message plus its results.
type toolGroup struct {
	turn  *domain.Turn
	calls []domain.ToolCallRecord
}

func groupHistory(history []domain.Turn) []toolGroup {
	var out []toolGroup
	for i := range history {
		t := &history[i]
		if t.Role == domain.RoleTool && t.ToolCall != nil {
			if n := len(out); n > 0 && out[n-1].turn == nil {
				out[n-1].calls = append(out[n-1].calls, *t.ToolCall)
				continue
			}
			out = append(out, toolGroup{calls: []domain.ToolCallRecord{*t.ToolCall}})
			continue
		}
		out = append(out, toolGroup{turn: t})
	}
	return out
}
