package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type ToolStatus string

const (
	ToolStatusOK    ToolStatus = "ok"
	ToolStatusError ToolStatus = "error"
)

// ToolCallRecord is one dispatched tool invocation. Output is the JSON payload
// returned to the model; on error it is an {"error": ...} object.
type ToolCallRecord struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Output    json.RawMessage `json:"output"`
	Status    ToolStatus      `json:"status"`
}

// Turn is one entry of a session's conversation history.
type Turn struct {
	ID        string          `json:"id"`
	Seq       int             `json:"seq"`
	Role      Role            `json:"role"`
	Content   string          `json:"content"`
	ToolCall  *ToolCallRecord `json:"tool_call,omitempty"`
	Degraded  bool            `json:"degraded,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Usage accumulates language model token consumption for a session.
type Usage struct {
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	Cost             decimal.Decimal `json:"cost"`
}

func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		Cost:             u.Cost.Add(o.Cost),
	}
}

// UploadRecord summarizes one accepted flight log for the archive.
type UploadRecord struct {
	SessionID    string          `json:"session_id"`
	FileName     string          `json:"file_name"`
	SizeBytes    int64           `json:"size_bytes"`
	Metadata     json.RawMessage `json:"metadata"`
	AnomalyCount int             `json:"anomaly_count"`
	UploadedAt   time.Time       `json:"uploaded_at"`
}
