// Package wire defines the JSON messages exchanged over the WebSocket
// connection between clients and the bridge.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Inbound message types
const (
	TypeQuery   = "query"
	TypePing    = "ping"
	TypeCancel  = "cancel"
	TypeHistory = "history"
)

// Outbound message types
const (
	TypeConnected    = "connected"
	TypeStream       = "stream"
	TypeToolUse      = "tool_use"
	TypeToolResult   = "tool_result"
	TypeComplete     = "complete"
	TypeError        = "error"
	TypePong         = "pong"
	TypeHistoryReply = "history"
	TypeTokenWarning = "token_warning"
)

// Inbound is a client-to-server message. SessionID is a client-local
// correlation id, not the subprocess-issued session handle.
type Inbound struct {
	Type      string `json:"type"`
	Prompt    string `json:"prompt,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	AgentID   string `json:"agentId,omitempty"`
	ProjectID string `json:"projectId,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// ParseInbound decodes and shape-validates a client message
func ParseInbound(data []byte) (*Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Validate checks the required fields for the message's type
func (m *Inbound) Validate() error {
	switch m.Type {
	case TypeQuery:
		if m.Prompt == "" {
			return fmt.Errorf("query requires prompt")
		}
		if m.SessionID == "" {
			return fmt.Errorf("query requires sessionId")
		}
		if m.AgentID == "" {
			return fmt.Errorf("query requires agentId")
		}
		if m.ProjectID == "" {
			return fmt.Errorf("query requires projectId")
		}
	case TypePing:
		// timestamp is informational, no required fields
	case TypeCancel:
		if m.SessionID == "" {
			return fmt.Errorf("cancel requires sessionId")
		}
	case TypeHistory:
		if m.AgentID == "" {
			return fmt.Errorf("history requires agentId")
		}
		if m.ProjectID == "" {
			return fmt.Errorf("history requires projectId")
		}
	case "":
		return fmt.Errorf("message missing type")
	default:
		return fmt.Errorf("unknown message type: %s", m.Type)
	}
	return nil
}

// Usage carries token counters reported by the subprocess
type Usage struct {
	InputTokens              int64 `json:"input_tokens,omitempty"`
	OutputTokens             int64 `json:"output_tokens,omitempty"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens,omitempty"`
}

// Total returns the sum of all token counters
func (u *Usage) Total() int64 {
	if u == nil {
		return 0
	}
	return u.InputTokens + u.OutputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
}

// Connected announces that the subprocess is live, carrying the
// resumable session handle it issued.
type Connected struct {
	Type      string   `json:"type"`
	SessionID string   `json:"sessionId"`
	ClaudeID  string   `json:"claudeSessionId,omitempty"`
	Model     string   `json:"model,omitempty"`
	Tools     []string `json:"tools,omitempty"`
	WorkDir   string   `json:"cwd,omitempty"`
}

// Stream carries one incremental chunk of assistant text
type Stream struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
	Usage     *Usage `json:"usage,omitempty"`
}

// ToolUse reports a tool invocation by the assistant
type ToolUse struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	ToolID    string          `json:"toolId"`
	ToolName  string          `json:"toolName"`
	Input     json.RawMessage `json:"input,omitempty"`
}

// ToolResult reports the outcome of a prior tool invocation
type ToolResult struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	ToolID    string `json:"toolId"`
	Output    string `json:"output"`
	IsError   bool   `json:"isError"`
}

// Complete is the terminal frame of a successful operation
type Complete struct {
	Type       string  `json:"type"`
	SessionID  string  `json:"sessionId"`
	Result     string  `json:"result,omitempty"`
	Usage      *Usage  `json:"usage,omitempty"`
	CostUSD    float64 `json:"costUsd,omitempty"`
	DurationMS int64   `json:"durationMs,omitempty"`
	NumTurns   int     `json:"numTurns,omitempty"`
	IsError    bool    `json:"isError"`
}

// Error is a structured failure frame. Code is a stable string from
// the bridge's error taxonomy.
type Error struct {
	Type      string `json:"type"`
	Error     string `json:"error"`
	Code      string `json:"code"`
	SessionID string `json:"sessionId,omitempty"`
	Timestamp string `json:"timestamp"`
}

// NewError builds an error frame with the current timestamp
func NewError(code, message, sessionID string) *Error {
	return &Error{
		Type:      TypeError,
		Error:     message,
		Code:      code,
		SessionID: sessionID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Pong answers a client ping
type Pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// NewPong builds a pong frame with the current timestamp
func NewPong() *Pong {
	return &Pong{Type: TypePong, Timestamp: time.Now().UnixMilli()}
}

// HistoryEntry is one message from a stored transcript
type HistoryEntry struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Usage     *Usage `json:"usage,omitempty"`
}

// History carries a transcript excerpt for an agent
type History struct {
	Type      string         `json:"type"`
	AgentID   string         `json:"agentId"`
	SessionID string         `json:"sessionId,omitempty"`
	Messages  []HistoryEntry `json:"messages"`
}

// TokenWarning signals that an operation's cumulative token usage
// crossed the warning threshold.
type TokenWarning struct {
	Type        string `json:"type"`
	SessionID   string `json:"sessionId"`
	TotalTokens int64  `json:"totalTokens"`
	Threshold   int64  `json:"threshold"`
	Message     string `json:"message"`
}
