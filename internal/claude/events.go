// Package claude spawns the claude CLI in streaming mode and bridges
// its NDJSON output to connected clients.
package claude

import (
	"encoding/json"

	"github.com/agentdeck/agentdeck/pkg/wire"
)

// Event kinds produced by the stream parser
const (
	KindInit       = "init"
	KindText       = "text"
	KindToolUse    = "tool_use"
	KindToolResult = "tool_result"
	KindResult     = "result"
)

// Event is one parsed record from the CLI's stream-json output. Kind
// selects which of the optional variant fields is populated.
type Event struct {
	Kind      string
	SessionID string

	// init
	Model   string
	Tools   []string
	WorkDir string

	// text
	Text  string
	Usage *wire.Usage

	// tool_use
	ToolID    string
	ToolName  string
	ToolInput json.RawMessage

	// tool_result
	ToolOutput  string
	ToolIsError bool

	// result
	Result     string
	CostUSD    float64
	DurationMS int64
	NumTurns   int
	IsError    bool
}

// rawLine mirrors one line of CLI output before variant dispatch
type rawLine struct {
	Type      string   `json:"type"`
	Subtype   string   `json:"subtype"`
	SessionID string   `json:"session_id"`
	Model     string   `json:"model"`
	Tools     []string `json:"tools"`
	CWD       string   `json:"cwd"`

	Message *rawMessage `json:"message"`

	Result     string      `json:"result"`
	Usage      *wire.Usage `json:"usage"`
	CostUSD    float64     `json:"total_cost_usd"`
	DurationMS int64       `json:"duration_ms"`
	NumTurns   int         `json:"num_turns"`
	IsError    bool        `json:"is_error"`
}

type rawMessage struct {
	Content []rawContent `json:"content"`
	Usage   *wire.Usage  `json:"usage"`
}

type rawContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

// decodeLine turns one JSON line into zero or more events. A single
// assistant message may carry several content blocks, each of which
// becomes its own event.
func decodeLine(line []byte) ([]Event, error) {
	var raw rawLine
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, err
	}

	switch raw.Type {
	case "system":
		if raw.Subtype != "init" {
			return nil, nil
		}
		fallthrough
	case "init":
		return []Event{{
			Kind:      KindInit,
			SessionID: raw.SessionID,
			Model:     raw.Model,
			Tools:     raw.Tools,
			WorkDir:   raw.CWD,
		}}, nil

	case "assistant":
		if raw.Message == nil {
			return nil, nil
		}
		var events []Event
		for _, block := range raw.Message.Content {
			switch block.Type {
			case "text":
				events = append(events, Event{
					Kind:      KindText,
					SessionID: raw.SessionID,
					Text:      block.Text,
					Usage:     raw.Message.Usage,
				})
			case "tool_use":
				events = append(events, Event{
					Kind:      KindToolUse,
					SessionID: raw.SessionID,
					ToolID:    block.ID,
					ToolName:  block.Name,
					ToolInput: block.Input,
				})
			}
		}
		return events, nil

	case "user":
		if raw.Message == nil {
			return nil, nil
		}
		var events []Event
		for _, block := range raw.Message.Content {
			if block.Type != "tool_result" {
				continue
			}
			events = append(events, Event{
				Kind:        KindToolResult,
				SessionID:   raw.SessionID,
				ToolID:      block.ToolUseID,
				ToolOutput:  contentText(block.Content),
				ToolIsError: block.IsError,
			})
		}
		return events, nil

	case "result":
		return []Event{{
			Kind:       KindResult,
			SessionID:  raw.SessionID,
			Result:     raw.Result,
			Usage:      raw.Usage,
			CostUSD:    raw.CostUSD,
			DurationMS: raw.DurationMS,
			NumTurns:   raw.NumTurns,
			IsError:    raw.IsError,
		}}, nil
	}

	// Unknown record types are ignored rather than treated as errors
	return nil, nil
}

// contentText extracts a printable string from a tool_result content
// field, which the CLI emits either as a bare string or as an array of
// text blocks.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var blocks []rawContent
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var out string
		for _, b := range blocks {
			if b.Type == "text" {
				out += b.Text
			}
		}
		return out
	}
	return string(raw)
}
