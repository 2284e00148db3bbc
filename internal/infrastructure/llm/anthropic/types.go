package anthropic

import (
	"github.com/skiff-ai/skiff/pkg/jsonval"
)

// Messages API request body.
type apiRequest struct {
	Model       string       `json:"model"`
	Stream      bool         `json:"stream"`
	Messages    []apiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens"`
	System      string       `json:"system,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	Tools       []apiTool    `json:"tools,omitempty"`
}

type apiMessage struct {
	Role    string     `json:"role"`
	Content []apiBlock `json:"content"`
}

// apiBlock covers the three request block shapes: text, tool_use and
// tool_result. Unused fields stay empty per shape.
type apiBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input *jsonval.Value `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type apiTool struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	InputSchema jsonval.Value `json:"input_schema"`
}

// Stream event payloads. One struct covers every event name; the adapter
// switches on the event name and reads the relevant fields.
type streamEvent struct {
	Type         string        `json:"type"`
	Index        *int          `json:"index,omitempty"`
	ContentBlock *eventBlock   `json:"content_block,omitempty"`
	Delta        *eventDelta   `json:"delta,omitempty"`
	Message      *eventMessage `json:"message,omitempty"`
	Usage        *eventUsage   `json:"usage,omitempty"`
	Error        *eventError   `json:"error,omitempty"`
}

type eventBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input *jsonval.Value `json:"input,omitempty"`
}

type eventDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type eventMessage struct {
	ID    string      `json:"id"`
	Usage *eventUsage `json:"usage,omitempty"`
}

type eventUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type eventError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
