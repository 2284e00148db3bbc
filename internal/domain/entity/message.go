package entity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/skiff-ai/skiff/pkg/jsonval"
)

// Provider tags the three supported LLM backends. The set is closed;
// adapters are selected by tag, not discovered.
type Provider string

const (
	ProviderOpenAI      Provider = "openai"
	ProviderOpenAICodex Provider = "openaiCodex"
	ProviderAnthropic   Provider = "anthropic"
)

// DefaultBaseURL returns the provider's hosted endpoint root.
func (p Provider) DefaultBaseURL() string {
	switch p {
	case ProviderOpenAI:
		return "https://api.openai.com/v1"
	case ProviderOpenAICodex:
		return "https://chatgpt.com/backend-api"
	case ProviderAnthropic:
		return "https://api.anthropic.com/v1"
	default:
		return ""
	}
}

// ParseProvider maps a config string onto a Provider tag.
func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderOpenAI, ProviderOpenAICodex, ProviderAnthropic:
		return Provider(s), nil
	default:
		return "", fmt.Errorf("unknown provider %q", s)
	}
}

// Model names a concrete model on a provider. ID is opaque to the runtime.
type Model struct {
	ID       string   `json:"id"`
	Provider Provider `json:"provider"`
	BaseURL  string   `json:"baseURL,omitempty"`
}

// ResolveBaseURL returns the explicit base URL or the provider default.
func (m Model) ResolveBaseURL() string {
	if m.BaseURL != "" {
		return strings.TrimRight(m.BaseURL, "/")
	}
	return m.Provider.DefaultBaseURL()
}

// StopReason describes why an assistant turn ended.
type StopReason string

const (
	StopStop    StopReason = "stop"
	StopLength  StopReason = "length"
	StopToolUse StopReason = "toolUse"
	StopAborted StopReason = "aborted"
	StopError   StopReason = "error"
)

// Usage carries provider-reported token counts.
type Usage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// Tool describes a callable function offered to the model. Parameters is
// a JSON Schema subset whose root must be object-typed.
type Tool struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Parameters  jsonval.Value `json:"parameters"`
}

// ToolCall is a model request to run a named tool. For the OpenAI family
// the ID is a composite "callId|itemId"; it is opaque everywhere outside
// the OpenAI adapter.
type ToolCall struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Arguments jsonval.Value `json:"arguments"`
}

// BlockType discriminates ContentBlock variants.
type BlockType string

const (
	BlockText     BlockType = "text"
	BlockToolCall BlockType = "toolCall"
)

// ContentBlock is one piece of message content: either text or a tool call.
type ContentBlock struct {
	Type      BlockType `json:"type"`
	Text      string    `json:"text,omitempty"`
	Signature string    `json:"signature,omitempty"`
	ToolCall  *ToolCall `json:"toolCall,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolCallBlock builds a tool-call content block.
func ToolCallBlock(call ToolCall) ContentBlock {
	return ContentBlock{Type: BlockToolCall, ToolCall: &call}
}

// AssistantMessage is one full assistant turn.
type AssistantMessage struct {
	Provider     Provider       `json:"provider"`
	ModelID      string         `json:"modelId"`
	Content      []ContentBlock `json:"content"`
	Usage        *Usage         `json:"usage,omitempty"`
	StopReason   StopReason     `json:"stopReason"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Text concatenates the message's text blocks.
func (m *AssistantMessage) Text() string {
	var sb strings.Builder
	for _, block := range m.Content {
		if block.Type == BlockText {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// ToolCalls lists the message's tool-call blocks in content order.
func (m *AssistantMessage) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, block := range m.Content {
		if block.Type == BlockToolCall && block.ToolCall != nil {
			calls = append(calls, *block.ToolCall)
		}
	}
	return calls
}

// Clone deep-copies the message. Streaming emits snapshots of a mutating
// aggregate, so shared pointers would race.
func (m *AssistantMessage) Clone() *AssistantMessage {
	c := *m
	c.Content = make([]ContentBlock, len(m.Content))
	for i, block := range m.Content {
		copied := block
		if block.ToolCall != nil {
			call := *block.ToolCall
			copied.ToolCall = &call
		}
		c.Content[i] = copied
	}
	if m.Usage != nil {
		usage := *m.Usage
		c.Usage = &usage
	}
	return &c
}

// UserMessage is user-authored content.
type UserMessage struct {
	Content   []ContentBlock `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
}

// ToolResultMessage records the outcome of one tool call.
type ToolResultMessage struct {
	ToolCallID string         `json:"toolCallId"`
	ToolName   string         `json:"toolName"`
	Content    []ContentBlock `json:"content"`
	Details    jsonval.Value  `json:"details"`
	IsError    bool           `json:"isError"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Text concatenates the result's text blocks.
func (m *ToolResultMessage) Text() string {
	var sb strings.Builder
	for _, block := range m.Content {
		if block.Type == BlockText {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// Role discriminates Message variants.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "toolResult"
)

// Message is the transcript-level variant: exactly one of the payload
// pointers is set, matching Role.
type Message struct {
	Role       Role               `json:"role"`
	User       *UserMessage       `json:"user,omitempty"`
	Assistant  *AssistantMessage  `json:"assistant,omitempty"`
	ToolResult *ToolResultMessage `json:"toolResult,omitempty"`
}

// NewUserMessage wraps user content blocks into a Message.
func NewUserMessage(content []ContentBlock, at time.Time) Message {
	return Message{Role: RoleUser, User: &UserMessage{Content: content, Timestamp: at}}
}

// NewAssistantMessage wraps an assistant turn into a Message.
func NewAssistantMessage(m AssistantMessage) Message {
	return Message{Role: RoleAssistant, Assistant: &m}
}

// NewToolResultMessage wraps a tool result into a Message.
func NewToolResultMessage(m ToolResultMessage) Message {
	return Message{Role: RoleToolResult, ToolResult: &m}
}

// Validate checks that the payload matches the role.
func (m Message) Validate() error {
	switch m.Role {
	case RoleUser:
		if m.User == nil {
			return fmt.Errorf("user message has no payload")
		}
	case RoleAssistant:
		if m.Assistant == nil {
			return fmt.Errorf("assistant message has no payload")
		}
	case RoleToolResult:
		if m.ToolResult == nil {
			return fmt.Errorf("tool-result message has no payload")
		}
	default:
		return fmt.Errorf("unknown role %q", m.Role)
	}
	return nil
}

// UnmarshalJSON decodes a Message and rejects payload/role mismatches,
// so corrupt transcript rows fail loudly instead of producing empty turns.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	var tmp alias
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*m = Message(tmp)
	return m.Validate()
}

// Context is the provider-agnostic view of a session handed to adapters.
type Context struct {
	SystemPrompt string    `json:"systemPrompt,omitempty"`
	Messages     []Message `json:"messages"`
	Tools        []Tool    `json:"tools,omitempty"`
}

// AssistantEventType discriminates streaming events from an adapter.
type AssistantEventType string

const (
	AssistantEventStart     AssistantEventType = "start"
	AssistantEventTextDelta AssistantEventType = "textDelta"
	AssistantEventDone      AssistantEventType = "done"
)

// AssistantEvent is one step of an adapter's streaming response. Message
// holds the partial aggregate for start/textDelta and the final message
// for done.
type AssistantEvent struct {
	Type    AssistantEventType `json:"type"`
	Delta   string             `json:"delta,omitempty"`
	Message *AssistantMessage  `json:"message"`
}
