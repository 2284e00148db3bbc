package openai

import "github.com/skiff-ai/skiff/pkg/jsonval"

// apiRequest is the body for POST /responses.
type apiRequest struct {
	Model           string        `json:"model"`
	Input           []inputItem   `json:"input"`
	Stream          bool          `json:"stream"`
	Store           bool          `json:"store"`
	Instructions    string        `json:"instructions,omitempty"`
	Temperature     *float64      `json:"temperature,omitempty"`
	MaxOutputTokens int           `json:"max_output_tokens,omitempty"`
	PromptCacheKey  string        `json:"prompt_cache_key,omitempty"`
	Tools           []apiTool     `json:"tools,omitempty"`
	Reasoning       *apiReasoning `json:"reasoning,omitempty"`
	Include         []string      `json:"include,omitempty"`
}

type apiReasoning struct {
	Effort string `json:"effort"`
}

// inputItem is polymorphic: message, function_call, or function_call_output.
type inputItem struct {
	Type    string `json:"type,omitempty"`
	Role    string `json:"role,omitempty"`
	Status  string `json:"status,omitempty"`
	ID      string `json:"id,omitempty"`
	Content any    `json:"content,omitempty"`

	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Output    string `json:"output,omitempty"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiTool struct {
	Type        string        `json:"type"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Parameters  jsonval.Value `json:"parameters"`
}

// streamEvent covers every Responses SSE payload this adapter reads.
type streamEvent struct {
	Type        string        `json:"type"`
	OutputIndex *int          `json:"output_index,omitempty"`
	Delta       string        `json:"delta,omitempty"`
	Arguments   string        `json:"arguments,omitempty"`
	Item        *outputItem   `json:"item,omitempty"`
	Response    *responseInfo `json:"response,omitempty"`
}

type outputItem struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Name   string `json:"name,omitempty"`
	CallID string `json:"call_id,omitempty"`
}

type responseInfo struct {
	Status string    `json:"status"`
	Usage  *apiUsage `json:"usage,omitempty"`
	Error  *apiError `json:"error,omitempty"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
