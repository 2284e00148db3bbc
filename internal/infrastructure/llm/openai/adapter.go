// Package openai streams completions over the OpenAI Responses API,
// in both its standard and Codex backend variants.
package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/skiff-ai/skiff/internal/domain/entity"
	"github.com/skiff-ai/skiff/internal/infrastructure/httpstream"
	"github.com/skiff-ai/skiff/internal/infrastructure/llm"
	"github.com/skiff-ai/skiff/internal/infrastructure/sse"
	"github.com/skiff-ai/skiff/pkg/errors"
	"github.com/skiff-ai/skiff/pkg/jsonval"
	"github.com/skiff-ai/skiff/pkg/safego"
)

func init() {
	llm.RegisterFactory(entity.ProviderOpenAI, func(deps llm.Deps) llm.Adapter {
		return New(deps)
	})
}

// Adapter implements llm.Adapter against POST {base}/responses.
type Adapter struct {
	client *httpstream.Client
	logger *zap.Logger
}

func New(deps llm.Deps) *Adapter {
	return &Adapter{
		client: deps.Client,
		logger: deps.Logger.With(zap.String("adapter", "openai")),
	}
}

func (a *Adapter) Provider() entity.Provider {
	return entity.ProviderOpenAI
}

func (a *Adapter) Stream(ctx context.Context, model entity.Model, chat entity.Context, opts llm.StreamOptions) (*llm.EventStream, error) {
	if model.Provider != entity.ProviderOpenAI {
		return nil, errors.Unsupportedf("Expected provider %s", entity.ProviderOpenAI)
	}
	key, err := llm.ResolveAPIKey(entity.ProviderOpenAI, opts)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(buildRequest(model, chat, opts, false))
	if err != nil {
		return nil, errors.Decodingf("encode request: %v", err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Accept", "text/event-stream")
	headers.Set("Authorization", "Bearer "+key)
	mergeHeaders(headers, opts.Headers)

	stream, err := a.client.Stream(ctx, httpstream.Request{
		Method:  http.MethodPost,
		URL:     model.ResolveBaseURL() + "/responses",
		Headers: headers,
		Body:    body,
		Timeout: opts.Timeout,
	})
	if err != nil {
		return nil, err
	}

	a.logger.Debug("Responses stream opened", zap.String("model", model.ID))
	es := llm.NewEventStream()
	safego.Go(a.logger, "openai-stream", func() {
		consumeResponses(ctx, es, stream, entity.ProviderOpenAI, model.ID)
	})
	return es, nil
}

func mergeHeaders(h, extra http.Header) {
	for name, values := range extra {
		for _, v := range values {
			h.Add(name, v)
		}
	}
}

// buildRequest shapes the Responses body. The codex variant carries the
// system prompt under instructions and plain-string message content.
func buildRequest(model entity.Model, chat entity.Context, opts llm.StreamOptions, codex bool) apiRequest {
	req := apiRequest{
		Model:       model.ID,
		Stream:      true,
		Store:       false,
		Temperature: opts.Temperature,
	}
	if opts.MaxTokens > 0 {
		req.MaxOutputTokens = opts.MaxTokens
	}
	if opts.SessionID != "" {
		req.PromptCacheKey = opts.SessionID
	}
	if opts.ReasoningEffort != "" {
		req.Reasoning = &apiReasoning{Effort: opts.ReasoningEffort}
	}
	for _, tool := range chat.Tools {
		req.Tools = append(req.Tools, apiTool{
			Type:        "function",
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}

	if codex {
		req.Instructions = chat.SystemPrompt
	} else if chat.SystemPrompt != "" {
		req.Input = append(req.Input, inputItem{Role: "system", Content: chat.SystemPrompt})
	}

	for _, m := range chat.Messages {
		switch m.Role {
		case entity.RoleUser:
			req.Input = appendUserItem(req.Input, m.User, codex)
		case entity.RoleAssistant:
			req.Input = appendAssistantItems(req.Input, m.Assistant, codex)
		case entity.RoleToolResult:
			req.Input = append(req.Input, inputItem{
				Type:   "function_call_output",
				CallID: splitCall(m.ToolResult.ToolCallID),
				Output: m.ToolResult.Text(),
			})
		}
	}
	return req
}

func appendUserItem(items []inputItem, m *entity.UserMessage, codex bool) []inputItem {
	text := joinText(m.Content)
	if text == "" {
		return items
	}
	if codex {
		return append(items, inputItem{Role: "user", Content: text})
	}
	return append(items, inputItem{
		Role:    "user",
		Content: []contentPart{{Type: "input_text", Text: text}},
	})
}

func appendAssistantItems(items []inputItem, m *entity.AssistantMessage, codex bool) []inputItem {
	for _, b := range m.Content {
		switch b.Type {
		case entity.BlockText:
			if b.Text == "" {
				continue
			}
			if codex {
				items = append(items, inputItem{Role: "assistant", Content: b.Text})
				continue
			}
			items = append(items, inputItem{
				Type:    "message",
				Role:    "assistant",
				Status:  "completed",
				Content: []contentPart{{Type: "output_text", Text: b.Text}},
			})
		case entity.BlockToolCall:
			if b.ToolCall == nil {
				continue
			}
			callID, itemID := llm.SplitCallID(b.ToolCall.ID)
			args, err := json.Marshal(b.ToolCall.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			items = append(items, inputItem{
				Type:      "function_call",
				ID:        itemID,
				CallID:    callID,
				Name:      b.ToolCall.Name,
				Arguments: string(args),
			})
		}
	}
	return items
}

func splitCall(composite string) string {
	callID, _ := llm.SplitCallID(composite)
	return callID
}

func joinText(blocks []entity.ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == entity.BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// blockState tracks one output item under reconstruction.
type blockState struct {
	contentIndex int
	args         strings.Builder
	isTool       bool
}

// consumeResponses drives the shared Responses event loop for both the
// standard and Codex adapters.
func consumeResponses(ctx context.Context, es *llm.EventStream, stream *httpstream.Stream, provider entity.Provider, modelID string) {
	defer stream.Close()

	agg := &entity.AssistantMessage{
		Provider:   provider,
		ModelID:    modelID,
		StopReason: entity.StopStop,
		Timestamp:  time.Now(),
	}
	es.Emit(ctx, entity.AssistantEvent{Type: entity.AssistantEventStart, Message: agg.Clone()})

	blocks := make(map[int]*blockState)
	current := -1
	nextSynthetic := 0

	finalize := func() {
		final := agg.Clone()
		es.Emit(ctx, entity.AssistantEvent{Type: entity.AssistantEventDone, Message: final})
		es.Finish(final, nil)
	}

	sc := sse.NewScanner(stream)
	for sc.Scan() {
		frame := sc.Frame()
		var ev streamEvent
		if err := json.Unmarshal([]byte(frame.Data), &ev); err != nil {
			es.Finish(nil, errors.Decodingf("malformed event payload: %v", err))
			return
		}
		name := frame.Event
		if name == "" {
			name = ev.Type
		}

		switch name {
		case "response.output_item.added":
			idx := nextSynthetic
			if ev.OutputIndex != nil {
				idx = *ev.OutputIndex
			}
			if idx >= nextSynthetic {
				nextSynthetic = idx + 1
			}
			current = idx
			if ev.Item == nil {
				continue
			}
			st := &blockState{contentIndex: len(agg.Content)}
			switch ev.Item.Type {
			case "message":
				agg.Content = append(agg.Content, entity.TextBlock(""))
			case "function_call":
				st.isTool = true
				agg.Content = append(agg.Content, entity.ToolCallBlock(entity.ToolCall{
					ID:        llm.JoinCallID(ev.Item.CallID, ev.Item.ID),
					Name:      ev.Item.Name,
					Arguments: jsonval.Object(nil),
				}))
			default:
				continue
			}
			blocks[idx] = st

		case "response.output_text.delta":
			st := blocks[pickIndex(ev.OutputIndex, current)]
			if st == nil || st.isTool || ev.Delta == "" {
				continue
			}
			agg.Content[st.contentIndex].Text += ev.Delta
			es.Emit(ctx, entity.AssistantEvent{
				Type:    entity.AssistantEventTextDelta,
				Delta:   ev.Delta,
				Message: agg.Clone(),
			})

		case "response.function_call_arguments.delta":
			if st := blocks[pickIndex(ev.OutputIndex, current)]; st != nil && st.isTool {
				st.args.WriteString(ev.Delta)
			}

		case "response.function_call_arguments.done":
			if ev.Arguments == "" {
				continue
			}
			if st := blocks[pickIndex(ev.OutputIndex, current)]; st != nil && st.isTool {
				st.args.Reset()
				st.args.WriteString(ev.Arguments)
			}

		case "response.output_item.done":
			idx := pickIndex(ev.OutputIndex, current)
			if st := blocks[idx]; st != nil && st.isTool {
				call := agg.Content[st.contentIndex].ToolCall
				if parsed, ok := jsonval.ParseLenient(st.args.String()); ok {
					call.Arguments = parsed
				} else {
					call.Arguments = jsonval.Object(nil)
				}
			}
			if idx == current {
				current = -1
			}

		case "response.completed":
			if ev.Response != nil {
				recordUsage(agg, ev.Response.Usage)
				agg.StopReason = mapStatus(ev.Response.Status)
			}
			if len(agg.ToolCalls()) > 0 {
				agg.StopReason = entity.StopToolUse
			}
			finalize()
			return

		case "response.failed", "error":
			es.Finish(nil, errors.HTTPStatus(http.StatusInternalServerError, frame.Data))
			return
		}
	}

	if err := sc.Err(); err != nil {
		if ctx.Err() != nil {
			agg.StopReason = entity.StopAborted
			es.Finish(agg.Clone(), errors.Transport("stream aborted", ctx.Err()))
			return
		}
		es.Finish(nil, errors.Decodingf("read stream: %v", err))
		return
	}

	// Stream ended without a terminal response.completed.
	if agg.StopReason == entity.StopStop && len(agg.ToolCalls()) > 0 {
		agg.StopReason = entity.StopToolUse
	}
	finalize()
}

func pickIndex(idx *int, current int) int {
	if idx != nil {
		return *idx
	}
	return current
}

func recordUsage(agg *entity.AssistantMessage, u *apiUsage) {
	if u == nil {
		return
	}
	agg.Usage = &entity.Usage{
		Input:  u.InputTokens,
		Output: u.OutputTokens,
		Total:  u.TotalTokens,
	}
	if agg.Usage.Total == 0 {
		agg.Usage.Total = agg.Usage.Input + agg.Usage.Output
	}
}

func mapStatus(s string) entity.StopReason {
	switch s {
	case "completed":
		return entity.StopStop
	case "incomplete":
		return entity.StopLength
	case "failed", "cancelled":
		return entity.StopError
	default:
		return entity.StopStop
	}
}
