// Package anthropic streams completions over the Anthropic Messages API.
package anthropic

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

const (
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 8192
)

func init() {
	llm.RegisterFactory(entity.ProviderAnthropic, func(deps llm.Deps) llm.Adapter {
		return New(deps)
	})
}

// Adapter implements llm.Adapter for the Anthropic Messages protocol.
type Adapter struct {
	client *httpstream.Client
	logger *zap.Logger
}

// New builds the adapter.
func New(deps llm.Deps) *Adapter {
	return &Adapter{
		client: deps.Client,
		logger: deps.Logger.With(zap.String("adapter", "anthropic")),
	}
}

func (a *Adapter) Provider() entity.Provider {
	return entity.ProviderAnthropic
}

// Stream opens a streaming Messages call.
func (a *Adapter) Stream(ctx context.Context, model entity.Model, chat entity.Context, opts llm.StreamOptions) (*llm.EventStream, error) {
	if model.Provider != entity.ProviderAnthropic {
		return nil, errors.Unsupportedf("Expected provider %s", entity.ProviderAnthropic)
	}
	key, err := llm.ResolveAPIKey(entity.ProviderAnthropic, opts)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(buildRequest(model, chat, opts))
	if err != nil {
		return nil, errors.Decodingf("encode request: %v", err)
	}

	stream, err := a.client.Stream(ctx, httpstream.Request{
		Method:  http.MethodPost,
		URL:     model.ResolveBaseURL() + "/messages",
		Headers: baseHeaders(key, opts.Headers),
		Body:    body,
		Timeout: opts.Timeout,
	})
	if err != nil {
		return nil, err
	}

	a.logger.Debug("Messages stream opened", zap.String("model", model.ID))
	es := llm.NewEventStream()
	safego.Go(a.logger, "anthropic-stream", func() {
		a.consume(ctx, es, stream, model)
	})
	return es, nil
}

func baseHeaders(key string, extra http.Header) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "text/event-stream")
	h.Set("x-api-key", key)
	h.Set("anthropic-version", apiVersion)
	for name, values := range extra {
		for _, v := range values {
			h.Add(name, v)
		}
	}
	return h
}

// buildRequest shapes the provider body. Consecutive tool results
// collapse into one user message carrying multiple tool_result blocks.
func buildRequest(model entity.Model, chat entity.Context, opts llm.StreamOptions) apiRequest {
	req := apiRequest{
		Model:       model.ID,
		Stream:      true,
		MaxTokens:   defaultMaxTokens,
		System:      chat.SystemPrompt,
		Temperature: opts.Temperature,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	for _, tool := range chat.Tools {
		req.Tools = append(req.Tools, apiTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}

	var msgs []apiMessage
	lastWasToolResult := false
	for _, m := range chat.Messages {
		switch m.Role {
		case entity.RoleUser:
			if blocks := userBlocks(m.User.Content); len(blocks) > 0 {
				msgs = append(msgs, apiMessage{Role: "user", Content: blocks})
			}
			lastWasToolResult = false
		case entity.RoleAssistant:
			if blocks := assistantBlocks(m.Assistant); len(blocks) > 0 {
				msgs = append(msgs, apiMessage{Role: "assistant", Content: blocks})
			}
			lastWasToolResult = false
		case entity.RoleToolResult:
			block := apiBlock{
				Type:      "tool_result",
				ToolUseID: m.ToolResult.ToolCallID,
				Content:   m.ToolResult.Text(),
				IsError:   m.ToolResult.IsError,
			}
			if lastWasToolResult && len(msgs) > 0 {
				msgs[len(msgs)-1].Content = append(msgs[len(msgs)-1].Content, block)
			} else {
				msgs = append(msgs, apiMessage{Role: "user", Content: []apiBlock{block}})
			}
			lastWasToolResult = true
		}
	}
	req.Messages = msgs
	return req
}

func userBlocks(content []entity.ContentBlock) []apiBlock {
	var blocks []apiBlock
	for _, b := range content {
		if b.Type == entity.BlockText && b.Text != "" {
			blocks = append(blocks, apiBlock{Type: "text", Text: b.Text})
		}
	}
	return blocks
}

func assistantBlocks(m *entity.AssistantMessage) []apiBlock {
	var blocks []apiBlock
	for _, b := range m.Content {
		switch b.Type {
		case entity.BlockText:
			if b.Text != "" {
				blocks = append(blocks, apiBlock{Type: "text", Text: b.Text})
			}
		case entity.BlockToolCall:
			if b.ToolCall == nil {
				continue
			}
			args := b.ToolCall.Arguments
			blocks = append(blocks, apiBlock{
				Type:  "tool_use",
				ID:    b.ToolCall.ID,
				Name:  b.ToolCall.Name,
				Input: &args,
			})
		}
	}
	return blocks
}

// blockState tracks the reconstruction of one content block.
type blockState struct {
	contentIndex int
	args         strings.Builder
	isTool       bool
}

func (a *Adapter) consume(ctx context.Context, es *llm.EventStream, stream *httpstream.Stream, model entity.Model) {
	defer stream.Close()

	agg := &entity.AssistantMessage{
		Provider:   entity.ProviderAnthropic,
		ModelID:    model.ID,
		StopReason: entity.StopStop,
		Timestamp:  time.Now(),
	}
	es.Emit(ctx, entity.AssistantEvent{Type: entity.AssistantEventStart, Message: agg.Clone()})

	// Provider block index → reconstruction state. The event's index is
	// authoritative when present; current covers payloads without one.
	blocks := make(map[int]*blockState)
	current := -1
	nextSynthetic := 0

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
		case "message_start":
			if ev.Message != nil && ev.Message.Usage != nil {
				recordUsage(agg, ev.Message.Usage)
			}

		case "content_block_start":
			idx := nextSynthetic
			if ev.Index != nil {
				idx = *ev.Index
			}
			if idx >= nextSynthetic {
				nextSynthetic = idx + 1
			}
			current = idx
			if ev.ContentBlock == nil {
				continue
			}
			st := &blockState{contentIndex: len(agg.Content)}
			switch ev.ContentBlock.Type {
			case "text":
				agg.Content = append(agg.Content, entity.TextBlock(ev.ContentBlock.Text))
			case "tool_use":
				st.isTool = true
				args := jsonval.Object(nil)
				if ev.ContentBlock.Input != nil && !ev.ContentBlock.Input.IsNull() {
					args = *ev.ContentBlock.Input
				}
				agg.Content = append(agg.Content, entity.ToolCallBlock(entity.ToolCall{
					ID:        ev.ContentBlock.ID,
					Name:      ev.ContentBlock.Name,
					Arguments: args,
				}))
			default:
				continue
			}
			blocks[idx] = st

		case "content_block_delta":
			st := blocks[pickIndex(ev.Index, current)]
			if st == nil || ev.Delta == nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				agg.Content[st.contentIndex].Text += ev.Delta.Text
				es.Emit(ctx, entity.AssistantEvent{
					Type:    entity.AssistantEventTextDelta,
					Delta:   ev.Delta.Text,
					Message: agg.Clone(),
				})
			case "input_json_delta":
				st.args.WriteString(ev.Delta.PartialJSON)
			}

		case "content_block_stop":
			idx := pickIndex(ev.Index, current)
			if st := blocks[idx]; st != nil && st.isTool {
				finalizeToolArgs(agg, st)
			}
			if idx == current {
				current = -1
			}

		case "message_delta":
			if ev.Delta != nil && ev.Delta.StopReason != "" {
				agg.StopReason = mapStopReason(ev.Delta.StopReason)
			}
			if ev.Usage != nil {
				recordUsage(agg, ev.Usage)
			}

		case "message_stop":
			if agg.StopReason == entity.StopStop && len(agg.ToolCalls()) > 0 {
				agg.StopReason = entity.StopToolUse
			}

		case "ping":
			// keepalive

		case "error":
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

	final := agg.Clone()
	es.Emit(ctx, entity.AssistantEvent{Type: entity.AssistantEventDone, Message: final})
	es.Finish(final, nil)
}

// finalizeToolArgs parses the accumulated partial JSON. The input from
// content_block_start survives when no deltas arrived; an unparseable
// buffer falls back to the empty object, never to null.
func finalizeToolArgs(agg *entity.AssistantMessage, st *blockState) {
	call := agg.Content[st.contentIndex].ToolCall
	buffered := st.args.String()
	if strings.TrimSpace(buffered) == "" {
		return
	}
	if parsed, ok := jsonval.ParseLenient(buffered); ok {
		call.Arguments = parsed
		return
	}
	call.Arguments = jsonval.Object(nil)
}

func pickIndex(idx *int, current int) int {
	if idx != nil {
		return *idx
	}
	return current
}

func recordUsage(agg *entity.AssistantMessage, u *eventUsage) {
	if agg.Usage == nil {
		agg.Usage = &entity.Usage{}
	}
	if u.InputTokens > 0 {
		agg.Usage.Input = u.InputTokens
	}
	if u.OutputTokens > 0 {
		agg.Usage.Output = u.OutputTokens
	}
	agg.Usage.Total = agg.Usage.Input + agg.Usage.Output
}

func mapStopReason(s string) entity.StopReason {
	switch s {
	case "end_turn":
		return entity.StopStop
	case "max_tokens":
		return entity.StopLength
	case "tool_use":
		return entity.StopToolUse
	case "stop_sequence":
		return entity.StopStop
	case "refusal", "sensitive":
		return entity.StopError
	default:
		return entity.StopStop
	}
}
