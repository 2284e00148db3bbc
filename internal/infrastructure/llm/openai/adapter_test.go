package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/skiff-ai/skiff/internal/domain/entity"
	"github.com/skiff-ai/skiff/internal/infrastructure/httpstream"
	"github.com/skiff-ai/skiff/internal/infrastructure/llm"
	"github.com/skiff-ai/skiff/pkg/errors"
	"github.com/skiff-ai/skiff/pkg/jsonval"
)

func testDeps(t *testing.T) llm.Deps {
	t.Helper()
	logger := zap.NewNop()
	return llm.Deps{Client: httpstream.NewClient(logger), Logger: logger}
}

func sseHandler(t *testing.T, frames []string, check func(r *http.Request, body []byte)) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read request body: %v", err)
		}
		if check != nil {
			check(r, body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		for _, frame := range frames {
			fmt.Fprint(w, frame)
			fl.Flush()
		}
	}
}

func frame(event, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
}

func collect(t *testing.T, es *llm.EventStream) ([]entity.AssistantEvent, *entity.AssistantMessage, error) {
	t.Helper()
	var events []entity.AssistantEvent
	for ev := range es.Events() {
		events = append(events, ev)
	}
	msg, err := es.Result()
	return events, msg, err
}

func TestStream_TextAndRequestShape(t *testing.T) {
	frames := []string{
		frame("response.created", `{"type":"response.created"}`),
		frame("response.output_item.added", `{"type":"response.output_item.added","output_index":0,"item":{"id":"msg_1","type":"message"}}`),
		frame("response.output_text.delta", `{"type":"response.output_text.delta","output_index":0,"delta":"Hello"}`),
		frame("response.output_text.delta", `{"type":"response.output_text.delta","output_index":0,"delta":" world"}`),
		frame("response.output_item.done", `{"type":"response.output_item.done","output_index":0}`),
		frame("response.completed", `{"type":"response.completed","response":{"status":"completed","usage":{"input_tokens":7,"output_tokens":2,"total_tokens":9}}}`),
	}

	var gotPath, gotAuth string
	var gotBody apiRequest
	server := httptest.NewServer(sseHandler(t, frames, func(r *http.Request, body []byte) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
	}))
	defer server.Close()

	a := New(testDeps(t))
	model := entity.Model{ID: "gpt-5", Provider: entity.ProviderOpenAI, BaseURL: server.URL}
	chat := entity.Context{
		SystemPrompt: "Be helpful.",
		Messages:     []entity.Message{entity.NewUserMessage([]entity.ContentBlock{entity.TextBlock("hi")}, time.Now())},
	}

	es, err := a.Stream(context.Background(), model, chat, llm.StreamOptions{APIKey: "sk-test", SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	events, msg, err := collect(t, es)
	if err != nil {
		t.Fatalf("Result failed: %v", err)
	}

	if gotPath != "/responses" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
	if !gotBody.Stream || gotBody.Store {
		t.Fatalf("expected stream=true store=false, got %+v", gotBody)
	}
	if gotBody.PromptCacheKey != "sess-1" {
		t.Fatalf("session id should flow into prompt_cache_key, got %q", gotBody.PromptCacheKey)
	}
	if len(gotBody.Input) != 2 {
		t.Fatalf("expected system + user input items, got %d", len(gotBody.Input))
	}
	if gotBody.Input[0].Role != "system" {
		t.Fatalf("first item should be system, got %+v", gotBody.Input[0])
	}

	if events[0].Type != entity.AssistantEventStart {
		t.Fatalf("first event should be start, got %s", events[0].Type)
	}
	if events[len(events)-1].Type != entity.AssistantEventDone {
		t.Fatalf("last event should be done, got %s", events[len(events)-1].Type)
	}
	if msg.Text() != "Hello world" {
		t.Fatalf("unexpected aggregate text: %q", msg.Text())
	}
	if msg.StopReason != entity.StopStop {
		t.Fatalf("expected stop, got %s", msg.StopReason)
	}
	if msg.Usage == nil || msg.Usage.Total != 9 {
		t.Fatalf("unexpected usage: %+v", msg.Usage)
	}
}

func TestStream_FunctionCallReconstruction(t *testing.T) {
	frames := []string{
		frame("response.output_item.added", `{"type":"response.output_item.added","output_index":0,"item":{"id":"fc_item","type":"function_call","name":"get_weather","call_id":"call_1"}}`),
		frame("response.function_call_arguments.delta", `{"type":"response.function_call_arguments.delta","output_index":0,"delta":"{\"city\":"}`),
		frame("response.function_call_arguments.delta", `{"type":"response.function_call_arguments.delta","output_index":0,"delta":"\"Oslo\"}"}`),
		frame("response.output_item.done", `{"type":"response.output_item.done","output_index":0}`),
		frame("response.completed", `{"type":"response.completed","response":{"status":"completed"}}`),
	}
	server := httptest.NewServer(sseHandler(t, frames, nil))
	defer server.Close()

	a := New(testDeps(t))
	model := entity.Model{ID: "gpt-5", Provider: entity.ProviderOpenAI, BaseURL: server.URL}

	es, err := a.Stream(context.Background(), model, entity.Context{}, llm.StreamOptions{APIKey: "k"})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	_, msg, err := collect(t, es)
	if err != nil {
		t.Fatalf("Result failed: %v", err)
	}

	calls := msg.ToolCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(calls))
	}
	if calls[0].ID != "call_1|fc_item" {
		t.Fatalf("expected composite call id, got %q", calls[0].ID)
	}
	city, _ := calls[0].Arguments.Get("city")
	if s, _ := city.AsString(); s != "Oslo" {
		t.Fatalf("arguments not assembled: %v", calls[0].Arguments)
	}
	if msg.StopReason != entity.StopToolUse {
		t.Fatalf("completed with tool calls should map to toolUse, got %s", msg.StopReason)
	}
}

func TestStream_ArgumentsDoneReplacesBuffer(t *testing.T) {
	frames := []string{
		frame("response.output_item.added", `{"type":"response.output_item.added","output_index":0,"item":{"id":"fc_2","type":"function_call","name":"echo","call_id":"call_2"}}`),
		frame("response.function_call_arguments.delta", `{"type":"response.function_call_arguments.delta","output_index":0,"delta":"{\"tex"}`),
		frame("response.function_call_arguments.done", `{"type":"response.function_call_arguments.done","output_index":0,"arguments":"{\"text\":\"final\"}"}`),
		frame("response.output_item.done", `{"type":"response.output_item.done","output_index":0}`),
		frame("response.completed", `{"type":"response.completed","response":{"status":"completed"}}`),
	}
	server := httptest.NewServer(sseHandler(t, frames, nil))
	defer server.Close()

	a := New(testDeps(t))
	model := entity.Model{ID: "gpt-5", Provider: entity.ProviderOpenAI, BaseURL: server.URL}

	es, err := a.Stream(context.Background(), model, entity.Context{}, llm.StreamOptions{APIKey: "k"})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	_, msg, err := collect(t, es)
	if err != nil {
		t.Fatalf("Result failed: %v", err)
	}

	calls := msg.ToolCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(calls))
	}
	text, _ := calls[0].Arguments.Get("text")
	if s, _ := text.AsString(); s != "final" {
		t.Fatalf("arguments.done should replace the buffer, got %v", calls[0].Arguments)
	}
}

func TestStream_MalformedArgumentsFallBackToEmptyObject(t *testing.T) {
	frames := []string{
		frame("response.output_item.added", `{"type":"response.output_item.added","output_index":0,"item":{"id":"fc_3","type":"function_call","name":"echo","call_id":"call_3"}}`),
		frame("response.function_call_arguments.delta", `{"type":"response.function_call_arguments.delta","output_index":0,"delta":"{\"broken"}`),
		frame("response.output_item.done", `{"type":"response.output_item.done","output_index":0}`),
		frame("response.completed", `{"type":"response.completed","response":{"status":"completed"}}`),
	}
	server := httptest.NewServer(sseHandler(t, frames, nil))
	defer server.Close()

	a := New(testDeps(t))
	model := entity.Model{ID: "gpt-5", Provider: entity.ProviderOpenAI, BaseURL: server.URL}

	es, err := a.Stream(context.Background(), model, entity.Context{}, llm.StreamOptions{APIKey: "k"})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	_, msg, err := collect(t, es)
	if err != nil {
		t.Fatalf("Result failed: %v", err)
	}

	calls := msg.ToolCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(calls))
	}
	obj, ok := calls[0].Arguments.AsObject()
	if !ok || len(obj) != 0 {
		t.Fatalf("malformed buffer should fall back to empty object, got %v", calls[0].Arguments)
	}
}

func TestStream_FailedEvent(t *testing.T) {
	frames := []string{
		frame("response.failed", `{"type":"response.failed","response":{"status":"failed","error":{"code":"server_error","message":"boom"}}}`),
	}
	server := httptest.NewServer(sseHandler(t, frames, nil))
	defer server.Close()

	a := New(testDeps(t))
	model := entity.Model{ID: "gpt-5", Provider: entity.ProviderOpenAI, BaseURL: server.URL}

	es, err := a.Stream(context.Background(), model, entity.Context{}, llm.StreamOptions{APIKey: "k"})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	_, _, err = collect(t, es)
	status, ok := errors.IsHTTPStatus(err)
	if !ok || status != http.StatusInternalServerError {
		t.Fatalf("expected httpStatus 500, got %v", err)
	}
}

func TestBuildRequest_RoundTripsToolCalls(t *testing.T) {
	now := time.Now()
	args := jsonval.MustFromAny(map[string]any{"q": "tides"})
	chat := entity.Context{
		Messages: []entity.Message{
			entity.NewUserMessage([]entity.ContentBlock{entity.TextBlock("look it up")}, now),
			entity.NewAssistantMessage(entity.AssistantMessage{
				Provider: entity.ProviderOpenAI,
				ModelID:  "gpt-5",
				Content: []entity.ContentBlock{
					entity.TextBlock("Checking."),
					entity.ToolCallBlock(entity.ToolCall{ID: "call_9|item_9", Name: "search", Arguments: args}),
				},
				StopReason: entity.StopToolUse,
			}),
			entity.NewToolResultMessage(entity.ToolResultMessage{
				ToolCallID: "call_9|item_9",
				ToolName:   "search",
				Content:    []entity.ContentBlock{entity.TextBlock("high at noon")},
			}),
		},
	}
	model := entity.Model{ID: "gpt-5", Provider: entity.ProviderOpenAI}

	req := buildRequest(model, chat, llm.StreamOptions{}, false)

	if len(req.Input) != 4 {
		t.Fatalf("expected 4 input items, got %d", len(req.Input))
	}
	fc := req.Input[2]
	if fc.Type != "function_call" || fc.CallID != "call_9" || fc.ID != "item_9" {
		t.Fatalf("composite id not split: %+v", fc)
	}
	if fc.Arguments != `{"q":"tides"}` {
		t.Fatalf("arguments not serialized: %q", fc.Arguments)
	}
	out := req.Input[3]
	if out.Type != "function_call_output" || out.CallID != "call_9" || out.Output != "high at noon" {
		t.Fatalf("tool result malformed: %+v", out)
	}
}

func TestBuildRequest_SkipsEmptyUserMessages(t *testing.T) {
	chat := entity.Context{
		Messages: []entity.Message{
			entity.NewUserMessage(nil, time.Now()),
			entity.NewUserMessage([]entity.ContentBlock{entity.TextBlock("real")}, time.Now()),
		},
	}
	req := buildRequest(entity.Model{ID: "gpt-5"}, chat, llm.StreamOptions{}, false)
	if len(req.Input) != 1 {
		t.Fatalf("empty user message should be skipped, got %d items", len(req.Input))
	}
}

func TestBuildRequest_CodexShape(t *testing.T) {
	effort := "high"
	chat := entity.Context{
		SystemPrompt: "You are terse.",
		Messages: []entity.Message{
			entity.NewUserMessage([]entity.ContentBlock{entity.TextBlock("hello")}, time.Now()),
			entity.NewAssistantMessage(entity.AssistantMessage{
				Content: []entity.ContentBlock{entity.TextBlock("hi")},
			}),
		},
	}
	req := buildRequest(entity.Model{ID: "gpt-5-codex"}, chat, llm.StreamOptions{ReasoningEffort: effort}, true)

	if req.Instructions != "You are terse." {
		t.Fatalf("system prompt should move to instructions, got %q", req.Instructions)
	}
	if req.Reasoning == nil || req.Reasoning.Effort != "high" {
		t.Fatalf("reasoning effort not forwarded: %+v", req.Reasoning)
	}
	for _, item := range req.Input {
		if _, ok := item.Content.(string); !ok {
			t.Fatalf("codex messages should carry plain-string content, got %T", item.Content)
		}
	}
}

func makeToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

func TestExtractAccountID(t *testing.T) {
	token := makeToken(t, map[string]any{
		"https://api.openai.com/auth": map[string]any{"chatgpt_account_id": "acct_42"},
	})
	id, err := extractAccountID(token)
	if err != nil {
		t.Fatalf("extractAccountID failed: %v", err)
	}
	if id != "acct_42" {
		t.Fatalf("unexpected account id: %q", id)
	}
}

func TestExtractAccountID_Malformed(t *testing.T) {
	cases := map[string]string{
		"not a jwt":     "sk-plain-key",
		"bad base64":    "a.!!!.c",
		"missing claim": makeToken(t, map[string]any{"sub": "user"}),
		"empty id":      makeToken(t, map[string]any{"https://api.openai.com/auth": map[string]any{}}),
	}
	for name, token := range cases {
		if _, err := extractAccountID(token); !errors.IsDecoding(err) {
			t.Fatalf("%s: expected decoding error, got %v", name, err)
		}
	}
}

func TestCodexStream_Headers(t *testing.T) {
	frames := []string{
		frame("response.output_item.added", `{"type":"response.output_item.added","output_index":0,"item":{"id":"msg_c","type":"message"}}`),
		frame("response.output_text.delta", `{"type":"response.output_text.delta","output_index":0,"delta":"ok"}`),
		frame("response.completed", `{"type":"response.completed","response":{"status":"completed"}}`),
	}

	var gotPath string
	got := http.Header{}
	server := httptest.NewServer(sseHandler(t, frames, func(r *http.Request, body []byte) {
		gotPath = r.URL.Path
		got = r.Header.Clone()
	}))
	defer server.Close()

	token := makeToken(t, map[string]any{
		"https://api.openai.com/auth": map[string]any{"chatgpt_account_id": "acct_7"},
	})

	a := NewCodex(testDeps(t))
	model := entity.Model{ID: "gpt-5-codex", Provider: entity.ProviderOpenAICodex, BaseURL: server.URL}

	es, err := a.Stream(context.Background(), model, entity.Context{}, llm.StreamOptions{APIKey: token, SessionID: "sess-9"})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	_, msg, err := collect(t, es)
	if err != nil {
		t.Fatalf("Result failed: %v", err)
	}

	if gotPath != "/codex/responses" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if got.Get("chatgpt-account-id") != "acct_7" {
		t.Fatalf("account id header missing: %q", got.Get("chatgpt-account-id"))
	}
	if got.Get("OpenAI-Beta") != "responses=experimental" || got.Get("originator") != "pi" {
		t.Fatalf("codex beta headers missing: %v", got)
	}
	if got.Get("conversation_id") != "sess-9" || got.Get("session_id") != "sess-9" {
		t.Fatalf("session headers missing: %v", got)
	}
	if msg.Text() != "ok" {
		t.Fatalf("unexpected text: %q", msg.Text())
	}
}

func TestCodexStream_RejectsNonJWTKey(t *testing.T) {
	a := NewCodex(testDeps(t))
	model := entity.Model{ID: "gpt-5-codex", Provider: entity.ProviderOpenAICodex}
	_, err := a.Stream(context.Background(), model, entity.Context{}, llm.StreamOptions{APIKey: "sk-not-a-jwt"})
	if !errors.IsDecoding(err) {
		t.Fatalf("expected decoding error, got %v", err)
	}
}
