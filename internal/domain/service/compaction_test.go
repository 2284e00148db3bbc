package service

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/skiff-ai/skiff/internal/domain/entity"
	"github.com/skiff-ai/skiff/pkg/jsonval"
)

func transcriptOf(n int) *entity.SessionState {
	st := entity.NewSessionState("s1")
	for i := 0; i < n; i++ {
		st.Transcript = append(st.Transcript, entity.TranscriptEntry{
			ID:  "e",
			Seq: int64(i + 1),
			Message: entity.NewUserMessage(
				[]entity.ContentBlock{entity.TextBlock("msg")}, time.Now()),
		})
	}
	return st
}

func TestCompactionPolicy_ShouldCompact(t *testing.T) {
	p := CompactionPolicy{ContextLimit: 1000, TriggerRatio: 0.8, KeepRecent: 2}

	if p.ShouldCompact(transcriptOf(10), nil) {
		t.Fatal("no usage: must not compact")
	}
	if p.ShouldCompact(transcriptOf(10), &entity.Usage{Total: 799}) {
		t.Fatal("below threshold: must not compact")
	}
	if !p.ShouldCompact(transcriptOf(10), &entity.Usage{Total: 800}) {
		t.Fatal("at threshold: must compact")
	}
	if p.ShouldCompact(transcriptOf(3), &entity.Usage{Total: 1000}) {
		t.Fatal("nothing foldable: must not compact")
	}
	disabled := CompactionPolicy{ContextLimit: 0, TriggerRatio: 0.8, KeepRecent: 2}
	if disabled.ShouldCompact(transcriptOf(10), &entity.Usage{Total: 999999}) {
		t.Fatal("zero limit disables compaction")
	}
}

func TestCompactionPolicy_BuildCompaction(t *testing.T) {
	p := CompactionPolicy{ContextLimit: 1000, TriggerRatio: 0.8, KeepRecent: 3}
	st := transcriptOf(10)

	req, ok := p.BuildCompaction(st)
	if !ok {
		t.Fatal("expected a compaction request")
	}
	if req.DropThroughSeq != 7 {
		t.Fatalf("DropThroughSeq = %d, want 7", req.DropThroughSeq)
	}
	if req.Summary.Role != entity.RoleUser {
		t.Fatalf("summary role = %s", req.Summary.Role)
	}

	if _, ok := p.BuildCompaction(transcriptOf(4)); ok {
		t.Fatal("4 entries with KeepRecent=3 leaves nothing to fold")
	}
}

func TestSummarizeTranscript(t *testing.T) {
	entries := []entity.TranscriptEntry{
		{Seq: 1, Message: entity.NewUserMessage(
			[]entity.ContentBlock{entity.TextBlock("list the files")}, time.Now())},
		{Seq: 2, Message: entity.NewAssistantMessage(entity.AssistantMessage{
			Content: []entity.ContentBlock{
				entity.TextBlock("Listing now."),
				entity.ToolCallBlock(entity.ToolCall{ID: "c1", Name: "ls", Arguments: jsonval.Object(nil)}),
			},
			StopReason: entity.StopToolUse,
		})},
		{Seq: 3, Message: entity.NewToolResultMessage(entity.ToolResultMessage{
			ToolCallID: "c1",
			ToolName:   "ls",
			Content:    []entity.ContentBlock{entity.TextBlock(strings.Repeat("f", 500))},
			IsError:    false,
		})},
	}

	summary := SummarizeTranscript(entries)
	for _, want := range []string{
		"user: list the files",
		"assistant called tool ls",
		"tool ls → ok",
	} {
		if !strings.Contains(summary, want) {
			t.Fatalf("summary missing %q:\n%s", want, summary)
		}
	}
	for _, line := range strings.Split(summary, "\n") {
		if len(line) > 250 {
			t.Fatalf("line not truncated: %d chars", len(line))
		}
	}
}

func TestTruncateLine_RuneBoundary(t *testing.T) {
	// A cut landing inside a multi-byte rune must back off to its start.
	long := strings.Repeat("é", 100) // 2 bytes each
	got := truncateLine(long, 5)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated string is not valid UTF-8: %q", got)
	}
	if want := strings.Repeat("é", 2) + "…"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got := truncateLine("short", 10); got != "short" {
		t.Fatalf("short string changed: %q", got)
	}
}
