package service

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/skiff-ai/skiff/internal/domain/entity"
	"github.com/skiff-ai/skiff/internal/domain/repository"
)

// CompactionPolicy decides when a transcript prefix is folded into a
// summary entry. The trigger is token-based: provider-reported usage
// against the configured context budget.
type CompactionPolicy struct {
	// ContextLimit is the model's context window in tokens. Zero
	// disables compaction.
	ContextLimit int
	// TriggerRatio is the usage fraction that triggers compaction.
	TriggerRatio float64
	// KeepRecent transcript entries survive every compaction.
	KeepRecent int
}

// DefaultCompactionPolicy returns production defaults.
func DefaultCompactionPolicy() CompactionPolicy {
	return CompactionPolicy{
		ContextLimit: 128000,
		TriggerRatio: 0.85,
		KeepRecent:   10,
	}
}

// ShouldCompact reports whether the last turn's usage pushed the session
// over the compaction threshold and there is a foldable prefix.
func (p CompactionPolicy) ShouldCompact(state *entity.SessionState, usage *entity.Usage) bool {
	if p.ContextLimit <= 0 || usage == nil {
		return false
	}
	if float64(usage.Total) < p.TriggerRatio*float64(p.ContextLimit) {
		return false
	}
	return len(state.Transcript) > p.KeepRecent+1
}

// BuildCompaction summarizes every entry except the KeepRecent newest
// into one request. Reports ok=false when no prefix can be folded.
func (p CompactionPolicy) BuildCompaction(state *entity.SessionState) (repository.CompactionRequest, bool) {
	keep := p.KeepRecent
	if keep < 0 {
		keep = 0
	}
	cut := len(state.Transcript) - keep
	if cut <= 1 {
		return repository.CompactionRequest{}, false
	}
	prefix := state.Transcript[:cut]
	summary := SummarizeTranscript(prefix)
	return repository.CompactionRequest{
		DropThroughSeq: prefix[len(prefix)-1].Seq,
		Summary: entity.NewUserMessage(
			[]entity.ContentBlock{entity.TextBlock(summary)},
			time.Now(),
		),
	}, true
}

// SummarizeTranscript renders a heuristic summary of the entries being
// folded: user asks verbatim (truncated), assistant text truncated, tool
// activity collapsed to name and outcome.
func SummarizeTranscript(entries []entity.TranscriptEntry) string {
	const maxLine = 200

	var sb strings.Builder
	sb.WriteString("[Conversation summary]\n")
	sb.WriteString(fmt.Sprintf("The first %d entries of this conversation were compacted:\n", len(entries)))

	for _, entry := range entries {
		msg := entry.Message
		switch msg.Role {
		case entity.RoleUser:
			var texts []string
			for _, b := range msg.User.Content {
				if b.Type == entity.BlockText && b.Text != "" {
					texts = append(texts, b.Text)
				}
			}
			sb.WriteString("- user: " + truncateLine(strings.Join(texts, " "), maxLine) + "\n")
		case entity.RoleAssistant:
			if text := msg.Assistant.Text(); text != "" {
				sb.WriteString("- assistant: " + truncateLine(text, maxLine) + "\n")
			}
			for _, call := range msg.Assistant.ToolCalls() {
				sb.WriteString("- assistant called tool " + call.Name + "\n")
			}
		case entity.RoleToolResult:
			outcome := "ok"
			if msg.ToolResult.IsError {
				outcome = "error"
			}
			sb.WriteString(fmt.Sprintf("- tool %s → %s: %s\n",
				msg.ToolResult.ToolName, outcome, truncateLine(msg.ToolResult.Text(), maxLine)))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func truncateLine(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	// Back off to a rune boundary so the cut never splits a multi-byte
	// sequence.
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
