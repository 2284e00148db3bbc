package application

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/skiff-ai/skiff/internal/domain/entity"
	"github.com/skiff-ai/skiff/internal/domain/service"
	"github.com/skiff-ai/skiff/internal/domain/tool"
	"github.com/skiff-ai/skiff/internal/infrastructure/monitoring"
	"github.com/skiff-ai/skiff/internal/infrastructure/persistence"
)

// scriptedStream replays one canned assistant turn.
type scriptedStream struct {
	events chan entity.AssistantEvent
	final  *entity.AssistantMessage
}

func newScriptedStream(text string) *scriptedStream {
	final := &entity.AssistantMessage{
		Content:    []entity.ContentBlock{entity.TextBlock(text)},
		StopReason: entity.StopStop,
		Usage:      &entity.Usage{Input: 10, Output: 5, Total: 15},
		Timestamp:  time.Now(),
	}
	events := make(chan entity.AssistantEvent, 3)
	events <- entity.AssistantEvent{Type: entity.AssistantEventStart, Message: &entity.AssistantMessage{}}
	events <- entity.AssistantEvent{Type: entity.AssistantEventTextDelta, Delta: text, Message: final.Clone()}
	events <- entity.AssistantEvent{Type: entity.AssistantEventDone, Message: final}
	close(events)
	return &scriptedStream{events: events, final: final}
}

func (s *scriptedStream) Events() <-chan entity.AssistantEvent { return s.events }
func (s *scriptedStream) Result() (*entity.AssistantMessage, error) { return s.final, nil }

type textStreamer struct{ text string }

func (f *textStreamer) Stream(ctx context.Context, chat entity.Context) (service.AssistantStream, error) {
	return newScriptedStream(f.text), nil
}

func newTestManager(t *testing.T) (*Manager, *monitoring.Monitor) {
	t.Helper()
	monitor := monitoring.NewMonitor(zap.NewNop())
	m := NewManager(
		persistence.NewMemoryStore(),
		tool.NewInMemoryRegistry(),
		nil, // registry unused: streamer is replaced below
		ManagerConfig{
			Model: entity.Model{ID: "m", Provider: entity.ProviderOpenAI},
			Agent: service.AgentConfig{SystemPrompt: "test"},
		},
		monitor,
		zap.NewNop(),
	)
	m.streamer = &textStreamer{text: "ok"}
	t.Cleanup(m.Stop)
	return m, monitor
}

func waitIdle(t *testing.T, agent *service.Agent) {
	t.Helper()
	_, sub := agent.Observe()
	defer sub.Close()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if ev.Type == entity.EventCommitted && ev.Commit.Action == entity.CommitMarkIdle {
				return
			}
		case <-deadline:
			t.Fatal("session never went idle")
		}
	}
}

func TestManager_SessionIsLazyAndKeyed(t *testing.T) {
	m, _ := newTestManager(t)

	a1, err := m.Session("s1")
	if err != nil {
		t.Fatal(err)
	}
	again, err := m.Session("s1")
	if err != nil {
		t.Fatal(err)
	}
	if a1 != again {
		t.Fatal("same session id returned a different agent")
	}

	a2, err := m.Session("s2")
	if err != nil {
		t.Fatal(err)
	}
	if a1 == a2 {
		t.Fatal("different session ids share an agent")
	}
	if got := len(m.Sessions()); got != 2 {
		t.Fatalf("sessions = %d, want 2", got)
	}
}

func TestManager_RunsTurnAndCountsMetrics(t *testing.T) {
	m, monitor := newTestManager(t)

	agent, err := m.Session("s1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := agent.Enqueue(context.Background(), []entity.ContentBlock{entity.TextBlock("hi")}, entity.LaneSteer); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, agent)

	st, sub := agent.Observe()
	sub.Close()
	if len(st.Transcript) != 2 {
		t.Fatalf("transcript = %d entries, want user + assistant", len(st.Transcript))
	}

	// The metrics observer tails the same bus asynchronously.
	deadline := time.After(2 * time.Second)
	for {
		stats := monitor.Stats()
		if stats["turns_total"] == uint64(1) && stats["tokens_used"] == uint64(15) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("metrics never caught up: %+v", stats)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestManager_StopRefusesNewSessions(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.Session("s1"); err != nil {
		t.Fatal(err)
	}

	m.Stop()
	if _, err := m.Session("s2"); err == nil {
		t.Fatal("Session after Stop must fail")
	}
	// Stop is idempotent.
	m.Stop()
}
