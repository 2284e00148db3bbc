package eventbus

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/skiff-ai/skiff/internal/domain/entity"
)

func publishN(bus *SessionBus, kind entity.AgentEventType, n int) {
	for i := 0; i < n; i++ {
		bus.Publish(entity.AgentEvent{Type: kind, Delta: string(rune('a' + i))})
	}
}

func TestSessionBus_DeliversInOrder(t *testing.T) {
	bus := NewSessionBus(zap.NewNop(), "s1", 16)
	defer bus.Close()

	sub := bus.Subscribe()
	defer sub.Close()

	publishN(bus, entity.EventMessageUpdate, 5)

	for i := 0; i < 5; i++ {
		select {
		case ev := <-sub.Events():
			if ev.Delta != string(rune('a'+i)) {
				t.Fatalf("event %d out of order: %q", i, ev.Delta)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestSessionBus_DropsOldestOnOverflow(t *testing.T) {
	bus := NewSessionBus(zap.NewNop(), "s1", 3)
	defer bus.Close()

	sub := bus.Subscribe()
	defer sub.Close()

	// Nobody reads while 6 events arrive; the backlog holds 3 plus at
	// most one event parked in the pump.
	publishN(bus, entity.EventMessageUpdate, 6)

	deadline := time.After(time.Second)
	var got []string
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatal("subscription closed unexpectedly")
			}
			got = append(got, ev.Delta)
			if ev.Delta == "f" {
				if sub.Dropped() == 0 {
					t.Fatal("expected dropped count > 0")
				}
				return
			}
		case <-deadline:
			t.Fatalf("never saw the newest event, got %v", got)
		}
	}
}

func TestSessionBus_SubscribeSeesOnlyLaterEvents(t *testing.T) {
	bus := NewSessionBus(zap.NewNop(), "s1", 16)
	defer bus.Close()

	bus.Publish(entity.AgentEvent{Type: entity.EventTurnStart})

	sub := bus.Subscribe()
	defer sub.Close()

	bus.Publish(entity.AgentEvent{Type: entity.EventTurnEnd})

	select {
	case ev := <-sub.Events():
		if ev.Type != entity.EventTurnEnd {
			t.Fatalf("expected only the post-subscribe event, got %s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSessionBus_MultipleSubscribers(t *testing.T) {
	bus := NewSessionBus(zap.NewNop(), "s1", 16)
	defer bus.Close()

	first := bus.Subscribe()
	second := bus.Subscribe()
	defer first.Close()
	defer second.Close()

	bus.Publish(entity.AgentEvent{Type: entity.EventAgentStart})

	for _, sub := range []*Subscription{first, second} {
		select {
		case ev := <-sub.Events():
			if ev.Type != entity.EventAgentStart {
				t.Fatalf("unexpected event: %s", ev.Type)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber missed the event")
		}
	}
}

func TestSessionBus_CloseEndsFeeds(t *testing.T) {
	bus := NewSessionBus(zap.NewNop(), "s1", 16)
	sub := bus.Subscribe()

	bus.Close()

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("feed did not close")
	}

	// Publishing after close is a no-op.
	bus.Publish(entity.AgentEvent{Type: entity.EventAgentEnd})

	// Subscribing after close yields an already-closed feed.
	late := bus.Subscribe()
	if _, ok := <-late.Events(); ok {
		t.Fatal("late subscription should be closed")
	}
}
