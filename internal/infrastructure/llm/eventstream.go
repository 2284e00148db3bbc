package llm

import (
	"context"

	"github.com/skiff-ai/skiff/internal/domain/entity"
)

// EventStream carries one streaming completion from an adapter to its
// consumer. Events arrive on Events; after that channel closes, Result
// returns the final aggregate or the failure that ended the stream.
type EventStream struct {
	events chan entity.AssistantEvent
	done   chan struct{}
	result *entity.AssistantMessage
	err    error
}

// NewEventStream builds an open stream. Adapters produce into it from a
// goroutine and must call Finish exactly once.
func NewEventStream() *EventStream {
	return &EventStream{
		events: make(chan entity.AssistantEvent, 16),
		done:   make(chan struct{}),
	}
}

// Events returns the event channel. It closes when the stream finishes.
func (s *EventStream) Events() <-chan entity.AssistantEvent {
	return s.events
}

// Result blocks until the stream finishes and returns the aggregated
// message or the stream failure.
func (s *EventStream) Result() (*entity.AssistantMessage, error) {
	<-s.done
	return s.result, s.err
}

// Emit delivers ev to the consumer, giving up when ctx is cancelled so a
// vanished consumer cannot wedge the producer.
func (s *EventStream) Emit(ctx context.Context, ev entity.AssistantEvent) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

// Finish seals the stream with the final message or error.
func (s *EventStream) Finish(msg *entity.AssistantMessage, err error) {
	s.result = msg
	s.err = err
	close(s.events)
	close(s.done)
}
