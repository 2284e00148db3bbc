package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skiff-ai/skiff/internal/domain/entity"
	"github.com/skiff-ai/skiff/internal/domain/repository"
)

// MemoryStore is the in-process SessionStore. Sessions are created on
// first touch. Entries are immutable once appended; callers must not
// mutate messages after handing them over.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
}

type memorySession struct {
	state     *entity.SessionState
	runStatus entity.RunStatus
	nextSeq   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memorySession)}
}

func (s *MemoryStore) session(sid string) *memorySession {
	rec, ok := s.sessions[sid]
	if !ok {
		rec = &memorySession{
			state:     entity.NewSessionState(sid),
			runStatus: entity.RunStatusIdle,
			nextSeq:   1,
		}
		s.sessions[sid] = rec
	}
	return rec
}

func (s *MemoryStore) MarkRunning(ctx context.Context, sid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session(sid).runStatus = entity.RunStatusRunning
	return nil
}

func (s *MemoryStore) MarkIdle(ctx context.Context, sid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session(sid).runStatus = entity.RunStatusIdle
	return nil
}

// RunStatus reports the stored lifecycle flag. Not part of the domain
// contract; the HTTP surface reads it.
func (s *MemoryStore) RunStatus(sid string) entity.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session(sid).runStatus
}

func (s *MemoryStore) LoadState(ctx context.Context, sid string) (*entity.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session(sid).state.Clone(), nil
}

func (s *MemoryStore) InsertQueueItem(ctx context.Context, sid string, payload []entity.ContentBlock, lane entity.QueueLane) (entity.QueueItem, error) {
	if !entity.ValidLane(lane) {
		return entity.QueueItem{}, fmt.Errorf("unknown lane %q", lane)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.session(sid)
	item := entity.QueueItem{
		ID:         uuid.NewString(),
		EnqueuedAt: time.Now(),
		Payload:    append([]entity.ContentBlock(nil), payload...),
	}
	rec.state.SetLane(lane, append(rec.state.Lane(lane), item))
	return item, nil
}

func (s *MemoryStore) CancelQueueItem(ctx context.Context, sid, itemID string, lane entity.QueueLane) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.session(sid).state.RemoveQueued(lane, itemID) {
		return fmt.Errorf("queue item %s not found on lane %s", itemID, lane)
	}
	return nil
}

func (s *MemoryStore) Materialize(ctx context.Context, sid string, reqs []repository.MaterializeRequest) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.session(sid)

	// Verify first so the whole batch applies or nothing does.
	for _, req := range reqs {
		found := false
		for _, item := range rec.state.Lane(req.Lane) {
			if item.ID == req.ItemID {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("queue item %s not found on lane %s", req.ItemID, req.Lane)
		}
	}

	ids := make([]string, 0, len(reqs))
	for _, req := range reqs {
		rec.state.RemoveQueued(req.Lane, req.ItemID)
		ids = append(ids, rec.appendEntry(req.Message))
	}
	return ids, nil
}

func (s *MemoryStore) AppendAssistantEntry(ctx context.Context, sid string, m entity.AssistantMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.session(sid)
	id := rec.appendEntry(entity.NewAssistantMessage(m))
	for _, call := range m.ToolCalls() {
		rec.state.ToolCallStatus[call.ID] = entity.ToolCallPending
	}
	return id, nil
}

func (s *MemoryStore) ToolWillExecute(ctx context.Context, sid, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session(sid).state.ToolCallStatus[callID] = entity.ToolCallStarted
	return nil
}

func (s *MemoryStore) ToolDidExecute(ctx context.Context, sid, callID string, result entity.ToolResultMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.session(sid)
	status := entity.ToolCallCompleted
	if result.IsError {
		status = entity.ToolCallErrored
	}
	rec.state.ToolCallStatus[callID] = status
	return rec.appendEntry(entity.NewToolResultMessage(result)), nil
}

func (s *MemoryStore) PerformCompaction(ctx context.Context, sid string, req repository.CompactionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.session(sid)
	kept := []entity.TranscriptEntry{{
		ID:      uuid.NewString(),
		Seq:     req.DropThroughSeq,
		Message: req.Summary,
	}}
	for _, entry := range rec.state.Transcript {
		if entry.Seq > req.DropThroughSeq {
			kept = append(kept, entry)
		}
	}
	rec.state.Transcript = kept
	return nil
}

func (r *memorySession) appendEntry(m entity.Message) string {
	entry := entity.TranscriptEntry{
		ID:      uuid.NewString(),
		Seq:     r.nextSeq,
		Message: m,
	}
	r.nextSeq++
	r.state.Transcript = append(r.state.Transcript, entry)
	return entry.ID
}
