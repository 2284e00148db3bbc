package entity

import (
	"time"
)

// QueueLane names one of the three input queues of a session.
type QueueLane string

const (
	LaneSystem   QueueLane = "system"
	LaneSteer    QueueLane = "steer"
	LaneFollowUp QueueLane = "followUp"
)

// ValidLane reports whether lane is one of the three queue lanes.
func ValidLane(lane QueueLane) bool {
	switch lane {
	case LaneSystem, LaneSteer, LaneFollowUp:
		return true
	}
	return false
}

// QueueItem is a pending input. It lives from insert until it is
// materialized into the transcript or cancelled.
type QueueItem struct {
	ID         string         `json:"id"`
	EnqueuedAt time.Time      `json:"enqueuedAt"`
	Payload    []ContentBlock `json:"payload"`
}

// ToolCallState tracks a tool call from its first appearance in an
// assistant entry until its result is recorded.
type ToolCallState string

const (
	ToolCallPending   ToolCallState = "pending"
	ToolCallStarted   ToolCallState = "started"
	ToolCallCompleted ToolCallState = "completed"
	ToolCallErrored   ToolCallState = "errored"
)

// TranscriptEntry is one committed row of the append-only transcript.
type TranscriptEntry struct {
	ID      string  `json:"id"`
	Seq     int64   `json:"seq"`
	Message Message `json:"message"`
}

// RunStatus is the coarse session lifecycle flag kept in the store.
type RunStatus string

const (
	RunStatusIdle    RunStatus = "idle"
	RunStatusRunning RunStatus = "running"
)

// SessionState is the full in-memory state of one session. The agent owns
// a single instance and hands copies to serialized blocks.
type SessionState struct {
	SessionID      string                   `json:"sessionId"`
	Transcript     []TranscriptEntry        `json:"transcript"`
	ToolCallStatus map[string]ToolCallState `json:"toolCallStatus"`
	SystemQueue    []QueueItem              `json:"systemQueue"`
	SteerQueue     []QueueItem              `json:"steerQueue"`
	FollowUpQueue  []QueueItem              `json:"followUpQueue"`
}

// NewSessionState returns an empty state for sid.
func NewSessionState(sid string) *SessionState {
	return &SessionState{
		SessionID:      sid,
		ToolCallStatus: make(map[string]ToolCallState),
	}
}

// Clone deep-copies the state. Serialized blocks mutate the clone and the
// agent swaps it in on commit.
func (s *SessionState) Clone() *SessionState {
	c := &SessionState{
		SessionID:      s.SessionID,
		Transcript:     append([]TranscriptEntry(nil), s.Transcript...),
		ToolCallStatus: make(map[string]ToolCallState, len(s.ToolCallStatus)),
		SystemQueue:    append([]QueueItem(nil), s.SystemQueue...),
		SteerQueue:     append([]QueueItem(nil), s.SteerQueue...),
		FollowUpQueue:  append([]QueueItem(nil), s.FollowUpQueue...),
	}
	for id, st := range s.ToolCallStatus {
		c.ToolCallStatus[id] = st
	}
	return c
}

// Lane returns the queue slice for lane.
func (s *SessionState) Lane(lane QueueLane) []QueueItem {
	switch lane {
	case LaneSystem:
		return s.SystemQueue
	case LaneSteer:
		return s.SteerQueue
	case LaneFollowUp:
		return s.FollowUpQueue
	}
	return nil
}

// SetLane replaces the queue slice for lane.
func (s *SessionState) SetLane(lane QueueLane, items []QueueItem) {
	switch lane {
	case LaneSystem:
		s.SystemQueue = items
	case LaneSteer:
		s.SteerQueue = items
	case LaneFollowUp:
		s.FollowUpQueue = items
	}
}

// RemoveQueued drops the item with id from lane and reports whether it
// was present.
func (s *SessionState) RemoveQueued(lane QueueLane, id string) bool {
	items := s.Lane(lane)
	for i, item := range items {
		if item.ID == id {
			s.SetLane(lane, append(items[:i:i], items[i+1:]...))
			return true
		}
	}
	return false
}

// InterruptPending reports whether the system or steer lane holds items.
func (s *SessionState) InterruptPending() bool {
	return len(s.SystemQueue) > 0 || len(s.SteerQueue) > 0
}

// LastEntry returns the newest transcript entry, or nil for an empty
// transcript.
func (s *SessionState) LastEntry() *TranscriptEntry {
	if len(s.Transcript) == 0 {
		return nil
	}
	return &s.Transcript[len(s.Transcript)-1]
}

// StartedToolCalls lists ids whose status is started, ordered by their
// appearance in the transcript. Restart recovery walks this list.
func (s *SessionState) StartedToolCalls() []string {
	var ids []string
	seen := make(map[string]bool)
	for _, entry := range s.Transcript {
		if entry.Message.Role != RoleAssistant || entry.Message.Assistant == nil {
			continue
		}
		for _, call := range entry.Message.Assistant.ToolCalls() {
			if seen[call.ID] {
				continue
			}
			if s.ToolCallStatus[call.ID] == ToolCallStarted {
				ids = append(ids, call.ID)
				seen[call.ID] = true
			}
		}
	}
	return ids
}

// FindToolCall locates the tool call with id in the transcript.
func (s *SessionState) FindToolCall(id string) (ToolCall, bool) {
	for i := len(s.Transcript) - 1; i >= 0; i-- {
		msg := s.Transcript[i].Message
		if msg.Role != RoleAssistant || msg.Assistant == nil {
			continue
		}
		for _, call := range msg.Assistant.ToolCalls() {
			if call.ID == id {
				return call, true
			}
		}
	}
	return ToolCall{}, false
}
