package entity

import (
	"time"

	"github.com/skiff-ai/skiff/pkg/jsonval"
)

// AgentEventType defines the kinds of events emitted on a session's
// observation stream.
type AgentEventType string

const (
	EventAgentStart          AgentEventType = "agentStart"
	EventAgentEnd            AgentEventType = "agentEnd"
	EventTurnStart           AgentEventType = "turnStart"
	EventTurnEnd             AgentEventType = "turnEnd"
	EventMessageStart        AgentEventType = "messageStart"
	EventMessageUpdate       AgentEventType = "messageUpdate"
	EventMessageEnd          AgentEventType = "messageEnd"
	EventToolExecutionStart  AgentEventType = "toolExecutionStart"
	EventToolExecutionUpdate AgentEventType = "toolExecutionUpdate"
	EventToolExecutionEnd    AgentEventType = "toolExecutionEnd"
	EventCommitted           AgentEventType = "committed"
)

// CommitAction names a store-committed mutation. One committed event is
// emitted per action, in serialization order; observers may treat these
// as lossless.
type CommitAction string

const (
	CommitMarkRunning     CommitAction = "markRunning"
	CommitMarkIdle        CommitAction = "markIdle"
	CommitInsertQueueItem CommitAction = "insertQueueItem"
	CommitCancelQueueItem CommitAction = "cancelQueueItem"
	CommitMaterialize     CommitAction = "materialize"
	CommitAppendAssistant CommitAction = "appendAssistant"
	CommitToolWillExecute CommitAction = "toolWillExecute"
	CommitToolDidExecute  CommitAction = "toolDidExecute"
	CommitCompaction      CommitAction = "compaction"
)

// CommitInfo describes the store action behind a committed event.
type CommitInfo struct {
	Action   CommitAction `json:"action"`
	EntryIDs []string     `json:"entryIds,omitempty"`
	ItemIDs  []string     `json:"itemIds,omitempty"`
	Lane     QueueLane    `json:"lane,omitempty"`
	CallID   string       `json:"callId,omitempty"`
}

// AgentEvent is a single event on the session observation stream. The
// payload fields populated depend on Type; deltas are lossy under
// back-pressure, committed events are not.
type AgentEvent struct {
	Type      AgentEventType `json:"type"`
	SessionID string         `json:"sessionId"`
	Timestamp time.Time      `json:"timestamp"`

	// messageStart / messageUpdate / messageEnd
	Message *AssistantMessage `json:"message,omitempty"`
	Delta   string            `json:"delta,omitempty"`

	// turnEnd
	Assistant   *AssistantMessage   `json:"assistant,omitempty"`
	ToolResults []ToolResultMessage `json:"toolResults,omitempty"`

	// agentEnd
	Messages []Message `json:"messages,omitempty"`

	// toolExecutionStart / toolExecutionUpdate / toolExecutionEnd
	CallID   string             `json:"callId,omitempty"`
	ToolName string             `json:"toolName,omitempty"`
	Args     *jsonval.Value     `json:"args,omitempty"`
	Partial  string             `json:"partial,omitempty"`
	Result   *ToolResultMessage `json:"result,omitempty"`
	IsError  bool               `json:"isError,omitempty"`

	// committed
	Commit *CommitInfo `json:"commit,omitempty"`
}

// NewAgentEvent stamps a bare event of the given type.
func NewAgentEvent(t AgentEventType, sid string) AgentEvent {
	return AgentEvent{Type: t, SessionID: sid, Timestamp: time.Now()}
}

// NewCommittedEvent stamps a committed event for a store action.
func NewCommittedEvent(sid string, info CommitInfo) AgentEvent {
	ev := NewAgentEvent(EventCommitted, sid)
	ev.Commit = &info
	return ev
}
