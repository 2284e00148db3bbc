// Package repository declares the persistence contracts consumed by the
// domain layer. Implementations live in infrastructure/persistence.
package repository

import (
	"context"

	"github.com/skiff-ai/skiff/internal/domain/entity"
)

// MaterializeRequest moves one queued item into the transcript.
type MaterializeRequest struct {
	ItemID  string
	Lane    entity.QueueLane
	Message entity.Message
}

// CompactionRequest summarizes a transcript prefix. Entries with
// Seq <= DropThroughSeq are removed and Summary takes their place,
// keeping DropThroughSeq so ordering against the suffix is preserved.
type CompactionRequest struct {
	DropThroughSeq int64
	Summary        entity.Message
}

// SessionStore is the durable session state store. Every method must be
// crash-safe; Materialize, ToolDidExecute, and PerformCompaction must be
// atomic, which the agent's recovery logic depends on.
type SessionStore interface {
	// MarkRunning flags the session as actively looping.
	MarkRunning(ctx context.Context, sid string) error

	// MarkIdle flags the session as parked.
	MarkIdle(ctx context.Context, sid string) error

	// LoadState reads the full persisted session state.
	LoadState(ctx context.Context, sid string) (*entity.SessionState, error)

	// InsertQueueItem persists payload on a lane. The store assigns the
	// item id and enqueue time; lane FIFO order follows id assignment
	// order.
	InsertQueueItem(ctx context.Context, sid string, payload []entity.ContentBlock, lane entity.QueueLane) (entity.QueueItem, error)

	// CancelQueueItem removes a queued item before materialization.
	CancelQueueItem(ctx context.Context, sid, itemID string, lane entity.QueueLane) error

	// Materialize moves queued items into the transcript and deletes
	// them from their lanes in one transaction. Returns the new entry
	// ids in request order.
	Materialize(ctx context.Context, sid string, reqs []MaterializeRequest) ([]string, error)

	// AppendAssistantEntry appends one assistant turn and returns the
	// new entry id.
	AppendAssistantEntry(ctx context.Context, sid string, m entity.AssistantMessage) (string, error)

	// ToolWillExecute flips a tool call's status to started.
	ToolWillExecute(ctx context.Context, sid, callID string) error

	// ToolDidExecute, in a single transaction, flips the call's status
	// to completed or errored (from result.IsError) and appends the
	// tool-result entry. Returns the new entry id.
	ToolDidExecute(ctx context.Context, sid, callID string, result entity.ToolResultMessage) (string, error)

	// PerformCompaction applies req atomically.
	PerformCompaction(ctx context.Context, sid string, req CompactionRequest) error
}
