// Package service implements the per-session agent loop: a serialized,
// crash-safe state machine that materializes queued inputs at
// checkpoints, streams provider completions, executes tool calls, and
// persists every step atomically.
package service

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/skiff-ai/skiff/internal/domain/entity"
	"github.com/skiff-ai/skiff/internal/domain/repository"
	"github.com/skiff-ai/skiff/internal/domain/tool"
	"github.com/skiff-ai/skiff/internal/infrastructure/eventbus"
	"github.com/skiff-ai/skiff/pkg/errors"
	"github.com/skiff-ai/skiff/pkg/jsonval"
	"github.com/skiff-ai/skiff/pkg/safego"
)

// skipResultText is the synthetic tool result recorded for calls skipped
// when a steer message interrupts a running tool batch.
const skipResultText = "Skipped due to queued user message."

// recoveryResultText is recorded for tool calls found in started state on
// restart; the process died before their results were committed.
const recoveryResultText = "Tool execution was interrupted by a restart."

// AssistantStream is one streaming completion as the agent consumes it.
// llm.EventStream satisfies it.
type AssistantStream interface {
	Events() <-chan entity.AssistantEvent
	Result() (*entity.AssistantMessage, error)
}

// Streamer opens a completion for the session's provider-agnostic
// context. The application layer binds a model, adapter, and request
// options behind it.
type Streamer interface {
	Stream(ctx context.Context, chat entity.Context) (AssistantStream, error)
}

// AgentConfig holds the per-session loop settings.
type AgentConfig struct {
	SystemPrompt string
	// MaxTurns caps assistant turns per run. Zero means unlimited.
	MaxTurns int
	// ParallelTools bounds tool execution fan-out. One runs calls in
	// submission order, which makes steer skipping deterministic.
	ParallelTools int
	Compaction    CompactionPolicy
}

// Agent is one session's loop. All state mutations and dependent store
// writes run on its serialization queue; provider streaming and tool
// execution run outside it.
type Agent struct {
	sid      string
	store    repository.SessionStore
	streamer Streamer
	tools    tool.Registry
	bus      *eventbus.SessionBus
	cfg      AgentConfig
	logger   *zap.Logger

	queue Serializer
	wake  chan struct{}

	stateMu sync.Mutex
	state   *entity.SessionState

	started atomic.Bool
}

// NewAgent builds an agent for sid. Start must be called exactly once to
// drive it.
func NewAgent(
	sid string,
	store repository.SessionStore,
	streamer Streamer,
	tools tool.Registry,
	bus *eventbus.SessionBus,
	cfg AgentConfig,
	logger *zap.Logger,
) *Agent {
	if cfg.ParallelTools <= 0 {
		cfg.ParallelTools = 1
	}
	return &Agent{
		sid:      sid,
		store:    store,
		streamer: streamer,
		tools:    tools,
		bus:      bus,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "agent"), zap.String("session_id", sid)),
		wake:     make(chan struct{}, 1),
		state:    entity.NewSessionState(sid),
	}
}

// Start loads persisted state and runs the event loop until ctx is
// cancelled. Callable at most once.
func (a *Agent) Start(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return errors.Unsupported("agent already started")
	}

	// Load inside a serialized block so it linearizes against enqueues
	// that raced ahead of the loop.
	err := a.queue.Do(func() error {
		st, err := a.store.LoadState(ctx, a.sid)
		if err != nil {
			return err
		}
		a.stateMu.Lock()
		a.state = st
		a.stateMu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}

	// Queued input or stale started tool calls both mean there is work:
	// the latter triggers crash recovery without any new enqueue.
	if st := a.snapshot(); hasQueued(st) || len(st.StartedToolCalls()) > 0 {
		a.signal()
	}

	for {
		select {
		case <-ctx.Done():
			a.bus.Publish(entity.NewAgentEvent(entity.EventAgentEnd, a.sid))
			return ctx.Err()
		case <-a.wake:
			if err := a.run(ctx); err != nil {
				if ctx.Err() != nil {
					a.bus.Publish(entity.NewAgentEvent(entity.EventAgentEnd, a.sid))
					return ctx.Err()
				}
				a.logger.Error("Agent run failed", zap.Error(err))
			}
		}
	}
}

// Enqueue persists payload on lane, mirrors it in memory, and wakes the
// loop. Returns the store-assigned item id.
func (a *Agent) Enqueue(ctx context.Context, payload []entity.ContentBlock, lane entity.QueueLane) (string, error) {
	if !entity.ValidLane(lane) {
		return "", errors.Unsupportedf("unknown queue lane %q", lane)
	}
	var id string
	err := a.serialize(func(st *entity.SessionState) ([]entity.AgentEvent, error) {
		item, err := a.store.InsertQueueItem(ctx, a.sid, payload, lane)
		if err != nil {
			return nil, err
		}
		st.SetLane(lane, append(st.Lane(lane), item))
		id = item.ID
		return []entity.AgentEvent{entity.NewCommittedEvent(a.sid, entity.CommitInfo{
			Action:  entity.CommitInsertQueueItem,
			ItemIDs: []string{item.ID},
			Lane:    lane,
		})}, nil
	})
	if err != nil {
		return "", err
	}
	a.signal()
	return id, nil
}

// Cancel removes a queued item before it materializes.
func (a *Agent) Cancel(ctx context.Context, itemID string, lane entity.QueueLane) error {
	return a.serialize(func(st *entity.SessionState) ([]entity.AgentEvent, error) {
		if err := a.store.CancelQueueItem(ctx, a.sid, itemID, lane); err != nil {
			return nil, err
		}
		st.RemoveQueued(lane, itemID)
		return []entity.AgentEvent{entity.NewCommittedEvent(a.sid, entity.CommitInfo{
			Action:  entity.CommitCancelQueueItem,
			ItemIDs: []string{itemID},
			Lane:    lane,
		})}, nil
	})
}

// Observe atomically snapshots the session state and subscribes to the
// event stream. Committed events publish under the same lock, so nothing
// committed after the snapshot can be missed.
func (a *Agent) Observe() (*entity.SessionState, *eventbus.Subscription) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.state.Clone(), a.bus.Subscribe()
}

// Continue wakes the loop for a session whose transcript ends in an
// assistant entry. Steer input wins if present, else follow-up; with
// nothing queued the continue is refused.
func (a *Agent) Continue(ctx context.Context) error {
	st := a.snapshot()
	if last := st.LastEntry(); last == nil || last.Message.Role != entity.RoleAssistant {
		return errors.Unsupported("continue requires a transcript ending in an assistant entry")
	}
	if st.InterruptPending() || len(st.FollowUpQueue) > 0 {
		a.signal()
		return nil
	}
	return errors.Unsupported("nothing to continue: no queued input")
}

// run drives turns until the session has no more work, then parks idle.
func (a *Agent) run(ctx context.Context) error {
	st := a.snapshot()
	stale := st.StartedToolCalls()
	if !hasQueued(st) && len(stale) == 0 {
		return nil
	}

	if err := a.markRunning(ctx); err != nil {
		return err
	}
	a.bus.Publish(entity.NewAgentEvent(entity.EventAgentStart, a.sid))

	var runMessages []entity.Message
	endRun := func() {
		ev := entity.NewAgentEvent(entity.EventAgentEnd, a.sid)
		ev.Messages = runMessages
		a.bus.Publish(ev)
	}

	// Step 1: recover tool calls left started by a crash.
	hasToolResults := false
	for _, callID := range stale {
		result, err := a.recoverToolCall(ctx, callID)
		if err != nil {
			endRun()
			return err
		}
		runMessages = append(runMessages, entity.NewToolResultMessage(result))
		hasToolResults = true
	}

	turns := 0
	for {
		if ctx.Err() != nil {
			endRun()
			return ctx.Err()
		}

		// Step 2: checkpoint — materialize system and steer input.
		drained, err := a.drainInterrupts(ctx)
		if err != nil {
			endRun()
			return err
		}
		runMessages = append(runMessages, drained...)

		// Step 3: idle detection.
		if len(drained) == 0 && !hasToolResults {
			followUps, err := a.drainFollowUp(ctx)
			if err != nil {
				endRun()
				return err
			}
			if len(followUps) == 0 {
				if err := a.markIdle(ctx); err != nil {
					endRun()
					return err
				}
				endRun()
				return nil
			}
			runMessages = append(runMessages, followUps...)
		}
		hasToolResults = false

		turns++
		if a.cfg.MaxTurns > 0 && turns > a.cfg.MaxTurns {
			if idleErr := a.markIdle(ctx); idleErr != nil {
				a.logger.Warn("Mark idle failed after turn cap", zap.Error(idleErr))
			}
			endRun()
			return errors.Unsupportedf("Agent loop exceeded maxTurns=%d", a.cfg.MaxTurns)
		}

		// Steps 4–6: stream one completion and persist the turn.
		a.bus.Publish(entity.NewAgentEvent(entity.EventTurnStart, a.sid))
		assistant := a.streamTurn(ctx)
		if ctx.Err() != nil {
			endRun()
			return ctx.Err()
		}
		if err := a.persistAssistant(ctx, assistant); err != nil {
			endRun()
			return err
		}
		runMessages = append(runMessages, entity.NewAssistantMessage(*assistant))

		if assistant.StopReason == entity.StopError {
			a.publishTurnEnd(assistant, nil)
			if idleErr := a.markIdle(ctx); idleErr != nil {
				a.logger.Warn("Mark idle failed after stream error", zap.Error(idleErr))
			}
			endRun()
			return nil
		}

		// Step 7: tool fan-out.
		results, err := a.dispatchTools(ctx, assistant)
		if err != nil {
			endRun()
			return err
		}
		for _, r := range results {
			runMessages = append(runMessages, entity.NewToolResultMessage(r))
		}
		hasToolResults = len(results) > 0
		a.publishTurnEnd(assistant, results)

		// Step 8: compaction.
		if a.cfg.Compaction.ShouldCompact(a.snapshot(), assistant.Usage) {
			if err := a.compact(ctx); err != nil {
				a.logger.Warn("Compaction failed", zap.Error(err))
			}
		}
	}
}

// streamTurn builds the provider context, consumes one completion
// outside the serialization queue, and relays deltas to the bus. Stream
// failures come back as a synthetic assistant with StopReason error.
func (a *Agent) streamTurn(ctx context.Context) *entity.AssistantMessage {
	st := a.snapshot()
	chat := entity.Context{
		SystemPrompt: a.cfg.SystemPrompt,
		Messages:     projectTranscript(st),
	}
	if a.tools != nil {
		chat.Tools = a.tools.Descriptors()
	}

	stream, err := a.streamer.Stream(ctx, chat)
	if err != nil {
		return a.syntheticError(err)
	}

	for ev := range stream.Events() {
		switch ev.Type {
		case entity.AssistantEventStart:
			out := entity.NewAgentEvent(entity.EventMessageStart, a.sid)
			out.Message = ev.Message
			a.bus.Publish(out)
		case entity.AssistantEventTextDelta:
			out := entity.NewAgentEvent(entity.EventMessageUpdate, a.sid)
			out.Message = ev.Message
			out.Delta = ev.Delta
			a.bus.Publish(out)
		case entity.AssistantEventDone:
			out := entity.NewAgentEvent(entity.EventMessageEnd, a.sid)
			out.Message = ev.Message
			a.bus.Publish(out)
		}
	}

	msg, err := stream.Result()
	if err != nil {
		return a.syntheticError(err)
	}
	if msg.StopReason == entity.StopStop && len(msg.ToolCalls()) > 0 {
		msg.StopReason = entity.StopToolUse
	}
	return msg
}

func (a *Agent) syntheticError(err error) *entity.AssistantMessage {
	a.logger.Warn("Provider stream failed", zap.Error(err))
	return &entity.AssistantMessage{
		StopReason:   entity.StopError,
		ErrorMessage: err.Error(),
		Timestamp:    time.Now(),
	}
}

// persistAssistant commits the turn and flips every tool-call block to
// pending in the same serialized block.
func (a *Agent) persistAssistant(ctx context.Context, m *entity.AssistantMessage) error {
	return a.serialize(func(st *entity.SessionState) ([]entity.AgentEvent, error) {
		entryID, err := a.store.AppendAssistantEntry(ctx, a.sid, *m)
		if err != nil {
			return nil, err
		}
		appendEntryLocal(st, entryID, entity.NewAssistantMessage(*m))
		for _, call := range m.ToolCalls() {
			st.ToolCallStatus[call.ID] = entity.ToolCallPending
		}
		return []entity.AgentEvent{entity.NewCommittedEvent(a.sid, entity.CommitInfo{
			Action:   entity.CommitAppendAssistant,
			EntryIDs: []string{entryID},
		})}, nil
	})
}

// dispatchTools runs the turn's tool calls: statuses flip to started in
// submission order under serialization, execution fans out through a
// bounded gate outside it, and results commit back in submission order.
// A steer or system arrival observed at a launch slot skips that call
// and every later one with a synthetic error result. On cancellation,
// unfinished calls keep their started status for restart recovery.
func (a *Agent) dispatchTools(ctx context.Context, assistant *entity.AssistantMessage) ([]entity.ToolResultMessage, error) {
	calls := assistant.ToolCalls()
	if len(calls) == 0 {
		return nil, nil
	}

	for _, call := range calls {
		if err := a.toolWillExecute(ctx, call.ID); err != nil {
			return nil, err
		}
	}

	outcomes := make([]*entity.ToolResultMessage, len(calls))
	gate := make(chan struct{}, a.cfg.ParallelTools)
	var wg sync.WaitGroup

	cancelled := false
launch:
	for i, call := range calls {
		select {
		case gate <- struct{}{}:
		case <-ctx.Done():
			cancelled = true
			break launch
		}
		if a.snapshot().InterruptPending() {
			<-gate
			break launch
		}

		ev := entity.NewAgentEvent(entity.EventToolExecutionStart, a.sid)
		ev.CallID = call.ID
		ev.ToolName = call.Name
		args := call.Arguments
		ev.Args = &args
		a.bus.Publish(ev)

		wg.Add(1)
		idx, c := i, call
		safego.Go(a.logger, "tool-exec", func() {
			defer wg.Done()
			defer func() { <-gate }()
			result := a.executeTool(ctx, c)
			outcomes[idx] = &result
		})
	}
	wg.Wait()

	if cancelled || ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Skipped calls get the synthetic steer result.
	for i, call := range calls {
		if outcomes[i] == nil {
			outcomes[i] = &entity.ToolResultMessage{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Content:    []entity.ContentBlock{entity.TextBlock(skipResultText)},
				Details:    jsonval.Object(nil),
				IsError:    true,
				Timestamp:  time.Now(),
			}
		}
	}

	results := make([]entity.ToolResultMessage, 0, len(calls))
	for i, call := range calls {
		result := *outcomes[i]
		if err := a.toolDidExecute(ctx, call.ID, result); err != nil {
			return results, err
		}
		results = append(results, result)

		ev := entity.NewAgentEvent(entity.EventToolExecutionEnd, a.sid)
		ev.CallID = call.ID
		ev.ToolName = call.Name
		ev.Result = &result
		ev.IsError = result.IsError
		a.bus.Publish(ev)
	}
	return results, nil
}

// executeTool invokes one call through the registry. Failures become
// error results, never fatal conditions.
func (a *Agent) executeTool(ctx context.Context, call entity.ToolCall) entity.ToolResultMessage {
	result, err := tool.Invoke(ctx, a.tools, call.ID, call.Name, call.Arguments)
	if err != nil {
		a.logger.Warn("Tool execution failed",
			zap.String("tool", call.Name),
			zap.String("call_id", call.ID),
			zap.Error(err),
		)
		return entity.ToolResultMessage{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Content:    []entity.ContentBlock{entity.TextBlock(err.Error())},
			Details:    jsonval.Object(nil),
			IsError:    true,
			Timestamp:  time.Now(),
		}
	}
	details := result.Details
	if details.IsNull() {
		details = jsonval.Object(nil)
	}
	return entity.ToolResultMessage{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    result.Content,
		Details:    details,
		Timestamp:  time.Now(),
	}
}

// drainInterrupts materializes all queued system and steer items,
// ordered by enqueue time with system before steer on ties.
func (a *Agent) drainInterrupts(ctx context.Context) ([]entity.Message, error) {
	var drained []entity.Message
	err := a.serialize(func(st *entity.SessionState) ([]entity.AgentEvent, error) {
		type laneItem struct {
			item entity.QueueItem
			lane entity.QueueLane
		}
		items := make([]laneItem, 0, len(st.SystemQueue)+len(st.SteerQueue))
		for _, item := range st.SystemQueue {
			items = append(items, laneItem{item, entity.LaneSystem})
		}
		for _, item := range st.SteerQueue {
			items = append(items, laneItem{item, entity.LaneSteer})
		}
		if len(items) == 0 {
			return nil, nil
		}
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].item.EnqueuedAt.Before(items[j].item.EnqueuedAt)
		})

		reqs := make([]repository.MaterializeRequest, 0, len(items))
		for _, li := range items {
			reqs = append(reqs, repository.MaterializeRequest{
				ItemID:  li.item.ID,
				Lane:    li.lane,
				Message: entity.NewUserMessage(li.item.Payload, li.item.EnqueuedAt),
			})
		}
		evs, msgs, err := a.applyMaterialize(ctx, st, reqs)
		if err != nil {
			return nil, err
		}
		drained = msgs
		return evs, nil
	})
	return drained, err
}

// drainFollowUp materializes the oldest follow-up item, if any. One item
// per checkpoint so each follow-up gets its own turn.
func (a *Agent) drainFollowUp(ctx context.Context) ([]entity.Message, error) {
	var drained []entity.Message
	err := a.serialize(func(st *entity.SessionState) ([]entity.AgentEvent, error) {
		if len(st.FollowUpQueue) == 0 {
			return nil, nil
		}
		item := st.FollowUpQueue[0]
		evs, msgs, err := a.applyMaterialize(ctx, st, []repository.MaterializeRequest{{
			ItemID:  item.ID,
			Lane:    entity.LaneFollowUp,
			Message: entity.NewUserMessage(item.Payload, item.EnqueuedAt),
		}})
		if err != nil {
			return nil, err
		}
		drained = msgs
		return evs, nil
	})
	return drained, err
}

// applyMaterialize commits reqs through the store and mirrors the same
// mutation on the working state. Runs inside a serialized block.
func (a *Agent) applyMaterialize(ctx context.Context, st *entity.SessionState, reqs []repository.MaterializeRequest) ([]entity.AgentEvent, []entity.Message, error) {
	entryIDs, err := a.store.Materialize(ctx, a.sid, reqs)
	if err != nil {
		return nil, nil, err
	}
	itemIDs := make([]string, 0, len(reqs))
	msgs := make([]entity.Message, 0, len(reqs))
	for i, req := range reqs {
		st.RemoveQueued(req.Lane, req.ItemID)
		appendEntryLocal(st, entryIDs[i], req.Message)
		itemIDs = append(itemIDs, req.ItemID)
		msgs = append(msgs, req.Message)
	}
	return []entity.AgentEvent{entity.NewCommittedEvent(a.sid, entity.CommitInfo{
		Action:   entity.CommitMaterialize,
		EntryIDs: entryIDs,
		ItemIDs:  itemIDs,
	})}, msgs, nil
}

// recoverToolCall records a crash-recovery error result for a call whose
// status was loaded as started.
func (a *Agent) recoverToolCall(ctx context.Context, callID string) (entity.ToolResultMessage, error) {
	name := ""
	if call, ok := a.snapshot().FindToolCall(callID); ok {
		name = call.Name
	}
	result := entity.ToolResultMessage{
		ToolCallID: callID,
		ToolName:   name,
		Content:    []entity.ContentBlock{entity.TextBlock(recoveryResultText)},
		Details:    jsonval.Object(nil),
		IsError:    true,
		Timestamp:  time.Now(),
	}
	a.logger.Warn("Recovered stale tool call", zap.String("call_id", callID))
	return result, a.toolDidExecute(ctx, callID, result)
}

func (a *Agent) toolWillExecute(ctx context.Context, callID string) error {
	return a.serialize(func(st *entity.SessionState) ([]entity.AgentEvent, error) {
		if err := a.store.ToolWillExecute(ctx, a.sid, callID); err != nil {
			return nil, err
		}
		st.ToolCallStatus[callID] = entity.ToolCallStarted
		return []entity.AgentEvent{entity.NewCommittedEvent(a.sid, entity.CommitInfo{
			Action: entity.CommitToolWillExecute,
			CallID: callID,
		})}, nil
	})
}

func (a *Agent) toolDidExecute(ctx context.Context, callID string, result entity.ToolResultMessage) error {
	return a.serialize(func(st *entity.SessionState) ([]entity.AgentEvent, error) {
		entryID, err := a.store.ToolDidExecute(ctx, a.sid, callID, result)
		if err != nil {
			return nil, err
		}
		status := entity.ToolCallCompleted
		if result.IsError {
			status = entity.ToolCallErrored
		}
		st.ToolCallStatus[callID] = status
		appendEntryLocal(st, entryID, entity.NewToolResultMessage(result))
		return []entity.AgentEvent{entity.NewCommittedEvent(a.sid, entity.CommitInfo{
			Action:   entity.CommitToolDidExecute,
			EntryIDs: []string{entryID},
			CallID:   callID,
		})}, nil
	})
}

func (a *Agent) compact(ctx context.Context) error {
	return a.serialize(func(st *entity.SessionState) ([]entity.AgentEvent, error) {
		req, ok := a.cfg.Compaction.BuildCompaction(st)
		if !ok {
			return nil, nil
		}
		if err := a.store.PerformCompaction(ctx, a.sid, req); err != nil {
			return nil, err
		}
		kept := []entity.TranscriptEntry{{
			Seq:     req.DropThroughSeq,
			Message: req.Summary,
		}}
		for _, entry := range st.Transcript {
			if entry.Seq > req.DropThroughSeq {
				kept = append(kept, entry)
			}
		}
		st.Transcript = kept
		a.logger.Info("Transcript compacted", zap.Int64("drop_through_seq", req.DropThroughSeq))
		return []entity.AgentEvent{entity.NewCommittedEvent(a.sid, entity.CommitInfo{
			Action: entity.CommitCompaction,
		})}, nil
	})
}

func (a *Agent) markRunning(ctx context.Context) error {
	return a.serialize(func(st *entity.SessionState) ([]entity.AgentEvent, error) {
		if err := a.store.MarkRunning(ctx, a.sid); err != nil {
			return nil, err
		}
		return []entity.AgentEvent{entity.NewCommittedEvent(a.sid, entity.CommitInfo{
			Action: entity.CommitMarkRunning,
		})}, nil
	})
}

func (a *Agent) markIdle(ctx context.Context) error {
	return a.serialize(func(st *entity.SessionState) ([]entity.AgentEvent, error) {
		if err := a.store.MarkIdle(ctx, a.sid); err != nil {
			return nil, err
		}
		return []entity.AgentEvent{entity.NewCommittedEvent(a.sid, entity.CommitInfo{
			Action: entity.CommitMarkIdle,
		})}, nil
	})
}

func (a *Agent) publishTurnEnd(assistant *entity.AssistantMessage, results []entity.ToolResultMessage) {
	ev := entity.NewAgentEvent(entity.EventTurnEnd, a.sid)
	ev.Assistant = assistant
	ev.ToolResults = results
	a.bus.Publish(ev)
}

// serialize submits a block to the serialization queue. The block
// mutates a state copy; on success the copy is committed and its events
// publish under the commit lock, so Observe snapshots cannot miss them.
func (a *Agent) serialize(fn func(st *entity.SessionState) ([]entity.AgentEvent, error)) error {
	return a.queue.Do(func() error {
		a.stateMu.Lock()
		working := a.state.Clone()
		a.stateMu.Unlock()

		events, err := fn(working)
		if err != nil {
			return err
		}

		a.stateMu.Lock()
		a.state = working
		for _, ev := range events {
			a.bus.Publish(ev)
		}
		a.stateMu.Unlock()
		return nil
	})
}

func (a *Agent) snapshot() *entity.SessionState {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.state.Clone()
}

func (a *Agent) hasWork() bool {
	return hasQueued(a.snapshot())
}

func hasQueued(st *entity.SessionState) bool {
	return len(st.SystemQueue) > 0 || len(st.SteerQueue) > 0 || len(st.FollowUpQueue) > 0
}

// signal wakes the loop. The channel holds one slot, so repeated signals
// collapse into a single wake.
func (a *Agent) signal() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// appendEntryLocal mirrors a store append on the working state. The
// store assigns sequence numbers monotonically per session and only this
// agent writes the session, so the local counter stays aligned.
func appendEntryLocal(st *entity.SessionState, entryID string, msg entity.Message) {
	var seq int64 = 1
	if last := st.LastEntry(); last != nil {
		seq = last.Seq + 1
	}
	st.Transcript = append(st.Transcript, entity.TranscriptEntry{
		ID:      entryID,
		Seq:     seq,
		Message: msg,
	})
}

// projectTranscript renders the transcript as provider-agnostic
// messages.
func projectTranscript(st *entity.SessionState) []entity.Message {
	msgs := make([]entity.Message, 0, len(st.Transcript))
	for _, entry := range st.Transcript {
		msgs = append(msgs, entry.Message)
	}
	return msgs
}
