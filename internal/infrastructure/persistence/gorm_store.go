package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/skiff-ai/skiff/internal/domain/entity"
	"github.com/skiff-ai/skiff/internal/domain/repository"
	"github.com/skiff-ai/skiff/internal/infrastructure/persistence/models"
)

// GormStore is the durable SessionStore over SQLite or Postgres. Every
// multi-write contract method runs inside one transaction; the agent's
// crash-recovery correctness depends on that atomicity.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) MarkRunning(ctx context.Context, sid string) error {
	return s.setRunStatus(ctx, sid, entity.RunStatusRunning)
}

func (s *GormStore) MarkIdle(ctx context.Context, sid string) error {
	return s.setRunStatus(ctx, sid, entity.RunStatusIdle)
}

func (s *GormStore) setRunStatus(ctx context.Context, sid string, status entity.RunStatus) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{"run_status": string(status), "updated_at": time.Now().UTC()}),
		}).
		Create(&models.SessionModel{ID: sid, RunStatus: string(status)}).Error
}

func (s *GormStore) LoadState(ctx context.Context, sid string) (*entity.SessionState, error) {
	state := entity.NewSessionState(sid)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entries []models.TranscriptEntryModel
		if err := tx.Where("session_id = ?", sid).Order("seq asc").Find(&entries).Error; err != nil {
			return err
		}
		for _, row := range entries {
			var msg entity.Message
			if err := json.Unmarshal([]byte(row.Payload), &msg); err != nil {
				return fmt.Errorf("decode transcript entry %s: %w", row.ID, err)
			}
			state.Transcript = append(state.Transcript, entity.TranscriptEntry{
				ID:      row.ID,
				Seq:     row.Seq,
				Message: msg,
			})
		}

		var items []models.QueueItemModel
		if err := tx.Where("session_id = ?", sid).Order("pos asc").Find(&items).Error; err != nil {
			return err
		}
		for _, row := range items {
			var payload []entity.ContentBlock
			if err := json.Unmarshal([]byte(row.Payload), &payload); err != nil {
				return fmt.Errorf("decode queue item %s: %w", row.ID, err)
			}
			lane := entity.QueueLane(row.Lane)
			state.SetLane(lane, append(state.Lane(lane), entity.QueueItem{
				ID:         row.ID,
				EnqueuedAt: row.EnqueuedAt,
				Payload:    payload,
			}))
		}

		var statuses []models.ToolCallStatusModel
		if err := tx.Where("session_id = ?", sid).Find(&statuses).Error; err != nil {
			return err
		}
		for _, row := range statuses {
			state.ToolCallStatus[row.CallID] = entity.ToolCallState(row.Status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (s *GormStore) InsertQueueItem(ctx context.Context, sid string, payload []entity.ContentBlock, lane entity.QueueLane) (entity.QueueItem, error) {
	if !entity.ValidLane(lane) {
		return entity.QueueItem{}, fmt.Errorf("unknown lane %q", lane)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return entity.QueueItem{}, fmt.Errorf("encode payload: %w", err)
	}

	item := entity.QueueItem{
		ID:         uuid.NewString(),
		EnqueuedAt: time.Now().UTC(),
		Payload:    payload,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pos, err := nextCounter(tx, sid, "queue_items", "pos")
		if err != nil {
			return err
		}
		return tx.Create(&models.QueueItemModel{
			ID:         item.ID,
			SessionID:  sid,
			Lane:       string(lane),
			Pos:        pos,
			Payload:    string(encoded),
			EnqueuedAt: item.EnqueuedAt,
		}).Error
	})
	if err != nil {
		return entity.QueueItem{}, err
	}
	return item, nil
}

func (s *GormStore) CancelQueueItem(ctx context.Context, sid, itemID string, lane entity.QueueLane) error {
	res := s.db.WithContext(ctx).
		Where("session_id = ? AND id = ? AND lane = ?", sid, itemID, string(lane)).
		Delete(&models.QueueItemModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("queue item %s not found on lane %s", itemID, lane)
	}
	return nil
}

func (s *GormStore) Materialize(ctx context.Context, sid string, reqs []repository.MaterializeRequest) ([]string, error) {
	entryIDs := make([]string, 0, len(reqs))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, req := range reqs {
			res := tx.Where("session_id = ? AND id = ? AND lane = ?", sid, req.ItemID, string(req.Lane)).
				Delete(&models.QueueItemModel{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("queue item %s not found on lane %s", req.ItemID, req.Lane)
			}
			id, err := appendEntry(tx, sid, req.Message)
			if err != nil {
				return err
			}
			entryIDs = append(entryIDs, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entryIDs, nil
}

func (s *GormStore) AppendAssistantEntry(ctx context.Context, sid string, m entity.AssistantMessage) (string, error) {
	var entryID string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, err := appendEntry(tx, sid, entity.NewAssistantMessage(m))
		if err != nil {
			return err
		}
		entryID = id
		for _, call := range m.ToolCalls() {
			if err := upsertStatus(tx, sid, call.ID, entity.ToolCallPending); err != nil {
				return err
			}
		}
		return nil
	})
	return entryID, err
}

func (s *GormStore) ToolWillExecute(ctx context.Context, sid, callID string) error {
	return upsertStatus(s.db.WithContext(ctx), sid, callID, entity.ToolCallStarted)
}

func (s *GormStore) ToolDidExecute(ctx context.Context, sid, callID string, result entity.ToolResultMessage) (string, error) {
	var entryID string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		status := entity.ToolCallCompleted
		if result.IsError {
			status = entity.ToolCallErrored
		}
		if err := upsertStatus(tx, sid, callID, status); err != nil {
			return err
		}
		id, err := appendEntry(tx, sid, entity.NewToolResultMessage(result))
		if err != nil {
			return err
		}
		entryID = id
		return nil
	})
	return entryID, err
}

func (s *GormStore) PerformCompaction(ctx context.Context, sid string, req repository.CompactionRequest) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ? AND seq <= ?", sid, req.DropThroughSeq).
			Delete(&models.TranscriptEntryModel{}).Error; err != nil {
			return err
		}
		payload, err := json.Marshal(req.Summary)
		if err != nil {
			return fmt.Errorf("encode summary: %w", err)
		}
		return tx.Create(&models.TranscriptEntryModel{
			ID:        uuid.NewString(),
			SessionID: sid,
			Seq:       req.DropThroughSeq,
			Role:      string(req.Summary.Role),
			Payload:   string(payload),
		}).Error
	})
}

// appendEntry writes one transcript row with the next sequence number.
// Callers hold a transaction; the agent serializes writes per session,
// so max(seq)+1 cannot race with itself.
func appendEntry(tx *gorm.DB, sid string, msg entity.Message) (string, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	seq, err := nextCounter(tx, sid, "transcript_entries", "seq")
	if err != nil {
		return "", err
	}
	row := models.TranscriptEntryModel{
		ID:        uuid.NewString(),
		SessionID: sid,
		Seq:       seq,
		Role:      string(msg.Role),
		Payload:   string(payload),
	}
	if err := tx.Create(&row).Error; err != nil {
		return "", err
	}
	return row.ID, nil
}

func nextCounter(tx *gorm.DB, sid, table, column string) (int64, error) {
	var max int64
	err := tx.Table(table).
		Where("session_id = ?", sid).
		Select("COALESCE(MAX(" + column + "), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

func upsertStatus(tx *gorm.DB, sid, callID string, status entity.ToolCallState) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "call_id"}},
		DoUpdates: clause.Assignments(map[string]any{"status": string(status), "updated_at": time.Now().UTC()}),
	}).Create(&models.ToolCallStatusModel{
		SessionID: sid,
		CallID:    callID,
		Status:    string(status),
		UpdatedAt: time.Now().UTC(),
	}).Error
}
