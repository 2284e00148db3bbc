package models

import "time"

// SessionModel is one session row.
type SessionModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	RunStatus string `gorm:"size:16;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (SessionModel) TableName() string {
	return "sessions"
}

// TranscriptEntryModel is one append-only transcript row. Payload is the
// JSON-encoded message variant.
type TranscriptEntryModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	SessionID string `gorm:"index:idx_transcript_session_seq,priority:1;size:64;not null"`
	Seq       int64  `gorm:"index:idx_transcript_session_seq,priority:2;not null"`
	Role      string `gorm:"size:16;not null"`
	Payload   string `gorm:"type:text;not null"`
	CreatedAt time.Time
}

func (TranscriptEntryModel) TableName() string {
	return "transcript_entries"
}

// QueueItemModel is one pending input on a lane. Pos carries the
// store-assigned FIFO position within the session.
type QueueItemModel struct {
	ID         string `gorm:"primaryKey;size:64"`
	SessionID  string `gorm:"index;size:64;not null"`
	Lane       string `gorm:"size:16;not null"`
	Pos        int64  `gorm:"not null"`
	Payload    string `gorm:"type:text;not null"`
	EnqueuedAt time.Time
	CreatedAt  time.Time
}

func (QueueItemModel) TableName() string {
	return "queue_items"
}

// ToolCallStatusModel tracks one tool call's lifecycle.
type ToolCallStatusModel struct {
	SessionID string `gorm:"primaryKey;size:64"`
	CallID    string `gorm:"primaryKey;size:128"`
	Status    string `gorm:"size:16;not null"`
	UpdatedAt time.Time
}

func (ToolCallStatusModel) TableName() string {
	return "tool_call_status"
}
