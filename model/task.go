package model

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// NotificationTarget points at a live status message the reconciler keeps
// editing while a task is running. A zero target means no live status UI is
// attached to the task.
type NotificationTarget struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
}

// IsZero reports whether no notification target is attached.
func (t NotificationTarget) IsZero() bool {
	return t.ChatID == 0 && t.MessageID == 0
}

// Task is one transcription request. Rows are never deleted; they are the
// audit trail. Price and OperationHandle are set atomically with the
// pending->running transition.
type Task struct {
	TaskID          string              `json:"task_id"`
	UserID          string              `json:"user_id"`
	Status          string              `json:"status"`
	AudioURI        string              `json:"audio_uri"`
	DurationSeconds sql.NullInt64       `json:"duration_seconds"`
	Price           decimal.NullDecimal `json:"price"`
	OperationHandle sql.NullString      `json:"operation_handle"`
	ResultPayload   json.RawMessage     `json:"result_payload,omitempty"`
	ResultURI       sql.NullString      `json:"result_uri"`
	Target          NotificationTarget  `json:"notification_target"`
	CreatedAt       time.Time           `json:"created_at"`
	StartedAt       sql.NullTime        `json:"started_at"`
	FinishedAt      sql.NullTime        `json:"finished_at"`
}

// TaskPatch enumerates the only task fields the lifecycle controller and the
// reconciler are allowed to mutate. Nil fields are left untouched.
type TaskPatch struct {
	Status          *string
	OperationHandle *string
	StartedAt       *time.Time
	FinishedAt      *time.Time
	ResultPayload   json.RawMessage
	ResultURI       *string
}

// IsEmpty reports whether the patch would not change anything.
func (p TaskPatch) IsEmpty() bool {
	return p.Status == nil && p.OperationHandle == nil && p.StartedAt == nil &&
		p.FinishedAt == nil && p.ResultPayload == nil && p.ResultURI == nil
}

func (task *Task) ToJSON() ([]byte, error) {
	return json.Marshal(task)
}
