/*
Copyright 2025 Clear Transcript Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gistrec/clear-transcript/internal/apierror"
	"github.com/gistrec/clear-transcript/model"
)

const taskColumns = `
	task_id, user_id, status, audio_uri, duration_seconds, price,
	operation_handle, result_payload, result_uri, chat_id, message_id,
	created_at, started_at, finished_at
`

func scanTask(row interface {
	Scan(dest ...interface{}) error
}) (*model.Task, error) {
	tsk := &model.Task{}
	var chatID, messageID sql.NullInt64
	err := row.Scan(
		&tsk.TaskID, &tsk.UserID, &tsk.Status, &tsk.AudioURI,
		&tsk.DurationSeconds, &tsk.Price, &tsk.OperationHandle,
		&tsk.ResultPayload, &tsk.ResultURI, &chatID, &messageID,
		&tsk.CreatedAt, &tsk.StartedAt, &tsk.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	tsk.Target = model.NotificationTarget{ChatID: chatID.Int64, MessageID: messageID.Int64}
	return tsk, nil
}

// CreateTask records a new task. The caller assigns the id; the row always
// starts out pending.
func (d Datasource) CreateTask(ctx context.Context, tsk *model.Task) (*model.Task, error) {
	tsk.Status = model.StatusPending
	tsk.CreatedAt = time.Now()

	var chatID, messageID sql.NullInt64
	if !tsk.Target.IsZero() {
		chatID = sql.NullInt64{Int64: tsk.Target.ChatID, Valid: true}
		messageID = sql.NullInt64{Int64: tsk.Target.MessageID, Valid: true}
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO tasks (task_id, user_id, status, audio_uri, duration_seconds, price, chat_id, message_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, tsk.TaskID, tsk.UserID, tsk.Status, tsk.AudioURI, tsk.DurationSeconds, tsk.Price, chatID, messageID, tsk.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create task", err)
	}

	return tsk, nil
}

// GetTask retrieves a task by id. Terminal tasks are immutable, so their
// rows are cached; running and pending tasks are always read fresh.
func (d Datasource) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	cacheKey := "task:" + taskID
	if d.Cache != nil {
		var cached model.Task
		if err := d.Cache.Get(ctx, cacheKey, &cached); err == nil && cached.TaskID != "" {
			return &cached, nil
		}
	}

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE task_id = $1
	`, taskID)

	tsk, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Task with ID '%s' not found", taskID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve task", err)
	}

	if d.Cache != nil && model.IsTerminalStatus(tsk.Status) {
		_ = d.Cache.Set(ctx, cacheKey, tsk, time.Hour)
	}

	return tsk, nil
}

func (d Datasource) GetTasksByStatus(ctx context.Context, status string) ([]model.Task, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status = $1
		ORDER BY created_at ASC
	`, status)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve tasks", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		tsk, err := scanTask(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan task", err)
		}
		tasks = append(tasks, *tsk)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to iterate tasks", err)
	}

	return tasks, nil
}

func (d Datasource) GetTasksByUser(ctx context.Context, userID string) ([]model.Task, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve tasks", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		tsk, err := scanTask(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan task", err)
		}
		tasks = append(tasks, *tsk)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to iterate tasks", err)
	}

	return tasks, nil
}

// StartTask moves a task from pending to running and records the recognition
// operation handle. The status predicate makes the transition atomic: of two
// concurrent confirmations only one sees rowsAffected > 0.
func (d Datasource) StartTask(ctx context.Context, taskID, operationHandle string, startedAt time.Time) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE tasks
		SET status = $2, operation_handle = $3, started_at = $4
		WHERE task_id = $1 AND status = $5
	`, taskID, model.StatusRunning, operationHandle, startedAt, model.StatusPending)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to start task", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Task '%s' is not pending", taskID), nil)
	}

	return nil
}

// CancelTask moves a task from pending to cancelled. Running and terminal
// tasks cannot be cancelled.
func (d Datasource) CancelTask(ctx context.Context, taskID string) error {
	now := time.Now()
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE tasks
		SET status = $2, finished_at = $3
		WHERE task_id = $1 AND status = $4
	`, taskID, model.StatusCancelled, now, model.StatusPending)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to cancel task", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Task '%s' is not pending", taskID), nil)
	}

	return nil
}

// PatchTask applies a typed patch to a task without a status precondition.
func (d Datasource) PatchTask(ctx context.Context, taskID string, patch model.TaskPatch) error {
	return d.patchTask(ctx, taskID, patch, "")
}

// FinishTask applies a typed patch only while the task is still running.
// Reconciler cycles can overlap, so the status predicate keeps terminal
// transitions idempotent: the second writer sees rowsAffected == 0.
func (d Datasource) FinishTask(ctx context.Context, taskID string, patch model.TaskPatch) error {
	return d.patchTask(ctx, taskID, patch, model.StatusRunning)
}

// AbortTask applies a typed patch only while the task is still pending. A
// task the user cancelled in the meantime keeps its cancelled state; the
// second writer sees a conflict instead.
func (d Datasource) AbortTask(ctx context.Context, taskID string, patch model.TaskPatch) error {
	return d.patchTask(ctx, taskID, patch, model.StatusPending)
}

func (d Datasource) patchTask(ctx context.Context, taskID string, patch model.TaskPatch, fromStatus string) error {
	if patch.IsEmpty() {
		return apierror.NewAPIError(apierror.ErrBadRequest, "Empty task patch", nil)
	}

	setClause := ""
	args := []interface{}{taskID}
	addSet := func(column string, value interface{}) {
		args = append(args, value)
		if setClause != "" {
			setClause += ", "
		}
		setClause += fmt.Sprintf("%s = $%d", column, len(args))
	}

	if patch.Status != nil {
		addSet("status", *patch.Status)
	}
	if patch.OperationHandle != nil {
		addSet("operation_handle", *patch.OperationHandle)
	}
	if patch.StartedAt != nil {
		addSet("started_at", *patch.StartedAt)
	}
	if patch.FinishedAt != nil {
		addSet("finished_at", *patch.FinishedAt)
	}
	if patch.ResultPayload != nil {
		addSet("result_payload", []byte(patch.ResultPayload))
	}
	if patch.ResultURI != nil {
		addSet("result_uri", *patch.ResultURI)
	}

	query := fmt.Sprintf("UPDATE tasks SET %s WHERE task_id = $1", setClause)
	if fromStatus != "" {
		args = append(args, fromStatus)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	result, err := d.Conn.ExecContext(ctx, query, args...)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update task", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		if fromStatus != "" {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Task '%s' is not %s", taskID, fromStatus), nil)
		}
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Task with ID '%s' not found", taskID), nil)
	}

	return nil
}
