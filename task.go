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

package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gistrec/clear-transcript/config"
	"github.com/gistrec/clear-transcript/internal/apierror"
	redlock "github.com/gistrec/clear-transcript/internal/lock"
	"github.com/gistrec/clear-transcript/internal/notification"
	"github.com/gistrec/clear-transcript/model"
)

var tracer = otel.Tracer("transcript.tasks")

const confirmLockDuration = 30 * time.Second

// blockRate returns the configured per-block rate for the chosen tier.
func blockRate(deferred bool) (decimal.Decimal, error) {
	conf, err := config.Fetch()
	if err != nil {
		return decimal.Zero, err
	}
	raw := conf.Pricing.StandardBlockRate
	if deferred {
		raw = conf.Pricing.DeferredBlockRate
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, apierror.NewAPIError(apierror.ErrInternalServer, "Invalid block rate in configuration", err)
	}
	return rate, nil
}

// SubmitTask probes and prices the media at localPath, transcodes it to the
// canonical encoding, uploads it to durable storage, and records a pending
// task owned by userID. Nothing is debited until the task is confirmed.
func (t *Transcript) SubmitTask(ctx context.Context, userID, localPath string, target model.NotificationTarget) (*model.Task, error) {
	ctx, span := tracer.Start(ctx, "SubmitTask", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	usr, err := t.datasource.CreateUser(ctx, model.User{UserID: userID, Balance: decimal.Zero})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	duration, err := t.media.ProbeDuration(ctx, localPath)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "Could not determine media duration", err)
	}
	if duration > conf.Pricing.MaxAudioSeconds {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest,
			fmt.Sprintf("Media is too long: %ds exceeds the %ds limit", duration, conf.Pricing.MaxAudioSeconds), nil)
	}

	channels, err := t.media.ProbeChannels(ctx, localPath)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "Could not determine audio channels", err)
	}

	rate, err := blockRate(false)
	if err != nil {
		return nil, err
	}
	price, err := model.Cost(duration, channels, rate)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "Could not price media", err)
	}

	// Advisory pre-check so an unaffordable upload is rejected before any
	// transcode or storage work. The authoritative check is the conditional
	// debit at confirmation time.
	if usr.Balance.LessThan(price) {
		return nil, apierror.NewAPIError(apierror.ErrInsufficientFunds,
			fmt.Sprintf("Balance %s does not cover the price %s", usr.Balance, price), nil)
	}

	taskID := model.GenerateUUIDWithSuffix("tsk")
	oggPath := filepath.Join(os.TempDir(), taskID+".ogg")
	defer os.Remove(oggPath)

	if err := t.media.TranscodeToOgg(ctx, localPath, oggPath, ""); err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to transcode media", err)
	}

	audioURI, err := t.store.Upload(ctx, oggPath, fmt.Sprintf("source/%s/%s.ogg", userID, taskID))
	if err != nil {
		span.RecordError(err)
		notification.NotifyError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to upload media", err)
	}

	task := &model.Task{
		TaskID:          taskID,
		UserID:          userID,
		AudioURI:        audioURI,
		DurationSeconds: sql.NullInt64{Int64: duration, Valid: true},
		Price:           decimal.NewNullDecimal(price),
		Target:          target,
	}
	created, err := t.datasource.CreateTask(ctx, task)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.String("task.id", created.TaskID))
	return created, nil
}

// ConfirmTask moves a pending task to running: it debits the fixed price
// and dispatches the audio for recognition. The debit happens first and is
// compensated if dispatch fails, so a debited task never stays pending.
// A per-task lock plus the conditional debit and status update guarantee
// that of two concurrent confirmations exactly one succeeds.
func (t *Transcript) ConfirmTask(ctx context.Context, userID, taskID string) (*model.Task, error) {
	ctx, span := tracer.Start(ctx, "ConfirmTask", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("task.id", taskID),
	))
	defer span.End()

	locker := redlock.ForTask(t.redis, taskID, model.GenerateUUIDWithSuffix("lock"))
	if err := locker.Lock(ctx, confirmLockDuration); err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Task is being confirmed by another request", err)
	}
	defer func() {
		if err := locker.Unlock(ctx); err != nil {
			logrus.Error(err)
		}
	}()

	task, err := t.datasource.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, apierror.NewAPIError(apierror.ErrForbidden, "Task belongs to another user", nil)
	}
	if task.Status != model.StatusPending {
		return nil, apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("Task '%s' is %s, only pending tasks can be confirmed", taskID, task.Status), nil)
	}
	if !task.Price.Valid {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Task '%s' has no price", taskID), nil)
	}
	price := task.Price.Decimal

	// The conditional decrement is the real balance-sufficiency check; the
	// store rejects it atomically when funds do not cover the price.
	if err := t.datasource.DebitBalance(ctx, userID, price); err != nil {
		return nil, err
	}

	operationHandle, err := t.recognizer.Start(task.AudioURI)
	if err != nil {
		span.RecordError(err)
		notification.NotifyError(err)
		t.compensateFailedDispatch(ctx, task, price, err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to dispatch recognition", err)
	}

	startedAt := time.Now()
	if err := t.datasource.StartTask(ctx, taskID, operationHandle, startedAt); err != nil {
		// The task left pending while we held the lock. Refund the debit;
		// the recognition operation is abandoned and never polled.
		span.RecordError(err)
		if creditErr := t.datasource.UpdateBalance(ctx, userID, price); creditErr != nil {
			notification.NotifyError(creditErr)
		}
		return nil, err
	}

	task.Status = model.StatusRunning
	task.OperationHandle = sql.NullString{String: operationHandle, Valid: true}
	task.StartedAt = sql.NullTime{Time: startedAt, Valid: true}
	return task, nil
}

// compensateFailedDispatch credits the debited price back and marks the
// task failed. A debit with no recorded dispatch must never survive. The
// patch is conditional on the task still being pending: a cancel that
// landed between the debit and this point keeps its terminal state.
func (t *Transcript) compensateFailedDispatch(ctx context.Context, task *model.Task, price decimal.Decimal, dispatchErr error) {
	if err := t.datasource.UpdateBalance(ctx, task.UserID, price); err != nil {
		notification.NotifyError(fmt.Errorf("compensating credit for task %s failed: %w", task.TaskID, err))
	}

	status := model.StatusFailed
	finishedAt := time.Now()
	payload := []byte(fmt.Sprintf(`{"error": %q}`, dispatchErr.Error()))
	if err := t.datasource.AbortTask(ctx, task.TaskID, model.TaskPatch{
		Status:        &status,
		FinishedAt:    &finishedAt,
		ResultPayload: payload,
	}); err != nil {
		if apierror.CodeOf(err) == apierror.ErrConflict {
			logrus.Infof("task %s left pending before compensation, keeping its state", task.TaskID)
		} else {
			notification.NotifyError(err)
		}
	}

	if !task.Target.IsZero() {
		if err := t.notifier.Notify(ctx, task.Target,
			fmt.Sprintf("Task %s failed: could not start recognition", task.TaskID)); err != nil {
			logrus.Error(err)
		}
	}
}

// CancelTask cancels a pending task. Nothing was debited yet, so there is
// no balance effect.
func (t *Transcript) CancelTask(ctx context.Context, userID, taskID string) (*model.Task, error) {
	ctx, span := tracer.Start(ctx, "CancelTask", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("task.id", taskID),
	))
	defer span.End()

	task, err := t.datasource.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, apierror.NewAPIError(apierror.ErrForbidden, "Task belongs to another user", nil)
	}

	if err := t.datasource.CancelTask(ctx, taskID); err != nil {
		span.RecordError(err)
		return nil, err
	}

	task.Status = model.StatusCancelled
	return task, nil
}

// GetTask returns a task if userID owns it.
func (t *Transcript) GetTask(ctx context.Context, userID, taskID string) (*model.Task, error) {
	task, err := t.datasource.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, apierror.NewAPIError(apierror.ErrForbidden, "Task belongs to another user", nil)
	}
	return task, nil
}

// ListTasks returns the user's task history, newest first.
func (t *Transcript) ListTasks(ctx context.Context, userID string) ([]model.Task, error) {
	return t.datasource.GetTasksByUser(ctx, userID)
}

// GetBalance returns the user's current balance.
func (t *Transcript) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	usr, err := t.datasource.GetUser(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return usr.Balance, nil
}

// AffordableSeconds estimates how much audio the user's balance covers at
// the chosen rate tier.
func (t *Transcript) AffordableSeconds(ctx context.Context, userID string, deferred bool) (int64, error) {
	usr, err := t.datasource.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	rate, err := blockRate(deferred)
	if err != nil {
		return 0, err
	}
	return model.AffordableSeconds(usr.Balance, rate), nil
}
