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
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gistrec/clear-transcript/config"
	"github.com/gistrec/clear-transcript/internal/apierror"
	"github.com/gistrec/clear-transcript/model"
	"github.com/gistrec/clear-transcript/speechkit"
)

// Reconciler advances running tasks whose completion is only observable by
// polling the recognition service, and settles pending payments against the
// payment gateway. Each cycle takes a snapshot of running tasks and
// processes them independently; an in-flight set keeps overlapping cycles
// from touching the same task twice.
type Reconciler struct {
	service *Transcript

	taskInterval    time.Duration
	paymentInterval time.Duration
	editInterval    time.Duration
	maxTaskAge      time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
	// lastEdit rate-limits live status edits per task. In-memory by design:
	// losing it on restart only affects edit frequency, not correctness.
	lastEdit map[string]time.Time
}

// NewReconciler builds a reconciler for the given service from the loaded
// configuration.
func NewReconciler(service *Transcript) (*Reconciler, error) {
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	return &Reconciler{
		service:         service,
		taskInterval:    time.Duration(conf.Reconciler.IntervalSec) * time.Second,
		paymentInterval: time.Duration(conf.Reconciler.PaymentIntervalSec) * time.Second,
		editInterval:    time.Duration(conf.Reconciler.EditIntervalSec) * time.Second,
		maxTaskAge:      time.Duration(conf.Reconciler.MaxTaskAgeSec) * time.Second,
		stopCh:          make(chan struct{}),
		inFlight:        make(map[string]struct{}),
		lastEdit:        make(map[string]time.Time),
	}, nil
}

// Start launches the task and payment cycles. Both run until Stop.
func (r *Reconciler) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.taskInterval)
		defer ticker.Stop()

		logrus.Infof("Task reconciler started with interval: %v", r.taskInterval)

		r.reconcileTasks()
		for {
			select {
			case <-ticker.C:
				r.reconcileTasks()
			case <-r.stopCh:
				logrus.Info("Task reconciler stopping...")
				return
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.paymentInterval)
		defer ticker.Stop()

		logrus.Infof("Payment reconciler started with interval: %v", r.paymentInterval)

		for {
			select {
			case <-ticker.C:
				r.reconcilePayments()
			case <-r.stopCh:
				logrus.Info("Payment reconciler stopping...")
				return
			}
		}
	}()
}

// Stop shuts both cycles down and waits for in-flight tasks to finish.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.wg.Wait()
	logrus.Info("Reconciler stopped")
}

// reconcileTasks processes the current snapshot of running tasks, one
// goroutine per task so a slow poll cannot stall unrelated tasks.
func (r *Reconciler) reconcileTasks() {
	ctx := context.Background()

	tasks, err := r.service.datasource.GetTasksByStatus(ctx, model.StatusRunning)
	if err != nil {
		logrus.Errorf("Reconciler: failed to fetch running tasks: %v", err)
		return
	}
	if len(tasks) == 0 {
		return
	}

	for i := range tasks {
		task := tasks[i]
		if !r.claim(task.TaskID) {
			continue
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer r.release(task.TaskID)
			r.processTask(ctx, &task)
		}()
	}
}

func (r *Reconciler) claim(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inFlight[taskID]; busy {
		return false
	}
	r.inFlight[taskID] = struct{}{}
	return true
}

func (r *Reconciler) release(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, taskID)
}

// processTask advances a single running task by one reconciliation step.
// Every side effect is safe to attempt again on the next cycle: terminal
// transitions go through the conditional FinishTask and notifications are
// best-effort.
func (r *Reconciler) processTask(ctx context.Context, task *model.Task) {
	if !task.OperationHandle.Valid || task.OperationHandle.String == "" {
		// Running without a handle is a data anomaly, not a normal state.
		logrus.Warnf("Reconciler: task %s is running without an operation handle, skipping", task.TaskID)
		return
	}

	if r.maxTaskAge > 0 && task.StartedAt.Valid && time.Since(task.StartedAt.Time) > r.maxTaskAge {
		logrus.Errorf("Reconciler: task %s exceeded max age %v, failing it", task.TaskID, r.maxTaskAge)
		r.finishTask(ctx, task, model.StatusFailed,
			[]byte(fmt.Sprintf(`{"error": "recognition did not finish within %s"}`, r.maxTaskAge)), nil)
		r.notifyTerminal(ctx, task, fmt.Sprintf("Task %s failed: recognition timed out", task.TaskID))
		return
	}

	r.maybeEditStatus(ctx, task)

	operation, err := r.service.recognizer.Poll(task.OperationHandle.String)
	if err != nil {
		// Transport failure does not decide the operation. The next cycle
		// polls the same handle again.
		logrus.Errorf("Reconciler: poll failed for task %s (handle %s): %v", task.TaskID, task.OperationHandle.String, err)
		return
	}
	if !operation.Done {
		return
	}

	if operation.Err != nil {
		// The raw operation body keeps the provider's full error object for
		// audit; the formatted message alone loses its details.
		payload := []byte(operation.Raw)
		if len(payload) == 0 {
			payload = []byte(fmt.Sprintf(`{"error": %q}`, operation.Err.Error()))
		}
		r.finishTask(ctx, task, model.StatusFailed, payload, nil)
		r.notifyTerminal(ctx, task, fmt.Sprintf("Task %s failed: %v", task.TaskID, operation.Err))
		return
	}

	r.completeTask(ctx, task, operation)
}

// completeTask persists the transcript and delivers it. Delivery failure
// still keeps the artifact: the task ends failed but result_uri points at
// the stored transcript for manual recovery.
func (r *Reconciler) completeTask(ctx context.Context, task *model.Task, operation speechkit.Operation) {
	transcript := operation.Result.Transcript()
	payload := []byte(operation.Raw)
	if len(payload) == 0 {
		if marshaled, err := json.Marshal(operation.Result); err == nil {
			payload = marshaled
		}
	}

	resultURI, err := r.service.store.UploadBytes(ctx, []byte(transcript),
		fmt.Sprintf("result/%s/%s.txt", task.UserID, task.TaskID))
	if err != nil {
		logrus.Errorf("Reconciler: failed to store transcript for task %s: %v", task.TaskID, err)
		r.finishTask(ctx, task, model.StatusFailed, payload, nil)
		r.notifyTerminal(ctx, task, fmt.Sprintf("Task %s failed: could not store the transcript", task.TaskID))
		return
	}

	r.notifyBestEffort(ctx, task, fmt.Sprintf("Task %s is ready, sending the transcript", task.TaskID))

	if err := r.service.notifier.Deliver(ctx, task.UserID, task.TaskID, transcript); err != nil {
		logrus.Errorf("Reconciler: delivery failed for task %s: %v", task.TaskID, err)
		r.finishTask(ctx, task, model.StatusFailed, payload, &resultURI)
		r.notifyTerminal(ctx, task, fmt.Sprintf("Task %s failed: transcript stored but could not be delivered", task.TaskID))
		return
	}

	r.finishTask(ctx, task, model.StatusCompleted, payload, &resultURI)
}

// finishTask applies a terminal transition. A conflict means another cycle
// got there first, which is the idempotency working as intended.
func (r *Reconciler) finishTask(ctx context.Context, task *model.Task, status string, payload []byte, resultURI *string) {
	finishedAt := time.Now()
	patch := model.TaskPatch{
		Status:        &status,
		FinishedAt:    &finishedAt,
		ResultPayload: payload,
		ResultURI:     resultURI,
	}

	if err := r.service.datasource.FinishTask(ctx, task.TaskID, patch); err != nil {
		if apierror.CodeOf(err) == apierror.ErrConflict {
			logrus.Infof("Reconciler: task %s already terminal, skipping transition to %s", task.TaskID, status)
		} else {
			logrus.Errorf("Reconciler: failed to finish task %s: %v", task.TaskID, err)
		}
		return
	}

	r.mu.Lock()
	delete(r.lastEdit, task.TaskID)
	r.mu.Unlock()
}

// maybeEditStatus updates the live status message if one is attached and
// the per-task edit interval has elapsed.
func (r *Reconciler) maybeEditStatus(ctx context.Context, task *model.Task) {
	if task.Target.IsZero() || !task.StartedAt.Valid {
		return
	}

	now := time.Now()
	r.mu.Lock()
	last, seen := r.lastEdit[task.TaskID]
	if seen && now.Sub(last) < r.editInterval {
		r.mu.Unlock()
		return
	}
	r.lastEdit[task.TaskID] = now
	r.mu.Unlock()

	elapsed := now.Sub(task.StartedAt.Time).Round(time.Second)
	r.notifyBestEffort(ctx, task, fmt.Sprintf("Task %s in progress, elapsed %s", task.TaskID, elapsed))
}

// notifyTerminal reports a terminal transition to the owner. Terminal
// failures must never be silent, but a broken notification channel still
// must not affect task state, so errors are logged and swallowed.
func (r *Reconciler) notifyTerminal(ctx context.Context, task *model.Task, text string) {
	if task.Target.IsZero() {
		logrus.Info(text)
		return
	}
	if err := r.service.notifier.Notify(ctx, task.Target, text); err != nil {
		logrus.Errorf("Reconciler: terminal notification for task %s failed: %v", task.TaskID, err)
	}
}

func (r *Reconciler) notifyBestEffort(ctx context.Context, task *model.Task, text string) {
	if task.Target.IsZero() {
		return
	}
	if err := r.service.notifier.Notify(ctx, task.Target, text); err != nil {
		logrus.Warnf("Reconciler: status notification for task %s failed: %v", task.TaskID, err)
	}
}

// reconcilePayments polls the gateway for payments still in NEW and settles
// them. The conditional TransitionPayment gates the balance credit, so a
// confirmation is credited exactly once even if the expiry worker races.
func (r *Reconciler) reconcilePayments() {
	ctx := context.Background()

	payments, err := r.service.datasource.GetPendingPayments(ctx)
	if err != nil {
		logrus.Errorf("Reconciler: failed to fetch pending payments: %v", err)
		return
	}

	for i := range payments {
		pmt := payments[i]
		if pmt.GatewayPaymentID == "" {
			logrus.Warnf("Reconciler: payment %s has no gateway id, skipping", pmt.PaymentID)
			continue
		}

		state, err := r.service.gateway.GetState(pmt.GatewayPaymentID)
		if err != nil {
			logrus.Errorf("Reconciler: state query failed for payment %s: %v", pmt.PaymentID, err)
			continue
		}
		if !model.IsTerminalPaymentStatus(state.Status) {
			continue
		}

		response, err := json.Marshal(state)
		if err != nil {
			response = nil
		}

		transitioned, err := r.service.datasource.TransitionPayment(ctx, pmt.OrderID, state.Status, response)
		if err != nil {
			logrus.Errorf("Reconciler: failed to transition payment %s: %v", pmt.PaymentID, err)
			continue
		}
		if !transitioned {
			continue
		}

		if state.Status == model.PaymentStatusConfirmed {
			if err := r.service.datasource.UpdateBalance(ctx, pmt.UserID, pmt.Amount); err != nil {
				logrus.Errorf("Reconciler: failed to credit payment %s: %v", pmt.PaymentID, err)
			} else {
				logrus.Infof("Reconciler: credited %s to user %s for payment %s", pmt.Amount, pmt.UserID, pmt.PaymentID)
			}
		}
	}
}
