package transcript

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/gistrec/clear-transcript/model"
	"github.com/gistrec/clear-transcript/payment"
	"github.com/gistrec/clear-transcript/speechkit"
)

func newTestReconciler(h *testHarness) *Reconciler {
	return &Reconciler{
		service:         h.service,
		taskInterval:    time.Second,
		paymentInterval: 10 * time.Second,
		editInterval:    5 * time.Second,
		stopCh:          make(chan struct{}),
		inFlight:        make(map[string]struct{}),
		lastEdit:        make(map[string]time.Time),
	}
}

func runningTask(userID string) *model.Task {
	return &model.Task{
		TaskID:          model.GenerateUUIDWithSuffix("tsk"),
		UserID:          userID,
		Status:          model.StatusRunning,
		AudioURI:        "s3://transcripts/source/usr_1/task.ogg",
		OperationHandle: sql.NullString{String: "op-123", Valid: true},
		StartedAt:       sql.NullTime{Time: time.Now().Add(-time.Minute), Valid: true},
	}
}

func successOperation(texts ...string) speechkit.Operation {
	chunks := make([]speechkit.Chunk, 0, len(texts))
	for _, text := range texts {
		chunks = append(chunks, speechkit.Chunk{
			Alternatives: []speechkit.Alternative{{Text: text, Confidence: 0.9}},
		})
	}
	return speechkit.Operation{Done: true, Result: &speechkit.OperationResult{Chunks: chunks}}
}

func TestProcessTask_CompletesOnDelivery(t *testing.T) {
	h := newTestHarness(t)
	r := newTestReconciler(h)
	task := runningTask("usr_1")

	h.recognizer.On("Poll", "op-123").Return(successOperation("привет", "мир"), nil)
	resultKey := "result/usr_1/" + task.TaskID + ".txt"
	h.store.On("UploadBytes", mock.Anything, []byte("привет\nмир"), resultKey).
		Return("s3://transcripts/"+resultKey, nil)
	h.notifier.On("Deliver", mock.Anything, "usr_1", task.TaskID, "привет\nмир").Return(nil)
	h.datasource.On("FinishTask", mock.Anything, task.TaskID, mock.MatchedBy(func(patch model.TaskPatch) bool {
		return patch.Status != nil && *patch.Status == model.StatusCompleted &&
			patch.ResultURI != nil && *patch.ResultURI == "s3://transcripts/"+resultKey
	})).Return(nil)

	r.processTask(context.Background(), task)

	h.datasource.AssertExpectations(t)
	h.notifier.AssertExpectations(t)
}

func TestProcessTask_DeliveryFailureKeepsArtifact(t *testing.T) {
	h := newTestHarness(t)
	r := newTestReconciler(h)
	task := runningTask("usr_1")

	h.recognizer.On("Poll", "op-123").Return(successOperation("привет"), nil)
	resultKey := "result/usr_1/" + task.TaskID + ".txt"
	h.store.On("UploadBytes", mock.Anything, mock.Anything, resultKey).
		Return("s3://transcripts/"+resultKey, nil)
	h.notifier.On("Deliver", mock.Anything, "usr_1", task.TaskID, "привет").
		Return(errors.New("chat unreachable"))
	// Failed, but result_uri still points at the stored transcript.
	h.datasource.On("FinishTask", mock.Anything, task.TaskID, mock.MatchedBy(func(patch model.TaskPatch) bool {
		return patch.Status != nil && *patch.Status == model.StatusFailed &&
			patch.ResultURI != nil && *patch.ResultURI == "s3://transcripts/"+resultKey
	})).Return(nil)

	r.processTask(context.Background(), task)
	h.datasource.AssertExpectations(t)
}

func TestProcessTask_DoneWithError(t *testing.T) {
	h := newTestHarness(t)
	r := newTestReconciler(h)
	task := runningTask("usr_1")

	// The persisted payload is the provider's operation body verbatim, so
	// error details beyond the flattened message survive for audit.
	raw := []byte(`{"done": true, "error": {"code": 3, "message": "audio format not supported", "details": [{"reason": "SAMPLE_RATE"}]}}`)
	h.recognizer.On("Poll", "op-123").
		Return(speechkit.Operation{Done: true, Raw: raw, Err: errors.New("audio format not supported")}, nil)
	h.datasource.On("FinishTask", mock.Anything, task.TaskID, mock.MatchedBy(func(patch model.TaskPatch) bool {
		return patch.Status != nil && *patch.Status == model.StatusFailed &&
			string(patch.ResultPayload) == string(raw) && patch.ResultURI == nil
	})).Return(nil)

	r.processTask(context.Background(), task)
	h.datasource.AssertExpectations(t)
	h.store.AssertNotCalled(t, "UploadBytes", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessTask_NotDone(t *testing.T) {
	h := newTestHarness(t)
	r := newTestReconciler(h)
	task := runningTask("usr_1")

	h.recognizer.On("Poll", "op-123").Return(speechkit.Operation{Done: false}, nil)

	r.processTask(context.Background(), task)
	h.datasource.AssertNotCalled(t, "FinishTask", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessTask_PollTransportErrorLeavesTaskRunning(t *testing.T) {
	h := newTestHarness(t)
	r := newTestReconciler(h)
	task := runningTask("usr_1")

	h.recognizer.On("Poll", "op-123").Return(speechkit.Operation{}, errors.New("connection refused"))

	r.processTask(context.Background(), task)
	// The next cycle retries the same handle; no state change now.
	h.datasource.AssertNotCalled(t, "FinishTask", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessTask_MissingHandleSkipped(t *testing.T) {
	h := newTestHarness(t)
	r := newTestReconciler(h)
	task := runningTask("usr_1")
	task.OperationHandle = sql.NullString{}

	r.processTask(context.Background(), task)
	h.recognizer.AssertNotCalled(t, "Poll", mock.Anything)
	h.datasource.AssertNotCalled(t, "FinishTask", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessTask_MaxAgeCutoff(t *testing.T) {
	h := newTestHarness(t)
	r := newTestReconciler(h)
	r.maxTaskAge = time.Hour

	task := runningTask("usr_1")
	task.StartedAt = sql.NullTime{Time: time.Now().Add(-2 * time.Hour), Valid: true}

	h.datasource.On("FinishTask", mock.Anything, task.TaskID, mock.MatchedBy(func(patch model.TaskPatch) bool {
		return patch.Status != nil && *patch.Status == model.StatusFailed
	})).Return(nil)

	r.processTask(context.Background(), task)
	h.datasource.AssertExpectations(t)
	h.recognizer.AssertNotCalled(t, "Poll", mock.Anything)
}

func TestProcessTask_StatusEditRateLimited(t *testing.T) {
	h := newTestHarness(t)
	r := newTestReconciler(h)

	task := runningTask("usr_1")
	task.Target = model.NotificationTarget{ChatID: 100500, MessageID: 7}

	h.recognizer.On("Poll", "op-123").Return(speechkit.Operation{Done: false}, nil)
	h.notifier.On("Notify", mock.Anything, task.Target, mock.AnythingOfType("string")).Return(nil)

	// Two cycles inside the edit interval produce a single status edit.
	r.processTask(context.Background(), task)
	r.processTask(context.Background(), task)
	h.notifier.AssertNumberOfCalls(t, "Notify", 1)

	// Once the interval has passed, the next cycle edits again.
	r.mu.Lock()
	r.lastEdit[task.TaskID] = time.Now().Add(-10 * time.Second)
	r.mu.Unlock()
	r.processTask(context.Background(), task)
	h.notifier.AssertNumberOfCalls(t, "Notify", 2)
}

func TestReconcileTasks_OnlyPollsRunning(t *testing.T) {
	h := newTestHarness(t)
	r := newTestReconciler(h)

	// The candidate set is the running snapshot; terminal tasks are never
	// polled again.
	h.datasource.On("GetTasksByStatus", mock.Anything, model.StatusRunning).Return([]model.Task{}, nil)

	r.reconcileTasks()
	h.datasource.AssertExpectations(t)
	h.recognizer.AssertNotCalled(t, "Poll", mock.Anything)
}

func confirmedState() *payment.StateResponse {
	return &payment.StateResponse{Success: true, Status: model.PaymentStatusConfirmed, PaymentID: "700001"}
}

func TestReconcilePayments_CreditsOnce(t *testing.T) {
	h := newTestHarness(t)
	r := newTestReconciler(h)

	pmt := model.Payment{
		PaymentID:        "pay_1",
		UserID:           "usr_1",
		OrderID:          "topup-usr_1-a1b2c3d4",
		GatewayPaymentID: "700001",
		Amount:           decimal.RequireFromString("100.00"),
		Status:           model.PaymentStatusNew,
	}

	h.datasource.On("GetPendingPayments", mock.Anything).Return([]model.Payment{pmt}, nil)
	h.gateway.On("GetState", "700001").Return(confirmedState(), nil)
	h.datasource.On("TransitionPayment", mock.Anything, pmt.OrderID, model.PaymentStatusConfirmed, mock.Anything).
		Return(true, nil)
	h.datasource.On("UpdateBalance", mock.Anything, "usr_1", pmt.Amount).Return(nil)

	r.reconcilePayments()
	h.datasource.AssertExpectations(t)
}

func TestReconcilePayments_AlreadySettledNotCredited(t *testing.T) {
	h := newTestHarness(t)
	r := newTestReconciler(h)

	pmt := model.Payment{
		PaymentID:        "pay_1",
		UserID:           "usr_1",
		OrderID:          "topup-usr_1-a1b2c3d4",
		GatewayPaymentID: "700001",
		Amount:           decimal.RequireFromString("100.00"),
		Status:           model.PaymentStatusNew,
	}

	h.datasource.On("GetPendingPayments", mock.Anything).Return([]model.Payment{pmt}, nil)
	h.gateway.On("GetState", "700001").Return(confirmedState(), nil)
	// Another writer settled the payment first: no credit here.
	h.datasource.On("TransitionPayment", mock.Anything, pmt.OrderID, model.PaymentStatusConfirmed, mock.Anything).
		Return(false, nil)

	r.reconcilePayments()
	h.datasource.AssertNotCalled(t, "UpdateBalance", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconciler_StartStop(t *testing.T) {
	h := newTestHarness(t)
	r := newTestReconciler(h)
	r.taskInterval = 10 * time.Millisecond
	r.paymentInterval = time.Hour

	h.datasource.On("GetTasksByStatus", mock.Anything, model.StatusRunning).Return([]model.Task{}, nil)

	r.Start()
	time.Sleep(50 * time.Millisecond)
	r.Stop()

	h.datasource.AssertCalled(t, "GetTasksByStatus", mock.Anything, model.StatusRunning)
}

func TestTranscriptScenario_EmptySpeechPlaceholder(t *testing.T) {
	h := newTestHarness(t)
	r := newTestReconciler(h)
	task := runningTask("usr_1")

	h.recognizer.On("Poll", "op-123").
		Return(speechkit.Operation{Done: true, Result: &speechkit.OperationResult{}}, nil)
	h.store.On("UploadBytes", mock.Anything, []byte(speechkit.EmptySpeechPlaceholder), mock.Anything).
		Return("s3://transcripts/result/usr_1/"+task.TaskID+".txt", nil)
	h.notifier.On("Deliver", mock.Anything, "usr_1", task.TaskID, speechkit.EmptySpeechPlaceholder).Return(nil)
	h.datasource.On("FinishTask", mock.Anything, task.TaskID, mock.Anything).Return(nil)

	r.processTask(context.Background(), task)
	h.notifier.AssertExpectations(t)
}
