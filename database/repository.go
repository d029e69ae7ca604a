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
	"time"

	"github.com/shopspring/decimal"

	"github.com/gistrec/clear-transcript/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	user    // Interface for user and balance operations
	task    // Interface for task operations
	payment // Interface for payment operations
}

// user defines methods for handling users and their balances.
type user interface {
	CreateUser(ctx context.Context, usr model.User) (model.User, error)                   // Creates a user, or returns the existing one
	GetUser(ctx context.Context, userID string) (*model.User, error)                      // Retrieves a user by external id
	UpdateBalance(ctx context.Context, userID string, delta decimal.Decimal) error        // Applies an additive balance delta
	DebitBalance(ctx context.Context, userID string, amount decimal.Decimal) error        // Debits only if the balance covers the amount
}

// task defines methods for handling transcription tasks.
type task interface {
	CreateTask(ctx context.Context, tsk *model.Task) (*model.Task, error)                            // Records a new pending task
	GetTask(ctx context.Context, taskID string) (*model.Task, error)                                 // Retrieves a task by id
	GetTasksByStatus(ctx context.Context, status string) ([]model.Task, error)                       // Retrieves all tasks in a status
	GetTasksByUser(ctx context.Context, userID string) ([]model.Task, error)                         // Retrieves a user's task history
	StartTask(ctx context.Context, taskID, operationHandle string, startedAt time.Time) error        // Atomic pending->running transition
	CancelTask(ctx context.Context, taskID string) error                                             // Atomic pending->cancelled transition
	PatchTask(ctx context.Context, taskID string, patch model.TaskPatch) error                       // Applies a typed patch unconditionally
	FinishTask(ctx context.Context, taskID string, patch model.TaskPatch) error                      // Applies a typed patch only while running
	AbortTask(ctx context.Context, taskID string, patch model.TaskPatch) error                       // Applies a typed patch only while pending
}

// payment defines methods for handling balance top-ups.
type payment interface {
	CreatePayment(ctx context.Context, pmt *model.Payment) (*model.Payment, error)                      // Records a new payment attempt
	GetPaymentByOrderID(ctx context.Context, orderID string) (*model.Payment, error)                    // Retrieves a payment by order id
	GetPendingPayments(ctx context.Context) ([]model.Payment, error)                                    // Retrieves payments not yet terminal
	TransitionPayment(ctx context.Context, orderID, toStatus string, response []byte) (bool, error)     // Conditional terminal transition
}
