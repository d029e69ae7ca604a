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
package mocks

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/gistrec/clear-transcript/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// User methods

func (m *MockDataSource) CreateUser(ctx context.Context, usr model.User) (model.User, error) {
	args := m.Called(ctx, usr)
	return args.Get(0).(model.User), args.Error(1)
}

func (m *MockDataSource) GetUser(ctx context.Context, userID string) (*model.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockDataSource) UpdateBalance(ctx context.Context, userID string, delta decimal.Decimal) error {
	args := m.Called(ctx, userID, delta)
	return args.Error(0)
}

func (m *MockDataSource) DebitBalance(ctx context.Context, userID string, amount decimal.Decimal) error {
	args := m.Called(ctx, userID, amount)
	return args.Error(0)
}

// Task methods

func (m *MockDataSource) CreateTask(ctx context.Context, tsk *model.Task) (*model.Task, error) {
	args := m.Called(ctx, tsk)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Task), args.Error(1)
}

func (m *MockDataSource) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	args := m.Called(ctx, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Task), args.Error(1)
}

func (m *MockDataSource) GetTasksByStatus(ctx context.Context, status string) ([]model.Task, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Task), args.Error(1)
}

func (m *MockDataSource) GetTasksByUser(ctx context.Context, userID string) ([]model.Task, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Task), args.Error(1)
}

func (m *MockDataSource) StartTask(ctx context.Context, taskID, operationHandle string, startedAt time.Time) error {
	args := m.Called(ctx, taskID, operationHandle, startedAt)
	return args.Error(0)
}

func (m *MockDataSource) CancelTask(ctx context.Context, taskID string) error {
	args := m.Called(ctx, taskID)
	return args.Error(0)
}

func (m *MockDataSource) PatchTask(ctx context.Context, taskID string, patch model.TaskPatch) error {
	args := m.Called(ctx, taskID, patch)
	return args.Error(0)
}

func (m *MockDataSource) FinishTask(ctx context.Context, taskID string, patch model.TaskPatch) error {
	args := m.Called(ctx, taskID, patch)
	return args.Error(0)
}

func (m *MockDataSource) AbortTask(ctx context.Context, taskID string, patch model.TaskPatch) error {
	args := m.Called(ctx, taskID, patch)
	return args.Error(0)
}

// Payment methods

func (m *MockDataSource) CreatePayment(ctx context.Context, pmt *model.Payment) (*model.Payment, error) {
	args := m.Called(ctx, pmt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payment), args.Error(1)
}

func (m *MockDataSource) GetPaymentByOrderID(ctx context.Context, orderID string) (*model.Payment, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payment), args.Error(1)
}

func (m *MockDataSource) GetPendingPayments(ctx context.Context) ([]model.Payment, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Payment), args.Error(1)
}

func (m *MockDataSource) TransitionPayment(ctx context.Context, orderID, toStatus string, response []byte) (bool, error) {
	args := m.Called(ctx, orderID, toStatus, response)
	return args.Bool(0), args.Error(1)
}
