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
package model

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

// SubmitTask carries the optional notification target accompanying a
// multipart media upload. ChatID is unconstrained: group chat identifiers
// are negative.
type SubmitTask struct {
	ChatID    int64 `form:"chat_id" json:"chat_id"`
	MessageID int64 `form:"message_id" json:"message_id"`
}

func (s *SubmitTask) ValidateSubmitTask() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.MessageID, validation.Min(0)),
	)
}

// InitTopUp is a balance top-up request.
type InitTopUp struct {
	Amount decimal.Decimal `json:"amount"`
}

func (t *InitTopUp) ValidateInitTopUp() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.Amount, validation.Required, validation.By(positiveAmount)),
	)
}

func positiveAmount(value interface{}) error {
	amount, ok := value.(decimal.Decimal)
	if !ok || !amount.IsPositive() {
		return validation.NewError("validation_positive", "must be a positive amount")
	}
	return nil
}
