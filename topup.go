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
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gistrec/clear-transcript/config"
	"github.com/gistrec/clear-transcript/internal/apierror"
	"github.com/gistrec/clear-transcript/internal/notification"
	"github.com/gistrec/clear-transcript/model"
)

// minorUnits converts a decimal amount to integer minor currency units,
// which is what the gateway speaks.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).IntPart()
}

// InitTopUp creates a payment intent for amount, persists the payment in
// NEW status with the gateway response kept verbatim, and schedules an
// expiry job that cancels the intent if it is still unpaid when the
// configured deadline passes.
func (t *Transcript) InitTopUp(ctx context.Context, userID string, amount decimal.Decimal) (*model.Payment, error) {
	ctx, span := tracer.Start(ctx, "InitTopUp", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	if !amount.IsPositive() {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "Top-up amount must be positive", nil)
	}

	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	if _, err := t.datasource.CreateUser(ctx, model.User{UserID: userID, Balance: decimal.Zero}); err != nil {
		return nil, err
	}

	orderID := fmt.Sprintf("topup-%s-%s", userID, uuid.New().String()[:8])
	description := fmt.Sprintf("Balance top-up of %s", amount)

	initResp, err := t.gateway.Init(orderID, minorUnits(amount), description)
	if err != nil {
		span.RecordError(err)
		notification.NotifyError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create payment", err)
	}

	rawResponse, err := json.Marshal(initResp)
	if err != nil {
		rawResponse = nil
	}

	pmt := &model.Payment{
		PaymentID:        model.GenerateUUIDWithSuffix("pay"),
		UserID:           userID,
		OrderID:          orderID,
		GatewayPaymentID: initResp.PaymentID,
		Amount:           amount,
		Status:           model.PaymentStatusNew,
		PaymentURL:       initResp.PaymentURL,
		Description:      description,
		GatewayResponse:  rawResponse,
	}
	created, err := t.datasource.CreatePayment(ctx, pmt)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	expiresAt := time.Now().Add(time.Duration(conf.Payment.ExpiryMinutes) * time.Minute)
	if err := t.queue.queuePaymentExpiry(orderID, expiresAt); err != nil {
		// The reconciler's payment cycle still settles the payment; only
		// the proactive cancellation is lost.
		logrus.Errorf("failed to queue expiry for payment %s: %v", orderID, err)
	}

	return created, nil
}

// ProcessPaymentExpiry handles a delayed payment-expiry job: if the payment
// is still NEW when the job fires, the gateway intent is cancelled and the
// payment is marked expired. A payment already settled by the reconciler is
// left alone.
func (t *Transcript) ProcessPaymentExpiry(ctx context.Context, task *asynq.Task) error {
	var orderID string
	if err := json.Unmarshal(task.Payload(), &orderID); err != nil {
		return err
	}

	pmt, err := t.datasource.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	if pmt.Status != model.PaymentStatusNew {
		logrus.Infof("payment %s already %s, expiry skipped", orderID, pmt.Status)
		return nil
	}

	var rawResponse []byte
	if pmt.GatewayPaymentID != "" {
		state, err := t.gateway.Cancel(pmt.GatewayPaymentID)
		if err != nil {
			logrus.Errorf("failed to cancel payment intent %s: %v", orderID, err)
		} else if raw, marshalErr := json.Marshal(state); marshalErr == nil {
			rawResponse = raw
		}
	}

	transitioned, err := t.datasource.TransitionPayment(ctx, orderID, model.PaymentStatusExpired, rawResponse)
	if err != nil {
		return err
	}
	if transitioned {
		logrus.Infof("payment %s expired", orderID)
	}
	return nil
}
