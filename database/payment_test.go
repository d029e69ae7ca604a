package database

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gistrec/clear-transcript/internal/apierror"
	"github.com/gistrec/clear-transcript/model"
)

func paymentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"payment_id", "user_id", "order_id", "gateway_payment_id", "amount",
		"status", "payment_url", "description", "gateway_response", "created_at",
	})
}

func TestCreatePayment(t *testing.T) {
	ds, mock := newTestDatasource(t)

	pmt := &model.Payment{
		PaymentID: model.GenerateUUIDWithSuffix("pay"),
		UserID:    "usr_1",
		OrderID:   "topup-usr_1-a1b2c3d4",
		Amount:    decimal.RequireFromString("100.00"),
		Status:    model.PaymentStatusNew,
	}

	mock.ExpectExec("INSERT INTO payments").
		WithArgs(pmt.PaymentID, pmt.UserID, pmt.OrderID, pmt.GatewayPaymentID,
			pmt.Amount, pmt.Status, pmt.PaymentURL, pmt.Description,
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	created, err := ds.CreatePayment(context.Background(), pmt)
	require.NoError(t, err)
	assert.False(t, created.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePayment_DuplicateOrderID(t *testing.T) {
	ds, mock := newTestDatasource(t)

	pmt := &model.Payment{
		PaymentID: model.GenerateUUIDWithSuffix("pay"),
		UserID:    "usr_1",
		OrderID:   "topup-usr_1-a1b2c3d4",
		Amount:    decimal.RequireFromString("100.00"),
		Status:    model.PaymentStatusNew,
	}

	mock.ExpectExec("INSERT INTO payments").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := ds.CreatePayment(context.Background(), pmt)
	require.Error(t, err)
	assert.Equal(t, apierror.ErrConflict, apierror.CodeOf(err))
}

func TestGetPaymentByOrderID(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectQuery("SELECT").
		WithArgs("topup-usr_1-a1b2c3d4").
		WillReturnRows(paymentRows().AddRow(
			"pay_1", "usr_1", "topup-usr_1-a1b2c3d4", "777", "100.00",
			model.PaymentStatusNew, "https://pay.example/x", "Balance top-up",
			[]byte(`{"Success":true}`), time.Now(),
		))

	pmt, err := ds.GetPaymentByOrderID(context.Background(), "topup-usr_1-a1b2c3d4")
	require.NoError(t, err)
	assert.Equal(t, "777", pmt.GatewayPaymentID)
	assert.Equal(t, model.PaymentStatusNew, pmt.Status)
	assert.True(t, pmt.Amount.Equal(decimal.RequireFromString("100.00")))
}

func TestGetPaymentByOrderID_NotFound(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectQuery("SELECT").
		WithArgs("topup-missing").
		WillReturnRows(paymentRows())

	_, err := ds.GetPaymentByOrderID(context.Background(), "topup-missing")
	require.Error(t, err)
	assert.Equal(t, apierror.ErrNotFound, apierror.CodeOf(err))
}

func TestGetPendingPayments(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectQuery("SELECT").
		WithArgs(model.PaymentStatusNew).
		WillReturnRows(paymentRows().
			AddRow("pay_1", "usr_1", "topup-usr_1-a", nil, "100.00",
				model.PaymentStatusNew, nil, nil, nil, time.Now()).
			AddRow("pay_2", "usr_2", "topup-usr_2-b", nil, "50.00",
				model.PaymentStatusNew, nil, nil, nil, time.Now()))

	payments, err := ds.GetPendingPayments(context.Background())
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, "topup-usr_1-a", payments[0].OrderID)
}

func TestTransitionPayment(t *testing.T) {
	ds, mock := newTestDatasource(t)

	response := json.RawMessage(`{"Status":"CONFIRMED"}`)
	mock.ExpectExec("UPDATE payments").
		WithArgs("topup-usr_1-a", model.PaymentStatusConfirmed, []byte(response), model.PaymentStatusNew).
		WillReturnResult(sqlmock.NewResult(0, 1))

	transitioned, err := ds.TransitionPayment(context.Background(), "topup-usr_1-a", model.PaymentStatusConfirmed, response)
	require.NoError(t, err)
	assert.True(t, transitioned)
}

func TestTransitionPayment_AlreadyTerminal(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectExec("UPDATE payments").
		WithArgs("topup-usr_1-a", model.PaymentStatusConfirmed, sqlmock.AnyArg(), model.PaymentStatusNew).
		WillReturnResult(sqlmock.NewResult(0, 0))

	transitioned, err := ds.TransitionPayment(context.Background(), "topup-usr_1-a", model.PaymentStatusConfirmed, nil)
	require.NoError(t, err)
	assert.False(t, transitioned)
}
