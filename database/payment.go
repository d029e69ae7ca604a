package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/gistrec/clear-transcript/internal/apierror"
	"github.com/gistrec/clear-transcript/model"
)

const paymentColumns = `
	payment_id, user_id, order_id, gateway_payment_id, amount, status,
	payment_url, description, gateway_response, created_at
`

func scanPayment(row interface {
	Scan(dest ...interface{}) error
}) (*model.Payment, error) {
	pmt := &model.Payment{}
	var gatewayPaymentID, paymentURL, description sql.NullString
	err := row.Scan(
		&pmt.PaymentID, &pmt.UserID, &pmt.OrderID, &gatewayPaymentID,
		&pmt.Amount, &pmt.Status, &paymentURL, &description,
		&pmt.GatewayResponse, &pmt.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	pmt.GatewayPaymentID = gatewayPaymentID.String
	pmt.PaymentURL = paymentURL.String
	pmt.Description = description.String
	return pmt, nil
}

// CreatePayment records a new top-up attempt. Order ids are unique; a
// duplicate order id is a conflict, not an internal error.
func (d Datasource) CreatePayment(ctx context.Context, pmt *model.Payment) (*model.Payment, error) {
	pmt.CreatedAt = time.Now()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO payments (payment_id, user_id, order_id, gateway_payment_id, amount, status, payment_url, description, gateway_response, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, pmt.PaymentID, pmt.UserID, pmt.OrderID, pmt.GatewayPaymentID, pmt.Amount,
		pmt.Status, pmt.PaymentURL, pmt.Description, []byte(pmt.GatewayResponse), pmt.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Payment with order ID '%s' already exists", pmt.OrderID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create payment", err)
	}

	return pmt, nil
}

func (d Datasource) GetPaymentByOrderID(ctx context.Context, orderID string) (*model.Payment, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE order_id = $1
	`, orderID)

	pmt, err := scanPayment(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payment with order ID '%s' not found", orderID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payment", err)
	}

	return pmt, nil
}

// GetPendingPayments returns payments that have not reached a terminal
// gateway status. The reconciler polls these against the gateway.
func (d Datasource) GetPendingPayments(ctx context.Context) ([]model.Payment, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = $1
		ORDER BY created_at ASC
	`, model.PaymentStatusNew)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payments", err)
	}
	defer rows.Close()

	var payments []model.Payment
	for rows.Next() {
		pmt, err := scanPayment(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan payment", err)
		}
		payments = append(payments, *pmt)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to iterate payments", err)
	}

	return payments, nil
}

// TransitionPayment moves a payment out of the NEW status. It returns true
// only for the writer that actually performed the transition, so the balance
// credit that follows a confirmation is applied exactly once even when the
// webhook and the reconciler race.
func (d Datasource) TransitionPayment(ctx context.Context, orderID, toStatus string, response []byte) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE payments
		SET status = $2, gateway_response = $3
		WHERE order_id = $1 AND status = $4
	`, orderID, toStatus, response, model.PaymentStatusNew)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to transition payment", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}

	return rowsAffected > 0, nil
}
