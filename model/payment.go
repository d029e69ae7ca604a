package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Payment statuses follow the gateway vocabulary. Unknown statuses returned
// by the gateway are stored verbatim.
const (
	PaymentStatusNew       = "NEW"
	PaymentStatusConfirmed = "CONFIRMED"
	PaymentStatusCanceled  = "CANCELED"
	PaymentStatusRejected  = "REJECTED"
	PaymentStatusExpired   = "DEADLINE_EXPIRED"
)

// IsTerminalPaymentStatus reports whether a payment can no longer change
// state at the gateway.
func IsTerminalPaymentStatus(status string) bool {
	switch status {
	case PaymentStatusConfirmed, PaymentStatusCanceled, PaymentStatusRejected, PaymentStatusExpired:
		return true
	}
	return false
}

// Payment is a balance top-up attempt. GatewayResponse retains the raw
// gateway payload verbatim for dispute resolution.
type Payment struct {
	PaymentID        string          `json:"payment_id"`
	UserID           string          `json:"user_id"`
	OrderID          string          `json:"order_id"`
	GatewayPaymentID string          `json:"gateway_payment_id,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Status           string          `json:"status"`
	PaymentURL       string          `json:"payment_url,omitempty"`
	Description      string          `json:"description,omitempty"`
	GatewayResponse  json.RawMessage `json:"gateway_response,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}
