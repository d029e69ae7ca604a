package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a balance holder, identified by the external chat user id.
// Balance is only ever mutated through additive delta operations.
type User struct {
	UserID       string          `json:"user_id"`
	Login        string          `json:"login,omitempty"`
	Balance      decimal.Decimal `json:"balance"`
	RegisteredAt time.Time       `json:"registered_at"`
}
