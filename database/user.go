package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/gistrec/clear-transcript/internal/apierror"
	"github.com/gistrec/clear-transcript/model"
)

// CreateUser records a new balance holder. If a user with the same external
// id already exists the stored row is returned instead, so registration is
// idempotent.
func (d Datasource) CreateUser(ctx context.Context, usr model.User) (model.User, error) {
	usr.RegisteredAt = time.Now()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO users (user_id, login, balance, registered_at)
		VALUES ($1, $2, $3, $4)
	`, usr.UserID, usr.Login, usr.Balance, usr.RegisteredAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			existing, getErr := d.GetUser(ctx, usr.UserID)
			if getErr != nil {
				return model.User{}, getErr
			}
			return *existing, nil
		}
		return model.User{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create user", err)
	}

	return usr, nil
}

func (d Datasource) GetUser(ctx context.Context, userID string) (*model.User, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT user_id, COALESCE(login, ''), balance, registered_at
		FROM users
		WHERE user_id = $1
	`, userID)

	usr := &model.User{}
	err := row.Scan(&usr.UserID, &usr.Login, &usr.Balance, &usr.RegisteredAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("User with ID '%s' not found", userID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve user", err)
	}

	return usr, nil
}

// UpdateBalance applies an additive delta to the user's balance. This is
// the only unconditional balance mutation; credits and compensating credits
// go through here.
func (d Datasource) UpdateBalance(ctx context.Context, userID string, delta decimal.Decimal) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE users
		SET balance = balance + $2
		WHERE user_id = $1
	`, userID, delta)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update balance", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("User with ID '%s' not found", userID), nil)
	}

	return nil
}

// DebitBalance subtracts amount from the user's balance only when the
// balance covers it. The conditional update makes the sufficiency check and
// the debit a single atomic read-modify-write, so concurrent debits can
// never take the stored balance below zero.
func (d Datasource) DebitBalance(ctx context.Context, userID string, amount decimal.Decimal) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE users
		SET balance = balance - $2
		WHERE user_id = $1 AND balance >= $2
	`, userID, amount)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to debit balance", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		// Either the user is missing or the balance does not cover the
		// amount. Distinguish the two for the caller.
		if _, getErr := d.GetUser(ctx, userID); getErr != nil {
			return getErr
		}
		return apierror.NewAPIError(apierror.ErrInsufficientFunds,
			fmt.Sprintf("Balance of user '%s' does not cover %s", userID, amount), nil)
	}

	return nil
}
