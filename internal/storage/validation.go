// Package storage provides the SQLite persistence layer.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/adambossy/tally/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrEmptySlice         = errors.New("slice cannot be empty")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidCategory    = errors.New("invalid category")
	ErrInvalidOrder       = errors.New("invalid order")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateTransactions validates a slice of ledger rows.
func validateTransactions(txns []model.LedgerTransaction) error {
	if txns == nil {
		return fmt.Errorf("%w: transactions", ErrNilParameter)
	}
	if len(txns) == 0 {
		return fmt.Errorf("%w: transactions", ErrEmptySlice)
	}

	for i := range txns {
		if err := validateTransaction(&txns[i]); err != nil {
			return fmt.Errorf("transaction at index %d: %w", i, err)
		}
	}
	return nil
}

// validateTransaction validates a single ledger row.
func validateTransaction(txn *model.LedgerTransaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if txn.ExternalID == "" {
		return fmt.Errorf("%w: missing external ID", ErrInvalidTransaction)
	}
	if txn.Source == "" {
		return fmt.Errorf("%w: missing source", ErrInvalidTransaction)
	}
	if txn.PostedAt.IsZero() {
		return fmt.Errorf("%w: missing posted date", ErrInvalidTransaction)
	}
	if txn.Currency == "" {
		return fmt.Errorf("%w: missing currency", ErrInvalidTransaction)
	}
	return nil
}

// validateCategory validates a category row before insert.
func validateCategory(category *model.Category) error {
	if category == nil {
		return fmt.Errorf("%w: category", ErrNilParameter)
	}
	if strings.TrimSpace(category.Key) == "" {
		return fmt.Errorf("%w: missing key", ErrInvalidCategory)
	}
	if strings.TrimSpace(category.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidCategory)
	}
	return nil
}

// validateOrders validates a slice of order records.
func validateOrders(orders []model.OrderRecord) error {
	if orders == nil {
		return fmt.Errorf("%w: orders", ErrNilParameter)
	}
	if len(orders) == 0 {
		return fmt.Errorf("%w: orders", ErrEmptySlice)
	}

	for i := range orders {
		if orders[i].OrderID == "" {
			return fmt.Errorf("order at index %d: %w: missing order ID", i, ErrInvalidOrder)
		}
		if orders[i].OrderDate.IsZero() {
			return fmt.Errorf("order at index %d: %w: missing order date", i, ErrInvalidOrder)
		}
	}
	return nil
}
