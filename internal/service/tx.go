package service

import (
	"context"
	"fmt"
)

// WithTransaction runs fn inside a storage transaction, committing when fn
// returns nil and rolling back otherwise. The rollback error is discarded;
// the caller's error wins.
func WithTransaction(ctx context.Context, s Storage, fn func(tx Transaction) error) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
