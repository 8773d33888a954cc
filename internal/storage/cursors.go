package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/adambossy/tally/internal/model"
)

// GetCursor returns the saved sync cursor for an item, or nil if the item
// has never completed a sync. A missing cursor is the normal first-sync
// state, not an error.
func (s *SQLiteStorage) GetCursor(ctx context.Context, itemID string) (*model.SyncCursor, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(itemID, "itemID"); err != nil {
		return nil, err
	}
	return getCursorTx(ctx, s.db, itemID)
}

func getCursorTx(ctx context.Context, q queryable, itemID string) (*model.SyncCursor, error) {
	var cursor model.SyncCursor
	err := q.QueryRowContext(ctx, `
		SELECT item_id, cursor, updated_at
		FROM sync_cursors
		WHERE item_id = ?
	`, itemID).Scan(&cursor.ItemID, &cursor.Cursor, &cursor.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cursor: %w", err)
	}

	return &cursor, nil
}

// SaveCursor records the cursor frontier for an item. Called only after the
// work owed by the previous cursor has been durably persisted.
func (s *SQLiteStorage) SaveCursor(ctx context.Context, itemID, cursor string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(itemID, "itemID"); err != nil {
		return err
	}
	return saveCursorTx(ctx, s.db, itemID, cursor)
}

// DeleteCursor clears the saved cursor for an item, returning it to the
// first-sync state. Deleting an absent cursor is a no-op.
func (s *SQLiteStorage) DeleteCursor(ctx context.Context, itemID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(itemID, "itemID"); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM sync_cursors
		WHERE item_id = ?
	`, itemID); err != nil {
		return fmt.Errorf("failed to delete cursor: %w", err)
	}
	return nil
}

func saveCursorTx(ctx context.Context, q queryable, itemID, cursor string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO sync_cursors (item_id, cursor, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(item_id) DO UPDATE SET
			cursor = excluded.cursor,
			updated_at = CURRENT_TIMESTAMP
	`, itemID, cursor)
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}
