package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adambossy/tally/internal/common"
	"github.com/adambossy/tally/internal/model"
)

const categoryColumns = `id, key, name, description, parent_key, created_at`

// GetCategories returns every category ordered by key, so roots sort
// immediately before their dotted children.
func (s *SQLiteStorage) GetCategories(ctx context.Context) ([]model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getCategoriesTx(ctx, s.db)
}

func getCategoriesTx(ctx context.Context, q queryable) ([]model.Category, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+categoryColumns+`
		FROM categories
		ORDER BY key
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var categories []model.Category
	for rows.Next() {
		cat, err := scanCategoryRow(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, *cat)
	}

	return categories, rows.Err()
}

// GetCategoryByKey returns the category with the given dotted key, or
// common.ErrNotFound if no such category exists.
func (s *SQLiteStorage) GetCategoryByKey(ctx context.Context, key string) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(key, "key"); err != nil {
		return nil, err
	}
	return getCategoryByKeyTx(ctx, s.db, key)
}

func getCategoryByKeyTx(ctx context.Context, q queryable, key string) (*model.Category, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+categoryColumns+`
		FROM categories
		WHERE key = ?
	`, key)

	cat, err := scanCategoryRow(row)
	if errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("category %q: %w", key, common.ErrNotFound)
	}
	return cat, err
}

// CreateCategory inserts a new category and returns it with its row ID set.
// The parent key is derived from the dotted key when the caller leaves it
// empty. A duplicate key yields common.ErrDuplicateEntry.
func (s *SQLiteStorage) CreateCategory(ctx context.Context, category *model.Category) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateCategory(category); err != nil {
		return nil, err
	}
	return createCategoryTx(ctx, s.db, category)
}

func createCategoryTx(ctx context.Context, q queryable, category *model.Category) (*model.Category, error) {
	parentKey := category.ParentKey
	if parentKey == "" && model.IsChildKey(category.Key) {
		parentKey = model.RootOf(category.Key)
	}

	now := time.Now().UTC()
	result, err := q.ExecContext(ctx, `
		INSERT INTO categories (key, name, description, parent_key, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, category.Key, category.Name, category.Description, parentKey, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("category %q: %w", category.Key, common.ErrDuplicateEntry)
		}
		return nil, fmt.Errorf("failed to create category: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get category ID: %w", err)
	}

	created := *category
	created.ID = id
	created.ParentKey = parentKey
	created.CreatedAt = now

	slog.Debug("created category", "key", created.Key, "id", id)
	return &created, nil
}

// UpdateCategory changes the display name and description of a category.
// The key is immutable here; use RenameCategoryKey for key changes.
func (s *SQLiteStorage) UpdateCategory(ctx context.Context, id int64, name, description string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(name, "name"); err != nil {
		return err
	}
	return updateCategoryTx(ctx, s.db, id, name, description)
}

func updateCategoryTx(ctx context.Context, q queryable, id int64, name, description string) error {
	result, err := q.ExecContext(ctx, `
		UPDATE categories
		SET name = ?, description = ?
		WHERE id = ?
	`, name, description, id)
	if err != nil {
		return fmt.Errorf("failed to update category: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("category %d: %w", id, common.ErrNotFound)
	}

	return nil
}

// RenameCategoryKey changes a category's key and cascades the new key into
// the parent_key of any children. Transactions reference categories by row
// ID, so no ledger rows change.
func (s *SQLiteStorage) RenameCategoryKey(ctx context.Context, oldKey, newKey string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(oldKey, "oldKey"); err != nil {
		return err
	}
	if err := validateString(newKey, "newKey"); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := renameCategoryKeyTx(ctx, tx, oldKey, newKey); err != nil {
		return err
	}

	return tx.Commit()
}

func renameCategoryKeyTx(ctx context.Context, q queryable, oldKey, newKey string) error {
	newParent := ""
	if model.IsChildKey(newKey) {
		newParent = model.RootOf(newKey)
	}

	result, err := q.ExecContext(ctx, `
		UPDATE categories
		SET key = ?, parent_key = ?
		WHERE key = ?
	`, newKey, newParent, oldKey)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("category %q: %w", newKey, common.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to rename category: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rename result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("category %q: %w", oldKey, common.ErrNotFound)
	}

	if _, err := q.ExecContext(ctx, `
		UPDATE categories
		SET parent_key = ?
		WHERE parent_key = ?
	`, newKey, oldKey); err != nil {
		return fmt.Errorf("failed to cascade rename to children: %w", err)
	}

	return nil
}

// DeleteCategory removes a category row. Ledger rows still pointing at it
// are explicitly unclassified first rather than relying on the database to
// cascade.
func (s *SQLiteStorage) DeleteCategory(ctx context.Context, key string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(key, "key"); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteCategoryTx(ctx, tx, key); err != nil {
		return err
	}

	return tx.Commit()
}

func deleteCategoryTx(ctx context.Context, q queryable, key string) error {
	cat, err := getCategoryByKeyTx(ctx, q, key)
	if err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, `
		UPDATE transactions
		SET category_id = NULL, confidence = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE category_id = ?
	`, cat.ID); err != nil {
		return fmt.Errorf("failed to unclassify transactions: %w", err)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, cat.ID); err != nil {
		return fmt.Errorf("failed to delete category: %w", err)
	}

	slog.Debug("deleted category", "key", key, "id", cat.ID)
	return nil
}

func scanCategoryRow(row rowScanner) (*model.Category, error) {
	var cat model.Category
	err := row.Scan(
		&cat.ID,
		&cat.Key,
		&cat.Name,
		&cat.Description,
		&cat.ParentKey,
		&cat.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan category: %w", err)
	}
	return &cat, nil
}
