package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/adambossy/tally/internal/common"
	"github.com/adambossy/tally/internal/model"
	"github.com/adambossy/tally/internal/service"
)

// ledgerColumns is the canonical select list for transaction rows.
const ledgerColumns = `id, external_id, source, account_id, posted_at, amount_cents,
	currency, merchant, merchant_id, category_id, confidence, is_verified`

// UpsertTransactions inserts new rows and refreshes existing unverified rows
// keyed by (external_id, source). Classification columns are never touched:
// new rows land unclassified and re-synced rows keep their assignment until
// the owning classification batch overwrites it. Verified rows are skipped
// entirely.
func (s *SQLiteStorage) UpsertTransactions(ctx context.Context, txns []model.LedgerTransaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransactions(txns); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertTransactionsTx(ctx, tx, txns); err != nil {
		return err
	}

	return tx.Commit()
}

func upsertTransactionsTx(ctx context.Context, q queryable, txns []model.LedgerTransaction) error {
	stmt, err := q.PrepareContext(ctx, `
		INSERT INTO transactions (
			external_id, source, account_id, posted_at, amount_cents,
			currency, merchant, merchant_id, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(external_id, source) DO UPDATE SET
			account_id = excluded.account_id,
			posted_at = excluded.posted_at,
			amount_cents = excluded.amount_cents,
			currency = excluded.currency,
			merchant = excluded.merchant,
			merchant_id = excluded.merchant_id,
			updated_at = CURRENT_TIMESTAMP
		WHERE transactions.is_verified = 0
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range txns {
		txn := &txns[i]
		_, err = stmt.ExecContext(ctx,
			txn.ExternalID,
			txn.Source,
			txn.AccountID,
			txn.PostedAt,
			txn.AmountCents,
			txn.Currency,
			txn.MerchantDescriptor,
			txn.MerchantID,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert transaction %s: %w", txn.NaturalKey(), err)
		}
	}

	return nil
}

// DeleteTransactionsByExternalIDs removes unverified rows named by the feed
// as deleted and returns the number actually removed. Verified rows stay.
func (s *SQLiteStorage) DeleteTransactionsByExternalIDs(ctx context.Context, source string, externalIDs []string) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(source, "source"); err != nil {
		return 0, err
	}
	return deleteTransactionsByExternalIDsTx(ctx, s.db, source, externalIDs)
}

func deleteTransactionsByExternalIDsTx(ctx context.Context, q queryable, source string, externalIDs []string) (int64, error) {
	if len(externalIDs) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(externalIDs)), ",")
	args := make([]any, 0, len(externalIDs)+1)
	args = append(args, source)
	for _, id := range externalIDs {
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		DELETE FROM transactions
		WHERE source = ? AND external_id IN (%s) AND is_verified = 0
	`, placeholders)

	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete transactions: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted transactions: %w", err)
	}
	if deleted < int64(len(externalIDs)) {
		slog.Debug("skipped removals for verified or missing rows",
			"requested", len(externalIDs), "deleted", deleted)
	}

	return deleted, nil
}

// GetTransactionByID retrieves a single transaction by row ID.
func (s *SQLiteStorage) GetTransactionByID(ctx context.Context, id int64) (*model.LedgerTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getTransactionByIDTx(ctx, s.db, id)
}

func getTransactionByIDTx(ctx context.Context, q queryable, id int64) (*model.LedgerTransaction, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM transactions
		WHERE id = ?
	`, id)
	return scanLedgerRow(row)
}

// GetTransactionByNaturalKey retrieves a transaction by its feed identity.
func (s *SQLiteStorage) GetTransactionByNaturalKey(ctx context.Context, source, externalID string) (*model.LedgerTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(source, "source"); err != nil {
		return nil, err
	}
	if err := validateString(externalID, "externalID"); err != nil {
		return nil, err
	}
	return getTransactionByNaturalKeyTx(ctx, s.db, source, externalID)
}

func getTransactionByNaturalKeyTx(ctx context.Context, q queryable, source, externalID string) (*model.LedgerTransaction, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM transactions
		WHERE source = ? AND external_id = ?
	`, source, externalID)
	return scanLedgerRow(row)
}

// GetTransactions retrieves ledger rows matching the filter, ordered by
// posted date then row ID.
func (s *SQLiteStorage) GetTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.LedgerTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getTransactionsTx(ctx, s.db, filter)
}

func getTransactionsTx(ctx context.Context, q queryable, filter service.TransactionFilter) ([]model.LedgerTransaction, error) {
	query := `SELECT ` + ledgerColumns + ` FROM transactions`
	var clauses []string
	var args []any

	if filter.Start != nil {
		clauses = append(clauses, "posted_at >= ?")
		args = append(args, *filter.Start)
	}
	if filter.End != nil {
		clauses = append(clauses, "posted_at <= ?")
		args = append(args, *filter.End)
	}
	if filter.CategoryID != nil {
		clauses = append(clauses, "category_id = ?")
		args = append(args, *filter.CategoryID)
	}
	if filter.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.PendingOnly {
		clauses = append(clauses, "category_id IS NULL")
	}
	if filter.ClassifiedOnly {
		clauses = append(clauses, "category_id IS NOT NULL")
	}
	if filter.UnverifiedOnly {
		clauses = append(clauses, "is_verified = 0")
	}

	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY posted_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanLedgerRows(rows)
}

// GetTransactionsByCategoryID retrieves all rows assigned to a category.
func (s *SQLiteStorage) GetTransactionsByCategoryID(ctx context.Context, categoryID int64) ([]model.LedgerTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getTransactionsByCategoryIDTx(ctx, s.db, categoryID)
}

func getTransactionsByCategoryIDTx(ctx context.Context, q queryable, categoryID int64) ([]model.LedgerTransaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM transactions
		WHERE category_id = ?
		ORDER BY posted_at ASC, id ASC
	`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions by category: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanLedgerRows(rows)
}

// ApplyClassifications writes category assignments onto unverified rows.
// Verified rows are skipped without error so a sync batch can never undo a
// human confirmation.
func (s *SQLiteStorage) ApplyClassifications(ctx context.Context, assignments []service.CategoryAssignment) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := applyClassificationsTx(ctx, tx, assignments); err != nil {
		return err
	}

	return tx.Commit()
}

func applyClassificationsTx(ctx context.Context, q queryable, assignments []service.CategoryAssignment) error {
	if len(assignments) == 0 {
		return nil
	}

	stmt, err := q.PrepareContext(ctx, `
		UPDATE transactions
		SET category_id = ?, confidence = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND is_verified = 0
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, a := range assignments {
		if _, err := stmt.ExecContext(ctx, a.CategoryID, a.Confidence, a.TransactionID); err != nil {
			return fmt.Errorf("failed to classify transaction %d: %w", a.TransactionID, err)
		}
	}

	return nil
}

// SetTransactionCategory sets the category, confidence and verified flag on
// a single row. This is the migration and verification write path; unlike
// ApplyClassifications it may change verified rows.
func (s *SQLiteStorage) SetTransactionCategory(ctx context.Context, transactionID int64, categoryID *int64, confidence *float64, verified bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return setTransactionCategoryTx(ctx, s.db, transactionID, categoryID, confidence, verified)
}

func setTransactionCategoryTx(ctx context.Context, q queryable, transactionID int64, categoryID *int64, confidence *float64, verified bool) error {
	result, err := q.ExecContext(ctx, `
		UPDATE transactions
		SET category_id = ?, confidence = ?, is_verified = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, categoryID, confidence, verified, transactionID)
	if err != nil {
		return fmt.Errorf("failed to set transaction category: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("transaction %d: %w", transactionID, common.ErrNotFound)
	}

	return nil
}

// ReassignCategory moves every row from one category to another in a single
// statement and returns the number moved. Verified rows move too: a direct
// reassignment preserves the meaning of the original assignment.
func (s *SQLiteStorage) ReassignCategory(ctx context.Context, fromCategoryID, toCategoryID int64) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return reassignCategoryTx(ctx, s.db, fromCategoryID, toCategoryID)
}

func reassignCategoryTx(ctx context.Context, q queryable, fromCategoryID, toCategoryID int64) (int64, error) {
	result, err := q.ExecContext(ctx, `
		UPDATE transactions
		SET category_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE category_id = ?
	`, toCategoryID, fromCategoryID)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign category: %w", err)
	}

	moved, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count reassigned rows: %w", err)
	}

	return moved, nil
}

// SetVerified flips the verified flag on a single row.
func (s *SQLiteStorage) SetVerified(ctx context.Context, transactionID int64, verified bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return setVerifiedTx(ctx, s.db, transactionID, verified)
}

func setVerifiedTx(ctx context.Context, q queryable, transactionID int64, verified bool) error {
	result, err := q.ExecContext(ctx, `
		UPDATE transactions
		SET is_verified = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, verified, transactionID)
	if err != nil {
		return fmt.Errorf("failed to set verified flag: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("transaction %d: %w", transactionID, common.ErrNotFound)
	}

	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanLedgerRow(row rowScanner) (*model.LedgerTransaction, error) {
	var txn model.LedgerTransaction
	var categoryID sql.NullInt64
	var confidence sql.NullFloat64

	err := row.Scan(
		&txn.ID,
		&txn.ExternalID,
		&txn.Source,
		&txn.AccountID,
		&txn.PostedAt,
		&txn.AmountCents,
		&txn.Currency,
		&txn.MerchantDescriptor,
		&txn.MerchantID,
		&categoryID,
		&confidence,
		&txn.IsVerified,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if categoryID.Valid {
		txn.CategoryID = &categoryID.Int64
	}
	if confidence.Valid {
		txn.Confidence = &confidence.Float64
	}

	return &txn, nil
}

func scanLedgerRows(rows *sql.Rows) ([]model.LedgerTransaction, error) {
	var txns []model.LedgerTransaction
	for rows.Next() {
		txn, err := scanLedgerRow(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *txn)
	}
	return txns, rows.Err()
}
