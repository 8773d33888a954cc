package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adambossy/tally/internal/model"
	"github.com/adambossy/tally/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new database transaction.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTransaction{tx: tx, storage: s}, nil
}

// queryable is an interface satisfied by both *sql.DB and *sql.Tx.
type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// sqliteTransaction wraps sql.Tx to implement service.Transaction. Methods
// delegate to the same queryable-based cores the storage methods use.
type sqliteTransaction struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTransaction) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTransaction) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTransaction) UpsertTransactions(ctx context.Context, txns []model.LedgerTransaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransactions(txns); err != nil {
		return err
	}
	return upsertTransactionsTx(ctx, t.tx, txns)
}

func (t *sqliteTransaction) DeleteTransactionsByExternalIDs(ctx context.Context, source string, externalIDs []string) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(source, "source"); err != nil {
		return 0, err
	}
	return deleteTransactionsByExternalIDsTx(ctx, t.tx, source, externalIDs)
}

func (t *sqliteTransaction) GetTransactionByID(ctx context.Context, id int64) (*model.LedgerTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getTransactionByIDTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) GetTransactionByNaturalKey(ctx context.Context, source, externalID string) (*model.LedgerTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(source, "source"); err != nil {
		return nil, err
	}
	if err := validateString(externalID, "externalID"); err != nil {
		return nil, err
	}
	return getTransactionByNaturalKeyTx(ctx, t.tx, source, externalID)
}

func (t *sqliteTransaction) GetTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.LedgerTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getTransactionsTx(ctx, t.tx, filter)
}

func (t *sqliteTransaction) GetTransactionsByCategoryID(ctx context.Context, categoryID int64) ([]model.LedgerTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getTransactionsByCategoryIDTx(ctx, t.tx, categoryID)
}

func (t *sqliteTransaction) ApplyClassifications(ctx context.Context, assignments []service.CategoryAssignment) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return applyClassificationsTx(ctx, t.tx, assignments)
}

func (t *sqliteTransaction) SetTransactionCategory(ctx context.Context, transactionID int64, categoryID *int64, confidence *float64, verified bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return setTransactionCategoryTx(ctx, t.tx, transactionID, categoryID, confidence, verified)
}

func (t *sqliteTransaction) ReassignCategory(ctx context.Context, fromCategoryID, toCategoryID int64) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return reassignCategoryTx(ctx, t.tx, fromCategoryID, toCategoryID)
}

func (t *sqliteTransaction) SetVerified(ctx context.Context, transactionID int64, verified bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return setVerifiedTx(ctx, t.tx, transactionID, verified)
}

func (t *sqliteTransaction) GetCategories(ctx context.Context) ([]model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getCategoriesTx(ctx, t.tx)
}

func (t *sqliteTransaction) GetCategoryByKey(ctx context.Context, key string) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(key, "key"); err != nil {
		return nil, err
	}
	return getCategoryByKeyTx(ctx, t.tx, key)
}

func (t *sqliteTransaction) CreateCategory(ctx context.Context, category *model.Category) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateCategory(category); err != nil {
		return nil, err
	}
	return createCategoryTx(ctx, t.tx, category)
}

func (t *sqliteTransaction) UpdateCategory(ctx context.Context, id int64, name, description string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(name, "name"); err != nil {
		return err
	}
	return updateCategoryTx(ctx, t.tx, id, name, description)
}

func (t *sqliteTransaction) RenameCategoryKey(ctx context.Context, oldKey, newKey string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(oldKey, "oldKey"); err != nil {
		return err
	}
	if err := validateString(newKey, "newKey"); err != nil {
		return err
	}
	return renameCategoryKeyTx(ctx, t.tx, oldKey, newKey)
}

func (t *sqliteTransaction) DeleteCategory(ctx context.Context, key string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(key, "key"); err != nil {
		return err
	}
	return deleteCategoryTx(ctx, t.tx, key)
}

func (t *sqliteTransaction) GetCursor(ctx context.Context, itemID string) (*model.SyncCursor, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(itemID, "itemID"); err != nil {
		return nil, err
	}
	return getCursorTx(ctx, t.tx, itemID)
}

func (t *sqliteTransaction) SaveCursor(ctx context.Context, itemID, cursor string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(itemID, "itemID"); err != nil {
		return err
	}
	return saveCursorTx(ctx, t.tx, itemID, cursor)
}

func (t *sqliteTransaction) DeleteCursor(ctx context.Context, itemID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(itemID, "itemID"); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, `
		DELETE FROM sync_cursors
		WHERE item_id = ?
	`, itemID); err != nil {
		return fmt.Errorf("failed to delete cursor: %w", err)
	}
	return nil
}

func (t *sqliteTransaction) SaveOrders(ctx context.Context, orders []model.OrderRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateOrders(orders); err != nil {
		return err
	}
	return saveOrdersTx(ctx, t.tx, orders)
}

func (t *sqliteTransaction) GetOrders(ctx context.Context) ([]model.OrderRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getOrdersTx(ctx, t.tx)
}

func (t *sqliteTransaction) GetOrderByID(ctx context.Context, orderID string) (*model.OrderRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(orderID, "orderID"); err != nil {
		return nil, err
	}
	return getOrderByIDTx(ctx, t.tx, orderID)
}

func (t *sqliteTransaction) SaveOrderMatches(ctx context.Context, matches []model.OrderMatch) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return saveOrderMatchesTx(ctx, t.tx, matches)
}

func (t *sqliteTransaction) GetOrderMatches(ctx context.Context) ([]model.OrderMatch, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getOrderMatchesTx(ctx, t.tx)
}

func (t *sqliteTransaction) Migrate(_ context.Context) error {
	// Migrations should not be run within a transaction
	return fmt.Errorf("migrations cannot be run within a transaction")
}

func (t *sqliteTransaction) BeginTx(_ context.Context) (service.Transaction, error) {
	// Nested transactions not supported
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *sqliteTransaction) Close() error {
	// Transactions should be committed or rolled back, not closed
	return fmt.Errorf("transactions must be committed or rolled back, not closed")
}

// Ensure the implementations satisfy the service contracts.
var (
	_ service.Storage     = (*SQLiteStorage)(nil)
	_ service.Transaction = (*sqliteTransaction)(nil)
)
