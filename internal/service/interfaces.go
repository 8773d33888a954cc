// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/adambossy/tally/internal/model"
)

// TransactionFilter defines filtering options for ledger queries.
type TransactionFilter struct {
	Start          *time.Time
	End            *time.Time
	CategoryID     *int64
	Source         string
	Limit          int
	PendingOnly    bool
	ClassifiedOnly bool
	UnverifiedOnly bool
}

// CategoryAssignment pairs a ledger row with its classified category.
type CategoryAssignment struct {
	TransactionID int64
	CategoryID    int64
	Confidence    float64
}

// Storage defines the contract for the persistence layer.
type Storage interface {
	// Ledger operations. UpsertTransactions inserts new rows and updates
	// existing unverified rows by (external_id, source); verified rows are
	// skipped. DeleteTransactionsByExternalIDs removes unverified rows only
	// and returns the number actually deleted.
	UpsertTransactions(ctx context.Context, txns []model.LedgerTransaction) error
	DeleteTransactionsByExternalIDs(ctx context.Context, source string, externalIDs []string) (int64, error)
	GetTransactionByID(ctx context.Context, id int64) (*model.LedgerTransaction, error)
	GetTransactionByNaturalKey(ctx context.Context, source, externalID string) (*model.LedgerTransaction, error)
	GetTransactions(ctx context.Context, filter TransactionFilter) ([]model.LedgerTransaction, error)
	GetTransactionsByCategoryID(ctx context.Context, categoryID int64) ([]model.LedgerTransaction, error)

	// ApplyClassifications is the sync/classify write path: it sets
	// category and confidence on unverified rows and leaves verified rows
	// untouched. SetTransactionCategory is the migration/verification
	// write path and may change the verified flag explicitly.
	ApplyClassifications(ctx context.Context, assignments []CategoryAssignment) error
	SetTransactionCategory(ctx context.Context, transactionID int64, categoryID *int64, confidence *float64, verified bool) error
	ReassignCategory(ctx context.Context, fromCategoryID, toCategoryID int64) (int64, error)
	SetVerified(ctx context.Context, transactionID int64, verified bool) error

	// Category operations.
	GetCategories(ctx context.Context) ([]model.Category, error)
	GetCategoryByKey(ctx context.Context, key string) (*model.Category, error)
	CreateCategory(ctx context.Context, category *model.Category) (*model.Category, error)
	UpdateCategory(ctx context.Context, id int64, name, description string) error
	RenameCategoryKey(ctx context.Context, oldKey, newKey string) error
	DeleteCategory(ctx context.Context, key string) error

	// Sync cursor operations.
	GetCursor(ctx context.Context, itemID string) (*model.SyncCursor, error)
	SaveCursor(ctx context.Context, itemID, cursor string) error
	DeleteCursor(ctx context.Context, itemID string) error

	// Order operations.
	SaveOrders(ctx context.Context, orders []model.OrderRecord) error
	GetOrders(ctx context.Context) ([]model.OrderRecord, error)
	GetOrderByID(ctx context.Context, orderID string) (*model.OrderRecord, error)
	SaveOrderMatches(ctx context.Context, matches []model.OrderMatch) error
	GetOrderMatches(ctx context.Context) ([]model.OrderMatch, error)

	// Database management.
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit() error
	Rollback() error
	// Include all Storage methods for use within a transaction.
	Storage
}

// VocabularyEntry is one category as presented to the classifier.
type VocabularyEntry struct {
	Key         string
	Name        string
	Description string
}

// ClassifyStats summarizes a classification run.
type ClassifyStats struct {
	Duration          time.Duration
	TotalTransactions int
	Classified        int
	FailedBatches     int
	CacheHits         int
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
