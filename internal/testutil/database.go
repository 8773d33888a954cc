// Package testutil provides shared helpers for tests that need a real
// storage backend: an in-memory migrated database plus category and
// transaction seeding keyed the way the taxonomy keys things.
package testutil

import (
	"context"
	"strings"
	"testing"
	"unicode"

	"github.com/adambossy/tally/internal/model"
	"github.com/adambossy/tally/internal/service"
	"github.com/adambossy/tally/internal/storage"
)

// DefaultCategoryKeys is a small two-level taxonomy suitable for most
// tests. Roots come before their children so listings read naturally.
var DefaultCategoryKeys = []string{
	"food",
	"food.groceries",
	"food.restaurants",
	"transport",
	"shopping",
}

// TestDB wraps an in-memory migrated storage with the categories seeded
// for the test, indexed by key.
type TestDB struct {
	Storage    service.Storage
	Categories map[string]model.Category
	t          *testing.T
}

// SetupTestDB creates an in-memory database, runs migrations and seeds one
// category per key. Passing no keys seeds DefaultCategoryKeys; use
// SetupEmptyTestDB for a database with no categories at all. Cleanup is
// registered automatically.
func SetupTestDB(t *testing.T, keys ...string) *TestDB {
	t.Helper()

	if len(keys) == 0 {
		keys = DefaultCategoryKeys
	}

	db := SetupEmptyTestDB(t)
	ctx := context.Background()
	for _, key := range keys {
		created, err := db.Storage.CreateCategory(ctx, &model.Category{
			Key:  key,
			Name: nameFromKey(key),
		})
		if err != nil {
			t.Fatalf("failed to seed category %q: %v", key, err)
		}
		db.Categories[key] = *created
	}

	return db
}

// SetupEmptyTestDB creates an in-memory migrated database with no seeded
// data.
func SetupEmptyTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	return &TestDB{
		Storage:    store,
		Categories: make(map[string]model.Category),
		t:          t,
	}
}

// CategoryID returns the row ID of a seeded category or fails the test.
func (db *TestDB) CategoryID(key string) int64 {
	db.t.Helper()
	cat, ok := db.Categories[key]
	if !ok {
		db.t.Fatalf("category %q was not seeded", key)
	}
	return cat.ID
}

// SeedTransactions upserts the given rows and returns them re-read from
// storage so callers have their assigned IDs.
func (db *TestDB) SeedTransactions(txns ...model.LedgerTransaction) []model.LedgerTransaction {
	db.t.Helper()
	ctx := context.Background()

	if err := db.Storage.UpsertTransactions(ctx, txns); err != nil {
		db.t.Fatalf("failed to seed transactions: %v", err)
	}

	seeded := make([]model.LedgerTransaction, 0, len(txns))
	for i := range txns {
		stored, err := db.Storage.GetTransactionByNaturalKey(ctx, txns[i].Source, txns[i].ExternalID)
		if err != nil {
			db.t.Fatalf("failed to read back transaction %s: %v", txns[i].NaturalKey(), err)
		}
		seeded = append(seeded, *stored)
	}
	return seeded
}

// WithRollback runs fn inside a transaction that is always rolled back,
// leaving the database untouched.
func (db *TestDB) WithRollback(fn func(tx service.Transaction) error) error {
	tx, err := db.Storage.BeginTx(context.Background())
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	return fn(tx)
}

// nameFromKey turns the last segment of a dotted key into a display name,
// "food.groceries" becoming "Groceries".
func nameFromKey(key string) string {
	segment := key
	if i := strings.LastIndex(key, model.KeySeparator); i >= 0 {
		segment = key[i+1:]
	}
	if segment == "" {
		return key
	}
	runes := []rune(segment)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
