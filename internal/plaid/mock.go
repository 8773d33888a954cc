package plaid

import (
	"context"

	"github.com/adambossy/tally/internal/model"
)

// MockClient is a mock implementation of TransactionSyncer for testing.
type MockClient struct {
	// Functions that can be set by tests to control behavior
	SyncTransactionsFn func(ctx context.Context, cursor string) (*model.SyncPage, error)
	GetAccountsFn      func(ctx context.Context) ([]string, error)

	// Call tracking
	SyncCursors      []string
	GetAccountsCalls int
}

// NewMockClient creates a new mock Plaid client.
func NewMockClient() *MockClient {
	return &MockClient{SyncCursors: []string{}}
}

// SyncTransactions implements TransactionSyncer.SyncTransactions.
func (m *MockClient) SyncTransactions(ctx context.Context, cursor string) (*model.SyncPage, error) {
	m.SyncCursors = append(m.SyncCursors, cursor)

	if m.SyncTransactionsFn != nil {
		return m.SyncTransactionsFn(ctx, cursor)
	}

	// Default behavior: an exhausted feed that stays at the given cursor.
	return &model.SyncPage{NextCursor: cursor, HasMore: false}, nil
}

// GetAccounts implements TransactionSyncer.GetAccounts.
func (m *MockClient) GetAccounts(ctx context.Context) ([]string, error) {
	m.GetAccountsCalls++

	if m.GetAccountsFn != nil {
		return m.GetAccountsFn(ctx)
	}

	return []string{}, nil
}

// Reset clears all call tracking.
func (m *MockClient) Reset() {
	m.SyncCursors = []string{}
	m.GetAccountsCalls = 0
}

// Ensure MockClient implements TransactionSyncer interface.
var _ TransactionSyncer = (*MockClient)(nil)
