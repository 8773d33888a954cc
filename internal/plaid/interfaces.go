package plaid

import (
	"context"

	"github.com/adambossy/tally/internal/model"
)

// TransactionSyncer is the contract for cursor-based transaction feeds.
// An empty cursor asks for the item's history from the beginning; each
// page carries the cursor that resumes after it.
type TransactionSyncer interface {
	SyncTransactions(ctx context.Context, cursor string) (*model.SyncPage, error)
	GetAccounts(ctx context.Context) ([]string, error)
}
