package engine

import (
	"context"

	"github.com/adambossy/tally/internal/model"
	"github.com/adambossy/tally/internal/service"
)

// Classifier defines the contract for batch transaction categorization.
// Implementations return exactly one result per transaction, ordered by
// batch index. Returned category keys are not validated by the
// implementation; the engine enforces vocabulary membership.
type Classifier interface {
	ClassifyBatch(ctx context.Context, txns []model.LedgerTransaction, vocabulary []service.VocabularyEntry, constrained bool) ([]model.ClassificationResult, error)
	ModelID() string
}
