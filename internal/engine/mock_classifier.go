package engine

import (
	"context"
	"sync"

	"github.com/adambossy/tally/internal/model"
	"github.com/adambossy/tally/internal/service"
)

// MockClassifier is a test implementation of the Classifier interface. By
// default it deterministically assigns vocabulary entries round-robin;
// set ClassifyBatchFn to script specific behavior.
type MockClassifier struct {
	ClassifyBatchFn func(ctx context.Context, txns []model.LedgerTransaction, vocabulary []service.VocabularyEntry, constrained bool) ([]model.ClassificationResult, error)
	Model           string
	calls           []MockClassifyCall
	mu              sync.Mutex
}

// MockClassifyCall records one classification request.
type MockClassifyCall struct {
	Transactions []model.LedgerTransaction
	Vocabulary   []service.VocabularyEntry
	Constrained  bool
}

var _ Classifier = (*MockClassifier)(nil)

// NewMockClassifier creates a new mock classifier.
func NewMockClassifier() *MockClassifier {
	return &MockClassifier{
		Model: "mock-model",
		calls: make([]MockClassifyCall, 0),
	}
}

// ClassifyBatch records the call and returns scripted or round-robin
// results.
func (m *MockClassifier) ClassifyBatch(ctx context.Context, txns []model.LedgerTransaction, vocabulary []service.VocabularyEntry, constrained bool) ([]model.ClassificationResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockClassifyCall{
		Transactions: txns,
		Vocabulary:   vocabulary,
		Constrained:  constrained,
	})
	fn := m.ClassifyBatchFn
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, txns, vocabulary, constrained)
	}

	results := make([]model.ClassificationResult, len(txns))
	for i := range txns {
		entry := vocabulary[i%len(vocabulary)]
		results[i] = model.ClassificationResult{
			TransactionIndex: i,
			CategoryKey:      entry.Key,
			Confidence:       0.9,
			Rationale:        "mock assignment",
		}
	}
	return results, nil
}

// ModelID returns the configured mock model identifier.
func (m *MockClassifier) ModelID() string {
	if m.Model == "" {
		return "mock-model"
	}
	return m.Model
}

// GetCalls returns all recorded calls for verification in tests.
func (m *MockClassifier) GetCalls() []MockClassifyCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	calls := make([]MockClassifyCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CallCount returns the number of times ClassifyBatch was called.
func (m *MockClassifier) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears all recorded calls.
func (m *MockClassifier) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make([]MockClassifyCall, 0)
}
