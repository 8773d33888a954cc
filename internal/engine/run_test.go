package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adambossy/tally/internal/model"
	"github.com/adambossy/tally/internal/service"
)

func TestRunSubmitWait(t *testing.T) {
	t.Run("callbacks receive results before Wait returns", func(t *testing.T) {
		engine := newTestEngine(t, NewMockClassifier(), Config{ParallelWorkers: 2})
		run, err := engine.NewRun(context.Background(), testTaxonomy(t))
		require.NoError(t, err)

		var mu sync.Mutex
		persisted := make(map[string]string)
		for _, prefix := range []string{"a", "b", "c"} {
			batch := makeTransactions(prefix, 5)
			run.Submit(batch, func(_ context.Context, results []model.ClassificationResult) error {
				mu.Lock()
				defer mu.Unlock()
				for i, res := range results {
					persisted[batch[i].ExternalID] = res.ResolvedKey()
				}
				return nil
			})
		}

		stats, err := run.Wait()
		require.NoError(t, err)
		assert.Equal(t, 15, stats.TotalTransactions)
		assert.Equal(t, 15, stats.Classified)
		assert.Equal(t, 0, stats.FailedBatches)
		assert.Len(t, persisted, 15)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		mock := NewMockClassifier()
		engine := newTestEngine(t, mock, Config{})
		run, err := engine.NewRun(context.Background(), testTaxonomy(t))
		require.NoError(t, err)

		run.Submit(nil, nil)
		stats, err := run.Wait()
		require.NoError(t, err)
		assert.Equal(t, 0, stats.TotalTransactions)
		assert.Equal(t, 0, mock.CallCount())
	})

	t.Run("callback failure is recorded without touching siblings", func(t *testing.T) {
		engine := newTestEngine(t, NewMockClassifier(), Config{ParallelWorkers: 2})
		run, err := engine.NewRun(context.Background(), testTaxonomy(t))
		require.NoError(t, err)

		var good atomic.Int32
		run.Submit(makeTransactions("bad", 4), func(context.Context, []model.ClassificationResult) error {
			return errors.New("disk full")
		})
		run.Submit(makeTransactions("good", 4), func(context.Context, []model.ClassificationResult) error {
			good.Add(1)
			return nil
		})

		stats, err := run.Wait()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 classification batch(es) failed")
		assert.Contains(t, err.Error(), "disk full")
		assert.Equal(t, 1, stats.FailedBatches)
		assert.Equal(t, 4, stats.Classified)
		assert.Equal(t, int32(1), good.Load())
	})

	t.Run("classifier failure does not cancel sibling batches", func(t *testing.T) {
		mock := NewMockClassifier()
		mock.ClassifyBatchFn = func(_ context.Context, txns []model.LedgerTransaction, vocab []service.VocabularyEntry, _ bool) ([]model.ClassificationResult, error) {
			if txns[0].ExternalID == "bad-0" {
				return nil, errors.New("provider unavailable")
			}
			return keyedResults(txns, "food.groceries"), nil
		}
		engine := newTestEngine(t, mock, Config{ParallelWorkers: 2})
		run, err := engine.NewRun(context.Background(), testTaxonomy(t))
		require.NoError(t, err)

		run.Submit(makeTransactions("bad", 3), nil)
		run.Submit(makeTransactions("good", 3), nil)

		stats, err := run.Wait()
		require.Error(t, err)
		assert.Equal(t, 1, stats.FailedBatches)
		assert.Equal(t, 3, stats.Classified)
		assert.Equal(t, 2, mock.CallCount())
	})

	t.Run("invalid category surfaces through Wait", func(t *testing.T) {
		mock := NewMockClassifier()
		mock.ClassifyBatchFn = func(_ context.Context, txns []model.LedgerTransaction, _ []service.VocabularyEntry, _ bool) ([]model.ClassificationResult, error) {
			return keyedResults(txns, "bogus"), nil
		}
		engine := newTestEngine(t, mock, Config{})
		run, err := engine.NewRun(context.Background(), testTaxonomy(t))
		require.NoError(t, err)

		run.Submit(makeTransactions("txn", 2), nil)
		_, err = run.Wait()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidCategory))
	})

	t.Run("cache hits are counted per run", func(t *testing.T) {
		mock := NewMockClassifier()
		engine := newTestEngine(t, mock, Config{})
		tax := testTaxonomy(t)
		batch := makeTransactions("txn", 5)

		run1, err := engine.NewRun(context.Background(), tax)
		require.NoError(t, err)
		run1.Submit(batch, nil)
		stats1, err := run1.Wait()
		require.NoError(t, err)
		assert.Equal(t, 0, stats1.CacheHits)

		run2, err := engine.NewRun(context.Background(), tax)
		require.NoError(t, err)
		run2.Submit(batch, nil)
		stats2, err := run2.Wait()
		require.NoError(t, err)
		assert.Equal(t, 1, stats2.CacheHits)
		assert.Equal(t, 5, stats2.Classified)
		assert.Equal(t, 1, mock.CallCount(), "cached batch should not reach the classifier")
	})

	t.Run("batches submitted after cancellation are skipped", func(t *testing.T) {
		mock := NewMockClassifier()
		engine := newTestEngine(t, mock, Config{})
		ctx, cancel := context.WithCancel(context.Background())
		run, err := engine.NewRun(ctx, testTaxonomy(t))
		require.NoError(t, err)

		cancel()
		run.Submit(makeTransactions("txn", 2), nil)

		stats, err := run.Wait()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "batch skipped")
		assert.Equal(t, 1, stats.FailedBatches)
		assert.Equal(t, 0, stats.Classified)
		assert.Equal(t, 0, mock.CallCount())
	})

	t.Run("worker limit bounds concurrent batches", func(t *testing.T) {
		var current, peak atomic.Int32
		mock := NewMockClassifier()
		mock.ClassifyBatchFn = func(_ context.Context, txns []model.LedgerTransaction, _ []service.VocabularyEntry, _ bool) ([]model.ClassificationResult, error) {
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
			return keyedResults(txns, "transport"), nil
		}
		engine := newTestEngine(t, mock, Config{ParallelWorkers: 2})
		run, err := engine.NewRun(context.Background(), testTaxonomy(t))
		require.NoError(t, err)

		prefixes := []string{"a", "b", "c", "d", "e", "f"}
		for _, prefix := range prefixes {
			run.Submit(makeTransactions(prefix, 2), nil)
		}

		_, err = run.Wait()
		require.NoError(t, err)
		assert.LessOrEqual(t, peak.Load(), int32(2))
		assert.Equal(t, len(prefixes), mock.CallCount())
	})
}
