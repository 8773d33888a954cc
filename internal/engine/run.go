package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adambossy/tally/internal/model"
	"github.com/adambossy/tally/internal/service"
	"github.com/adambossy/tally/internal/taxonomy"
)

// Run is one concurrent classification session against a single taxonomy
// snapshot. Batches are submitted as they become available and classified
// by a bounded worker pool; callers receive each batch's results through a
// completion callback on the worker goroutine, so per-batch persistence
// happens before the caller learns the batch is done.
type Run struct {
	engine      *ClassificationEngine
	group       *errgroup.Group
	gctx        context.Context
	vocabulary  []service.VocabularyEntry
	allowed     map[string]struct{}
	fingerprint string
	constrained bool
	started     time.Time

	mu            sync.Mutex
	errs          []error
	total         int
	classified    int
	cacheHits     int
	failedBatches int
}

// NewRun starts a classification run over the full taxonomy vocabulary.
func (e *ClassificationEngine) NewRun(ctx context.Context, tax *taxonomy.Taxonomy) (*Run, error) {
	if tax == nil || tax.Len() == 0 {
		return nil, fmt.Errorf("taxonomy snapshot is empty")
	}
	return e.newRun(ctx, tax, vocabularyFromTaxonomy(tax), false), nil
}

// NewConstrainedRun starts a run restricted to the given category keys.
func (e *ClassificationEngine) NewConstrainedRun(ctx context.Context, tax *taxonomy.Taxonomy, allowedKeys []string) (*Run, error) {
	if tax == nil || tax.Len() == 0 {
		return nil, fmt.Errorf("taxonomy snapshot is empty")
	}
	if len(allowedKeys) == 0 {
		return nil, fmt.Errorf("constrained classification requires allowed keys")
	}

	vocabulary, err := vocabularyForKeys(tax, allowedKeys)
	if err != nil {
		return nil, err
	}
	return e.newRun(ctx, tax, vocabulary, true), nil
}

func (e *ClassificationEngine) newRun(ctx context.Context, tax *taxonomy.Taxonomy, vocabulary []service.VocabularyEntry, constrained bool) *Run {
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(e.config.ParallelWorkers)

	allowed := make(map[string]struct{}, len(vocabulary))
	for _, entry := range vocabulary {
		allowed[entry.Key] = struct{}{}
	}

	return &Run{
		engine:      e,
		group:       group,
		gctx:        gctx,
		vocabulary:  vocabulary,
		allowed:     allowed,
		fingerprint: tax.Fingerprint(),
		constrained: constrained,
		started:     time.Now(),
	}
}

// Submit schedules one batch for classification. The done callback runs on
// the worker goroutine immediately after the batch classifies; its context
// is detached from run cancellation so a mid-run shutdown cannot abort a
// persistence write. Classification and callback failures are recorded per
// batch and surfaced by Wait without cancelling sibling batches.
func (r *Run) Submit(batch []model.LedgerTransaction, done func(ctx context.Context, results []model.ClassificationResult) error) {
	if len(batch) == 0 {
		return
	}

	r.mu.Lock()
	r.total += len(batch)
	r.mu.Unlock()

	r.group.Go(func() error {
		if err := r.gctx.Err(); err != nil {
			r.recordFailure(fmt.Errorf("batch skipped: %w", err))
			return nil
		}

		results, hit, err := r.classifyBatch(r.gctx, batch)
		if err != nil {
			r.recordFailure(err)
			return nil
		}

		if done != nil {
			if err := done(context.WithoutCancel(r.gctx), results); err != nil {
				r.recordFailure(fmt.Errorf("batch completion: %w", err))
				return nil
			}
		}

		r.recordSuccess(len(batch), hit)
		return nil
	})
}

// Wait blocks until all submitted batches have finished and returns run
// statistics. The error aggregates every failed batch.
func (r *Run) Wait() (service.ClassifyStats, error) {
	_ = r.group.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	stats := service.ClassifyStats{
		Duration:          time.Since(r.started),
		TotalTransactions: r.total,
		Classified:        r.classified,
		FailedBatches:     r.failedBatches,
		CacheHits:         r.cacheHits,
	}

	slog.Debug("classification run finished",
		"transactions", stats.TotalTransactions,
		"classified", stats.Classified,
		"failed_batches", stats.FailedBatches,
		"cache_hits", stats.CacheHits,
		"duration", stats.Duration)

	if len(r.errs) > 0 {
		return stats, fmt.Errorf("%d classification batch(es) failed: %w", stats.FailedBatches, errors.Join(r.errs...))
	}
	return stats, nil
}

// classifyBatch runs one batch through the cache, the classifier, and
// vocabulary validation. An invalid initial key fails the batch; an
// invalid revised key only discards that row's revision.
func (r *Run) classifyBatch(ctx context.Context, batch []model.LedgerTransaction) (results []model.ClassificationResult, cacheHit bool, err error) {
	key := contentHash(batch, r.fingerprint, r.vocabulary, r.engine.classifier.ModelID())

	if cached, ok := r.engine.cache.get(key); ok {
		slog.Debug("classification cache hit", "batch_size", len(batch))
		return cached, true, nil
	}

	results, err = r.engine.classifier.ClassifyBatch(ctx, batch, r.vocabulary, r.constrained)
	if err != nil {
		return nil, false, err
	}
	if len(results) != len(batch) {
		return nil, false, fmt.Errorf("classifier returned %d results for batch of %d", len(results), len(batch))
	}

	for i := range results {
		res := &results[i]
		if _, ok := r.allowed[res.CategoryKey]; !ok {
			return nil, false, fmt.Errorf("%w: %q for transaction %s", ErrInvalidCategory, res.CategoryKey, batch[i].NaturalKey())
		}
		if res.HasRevision() {
			if _, ok := r.allowed[res.RevisedCategoryKey]; !ok {
				slog.Debug("discarding revision outside vocabulary",
					"revised_key", res.RevisedCategoryKey,
					"initial_key", res.CategoryKey,
					"transaction", batch[i].NaturalKey())
				res.DiscardRevision()
			}
		}
	}

	r.engine.cache.set(key, results)
	return results, false, nil
}

func (r *Run) recordFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failedBatches++
	r.errs = append(r.errs, err)
}

func (r *Run) recordSuccess(count int, cacheHit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classified += count
	if cacheHit {
		r.cacheHits++
	}
}
