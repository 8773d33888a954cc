// Package sync drives cursor-based feed pagination through classification
// and persistence. Fetching is a single sequential producer; classification
// batches run on the engine's bounded worker pool and each batch persists
// its own results before reporting completion. The stored cursor only ever
// advances past pages whose rows have fully classified and persisted.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/adambossy/tally/internal/common"
	"github.com/adambossy/tally/internal/engine"
	"github.com/adambossy/tally/internal/model"
	"github.com/adambossy/tally/internal/plaid"
	"github.com/adambossy/tally/internal/service"
	"github.com/adambossy/tally/internal/taxonomy"
)

// ErrNoCategories means the taxonomy is empty; sync cannot classify
// against a vocabulary that has no entries.
var ErrNoCategories = errors.New("no categories defined; seed the taxonomy first")

// Config holds orchestrator tuning.
type Config struct {
	// Source tags persisted rows; it is part of the natural key.
	Source string
	// MaxAttempts bounds how many times a sync run restarts after the
	// feed reports a mutation during pagination.
	MaxAttempts int
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Source:      model.SourcePlaid,
		MaxAttempts: 3,
	}
}

// Stats summarizes one sync run, across restarts.
type Stats struct {
	Classify service.ClassifyStats
	Pages    int
	Added    int
	Modified int
	Removed  int64
	Restarts int
}

// Orchestrator owns the fetch/classify/persist pipeline for one feed.
// Callers must serialize runs per upstream item; the cursor is run-local
// state between fetches and the (external_id, source) constraint is the
// only cross-run guard.
type Orchestrator struct {
	feed   plaid.TransactionSyncer
	engine *engine.ClassificationEngine
	store  service.Storage
	config Config
}

// New creates a sync orchestrator.
func New(feed plaid.TransactionSyncer, eng *engine.ClassificationEngine, store service.Storage, config Config) *Orchestrator {
	if config.Source == "" {
		config.Source = model.SourcePlaid
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	return &Orchestrator{
		feed:   feed,
		engine: eng,
		store:  store,
		config: config,
	}
}

// Run performs one full sync for the given upstream item: pages from the
// stored cursor, upserts raw rows as they arrive, classifies them in
// engine-sized batches and persists each batch as it completes. On the
// feed's mutation-during-pagination signal the whole run restarts from the
// cursor in effect when Run was called, up to the configured attempt
// bound; any cursor saved during the aborted pass is rewound first, so a
// terminal failure leaves the durable cursor exactly where the run found
// it. A batch that fails classification or persistence leaves its raw
// rows stored unclassified and keeps the cursor behind the failed batch,
// so the work is retryable without re-fetching.
func (o *Orchestrator) Run(ctx context.Context, itemID string) (*Stats, error) {
	runID := uuid.NewString()
	log := slog.With("run_id", runID, "item_id", itemID)

	tax, catIDs, err := o.loadTaxonomy(ctx)
	if err != nil {
		return nil, err
	}

	startCursor := ""
	if cur, err := o.store.GetCursor(ctx, itemID); err == nil && cur != nil {
		startCursor = cur.Cursor
	} else if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("failed to load sync cursor: %w", err)
	}

	stats := &Stats{}
	for attempt := 1; ; attempt++ {
		err := o.attempt(ctx, log, itemID, tax, catIDs, startCursor, stats)
		if err == nil || !errors.Is(err, common.ErrMutationDuringPagination) {
			return stats, err
		}
		// Frontier saves from the aborted pagination sequence are not
		// valid resume points; rewind before retrying or surfacing.
		if rerr := o.rewindCursor(ctx, itemID, startCursor); rerr != nil {
			return stats, rerr
		}
		if attempt >= o.config.MaxAttempts {
			return stats, fmt.Errorf("sync for %s did not stabilize after %d attempts: %w", itemID, attempt, err)
		}
		stats.Restarts++
		log.Warn("feed mutated during pagination, restarting sync",
			"attempt", attempt,
			"cursor", startCursor)
	}
}

// rewindCursor restores the durable cursor to the value the run started
// with. Completed batches keep their rows, but a cursor minted inside an
// aborted pagination sequence must never become a later run's resume
// point.
func (o *Orchestrator) rewindCursor(ctx context.Context, itemID, startCursor string) error {
	ctx = context.WithoutCancel(ctx)
	if startCursor == "" {
		if err := o.store.DeleteCursor(ctx, itemID); err != nil {
			return fmt.Errorf("failed to rewind cursor: %w", err)
		}
		return nil
	}
	if err := o.store.SaveCursor(ctx, itemID, startCursor); err != nil {
		return fmt.Errorf("failed to rewind cursor: %w", err)
	}
	return nil
}

// attempt is one pass of the pipeline from startCursor to the end of the
// feed. All accumulated in-memory state is local to the attempt; durable
// effects (raw upserts, per-batch classifications, cursor saves behind the
// completion frontier) survive into the next attempt by design.
func (o *Orchestrator) attempt(ctx context.Context, log *slog.Logger, itemID string, tax *taxonomy.Taxonomy, catIDs map[string]int64, startCursor string, stats *Stats) error {
	run, err := o.engine.NewRun(ctx, tax)
	if err != nil {
		return err
	}

	var (
		front     = newFrontier()
		pending   []model.LedgerTransaction
		marks     []pageMark
		seq       int
		lastPage  string
		batchSize = o.engine.BatchSize()
	)

	submit := func(batch []model.LedgerTransaction, cursor string) {
		batchSeq := seq
		seq++
		run.Submit(batch, func(cbctx context.Context, results []model.ClassificationResult) error {
			if err := o.persistBatch(cbctx, batch, results, catIDs); err != nil {
				return err
			}
			if safe, ok := front.complete(batchSeq, cursor); ok {
				if err := o.store.SaveCursor(cbctx, itemID, safe); err != nil {
					return fmt.Errorf("failed to advance cursor: %w", err)
				}
			}
			return nil
		})
	}

	cursor := startCursor
	fetchErr := func() error {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			page, err := o.feed.SyncTransactions(ctx, cursor)
			if err != nil {
				return fmt.Errorf("fetch page: %w", err)
			}
			stats.Pages++
			lastPage = page.NextCursor

			rows := make([]model.LedgerTransaction, 0, len(page.Added)+len(page.Modified))
			rows = append(rows, page.Added...)
			rows = append(rows, page.Modified...)
			for i := range rows {
				rows[i].Source = o.config.Source
			}

			// Raw rows go durable before classification so a failed
			// batch is retryable without another fetch.
			if len(rows) > 0 {
				if err := o.store.UpsertTransactions(ctx, rows); err != nil {
					return fmt.Errorf("persist raw page: %w", err)
				}
			}
			if len(page.RemovedIDs) > 0 {
				n, err := o.store.DeleteTransactionsByExternalIDs(ctx, o.config.Source, page.RemovedIDs)
				if err != nil {
					return fmt.Errorf("apply removals: %w", err)
				}
				stats.Removed += n
			}
			stats.Added += len(page.Added)
			stats.Modified += len(page.Modified)

			pending = append(pending, rows...)
			marks = append(marks, pageMark{cursor: page.NextCursor, remaining: len(rows)})

			for len(pending) >= batchSize {
				batch := pending[:batchSize:batchSize]
				pending = pending[batchSize:]
				var safe string
				marks, safe = drainMarks(marks, len(batch))
				submit(batch, safe)
			}

			if !page.HasMore {
				return nil
			}
			cursor = page.NextCursor
		}
	}()

	if len(pending) > 0 && fetchErr == nil {
		batch := pending
		pending = nil
		var safe string
		marks, safe = drainMarks(marks, len(batch))
		submit(batch, safe)
	}

	// In-flight batches finish and persist even when the fetch side
	// failed or the run was cancelled; their rows are already durable.
	classifyStats, classifyErr := run.Wait()
	stats.Classify.TotalTransactions += classifyStats.TotalTransactions
	stats.Classify.Classified += classifyStats.Classified
	stats.Classify.FailedBatches += classifyStats.FailedBatches
	stats.Classify.CacheHits += classifyStats.CacheHits
	stats.Classify.Duration += classifyStats.Duration

	if fetchErr != nil {
		return fetchErr
	}
	if classifyErr != nil {
		return classifyErr
	}

	// Every batch committed, so the final page cursor is safe even when
	// trailing pages carried no transactions.
	if lastPage != "" && lastPage != startCursor {
		if err := o.store.SaveCursor(context.WithoutCancel(ctx), itemID, lastPage); err != nil {
			return fmt.Errorf("failed to save final cursor: %w", err)
		}
	}

	log.Info("sync attempt complete",
		"pages", stats.Pages,
		"added", stats.Added,
		"modified", stats.Modified,
		"removed", stats.Removed,
		"classified", stats.Classify.Classified)
	return nil
}

// persistBatch writes one classified batch. Rows are re-read by natural
// key because the pre-classification upsert does not report row ids; rows
// deleted or verified since the upsert are skipped, never overwritten.
func (o *Orchestrator) persistBatch(ctx context.Context, batch []model.LedgerTransaction, results []model.ClassificationResult, catIDs map[string]int64) error {
	assignments := make([]service.CategoryAssignment, 0, len(results))
	for i := range results {
		res := &results[i]
		txn := &batch[res.TransactionIndex]

		row, err := o.store.GetTransactionByNaturalKey(ctx, txn.Source, txn.ExternalID)
		if errors.Is(err, common.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", txn.NaturalKey(), err)
		}
		if row.IsVerified {
			continue
		}

		catID, ok := catIDs[res.ResolvedKey()]
		if !ok {
			return fmt.Errorf("category %q has no storage id", res.ResolvedKey())
		}
		assignments = append(assignments, service.CategoryAssignment{
			TransactionID: row.ID,
			CategoryID:    catID,
			Confidence:    res.ResolvedConfidence(),
		})
	}

	if err := o.store.ApplyClassifications(ctx, assignments); err != nil {
		return fmt.Errorf("failed to persist batch: %w", err)
	}
	return nil
}

// loadTaxonomy builds the snapshot the whole run classifies against, plus
// the key-to-row-id map used when persisting assignments.
func (o *Orchestrator) loadTaxonomy(ctx context.Context) (*taxonomy.Taxonomy, map[string]int64, error) {
	categories, err := o.store.GetCategories(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load categories: %w", err)
	}
	if len(categories) == 0 {
		return nil, nil, ErrNoCategories
	}

	tax, err := taxonomy.New(categories)
	if err != nil {
		return nil, nil, fmt.Errorf("stored categories are not a valid taxonomy: %w", err)
	}

	catIDs := make(map[string]int64, len(categories))
	for _, c := range categories {
		catIDs[c.Key] = c.ID
	}
	return tax, catIDs, nil
}
