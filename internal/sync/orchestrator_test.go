package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/adambossy/tally/internal/common"
	"github.com/adambossy/tally/internal/engine"
	"github.com/adambossy/tally/internal/model"
	"github.com/adambossy/tally/internal/plaid"
	"github.com/adambossy/tally/internal/service"
	"github.com/adambossy/tally/internal/testutil"
)

func feedRow(id string, cents int64) model.LedgerTransaction {
	return model.LedgerTransaction{
		ExternalID:         id,
		AccountID:          "acct-1",
		PostedAt:           time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		AmountCents:        cents,
		Currency:           "USD",
		MerchantDescriptor: "Merchant " + id,
	}
}

// groceriesClassifier assigns food.groceries at 0.9 to every transaction.
func groceriesClassifier() *engine.MockClassifier {
	mc := engine.NewMockClassifier()
	mc.ClassifyBatchFn = func(_ context.Context, txns []model.LedgerTransaction, _ []service.VocabularyEntry, _ bool) ([]model.ClassificationResult, error) {
		results := make([]model.ClassificationResult, len(txns))
		for i := range txns {
			results[i] = model.ClassificationResult{
				TransactionIndex: i,
				CategoryKey:      "food.groceries",
				Confidence:       0.9,
			}
		}
		return results, nil
	}
	return mc
}

func newTestOrchestrator(t *testing.T, feed plaid.TransactionSyncer, mc *engine.MockClassifier, batchSize int) (*Orchestrator, *testutil.TestDB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	eng := engine.NewWithConfig(mc, engine.Config{BatchSize: batchSize, ParallelWorkers: 2})
	t.Cleanup(eng.Close)
	return New(feed, eng, db.Storage, DefaultConfig()), db
}

func scriptPages(pages map[string]*model.SyncPage) *plaid.MockClient {
	feed := plaid.NewMockClient()
	feed.SyncTransactionsFn = func(_ context.Context, cursor string) (*model.SyncPage, error) {
		page, ok := pages[cursor]
		if !ok {
			return nil, fmt.Errorf("unexpected cursor %q", cursor)
		}
		return page, nil
	}
	return feed
}

func TestRunSinglePage(t *testing.T) {
	feed := scriptPages(map[string]*model.SyncPage{
		"": {
			Added:      []model.LedgerTransaction{feedRow("txn-a", -1250)},
			NextCursor: "c1",
		},
	})
	o, db := newTestOrchestrator(t, feed, groceriesClassifier(), 25)
	ctx := context.Background()

	stats, err := o.Run(ctx, "item-1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Added != 1 || stats.Pages != 1 {
		t.Errorf("Expected 1 added on 1 page, got %+v", stats)
	}

	row, err := db.Storage.GetTransactionByNaturalKey(ctx, model.SourcePlaid, "txn-a")
	if err != nil {
		t.Fatalf("Failed to read synced row: %v", err)
	}
	if row.CategoryID == nil || *row.CategoryID != db.CategoryID("food.groceries") {
		t.Errorf("Expected food.groceries assignment, got %v", row.CategoryID)
	}
	if row.Confidence == nil || *row.Confidence != 0.9 {
		t.Errorf("Expected confidence 0.9, got %v", row.Confidence)
	}
	if row.IsVerified {
		t.Error("Synced rows must never arrive verified")
	}

	cur, err := db.Storage.GetCursor(ctx, "item-1")
	if err != nil {
		t.Fatalf("Failed to read cursor: %v", err)
	}
	if cur == nil || cur.Cursor != "c1" {
		t.Errorf("Expected cursor c1, got %+v", cur)
	}
}

func TestRunIdempotentReplay(t *testing.T) {
	pages := map[string]*model.SyncPage{
		"": {
			Added:      []model.LedgerTransaction{feedRow("txn-a", -500), feedRow("txn-b", -700)},
			NextCursor: "c1",
		},
	}
	feed := scriptPages(pages)
	o, db := newTestOrchestrator(t, feed, groceriesClassifier(), 25)
	ctx := context.Background()

	for run := 0; run < 2; run++ {
		// Both runs replay the same page, as after a crash before the
		// cursor save.
		feed.SyncTransactionsFn = func(_ context.Context, _ string) (*model.SyncPage, error) {
			return pages[""], nil
		}
		if _, err := o.Run(ctx, "item-1"); err != nil {
			t.Fatalf("Run %d failed: %v", run, err)
		}
	}

	got, err := db.Storage.GetTransactions(ctx, service.TransactionFilter{})
	if err != nil {
		t.Fatalf("Failed to list transactions: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Expected 2 rows after replay, got %d", len(got))
	}
}

func TestRunSkipsVerifiedRows(t *testing.T) {
	feed := scriptPages(map[string]*model.SyncPage{
		"": {
			Modified:   []model.LedgerTransaction{feedRow("txn-a", -999)},
			NextCursor: "c1",
		},
	})
	o, db := newTestOrchestrator(t, feed, groceriesClassifier(), 25)
	ctx := context.Background()

	seeded := db.SeedTransactions(model.LedgerTransaction{
		ExternalID:  "txn-a",
		Source:      model.SourcePlaid,
		PostedAt:    time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		AmountCents: -100,
		Currency:    "USD",
	})
	restaurants := db.CategoryID("food.restaurants")
	conf := 0.95
	if err := db.Storage.SetTransactionCategory(ctx, seeded[0].ID, &restaurants, &conf, true); err != nil {
		t.Fatalf("Failed to verify seed row: %v", err)
	}

	if _, err := o.Run(ctx, "item-1"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	row, err := db.Storage.GetTransactionByID(ctx, seeded[0].ID)
	if err != nil {
		t.Fatalf("Failed to re-read row: %v", err)
	}
	if row.AmountCents != -100 {
		t.Errorf("Verified row amount changed to %d", row.AmountCents)
	}
	if row.CategoryID == nil || *row.CategoryID != restaurants {
		t.Errorf("Verified row category changed to %v", row.CategoryID)
	}
	if !row.IsVerified {
		t.Error("Verified flag was cleared by sync")
	}
}

func TestRunRemovals(t *testing.T) {
	feed := scriptPages(map[string]*model.SyncPage{
		"": {
			RemovedIDs: []string{"gone", "kept"},
			NextCursor: "c1",
		},
	})
	o, db := newTestOrchestrator(t, feed, groceriesClassifier(), 25)
	ctx := context.Background()

	seeded := db.SeedTransactions(
		model.LedgerTransaction{ExternalID: "gone", Source: model.SourcePlaid, PostedAt: time.Now(), AmountCents: -100, Currency: "USD"},
		model.LedgerTransaction{ExternalID: "kept", Source: model.SourcePlaid, PostedAt: time.Now(), AmountCents: -200, Currency: "USD"},
	)
	if err := db.Storage.SetVerified(ctx, seeded[1].ID, true); err != nil {
		t.Fatalf("Failed to verify row: %v", err)
	}

	stats, err := o.Run(ctx, "item-1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Removed != 1 {
		t.Errorf("Expected 1 removal, got %d", stats.Removed)
	}

	if _, err := db.Storage.GetTransactionByNaturalKey(ctx, model.SourcePlaid, "gone"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Expected unverified row deleted, got err=%v", err)
	}
	if _, err := db.Storage.GetTransactionByNaturalKey(ctx, model.SourcePlaid, "kept"); err != nil {
		t.Errorf("Verified row should survive removal, got err=%v", err)
	}
}

func TestRunBatchSpansPages(t *testing.T) {
	feed := scriptPages(map[string]*model.SyncPage{
		"": {
			Added:      []model.LedgerTransaction{feedRow("p1-a", -100)},
			NextCursor: "c1",
			HasMore:    true,
		},
		"c1": {
			Added:      []model.LedgerTransaction{feedRow("p2-a", -200), feedRow("p2-b", -300)},
			NextCursor: "c2",
		},
	})
	mc := groceriesClassifier()
	o, db := newTestOrchestrator(t, feed, mc, 2)
	ctx := context.Background()

	stats, err := o.Run(ctx, "item-1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Pages != 2 || stats.Added != 3 {
		t.Errorf("Expected 3 added over 2 pages, got %+v", stats)
	}
	if got := mc.CallCount(); got != 2 {
		t.Errorf("Expected 2 classification batches, got %d", got)
	}

	cur, err := db.Storage.GetCursor(ctx, "item-1")
	if err != nil || cur == nil {
		t.Fatalf("Expected saved cursor, got cur=%v err=%v", cur, err)
	}
	if cur.Cursor != "c2" {
		t.Errorf("Expected final cursor c2, got %q", cur.Cursor)
	}
}

func TestRunFailedBatchHoldsCursor(t *testing.T) {
	feed := scriptPages(map[string]*model.SyncPage{
		"": {
			Added: []model.LedgerTransaction{
				feedRow("txn-1", -100), feedRow("txn-2", -200),
				feedRow("txn-3", -300), feedRow("txn-4", -400),
			},
			NextCursor: "c1",
		},
	})

	mc := engine.NewMockClassifier()
	mc.ClassifyBatchFn = func(_ context.Context, txns []model.LedgerTransaction, _ []service.VocabularyEntry, _ bool) ([]model.ClassificationResult, error) {
		for i := range txns {
			if txns[i].ExternalID == "txn-3" {
				return nil, errors.New("classifier outage")
			}
		}
		results := make([]model.ClassificationResult, len(txns))
		for i := range txns {
			results[i] = model.ClassificationResult{TransactionIndex: i, CategoryKey: "food.groceries", Confidence: 0.8}
		}
		return results, nil
	}

	// Workers=2 in the harness, a batch size of 2 puts txn-3 in the
	// second batch.
	o, db := newTestOrchestrator(t, feed, mc, 2)
	ctx := context.Background()

	stats, err := o.Run(ctx, "item-1")
	if err == nil {
		t.Fatal("Expected run error from failed batch")
	}
	if stats.Classify.FailedBatches != 1 {
		t.Errorf("Expected 1 failed batch, got %d", stats.Classify.FailedBatches)
	}

	// The page was never fully committed, so the cursor must not move.
	cur, err := db.Storage.GetCursor(ctx, "item-1")
	if err != nil {
		t.Fatalf("Failed to read cursor: %v", err)
	}
	if cur != nil {
		t.Errorf("Cursor advanced past a failed batch: %+v", cur)
	}

	// All four raw rows are durable; the failed batch's rows are pending.
	all, err := db.Storage.GetTransactions(ctx, service.TransactionFilter{})
	if err != nil {
		t.Fatalf("Failed to list rows: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("Expected 4 durable rows, got %d", len(all))
	}
	pending, err := db.Storage.GetTransactions(ctx, service.TransactionFilter{PendingOnly: true})
	if err != nil {
		t.Fatalf("Failed to list pending rows: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("Expected the failed batch's 2 rows pending, got %d", len(pending))
	}
}

func TestRunMutationRestart(t *testing.T) {
	t.Run("restarts from the starting cursor and recovers", func(t *testing.T) {
		failures := 0
		feed := plaid.NewMockClient()
		feed.SyncTransactionsFn = func(_ context.Context, cursor string) (*model.SyncPage, error) {
			switch cursor {
			case "":
				return &model.SyncPage{
					Added:      []model.LedgerTransaction{feedRow("txn-a", -100)},
					NextCursor: "c1",
					HasMore:    true,
				}, nil
			case "c1":
				if failures < 2 {
					failures++
					return nil, &common.RetryableError{Err: common.ErrMutationDuringPagination, Retryable: false}
				}
				return &model.SyncPage{NextCursor: "c2"}, nil
			default:
				return nil, fmt.Errorf("unexpected cursor %q", cursor)
			}
		}

		o, db := newTestOrchestrator(t, feed, groceriesClassifier(), 25)
		ctx := context.Background()

		stats, err := o.Run(ctx, "item-1")
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if stats.Restarts != 2 {
			t.Errorf("Expected 2 restarts, got %d", stats.Restarts)
		}

		// Every attempt restarted pagination from the run's starting
		// cursor, not the last page cursor.
		want := []string{"", "c1", "", "c1", "", "c1"}
		if len(feed.SyncCursors) != len(want) {
			t.Fatalf("Expected %d fetches, got %v", len(want), feed.SyncCursors)
		}
		for i, c := range want {
			if feed.SyncCursors[i] != c {
				t.Errorf("Fetch %d used cursor %q, want %q", i, feed.SyncCursors[i], c)
			}
		}

		cur, err := db.Storage.GetCursor(ctx, "item-1")
		if err != nil || cur == nil || cur.Cursor != "c2" {
			t.Errorf("Expected final cursor c2, got cur=%+v err=%v", cur, err)
		}
	})

	t.Run("terminal failure rewinds a cursor saved mid-attempt", func(t *testing.T) {
		// Batch size 1 drains page one immediately, so its cursor goes
		// durable before the feed reports the mutation.
		feed := plaid.NewMockClient()
		feed.SyncTransactionsFn = func(_ context.Context, cursor string) (*model.SyncPage, error) {
			if cursor == "" {
				return &model.SyncPage{
					Added:      []model.LedgerTransaction{feedRow("txn-a", -100)},
					NextCursor: "c1",
					HasMore:    true,
				}, nil
			}
			return nil, &common.RetryableError{Err: common.ErrMutationDuringPagination, Retryable: false}
		}

		o, db := newTestOrchestrator(t, feed, groceriesClassifier(), 1)
		ctx := context.Background()

		_, err := o.Run(ctx, "item-1")
		if !errors.Is(err, common.ErrMutationDuringPagination) {
			t.Fatalf("Expected mutation error, got %v", err)
		}

		// A later run must not resume from a cursor minted inside the
		// aborted pagination sequence.
		cur, err := db.Storage.GetCursor(ctx, "item-1")
		if err != nil {
			t.Fatalf("Failed to read cursor: %v", err)
		}
		if cur != nil {
			t.Errorf("Terminal failure left cursor advanced to %q", cur.Cursor)
		}

		// The drained batch's rows stay durable and classified.
		row, err := db.Storage.GetTransactionByNaturalKey(ctx, model.SourcePlaid, "txn-a")
		if err != nil {
			t.Fatalf("Failed to read synced row: %v", err)
		}
		if row.CategoryID == nil {
			t.Error("Completed batch lost its classification on rewind")
		}
	})

	t.Run("terminal failure restores a pre-existing cursor", func(t *testing.T) {
		feed := plaid.NewMockClient()
		feed.SyncTransactionsFn = func(_ context.Context, cursor string) (*model.SyncPage, error) {
			if cursor == "c0" {
				return &model.SyncPage{
					Added:      []model.LedgerTransaction{feedRow("txn-b", -200)},
					NextCursor: "c1",
					HasMore:    true,
				}, nil
			}
			return nil, &common.RetryableError{Err: common.ErrMutationDuringPagination, Retryable: false}
		}

		o, db := newTestOrchestrator(t, feed, groceriesClassifier(), 1)
		ctx := context.Background()
		if err := db.Storage.SaveCursor(ctx, "item-1", "c0"); err != nil {
			t.Fatalf("Failed to seed cursor: %v", err)
		}

		_, err := o.Run(ctx, "item-1")
		if !errors.Is(err, common.ErrMutationDuringPagination) {
			t.Fatalf("Expected mutation error, got %v", err)
		}

		cur, err := db.Storage.GetCursor(ctx, "item-1")
		if err != nil {
			t.Fatalf("Failed to read cursor: %v", err)
		}
		if cur == nil || cur.Cursor != "c0" {
			t.Errorf("Expected cursor restored to c0, got %+v", cur)
		}
	})

	t.Run("bounded restarts surface a terminal error", func(t *testing.T) {
		feed := plaid.NewMockClient()
		feed.SyncTransactionsFn = func(_ context.Context, _ string) (*model.SyncPage, error) {
			return nil, &common.RetryableError{Err: common.ErrMutationDuringPagination, Retryable: false}
		}

		o, db := newTestOrchestrator(t, feed, groceriesClassifier(), 25)
		ctx := context.Background()

		_, err := o.Run(ctx, "item-1")
		if !errors.Is(err, common.ErrMutationDuringPagination) {
			t.Fatalf("Expected mutation error, got %v", err)
		}
		if len(feed.SyncCursors) != 3 {
			t.Errorf("Expected 3 bounded attempts, got %d", len(feed.SyncCursors))
		}

		cur, err := db.Storage.GetCursor(context.Background(), "item-1")
		if err != nil {
			t.Fatalf("Failed to read cursor: %v", err)
		}
		if cur != nil {
			t.Errorf("Cursor advanced despite terminal failure: %+v", cur)
		}
	})
}

func TestRunEmptyTaxonomy(t *testing.T) {
	db := testutil.SetupEmptyTestDB(t)
	eng := engine.New(engine.NewMockClassifier())
	t.Cleanup(eng.Close)
	o := New(plaid.NewMockClient(), eng, db.Storage, DefaultConfig())

	if _, err := o.Run(context.Background(), "item-1"); !errors.Is(err, ErrNoCategories) {
		t.Fatalf("Expected ErrNoCategories, got %v", err)
	}
}

func TestDrainMarks(t *testing.T) {
	tests := []struct {
		name       string
		marks      []pageMark
		take       int
		wantCursor string
		wantLeft   int
	}{
		{
			name:       "batch drains one full page",
			marks:      []pageMark{{cursor: "c1", remaining: 3}},
			take:       3,
			wantCursor: "c1",
			wantLeft:   0,
		},
		{
			name:       "partial page holds its cursor",
			marks:      []pageMark{{cursor: "c1", remaining: 5}},
			take:       3,
			wantCursor: "",
			wantLeft:   1,
		},
		{
			name:       "batch spanning pages takes the newest drained cursor",
			marks:      []pageMark{{cursor: "c1", remaining: 2}, {cursor: "c2", remaining: 4}},
			take:       6,
			wantCursor: "c2",
			wantLeft:   0,
		},
		{
			name:       "empty trailing page retires with the batch before it",
			marks:      []pageMark{{cursor: "c1", remaining: 2}, {cursor: "c2", remaining: 0}},
			take:       2,
			wantCursor: "c2",
			wantLeft:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			left, cursor := drainMarks(tt.marks, tt.take)
			if cursor != tt.wantCursor {
				t.Errorf("drainMarks cursor = %q, want %q", cursor, tt.wantCursor)
			}
			if len(left) != tt.wantLeft {
				t.Errorf("drainMarks left %d marks, want %d", len(left), tt.wantLeft)
			}
		})
	}
}

func TestFrontierOutOfOrderCompletion(t *testing.T) {
	f := newFrontier()

	if safe, ok := f.complete(1, "c2"); ok {
		t.Errorf("Frontier advanced past an incomplete batch to %q", safe)
	}
	safe, ok := f.complete(0, "c1")
	if !ok || safe != "c2" {
		t.Errorf("Expected frontier to retire both batches at c2, got %q ok=%v", safe, ok)
	}

	// Batches without a page boundary carry no cursor.
	if safe, ok := f.complete(2, ""); ok {
		t.Errorf("Cursorless batch produced a save at %q", safe)
	}
	safe, ok = f.complete(3, "c3")
	if !ok || safe != "c3" {
		t.Errorf("Expected c3 after frontier caught up, got %q ok=%v", safe, ok)
	}
}
