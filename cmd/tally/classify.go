package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/adambossy/tally/internal/cli"
	"github.com/adambossy/tally/internal/model"
	"github.com/adambossy/tally/internal/service"
	"github.com/adambossy/tally/internal/taxonomy"
)

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify pending transactions",
		Long: `Classify ledger transactions that have no category yet. Verified rows
are never touched. Use this after importing transactions from OFX files
or SimpleFIN, which skip the classification step that sync performs.`,
		RunE: runClassify,
	}

	cmd.Flags().Int("limit", 0, "classify at most this many transactions (0 = all)")

	return cmd
}

func runClassify(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	limit, _ := cmd.Flags().GetInt("limit")

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	categories, err := store.GetCategories(ctx)
	if err != nil {
		return fmt.Errorf("failed to load categories: %w", err)
	}
	if len(categories) == 0 {
		return fmt.Errorf("no categories defined; run 'tally categories seed' first")
	}
	tax, err := taxonomy.New(categories)
	if err != nil {
		return fmt.Errorf("stored categories are not a valid taxonomy: %w", err)
	}
	catIDs := make(map[string]int64, len(categories))
	for _, c := range categories {
		catIDs[c.Key] = c.ID
	}

	pending, err := store.GetTransactions(ctx, service.TransactionFilter{
		PendingOnly: true,
		Limit:       limit,
	})
	if err != nil {
		return fmt.Errorf("failed to load pending transactions: %w", err)
	}
	if len(pending) == 0 {
		fmt.Println(cli.FormatInfo("nothing to classify"))
		return nil
	}

	eng, err := newClassificationEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	handler := cli.NewInterruptHandler(os.Stderr)
	ctx = handler.HandleInterrupts(ctx, "run 'tally classify' again to continue")

	progress := cli.NewProgress(os.Stderr, len(pending), "classifying")

	run, err := eng.NewRun(ctx, tax)
	if err != nil {
		return err
	}
	batchSize := eng.BatchSize()
	for start := 0; start < len(pending); start += batchSize {
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end:end]
		run.Submit(batch, func(cbCtx context.Context, results []model.ClassificationResult) error {
			assignments := make([]service.CategoryAssignment, 0, len(results))
			for i := range results {
				id, ok := catIDs[results[i].ResolvedKey()]
				if !ok {
					continue
				}
				assignments = append(assignments, service.CategoryAssignment{
					TransactionID: batch[results[i].TransactionIndex].ID,
					CategoryID:    id,
					Confidence:    results[i].ResolvedConfidence(),
				})
			}
			if err := store.ApplyClassifications(cbCtx, assignments); err != nil {
				return err
			}
			progress.Add(len(batch))
			return nil
		})
	}

	stats, err := run.Wait()
	progress.Finish()
	if err != nil {
		return err
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf(
		"classified %d of %d transactions in %s (%d cache hits, %d failed batches)",
		stats.Classified, stats.TotalTransactions, stats.Duration.Round(time.Millisecond),
		stats.CacheHits, stats.FailedBatches)))

	return nil
}
