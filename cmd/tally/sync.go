package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/adambossy/tally/internal/cli"
	"github.com/adambossy/tally/internal/common"
	"github.com/adambossy/tally/internal/plaid"
	"github.com/adambossy/tally/internal/sync"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync transactions from your bank feed",
		Long: `Fetch new, modified, and removed transactions from Plaid and classify
them into your taxonomy. The sync cursor only advances past pages whose
rows have been classified and persisted, so an interrupted run resumes
without losing work.`,
		RunE: runSync,
	}

	cmd.Flags().String("item", "", "Plaid item to sync (defaults to plaid.item_id)")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	plaidCfg := plaid.Config{
		ClientID:    viper.GetString("plaid.client_id"),
		Secret:      viper.GetString("plaid.secret"),
		Environment: viper.GetString("plaid.environment"),
		AccessToken: viper.GetString("plaid.access_token"),
	}
	if plaidCfg.ClientID == "" {
		plaidCfg.ClientID = os.Getenv("PLAID_CLIENT_ID")
	}
	if plaidCfg.Secret == "" {
		plaidCfg.Secret = os.Getenv("PLAID_SECRET")
	}
	if plaidCfg.Environment == "" {
		plaidCfg.Environment = "production"
	}
	if err := plaidCfg.Validate(); err != nil {
		return common.NewUserError("plaid is not configured; run 'tally auth plaid' first", err)
	}

	itemID, _ := cmd.Flags().GetString("item")
	if itemID == "" {
		itemID = viper.GetString("plaid.item_id")
	}
	if itemID == "" {
		itemID = "primary"
	}

	feed, err := plaid.NewClient(plaidCfg)
	if err != nil {
		return fmt.Errorf("failed to create Plaid client: %w", err)
	}

	eng, err := newClassificationEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	handler := cli.NewInterruptHandler(os.Stderr)
	ctx = handler.HandleInterrupts(ctx, "run 'tally sync' again to resume from the saved cursor")

	orchestrator := sync.New(feed, eng, store, sync.DefaultConfig())
	stats, err := orchestrator.Run(ctx, itemID)
	if err != nil {
		if stats != nil && stats.Pages > 0 {
			fmt.Println(cli.FormatWarning(fmt.Sprintf(
				"sync interrupted after %d pages; completed pages are saved", stats.Pages)))
		}
		return err
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf(
		"synced %d added, %d modified, %d removed across %d pages",
		stats.Added, stats.Modified, stats.Removed, stats.Pages)))
	fmt.Println(cli.FormatInfo(fmt.Sprintf(
		"classified %d of %d transactions (%d cache hits, %d failed batches)",
		stats.Classify.Classified, stats.Classify.TotalTransactions,
		stats.Classify.CacheHits, stats.Classify.FailedBatches)))
	if stats.Restarts > 0 {
		fmt.Println(cli.FormatWarning(fmt.Sprintf(
			"feed mutated during pagination; restarted %d time(s)", stats.Restarts)))
	}

	return nil
}
