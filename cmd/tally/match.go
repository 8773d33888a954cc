package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/adambossy/tally/internal/cli"
	"github.com/adambossy/tally/internal/match"
	"github.com/adambossy/tally/internal/model"
	"github.com/adambossy/tally/internal/service"
)

func matchCmd() *cobra.Command {
	var (
		maxLagDays  int
		maxDiffCent int64
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Reconcile orders against ledger transactions",
		Long: `Pair each imported order with the ledger transaction that settled it,
within amount and date tolerances. Results are persisted for audit;
unmatched orders are recorded with no transaction.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			orders, err := store.GetOrders(ctx)
			if err != nil {
				return fmt.Errorf("failed to load orders: %w", err)
			}
			if len(orders) == 0 {
				fmt.Println(cli.FormatInfo("no orders to match; run 'tally orders import' first"))
				return nil
			}

			rows, err := store.GetTransactions(ctx, service.TransactionFilter{})
			if err != nil {
				return fmt.Errorf("failed to load transactions: %w", err)
			}

			cfg := match.DefaultConfig()
			if maxLagDays > 0 {
				cfg.MaxDateLagDays = maxLagDays
			}
			if maxDiffCent > 0 {
				cfg.MaxAmountDiffCents = maxDiffCent
			}

			results := match.Match(orders, rows, cfg)
			matches := match.ToOrderMatches(orders, results, time.Now().UTC())

			matched := 0
			for i := range matches {
				if matches[i].TransactionID != nil {
					matched++
				}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ORDER\tTOTAL\tTRANSACTION\tLAG\tDIFF\n")
			for i := range orders {
				o := &orders[i]
				result := results[o.OrderID]
				if result == nil {
					fmt.Fprintf(w, "%s\t%s\t%s\t\t\n",
						o.OrderID, model.FormatCents(o.TotalCents), "(unmatched)")
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t#%d\t%dd\t%s\n",
					o.OrderID, model.FormatCents(o.TotalCents),
					result.TransactionID, result.DateLagDays,
					model.FormatCents(result.AmountDiffCents))
			}
			_ = w.Flush()

			if dryRun {
				fmt.Println(cli.FormatInfo(fmt.Sprintf(
					"dry run: %d of %d orders matched, nothing saved", matched, len(orders))))
				return nil
			}

			if err := store.SaveOrderMatches(ctx, matches); err != nil {
				return fmt.Errorf("failed to save matches: %w", err)
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf(
				"matched %d of %d orders", matched, len(orders))))
			return nil
		},
	}

	cmd.Flags().IntVar(&maxLagDays, "max-lag-days", 0, "maximum days between order and settlement (default 30)")
	cmd.Flags().Int64Var(&maxDiffCent, "max-diff-cents", 0, "maximum amount difference in cents (default 50)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show matches without saving them")

	return cmd
}
