package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/adambossy/tally/internal/cli"
	"github.com/adambossy/tally/internal/config"
	"github.com/adambossy/tally/internal/service"
	"github.com/adambossy/tally/internal/sheets"
)

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the ledger to external destinations",
	}

	cmd.AddCommand(exportSheetsCmd())

	return cmd
}

func exportSheetsCmd() *cobra.Command {
	var (
		startDate string
		endDate   string
	)

	cmd := &cobra.Command{
		Use:   "sheets",
		Short: "Export to Google Sheets",
		Long: `Write a category/month summary and transaction detail to a Google
Sheets spreadsheet. Run 'tally auth sheets' first to set up OAuth2
credentials, or configure a service account.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			sheetsCfg, err := config.LoadSheetsConfig()
			if err != nil {
				return fmt.Errorf("sheets is not configured: %w (run 'tally auth sheets' first)", err)
			}

			filter := service.TransactionFilter{}
			if startDate != "" {
				start, parseErr := time.Parse("2006-01-02", startDate)
				if parseErr != nil {
					return fmt.Errorf("invalid --start date %q", startDate)
				}
				filter.Start = &start
			}
			if endDate != "" {
				end, parseErr := time.Parse("2006-01-02", endDate)
				if parseErr != nil {
					return fmt.Errorf("invalid --end date %q", endDate)
				}
				filter.End = &end
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			txns, err := store.GetTransactions(ctx, filter)
			if err != nil {
				return fmt.Errorf("failed to load transactions: %w", err)
			}
			if len(txns) == 0 {
				fmt.Println(cli.FormatInfo("no transactions in the selected range"))
				return nil
			}
			categories, err := store.GetCategories(ctx)
			if err != nil {
				return fmt.Errorf("failed to load categories: %w", err)
			}

			writer, err := sheets.NewWriter(ctx, *sheetsCfg, slog.Default())
			if err != nil {
				return err
			}

			if err := writer.Write(ctx, txns, categories); err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("exported %d transactions", len(txns))))
			return nil
		},
	}

	cmd.Flags().StringVar(&startDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end", "", "end date (YYYY-MM-DD)")

	return cmd
}
