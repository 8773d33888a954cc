package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/adambossy/tally/internal/cli"
	"github.com/adambossy/tally/internal/model"
	"github.com/adambossy/tally/internal/ofx"
	"github.com/adambossy/tally/internal/simplefin"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import transactions from alternative feeds",
		Long: `Import transactions from sources other than the cursor-based bank feed.
Imports share the same idempotent upsert path as sync: re-importing a
file is safe, and verified rows are never overwritten. Imported rows are
left unclassified; run 'tally classify' afterwards.`,
	}

	cmd.AddCommand(importOFXCmd())
	cmd.AddCommand(importSimpleFINCmd())

	return cmd
}

func importOFXCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ofx <file>...",
		Short: "Import transactions from OFX/QFX files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			parser := ofx.NewParser()
			var txns []model.LedgerTransaction
			for _, path := range args {
				f, err := os.Open(path) // #nosec G304
				if err != nil {
					return err
				}
				parsed, err := parser.ParseFile(ctx, f)
				_ = f.Close()
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				txns = append(txns, parsed...)
			}

			return persistImport(cmd, txns)
		},
	}
}

func importSimpleFINCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "simplefin",
		Short: "Import transactions from SimpleFIN",
		Long: `Fetch posted transactions from all SimpleFIN-connected accounts.
Requires a claim token in simplefin.token or SIMPLEFIN_TOKEN; the access
grant it yields is saved and reused.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			token := viper.GetString("simplefin.token")
			if token == "" {
				token = os.Getenv("SIMPLEFIN_TOKEN")
			}
			if token == "" {
				return fmt.Errorf("no SimpleFIN token configured; set simplefin.token or SIMPLEFIN_TOKEN")
			}

			client, err := simplefin.NewClient(token)
			if err != nil {
				return err
			}

			end := time.Now()
			start := end.AddDate(0, 0, -days)
			txns, err := client.GetTransactions(ctx, start, end)
			if err != nil {
				return fmt.Errorf("failed to fetch transactions: %w", err)
			}

			return persistImport(cmd, txns)
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "how many days of history to fetch")

	return cmd
}

func persistImport(cmd *cobra.Command, txns []model.LedgerTransaction) error {
	ctx := cmd.Context()

	if len(txns) == 0 {
		fmt.Println(cli.FormatInfo("no transactions to import"))
		return nil
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.UpsertTransactions(ctx, txns); err != nil {
		return fmt.Errorf("failed to save transactions: %w", err)
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf("imported %d transactions", len(txns))))
	fmt.Println(cli.FormatInfo("run 'tally classify' to categorize them"))
	return nil
}
