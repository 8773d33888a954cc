package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adambossy/tally/internal/cli"
	"github.com/adambossy/tally/internal/tui"
)

func verifyCmd() *cobra.Command {
	var ids string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Review and confirm classifications",
		Long: `Review classified-but-unverified transactions. By default this opens an
interactive interface; with --ids the given transactions are marked
verified directly. Verified rows are protected from overwrite by future
syncs and only demoted by taxonomy migrations when the new assignment
falls below the confidence threshold.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if ids != "" {
				parsed, err := parseIDList(ids)
				if err != nil {
					return err
				}
				for _, id := range parsed {
					if err := store.SetVerified(ctx, id, true); err != nil {
						return fmt.Errorf("failed to verify transaction %d: %w", id, err)
					}
				}
				fmt.Println(cli.FormatSuccess(fmt.Sprintf("verified %d transactions", len(parsed))))
				return nil
			}

			stats, err := tui.Run(ctx, store)
			if err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf(
				"verified %d, recategorized %d, skipped %d (%d still unverified)",
				stats.Verified, stats.Recategorized, stats.Skipped, stats.RemainingCount)))
			return nil
		},
	}

	cmd.Flags().StringVar(&ids, "ids", "", "comma-separated transaction IDs to verify without the interactive review")

	return cmd
}

// parseIDList parses a comma-separated list of transaction IDs.
func parseIDList(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid transaction ID %q", part)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no transaction IDs given")
	}
	return ids, nil
}
