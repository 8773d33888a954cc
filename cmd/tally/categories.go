package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/adambossy/tally/internal/cli"
	"github.com/adambossy/tally/internal/common"
	"github.com/adambossy/tally/internal/migration"
	"github.com/adambossy/tally/internal/model"
	"github.com/adambossy/tally/internal/service"
	"github.com/adambossy/tally/internal/taxonomy"
)

func categoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Manage the category taxonomy",
		Long: `List and reshape the two-level category taxonomy. Structural changes
(rename, merge, split, remove) migrate affected transactions and preserve
verified assignments wherever the new structure allows it.`,
	}

	cmd.AddCommand(listCategoriesCmd())
	cmd.AddCommand(addCategoryCmd())
	cmd.AddCommand(renameCategoryCmd())
	cmd.AddCommand(mergeCategoriesCmd())
	cmd.AddCommand(splitCategoryCmd())
	cmd.AddCommand(removeCategoryCmd())
	cmd.AddCommand(seedCategoriesCmd())

	return cmd
}

func listCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all categories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			categories, err := store.GetCategories(ctx)
			if err != nil {
				return fmt.Errorf("failed to get categories: %w", err)
			}
			if len(categories) == 0 {
				fmt.Println(cli.FormatInfo("No categories found. Use 'tally categories seed' to load a taxonomy."))
				return nil
			}

			tax, err := taxonomy.New(categories)
			if err != nil {
				return fmt.Errorf("stored categories are not a valid taxonomy: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer func() { _ = w.Flush() }()

			fmt.Fprintf(w, "KEY\tNAME\tDESCRIPTION\n")
			for _, root := range tax.Roots() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", root.Key, root.Name, root.Description)
				for _, child := range tax.Children(root.Key) {
					fmt.Fprintf(w, "  %s\t%s\t%s\n", child.Key, child.Name, child.Description)
				}
			}

			return nil
		},
	}
}

func addCategoryCmd() *cobra.Command {
	var (
		name        string
		description string
	)

	cmd := &cobra.Command{
		Use:   "add <key>",
		Short: "Add a category",
		Long: `Add a category by key. Dotted keys ("food.groceries") create a child
under an existing root; bare keys create a new root.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			key := args[0]

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			categories, err := store.GetCategories(ctx)
			if err != nil {
				return fmt.Errorf("failed to get categories: %w", err)
			}
			tax, err := taxonomy.New(categories)
			if err != nil {
				return fmt.Errorf("stored categories are not a valid taxonomy: %w", err)
			}

			if name == "" {
				name = nameFromKey(key)
			}
			parentKey := ""
			if model.IsChildKey(key) {
				parentKey = model.RootOf(key)
			}

			// Validate against the snapshot before touching storage.
			if _, err := tax.Add(key, name, parentKey, description); err != nil {
				return err
			}

			created, err := store.CreateCategory(ctx, &model.Category{
				Key:         key,
				Name:        name,
				Description: description,
				ParentKey:   parentKey,
			})
			if err != nil {
				return fmt.Errorf("failed to create category: %w", err)
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("added category %s (%s)", created.Key, created.Name)))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the key's last segment)")
	cmd.Flags().StringVar(&description, "description", "", "description shown to the classifier")

	return cmd
}

func renameCategoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <old-key> <new-key>",
		Short: "Rename a category key",
		Long: `Rename a category. Transactions keep their assignment; renaming a root
also rewrites its children's dotted keys.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			engine := migration.New(store, nil, migrationConfig())
			result, err := engine.Rename(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return reportMigration(result)
		},
	}
}

func mergeCategoriesCmd() *cobra.Command {
	var recategorize bool

	cmd := &cobra.Command{
		Use:   "merge <source-key>... <target-key>",
		Short: "Merge categories into one",
		Long: `Merge one or more source categories into a target category. By default
affected transactions are reassigned directly to the target and verified
rows stay verified. With --recategorize they are reclassified against the
post-merge taxonomy instead, and verified rows keep their status only
when the new assignment is confident enough.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sources, target := args[:len(args)-1], args[len(args)-1]

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			eng, err := migrationEngine(ctx, store, recategorize)
			if err != nil {
				return err
			}

			result, err := eng.Merge(ctx, sources, target, recategorize)
			if err != nil {
				return err
			}
			return reportMigration(result)
		},
	}

	cmd.Flags().BoolVar(&recategorize, "recategorize", false, "reclassify affected transactions instead of reassigning them directly")

	return cmd
}

func splitCategoryCmd() *cobra.Command {
	var intoSpecs []string

	cmd := &cobra.Command{
		Use:   "split <source-key> --into <key[=Name]> --into <key[=Name]>",
		Short: "Split a category into new ones",
		Long: `Split a category into two or more new categories. Affected transactions
are reclassified against the new taxonomy, constrained to the split
targets. If classification is unavailable the structural change still
applies and affected rows are left pending.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if len(intoSpecs) < 2 {
				return fmt.Errorf("split requires at least two --into targets")
			}
			targets, err := parseSplitTargets(intoSpecs)
			if err != nil {
				return err
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			eng, err := migrationEngine(ctx, store, true)
			if err != nil {
				return err
			}

			result, err := eng.Split(ctx, args[0], targets)
			if err != nil {
				return err
			}
			return reportMigration(result)
		},
	}

	cmd.Flags().StringArrayVar(&intoSpecs, "into", nil, "split target as key or key=Name (repeatable)")

	return cmd
}

func removeCategoryCmd() *cobra.Command {
	var fallback string

	cmd := &cobra.Command{
		Use:   "remove <key>",
		Short: "Remove a category",
		Long: `Remove a category. If transactions reference it, a --fallback category
is required; they are reassigned to it with their verified status intact.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			engine := migration.New(store, nil, migrationConfig())
			result, err := engine.Remove(ctx, args[0], fallback)
			if err != nil {
				return err
			}
			return reportMigration(result)
		},
	}

	cmd.Flags().StringVar(&fallback, "fallback", "", "category to reassign affected transactions to")

	return cmd
}

func seedCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file>",
		Short: "Seed the taxonomy from a YAML file",
		Long: `Load a taxonomy seed file and create any categories that do not exist
yet. Existing categories are left untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			seed, err := taxonomy.LoadSeedFile(args[0])
			if err != nil {
				return err
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			created := 0
			for _, category := range seed.Categories() {
				existing, err := store.GetCategoryByKey(ctx, category.Key)
				if err != nil && !errors.Is(err, common.ErrNotFound) {
					return fmt.Errorf("failed to check category %s: %w", category.Key, err)
				}
				if existing != nil {
					continue
				}
				if _, err := store.CreateCategory(ctx, &category); err != nil {
					return fmt.Errorf("failed to create category %s: %w", category.Key, err)
				}
				created++
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf(
				"seeded %d categories (%d already existed)", created, seed.Len()-created)))
			return nil
		},
	}
}

// migrationEngine builds a migration engine, attaching a classifier only
// when the operation will reclassify rows.
func migrationEngine(_ context.Context, store service.Storage, needsClassifier bool) (*migration.Engine, error) {
	if !needsClassifier {
		return migration.New(store, nil, migrationConfig()), nil
	}
	eng, err := newClassificationEngine()
	if err != nil {
		return nil, err
	}
	return migration.New(store, eng, migrationConfig()), nil
}

func migrationConfig() migration.Config {
	cfg := migration.DefaultConfig()
	return cfg
}

// parseSplitTargets parses repeated --into values of the form key or
// key=Name.
func parseSplitTargets(specs []string) ([]taxonomy.SplitTarget, error) {
	targets := make([]taxonomy.SplitTarget, 0, len(specs))
	for _, spec := range specs {
		key, name, found := strings.Cut(spec, "=")
		if key == "" {
			return nil, fmt.Errorf("invalid --into value %q", spec)
		}
		if !found || name == "" {
			name = nameFromKey(key)
		}
		targets = append(targets, taxonomy.SplitTarget{Key: key, Name: name})
	}
	return targets, nil
}

// nameFromKey derives a display name from a key's last segment.
func nameFromKey(key string) string {
	segment := key
	if i := strings.LastIndex(key, model.KeySeparator); i >= 0 {
		segment = key[i+1:]
	}
	if segment == "" {
		return key
	}
	return strings.ToUpper(segment[:1]) + segment[1:]
}

// reportMigration prints a migration outcome; a validation failure becomes
// a non-zero exit without a stack of wrapped errors.
func reportMigration(result *model.MigrationResult) error {
	if !result.Success {
		for _, msg := range result.Errors {
			fmt.Println(cli.FormatError(msg))
		}
		return fmt.Errorf("%s failed", result.Operation)
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf("%s complete", result.Operation)))
	if result.AffectedCount > 0 {
		fmt.Println(cli.FormatInfo(fmt.Sprintf(
			"%d transactions affected, %d recategorized, %d verified retained, %d verified demoted",
			result.AffectedCount, result.RecategorizedCount,
			result.VerifiedRetainedCount, result.VerifiedDemotedCount)))
	}
	return nil
}
