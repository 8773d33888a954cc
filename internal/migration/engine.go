// Package migration composes taxonomy structural operations with the
// ledger-consistent side effects they imply: reassigning or reclassifying
// the affected rows and applying the confidence-threshold policy to
// previously verified assignments. Operation failures come back inside the
// MigrationResult; the returned Go error is reserved for cancellation and
// storage-level faults.
package migration

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/adambossy/tally/internal/engine"
	"github.com/adambossy/tally/internal/model"
	"github.com/adambossy/tally/internal/service"
	"github.com/adambossy/tally/internal/taxonomy"
)

// Config holds migration engine tuning.
type Config struct {
	// ConfidenceThreshold is the minimum resolved confidence at which a
	// previously verified row keeps its verified status after
	// recategorization.
	ConfidenceThreshold float64
}

// DefaultConfig returns the default migration configuration.
func DefaultConfig() Config {
	return Config{ConfidenceThreshold: 0.70}
}

// Engine applies taxonomy migrations against storage.
type Engine struct {
	store      service.Storage
	classifier *engine.ClassificationEngine
	config     Config
}

// New creates a migration engine. The classification engine may be nil if
// only non-recategorizing operations are used.
func New(store service.Storage, classifier *engine.ClassificationEngine, config Config) *Engine {
	if config.ConfidenceThreshold <= 0 {
		config.ConfidenceThreshold = 0.70
	}
	return &Engine{
		store:      store,
		classifier: classifier,
		config:     config,
	}
}

// Remove drops a category. When rows still reference it, an explicit
// fallback category is required; affected rows move to the fallback with
// their verified flags untouched.
func (e *Engine) Remove(ctx context.Context, key, fallbackKey string) (*model.MigrationResult, error) {
	result := &model.MigrationResult{Operation: model.MigrationRemove, Success: true}

	tax, err := e.loadTaxonomy(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := tax.Remove(key); err != nil {
		result.AddError(err.Error())
		return result, nil
	}

	cat, err := e.store.GetCategoryByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load category %q: %w", key, err)
	}
	affected, err := e.store.GetTransactionsByCategoryID(ctx, cat.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load affected rows: %w", err)
	}
	result.AffectedCount = len(affected)

	if len(affected) == 0 {
		if err := e.store.DeleteCategory(ctx, key); err != nil {
			return nil, err
		}
		return result, nil
	}

	if fallbackKey == "" {
		result.AddError(fmt.Sprintf("category %q has %d transactions; removal requires a fallback category", key, len(affected)))
		return result, nil
	}
	if fallbackKey == key {
		result.AddError(fmt.Sprintf("fallback category %q is the category being removed", fallbackKey))
		return result, nil
	}
	fallback, ok := tax.Get(fallbackKey)
	if !ok {
		result.AddError(fmt.Sprintf("unknown fallback category %q", fallbackKey))
		return result, nil
	}

	err = service.WithTransaction(ctx, e.store, func(tx service.Transaction) error {
		moved, err := tx.ReassignCategory(ctx, cat.ID, fallback.ID)
		if err != nil {
			return err
		}
		result.RecategorizedCount = int(moved)
		return tx.DeleteCategory(ctx, key)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("removed category",
		"key", key,
		"fallback", fallbackKey,
		"reassigned", result.RecategorizedCount)
	return result, nil
}

// Rename changes a category key, cascading the new root prefix into child
// keys. No ledger rows change: rows reference categories by integer id.
func (e *Engine) Rename(ctx context.Context, oldKey, newKey string) (*model.MigrationResult, error) {
	result := &model.MigrationResult{Operation: model.MigrationRename, Success: true}

	tax, err := e.loadTaxonomy(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := tax.Rename(oldKey, newKey); err != nil {
		result.AddError(err.Error())
		return result, nil
	}

	err = service.WithTransaction(ctx, e.store, func(tx service.Transaction) error {
		if err := tx.RenameCategoryKey(ctx, oldKey, newKey); err != nil {
			return err
		}
		// Children keep their dotted keys under the old root until each
		// is rewritten in turn.
		for _, child := range tax.Children(oldKey) {
			suffix := child.Key[len(oldKey)+len(model.KeySeparator):]
			if err := tx.RenameCategoryKey(ctx, child.Key, model.ChildKey(newKey, suffix)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("renamed category", "old_key", oldKey, "new_key", newKey)
	return result, nil
}

// Merge folds the source categories into the target. With recategorize
// false, affected rows move directly to the target preserving each row's
// verified flag. With recategorize true, affected rows are reclassified
// against the full post-merge vocabulary and the confidence-threshold
// policy decides which previously verified rows stay verified.
func (e *Engine) Merge(ctx context.Context, sourceKeys []string, targetKey string, recategorize bool) (*model.MigrationResult, error) {
	result := &model.MigrationResult{Operation: model.MigrationMerge, Success: true}

	tax, err := e.loadTaxonomy(ctx)
	if err != nil {
		return nil, err
	}
	merged, err := tax.Merge(sourceKeys, targetKey)
	if err != nil {
		result.AddError(err.Error())
		return result, nil
	}

	target, _ := tax.Get(targetKey)
	var affected []model.LedgerTransaction
	sourceIDs := make([]int64, 0, len(sourceKeys))
	for _, key := range sourceKeys {
		source, _ := tax.Get(key)
		sourceIDs = append(sourceIDs, source.ID)
		rows, err := e.store.GetTransactionsByCategoryID(ctx, source.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load rows for %q: %w", key, err)
		}
		affected = append(affected, rows...)
	}
	result.AffectedCount = len(affected)

	if !recategorize {
		err := service.WithTransaction(ctx, e.store, func(tx service.Transaction) error {
			for i, id := range sourceIDs {
				moved, err := tx.ReassignCategory(ctx, id, target.ID)
				if err != nil {
					return err
				}
				result.RecategorizedCount += int(moved)
				if err := tx.DeleteCategory(ctx, sourceKeys[i]); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		for i := range affected {
			if affected[i].IsVerified {
				result.VerifiedRetainedCount++
			}
		}
		slog.Info("merged categories",
			"sources", sourceKeys,
			"target", targetKey,
			"reassigned", result.RecategorizedCount)
		return result, nil
	}

	if len(affected) > 0 {
		// Classify against the post-merge vocabulary so no row can land
		// back on a category about to be dropped. Rows are untouched
		// until the whole classification succeeds.
		results, err := e.classifier.Classify(ctx, affected, merged)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			result.AddError(fmt.Sprintf("recategorization failed, no rows changed: %v", err))
			return result, nil
		}
		if err := e.applyPolicy(ctx, affected, results, result); err != nil {
			return nil, err
		}
	}

	err = service.WithTransaction(ctx, e.store, func(tx service.Transaction) error {
		for _, key := range sourceKeys {
			if err := tx.DeleteCategory(ctx, key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("merged categories with recategorization",
		"sources", sourceKeys,
		"target", targetKey,
		"recategorized", result.RecategorizedCount,
		"verified_retained", result.VerifiedRetainedCount,
		"verified_demoted", result.VerifiedDemotedCount)
	return result, nil
}

// Split replaces one category with several targets under the same parent.
// The taxonomy change is persisted first so target ids resolve; affected
// rows are reclassified against exactly the target keys, then the policy
// applies. A classification outage after the structural change leaves the
// affected rows pending, the same durable-raw-rows stance sync takes.
func (e *Engine) Split(ctx context.Context, sourceKey string, targets []taxonomy.SplitTarget) (*model.MigrationResult, error) {
	result := &model.MigrationResult{Operation: model.MigrationSplit, Success: true}

	tax, err := e.loadTaxonomy(ctx)
	if err != nil {
		return nil, err
	}
	split, err := tax.Split(sourceKey, targets)
	if err != nil {
		result.AddError(err.Error())
		return result, nil
	}

	source, _ := tax.Get(sourceKey)
	affected, err := e.store.GetTransactionsByCategoryID(ctx, source.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load affected rows: %w", err)
	}
	result.AffectedCount = len(affected)

	err = service.WithTransaction(ctx, e.store, func(tx service.Transaction) error {
		for _, target := range targets {
			if _, err := tx.CreateCategory(ctx, &model.Category{
				Key:         target.Key,
				Name:        target.Name,
				Description: target.Description,
				ParentKey:   source.ParentKey,
			}); err != nil {
				return err
			}
		}
		// Dropping the source unclassifies its rows; they stay durable
		// and pending until reclassification lands.
		return tx.DeleteCategory(ctx, sourceKey)
	})
	if err != nil {
		return nil, err
	}

	if len(affected) == 0 {
		return result, nil
	}

	targetKeys := make([]string, len(targets))
	for i, target := range targets {
		targetKeys[i] = target.Key
	}

	results, err := e.classifier.ClassifyConstrained(ctx, affected, split, targetKeys)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		result.AddError(fmt.Sprintf("recategorization failed, %d rows left pending: %v", len(affected), err))
		return result, nil
	}
	if err := e.applyPolicy(ctx, affected, results, result); err != nil {
		return nil, err
	}

	slog.Info("split category",
		"source", sourceKey,
		"targets", targetKeys,
		"recategorized", result.RecategorizedCount,
		"verified_retained", result.VerifiedRetainedCount,
		"verified_demoted", result.VerifiedDemotedCount)
	return result, nil
}

// applyPolicy writes one classification outcome per affected row, applying
// the confidence-threshold policy to each row's pre-migration verified
// flag. Each row transitions exactly once.
func (e *Engine) applyPolicy(ctx context.Context, affected []model.LedgerTransaction, results []model.ClassificationResult, result *model.MigrationResult) error {
	categories, err := e.store.GetCategories(ctx)
	if err != nil {
		return fmt.Errorf("failed to load categories: %w", err)
	}
	catIDs := make(map[string]int64, len(categories))
	for _, c := range categories {
		catIDs[c.Key] = c.ID
	}

	for i := range results {
		res := &results[i]
		row := &affected[res.TransactionIndex]

		catID, ok := catIDs[res.ResolvedKey()]
		if !ok {
			return fmt.Errorf("category %q has no storage id", res.ResolvedKey())
		}

		confidence := res.ResolvedConfidence()
		verified := ResolveVerified(row.IsVerified, confidence, e.config.ConfidenceThreshold)
		if err := e.store.SetTransactionCategory(ctx, row.ID, &catID, &confidence, verified); err != nil {
			return fmt.Errorf("failed to recategorize %s: %w", row.NaturalKey(), err)
		}

		result.RecategorizedCount++
		if row.IsVerified {
			if verified {
				result.VerifiedRetainedCount++
			} else {
				result.VerifiedDemotedCount++
			}
		}
	}
	return nil
}

func (e *Engine) loadTaxonomy(ctx context.Context) (*taxonomy.Taxonomy, error) {
	categories, err := e.store.GetCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}
	tax, err := taxonomy.New(categories)
	if err != nil {
		return nil, fmt.Errorf("stored categories are not a valid taxonomy: %w", err)
	}
	return tax, nil
}
