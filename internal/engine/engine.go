// Package engine implements the batched classification engine. It chunks
// transactions into bounded batches, classifies them concurrently under a
// fixed worker limit, caches validated results by content hash, and
// enforces that every assigned category belongs to the taxonomy snapshot
// the batch was classified against.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/adambossy/tally/internal/model"
	"github.com/adambossy/tally/internal/service"
	"github.com/adambossy/tally/internal/taxonomy"
)

// ErrInvalidCategory indicates the classifier assigned a category key that
// is not part of the vocabulary the batch was classified against. The
// batch carrying the row is failed as a whole.
var ErrInvalidCategory = errors.New("category not in classification vocabulary")

// ClassificationEngine orchestrates batched, concurrent classification of
// transactions against a taxonomy snapshot.
type ClassificationEngine struct {
	classifier Classifier
	cache      *resultCache
	config     Config
}

// Config holds configuration options for the classification engine.
// BatchSize bounds how many transactions go to the classifier per call;
// ParallelWorkers bounds how many batches classify concurrently. The two
// are independent.
type Config struct {
	BatchSize       int
	ParallelWorkers int
	CacheTTL        time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:       25,
		ParallelWorkers: 4,
		CacheTTL:        15 * time.Minute,
	}
}

// New creates a classification engine with default configuration.
func New(classifier Classifier) *ClassificationEngine {
	return NewWithConfig(classifier, DefaultConfig())
}

// NewWithConfig creates a classification engine with custom configuration.
func NewWithConfig(classifier Classifier, config Config) *ClassificationEngine {
	if config.BatchSize <= 0 {
		config.BatchSize = 25
	}
	if config.ParallelWorkers <= 0 {
		config.ParallelWorkers = 4
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 15 * time.Minute
	}

	return &ClassificationEngine{
		classifier: classifier,
		cache:      newResultCache(config.CacheTTL),
		config:     config,
	}
}

// BatchSize returns the configured classification batch size.
func (e *ClassificationEngine) BatchSize() int {
	return e.config.BatchSize
}

// Classify classifies transactions against the full taxonomy vocabulary.
// Results are ordered to match the input slice, with each result's
// TransactionIndex referring back to its input position. Any batch
// failure fails the whole call.
func (e *ClassificationEngine) Classify(ctx context.Context, txns []model.LedgerTransaction, tax *taxonomy.Taxonomy) ([]model.ClassificationResult, error) {
	run, err := e.NewRun(ctx, tax)
	if err != nil {
		return nil, err
	}
	return e.collect(run, txns)
}

// ClassifyConstrained classifies transactions against a restricted
// vocabulary. Every allowed key must exist in the taxonomy snapshot. Used
// when reclassifying only the outputs of a split.
func (e *ClassificationEngine) ClassifyConstrained(ctx context.Context, txns []model.LedgerTransaction, tax *taxonomy.Taxonomy, allowedKeys []string) ([]model.ClassificationResult, error) {
	run, err := e.NewConstrainedRun(ctx, tax, allowedKeys)
	if err != nil {
		return nil, err
	}
	return e.collect(run, txns)
}

// collect feeds txns through a run in batch-size chunks and assembles the
// results in input order.
func (e *ClassificationEngine) collect(run *Run, txns []model.LedgerTransaction) ([]model.ClassificationResult, error) {
	if len(txns) == 0 {
		_, err := run.Wait()
		return nil, err
	}

	out := make([]model.ClassificationResult, len(txns))

	for start := 0; start < len(txns); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(txns) {
			end = len(txns)
		}

		offset := start
		run.Submit(txns[start:end], func(_ context.Context, results []model.ClassificationResult) error {
			// Disjoint ranges per batch, so no locking is needed.
			for i := range results {
				results[i].TransactionIndex += offset
				out[offset+i] = results[i]
			}
			return nil
		})
	}

	if _, err := run.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases engine resources.
func (e *ClassificationEngine) Close() {
	e.cache.Close()
}

// vocabularyFromTaxonomy presents every category of the snapshot to the
// classifier, sorted by key for deterministic hashing.
func vocabularyFromTaxonomy(tax *taxonomy.Taxonomy) []service.VocabularyEntry {
	categories := tax.Categories()
	entries := make([]service.VocabularyEntry, 0, len(categories))
	for _, c := range categories {
		entries = append(entries, service.VocabularyEntry{
			Key:         c.Key,
			Name:        c.Name,
			Description: c.Description,
		})
	}
	return entries
}

// vocabularyForKeys restricts the vocabulary to the given keys, each of
// which must exist in the snapshot.
func vocabularyForKeys(tax *taxonomy.Taxonomy, allowedKeys []string) ([]service.VocabularyEntry, error) {
	unique := make(map[string]struct{}, len(allowedKeys))
	keys := make([]string, 0, len(allowedKeys))
	for _, k := range allowedKeys {
		if _, dup := unique[k]; dup {
			continue
		}
		unique[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]service.VocabularyEntry, 0, len(keys))
	for _, k := range keys {
		c, ok := tax.Get(k)
		if !ok {
			return nil, fmt.Errorf("%w: allowed key %q", taxonomy.ErrUnknownKey, k)
		}
		entries = append(entries, service.VocabularyEntry{
			Key:         c.Key,
			Name:        c.Name,
			Description: c.Description,
		})
	}
	return entries, nil
}
