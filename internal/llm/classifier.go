package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adambossy/tally/internal/common"
	"github.com/adambossy/tally/internal/model"
	"github.com/adambossy/tally/internal/service"
)

// Classifier implements the engine.Classifier interface using LLM APIs.
// It renders transaction batches into prompts, applies rate limiting and
// retries, and maps provider replies back to classification results.
type Classifier struct {
	client      Client
	rateLimiter *rateLimiter
	logger      *slog.Logger
	retryOpts   service.RetryOptions
}

// NewClassifier creates a new LLM-based classifier.
func NewClassifier(cfg Config, logger *slog.Logger) (*Classifier, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	retryOpts := service.RetryOptions{
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
	if retryOpts.MaxAttempts == 0 {
		retryOpts.MaxAttempts = 3
	}
	if retryOpts.InitialDelay == 0 {
		retryOpts.InitialDelay = time.Second
	}

	return &Classifier{
		client:      client,
		rateLimiter: newRateLimiter(cfg.RateLimit),
		logger:      logger,
		retryOpts:   retryOpts,
	}, nil
}

// ModelID returns the identifier of the underlying model. It participates
// in classification cache keys, so two classifiers configured with
// different models never share cached results.
func (c *Classifier) ModelID() string {
	return c.client.Model()
}

// ClassifyBatch classifies a batch of transactions against the given
// vocabulary. Every transaction receives exactly one result, ordered by
// batch index. Category keys are returned as-is; vocabulary validation is
// the caller's responsibility.
func (c *Classifier) ClassifyBatch(ctx context.Context, txns []model.LedgerTransaction, vocabulary []service.VocabularyEntry, constrained bool) ([]model.ClassificationResult, error) {
	if len(txns) == 0 {
		return nil, nil
	}
	if len(vocabulary) == 0 {
		return nil, fmt.Errorf("classification vocabulary is empty")
	}

	if err := c.rateLimiter.wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	prompt := buildBatchPrompt(txns, vocabulary, constrained)

	var results []model.ClassificationResult
	err := common.WithRetry(ctx, func() error {
		c.logger.Debug("attempting LLM batch classification",
			"batch_size", len(txns),
			"model", c.client.Model(),
			"constrained", constrained)

		response, classifyErr := c.client.ClassifyBatch(ctx, prompt)
		if classifyErr != nil {
			c.logger.Warn("LLM batch classification attempt failed",
				"error", classifyErr,
				"batch_size", len(txns))
			return &common.RetryableError{Err: classifyErr, Retryable: true}
		}

		mapped, mapErr := mapResults(response, len(txns))
		if mapErr != nil {
			c.logger.Warn("malformed batch response from LLM",
				"error", mapErr,
				"batch_size", len(txns))
			return &common.RetryableError{Err: mapErr, Retryable: true}
		}

		results = mapped
		return nil
	}, c.retryOpts)
	if err != nil {
		return nil, fmt.Errorf("batch classification failed: %w", err)
	}

	c.logger.Info("batch classified",
		"batch_size", len(txns),
		"model", c.client.Model(),
		"constrained", constrained)

	return results, nil
}

// buildBatchPrompt renders the batch and vocabulary into the prompt sent
// to the provider.
func buildBatchPrompt(txns []model.LedgerTransaction, vocabulary []service.VocabularyEntry, constrained bool) string {
	transactionLines := ""
	for i, txn := range txns {
		merchant := txn.MerchantDescriptor
		if merchant == "" {
			merchant = txn.MerchantID
		}
		transactionLines += fmt.Sprintf("[%d] date=%s amount=%s currency=%s merchant=%q source=%s\n",
			i,
			txn.PostedAt.Format("2006-01-02"),
			model.FormatCents(txn.AmountCents),
			txn.Currency,
			merchant,
			txn.Source)
	}

	vocabularyLines := ""
	for _, entry := range vocabulary {
		if entry.Description != "" {
			vocabularyLines += fmt.Sprintf("- %s: %s (%s)\n", entry.Key, entry.Name, entry.Description)
		} else {
			vocabularyLines += fmt.Sprintf("- %s: %s\n", entry.Key, entry.Name)
		}
	}

	constraint := ""
	if constrained {
		constraint = "\n4. This is a restricted vocabulary: never use a key outside the list, even if none fits well; pick the closest one."
	}

	return fmt.Sprintf(`Classify each of the following financial transactions into exactly one category from the vocabulary.

Transactions:
%s
Category vocabulary:
%s
Instructions:
1. Assign every transaction one category_key taken verbatim from the vocabulary above.
2. Estimate a confidence between 0.0 and 1.0 for each assignment and give a one-sentence rationale.
3. If a second look at a transaction changes your assessment, keep the original fields and add revised_category_key, revised_confidence, and revised_rationale to that row.%s

Respond with a JSON object of this exact shape:
{"results": [{"index": 0, "category_key": "<key>", "confidence": 0.0, "rationale": "<why>"}]}
Include exactly one result per transaction, identified by the transaction's index.`,
		transactionLines,
		vocabularyLines,
		constraint)
}

// mapResults converts a provider reply into per-transaction results,
// enforcing a bijection between batch indices and result rows.
func mapResults(response BatchResponse, batchSize int) ([]model.ClassificationResult, error) {
	if len(response.Results) != batchSize {
		return nil, fmt.Errorf("expected %d results, got %d", batchSize, len(response.Results))
	}

	results := make([]model.ClassificationResult, batchSize)
	seen := make([]bool, batchSize)

	for _, r := range response.Results {
		if r.Index < 0 || r.Index >= batchSize {
			return nil, fmt.Errorf("result index %d out of range for batch of %d", r.Index, batchSize)
		}
		if seen[r.Index] {
			return nil, fmt.Errorf("duplicate result for index %d", r.Index)
		}
		seen[r.Index] = true

		results[r.Index] = model.ClassificationResult{
			TransactionIndex:   r.Index,
			CategoryKey:        r.CategoryKey,
			Confidence:         r.Confidence,
			Rationale:          r.Rationale,
			RevisedCategoryKey: r.RevisedCategoryKey,
			RevisedConfidence:  r.RevisedConfidence,
			RevisedRationale:   r.RevisedRationale,
		}
	}

	return results, nil
}
