package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Client defines the interface for LLM provider backends. A backend
// receives a fully rendered prompt and returns the structured per-row
// results parsed from the provider's JSON reply.
type Client interface {
	ClassifyBatch(ctx context.Context, prompt string) (BatchResponse, error)
	Model() string
}

// BatchResult is one row of a provider reply. Index refers to the position
// of the transaction in the submitted batch. The revised fields are set
// when the provider ran a second verification pass over its initial guess.
type BatchResult struct {
	CategoryKey        string  `json:"category_key"`
	Rationale          string  `json:"rationale"`
	RevisedCategoryKey string  `json:"revised_category_key,omitempty"`
	RevisedRationale   string  `json:"revised_rationale,omitempty"`
	Index              int     `json:"index"`
	Confidence         float64 `json:"confidence"`
	RevisedConfidence  float64 `json:"revised_confidence,omitempty"`
}

// BatchResponse contains the parsed provider reply for one batch.
type BatchResponse struct {
	Results []BatchResult `json:"results"`
}

// Config holds configuration for the LLM classifier.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	MaxRetries  int
	RetryDelay  time.Duration
	RateLimit   int
	Temperature float64
	MaxTokens   int
}

// newClient creates a provider backend based on the provided configuration.
func newClient(cfg Config) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return newOpenAIClient(cfg)
	case "anthropic":
		return newAnthropicClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
