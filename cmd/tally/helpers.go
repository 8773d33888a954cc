package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/adambossy/tally/internal/common"
	"github.com/adambossy/tally/internal/config"
	"github.com/adambossy/tally/internal/engine"
	"github.com/adambossy/tally/internal/llm"
	"github.com/adambossy/tally/internal/service"
	"github.com/adambossy/tally/internal/storage"
)

// initStorage opens the configured database and brings the schema current.
func initStorage(ctx context.Context) (service.Storage, error) {
	dbPath := config.ExpandPath(viper.GetString("database.path"))
	if dbPath == "" {
		var err error
		dbPath, err = config.DefaultDatabasePath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// newClassificationEngine builds the LLM-backed classification engine from
// the llm.* config section.
func newClassificationEngine() (*engine.ClassificationEngine, error) {
	cfg := llm.Config{
		Provider:    viper.GetString("llm.provider"),
		APIKey:      viper.GetString("llm.api_key"),
		Model:       viper.GetString("llm.model"),
		MaxRetries:  viper.GetInt("llm.max_retries"),
		RateLimit:   viper.GetInt("llm.rate_limit"),
		Temperature: viper.GetFloat64("llm.temperature"),
		MaxTokens:   viper.GetInt("llm.max_tokens"),
	}
	if cfg.Provider == "" {
		cfg.Provider = "anthropic"
	}
	if cfg.APIKey == "" {
		switch cfg.Provider {
		case "openai":
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		default:
			cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if cfg.APIKey == "" {
		return nil, common.NewUserError("no LLM API key configured; set llm.api_key or the provider's environment variable", nil)
	}

	classifier, err := llm.NewClassifier(cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}

	engineCfg := engine.DefaultConfig()
	if v := viper.GetInt("engine.batch_size"); v > 0 {
		engineCfg.BatchSize = v
	}
	if v := viper.GetInt("engine.parallel_workers"); v > 0 {
		engineCfg.ParallelWorkers = v
	}

	return engine.NewWithConfig(classifier, engineCfg), nil
}
