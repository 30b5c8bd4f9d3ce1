package main

import (
	"fmt"
	"os"
	"time"

	"log/slog"

	"github.com/spf13/viper"

	"github.com/subscout/subscout/internal/engine"
	"github.com/subscout/subscout/internal/llm"
	"github.com/subscout/subscout/internal/metrics"
	"github.com/subscout/subscout/internal/reconcile"
	"github.com/subscout/subscout/internal/resilience"
	"github.com/subscout/subscout/internal/service"
)

// createResilienceExecutor builds the shared remote-call executor from
// configuration. Zero values defer to the executor's own defaults.
func createResilienceExecutor() *resilience.Executor {
	return resilience.New(resilience.Config{
		OnStateChange:  metrics.BreakerTransition,
		MaxConcurrent:  viper.GetInt("resilience.max_concurrent"),
		MaxAttempts:    viper.GetInt("resilience.max_attempts"),
		InitialDelay:   viper.GetDuration("resilience.initial_delay"),
		MaxDelay:       viper.GetDuration("resilience.max_delay"),
		Multiplier:     viper.GetFloat64("resilience.multiplier"),
		SamplingWindow: viper.GetDuration("resilience.sampling_window"),
		BreakDuration:  viper.GetDuration("resilience.break_duration"),
		MinThroughput:  viper.GetInt("resilience.min_throughput"),
	})
}

// createLLMComponents creates the classifier, extractor, and enricher
// sharing one LLM client behind one resilience executor.
// This function is shared by multiple commands that need LLM functionality.
func createLLMComponents(executor *resilience.Executor) (engine.Classifier, engine.Extractor, engine.Enricher, error) {
	// Read LLM configuration from viper
	provider := viper.GetString("llm.provider")
	if provider == "" {
		provider = "anthropic" // default provider
	}

	// Build config from viper settings
	config := llm.Config{
		Provider:    provider,
		Model:       viper.GetString("llm.model"),
		Temperature: viper.GetFloat64("llm.temperature"),
		MaxTokens:   viper.GetInt("llm.max_tokens"),
		CacheTTL:    viper.GetDuration("llm.cache_ttl"),
	}

	// Set defaults if not specified
	if config.CacheTTL == 0 {
		config.CacheTTL = 24 * time.Hour
	}

	// Get API key based on provider
	switch provider {
	case "openai":
		// Check viper first, then environment variable
		apiKey := viper.GetString("llm.openai_api_key")
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, nil, nil, fmt.Errorf("OpenAI API key not found in config or OPENAI_API_KEY environment variable")
		}
		config.APIKey = apiKey

	case "anthropic":
		// Check viper first, then environment variable
		apiKey := viper.GetString("llm.anthropic_api_key")
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, nil, nil, fmt.Errorf("anthropic API key not found in config or ANTHROPIC_API_KEY environment variable")
		}
		config.APIKey = apiKey

	default:
		return nil, nil, nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}

	// Create LLM client and the pipeline components around it
	client, err := llm.NewClient(config)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	logger := slog.Default()
	classifier := llm.NewClassifier(client, executor, "classify", config.CacheTTL, logger)
	extractor := llm.NewExtractor(client, executor, "extract", config.CacheTTL, logger)
	enricher := llm.NewEnricher(client, executor, "enrich", logger)

	return classifier, extractor, enricher, nil
}

// createEngine wires storage, LLM components, and reconciliation into a
// processing engine. withSource also attaches the Gmail mail source so the
// engine can scan mailboxes; commands that only work through already
// ingested mail leave it off.
func createEngine(store service.Storage, withSource bool) (*engine.Engine, error) {
	executor := createResilienceExecutor()

	classifier, extractor, enricher, err := createLLMComponents(executor)
	if err != nil {
		return nil, err
	}

	reconciler, err := reconcile.New(store, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to create reconciler: %w", err)
	}

	var source service.MailSource
	if withSource {
		source, err = createMailSource()
		if err != nil {
			return nil, err
		}
	}

	cfg := engine.DefaultConfig()
	if workers := viper.GetInt("engine.workers"); workers > 0 {
		cfg.Workers = workers
	}
	if batch := viper.GetInt("engine.batch_size"); batch > 0 {
		cfg.BatchSize = batch
	}

	eng, err := engine.NewWithConfig(store, source, classifier, extractor, enricher, reconciler, slog.Default(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	return eng, nil
}
