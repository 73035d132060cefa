package main

import (
	"context"
	"fmt"
	"os"

	"wsb-sentiment/internal/interfaces"
	"wsb-sentiment/internal/labeling"
	"wsb-sentiment/internal/ledger"
	"wsb-sentiment/internal/llm/claude"
	"wsb-sentiment/internal/llm/llmobs"
	"wsb-sentiment/internal/llm/noop"
	"wsb-sentiment/internal/llm/openai"
	"wsb-sentiment/internal/logger"
	"wsb-sentiment/internal/store"
	"wsb-sentiment/internal/tickers"
	"wsb-sentiment/internal/trace"

	"github.com/joho/godotenv"
)

// initializeSystem loads .env and initializes the logger and tracer
func initializeSystem() error {
	// Load environment variables
	_ = godotenv.Load()

	// Initialize logger
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Initialize tracer
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

func defaultConfigPath() string {
	if p := os.Getenv("WSB_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// loadConfig loads and returns the configuration
func loadConfig(ctx context.Context, path string) (*store.Config, error) {
	cfg, err := store.LoadConfig(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", path)
		return nil, err
	}
	return cfg, nil
}

// openLedger opens the run ledger when enabled; it returns nil otherwise
func openLedger(ctx context.Context, cfg *store.Config) (*ledger.Ledger, error) {
	if !cfg.Ledger.Enabled {
		return nil, nil
	}
	l, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	logger.Info(ctx, "Run ledger opened", "path", cfg.Ledger.Path, "cache_labels", cfg.Ledger.CacheLabels)
	return l, nil
}

// initializeClassifier builds the configured provider with observability,
// fronted by the label cache when enabled
func initializeClassifier(ctx context.Context, cfg *store.Config, l *ledger.Ledger) (interfaces.Classifier, error) {
	var classifier interfaces.Classifier

	switch cfg.Classifier.Provider {
	case store.ProviderOpenAI:
		c, err := openai.NewClassifier(cfg)
		if err != nil {
			return nil, err
		}
		classifier = c
	case store.ProviderClaude:
		c, err := claude.NewClassifier(cfg)
		if err != nil {
			return nil, err
		}
		classifier = c
	default:
		classifier = noop.NewClassifier()
		logger.Warn(ctx, "No LLM provider configured - using Noop classifier (tickers only)")
	}

	// Wrap with observability middleware
	classifier = llmobs.Wrap(classifier, cfg.Classifier.Provider)

	if l != nil && cfg.Ledger.CacheLabels {
		classifier = l.Cache(classifier, cfg.Classifier.Model, cfg.Classifier.System)
	}
	return classifier, nil
}

// initializePipeline wires the ticker set, classifier and ledger into a
// labeling pipeline. The returned func releases the ledger.
func initializePipeline(ctx context.Context, cfg *store.Config) (*labeling.Pipeline, func(), error) {
	set, err := tickers.Load(cfg.TickerFile)
	if err != nil {
		return nil, nil, err
	}
	logger.Info(ctx, "Ticker list loaded", "path", cfg.TickerFile, "symbols", set.Len())

	l, err := openLedger(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if l != nil {
			l.Close()
		}
	}

	classifier, err := initializeClassifier(ctx, cfg, l)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	labeler := labeling.NewLabeler(set, labeling.NewAnalyzer(classifier, cfg), cfg.DelayBetweenCalls)

	var recorder labeling.Recorder
	if l != nil {
		recorder = l
	}
	return labeling.NewPipeline(cfg, labeler, recorder), cleanup, nil
}
