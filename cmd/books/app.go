package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"

	"github.com/Veraticus/the-books-must-balance/internal/catalog"
	"github.com/Veraticus/the-books-must-balance/internal/classify"
	"github.com/Veraticus/the-books-must-balance/internal/config"
	"github.com/Veraticus/the-books-must-balance/internal/engine"
	"github.com/Veraticus/the-books-must-balance/internal/llm"
	"github.com/Veraticus/the-books-must-balance/internal/metrics"
	"github.com/Veraticus/the-books-must-balance/internal/storage"
)

// llm.api_key → BOOKS_LLM_API_KEY.
var envKeyReplacer = strings.NewReplacer(".", "_")

// app is the wired object graph shared by the commands.
type app struct {
	cfg          config.Config
	store        *storage.SQLiteStorage
	catalog      *catalog.Catalog
	ai           *llm.Classifier
	orchestrator *classify.Orchestrator
	importer     *engine.Importer
	metrics      *metrics.Metrics
	registry     *prometheus.Registry
	logger       *slog.Logger
}

func loadConfig() (config.Config, error) {
	return config.Load(viper.GetViper())
}

// newApp opens and migrates the store, syncs the category mirror and builds
// the classification stack.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	cat, err := syncCatalog(ctx, store, cfg.Catalog.TaxonomyPath, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	ai, err := llm.NewClassifier(llmConfig(cfg.LLM), cat, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	ai.WithRecorder(m)

	// A disabled classifier must not reach the orchestrator as a non-nil
	// interface holding it.
	var aiStage classify.Classifier
	if ai.Enabled() {
		aiStage = ai
		logger.Info("AI classification enabled", "provider", cfg.LLM.Provider)
	} else {
		logger.Info("No AI credential configured, using rule classification only")
	}

	var rules classify.RuleSet
	if cfg.Classification.RulesPath != "" {
		custom, err := classify.LoadRuleSet(cfg.Classification.RulesPath, cat)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		rules = custom.WithDefaults()
		logger.Info("Loaded classification rules", "path", cfg.Classification.RulesPath, "count", len(custom))
	}

	orch := classify.NewOrchestrator(
		classify.NewRuleClassifier(rules, cat),
		aiStage,
		cat,
		classify.Config{Concurrency: cfg.Classification.Concurrency},
		logger,
	).WithRecorder(m)

	importer := engine.New(store, orch, logger).WithRecorder(m)

	return &app{
		cfg:          cfg,
		store:        store,
		catalog:      cat,
		ai:           ai,
		orchestrator: orch,
		importer:     importer,
		metrics:      m,
		registry:     registry,
		logger:       logger,
	}, nil
}

// syncCatalog mirrors the configured taxonomy into the store when one is
// given, seeds the embedded taxonomy into an empty store, and then loads the
// catalog from the store.
func syncCatalog(ctx context.Context, store *storage.SQLiteStorage, taxonomyPath string, logger *slog.Logger) (*catalog.Catalog, error) {
	var seed *catalog.Catalog
	if taxonomyPath != "" {
		fromFile, err := catalog.LoadFile(taxonomyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load taxonomy: %w", err)
		}
		seed = fromFile
	} else {
		existing, err := store.ListCategories(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read categories: %w", err)
		}
		if len(existing) == 0 {
			seed = catalog.Default()
		}
	}

	if seed != nil {
		if err := store.SeedCategories(ctx, seed.All()); err != nil {
			return nil, fmt.Errorf("failed to seed categories: %w", err)
		}
		logger.Debug("Seeded category mirror", "count", seed.Len(), "version", seed.Version())
	}

	return catalog.Load(ctx, store, logger), nil
}

func llmConfig(c config.LLMConfig) llm.Config {
	temperature, retries := c.Temperature, c.MaxRetries
	return llm.Config{
		Provider:    c.Provider,
		APIKey:      c.APIKey,
		BaseURL:     c.BaseURL,
		Model:       c.Model,
		Temperature: &temperature,
		MaxTokens:   c.MaxTokens,
		Timeout:     c.Timeout,
		MaxRetries:  &retries,
		RetryDelay:  c.RetryDelay,
		RateLimit:   c.RateLimit,
		CacheTTL:    c.CacheTTL,
	}
}

func (a *app) Close() {
	a.ai.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Failed to close database", "error", err)
	}
}
