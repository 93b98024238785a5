package classify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/the-books-must-balance/internal/catalog"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

const (
	// RuleAcceptThreshold is the rule confidence above which the AI stage is skipped.
	RuleAcceptThreshold = 0.8
	// AIAcceptThreshold is the AI confidence above which its answer is taken outright.
	AIAcceptThreshold = 0.6

	defaultConcurrency = 4
)

// Config tunes the orchestrator.
type Config struct {
	Concurrency int
}

// Orchestrator runs the rule stage and, when it is not confident enough, the
// AI stage, then settles on one result.
type Orchestrator struct {
	rule     Classifier
	ai       Classifier
	catalog  *catalog.Catalog
	logger   *slog.Logger
	recorder Recorder
	config   Config
}

// NewOrchestrator wires the stages together. ai may be nil, in which case
// every result comes from the rule stage.
func NewOrchestrator(rule Classifier, ai Classifier, cat *catalog.Catalog, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = defaultConcurrency
	}
	if cat == nil {
		cat = catalog.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if rule == nil {
		rule = NewRuleClassifier(nil, cat)
	}
	return &Orchestrator{
		rule:     rule,
		ai:       ai,
		catalog:  cat,
		logger:   logger,
		recorder: noopRecorder{},
		config:   cfg,
	}
}

// WithRecorder attaches an outcome recorder.
func (o *Orchestrator) WithRecorder(r Recorder) *Orchestrator {
	if r != nil {
		o.recorder = r
	}
	return o
}

// Catalog returns the catalog results are resolved against.
func (o *Orchestrator) Catalog() *catalog.Catalog {
	return o.catalog
}

// Classify returns the settled classification for in. It never fails: when
// the AI stage is absent or produces nothing the rule result is used.
func (o *Orchestrator) Classify(ctx context.Context, in model.ClassificationInput) model.ClassificationResult {
	rule := o.ruleResult(ctx, in)

	if rule.Confidence > RuleAcceptThreshold {
		rule.Source = model.SourceRule
		return o.settle(rule)
	}

	if o.ai == nil {
		rule.Source = model.SourceFallback
		return o.settle(rule)
	}

	ai, ok := o.classifyAI(ctx, in)
	if !ok {
		o.logger.Debug("AI classification unavailable, using rule result",
			"description", in.Description,
			"rule_category", rule.CategoryName)
		rule.Source = model.SourceFallback
		return o.settle(rule)
	}
	ai.Confidence = model.ClampConfidence(ai.Confidence)

	if ai.Confidence > AIAcceptThreshold {
		ai.Source = model.SourceAI
		return o.settle(ai)
	}

	return o.settle(merge(rule, ai))
}

// Fallback classifies in with the rule stage alone, reported with source
// fallback.
func (o *Orchestrator) Fallback(ctx context.Context, in model.ClassificationInput) model.ClassificationResult {
	rule := o.ruleResult(ctx, in)
	rule.Source = model.SourceFallback
	return o.settle(rule)
}

func (o *Orchestrator) ruleResult(ctx context.Context, in model.ClassificationInput) model.ClassificationResult {
	rule, ok := o.rule.Classify(ctx, in)
	if !ok {
		// Custom rule sets without a catch-all can miss.
		rule = model.ClassificationResult{
			CategoryName: "雑費",
			Confidence:   0,
			IsBusiness:   true,
			Reasoning:    "no rule matched",
		}
	}
	return rule
}

// classifyAI runs the AI stage. A panic inside it counts as no answer.
func (o *Orchestrator) classifyAI(ctx context.Context, in model.ClassificationInput) (result model.ClassificationResult, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("AI classifier panicked",
				"description", in.Description,
				"panic", r)
			result, ok = model.ClassificationResult{}, false
		}
	}()
	return o.ai.Classify(ctx, in)
}

// merge settles two low-confidence results. The higher confidence wins and an
// exact tie goes to the rule result.
func merge(rule, ai model.ClassificationResult) model.ClassificationResult {
	reasoning := fmt.Sprintf("low confidence from both stages; rule %s (%.2f): %s; ai %s (%.2f): %s",
		rule.CategoryName, rule.Confidence, rule.Reasoning,
		ai.CategoryName, ai.Confidence, ai.Reasoning)

	winner := rule
	winner.Source = model.SourceFallback
	if ai.Confidence > rule.Confidence {
		winner = ai
		winner.Source = model.SourceAI
	}
	winner.Reasoning = reasoning
	return winner
}

func (o *Orchestrator) settle(r model.ClassificationResult) model.ClassificationResult {
	r.Confidence = model.ClampConfidence(r.Confidence)
	r.CategoryID = o.catalog.Resolve(r.CategoryName)
	o.recorder.ObserveClassification(r.Source, r.Confidence)
	return r
}

// ClassifyBatch classifies inputs with bounded parallelism. Results are in
// input order. If ctx is cancelled no results are returned.
func (o *Orchestrator) ClassifyBatch(ctx context.Context, inputs []model.ClassificationInput) ([]model.ClassificationResult, error) {
	return o.ClassifyBatchWithProgress(ctx, inputs, nil)
}

// ClassifyBatchWithProgress is ClassifyBatch with a callback invoked once per
// finished input. The callback may be called concurrently.
func (o *Orchestrator) ClassifyBatchWithProgress(ctx context.Context, inputs []model.ClassificationInput, progress func()) ([]model.ClassificationResult, error) {
	start := time.Now()
	results := make([]model.ClassificationResult, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.Concurrency)

	for i := range inputs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = o.Classify(gctx, inputs[i])
			if progress != nil {
				progress()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	// Classify swallows AI failures, so a cancellation mid-call surfaces here.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o.logger.Debug("classified batch",
		"count", len(inputs),
		"concurrency", o.config.Concurrency,
		"duration", time.Since(start))

	return results, nil
}
