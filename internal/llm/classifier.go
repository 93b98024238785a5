package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/Veraticus/the-books-must-balance/internal/catalog"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Outcome labels reported to a Recorder.
const (
	OutcomeSuccess      = "success"
	OutcomeCacheHit     = "cache_hit"
	OutcomeNoCredential = "no_credential"
	OutcomeTransport    = "transport_error"
	OutcomeMalformed    = "malformed"
	OutcomeMissingField = "missing_field"
)

// Recorder observes AI requests.
type Recorder interface {
	ObserveAIRequest(provider, outcome string, duration time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) ObserveAIRequest(string, string, time.Duration) {}

// Classifier asks a language model to pick a category. A Classifier built
// without an API key is disabled and never contacts a provider.
type Classifier struct {
	client    Client
	cache     *resultCache
	limiter   *rate.Limiter
	logger    *slog.Logger
	recorder  Recorder
	system    string
	retryOpts common.RetryOptions
	timeout   time.Duration
}

// NewClassifier creates the AI classifier for cfg. A missing API key is not an
// error: the classifier is returned in disabled mode.
func NewClassifier(cfg Config, cat *catalog.Catalog, logger *slog.Logger) (*Classifier, error) {
	cfg = cfg.withDefaults()
	c := newBaseClassifier(cfg, cat, logger)

	if cfg.APIKey == "" {
		c.logger.Debug("no AI credential configured, AI classification disabled", "provider", cfg.Provider)
		return c, nil
	}

	client, err := NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return c.withClient(client, cfg), nil
}

// NewClassifierWithClient wraps an existing provider client.
func NewClassifierWithClient(client Client, cfg Config, cat *catalog.Catalog, logger *slog.Logger) *Classifier {
	cfg = cfg.withDefaults()
	return newBaseClassifier(cfg, cat, logger).withClient(client, cfg)
}

func newBaseClassifier(cfg Config, cat *catalog.Catalog, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	if cat == nil {
		cat = catalog.Default()
	}
	return &Classifier{
		logger:   logger,
		recorder: noopRecorder{},
		system:   BuildSystemPrompt(cat),
		timeout:  cfg.Timeout,
		retryOpts: common.RetryOptions{
			MaxAttempts:  *cfg.MaxRetries + 1,
			InitialDelay: cfg.RetryDelay,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
		},
	}
}

func (c *Classifier) withClient(client Client, cfg Config) *Classifier {
	c.client = client
	c.cache = newResultCache(cfg.CacheTTL)
	c.limiter = newRateLimiter(cfg.RateLimit)
	return c
}

// WithRecorder attaches a request recorder.
func (c *Classifier) WithRecorder(r Recorder) *Classifier {
	if r != nil {
		c.recorder = r
	}
	return c
}

// Enabled reports whether a provider is configured.
func (c *Classifier) Enabled() bool {
	return c.client != nil
}

// Close releases background resources.
func (c *Classifier) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
}

// Classify implements the classify.Classifier capability. Every failure is
// logged and reported as ok=false.
func (c *Classifier) Classify(ctx context.Context, in model.ClassificationInput) (model.ClassificationResult, bool) {
	result, err := c.analyzeRecovering(ctx, in)
	if err == nil {
		return result, true
	}

	var re *ReplyError
	switch {
	case errors.Is(err, common.ErrNoCredential):
		// Disabled mode is silent.
	case errors.As(err, &re):
		c.logger.Warn("AI reply rejected",
			"kind", re.Kind.String(),
			"field", re.Field,
			"description", in.Description,
			"error", err)
	default:
		c.logger.Warn("AI classification failed",
			"description", in.Description,
			"error", err)
	}
	return model.ClassificationResult{}, false
}

func (c *Classifier) analyzeRecovering(ctx context.Context, in model.ClassificationInput) (result model.ClassificationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = model.ClassificationResult{}, fmt.Errorf("%w: panic: %v", common.ErrClassificationFailed, r)
		}
	}()
	return c.Analyze(ctx, in)
}

// Analyze classifies in and returns typed failures: common.ErrNoCredential,
// *ReplyError, *StatusError or a transport error.
func (c *Classifier) Analyze(ctx context.Context, in model.ClassificationInput) (model.ClassificationResult, error) {
	if c.client == nil {
		c.recorder.ObserveAIRequest("", OutcomeNoCredential, 0)
		return model.ClassificationResult{}, common.ErrNoCredential
	}

	start := time.Now()
	provider := c.client.Provider()

	body, err := BuildPayload(in)
	if err != nil {
		return model.ClassificationResult{}, err
	}

	key := cacheKey(c.system, body)
	if cached, ok := c.cache.get(key); ok {
		c.logger.Debug("cache hit for AI classification", "description", in.Description)
		c.recorder.ObserveAIRequest(provider, OutcomeCacheHit, time.Since(start))
		return cached, nil
	}

	var result model.ClassificationResult
	err = common.WithRetry(ctx, func() error {
		if err := waitForToken(ctx, c.limiter); err != nil {
			return &common.RetryableError{Err: err, Retryable: false}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		content, err := c.client.Complete(callCtx, Request{System: c.system, User: string(body)})
		if err != nil {
			return &common.RetryableError{Err: err, Retryable: isTemporary(err) && ctx.Err() == nil}
		}

		result, err = ParseReply(content)
		if err != nil {
			return &common.RetryableError{Err: err, Retryable: false}
		}
		return nil
	}, c.retryOpts)

	if err != nil {
		c.recorder.ObserveAIRequest(provider, outcomeFor(err), time.Since(start))
		return model.ClassificationResult{}, err
	}

	c.cache.set(key, result)
	c.recorder.ObserveAIRequest(provider, OutcomeSuccess, time.Since(start))
	return result, nil
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrMissingField):
		return OutcomeMissingField
	case errors.Is(err, ErrMalformedReply):
		return OutcomeMalformed
	default:
		return OutcomeTransport
	}
}
