package llm

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// scriptedClient replays a fixed sequence of replies.
type scriptedClient struct {
	replies []scriptedReply
	calls   atomic.Int32
	mu      sync.Mutex
}

type scriptedReply struct {
	err     error
	content string
	delay   time.Duration
}

func (c *scriptedClient) Provider() string { return "scripted" }

func (c *scriptedClient) Complete(ctx context.Context, _ Request) (string, error) {
	n := int(c.calls.Add(1)) - 1

	c.mu.Lock()
	r := c.replies[min(n, len(c.replies)-1)]
	c.mu.Unlock()

	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return r.content, r.err
}

type countingRecorder struct {
	outcomes []string
	mu       sync.Mutex
}

func (r *countingRecorder) ObserveAIRequest(_, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

const goodReply = `{"categoryId":"cat-111","categoryName":"通信費","confidence":0.9,"isBusiness":true,"reasoning":"携帯料金"}`

func ptr[T any](v T) *T { return &v }

func testConfig() Config {
	return Config{Provider: "openai", MaxRetries: ptr(1), RetryDelay: time.Millisecond, Timeout: time.Second, RateLimit: 6000}
}

func testInput() model.ClassificationInput {
	return model.ClassificationInput{Description: "ソフトバンク", Amount: decimal.NewFromInt(5800)}
}

func TestClassifier_Disabled(t *testing.T) {
	c, err := NewClassifier(Config{Provider: "openai"}, nil, common.DiscardLogger())
	require.NoError(t, err)
	assert.False(t, c.Enabled())

	_, err = c.Analyze(context.Background(), testInput())
	require.ErrorIs(t, err, common.ErrNoCredential)

	_, ok := c.Classify(context.Background(), testInput())
	assert.False(t, ok)
}

func TestClassifier_UnsupportedProvider(t *testing.T) {
	_, err := NewClassifier(Config{Provider: "carrier-pigeon", APIKey: "k"}, nil, common.DiscardLogger())
	require.Error(t, err)
}

func TestClassifier_Success(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{{content: goodReply}}}
	rec := &countingRecorder{}
	c := NewClassifierWithClient(client, testConfig(), nil, common.DiscardLogger()).WithRecorder(rec)
	defer c.Close()

	got, ok := c.Classify(context.Background(), testInput())
	require.True(t, ok)
	assert.Equal(t, "通信費", got.CategoryName)
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)
	assert.Equal(t, model.SourceAI, got.Source)

	// Identical payloads are served from the cache.
	again, ok := c.Classify(context.Background(), testInput())
	require.True(t, ok)
	assert.Equal(t, got, again)
	assert.EqualValues(t, 1, client.calls.Load())
	assert.Equal(t, []string{OutcomeSuccess, OutcomeCacheHit}, rec.outcomes)
}

func TestClassifier_RetriesTemporaryFailures(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{
		{err: &StatusError{Provider: "test", StatusCode: http.StatusServiceUnavailable}},
		{content: goodReply},
	}}
	c := NewClassifierWithClient(client, testConfig(), nil, common.DiscardLogger())
	defer c.Close()

	got, err := c.Analyze(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, "通信費", got.CategoryName)
	assert.EqualValues(t, 2, client.calls.Load())
}

func TestClassifier_RetriesAreCapped(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{
		{err: &StatusError{Provider: "test", StatusCode: http.StatusTooManyRequests}},
	}}
	c := NewClassifierWithClient(client, testConfig(), nil, common.DiscardLogger())
	defer c.Close()

	_, err := c.Analyze(context.Background(), testInput())
	require.ErrorIs(t, err, common.ErrMaxRetries)
	var se *StatusError
	assert.True(t, errors.As(err, &se))
	assert.EqualValues(t, 2, client.calls.Load())
}

func TestClassifier_NoRetryOnPermanentFailures(t *testing.T) {
	tests := []struct {
		name  string
		reply scriptedReply
		check func(t *testing.T, err error)
	}{
		{
			name:  "client error",
			reply: scriptedReply{err: &StatusError{Provider: "test", StatusCode: http.StatusUnauthorized}},
			check: func(t *testing.T, err error) {
				var se *StatusError
				require.True(t, errors.As(err, &se))
				assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
			},
		},
		{
			name:  "malformed reply",
			reply: scriptedReply{content: "travel, probably"},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrMalformedReply)
			},
		},
		{
			name:  "missing field",
			reply: scriptedReply{content: `{"categoryName":"通信費"}`},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrMissingField)
				var re *ReplyError
				require.True(t, errors.As(err, &re))
				assert.Equal(t, ReplyMissingField, re.Kind)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &scriptedClient{replies: []scriptedReply{tt.reply}}
			c := NewClassifierWithClient(client, testConfig(), nil, common.DiscardLogger())
			defer c.Close()

			_, err := c.Analyze(context.Background(), testInput())
			require.Error(t, err)
			tt.check(t, err)
			assert.EqualValues(t, 1, client.calls.Load())

			_, ok := c.Classify(context.Background(), testInput())
			assert.False(t, ok)
		})
	}
}

func TestClassifier_PerCallTimeout(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{{content: goodReply, delay: time.Second}}}
	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	cfg.MaxRetries = ptr(0)
	c := NewClassifierWithClient(client, cfg, nil, common.DiscardLogger())
	defer c.Close()

	start := time.Now()
	_, err := c.Analyze(context.Background(), testInput())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestClassifier_ParentCancellationStopsRetries(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{{content: goodReply, delay: time.Second}}}
	c := NewClassifierWithClient(client, testConfig(), nil, common.DiscardLogger())
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Analyze(ctx, testInput())
	require.Error(t, err)
	assert.EqualValues(t, 1, client.calls.Load())
}

type panickingClient struct{}

func (panickingClient) Provider() string { return "panicking" }

func (panickingClient) Complete(context.Context, Request) (string, error) {
	panic("nil map in provider")
}

func TestClassifier_PanicIsReportedAsNoAnswer(t *testing.T) {
	c := NewClassifierWithClient(panickingClient{}, testConfig(), nil, common.DiscardLogger())
	defer c.Close()

	var ok bool
	require.NotPanics(t, func() {
		_, ok = c.Classify(context.Background(), testInput())
	})
	assert.False(t, ok)
}

func TestClassifier_ZeroRetriesMakesOneAttempt(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{
		{err: &StatusError{Provider: "test", StatusCode: http.StatusServiceUnavailable}},
	}}
	cfg := testConfig()
	cfg.MaxRetries = ptr(0)
	c := NewClassifierWithClient(client, cfg, nil, common.DiscardLogger())
	defer c.Close()

	_, err := c.Analyze(context.Background(), testInput())
	require.Error(t, err)
	assert.EqualValues(t, 1, client.calls.Load())
}

func TestConfig_WithDefaults(t *testing.T) {
	got := Config{}.withDefaults()
	require.NotNil(t, got.Temperature)
	require.NotNil(t, got.MaxRetries)
	assert.InDelta(t, DefaultTemperature, *got.Temperature, 1e-9)
	assert.Equal(t, DefaultMaxRetries, *got.MaxRetries)

	explicit := Config{Temperature: ptr(0.0), MaxRetries: ptr(0)}.withDefaults()
	assert.Zero(t, *explicit.Temperature)
	assert.Zero(t, *explicit.MaxRetries)

	negative := Config{Temperature: ptr(-1.0), MaxRetries: ptr(-1)}.withDefaults()
	assert.InDelta(t, DefaultTemperature, *negative.Temperature, 1e-9)
	assert.Equal(t, DefaultMaxRetries, *negative.MaxRetries)
}
