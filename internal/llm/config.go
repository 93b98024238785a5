package llm

import "time"

// Default request parameters.
const (
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 300
	DefaultTimeout     = 15 * time.Second
	DefaultMaxRetries  = 2
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultRateLimit   = 60
	DefaultCacheTTL    = 24 * time.Hour

	defaultOpenAIModel    = "gpt-4o-mini"
	defaultOpenAIBaseURL  = "https://api.openai.com/v1"
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
)

// Config holds configuration for the AI classifier. An empty APIKey builds a
// disabled classifier. Temperature and MaxRetries are pointers so that an
// explicit zero is kept; nil selects the default.
type Config struct {
	Temperature *float64
	MaxRetries  *int // retries after the first attempt
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Timeout     time.Duration
	RetryDelay  time.Duration
	RateLimit   int // requests per minute
	CacheTTL    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.Temperature == nil || *c.Temperature < 0 {
		t := DefaultTemperature
		c.Temperature = &t
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries == nil || *c.MaxRetries < 0 {
		r := DefaultMaxRetries
		c.MaxRetries = &r
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	return c
}
