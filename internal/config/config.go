package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/the-books-must-balance/internal/common"
)

// Config is the fully resolved application configuration.
type Config struct {
	Logging        LoggingConfig
	Database       DatabaseConfig
	Catalog        CatalogConfig
	LLM            LLMConfig
	Classification ClassificationConfig
	Server         ServerConfig
	Auth           AuthConfig
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string
	Format string
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string
}

// CatalogConfig optionally replaces the embedded taxonomy.
type CatalogConfig struct {
	TaxonomyPath string
}

// LLMConfig configures the AI classifier. An empty APIKey disables it.
type LLMConfig struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int // retries after the first attempt
	RetryDelay  time.Duration
	RateLimit   int
	CacheTTL    time.Duration
}

// ClassificationConfig tunes batch classification.
type ClassificationConfig struct {
	RulesPath   string // optional YAML rules tried before the built-in ones
	Concurrency int
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxUploadMB  int64
	TLS          bool
	CertDir      string
	TLSHosts     []string
}

// AuthConfig maps bearer tokens to user ids.
type AuthConfig struct {
	Tokens map[string]string
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("database.path", "$HOME/.local/share/books/books.db")
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 300)
	v.SetDefault("llm.timeout", 15*time.Second)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.retry_delay", 500*time.Millisecond)
	v.SetDefault("llm.rate_limit", 60)
	v.SetDefault("llm.cache_ttl", 24*time.Hour)
	v.SetDefault("classification.concurrency", 4)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 2*time.Minute)
	v.SetDefault("server.max_upload_mb", 10)
	v.SetDefault("server.cert_dir", "$HOME/.local/share/books/tls")
}

// Load resolves configuration from v. Values come from the config file or
// BOOKS_ environment variables first, then provider-specific environment
// variables for the API key, then defaults.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	cfg := Config{
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Database: DatabaseConfig{
			Path: ExpandPath(v.GetString("database.path")),
		},
		Catalog: CatalogConfig{
			TaxonomyPath: ExpandPath(v.GetString("catalog.taxonomy_path")),
		},
		LLM: LLMConfig{
			Provider:    strings.ToLower(v.GetString("llm.provider")),
			APIKey:      v.GetString("llm.api_key"),
			BaseURL:     v.GetString("llm.base_url"),
			Model:       v.GetString("llm.model"),
			Temperature: v.GetFloat64("llm.temperature"),
			MaxTokens:   v.GetInt("llm.max_tokens"),
			Timeout:     v.GetDuration("llm.timeout"),
			MaxRetries:  v.GetInt("llm.max_retries"),
			RetryDelay:  v.GetDuration("llm.retry_delay"),
			RateLimit:   v.GetInt("llm.rate_limit"),
			CacheTTL:    v.GetDuration("llm.cache_ttl"),
		},
		Classification: ClassificationConfig{
			RulesPath:   ExpandPath(v.GetString("classification.rules_path")),
			Concurrency: v.GetInt("classification.concurrency"),
		},
		Server: ServerConfig{
			Address:      v.GetString("server.address"),
			ReadTimeout:  v.GetDuration("server.read_timeout"),
			WriteTimeout: v.GetDuration("server.write_timeout"),
			MaxUploadMB:  v.GetInt64("server.max_upload_mb"),
			TLS:          v.GetBool("server.tls"),
			CertDir:      ExpandPath(v.GetString("server.cert_dir")),
			TLSHosts:     v.GetStringSlice("server.tls_hosts"),
		},
		Auth: AuthConfig{
			Tokens: v.GetStringMapString("auth.tokens"),
		},
	}

	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the application cannot run with.
func (c Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("%w: unsupported LLM provider %q", common.ErrInvalidConfig, c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("%w: llm.temperature must be within [0,2]", common.ErrInvalidConfig)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("%w: llm.max_retries must not be negative", common.ErrInvalidConfig)
	}
	if c.Classification.Concurrency < 1 {
		return fmt.Errorf("%w: classification.concurrency must be at least 1", common.ErrInvalidConfig)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path", common.ErrMissingConfig)
	}
	return nil
}
