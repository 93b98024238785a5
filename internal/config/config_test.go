package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/common"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Empty(t, cfg.LLM.APIKey)
	assert.InDelta(t, 0.1, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, 300, cfg.LLM.MaxTokens)
	assert.Equal(t, 15*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 2, cfg.LLM.MaxRetries)
	assert.Equal(t, 4, cfg.Classification.Concurrency)
	assert.NotContains(t, cfg.Database.Path, "$HOME")
	assert.False(t, cfg.Server.TLS)
	assert.NotContains(t, cfg.Server.CertDir, "$HOME")
}

func TestLoad_ZeroTemperatureAndRetriesAreKept(t *testing.T) {
	v := viper.New()
	v.Set("llm.temperature", 0.0)
	v.Set("llm.max_retries", 0)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Zero(t, cfg.LLM.Temperature)
	assert.Zero(t, cfg.LLM.MaxRetries)
}

func TestLoad_TLS(t *testing.T) {
	v := viper.New()
	v.Set("server.tls", true)
	v.Set("server.cert_dir", "/srv/books/tls")
	v.Set("server.tls_hosts", []string{"books.internal"})

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.True(t, cfg.Server.TLS)
	assert.Equal(t, "/srv/books/tls", cfg.Server.CertDir)
	assert.Equal(t, []string{"books.internal"}, cfg.Server.TLSHosts)
}

func TestLoad_APIKeyFromProviderEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")

	v := viper.New()
	v.Set("llm.provider", "Anthropic")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "sk-ant-test", cfg.LLM.APIKey)
}

func TestLoad_ExplicitKeyWins(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "from-env")

	v := viper.New()
	v.Set("llm.api_key", "from-config")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "from-config", cfg.LLM.APIKey)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
	}{
		{"unknown provider", "llm.provider", "mystery"},
		{"zero concurrency", "classification.concurrency", 0},
		{"temperature too high", "llm.temperature", 3.5},
		{"negative retries", "llm.max_retries", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set(tt.key, tt.val)
			_, err := Load(v)
			require.ErrorIs(t, err, common.ErrInvalidConfig)
		})
	}
}

func TestLoad_AuthTokens(t *testing.T) {
	v := viper.New()
	v.Set("auth.tokens", map[string]string{"secret-token": "user-1"})

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "user-1", cfg.Auth.Tokens["secret-token"])
}
