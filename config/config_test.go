package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitcoach-ai/fitcoach/config"
	"github.com/fitcoach-ai/fitcoach/ratelimit"
	"github.com/fitcoach-ai/fitcoach/router"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FITCOACH_CONFIG_FILE", "")
	t.Setenv("FITCOACH_ENV", "")
	t.Setenv("FITCOACH_MONGO_URI", "")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoURI)
	assert.Equal(t, "fitcoach", cfg.MongoDatabase)
	assert.Equal(t, "entry-media", cfg.MediaBucket)
	assert.Equal(t, "gpt-4o-mini", cfg.FastModel)
	assert.Nil(t, cfg.Routes())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FITCOACH_CONFIG_FILE", "")
	t.Setenv("FITCOACH_ENV", "production")
	t.Setenv("FITCOACH_MONGO_DB", "fitcoach_prod")
	t.Setenv("FITCOACH_MINIO_USE_SSL", "true")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, "fitcoach_prod", cfg.MongoDatabase)
	assert.True(t, cfg.MinioUseSSL)
}

func TestLoadBadBool(t *testing.T) {
	t.Setenv("FITCOACH_MINIO_USE_SSL", "maybe")
	_, err := config.Load()
	assert.Error(t, err)
}

func TestYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
routing:
  real_time_chat:
    primary: {provider: accurate, model: claude-3-5-sonnet-latest}
    fallback: {provider: fast, model: gpt-4o-mini}
    max_tokens: 2048
    temperature: 0.5
rate_limits:
  coach_chat:
    max: 50
    window: 12h
`), 0o600))
	t.Setenv("FITCOACH_CONFIG_FILE", path)
	t.Setenv("FITCOACH_MINIO_USE_SSL", "")

	cfg, err := config.Load()
	require.NoError(t, err)

	routes := cfg.Routes()
	require.Contains(t, routes, router.TaskRealTimeChat)
	route := routes[router.TaskRealTimeChat]
	assert.Equal(t, router.ProviderAccurate, route.Primary.Provider)
	assert.Equal(t, "claude-3-5-sonnet-latest", route.Primary.Model)
	assert.Equal(t, 2048, route.MaxTokens)
	assert.InDelta(t, 0.5, route.Temperature, 1e-9)

	chat := cfg.Policy(ratelimit.PolicyCoachChat)
	assert.Equal(t, 50, chat.Max)
	assert.Equal(t, 12*time.Hour, chat.Window)

	// Policies without overrides pass through untouched.
	assert.Equal(t, ratelimit.PolicyQuickEntry, cfg.Policy(ratelimit.PolicyQuickEntry))
}

func TestYAMLBadWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rate_limits:\n  coach_chat: {max: 5, window: fortnight}\n"), 0o600))
	t.Setenv("FITCOACH_CONFIG_FILE", path)
	t.Setenv("FITCOACH_MINIO_USE_SSL", "")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestValidateProviders(t *testing.T) {
	t.Setenv("FITCOACH_CONFIG_FILE", "")
	t.Setenv("FITCOACH_MINIO_USE_SSL", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Error(t, cfg.ValidateProviders())

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	cfg, err = config.Load()
	require.NoError(t, err)
	assert.NoError(t, cfg.ValidateProviders())
}
