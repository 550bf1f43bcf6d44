// Package config loads service configuration from the environment, with an
// optional YAML override file for the routing table and rate-limit policies.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fitcoach-ai/fitcoach/ratelimit"
	"github.com/fitcoach-ai/fitcoach/router"
)

type (
	// Config is the service configuration.
	Config struct {
		// Env names the deployment environment (development, production).
		Env string
		// HTTPAddr is the health/debug listen address.
		HTTPAddr string

		MongoURI      string
		MongoDatabase string

		RedisAddr     string
		RedisPassword string

		MinioEndpoint  string
		MinioAccessKey string
		MinioSecretKey string
		MinioUseSSL    bool
		MediaBaseURL   string
		MediaBucket    string

		OpenAIKey    string
		AnthropicKey string
		AWSRegion    string

		FastModel            string
		AccurateModel        string
		FastLongContextModel string

		overrides overrides
	}

	overrides struct {
		Routing    map[string]routeOverride `yaml:"routing"`
		RateLimits map[string]limitOverride `yaml:"rate_limits"`
	}

	routeOverride struct {
		Primary     modelRef `yaml:"primary"`
		Fallback    modelRef `yaml:"fallback"`
		MaxTokens   int      `yaml:"max_tokens"`
		Temperature float64  `yaml:"temperature"`
	}

	modelRef struct {
		Provider string `yaml:"provider"`
		Model    string `yaml:"model"`
	}

	limitOverride struct {
		Max    int    `yaml:"max"`
		Window string `yaml:"window"`
	}
)

// Load reads a .env file when present, then the environment, then the YAML
// override file named by FITCOACH_CONFIG_FILE when set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:                  envOr("FITCOACH_ENV", "development"),
		HTTPAddr:             envOr("FITCOACH_HTTP_ADDR", ":8080"),
		MongoURI:             envOr("FITCOACH_MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:        envOr("FITCOACH_MONGO_DB", "fitcoach"),
		RedisAddr:            envOr("FITCOACH_REDIS_ADDR", "localhost:6379"),
		RedisPassword:        os.Getenv("FITCOACH_REDIS_PASSWORD"),
		MinioEndpoint:        os.Getenv("FITCOACH_MINIO_ENDPOINT"),
		MinioAccessKey:       os.Getenv("FITCOACH_MINIO_ACCESS_KEY"),
		MinioSecretKey:       os.Getenv("FITCOACH_MINIO_SECRET_KEY"),
		MediaBaseURL:         os.Getenv("FITCOACH_MEDIA_BASE_URL"),
		MediaBucket:          envOr("FITCOACH_MEDIA_BUCKET", "entry-media"),
		OpenAIKey:            os.Getenv("OPENAI_API_KEY"),
		AnthropicKey:         os.Getenv("ANTHROPIC_API_KEY"),
		AWSRegion:            envOr("AWS_REGION", "us-east-1"),
		FastModel:            envOr("FITCOACH_FAST_MODEL", "gpt-4o-mini"),
		AccurateModel:        envOr("FITCOACH_ACCURATE_MODEL", "claude-3-5-sonnet-latest"),
		FastLongContextModel: os.Getenv("FITCOACH_FAST_LONG_CONTEXT_MODEL"),
	}
	if v := os.Getenv("FITCOACH_MINIO_USE_SSL"); v != "" {
		ssl, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("config: parse FITCOACH_MINIO_USE_SSL: %w", err)
		}
		cfg.MinioUseSSL = ssl
	}

	if path := os.Getenv("FITCOACH_CONFIG_FILE"); path != "" {
		if err := cfg.loadOverrides(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *Config) loadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read override file: %w", err)
	}
	if err := yaml.Unmarshal(data, &c.overrides); err != nil {
		return fmt.Errorf("config: parse override file %s: %w", path, err)
	}
	for name, o := range c.overrides.RateLimits {
		if _, err := time.ParseDuration(o.Window); o.Window != "" && err != nil {
			return fmt.Errorf("config: rate limit %q window: %w", name, err)
		}
	}
	return nil
}

// Routes returns the routing table overrides keyed by task type.
func (c *Config) Routes() map[router.TaskType]router.Route {
	if len(c.overrides.Routing) == 0 {
		return nil
	}
	out := make(map[router.TaskType]router.Route, len(c.overrides.Routing))
	for task, o := range c.overrides.Routing {
		out[router.TaskType(task)] = router.Route{
			Primary:     router.ModelRef{Provider: router.Provider(o.Primary.Provider), Model: o.Primary.Model},
			Fallback:    router.ModelRef{Provider: router.Provider(o.Fallback.Provider), Model: o.Fallback.Model},
			MaxTokens:   o.MaxTokens,
			Temperature: o.Temperature,
		}
	}
	return out
}

// Policy returns the named endpoint policy with any override applied.
func (c *Config) Policy(base ratelimit.Policy) ratelimit.Policy {
	o, ok := c.overrides.RateLimits[base.Prefix]
	if !ok {
		return base
	}
	if o.Max > 0 {
		base.Max = o.Max
	}
	if o.Window != "" {
		if w, err := time.ParseDuration(o.Window); err == nil {
			base.Window = w
		}
	}
	return base
}

// ValidateProviders checks that the AI provider credentials are present.
// Split out of Load so tooling that never calls a provider can still load.
func (c *Config) ValidateProviders() error {
	if c.OpenAIKey == "" {
		return fmt.Errorf("config: OPENAI_API_KEY is required")
	}
	if c.AnthropicKey == "" {
		return fmt.Errorf("config: ANTHROPIC_API_KEY is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
