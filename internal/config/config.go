package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/finpulse/alert-engine/internal/adapters"
	"github.com/finpulse/alert-engine/internal/calendar"
)

type HTTP struct {
	Addr string `yaml:"addr"`
}

type Provider struct {
	BaseURL        string `yaml:"base_url"`
	APIKeyEnv      string `yaml:"api_key_env"` // env var holding the key, never the key itself
	RatePerSecond  int    `yaml:"rate_per_second"`
	ChunkSize      int    `yaml:"chunk_size"`
	PacingMs       int    `yaml:"pacing_ms"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type Redis struct {
	Addr     string `yaml:"addr"` // empty disables the last-good cache
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTLHours int    `yaml:"ttl_hours"`
}

type Mongo struct {
	URI        string `yaml:"uri"` // empty falls back to the in-memory store
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type Notifier struct {
	WebhookURL           string `yaml:"webhook_url"` // empty logs instead of posting
	QueueSize            int    `yaml:"queue_size"`
	DedupeWindowSeconds  int    `yaml:"dedupe_window_seconds"`
	MaxRetries           int    `yaml:"max_retries"`
	BackoffBaseMs        int    `yaml:"backoff_base_ms"`
	TimeoutSeconds       int    `yaml:"timeout_seconds"`
}

type Scheduler struct {
	IntervalSeconds int  `yaml:"interval_seconds"`
	RunWhenClosed   bool `yaml:"run_when_closed"`
}

type Root struct {
	HTTP      HTTP                                    `yaml:"http"`
	Provider  Provider                                `yaml:"provider"`
	Redis     Redis                                   `yaml:"redis"`
	Mongo     Mongo                                   `yaml:"mongo"`
	Notifier  Notifier                                `yaml:"notifier"`
	Scheduler Scheduler                               `yaml:"scheduler"`
	Markets   map[calendar.Market]calendar.MarketConfig `yaml:"markets"`
	Fallback  []adapters.FallbackQuote                `yaml:"fallback_quotes"`
}

// APIKey resolves the provider API key from the configured environment
// variable. Empty is legal; fetches then fail with CredentialsMissing.
func (p Provider) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse %s: %w", path, err)
	}
	applyDefaults(&c)
	return c, nil
}

// Default returns the configuration used when no file is given.
func Default() Root {
	var c Root
	applyDefaults(&c)
	return c
}

func applyDefaults(c *Root) {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}

	if c.Provider.APIKeyEnv == "" {
		c.Provider.APIKeyEnv = "QUOTE_API_KEY"
	}
	if c.Provider.RatePerSecond == 0 {
		c.Provider.RatePerSecond = 20
	}
	if c.Provider.ChunkSize == 0 {
		c.Provider.ChunkSize = 10
	}
	if c.Provider.PacingMs == 0 {
		c.Provider.PacingMs = 150
	}
	if c.Provider.TimeoutSeconds == 0 {
		c.Provider.TimeoutSeconds = 5
	}

	if c.Redis.TTLHours == 0 {
		c.Redis.TTLHours = 24
	}

	if c.Mongo.Database == "" {
		c.Mongo.Database = "finpulse"
	}
	if c.Mongo.Collection == "" {
		c.Mongo.Collection = "price_alerts"
	}

	if c.Notifier.QueueSize == 0 {
		c.Notifier.QueueSize = 1000
	}
	if c.Notifier.DedupeWindowSeconds == 0 {
		c.Notifier.DedupeWindowSeconds = 60
	}
	if c.Notifier.MaxRetries == 0 {
		c.Notifier.MaxRetries = 3
	}
	if c.Notifier.BackoffBaseMs == 0 {
		c.Notifier.BackoffBaseMs = 500
	}
	if c.Notifier.TimeoutSeconds == 0 {
		c.Notifier.TimeoutSeconds = 10
	}

	if c.Scheduler.IntervalSeconds == 0 {
		c.Scheduler.IntervalSeconds = 30
	}

	if len(c.Markets) == 0 {
		c.Markets = calendar.DefaultMarkets()
	}
}
