package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the market views service configuration.
type Config struct {
	// Redis
	RedisURL      string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	ConsumerGroup string `env:"CONSUMER_GROUP" envDefault:"marketviews"`
	ConsumerName  string `env:"CONSUMER_NAME"`
	StreamKey     string `env:"STREAM_KEY" envDefault:"books:events"`

	// Aggregator definitions
	AggregatorsFile string `env:"AGGREGATORS_FILE" envDefault:"aggregators.yaml"`
	BarTimerSpec    string `env:"BAR_TIMER_SPEC" envDefault:"@every 1s"`

	// Performance (parsed as seconds / milliseconds)
	ProductTTLSec int `env:"PRODUCT_TTL_SEC" envDefault:"300"`
	CallTimeoutMs int `env:"CALL_TIMEOUT_MS" envDefault:"2000"`

	// Computed durations (not from env)
	ProductTTL  time.Duration `env:"-"`
	CallTimeout time.Duration `env:"-"`

	// Observability
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPPort int    `env:"HTTP_PORT" envDefault:"8080"`
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{}
	opts := env.Options{
		Prefix: "",
	}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	cfg.ProductTTL = time.Duration(cfg.ProductTTLSec) * time.Second
	cfg.CallTimeout = time.Duration(cfg.CallTimeoutMs) * time.Millisecond

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.StreamKey == "" {
		return fmt.Errorf("stream key must be set")
	}

	if c.AggregatorsFile == "" {
		return fmt.Errorf("aggregators file must be set")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	if c.ProductTTL < time.Second {
		return fmt.Errorf("product TTL must be at least 1 second")
	}

	if c.CallTimeout < time.Millisecond {
		return fmt.Errorf("call timeout must be at least 1 millisecond")
	}

	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	return nil
}
