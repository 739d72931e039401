// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs for a crawl invocation.
type Config struct {
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	DB       DBConfig       `mapstructure:"db"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// UpstreamConfig describes the forum API being crawled.
type UpstreamConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// CrawlerConfig governs worker pool and pipeline behavior.
type CrawlerConfig struct {
	Concurrency         int `mapstructure:"concurrency"`
	ListingRetrySeconds int `mapstructure:"listing_retry_seconds"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ServerConfig controls the read-only query service.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from defaults, an optional YAML file, and the
// FLARUM_CRAWLER_* environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FLARUM_CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Upstream.BaseURL = strings.TrimRight(cfg.Upstream.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Empty-string defaults register the keys so environment overrides
	// reach Unmarshal.
	v.SetDefault("upstream.base_url", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("upstream.timeout_seconds", 15)
	v.SetDefault("upstream.requests_per_second", 0)
	v.SetDefault("crawler.concurrency", 20)
	v.SetDefault("crawler.listing_retry_seconds", 1)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		return fmt.Errorf("upstream.timeout_seconds must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.ListingRetrySeconds <= 0 {
		return fmt.Errorf("crawler.listing_retry_seconds must be > 0")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// HTTPTimeout converts the upstream timeout knob into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}

// ListingRetryDelay is the pause between listing-page retries in full mode.
func (c Config) ListingRetryDelay() time.Duration {
	return time.Duration(c.Crawler.ListingRetrySeconds) * time.Second
}
