package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
upstream:
  base_url: https://forum.example.com
db:
  dsn: postgres://localhost/crawler
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "https://forum.example.com", cfg.Upstream.BaseURL)
	require.Equal(t, 15, cfg.Upstream.TimeoutSeconds)
	require.Equal(t, 20, cfg.Crawler.Concurrency)
	require.Equal(t, 1, cfg.Crawler.ListingRetrySeconds)
	require.Equal(t, int32(10), cfg.DB.MaxConns)
	require.Equal(t, 8080, cfg.Server.Port)
	require.False(t, cfg.Logging.Development)
}

func TestLoadTrimsBaseURLSlash(t *testing.T) {
	path := writeConfigFile(t, `
upstream:
  base_url: https://forum.example.com/
db:
  dsn: postgres://localhost/crawler
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://forum.example.com", cfg.Upstream.BaseURL)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
upstream:
  base_url: https://forum.example.com
  timeout_seconds: 30
  requests_per_second: 2.5
crawler:
  concurrency: 4
  listing_retry_seconds: 5
db:
  dsn: postgres://localhost/crawler
  max_conns: 3
server:
  port: 9090
logging:
  development: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 30, cfg.Upstream.TimeoutSeconds)
	require.Equal(t, 2.5, cfg.Upstream.RequestsPerSecond)
	require.Equal(t, 4, cfg.Crawler.Concurrency)
	require.Equal(t, 5, cfg.Crawler.ListingRetrySeconds)
	require.Equal(t, int32(3), cfg.DB.MaxConns)
	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Logging.Development)
	require.Equal(t, 30*time.Second, cfg.HTTPTimeout())
	require.Equal(t, 5*time.Second, cfg.ListingRetryDelay())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("FLARUM_CRAWLER_UPSTREAM_BASE_URL", "https://env.example.com")
	t.Setenv("FLARUM_CRAWLER_DB_DSN", "postgres://env/crawler")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "https://env.example.com", cfg.Upstream.BaseURL)
	require.Equal(t, "postgres://env/crawler", cfg.DB.DSN)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	valid := func() Config {
		return Config{
			Upstream: UpstreamConfig{BaseURL: "https://forum.example.com", TimeoutSeconds: 15},
			Crawler:  CrawlerConfig{Concurrency: 20, ListingRetrySeconds: 1},
			DB:       DBConfig{DSN: "postgres://localhost/crawler", MaxConns: 10},
			Server:   ServerConfig{Port: 8080},
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"missing base url":   func(c *Config) { c.Upstream.BaseURL = "" },
		"zero timeout":       func(c *Config) { c.Upstream.TimeoutSeconds = 0 },
		"zero concurrency":   func(c *Config) { c.Crawler.Concurrency = 0 },
		"zero listing retry": func(c *Config) { c.Crawler.ListingRetrySeconds = 0 },
		"missing dsn":        func(c *Config) { c.DB.DSN = "" },
		"non-positive port":  func(c *Config) { c.Server.Port = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
