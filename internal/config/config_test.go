package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 2, cfg.Crawler.MaxDepth)
	require.Equal(t, "chromedp", cfg.Crawler.Renderer)
	require.Equal(t, 5, cfg.Selector.MaxPages)
	require.Equal(t, 360000, cfg.Prompt.MaxChars)
	require.Equal(t, "https://api.v0.dev/v1", cfg.Remote.BaseURL)
	require.Equal(t, 120*time.Second, cfg.ChatTimeout())
	require.Equal(t, 1500*time.Millisecond, cfg.ChatPollInterval())
	require.Equal(t, 3, cfg.HTTP.MaxAttempts)
	require.Equal(t, 300*time.Millisecond, cfg.BackoffBase())
	require.Equal(t, "local", cfg.Storage.Backend)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
crawler:
  max_depth: 1
  concurrency: 6
  renderer: colly
  respect_robots: true
selector:
  max_pages: 8
  keywords: ["menu", "speisekarte"]
prompt:
  max_chars: 1000
  refine: false
storage:
  backend: gcs
  gcs_bucket: bucket
  prefix: runs
remote:
  skip: true
  alias_enabled: true
http:
  timeout_seconds: 45
  max_attempts: 5
  backoff_base_ms: 100
logging:
  development: false
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.Equal(t, 1, cfg.Crawler.MaxDepth)
	require.Equal(t, "colly", cfg.Crawler.Renderer)
	require.True(t, cfg.Crawler.RespectRobots)
	require.Equal(t, []string{"menu", "speisekarte"}, cfg.Selector.Keywords)
	require.False(t, cfg.Prompt.Refine)
	require.Equal(t, "gcs", cfg.Storage.Backend)
	require.True(t, cfg.Remote.Skip)
	require.Equal(t, 45*time.Second, cfg.HTTPTimeout())
	require.False(t, cfg.Logging.Development)
}

func TestLoadEnvOverridesAndAliases(t *testing.T) {
	t.Setenv("REBUILDER_CRAWLER_MAX_DEPTH", "3")
	t.Setenv("V0_API_KEY", "v0-secret")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("PORT", "7070")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Crawler.MaxDepth)
	require.Equal(t, "v0-secret", cfg.Remote.APIKey)
	require.Equal(t, "sk-test", cfg.LLM.APIKey)
	require.Equal(t, 7070, cfg.Server.Port)
}

func TestPrefixedEnvWinsOverAlias(t *testing.T) {
	t.Setenv("REBUILDER_REMOTE_API_KEY", "primary")
	t.Setenv("V0_API_KEY", "legacy")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "primary", cfg.Remote.APIKey)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(*Config){
		"renderer":      func(c *Config) { c.Crawler.Renderer = "lynx" },
		"concurrency":   func(c *Config) { c.Crawler.Concurrency = 0 },
		"max pages":     func(c *Config) { c.Selector.MaxPages = 11 },
		"gcs bucket":    func(c *Config) { c.Storage.Backend = "gcs" },
		"backend":       func(c *Config) { c.Storage.Backend = "s3" },
		"provider":      func(c *Config) { c.LLM.Provider = "markov" },
		"attempts":      func(c *Config) { c.HTTP.MaxAttempts = 0 },
		"pubsub pair":   func(c *Config) { c.PubSub.ProjectID = "p" },
		"auth key":      func(c *Config) { c.Auth.Enabled = true },
		"prompt budget": func(c *Config) { c.Prompt.MaxChars = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
