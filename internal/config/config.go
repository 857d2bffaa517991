// Package config loads and validates rebuild configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. REBUILDER_CRAWLER_MAX_DEPTH.
const EnvPrefix = "REBUILDER"

// MaxSelectedPages is the hard ceiling on pages handed to the prompt stage.
const MaxSelectedPages = 10

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Selector SelectorConfig `mapstructure:"selector"`
	Prompt   PromptConfig   `mapstructure:"prompt"`
	Output   OutputConfig   `mapstructure:"output"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs site traversal and rendering.
type CrawlerConfig struct {
	MaxDepth          int     `mapstructure:"max_depth"`
	MaxPages          int     `mapstructure:"max_pages"`
	Concurrency       int     `mapstructure:"concurrency"`
	UserAgent         string  `mapstructure:"user_agent"`
	Renderer          string  `mapstructure:"renderer"`
	RespectRobots     bool    `mapstructure:"respect_robots"`
	NavTimeoutSeconds int     `mapstructure:"nav_timeout_seconds"`
	DomainQPS         float64 `mapstructure:"domain_qps"`
	MaxPageBytes      int     `mapstructure:"max_page_bytes"`
	Screenshots       bool    `mapstructure:"screenshots"`
}

// SelectorConfig controls page selection.
type SelectorConfig struct {
	MaxPages int      `mapstructure:"max_pages"`
	Keywords []string `mapstructure:"keywords"`
}

// PromptConfig controls prompt assembly and refinement.
type PromptConfig struct {
	MaxChars        int  `mapstructure:"max_chars"`
	Refine          bool `mapstructure:"refine"`
	DeveloperPrompt bool `mapstructure:"developer_prompt"`
}

// OutputConfig locates local artifacts.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// StorageConfig selects the artifact backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the optional run history database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// LLMConfig selects the text generation backend.
type LLMConfig struct {
	Provider       string `mapstructure:"provider"`
	Model          string `mapstructure:"model"`
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// RemoteConfig points at the site generation platform.
type RemoteConfig struct {
	BaseURL              string `mapstructure:"base_url"`
	APIKey               string `mapstructure:"api_key"`
	Skip                 bool   `mapstructure:"skip"`
	ChatTimeoutSeconds   int    `mapstructure:"chat_timeout_seconds"`
	ChatPollIntervalMs   int    `mapstructure:"chat_poll_interval_ms"`
	DeployTimeoutSeconds int    `mapstructure:"deploy_timeout_seconds"`
	DeployPollIntervalMs int    `mapstructure:"deploy_poll_interval_ms"`
	AliasEnabled         bool   `mapstructure:"alias_enabled"`
	AliasDomain          string `mapstructure:"alias_domain"`
}

// HTTPConfig configures the resilient HTTP client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxAttempts    int `mapstructure:"max_attempts"`
	BackoffBaseMs  int `mapstructure:"backoff_base_ms"`
}

// WebhookConfig configures the completion callback.
type WebhookConfig struct {
	URL string `mapstructure:"url"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features and the rotating file sink.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

// envAliases maps config keys to the bare environment variables older deployments set.
var envAliases = map[string][]string{
	"remote.api_key":  {"V0_API_KEY", "VERCEL_API_KEY"},
	"remote.base_url": {"V0_API_BASE"},
	"llm.api_key":     {"GEMINI_API_KEY", "OPENAI_API_KEY"},
	"server.port":     {"PORT"},
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindAliases(v); err != nil {
		return Config{}, err
	}

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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func bindAliases(v *viper.Viper) error {
	for key, aliases := range envAliases {
		names := append([]string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, aliases...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 1800)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")

	v.SetDefault("crawler.max_depth", 2)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.user_agent", "site-rebuilder/0.1")
	v.SetDefault("crawler.renderer", "chromedp")
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.nav_timeout_seconds", 30)
	v.SetDefault("crawler.domain_qps", 2.0)
	v.SetDefault("crawler.max_page_bytes", 5*1024*1024)
	v.SetDefault("crawler.screenshots", true)

	v.SetDefault("selector.max_pages", 5)
	v.SetDefault("selector.keywords", []string{})

	v.SetDefault("prompt.max_chars", 360000)
	v.SetDefault("prompt.refine", true)
	v.SetDefault("prompt.developer_prompt", true)

	v.SetDefault("output.dir", "output")

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "rebuild_runs")
	v.SetDefault("db.max_conns", 4)

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.timeout_seconds", 300)

	v.SetDefault("remote.base_url", "https://api.v0.dev/v1")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.skip", false)
	v.SetDefault("remote.chat_timeout_seconds", 120)
	v.SetDefault("remote.chat_poll_interval_ms", 1500)
	v.SetDefault("remote.deploy_timeout_seconds", 180)
	v.SetDefault("remote.deploy_poll_interval_ms", 2000)
	v.SetDefault("remote.alias_enabled", false)
	v.SetDefault("remote.alias_domain", "vercel.app")

	v.SetDefault("http.timeout_seconds", 60)
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.backoff_base_ms", 300)

	v.SetDefault("webhook.url", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 14)
	v.SetDefault("logging.compress", false)
}

// Validate enforces required values and reasonable limits. Credentials are checked where
// they are used, so a crawl-only run needs none.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	switch c.Crawler.Renderer {
	case "chromedp", "colly", "auto":
	default:
		return fmt.Errorf("crawler.renderer must be chromedp, colly or auto, got %q", c.Crawler.Renderer)
	}
	if c.Selector.MaxPages > MaxSelectedPages {
		return fmt.Errorf("selector.max_pages must be <= %d", MaxSelectedPages)
	}
	if c.Prompt.MaxChars <= 0 {
		return fmt.Errorf("prompt.max_chars must be > 0")
	}
	switch c.Storage.Backend {
	case "local", "memory":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend must be local, memory or gcs, got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "local" && strings.TrimSpace(c.Output.Dir) == "" {
		return fmt.Errorf("output.dir is required for local storage")
	}
	switch c.LLM.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("llm.provider must be gemini or openai, got %q", c.LLM.Provider)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.Remote.ChatTimeoutSeconds <= 0 || c.Remote.ChatPollIntervalMs <= 0 {
		return fmt.Errorf("remote chat timeout and poll interval must be > 0")
	}
	if c.Remote.DeployTimeoutSeconds <= 0 || c.Remote.DeployPollIntervalMs <= 0 {
		return fmt.Errorf("remote deploy timeout and poll interval must be > 0")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// HTTPTimeout converts http.timeout_seconds.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffBase converts http.backoff_base_ms.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.HTTP.BackoffBaseMs) * time.Millisecond
}

// NavTimeout converts crawler.nav_timeout_seconds.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Crawler.NavTimeoutSeconds) * time.Second
}

// LLMTimeout converts llm.timeout_seconds.
func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// RequestTimeout converts server.request_timeout_seconds.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ChatTimeout bounds waiting for a generated version.
func (c Config) ChatTimeout() time.Duration {
	return time.Duration(c.Remote.ChatTimeoutSeconds) * time.Second
}

// ChatPollInterval converts remote.chat_poll_interval_ms.
func (c Config) ChatPollInterval() time.Duration {
	return time.Duration(c.Remote.ChatPollIntervalMs) * time.Millisecond
}

// DeployTimeout converts remote.deploy_timeout_seconds.
func (c Config) DeployTimeout() time.Duration {
	return time.Duration(c.Remote.DeployTimeoutSeconds) * time.Second
}

// DeployPollInterval converts remote.deploy_poll_interval_ms.
func (c Config) DeployPollInterval() time.Duration {
	return time.Duration(c.Remote.DeployPollIntervalMs) * time.Millisecond
}
