// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/regalert/internal/classify"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	DB         DBConfig         `mapstructure:"db"`
	Cooldown   CooldownConfig   `mapstructure:"cooldown"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Publisher  PublisherConfig  `mapstructure:"publisher"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Summarizer SummarizerConfig `mapstructure:"summarizer"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Classifier classify.Policy  `mapstructure:"classifier"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles for the invocation endpoint.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// PipelineConfig governs orchestration and dedup behavior.
type PipelineConfig struct {
	Concurrency        int     `mapstructure:"concurrency"`
	UserAgent          string  `mapstructure:"user_agent"`
	DedupWindowDays    int     `mapstructure:"dedup_window_days"`
	URLDedupWindowDays int     `mapstructure:"url_dedup_window_days"`
	AlertsTable        string  `mapstructure:"alerts_table"`
	ScratchTable       string  `mapstructure:"scratch_table"`
	MaxPageBytes       int     `mapstructure:"max_page_bytes"`
	RateLimitRPS       float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst     int     `mapstructure:"rate_limit_burst"`
	BudgetSeconds      int     `mapstructure:"budget_seconds"`
	PublishTopic       string  `mapstructure:"publish_topic"`
}

// HTTPConfig configures fetch retry behavior.
type HTTPConfig struct {
	TimeoutSeconds      int   `mapstructure:"timeout_seconds"`
	MaxRetries          int   `mapstructure:"max_retries"`
	BackoffInitialMs    int   `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs        int   `mapstructure:"backoff_max_ms"`
	FallbackStatusCodes []int `mapstructure:"fallback_status_codes"`
}

// HeadlessConfig configures the chromedp transport for JS-rendered pages.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// RegistryConfig selects where the source catalog is read from.
type RegistryConfig struct {
	// Provider is "file" (YAML catalog) or "postgres" (regulatory_data_sources).
	Provider string `mapstructure:"provider"`
	Path     string `mapstructure:"path"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	// Provider is "postgres" or "memory".
	Provider        string `mapstructure:"provider"`
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifetime string `mapstructure:"max_conn_lifetime"`
	MigrateOnStart  bool   `mapstructure:"migrate_on_start"`
}

// CooldownConfig selects the cooldown backend.
type CooldownConfig struct {
	// Provider is "postgres", "redis" or "memory".
	Provider string `mapstructure:"provider"`
}

// RedisConfig configures the Redis cooldown backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// ArchiveConfig selects where raw payload snapshots are written.
type ArchiveConfig struct {
	// Provider is "gcs", "local", "memory" or "none".
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	BaseDir   string `mapstructure:"base_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PublisherConfig selects the downstream fan-out for inserted alerts.
type PublisherConfig struct {
	// Provider is "pubsub", "nats", "memory" or "none".
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
	NATSURL   string `mapstructure:"nats_url"`
}

// AlertingConfig holds chat-ops and paging settings.
type AlertingConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	SlackWebhookURL     string `mapstructure:"slack_webhook_url"`
	PagerDutyRoutingKey string `mapstructure:"pagerduty_routing_key"`
	PagerDutyURL        string `mapstructure:"pagerduty_url"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	DegradedAfter       int    `mapstructure:"degraded_after"`
	UnhealthyAfter      int    `mapstructure:"unhealthy_after"`
	// StaleAfterPolls warns when a source has gone this many poll intervals
	// without a successful fetch. Zero disables the check.
	StaleAfterPolls int `mapstructure:"stale_after_polls"`
}

// SummarizerConfig configures the optional summary enrichment call.
type SummarizerConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxChars       int    `mapstructure:"max_chars"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REGALERT")
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
	cfg.Classifier = cfg.Classifier.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.user_agent", "regalert-bot/1.0")
	v.SetDefault("pipeline.dedup_window_days", 7)
	v.SetDefault("pipeline.url_dedup_window_days", 30)
	v.SetDefault("pipeline.alerts_table", "alerts")
	v.SetDefault("pipeline.scratch_table", "alerts_test_runs")
	v.SetDefault("pipeline.max_page_bytes", 10*1024*1024)
	v.SetDefault("pipeline.rate_limit_rps", 2)
	v.SetDefault("pipeline.rate_limit_burst", 1)
	v.SetDefault("pipeline.budget_seconds", 240)
	v.SetDefault("pipeline.publish_topic", "regulatory-alerts")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 1000)
	v.SetDefault("http.backoff_max_ms", 30000)
	v.SetDefault("http.fallback_status_codes", []int{500, 502, 503, 504})
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("registry.provider", "file")
	v.SetDefault("registry.path", "configs/sources.yaml")
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.migrate_on_start", false)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("cooldown.provider", "memory")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "regalert:")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.base_dir", "")
	v.SetDefault("publisher.project_id", "")
	v.SetDefault("publisher.topic_name", "")
	v.SetDefault("publisher.nats_url", "")
	v.SetDefault("alerting.slack_webhook_url", "")
	v.SetDefault("alerting.pagerduty_routing_key", "")
	v.SetDefault("summarizer.endpoint", "")
	v.SetDefault("summarizer.api_key", "")
	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("publisher.provider", "none")
	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.pagerduty_url", "https://events.pagerduty.com/v2/enqueue")
	v.SetDefault("alerting.timeout_seconds", 10)
	v.SetDefault("alerting.degraded_after", 1)
	v.SetDefault("alerting.unhealthy_after", 3)
	v.SetDefault("alerting.stale_after_polls", 3)
	v.SetDefault("summarizer.timeout_seconds", 15)
	v.SetDefault("summarizer.max_chars", 280)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")

	policy := classify.DefaultPolicy()
	v.SetDefault("classifier.urgent_keyword_weight", policy.UrgentKeywordWeight)
	v.SetDefault("classifier.source_keyword_weight", policy.SourceKeywordWeight)
	v.SetDefault("classifier.recent_bonus", policy.RecentBonus)
	v.SetDefault("classifier.fresh_bonus", policy.FreshBonus)
	v.SetDefault("classifier.critical_threshold", policy.CriticalThreshold)
	v.SetDefault("classifier.high_threshold", policy.HighThreshold)
	v.SetDefault("classifier.medium_threshold", policy.MediumThreshold)
	v.SetDefault("classifier.summary_max_chars", policy.SummaryMaxChars)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be > 0")
	}
	if c.Pipeline.DedupWindowDays <= 0 {
		return fmt.Errorf("pipeline.dedup_window_days must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries <= 0 {
		return fmt.Errorf("http.max_retries must be > 0")
	}
	for _, code := range c.HTTP.FallbackStatusCodes {
		if code == 400 || code == 404 {
			return fmt.Errorf("http.fallback_status_codes must not include %d", code)
		}
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.DB.Provider == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when db.provider is postgres")
	}
	if c.Registry.Provider == "file" && c.Registry.Path == "" {
		return fmt.Errorf("registry.path must be set when registry.provider is file")
	}
	if c.Alerting.UnhealthyAfter > 0 && c.Alerting.UnhealthyAfter < c.Alerting.DegradedAfter {
		return fmt.Errorf("alerting.unhealthy_after must be >= alerting.degraded_after")
	}
	if c.Alerting.StaleAfterPolls < 0 {
		return fmt.Errorf("alerting.stale_after_polls must be >= 0")
	}
	if err := c.Classifier.Validate(); err != nil {
		return fmt.Errorf("classifier: %w", err)
	}
	return nil
}

// FetchTimeout is the default per-request timeout when a source sets none.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// InvocationBudget bounds the wall clock of one pipeline invocation.
func (c Config) InvocationBudget() time.Duration {
	if c.Pipeline.BudgetSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Pipeline.BudgetSeconds) * time.Second
}

// DedupWindow is the default (title, source) dedup window.
func (c Config) DedupWindow() time.Duration {
	return time.Duration(c.Pipeline.DedupWindowDays) * 24 * time.Hour
}

// URLDedupWindow is the widened window used for externalUrl matching.
func (c Config) URLDedupWindow() time.Duration {
	return time.Duration(c.Pipeline.URLDedupWindowDays) * 24 * time.Hour
}

// ConnLifetime parses MaxConnLifetime; invalid or empty values mean no limit.
func (c DBConfig) ConnLifetime() time.Duration {
	d, err := time.ParseDuration(c.MaxConnLifetime)
	if err != nil {
		return 0
	}
	return d
}
