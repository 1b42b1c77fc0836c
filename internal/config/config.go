package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Archive    ArchiveConfig    `yaml:"archive" mapstructure:"archive"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" mapstructure:"checkpoint"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Notify     NotifyConfig     `yaml:"notify" mapstructure:"notify"`
	Geocode    GeocodeConfig    `yaml:"geocode" mapstructure:"geocode"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// NotionConfig holds Notion API credentials and the CRM database.
type NotionConfig struct {
	Token              string               `yaml:"token" mapstructure:"token"`
	DatabaseID         string               `yaml:"database_id" mapstructure:"database_id"`
	RateLimit          float64              `yaml:"rate_limit" mapstructure:"rate_limit"`
	RequestTimeoutSecs int                  `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	Properties         NotionPropertyConfig `yaml:"properties" mapstructure:"properties"`
}

// RequestTimeout returns the per-request timeout.
func (c NotionConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// NotionPropertyConfig lists the candidate property names read into a
// contact. Empty lists fall back to the built-in names.
type NotionPropertyConfig struct {
	Title   []string `yaml:"title" mapstructure:"title"`
	Phone   []string `yaml:"phone" mapstructure:"phone"`
	Address []string `yaml:"address" mapstructure:"address"`
	Email   []string `yaml:"email" mapstructure:"email"`
}

// FetchConfig configures contact pagination.
type FetchConfig struct {
	PageSize int `yaml:"page_size" mapstructure:"page_size"`
}

// ArchiveConfig configures batched archival.
type ArchiveConfig struct {
	BatchSize       int `yaml:"batch_size" mapstructure:"batch_size"`
	BatchIntervalMs int `yaml:"batch_interval_ms" mapstructure:"batch_interval_ms"`
	Concurrency     int `yaml:"concurrency" mapstructure:"concurrency"`
	MaxMinutes      int `yaml:"max_minutes" mapstructure:"max_minutes"` // 0 means no limit
}

// MaxDuration returns the time limit for a dedup run, or 0 for none.
func (c ArchiveConfig) MaxDuration() time.Duration {
	return time.Duration(c.MaxMinutes) * time.Minute
}

// BatchInterval returns the pause between archive batches.
func (c ArchiveConfig) BatchInterval() time.Duration {
	return time.Duration(c.BatchIntervalMs) * time.Millisecond
}

// RetryConfig configures the retry policy shared by fetch and archive.
type RetryConfig struct {
	MaxAttempts        int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs   int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs       int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	RateLimitBackoffMs int     `yaml:"rate_limit_backoff_ms" mapstructure:"rate_limit_backoff_ms"` // minimum wait after a 429
	Multiplier         float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction     float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CheckpointConfig configures where fetch progress is kept.
type CheckpointConfig struct {
	Driver         string `yaml:"driver" mapstructure:"driver"` // "file" or "sqlite"
	Path           string `yaml:"path" mapstructure:"path"`
	ClearOnSuccess bool   `yaml:"clear_on_success" mapstructure:"clear_on_success"`
}

// StoreConfig configures the run history backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite", "postgres" or "none"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"` // postgres only
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// NotifyConfig configures progress notifications.
type NotifyConfig struct {
	TelegramToken  string `yaml:"telegram_token" mapstructure:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id" mapstructure:"telegram_chat_id"`
	WebhookURL     string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// GeocodeConfig configures contact address geocoding.
type GeocodeConfig struct {
	GoogleAPIKey string  `yaml:"google_api_key" mapstructure:"google_api_key"`
	CachePath    string  `yaml:"cache_path" mapstructure:"cache_path"`
	Concurrency  int     `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimit    float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	CacheTTLDays int     `yaml:"cache_ttl_days" mapstructure:"cache_ttl_days"`
	Region       string  `yaml:"region" mapstructure:"region"` // ccTLD bias, e.g. "ua"
}

// GoogleConfig configures the Google Contacts sync.
type GoogleConfig struct {
	ClientID     string  `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string  `yaml:"client_secret" mapstructure:"client_secret"`
	RefreshToken string  `yaml:"refresh_token" mapstructure:"refresh_token"`
	TokenPath    string  `yaml:"token_path" mapstructure:"token_path"` // sync token file for checkpoint.driver file
	PageSize     int     `yaml:"page_size" mapstructure:"page_size"`
	RateLimit    float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the settings required to run the dedup pipeline and
// reports every problem at once.
func (c *Config) Validate() error {
	var errs []string
	if c.Notion.Token == "" {
		errs = append(errs, "notion.token is required (CRM_NOTION_TOKEN)")
	}
	if c.Notion.DatabaseID == "" {
		errs = append(errs, "notion.database_id is required (CRM_NOTION_DATABASE_ID)")
	}
	if c.Archive.BatchSize < 1 {
		errs = append(errs, "archive.batch_size must be >= 1")
	}
	if c.Archive.Concurrency < 1 || c.Archive.Concurrency > 20 {
		errs = append(errs, "archive.concurrency must be between 1 and 20")
	}
	if c.Archive.MaxMinutes < 0 {
		errs = append(errs, "archive.max_minutes must be >= 0")
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry.max_attempts must be >= 1")
	}
	switch c.Checkpoint.Driver {
	case "file", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("checkpoint.driver %q must be file or sqlite", c.Checkpoint.Driver))
	}
	switch c.Store.Driver {
	case "none", "":
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for store.driver "+c.Store.Driver)
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite, postgres or none", c.Store.Driver))
	}
	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateGoogle checks the settings the contact sync needs on top of
// Validate.
func (c *Config) ValidateGoogle() error {
	var errs []string
	if c.Google.ClientID == "" {
		errs = append(errs, "google.client_id is required (CRM_GOOGLE_CLIENT_ID)")
	}
	if c.Google.ClientSecret == "" {
		errs = append(errs, "google.client_secret is required (CRM_GOOGLE_CLIENT_SECRET)")
	}
	if c.Google.RefreshToken == "" {
		errs = append(errs, "google.refresh_token is required (CRM_GOOGLE_REFRESH_TOKEN)")
	}
	if c.Google.PageSize < 1 || c.Google.PageSize > 1000 {
		errs = append(errs, "google.page_size must be between 1 and 1000")
	}
	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CRM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Secrets get empty defaults so AutomaticEnv picks them up.
	v.SetDefault("notion.token", "")
	v.SetDefault("notion.database_id", "")
	v.SetDefault("notion.rate_limit", 3.0)
	v.SetDefault("notion.request_timeout_secs", 30)
	v.SetDefault("fetch.page_size", 100)
	v.SetDefault("archive.batch_size", 10)
	v.SetDefault("archive.batch_interval_ms", 1000)
	v.SetDefault("archive.concurrency", 3)
	v.SetDefault("archive.max_minutes", 0)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.initial_backoff_ms", 2000)
	v.SetDefault("retry.max_backoff_ms", 60000)
	v.SetDefault("retry.rate_limit_backoff_ms", 5000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("checkpoint.driver", "file")
	v.SetDefault("checkpoint.path", ".crm-dedup/checkpoint.json")
	v.SetDefault("checkpoint.clear_on_success", false)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", ".crm-dedup/runs.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("notify.telegram_token", "")
	v.SetDefault("notify.telegram_chat_id", "")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("geocode.google_api_key", "")
	v.SetDefault("geocode.cache_path", ".crm-dedup/geocode.db")
	v.SetDefault("geocode.concurrency", 5)
	v.SetDefault("geocode.rate_limit", 10.0)
	v.SetDefault("geocode.cache_ttl_days", 90)
	v.SetDefault("geocode.region", "ua")
	v.SetDefault("google.client_id", "")
	v.SetDefault("google.client_secret", "")
	v.SetDefault("google.refresh_token", "")
	v.SetDefault("google.token_path", ".crm-dedup/sync_token.json")
	v.SetDefault("google.page_size", 1000)
	v.SetDefault("google.rate_limit", 1.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
