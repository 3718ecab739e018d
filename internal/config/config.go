// Package config loads and validates archiver configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config captures every knob of a run.
type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Assets  AssetsConfig  `mapstructure:"assets"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// CatalogConfig addresses the remote catalog API.
type CatalogConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	Token             string  `mapstructure:"token"`
	UserAgent         string  `mapstructure:"user_agent"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// CrawlConfig holds the run mode switches.
type CrawlConfig struct {
	PageSize     int64 `mapstructure:"page_size"`
	ChunkSize    int64 `mapstructure:"chunk_size"`
	New          bool  `mapstructure:"new"`
	Known        bool  `mapstructure:"known"`
	Reset        bool  `mapstructure:"reset"`
	SkipSearch   bool  `mapstructure:"skip_search"`
	SkipBackfill bool  `mapstructure:"skip_backfill"`
}

// AssetsConfig controls the thumbnail pass. An empty Dir disables it.
type AssetsConfig struct {
	// Dir is a local directory or a gs://bucket/prefix target.
	Dir               string  `mapstructure:"dir"`
	Workers           int     `mapstructure:"workers"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	Force             bool    `mapstructure:"force"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	Verbose     bool `mapstructure:"verbose"`
}

// MetricsConfig enables the HTTP metrics endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// NotifyConfig enables Pub/Sub discovery notifications when both fields are set.
type NotifyConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// TracingConfig enables OpenTelemetry spans around catalog requests.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// ProjectID exports spans to Cloud Trace; empty keeps them in process.
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// flagKeys maps CLI flag names onto configuration keys.
var flagKeys = map[string]string{
	"verbose":       "logging.verbose",
	"database":      "store.path",
	"driver":        "store.driver",
	"dsn":           "store.dsn",
	"size":          "crawl.page_size",
	"new":           "crawl.new",
	"known":         "crawl.known",
	"reset":         "crawl.reset",
	"skip-search":   "crawl.skip_search",
	"skip-backfill": "crawl.skip_backfill",
	"assets":        "assets.dir",
	"force":         "assets.force",
	"workers":       "assets.workers",
	"metrics-addr":  "metrics.addr",
}

// Load builds a Config from defaults, an optional file, ARCHIVER_* env vars
// and finally any flags in flags that were set explicitly.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "archive.db")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("catalog.base_url", "https://factory.robocraftgame.com")
	v.SetDefault("catalog.token", "")
	v.SetDefault("catalog.user_agent", "catalog-archiver/0.1")
	v.SetDefault("catalog.timeout_seconds", 30)
	v.SetDefault("catalog.requests_per_second", 0)
	v.SetDefault("catalog.burst", 1)
	v.SetDefault("crawl.page_size", 0)
	v.SetDefault("crawl.chunk_size", 100)
	v.SetDefault("crawl.new", false)
	v.SetDefault("crawl.known", false)
	v.SetDefault("crawl.reset", false)
	v.SetDefault("crawl.skip_search", false)
	v.SetDefault("crawl.skip_backfill", false)
	v.SetDefault("assets.dir", "")
	v.SetDefault("assets.workers", 0)
	v.SetDefault("assets.timeout_seconds", 60)
	v.SetDefault("assets.force", false)
	v.SetDefault("assets.requests_per_second", 0)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.verbose", false)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.project_id", "")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and mutually exclusive modes.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Store.Path) == "" {
			return errors.New("store.path is required for the sqlite driver")
		}
	case "postgres":
		if strings.TrimSpace(c.Store.DSN) == "" {
			return errors.New("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}
	if strings.TrimSpace(c.Catalog.BaseURL) == "" {
		return errors.New("catalog.base_url is required")
	}
	if c.Catalog.TimeoutSeconds <= 0 {
		return errors.New("catalog.timeout_seconds must be > 0")
	}
	if c.Crawl.PageSize < 0 {
		return errors.New("crawl.page_size must be >= 0")
	}
	if c.Crawl.ChunkSize <= 0 {
		return errors.New("crawl.chunk_size must be > 0")
	}
	if c.Crawl.New && c.Crawl.Known {
		return errors.New("crawl.new and crawl.known are mutually exclusive")
	}
	if c.Assets.Force && c.Assets.Dir == "" {
		return errors.New("assets.force requires assets.dir")
	}
	if c.Assets.Workers < 0 {
		return errors.New("assets.workers must be >= 0")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return errors.New("tracing.sample_ratio must be within [0, 1]")
	}
	if (c.Notify.ProjectID == "") != (c.Notify.Topic == "") {
		return errors.New("notify.project_id and notify.topic must be set together")
	}
	return nil
}

// CatalogTimeout converts the catalog timeout into a duration.
func (c Config) CatalogTimeout() time.Duration {
	return time.Duration(c.Catalog.TimeoutSeconds) * time.Second
}

// AssetTimeout converts the per-download timeout into a duration.
func (c Config) AssetTimeout() time.Duration {
	return time.Duration(c.Assets.TimeoutSeconds) * time.Second
}

// NotifyEnabled reports whether discovery notifications are configured.
func (c Config) NotifyEnabled() bool {
	return c.Notify.ProjectID != "" && c.Notify.Topic != ""
}
