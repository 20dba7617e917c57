// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
)

// EnvPrefix namespaces environment overrides, e.g. DOCSYNAPSE_SERVER_PORT.
const EnvPrefix = "DOCSYNAPSE"

// Storage backends.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Browser engines.
const (
	EngineChromedp = "chromedp"
	EngineStatic   = "static"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Language  LanguageConfig  `mapstructure:"language"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Shutdown  ShutdownConfig  `mapstructure:"shutdown"`
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

// CrawlerConfig governs job scheduling and the identity jobs present.
type CrawlerConfig struct {
	UserAgent         string              `mapstructure:"user_agent"`
	ViewportWidth     int                 `mapstructure:"viewport_width"`
	ViewportHeight    int                 `mapstructure:"viewport_height"`
	MaxConcurrentJobs int                 `mapstructure:"max_concurrent_jobs"`
	HostRPS           float64             `mapstructure:"host_rps"`
	HostBurst         int                 `mapstructure:"host_burst"`
	Defaults          crawler.CrawlConfig `mapstructure:"defaults"`
}

// BrowserConfig selects and tunes the rendering engine.
type BrowserConfig struct {
	Engine   string `mapstructure:"engine"`
	Headless bool   `mapstructure:"headless"`
	ExecPath string `mapstructure:"exec_path"`
	SettleMS int    `mapstructure:"settle_ms"`
}

// ProcessorConfig controls document generation.
type ProcessorConfig struct {
	OutputDir           string  `mapstructure:"output_dir"`
	FilePrefix          string  `mapstructure:"file_prefix"`
	DetectLanguage      bool    `mapstructure:"detect_language"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
}

// LanguageConfig holds the translated-path denylist used during discovery.
type LanguageConfig struct {
	ExcludeSegments []string         `mapstructure:"exclude_segments"`
	DomainOverrides []DomainOverride `mapstructure:"domain_overrides"`
}

// DomainOverride adds denied segments for one host. Hosts are listed rather
// than keyed because viper splits map keys on dots.
type DomainOverride struct {
	Domain   string   `mapstructure:"domain"`
	Segments []string `mapstructure:"segments"`
}

// Overrides returns the per-domain denylist keyed by host.
func (l LanguageConfig) Overrides() map[string][]string {
	out := make(map[string][]string, len(l.DomainOverrides))
	for _, o := range l.DomainOverrides {
		out[o.Domain] = append(out[o.Domain], o.Segments...)
	}
	return out
}

// NotifyConfig tunes observer delivery.
type NotifyConfig struct {
	HeartbeatSeconds   int `mapstructure:"heartbeat_seconds"`
	SendTimeoutSeconds int `mapstructure:"send_timeout_seconds"`
}

// StorageConfig selects where generated documents live.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for lifecycle event publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// RedisConfig points the lifecycle event sink at a Redis server.
type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Channel string `mapstructure:"channel"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig toggles tracing.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// ShutdownConfig bounds graceful shutdown.
type ShutdownConfig struct {
	GraceSeconds int `mapstructure:"grace_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := crawler.DefaultCrawlConfig()

	v.SetDefault("server.port", 8000)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("crawler.user_agent", "DocSynapse/1.0 (+https://github.com/docsynapse/docsynapse)")
	v.SetDefault("crawler.viewport_width", 1920)
	v.SetDefault("crawler.viewport_height", 1080)
	v.SetDefault("crawler.max_concurrent_jobs", 5)
	v.SetDefault("crawler.host_rps", 0)
	v.SetDefault("crawler.host_burst", 1)
	v.SetDefault("crawler.defaults.max_pages", defaults.MaxPages)
	v.SetDefault("crawler.defaults.max_depth", defaults.MaxDepth)
	v.SetDefault("crawler.defaults.include_patterns", []string{})
	v.SetDefault("crawler.defaults.exclude_patterns", []string{})
	v.SetDefault("crawler.defaults.respect_robots_txt", defaults.RespectRobots)
	v.SetDefault("crawler.defaults.delay_between_requests", defaults.DelayBetweenRequests)
	v.SetDefault("crawler.defaults.timeout", defaults.Timeout)
	v.SetDefault("crawler.defaults.follow_external_links", defaults.FollowExternalLinks)
	v.SetDefault("browser.engine", EngineChromedp)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.settle_ms", 500)
	v.SetDefault("processor.output_dir", "./output")
	v.SetDefault("processor.file_prefix", "docsynapse")
	v.SetDefault("processor.detect_language", false)
	v.SetDefault("processor.similarity_threshold", 0.8)
	v.SetDefault("language.exclude_segments", crawler.DefaultLanguageSegments)
	v.SetDefault("notify.heartbeat_seconds", 30)
	v.SetDefault("notify.send_timeout_seconds", 5)
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "docs")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.channel", "docsynapse.events")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "docsynapse")
	v.SetDefault("shutdown.grace_seconds", 2)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawler.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("crawler.max_concurrent_jobs must be > 0")
	}
	if c.Crawler.ViewportWidth <= 0 || c.Crawler.ViewportHeight <= 0 {
		return fmt.Errorf("crawler.viewport_width and crawler.viewport_height must be > 0")
	}
	if c.Crawler.HostRPS < 0 {
		return fmt.Errorf("crawler.host_rps must be >= 0")
	}
	if err := c.Crawler.Defaults.Validate(); err != nil {
		return fmt.Errorf("crawler.defaults: %w", err)
	}
	switch c.Browser.Engine {
	case EngineChromedp, EngineStatic:
	default:
		return fmt.Errorf("browser.engine must be %q or %q", EngineChromedp, EngineStatic)
	}
	if c.Processor.SimilarityThreshold <= 0 || c.Processor.SimilarityThreshold > 1 {
		return fmt.Errorf("processor.similarity_threshold must be in (0, 1]")
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if c.Processor.OutputDir == "" {
			return fmt.Errorf("processor.output_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend must be one of %q, %q, %q", BackendLocal, BackendGCS, BackendMemory)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	if c.Notify.HeartbeatSeconds <= 0 {
		return fmt.Errorf("notify.heartbeat_seconds must be > 0")
	}
	if c.Notify.SendTimeoutSeconds <= 0 {
		return fmt.Errorf("notify.send_timeout_seconds must be > 0")
	}
	return nil
}

// Viewport returns the emulated window size for browsing contexts.
func (c Config) Viewport() crawler.Viewport {
	return crawler.Viewport{Width: c.Crawler.ViewportWidth, Height: c.Crawler.ViewportHeight}
}

// HeartbeatInterval converts notify.heartbeat_seconds.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Notify.HeartbeatSeconds) * time.Second
}

// SendTimeout converts notify.send_timeout_seconds.
func (c Config) SendTimeout() time.Duration {
	return time.Duration(c.Notify.SendTimeoutSeconds) * time.Second
}

// SettleDelay converts browser.settle_ms.
func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Browser.SettleMS) * time.Millisecond
}

// ShutdownGrace converts shutdown.grace_seconds.
func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Shutdown.GraceSeconds) * time.Second
}

// RequestTimeout converts server.request_timeout_seconds.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}
