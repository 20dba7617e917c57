package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Fatalf("expected default port 8000, got %d", cfg.Server.Port)
	}
	if cfg.Crawler.Defaults.MaxPages != 1000 || cfg.Crawler.Defaults.MaxDepth != 10 {
		t.Fatalf("unexpected crawl defaults: %+v", cfg.Crawler.Defaults)
	}
	if !cfg.Crawler.Defaults.RespectRobots || cfg.Crawler.Defaults.Timeout != 30 {
		t.Fatalf("unexpected crawl defaults: %+v", cfg.Crawler.Defaults)
	}
	if cfg.Browser.Engine != EngineChromedp || !cfg.Browser.Headless {
		t.Fatalf("unexpected browser defaults: %+v", cfg.Browser)
	}
	if cfg.Storage.Backend != BackendLocal || cfg.Processor.OutputDir != "./output" {
		t.Fatalf("unexpected storage defaults: %+v %+v", cfg.Storage, cfg.Processor)
	}
	if got := cfg.HeartbeatInterval(); got != 30*time.Second {
		t.Fatalf("expected heartbeat 30s, got %v", got)
	}
	if got := cfg.ShutdownGrace(); got != 2*time.Second {
		t.Fatalf("expected grace 2s, got %v", got)
	}
	if len(cfg.Language.ExcludeSegments) != len(crawler.DefaultLanguageSegments) {
		t.Fatalf("expected default language denylist, got %v", cfg.Language.ExcludeSegments)
	}
	if cfg.Redis.Channel != "docsynapse.events" {
		t.Fatalf("expected default redis channel, got %q", cfg.Redis.Channel)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
crawler:
  user_agent: docs-bot
  max_concurrent_jobs: 2
  host_rps: 1.5
  defaults:
    max_pages: 50
    max_depth: 3
    respect_robots_txt: false
    delay_between_requests: 0.5
    timeout: 20
    exclude_patterns: ["/blog/"]
browser:
  engine: static
  settle_ms: 250
processor:
  output_dir: /tmp/docs
  detect_language: true
  similarity_threshold: 0.9
language:
  exclude_segments: ["fr", "de"]
  domain_overrides:
    - domain: docs.example.com
      segments: ["legacy"]
notify:
  heartbeat_seconds: 10
  send_timeout_seconds: 2
storage:
  backend: gcs
  bucket: docs-bucket
  prefix: generated
pubsub:
  project_id: proj
  topic: crawl-events
redis:
  url: redis://localhost:6379/0
logging:
  development: false
  level: debug
shutdown:
  grace_seconds: 5
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Crawler.MaxConcurrentJobs != 2 || cfg.Crawler.HostRPS != 1.5 {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	d := cfg.Crawler.Defaults
	if d.MaxPages != 50 || d.MaxDepth != 3 || d.RespectRobots || d.Timeout != 20 {
		t.Fatalf("expected crawl default overrides: %+v", d)
	}
	if len(d.ExcludePatterns) != 1 || d.ExcludePatterns[0] != "/blog/" {
		t.Fatalf("expected exclude patterns to load: %v", d.ExcludePatterns)
	}
	if cfg.Browser.Engine != EngineStatic || cfg.SettleDelay() != 250*time.Millisecond {
		t.Fatalf("expected browser overrides: %+v", cfg.Browser)
	}
	if !cfg.Processor.DetectLanguage || cfg.Processor.SimilarityThreshold != 0.9 {
		t.Fatalf("expected processor overrides: %+v", cfg.Processor)
	}
	if got := cfg.Language.Overrides()["docs.example.com"]; len(got) != 1 || got[0] != "legacy" {
		t.Fatalf("expected domain override to load: %v", cfg.Language.DomainOverrides)
	}
	if cfg.Storage.Backend != BackendGCS || cfg.Storage.Bucket != "docs-bucket" {
		t.Fatalf("expected storage overrides: %+v", cfg.Storage)
	}
	if cfg.PubSub.Topic != "crawl-events" || cfg.Redis.URL == "" {
		t.Fatalf("expected sink settings: %+v %+v", cfg.PubSub, cfg.Redis)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Development {
		t.Fatalf("expected logging overrides: %+v", cfg.Logging)
	}
	if got := cfg.SendTimeout(); got != 2*time.Second {
		t.Fatalf("expected send timeout 2s, got %v", got)
	}
	if got := cfg.Viewport(); got.Width != 1920 || got.Height != 1080 {
		t.Fatalf("expected default viewport, got %+v", got)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("DOCSYNAPSE_SERVER_PORT", "7070")
	t.Setenv("DOCSYNAPSE_BROWSER_ENGINE", "static")
	t.Setenv("DOCSYNAPSE_CRAWLER_DEFAULTS_MAX_PAGES", "25")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Browser.Engine != EngineStatic {
		t.Fatalf("expected static engine, got %q", cfg.Browser.Engine)
	}
	if cfg.Crawler.Defaults.MaxPages != 25 {
		t.Fatalf("expected max pages 25, got %d", cfg.Crawler.Defaults.MaxPages)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "no job slots", mutate: func(c *Config) { c.Crawler.MaxConcurrentJobs = 0 }, want: "crawler.max_concurrent_jobs"},
		{name: "bad viewport", mutate: func(c *Config) { c.Crawler.ViewportWidth = 0 }, want: "crawler.viewport_width"},
		{name: "negative rps", mutate: func(c *Config) { c.Crawler.HostRPS = -1 }, want: "crawler.host_rps"},
		{name: "bad crawl default", mutate: func(c *Config) { c.Crawler.Defaults.MaxPages = 0 }, want: "crawler.defaults"},
		{name: "unknown engine", mutate: func(c *Config) { c.Browser.Engine = "webkit" }, want: "browser.engine"},
		{name: "bad threshold", mutate: func(c *Config) { c.Processor.SimilarityThreshold = 1.5 }, want: "processor.similarity_threshold"},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "s3" }, want: "storage.backend"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = BackendGCS }, want: "storage.bucket"},
		{name: "half pubsub", mutate: func(c *Config) { c.PubSub.ProjectID = "proj" }, want: "pubsub.project_id"},
		{name: "no heartbeat", mutate: func(c *Config) { c.Notify.HeartbeatSeconds = 0 }, want: "notify.heartbeat_seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Crawler.Defaults = base.Crawler.Defaults.Clone()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestConfigValidateWrapsCrawlConfigError(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg.Crawler.Defaults.Timeout = 1
	if err := cfg.Validate(); !errors.Is(err, crawler.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
