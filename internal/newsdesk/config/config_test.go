package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scraper.OverfetchMultiplier != 2 || cfg.Scraper.MinContentLength != 200 {
		t.Errorf("unexpected scraper defaults: %+v", cfg.Scraper)
	}
	if len(cfg.Sources) == 0 {
		t.Fatal("expected default sources")
	}
	if cfg.Sources[0].Domain == "" {
		t.Error("expected validation to derive the domain")
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "newsdesk.yaml")
	content := `
database:
  dsn: /tmp/news.db
scraper:
  source_concurrency: 2
  extract_concurrency: 6
  overfetch_multiplier: 1.5
  timeout: 20s
  user_agent: TestBot/1.0
  min_content_length: 120
sources:
  - name: example
    feed_url: https://www.example.com/rss
    respect_robots: true
    delay: 2s
schedule:
  interval: 30m
  articles_per_source: 4
log:
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NEWSDESK_EXTRACT_CONCURRENCY", "9")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.DSN != "/tmp/news.db" {
		t.Errorf("unexpected dsn %q", cfg.Database.DSN)
	}
	if cfg.Scraper.SourceConcurrency != 2 || cfg.Scraper.ExtractConcurrency != 9 || cfg.Scraper.OverfetchMultiplier != 1.5 {
		t.Errorf("unexpected pipeline config: %+v", cfg.Scraper.Config)
	}
	if cfg.Scraper.Timeout != 20*time.Second || cfg.Scraper.UserAgent != "TestBot/1.0" {
		t.Errorf("unexpected fetch options: %+v", cfg.Scraper.FetchOptions)
	}
	if cfg.Scraper.RetryCount != 2 {
		t.Errorf("expected unset fields to keep defaults, got retry_count=%d", cfg.Scraper.RetryCount)
	}
	if len(cfg.Sources) != 1 || cfg.Sources[0].Delay != 2*time.Second || !cfg.Sources[0].RespectRobots {
		t.Fatalf("unexpected sources: %+v", cfg.Sources)
	}
	if cfg.Sources[0].Domain != "example.com" {
		t.Errorf("expected derived domain, got %q", cfg.Sources[0].Domain)
	}
	if cfg.Schedule.Interval != 30*time.Minute {
		t.Errorf("unexpected interval %s", cfg.Schedule.Interval)
	}
	if got := cfg.ScheduledSources(); len(got) != 1 || got[0] != "example" {
		t.Errorf("expected all configured sources to be scheduled, got %v", got)
	}
	if cfg.ExtractOptions().MinContentLength != 120 {
		t.Error("extract options not derived")
	}

	r, err := cfg.Registry()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.Get("EXAMPLE"); !ok {
		t.Error("expected source in registry")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sources = append(cfg.Sources, cfg.Sources[0])
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("expected duplicate source error, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.Scraper.OverfetchMultiplier = 0.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for multiplier below 1")
	}

	cfg = DefaultConfig()
	cfg.Scraper.ExtractConcurrency = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative concurrency")
	}
}

func TestLogConfig_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info should be filtered at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"k":"v"`) {
		t.Errorf("expected json output, got %q", out)
	}
}
