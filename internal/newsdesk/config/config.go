// Package config provides newsdesk application configuration.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/extract"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/pipeline"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/sources"
	appconfig "github.com/RobinCoderZhao/newsdesk/pkg/config"
	"github.com/RobinCoderZhao/newsdesk/pkg/notify"
	"github.com/RobinCoderZhao/newsdesk/pkg/scraper"
	"github.com/RobinCoderZhao/newsdesk/pkg/storage"
)

// Config is the main newsdesk configuration.
type Config struct {
	Database storage.Config   `yaml:"database"`
	Scraper  ScraperConfig    `yaml:"scraper"`
	Sources  []sources.Source `yaml:"sources"`
	API      APIConfig        `yaml:"api"`
	Schedule ScheduleConfig   `yaml:"schedule"`
	Notify   NotifyConfig     `yaml:"notify"`
	Log      LogConfig        `yaml:"log"`
}

// ScraperConfig holds job execution and transport settings.
type ScraperConfig struct {
	pipeline.Config      `yaml:",inline"`
	scraper.FetchOptions `yaml:",inline"`
	MinContentLength     int `yaml:"min_content_length"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Addr string `yaml:"addr" env:"NEWSDESK_ADDR"`
}

// ScheduleConfig describes the job triggered by `serve --every`.
type ScheduleConfig struct {
	Interval          time.Duration `yaml:"interval" env:"NEWSDESK_SCHEDULE_INTERVAL"`
	Sources           []string      `yaml:"sources" env:"NEWSDESK_SCHEDULE_SOURCES"`
	ArticlesPerSource int           `yaml:"articles_per_source" env:"NEWSDESK_SCHEDULE_ARTICLES"`
}

// NotifyConfig holds job-completion notification settings.
type NotifyConfig struct {
	Webhook notify.WebhookConfig `yaml:"webhook"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"NEWSDESK_LOG_LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"NEWSDESK_LOG_FORMAT"` // text, json
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Database: storage.Config{Driver: storage.SQLite, DSN: "newsdesk.db"},
		Scraper: ScraperConfig{
			Config:           pipeline.DefaultConfig(),
			FetchOptions:     *scraper.DefaultFetchOptions(),
			MinContentLength: 200,
		},
		Sources: []sources.Source{
			{Name: "bbc", FeedURL: "https://feeds.bbci.co.uk/news/world/rss.xml",
				Politeness: sources.Politeness{RespectRobots: true, Delay: time.Second}},
			{Name: "guardian", FeedURL: "https://www.theguardian.com/world/rss",
				Politeness: sources.Politeness{RespectRobots: true, Delay: time.Second}},
			{Name: "npr", FeedURL: "https://feeds.npr.org/1001/rss.xml",
				Politeness: sources.Politeness{RespectRobots: true, Delay: time.Second}},
		},
		API: APIConfig{Addr: ":8080"},
		Schedule: ScheduleConfig{
			Interval:          time.Hour,
			ArticlesPerSource: 10,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults and applies env overrides. An empty or
// missing path yields the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if err := appconfig.LoadOrDefault(path, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a job.
func (c *Config) Validate() error {
	if c.Scraper.SourceConcurrency < 0 || c.Scraper.ExtractConcurrency < 0 {
		return fmt.Errorf("config: concurrency must not be negative")
	}
	if c.Scraper.OverfetchMultiplier != 0 && c.Scraper.OverfetchMultiplier < 1 {
		return fmt.Errorf("config: overfetch_multiplier must be at least 1, got %v", c.Scraper.OverfetchMultiplier)
	}
	if c.Schedule.ArticlesPerSource < 0 {
		return fmt.Errorf("config: schedule.articles_per_source must not be negative")
	}
	seen := make(map[string]bool)
	for i := range c.Sources {
		if err := c.Sources[i].Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		key := strings.ToLower(c.Sources[i].Name)
		if seen[key] {
			return fmt.Errorf("config: duplicate source %q", c.Sources[i].Name)
		}
		seen[key] = true
	}
	return nil
}

// Registry builds the source registry from the configured sources.
func (c *Config) Registry() (*sources.Registry, error) {
	r := sources.NewRegistry()
	for _, s := range c.Sources {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// FetchOptions returns the base transport options every source refines.
func (c *Config) FetchOptions() *scraper.FetchOptions {
	opts := c.Scraper.FetchOptions
	return &opts
}

// ExtractOptions returns the content extractor settings.
func (c *Config) ExtractOptions() extract.Options {
	return extract.Options{MinContentLength: c.Scraper.MinContentLength}
}

// ScheduledSources returns the sources the scheduled job scrapes: the
// configured list, or every registered source when none is given.
func (c *Config) ScheduledSources() []string {
	if len(c.Schedule.Sources) > 0 {
		return c.Schedule.Sources
	}
	names := make([]string, 0, len(c.Sources))
	for _, s := range c.Sources {
		names = append(names, s.Name)
	}
	return names
}

// NewLogger builds a slog logger writing to w per the log settings.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(l.Level)}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
