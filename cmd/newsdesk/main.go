// Newsdesk scrapes news sources into a local article store.
//
// Usage:
//
//	newsdesk run --sources bbc,npr --articles 10
//	newsdesk serve --addr :8080 --every 1h
//	newsdesk logs <job-id>
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/config"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/extract"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/pipeline"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/sources"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/store"
	"github.com/RobinCoderZhao/newsdesk/pkg/notify"
	"github.com/RobinCoderZhao/newsdesk/pkg/scraper"
)

var version = "dev"

func main() {
	// A missing .env is fine; variables may come from the environment.
	_ = godotenv.Load()

	var cfgPath string
	rootCmd := &cobra.Command{
		Use:           "newsdesk",
		Short:         "News scraping job runner",
		Long:          "Newsdesk reads news feeds, extracts full articles and stores them, tracking every run as a job with a queryable log.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", os.Getenv("NEWSDESK_CONFIG"), "path to YAML config file")

	rootCmd.AddCommand(runCmd(&cfgPath))
	rootCmd.AddCommand(serveCmd(&cfgPath))
	rootCmd.AddCommand(jobCmd(&cfgPath))
	rootCmd.AddCommand(jobsCmd(&cfgPath))
	rootCmd.AddCommand(logsCmd(&cfgPath))
	rootCmd.AddCommand(articlesCmd(&cfgPath))
	rootCmd.AddCommand(sourcesCmd(&cfgPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// app is the wired set of components every command works against.
type app struct {
	cfg    config.Config
	store  *store.Store
	orch   *pipeline.Orchestrator
	logger *slog.Logger
}

func newApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	registry, err := cfg.Registry()
	if err != nil {
		return nil, fmt.Errorf("build source registry: %w", err)
	}

	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	fetcher := scraper.NewHTTPFetcher()
	reader := sources.NewFeedReader(fetcher, cfg.FetchOptions())
	extractor := extract.New(fetcher, cfg.FetchOptions(), cfg.ExtractOptions())

	opts := []pipeline.Option{pipeline.WithLogger(logger)}
	dispatcher := notify.NewDispatcher()
	if cfg.Notify.Webhook.URL != "" {
		dispatcher.Register(notify.NewWebhookNotifier(cfg.Notify.Webhook))
	}
	if dispatcher.Len() > 0 {
		opts = append(opts, pipeline.WithNotifier(dispatcher))
	}

	orch := pipeline.New(cfg.Scraper.Config, registry, st, reader, extractor, opts...)
	return &app{cfg: cfg, store: st, orch: orch, logger: logger}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// withApp wires the application for the duration of fn.
func withApp(ctx context.Context, cfgPath string, fn func(a *app) error) error {
	a, err := newApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("newsdesk %s\n", version)
		},
	}
}
