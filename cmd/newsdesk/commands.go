package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/RobinCoderZhao/newsdesk/internal/api"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/jobs"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/scheduler"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/store"
)

func runCmd(cfgPath *string) *cobra.Command {
	var (
		names      []string
		perSource  int
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one scraping job to completion",
		Long:  "Creates a job for the given sources, scrapes up to --articles new articles from each, and prints the final job. Ctrl-C cancels the job; articles already saved are kept.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, *cfgPath, func(a *app) error {
				if len(names) == 0 {
					names = a.cfg.ScheduledSources()
				}
				job, err := a.orch.TriggerJob(ctx, names, perSource)
				if err != nil {
					return err
				}
				if outputJSON {
					return printJSON(job)
				}
				printJob(job)
				if job.Status == jobs.StatusFailed {
					return fmt.Errorf("job %s failed", job.ID)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&names, "sources", "s", nil, "sources to scrape (default: schedule.sources or all configured)")
	cmd.Flags().IntVarP(&perSource, "articles", "n", 10, "articles to keep per source")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "print the job as JSON")
	return cmd
}

func serveCmd(cfgPath *string) *cobra.Command {
	var (
		addr       string
		every      time.Duration
		corsOrigin string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, optionally running the scheduled job",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, *cfgPath, func(a *app) error {
				if addr == "" {
					addr = a.cfg.API.Addr
				}
				server := api.NewServer(a.orch, corsOrigin).WithLogger(a.logger)
				srv := &http.Server{
					Addr:              addr,
					Handler:           server.Routes(),
					ReadHeaderTimeout: 10 * time.Second,
				}

				errCh := make(chan error, 1)
				go func() {
					a.logger.Info("starting REST API server", "addr", addr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						errCh <- err
					}
				}()

				schedDone := make(chan struct{})
				sched := scheduler.New()
				if every > 0 {
					sched.Add(scheduler.Task{
						Name: "scrape",
						Fn: func(ctx context.Context) error {
							job, err := a.orch.TriggerJob(ctx, a.cfg.ScheduledSources(), a.cfg.Schedule.ArticlesPerSource)
							if err != nil {
								return err
							}
							a.logger.Info("scheduled job finished", "job_id", job.ID, "status", job.Status,
								"articles", job.TotalArticlesScraped, "errors", job.TotalErrors)
							return nil
						},
					})
					go func() {
						defer close(schedDone)
						sched.Start(ctx, every)
					}()
				} else {
					close(schedDone)
				}

				var serveErr error
				select {
				case <-ctx.Done():
				case serveErr = <-errCh:
				}
				a.logger.Info("shutting down")
				stop()
				sched.Stop()
				<-schedDone

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					a.logger.Error("server forced to shutdown", "error", err)
				}
				if err := a.orch.Shutdown(shutdownCtx); err != nil {
					a.logger.Error("jobs still running at shutdown", "error", err)
				}
				return serveErr
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: api.addr)")
	cmd.Flags().DurationVar(&every, "every", 0, "run the scheduled job at this interval (0 disables)")
	cmd.Flags().StringVar(&corsOrigin, "cors-origin", "", "allowed CORS origin")
	return cmd
}

func jobCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "job <id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *cfgPath, func(a *app) error {
				job, err := a.orch.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("job %s not found", args[0])
				}
				return printJSON(job)
			})
		},
	}
}

func jobsCmd(cfgPath *string) *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" && !jobs.Status(status).Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			return withApp(cmd.Context(), *cfgPath, func(a *app) error {
				list, err := a.orch.ListJobs(cmd.Context(), store.JobFilter{Status: jobs.Status(status), Limit: limit})
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSTATUS\tTRIGGERED\tARTICLES\tERRORS\tSOURCES")
				for _, j := range list {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", j.ID, j.Status,
						j.TriggeredAt.Local().Format(time.DateTime), j.TotalArticlesScraped, j.TotalErrors,
						strings.Join(j.SourcesRequested, ","))
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only jobs in this status")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum jobs to list")
	return cmd
}

func logsCmd(cfgPath *string) *cobra.Command {
	var q store.LogQuery
	var level string

	cmd := &cobra.Command{
		Use:   "logs <job-id>",
		Short: "Show a page of a job's log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q.Level = jobs.Level(level)
			return withApp(cmd.Context(), *cfgPath, func(a *app) error {
				page, err := a.orch.ListJobLogs(cmd.Context(), args[0], q)
				if err != nil {
					return err
				}
				for _, e := range page.Entries {
					source := e.SourceName
					if source == "" {
						source = "-"
					}
					fmt.Printf("%s %-5s %-10s %s", e.Timestamp.Local().Format(time.TimeOnly), e.Level, source, e.Message)
					if ev, ok := e.Data["event_type"]; ok {
						fmt.Printf(" [%v]", ev)
					}
					fmt.Println()
				}
				fmt.Printf("page %d, %d of %d entries\n", page.Page, len(page.Entries), page.Total)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&q.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&q.PageSize, "page-size", 50, "entries per page")
	cmd.Flags().StringVar(&level, "level", "", "only entries at this level (info, warn, error)")
	cmd.Flags().StringVar(&q.Source, "source", "", "only entries for this source")
	return cmd
}

func articlesCmd(cfgPath *string) *cobra.Command {
	var (
		f          store.ArticleFilter
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "articles",
		Short: "List stored articles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *cfgPath, func(a *app) error {
				list, err := a.orch.ListArticles(cmd.Context(), f)
				if err != nil {
					return err
				}
				if outputJSON {
					return printJSON(list)
				}
				for _, art := range list {
					fmt.Printf("%s  %s\n    %s (%s)\n", art.CreatedAt.Local().Format(time.DateTime), art.Title, art.SourceURL, art.ProcessingStatus)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&f.JobID, "job", "", "only articles saved by this job")
	cmd.Flags().IntVar(&f.Limit, "limit", 20, "maximum articles to list")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "articles to skip")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "print articles as JSON")
	return cmd
}

func sourcesCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *cfgPath, func(a *app) error {
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tDOMAIN\tFEED\tROBOTS\tDELAY")
				for _, s := range a.orch.Sources() {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", s.Name, s.Domain, s.FeedURL, s.RespectRobots, s.Delay)
				}
				return tw.Flush()
			})
		},
	}
}

func printJob(j *jobs.Job) {
	fmt.Printf("Job %s: %s\n", j.ID, j.Status)
	fmt.Printf("  sources:   %s\n", strings.Join(j.SourcesRequested, ", "))
	fmt.Printf("  articles:  %d saved (up to %d per source)\n", j.TotalArticlesScraped, j.ArticlesPerSource)
	fmt.Printf("  errors:    %d\n", j.TotalErrors)
	if j.CompletedAt != nil {
		fmt.Printf("  duration:  %s\n", j.CompletedAt.Sub(j.TriggeredAt).Round(time.Millisecond))
	}
}
