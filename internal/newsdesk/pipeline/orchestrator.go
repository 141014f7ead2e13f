// Package pipeline runs scraping jobs: it fans a job out across its sources,
// runs each source's feed → dedup → extract → cap → persist pipeline, and
// derives the job's terminal status from the per-source outcomes.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/extract"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/jobs"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/sources"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/store"
	"github.com/RobinCoderZhao/newsdesk/pkg/notify"
)

// FeedReader turns a source's feed into candidates in feed order.
type FeedReader interface {
	ReadFeed(ctx context.Context, src sources.Source) ([]sources.Candidate, error)
}

// Extractor turns one candidate into an article.
type Extractor interface {
	Extract(ctx context.Context, src sources.Source, c sources.Candidate) (*extract.Result, error)
}

// Config tunes job execution. Zero concurrency means one worker per unit of work.
type Config struct {
	SourceConcurrency   int     `yaml:"source_concurrency" env:"NEWSDESK_SOURCE_CONCURRENCY"`
	ExtractConcurrency  int     `yaml:"extract_concurrency" env:"NEWSDESK_EXTRACT_CONCURRENCY"`
	OverfetchMultiplier float64 `yaml:"overfetch_multiplier" env:"NEWSDESK_OVERFETCH"`
}

// DefaultConfig returns the default execution settings.
func DefaultConfig() Config {
	return Config{
		SourceConcurrency:   4,
		ExtractConcurrency:  8,
		OverfetchMultiplier: 2,
	}
}

// Orchestrator creates and runs scraping jobs.
type Orchestrator struct {
	cfg       Config
	registry  *sources.Registry
	store     *store.Store
	reader    FeedReader
	extractor Extractor
	notifier  notify.Notifier
	logger    *slog.Logger
	newID     func() string
	now       func() time.Time

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier sends a message whenever a job reaches a terminal status.
func WithNotifier(n notify.Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithLogger sets the logger job log entries are mirrored to.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator.
func New(cfg Config, registry *sources.Registry, st *store.Store, reader FeedReader, ext Extractor, opts ...Option) *Orchestrator {
	if cfg.OverfetchMultiplier < 1 {
		cfg.OverfetchMultiplier = 1
	}
	o := &Orchestrator{
		cfg:       cfg,
		registry:  registry,
		store:     st,
		reader:    reader,
		extractor: ext,
		logger:    slog.Default(),
		newID:     uuid.NewString,
		now:       func() time.Time { return time.Now().UTC() },
		running:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// TriggerJob creates a job and runs it to completion, returning the final
// job record. Invalid requests fail with ErrInvalidRequest and create nothing.
func (o *Orchestrator) TriggerJob(ctx context.Context, sourceNames []string, perSource int) (*jobs.Job, error) {
	job, err := o.createJob(ctx, sourceNames, perSource)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	o.track(job.ID, cancel)
	return o.execute(ctx, job)
}

// StartJob creates a job and runs it in the background. The returned job is
// still in status new; poll GetJob or ListJobLogs for progress.
func (o *Orchestrator) StartJob(ctx context.Context, sourceNames []string, perSource int) (*jobs.Job, error) {
	job, err := o.createJob(ctx, sourceNames, perSource)
	if err != nil {
		return nil, err
	}
	snapshot := *job

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.track(job.ID, cancel)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if _, err := o.execute(runCtx, job); err != nil {
			o.logger.Error("job failed", "job_id", job.ID, "error", err)
		}
	}()
	return &snapshot, nil
}

// Cancel stops a running job. Work already persisted stays; the job ends in
// status cancelled.
func (o *Orchestrator) Cancel(jobID string) error {
	o.mu.Lock()
	cancel, ok := o.running[jobID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotRunning, jobID)
	}
	cancel()
	return nil
}

// Running returns the IDs of jobs this process is currently running.
func (o *Orchestrator) Running() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.running))
	for id := range o.running {
		ids = append(ids, id)
	}
	return ids
}

// Wait blocks until every job started with StartJob has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown cancels running jobs and waits for them to finish or ctx to end.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	for _, cancel := range o.running {
		cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetJob returns a job by ID, or nil if it does not exist.
func (o *Orchestrator) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	return o.store.GetJob(ctx, id)
}

// ListJobs returns recent jobs, newest first.
func (o *Orchestrator) ListJobs(ctx context.Context, f store.JobFilter) ([]jobs.Job, error) {
	return o.store.ListJobs(ctx, f)
}

// ListJobLogs returns a page of a job's log in append order.
func (o *Orchestrator) ListJobLogs(ctx context.Context, jobID string, q store.LogQuery) (*jobs.LogPage, error) {
	return o.store.ListJobLogs(ctx, jobID, q)
}

// ListArticles returns persisted articles.
func (o *Orchestrator) ListArticles(ctx context.Context, f store.ArticleFilter) ([]sources.Article, error) {
	return o.store.ListArticles(ctx, f)
}

// Sources lists the configured sources.
func (o *Orchestrator) Sources() []sources.Source {
	return o.registry.List()
}

func (o *Orchestrator) createJob(ctx context.Context, sourceNames []string, perSource int) (*jobs.Job, error) {
	names := make([]string, 0, len(sourceNames))
	for _, n := range sourceNames {
		names = append(names, strings.TrimSpace(n))
	}
	names = jobs.UniqueNames(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: at least one source is required", ErrInvalidRequest)
	}
	if perSource <= 0 {
		return nil, fmt.Errorf("%w: articles per source must be positive, got %d", ErrInvalidRequest, perSource)
	}

	job := jobs.New(o.newID(), names, perSource, o.now())
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

func (o *Orchestrator) track(id string, cancel context.CancelFunc) {
	o.mu.Lock()
	o.running[id] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) untrack(id string) {
	o.mu.Lock()
	if cancel, ok := o.running[id]; ok {
		cancel()
		delete(o.running, id)
	}
	o.mu.Unlock()
}

// jobRun is the explicit per-job context threaded through every pipeline call.
type jobRun struct {
	job *jobs.Job
	log *jobLog
}

// execute drives job from new to a terminal status. Status writes and log
// entries use a non-cancellable context so a cancelled job is still recorded.
func (o *Orchestrator) execute(ctx context.Context, job *jobs.Job) (*jobs.Job, error) {
	defer o.untrack(job.ID)
	bg := context.WithoutCancel(ctx)

	run := &jobRun{
		job: job,
		log: &jobLog{store: o.store, jobID: job.ID, logger: o.logger, now: o.now},
	}

	if err := o.transition(bg, job, jobs.StatusInProgress); err != nil {
		return nil, err
	}
	run.log.info(ctx, "", jobs.EventJobStarted, "Job started", map[string]any{
		"sources":             job.SourcesRequested,
		"articles_per_source": job.ArticlesPerSource,
	})

	var (
		resolved []sources.Source
		seen     = make(map[string]bool)
	)
	for _, name := range job.SourcesRequested {
		src, ok := o.registry.Get(name)
		if !ok {
			err := &UnknownSourceError{Name: name}
			run.log.warn(ctx, name, jobs.EventUnknownSource, "Unknown source skipped", map[string]any{"error": err.Error()})
			continue
		}
		key := strings.ToLower(src.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		resolved = append(resolved, src)
	}

	var outcomes []jobs.SourceOutcome
	if len(resolved) == 0 {
		run.log.error(ctx, "", jobs.EventNoSources, "No known sources to dispatch", map[string]any{
			"requested": job.SourcesRequested,
		})
		o.addCounters(bg, job.ID, 0, 1)
	} else {
		outcomes = o.dispatch(ctx, run, resolved)
	}

	final := jobs.DeriveStatus(outcomes)
	if ctx.Err() != nil {
		final = jobs.StatusCancelled
		run.log.warn(ctx, "", jobs.EventJobCancelled, "Job cancelled", map[string]any{
			"sources_dispatched": len(outcomes),
		})
	}
	if err := o.transition(bg, job, final); err != nil {
		run.log.error(ctx, "", jobs.EventStatusFailed, "Job status not recorded", map[string]any{
			"status": string(final),
			"error":  err.Error(),
		})
		return nil, err
	}

	saved, errs := jobs.Totals(outcomes)
	run.log.info(ctx, "", jobs.EventJobCompleted, "Job completed", map[string]any{
		"status":  string(final),
		"saved":   saved,
		"errors":  errs,
		"sources": len(resolved),
	})

	done, err := o.store.GetJob(bg, job.ID)
	if err != nil {
		return nil, err
	}
	o.notify(bg, done)
	return done, nil
}

// dispatch runs each source's pipeline with bounded concurrency. Each
// pipeline owns its outcome slot, so aggregation cannot lose a sibling's work.
func (o *Orchestrator) dispatch(ctx context.Context, run *jobRun, srcs []sources.Source) []jobs.SourceOutcome {
	outcomes := make([]jobs.SourceOutcome, len(srcs))
	var g errgroup.Group
	if o.cfg.SourceConcurrency > 0 {
		g.SetLimit(o.cfg.SourceConcurrency)
	}

	dispatched := 0
	for i, src := range srcs {
		if ctx.Err() != nil {
			break
		}
		dispatched++
		g.Go(func() error {
			outcomes[i] = o.runSource(ctx, run, src)
			return nil
		})
	}
	g.Wait()
	return outcomes[:dispatched]
}

func (o *Orchestrator) transition(ctx context.Context, job *jobs.Job, next jobs.Status) error {
	prev := job.Status
	now := o.now()
	if err := job.Transition(next, now); err != nil {
		return err
	}
	if err := o.store.UpdateJobStatus(ctx, job.ID, prev, next, now); err != nil {
		return fmt.Errorf("job %s: %w", job.ID, err)
	}
	return nil
}

func (o *Orchestrator) addCounters(ctx context.Context, jobID string, saved, errs int) {
	if err := o.store.AddJobCounters(ctx, jobID, saved, errs); err != nil {
		o.logger.Error("update job counters", "job_id", jobID, "error", err)
	}
}

func (o *Orchestrator) notify(ctx context.Context, job *jobs.Job) {
	if o.notifier == nil || job == nil {
		return
	}
	msg := notify.Message{
		Title:  fmt.Sprintf("Scraping job %s %s", job.ID, job.Status),
		Body:   fmt.Sprintf("%d articles saved, %d errors across %d sources", job.TotalArticlesScraped, job.TotalErrors, len(job.SourcesRequested)),
		Format: "plain",
		Data: map[string]any{
			"job_id":                 job.ID,
			"status":                 string(job.Status),
			"sources_requested":      job.SourcesRequested,
			"articles_per_source":    job.ArticlesPerSource,
			"total_articles_scraped": job.TotalArticlesScraped,
			"total_errors":           job.TotalErrors,
		},
	}
	if err := o.notifier.Send(ctx, msg); err != nil {
		o.logger.Warn("job notification failed", "job_id", job.ID, "error", err)
	}
}
