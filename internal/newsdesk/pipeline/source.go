package pipeline

import (
	"context"
	"errors"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/extract"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/jobs"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/sources"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/store"
)

// runSource runs one source's pipeline for the job: read the feed, drop
// known URLs, extract concurrently, keep the first cap articles in feed order
// and persist them. Failures are recorded in the outcome and the job log and
// never escape to sibling sources.
func (o *Orchestrator) runSource(ctx context.Context, run *jobRun, src sources.Source) jobs.SourceOutcome {
	var (
		out    = jobs.SourceOutcome{Source: src.Name}
		log    = run.log
		limit  = run.job.ArticlesPerSource
		jobID  = run.job.ID
		bg     = context.WithoutCancel(ctx)
		failed = func(event, msg string, err error, data map[string]any) jobs.SourceOutcome {
			out.Failed = true
			out.Errors++
			out.Err = err
			if data == nil {
				data = map[string]any{}
			}
			data["error"] = err.Error()
			log.error(ctx, src.Name, event, msg, data)
			o.addCounters(bg, jobID, 0, 1)
			return out
		}
	)

	log.info(ctx, src.Name, jobs.EventSourceStarted, "Source started", map[string]any{"target": limit})

	stored, err := o.store.UpsertSource(ctx, src)
	if err != nil {
		if ctx.Err() != nil {
			out.Err = ctx.Err()
			return out
		}
		return failed(jobs.EventPersistenceFailed, "Source upsert failed", err, nil)
	}
	src.ID = stored.ID

	items, err := o.reader.ReadFeed(ctx, src)
	if err != nil {
		if ctx.Err() != nil {
			out.Err = ctx.Err()
			return out
		}
		return failed(jobs.EventFeedFetchFailed, "Feed fetch failed", err, map[string]any{"feed_url": src.FeedURL})
	}

	total := len(items)
	items = uniqueLinks(items)
	items = items[:min(len(items), o.considered(limit))]
	out.Candidates = len(items)
	log.info(ctx, src.Name, jobs.EventFeedRead, "Feed read", map[string]any{
		"items":      total,
		"considered": len(items),
	})

	fresh, err := o.dedup(ctx, items)
	if err != nil {
		if ctx.Err() != nil {
			out.Err = ctx.Err()
			return out
		}
		return failed(jobs.EventPersistenceFailed, "Dedup lookup failed", err, nil)
	}
	out.Duplicates = len(items) - len(fresh)
	if out.Duplicates > 0 {
		log.info(ctx, src.Name, jobs.EventDedupFiltered, "Known articles filtered", map[string]any{
			"duplicates": out.Duplicates,
			"remaining":  len(fresh),
		})
	}

	results, errs := o.extractAll(ctx, src, fresh)

	var (
		kept     []sources.Article
		failures int
	)
	for i, c := range fresh {
		if err := errs[i]; err != nil {
			if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
				continue
			}
			failures++
			log.error(ctx, src.Name, jobs.EventExtractionFailed, "Extraction failed", map[string]any{
				"url":   c.Link,
				"error": err.Error(),
			})
			continue
		}
		res := results[i]
		if res.Fallback() {
			data := map[string]any{"url": c.Link}
			if res.Reason != nil {
				data["reason"] = res.Reason.Error()
			}
			log.warn(ctx, src.Name, jobs.EventFallbackArticle, "Using feed snippet as article body", data)
		}
		kept = append(kept, res.Article)
	}
	out.Extracted = len(kept)
	out.Errors += failures
	o.addCounters(bg, jobID, 0, failures)
	if failures > 0 && failures == len(fresh) {
		out.Failed = true
		out.Err = extract.ErrNoContent
	}

	if len(kept) > limit {
		log.info(ctx, src.Name, jobs.EventArticlesCapped, "Articles capped to target", map[string]any{
			"source":    src.Name,
			"target":    limit,
			"extracted": len(kept),
			"capped":    len(kept) - limit,
		})
		kept = kept[:limit]
	}

	for i := range kept {
		if ctx.Err() != nil {
			log.warn(ctx, src.Name, jobs.EventDiscarded, "Extracted articles discarded after cancellation", map[string]any{
				"count": len(kept) - i,
			})
			break
		}
		a := kept[i]
		a.ID = ""
		a.SourceID = src.ID
		a.JobID = jobID

		err := o.store.InsertArticle(bg, &a)
		switch {
		case errors.Is(err, store.ErrDuplicate):
			log.info(ctx, src.Name, jobs.EventDuplicateSkipped, "Article already stored", map[string]any{"url": a.SourceURL})
		case err != nil:
			out.Failed = true
			out.Errors++
			out.Err = err
			o.addCounters(bg, jobID, 0, 1)
			log.error(ctx, src.Name, jobs.EventPersistenceFailed, "Article not persisted", map[string]any{
				"url":   a.SourceURL,
				"error": err.Error(),
			})
		default:
			out.Saved++
			o.addCounters(bg, jobID, 1, 0)
			log.info(ctx, src.Name, jobs.EventArticleSaved, "Article saved", map[string]any{
				"article_id":        a.ID,
				"url":               a.SourceURL,
				"processing_status": string(a.ProcessingStatus),
			})
		}
	}

	log.info(ctx, src.Name, jobs.EventSourceCompleted, "Source completed", map[string]any{
		"candidates": out.Candidates,
		"duplicates": out.Duplicates,
		"extracted":  out.Extracted,
		"saved":      out.Saved,
		"errors":     out.Errors,
		"failed":     out.Failed,
	})
	return out
}

// considered is how many feed items are examined for a cap of limit.
func (o *Orchestrator) considered(limit int) int {
	n := math.Ceil(float64(limit) * o.cfg.OverfetchMultiplier)
	if n >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}

// dedup drops candidates whose URL is already persisted.
func (o *Orchestrator) dedup(ctx context.Context, items []sources.Candidate) ([]sources.Candidate, error) {
	if len(items) == 0 {
		return nil, nil
	}
	links := make([]string, len(items))
	for i, it := range items {
		links[i] = it.Link
	}
	known, err := o.store.ExistingURLs(ctx, links)
	if err != nil {
		return nil, err
	}
	fresh := make([]sources.Candidate, 0, len(items))
	for _, it := range items {
		if !known[it.Link] {
			fresh = append(fresh, it)
		}
	}
	return fresh, nil
}

// extractAll extracts every candidate with bounded concurrency. Result i
// belongs to candidate i, so callers see feed order regardless of which
// extraction finished first. Candidates not started before cancellation get
// the context error.
func (o *Orchestrator) extractAll(ctx context.Context, src sources.Source, cands []sources.Candidate) ([]*extract.Result, []error) {
	results := make([]*extract.Result, len(cands))
	errs := make([]error, len(cands))

	var g errgroup.Group
	if o.cfg.ExtractConcurrency > 0 {
		g.SetLimit(o.cfg.ExtractConcurrency)
	}
	for i, c := range cands {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			res, err := o.extractor.Extract(ctx, src, c)
			if err == nil && res == nil {
				err = &extract.ExtractionError{URL: c.Link, Err: extract.ErrNoContent}
			}
			results[i], errs[i] = res, err
			return nil
		})
	}
	g.Wait()
	return results, errs
}

// uniqueLinks keeps the first occurrence of each link.
func uniqueLinks(items []sources.Candidate) []sources.Candidate {
	seen := make(map[string]bool, len(items))
	out := make([]sources.Candidate, 0, len(items))
	for _, it := range items {
		if seen[it.Link] {
			continue
		}
		seen[it.Link] = true
		out = append(out, it)
	}
	return out
}
