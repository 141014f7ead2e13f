package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/jobs"
)

// CreateJob inserts a job record.
func (s *Store) CreateJob(ctx context.Context, j *jobs.Job) error {
	names, err := json.Marshal(j.SourcesRequested)
	if err != nil {
		return wrap("create job", err)
	}
	var completed sql.NullString
	if j.CompletedAt != nil {
		completed = nullTime(*j.CompletedAt)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, sources, articles_per_source, status, triggered_at, completed_at,
			total_articles_scraped, total_errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, string(names), j.ArticlesPerSource, string(j.Status), formatTime(j.TriggeredAt), completed,
		j.TotalArticlesScraped, j.TotalErrors)
	return wrap("create job", err)
}

// UpdateJobStatus moves job id from one status to the next. The update only
// applies if the stored status still equals from, so concurrent writers
// cannot skip or repeat a transition. Terminal statuses stamp completed_at.
func (s *Store) UpdateJobStatus(ctx context.Context, id string, from, to jobs.Status, at time.Time) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", jobs.ErrInvalidTransition, from, to)
	}
	var completed sql.NullString
	if to.Terminal() {
		completed = nullTime(at)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, completed_at = COALESCE(?, completed_at)
		WHERE id = ? AND status = ?
	`, string(to), completed, id, string(from))
	if err != nil {
		return wrap("update job status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("update job status", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: job %s is not %s", jobs.ErrInvalidTransition, id, from)
	}
	return nil
}

// AddJobCounters atomically adds to a job's article and error totals.
func (s *Store) AddJobCounters(ctx context.Context, id string, scraped, errs int) error {
	if scraped == 0 && errs == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			total_articles_scraped = total_articles_scraped + ?,
			total_errors = total_errors + ?
		WHERE id = ?
	`, scraped, errs, id)
	return wrap("update job counters", err)
}

// GetJob returns the job with the given ID, or nil if it does not exist.
func (s *Store) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	rows, err := s.db.QueryContext(ctx, selectJobs+` WHERE id = ?`, id)
	if err != nil {
		return nil, wrap("get job", err)
	}
	list, err := scanJobs(rows)
	if err != nil {
		return nil, wrap("get job", err)
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// JobFilter narrows job listings.
type JobFilter struct {
	Status jobs.Status
	Limit  int
	Offset int
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, f JobFilter) ([]jobs.Job, error) {
	query := selectJobs
	var args []any
	if f.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(f.Status))
	}
	limit, offset := clampPage(f.Limit, f.Offset)
	query += ` ORDER BY triggered_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list jobs", err)
	}
	list, err := scanJobs(rows)
	return list, wrap("list jobs", err)
}

const selectJobs = `
	SELECT id, sources, articles_per_source, status, triggered_at, completed_at,
		total_articles_scraped, total_errors
	FROM jobs`

func scanJobs(rows *sql.Rows) ([]jobs.Job, error) {
	defer rows.Close()

	var out []jobs.Job
	for rows.Next() {
		var (
			j                   jobs.Job
			names, status, trig string
			completed           sql.NullString
		)
		if err := rows.Scan(&j.ID, &names, &j.ArticlesPerSource, &status, &trig, &completed,
			&j.TotalArticlesScraped, &j.TotalErrors); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(names), &j.SourcesRequested); err != nil {
			return nil, fmt.Errorf("decode sources of job %s: %w", j.ID, err)
		}
		j.Status = jobs.Status(status)
		j.TriggeredAt = parseTime(trig)
		if completed.Valid {
			t := parseTime(completed.String)
			j.CompletedAt = &t
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
