package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/jobs"
)

// AppendLog writes one entry to a job's log and sets its ID.
func (s *Store) AppendLog(ctx context.Context, e *jobs.LogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	var data sql.NullString
	if len(e.Data) > 0 {
		raw, err := json.Marshal(e.Data)
		if err != nil {
			return wrap("append log", err)
		}
		data = sql.NullString{String: string(raw), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO job_logs (job_id, source_name, timestamp, level, message, additional_data)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.JobID, nullString(e.SourceName), formatTime(e.Timestamp), string(e.Level), e.Message, data)
	if err != nil {
		return wrap("append log", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// LogQuery selects a page of a job's log. Page is 1-based.
type LogQuery struct {
	Page     int
	PageSize int
	Level    jobs.Level
	Source   string
}

// ListJobLogs returns a page of a job's log entries in append order.
func (s *Store) ListJobLogs(ctx context.Context, jobID string, q LogQuery) (*jobs.LogPage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 || q.PageSize > 500 {
		q.PageSize = 50
	}

	where := ` WHERE job_id = ?`
	args := []any{jobID}
	if q.Level != "" {
		where += ` AND level = ?`
		args = append(args, string(q.Level))
	}
	if q.Source != "" {
		where += ` AND source_name = ?`
		args = append(args, q.Source)
	}

	page := &jobs.LogPage{Page: q.Page, PageSize: q.PageSize, Entries: []jobs.LogEntry{}}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_logs`+where, args...).Scan(&page.Total); err != nil {
		return nil, wrap("list job logs", err)
	}

	args = append(args, q.PageSize, (q.Page-1)*q.PageSize)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, source_name, timestamp, level, message, additional_data
		FROM job_logs`+where+` ORDER BY id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, wrap("list job logs", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e         jobs.LogEntry
			src, data sql.NullString
			ts, level string
		)
		if err := rows.Scan(&e.ID, &e.JobID, &src, &ts, &level, &e.Message, &data); err != nil {
			return nil, wrap("list job logs", err)
		}
		e.SourceName = src.String
		e.Timestamp = parseTime(ts)
		e.Level = jobs.Level(level)
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &e.Data); err != nil {
				s.logger.Warn("undecodable log data", "job_id", jobID, "log_id", e.ID, "error", err)
			}
		}
		page.Entries = append(page.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list job logs", err)
	}
	return page, nil
}
