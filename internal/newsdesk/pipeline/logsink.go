package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/jobs"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/store"
)

// jobLog appends structured entries to one job's log and mirrors them to
// slog. Entries are written even after the job's context is cancelled.
type jobLog struct {
	store  *store.Store
	jobID  string
	logger *slog.Logger
	now    func() time.Time
}

func (l *jobLog) info(ctx context.Context, source, event, msg string, data map[string]any) {
	l.write(ctx, jobs.LevelInfo, source, event, msg, data)
}

func (l *jobLog) warn(ctx context.Context, source, event, msg string, data map[string]any) {
	l.write(ctx, jobs.LevelWarning, source, event, msg, data)
}

func (l *jobLog) error(ctx context.Context, source, event, msg string, data map[string]any) {
	l.write(ctx, jobs.LevelError, source, event, msg, data)
}

func (l *jobLog) write(ctx context.Context, level jobs.Level, source, event, msg string, data map[string]any) {
	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["event_type"] = event

	entry := &jobs.LogEntry{
		JobID:      l.jobID,
		SourceName: source,
		Timestamp:  l.now(),
		Level:      level,
		Message:    msg,
		Data:       payload,
	}
	ctx = context.WithoutCancel(ctx)
	if err := l.store.AppendLog(ctx, entry); err != nil {
		l.logger.Error("append job log", "job_id", l.jobID, "event", event, "error", err)
	}

	attrs := []any{"job_id", l.jobID}
	if source != "" {
		attrs = append(attrs, "source", source)
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, k, payload[k])
	}
	l.logger.Log(ctx, slogLevel(level), msg, attrs...)
}

func slogLevel(l jobs.Level) slog.Level {
	switch l {
	case jobs.LevelWarning:
		return slog.LevelWarn
	case jobs.LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
