package jobs

import "time"

// Level is the severity of a job log entry.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event names carried in LogEntry.Data["event_type"].
const (
	EventJobStarted        = "job_started"
	EventJobCompleted      = "job_completed"
	EventJobCancelled      = "job_cancelled"
	EventStatusFailed      = "status_update_failed"
	EventNoSources         = "no_sources"
	EventUnknownSource     = "unknown_source"
	EventSourceStarted     = "source_started"
	EventSourceCompleted   = "source_completed"
	EventFeedFetchFailed   = "feed_fetch_failed"
	EventFeedRead          = "feed_read"
	EventDedupFiltered     = "dedup_filtered"
	EventExtractionFailed  = "extraction_failed"
	EventFallbackArticle   = "fallback_article"
	EventArticlesCapped    = "articles_capped"
	EventArticleSaved      = "article_saved"
	EventDuplicateSkipped  = "duplicate_skipped"
	EventPersistenceFailed = "persistence_failed"
	EventDiscarded         = "articles_discarded"
)

// LogEntry is one append-only, structured record in a job's log.
type LogEntry struct {
	ID         int64          `json:"id"`
	JobID      string         `json:"job_id"`
	SourceName string         `json:"source_name,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Level      Level          `json:"level"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"additional_data,omitempty"`
}

// LogPage is one page of a job's log, oldest first.
type LogPage struct {
	Entries  []LogEntry `json:"entries"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
	Total    int        `json:"total"`
}
