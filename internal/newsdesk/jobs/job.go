// Package jobs defines scraping jobs, their status state machine and the
// structured log entries emitted while a job runs.
package jobs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a scraping job.
type Status string

const (
	StatusNew        Status = "new"
	StatusInProgress Status = "in-progress"
	StatusSuccessful Status = "successful"
	StatusPartial    Status = "partial"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// ErrInvalidTransition is returned when a status change is not permitted.
var ErrInvalidTransition = errors.New("invalid job status transition")

var transitions = map[Status][]Status{
	StatusNew:        {StatusInProgress},
	StatusInProgress: {StatusSuccessful, StatusPartial, StatusFailed, StatusCancelled},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusInProgress, StatusSuccessful, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccessful, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Job is one triggered scraping run across one or more sources.
type Job struct {
	ID                   string     `json:"id"`
	SourcesRequested     []string   `json:"sources_requested"`
	ArticlesPerSource    int        `json:"articles_per_source"`
	Status               Status     `json:"status"`
	TriggeredAt          time.Time  `json:"triggered_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	TotalArticlesScraped int        `json:"total_articles_scraped"`
	TotalErrors          int        `json:"total_errors"`
}

// New returns a job in StatusNew. Duplicate and blank source names are
// dropped while keeping first-seen order.
func New(id string, sourceNames []string, perSource int, now time.Time) *Job {
	return &Job{
		ID:                id,
		SourcesRequested:  UniqueNames(sourceNames),
		ArticlesPerSource: perSource,
		Status:            StatusNew,
		TriggeredAt:       now,
	}
}

// Transition moves the job to next, stamping CompletedAt on terminal states.
func (j *Job) Transition(next Status, now time.Time) error {
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, next)
	}
	j.Status = next
	if next.Terminal() {
		t := now
		j.CompletedAt = &t
	}
	return nil
}

// MaxArticles is the upper bound on TotalArticlesScraped for this job.
func (j *Job) MaxArticles() int {
	return len(j.SourcesRequested) * j.ArticlesPerSource
}

// UniqueNames drops blanks and case-insensitive repeats, keeping the first
// spelling in order.
func UniqueNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		key := strings.ToLower(n)
		if n == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	return out
}
