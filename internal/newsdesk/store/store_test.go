package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/jobs"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/sources"
	"github.com/RobinCoderZhao/newsdesk/pkg/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), storage.Config{DSN: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedSource(t *testing.T, s *Store, name string) sources.Source {
	t.Helper()
	src, err := s.UpsertSource(context.Background(), sources.Source{
		Name:    name,
		Domain:  name + ".test",
		FeedURL: "https://" + name + ".test/feed",
	})
	if err != nil {
		t.Fatal(err)
	}
	return src
}

func TestUpsertSource(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := seedSource(t, s, "bbc")
	if first.ID == "" {
		t.Fatal("expected source id")
	}

	again, err := s.UpsertSource(ctx, sources.Source{Name: "BBC", Domain: "bbc.test", FeedURL: "https://bbc.test/v2/feed"})
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != first.ID {
		t.Errorf("expected stable id across upserts, got %s and %s", first.ID, again.ID)
	}

	list, err := s.ListSources(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].FeedURL != "https://bbc.test/v2/feed" {
		t.Fatalf("unexpected sources: %+v", list)
	}
}

func TestInsertArticle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	src := seedSource(t, s, "example")

	published := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	a := &sources.Article{
		SourceID:         src.ID,
		SourceURL:        "https://example.test/a",
		Title:            "A",
		Content:          "Body\n\nSecond paragraph.",
		Author:           "Alice",
		PublishedAt:      published,
		Language:         "en",
		ContentHash:      "abc",
		ProcessingStatus: sources.ProcessingExtracted,
	}
	if err := s.InsertArticle(ctx, a); err != nil {
		t.Fatal(err)
	}
	if a.ID == "" || a.CreatedAt.IsZero() {
		t.Fatal("expected id and created_at to be assigned")
	}

	dup := *a
	dup.ID = ""
	dup.Title = "changed"
	if err := s.InsertArticle(ctx, &dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, err := s.GetArticle(ctx, a.SourceURL)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Title != "A" || got.Content != a.Content || !got.PublishedAt.Equal(published) {
		t.Fatalf("stored article was modified or lost: %+v", got)
	}
	if got.JobID != "" || got.ContentHTML != "" {
		t.Errorf("expected empty optional fields, got %+v", got)
	}

	if ok, err := s.ArticleExists(ctx, a.SourceURL); err != nil || !ok {
		t.Errorf("ArticleExists = %v, %v", ok, err)
	}
	if ok, err := s.ArticleExists(ctx, "https://example.test/other"); err != nil || ok {
		t.Errorf("ArticleExists(other) = %v, %v", ok, err)
	}

	found, err := s.ExistingURLs(ctx, []string{a.SourceURL, "https://example.test/b"})
	if err != nil {
		t.Fatal(err)
	}
	if !found[a.SourceURL] || found["https://example.test/b"] {
		t.Errorf("unexpected existing set %v", found)
	}

	if none, err := s.GetArticle(ctx, "https://missing.test"); err != nil || none != nil {
		t.Errorf("expected nil, nil for unknown url; got %v, %v", none, err)
	}
}

func TestInsertArticle_ConcurrentSameURL(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	src := seedSource(t, s, "race")

	const writers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
		dups     int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.InsertArticle(ctx, &sources.Article{
				SourceID:         src.ID,
				SourceURL:        "https://race.test/same",
				Title:            fmt.Sprintf("writer %d", i),
				Content:          "x",
				ContentHash:      "h",
				ProcessingStatus: sources.ProcessingExtracted,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				inserted++
			case errors.Is(err, ErrDuplicate):
				dups++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if inserted != 1 || dups != writers-1 {
		t.Fatalf("expected 1 insert and %d duplicates, got %d and %d", writers-1, inserted, dups)
	}
	n, err := s.CountArticles(ctx, ArticleFilter{SourceID: src.ID})
	if err != nil || n != 1 {
		t.Fatalf("expected exactly one row, got %d (%v)", n, err)
	}
}

func TestJobLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	j := jobs.New("job-1", []string{"bbc", "guardian"}, 5, now)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateJobStatus(ctx, j.ID, jobs.StatusNew, jobs.StatusInProgress, now); err != nil {
		t.Fatal(err)
	}
	// A second writer still believing the job is new must lose.
	if err := s.UpdateJobStatus(ctx, j.ID, jobs.StatusNew, jobs.StatusInProgress, now); !errors.Is(err, jobs.ErrInvalidTransition) {
		t.Fatalf("expected stale transition to fail, got %v", err)
	}
	if err := s.UpdateJobStatus(ctx, j.ID, jobs.StatusNew, jobs.StatusSuccessful, now); !errors.Is(err, jobs.ErrInvalidTransition) {
		t.Fatalf("expected illegal transition to fail, got %v", err)
	}

	if err := s.AddJobCounters(ctx, j.ID, 3, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.AddJobCounters(ctx, j.ID, 2, 0); err != nil {
		t.Fatal(err)
	}

	done := now.Add(time.Minute)
	if err := s.UpdateJobStatus(ctx, j.ID, jobs.StatusInProgress, jobs.StatusPartial, done); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != jobs.StatusPartial || got.TotalArticlesScraped != 5 || got.TotalErrors != 1 {
		t.Fatalf("unexpected job: %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Errorf("expected completed_at %s, got %v", done, got.CompletedAt)
	}
	if len(got.SourcesRequested) != 2 || got.SourcesRequested[1] != "guardian" || got.ArticlesPerSource != 5 {
		t.Errorf("request not round-tripped: %+v", got)
	}

	if missing, err := s.GetJob(ctx, "nope"); err != nil || missing != nil {
		t.Errorf("expected nil, nil for unknown job; got %v, %v", missing, err)
	}
}

func TestListJobs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		j := jobs.New(fmt.Sprintf("job-%d", i), []string{"bbc"}, 1, base.Add(time.Duration(i)*time.Minute))
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.UpdateJobStatus(ctx, "job-1", jobs.StatusNew, jobs.StatusInProgress, base); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListJobs(ctx, JobFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "job-2" || all[2].ID != "job-0" {
		t.Fatalf("expected newest first, got %+v", all)
	}

	running, err := s.ListJobs(ctx, JobFilter{Status: jobs.StatusInProgress})
	if err != nil {
		t.Fatal(err)
	}
	if len(running) != 1 || running[0].ID != "job-1" {
		t.Fatalf("unexpected filtered jobs: %+v", running)
	}
}

func TestJobLogs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	j := jobs.New("job-logs", []string{"bbc"}, 1, time.Now())
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		level := jobs.LevelInfo
		if i == 3 {
			level = jobs.LevelError
		}
		e := &jobs.LogEntry{
			JobID:      j.ID,
			SourceName: "bbc",
			Level:      level,
			Message:    fmt.Sprintf("entry %d", i),
			Data:       map[string]any{"event_type": "feed_read", "n": i},
		}
		if err := s.AppendLog(ctx, e); err != nil {
			t.Fatal(err)
		}
		if e.ID == 0 {
			t.Fatal("expected log id")
		}
	}

	page, err := s.ListJobLogs(ctx, j.ID, LogQuery{Page: 2, PageSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 5 || len(page.Entries) != 2 {
		t.Fatalf("unexpected page: total=%d entries=%d", page.Total, len(page.Entries))
	}
	if page.Entries[0].Message != "entry 2" || page.Entries[1].Message != "entry 3" {
		t.Errorf("expected append order, got %q, %q", page.Entries[0].Message, page.Entries[1].Message)
	}
	if page.Entries[0].Data["event_type"] != "feed_read" || page.Entries[0].Data["n"] != float64(2) {
		t.Errorf("additional data not round-tripped: %v", page.Entries[0].Data)
	}

	errs, err := s.ListJobLogs(ctx, j.ID, LogQuery{Level: jobs.LevelError})
	if err != nil {
		t.Fatal(err)
	}
	if errs.Total != 1 || errs.Entries[0].Message != "entry 3" {
		t.Fatalf("unexpected level filter result: %+v", errs)
	}

	empty, err := s.ListJobLogs(ctx, "unknown", LogQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if empty.Total != 0 || empty.Entries == nil {
		t.Errorf("expected empty, non-nil page for unknown job: %+v", empty)
	}
}
