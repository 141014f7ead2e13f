package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/extract"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/jobs"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/pipeline"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/sources"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/store"
	"github.com/RobinCoderZhao/newsdesk/pkg/storage"
)

type stubReader struct{}

func (stubReader) ReadFeed(_ context.Context, src sources.Source) ([]sources.Candidate, error) {
	items := make([]sources.Candidate, 5)
	for i := range items {
		items[i] = sources.Candidate{
			Position: i,
			Link:     fmt.Sprintf("https://%s.test/story/%d", src.Name, i),
			Title:    fmt.Sprintf("%s story %d", src.Name, i),
		}
	}
	return items, nil
}

type stubExtractor struct {
	block bool
}

func (e stubExtractor) Extract(ctx context.Context, _ sources.Source, c sources.Candidate) (*extract.Result, error) {
	if e.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	body := "Body of " + c.Title
	return &extract.Result{Article: sources.Article{
		SourceURL:        c.Link,
		Title:            c.Title,
		Content:          body,
		ContentHash:      extract.Hash(body),
		ProcessingStatus: sources.ProcessingExtracted,
	}}, nil
}

func newTestServer(t *testing.T, ext pipeline.Extractor) (*httptest.Server, *pipeline.Orchestrator) {
	t.Helper()
	st, err := store.Open(context.Background(), storage.Config{DSN: filepath.Join(t.TempDir(), "api.db")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	reg := sources.NewRegistry()
	for _, n := range []string{"alpha", "beta"} {
		if err := reg.Register(sources.Source{Name: n, FeedURL: "https://" + n + ".test/feed"}); err != nil {
			t.Fatal(err)
		}
	}
	orch := pipeline.New(pipeline.DefaultConfig(), reg, st, stubReader{}, ext)
	t.Cleanup(orch.Wait)

	srv := httptest.NewServer(NewServer(orch, "http://localhost:3000").Routes())
	t.Cleanup(srv.Close)
	return srv, orch
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestCreateJob_WaitAndRead(t *testing.T) {
	srv, _ := newTestServer(t, stubExtractor{})

	var job jobs.Job
	code := doJSON(t, http.MethodPost, srv.URL+"/api/jobs",
		CreateJobRequest{Sources: []string{"alpha", "beta"}, ArticlesPerSource: 3, Wait: true}, &job)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if job.Status != jobs.StatusSuccessful || job.TotalArticlesScraped != 6 {
		t.Fatalf("unexpected job: %+v", job)
	}

	var got jobs.Job
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/jobs/"+job.ID, nil, &got); code != http.StatusOK {
		t.Fatalf("get job: %d", code)
	}
	if got.ID != job.ID || got.CompletedAt == nil {
		t.Errorf("unexpected job read back: %+v", got)
	}

	var page jobs.LogPage
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/jobs/"+job.ID+"/logs?page=1&page_size=2", nil, &page); code != http.StatusOK {
		t.Fatalf("get logs: %d", code)
	}
	if len(page.Entries) != 2 || page.Total <= 2 || page.PageSize != 2 {
		t.Errorf("unexpected log page: %+v", page)
	}

	var articles struct {
		Articles []sources.Article `json:"articles"`
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/jobs/"+job.ID+"/articles", nil, &articles); code != http.StatusOK {
		t.Fatalf("get articles: %d", code)
	}
	if len(articles.Articles) != 6 {
		t.Errorf("expected 6 articles, got %d", len(articles.Articles))
	}

	var list struct {
		Jobs []jobs.Job `json:"jobs"`
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/jobs?status=successful", nil, &list); code != http.StatusOK {
		t.Fatalf("list jobs: %d", code)
	}
	if len(list.Jobs) != 1 {
		t.Errorf("expected 1 successful job, got %d", len(list.Jobs))
	}
}

func TestCreateJob_Async(t *testing.T) {
	srv, orch := newTestServer(t, stubExtractor{})

	var job jobs.Job
	code := doJSON(t, http.MethodPost, srv.URL+"/api/jobs",
		CreateJobRequest{Sources: []string{"alpha"}, ArticlesPerSource: 2}, &job)
	if code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", code)
	}
	if job.Status != jobs.StatusNew {
		t.Errorf("expected snapshot in status new, got %s", job.Status)
	}

	orch.Wait()
	var got jobs.Job
	doJSON(t, http.MethodGet, srv.URL+"/api/jobs/"+job.ID, nil, &got)
	if got.Status != jobs.StatusSuccessful || got.TotalArticlesScraped != 2 {
		t.Errorf("unexpected final job: %+v", got)
	}
}

func TestCreateJob_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t, stubExtractor{})

	tests := []struct {
		name string
		body any
	}{
		{"no sources", CreateJobRequest{ArticlesPerSource: 3}},
		{"zero count", CreateJobRequest{Sources: []string{"alpha"}}},
		{"malformed", "not an object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]string
			if code := doJSON(t, http.MethodPost, srv.URL+"/api/jobs", tt.body, &body); code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", code)
			}
			if body["error"] == "" {
				t.Error("expected error message")
			}
		})
	}

	var list struct {
		Jobs []jobs.Job `json:"jobs"`
	}
	doJSON(t, http.MethodGet, srv.URL+"/api/jobs", nil, &list)
	if len(list.Jobs) != 0 {
		t.Errorf("rejected requests must not create jobs, got %d", len(list.Jobs))
	}

	if code := doJSON(t, http.MethodGet, srv.URL+"/api/jobs?status=bogus", nil, nil); code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", code)
	}
}

func TestJobNotFound(t *testing.T) {
	srv, _ := newTestServer(t, stubExtractor{})

	for _, path := range []string{"/api/jobs/missing", "/api/jobs/missing/logs", "/api/jobs/missing/articles"} {
		if code := doJSON(t, http.MethodGet, srv.URL+path, nil, nil); code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, code)
		}
	}
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/jobs/missing/cancel", nil, nil); code != http.StatusConflict {
		t.Errorf("expected 409 cancelling unknown job, got %d", code)
	}
}

func TestCancelJob(t *testing.T) {
	srv, orch := newTestServer(t, stubExtractor{block: true})

	var job jobs.Job
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/jobs",
		CreateJobRequest{Sources: []string{"alpha"}, ArticlesPerSource: 2}, &job); code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", code)
	}
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/jobs/"+job.ID+"/cancel", nil, nil); code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", code)
	}
	orch.Wait()

	var got jobs.Job
	doJSON(t, http.MethodGet, srv.URL+"/api/jobs/"+job.ID, nil, &got)
	if got.Status != jobs.StatusCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/jobs/"+job.ID+"/cancel", nil, nil); code != http.StatusConflict {
		t.Errorf("expected 409 for finished job, got %d", code)
	}
}

func TestListSourcesAndCORS(t *testing.T) {
	srv, _ := newTestServer(t, stubExtractor{})

	var body struct {
		Sources []sources.Source `json:"sources"`
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/sources", nil, &body); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(body.Sources) != 2 {
		t.Errorf("expected 2 sources, got %d", len(body.Sources))
	}

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/jobs", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected preflight 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("unexpected allow-origin %q", got)
	}
}
