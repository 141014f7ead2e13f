// Package scraper provides polite HTTP content fetching and HTML text utilities.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/time/rate"
)

// ErrRobotsDisallowed is returned when robots.txt forbids the requested path.
var ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

// StatusError reports a non-success HTTP status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: http %d", e.URL, e.StatusCode)
}

// FetchOptions configures the behavior of a Fetch call.
type FetchOptions struct {
	UserAgent     string            `yaml:"user_agent"`
	Timeout       time.Duration     `yaml:"timeout"`
	RetryCount    int               `yaml:"retry_count"`
	RetryBackoff  time.Duration     `yaml:"retry_backoff"`
	Headers       map[string]string `yaml:"headers"`
	MaxBytes      int64             `yaml:"max_bytes"`
	RespectRobots bool              `yaml:"respect_robots"`
	// Delay is the minimum spacing between requests to the same host.
	Delay time.Duration `yaml:"delay"`
}

// DefaultFetchOptions returns sensible defaults for fetching.
func DefaultFetchOptions() *FetchOptions {
	return &FetchOptions{
		UserAgent:    "Newsdesk/1.0 (compatible; Bot; +https://github.com/RobinCoderZhao/newsdesk)",
		Timeout:      15 * time.Second,
		RetryCount:   2,
		RetryBackoff: time.Second,
		MaxBytes:     10 * 1024 * 1024,
	}
}

func (o *FetchOptions) withDefaults() FetchOptions {
	def := DefaultFetchOptions()
	if o == nil {
		return *def
	}
	out := *o
	if out.UserAgent == "" {
		out.UserAgent = def.UserAgent
	}
	if out.Timeout <= 0 {
		out.Timeout = def.Timeout
	}
	if out.RetryCount < 0 {
		out.RetryCount = 0
	}
	if out.RetryBackoff <= 0 {
		out.RetryBackoff = def.RetryBackoff
	}
	if out.MaxBytes <= 0 {
		out.MaxBytes = def.MaxBytes
	}
	return out
}

// FetchResult holds the result of fetching a URL.
type FetchResult struct {
	URL         string        `json:"url"`
	FinalURL    string        `json:"final_url"`
	StatusCode  int           `json:"status_code"`
	ContentType string        `json:"content_type"`
	Body        []byte        `json:"-"`
	FetchedAt   time.Time     `json:"fetched_at"`
	Duration    time.Duration `json:"duration"`
}

// Fetcher defines the interface for fetching web content.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts *FetchOptions) (*FetchResult, error)
}

// HTTPFetcher implements Fetcher using standard HTTP. It caches robots.txt per
// host and spaces requests to the same host by FetchOptions.Delay.
type HTTPFetcher struct {
	client *http.Client

	mu       sync.Mutex
	robots   map[string]*robotstxt.RobotsData
	limiters map[string]*rate.Limiter
}

// NewHTTPFetcher creates a new HTTP-based fetcher.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		client:   &http.Client{},
		robots:   make(map[string]*robotstxt.RobotsData),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Fetch retrieves a URL, honouring robots.txt and per-host delay when asked to.
// Transport errors, 429 and 5xx responses are retried; other 4xx are not.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, opts *FetchOptions) (*FetchResult, error) {
	o := opts.withDefaults()
	start := time.Now()

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}

	if o.RespectRobots {
		allowed, err := f.robotsAllowed(ctx, u, &o)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, ErrRobotsDisallowed)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= o.RetryCount; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, time.Duration(attempt)*o.RetryBackoff); err != nil {
				return nil, err
			}
		}
		if err := f.wait(ctx, u.Host, o.Delay); err != nil {
			return nil, err
		}

		result, err := f.fetchOnce(ctx, rawURL, &o)
		if err == nil {
			result.Duration = time.Since(start)
			return result, nil
		}
		lastErr = err

		var se *StatusError
		if errors.As(err, &se) && se.StatusCode != http.StatusTooManyRequests && se.StatusCode < 500 {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, rawURL string, o *FetchOptions) (*FetchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", o.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	for k, v := range o.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, o.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &FetchResult{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		FetchedAt:   time.Now(),
	}, nil
}

// wait blocks until the host's limiter admits another request.
func (f *HTTPFetcher) wait(ctx context.Context, host string, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	key := host + "|" + delay.String()

	f.mu.Lock()
	lim, ok := f.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(delay), 1)
		f.limiters[key] = lim
	}
	f.mu.Unlock()

	return lim.Wait(ctx)
}

func (f *HTTPFetcher) robotsAllowed(ctx context.Context, u *url.URL, o *FetchOptions) (bool, error) {
	key := u.Scheme + "://" + u.Host

	f.mu.Lock()
	data, ok := f.robots[key]
	f.mu.Unlock()

	if !ok {
		data = f.loadRobots(ctx, key, o)
		f.mu.Lock()
		f.robots[key] = data
		f.mu.Unlock()
	}
	if data == nil {
		return true, nil
	}
	return data.TestAgent(u.RequestURI(), o.UserAgent), nil
}

// loadRobots returns nil (allow all) when robots.txt cannot be retrieved.
func (f *HTTPFetcher) loadRobots(ctx context.Context, base string, o *FetchOptions) *robotstxt.RobotsData {
	ctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", o.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil
	}
	return data
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
