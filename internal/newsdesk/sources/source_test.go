package sources

import (
	"testing"
	"time"

	"github.com/RobinCoderZhao/newsdesk/pkg/scraper"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Source{Name: "BBC", FeedURL: "https://www.bbc.co.uk/news/rss.xml"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(Source{Name: "Guardian", FeedURL: "https://www.theguardian.com/world/rss"}); err != nil {
		t.Fatal(err)
	}

	s, ok := r.Get("bbc")
	if !ok {
		t.Fatal("expected case-insensitive lookup")
	}
	if s.Domain != "bbc.co.uk" {
		t.Errorf("expected domain derived from feed url, got %q", s.Domain)
	}
	if _, ok := r.Get("reuters"); ok {
		t.Error("unexpected hit for unknown source")
	}

	list := r.List()
	if len(list) != 2 || list[0].Name != "BBC" || list[1].Name != "Guardian" {
		t.Fatalf("unexpected list order: %+v", list)
	}
}

func TestRegistry_RejectsInvalid(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Source{Name: "", FeedURL: "https://x.test/feed"}); err == nil {
		t.Error("expected error for empty name")
	}
	if err := r.Register(Source{Name: "x", FeedURL: "not a url"}); err == nil {
		t.Error("expected error for invalid feed url")
	}
}

func TestSource_FetchOptions(t *testing.T) {
	base := &scraper.FetchOptions{UserAgent: "base", Timeout: time.Second, RetryCount: 4}
	src := Source{Name: "x", Politeness: Politeness{UserAgent: "polite", Delay: 2 * time.Second, RespectRobots: true}}

	opts := src.FetchOptions(base)
	if opts.UserAgent != "polite" || opts.Delay != 2*time.Second || !opts.RespectRobots {
		t.Fatalf("source politeness not applied: %+v", opts)
	}
	if opts.Timeout != time.Second || opts.RetryCount != 4 {
		t.Fatalf("base options lost: %+v", opts)
	}
	if base.UserAgent != "base" {
		t.Fatal("base options mutated")
	}
}
