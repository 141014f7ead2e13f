package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/RobinCoderZhao/newsdesk/pkg/scraper"
)

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/" xmlns:dc="http://purl.org/dc/elements/1.1/">
<channel>
  <title>Example News</title>
  <item>
    <title>First &amp; foremost</title>
    <link>https://example.com/news/1#comments</link>
    <description>Short summary one&nbsp;here.</description>
    <content:encoded><![CDATA[<p>Full body one.</p>]]></content:encoded>
    <pubDate>Mon, 02 Mar 2026 10:00:00 GMT</pubDate>
    <dc:creator>Jane Doe</dc:creator>
  </item>
  <item>
    <title>Relative link</title>
    <link>/news/2</link>
    <description>Summary two.</description>
  </item>
  <item>
    <title>No link at all</title>
  </item>
  <item>
    <title>GUID as link</title>
    <guid>https://example.com/news/4</guid>
  </item>
</channel>
</rss>`

const atomFixture = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom News</title>
  <entry>
    <id>tag:example.com,2026:1</id>
    <title>Atom entry</title>
    <link rel="self" href="https://example.com/self/1"/>
    <link rel="alternate" href="https://example.com/atom/1"/>
    <summary>Atom summary.</summary>
    <updated>2026-03-02T10:00:00Z</updated>
    <author><name>John Roe</name></author>
  </entry>
</feed>`

const rdfFixture = `<?xml version="1.0"?>
<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#" xmlns="http://purl.org/rss/1.0/" xmlns:dc="http://purl.org/dc/elements/1.1/">
  <channel><title>RDF</title></channel>
  <item>
    <title>RDF item</title>
    <link>https://example.com/rdf/1</link>
    <dc:date>2026-03-02T10:00:00Z</dc:date>
  </item>
</rdf:RDF>`

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestParseFeed_RSS(t *testing.T) {
	items, err := ParseFeed([]byte(rssFixture), mustURL(t, "https://example.com/feed.xml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items (one without link dropped), got %d", len(items))
	}

	first := items[0]
	if first.Title != "First & foremost" {
		t.Errorf("unexpected title %q", first.Title)
	}
	if first.Link != "https://example.com/news/1" {
		t.Errorf("expected fragment stripped, got %q", first.Link)
	}
	if first.Author != "Jane Doe" {
		t.Errorf("expected dc:creator author, got %q", first.Author)
	}
	if first.Content != "<p>Full body one.</p>" {
		t.Errorf("unexpected content %q", first.Content)
	}
	want := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	if !first.PublishedAt.Equal(want) {
		t.Errorf("expected %s, got %s", want, first.PublishedAt)
	}

	if items[1].Link != "https://example.com/news/2" {
		t.Errorf("expected relative link resolved, got %q", items[1].Link)
	}
	if items[2].Link != "https://example.com/news/4" {
		t.Errorf("expected guid used as link, got %q", items[2].Link)
	}
	for i, it := range items {
		if it.Position != i {
			t.Errorf("item %d has position %d", i, it.Position)
		}
	}
}

func TestParseFeed_Atom(t *testing.T) {
	items, err := ParseFeed([]byte(atomFixture), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(items))
	}
	if items[0].Link != "https://example.com/atom/1" {
		t.Errorf("expected alternate link, got %q", items[0].Link)
	}
	if items[0].Author != "John Roe" || items[0].Summary != "Atom summary." {
		t.Errorf("unexpected entry: %+v", items[0])
	}
	if items[0].PublishedAt.IsZero() {
		t.Error("expected updated date to be used")
	}
}

func TestParseFeed_RDF(t *testing.T) {
	items, err := ParseFeed([]byte(rdfFixture), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Link != "https://example.com/rdf/1" {
		t.Fatalf("unexpected items: %+v", items)
	}
	if items[0].PublishedAt.IsZero() {
		t.Error("expected dc:date to be parsed")
	}
}

func TestParseFeed_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "<html><body>not a feed</body></html>", "{\"json\": true}"} {
		if _, err := ParseFeed([]byte(in), nil); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestFeedReader_ReadFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feed":
			w.Header().Set("Content-Type", "application/rss+xml")
			w.Write([]byte(rssFixture))
		default:
			http.Error(w, "gone", http.StatusGone)
		}
	}))
	defer srv.Close()

	reader := NewFeedReader(scraper.NewHTTPFetcher(), &scraper.FetchOptions{RetryCount: 0})

	items, err := reader.ReadFeed(context.Background(), Source{Name: "ok", FeedURL: srv.URL + "/feed"})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}

	_, err = reader.ReadFeed(context.Background(), Source{Name: "broken", FeedURL: srv.URL + "/missing"})
	var ffe *FeedFetchError
	if !errors.As(err, &ffe) {
		t.Fatalf("expected FeedFetchError, got %v", err)
	}
	if ffe.Source != "broken" {
		t.Errorf("expected source name on error, got %q", ffe.Source)
	}
}
