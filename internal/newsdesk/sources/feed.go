package sources

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"golang.org/x/net/html/charset"

	"github.com/RobinCoderZhao/newsdesk/pkg/scraper"
)

// FeedFetchError reports that a source's feed was unreachable or unparseable.
type FeedFetchError struct {
	Source string
	URL    string
	Err    error
}

func (e *FeedFetchError) Error() string {
	return fmt.Sprintf("feed %s (%s): %v", e.Source, e.URL, e.Err)
}

func (e *FeedFetchError) Unwrap() error { return e.Err }

// FeedReader fetches and parses RSS 2.0, RSS 1.0 (RDF) and Atom feeds.
type FeedReader struct {
	fetcher scraper.Fetcher
	opts    *scraper.FetchOptions
	logger  *slog.Logger
}

// NewFeedReader creates a reader that fetches through fetcher. base supplies
// the default fetch options that each source's politeness settings refine.
func NewFeedReader(fetcher scraper.Fetcher, base *scraper.FetchOptions) *FeedReader {
	return &FeedReader{
		fetcher: fetcher,
		opts:    base,
		logger:  slog.Default(),
	}
}

// ReadFeed returns the source's items in feed order. Items without a link
// are dropped. Any failure is returned as a *FeedFetchError.
func (r *FeedReader) ReadFeed(ctx context.Context, src Source) ([]Candidate, error) {
	res, err := r.fetcher.Fetch(ctx, src.FeedURL, src.FetchOptions(r.opts))
	if err != nil {
		return nil, &FeedFetchError{Source: src.Name, URL: src.FeedURL, Err: err}
	}

	base, _ := url.Parse(res.FinalURL)
	if base == nil || base.Host == "" {
		base, _ = url.Parse(src.FeedURL)
	}

	items, err := ParseFeed(res.Body, base)
	if err != nil {
		return nil, &FeedFetchError{Source: src.Name, URL: src.FeedURL, Err: err}
	}
	r.logger.Debug("feed read", "source", src.Name, "items", len(items))
	return items, nil
}

// ParseFeed auto-detects the feed format from the root element and returns
// its items with links resolved against base.
func ParseFeed(data []byte, base *url.URL) ([]Candidate, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty feed")
	}

	var items []Candidate
	switch detectFormat(trimmed) {
	case "rss":
		var feed rssFeed
		if err := decodeXML(trimmed, &feed); err != nil {
			return nil, fmt.Errorf("parse rss: %w", err)
		}
		items = convertRSSItems(feed.Channel.Items)
	case "rdf":
		var feed rdfFeed
		if err := decodeXML(trimmed, &feed); err != nil {
			return nil, fmt.Errorf("parse rdf: %w", err)
		}
		items = convertRSSItems(feed.Items)
	case "atom":
		var feed atomFeed
		if err := decodeXML(trimmed, &feed); err != nil {
			return nil, fmt.Errorf("parse atom: %w", err)
		}
		items = convertAtomEntries(feed.Entries)
	default:
		return nil, fmt.Errorf("failed to parse feed as RSS or Atom")
	}

	out := items[:0]
	for _, it := range items {
		link := resolveLink(base, it.Link)
		if link == "" {
			continue
		}
		it.Link = link
		it.Position = len(out)
		out = append(out, it)
	}
	return out, nil
}

func newDecoder(data []byte) *xml.Decoder {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.CharsetReader = charset.NewReaderLabel
	d.Strict = false
	d.Entity = xml.HTMLEntity
	return d
}

func decodeXML(data []byte, v any) error {
	return newDecoder(data).Decode(v)
}

func detectFormat(data []byte) string {
	d := newDecoder(data)
	for {
		tok, err := d.Token()
		if err != nil {
			return ""
		}
		if se, ok := tok.(xml.StartElement); ok {
			switch strings.ToLower(se.Name.Local) {
			case "rss":
				return "rss"
			case "rdf":
				return "rdf"
			case "feed":
				return "atom"
			}
			return ""
		}
	}
}

// RSS 2.0 types
type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	Description string `xml:"description"`
	Content     string `xml:"encoded"` // content:encoded
	PubDate     string `xml:"pubDate"`
	Date        string `xml:"date"` // dc:date
	Author      string `xml:"author"`
	Creator     string `xml:"creator"` // dc:creator
}

// RSS 1.0 keeps items beside the channel, under the rdf:RDF root.
type rdfFeed struct {
	XMLName xml.Name  `xml:"RDF"`
	Items   []rssItem `xml:"item"`
}

// Atom types
type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string       `xml:"id"`
	Title     string       `xml:"title"`
	Links     []atomLink   `xml:"link"`
	Summary   string       `xml:"summary"`
	Content   string       `xml:"content"`
	Published string       `xml:"published"`
	Updated   string       `xml:"updated"`
	Authors   []atomAuthor `xml:"author"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

func convertRSSItems(items []rssItem) []Candidate {
	out := make([]Candidate, 0, len(items))
	for _, item := range items {
		link := strings.TrimSpace(item.Link)
		if link == "" && strings.HasPrefix(strings.TrimSpace(item.GUID), "http") {
			link = strings.TrimSpace(item.GUID)
		}
		author := strings.TrimSpace(item.Author)
		if author == "" {
			author = strings.TrimSpace(item.Creator)
		}
		date := item.PubDate
		if strings.TrimSpace(date) == "" {
			date = item.Date
		}
		out = append(out, Candidate{
			Link:        link,
			Title:       strings.TrimSpace(item.Title),
			Summary:     strings.TrimSpace(item.Description),
			Content:     strings.TrimSpace(item.Content),
			Author:      author,
			PublishedAt: parseDate(date),
		})
	}
	return out
}

func convertAtomEntries(entries []atomEntry) []Candidate {
	out := make([]Candidate, 0, len(entries))
	for _, entry := range entries {
		var author string
		if len(entry.Authors) > 0 {
			author = strings.TrimSpace(entry.Authors[0].Name)
		}
		date := entry.Published
		if strings.TrimSpace(date) == "" {
			date = entry.Updated
		}
		out = append(out, Candidate{
			Link:        atomEntryLink(entry.Links),
			Title:       strings.TrimSpace(entry.Title),
			Summary:     strings.TrimSpace(entry.Summary),
			Content:     strings.TrimSpace(entry.Content),
			Author:      author,
			PublishedAt: parseDate(date),
		})
	}
	return out
}

func atomEntryLink(links []atomLink) string {
	for _, l := range links {
		if l.Rel == "alternate" || l.Rel == "" {
			return strings.TrimSpace(l.Href)
		}
	}
	if len(links) > 0 {
		return strings.TrimSpace(links[0].Href)
	}
	return ""
}

func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func resolveLink(base *url.URL, link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	if !u.IsAbs() {
		if base == nil {
			return ""
		}
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}
