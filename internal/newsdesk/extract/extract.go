// Package extract turns an article page into structured article fields.
//
// Extraction is layered: a priority list of structural selectors, then a
// readability pass, then the whole <body>, and finally the snippet the feed
// itself carried. The first layer that yields enough text wins.
package extract

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"

	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/sources"
	"github.com/RobinCoderZhao/newsdesk/pkg/scraper"
)

// ErrNoContent means neither the page nor the feed carried usable text.
var ErrNoContent = errors.New("no extractable content")

var errInvalidURL = errors.New("invalid article url")

// ExtractionError reports a candidate that could not be turned into an article.
type ExtractionError struct {
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// DefaultSelectors are tried in order: article body, main content
// container, generic content class.
var DefaultSelectors = []string{
	"[itemprop=articleBody]",
	".article-body",
	".article-content",
	".story-body",
	".entry-content",
	".post-content",
	"article",
	"main",
	"[role=main]",
	"#content",
	".content",
}

// noise is removed before any layer runs. Headers inside <article> often
// carry the headline, so only the page-level header goes.
const noise = "script, style, noscript, iframe, svg, form, nav, footer, aside, body > header, " +
	".advertisement, .ad, .ads, .promo, .newsletter, .share, .social, .related, .comments"

// Options tunes extraction.
type Options struct {
	Selectors []string
	// MinContentLength is the minimum rune count a layer must produce.
	MinContentLength int
}

// Result is an extracted article plus how it was obtained.
type Result struct {
	Article sources.Article
	// Layer names the strategy that produced the body.
	Layer string
	// Reason explains why a fallback article was produced.
	Reason error
}

// Fallback reports whether the body came from the feed instead of the page.
func (r *Result) Fallback() bool {
	return r.Article.ProcessingStatus == sources.ProcessingFallback
}

// Extractor fetches article pages and extracts their content.
type Extractor struct {
	fetcher scraper.Fetcher
	opts    *scraper.FetchOptions
	cfg     Options
	md      *converter.Converter
	policy  *bluemonday.Policy
}

// New creates an Extractor that fetches pages through fetcher.
func New(fetcher scraper.Fetcher, opts *scraper.FetchOptions, cfg Options) *Extractor {
	if len(cfg.Selectors) == 0 {
		cfg.Selectors = DefaultSelectors
	}
	if cfg.MinContentLength <= 0 {
		cfg.MinContentLength = 200
	}
	return &Extractor{
		fetcher: fetcher,
		opts:    opts,
		cfg:     cfg,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
		policy: bluemonday.UGCPolicy(),
	}
}

// Extract fetches the candidate's page and extracts its article. When the page
// is unreachable or has no usable text, the feed snippet is used instead and
// the result is marked as a fallback. Failures are *ExtractionError.
func (e *Extractor) Extract(ctx context.Context, src sources.Source, c sources.Candidate) (*Result, error) {
	pageURL, err := url.Parse(c.Link)
	if err != nil || !pageURL.IsAbs() {
		return nil, &ExtractionError{URL: c.Link, Err: errInvalidURL}
	}

	res, err := e.fetcher.Fetch(ctx, c.Link, src.FetchOptions(e.opts))
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ExtractionError{URL: c.Link, Err: ctx.Err()}
		}
		return e.fallback(c, fmt.Errorf("fetch page: %w", err))
	}
	if !isHTML(res.ContentType) {
		return e.fallback(c, fmt.Errorf("unsupported content type %q", res.ContentType))
	}
	if final, err := url.Parse(res.FinalURL); err == nil && final.IsAbs() {
		pageURL = final
	}

	out, err := e.extractPage(res.Body, pageURL, c)
	if err != nil {
		return e.fallback(c, err)
	}
	return out, nil
}

// ExtractHTML runs the page layers over already fetched HTML.
func (e *Extractor) ExtractHTML(body []byte, pageURL string, c sources.Candidate) (*Result, error) {
	u, err := url.Parse(pageURL)
	if err != nil || !u.IsAbs() {
		return nil, &ExtractionError{URL: pageURL, Err: errInvalidURL}
	}
	out, err := e.extractPage(body, u, c)
	if err != nil {
		return e.fallback(c, err)
	}
	return out, nil
}

func (e *Extractor) extractPage(body []byte, pageURL *url.URL, c sources.Candidate) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	meta := readMeta(doc)
	absolutize(doc, pageURL)
	doc.Find(noise).Remove()

	var (
		bodyHTML string
		text     string
		layer    string
		byline   string
	)

	for _, sel := range e.cfg.Selectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		h, err := goquery.OuterHtml(node)
		if err != nil {
			continue
		}
		if t := e.toText(h, pageURL); runeLen(t) >= e.cfg.MinContentLength {
			bodyHTML, text, layer = h, t, "selector:"+sel
			break
		}
	}

	if layer == "" {
		if art, err := readability.FromReader(bytes.NewReader(body), pageURL); err == nil {
			byline = strings.TrimSpace(art.Byline)
			if t := e.toText(art.Content, pageURL); runeLen(t) >= e.cfg.MinContentLength {
				bodyHTML, text, layer = art.Content, t, "readability"
			}
		}
	}

	if layer == "" {
		h, _ := doc.Find("body").First().Html()
		t := e.toText(h, pageURL)
		switch {
		case runeLen(t) >= e.cfg.MinContentLength:
		case t != "" && strings.TrimSpace(c.Snippet()) == "":
			// Short, but still better than nothing.
		default:
			return nil, ErrNoContent
		}
		bodyHTML, text, layer = h, t, "body"
	}

	a := sources.Article{
		SourceURL:        c.Link,
		Title:            firstNonEmpty(meta.heading, meta.ogTitle, c.Title, meta.docTitle, c.Link),
		Content:          text,
		ContentHTML:      strings.TrimSpace(e.policy.Sanitize(bodyHTML)),
		Author:           firstNonEmpty(meta.author, byline, c.Author),
		Language:         meta.language,
		ProcessingStatus: sources.ProcessingExtracted,
		PublishedAt:      meta.published,
		ContentHash:      Hash(text),
	}
	if a.PublishedAt.IsZero() {
		a.PublishedAt = c.PublishedAt
	}
	return &Result{Article: a, Layer: layer}, nil
}

// fallback builds a degraded article from the feed item alone.
func (e *Extractor) fallback(c sources.Candidate, reason error) (*Result, error) {
	snippet := strings.TrimSpace(c.Snippet())
	if snippet == "" {
		return nil, &ExtractionError{URL: c.Link, Err: errors.Join(reason, ErrNoContent)}
	}
	link, _ := url.Parse(c.Link)
	text := e.toText(snippet, link)
	if text == "" {
		return nil, &ExtractionError{URL: c.Link, Err: errors.Join(reason, ErrNoContent)}
	}

	a := sources.Article{
		SourceURL:        c.Link,
		Title:            firstNonEmpty(c.Title, c.Link),
		Content:          text,
		Author:           c.Author,
		PublishedAt:      c.PublishedAt,
		ProcessingStatus: sources.ProcessingFallback,
		ContentHash:      Hash(text),
	}
	if strings.Contains(snippet, "<") {
		a.ContentHTML = strings.TrimSpace(e.policy.Sanitize(snippet))
	}
	return &Result{Article: a, Layer: "feed", Reason: reason}, nil
}

// toText converts an HTML fragment to paragraph-preserving text with
// promotional blocks removed.
func (e *Extractor) toText(fragment string, pageURL *url.URL) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	var opts []converter.ConvertOptionFunc
	if pageURL != nil && pageURL.Host != "" {
		opts = append(opts, converter.WithDomain(pageURL.Scheme+"://"+pageURL.Host))
	}
	md, err := e.md.ConvertString(fragment, opts...)
	if err != nil || strings.TrimSpace(md) == "" {
		md = scraper.ExtractText(fragment)
	}
	return scraper.NormalizeText(StripPromo(md))
}

// Hash fingerprints article text for integrity checks.
func Hash(text string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(text)))
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "html") || strings.Contains(ct, "xml") || strings.HasPrefix(ct, "text/")
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
