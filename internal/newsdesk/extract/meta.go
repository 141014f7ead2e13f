package extract

import (
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
)

type pageMeta struct {
	heading   string
	ogTitle   string
	docTitle  string
	author    string
	language  string
	published time.Time
}

func readMeta(doc *goquery.Document) pageMeta {
	var m pageMeta

	m.heading = cleanSpace(doc.Find("article h1").First().Text())
	if m.heading == "" {
		m.heading = cleanSpace(doc.Find("h1").First().Text())
	}
	m.ogTitle = metaContent(doc, `meta[property="og:title"]`, `meta[name="twitter:title"]`)
	m.docTitle = cleanSpace(doc.Find("title").First().Text())

	m.author = metaContent(doc, `meta[name="author"]`, `meta[property="article:author"]`, `meta[name="byl"]`)
	if strings.HasPrefix(m.author, "http") {
		m.author = ""
	}
	if m.author == "" {
		m.author = cleanSpace(doc.Find(`[rel="author"]`).First().Text())
	}
	m.author = strings.TrimSpace(strings.TrimPrefix(m.author, "By "))

	lang, _ := doc.Find("html").First().Attr("lang")
	if lang == "" {
		lang = metaContent(doc, `meta[http-equiv="content-language"]`, `meta[property="og:locale"]`)
	}
	m.language = normalizeLanguage(lang)

	published := metaContent(doc,
		`meta[property="article:published_time"]`,
		`meta[itemprop="datePublished"]`,
		`meta[name="date"]`,
	)
	if published == "" {
		published, _ = doc.Find("time[datetime]").First().Attr("datetime")
	}
	if published != "" {
		if t, err := dateparse.ParseAny(strings.TrimSpace(published)); err == nil {
			m.published = t.UTC()
		}
	}
	return m
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok {
			if v = cleanSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// normalizeLanguage reduces "en-GB" or "en_GB" to "en".
func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if len(lang) < 2 || len(lang) > 3 {
		return ""
	}
	return lang
}

// absolutize rewrites relative link and media URLs against the page URL,
// honoring a <base href> if the page declares one.
func absolutize(doc *goquery.Document, pageURL *url.URL) {
	if pageURL == nil {
		return
	}
	base := pageURL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if u, err := pageURL.Parse(strings.TrimSpace(href)); err == nil {
			base = u
		}
	}

	rewrite := func(sel, attr string) {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			v, ok := s.Attr(attr)
			if !ok {
				return
			}
			v = strings.TrimSpace(v)
			if v == "" || strings.HasPrefix(v, "#") || strings.HasPrefix(v, "data:") ||
				strings.HasPrefix(v, "mailto:") || strings.HasPrefix(v, "javascript:") {
				return
			}
			u, err := base.Parse(v)
			if err != nil {
				return
			}
			s.SetAttr(attr, u.String())
		})
	}
	rewrite("a[href]", "href")
	rewrite("img[src]", "src")
	rewrite("source[src]", "src")
	rewrite("video[src]", "src")
	rewrite("audio[src]", "src")
}

func cleanSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
