package sources

import "time"

// Candidate is a feed item considered for extraction.
type Candidate struct {
	// Position is the zero-based index in feed order.
	Position    int       `json:"position"`
	Link        string    `json:"link"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary,omitempty"`
	Content     string    `json:"content,omitempty"`
	Author      string    `json:"author,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

// Snippet returns the richest text the feed itself carries for the item.
func (c Candidate) Snippet() string {
	if c.Content != "" {
		return c.Content
	}
	return c.Summary
}

// ProcessingStatus records how an article's body was obtained.
type ProcessingStatus string

const (
	// ProcessingExtracted means the body came from the article page.
	ProcessingExtracted ProcessingStatus = "extracted"
	// ProcessingFallback means the page was unusable and the feed snippet was kept.
	ProcessingFallback ProcessingStatus = "fallback"
)

// Article is a persisted, append-only scraped article.
type Article struct {
	ID               string           `json:"id"`
	SourceID         string           `json:"source_id"`
	JobID            string           `json:"job_id,omitempty"`
	SourceURL        string           `json:"source_url"`
	Title            string           `json:"title"`
	Content          string           `json:"content"`
	ContentHTML      string           `json:"content_html,omitempty"`
	Author           string           `json:"author,omitempty"`
	PublishedAt      time.Time        `json:"publication_date,omitempty"`
	Language         string           `json:"language,omitempty"`
	ContentHash      string           `json:"content_hash"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	CreatedAt        time.Time        `json:"created_at"`
}
