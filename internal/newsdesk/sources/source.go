// Package sources defines news sources, the registry that resolves them by
// name, and the feed reader that turns a source's RSS/Atom feed into
// candidate items.
package sources

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/RobinCoderZhao/newsdesk/pkg/scraper"
)

// Politeness holds per-source request etiquette.
type Politeness struct {
	RespectRobots bool          `yaml:"respect_robots" json:"respect_robots"`
	Delay         time.Duration `yaml:"delay" json:"delay"`
	UserAgent     string        `yaml:"user_agent" json:"user_agent,omitempty"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
}

// Source is a configured news feed plus its politeness settings.
type Source struct {
	ID         string `yaml:"-" json:"id,omitempty"`
	Name       string `yaml:"name" json:"name"`
	Domain     string `yaml:"domain" json:"domain"`
	FeedURL    string `yaml:"feed_url" json:"feed_url"`
	Politeness `yaml:",inline" json:"politeness"`
}

// Validate checks the fields the pipeline depends on and fills Domain from
// the feed URL when it is missing.
func (s *Source) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("source: name is required")
	}
	u, err := url.Parse(s.FeedURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("source %s: invalid feed_url %q", s.Name, s.FeedURL)
	}
	if s.Domain == "" {
		s.Domain = strings.TrimPrefix(u.Hostname(), "www.")
	}
	return nil
}

// FetchOptions merges the source's politeness settings over base.
func (s Source) FetchOptions(base *scraper.FetchOptions) *scraper.FetchOptions {
	opts := scraper.DefaultFetchOptions()
	if base != nil {
		cp := *base
		opts = &cp
	}
	if s.UserAgent != "" {
		opts.UserAgent = s.UserAgent
	}
	if s.Timeout > 0 {
		opts.Timeout = s.Timeout
	}
	if s.Delay > 0 {
		opts.Delay = s.Delay
	}
	opts.RespectRobots = opts.RespectRobots || s.RespectRobots
	return opts
}

// Registry holds the known sources, keyed case-insensitively by name.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Source
	order  []string
}

// NewRegistry creates a new source registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Source)}
}

// Register adds or replaces a source.
func (r *Registry) Register(s Source) error {
	if err := s.Validate(); err != nil {
		return err
	}
	key := strings.ToLower(strings.TrimSpace(s.Name))

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[key]; !ok {
		r.order = append(r.order, key)
	}
	r.byName[key] = s
	return nil
}

// Get returns the source registered under name.
func (r *Registry) Get(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return s, ok
}

// List returns all sources in registration order.
func (r *Registry) List() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.byName[k])
	}
	return out
}
