package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/sources"
)

// UpsertSource stores src keyed by name, refreshing its domain and feed URL,
// and returns it with its persistent ID.
func (s *Store) UpsertSource(ctx context.Context, src sources.Source) (sources.Source, error) {
	now := formatTime(time.Now())
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sources (id, name, domain, feed_url, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				domain = excluded.domain,
				feed_url = excluded.feed_url,
				updated_at = excluded.updated_at
		`, uuid.NewString(), src.Name, src.Domain, src.FeedURL, now, now)
		if err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `SELECT id FROM sources WHERE name = ?`, src.Name).Scan(&src.ID)
	})
	if err != nil {
		return src, wrap("upsert source", err)
	}
	return src, nil
}

// ListSources returns every persisted source ordered by name.
func (s *Store) ListSources(ctx context.Context) ([]sources.Source, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, domain, feed_url FROM sources ORDER BY name`)
	if err != nil {
		return nil, wrap("list sources", err)
	}
	defer rows.Close()

	var out []sources.Source
	for rows.Next() {
		var src sources.Source
		if err := rows.Scan(&src.ID, &src.Name, &src.Domain, &src.FeedURL); err != nil {
			return nil, wrap("list sources", err)
		}
		out = append(out, src)
	}
	return out, wrap("list sources", rows.Err())
}

// ArticleExists reports whether an article with this exact URL is stored.
func (s *Store) ArticleExists(ctx context.Context, sourceURL string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM articles WHERE source_url = ?`, sourceURL).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, wrap("article exists", err)
	}
	return true, nil
}

// ExistingURLs returns the subset of urls already stored.
func (s *Store) ExistingURLs(ctx context.Context, urls []string) (map[string]bool, error) {
	found := make(map[string]bool)
	const chunk = 500
	for start := 0; start < len(urls); start += chunk {
		end := min(start+chunk, len(urls))
		batch := urls[start:end]

		args := make([]any, len(batch))
		for i, u := range batch {
			args[i] = u
		}
		query := `SELECT source_url FROM articles WHERE source_url IN (?` +
			strings.Repeat(",?", len(batch)-1) + `)`

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, wrap("existing urls", err)
		}
		for rows.Next() {
			var u string
			if err := rows.Scan(&u); err != nil {
				rows.Close()
				return nil, wrap("existing urls", err)
			}
			found[u] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, wrap("existing urls", err)
		}
	}
	return found, nil
}

// InsertArticle stores a new article. If the URL is already present the
// insert is a no-op and ErrDuplicate is returned.
func (s *Store) InsertArticle(ctx context.Context, a *sources.Article) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO articles (id, source_id, job_id, source_url, title, content, content_html,
			author, publication_date, language, content_hash, processing_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_url) DO NOTHING
	`, a.ID, a.SourceID, nullString(a.JobID), a.SourceURL, a.Title, a.Content, nullString(a.ContentHTML),
		nullString(a.Author), nullTime(a.PublishedAt), nullString(a.Language), a.ContentHash,
		string(a.ProcessingStatus), formatTime(a.CreatedAt))
	if err != nil {
		return wrap("insert article", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("insert article", err)
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

// GetArticle returns the article stored under sourceURL, or nil if none.
func (s *Store) GetArticle(ctx context.Context, sourceURL string) (*sources.Article, error) {
	rows, err := s.db.QueryContext(ctx, selectArticles+` WHERE source_url = ?`, sourceURL)
	if err != nil {
		return nil, wrap("get article", err)
	}
	list, err := scanArticles(rows)
	if err != nil {
		return nil, wrap("get article", err)
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// ArticleFilter narrows article listings. Zero values match everything.
type ArticleFilter struct {
	SourceID string
	JobID    string
	Limit    int
	Offset   int
}

func (f ArticleFilter) where() (string, []any) {
	var conds []string
	var args []any
	if f.SourceID != "" {
		conds = append(conds, "source_id = ?")
		args = append(args, f.SourceID)
	}
	if f.JobID != "" {
		conds = append(conds, "job_id = ?")
		args = append(args, f.JobID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// CountArticles returns the number of articles matching f.
func (s *Store) CountArticles(ctx context.Context, f ArticleFilter) (int, error) {
	where, args := f.where()
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles`+where, args...).Scan(&n)
	return n, wrap("count articles", err)
}

// ListArticles returns articles matching f, newest first.
func (s *Store) ListArticles(ctx context.Context, f ArticleFilter) ([]sources.Article, error) {
	where, args := f.where()
	limit, offset := clampPage(f.Limit, f.Offset)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, selectArticles+where+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, wrap("list articles", err)
	}
	list, err := scanArticles(rows)
	return list, wrap("list articles", err)
}

const selectArticles = `
	SELECT id, source_id, job_id, source_url, title, content, content_html, author,
		publication_date, language, content_hash, processing_status, created_at
	FROM articles`

func scanArticles(rows *sql.Rows) ([]sources.Article, error) {
	defer rows.Close()

	var out []sources.Article
	for rows.Next() {
		var (
			a                         sources.Article
			jobID, html, author, lang sql.NullString
			published                 sql.NullString
			status, createdAt         string
		)
		if err := rows.Scan(&a.ID, &a.SourceID, &jobID, &a.SourceURL, &a.Title, &a.Content, &html,
			&author, &published, &lang, &a.ContentHash, &status, &createdAt); err != nil {
			return nil, err
		}
		a.JobID = jobID.String
		a.ContentHTML = html.String
		a.Author = author.String
		a.Language = lang.String
		a.PublishedAt = parseTime(published.String)
		a.ProcessingStatus = sources.ProcessingStatus(status)
		a.CreatedAt = parseTime(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}
