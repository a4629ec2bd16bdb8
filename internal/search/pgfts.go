package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across threads and comments using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	// Threads sub-query
	if q.FilterType == "" || q.FilterType == ResultThread {
		threadWhere := "t.fts @@ " + tsQuery + " AND t.deleted_at IS NULL"
		if q.FilterCommunityID != "" {
			threadWhere += fmt.Sprintf(" AND t.community_id = $%d", argN)
			args = append(args, q.FilterCommunityID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'thread'::text AS type, t.id::text, t.title,
				ts_headline('english', coalesce(t.plaintext, t.body, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				t.id::text AS thread_id, t.community_id,
				ts_rank(t.fts, %s) AS rank
			FROM threads t
			WHERE %s`, tsQuery, tsQuery, threadWhere))
	}

	// Comments sub-query
	if q.FilterType == "" || q.FilterType == ResultComment {
		commentWhere := "c.fts @@ " + tsQuery + " AND c.deleted_at IS NULL AND t.deleted_at IS NULL"
		if q.FilterCommunityID != "" {
			commentWhere += fmt.Sprintf(" AND t.community_id = $%d", argN)
			args = append(args, q.FilterCommunityID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS type, c.id::text, t.title,
				ts_headline('english', coalesce(c.plaintext, c.text, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				t.id::text AS thread_id, t.community_id,
				ts_rank(c.fts, %s) AS rank
			FROM comments c
			JOIN threads t ON t.id = c.thread_id
			WHERE %s`, tsQuery, tsQuery, commentWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, thread_id, community_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ThreadID, &r.CommunityID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ThreadRecord, []CommentRecord, error) {
	threadRows, err := p.db.QueryContext(ctx, `
		SELECT id::text, title, COALESCE(plaintext, body, ''), community_id, COALESCE(stage, '')
		FROM threads
		WHERE deleted_at IS NULL
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load threads: %w", err)
	}
	defer threadRows.Close()

	threads := make([]ThreadRecord, 0)
	for threadRows.Next() {
		var t ThreadRecord
		if err := threadRows.Scan(&t.ID, &t.Title, &t.Body, &t.CommunityID, &t.Stage); err != nil {
			return nil, nil, fmt.Errorf("scan thread: %w", err)
		}
		threads = append(threads, t)
	}
	if err := threadRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate threads: %w", err)
	}

	commentRows, err := p.db.QueryContext(ctx, `
		SELECT c.id::text, COALESCE(c.plaintext, c.text, ''), c.thread_id::text, t.community_id
		FROM comments c
		JOIN threads t ON t.id = c.thread_id
		WHERE c.deleted_at IS NULL AND t.deleted_at IS NULL
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()

	comments := make([]CommentRecord, 0)
	for commentRows.Next() {
		var c CommentRecord
		if err := commentRows.Scan(&c.ID, &c.Text, &c.ThreadID, &c.CommunityID); err != nil {
			return nil, nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := commentRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate comments: %w", err)
	}

	return threads, comments, nil
}
