package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// BulkThreadsSpec describes one bulk thread listing request. Callers fill in
// whatever filters they have; Normalize applies the clamping policy before
// the SQL is composed.
type BulkThreadsSpec struct {
	CommunityID         string
	Stage               string
	Status              string
	TopicID             *int64
	ContestAddress      string
	FromDate            *time.Time
	ToDate              *time.Time
	Archived            bool
	Page                int
	Limit               int
	OrderBy             string
	WithXRecentComments int
}

const (
	maxBulkThreadsLimit     = 500
	defaultBulkThreadsLimit = 20
	maxRecentComments       = 10
)

var bulkThreadsOrderings = map[string]string{
	"newest":         "t.created_at DESC",
	"oldest":         "t.created_at ASC",
	"mostLikes":      "t.reaction_weights_sum DESC",
	"mostComments":   "t.comment_count DESC",
	"latestActivity": "t.last_activity DESC",
}

// Normalize clamps pagination and recent-comment inclusion and resolves the
// ordering expression. Unknown orderBy keys silently fall back to newest
// first; pinned threads always sort ahead of the chosen ordering.
func (q *BulkThreadsSpec) Normalize() {
	if q.Limit <= 0 {
		q.Limit = defaultBulkThreadsLimit
	}
	if q.Limit > maxBulkThreadsLimit {
		q.Limit = maxBulkThreadsLimit
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.WithXRecentComments < 0 {
		q.WithXRecentComments = 0
	}
	if q.WithXRecentComments > maxRecentComments {
		q.WithXRecentComments = maxRecentComments
	}
	if _, ok := bulkThreadsOrderings[q.OrderBy]; !ok {
		q.OrderBy = "newest"
	}
}

// Offset is derived from the normalized page and limit.
func (q *BulkThreadsSpec) Offset() int {
	return q.Limit * (q.Page - 1)
}

// OrderClause returns the full ORDER BY expression, pinned first.
func (q *BulkThreadsSpec) OrderClause() string {
	return q.orderClauseFor("t")
}

func (q *BulkThreadsSpec) orderClauseFor(alias string) string {
	order, ok := bulkThreadsOrderings[q.OrderBy]
	if !ok {
		order = bulkThreadsOrderings["newest"]
	}
	order = strings.Replace(order, "t.", alias+".", 1)
	return alias + ".pinned DESC, " + order
}

// buildBulkThreadsSQL composes the aggregate listing query: a top_threads CTE
// selects and pages the matching threads, then independent join stages attach
// topic/author metadata, collaborators, reactions, contest associations, and
// optionally recent comments, each keyed by thread id so a missing relation
// yields an empty aggregate instead of dropping the row.
func buildBulkThreadsSQL(q BulkThreadsSpec) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conds = append(conds, "t.community_id = "+arg(q.CommunityID))
	conds = append(conds, "t.deleted_at IS NULL")
	if q.Archived {
		conds = append(conds, "t.archived_at IS NOT NULL")
	} else {
		conds = append(conds, "t.archived_at IS NULL")
	}
	if q.Stage != "" {
		conds = append(conds, "t.stage = "+arg(q.Stage))
	}
	if q.TopicID != nil {
		conds = append(conds, "t.topic_id = "+arg(*q.TopicID))
	}
	if q.FromDate != nil {
		conds = append(conds, "t.created_at >= "+arg(*q.FromDate))
	}
	if q.ToDate != nil {
		conds = append(conds, "t.created_at <= "+arg(*q.ToDate))
	}
	if q.Status != "" && q.ContestAddress != "" {
		contestCond := "ct.ended_at IS NULL"
		if q.Status == "pastWinners" {
			contestCond = "ct.prize_rank IS NOT NULL"
		}
		conds = append(conds, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM contest_threads ct WHERE ct.thread_id = t.id AND ct.contest_address = %s AND %s)",
			arg(q.ContestAddress), contestCond))
	}

	limitArg := arg(q.Limit)
	offsetArg := arg(q.Offset())

	var sb strings.Builder
	sb.WriteString(`
		WITH top_threads AS (
			SELECT t.id, t.community_id, t.address_id, t.title, t.body, t.plaintext, t.kind, t.stage,
				COALESCE(t.url, '') AS url, t.topic_id, t.pinned, t.read_only,
				t.comment_count, t.reaction_weights_sum,
				t.archived_at, t.last_activity, t.created_at, t.updated_at
			FROM threads t
			WHERE ` + strings.Join(conds, "\n			  AND ") + `
			ORDER BY ` + q.OrderClause() + `
			LIMIT ` + limitArg + ` OFFSET ` + offsetArg + `
		),
		thread_metadata AS (
			SELECT tt.id AS thread_id,
				a.address,
				COALESCE(u.profile, '{}'::jsonb) AS author_profile,
				COALESCE(tp.name, '') AS topic_name
			FROM top_threads tt
			JOIN addresses a ON a.id = tt.address_id
			LEFT JOIN users u ON u.id = a.user_id
			LEFT JOIN topics tp ON tp.id = tt.topic_id
		),
		collaborator_data AS (
			SELECT c.thread_id,
				json_agg(json_build_object(
					'address', a.address,
					'community_id', a.community_id,
					'profile', COALESCE(u.profile, '{}'::jsonb)
				)) AS collaborators
			FROM collaborations c
			JOIN top_threads tt ON tt.id = c.thread_id
			JOIN addresses a ON a.id = c.address_id
			LEFT JOIN users u ON u.id = a.user_id
			GROUP BY c.thread_id
		),
		reaction_data AS (
			SELECT r.thread_id,
				json_agg(json_build_object(
					'id', r.id,
					'kind', r.kind,
					'address', a.address,
					'voting_weight', r.voting_weight,
					'profile', COALESCE(u.profile, '{}'::jsonb)
				) ORDER BY r.created_at ASC) AS reactions
			FROM reactions r
			JOIN top_threads tt ON tt.id = r.thread_id
			JOIN addresses a ON a.id = r.address_id
			LEFT JOIN users u ON u.id = a.user_id
			GROUP BY r.thread_id
		),
		contest_data AS (
			SELECT ct.thread_id,
				json_agg(json_build_object(
					'contest_address', ct.contest_address,
					'contest_id', ct.contest_id,
					'contest_name', ct.contest_name,
					'prize_rank', ct.prize_rank,
					'ended_at', ct.ended_at
				)) AS contest_actions
			FROM contest_threads ct
			JOIN top_threads tt ON tt.id = ct.thread_id
			GROUP BY ct.thread_id
		)`)

	if q.WithXRecentComments > 0 {
		sb.WriteString(`,
		recent_comments AS (
			SELECT ranked.thread_id,
				json_agg(json_build_object(
					'id', ranked.id,
					'address', ranked.address,
					'text', ranked.text,
					'created_at', ranked.created_at,
					'profile', ranked.profile
				) ORDER BY ranked.created_at DESC) AS recent_comments
			FROM (
				SELECT c.id, c.thread_id, c.text, c.created_at,
					a.address,
					COALESCE(u.profile, '{}'::jsonb) AS profile,
					ROW_NUMBER() OVER (PARTITION BY c.thread_id ORDER BY c.created_at DESC) AS rn
				FROM comments c
				JOIN top_threads tt ON tt.id = c.thread_id
				JOIN addresses a ON a.id = c.address_id
				LEFT JOIN users u ON u.id = a.user_id
				WHERE c.deleted_at IS NULL
			) ranked
			WHERE ranked.rn <= ` + arg(q.WithXRecentComments) + `
			GROUP BY ranked.thread_id
		)`)
	}

	sb.WriteString(`
		SELECT tt.id, tt.community_id, tt.address_id, tt.title, tt.body, tt.plaintext, tt.kind, tt.stage,
			tt.url, tt.topic_id, tt.pinned, tt.read_only,
			tt.comment_count, tt.reaction_weights_sum,
			tt.archived_at, tt.last_activity, tt.created_at, tt.updated_at,
			tm.address, tm.author_profile, tm.topic_name,
			COALESCE(cd.collaborators, '[]'::json)::text,
			COALESCE(rd.reactions, '[]'::json)::text,
			COALESCE(ctd.contest_actions, '[]'::json)::text`)
	if q.WithXRecentComments > 0 {
		sb.WriteString(`,
			COALESCE(rc.recent_comments, '[]'::json)::text`)
	}
	sb.WriteString(`
		FROM top_threads tt
		JOIN thread_metadata tm ON tm.thread_id = tt.id
		LEFT JOIN collaborator_data cd ON cd.thread_id = tt.id
		LEFT JOIN reaction_data rd ON rd.thread_id = tt.id
		LEFT JOIN contest_data ctd ON ctd.thread_id = tt.id`)
	if q.WithXRecentComments > 0 {
		sb.WriteString(`
		LEFT JOIN recent_comments rc ON rc.thread_id = tt.id`)
	}
	sb.WriteString(`
		ORDER BY ` + q.orderClauseFor("tt"))

	return sb.String(), args
}

// BulkThreads runs the aggregate listing query for a normalized spec.
func (s *PostgresStore) BulkThreads(ctx context.Context, q BulkThreadsSpec) ([]ThreadListing, error) {
	query, args := buildBulkThreadsSQL(q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("bulk threads: %w", err)
	}
	defer rows.Close()

	items := make([]ThreadListing, 0)
	for rows.Next() {
		var item ThreadListing
		var collaborators, reactions, contests string
		dest := []any{
			&item.ID, &item.CommunityID, &item.AddressID, &item.Title, &item.Body, &item.Plaintext,
			&item.Kind, &item.Stage, &item.URL, &item.TopicID, &item.Pinned, &item.ReadOnly,
			&item.CommentCount, &item.ReactionWeightsSum,
			&item.ArchivedAt, &item.LastActivity, &item.CreatedAt, &item.UpdatedAt,
			&item.Address, &item.AuthorProfile, &item.TopicName,
			&collaborators, &reactions, &contests,
		}
		var recent string
		if q.WithXRecentComments > 0 {
			dest = append(dest, &recent)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan bulk thread: %w", err)
		}
		item.Collaborators = []byte(collaborators)
		item.Reactions = []byte(reactions)
		item.ContestActions = []byte(contests)
		if q.WithXRecentComments > 0 {
			item.RecentComments = []byte(recent)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bulk threads: %w", err)
	}
	return items, nil
}

// CountVotingThreads counts live threads in the voting stage for a community.
func (s *PostgresStore) CountVotingThreads(ctx context.Context, communityID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM threads
		WHERE community_id=$1 AND stage='voting' AND deleted_at IS NULL
	`, communityID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count voting threads: %w", err)
	}
	return count, nil
}
