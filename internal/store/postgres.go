package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) GetCommunity(ctx context.Context, communityID string) (Community, error) {
	var item Community
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, base, COALESCE(description, ''), created_at, updated_at
		FROM communities
		WHERE id=$1
	`, communityID).Scan(&item.ID, &item.Name, &item.Base, &item.Description, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Community{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetTopic(ctx context.Context, topicID int64) (Topic, error) {
	var item Topic
	var groupIDs []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, community_id, name, COALESCE(description, ''), COALESCE(group_ids, '[]'::jsonb), created_at
		FROM topics
		WHERE id=$1
	`, topicID).Scan(&item.ID, &item.CommunityID, &item.Name, &item.Description, &groupIDs, &item.CreatedAt)
	if err != nil {
		return Topic{}, err
	}
	if err := json.Unmarshal(groupIDs, &item.GroupIDs); err != nil {
		return Topic{}, fmt.Errorf("decode topic group ids: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetGroups(ctx context.Context, groupIDs []int64) ([]Group, error) {
	if len(groupIDs) == 0 {
		return []Group{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, community_id, name, COALESCE(requirements, '[]'::jsonb), created_at
		FROM groups
		WHERE id = ANY($1)
	`, pq.Array(groupIDs))
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	items := make([]Group, 0)
	for rows.Next() {
		var item Group
		if err := rows.Scan(&item.ID, &item.CommunityID, &item.Name, &item.Requirements, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetAddressByID(ctx context.Context, addressID int64) (Address, error) {
	var item Address
	err := s.db.QueryRowContext(ctx, `
		SELECT id, community_id, address, user_id, COALESCE(role, 'member'), last_active, deleted_at, created_at
		FROM addresses
		WHERE id=$1
	`, addressID).Scan(&item.ID, &item.CommunityID, &item.Address, &item.UserID, &item.Role, &item.LastActive, &item.DeletedAt, &item.CreatedAt)
	if err != nil {
		return Address{}, err
	}
	return item, nil
}

func (s *PostgresStore) FindAddress(ctx context.Context, communityID, addr string) (Address, error) {
	var item Address
	err := s.db.QueryRowContext(ctx, `
		SELECT id, community_id, address, user_id, COALESCE(role, 'member'), last_active, deleted_at, created_at
		FROM addresses
		WHERE community_id=$1 AND address=$2
	`, communityID, addr).Scan(&item.ID, &item.CommunityID, &item.Address, &item.UserID, &item.Role, &item.LastActive, &item.DeletedAt, &item.CreatedAt)
	if err != nil {
		return Address{}, err
	}
	return item, nil
}

func (s *PostgresStore) EnsureAddress(ctx context.Context, communityID, addr string) (Address, error) {
	existing, err := s.FindAddress(ctx, communityID, addr)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Address{}, fmt.Errorf("lookup address: %w", err)
	}

	var item Address
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO addresses (community_id, address, role, last_active)
		VALUES ($1, $2, 'member', NOW())
		RETURNING id, community_id, address, user_id, role, last_active, deleted_at, created_at
	`, communityID, addr).Scan(&item.ID, &item.CommunityID, &item.Address, &item.UserID, &item.Role, &item.LastActive, &item.DeletedAt, &item.CreatedAt)
	if err != nil {
		return Address{}, fmt.Errorf("insert address: %w", err)
	}
	return item, nil
}

// GetAddressEmail resolves the email of the user linked to an address.
// Addresses without a linked user, or users without an email, report false.
func (s *PostgresStore) GetAddressEmail(ctx context.Context, addressID int64) (string, bool, error) {
	var email string
	err := s.db.QueryRowContext(ctx, `
		SELECT u.email
		FROM addresses a
		JOIN users u ON u.id = a.user_id
		WHERE a.id=$1 AND u.email <> ''
	`, addressID).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return email, true, nil
}

func (s *PostgresStore) TouchAddress(ctx context.Context, addressID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE addresses SET last_active=NOW() WHERE id=$1`, addressID)
	if err != nil {
		return fmt.Errorf("touch address: %w", err)
	}
	return nil
}

// GetBan reports whether an address is banned in a community and the
// recorded reason.
func (s *PostgresStore) GetBan(ctx context.Context, communityID, addr string) (string, bool, error) {
	var reason string
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(reason, '') FROM bans WHERE community_id=$1 AND address=$2
	`, communityID, addr).Scan(&reason)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup ban: %w", err)
	}
	return reason, true, nil
}

func (s *PostgresStore) ListBans(ctx context.Context, communityID string) ([]Ban, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT community_id, address, COALESCE(reason, ''), created_at
		FROM bans
		WHERE community_id=$1
	`, communityID)
	if err != nil {
		return nil, fmt.Errorf("list bans: %w", err)
	}
	defer rows.Close()

	items := make([]Ban, 0)
	for rows.Next() {
		var item Ban
		if err := rows.Scan(&item.CommunityID, &item.Address, &item.Reason, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ban: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bans: %w", err)
	}
	return items, nil
}

const threadColumns = `id, community_id, address_id, title, body, COALESCE(plaintext, ''), kind, COALESCE(stage, ''), COALESCE(url, ''),
	topic_id, pinned, read_only, comment_count, reaction_weights_sum, archived_at, deleted_at, last_activity, created_at, updated_at`

func scanThread(row interface{ Scan(...any) error }) (Thread, error) {
	var item Thread
	err := row.Scan(
		&item.ID, &item.CommunityID, &item.AddressID, &item.Title, &item.Body, &item.Plaintext,
		&item.Kind, &item.Stage, &item.URL, &item.TopicID, &item.Pinned, &item.ReadOnly,
		&item.CommentCount, &item.ReactionWeightsSum, &item.ArchivedAt, &item.DeletedAt,
		&item.LastActivity, &item.CreatedAt, &item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) GetThread(ctx context.Context, threadID int64) (Thread, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+threadColumns+` FROM threads WHERE id=$1 AND deleted_at IS NULL`, threadID)
	return scanThread(row)
}

// InsertThread creates the thread row and the author's subscription in one
// transaction and returns the stored row.
func (s *PostgresStore) InsertThread(ctx context.Context, thread Thread) (Thread, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Thread{}, fmt.Errorf("begin insert thread tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		INSERT INTO threads (community_id, address_id, title, body, plaintext, kind, stage, url, topic_id, read_only, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, NOW())
		RETURNING `+threadColumns+`
	`, thread.CommunityID, thread.AddressID, thread.Title, thread.Body, thread.Plaintext,
		thread.Kind, thread.Stage, thread.URL, thread.TopicID, thread.ReadOnly)
	created, err := scanThread(row)
	if err != nil {
		return Thread{}, fmt.Errorf("insert thread: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO subscriptions (address_id, community_id, category_id, thread_id)
		VALUES ($1, $2, 'new-comment-creation', $3)
	`, created.AddressID, created.CommunityID, created.ID); err != nil {
		return Thread{}, fmt.Errorf("insert thread subscription: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Thread{}, fmt.Errorf("commit insert thread: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateThread(ctx context.Context, threadID int64, title, body, plaintext, stage string) (Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE threads
		SET title=$2, body=$3, plaintext=$4, stage=$5, updated_at=NOW(), last_activity=NOW()
		WHERE id=$1 AND deleted_at IS NULL
		RETURNING `+threadColumns+`
	`, threadID, title, body, plaintext, stage)
	item, err := scanThread(row)
	if err != nil {
		return Thread{}, err
	}
	return item, nil
}

// DeleteThread destroys the thread row together with its comments, reactions,
// collaborations, and subscriptions.
func (s *PostgresStore) DeleteThread(ctx context.Context, threadID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete thread tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM subscriptions WHERE thread_id=$1`,
		`DELETE FROM reactions WHERE thread_id=$1 OR comment_id IN (SELECT id FROM comments WHERE thread_id=$1)`,
		`DELETE FROM collaborations WHERE thread_id=$1`,
		`DELETE FROM contest_threads WHERE thread_id=$1`,
		`DELETE FROM comments WHERE thread_id=$1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, threadID); err != nil {
			return fmt.Errorf("delete thread dependents: %w", err)
		}
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id=$1`, threadID)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete thread rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return tx.Commit()
}

func (s *PostgresStore) PinThread(ctx context.Context, threadID int64, pinned bool) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE threads SET pinned=$2, updated_at=NOW() WHERE id=$1 AND deleted_at IS NULL
	`, threadID, pinned)
	if err != nil {
		return false, fmt.Errorf("pin thread: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pin thread rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) SetThreadArchived(ctx context.Context, threadID int64, archived bool) (bool, error) {
	var result sql.Result
	var err error
	if archived {
		result, err = s.db.ExecContext(ctx, `
			UPDATE threads SET archived_at=NOW(), updated_at=NOW() WHERE id=$1 AND deleted_at IS NULL AND archived_at IS NULL
		`, threadID)
	} else {
		result, err = s.db.ExecContext(ctx, `
			UPDATE threads SET archived_at=NULL, updated_at=NOW() WHERE id=$1 AND deleted_at IS NULL AND archived_at IS NOT NULL
		`, threadID)
	}
	if err != nil {
		return false, fmt.Errorf("set thread archived: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set thread archived rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID int64) (Comment, error) {
	var item Comment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, parent_id, address_id, text, COALESCE(plaintext, ''), deleted_at, created_at, updated_at
		FROM comments
		WHERE id=$1
	`, commentID).Scan(&item.ID, &item.ThreadID, &item.ParentID, &item.AddressID, &item.Text, &item.Plaintext, &item.DeletedAt, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Comment{}, err
	}
	return item, nil
}

// CommentDepth walks the parent chain of a comment and returns its depth from
// the root (a top-level comment has depth 0).
func (s *PostgresStore) CommentDepth(ctx context.Context, commentID int64) (int, error) {
	var depth int
	err := s.db.QueryRowContext(ctx, `
		WITH RECURSIVE parents AS (
			SELECT id, parent_id, 0 AS depth
			FROM comments
			WHERE id=$1
			UNION ALL
			SELECT c.id, c.parent_id, p.depth + 1
			FROM comments c
			JOIN parents p ON c.id = p.parent_id
		)
		SELECT MAX(depth) FROM parents
	`, commentID).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("comment depth: %w", err)
	}
	return depth, nil
}

// InsertComment creates the comment row, bumps the thread's comment count and
// activity time, and subscribes the author, all in one transaction.
func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) (Comment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Comment{}, fmt.Errorf("begin insert comment tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var created Comment
	err = tx.QueryRowContext(ctx, `
		INSERT INTO comments (thread_id, parent_id, address_id, text, plaintext)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, thread_id, parent_id, address_id, text, COALESCE(plaintext, ''), deleted_at, created_at, updated_at
	`, comment.ThreadID, comment.ParentID, comment.AddressID, comment.Text, comment.Plaintext).Scan(
		&created.ID, &created.ThreadID, &created.ParentID, &created.AddressID,
		&created.Text, &created.Plaintext, &created.DeletedAt, &created.CreatedAt, &created.UpdatedAt,
	)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE threads SET comment_count=comment_count+1, last_activity=NOW() WHERE id=$1
	`, comment.ThreadID); err != nil {
		return Comment{}, fmt.Errorf("bump comment count: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO subscriptions (address_id, community_id, category_id, thread_id, comment_id)
		SELECT $1, t.community_id, 'new-comment-creation', t.id, $2
		FROM threads t WHERE t.id=$3
	`, created.AddressID, created.ID, created.ThreadID); err != nil {
		return Comment{}, fmt.Errorf("insert comment subscription: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Comment{}, fmt.Errorf("commit insert comment: %w", err)
	}
	return created, nil
}

// SoftDeleteComment marks a comment deleted and decrements the thread count.
// The row is kept so replies below it stay anchored.
func (s *PostgresStore) SoftDeleteComment(ctx context.Context, commentID int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete comment tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE comments SET deleted_at=NOW(), text='[deleted]', plaintext='[deleted]', updated_at=NOW()
		WHERE id=$1 AND deleted_at IS NULL
	`, commentID)
	if err != nil {
		return false, fmt.Errorf("delete comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete comment rows: %w", err)
	}
	if affected == 0 {
		return false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE threads SET comment_count=GREATEST(comment_count-1, 0)
		WHERE id=(SELECT thread_id FROM comments WHERE id=$1)
	`, commentID); err != nil {
		return false, fmt.Errorf("drop comment count: %w", err)
	}
	return true, tx.Commit()
}

func (s *PostgresStore) ListComments(ctx context.Context, threadID int64) ([]CommentView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.thread_id, c.parent_id, c.address_id, c.text, COALESCE(c.plaintext, ''),
			c.deleted_at, c.created_at, c.updated_at,
			a.address, COALESCE(u.profile, '{}'::jsonb),
			COUNT(r.id)::int, COALESCE(SUM(r.voting_weight), 0)::bigint
		FROM comments c
		JOIN addresses a ON a.id = c.address_id
		LEFT JOIN users u ON u.id = a.user_id
		LEFT JOIN reactions r ON r.comment_id = c.id
		WHERE c.thread_id=$1
		GROUP BY c.id, a.address, u.profile
		ORDER BY c.created_at ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]CommentView, 0)
	for rows.Next() {
		var item CommentView
		if err := rows.Scan(
			&item.ID, &item.ThreadID, &item.ParentID, &item.AddressID, &item.Text, &item.Plaintext,
			&item.DeletedAt, &item.CreatedAt, &item.UpdatedAt,
			&item.Address, &item.AuthorProfile,
			&item.ReactionCount, &item.ReactionWeight,
		); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

// FindOrCreateThreadReaction inserts a reaction keyed by
// (thread_id, address_id, kind). A second call with the same key returns the
// existing row, so the operation is idempotent.
func (s *PostgresStore) FindOrCreateThreadReaction(ctx context.Context, threadID, addressID int64, kind string, weight int64) (Reaction, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Reaction{}, false, fmt.Errorf("begin reaction tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO reactions (thread_id, address_id, kind, voting_weight)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (thread_id, address_id, kind) WHERE thread_id IS NOT NULL DO NOTHING
	`, threadID, addressID, kind, weight)
	if err != nil {
		return Reaction{}, false, fmt.Errorf("insert thread reaction: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Reaction{}, false, fmt.Errorf("insert thread reaction rows: %w", err)
	}
	created := affected > 0

	if created {
		if _, err := tx.ExecContext(ctx, `
			UPDATE threads SET reaction_weights_sum=reaction_weights_sum+$2 WHERE id=$1
		`, threadID, weight); err != nil {
			return Reaction{}, false, fmt.Errorf("bump reaction weights: %w", err)
		}
	}

	var item Reaction
	err = tx.QueryRowContext(ctx, `
		SELECT id, thread_id, comment_id, address_id, kind, voting_weight, created_at
		FROM reactions
		WHERE thread_id=$1 AND address_id=$2 AND kind=$3
	`, threadID, addressID, kind).Scan(&item.ID, &item.ThreadID, &item.CommentID, &item.AddressID, &item.Kind, &item.VotingWeight, &item.CreatedAt)
	if err != nil {
		return Reaction{}, false, fmt.Errorf("reselect thread reaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Reaction{}, false, fmt.Errorf("commit reaction tx: %w", err)
	}
	return item, created, nil
}

// FindOrCreateCommentReaction is the comment-target twin of
// FindOrCreateThreadReaction.
func (s *PostgresStore) FindOrCreateCommentReaction(ctx context.Context, commentID, addressID int64, kind string, weight int64) (Reaction, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Reaction{}, false, fmt.Errorf("begin reaction tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO reactions (comment_id, address_id, kind, voting_weight)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (comment_id, address_id, kind) WHERE comment_id IS NOT NULL DO NOTHING
	`, commentID, addressID, kind, weight)
	if err != nil {
		return Reaction{}, false, fmt.Errorf("insert comment reaction: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Reaction{}, false, fmt.Errorf("insert comment reaction rows: %w", err)
	}
	created := affected > 0

	var item Reaction
	err = tx.QueryRowContext(ctx, `
		SELECT id, thread_id, comment_id, address_id, kind, voting_weight, created_at
		FROM reactions
		WHERE comment_id=$1 AND address_id=$2 AND kind=$3
	`, commentID, addressID, kind).Scan(&item.ID, &item.ThreadID, &item.CommentID, &item.AddressID, &item.Kind, &item.VotingWeight, &item.CreatedAt)
	if err != nil {
		return Reaction{}, false, fmt.Errorf("reselect comment reaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Reaction{}, false, fmt.Errorf("commit reaction tx: %w", err)
	}
	return item, created, nil
}

func (s *PostgresStore) IsCollaborator(ctx context.Context, threadID, addressID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM collaborations WHERE thread_id=$1 AND address_id=$2)
	`, threadID, addressID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check collaborator: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) AddCollaborator(ctx context.Context, threadID, addressID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collaborations (thread_id, address_id)
		VALUES ($1, $2)
		ON CONFLICT (thread_id, address_id) DO NOTHING
	`, threadID, addressID)
	if err != nil {
		return fmt.Errorf("add collaborator: %w", err)
	}
	return nil
}

// ListThreadSubscribers returns the distinct addresses subscribed to a
// thread's activity.
func (s *PostgresStore) ListThreadSubscribers(ctx context.Context, threadID int64) ([]Address, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT a.id, a.community_id, a.address, a.user_id, COALESCE(a.role, 'member'), a.last_active, a.deleted_at, a.created_at
		FROM subscriptions sub
		JOIN addresses a ON a.id = sub.address_id
		WHERE sub.thread_id=$1 AND a.deleted_at IS NULL
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list thread subscribers: %w", err)
	}
	defer rows.Close()

	items := make([]Address, 0)
	for rows.Next() {
		var item Address
		if err := rows.Scan(&item.ID, &item.CommunityID, &item.Address, &item.UserID, &item.Role, &item.LastActive, &item.DeletedAt, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertNotification(ctx context.Context, n Notification) error {
	data := n.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (community_id, category_id, data, address_id)
		VALUES ($1, $2, $3::jsonb, $4)
	`, n.CommunityID, n.CategoryID, string(data), n.AddressID)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListWebhooks(ctx context.Context, communityID string) ([]Webhook, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, community_id, url, categories, created_at
		FROM webhooks
		WHERE community_id=$1
	`, communityID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	items := make([]Webhook, 0)
	for rows.Next() {
		var item Webhook
		if err := rows.Scan(&item.ID, &item.CommunityID, &item.URL, pq.Array(&item.Categories), &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhooks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertWebhook(ctx context.Context, hook Webhook) (Webhook, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO webhooks (community_id, url, categories)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, hook.CommunityID, hook.URL, pq.Array(hook.Categories)).Scan(&hook.ID, &hook.CreatedAt)
	if err != nil {
		return Webhook{}, fmt.Errorf("insert webhook: %w", err)
	}
	return hook, nil
}

func (s *PostgresStore) DeleteWebhook(ctx context.Context, communityID string, webhookID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM webhooks WHERE id=$1 AND community_id=$2
	`, webhookID, communityID)
	if err != nil {
		return false, fmt.Errorf("delete webhook: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete webhook rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, addressID int64, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, address_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET address_id=EXCLUDED.address_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, addressID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (Address, error) {
	const query = `
		SELECT a.id, a.community_id, a.address, a.user_id, COALESCE(a.role, 'member'), a.last_active, a.deleted_at, a.created_at
		FROM refresh_sessions rs
		JOIN addresses a ON a.id = rs.address_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var item Address
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&item.ID, &item.CommunityID, &item.Address, &item.UserID, &item.Role, &item.LastActive, &item.DeletedAt, &item.CreatedAt)
	if err != nil {
		return Address{}, err
	}
	return item, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
