package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/hereje/commonwealth/internal/address"
	"github.com/hereje/commonwealth/internal/analytics"
	"github.com/hereje/commonwealth/internal/auth"
	"github.com/hereje/commonwealth/internal/bancache"
	"github.com/hereje/commonwealth/internal/config"
	"github.com/hereje/commonwealth/internal/gating"
	"github.com/hereje/commonwealth/internal/history"
	"github.com/hereje/commonwealth/internal/notify"
	"github.com/hereje/commonwealth/internal/rbac"
	"github.com/hereje/commonwealth/internal/richtext"
	"github.com/hereje/commonwealth/internal/search"
	"github.com/hereje/commonwealth/internal/store"
	"github.com/hereje/commonwealth/internal/util"
)

// Actor is the authenticated identity performing an operation: one address
// within one community.
type Actor struct {
	AddressID   int64
	Address     string
	CommunityID string
	Role        string
}

type Session struct {
	Token        string
	RefreshToken string
	AddressID    int64
	Address      string
	CommunityID  string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) Actor() Actor {
	return Actor{
		AddressID:   s.AddressID,
		Address:     s.Address,
		CommunityID: s.CommunityID,
		Role:        s.Role,
	}
}

type CreateThreadInput struct {
	TopicID  *int64 `json:"topicId"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Kind     string `json:"kind"`
	Stage    string `json:"stage"`
	URL      string `json:"url"`
	ReadOnly bool   `json:"readOnly"`
}

type EditThreadInput struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Stage string `json:"stage"`
}

type CreateCommentInput struct {
	ParentID *int64 `json:"parentId"`
	Text     string `json:"text"`
}

type CreateReactionInput struct {
	Kind string `json:"kind"`
}

type CreateWebhookInput struct {
	URL        string   `json:"url"`
	Categories []string `json:"categories"`
}

type BulkThreadsInput struct {
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

// BulkThreadsResult is the envelope returned by the bulk thread listing.
type BulkThreadsResult struct {
	Threads          []map[string]any `json:"threads"`
	NumVotingThreads int              `json:"numVotingThreads"`
	Limit            int              `json:"limit"`
	Page             int              `json:"page"`
}

// maxCommentDepth caps reply nesting; a top-level comment sits at depth 0.
const maxCommentDepth = 8

var allowedThreadKinds = map[string]struct{}{
	"discussion": {},
	"link":       {},
}

var allowedContestStatuses = map[string]struct{}{
	"active":      {},
	"pastWinners": {},
}

type dataStore interface {
	GetCommunity(ctx context.Context, communityID string) (store.Community, error)
	GetTopic(ctx context.Context, topicID int64) (store.Topic, error)
	GetGroups(ctx context.Context, groupIDs []int64) ([]store.Group, error)
	GetAddressByID(ctx context.Context, addressID int64) (store.Address, error)
	EnsureAddress(ctx context.Context, communityID, addr string) (store.Address, error)
	TouchAddress(ctx context.Context, addressID int64) error
	GetBan(ctx context.Context, communityID, addr string) (string, bool, error)
	GetThread(ctx context.Context, threadID int64) (store.Thread, error)
	InsertThread(ctx context.Context, thread store.Thread) (store.Thread, error)
	UpdateThread(ctx context.Context, threadID int64, title, body, plaintext, stage string) (store.Thread, error)
	DeleteThread(ctx context.Context, threadID int64) error
	PinThread(ctx context.Context, threadID int64, pinned bool) (bool, error)
	SetThreadArchived(ctx context.Context, threadID int64, archived bool) (bool, error)
	GetComment(ctx context.Context, commentID int64) (store.Comment, error)
	CommentDepth(ctx context.Context, commentID int64) (int, error)
	InsertComment(ctx context.Context, comment store.Comment) (store.Comment, error)
	SoftDeleteComment(ctx context.Context, commentID int64) (bool, error)
	ListComments(ctx context.Context, threadID int64) ([]store.CommentView, error)
	FindOrCreateThreadReaction(ctx context.Context, threadID, addressID int64, kind string, weight int64) (store.Reaction, bool, error)
	FindOrCreateCommentReaction(ctx context.Context, commentID, addressID int64, kind string, weight int64) (store.Reaction, bool, error)
	IsCollaborator(ctx context.Context, threadID, addressID int64) (bool, error)
	BulkThreads(ctx context.Context, q store.BulkThreadsSpec) ([]store.ThreadListing, error)
	CountVotingThreads(ctx context.Context, communityID string) (int, error)
	ListWebhooks(ctx context.Context, communityID string) ([]store.Webhook, error)
	InsertWebhook(ctx context.Context, item store.Webhook) (store.Webhook, error)
	DeleteWebhook(ctx context.Context, communityID string, webhookID int64) (bool, error)
	SaveRefreshSession(ctx context.Context, tokenHash string, addressID int64, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.Address, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	Ping(ctx context.Context) error
}

type banChecker interface {
	Check(ctx context.Context, communityID, addr string) (string, bool, error)
}

type gateKeeper interface {
	Evaluate(ctx context.Context, groups []store.Group, addr string) (gating.Result, error)
}

type searchIndexer interface {
	IndexThread(t search.ThreadRecord)
	IndexComment(c search.CommentRecord)
	DeleteThread(id string)
	DeleteComment(id string)
}

type historyRecorder interface {
	RecordThread(communityID string, threadID int64, snap history.Snapshot, author, message string) (history.Revision, error)
	History(communityID string, threadID int64, limit int) ([]history.Revision, error)
}

type notifier interface {
	Emit(ctx context.Context, opts notify.Options)
}

// storeBans answers ban checks straight from the database when no Redis
// cache is configured.
type storeBans struct {
	store dataStore
}

func (b storeBans) Check(ctx context.Context, communityID, addr string) (string, bool, error) {
	return b.store.GetBan(ctx, communityID, addr)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	bans      banChecker
	gate      gateKeeper
	search    searchIndexer
	history   historyRecorder
	notify    notifier
	analytics analytics.Sink
}

func New(cfg config.Config, dataStore *store.PostgresStore, bans *bancache.Cache, gate *gating.Evaluator, searchSvc *search.Service, historySvc *history.Service, notifySvc *notify.Dispatcher, sink analytics.Sink) *Service {
	s := &Service{
		cfg:       cfg,
		store:     dataStore,
		analytics: sink,
	}
	if bans != nil {
		s.bans = bans
	} else {
		s.bans = storeBans{store: dataStore}
	}
	if gate != nil {
		s.gate = gate
	}
	if searchSvc != nil {
		s.search = searchSvc
	}
	if historySvc != nil {
		s.history = historySvc
	}
	if notifySvc != nil {
		s.notify = notifySvc
	}
	if s.analytics == nil {
		s.analytics = analytics.LogSink{}
	}
	return s
}

func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- sessions ---

func (s *Service) Login(ctx context.Context, communityID, addr string) (Session, error) {
	communityID = strings.TrimSpace(communityID)
	addr = strings.TrimSpace(addr)
	if communityID == "" || addr == "" {
		return Session{}, errValidation("community and address are required")
	}

	community, err := s.store.GetCommunity(ctx, communityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, errNotFound("Community")
		}
		return Session{}, err
	}

	if err := address.Validate(community.Base, addr); err != nil {
		return Session{}, errValidation("invalid address for base " + community.Base)
	}

	reason, banned, err := s.bans.Check(ctx, communityID, addr)
	if err != nil {
		return Session{}, err
	}
	if banned {
		return Session{}, errBanned(reason)
	}

	record, err := s.store.EnsureAddress(ctx, communityID, addr)
	if err != nil {
		return Session{}, err
	}
	if err := s.store.TouchAddress(ctx, record.ID); err != nil {
		return Session{}, err
	}

	return s.issueSession(ctx, record)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	record, err := s.store.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.store.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, record)
}

func (s *Service) issueSession(ctx context.Context, record store.Address) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")
	role := string(rbac.Normalize(record.Role))

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:       fmt.Sprintf("%d", record.ID),
		Address:   record.Address,
		Community: record.CommunityID,
		Role:      role,
		JTI:       jti,
		Exp:       expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft")
	if err := s.store.SaveRefreshSession(ctx, auth.HashToken(refresh), record.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		AddressID:    record.ID,
		Address:      record.Address,
		CommunityID:  record.CommunityID,
		Role:         role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	var addressID int64
	if _, err := fmt.Sscanf(claims.Sub, "%d", &addressID); err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	record, err := s.store.GetAddressByID(ctx, addressID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:       token,
		AddressID:   record.ID,
		Address:     record.Address,
		CommunityID: record.CommunityID,
		Role:        string(rbac.Normalize(record.Role)),
		JTI:         claims.JTI,
		ExpiresAt:   time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			return err
		}
	}
	if refreshToken != "" {
		if err := s.store.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			return err
		}
	}
	return nil
}

// --- threads ---

func (s *Service) CreateThread(ctx context.Context, actor Actor, input CreateThreadInput) (map[string]any, error) {
	if err := s.checkBan(ctx, actor); err != nil {
		return nil, err
	}

	community, err := s.store.GetCommunity(ctx, actor.CommunityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("Community")
		}
		return nil, err
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, errValidation("title is required")
	}
	kind := strings.TrimSpace(input.Kind)
	if kind == "" {
		kind = "discussion"
	}
	if _, ok := allowedThreadKinds[kind]; !ok {
		return nil, errValidation("kind must be discussion or link")
	}
	if kind == "link" && strings.TrimSpace(input.URL) == "" {
		return nil, errValidation("url is required for link threads")
	}
	stage := strings.TrimSpace(input.Stage)
	if stage == "" {
		stage = "discussion"
	}

	if input.TopicID != nil {
		topic, err := s.store.GetTopic(ctx, *input.TopicID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, errNotFound("Topic")
			}
			return nil, err
		}
		if topic.CommunityID != community.ID {
			return nil, errNotFound("Topic")
		}
		if err := s.checkGate(ctx, topic, actor.Address); err != nil {
			return nil, err
		}
	}

	created, err := s.store.InsertThread(ctx, store.Thread{
		CommunityID: community.ID,
		AddressID:   actor.AddressID,
		Title:       title,
		Body:        input.Body,
		Plaintext:   richtext.ToPlaintext(input.Body),
		Kind:        kind,
		Stage:       stage,
		URL:         strings.TrimSpace(input.URL),
		TopicID:     input.TopicID,
		ReadOnly:    input.ReadOnly,
	})
	if err != nil {
		return nil, err
	}

	s.recordThreadHistory(community.ID, created, actor.Address, "Create thread")
	if s.search != nil {
		s.search.IndexThread(searchThreadRecord(created))
	}
	if s.notify != nil {
		s.notify.Emit(ctx, notify.Options{
			CategoryID:       "new-thread-creation",
			CommunityID:      community.ID,
			ThreadID:         created.ID,
			Title:            created.Title,
			Preview:          richtext.Preview(created.Body, 200),
			URL:              s.threadURL(community.ID, created.ID),
			Author:           actor.Address,
			Data:             map[string]any{"thread_id": created.ID},
			ExcludeAddresses: []string{actor.Address},
		})
	}
	s.analytics.Track(ctx, analytics.Event{
		Event:       "Create Thread",
		CommunityID: community.ID,
		Properties:  map[string]any{"thread_id": created.ID, "kind": created.Kind},
	})

	return threadView(created), nil
}

func (s *Service) EditThread(ctx context.Context, actor Actor, threadID int64, input EditThreadInput) (map[string]any, error) {
	thread, err := s.getLiveThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.ArchivedAt != nil {
		return nil, errThreadArchived()
	}
	if err := s.checkBan(ctx, actor); err != nil {
		return nil, err
	}
	if err := s.requireOwnerOrCollaborator(ctx, actor, thread); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = thread.Title
	}
	body := input.Body
	if body == "" {
		body = thread.Body
	}
	stage := strings.TrimSpace(input.Stage)
	if stage == "" {
		stage = thread.Stage
	}

	updated, err := s.store.UpdateThread(ctx, threadID, title, body, richtext.ToPlaintext(body), stage)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("Thread")
		}
		return nil, err
	}

	s.recordThreadHistory(updated.CommunityID, updated, actor.Address, "Edit thread")
	if s.search != nil {
		s.search.IndexThread(searchThreadRecord(updated))
	}
	s.analytics.Track(ctx, analytics.Event{
		Event:       "Update Thread",
		CommunityID: updated.CommunityID,
		Properties:  map[string]any{"thread_id": updated.ID},
	})

	return threadView(updated), nil
}

func (s *Service) DeleteThread(ctx context.Context, actor Actor, threadID int64) error {
	thread, err := s.getLiveThread(ctx, threadID)
	if err != nil {
		return err
	}
	if thread.ArchivedAt != nil {
		return errThreadArchived()
	}
	if err := s.checkBan(ctx, actor); err != nil {
		return err
	}
	if thread.AddressID != actor.AddressID && !rbac.IsAtLeastModerator(actor.Role) {
		return errNotOwned()
	}

	if err := s.store.DeleteThread(ctx, threadID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("Thread")
		}
		return err
	}

	if s.search != nil {
		s.search.DeleteThread(fmt.Sprintf("%d", threadID))
	}
	s.analytics.Track(ctx, analytics.Event{
		Event:       "Delete Thread",
		CommunityID: thread.CommunityID,
		Properties:  map[string]any{"thread_id": threadID},
	})
	return nil
}

func (s *Service) SetThreadPinned(ctx context.Context, actor Actor, threadID int64, pinned bool) error {
	if !rbac.IsAtLeastModerator(actor.Role) {
		return errPermissionDenied("Must be a moderator to pin threads")
	}
	changed, err := s.store.PinThread(ctx, threadID, pinned)
	if err != nil {
		return err
	}
	if !changed {
		return errNotFound("Thread")
	}
	return nil
}

func (s *Service) SetThreadArchived(ctx context.Context, actor Actor, threadID int64, archived bool) error {
	if !rbac.IsAtLeastModerator(actor.Role) {
		return errPermissionDenied("Must be a moderator to archive threads")
	}
	changed, err := s.store.SetThreadArchived(ctx, threadID, archived)
	if err != nil {
		return err
	}
	if !changed {
		return errNotFound("Thread")
	}
	return nil
}

func (s *Service) ThreadHistory(ctx context.Context, threadID int64) ([]history.Revision, error) {
	thread, err := s.getLiveThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if s.history == nil {
		return []history.Revision{}, nil
	}
	return s.history.History(thread.CommunityID, thread.ID, 50)
}

// --- comments ---

func (s *Service) CreateComment(ctx context.Context, actor Actor, threadID int64, input CreateCommentInput) (map[string]any, error) {
	thread, err := s.getLiveThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.ArchivedAt != nil {
		return nil, errThreadArchived()
	}
	if thread.ReadOnly && !rbac.IsAtLeastModerator(actor.Role) {
		return nil, errThreadReadOnly()
	}
	if err := s.checkBan(ctx, actor); err != nil {
		return nil, err
	}

	if strings.TrimSpace(input.Text) == "" {
		return nil, errValidation("text is required")
	}

	if input.ParentID != nil {
		parent, err := s.store.GetComment(ctx, *input.ParentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, errInvalidParent()
			}
			return nil, err
		}
		if parent.ThreadID != thread.ID || parent.DeletedAt != nil {
			return nil, errInvalidParent()
		}
		depth, err := s.store.CommentDepth(ctx, parent.ID)
		if err != nil {
			return nil, err
		}
		if depth+1 > maxCommentDepth {
			return nil, errNestingTooDeep()
		}
	}

	if err := s.checkThreadGate(ctx, thread, actor.Address); err != nil {
		return nil, err
	}

	created, err := s.store.InsertComment(ctx, store.Comment{
		ThreadID:  thread.ID,
		ParentID:  input.ParentID,
		AddressID: actor.AddressID,
		Text:      input.Text,
		Plaintext: richtext.ToPlaintext(input.Text),
	})
	if err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexComment(search.CommentRecord{
			ID:          fmt.Sprintf("%d", created.ID),
			Text:        created.Plaintext,
			ThreadID:    fmt.Sprintf("%d", thread.ID),
			CommunityID: thread.CommunityID,
		})
	}
	if s.notify != nil {
		s.notify.Emit(ctx, notify.Options{
			CategoryID:       "new-comment-creation",
			CommunityID:      thread.CommunityID,
			ThreadID:         thread.ID,
			Title:            thread.Title,
			Preview:          richtext.Preview(created.Text, 200),
			URL:              s.threadURL(thread.CommunityID, thread.ID),
			Author:           actor.Address,
			Data:             map[string]any{"thread_id": thread.ID, "comment_id": created.ID},
			ExcludeAddresses: []string{actor.Address},
		})
	}
	s.analytics.Track(ctx, analytics.Event{
		Event:       "Create Comment",
		CommunityID: thread.CommunityID,
		Properties:  map[string]any{"thread_id": thread.ID, "comment_id": created.ID},
	})

	return commentView(created), nil
}

func (s *Service) DeleteComment(ctx context.Context, actor Actor, commentID int64) error {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("Comment")
		}
		return err
	}
	if comment.DeletedAt != nil {
		return errNotFound("Comment")
	}
	if err := s.checkBan(ctx, actor); err != nil {
		return err
	}
	if comment.AddressID != actor.AddressID && !rbac.IsAtLeastModerator(actor.Role) {
		return errNotOwned()
	}

	changed, err := s.store.SoftDeleteComment(ctx, commentID)
	if err != nil {
		return err
	}
	if !changed {
		return errNotFound("Comment")
	}

	if s.search != nil {
		s.search.DeleteComment(fmt.Sprintf("%d", commentID))
	}
	s.analytics.Track(ctx, analytics.Event{
		Event:      "Delete Comment",
		Properties: map[string]any{"comment_id": commentID},
	})
	return nil
}

func (s *Service) ListComments(ctx context.Context, threadID int64) ([]map[string]any, error) {
	if _, err := s.getLiveThread(ctx, threadID); err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, threadID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(comments))
	for _, c := range comments {
		items = append(items, commentListView(c))
	}
	return items, nil
}

// --- reactions ---

func (s *Service) CreateThreadReaction(ctx context.Context, actor Actor, threadID int64, input CreateReactionInput) (map[string]any, error) {
	thread, err := s.getLiveThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.ArchivedAt != nil {
		return nil, errThreadArchived()
	}
	if err := s.checkBan(ctx, actor); err != nil {
		return nil, err
	}
	kind, err := normalizeReactionKind(input.Kind)
	if err != nil {
		return nil, err
	}
	if err := s.checkThreadGate(ctx, thread, actor.Address); err != nil {
		return nil, err
	}

	reaction, created, err := s.store.FindOrCreateThreadReaction(ctx, thread.ID, actor.AddressID, kind, 1)
	if err != nil {
		return nil, err
	}

	if created {
		if s.notify != nil {
			s.notify.Emit(ctx, notify.Options{
				CategoryID:       "new-reaction",
				CommunityID:      thread.CommunityID,
				ThreadID:         thread.ID,
				Title:            thread.Title,
				Preview:          richtext.Preview(thread.Body, 200),
				URL:              s.threadURL(thread.CommunityID, thread.ID),
				Author:           actor.Address,
				Data:             map[string]any{"thread_id": thread.ID},
				ExcludeAddresses: []string{actor.Address},
			})
		}
		s.analytics.Track(ctx, analytics.Event{
			Event:       "Create Reaction",
			CommunityID: thread.CommunityID,
			Properties:  map[string]any{"thread_id": thread.ID, "kind": kind},
		})
	}

	return reactionView(reaction), nil
}

func (s *Service) CreateCommentReaction(ctx context.Context, actor Actor, commentID int64, input CreateReactionInput) (map[string]any, error) {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("Comment")
		}
		return nil, err
	}
	if comment.DeletedAt != nil {
		return nil, errNotFound("Comment")
	}
	thread, err := s.getLiveThread(ctx, comment.ThreadID)
	if err != nil {
		return nil, err
	}
	if thread.ArchivedAt != nil {
		return nil, errThreadArchived()
	}
	if err := s.checkBan(ctx, actor); err != nil {
		return nil, err
	}
	kind, err := normalizeReactionKind(input.Kind)
	if err != nil {
		return nil, err
	}
	if err := s.checkThreadGate(ctx, thread, actor.Address); err != nil {
		return nil, err
	}

	reaction, created, err := s.store.FindOrCreateCommentReaction(ctx, comment.ID, actor.AddressID, kind, 1)
	if err != nil {
		return nil, err
	}

	if created {
		if s.notify != nil {
			s.notify.Emit(ctx, notify.Options{
				CategoryID:       "new-reaction",
				CommunityID:      thread.CommunityID,
				ThreadID:         thread.ID,
				Title:            thread.Title,
				Preview:          richtext.Preview(comment.Text, 200),
				URL:              s.threadURL(thread.CommunityID, thread.ID),
				Author:           actor.Address,
				Data:             map[string]any{"thread_id": thread.ID, "comment_id": comment.ID},
				ExcludeAddresses: []string{actor.Address},
			})
		}
		s.analytics.Track(ctx, analytics.Event{
			Event:       "Create Reaction",
			CommunityID: thread.CommunityID,
			Properties:  map[string]any{"comment_id": comment.ID, "kind": kind},
		})
	}

	return reactionView(reaction), nil
}

// --- bulk thread query ---

func (s *Service) GetBulkThreads(ctx context.Context, input BulkThreadsInput) (BulkThreadsResult, error) {
	if strings.TrimSpace(input.CommunityID) == "" {
		return BulkThreadsResult{}, errValidation("community is required")
	}
	if input.Stage != "" && input.Status != "" {
		return BulkThreadsResult{}, errValidation("cannot provide both stage and status")
	}
	if input.Status != "" {
		if _, ok := allowedContestStatuses[input.Status]; !ok {
			return BulkThreadsResult{}, errValidation("status must be active or pastWinners")
		}
		if input.ContestAddress == "" {
			return BulkThreadsResult{}, errValidation("status requires contest_address")
		}
	}

	spec := store.BulkThreadsSpec{
		CommunityID:         input.CommunityID,
		Stage:               input.Stage,
		Status:              input.Status,
		TopicID:             input.TopicID,
		ContestAddress:      input.ContestAddress,
		FromDate:            input.FromDate,
		ToDate:              input.ToDate,
		Archived:            input.Archived,
		Page:                input.Page,
		Limit:               input.Limit,
		OrderBy:             input.OrderBy,
		WithXRecentComments: input.WithXRecentComments,
	}
	spec.Normalize()

	type countResult struct {
		n   int
		err error
	}
	countCh := make(chan countResult, 1)
	go func() {
		n, err := s.store.CountVotingThreads(ctx, spec.CommunityID)
		countCh <- countResult{n: n, err: err}
	}()

	listings, err := s.store.BulkThreads(ctx, spec)
	count := <-countCh
	if err != nil || count.err != nil {
		if err != nil {
			log.Printf("app: bulk threads query: %v", err)
		}
		if count.err != nil {
			log.Printf("app: voting thread count: %v", count.err)
		}
		return BulkThreadsResult{}, errServer("Could not fetch threads")
	}

	threads := make([]map[string]any, 0, len(listings))
	for _, listing := range listings {
		threads = append(threads, threadListingView(listing, spec.WithXRecentComments > 0))
	}

	return BulkThreadsResult{
		Threads:          threads,
		NumVotingThreads: count.n,
		Limit:            spec.Limit,
		Page:             spec.Page,
	}, nil
}

// --- webhooks ---

func (s *Service) ListWebhooks(ctx context.Context, actor Actor) ([]store.Webhook, error) {
	if !rbac.Can(rbac.Normalize(actor.Role), rbac.ActionAdmin) {
		return nil, errPermissionDenied("Must be an admin to manage webhooks")
	}
	return s.store.ListWebhooks(ctx, actor.CommunityID)
}

func (s *Service) CreateWebhook(ctx context.Context, actor Actor, input CreateWebhookInput) (store.Webhook, error) {
	if !rbac.Can(rbac.Normalize(actor.Role), rbac.ActionAdmin) {
		return store.Webhook{}, errPermissionDenied("Must be an admin to manage webhooks")
	}
	url := strings.TrimSpace(input.URL)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return store.Webhook{}, errValidation("url must be http or https")
	}
	return s.store.InsertWebhook(ctx, store.Webhook{
		CommunityID: actor.CommunityID,
		URL:         url,
		Categories:  input.Categories,
	})
}

func (s *Service) DeleteWebhook(ctx context.Context, actor Actor, webhookID int64) error {
	if !rbac.Can(rbac.Normalize(actor.Role), rbac.ActionAdmin) {
		return errPermissionDenied("Must be an admin to manage webhooks")
	}
	changed, err := s.store.DeleteWebhook(ctx, actor.CommunityID, webhookID)
	if err != nil {
		return err
	}
	if !changed {
		return errNotFound("Webhook")
	}
	return nil
}

// --- helpers ---

func (s *Service) getLiveThread(ctx context.Context, threadID int64) (store.Thread, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Thread{}, errNotFound("Thread")
		}
		return store.Thread{}, err
	}
	return thread, nil
}

func (s *Service) checkBan(ctx context.Context, actor Actor) error {
	reason, banned, err := s.bans.Check(ctx, actor.CommunityID, actor.Address)
	if err != nil {
		return err
	}
	if banned {
		return errBanned(reason)
	}
	return nil
}

// checkThreadGate evaluates the gating groups of the thread's topic, if any.
func (s *Service) checkThreadGate(ctx context.Context, thread store.Thread, addr string) error {
	if thread.TopicID == nil {
		return nil
	}
	topic, err := s.store.GetTopic(ctx, *thread.TopicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	return s.checkGate(ctx, topic, addr)
}

func (s *Service) checkGate(ctx context.Context, topic store.Topic, addr string) error {
	if s.gate == nil || len(topic.GroupIDs) == 0 {
		return nil
	}
	groups, err := s.store.GetGroups(ctx, topic.GroupIDs)
	if err != nil {
		return err
	}
	result, err := s.gate.Evaluate(ctx, groups, addr)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return errPermissionDenied(result.Reason)
	}
	return nil
}

func (s *Service) requireOwnerOrCollaborator(ctx context.Context, actor Actor, thread store.Thread) error {
	if thread.AddressID == actor.AddressID || rbac.IsAtLeastModerator(actor.Role) {
		return nil
	}
	collaborator, err := s.store.IsCollaborator(ctx, thread.ID, actor.AddressID)
	if err != nil {
		return err
	}
	if !collaborator {
		return errNotOwned()
	}
	return nil
}

func (s *Service) recordThreadHistory(communityID string, thread store.Thread, author, message string) {
	if s.history == nil {
		return
	}
	if _, err := s.history.RecordThread(communityID, thread.ID, history.Snapshot{
		Title:   thread.Title,
		Body:    thread.Body,
		Stage:   thread.Stage,
		TopicID: thread.TopicID,
	}, author, message); err != nil {
		log.Printf("app: record thread history %d: %v", thread.ID, err)
	}
}

func (s *Service) threadURL(communityID string, threadID int64) string {
	base := strings.TrimSuffix(s.cfg.SiteURL, "/")
	if base == "" {
		base = "https://commonwealth.im"
	}
	return fmt.Sprintf("%s/%s/discussion/%d", base, communityID, threadID)
}

func normalizeReactionKind(kind string) (string, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		kind = "like"
	}
	if kind != "like" {
		return "", errValidation("kind must be like")
	}
	return kind, nil
}

func searchThreadRecord(t store.Thread) search.ThreadRecord {
	return search.ThreadRecord{
		ID:          fmt.Sprintf("%d", t.ID),
		Title:       t.Title,
		Body:        t.Plaintext,
		CommunityID: t.CommunityID,
		Stage:       t.Stage,
	}
}

func threadView(t store.Thread) map[string]any {
	return map[string]any{
		"id":                 t.ID,
		"communityId":        t.CommunityID,
		"addressId":          t.AddressID,
		"title":              t.Title,
		"body":               t.Body,
		"kind":               t.Kind,
		"stage":              t.Stage,
		"url":                nilIfEmpty(t.URL),
		"topicId":            t.TopicID,
		"pinned":             t.Pinned,
		"readOnly":           t.ReadOnly,
		"commentCount":       t.CommentCount,
		"reactionWeightsSum": t.ReactionWeightsSum,
		"archivedAt":         t.ArchivedAt,
		"lastActivity":       t.LastActivity.Format(time.RFC3339),
		"createdAt":          t.CreatedAt.Format(time.RFC3339),
		"updatedAt":          t.UpdatedAt.Format(time.RFC3339),
	}
}

func threadListingView(listing store.ThreadListing, withComments bool) map[string]any {
	view := threadView(listing.Thread)
	view["address"] = listing.Address
	view["profile"] = listing.AuthorProfile
	view["topicName"] = nilIfEmpty(listing.TopicName)
	view["collaborators"] = listing.Collaborators
	view["reactions"] = listing.Reactions
	view["contestActions"] = listing.ContestActions
	if withComments {
		view["recentComments"] = listing.RecentComments
	}
	return view
}

func commentView(c store.Comment) map[string]any {
	return map[string]any{
		"id":        c.ID,
		"threadId":  c.ThreadID,
		"parentId":  c.ParentID,
		"addressId": c.AddressID,
		"text":      c.Text,
		"createdAt": c.CreatedAt.Format(time.RFC3339),
		"updatedAt": c.UpdatedAt.Format(time.RFC3339),
	}
}

func commentListView(c store.CommentView) map[string]any {
	view := commentView(c.Comment)
	view["address"] = c.Address
	view["profile"] = c.AuthorProfile
	view["reactionCount"] = c.ReactionCount
	view["reactionWeight"] = c.ReactionWeight
	view["deleted"] = c.DeletedAt != nil
	return view
}

func reactionView(r store.Reaction) map[string]any {
	return map[string]any{
		"id":           r.ID,
		"threadId":     r.ThreadID,
		"commentId":    r.CommentID,
		"addressId":    r.AddressID,
		"kind":         r.Kind,
		"votingWeight": r.VotingWeight,
		"createdAt":    r.CreatedAt.Format(time.RFC3339),
	}
}

func nilIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
