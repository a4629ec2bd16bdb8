package store

import (
	"encoding/json"
	"time"
)

type Community struct {
	ID          string
	Name        string
	Base        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Topic struct {
	ID          int64
	CommunityID string
	Name        string
	Description string
	GroupIDs    []int64
	CreatedAt   time.Time
}

type User struct {
	ID        int64
	Email     string
	Profile   json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Address is a user's identity within one community.
type Address struct {
	ID          int64
	CommunityID string
	Address     string
	UserID      *int64
	Role        string
	LastActive  *time.Time
	DeletedAt   *time.Time
	CreatedAt   time.Time
}

type Thread struct {
	ID                 int64
	CommunityID        string
	AddressID          int64
	Title              string
	Body               string
	Plaintext          string
	Kind               string
	Stage              string
	URL                string
	TopicID            *int64
	Pinned             bool
	ReadOnly           bool
	CommentCount       int
	ReactionWeightsSum int64
	ArchivedAt         *time.Time
	DeletedAt          *time.Time
	LastActivity       time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Comment struct {
	ID        int64
	ThreadID  int64
	ParentID  *int64
	AddressID int64
	Text      string
	Plaintext string
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Reaction targets exactly one of ThreadID or CommentID.
type Reaction struct {
	ID           int64
	ThreadID     *int64
	CommentID    *int64
	AddressID    int64
	Kind         string
	VotingWeight int64
	CreatedAt    time.Time
}

type Collaboration struct {
	ThreadID  int64
	AddressID int64
	CreatedAt time.Time
}

type Subscription struct {
	ID          int64
	AddressID   int64
	CommunityID string
	CategoryID  string
	ThreadID    *int64
	CommentID   *int64
	CreatedAt   time.Time
}

type Ban struct {
	CommunityID string
	Address     string
	Reason      string
	CreatedAt   time.Time
}

type Webhook struct {
	ID          int64
	CommunityID string
	URL         string
	Categories  []string
	CreatedAt   time.Time
}

// Group holds token-gating requirements attached to topics via Topic.GroupIDs.
// Requirements is a JSON array interpreted by the gating evaluator.
type Group struct {
	ID           int64
	CommunityID  string
	Name         string
	Requirements json.RawMessage
	CreatedAt    time.Time
}

type Notification struct {
	ID          int64
	CommunityID string
	CategoryID  string
	Data        json.RawMessage
	AddressID   int64
	Read        bool
	CreatedAt   time.Time
}

// CommentView is a comment joined with its author for thread listings.
type CommentView struct {
	Comment
	Address        string
	AuthorProfile  json.RawMessage
	ReactionCount  int
	ReactionWeight int64
}

// ThreadListing is one row of the bulk thread query: the thread plus the
// JSON aggregates produced by the per-concern join stages.
type ThreadListing struct {
	Thread
	Address        string
	AuthorProfile  json.RawMessage
	TopicName      string
	Collaborators  json.RawMessage
	Reactions      json.RawMessage
	ContestActions json.RawMessage
	RecentComments json.RawMessage
}
