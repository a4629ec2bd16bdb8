package store

import (
	"strings"
	"testing"
)

func TestBulkThreadsSpecNormalize(t *testing.T) {
	tests := []struct {
		name      string
		in        BulkThreadsSpec
		wantLimit int
		wantPage  int
		wantXRC   int
		wantOrder string
	}{
		{name: "defaults", in: BulkThreadsSpec{}, wantLimit: 20, wantPage: 1, wantXRC: 0, wantOrder: "newest"},
		{name: "limit clamped high", in: BulkThreadsSpec{Limit: 1000}, wantLimit: 500, wantPage: 1, wantOrder: "newest"},
		{name: "limit clamped low", in: BulkThreadsSpec{Limit: -5}, wantLimit: 20, wantPage: 1, wantOrder: "newest"},
		{name: "page clamped", in: BulkThreadsSpec{Page: 0, Limit: 10}, wantLimit: 10, wantPage: 1, wantOrder: "newest"},
		{name: "recent comments clamped", in: BulkThreadsSpec{WithXRecentComments: 99}, wantLimit: 20, wantPage: 1, wantXRC: 10, wantOrder: "newest"},
		{name: "unknown ordering falls back", in: BulkThreadsSpec{OrderBy: "trending"}, wantLimit: 20, wantPage: 1, wantOrder: "newest"},
		{name: "known ordering kept", in: BulkThreadsSpec{OrderBy: "mostLikes", Limit: 50, Page: 3}, wantLimit: 50, wantPage: 3, wantOrder: "mostLikes"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := tc.in
			q.Normalize()
			if q.Limit != tc.wantLimit {
				t.Errorf("Limit = %d, want %d", q.Limit, tc.wantLimit)
			}
			if q.Page != tc.wantPage {
				t.Errorf("Page = %d, want %d", q.Page, tc.wantPage)
			}
			if q.WithXRecentComments != tc.wantXRC {
				t.Errorf("WithXRecentComments = %d, want %d", q.WithXRecentComments, tc.wantXRC)
			}
			if q.OrderBy != tc.wantOrder {
				t.Errorf("OrderBy = %q, want %q", q.OrderBy, tc.wantOrder)
			}
		})
	}
}

func TestBulkThreadsSpecOffset(t *testing.T) {
	q := BulkThreadsSpec{Limit: 1000, Page: 3}
	q.Normalize()
	if got := q.Offset(); got != 1000 {
		t.Fatalf("Offset() = %d, want 1000 (clamped limit 500 * (page-1))", got)
	}

	q = BulkThreadsSpec{Page: 0}
	q.Normalize()
	if got := q.Offset(); got != 0 {
		t.Fatalf("Offset() = %d, want 0 for first page", got)
	}
}

func TestBulkThreadsSpecOrderClause(t *testing.T) {
	tests := []struct {
		orderBy string
		want    string
	}{
		{"newest", "t.pinned DESC, t.created_at DESC"},
		{"oldest", "t.pinned DESC, t.created_at ASC"},
		{"mostLikes", "t.pinned DESC, t.reaction_weights_sum DESC"},
		{"mostComments", "t.pinned DESC, t.comment_count DESC"},
		{"latestActivity", "t.pinned DESC, t.last_activity DESC"},
		{"bogus", "t.pinned DESC, t.created_at DESC"},
	}
	for _, tc := range tests {
		q := BulkThreadsSpec{OrderBy: tc.orderBy}
		q.Normalize()
		if got := q.OrderClause(); got != tc.want {
			t.Errorf("OrderClause(%q) = %q, want %q", tc.orderBy, got, tc.want)
		}
	}
}

func TestBuildBulkThreadsSQLBaseline(t *testing.T) {
	q := BulkThreadsSpec{CommunityID: "ethereum"}
	q.Normalize()
	query, args := buildBulkThreadsSQL(q)

	if len(args) != 3 {
		t.Fatalf("args = %d, want 3 (community, limit, offset): %v", len(args), args)
	}
	if args[0] != "ethereum" {
		t.Errorf("args[0] = %v, want community id", args[0])
	}
	if !strings.Contains(query, "t.archived_at IS NULL") {
		t.Error("live listings must exclude archived threads")
	}
	if strings.Contains(query, "recent_comments") {
		t.Error("recent comments stage should be absent when not requested")
	}
	if !strings.Contains(query, "ORDER BY tt.pinned DESC, tt.created_at DESC") {
		t.Error("final ordering should keep pinned threads first")
	}
}

func TestBuildBulkThreadsSQLFilters(t *testing.T) {
	topicID := int64(9)
	q := BulkThreadsSpec{
		CommunityID:         "ethereum",
		Stage:               "voting",
		TopicID:             &topicID,
		WithXRecentComments: 2,
		Archived:            true,
	}
	q.Normalize()
	query, args := buildBulkThreadsSQL(q)

	// community, stage, topic, limit, offset, recent-comment cap
	if len(args) != 6 {
		t.Fatalf("args = %d, want 6: %v", len(args), args)
	}
	if !strings.Contains(query, "t.archived_at IS NOT NULL") {
		t.Error("archived listing must require archived_at")
	}
	if !strings.Contains(query, "t.stage = $2") {
		t.Error("stage filter missing or misnumbered")
	}
	if !strings.Contains(query, "recent_comments AS") {
		t.Error("recent comments stage missing")
	}
}

func TestBuildBulkThreadsSQLContestStatus(t *testing.T) {
	q := BulkThreadsSpec{CommunityID: "ethereum", Status: "active", ContestAddress: "0xContest"}
	q.Normalize()
	query, _ := buildBulkThreadsSQL(q)
	if !strings.Contains(query, "ct.ended_at IS NULL") {
		t.Error("active contest filter missing")
	}

	q = BulkThreadsSpec{CommunityID: "ethereum", Status: "pastWinners", ContestAddress: "0xContest"}
	q.Normalize()
	query, _ = buildBulkThreadsSQL(q)
	if !strings.Contains(query, "ct.prize_rank IS NOT NULL") {
		t.Error("past winners contest filter missing")
	}
}
