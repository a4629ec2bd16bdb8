package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultThread  ResultType = "thread"
	ResultComment ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type        ResultType `json:"type"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	ThreadID    string     `json:"threadId"`
	CommunityID string     `json:"communityId"`
}

// Query describes a search request.
type Query struct {
	Text              string
	FilterType        ResultType // empty = all types
	FilterCommunityID string
	Limit             int
	Offset            int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexThread(t ThreadRecord) error
	IndexComment(c CommentRecord) error
	DeleteThread(id string) error
	DeleteComment(id string) error
}

// ThreadRecord is the data we index for a thread.
type ThreadRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	CommunityID string `json:"communityId"`
	Stage       string `json:"stage"`
}

// CommentRecord is the data we index for a comment.
type CommentRecord struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	ThreadID    string `json:"threadId"`
	CommunityID string `json:"communityId"`
}
