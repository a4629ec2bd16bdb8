package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hereje/commonwealth/internal/analytics"
	"github.com/hereje/commonwealth/internal/config"
	"github.com/hereje/commonwealth/internal/store"
)

// fakeStoreForHealth lets readiness tests fail the database check without
// touching the rest of fakeStore.
type fakeStoreForHealth struct {
	fakeStore
	pingFn func(ctx context.Context) error
}

func (f *fakeStoreForHealth) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func newTestHTTPServer(ds dataStore) *HTTPServer {
	svc := &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: time.Hour,
			SiteURL:    "https://commonwealth.im",
		},
		store:     ds,
		bans:      storeBans{store: ds},
		analytics: analytics.LogSink{},
	}
	return NewHTTPServer(svc, nil, nil, "*")
}

// sessionReadyStore returns a fakeStore that can complete the full login and
// token-parse round trip for address 9 in the ethereum community.
func sessionReadyStore() *fakeStore {
	return &fakeStore{
		getCommunityFn: func(ctx context.Context, communityID string) (store.Community, error) {
			return store.Community{ID: communityID, Base: "ethereum"}, nil
		},
		ensureAddressFn: func(ctx context.Context, communityID, addr string) (store.Address, error) {
			return store.Address{ID: 9, CommunityID: communityID, Address: addr, Role: "member"}, nil
		},
		getAddressByIDFn: func(ctx context.Context, addressID int64) (store.Address, error) {
			return store.Address{ID: addressID, CommunityID: "ethereum", Address: "0x1111111111111111111111111111111111111111", Role: "member"}, nil
		},
	}
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return payload
}

func loginToken(t *testing.T, handler http.Handler) string {
	t.Helper()
	body := strings.NewReader(`{"community":"ethereum","address":"0x1111111111111111111111111111111111111111"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/session/login", body)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	payload := decodeMap(t, rec)
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatalf("login response missing token: %v", payload)
	}
	return token
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestHTTPServer(&fakeStore{}).Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	payload := decodeMap(t, rec)
	if payload["ok"] != true {
		t.Errorf("body = %v, want ok true", payload)
	}
}

func TestReadyEndpoint(t *testing.T) {
	handler := newTestHTTPServer(&fakeStore{}).Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	payload := decodeMap(t, rec)
	if payload["status"] != "ready" {
		t.Errorf("status field = %v, want ready", payload["status"])
	}
	checks, _ := payload["checks"].(map[string]any)
	database, _ := checks["database"].(map[string]any)
	if database["status"] != "ok" {
		t.Errorf("database check = %v, want ok", database)
	}
}

func TestReadyEndpointDatabaseDown(t *testing.T) {
	ds := &fakeStoreForHealth{
		pingFn: func(ctx context.Context) error {
			return errors.New("connection refused")
		},
	}
	handler := newTestHTTPServer(ds).Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	payload := decodeMap(t, rec)
	if payload["status"] != "not_ready" {
		t.Errorf("status field = %v, want not_ready", payload["status"])
	}
	checks, _ := payload["checks"].(map[string]any)
	database, _ := checks["database"].(map[string]any)
	if database["error"] != "connection refused" {
		t.Errorf("database check = %v, want connection refused", database)
	}
}

func TestOptionsPreflight(t *testing.T) {
	handler := newTestHTTPServer(&fakeStore{}).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/threads/4/reactions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
}

func TestSessionEndpointWithoutToken(t *testing.T) {
	handler := newTestHTTPServer(&fakeStore{}).Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	payload := decodeMap(t, rec)
	if payload["authenticated"] != false {
		t.Errorf("body = %v, want authenticated false", payload)
	}
}

func TestMutationRequiresSession(t *testing.T) {
	handler := newTestHTTPServer(&fakeStore{}).Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/threads/4/reactions", strings.NewReader(`{"kind":"like"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	payload := decodeMap(t, rec)
	if payload["code"] != "UNAUTHORIZED" {
		t.Errorf("code = %v, want UNAUTHORIZED", payload["code"])
	}
}

func TestLoginAndReactFlow(t *testing.T) {
	ds := sessionReadyStore()
	ds.getThreadFn = func(ctx context.Context, threadID int64) (store.Thread, error) {
		return bigThread(), nil
	}
	handler := newTestHTTPServer(ds).Handler()

	token := loginToken(t, handler)

	req := httptest.NewRequest(http.MethodPost, "/api/threads/4/reactions", strings.NewReader(`{"kind":"like"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	payload := decodeMap(t, rec)
	if payload["kind"] != "like" {
		t.Errorf("kind = %v, want like", payload["kind"])
	}
	if payload["threadId"] != float64(4) {
		t.Errorf("threadId = %v, want 4", payload["threadId"])
	}
}

func TestEditMissingThreadIs404(t *testing.T) {
	handler := newTestHTTPServer(sessionReadyStore()).Handler()
	token := loginToken(t, handler)

	req := httptest.NewRequest(http.MethodPut, "/api/threads/4", strings.NewReader(`{"title":"new"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	payload := decodeMap(t, rec)
	if payload["code"] != "NOT_FOUND" || payload["error"] != "Thread not found" {
		t.Errorf("body = %v", payload)
	}
}

func TestCreateThreadInOtherCommunityForbidden(t *testing.T) {
	handler := newTestHTTPServer(sessionReadyStore()).Handler()
	token := loginToken(t, handler)

	req := httptest.NewRequest(http.MethodPost, "/api/cosmos/threads", strings.NewReader(`{"title":"t","body":"b"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	payload := decodeMap(t, rec)
	if payload["error"] != "Session belongs to another community" {
		t.Errorf("body = %v", payload)
	}
}

func TestBulkThreadsClampsLimitOverHTTP(t *testing.T) {
	ds := &fakeStore{
		bulkThreadsFn: func(ctx context.Context, q store.BulkThreadsSpec) ([]store.ThreadListing, error) {
			return []store.ThreadListing{{Thread: bigThread()}}, nil
		},
		countVotingThreadsFn: func(ctx context.Context, communityID string) (int, error) {
			return 3, nil
		},
	}
	handler := newTestHTTPServer(ds).Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/ethereum/threads?limit=1000&page=0", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	payload := decodeMap(t, rec)
	if payload["limit"] != float64(500) {
		t.Errorf("limit = %v, want 500", payload["limit"])
	}
	if payload["page"] != float64(1) {
		t.Errorf("page = %v, want 1", payload["page"])
	}
	if payload["numVotingThreads"] != float64(3) {
		t.Errorf("numVotingThreads = %v, want 3", payload["numVotingThreads"])
	}
}

func TestBulkThreadsStageAndStatusConflict(t *testing.T) {
	handler := newTestHTTPServer(&fakeStore{}).Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/ethereum/threads?stage=voting&status=active&contest_address=0xabc", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	payload := decodeMap(t, rec)
	if payload["error"] != "cannot provide both stage and status" {
		t.Errorf("body = %v", payload)
	}
}

func TestBulkThreadsRejectsBadTopicID(t *testing.T) {
	handler := newTestHTTPServer(&fakeStore{}).Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/ethereum/threads?topic_id=abc", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	payload := decodeMap(t, rec)
	if payload["error"] != "topic_id must be an integer" {
		t.Errorf("body = %v", payload)
	}
}

func TestSearchWithoutBackendReturnsEmpty(t *testing.T) {
	handler := newTestHTTPServer(&fakeStore{}).Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=hello", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	payload := decodeMap(t, rec)
	results, ok := payload["results"].([]any)
	if !ok || len(results) != 0 {
		t.Errorf("results = %v, want empty list", payload["results"])
	}
}

func TestRefreshWithUnknownTokenIs401(t *testing.T) {
	handler := newTestHTTPServer(&fakeStore{}).Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/session/refresh", strings.NewReader(`{"refreshToken":"rft_nope"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	payload := decodeMap(t, rec)
	if payload["error"] != "Refresh token invalid" {
		t.Errorf("body = %v", payload)
	}
}

func TestRequestIDHeaderIsEchoed(t *testing.T) {
	handler := newTestHTTPServer(&fakeStore{}).Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want req-42", got)
	}
}
