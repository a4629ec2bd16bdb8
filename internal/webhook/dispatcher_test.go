package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestDetectDestination(t *testing.T) {
	tests := []struct {
		url  string
		want Destination
	}{
		{"https://discord.com/api/webhooks/1/abc", DestDiscord},
		{"https://discordapp.com/api/webhooks/1/abc", DestDiscord},
		{"https://hooks.slack.com/services/T/B/x", DestSlack},
		{"https://api.telegram.org/bot123/sendMessage", DestTelegram},
		{"https://hooks.zapier.com/hooks/catch/1/a", DestZapier},
		{"https://example.com/ingest", DestGeneric},
	}
	for _, tc := range tests {
		if got := DetectDestination(tc.url); got != tc.want {
			t.Errorf("DetectDestination(%s) = %s, want %s", tc.url, got, tc.want)
		}
	}
}

func TestBuildPayloadShapes(t *testing.T) {
	event := Event{
		CategoryID:  "new-thread-creation",
		CommunityID: "ethereum",
		Title:       "Big Thread!",
		Preview:     "hello world",
		URL:         "https://commonwealth.im/ethereum/discussion/4",
		Author:      "0x123",
	}

	discord, err := buildPayload(event, DestDiscord)
	if err != nil {
		t.Fatalf("discord payload: %v", err)
	}
	var d map[string]any
	if err := json.Unmarshal(discord, &d); err != nil {
		t.Fatalf("discord payload not json: %v", err)
	}
	if _, ok := d["embeds"]; !ok {
		t.Error("discord payload missing embeds")
	}

	slack, err := buildPayload(event, DestSlack)
	if err != nil {
		t.Fatalf("slack payload: %v", err)
	}
	if !strings.Contains(string(slack), "Big Thread!") {
		t.Error("slack payload missing title")
	}

	generic, err := buildPayload(event, DestGeneric)
	if err != nil {
		t.Fatalf("generic payload: %v", err)
	}
	var g Event
	if err := json.Unmarshal(generic, &g); err != nil {
		t.Fatalf("generic payload not an event: %v", err)
	}
	if g.CategoryID != "new-thread-creation" {
		t.Errorf("generic category = %q", g.CategoryID)
	}
}

func TestDispatchDeliversToAllEndpoints(t *testing.T) {
	var mu sync.Mutex
	hits := make(map[string]int)
	done := make(chan struct{}, 2)

	handler := func(name string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			hits[name]++
			mu.Unlock()
			done <- struct{}{}
		}
	}
	srv1 := httptest.NewServer(handler("one"))
	defer srv1.Close()
	srv2 := httptest.NewServer(handler("two"))
	defer srv2.Close()

	d := NewDispatcher()
	d.Dispatch(Event{Title: "t"}, []string{srv1.URL, srv2.URL})

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for deliveries")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if hits["one"] != 1 || hits["two"] != 1 {
		t.Errorf("hits = %v, want one delivery each", hits)
	}
}

func TestDispatchSurvivesFailingEndpoint(t *testing.T) {
	done := make(chan struct{}, 1)
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done <- struct{}{}
	}))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer bad.Close()

	d := NewDispatcher()
	d.Dispatch(Event{Title: "t"}, []string{bad.URL, ok.URL})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("healthy endpoint never reached")
	}
}
