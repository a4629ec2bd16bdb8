// Package analytics tracks product events emitted by the write path.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Event is one tracked occurrence, e.g. "Create Thread".
type Event struct {
	Event       string         `json:"event"`
	CommunityID string         `json:"community_id,omitempty"`
	UserID      int64          `json:"user_id,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
}

// Sink receives tracked events. Implementations must not block the caller's
// request path.
type Sink interface {
	Track(ctx context.Context, event Event)
}

// LogSink writes events to the process log. It is the default when no
// analytics endpoint is configured.
type LogSink struct{}

func (LogSink) Track(_ context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("analytics: marshal event %q: %v", event.Event, err)
		return
	}
	log.Printf("analytics: %s", payload)
}

// HTTPSink posts events to an external collector, fire and forget.
type HTTPSink struct {
	url    string
	client *http.Client
}

func NewHTTPSink(url string) *HTTPSink {
	return &HTTPSink{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *HTTPSink) Track(ctx context.Context, event Event) {
	go func() {
		if err := s.send(event); err != nil {
			log.Printf("analytics: track %q: %v", event.Event, err)
		}
	}()
}

func (s *HTTPSink) send(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	resp, err := s.client.Post(s.url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("collector returned %d", resp.StatusCode)
	}
	return nil
}
