// Package webhook delivers community event payloads to external endpoints.
package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// Destination is the payload shape an endpoint expects, inferred from its URL.
type Destination string

const (
	DestDiscord  Destination = "discord"
	DestSlack    Destination = "slack"
	DestTelegram Destination = "telegram"
	DestZapier   Destination = "zapier"
	DestGeneric  Destination = "generic"
)

// Event is one community happening worth telling the outside world about.
type Event struct {
	CategoryID  string         `json:"category_id"`
	CommunityID string         `json:"community_id"`
	Title       string         `json:"title"`
	Preview     string         `json:"preview"`
	URL         string         `json:"url"`
	Author      string         `json:"author"`
	Data        map[string]any `json:"data,omitempty"`
}

// Dispatcher posts events to webhook endpoints, one goroutine per endpoint so
// a slow Discord hook cannot stall the Slack one.
type Dispatcher struct {
	client *http.Client
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// DetectDestination infers the payload format from the endpoint URL.
func DetectDestination(url string) Destination {
	switch {
	case strings.Contains(url, "discord.com/api/webhooks"), strings.Contains(url, "discordapp.com/api/webhooks"):
		return DestDiscord
	case strings.Contains(url, "hooks.slack.com"):
		return DestSlack
	case strings.Contains(url, "api.telegram.org"):
		return DestTelegram
	case strings.Contains(url, "hooks.zapier.com"):
		return DestZapier
	default:
		return DestGeneric
	}
}

// Dispatch fans the event out to every URL. Delivery is best effort; failures
// are logged, never returned.
func (d *Dispatcher) Dispatch(event Event, urls []string) {
	for _, url := range urls {
		go func(url string) {
			if err := d.deliver(event, url); err != nil {
				log.Printf("webhook: deliver to %s: %v", url, err)
			}
		}(url)
	}
}

func (d *Dispatcher) deliver(event Event, url string) error {
	payload, err := buildPayload(event, DetectDestination(url))
	if err != nil {
		return fmt.Errorf("build payload: %w", err)
	}

	resp, err := d.client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func buildPayload(event Event, dest Destination) ([]byte, error) {
	switch dest {
	case DestDiscord:
		return json.Marshal(map[string]any{
			"username": "Commonwealth",
			"embeds": []map[string]any{{
				"title":       event.Title,
				"description": event.Preview,
				"url":         event.URL,
				"footer":      map[string]any{"text": event.Author},
			}},
		})
	case DestSlack:
		text := fmt.Sprintf("*%s*\n%s", event.Title, event.Preview)
		if event.URL != "" {
			text = fmt.Sprintf("*<%s|%s>*\n%s", event.URL, event.Title, event.Preview)
		}
		return json.Marshal(map[string]any{
			"text":     text,
			"username": "Commonwealth",
		})
	case DestTelegram:
		return json.Marshal(map[string]any{
			"text":       fmt.Sprintf("%s\n%s\n%s", event.Title, event.Preview, event.URL),
			"parse_mode": "HTML",
		})
	default:
		// Zapier and generic endpoints get the raw event.
		return json.Marshal(event)
	}
}
