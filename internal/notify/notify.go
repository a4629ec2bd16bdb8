// Package notify fans community events out to in-app notifications, webhook
// endpoints, and subscriber emails.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"slices"

	"github.com/hereje/commonwealth/internal/store"
	"github.com/hereje/commonwealth/internal/webhook"
)

// Options describes one notification to emit. ExcludeAddresses lists the
// addresses that triggered the event so authors do not get notified about
// their own activity.
type Options struct {
	CategoryID       string
	CommunityID      string
	ThreadID         int64
	Title            string
	Preview          string
	URL              string
	Author           string
	Data             map[string]any
	ExcludeAddresses []string
}

type notifyStore interface {
	ListThreadSubscribers(ctx context.Context, threadID int64) ([]store.Address, error)
	InsertNotification(ctx context.Context, n store.Notification) error
	ListWebhooks(ctx context.Context, communityID string) ([]store.Webhook, error)
}

// Emailer sends a notification email to one recipient.
type Emailer interface {
	SendThreadActivity(to, title, preview, url string) error
}

// Dispatcher routes one Options value to all applicable channels. Delivery is
// best effort; failures are logged and do not bubble up to the write path
// that produced the event.
type Dispatcher struct {
	store       notifyStore
	webhooks    *webhook.Dispatcher
	emailer     Emailer
	lookupEmail func(ctx context.Context, addressID int64) (string, bool)
}

func NewDispatcher(st notifyStore, hooks *webhook.Dispatcher, emailer Emailer, lookupEmail func(ctx context.Context, addressID int64) (string, bool)) *Dispatcher {
	return &Dispatcher{store: st, webhooks: hooks, emailer: emailer, lookupEmail: lookupEmail}
}

// Emit delivers the notification. In-app rows are written synchronously so
// callers observe them; webhooks and emails go out in the background.
func (d *Dispatcher) Emit(ctx context.Context, opts Options) {
	subscribers, err := d.store.ListThreadSubscribers(ctx, opts.ThreadID)
	if err != nil {
		log.Printf("notify: list subscribers for thread %d: %v", opts.ThreadID, err)
		subscribers = nil
	}

	data, err := json.Marshal(opts.Data)
	if err != nil {
		log.Printf("notify: marshal data: %v", err)
		data = []byte(`{}`)
	}

	for _, sub := range subscribers {
		if slices.Contains(opts.ExcludeAddresses, sub.Address) {
			continue
		}
		if err := d.store.InsertNotification(ctx, store.Notification{
			CommunityID: opts.CommunityID,
			CategoryID:  opts.CategoryID,
			Data:        data,
			AddressID:   sub.ID,
		}); err != nil {
			log.Printf("notify: insert notification for address %d: %v", sub.ID, err)
		}

		if d.emailer != nil && d.lookupEmail != nil {
			if email, ok := d.lookupEmail(ctx, sub.ID); ok {
				go func(email string) {
					if err := d.emailer.SendThreadActivity(email, opts.Title, opts.Preview, opts.URL); err != nil {
						log.Printf("notify: email %s: %v", email, err)
					}
				}(email)
			}
		}
	}

	if d.webhooks != nil {
		hooks, err := d.store.ListWebhooks(ctx, opts.CommunityID)
		if err != nil {
			log.Printf("notify: list webhooks for %s: %v", opts.CommunityID, err)
			return
		}
		var urls []string
		for _, hook := range hooks {
			if len(hook.Categories) == 0 || slices.Contains(hook.Categories, opts.CategoryID) {
				urls = append(urls, hook.URL)
			}
		}
		if len(urls) > 0 {
			d.webhooks.Dispatch(webhook.Event{
				CategoryID:  opts.CategoryID,
				CommunityID: opts.CommunityID,
				Title:       opts.Title,
				Preview:     opts.Preview,
				URL:         opts.URL,
				Author:      opts.Author,
				Data:        opts.Data,
			}, urls)
		}
	}
}
