// Package pubsub publishes proxy list refresh summaries to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/proxyfetch/internal/fetch"
)

// EventType is set as the "event" attribute of every message.
const EventType = "proxy_list_refreshed"

// Event is the JSON payload of a refresh message.
type Event struct {
	fetch.Diff
	RefreshedAt time.Time `json:"refreshed_at"`
}

// Notifier wraps a Pub/Sub topic.
type Notifier struct {
	topic *pubsub.Topic
	now   func() time.Time
}

// New creates a Notifier for the provided topic.
func New(topic *pubsub.Topic) *Notifier {
	return &Notifier{topic: topic, now: time.Now}
}

// NotifyRefresh marshals the diff to JSON and publishes it, waiting for the
// server acknowledgement.
func (n *Notifier) NotifyRefresh(ctx context.Context, diff fetch.Diff) error {
	if n.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(Event{Diff: diff, RefreshedAt: n.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal refresh event: %w", err)
	}

	result := n.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"event": EventType},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish refresh event: %w", err)
	}
	return nil
}

// Stop flushes pending messages.
func (n *Notifier) Stop() {
	if n.topic != nil {
		n.topic.Stop()
	}
}
