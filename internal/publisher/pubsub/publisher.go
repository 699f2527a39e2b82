// Package pubsub announces committed records on a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/product-scraper/internal/crawler"
)

// Message attribute keys.
const (
	AttrItemURL      = "item_url"
	AttrAvailability = "availability"
	AttrEvent        = "event"

	eventRecordCommitted = "record.committed"
)

// Notifier publishes one JSON message per committed record.
type Notifier struct {
	topic *pubsub.Topic
}

// New binds a Notifier to topicID on client. The topic must already exist.
func New(client *pubsub.Client, topicID string) (*Notifier, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	if topicID == "" {
		return nil, errors.New("topic id is required")
	}
	return &Notifier{topic: client.Topic(topicID)}, nil
}

// Notify marshals the record and waits for the server to acknowledge it.
func (n *Notifier) Notify(ctx context.Context, record crawler.Record) error {
	if n == nil || n.topic == nil {
		return errors.New("pubsub notifier is not configured")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttrEvent:        eventRecordCommitted,
			AttrItemURL:      record.ItemURL,
			AttrAvailability: record.Availability,
		},
	}
	if _, err := n.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish record: %w", err)
	}
	return nil
}

// Close flushes pending publishes and stops the topic's goroutines.
func (n *Notifier) Close() {
	if n == nil || n.topic == nil {
		return
	}
	n.topic.Stop()
}
