package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// EventRebuilt is the "event" attribute of published messages.
const EventRebuilt = "site.rebuilt"

// PubSub publishes announcements as JSON messages to a Google Cloud Pub/Sub topic.
type PubSub struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSub connects to projectID and publishes to topicID. The topic must exist.
func NewPubSub(ctx context.Context, projectID, topicID string, opts ...option.ClientOption) (*PubSub, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &PubSub{client: client, topic: client.Topic(topicID)}, nil
}

// Notify implements Notifier. It blocks until the server acknowledges the message.
func (p *PubSub) Notify(ctx context.Context, a Announcement) error {
	if p == nil || p.topic == nil {
		return fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal announcement: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event": EventRebuilt,
			"slug":  a.Slug,
		},
	}
	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish announcement: %w", err)
	}
	return nil
}

// Close flushes pending messages and releases the client.
func (p *PubSub) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	p.topic.Stop()
	return p.client.Close()
}
