// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
)

// Attributed payloads contribute message attributes, such as the event stage, so
// subscribers can filter without decoding the body.
type Attributed interface {
	Attributes() map[string]string
}

// Keyed payloads name an ordering key. Messages sharing a key are delivered in
// publish order when the publisher has ordering enabled.
type Keyed interface {
	OrderingKey() string
}

// Publisher wraps a Pub/Sub topic publisher.
type Publisher struct {
	publisher *pubsub.Publisher
}

// New creates a Publisher for the provided topic publisher. ordered enables
// message ordering on it.
func New(publisher *pubsub.Publisher, ordered bool) *Publisher {
	if publisher != nil && ordered {
		publisher.EnableMessageOrdering = true
	}
	return &Publisher{publisher: publisher}
}

// Publish marshals the payload to JSON and publishes it. topic is recorded as an
// attribute; the destination is fixed by the underlying publisher.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"content_type": "application/json"},
	}
	if topic != "" {
		msg.Attributes["topic"] = topic
	}
	if a, ok := payload.(Attributed); ok {
		for k, v := range a.Attributes() {
			msg.Attributes[k] = v
		}
	}
	if k, ok := payload.(Keyed); ok && p.publisher.EnableMessageOrdering {
		msg.OrderingKey = k.OrderingKey()
	}

	result := p.publisher.Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		if msg.OrderingKey != "" {
			p.publisher.ResumePublish(msg.OrderingKey)
		}
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages and stops the publisher.
func (p *Publisher) Stop() {
	if p.publisher != nil {
		p.publisher.Stop()
	}
}
