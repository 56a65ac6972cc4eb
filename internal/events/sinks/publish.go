package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-console/internal/events"
	"github.com/JakeFAU/crawl-console/internal/jobs"
)

// EventMessage is the published form of an event. Subscribers can filter on
// stage and config code attributes; messages for one session share an ordering
// key.
type EventMessage struct {
	events.Event
}

// Attributes implements the publisher's attribute hook.
func (m EventMessage) Attributes() map[string]string {
	attrs := map[string]string{
		"stage":      string(m.Stage),
		"session_id": m.SessionID,
	}
	if m.ConfigCode != "" {
		attrs["config_code"] = m.ConfigCode
	}
	return attrs
}

// OrderingKey keeps a session's messages in order.
func (m EventMessage) OrderingKey() string {
	return m.SessionID
}

// PublishSink forwards lifecycle events to a jobs.Publisher. Per-poll job
// observations are not published.
type PublishSink struct {
	publisher jobs.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublishSink constructs a PublishSink that publishes to topic.
func NewPublishSink(publisher jobs.Publisher, topic string, logger *zap.Logger) *PublishSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishSink{publisher: publisher, topic: topic, logger: logger}
}

// Consume publishes each eligible event and stops at the first failure.
func (s *PublishSink) Consume(ctx context.Context, batch []events.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	for _, evt := range batch {
		if evt.Stage == events.StageJobObserved {
			continue
		}
		id, err := s.publisher.Publish(ctx, s.topic, EventMessage{Event: evt})
		if err != nil {
			return fmt.Errorf("publish %s event for session %s: %w", evt.Stage, evt.SessionID, err)
		}
		s.logger.Debug("published monitor event",
			zap.String("message_id", id),
			zap.String("stage", string(evt.Stage)),
			zap.String("session_id", evt.SessionID),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
