// Package notify forwards outcome records to external subscribers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"outreach/internal/domain"
)

// PubSubSink publishes each outcome as a JSON message. Attributes carry the
// action and run so subscribers can filter without decoding.
type PubSubSink struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	log    *zap.Logger
}

func NewPubSubSink(ctx context.Context, projectID, topicID string, log *zap.Logger, opts ...option.ClientOption) (*PubSubSink, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PubSubSink{client: client, topic: client.Topic(topicID), log: log}, nil
}

func (s *PubSubSink) Publish(ctx context.Context, rec domain.OutcomeRecord) error {
	msg, err := Encode(rec)
	if err != nil {
		return err
	}
	if _, err := s.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("failed to publish outcome: %w", err)
	}
	s.log.Debug("published outcome", zap.String("topic", s.topic.String()), zap.String("recipient", rec.Recipient))
	return nil
}

// Encode builds the message for one record.
func Encode(rec domain.OutcomeRecord) (*pubsub.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outcome: %w", err)
	}
	attrs := map[string]string{"action": string(rec.Action)}
	if rec.RunID != "" {
		attrs["run_id"] = rec.RunID
	}
	if rec.Stage != "" {
		attrs["stage"] = string(rec.Stage)
	}
	return &pubsub.Message{Data: data, Attributes: attrs}, nil
}

// Close flushes pending publishes and releases the client.
func (s *PubSubSink) Close() error {
	s.topic.Stop()
	return s.client.Close()
}
