package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/threadchat/internal/model"
)

const (
	// StreamName is the JetStream stream holding exchange events.
	StreamName = "THREADCHAT"

	// SubjectPrefix is the prefix for all exchange event subjects.
	SubjectPrefix = "chat"
)

// Sink receives terminal exchange events.
type Sink interface {
	Publish(ctx context.Context, event *model.ExchangeEvent) error
}

// NopSink discards events.
type NopSink struct{}

// Publish does nothing.
func (NopSink) Publish(context.Context, *model.ExchangeEvent) error { return nil }

// Subject returns the subject for an exchange event.
func Subject(threadID string, status model.ExchangeStatus) string {
	return fmt.Sprintf("%s.%s.exchange.%s", SubjectPrefix, threadID, status)
}

// ThreadFilter returns the filter subject for all events of a thread.
func ThreadFilter(threadID string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, threadID)
}

// JetStreamSink publishes exchange events to JetStream.
type JetStreamSink struct {
	client *Client
}

// NewJetStreamSink creates a sink on an open client.
func NewJetStreamSink(client *Client) *JetStreamSink {
	return &JetStreamSink{client: client}
}

// EnsureStream creates the event stream if it does not exist.
func (s *JetStreamSink) EnsureStream(ctx context.Context) error {
	js := s.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Chat exchange lifecycle events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// Publish publishes an event, deduplicated by its ID.
func (s *JetStreamSink) Publish(ctx context.Context, event *model.ExchangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = s.client.JetStream().Publish(ctx, Subject(event.ThreadID, event.Status), data,
		jetstream.WithMsgID(event.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
