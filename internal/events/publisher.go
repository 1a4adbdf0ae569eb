package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// Publisher provides typed methods for publishing quota events. A nil
// Publisher is valid and publishes nothing, so event emission can be
// disabled by configuration.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates a new Publisher.
func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// PublishQuotaDenied publishes a denied admission decision.
func (p *Publisher) PublishQuotaDenied(ctx context.Context, event QuotaDenied) error {
	return p.publish(ctx, SubjectQuotaDenied, event)
}

// PublishUsageRecorded publishes a persisted usage increment.
func (p *Publisher) PublishUsageRecorded(ctx context.Context, event UsageRecorded) error {
	return p.publish(ctx, SubjectUsageRecorded, event)
}

// PublishRetentionSwept publishes a retention sweep summary.
func (p *Publisher) PublishRetentionSwept(ctx context.Context, event RetentionSwept) error {
	return p.publish(ctx, SubjectRetentionSwept, event)
}

func (p *Publisher) publish(ctx context.Context, subject string, data any) error {
	if p == nil {
		return nil
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	if _, err := p.js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}
