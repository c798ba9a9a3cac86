package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Publisher provides typed methods for publishing lifecycle events. A
// nil Publisher is valid and publishes nothing, so callers never need a
// NATS guard; publish failures are logged, events are advisory.
type Publisher struct {
	js jetstream.JetStream
}

func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// MemoryChanged publishes a memory lifecycle event.
func (p *Publisher) MemoryChanged(ctx context.Context, event MemoryEvent) {
	if p == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	p.publish(ctx, SubjectMemoryEvent, event)
}

// ConversationChanged publishes a conversation lifecycle event.
func (p *Publisher) ConversationChanged(ctx context.Context, event ConversationEvent) {
	if p == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	p.publish(ctx, SubjectConversationEvent, event)
}

func (p *Publisher) publish(ctx context.Context, subject string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		slog.Warn("marshaling event failed", "subject", subject, "error", err)
		return
	}
	if _, err := p.js.Publish(ctx, subject, payload); err != nil {
		slog.Warn("publishing event failed", "subject", subject, "error", fmt.Errorf("%s: %w", subject, err))
	}
}
