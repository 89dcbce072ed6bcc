// Package events publishes governance events (escalations, stale dismissals,
// permanent rejections) to a Redis Stream so operator tooling can subscribe
// without polling the in-process stores.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Stream is the default stream name for governance events.
const Stream = "governance.events"

// Envelope is the canonical message wrapper appended to the stream.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// ValidateBasic ensures mandatory envelope fields are present.
func (e *Envelope) ValidateBasic() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if len(e.Data) == 0 {
		return fmt.Errorf("data payload is required")
	}
	return nil
}

// Publisher wraps Redis Stream publishing for governance events.
type Publisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithStream overrides the destination stream name.
func WithStream(stream string) Option {
	return func(p *Publisher) {
		if stream != "" {
			p.stream = stream
		}
	}
}

// WithMaxLenApprox sets an approximate max length for the stream.
func WithMaxLenApprox(maxLen int64) Option {
	return func(p *Publisher) { p.maxLen = maxLen }
}

// NewPublisher creates a Publisher instance.
func NewPublisher(client *redis.Client, opts ...Option) *Publisher {
	p := &Publisher{client: client, stream: Stream}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish wraps the payload in an envelope and appends it to the stream.
// Returns the stream entry id.
func (p *Publisher) Publish(ctx context.Context, eventType string, payload interface{}) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	env := Envelope{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
	if err := env.ValidateBasic(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{"envelope": raw},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}
