// Package events publishes sync lifecycle events to a Redis stream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/logger"
)

// asyncPublishTimeout is the context timeout for async publish operations.
const asyncPublishTimeout = 5 * time.Second

// maxStreamLen caps the stream with approximate trimming.
const maxStreamLen = 10000

// Type names a lifecycle event.
type Type string

const (
	JobStarted   Type = "job_started"
	JobCompleted Type = "job_completed"
	JobFailed    Type = "job_failed"
	SyncPaused   Type = "sync_paused"
	SyncResumed  Type = "sync_resumed"
	GapsDetected Type = "gaps_detected"
	GapResolved  Type = "gap_resolved"
)

// Event is one stream entry.
type Event struct {
	EventID   uuid.UUID      `json:"event_id"`
	EventType Type           `json:"event_type"`
	JobID     string         `json:"job_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher publishes events to Redis Streams.
type Publisher struct {
	client *redis.Client
	stream string
	log    logger.Logger
}

// NewPublisher creates a new event publisher.
// Returns nil if client is nil; a nil publisher drops every event.
func NewPublisher(client *redis.Client, stream string, log logger.Logger) *Publisher {
	if client == nil {
		return nil
	}
	return &Publisher{
		client: client,
		stream: stream,
		log:    log.With(logger.Component("events")),
	}
}

// Publish sends an event to the stream.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if p == nil {
		return nil
	}

	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	result := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]any{
			"type":  string(event.EventType),
			"event": string(payload),
		},
	})
	if publishErr := result.Err(); publishErr != nil {
		return fmt.Errorf("publish to stream: %w", publishErr)
	}

	p.log.Debug("Published sync event",
		logger.String("event_type", string(event.EventType)),
		logger.String("job_id", event.JobID),
		logger.String("stream_id", result.Val()),
	)
	return nil
}

// PublishAsync publishes an event in the background.
// Errors are logged but not returned.
func (p *Publisher) PublishAsync(event Event) {
	if p == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncPublishTimeout)
		defer cancel()

		if err := p.Publish(ctx, event); err != nil {
			p.log.Error("Async publish failed",
				logger.String("event_type", string(event.EventType)),
				logger.Error(err),
			)
		}
	}()
}
