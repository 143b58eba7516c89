package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"complianceflow/backend/pkg/models"
)

const dedupeKeyPrefix = "workflow-event:"

// RedisStreamPublisher appends events to a Redis stream. A marker keyed by the
// event's dedupe key makes redelivery of the same transition a no-op.
type RedisStreamPublisher struct {
	client    redis.UniversalClient
	stream    string
	maxLength int64
	dedupeTTL time.Duration
}

// RedisStreamOption configures a RedisStreamPublisher.
type RedisStreamOption func(*RedisStreamPublisher)

// WithMaxLength caps the stream at approximately n entries. Zero disables trimming.
func WithMaxLength(n int64) RedisStreamOption {
	return func(p *RedisStreamPublisher) { p.maxLength = n }
}

// WithDedupeTTL sets how long delivered dedupe keys are remembered.
func WithDedupeTTL(ttl time.Duration) RedisStreamOption {
	return func(p *RedisStreamPublisher) { p.dedupeTTL = ttl }
}

// NewRedisStreamPublisher creates a publisher writing to stream.
func NewRedisStreamPublisher(client redis.UniversalClient, stream string, opts ...RedisStreamOption) *RedisStreamPublisher {
	p := &RedisStreamPublisher{
		client:    client,
		stream:    stream,
		dedupeTTL: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewRedisClient connects to a standalone Redis server and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, event models.WorkflowEvent) error {
	marker := dedupeKeyPrefix + event.DedupeKey()
	fresh, err := p.client.SetNX(ctx, marker, event.ID, p.dedupeTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to record dedupe key: %w", err)
	}
	if !fresh {
		return nil
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"id":          event.ID,
			"instance_id": event.InstanceID,
			"template_id": event.TemplateID,
			"from_status": string(event.FromStatus),
			"to_status":   string(event.ToStatus),
			"timestamp":   event.Timestamp.UTC().Format(time.RFC3339Nano),
			"dedupe_key":  event.DedupeKey(),
		},
	}
	if p.maxLength > 0 {
		args.MaxLen = p.maxLength
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		// Release the marker so a retry can deliver the event.
		p.client.Del(ctx, marker)
		return fmt.Errorf("failed to append to stream %s: %w", p.stream, err)
	}
	return nil
}
