package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultEventStream = "failover_events"

// RedisSink appends events to a Redis stream.
type RedisSink struct {
	client *redis.Client
	stream string
}

var _ Sink = (*RedisSink)(nil)

func NewRedisSink(client *redis.Client, stream string) *RedisSink {
	if stream == "" {
		stream = DefaultEventStream
	}
	return &RedisSink{client: client, stream: stream}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Publish(ctx context.Context, event Event) error {
	session, err := json.Marshal(event.Session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"id":         event.ID,
			"guildID":    event.GuildID,
			"fromNode":   event.FromNode,
			"toNode":     event.ToNode,
			"reason":     event.Reason,
			"occurredAt": event.OccurredAt.Format(time.RFC3339Nano),
			"session":    string(session),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to add event %s to stream %s: %w", event.ID, s.stream, err)
	}
	return nil
}
