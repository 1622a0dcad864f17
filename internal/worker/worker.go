// Package worker carries on-demand reconcile requests between processes
// over a Redis stream.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultRequestStream = "reconcile_requests"
	DefaultGroup         = "reconcile_group"

	defaultBlock = 5 * time.Second
	defaultCount = 16
)

// ReconcileRequest asks the bot to route one guild now.
type ReconcileRequest struct {
	ID          string
	GuildID     string
	RequestedAt time.Time
}

type ReconcileRequester interface {
	Request(ctx context.Context, guildID string) error
}

// RequestHandler processes one request. A returned error leaves the
// request pending in the group.
type RequestHandler func(ctx context.Context, req ReconcileRequest) error

type RedisReconcileRequester struct {
	client *redis.Client
	stream string
	now    func() time.Time
}

var _ ReconcileRequester = (*RedisReconcileRequester)(nil)

func NewRedisReconcileRequester(client *redis.Client, stream string) *RedisReconcileRequester {
	if stream == "" {
		stream = DefaultRequestStream
	}
	return &RedisReconcileRequester{client: client, stream: stream, now: time.Now}
}

func (r *RedisReconcileRequester) Request(ctx context.Context, guildID string) error {
	if guildID == "" {
		return errors.New("guild id is required")
	}
	err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{
			"guildID":     guildID,
			"requestedAt": r.now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish reconcile request for guild %s: %w", guildID, err)
	}
	return nil
}

type ReceiverOptions struct {
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
	Logger   *slog.Logger
}

// RedisReconcileReceiver reads requests as a member of a consumer group.
type RedisReconcileReceiver struct {
	client *redis.Client
	opts   ReceiverOptions
	log    *slog.Logger
}

func NewRedisReconcileReceiver(ctx context.Context, client *redis.Client, opts ReceiverOptions) (*RedisReconcileReceiver, error) {
	if opts.Stream == "" {
		opts.Stream = DefaultRequestStream
	}
	if opts.Group == "" {
		opts.Group = DefaultGroup
	}
	if opts.Consumer == "" {
		opts.Consumer = "bot"
	}
	if opts.Block == 0 {
		opts.Block = defaultBlock
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	err := client.XGroupCreateMkStream(ctx, opts.Stream, opts.Group, "$").Err()
	if err != nil && err != redis.Nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group %s: %w", opts.Group, err)
	}

	return &RedisReconcileReceiver{
		client: client,
		opts:   opts,
		log:    opts.Logger.With("stream", opts.Stream, "group", opts.Group),
	}, nil
}

// Receive reads one batch, hands each request to fn and acknowledges the
// ones it handled. It returns the number acknowledged.
func (r *RedisReconcileReceiver) Receive(ctx context.Context, fn RequestHandler) (int, error) {
	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    r.opts.Group,
		Consumer: r.opts.Consumer,
		Streams:  []string{r.opts.Stream, ">"},
		Count:    defaultCount,
		Block:    r.opts.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read reconcile requests: %w", err)
	}

	acked := 0
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			req, err := parseRequest(msg)
			if err != nil {
				r.log.Warn("dropping malformed reconcile request", "id", msg.ID, "error", err)
				r.ack(ctx, msg.ID)
				continue
			}
			if err := fn(ctx, req); err != nil {
				r.log.Warn("failed to handle reconcile request", "id", msg.ID, "guildID", req.GuildID, "error", err)
				continue
			}
			if r.ack(ctx, msg.ID) {
				acked++
			}
		}
	}
	return acked, nil
}

func (r *RedisReconcileReceiver) ack(ctx context.Context, id string) bool {
	if err := r.client.XAck(ctx, r.opts.Stream, r.opts.Group, id).Err(); err != nil {
		r.log.Warn("failed to acknowledge reconcile request", "id", id, "error", err)
		return false
	}
	return true
}

// Run receives until ctx is done.
func (r *RedisReconcileReceiver) Run(ctx context.Context, fn RequestHandler) {
	for ctx.Err() == nil {
		if _, err := r.Receive(ctx, fn); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Error("reconcile request receiver failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func parseRequest(msg redis.XMessage) (ReconcileRequest, error) {
	guildID, _ := msg.Values["guildID"].(string)
	if guildID == "" {
		return ReconcileRequest{}, errors.New("missing guildID")
	}
	req := ReconcileRequest{ID: msg.ID, GuildID: guildID}
	if raw, ok := msg.Values["requestedAt"].(string); ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			req.RequestedAt = t
		}
	}
	return req, nil
}

// MemoryReconcileRequester records requests in memory.
type MemoryReconcileRequester struct {
	Requests []string
}

var _ ReconcileRequester = (*MemoryReconcileRequester)(nil)

func (m *MemoryReconcileRequester) Request(_ context.Context, guildID string) error {
	m.Requests = append(m.Requests, guildID)
	return nil
}
