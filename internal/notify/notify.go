// Package notify delivers failover notices to downstream consumers.
//
// Delivery is best effort. Callers log failures and move on.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glizzus/encore/internal/metrics"
	"github.com/glizzus/encore/internal/player"
)

// Event is one failover occurrence for one guild.
type Event struct {
	ID         string          `json:"id"`
	GuildID    string          `json:"guildId"`
	FromNode   string          `json:"fromNode"`
	ToNode     string          `json:"toNode"`
	Reason     string          `json:"reason"`
	OccurredAt time.Time       `json:"occurredAt"`
	Session    player.Snapshot `json:"session"`
}

type Sink interface {
	Name() string
	Publish(ctx context.Context, event Event) error
}

// Nop discards every event.
type Nop struct{}

var _ Sink = Nop{}

func (Nop) Name() string                          { return "nop" }
func (Nop) Publish(context.Context, Event) error { return nil }

// Multi publishes to every sink, continuing past failures.
type Multi struct {
	sinks   []Sink
	metrics *metrics.Metrics
}

var _ Sink = (*Multi)(nil)

func NewMulti(m *metrics.Metrics, sinks ...Sink) *Multi {
	return &Multi{sinks: sinks, metrics: m}
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Publish(ctx, event); err != nil {
			m.metrics.RecordNotificationFailure(s.Name())
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
