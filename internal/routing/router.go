// Package routing moves playback sessions onto the node that best
// matches their preferred region.
package routing

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/glizzus/encore/internal/lavalink"
	"github.com/glizzus/encore/internal/metrics"
	"github.com/glizzus/encore/internal/player"
	"github.com/glizzus/encore/internal/registry"
)

const DefaultMigrationBackoff = 30 * time.Second

// Trigger names what asked for a node change.
type Trigger string

const (
	TriggerRoute    Trigger = "route"
	TriggerFailover Trigger = "failover"
)

// Outcome is the result of a routing decision.
type Outcome int

const (
	OutcomeCooldown Outcome = iota
	OutcomeNoCandidate
	OutcomeAlreadyAssigned
	OutcomeMoved
	OutcomeRateLimited
	OutcomeFailed
	OutcomeBusy
	// OutcomeNodeDown means the assigned node is unavailable and the
	// session is left for failover to move.
	OutcomeNodeDown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCooldown:
		return "cooldown"
	case OutcomeNoCandidate:
		return "no_candidate"
	case OutcomeAlreadyAssigned:
		return "already_assigned"
	case OutcomeMoved:
		return "moved"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeFailed:
		return "failed"
	case OutcomeBusy:
		return "busy"
	case OutcomeNodeDown:
		return "node_down"
	default:
		return "unknown"
	}
}

// Picker chooses a node for a region.
type Picker interface {
	PickNode(region string) *registry.Handle
}

var _ Picker = (*registry.Registry)(nil)

type Options struct {
	// Backoff is how long a session waits after a node throttled a move.
	Backoff time.Duration
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type Router struct {
	picker  Picker
	backoff time.Duration
	clock   clock.Clock
	log     *slog.Logger
	metrics *metrics.Metrics
}

func New(picker Picker, opts Options) *Router {
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultMigrationBackoff
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Router{
		picker:  picker,
		backoff: opts.Backoff,
		clock:   opts.Clock,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
}

// Now is the router's clock, shared with callers that share its cooldowns.
func (r *Router) Now() time.Time { return r.clock.Now() }

// RouteSession moves sess to the preferred node for region if it is not
// already there. Failures are folded into the returned Outcome.
func (r *Router) RouteSession(ctx context.Context, sess *player.Session, region string) Outcome {
	if sess.InCooldown(r.clock.Now()) {
		return OutcomeCooldown
	}

	target := r.picker.PickNode(region)
	if target == nil {
		r.log.Debug("no node available for session", "guildID", sess.GuildID(), "region", region)
		return OutcomeNoCandidate
	}
	if target.Name() == sess.Node() {
		return OutcomeAlreadyAssigned
	}

	return r.ChangeNode(ctx, sess, target, region, TriggerRoute)
}

// ChangeNode moves sess to target. A successful move clears any cooldown
// and keeps the current track playing from its last known position. A
// throttled move starts a cooldown. Any other error leaves the session
// where it was.
func (r *Router) ChangeNode(ctx context.Context, sess *player.Session, target *registry.Handle, region string, trigger Trigger) Outcome {
	if !sess.BeginMigration() {
		return OutcomeBusy
	}
	defer sess.EndMigration()

	previous := sess.Node()
	log := r.log.With("guildID", sess.GuildID(), "from", previous, "to", target.Name(), "region", region, "trigger", string(trigger))

	err := sess.ChangeNode(ctx, target)
	switch {
	case err == nil:
	case lavalink.IsRateLimited(err):
		until := r.clock.Now().Add(r.backoff)
		sess.ExtendCooldown(until)
		log.Info("node throttled session move, backing off", "until", until, "error", err)
		r.metrics.RecordMigration(string(trigger), OutcomeRateLimited.String())
		return OutcomeRateLimited
	default:
		log.Warn("failed to move session", "error", err)
		r.metrics.RecordMigration(string(trigger), OutcomeFailed.String())
		return OutcomeFailed
	}

	sess.ClearCooldown()
	r.metrics.RecordMigration(string(trigger), OutcomeMoved.String())
	log.Info("moved session to node")

	if trigger == TriggerRoute {
		r.continuePlayback(ctx, sess)
	}
	return OutcomeMoved
}

// continuePlayback replays the current track on the new node, where the
// player starts out empty.
func (r *Router) continuePlayback(ctx context.Context, sess *player.Session) {
	current := sess.Current()
	if current == nil {
		return
	}
	paused := sess.Paused()
	if err := sess.Play(ctx, *current, sess.Position()); err != nil {
		r.log.Warn("failed to continue playback after move", "guildID", sess.GuildID(), "error", err)
		return
	}
	if paused {
		if err := sess.SetPause(ctx, true); err != nil {
			r.log.Warn("failed to restore pause after move", "guildID", sess.GuildID(), "error", err)
		}
	}
}
