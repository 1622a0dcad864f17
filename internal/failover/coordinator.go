package failover

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/glizzus/encore/internal/config"
	"github.com/glizzus/encore/internal/generator"
	"github.com/glizzus/encore/internal/metrics"
	"github.com/glizzus/encore/internal/notify"
	"github.com/glizzus/encore/internal/player"
	"github.com/glizzus/encore/internal/region"
	"github.com/glizzus/encore/internal/registry"
	"github.com/glizzus/encore/internal/routing"
	"github.com/glizzus/encore/internal/schedule"
	"github.com/glizzus/encore/internal/util"
)

const DefaultResumeRewind = time.Second

// VoiceTransport re-establishes the bot's own voice connection.
type VoiceTransport interface {
	Reconnect(ctx context.Context, guildID, channelID string) error
}

// Nodes is the part of the registry failover reads.
type Nodes interface {
	Available(except string) []*registry.Handle
	Get(name string) (*registry.Handle, bool)
	Len() int
}

var _ Nodes = (*registry.Registry)(nil)

// Sessions is the part of the session manager failover reads.
type Sessions interface {
	OnNode(node string) []*player.Session
	All() []*player.Session
	Get(guildID string) (*player.Session, bool)
}

var _ Sessions = (*player.Manager)(nil)

type Options struct {
	ResumeRewind time.Duration
	Regions      region.Provider
	Sink         notify.Sink
	Voice        VoiceTransport
	IDs          generator.Generator[string]
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Coordinator reacts to node loss by migrating the node's sessions.
type Coordinator struct {
	nodes      Nodes
	sessions   Sessions
	router     *routing.Router
	supervisor *schedule.Supervisor

	rewind  time.Duration
	regions region.Provider
	sink    notify.Sink
	voice   VoiceTransport
	ids     generator.Generator[string]
	log     *slog.Logger
	metrics *metrics.Metrics
}

var _ registry.Observer = (*Coordinator)(nil)

func New(nodes Nodes, sessions Sessions, router *routing.Router, supervisor *schedule.Supervisor, opts Options) *Coordinator {
	if opts.ResumeRewind < 0 {
		opts.ResumeRewind = 0
	}
	if opts.Sink == nil {
		opts.Sink = notify.Nop{}
	}
	if opts.IDs == nil {
		opts.IDs = &generator.UUIDV4Generator{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		nodes:      nodes,
		sessions:   sessions,
		router:     router,
		supervisor: supervisor,
		rewind:     opts.ResumeRewind,
		regions:    opts.Regions,
		sink:       opts.Sink,
		voice:      opts.Voice,
		ids:        opts.IDs,
		log:        opts.Logger,
		metrics:    opts.Metrics,
	}
}

// NodeDisconnected starts a failover pass in the background.
func (c *Coordinator) NodeDisconnected(name string) {
	c.supervisor.Go("failover "+name, func(ctx context.Context) {
		c.Failover(ctx, name)
	})
}

// NodeReady retries sessions still parked on unavailable nodes, since a
// node coming back may be the first candidate they have had.
func (c *Coordinator) NodeReady(name string) {
	c.supervisor.Go("failover retry after "+name, func(ctx context.Context) {
		for _, dead := range c.strandedNodes() {
			c.Failover(ctx, dead)
		}
	})
}

func (c *Coordinator) strandedNodes() []string {
	var out []string
	for _, s := range c.sessions.All() {
		node := s.Node()
		if node == "" || slices.Contains(out, node) {
			continue
		}
		if h, ok := c.nodes.Get(node); ok && !h.Available() {
			out = append(out, node)
		}
	}
	return out
}

// Result summarizes one failover pass.
type Result struct {
	Affected int
	Migrated int
	Deferred int
	Cooldown int
	Skipped  int
	Failed   int
}

// rankCandidates orders nodes by reported load, then configuration rank.
func rankCandidates(nodes []*registry.Handle) []*registry.Handle {
	ranked := slices.Clone(nodes)
	slices.SortStableFunc(ranked, func(a, b *registry.Handle) int {
		if c := cmp.Compare(a.Stats().PlayingPlayers, b.Stats().PlayingPlayers); c != 0 {
			return c
		}
		return cmp.Compare(a.Priority(), b.Priority())
	})
	return ranked
}

// Failover migrates every session assigned to failed.
func (c *Coordinator) Failover(ctx context.Context, failed string) Result {
	log := c.log.With("failedNode", failed)

	affected := c.sessions.OnNode(failed)
	res := Result{Affected: len(affected)}
	if len(affected) == 0 {
		log.Info("no sessions on failed node")
		return res
	}

	candidates := rankCandidates(c.nodes.Available(failed))
	if len(candidates) == 0 {
		if c.nodes.Len() <= 1 {
			log.Info("single node deployment, sessions wait for the node to return", "sessions", len(affected))
		} else {
			log.Warn("every node is down, failover deferred", "sessions", len(affected), "nodes", c.nodes.Len())
		}
		res.Deferred = len(affected)
		for range affected {
			c.metrics.RecordFailoverSession("deferred")
		}
		return res
	}

	log.Info("failing over sessions", "sessions", len(affected), "candidates", len(candidates))
	for _, sess := range affected {
		result := c.migrateIsolated(ctx, sess, failed, candidates)
		c.metrics.RecordFailoverSession(result)
		switch result {
		case "migrated":
			res.Migrated++
		case "deferred":
			res.Deferred++
		case "cooldown":
			res.Cooldown++
		case "skipped":
			res.Skipped++
		default:
			res.Failed++
		}
	}
	log.Info("failover pass finished",
		"migrated", res.Migrated, "deferred", res.Deferred, "cooldown", res.Cooldown,
		"skipped", res.Skipped, "failed", res.Failed)
	return res
}

func (c *Coordinator) migrateIsolated(ctx context.Context, sess *player.Session, failed string, candidates []*registry.Handle) (result string) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("session failover panicked", "guildID", sess.GuildID(), "failedNode", failed, "panic", r)
			result = "failed"
		}
	}()
	return c.migrate(ctx, sess, failed, candidates)
}

func (c *Coordinator) migrate(ctx context.Context, sess *player.Session, failed string, candidates []*registry.Handle) string {
	guildID := sess.GuildID()
	log := c.log.With("guildID", guildID, "failedNode", failed)

	if sess.Node() != failed {
		log.Debug("session already moved off failed node", "node", sess.Node())
		return "skipped"
	}
	if sess.InCooldown(c.router.Now()) {
		log.Debug("session in migration cooldown, skipping")
		c.retryAfterCooldown(sess, failed)
		return "cooldown"
	}

	desired := region.Resolve(ctx, c.regions, guildID, log)
	target := c.pickTarget(candidates, desired)
	if target == nil {
		log.Warn("no node to move session to, leaving it for a later pass", "region", desired)
		return "deferred"
	}

	// Captured before the move: state reports from the new node would
	// otherwise overwrite them.
	current := sess.Current()
	position := sess.Position()
	paused := sess.Paused()
	voiceConnected := sess.VoiceConnected()

	switch outcome := c.router.ChangeNode(ctx, sess, target, desired, routing.TriggerFailover); outcome {
	case routing.OutcomeMoved:
	case routing.OutcomeRateLimited:
		c.retryAfterCooldown(sess, failed)
		return "cooldown"
	default:
		return "failed"
	}

	if !voiceConnected && c.voice != nil {
		if err := c.voice.Reconnect(ctx, guildID, sess.ChannelID()); err != nil {
			log.Warn("failed to reconnect voice after failover", "channelID", sess.ChannelID(), "error", err)
		}
	}

	c.resume(ctx, log, sess, current, position, paused)
	c.publish(ctx, log, sess, failed, target.Name())
	return "migrated"
}

// pickTarget prefers a candidate in the desired region and otherwise
// takes the best ranked one. Candidates that went down since ranking
// are skipped.
func (c *Coordinator) pickTarget(candidates []*registry.Handle, desired string) *registry.Handle {
	available := slices.DeleteFunc(slices.Clone(candidates), func(h *registry.Handle) bool {
		return !h.Available()
	})
	if len(available) == 0 {
		return nil
	}
	if desired != config.RegionAuto {
		if h, ok := util.FindFirst(available, func(h *registry.Handle) bool { return h.Region() == desired }); ok {
			return h
		}
	}
	return available[0]
}

func (c *Coordinator) resume(ctx context.Context, log *slog.Logger, sess *player.Session, current *player.Track, position int64, paused bool) {
	switch {
	case current != nil:
		start := max(0, position-c.rewind.Milliseconds())
		if err := sess.Play(ctx, *current, start); err != nil {
			log.Warn("failed to resume track after failover", "error", err)
			return
		}
		if paused {
			if err := sess.SetPause(ctx, true); err != nil {
				log.Warn("failed to restore pause after failover", "error", err)
			}
		}
		log.Info("resumed track after failover", "positionMs", start, "paused", paused)
	case len(sess.Queue()) > 0:
		if err := sess.StartNext(ctx); err != nil {
			log.Warn("failed to start queue after failover", "error", err)
		}
	default:
		log.Debug("session idle after failover")
	}
}

func (c *Coordinator) publish(ctx context.Context, log *slog.Logger, sess *player.Session, from, to string) {
	id, err := c.ids.Next()
	if err != nil {
		log.Debug("failed to generate failover event id", "error", err)
		return
	}
	event := notify.Event{
		ID:         id,
		GuildID:    sess.GuildID(),
		FromNode:   from,
		ToNode:     to,
		Reason:     fmt.Sprintf("node %s became unavailable", from),
		OccurredAt: c.router.Now(),
		Session:    sess.Snapshot(),
	}
	if err := c.sink.Publish(ctx, event); err != nil {
		log.Debug("failed to publish failover event", "eventID", id, "error", err)
	}
}

// retryAfterCooldown schedules another attempt once the session may be
// moved again.
func (c *Coordinator) retryAfterCooldown(sess *player.Session, failed string) {
	guildID := sess.GuildID()
	c.supervisor.RunAt("failover retry "+guildID, sess.CooldownUntil(), func(ctx context.Context) {
		current, ok := c.sessions.Get(guildID)
		if !ok || current != sess || current.Node() != failed {
			return
		}
		if h, ok := c.nodes.Get(failed); ok && h.Available() {
			return
		}
		candidates := rankCandidates(c.nodes.Available(failed))
		if len(candidates) == 0 {
			return
		}
		c.metrics.RecordFailoverSession(c.migrateIsolated(ctx, sess, failed, candidates))
	})
}
