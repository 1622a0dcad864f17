// Package reconcile periodically moves every session to the node its
// guild's region preference points at.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/glizzus/encore/internal/metrics"
	"github.com/glizzus/encore/internal/player"
	"github.com/glizzus/encore/internal/region"
	"github.com/glizzus/encore/internal/registry"
	"github.com/glizzus/encore/internal/routing"
	"github.com/glizzus/encore/internal/schedule"
)

const DefaultInterval = time.Minute

var ErrNoSession = errors.New("guild has no active session")

// State is where the reconciler is in its idle/running cycle.
type State int

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "idle"
}

// Nodes reconnects nodes that are down and reports their availability.
type Nodes interface {
	EnsureReady(ctx context.Context)
	Get(name string) (*registry.Handle, bool)
}

var _ Nodes = (*registry.Registry)(nil)

type Sessions interface {
	All() []*player.Session
	Get(guildID string) (*player.Session, bool)
}

type Options struct {
	Interval time.Duration
	// Cron replaces Interval when set.
	Cron    string
	Regions region.Provider
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type Reconciler struct {
	nodes    Nodes
	sessions Sessions
	router   *routing.Router

	interval time.Duration
	cron     *schedule.Cron
	regions  region.Provider
	clock    clock.Clock
	log      *slog.Logger
	metrics  *metrics.Metrics

	wake chan struct{}

	// passMu serializes passes; stateMu guards state.
	passMu  sync.Mutex
	stateMu sync.Mutex
	state   State
}

var _ registry.Observer = (*Reconciler)(nil)

func New(nodes Nodes, sessions Sessions, router *routing.Router, opts Options) (*Reconciler, error) {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	var cron *schedule.Cron
	if opts.Cron != "" {
		var err error
		if cron, err = schedule.ParseCron(opts.Cron); err != nil {
			return nil, err
		}
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Reconciler{
		nodes:    nodes,
		sessions: sessions,
		router:   router,
		interval: opts.Interval,
		cron:     cron,
		regions:  opts.Regions,
		clock:    opts.Clock,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		wake:     make(chan struct{}, 1),
	}, nil
}

func (r *Reconciler) State() State {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.state
}

func (r *Reconciler) setState(s State) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	r.state = s
}

// Wake asks Run for a full pass as soon as possible. Requests made while
// one is already pending are merged.
func (r *Reconciler) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Reconciler) NodeReady(string) { r.Wake() }

func (r *Reconciler) NodeDisconnected(string) { r.Wake() }

// Run performs full passes on every timer tick and wake-up until ctx is
// cancelled. Cancellation is a clean exit.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.cron != nil {
		r.log.Info("reconciler started", "cron", r.cron.String())
	} else {
		r.log.Info("reconciler started", "interval", r.interval)
	}
	for {
		timer, err := r.nextTimer()
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			timer.Stop()
			r.log.Info("reconciler stopped")
			return nil
		case <-timer.C:
		case <-r.wake:
			timer.Stop()
		}
		r.ReconcileAll(ctx)
	}
}

func (r *Reconciler) nextTimer() (*clock.Timer, error) {
	if r.cron == nil {
		return r.clock.Timer(r.interval), nil
	}
	wait, err := r.cron.Until(r.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to compute next reconcile time: %w", err)
	}
	return r.clock.Timer(wait), nil
}

// Summary counts the outcomes of one pass.
type Summary map[routing.Outcome]int

// ReconcileAll reconnects unavailable nodes and then routes every
// session. One session failing never stops the pass. ctx cancellation
// stops the pass before the next session.
func (r *Reconciler) ReconcileAll(ctx context.Context) Summary {
	r.passMu.Lock()
	defer r.passMu.Unlock()
	r.setState(StateRunning)
	defer r.setState(StateIdle)

	start := r.clock.Now()
	r.nodes.EnsureReady(ctx)

	summary := Summary{}
	for _, sess := range r.sessions.All() {
		if ctx.Err() != nil {
			break
		}
		summary[r.routeIsolated(ctx, sess)]++
	}

	elapsed := r.clock.Since(start)
	r.metrics.RecordReconcile("all", elapsed)
	r.log.Debug("reconcile pass finished", "sessions", sumOutcomes(summary), "moved", summary[routing.OutcomeMoved], "elapsed", elapsed)
	return summary
}

// ReconcileTenant routes a single guild's session right away.
func (r *Reconciler) ReconcileTenant(ctx context.Context, guildID string) (routing.Outcome, error) {
	sess, ok := r.sessions.Get(guildID)
	if !ok {
		return 0, fmt.Errorf("failed to reconcile guild %s: %w", guildID, ErrNoSession)
	}

	r.passMu.Lock()
	defer r.passMu.Unlock()
	r.setState(StateRunning)
	defer r.setState(StateIdle)

	start := r.clock.Now()
	outcome := r.routeIsolated(ctx, sess)
	r.metrics.RecordReconcile("tenant", r.clock.Since(start))
	r.log.Info("reconciled guild on request", "guildID", guildID, "outcome", outcome.String())
	return outcome, nil
}

func (r *Reconciler) routeIsolated(ctx context.Context, sess *player.Session) (outcome routing.Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("routing session panicked", "guildID", sess.GuildID(), "panic", rec)
			outcome = routing.OutcomeFailed
		}
	}()
	// Sessions on a dead node are moved by failover, not here.
	if node := sess.Node(); node != "" {
		if h, ok := r.nodes.Get(node); ok && !h.Available() {
			r.log.Debug("leaving session to failover", "guildID", sess.GuildID(), "node", node)
			return routing.OutcomeNodeDown
		}
	}
	desired := region.Resolve(ctx, r.regions, sess.GuildID(), r.log)
	return r.router.RouteSession(ctx, sess, desired)
}

func sumOutcomes(s Summary) int {
	n := 0
	for _, v := range s {
		n += v
	}
	return n
}
