package registry

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/glizzus/encore/internal/config"
	"github.com/glizzus/encore/internal/lavalink"
	"github.com/glizzus/encore/internal/metrics"
	"golang.org/x/sync/errgroup"
)

const DefaultHandshakeTimeout = 5 * time.Second

// Observer is notified when a node changes availability.
type Observer interface {
	NodeReady(name string)
	NodeDisconnected(name string)
}

// PlayerObserver receives the per-guild player state nodes report.
type PlayerObserver interface {
	PlayerState(node, guildID string, state lavalink.PlayerState)
}

type Options struct {
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
	Metrics          *metrics.Metrics
}

// Registry owns every node handle and the region index.
type Registry struct {
	dial    Dialer
	timeout time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	handles map[string]*Handle
	regions map[string][]string

	obsMu           sync.RWMutex
	observers       []Observer
	playerObservers []PlayerObserver
}

func New(dial Dialer, opts Options) *Registry {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		dial:    dial,
		timeout: opts.HandshakeTimeout,
		log:     opts.Logger,
		metrics: opts.Metrics,
		handles: make(map[string]*Handle),
		regions: make(map[string][]string),
	}
}

// Subscribe adds an observer for availability transitions.
// Observers are expected to be added once at startup.
func (r *Registry) Subscribe(o Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.observers = append(r.observers, o)
}

func (r *Registry) SubscribePlayers(o PlayerObserver) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.playerObservers = append(r.playerObservers, o)
}

// Register adds a node and attempts to connect to it. Registering a name
// that is already known returns the existing handle untouched. A failed
// connection still leaves the node indexed, so it can recover later.
func (r *Registry) Register(ctx context.Context, cfg config.NodeConfig) *Handle {
	cfg.Region = strings.ToLower(strings.TrimSpace(cfg.Region))

	r.mu.Lock()
	if h, ok := r.handles[cfg.Name]; ok {
		r.mu.Unlock()
		return h
	}
	h := &Handle{cfg: cfg}
	h.client = r.dial(cfg, nodeEvents{r})
	r.handles[cfg.Name] = h
	if cfg.Region != "" && cfg.Region != config.RegionAuto {
		r.indexLocked(cfg.Region, h)
	}
	r.indexLocked(config.RegionAuto, h)
	r.mu.Unlock()

	r.metrics.SetNodeAvailable(cfg.Name, cfg.Region, false)
	r.connect(ctx, h, false)
	return h
}

// indexLocked keeps each bucket ordered by priority so concurrent
// registration does not change which node is preferred.
func (r *Registry) indexLocked(region string, h *Handle) {
	bucket := r.regions[region]
	i := slices.IndexFunc(bucket, func(name string) bool {
		return r.handles[name].Priority() > h.Priority()
	})
	if i < 0 {
		i = len(bucket)
	}
	r.regions[region] = slices.Insert(bucket, i, h.Name())
}

// RegisterAll registers every node concurrently and waits for all of them.
// A node that fails to connect does not affect the others.
func (r *Registry) RegisterAll(ctx context.Context, cfgs []config.NodeConfig) {
	var g errgroup.Group
	for _, cfg := range cfgs {
		g.Go(func() error {
			r.Register(ctx, cfg)
			return nil
		})
	}
	_ = g.Wait()
}

// EnsureReady reconnects every unavailable node. Calling it while all
// nodes are healthy does nothing.
func (r *Registry) EnsureReady(ctx context.Context) {
	var g errgroup.Group
	for _, h := range r.Handles() {
		if h.Available() {
			continue
		}
		g.Go(func() error {
			r.connect(ctx, h, true)
			return nil
		})
	}
	_ = g.Wait()
}

// connect runs the handshake. The outcome is recorded on the handle and
// in its availability, so there is nothing to return.
func (r *Registry) connect(ctx context.Context, h *Handle, force bool) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cfg := h.Config()
	log := r.log.With("node", cfg.Name, "host", cfg.Host, "port", cfg.Port, "region", cfg.Region)

	err := h.client.Connect(ctx, force)
	var version string
	if err == nil {
		version, err = h.client.Version(ctx)
	}

	switch {
	case err == nil:
		h.setFailure(FailureNone)
		log.Info("connected to node", "version", version, "secure", cfg.Secure)
		r.markAvailable(h)
	case errors.Is(err, lavalink.ErrUnauthorized):
		h.setFailure(FailureAuth)
		log.Error("node rejected credentials, check the configured password", "kind", FailureAuth.String(), "error", err)
		r.markUnavailable(h)
	case lavalink.IsTimeout(err):
		h.setFailure(FailureTimeout)
		log.Warn("node handshake timed out, will retry", "kind", FailureTimeout.String(), "timeout", r.timeout, "error", err)
		r.markUnavailable(h)
	default:
		h.setFailure(FailureConnectivity)
		log.Warn("node is unreachable", "kind", FailureConnectivity.String(), "error", err)
		r.markUnavailable(h)
	}
}

// Priority returns the configuration rank of a node.
func (r *Registry) Priority(name string) (int, bool) {
	h, ok := r.Get(name)
	if !ok {
		return 0, false
	}
	return h.Priority(), true
}

// PickNode returns the first available node in the region, falling back
// to the first available node overall. It returns nil when every node is
// down. An empty region is treated as auto.
func (r *Registry) PickNode(region string) *Handle {
	region = strings.ToLower(strings.TrimSpace(region))
	if region == "" {
		region = config.RegionAuto
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if region != config.RegionAuto {
		for _, name := range r.regions[region] {
			if h := r.handles[name]; h.Available() {
				return h
			}
		}
	}
	for _, name := range r.regions[config.RegionAuto] {
		if h := r.handles[name]; h.Available() {
			return h
		}
	}
	return nil
}

// Region returns the node names indexed under a region.
func (r *Registry) Region(region string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.regions[strings.ToLower(region)])
}

func (r *Registry) Get(name string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[name]
	return h, ok
}

// Handles returns every node ordered by priority.
func (r *Registry) Handles() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.regions[config.RegionAuto]
	out := make([]*Handle, 0, len(names))
	for _, name := range names {
		out = append(out, r.handles[name])
	}
	return out
}

// Available returns the available nodes other than except.
func (r *Registry) Available(except string) []*Handle {
	var out []*Handle
	for _, h := range r.Handles() {
		if h.Name() != except && h.Available() {
			out = append(out, h)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Close disconnects every node without raising disconnect events.
func (r *Registry) Close() {
	for _, h := range r.Handles() {
		if err := h.client.Close(); err != nil {
			r.log.Warn("failed to close node", "node", h.Name(), "error", err)
		}
	}
}

func (r *Registry) markAvailable(h *Handle) {
	if !h.available.CompareAndSwap(false, true) {
		return
	}
	r.metrics.SetNodeAvailable(h.Name(), h.Region(), true)
	for _, o := range r.snapshotObservers() {
		o.NodeReady(h.Name())
	}
}

func (r *Registry) markUnavailable(h *Handle) {
	if !h.available.CompareAndSwap(true, false) {
		return
	}
	r.metrics.SetNodeAvailable(h.Name(), h.Region(), false)
	for _, o := range r.snapshotObservers() {
		o.NodeDisconnected(h.Name())
	}
}

func (r *Registry) snapshotObservers() []Observer {
	r.obsMu.RLock()
	defer r.obsMu.RUnlock()
	return slices.Clone(r.observers)
}

// nodeEvents routes a node's websocket events back into the registry.
type nodeEvents struct {
	r *Registry
}

var _ lavalink.EventHandler = nodeEvents{}

func (e nodeEvents) OnStats(node string, stats lavalink.Stats) {
	e.r.metrics.SetNodeLoad(node, stats.PlayingPlayers)
}

func (e nodeEvents) OnPlayerUpdate(node, guildID string, state lavalink.PlayerState) {
	e.r.obsMu.RLock()
	observers := slices.Clone(e.r.playerObservers)
	e.r.obsMu.RUnlock()
	for _, o := range observers {
		o.PlayerState(node, guildID, state)
	}
}

func (e nodeEvents) OnDisconnect(node string, err error) {
	h, ok := e.r.Get(node)
	if !ok {
		return
	}
	h.setFailure(FailureDisconnected)
	e.r.log.Warn("lost connection to node", "node", node, "kind", FailureDisconnected.String(), "error", err)
	e.r.markUnavailable(h)
}
