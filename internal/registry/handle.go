package registry

import (
	"context"
	"sync/atomic"

	"github.com/glizzus/encore/internal/config"
	"github.com/glizzus/encore/internal/lavalink"
)

// Client is a connection to one audio node.
type Client interface {
	Name() string
	// Connect opens the node's event stream. An open stream is kept
	// unless force is set.
	Connect(ctx context.Context, force bool) error
	Version(ctx context.Context) (string, error)
	Stats() lavalink.Stats
	UpdatePlayer(ctx context.Context, guildID string, update lavalink.PlayerUpdate) error
	DestroyPlayer(ctx context.Context, guildID string) error
	Close() error
}

var _ Client = (*lavalink.Node)(nil)

// Dialer builds a Client for a node. Events for the node must be
// delivered to the given handler.
type Dialer func(cfg config.NodeConfig, events lavalink.EventHandler) Client

// LavalinkDialer dials real Lavalink nodes.
func LavalinkDialer(opts lavalink.Options) Dialer {
	return func(cfg config.NodeConfig, events lavalink.EventHandler) Client {
		return lavalink.NewNode(cfg, events, opts)
	}
}

// FailureKind is why a node last became unavailable.
type FailureKind int32

const (
	FailureNone FailureKind = iota
	FailureAuth
	FailureConnectivity
	FailureTimeout
	FailureDisconnected
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureAuth:
		return "auth"
	case FailureConnectivity:
		return "connectivity"
	case FailureTimeout:
		return "timeout"
	case FailureDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Handle is the runtime view of a configured node.
type Handle struct {
	cfg    config.NodeConfig
	client Client

	available   atomic.Bool
	lastFailure atomic.Int32
}

func (h *Handle) Name() string { return h.cfg.Name }

// Region returns the normalized region label, empty if none was configured.
func (h *Handle) Region() string { return h.cfg.Region }

func (h *Handle) Priority() int { return h.cfg.Priority }

func (h *Handle) Config() config.NodeConfig { return h.cfg }

func (h *Handle) Client() Client { return h.client }

// Available reports whether the node may receive sessions.
func (h *Handle) Available() bool { return h.available.Load() }

func (h *Handle) Stats() lavalink.Stats { return h.client.Stats() }

func (h *Handle) LastFailure() FailureKind { return FailureKind(h.lastFailure.Load()) }

func (h *Handle) setFailure(k FailureKind) { h.lastFailure.Store(int32(k)) }
