// Package registrytest provides an in-memory node client for tests.
package registrytest

import (
	"context"
	"sync"
	"testing"

	"github.com/glizzus/encore/internal/config"
	"github.com/glizzus/encore/internal/lavalink"
	"github.com/glizzus/encore/internal/registry"
)

// Call is one player request received by a FakeClient.
type Call struct {
	Method  string
	GuildID string
	Update  lavalink.PlayerUpdate
}

// FakeClient records every request and answers with configurable errors.
type FakeClient struct {
	mu         sync.Mutex
	cfg        config.NodeConfig
	events     lavalink.EventHandler
	connectErr error
	versionErr error
	updateErr  error
	stats      lavalink.Stats
	connects   int
	calls      []Call
	closed     bool
}

var _ registry.Client = (*FakeClient)(nil)

func (c *FakeClient) Name() string { return c.cfg.Name }

func (c *FakeClient) Connect(ctx context.Context, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.connectErr != nil {
		return c.connectErr
	}
	return ctx.Err()
}

func (c *FakeClient) Version(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versionErr != nil {
		return "", c.versionErr
	}
	return "4.0.8", nil
}

func (c *FakeClient) Stats() lavalink.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *FakeClient) UpdatePlayer(_ context.Context, guildID string, update lavalink.PlayerUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Method: "update", GuildID: guildID, Update: update})
	return c.updateErr
}

func (c *FakeClient) DestroyPlayer(_ context.Context, guildID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Method: "destroy", GuildID: guildID})
	return nil
}

func (c *FakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// SetConnectErr makes future Connect calls fail with err.
func (c *FakeClient) SetConnectErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectErr = err
}

func (c *FakeClient) SetVersionErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versionErr = err
}

// SetUpdateErr makes future UpdatePlayer calls fail with err.
func (c *FakeClient) SetUpdateErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateErr = err
}

func (c *FakeClient) SetStats(stats lavalink.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = stats
}

func (c *FakeClient) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

// Calls returns the player requests received so far.
func (c *FakeClient) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

func (c *FakeClient) ResetCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

func (c *FakeClient) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Disconnect simulates the node's event stream dropping.
func (c *FakeClient) Disconnect(err error) {
	c.events.OnDisconnect(c.cfg.Name, err)
}

// ReportPlayer simulates the node reporting player state for a guild.
func (c *FakeClient) ReportPlayer(guildID string, state lavalink.PlayerState) {
	c.events.OnPlayerUpdate(c.cfg.Name, guildID, state)
}

// Pool hands out one FakeClient per node name.
type Pool struct {
	mu      sync.Mutex
	clients map[string]*FakeClient
	preset  map[string]func(*FakeClient)
}

func NewPool() *Pool {
	return &Pool{
		clients: make(map[string]*FakeClient),
		preset:  make(map[string]func(*FakeClient)),
	}
}

// Prepare runs fn on the named client as soon as it is dialed, before
// the registry tries to connect.
func (p *Pool) Prepare(name string, fn func(*FakeClient)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.preset[name] = fn
}

// Dial implements registry.Dialer.
func (p *Pool) Dial(cfg config.NodeConfig, events lavalink.EventHandler) registry.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := &FakeClient{cfg: cfg, events: events}
	if fn, ok := p.preset[cfg.Name]; ok {
		fn(c)
	}
	p.clients[cfg.Name] = c
	return c
}

// Client returns the fake dialed for a node. It panics on unknown names.
func (p *Pool) Client(name string) *FakeClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.clients[name]
	if !ok {
		panic("registrytest: no client dialed for " + name)
	}
	return c
}

// Node builds a node config for tests. Priority is taken from the
// argument order used by NewRegistry.
func Node(name, region string) config.NodeConfig {
	return config.NodeConfig{Name: name, Host: name + ".local", Port: 2333, Password: "pw", Region: region}
}

// NewRegistry registers nodes in order, dialing through pool.
// Every node connects successfully unless prepared otherwise.
func NewRegistry(t *testing.T, pool *Pool, nodes ...config.NodeConfig) *registry.Registry {
	t.Helper()
	if pool == nil {
		pool = NewPool()
	}
	reg := registry.New(pool.Dial, registry.Options{})
	for i, n := range nodes {
		n.Priority = i
		reg.Register(t.Context(), n)
	}
	t.Cleanup(reg.Close)
	return reg
}
