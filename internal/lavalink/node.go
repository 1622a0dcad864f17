package lavalink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glizzus/encore/internal/config"
	"github.com/gorilla/websocket"
)

const (
	defaultClientName = "encore/1.0"
	maxResponseBytes  = 1 << 20
)

type Options struct {
	// UserID is the bot's Discord user id, required by the node.
	UserID     string
	ClientName string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *slog.Logger
}

// Node is a connection to a single Lavalink server.
type Node struct {
	cfg     config.NodeConfig
	opts    Options
	handler EventHandler
	log     *slog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	sessionID  string
	generation uint64

	stats atomic.Pointer[Stats]
}

func NewNode(cfg config.NodeConfig, handler EventHandler, opts Options) *Node {
	if handler == nil {
		handler = nopHandler{}
	}
	if opts.ClientName == "" {
		opts.ClientName = defaultClientName
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Node{
		cfg:     cfg,
		opts:    opts,
		handler: handler,
		log:     opts.Logger.With("node", cfg.Name),
	}
}

func (n *Node) Name() string { return n.cfg.Name }

func (n *Node) Config() config.NodeConfig { return n.cfg }

// Stats returns the most recent load report, or zero values if none arrived yet.
func (n *Node) Stats() Stats {
	if s := n.stats.Load(); s != nil {
		return *s
	}
	return Stats{}
}

// SessionID returns the websocket session id, empty while disconnected.
func (n *Node) SessionID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessionID
}

func (n *Node) httpBase() string {
	scheme := "http"
	if n.cfg.Secure {
		scheme = "https"
	}
	return scheme + "://" + n.cfg.Addr()
}

func (n *Node) wsURL() string {
	scheme := "ws"
	if n.cfg.Secure {
		scheme = "wss"
	}
	return scheme + "://" + n.cfg.Addr() + "/v4/websocket"
}

// Connect opens the websocket and waits for the node's ready op.
// An existing connection is kept unless force is set.
// The deadline of ctx bounds the whole handshake.
func (n *Node) Connect(ctx context.Context, force bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn != nil {
		if !force {
			return nil
		}
		n.dropLocked()
	}

	header := http.Header{}
	header.Set("Authorization", n.cfg.Password)
	header.Set("User-Id", n.opts.UserID)
	header.Set("Client-Name", n.opts.ClientName)

	conn, resp, err := n.opts.Dialer.DialContext(ctx, n.wsURL(), header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("failed to open websocket to %s: %w", n.cfg.Addr(), ErrUnauthorized)
		}
		return fmt.Errorf("failed to open websocket to %s: %w", n.cfg.Addr(), err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	var ready message
	if err := conn.ReadJSON(&ready); err != nil {
		conn.Close()
		return fmt.Errorf("failed to read ready op: %w", err)
	}
	if ready.Op != "ready" || ready.SessionID == "" {
		conn.Close()
		return fmt.Errorf("expected ready op, got %q: %w", ready.Op, ErrMalformedResponse)
	}
	_ = conn.SetReadDeadline(time.Time{})

	n.generation++
	n.conn = conn
	n.sessionID = ready.SessionID
	go n.readLoop(conn, n.generation)

	n.log.Debug("websocket session established", "sessionID", ready.SessionID, "resumed", ready.Resumed)
	return nil
}

// dropLocked forgets the current connection without reporting a disconnect.
func (n *Node) dropLocked() {
	n.generation++
	if n.conn != nil {
		_ = n.conn.Close()
	}
	n.conn = nil
	n.sessionID = ""
}

// Close shuts the websocket. No disconnect is reported for it.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dropLocked()
	return nil
}

func (n *Node) readLoop(conn *websocket.Conn, generation uint64) {
	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			n.mu.Lock()
			current := n.generation == generation
			if current {
				n.conn = nil
				n.sessionID = ""
			}
			n.mu.Unlock()

			_ = conn.Close()
			if current {
				n.handler.OnDisconnect(n.cfg.Name, err)
			}
			return
		}

		switch msg.Op {
		case "stats":
			stats := Stats{Players: msg.Players, PlayingPlayers: msg.PlayingPlayers}
			n.stats.Store(&stats)
			n.handler.OnStats(n.cfg.Name, stats)
		case "playerUpdate":
			n.handler.OnPlayerUpdate(n.cfg.Name, msg.GuildID, msg.State)
		case "ready":
			n.mu.Lock()
			if n.generation == generation {
				n.sessionID = msg.SessionID
			}
			n.mu.Unlock()
		default:
			n.log.Debug("ignoring websocket op", "op", msg.Op, "type", msg.Type)
		}
	}
}

// Version queries the node's version, used as a liveness probe.
func (n *Node) Version(ctx context.Context) (string, error) {
	body, err := n.do(ctx, http.MethodGet, "/version", nil)
	if err != nil {
		return "", err
	}
	version := string(bytes.TrimSpace(body))
	if version == "" {
		return "", fmt.Errorf("empty version: %w", ErrMalformedResponse)
	}
	return version, nil
}

// UpdatePlayer creates or updates this guild's player on the node.
func (n *Node) UpdatePlayer(ctx context.Context, guildID string, update PlayerUpdate) error {
	sessionID := n.SessionID()
	if sessionID == "" {
		return ErrNoSession
	}

	path := "/v4/sessions/" + url.PathEscape(sessionID) + "/players/" + url.PathEscape(guildID)
	body, err := n.do(ctx, http.MethodPatch, path, update)
	if err != nil {
		return err
	}

	var player struct {
		GuildID string `json:"guildId"`
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return fmt.Errorf("empty player response: %w", ErrMalformedResponse)
	}
	if err := json.Unmarshal(body, &player); err != nil {
		return fmt.Errorf("failed to decode player response: %w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// DestroyPlayer removes this guild's player from the node.
func (n *Node) DestroyPlayer(ctx context.Context, guildID string) error {
	sessionID := n.SessionID()
	if sessionID == "" {
		return ErrNoSession
	}

	path := "/v4/sessions/" + url.PathEscape(sessionID) + "/players/" + url.PathEscape(guildID)
	_, err := n.do(ctx, http.MethodDelete, path, nil)
	return err
}

func (n *Node) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, n.httpBase()+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", n.cfg.Password)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := n.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach node %s: %w", n.cfg.Name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode >= 300:
		return nil, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	return data, nil
}

// String is used in log lines.
func (n *Node) String() string {
	return n.cfg.Name + "@" + n.cfg.Addr()
}
