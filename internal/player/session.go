package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glizzus/encore/internal/lavalink"
	"github.com/glizzus/encore/internal/registry"
)

var (
	// ErrNoNode is returned by playback operations on a session that has
	// no usable node assigned.
	ErrNoNode = errors.New("session has no assigned node")
	// ErrQueueEmpty is returned by StartNext when there is nothing to play.
	ErrQueueEmpty = errors.New("queue is empty")
)

// Track is a playable item, encoded the way the nodes expect it.
type Track struct {
	Encoded  string `json:"encoded"`
	Title    string `json:"title,omitempty"`
	URI      string `json:"uri,omitempty"`
	LengthMs int64  `json:"lengthMs,omitempty"`
}

// NodeSource resolves node names to handles.
type NodeSource interface {
	Get(name string) (*registry.Handle, bool)
}

var _ NodeSource = (*registry.Registry)(nil)

// Session is the playback state of one guild.
type Session struct {
	guildID string
	nodes   NodeSource
	log     *slog.Logger

	mu             sync.Mutex
	channelID      string
	node           string
	queue          []Track
	current        *Track
	positionMs     int64
	paused         bool
	voice          lavalink.VoiceState
	voiceConnected bool
	cooldownUntil  time.Time
	migrating      bool
}

func newSession(guildID, channelID string, voice lavalink.VoiceState, nodes NodeSource, log *slog.Logger) *Session {
	return &Session{
		guildID:   guildID,
		channelID: channelID,
		voice:     voice,
		nodes:     nodes,
		log:       log.With("guildID", guildID),
	}
}

func (s *Session) GuildID() string { return s.guildID }

func (s *Session) ChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelID
}

// Node returns the assigned node name, empty when unassigned.
func (s *Session) Node() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.node
}

// Current returns a copy of the track being played, or nil.
func (s *Session) Current() *Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	t := *s.current
	return &t
}

func (s *Session) Queue() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Track(nil), s.queue...)
}

func (s *Session) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionMs
}

func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// VoiceConnected reports whether the node last said its voice
// connection for this guild was up.
func (s *Session) VoiceConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voiceConnected
}

func (s *Session) Voice() lavalink.VoiceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice
}

// CooldownUntil returns the zero time when no cooldown is set.
func (s *Session) CooldownUntil() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cooldownUntil
}

// InCooldown reports whether node changes are suppressed at now.
func (s *Session) InCooldown(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.cooldownUntil.IsZero() && now.Before(s.cooldownUntil)
}

// ExtendCooldown pushes the cooldown out to until. It never moves an
// existing cooldown earlier.
func (s *Session) ExtendCooldown(until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if until.After(s.cooldownUntil) {
		s.cooldownUntil = until
	}
}

// ClearCooldown is called after a successful node change.
func (s *Session) ClearCooldown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldownUntil = time.Time{}
}

// BeginMigration marks a node change as in flight. It returns false if
// another one already is.
func (s *Session) BeginMigration() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.migrating {
		return false
	}
	s.migrating = true
	return true
}

func (s *Session) EndMigration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.migrating = false
}

func (s *Session) Migrating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.migrating
}

// Enqueue appends tracks to the end of the queue.
func (s *Session) Enqueue(tracks ...Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, tracks...)
}

func (s *Session) client() (registry.Client, string, error) {
	s.mu.Lock()
	node := s.node
	s.mu.Unlock()

	if node == "" {
		return nil, "", ErrNoNode
	}
	h, ok := s.nodes.Get(node)
	if !ok {
		return nil, node, fmt.Errorf("unknown node %q: %w", node, ErrNoNode)
	}
	return h.Client(), node, nil
}

// Play starts track on the assigned node at startMs, unpaused.
func (s *Session) Play(ctx context.Context, track Track, startMs int64) error {
	client, _, err := s.client()
	if err != nil {
		return err
	}
	if startMs < 0 {
		startMs = 0
	}

	err = client.UpdatePlayer(ctx, s.guildID, lavalink.PlayerUpdate{
		Track:    &lavalink.TrackUpdate{Encoded: track.Encoded},
		Position: lavalink.Int64(startMs),
		Paused:   lavalink.Bool(false),
	})
	if err != nil {
		return fmt.Errorf("failed to play track: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &track
	s.positionMs = startMs
	s.paused = false
	return nil
}

func (s *Session) SetPause(ctx context.Context, paused bool) error {
	client, _, err := s.client()
	if err != nil {
		return err
	}
	if err := client.UpdatePlayer(ctx, s.guildID, lavalink.PlayerUpdate{Paused: lavalink.Bool(paused)}); err != nil {
		return fmt.Errorf("failed to set pause: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
	return nil
}

// StartNext plays the head of the queue from the beginning. The track
// is only removed from the queue once the node accepted it.
func (s *Session) StartNext(ctx context.Context) error {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return ErrQueueEmpty
	}
	next := s.queue[0]
	s.mu.Unlock()

	if err := s.Play(ctx, next, 0); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) > 0 && s.queue[0] == next {
		s.queue = s.queue[1:]
	}
	return nil
}

// Stop clears the current track, leaving the session idle.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.positionMs = 0
	s.paused = false
}

// ChangeNode hands the guild's voice connection to target. On success
// target becomes the assigned node and the player on the previous node
// is removed if that node is still reachable.
func (s *Session) ChangeNode(ctx context.Context, target *registry.Handle) error {
	s.mu.Lock()
	voice := s.voice
	previous := s.node
	s.mu.Unlock()

	err := target.Client().UpdatePlayer(ctx, s.guildID, lavalink.PlayerUpdate{Voice: &voice})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.node = target.Name()
	s.mu.Unlock()

	if previous == "" || previous == target.Name() {
		return nil
	}
	if old, ok := s.nodes.Get(previous); ok && old.Available() {
		if err := old.Client().DestroyPlayer(ctx, s.guildID); err != nil {
			s.log.Debug("failed to destroy player on previous node", "node", previous, "error", err)
		}
	}
	return nil
}

// UpdateVoice records new voice connection details and forwards them to
// the assigned node, if any.
func (s *Session) UpdateVoice(ctx context.Context, channelID string, voice lavalink.VoiceState) error {
	s.mu.Lock()
	s.channelID = channelID
	s.voice = voice
	s.mu.Unlock()

	client, _, err := s.client()
	if err != nil {
		// Not assigned yet; routing sends the voice state with the first node change.
		return nil
	}
	if err := client.UpdatePlayer(ctx, s.guildID, lavalink.PlayerUpdate{Voice: &voice}); err != nil {
		return fmt.Errorf("failed to forward voice state: %w", err)
	}
	return nil
}

// observe applies a state report from node. Reports from a node the
// session has already left are dropped.
func (s *Session) observe(node string, state lavalink.PlayerState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if node != s.node {
		return
	}
	s.positionMs = state.Position
	s.voiceConnected = state.Connected
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	GuildID       string    `json:"guildId"`
	ChannelID     string    `json:"channelId"`
	Node          string    `json:"node"`
	Current       *Track    `json:"current,omitempty"`
	Queue         []Track   `json:"queue"`
	PositionMs    int64     `json:"positionMs"`
	Paused        bool      `json:"paused"`
	CooldownUntil time.Time `json:"cooldownUntil,omitzero"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		GuildID:       s.guildID,
		ChannelID:     s.channelID,
		Node:          s.node,
		Queue:         append([]Track{}, s.queue...),
		PositionMs:    s.positionMs,
		Paused:        s.paused,
		CooldownUntil: s.cooldownUntil,
	}
	if s.current != nil {
		t := *s.current
		snap.Current = &t
	}
	return snap
}
