package player

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/glizzus/encore/internal/lavalink"
	"github.com/glizzus/encore/internal/registry"
)

// Manager owns the sessions of every guild, at most one each.
type Manager struct {
	nodes NodeSource
	log   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

var _ registry.PlayerObserver = (*Manager)(nil)

func NewManager(nodes NodeSource, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		nodes:    nodes,
		log:      logger,
		sessions: make(map[string]*Session),
	}
}

// Establish returns the guild's session, creating an unassigned one if
// none exists. An existing session only has its voice details replaced.
func (m *Manager) Establish(guildID, channelID string, voice lavalink.VoiceState) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[guildID]; ok {
		s.mu.Lock()
		s.channelID = channelID
		s.voice = voice
		s.mu.Unlock()
		return s, false
	}

	s := newSession(guildID, channelID, voice, m.nodes, m.log)
	m.sessions[guildID] = s
	m.log.Info("established session", "guildID", guildID, "channelID", channelID)
	return s, true
}

func (m *Manager) Get(guildID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[guildID]
	return s, ok
}

// All returns every session ordered by guild id.
func (m *Manager) All() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Session) int {
		return strings.Compare(a.guildID, b.guildID)
	})
	return out
}

// OnNode returns the sessions currently assigned to node.
func (m *Manager) OnNode(node string) []*Session {
	var out []*Session
	for _, s := range m.All() {
		if s.Node() == node {
			out = append(out, s)
		}
	}
	return out
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Destroy forgets the guild's session and removes its player from the
// assigned node when that node is reachable.
func (m *Manager) Destroy(ctx context.Context, guildID string) {
	m.mu.Lock()
	s, ok := m.sessions[guildID]
	delete(m.sessions, guildID)
	m.mu.Unlock()
	if !ok {
		return
	}

	node := s.Node()
	if h, ok := m.nodes.Get(node); ok && h.Available() {
		if err := h.Client().DestroyPlayer(ctx, guildID); err != nil {
			m.log.Warn("failed to destroy player", "guildID", guildID, "node", node, "error", err)
		}
	}
	m.log.Info("destroyed session", "guildID", guildID, "node", node)
}

// PlayerState records the position and voice status a node reports.
func (m *Manager) PlayerState(node, guildID string, state lavalink.PlayerState) {
	s, ok := m.Get(guildID)
	if !ok {
		return
	}
	s.observe(node, state)
}
