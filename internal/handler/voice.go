package handler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/glizzus/encore/internal/lavalink"
	"github.com/glizzus/encore/internal/player"
	"github.com/glizzus/encore/internal/region"
	"github.com/glizzus/encore/internal/routing"
)

const voiceEventTimeout = 10 * time.Second

// SessionRouter places a session on a node for its region.
type SessionRouter interface {
	RouteSession(ctx context.Context, sess *player.Session, region string) routing.Outcome
}

var _ SessionRouter = (*routing.Router)(nil)

// pendingVoice collects the two halves of the voice handshake, which
// arrive as separate gateway events in no fixed order.
type pendingVoice struct {
	channelID string
	state     lavalink.VoiceState
}

// VoiceTracker keeps playback sessions in step with the bot's own voice
// connections.
type VoiceTracker struct {
	sessions *player.Manager
	router   SessionRouter
	regions  region.Provider
	log      *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingVoice
}

func NewVoiceTracker(sessions *player.Manager, router SessionRouter, regions region.Provider, logger *slog.Logger) *VoiceTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &VoiceTracker{
		sessions: sessions,
		router:   router,
		regions:  regions,
		log:      logger,
		pending:  make(map[string]*pendingVoice),
	}
}

func (t *VoiceTracker) VoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if v.UserID == "" || v.UserID != botUserID(s) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), voiceEventTimeout)
	defer cancel()
	t.HandleVoiceState(ctx, v.GuildID, v.ChannelID, v.SessionID)
}

func (t *VoiceTracker) VoiceServerUpdate(_ *discordgo.Session, v *discordgo.VoiceServerUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), voiceEventTimeout)
	defer cancel()
	t.HandleVoiceServer(ctx, v.GuildID, v.Token, v.Endpoint)
}

// HandleVoiceState records the bot joining, moving or leaving a voice
// channel. Leaving destroys the guild's session.
func (t *VoiceTracker) HandleVoiceState(ctx context.Context, guildID, channelID, sessionID string) {
	if channelID == "" {
		t.mu.Lock()
		delete(t.pending, guildID)
		t.mu.Unlock()
		t.sessions.Destroy(ctx, guildID)
		return
	}

	t.mu.Lock()
	p := t.pendingLocked(guildID)
	p.channelID = channelID
	p.state.SessionID = sessionID
	snapshot := *p
	t.mu.Unlock()

	t.apply(ctx, guildID, snapshot)
}

// HandleVoiceServer records the voice server the guild was assigned.
// An empty endpoint means the server is still being allocated.
func (t *VoiceTracker) HandleVoiceServer(ctx context.Context, guildID, token, endpoint string) {
	if endpoint == "" {
		return
	}

	t.mu.Lock()
	p := t.pendingLocked(guildID)
	p.state.Token = token
	p.state.Endpoint = endpoint
	snapshot := *p
	t.mu.Unlock()

	t.apply(ctx, guildID, snapshot)
}

func (t *VoiceTracker) pendingLocked(guildID string) *pendingVoice {
	p, ok := t.pending[guildID]
	if !ok {
		p = &pendingVoice{}
		t.pending[guildID] = p
	}
	return p
}

func (t *VoiceTracker) apply(ctx context.Context, guildID string, p pendingVoice) {
	if p.channelID == "" || !p.state.Complete() {
		return
	}
	log := t.log.With("guildID", guildID, "channelID", p.channelID)

	if sess, ok := t.sessions.Get(guildID); ok {
		if err := sess.UpdateVoice(ctx, p.channelID, p.state); err != nil {
			log.Warn("failed to update voice state", "error", err)
		}
		if sess.Node() != "" {
			return
		}
		// Still unassigned, e.g. every node was down when it was created.
		outcome := t.router.RouteSession(ctx, sess, region.Resolve(ctx, t.regions, guildID, log))
		log.Info("routed unassigned session", "outcome", outcome.String(), "node", sess.Node())
		return
	}

	sess, _ := t.sessions.Establish(guildID, p.channelID, p.state)
	desired := region.Resolve(ctx, t.regions, guildID, log)
	outcome := t.router.RouteSession(ctx, sess, desired)
	if outcome != routing.OutcomeMoved {
		log.Warn("new session has no node yet", "region", desired, "outcome", outcome.String())
		return
	}
	log.Info("assigned new session", "region", desired, "node", sess.Node())
}
