// Package voice drives the bot's own voice connection on the gateway.
// Audio is sent by the Lavalink node, so joining only announces the
// channel and lets Discord issue fresh voice server credentials.
package voice

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// Gateway is the part of a discordgo session used to join channels.
type Gateway interface {
	ChannelVoiceJoinManual(guildID, channelID string, mute, deaf bool) error
}

var _ Gateway = (*discordgo.Session)(nil)

// DiscordTransport rejoins voice channels through the gateway.
type DiscordTransport struct {
	gateway Gateway
	log     *slog.Logger
}

func NewDiscordTransport(gateway Gateway, logger *slog.Logger) *DiscordTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscordTransport{gateway: gateway, log: logger}
}

// Reconnect asks the gateway to put the bot back in channelID. The new
// voice state and voice server events arrive through the usual handlers.
func (t *DiscordTransport) Reconnect(ctx context.Context, guildID, channelID string) error {
	if channelID == "" {
		return fmt.Errorf("failed to rejoin voice in guild %s: no channel", guildID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// The bot is deafened, it never receives audio.
	if err := t.gateway.ChannelVoiceJoinManual(guildID, channelID, false, true); err != nil {
		return fmt.Errorf("failed to rejoin voice channel %s: %w", channelID, err)
	}
	t.log.Debug("requested voice rejoin", "guildID", guildID, "channelID", channelID)
	return nil
}
