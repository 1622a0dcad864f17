package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/glizzus/encore/internal/presenters"
)

// EmbedSender is the part of a discordgo session used to post notices.
type EmbedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ EmbedSender = (*discordgo.Session)(nil)

// DiscordSink posts an embed to an operations channel.
type DiscordSink struct {
	sender    EmbedSender
	channelID string
}

var _ Sink = (*DiscordSink)(nil)

func NewDiscordSink(sender EmbedSender, channelID string) *DiscordSink {
	return &DiscordSink{sender: sender, channelID: channelID}
}

func (s *DiscordSink) Name() string { return "discord" }

func (s *DiscordSink) Publish(ctx context.Context, event Event) error {
	notice := presenters.FailoverNotice{
		GuildID:    event.GuildID,
		FromNode:   event.FromNode,
		ToNode:     event.ToNode,
		Reason:     event.Reason,
		PositionMs: event.Session.PositionMs,
		At:         event.OccurredAt,
	}
	if event.Session.Current != nil {
		notice.TrackTitle = event.Session.Current.Title
		if notice.TrackTitle == "" {
			notice.TrackTitle = event.Session.Current.URI
		}
	}

	_, err := s.sender.ChannelMessageSendEmbed(s.channelID, presenters.BuildFailoverEmbed(notice), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to send failover notice to channel %s: %w", s.channelID, err)
	}
	return nil
}
