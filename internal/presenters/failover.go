package presenters

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	colorMoved    = 0x2ecc71
	colorStranded = 0xe67e22
)

// FailoverNotice describes a session that was moved off a failed node.
type FailoverNotice struct {
	GuildID    string
	FromNode   string
	ToNode     string
	Reason     string
	TrackTitle string
	PositionMs int64
	At         time.Time
}

func formatPosition(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

// BuildFailoverEmbed renders a notice for the operations channel.
func BuildFailoverEmbed(n FailoverNotice) *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{
		{Name: "Guild", Value: n.GuildID, Inline: true},
		{Name: "From", Value: n.FromNode, Inline: true},
	}

	color := colorMoved
	title := "Session moved to another node"
	to := n.ToNode
	if to == "" {
		color = colorStranded
		title = "Session could not be moved"
		to = "none"
	}
	fields = append(fields, &discordgo.MessageEmbedField{Name: "To", Value: to, Inline: true})

	if n.TrackTitle != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "Resumed",
			Value: fmt.Sprintf("%s at %s", n.TrackTitle, formatPosition(n.PositionMs)),
		})
	}

	return &discordgo.MessageEmbed{
		Title:       title,
		Description: n.Reason,
		Color:       color,
		Fields:      fields,
		Timestamp:   n.At.UTC().Format(time.RFC3339),
	}
}
