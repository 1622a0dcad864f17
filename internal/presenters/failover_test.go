package presenters_test

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/glizzus/encore/internal/presenters"
	"github.com/google/go-cmp/cmp"
)

func TestBuildFailoverEmbed(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input presenters.FailoverNotice
		want  *discordgo.MessageEmbed
	}{
		{
			name: "moved while playing",
			input: presenters.FailoverNotice{
				GuildID:    "42",
				FromNode:   "eu-1",
				ToNode:     "eu-2",
				Reason:     "node eu-1 disconnected",
				TrackTitle: "Song",
				PositionMs: 44000,
				At:         at,
			},
			want: &discordgo.MessageEmbed{
				Title:       "Session moved to another node",
				Description: "node eu-1 disconnected",
				Color:       0x2ecc71,
				Fields: []*discordgo.MessageEmbedField{
					{Name: "Guild", Value: "42", Inline: true},
					{Name: "From", Value: "eu-1", Inline: true},
					{Name: "To", Value: "eu-2", Inline: true},
					{Name: "Resumed", Value: "Song at 0:44"},
				},
				Timestamp: "2025-03-01T10:00:00Z",
			},
		},
		{
			name: "idle session",
			input: presenters.FailoverNotice{
				GuildID:  "7",
				FromNode: "eu-1",
				ToNode:   "us-1",
				Reason:   "node eu-1 disconnected",
				At:       at,
			},
			want: &discordgo.MessageEmbed{
				Title:       "Session moved to another node",
				Description: "node eu-1 disconnected",
				Color:       0x2ecc71,
				Fields: []*discordgo.MessageEmbedField{
					{Name: "Guild", Value: "7", Inline: true},
					{Name: "From", Value: "eu-1", Inline: true},
					{Name: "To", Value: "us-1", Inline: true},
				},
				Timestamp: "2025-03-01T10:00:00Z",
			},
		},
		{
			name: "no target",
			input: presenters.FailoverNotice{
				GuildID:  "7",
				FromNode: "eu-1",
				Reason:   "no node available",
				At:       at,
			},
			want: &discordgo.MessageEmbed{
				Title:       "Session could not be moved",
				Description: "no node available",
				Color:       0xe67e22,
				Fields: []*discordgo.MessageEmbedField{
					{Name: "Guild", Value: "7", Inline: true},
					{Name: "From", Value: "eu-1", Inline: true},
					{Name: "To", Value: "none", Inline: true},
				},
				Timestamp: "2025-03-01T10:00:00Z",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := presenters.BuildFailoverEmbed(tt.input)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("BuildFailoverEmbed() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
