package presenters_test

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/glizzus/encore/internal/presenters"
	"github.com/google/go-cmp/cmp"
)

func TestRegionResponses(t *testing.T) {
	tests := []struct {
		name string
		got  *discordgo.InteractionResponse
		want string
	}{
		{name: "show", got: presenters.BuildRegionShowResponse("eu"), want: "Audio for this server is played from **eu**."},
		{name: "set", got: presenters.BuildRegionSetResponse("us", false), want: "Region set to **us**."},
		{name: "set and moved", got: presenters.BuildRegionSetResponse("us", true), want: "Region set to **us**. Playback has been moved."},
		{name: "error", got: presenters.BuildErrorResponse("nope"), want: "nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{
					Content: tt.want,
					Flags:   discordgo.MessageFlagsEphemeral,
				},
			}
			if diff := cmp.Diff(want, tt.got); diff != "" {
				t.Errorf("response mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
