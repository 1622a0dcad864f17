package presenters

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

func ephemeral(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
}

func BuildErrorResponse(message string) *discordgo.InteractionResponse {
	return ephemeral(message)
}

func BuildRegionShowResponse(region string) *discordgo.InteractionResponse {
	return ephemeral(fmt.Sprintf("Audio for this server is played from **%s**.", region))
}

// BuildRegionSetResponse confirms a region change. moved reports
// whether a playing session was moved right away.
func BuildRegionSetResponse(region string, moved bool) *discordgo.InteractionResponse {
	content := fmt.Sprintf("Region set to **%s**.", region)
	if moved {
		content += " Playback has been moved."
	}
	return ephemeral(content)
}
