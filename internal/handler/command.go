package handler

import (
	"fmt"
	"slices"

	"github.com/bwmarrin/discordgo"
	"github.com/glizzus/encore/internal/config"
)

const (
	commandRegion    = "region"
	subcommandShow   = "show"
	subcommandSet    = "set"
	optionRegionName = "name"
)

// BuildCommands returns the commands the bot registers with Discord.
// The region choices are the configured region labels plus auto.
func BuildCommands(regions []string) []*discordgo.ApplicationCommand {
	choices := []*discordgo.ApplicationCommandOptionChoice{
		{Name: config.RegionAuto, Value: config.RegionAuto},
	}
	for _, r := range regions {
		if r == "" || r == config.RegionAuto {
			continue
		}
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: r, Value: r})
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:        commandRegion,
			Description: "Choose where this server's audio is played from",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        subcommandShow,
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Description: "Show the preferred region",
				},
				{
					Name:        subcommandSet,
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Description: "Set the preferred region",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Name:        optionRegionName,
							Type:        discordgo.ApplicationCommandOptionString,
							Description: "The region to prefer. Auto uses any healthy node.",
							Required:    true,
							Choices:     choices,
						},
					},
				},
			},
		},
	}
}

// RegionLabels returns the distinct region labels of the configured nodes.
func RegionLabels(nodes []config.NodeConfig) []string {
	var out []string
	for _, n := range nodes {
		if n.Region != "" && !slices.Contains(out, n.Region) {
			out = append(out, n.Region)
		}
	}
	return out
}

func EstablishCommands(s *discordgo.Session, guildID string, commands []*discordgo.ApplicationCommand) error {
	_, err := s.ApplicationCommandBulkOverwrite(s.State.User.ID, guildID, commands)
	if err != nil {
		return fmt.Errorf("failed to establish commands: %w", err)
	}
	return nil
}
