package config

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

type DiscordConfig struct {
	Token    string `env:"DISCORD_TOKEN, required"`
	ClientID string `env:"DISCORD_CLIENT_ID, required"`

	// NotifyChannelID receives failover notices when set.
	NotifyChannelID string `env:"DISCORD_NOTIFY_CHANNEL_ID"`
}

func NewDiscordConfigFromEnv() (*DiscordConfig, error) {
	var cfg DiscordConfig
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
