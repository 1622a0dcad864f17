package handler

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/glizzus/encore/internal/config"
	"github.com/glizzus/encore/internal/presenters"
	"github.com/glizzus/encore/internal/reconcile"
	"github.com/glizzus/encore/internal/repository"
	"github.com/glizzus/encore/internal/routing"
)

const interactionTimeout = 5 * time.Second

// RegionStore reads and writes guild region preferences.
type RegionStore interface {
	Lookup(ctx context.Context, guildID string) (string, error)
	Save(ctx context.Context, guildID, region string) error
}

var _ RegionStore = (*repository.PostgresRegionRepository)(nil)

// TenantReconciler routes a single guild immediately.
type TenantReconciler interface {
	ReconcileTenant(ctx context.Context, guildID string) (routing.Outcome, error)
}

var _ TenantReconciler = (*reconcile.Reconciler)(nil)

type InteractionResponder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

var _ InteractionResponder = (*discordgo.Session)(nil)

// RegionCommand serves the region slash command.
type RegionCommand struct {
	store      RegionStore
	reconciler TenantReconciler
	regions    []string
	log        *slog.Logger
}

func NewRegionCommand(store RegionStore, reconciler TenantReconciler, regions []string, logger *slog.Logger) *RegionCommand {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegionCommand{
		store:      store,
		reconciler: reconciler,
		regions:    regions,
		log:        logger,
	}
}

// InteractionCreate is the discordgo handler.
func (c *RegionCommand) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	c.Handle(s, i)
}

func (c *RegionCommand) Handle(s InteractionResponder, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	command := i.ApplicationCommandData()
	if command.Name != commandRegion || len(command.Options) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	var resp *discordgo.InteractionResponse
	subcommand := command.Options[0]
	switch subcommand.Name {
	case subcommandShow:
		resp = c.show(ctx, i.GuildID)
	case subcommandSet:
		var requested string
		for _, opt := range subcommand.Options {
			if opt.Name == optionRegionName && opt.Type == discordgo.ApplicationCommandOptionString {
				requested = opt.StringValue()
			}
		}
		resp = c.set(ctx, i.GuildID, requested)
	default:
		c.log.Warn("unknown region subcommand", "subcommand", subcommand.Name)
		return
	}

	if err := s.InteractionRespond(i.Interaction, resp); err != nil {
		c.log.Error("failed to respond to region command", "guildID", i.GuildID, "error", err)
	}
}

func (c *RegionCommand) show(ctx context.Context, guildID string) *discordgo.InteractionResponse {
	region, err := c.store.Lookup(ctx, guildID)
	if err != nil {
		c.log.Error("failed to look up region", "guildID", guildID, "error", err)
		return presenters.BuildErrorResponse("Could not load the region preference, try again later.")
	}
	if region == "" {
		region = config.RegionAuto
	}
	return presenters.BuildRegionShowResponse(region)
}

func (c *RegionCommand) set(ctx context.Context, guildID, requested string) *discordgo.InteractionResponse {
	region, err := c.validate(requested)
	if err != nil {
		var userErr *UserError
		if errors.As(err, &userErr) {
			return presenters.BuildErrorResponse(userErr.Message)
		}
		return presenters.BuildErrorResponse(err.Error())
	}

	if err := c.store.Save(ctx, guildID, region); err != nil {
		c.log.Error("failed to save region", "guildID", guildID, "region", region, "error", err)
		return presenters.BuildErrorResponse("Could not save the region preference, try again later.")
	}

	moved := false
	outcome, err := c.reconciler.ReconcileTenant(ctx, guildID)
	switch {
	case errors.Is(err, reconcile.ErrNoSession):
	case err != nil:
		c.log.Warn("failed to reconcile guild after region change", "guildID", guildID, "error", err)
	default:
		moved = outcome == routing.OutcomeMoved
	}

	c.log.Info("region preference changed", "guildID", guildID, "region", region, "moved", moved)
	return presenters.BuildRegionSetResponse(region, moved)
}

func (c *RegionCommand) validate(requested string) (string, error) {
	region := strings.ToLower(strings.TrimSpace(requested))
	if region == "" {
		return "", &UserError{Message: "A region is required."}
	}
	if region != config.RegionAuto && !slices.Contains(c.regions, region) {
		return "", &UserError{Message: (&UnknownRegionError{Region: region}).Error()}
	}
	return region, nil
}
