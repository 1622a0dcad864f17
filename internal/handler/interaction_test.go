package handler_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/glizzus/encore/internal/handler"
	"github.com/glizzus/encore/internal/reconcile"
	"github.com/glizzus/encore/internal/routing"
	"github.com/google/go-cmp/cmp"
)

type memoryStore struct {
	mu      sync.Mutex
	regions map[string]string
	saveErr error
}

func (s *memoryStore) Lookup(_ context.Context, guildID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regions[guildID], nil
}

func (s *memoryStore) Save(_ context.Context, guildID, region string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if s.regions == nil {
		s.regions = make(map[string]string)
	}
	s.regions[guildID] = region
	return nil
}

type stubReconciler struct {
	outcome routing.Outcome
	err     error
	guilds  []string
}

func (r *stubReconciler) ReconcileTenant(_ context.Context, guildID string) (routing.Outcome, error) {
	r.guilds = append(r.guilds, guildID)
	return r.outcome, r.err
}

type recordingResponder struct {
	responses []*discordgo.InteractionResponse
}

func (r *recordingResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	r.responses = append(r.responses, resp)
	return nil
}

func regionInteraction(subcommand string, options ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:    discordgo.InteractionApplicationCommand,
			GuildID: "42",
			Data: discordgo.ApplicationCommandInteractionData{
				Name: "region",
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{
						Name:    subcommand,
						Type:    discordgo.ApplicationCommandOptionSubCommand,
						Options: options,
					},
				},
			},
		},
	}
}

func nameOption(value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  "name",
		Type:  discordgo.ApplicationCommandOptionString,
		Value: value,
	}
}

func content(t *testing.T, r *recordingResponder) string {
	t.Helper()
	if len(r.responses) != 1 {
		t.Fatalf("got %d responses, want 1", len(r.responses))
	}
	return r.responses[0].Data.Content
}

func TestRegionCommandShow(t *testing.T) {
	tests := []struct {
		name    string
		regions map[string]string
		want    string
	}{
		{name: "no preference", want: "Audio for this server is played from **auto**."},
		{name: "stored preference", regions: map[string]string{"42": "eu"}, want: "Audio for this server is played from **eu**."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memoryStore{regions: tt.regions}
			cmd := handler.NewRegionCommand(store, &stubReconciler{}, []string{"eu", "us"}, nil)
			resp := &recordingResponder{}

			cmd.Handle(resp, regionInteraction("show"))

			if got := content(t, resp); got != tt.want {
				t.Errorf("content = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRegionCommandSet(t *testing.T) {
	tests := []struct {
		name       string
		value      string
		outcome    routing.Outcome
		reconErr   error
		saveErr    error
		want       string
		wantStored string
		wantRecon  []string
	}{
		{
			name:       "moves playing session",
			value:      "EU",
			outcome:    routing.OutcomeMoved,
			want:       "Region set to **eu**. Playback has been moved.",
			wantStored: "eu",
			wantRecon:  []string{"42"},
		},
		{
			name:       "already on region",
			value:      "eu",
			outcome:    routing.OutcomeAlreadyAssigned,
			want:       "Region set to **eu**.",
			wantStored: "eu",
			wantRecon:  []string{"42"},
		},
		{
			name:       "nothing playing",
			value:      "auto",
			reconErr:   fmt.Errorf("failed to reconcile guild 42: %w", reconcile.ErrNoSession),
			want:       "Region set to **auto**.",
			wantStored: "auto",
			wantRecon:  []string{"42"},
		},
		{
			name:  "unknown region",
			value: "mars",
			want:  `no node is configured in region "mars"`,
		},
		{
			name:    "store failure",
			value:   "us",
			saveErr: errors.New("connection refused"),
			want:    "Could not save the region preference, try again later.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memoryStore{saveErr: tt.saveErr}
			recon := &stubReconciler{outcome: tt.outcome, err: tt.reconErr}
			cmd := handler.NewRegionCommand(store, recon, []string{"eu", "us"}, nil)
			resp := &recordingResponder{}

			cmd.Handle(resp, regionInteraction("set", nameOption(tt.value)))

			if got := content(t, resp); got != tt.want {
				t.Errorf("content = %q, want %q", got, tt.want)
			}
			if got := store.regions["42"]; got != tt.wantStored {
				t.Errorf("stored region = %q, want %q", got, tt.wantStored)
			}
			if diff := cmp.Diff(tt.wantRecon, recon.guilds); diff != "" {
				t.Errorf("reconciled guilds mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRegionCommandIgnoresOtherInteractions(t *testing.T) {
	cmd := handler.NewRegionCommand(&memoryStore{}, &stubReconciler{}, nil, nil)
	resp := &recordingResponder{}

	cmd.Handle(resp, &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{Type: discordgo.InteractionMessageComponent},
	})
	other := regionInteraction("show")
	other.Data = discordgo.ApplicationCommandInteractionData{Name: "ping"}
	cmd.Handle(resp, other)

	if len(resp.responses) != 0 {
		t.Errorf("got %d responses, want 0", len(resp.responses))
	}
}

func TestBuildCommandsChoices(t *testing.T) {
	commands := handler.BuildCommands([]string{"eu", "auto", "us"})
	if len(commands) != 1 {
		t.Fatalf("got %d commands, want 1", len(commands))
	}

	var set *discordgo.ApplicationCommandOption
	for _, opt := range commands[0].Options {
		if opt.Name == "set" {
			set = opt
		}
	}
	if set == nil {
		t.Fatalf("region command has no set subcommand")
	}

	var got []string
	for _, c := range set.Options[0].Choices {
		got = append(got, c.Value.(string))
	}
	if diff := cmp.Diff([]string{"auto", "eu", "us"}, got); diff != "" {
		t.Errorf("choices mismatch (-want +got):\n%s", diff)
	}
}
