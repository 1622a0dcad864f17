package player_test

import (
	"testing"

	"github.com/glizzus/encore/internal/lavalink"
	"github.com/glizzus/encore/internal/player"
	"github.com/glizzus/encore/internal/registry/registrytest"
	"github.com/google/go-cmp/cmp"
)

func guilds(sessions []*player.Session) []string {
	var out []string
	for _, s := range sessions {
		out = append(out, s.GuildID())
	}
	return out
}

func TestEstablishIsOnePerGuild(t *testing.T) {
	_, _, mgr := setup(t)

	first, created := mgr.Establish("42", "one", voice)
	if !created {
		t.Fatalf("first Establish() did not create")
	}
	moved := lavalink.VoiceState{Token: "new", Endpoint: "us.discord.media", SessionID: "sess"}
	second, created := mgr.Establish("42", "two", moved)
	if created || first != second {
		t.Fatalf("second Establish() created a new session")
	}
	if got := second.ChannelID(); got != "two" {
		t.Errorf("ChannelID() = %q, want two", got)
	}
	if diff := cmp.Diff(moved, second.Voice()); diff != "" {
		t.Errorf("voice mismatch (-want +got):\n%s", diff)
	}
	if got := mgr.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestAllAndOnNode(t *testing.T) {
	reg, _, mgr := setup(t)
	a, _ := reg.Get("a")
	b, _ := reg.Get("b")

	for _, g := range []string{"3", "1", "2"} {
		s, _ := mgr.Establish(g, "chan", voice)
		target := a
		if g == "2" {
			target = b
		}
		if err := s.ChangeNode(t.Context(), target); err != nil {
			t.Fatalf("ChangeNode() returned error: %v", err)
		}
	}

	if diff := cmp.Diff([]string{"1", "2", "3"}, guilds(mgr.All())); diff != "" {
		t.Errorf("All() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"1", "3"}, guilds(mgr.OnNode("a"))); diff != "" {
		t.Errorf("OnNode(a) mismatch (-want +got):\n%s", diff)
	}
}

func TestDestroy(t *testing.T) {
	reg, pool, mgr := setup(t)
	a, _ := reg.Get("a")
	s, _ := mgr.Establish("42", "chan", voice)
	_ = s.ChangeNode(t.Context(), a)
	pool.Client("a").ResetCalls()

	mgr.Destroy(t.Context(), "42")
	mgr.Destroy(t.Context(), "42")

	if _, ok := mgr.Get("42"); ok {
		t.Errorf("session still present after Destroy")
	}
	want := []registrytest.Call{{Method: "destroy", GuildID: "42"}}
	if diff := cmp.Diff(want, pool.Client("a").Calls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshot(t *testing.T) {
	reg, _, mgr := setup(t)
	a, _ := reg.Get("a")
	s, _ := mgr.Establish("42", "chan", voice)
	_ = s.ChangeNode(t.Context(), a)

	track := player.Track{Encoded: "one", Title: "One"}
	if err := s.Play(t.Context(), track, 5000); err != nil {
		t.Fatalf("Play() returned error: %v", err)
	}
	s.Enqueue(player.Track{Encoded: "two"})

	want := player.Snapshot{
		GuildID:    "42",
		ChannelID:  "chan",
		Node:       "a",
		Current:    &track,
		Queue:      []player.Track{{Encoded: "two"}},
		PositionMs: 5000,
	}
	if diff := cmp.Diff(want, s.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}
