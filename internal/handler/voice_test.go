package handler_test

import (
	"testing"

	"github.com/glizzus/encore/internal/handler"
	"github.com/glizzus/encore/internal/lavalink"
	"github.com/glizzus/encore/internal/player"
	"github.com/glizzus/encore/internal/region"
	"github.com/glizzus/encore/internal/registry"
	"github.com/glizzus/encore/internal/registry/registrytest"
	"github.com/glizzus/encore/internal/routing"
	"github.com/google/go-cmp/cmp"
)

type voiceFixture struct {
	reg     *registry.Registry
	pool    *registrytest.Pool
	mgr     *player.Manager
	regions *region.Static
	tracker *handler.VoiceTracker
}

func newVoiceFixture(t *testing.T) *voiceFixture {
	t.Helper()
	pool := registrytest.NewPool()
	reg := registrytest.NewRegistry(t, pool,
		registrytest.Node("a", "eu"),
		registrytest.Node("b", "us"),
	)
	mgr := player.NewManager(reg, nil)
	regions := region.NewStatic(nil)
	router := routing.New(reg, routing.Options{})
	return &voiceFixture{
		reg:     reg,
		pool:    pool,
		mgr:     mgr,
		regions: regions,
		tracker: handler.NewVoiceTracker(mgr, router, regions, nil),
	}
}

func TestVoiceTrackerEstablishesSession(t *testing.T) {
	tests := []struct {
		name     string
		region   string
		wantNode string
	}{
		{name: "no preference", wantNode: "a"},
		{name: "preferred region", region: "us", wantNode: "b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newVoiceFixture(t)
			if tt.region != "" {
				f.regions.Set("42", tt.region)
			}

			f.tracker.HandleVoiceState(t.Context(), "42", "chan", "sess")
			if got := f.mgr.Len(); got != 0 {
				t.Fatalf("Len() after voice state only = %d, want 0", got)
			}

			f.tracker.HandleVoiceServer(t.Context(), "42", "tok", "endpoint")
			sess, ok := f.mgr.Get("42")
			if !ok {
				t.Fatalf("expected a session for guild 42")
			}
			if got := sess.Node(); got != tt.wantNode {
				t.Errorf("Node() = %q, want %q", got, tt.wantNode)
			}
			want := lavalink.VoiceState{Token: "tok", Endpoint: "endpoint", SessionID: "sess"}
			if diff := cmp.Diff(want, sess.Voice()); diff != "" {
				t.Errorf("voice mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestVoiceTrackerIgnoresPendingServer(t *testing.T) {
	f := newVoiceFixture(t)
	f.tracker.HandleVoiceServer(t.Context(), "42", "tok", "")
	f.tracker.HandleVoiceState(t.Context(), "42", "chan", "sess")

	if got := f.mgr.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
}

func TestVoiceTrackerForwardsNewVoiceServer(t *testing.T) {
	f := newVoiceFixture(t)
	f.tracker.HandleVoiceState(t.Context(), "42", "chan", "sess")
	f.tracker.HandleVoiceServer(t.Context(), "42", "tok", "endpoint")
	f.pool.Client("a").ResetCalls()

	f.tracker.HandleVoiceServer(t.Context(), "42", "tok2", "endpoint2")

	calls := f.pool.Client("a").Calls()
	if len(calls) != 1 {
		t.Fatalf("got %d calls on node a, want 1", len(calls))
	}
	want := &lavalink.VoiceState{Token: "tok2", Endpoint: "endpoint2", SessionID: "sess"}
	if diff := cmp.Diff(want, calls[0].Update.Voice); diff != "" {
		t.Errorf("voice update mismatch (-want +got):\n%s", diff)
	}
}

func TestVoiceTrackerLeaveDestroysSession(t *testing.T) {
	f := newVoiceFixture(t)
	f.tracker.HandleVoiceState(t.Context(), "42", "chan", "sess")
	f.tracker.HandleVoiceServer(t.Context(), "42", "tok", "endpoint")
	f.pool.Client("a").ResetCalls()

	f.tracker.HandleVoiceState(t.Context(), "42", "", "sess")

	if _, ok := f.mgr.Get("42"); ok {
		t.Errorf("session still present after leaving the channel")
	}
	want := []registrytest.Call{{Method: "destroy", GuildID: "42"}}
	if diff := cmp.Diff(want, f.pool.Client("a").Calls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestVoiceTrackerRoutesUnassignedSession(t *testing.T) {
	f := newVoiceFixture(t)
	for _, n := range []string{"a", "b"} {
		f.pool.Client(n).Disconnect(nil)
	}

	f.tracker.HandleVoiceState(t.Context(), "42", "chan", "sess")
	f.tracker.HandleVoiceServer(t.Context(), "42", "tok", "endpoint")
	sess, ok := f.mgr.Get("42")
	if !ok {
		t.Fatalf("expected a session for guild 42")
	}
	if got := sess.Node(); got != "" {
		t.Fatalf("Node() with every node down = %q, want empty", got)
	}

	f.reg.EnsureReady(t.Context())
	f.tracker.HandleVoiceServer(t.Context(), "42", "tok2", "endpoint2")
	if got := sess.Node(); got != "a" {
		t.Errorf("Node() after recovery = %q, want a", got)
	}
}
