package lavalink_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/glizzus/encore/internal/config"
	"github.com/glizzus/encore/internal/lavalink"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
)

const password = "youshallnotpass"

// fakeServer is a minimal Lavalink node.
type fakeServer struct {
	t *testing.T

	mu          sync.Mutex
	patchStatus int
	patchBody   string
	patches     []string
	skipReady   bool
	conns       []*websocket.Conn
}

func (f *fakeServer) handler() http.Handler {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()

	mux.HandleFunc("/v4/websocket", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != password {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("User-Id") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			f.t.Errorf("failed to upgrade: %v", err)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.conns = append(f.conns, conn)
		if f.skipReady {
			return
		}
		_ = conn.WriteJSON(map[string]any{"op": "ready", "resumed": false, "sessionId": "session-1"})
	})

	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != password {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, "4.0.8\n")
	})

	mux.HandleFunc("/v4/sessions/session-1/players/", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.patches = append(f.patches, r.Method+" "+string(body))
		status, respBody := f.patchStatus, f.patchBody
		f.mu.Unlock()

		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, respBody)
	})

	return mux
}

func (f *fakeServer) send(t *testing.T, v any) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		t.Fatalf("no websocket connection to send on")
	}
	if err := f.conns[len(f.conns)-1].WriteJSON(v); err != nil {
		t.Fatalf("failed to write to websocket: %v", err)
	}
}

func (f *fakeServer) dropAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		_ = c.Close()
	}
}

type recordingHandler struct {
	stats       chan lavalink.Stats
	updates     chan lavalink.PlayerState
	disconnects chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		stats:       make(chan lavalink.Stats, 8),
		updates:     make(chan lavalink.PlayerState, 8),
		disconnects: make(chan error, 8),
	}
}

func (h *recordingHandler) OnStats(_ string, s lavalink.Stats) { h.stats <- s }
func (h *recordingHandler) OnPlayerUpdate(_, _ string, s lavalink.PlayerState) {
	h.updates <- s
}
func (h *recordingHandler) OnDisconnect(_ string, err error) { h.disconnects <- err }

func startNode(t *testing.T, pass string) (*fakeServer, *lavalink.Node, *recordingHandler) {
	t.Helper()
	fake := &fakeServer{t: t}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	t.Cleanup(fake.dropAll)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("failed to split address: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	handler := newRecordingHandler()
	node := lavalink.NewNode(config.NodeConfig{
		Name:     "test",
		Host:     host,
		Port:     port,
		Password: pass,
	}, handler, lavalink.Options{UserID: "1234"})
	t.Cleanup(func() { _ = node.Close() })

	return fake, node, handler
}

func withTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNodeConnectAndVersion(t *testing.T) {
	_, node, _ := startNode(t, password)
	ctx := withTimeout(t)

	if err := node.Connect(ctx, false); err != nil {
		t.Fatalf("Connect() returned error: %v", err)
	}
	if got := node.SessionID(); got != "session-1" {
		t.Errorf("SessionID() = %q, want %q", got, "session-1")
	}

	version, err := node.Version(ctx)
	if err != nil {
		t.Fatalf("Version() returned error: %v", err)
	}
	if version != "4.0.8" {
		t.Errorf("Version() = %q, want %q", version, "4.0.8")
	}

	// A second non-forced connect keeps the session.
	if err := node.Connect(ctx, false); err != nil {
		t.Fatalf("second Connect() returned error: %v", err)
	}
}

func TestNodeConnectUnauthorized(t *testing.T) {
	_, node, _ := startNode(t, "wrong")
	err := node.Connect(withTimeout(t), false)
	if !errors.Is(err, lavalink.ErrUnauthorized) {
		t.Fatalf("Connect() error = %v, want ErrUnauthorized", err)
	}

	_, err = node.Version(withTimeout(t))
	if !errors.Is(err, lavalink.ErrUnauthorized) {
		t.Fatalf("Version() error = %v, want ErrUnauthorized", err)
	}
}

func TestNodeConnectTimeout(t *testing.T) {
	fake, node, _ := startNode(t, password)
	fake.mu.Lock()
	fake.skipReady = true
	fake.mu.Unlock()

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	err := node.Connect(ctx, false)
	if err == nil {
		t.Fatalf("expected error but got none")
	}
	if !lavalink.IsTimeout(err) {
		t.Errorf("IsTimeout(%v) = false, want true", err)
	}
}

func TestNodeEvents(t *testing.T) {
	fake, node, handler := startNode(t, password)
	if err := node.Connect(withTimeout(t), false); err != nil {
		t.Fatalf("Connect() returned error: %v", err)
	}

	fake.send(t, map[string]any{"op": "stats", "players": 4, "playingPlayers": 3})
	select {
	case got := <-handler.stats:
		if diff := cmp.Diff(lavalink.Stats{Players: 4, PlayingPlayers: 3}, got); diff != "" {
			t.Errorf("stats mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for stats")
	}
	if got := node.Stats().PlayingPlayers; got != 3 {
		t.Errorf("Stats().PlayingPlayers = %d, want 3", got)
	}

	fake.send(t, map[string]any{
		"op":      "playerUpdate",
		"guildId": "42",
		"state":   map[string]any{"time": 1, "position": 45000, "connected": true, "ping": 20},
	})
	select {
	case got := <-handler.updates:
		want := lavalink.PlayerState{Time: 1, Position: 45000, Connected: true, Ping: 20}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("player state mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for player update")
	}

	fake.dropAll()
	select {
	case <-handler.disconnects:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for disconnect")
	}
	if got := node.SessionID(); got != "" {
		t.Errorf("SessionID() after disconnect = %q, want empty", got)
	}
}

func TestNodeCloseDoesNotReportDisconnect(t *testing.T) {
	_, node, handler := startNode(t, password)
	if err := node.Connect(withTimeout(t), false); err != nil {
		t.Fatalf("Connect() returned error: %v", err)
	}
	_ = node.Close()

	select {
	case err := <-handler.disconnects:
		t.Fatalf("unexpected disconnect after Close: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNodeUpdatePlayer(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantErr     bool
		rateLimited bool
	}{
		{name: "success", status: http.StatusOK, body: `{"guildId":"42"}`},
		{name: "too many requests", status: http.StatusTooManyRequests, body: "slow down", wantErr: true, rateLimited: true},
		{name: "empty body", status: http.StatusOK, body: "", wantErr: true, rateLimited: true},
		{name: "garbage body", status: http.StatusOK, body: "<html>", wantErr: true, rateLimited: true},
		{name: "server error", status: http.StatusInternalServerError, body: "boom", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, node, _ := startNode(t, password)
			fake.mu.Lock()
			fake.patchStatus = tt.status
			fake.patchBody = tt.body
			fake.mu.Unlock()

			ctx := withTimeout(t)
			if err := node.Connect(ctx, false); err != nil {
				t.Fatalf("Connect() returned error: %v", err)
			}

			err := node.UpdatePlayer(ctx, "42", lavalink.PlayerUpdate{
				Position: lavalink.Int64(1000),
				Voice:    &lavalink.VoiceState{Token: "t", Endpoint: "e", SessionID: "s"},
			})
			if tt.wantErr != (err != nil) {
				t.Fatalf("UpdatePlayer() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := lavalink.IsRateLimited(err); got != tt.rateLimited {
				t.Errorf("IsRateLimited(%v) = %v, want %v", err, got, tt.rateLimited)
			}

			fake.mu.Lock()
			defer fake.mu.Unlock()
			want := []string{`PATCH {"position":1000,"voice":{"token":"t","endpoint":"e","sessionId":"s"}}`}
			if diff := cmp.Diff(want, fake.patches); diff != "" {
				t.Errorf("requests mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNodeUpdatePlayerWithoutSession(t *testing.T) {
	_, node, _ := startNode(t, password)
	err := node.UpdatePlayer(withTimeout(t), "42", lavalink.PlayerUpdate{})
	if !errors.Is(err, lavalink.ErrNoSession) {
		t.Fatalf("UpdatePlayer() error = %v, want ErrNoSession", err)
	}
}
