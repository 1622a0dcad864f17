package lavalink

// Stats is the load reported by a node.
type Stats struct {
	Players        int `json:"players"`
	PlayingPlayers int `json:"playingPlayers"`
}

// PlayerState is the periodic state a node reports for one guild.
type PlayerState struct {
	Time      int64 `json:"time"`
	Position  int64 `json:"position"`
	Connected bool  `json:"connected"`
	Ping      int   `json:"ping"`
}

// VoiceState is what a node needs to open the voice connection
// on behalf of the bot.
type VoiceState struct {
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`
}

// Complete reports whether all three parts have been received.
func (v VoiceState) Complete() bool {
	return v.Token != "" && v.Endpoint != "" && v.SessionID != ""
}

type TrackUpdate struct {
	Encoded string `json:"encoded"`
}

// PlayerUpdate is the body of a player PATCH. Nil fields are left
// untouched by the node.
type PlayerUpdate struct {
	Track    *TrackUpdate `json:"track,omitempty"`
	Position *int64       `json:"position,omitempty"`
	Paused   *bool        `json:"paused,omitempty"`
	Voice    *VoiceState  `json:"voice,omitempty"`
}

func Int64(v int64) *int64 { return &v }

func Bool(v bool) *bool { return &v }

// EventHandler receives messages from a node's websocket.
// Calls come from the node's read goroutine and must not block.
type EventHandler interface {
	OnStats(node string, stats Stats)
	OnPlayerUpdate(node, guildID string, state PlayerState)
	OnDisconnect(node string, err error)
}

type nopHandler struct{}

func (nopHandler) OnStats(string, Stats)                      {}
func (nopHandler) OnPlayerUpdate(string, string, PlayerState) {}
func (nopHandler) OnDisconnect(string, error)                 {}

// message covers every op we read off the websocket.
type message struct {
	Op string `json:"op"`

	// ready
	SessionID string `json:"sessionId"`
	Resumed   bool   `json:"resumed"`

	// stats
	Players        int `json:"players"`
	PlayingPlayers int `json:"playingPlayers"`

	// playerUpdate, event
	GuildID string      `json:"guildId"`
	State   PlayerState `json:"state"`
	Type    string      `json:"type"`
}
