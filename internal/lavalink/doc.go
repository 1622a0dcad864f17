// Package lavalink is a small client for Lavalink v4 audio nodes.
//
// A Node keeps one websocket open to receive session, stats and player
// state messages, and uses the REST API for the version handshake and for
// player updates. Errors are classified so callers can tell bad
// credentials, timeouts and throttling apart from plain transport failures.
package lavalink
