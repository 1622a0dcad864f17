// Package player holds per-guild playback sessions.
//
// A Session is the authoritative record of what a guild is listening to
// and which node plays it. Playback position is kept up to date from the
// state reports of the assigned node, so a session can be resumed close
// to where it stopped after it moves to another node.
package player
