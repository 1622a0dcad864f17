// Package failover moves sessions off nodes that become unavailable.
//
// The Coordinator subscribes to registry health events. When a node
// drops, every session assigned to it is moved to the least loaded
// healthy node, preferring the session's region, and playback resumes
// slightly before the last reported position.
package failover
