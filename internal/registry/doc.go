// Package registry tracks the configured audio nodes and their health.
//
// A node is routable only while its Handle reports Available. Nodes are
// indexed by lower-cased region label, and every node is also indexed
// under the auto region, so PickNode can fall back to any healthy node
// when a region has none. Index entries are never removed; an unhealthy
// node stays indexed and is skipped until it recovers.
//
// Observers learn about availability transitions through Subscribe.
// Callbacks run on the goroutine that detected the transition and must
// return quickly.
package registry
