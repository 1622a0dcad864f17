// Package metrics exposes Prometheus metrics for node health, session
// migration and reconciliation, plus the HTTP server that serves them.
//
// All recording methods are safe to call on a nil *Metrics, which lets
// components run without metrics wired in.
package metrics
