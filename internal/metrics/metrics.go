package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "encore"

// Metrics holds every collector the service records into.
type Metrics struct {
	// NodeAvailable is 1 while a node is routable.
	// Labels: node, region
	NodeAvailable *prometheus.GaugeVec

	// NodePlayingPlayers tracks the load last reported by each node.
	// Labels: node
	NodePlayingPlayers *prometheus.GaugeVec

	// MigrationsTotal counts node change attempts.
	// Labels: trigger (route, failover), outcome (moved, rate_limited, failed)
	MigrationsTotal *prometheus.CounterVec

	// FailoverSessionsTotal counts sessions seen by failover passes.
	// Labels: result (migrated, deferred, cooldown, skipped, failed)
	FailoverSessionsTotal *prometheus.CounterVec

	// ReconcilePassesTotal counts reconciliation passes.
	// Labels: scope (all, tenant)
	ReconcilePassesTotal *prometheus.CounterVec

	ReconcileDuration *prometheus.HistogramVec

	// NotificationsFailedTotal counts notifications a sink could not deliver.
	// Labels: sink
	NotificationsFailedTotal *prometheus.CounterVec
}

// New creates metrics registered with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics registered with reg.
// Useful for testing to avoid conflicts with the default registry.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NodeAvailable: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "node",
				Name:      "available",
				Help:      "Whether a node is currently available for routing.",
			},
			[]string{"node", "region"},
		),
		NodePlayingPlayers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "node",
				Name:      "playing_players",
				Help:      "Players currently playing on a node, as reported by the node.",
			},
			[]string{"node"},
		),
		MigrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "migrations_total",
				Help:      "Node change attempts, broken down by trigger and outcome.",
			},
			[]string{"trigger", "outcome"},
		),
		FailoverSessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "failover",
				Name:      "sessions_total",
				Help:      "Sessions handled by failover passes, broken down by result.",
			},
			[]string{"result"},
		),
		ReconcilePassesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "passes_total",
				Help:      "Reconciliation passes, broken down by scope.",
			},
			[]string{"scope"},
		),
		ReconcileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "duration_seconds",
				Help:      "Duration of reconciliation passes, broken down by scope.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"scope"},
		),
		NotificationsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notify",
				Name:      "failed_total",
				Help:      "Notifications that could not be delivered, broken down by sink.",
			},
			[]string{"sink"},
		),
	}

	reg.MustRegister(
		m.NodeAvailable,
		m.NodePlayingPlayers,
		m.MigrationsTotal,
		m.FailoverSessionsTotal,
		m.ReconcilePassesTotal,
		m.ReconcileDuration,
		m.NotificationsFailedTotal,
	)
	return m
}

func (m *Metrics) SetNodeAvailable(node, region string, available bool) {
	if m == nil {
		return
	}
	v := 0.0
	if available {
		v = 1
	}
	m.NodeAvailable.WithLabelValues(node, region).Set(v)
}

func (m *Metrics) SetNodeLoad(node string, playing int) {
	if m == nil {
		return
	}
	m.NodePlayingPlayers.WithLabelValues(node).Set(float64(playing))
}

func (m *Metrics) RecordMigration(trigger, outcome string) {
	if m == nil {
		return
	}
	m.MigrationsTotal.WithLabelValues(trigger, outcome).Inc()
}

func (m *Metrics) RecordFailoverSession(result string) {
	if m == nil {
		return
	}
	m.FailoverSessionsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordReconcile(scope string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ReconcilePassesTotal.WithLabelValues(scope).Inc()
	m.ReconcileDuration.WithLabelValues(scope).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordNotificationFailure(sink string) {
	if m == nil {
		return
	}
	m.NotificationsFailedTotal.WithLabelValues(sink).Inc()
}
