package metrics_test

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/glizzus/encore/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *metrics.Metrics
	m.SetNodeAvailable("a", "eu", true)
	m.SetNodeLoad("a", 3)
	m.RecordMigration("route", "moved")
	m.RecordFailoverSession("migrated")
	m.RecordReconcile("all", time.Second)
	m.RecordNotificationFailure("redis")
}

func TestRecording(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	m.SetNodeAvailable("a", "eu", true)
	m.SetNodeAvailable("b", "us", false)
	m.RecordMigration("failover", "moved")
	m.RecordMigration("failover", "moved")
	m.RecordMigration("route", "rate_limited")
	m.RecordReconcile("tenant", 20*time.Millisecond)
	m.RecordReconcile("all", time.Second)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"node a available", testutil.ToFloat64(m.NodeAvailable.WithLabelValues("a", "eu")), 1},
		{"node b unavailable", testutil.ToFloat64(m.NodeAvailable.WithLabelValues("b", "us")), 0},
		{"failover moves", testutil.ToFloat64(m.MigrationsTotal.WithLabelValues("failover", "moved")), 2},
		{"rate limited routes", testutil.ToFloat64(m.MigrationsTotal.WithLabelValues("route", "rate_limited")), 1},
		{"tenant passes", testutil.ToFloat64(m.ReconcilePassesTotal.WithLabelValues("tenant")), 1},
		{"duration series per scope", float64(testutil.CollectAndCount(m.ReconcileDuration)), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestServerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	m.SetNodeAvailable("a", "eu", true)

	srv := metrics.NewServerWithRegistry("127.0.0.1:0", reg, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close(t.Context()) })

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("failed to scrape metrics: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if !strings.Contains(string(body), `encore_node_available{node="a",region="eu"} 1`) {
		t.Errorf("metrics output missing node gauge:\n%s", body)
	}
}
