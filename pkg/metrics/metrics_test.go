package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/gosible-labs/fleetforge/pkg/connection"
	"github.com/gosible-labs/fleetforge/pkg/types"
)

func TestMetricsObservePermitWait(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObservePermitWait(types.HintHostExclusive, "apt", 25*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	if !hasMetric(families, "fleetforge_parallel_permit_wait_seconds") {
		t.Fatal("expected permit_wait_seconds histogram to be registered and populated")
	}
}

func TestMetricsRecordHandlerFanIn(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordHandlerNotified("restart nginx")
	m.RecordHandlerNotified("restart nginx")
	m.RecordHandlerExecuted("restart nginx")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	if !hasMetric(families, "fleetforge_handlers_notified_total") {
		t.Fatal("expected handlers_notified_total counter")
	}
	if !hasMetric(families, "fleetforge_handlers_executed_total") {
		t.Fatal("expected handlers_executed_total counter")
	}
}

func TestMetricsObservePoolStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObservePoolStats(connection.PoolStats{
		HostStats: map[string]connection.HostStats{
			"web1:22": {TotalConnections: 3, ActiveConnections: 2, IdleConnections: 1},
		},
	})

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	if !hasMetric(families, "fleetforge_pool_connections_active") {
		t.Fatal("expected pool_connections_active gauge")
	}
}

func hasMetric(families []*dto.MetricFamily, name string) bool {
	for _, f := range families {
		if f.GetName() == name {
			return true
		}
	}
	return false
}
