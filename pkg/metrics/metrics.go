// Package metrics exposes Prometheus instrumentation for the parts of the
// engine called out in spec §4.2/§4.5/§5 that have no teacher equivalent:
// connection pool occupancy, parallelization-hint permit wait, batch
// duration, and handler fan-in. It follows the Recorder-struct pattern (a
// constructor that registers a fixed metric set, then narrow Record*/Observe*
// methods) used by the pack's virtengine-virtengine/pkg/chaos metrics.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gosible-labs/fleetforge/pkg/connection"
	"github.com/gosible-labs/fleetforge/pkg/types"
)

const (
	namespace = "fleetforge"
)

// Metrics holds every Prometheus collector the engine reports. It implements
// parallel.Recorder and scheduler.MetricsRecorder by method signature (duck
// typing), so neither package needs to import this one.
type Metrics struct {
	registry prometheus.Registerer

	poolConnectionsActive *prometheus.GaugeVec
	poolConnectionsIdle   *prometheus.GaugeVec
	poolConnectionsTotal  *prometheus.GaugeVec

	permitWaitSeconds *prometheus.HistogramVec

	batchDurationSeconds *prometheus.HistogramVec

	handlerNotifiedTotal  *prometheus.CounterVec
	handlerExecutedTotal  *prometheus.CounterVec
	taskResultsTotal      *prometheus.CounterVec
}

// New creates a Metrics instance and registers its collectors with registry.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{registry: registry}

	m.poolConnectionsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "connections_active",
		Help:      "In-use connections per pool host key.",
	}, []string{"host_key"})

	m.poolConnectionsIdle = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "connections_idle",
		Help:      "Idle connections per pool host key.",
	}, []string{"host_key"})

	m.poolConnectionsTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "connections_total",
		Help:      "Total pooled connections per host key (active + idle).",
	}, []string{"host_key"})

	m.permitWaitSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "parallel",
		Name:      "permit_wait_seconds",
		Help:      "Time a task waited to acquire a parallelization-hint permit.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"hint", "module"})

	m.batchDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "batch_duration_seconds",
		Help:      "Wall-clock time to run one serial batch's phases and handler flush.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
	}, []string{"play"})

	m.handlerNotifiedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "handlers",
		Name:      "notified_total",
		Help:      "Number of times a handler was notified (fan-in, before dedup).",
	}, []string{"handler"})

	m.handlerExecutedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "handlers",
		Name:      "executed_total",
		Help:      "Number of times a handler actually ran (at most once per host per play).",
	}, []string{"handler"})

	m.taskResultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tasks",
		Name:      "results_total",
		Help:      "Task attempts by terminal status.",
	}, []string{"status"})

	for _, c := range []prometheus.Collector{
		m.poolConnectionsActive, m.poolConnectionsIdle, m.poolConnectionsTotal,
		m.permitWaitSeconds, m.batchDurationSeconds,
		m.handlerNotifiedTotal, m.handlerExecutedTotal, m.taskResultsTotal,
	} {
		registry.MustRegister(c)
	}

	return m
}

// Default creates a Metrics instance registered against the global
// Prometheus registry.
func Default() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// Handler returns the promhttp handler for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePermitWait records how long a task waited on a parallelization hint
// permit (spec §4.5's acquire(hint, host, module) -> Guard contract).
func (m *Metrics) ObservePermitWait(hint types.ParallelHint, module string, d time.Duration) {
	m.permitWaitSeconds.WithLabelValues(string(hint), module).Observe(d.Seconds())
}

// ObserveBatchDuration records the wall-clock duration of one serial batch.
func (m *Metrics) ObserveBatchDuration(play string, d time.Duration) {
	m.batchDurationSeconds.WithLabelValues(play).Observe(d.Seconds())
}

// RecordHandlerNotified increments the fan-in counter for handler.
func (m *Metrics) RecordHandlerNotified(handler string) {
	m.handlerNotifiedTotal.WithLabelValues(handler).Inc()
}

// RecordHandlerExecuted increments the at-most-once execution counter for handler.
func (m *Metrics) RecordHandlerExecuted(handler string) {
	m.handlerExecutedTotal.WithLabelValues(handler).Inc()
}

// RecordTaskResult increments the per-status task result counter.
func (m *Metrics) RecordTaskResult(status string) {
	m.taskResultsTotal.WithLabelValues(status).Inc()
}

// ObservePoolStats sets the pool gauges from a point-in-time snapshot.
func (m *Metrics) ObservePoolStats(stats connection.PoolStats) {
	for key, hs := range stats.HostStats {
		m.poolConnectionsActive.WithLabelValues(key).Set(float64(hs.ActiveConnections))
		m.poolConnectionsIdle.WithLabelValues(key).Set(float64(hs.IdleConnections))
		m.poolConnectionsTotal.WithLabelValues(key).Set(float64(hs.TotalConnections))
	}
}

// WatchPool polls pool.Stats() on interval and feeds ObservePoolStats until
// ctx is cancelled. Intended to run as a background goroutine for the
// lifetime of a playbook run.
func (m *Metrics) WatchPool(ctx context.Context, pool *connection.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ObservePoolStats(pool.Stats())
		}
	}
}
