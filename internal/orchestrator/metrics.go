// Package orchestrator wires the engine's pipelines (internal/pipeline)
// into a long-running process (spec §4.9): a cron schedule per chain
// publishes due recent/historical import ticks onto a Redis Stream, a
// watermill-backed worker pool consumes them and runs the matching
// pipeline.Runner, and a status server exposes queue depth and recent
// tick outcomes for operators.
package orchestrator

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the process-wide counters and gauges exposed on the status
// server's /metrics endpoint, grounded on the teacher pack's
// prometheus.NewCounterVec/NewHistogramVec pattern.
type Metrics struct {
	TicksPublished *prometheus.CounterVec
	TicksProcessed *prometheus.CounterVec
	RangesOutcome  *prometheus.CounterVec
	TickDuration   *prometheus.HistogramVec
	ImportLag      *prometheus.GaugeVec
}

// NewMetrics builds and registers every orchestrator metric against reg.
// Pass prometheus.NewRegistry() in tests to avoid colliding with the
// global default registry across package-level test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "beefy_bi_ticks_published_total", Help: "Import ticks published to the queue"},
			[]string{"chain", "kind", "phase"},
		),
		TicksProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "beefy_bi_ticks_processed_total", Help: "Import ticks consumed by a worker"},
			[]string{"chain", "kind", "phase", "status"},
		),
		RangesOutcome: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "beefy_bi_ranges_outcome_total", Help: "Ranges processed by a pipeline, by success/error"},
			[]string{"chain", "kind", "outcome"},
		),
		TickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "beefy_bi_tick_duration_seconds", Help: "Wall time to process one import tick", Buckets: prometheus.DefBuckets},
			[]string{"chain", "kind", "phase"},
		),
		ImportLag: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "beefy_bi_import_lag", Help: "Chain head minus the last range covered, by chain and pipeline kind"},
			[]string{"chain", "kind"},
		),
	}
	reg.MustRegister(m.TicksPublished, m.TicksProcessed, m.RangesOutcome, m.TickDuration, m.ImportLag)
	return m
}
