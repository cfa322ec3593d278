// Package metrics holds the Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for UpstreamCalls.
const (
	OutcomeOK          = "ok"
	OutcomeUnavailable = "unavailable"
	OutcomeRejected    = "rejected"
	OutcomeMalformed   = "malformed"
)

var (
	// UpstreamCalls counts outbound calls by endpoint and outcome.
	UpstreamCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ptepg_upstream_calls_total",
			Help: "Outbound calls to the EPG provider",
		},
		[]string{"endpoint", "outcome"},
	)

	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ptepg_upstream_call_duration_seconds",
			Help:    "Latency of outbound calls to the EPG provider, excluding rate-limit wait",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ptepg_upstream_circuit_state",
			Help: "Upstream circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// Runs counts ingestion runs by result: ok, no_channels, persistence_failed, skipped.
	Runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ptepg_runs_total",
			Help: "Ingestion runs by result",
		},
		[]string{"result"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ptepg_run_duration_seconds",
			Help:    "Wall-clock duration of completed ingestion runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		},
	)

	RunOutboundCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ptepg_run_outbound_calls",
			Help: "Outbound calls made by the last ingestion run",
		},
	)

	ProgramsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ptepg_program_detail_failures_total",
			Help: "Program detail fetches that degraded to a failed result",
		},
	)

	// RowsUpserted counts persisted rows by table and action (inserted, updated).
	RowsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ptepg_rows_upserted_total",
			Help: "Catalog rows written by table and action",
		},
		[]string{"table", "action"},
	)
)
