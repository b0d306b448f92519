/*
Package metrics provides Prometheus metrics collection and exposition for the
migration driver.

Metrics are registered at package init and exposed over HTTP for scraping by
Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                  │          │
	│  │                                              │          │
	│  │  Driver state: current state, transitions   │          │
	│  │  Poll loop: cycle count, queue depth         │          │
	│  │  Replay: batches, records, duration          │          │
	│  │  Dual-write: mirror calls by kind            │          │
	│  │  LegacyStore: errors by classification       │          │
	│  │  Leadership: claim attempts by outcome       │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint               │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Metrics Catalog

migrationdriver_state{state}:
  - Type: Gauge
  - Description: 1 for the current DriverState; the series of every other state name is removed on each transition
  - Labels: state

migrationdriver_state_transitions_total{from,to}:
  - Type: Counter
  - Description: Total driver state transitions by from/to state pair

migrationdriver_poll_cycles_total:
  - Type: Counter
  - Description: Total poll cycles executed

migrationdriver_event_queue_depth:
  - Type: Gauge
  - Description: Number of events currently queued for the event loop

migrationdriver_replay_batches_total / migrationdriver_replay_records_total:
  - Type: Counter
  - Description: Batches/records accepted during bulk migration replay

migrationdriver_replay_duration_seconds:
  - Type: Histogram
  - Description: Wall-clock duration of the bulk migration replay
  - Buckets: 1, 5, 15, 30, 60, 120, 300, 600, 1800

migrationdriver_dual_write_mirrors_total{kind}:
  - Type: Counter
  - Description: LegacyStore mirror writes issued during dual-write
  - Labels: kind (topics, configs, quotas, producer_id, acls)

migrationdriver_legacystore_errors_total{kind}:
  - Type: Counter
  - Description: LegacyStore errors observed by the event loop, by classification
  - Labels: kind (transient, auth, unknown, conditional_update_failed)

migrationdriver_claim_attempts_total{outcome}:
  - Type: Counter
  - Description: Controller-leadership claim attempts against LegacyStore
  - Labels: outcome (acquired, lost)

migrationdriver_event_handler_duration_seconds{kind}:
  - Type: Histogram
  - Description: Time taken to process a single queued event, by event kind

# Usage

	import "github.com/cuemby/migrationdriver/pkg/metrics"

	metrics.DriverState.WithLabelValues("DUAL_WRITE").Set(1)
	metrics.PollCyclesTotal.Inc()
	metrics.DualWriteMirrorsTotal.WithLabelValues("topics").Inc()

	timer := metrics.NewTimer()
	// ... process event ...
	timer.ObserveDurationVec(metrics.EventHandlerDuration, "metadataChange")

	http.Handle("/metrics", metrics.Handler())

# Design Patterns

Package Init Registration:
  - All metrics registered in init() function
  - MustRegister panics on duplicate registration

Label Discipline:
  - Use WithLabelValues for cardinality-bounded labels (state names, event
    kinds, error classifications) — never controller epochs or offsets.

# See Also

  - Prometheus client library: https://github.com/prometheus/client_golang
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics
