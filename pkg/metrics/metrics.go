package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DriverState is a gauge-per-label snapshot of the current DriverState;
	// only the current state's label value is present, set to 1.
	DriverState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "migrationdriver_state",
			Help: "Current driver state: the series for the current state name is 1",
		},
		[]string{"state"},
	)

	StateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrationdriver_state_transitions_total",
			Help: "Total number of driver state transitions by from/to state",
		},
		[]string{"from", "to"},
	)

	PollCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "migrationdriver_poll_cycles_total",
			Help: "Total number of poll cycles executed",
		},
	)

	EventQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "migrationdriver_event_queue_depth",
			Help: "Number of events currently queued for the event loop",
		},
	)

	ReplayBatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "migrationdriver_replay_batches_total",
			Help: "Total number of metadata batches accepted during bulk replay",
		},
	)

	ReplayRecordsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "migrationdriver_replay_records_total",
			Help: "Total number of metadata records replayed from LegacyStore into LogMeta",
		},
	)

	ReplayDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "migrationdriver_replay_duration_seconds",
			Help:    "Wall-clock duration of the bulk migration replay",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	DualWriteMirrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrationdriver_dual_write_mirrors_total",
			Help: "Total number of LegacyStore mirror writes issued during dual-write, by kind",
		},
		[]string{"kind"}, // topics, configs, quotas, producer_id, acls
	)

	LegacyStoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrationdriver_legacystore_errors_total",
			Help: "Total number of LegacyStore errors observed by the event loop, by classification",
		},
		[]string{"kind"}, // transient, auth, unknown, conditional_update_failed
	)

	ClaimAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrationdriver_claim_attempts_total",
			Help: "Total number of controller-leadership claim attempts against LegacyStore, by outcome",
		},
		[]string{"outcome"}, // acquired, lost
	)

	EventHandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "migrationdriver_event_handler_duration_seconds",
			Help:    "Time taken to process a single queued event, by event kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	BrokerRPCsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrationdriver_broker_rpcs_total",
			Help: "Total number of legacy-protocol RPCs sent to brokers, by outcome",
		},
		[]string{"outcome"}, // sent, failed, unreachable
	)

	FaultsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "migrationdriver_faults_total",
			Help: "Total number of faults reported to the driver's FaultHandler",
		},
	)
)

func init() {
	prometheus.MustRegister(
		DriverState,
		StateTransitionsTotal,
		PollCyclesTotal,
		EventQueueDepth,
		ReplayBatchesTotal,
		ReplayRecordsTotal,
		ReplayDuration,
		DualWriteMirrorsTotal,
		LegacyStoreErrorsTotal,
		ClaimAttemptsTotal,
		EventHandlerDuration,
		BrokerRPCsTotal,
		FaultsTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
