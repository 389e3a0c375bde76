package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels.
const (
	// Journal operations
	OpRead   = "read"
	OpAppend = "append"

	// Journal operation results
	ResultOK       = "ok"
	ResultConflict = "conflict"
	ResultError    = "error"

	// Worker exit results
	ExitClean  = "clean"
	ExitFailed = "failed"
)

// Trial metrics
var (
	// Finished trials by terminal state, recorded by the process that ran them
	TrialsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stratlab_trials_finished_total",
		Help: "Trials finished by this process, by state",
	}, []string{"state"})

	// Trial evaluation time
	TrialDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stratlab_trial_duration_seconds",
		Help:    "Wall time of one trial evaluation",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	})

	// Trials in the shared log by state, published by the run coordinator
	TrialsInLog = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stratlab_log_trials",
		Help: "Trials currently recorded in the shared log, by state",
	}, []string{"state"})

	// Best primary objective value seen so far
	BestObjective = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stratlab_best_objective",
		Help: "Best primary objective value among completed trials",
	})

	// Simulated bars
	BarsSimulated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stratlab_bars_simulated_total",
		Help: "Price bars processed by the simulator",
	})
)

// Journal metrics
var (
	JournalOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stratlab_journal_operations_total",
		Help: "Journal operations by backend, operation and result",
	}, []string{"backend", "operation", "result"})

	JournalLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stratlab_journal_latency_ms",
		Help:    "Journal operation latency in milliseconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"backend", "operation"})

	// 0=closed, 1=open, 2=half_open
	JournalBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stratlab_journal_breaker_state",
		Help: "Journal circuit breaker state (0=closed, 1=open, 2=half_open)",
	}, []string{"backend"})
)

// Worker metrics
var (
	WorkersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stratlab_workers_active",
		Help: "Worker processes currently running",
	})

	WorkerExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stratlab_worker_exits_total",
		Help: "Worker exits by result",
	}, []string{"result"})
)

// RecordTrial records a finished trial
func RecordTrial(state string, durationSec float64) {
	TrialsFinished.WithLabelValues(state).Inc()
	TrialDuration.Observe(durationSec)
}

// RecordBars records simulated bars
func RecordBars(n int) {
	BarsSimulated.Add(float64(n))
}

// SetLogProgress publishes the per-state trial counts of the shared log
func SetLogProgress(counts map[string]int) {
	for state, n := range counts {
		TrialsInLog.WithLabelValues(state).Set(float64(n))
	}
}

// SetBestObjective publishes the best primary objective value
func SetBestObjective(value float64) {
	BestObjective.Set(value)
}

// RecordJournalOperation records one journal call
func RecordJournalOperation(backend, operation, result string, durationMs float64) {
	JournalOperations.WithLabelValues(backend, operation, result).Inc()
	JournalLatency.WithLabelValues(backend, operation).Observe(durationMs)
}

// SetJournalBreakerState publishes a journal circuit breaker state
func SetJournalBreakerState(backend string, state float64) {
	JournalBreakerState.WithLabelValues(backend).Set(state)
}

// WorkerStarted increments the active worker gauge
func WorkerStarted() {
	WorkersActive.Inc()
}

// WorkerExited records a worker exit
func WorkerExited(err error) {
	WorkersActive.Dec()
	result := ExitClean
	if err != nil {
		result = ExitFailed
	}
	WorkerExits.WithLabelValues(result).Inc()
}
