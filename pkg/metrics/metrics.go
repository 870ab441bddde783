// Package metrics defines the Prometheus instrumentation for the job
// creator and job watcher, plus the HTTP server that exposes it.
// Counters and histograms are package-level vars registered at import time
// via promauto, mirroring the teacher's pkg/metrics package shape
// (global metric vars plus small Record*/Set* helpers called from the
// rest of the codebase).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsDispatchedTotal counts jobs successfully submitted to the
	// cluster, by message variant.
	JobsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_dispatched_total",
		Help: "Total number of jobs successfully submitted to the cluster, by message variant.",
	}, []string{"variant"})

	// JobsRejectedTotal counts messages that were decoded but never
	// resulted in a submitted workload, by rejection reason.
	JobsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_rejected_total",
		Help: "Total number of inbound messages rejected without submitting a workload, by reason.",
	}, []string{"reason"})

	// WatcherOutcomesTotal counts terminal states a job watcher reported,
	// by state (SUCCESSFUL, UNSUCCESSFUL, ERROR).
	WatcherOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watcher_outcomes_total",
		Help: "Total number of terminal job outcomes reported by job watchers, by state.",
	}, []string{"state"})

	// RegistryResolutionsTotal counts image-reference resolution
	// attempts, by outcome (resolved, already_pinned, fallback).
	RegistryResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_resolutions_total",
		Help: "Total number of image digest resolution attempts, by outcome.",
	}, []string{"outcome"})

	// RetriesExhaustedTotal counts calls to an external collaborator that
	// exhausted their retry budget, by collaborator name. pkg/scriptapi
	// records both script acquisition and status reporting as "scriptapi".
	RetriesExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retries_exhausted_total",
		Help: "Total number of calls that exhausted their retry budget before giving up, by collaborator.",
	}, []string{"collaborator"})

	// QueueConsumeDuration tracks how long processing one queue message
	// takes end to end, from decode through submission or rejection.
	QueueConsumeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "queue_consume_duration_seconds",
		Help:    "Time to process one inbound queue message, from decode through submission or rejection.",
		Buckets: prometheus.DefBuckets,
	})

	// WatcherObservationDuration tracks how long a single watcher
	// instance spent observing its job before reaching a terminal state.
	WatcherObservationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "watcher_observation_duration_seconds",
		Help:    "Time a job watcher spent observing its job before reaching a terminal state.",
		Buckets: []float64{1, 5, 30, 60, 300, 900, 1800, 3600, 21600},
	})
)

// RecordDispatched records one successfully submitted job for variant.
func RecordDispatched(variant string) {
	JobsDispatchedTotal.WithLabelValues(variant).Inc()
}

// RecordRejected records one rejected message for reason.
func RecordRejected(reason string) {
	JobsRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordWatcherOutcome records one terminal job outcome for state.
func RecordWatcherOutcome(state string) {
	WatcherOutcomesTotal.WithLabelValues(state).Inc()
}

// RecordRegistryResolution records one image resolution attempt for
// outcome.
func RecordRegistryResolution(outcome string) {
	RegistryResolutionsTotal.WithLabelValues(outcome).Inc()
}

// RecordRetriesExhausted records one exhausted retry budget against
// collaborator.
func RecordRetriesExhausted(collaborator string) {
	RetriesExhaustedTotal.WithLabelValues(collaborator).Inc()
}

// Timer measures elapsed wall-clock time from its creation, for
// recording against a histogram once the measured operation completes.
type Timer struct {
	start time.Time
}

// NewTimer starts a Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the time since the Timer was created.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// RecordQueueConsume records the Timer's elapsed time against
// QueueConsumeDuration.
func (t *Timer) RecordQueueConsume() {
	QueueConsumeDuration.Observe(t.Elapsed().Seconds())
}

// RecordWatcherObservation records the Timer's elapsed time against
// WatcherObservationDuration.
func (t *Timer) RecordWatcherObservation() {
	WatcherObservationDuration.Observe(t.Elapsed().Seconds())
}
