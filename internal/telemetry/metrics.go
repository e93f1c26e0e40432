package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// mergeFragments counts plan fragments by merge outcome
	mergeFragments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visionpath_plan_merge_fragments_total",
		Help: "Plan fragments processed by the merge engine, by result",
	}, []string{"result"})

	// planningTurns counts AI planning turns by outcome
	planningTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visionpath_planning_turns_total",
		Help: "AI planning turns, by outcome",
	}, []string{"outcome"})

	blastRadiusDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "visionpath_blast_radius_duration_seconds",
		Help:    "Blast radius query duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14), // 50us to ~400ms
	})

	blastRadiusSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "visionpath_blast_radius_nodes",
		Help:    "Number of nodes affected per blast radius query",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
	})

	autosaveFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visionpath_autosave_flushes_total",
		Help: "Debounced project saves, by result",
	}, []string{"result"})

	storeFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visionpath_store_fallback_total",
		Help: "Times the primary project store failed and the local store took over",
	})

	trackerSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visionpath_tracker_sync_issues_total",
		Help: "Issues pushed to external trackers, by action",
	}, []string{"action"})
)

// RecordMerge counts inserted, updated and rejected fragments of one merge
func RecordMerge(inserted, updated, rejected int) {
	mergeFragments.WithLabelValues("inserted").Add(float64(inserted))
	mergeFragments.WithLabelValues("updated").Add(float64(updated))
	mergeFragments.WithLabelValues("rejected").Add(float64(rejected))
}

// RecordPlanningTurn counts a planning turn. outcome is "merged", "no_change" or "error".
func RecordPlanningTurn(outcome string) {
	planningTurns.WithLabelValues(outcome).Inc()
}

// ObserveBlastRadius records the duration and size of a blast radius query
func ObserveBlastRadius(elapsed time.Duration, affected int) {
	blastRadiusDuration.Observe(elapsed.Seconds())
	blastRadiusSize.Observe(float64(affected))
}

// RecordAutosave counts a debounced save attempt
func RecordAutosave(err error) {
	if err != nil {
		autosaveFlushes.WithLabelValues("error").Inc()
		return
	}
	autosaveFlushes.WithLabelValues("ok").Inc()
}

// RecordStoreFallback counts a switch from the primary store to the local store
func RecordStoreFallback() {
	storeFallbacks.Inc()
}

// RecordTrackerIssue counts an issue created or updated in an external tracker
func RecordTrackerIssue(action string) {
	trackerSyncs.WithLabelValues(action).Inc()
}
