package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediabundler_build_count_total",
			Help: "Total number of builds run per stage",
		},
		[]string{"stage"},
	)

	BuildFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediabundler_build_failed_total",
			Help: "Number of builds aborted by an error",
		},
		[]string{"stage", "error_type"},
	)

	BuildGroups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediabundler_build_groups_total",
			Help: "Number of bundle groups processed, by outcome",
		},
		[]string{"stage", "outcome"},
	)

	BuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediabundler_build_duration_seconds",
			Help:    "Build duration in seconds",
			Buckets: []float64{0.1, 0.2, 0.5, 1, 1.5, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	LastBuildStart = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mediabundler_last_build_start_timestamp",
			Help: "Unix timestamp of when the last build started",
		},
		[]string{"stage"},
	)

	LastBuildEnd = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mediabundler_last_build_end_timestamp",
			Help: "Unix timestamp of when the last build ended",
		},
		[]string{"stage"},
	)
)

// BuildStarted records the start of a build of stage.
func BuildStarted(stage string, start time.Time) {
	BuildCount.WithLabelValues(stage).Inc()
	LastBuildStart.WithLabelValues(stage).Set(float64(start.Unix()))
}

// BuildFinished records the group outcomes and duration of a build.
func BuildFinished(stage string, start time.Time, outcomes map[string]int) {
	for outcome, n := range outcomes {
		BuildGroups.WithLabelValues(stage, outcome).Add(float64(n))
	}
	end := time.Now()
	BuildDuration.WithLabelValues(stage).Observe(end.Sub(start).Seconds())
	LastBuildEnd.WithLabelValues(stage).Set(float64(end.Unix()))
}
