// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StageCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_completed_total",
			Help: "Total number of stage executions that succeeded",
		},
		[]string{"stage"},
	)

	StageFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_failed_total",
			Help: "Total number of stage executions that failed",
		},
		[]string{"stage", "error_code"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "pipeline_stage_duration_seconds",
			Help: "Duration of stage execution in seconds",
		},
		[]string{"stage"},
	)

	RefinementPasses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_refinement_passes_total",
			Help: "Total number of runs that triggered the single refinement pass",
		},
	)

	CritiqueScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_critique_score",
			Help:    "Distribution of critic scores (1-10)",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		},
	)
)
