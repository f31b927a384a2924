package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// runsTotal counts entity loads by outcome (succeeded, failed).
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "langfuse_pipeline_runs_total",
			Help: "Entity loads by project, entity and outcome",
		},
		[]string{"project", "entity", "outcome"},
	)

	// runDuration tracks the duration of one entity load including the export.
	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "langfuse_pipeline_run_duration_seconds",
			Help:    "Duration of one entity load and export",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"entity"},
	)
)
