package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reportgen_runs_started_total",
			Help: "Total number of report generations started",
		},
	)

	RunsFinished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reportgen_runs_finished_total",
			Help: "Total number of report generations that finished every section",
		},
	)

	RunsCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reportgen_runs_cancelled_total",
			Help: "Total number of cancel requests that interrupted work",
		},
	)

	// Planning metrics
	PlanningOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportgen_planning_total",
			Help: "Outline planning calls by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// Section metrics
	SectionOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportgen_sections_total",
			Help: "Sections that reached a terminal status",
		},
		[]string{"status"},
	)

	SectionStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reportgen_section_stage_duration_seconds",
			Help:    "Time spent in each section stage",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	SearchDegradations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reportgen_search_degradations_total",
			Help: "Sections that continued without references after a search failure",
		},
	)

	ReferencesPerSection = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reportgen_references_per_section",
			Help:    "Unique references retained per section",
			Buckets: []float64{0, 1, 2, 5, 10, 20},
		},
	)

	// Stream metrics
	StreamChunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportgen_stream_chunks_total",
			Help: "Completion stream fragments received by purpose",
		},
		[]string{"purpose"},
	)

	// Export metrics
	ExportFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportgen_export_failures_total",
			Help: "Failures while persisting or exporting finished reports",
		},
		[]string{"target"},
	)
)
