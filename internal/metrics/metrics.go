package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DocumentsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atpflow_documents_submitted_total",
		Help: "ATP documents submitted, by declared or detected category.",
	}, []string{"category"})

	DocumentsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atpflow_documents_finished_total",
		Help: "Documents that reached a terminal status.",
	}, []string{"status"})

	StageDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atpflow_stage_decisions_total",
		Help: "Review decisions recorded, by reviewer role and decision.",
	}, []string{"role", "decision"})

	StageReviewDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atpflow_stage_review_duration_seconds",
		Help:    "Time from stage activation to decision.",
		Buckets: []float64{60, 600, 3600, 4 * 3600, 12 * 3600, 24 * 3600, 48 * 3600, 96 * 3600},
	}, []string{"role"})

	StagesActivated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atpflow_stages_activated_total",
		Help: "Review stages moved to pending.",
	}, []string{"role"})

	PunchlistTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atpflow_punchlist_transitions_total",
		Help: "Punchlist items entering each status.",
	}, []string{"status"})

	WorkflowErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atpflow_workflow_errors_total",
		Help: "Rejected workflow operations, by error kind.",
	}, []string{"kind"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atpflow_http_request_duration_seconds",
		Help:    "API request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	PublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atpflow_event_publish_failures_total",
		Help: "Workflow events that could not be published after commit.",
	})
)
