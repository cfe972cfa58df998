package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vera_core_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "vera_core_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "endpoint"},
	)

	AskRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vera_core_ask_requests_total",
			Help: "Utterances handled by the engine, by outcome",
		},
		[]string{"outcome"},
	)

	AskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "vera_core_ask_duration_seconds",
			Help: "End-to-end utterance handling duration in seconds",
		},
	)

	RouteDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vera_core_route_decisions_total",
			Help: "Total routing decisions by intent class and execution path",
		},
		[]string{"class", "path"},
	)

	FastPathHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vera_core_fast_path_hits_total",
			Help: "Utterances answered by the deterministic fast path",
		},
	)

	CompletionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "vera_core_completion_latency_seconds",
			Help: "Completion backend latency in seconds",
		},
	)

	TaskStates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vera_core_tasks_total",
			Help: "Orchestrated tasks by terminal state",
		},
		[]string{"state"},
	)

	ExpertCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "vera_core_expert_call_duration_seconds",
			Help: "Expert handler call duration in seconds",
		},
		[]string{"handler"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vera_core_summary_cache_total",
			Help: "Summary cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	GroundingAnnotations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vera_core_grounding_annotations_total",
			Help: "Grounding annotations by verdict",
		},
		[]string{"verdict"},
	)
)
