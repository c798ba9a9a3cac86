package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mnemo_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mnemo_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	TurnsComposedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mnemo_turns_composed_total",
			Help: "Total number of conversation turns composed.",
		},
	)

	MemoriesCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mnemo_memories_created_total",
			Help: "Total number of long-term memories created.",
		},
		[]string{"category"},
	)

	RetrievalDegradedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mnemo_retrieval_degraded_total",
			Help: "Searches answered with a degraded (fallback) embedding.",
		},
	)

	GenerationDegradedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mnemo_generation_degraded_total",
			Help: "Chat completions degraded to the placeholder reply.",
		},
	)

	SummarizeFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mnemo_summarize_failures_total",
			Help: "Background summarization runs that failed.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TurnsComposedTotal,
		MemoriesCreatedTotal,
		RetrievalDegradedTotal,
		GenerationDegradedTotal,
		SummarizeFailuresTotal,
	)
}
