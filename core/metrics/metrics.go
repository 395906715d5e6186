// Package metrics holds the Prometheus collectors of the application, all registered on Registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "somo"

// Registry is the Prometheus registry exposed at /metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// AppInfo is always 1; the build info lives in the labels.
var AppInfo = promauto.With(Registry).NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "app_info",
		Help:      "Application build information (always set to 1, build info in labels)",
	},
	[]string{"build", "env"},
)

// Generation pipeline metrics
var (
	// JobsTotal counts finished generation jobs by final status.
	JobsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "jobs_total",
			Help:      "Total number of finished generation jobs",
		},
		[]string{"status"},
	)

	JobsActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "jobs_active",
			Help:      "Number of generation jobs currently running",
		},
	)

	JobDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "job_duration_seconds",
			Help:      "Duration of generation jobs in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	PhaseDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "phase_duration_seconds",
			Help:      "Duration of generation phases in seconds",
			Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"phase"},
	)

	// AICalls counts content generator calls by operation and outcome (ok|error|retry).
	AICalls = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "calls_total",
			Help:      "Total number of content generator calls",
		},
		[]string{"operation", "outcome"},
	)

	AICallDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "call_duration_seconds",
			Help:      "Duration of content generator calls in seconds",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 90},
		},
		[]string{"operation"},
	)

	// DuplicatesDropped counts modules merged and lessons dropped as near-duplicates.
	DuplicatesDropped = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "duplicates_dropped_total",
			Help:      "Total number of near-duplicate outline entries merged or dropped",
		},
		[]string{"kind"},
	)

	CitationsExtracted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "citations_total",
			Help:      "Total number of citation markers found in generated lessons",
		},
		[]string{"result"}, // kept | invalid
	)

	// ItemsDiscarded counts lessons, questions and modules removed by validation.
	ItemsDiscarded = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "items_discarded_total",
			Help:      "Total number of generated items discarded by validation",
		},
		[]string{"kind"},
	)
)

// Learning metrics
var (
	Enrollments = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "learning",
			Name:      "enrollments_total",
			Help:      "Total number of course enrollments",
		},
	)

	QuizAttempts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "learning",
			Name:      "quiz_attempts_total",
			Help:      "Total number of quiz attempts by result",
		},
		[]string{"result"}, // passed | failed
	)
)
