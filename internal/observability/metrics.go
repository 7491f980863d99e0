package observability

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	apiRequestsTotal  *prometheus.CounterVec
	apiLatencySeconds *prometheus.HistogramVec
	apiErrorsTotal    *prometheus.CounterVec

	notificationsPublishedTotal *prometheus.CounterVec
	reviewAssignmentsCreated    *prometheus.CounterVec
	reviewShortfallsTotal       prometheus.Counter
	scoreRecomputesTotal        *prometheus.CounterVec
	gradesPublishedTotal        prometheus.Counter
	statusTransitionsTotal      *prometheus.CounterVec
	schedulerRunsTotal          *prometheus.CounterVec
	schedulerDurationSeconds    *prometheus.HistogramVec
)

// RegisterMetrics initialises the Prometheus collectors used by the engine.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		notificationsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_published_total",
			Help: "Notifications dispatched, by type.",
		}, []string{"type"})

		reviewAssignmentsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "review_assignments_created_total",
			Help: "Reviewer pairings created by the matcher.",
		}, []string{"kind"})

		reviewShortfallsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "review_shortfalls_total",
			Help: "Submissions left with fewer reviewers than requested.",
		})

		scoreRecomputesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "score_recomputes_total",
			Help: "Submission score recomputations, by outcome.",
		}, []string{"outcome"})

		gradesPublishedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grades_published_total",
			Help: "Submissions whose grade was published.",
		})

		statusTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assignment_status_transitions_total",
			Help: "Assignment status changes applied by the status machine.",
		}, []string{"from", "to"})

		schedulerRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_runs_total",
			Help: "Background job executions, by job and result.",
		}, []string{"job", "result"})

		schedulerDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scheduler_run_duration_seconds",
			Help:    "Background job duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"})

		prometheus.MustRegister(
			apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			notificationsPublishedTotal, reviewAssignmentsCreated, reviewShortfallsTotal,
			scoreRecomputesTotal, gradesPublishedTotal, statusTransitionsTotal,
			schedulerRunsTotal, schedulerDurationSeconds,
		)
	})
}

// MetricsHandler serves the scrape endpoint, in OpenMetrics format when the scraper asks for it.
func MetricsHandler() fiber.Handler {
	RegisterMetrics()
	return adaptor.HTTPHandler(promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// NotificationsPublishedTotal exposes the notification counter.
func NotificationsPublishedTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsPublishedTotal
}

// ReviewAssignmentsCreated exposes the matcher pairing counter (kind=peer|ai).
func ReviewAssignmentsCreated() *prometheus.CounterVec {
	RegisterMetrics()
	return reviewAssignmentsCreated
}

// ReviewShortfalls exposes the matcher shortfall counter.
func ReviewShortfalls() prometheus.Counter {
	RegisterMetrics()
	return reviewShortfallsTotal
}

// ScoreRecomputes exposes the recompute outcome counter.
func ScoreRecomputes() *prometheus.CounterVec {
	RegisterMetrics()
	return scoreRecomputesTotal
}

// GradesPublished exposes the published grade counter.
func GradesPublished() prometheus.Counter {
	RegisterMetrics()
	return gradesPublishedTotal
}

// StatusTransitions exposes the assignment status transition counter.
func StatusTransitions() *prometheus.CounterVec {
	RegisterMetrics()
	return statusTransitionsTotal
}

// SchedulerRuns exposes the background job counter.
func SchedulerRuns() *prometheus.CounterVec {
	RegisterMetrics()
	return schedulerRunsTotal
}

// SchedulerDuration exposes the background job duration histogram.
func SchedulerDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return schedulerDurationSeconds
}
