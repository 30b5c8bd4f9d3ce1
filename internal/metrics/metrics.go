// Package metrics exposes the pipeline's Prometheus instrumentation.
// Collectors register against the default registry; the worker daemon
// serves them through Handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "subscout"

var (
	emailsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "emails_processed_total",
		Help:      "Processed email records by pipeline outcome.",
	}, []string{"outcome"})

	classifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "classifications_total",
		Help:      "Classifier verdicts by email type.",
	}, []string{"email_type"})

	extractionConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "extraction_confidence",
		Help:      "Weighted overall confidence of scored extractions.",
		Buckets:   prometheus.LinearBuckets(0, 0.05, 21),
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dispatch_queue_depth",
		Help:      "Records currently waiting in the dispatch queue.",
	})

	llmRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_requests_total",
		Help:      "Model calls by terminal outcome.",
	}, []string{"operation", "outcome"})

	llmDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "llm_request_seconds",
		Help:      "Model call latency, including retries.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"operation"})

	breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "breaker_transitions_total",
		Help:      "Circuit breaker state changes per target.",
	}, []string{"target", "from", "to"})

	alertsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_created_total",
		Help:      "Alerts queued by the scanners, by type.",
	}, []string{"type"})
)

// Outcome labels for EmailProcessed.
const (
	OutcomeCompleted   = "completed"
	OutcomeNotRelevant = "not_relevant"
	OutcomeFailed      = "failed"
	OutcomeSkipped     = "skipped"
)

// EmailProcessed counts one finished pipeline pass over a record.
func EmailProcessed(outcome string) {
	emailsProcessed.WithLabelValues(outcome).Inc()
}

// Classification counts one classifier verdict.
func Classification(emailType string) {
	classifications.WithLabelValues(emailType).Inc()
}

// ObserveConfidence records the overall score of one extraction.
func ObserveConfidence(score float64) {
	extractionConfidence.Observe(score)
}

// SetQueueDepth publishes the dispatch queue's current length.
func SetQueueDepth(depth int) {
	queueDepth.Set(float64(depth))
}

// LLMRequest records one model call's terminal outcome and duration.
func LLMRequest(operation, outcome string, seconds float64) {
	llmRequests.WithLabelValues(operation, outcome).Inc()
	llmDuration.WithLabelValues(operation).Observe(seconds)
}

// BreakerTransition counts a circuit state change; wire it into the
// resilience executor's OnStateChange hook.
func BreakerTransition(target, from, to string) {
	breakerTransitions.WithLabelValues(target, from, to).Inc()
}

// AlertCreated counts one alert queued for delivery.
func AlertCreated(alertType string) {
	alertsCreated.WithLabelValues(alertType).Inc()
}

// Handler serves the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
